// Package model 定义了引擎的核心数据结构。
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntityType 是实体记录的类型判别值，同时也是账本上的 entityType 标签取值。
type EntityType string

const (
	EntityTypeProject  EntityType = "project"
	EntityTypeDocument EntityType = "document"
	EntityTypeUser     EntityType = "user"
	EntityTypeComment  EntityType = "comment"

	// EntityTypeVectorEmbedding 标记向量记录，不参与实体 CRUD。
	EntityTypeVectorEmbedding EntityType = "vector-embedding"
)

// ValidEntityType 判断给定类型是否是受支持的实体种类（不含向量记录）。
func ValidEntityType(t EntityType) bool {
	switch t {
	case EntityTypeProject, EntityTypeDocument, EntityTypeUser, EntityTypeComment:
		return true
	}
	return false
}

// EntityRecord 是所有实体种类共享的通用记录形态。
// 每次写入都会在账本上追加一条新的不可变记录；记录之间通过
// PreviousVersionAddress 形成一条指向首版本的单向链。
type EntityRecord struct {
	EntityType EntityType `json:"entityType"`
	// EntityID 在首次创建时分配，此后在所有版本间保持不变。
	EntityID string `json:"entityId"`
	// Version 从 1 开始，每次成功写入同一 EntityID 递增 1。
	Version int `json:"version"`
	// PreviousVersionAddress 是前一版本账本记录的内容地址，仅版本 1 为空。
	PreviousVersionAddress string `json:"previousVersionAddress,omitempty"`
	// ContentHash 是主内容字段的 SHA-256 摘要，用于完整性校验而非唯一性。
	ContentHash string `json:"contentHash"`
	// Deleted 为 true 表示该版本是墓碑；最高版本为墓碑时实体在所有列表中逻辑缺席。
	Deleted   bool   `json:"deleted"`
	DeletedBy string `json:"deletedBy,omitempty"`
	// CreatedAt / UpdatedAt 由写入方在提交时设置，用于排序与并发写入的裁决。
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// LedgerAddress 是本记录自身的内容地址。它由网关在提交后返回，
	// 不属于账本载荷本身，提交前必须清空。
	LedgerAddress string `json:"ledgerAddress,omitempty"`

	// Fields 是按 EntityType 闭合的类型化字段集。
	Fields EntityFields `json:"fields"`
}

// entityRecordAlias 避免 UnmarshalJSON 的无限递归。
type entityRecordAlias struct {
	EntityType             EntityType      `json:"entityType"`
	EntityID               string          `json:"entityId"`
	Version                int             `json:"version"`
	PreviousVersionAddress string          `json:"previousVersionAddress,omitempty"`
	ContentHash            string          `json:"contentHash"`
	Deleted                bool            `json:"deleted"`
	DeletedBy              string          `json:"deletedBy,omitempty"`
	CreatedAt              time.Time       `json:"createdAt"`
	UpdatedAt              time.Time       `json:"updatedAt"`
	LedgerAddress          string          `json:"ledgerAddress,omitempty"`
	Fields                 json.RawMessage `json:"fields"`
}

// UnmarshalJSON 按 entityType 将 fields 解码为对应的具体类型。
// 未知的 entityType 会被拒绝，保证进入引擎的记录都满足闭合模式。
func (r *EntityRecord) UnmarshalJSON(data []byte) error {
	var alias entityRecordAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	r.EntityType = alias.EntityType
	r.EntityID = alias.EntityID
	r.Version = alias.Version
	r.PreviousVersionAddress = alias.PreviousVersionAddress
	r.ContentHash = alias.ContentHash
	r.Deleted = alias.Deleted
	r.DeletedBy = alias.DeletedBy
	r.CreatedAt = alias.CreatedAt
	r.UpdatedAt = alias.UpdatedAt
	r.LedgerAddress = alias.LedgerAddress

	if len(alias.Fields) == 0 || string(alias.Fields) == "null" {
		r.Fields = nil
		return nil
	}

	fields, err := UnmarshalFields(alias.EntityType, alias.Fields)
	if err != nil {
		return err
	}
	r.Fields = fields
	return nil
}

// UnmarshalFields 将原始 JSON 字段集解码为 entityType 对应的具体类型。
func UnmarshalFields(t EntityType, raw json.RawMessage) (EntityFields, error) {
	var fields EntityFields
	switch t {
	case EntityTypeProject:
		fields = &ProjectFields{}
	case EntityTypeDocument:
		fields = &DocumentFields{}
	case EntityTypeUser:
		fields = &UserFields{}
	case EntityTypeComment:
		fields = &CommentFields{}
	default:
		return nil, fmt.Errorf("未知的实体类型: %q", t)
	}
	if err := json.Unmarshal(raw, fields); err != nil {
		return nil, fmt.Errorf("解析 %s 字段集失败: %w", t, err)
	}
	return fields, nil
}
