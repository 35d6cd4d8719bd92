package model

import (
	"encoding/json"
	"time"
)

// CreateEntityRequest 是创建实体的请求体，fields 按实体类型闭合校验。
type CreateEntityRequest struct {
	Fields json.RawMessage `json:"fields" binding:"required"`
}

// UpdateEntityRequest 是更新实体的请求体，fields 为同类型的完整字段集。
type UpdateEntityRequest struct {
	Fields json.RawMessage `json:"fields" binding:"required"`
}

// EntityResponseDTO 是返回给前端的实体视图。
type EntityResponseDTO struct {
	EntityType    EntityType   `json:"entityType"`
	EntityID      string       `json:"entityId"`
	Version       int          `json:"version"`
	ContentHash   string       `json:"contentHash"`
	LedgerAddress string       `json:"ledgerAddress"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
	Fields        EntityFields `json:"fields"`
}

// NewEntityResponseDTO 将引擎记录转换为对外视图。
// user 实体的密码哈希在此被抹除，引擎内部句柄不外泄。
func NewEntityResponseDTO(rec *EntityRecord) EntityResponseDTO {
	fields := rec.Fields
	if uf, ok := fields.(*UserFields); ok {
		sanitized := *uf
		sanitized.PasswordHash = ""
		fields = &sanitized
	}
	return EntityResponseDTO{
		EntityType:    rec.EntityType,
		EntityID:      rec.EntityID,
		Version:       rec.Version,
		ContentHash:   rec.ContentHash,
		LedgerAddress: rec.LedgerAddress,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
		Fields:        fields,
	}
}

// AskRequest 是问答接口的请求体。
type AskRequest struct {
	Question string `json:"question" binding:"required"`
}

// KeywordSearchResultDTO 是全文镜像检索的单条结果。
type KeywordSearchResultDTO struct {
	DocID          string  `json:"docId"`
	ChunkIndex     int     `json:"chunkIndex"`
	ContentPreview string  `json:"contentPreview"`
	Score          float64 `json:"score"`
}

// AskMessage 代表存储在 Redis 中的单条问答历史。
type AskMessage struct {
	Role      string    `json:"role"` // "user" 或 "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
