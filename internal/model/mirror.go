package model

import "time"

// EntityMirror 对应镜像库中的 entity_mirror 表。
// 它保存每个实体当前版本的一份非权威副本，用于用户名查找与快速列表；
// 与账本解析结果冲突时，以账本原生的最新版本裁决为准。
type EntityMirror struct {
	ID            uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	EntityID      string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"entityId"`
	EntityType    EntityType `gorm:"type:varchar(32);not null;index" json:"entityType"`
	Version       int        `gorm:"not null" json:"version"`
	LedgerAddress string     `gorm:"type:varchar(128);not null" json:"ledgerAddress"`
	ContentHash   string     `gorm:"type:varchar(64);not null" json:"contentHash"`
	Deleted       bool       `gorm:"not null;default:false" json:"deleted"`
	// Username 仅对 user 实体填充，用于登录时的快速查找。
	Username string `gorm:"type:varchar(255);index" json:"username,omitempty"`
	OwnerID  string `gorm:"type:varchar(64);index" json:"ownerId,omitempty"`
	// FieldsJSON 是当前版本字段集的 JSON 快照。
	FieldsJSON string    `gorm:"type:text" json:"-"`
	CreatedAt  time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"not null" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (EntityMirror) TableName() string {
	return "entity_mirror"
}
