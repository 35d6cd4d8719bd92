package repository

import (
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ledgerbase-go/internal/model"
)

// MirrorRepository 维护账本实体在镜像库中的非权威副本。
// 镜像只服务于用户名查找和快速列表；它永远不裁决版本冲突。
type MirrorRepository interface {
	Upsert(rec *model.EntityRecord) error
	MarkDeleted(entityID string, version int) error
	FindByUsername(username string) (*model.EntityMirror, error)
	ListByType(entityType model.EntityType, offset, limit int) ([]model.EntityMirror, int64, error)
}

// mirrorRepository 是 MirrorRepository 接口的 GORM 实现。
type mirrorRepository struct {
	db *gorm.DB
}

// NewMirrorRepository 创建一个新的 MirrorRepository 实例。
func NewMirrorRepository(db *gorm.DB) MirrorRepository {
	return &mirrorRepository{db: db}
}

// Upsert 按 entity_id 写入或更新镜像行。只有更高的版本才会覆盖已有行，
// 避免乱序到达的旧版本回退镜像。
func (r *mirrorRepository) Upsert(rec *model.EntityRecord) error {
	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal mirror fields: %w", err)
	}

	row := model.EntityMirror{
		EntityID:      rec.EntityID,
		EntityType:    rec.EntityType,
		Version:       rec.Version,
		LedgerAddress: rec.LedgerAddress,
		ContentHash:   rec.ContentHash,
		Deleted:       rec.Deleted,
		FieldsJSON:    string(fieldsJSON),
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
	if rec.Fields != nil {
		tags := rec.Fields.QueryableTags()
		row.Username = tags["username"]
		row.OwnerID = tags["ownerId"]
	}

	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entity_id"}},
		DoUpdates: mirrorUpsertAssignments(),
	}).Create(&row).Error
}

// mirrorUpsertAssignments 生成版本守卫的冲突更新赋值。
// MySQL 的 ON DUPLICATE KEY UPDATE 不支持 WHERE 守卫，版本比较
// 只能落在逐列的条件赋值里。MySQL 按从左到右的顺序求值赋值列表，
// version 必须排在最后，否则后续列的比较会读到已改写的新值。
func mirrorUpsertAssignments() clause.Set {
	guarded := func(column string) clause.Assignment {
		return clause.Assignment{
			Column: clause.Column{Name: column},
			Value:  gorm.Expr(fmt.Sprintf("IF(VALUES(version) > version, VALUES(%s), %s)", column, column)),
		}
	}
	return clause.Set{
		guarded("entity_type"),
		guarded("ledger_address"),
		guarded("content_hash"),
		guarded("deleted"),
		guarded("username"),
		guarded("owner_id"),
		guarded("fields_json"),
		guarded("created_at"),
		guarded("updated_at"),
		guarded("version"),
	}
}

// MarkDeleted 将镜像行标记为已删除。
func (r *mirrorRepository) MarkDeleted(entityID string, version int) error {
	return r.db.Model(&model.EntityMirror{}).
		Where("entity_id = ? AND version <= ?", entityID, version).
		Updates(map[string]interface{}{"deleted": true, "version": version}).Error
}

// FindByUsername 根据用户名查找用户实体的镜像行。
func (r *mirrorRepository) FindByUsername(username string) (*model.EntityMirror, error) {
	var row model.EntityMirror
	err := r.db.Where("username = ? AND entity_type = ? AND deleted = ?",
		username, model.EntityTypeUser, false).First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ListByType 分页列出某一类型实体的镜像行。
// 它返回镜像列表、总记录数和可能发生的错误。
func (r *mirrorRepository) ListByType(entityType model.EntityType, offset, limit int) ([]model.EntityMirror, int64, error) {
	var rows []model.EntityMirror
	var total int64

	db := r.db.Model(&model.EntityMirror{}).
		Where("entity_type = ? AND deleted = ?", entityType, false)

	err := db.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = db.Order("updated_at DESC").Offset(offset).Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}

	return rows, total, nil
}
