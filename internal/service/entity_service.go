package service

import (
	"context"
	"encoding/json"
	"fmt"

	"ledgerbase-go/internal/model"
	"ledgerbase-go/internal/store"
	"ledgerbase-go/pkg/log"
	"ledgerbase-go/pkg/tasks"
)

// IndexEnqueuer 把向量索引任务交给后台队列。实体写路径不等待索引完成：
// 向量是派生物，不属于实体写入的一致性契约。
type IndexEnqueuer func(task tasks.VectorIndexTask) error

// EntityService 接口定义了实体 CRUD 的业务操作。
type EntityService interface {
	Create(ctx context.Context, kind model.EntityType, rawFields json.RawMessage) (*model.EntityRecord, error)
	Get(ctx context.Context, entityID string) (*model.EntityRecord, error)
	Update(ctx context.Context, entityID string, rawFields json.RawMessage) (*model.EntityRecord, error)
	Delete(ctx context.Context, entityID, actor string) (bool, error)
	List(ctx context.Context, kind model.EntityType, tagFilters map[string]string, limit int) ([]*model.EntityRecord, error)
}

type entityService struct {
	entityStore  store.EntityStore
	enqueueIndex IndexEnqueuer // 可以为 nil
}

// NewEntityService 创建一个新的 EntityService 实例。
func NewEntityService(entityStore store.EntityStore, enqueueIndex IndexEnqueuer) EntityService {
	return &entityService{
		entityStore:  entityStore,
		enqueueIndex: enqueueIndex,
	}
}

// Create 校验字段集并提交版本 1，文档实体随后入队向量索引任务。
func (s *entityService) Create(ctx context.Context, kind model.EntityType, rawFields json.RawMessage) (*model.EntityRecord, error) {
	if !model.ValidEntityType(kind) {
		return nil, fmt.Errorf("不支持的实体类型: %q", kind)
	}
	fields, err := model.UnmarshalFields(kind, rawFields)
	if err != nil {
		return nil, fmt.Errorf("解析实体字段失败: %w", err)
	}

	rec, err := s.entityStore.Create(ctx, kind, fields)
	if err != nil {
		return nil, err
	}
	s.maybeEnqueueIndex(rec)
	return rec, nil
}

// Get 返回实体的当前状态。
func (s *entityService) Get(ctx context.Context, entityID string) (*model.EntityRecord, error) {
	return s.entityStore.Read(ctx, entityID)
}

// Update 以完整字段集追加一个新版本，文档实体随后入队向量索引任务。
func (s *entityService) Update(ctx context.Context, entityID string, rawFields json.RawMessage) (*model.EntityRecord, error) {
	base, err := s.entityStore.Read(ctx, entityID)
	if err != nil {
		return nil, err
	}
	fields, err := model.UnmarshalFields(base.EntityType, rawFields)
	if err != nil {
		return nil, fmt.Errorf("解析实体字段失败: %w", err)
	}

	rec, err := s.entityStore.Update(ctx, entityID, fields)
	if err != nil {
		return nil, err
	}
	s.maybeEnqueueIndex(rec)
	return rec, nil
}

// Delete 追加墓碑版本。
func (s *entityService) Delete(ctx context.Context, entityID, actor string) (bool, error) {
	return s.entityStore.Delete(ctx, entityID, actor)
}

// List 按标签列出某一类型的实体快照。
func (s *entityService) List(ctx context.Context, kind model.EntityType, tagFilters map[string]string, limit int) ([]*model.EntityRecord, error) {
	if !model.ValidEntityType(kind) {
		return nil, fmt.Errorf("不支持的实体类型: %q", kind)
	}
	return s.entityStore.ListByTag(ctx, kind, tagFilters, limit)
}

// maybeEnqueueIndex 为带正文的文档实体入队向量索引任务。
// 入队失败只记日志：索引是尽力而为的派生物，不回滚实体写入。
func (s *entityService) maybeEnqueueIndex(rec *model.EntityRecord) {
	if s.enqueueIndex == nil || rec.Deleted {
		return
	}
	doc, ok := rec.Fields.(*model.DocumentFields)
	if !ok || doc.Content == "" {
		return
	}
	task := tasks.VectorIndexTask{
		DocID:         rec.EntityID,
		LedgerAddress: rec.LedgerAddress,
		Content:       doc.Content,
		OwnerID:       doc.OwnerID,
	}
	if err := s.enqueueIndex(task); err != nil {
		log.Warnf("[EntityService] 入队向量索引任务失败, DocID: %s: %v", rec.EntityID, err)
		return
	}
	log.Infof("[EntityService] 已入队向量索引任务, DocID: %s, version: %d", rec.EntityID, rec.Version)
}
