package store

import (
	"strconv"

	"ledgerbase-go/internal/model"
	"ledgerbase-go/pkg/ledger"
)

// 账本标签名。任何实体记录至少携带 entityType / entityId / version，
// 向量记录至少携带 entityType / docId / clusterId / embeddingModel / dimensions。
const (
	TagEntityType  = "entityType"
	TagEntityID    = "entityId"
	TagVersion     = "version"
	TagContentHash = "contentHash"
	TagDeleted     = "deleted"

	TagDocID          = "docId"
	TagClusterID      = "clusterId"
	TagEmbeddingModel = "embeddingModel"
	TagDimensions     = "dimensions"
)

// entityTags 构造实体记录的完整标签集：最小必需标签、墓碑标记
// 与该实体种类声明的可检索业务字段。
func entityTags(rec *model.EntityRecord) []ledger.Tag {
	tags := []ledger.Tag{
		{Name: TagEntityType, Value: string(rec.EntityType)},
		{Name: TagEntityID, Value: rec.EntityID},
		{Name: TagVersion, Value: strconv.Itoa(rec.Version)},
		{Name: TagContentHash, Value: rec.ContentHash},
	}
	if rec.Deleted {
		tags = append(tags, ledger.Tag{Name: TagDeleted, Value: "true"})
	}
	if rec.Fields != nil {
		for name, value := range rec.Fields.QueryableTags() {
			tags = append(tags, ledger.Tag{Name: name, Value: value})
		}
	}
	return tags
}

// VectorTags 构造向量记录的标签集。
func VectorTags(rec *model.VectorRecord) []ledger.Tag {
	tags := []ledger.Tag{
		{Name: TagEntityType, Value: string(model.EntityTypeVectorEmbedding)},
		{Name: TagDocID, Value: rec.DocID},
		{Name: TagClusterID, Value: rec.ClusterID},
		{Name: TagEmbeddingModel, Value: rec.EmbeddingModel},
		{Name: TagDimensions, Value: strconv.Itoa(rec.Dimensions)},
	}
	if rec.OwnerID != "" {
		tags = append(tags, ledger.Tag{Name: "ownerId", Value: rec.OwnerID})
	}
	return tags
}

// hitVersion 从命中的标签集中解析版本号，缺失或损坏时按 0 处理。
func hitVersion(hit ledger.SearchHit) int {
	v, err := strconv.Atoi(hit.TagValue(TagVersion))
	if err != nil {
		return 0
	}
	return v
}
