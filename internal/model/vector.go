package model

import "time"

// VectorRecord 是写入账本的向量嵌入记录。记录不可变：
// 对同一 DocID 重新索引会追加新记录，旧记录按 Timestamp 视为被取代。
type VectorRecord struct {
	// DocID 回指产生本向量的实体记录。
	DocID string `json:"docId"`
	// ClusterID 是基于前导维度符号位的局部性哈希桶，仅在此派生，别处不作权威存储。
	ClusterID string `json:"clusterId"`
	// ChunkIndex 标记长文档切块后本向量对应的块序号。
	ChunkIndex     int       `json:"chunkIndex"`
	Dimensions     int       `json:"dimensions"`
	EmbeddingModel string    `json:"embeddingModel"`
	Embedding      []float32 `json:"embedding"`
	// ContentPreview 是截断的源文本，用于下游上下文组装与关键词打分。
	ContentPreview string    `json:"contentPreview"`
	OwnerID        string    `json:"ownerId,omitempty"`
	Timestamp      time.Time `json:"timestamp"`

	// LedgerAddress 由网关返回，不属于载荷。
	LedgerAddress string `json:"ledgerAddress,omitempty"`
}

// SimilarityResult 是语义检索的单条结果。Similarity 取值 [0,1]。
type SimilarityResult struct {
	DocID          string    `json:"docId"`
	ChunkIndex     int       `json:"chunkIndex"`
	Similarity     float64   `json:"similarity"`
	ContentPreview string    `json:"contentPreview"`
	EmbeddingModel string    `json:"embeddingModel"`
	Timestamp      time.Time `json:"timestamp"`
}

// Answer 是问答操作的返回结构。检索不足时 Confidence 为 0。
type Answer struct {
	Text       string             `json:"text"`
	Confidence float64            `json:"confidence"`
	Sources    []SimilarityResult `json:"sources"`
}
