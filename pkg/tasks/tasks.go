// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// VectorIndexTask represents the data structure for a vector indexing job.
// 文档写入账本后，由该任务异步完成分块、向量化和聚类索引。
type VectorIndexTask struct {
	DocID         string `json:"doc_id"`
	LedgerAddress string `json:"ledger_address"`
	Content       string `json:"content"`
	OwnerID       string `json:"owner_id"`
}
