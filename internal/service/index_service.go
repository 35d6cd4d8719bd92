// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"ledgerbase-go/internal/model"
	"ledgerbase-go/internal/store"
	"ledgerbase-go/internal/vector"
	"ledgerbase-go/pkg/embedding"
	"ledgerbase-go/pkg/ledger"
	"ledgerbase-go/pkg/log"
)

// 文本分块参数与预览截断长度（按 rune 计）。
const (
	chunkSize    = 1000
	chunkOverlap = 100
	previewRunes = 200
)

// IndexService 接口定义了文档向量索引的业务操作。
// 向量记录是不可变的：重新索引同一文档会追加新记录，旧记录按时间戳视为被取代。
type IndexService interface {
	// IndexDocument 将文档内容分块、向量化并逐条提交到账本，返回已提交的向量记录。
	IndexDocument(ctx context.Context, docID, content, ownerID string) ([]*model.VectorRecord, error)
}

type indexService struct {
	gateway         ledger.Gateway
	embeddingClient embedding.TaggedClient
}

// NewIndexService 创建一个新的 IndexService 实例。
func NewIndexService(gateway ledger.Gateway, embeddingClient embedding.TaggedClient) IndexService {
	return &indexService{
		gateway:         gateway,
		embeddingClient: embeddingClient,
	}
}

// IndexDocument 是向量索引的主流程：分块、向量化、聚类分桶、提交账本。
func (s *indexService) IndexDocument(ctx context.Context, docID, content, ownerID string) ([]*model.VectorRecord, error) {
	log.Infof("[IndexService] 开始索引文档, DocID: %s, 内容长度: %d 字符", docID, utf8.RuneCountInString(content))

	if content == "" {
		log.Warnf("[IndexService] 文档内容为空, 索引中止, DocID: %s", docID)
		return nil, fmt.Errorf("文档内容为空")
	}

	// 1. 文本分块
	log.Infof("[IndexService] 步骤1: 进行文本分块, chunkSize: %d, chunkOverlap: %d", chunkSize, chunkOverlap)
	chunks := splitText(content, chunkSize, chunkOverlap)
	log.Infof("[IndexService] 步骤1: 文本分块完成, 共生成 %d 个分块", len(chunks))
	if len(chunks) == 0 {
		return nil, fmt.Errorf("未生成任何文本分块")
	}

	// 2. 逐块向量化并提交到账本
	log.Info("[IndexService] 步骤2: 开始遍历分块并进行向量化与提交")
	records := make([]*model.VectorRecord, 0, len(chunks))
	for i, chunk := range chunks {
		// 2a. 向量化。降级时返回的模型名带 pseudo- 前缀，随记录一起写入，
		// 检索端靠它拒绝跨模型比较。
		vec, modelName, err := s.embeddingClient.CreateEmbeddingTagged(ctx, chunk)
		if err != nil {
			log.Errorf("[IndexService] 分块 %d 向量化失败, Error: %v", i, err)
			return records, fmt.Errorf("块 %d 向量化失败: %w", i, err)
		}

		// 2b. 聚类分桶
		clusterID := vector.ClusterID(vec)

		rec := &model.VectorRecord{
			DocID:          docID,
			ClusterID:      clusterID,
			ChunkIndex:     i,
			Dimensions:     len(vec),
			EmbeddingModel: modelName,
			Embedding:      vec,
			ContentPreview: truncateRunes(chunk, previewRunes),
			OwnerID:        ownerID,
			Timestamp:      time.Now().UTC(),
		}

		// 2c. 提交到账本
		payload, err := json.Marshal(rec)
		if err != nil {
			return records, fmt.Errorf("序列化向量记录失败: %w", err)
		}
		address, err := s.gateway.Submit(ctx, payload, store.VectorTags(rec))
		if err != nil {
			log.Errorf("[IndexService] 提交向量记录失败, DocID: %s, Chunk: %d, Error: %v", docID, i, err)
			return records, fmt.Errorf("提交块 %d 的向量记录失败: %w", i, err)
		}
		rec.LedgerAddress = address
		records = append(records, rec)
		log.Infof("[IndexService] 分块 %d/%d 向量化并提交成功, cluster: %s, address: %s", i+1, len(chunks), clusterID, address)
	}

	log.Infof("[IndexService] 文档索引成功完成, DocID: %s, 共 %d 条向量记录", docID, len(records))
	return records, nil
}

// splitText 将长文本按指定大小和重叠进行切分。
func splitText(text string, size int, overlap int) []string {
	if size <= overlap {
		return simpleSplit(text, size)
	}

	var chunks []string
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := size - overlap
	for i := 0; i < len(runes); i += step {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

func simpleSplit(text string, size int) []string {
	var chunks []string
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

func truncateRunes(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}
