// Package pipeline 定义了向量索引任务的后台处理流程。
package pipeline

import (
	"context"
	"fmt"

	"ledgerbase-go/internal/config"
	"ledgerbase-go/internal/service"
	"ledgerbase-go/pkg/es"
	"ledgerbase-go/pkg/log"
	"ledgerbase-go/pkg/tasks"
)

// Processor 消费向量索引任务：分块向量化写入账本，并把分块预览镜像到全文索引。
type Processor struct {
	indexService service.IndexService
	esCfg        config.ElasticsearchConfig
	esEnabled    bool
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(indexService service.IndexService, esCfg config.ElasticsearchConfig, esEnabled bool) *Processor {
	return &Processor{
		indexService: indexService,
		esCfg:        esCfg,
		esEnabled:    esEnabled,
	}
}

// Process 是索引任务处理的主函数。
func (p *Processor) Process(ctx context.Context, task tasks.VectorIndexTask) error {
	log.Infof("[Processor] 开始处理索引任务, DocID: %s, Address: %s", task.DocID, task.LedgerAddress)

	// 1. 分块向量化并提交账本
	log.Info("[Processor] 步骤1: 分块向量化并提交账本")
	records, err := p.indexService.IndexDocument(ctx, task.DocID, task.Content, task.OwnerID)
	if err != nil {
		return fmt.Errorf("向量索引失败: %w", err)
	}
	log.Infof("[Processor] 步骤1: 向量索引完成, 共 %d 条记录", len(records))

	// 2. 把分块预览镜像到全文索引。镜像失败不回滚账本记录，只记日志。
	if p.esEnabled {
		log.Info("[Processor] 步骤2: 镜像分块预览到全文索引")
		for _, rec := range records {
			doc := es.PreviewDoc{
				DocID:          rec.DocID,
				ChunkIndex:     rec.ChunkIndex,
				ContentPreview: rec.ContentPreview,
				OwnerID:        rec.OwnerID,
				LedgerAddress:  rec.LedgerAddress,
			}
			if err := es.IndexPreview(ctx, p.esCfg.IndexName, doc); err != nil {
				log.Warnf("[Processor] 镜像分块预览失败, DocID: %s, Chunk: %d: %v", rec.DocID, rec.ChunkIndex, err)
			}
		}
	}

	log.Infof("[Processor] 索引任务处理成功完成, DocID: %s", task.DocID)
	return nil
}
