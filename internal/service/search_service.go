// Package service 提供了搜索相关的业务逻辑。
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"ledgerbase-go/internal/config"
	"ledgerbase-go/internal/model"
	"ledgerbase-go/internal/repository"
	"ledgerbase-go/internal/store"
	"ledgerbase-go/internal/vector"
	"ledgerbase-go/pkg/embedding"
	"ledgerbase-go/pkg/es"
	"ledgerbase-go/pkg/ledger"
	"ledgerbase-go/pkg/llm"
	"ledgerbase-go/pkg/log"
)

// 单个聚类桶一次拉取的候选记录上限。
const candidateSearchLimit = 200

// SearchOptions 控制一次语义检索。零值字段回落到配置的默认值。
type SearchOptions struct {
	Limit       int
	Threshold   float64
	OwnerFilter string
}

// SearchService 接口定义了检索与问答操作。
type SearchService interface {
	// Search 语义检索：按相似度降序返回不低于阈值的结果。
	Search(ctx context.Context, query string, opts SearchOptions) ([]model.SimilarityResult, error)
	// FindSimilarDocuments 以文找文：用目标文档自身内容作种子，在更高阈值下检索。
	FindSimilarDocuments(ctx context.Context, docID string, limit int) ([]model.SimilarityResult, error)
	// HybridSearch 混合检索：语义得分与关键词词频得分按配置权重加权后重排。
	HybridSearch(ctx context.Context, query string, keywords []string, opts SearchOptions) ([]model.SimilarityResult, error)
	// AskQuestion 检索增强问答。无候选通过阈值时返回固定的"资料不足"回答，置信度为 0。
	AskQuestion(ctx context.Context, question string, ownerID string) (*model.Answer, error)
	// KeywordSearch 在全文镜像上做关键词检索，仅作为账本检索的补充视图。
	KeywordSearch(ctx context.Context, keyword, ownerID string, limit int) ([]model.KeywordSearchResultDTO, error)
}

type searchService struct {
	gateway         ledger.Gateway
	embeddingClient embedding.TaggedClient
	entityStore     store.EntityStore
	llmClient       llm.Client
	historyRepo     repository.AskHistoryRepository
	searchCfg       config.SearchConfig
	esCfg           config.ElasticsearchConfig
	llmCfg          config.LLMConfig
}

// NewSearchService 创建一个新的 SearchService 实例。historyRepo 可以为 nil。
func NewSearchService(
	gateway ledger.Gateway,
	embeddingClient embedding.TaggedClient,
	entityStore store.EntityStore,
	llmClient llm.Client,
	historyRepo repository.AskHistoryRepository,
	searchCfg config.SearchConfig,
	esCfg config.ElasticsearchConfig,
	llmCfg config.LLMConfig,
) SearchService {
	return &searchService{
		gateway:         gateway,
		embeddingClient: embeddingClient,
		entityStore:     entityStore,
		llmClient:       llmClient,
		historyRepo:     historyRepo,
		searchCfg:       searchCfg,
		esCfg:           esCfg,
		llmCfg:          llmCfg,
	}
}

// Search 执行聚类受限的近似语义检索。
func (s *searchService) Search(ctx context.Context, query string, opts SearchOptions) ([]model.SimilarityResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("查询内容为空")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = s.searchCfg.DefaultLimit
	}
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = s.searchCfg.Threshold
	}

	log.Infof("[SearchService] 开始语义检索, query: '%s', limit: %d, threshold: %.2f", query, limit, threshold)

	// 1. 向量化查询
	log.Info("[SearchService] 步骤1: 开始向量化查询")
	queryVec, queryModel, err := s.embeddingClient.CreateEmbeddingTagged(ctx, query)
	if err != nil {
		log.Errorf("[SearchService] 向量化查询失败: %v", err)
		return nil, fmt.Errorf("failed to create query embedding: %w", err)
	}
	log.Infof("[SearchService] 步骤1: 向量化查询成功, 维度: %d, 模型: %s", len(queryVec), queryModel)

	// 2. 收集候选向量记录
	candidates, err := s.collectCandidates(ctx, queryVec, opts.OwnerFilter)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		log.Infof("[SearchService] 未找到任何候选向量记录, query: '%s'", query)
		return []model.SimilarityResult{}, nil
	}

	// 3. 逐个计算余弦相似度并按阈值过滤
	log.Infof("[SearchService] 步骤3: 对 %d 个候选计算余弦相似度", len(candidates))
	results := make([]model.SimilarityResult, 0, len(candidates))
	for _, rec := range candidates {
		// 不同模型产出的向量不可比，降级的伪向量靠模型名前缀隔离。
		if rec.EmbeddingModel != queryModel {
			log.Warnf("[SearchService] 跳过模型不匹配的向量记录, DocID: %s, 记录模型: %s, 查询模型: %s",
				rec.DocID, rec.EmbeddingModel, queryModel)
			continue
		}
		sim, err := vector.CosineSimilarity(queryVec, rec.Embedding)
		if err != nil {
			log.Warnf("[SearchService] 跳过维度不匹配的向量记录, DocID: %s: %v", rec.DocID, err)
			continue
		}
		if sim < threshold {
			continue
		}
		results = append(results, model.SimilarityResult{
			DocID:          rec.DocID,
			ChunkIndex:     rec.ChunkIndex,
			Similarity:     sim,
			ContentPreview: rec.ContentPreview,
			EmbeddingModel: rec.EmbeddingModel,
			Timestamp:      rec.Timestamp,
		})
	}

	// 4. 排序截断
	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if len(results) > limit {
		results = results[:limit]
	}
	log.Infof("[SearchService] 语义检索完成, query: '%s', 返回 %d 条结果", query, len(results))
	return results, nil
}

// collectCandidates 收集候选向量记录。给定 owner 过滤时直接按 owner 标签拉取，
// 绕过聚类；否则命中主聚类桶，主桶为空时按位翻转逐层扩大。
func (s *searchService) collectCandidates(ctx context.Context, queryVec []float32, ownerFilter string) ([]*model.VectorRecord, error) {
	if ownerFilter != "" {
		log.Infof("[SearchService] 步骤2: 按 owner 过滤拉取候选 (绕过聚类), owner: %s", ownerFilter)
		return s.fetchVectorRecords(ctx, []ledger.TagFilter{
			{Name: store.TagEntityType, Values: []string{string(model.EntityTypeVectorEmbedding)}},
			{Name: "ownerId", Values: []string{ownerFilter}},
		})
	}

	sig := vector.Signature(queryVec)
	primary := vector.ClusterIDFromSignature(sig)
	log.Infof("[SearchService] 步骤2: 从主聚类桶拉取候选, cluster: %s", primary)
	candidates, err := s.fetchCluster(ctx, []string{primary})
	if err != nil {
		return nil, err
	}
	if len(candidates) > 0 {
		return candidates, nil
	}

	// 主桶未命中：按 Hamming 距离逐层翻转聚类位串，在首个非空层停下。
	for radius := 1; radius <= s.searchCfg.ClusterFlipRadius; radius++ {
		neighborSigs := vector.NeighborSignaturesAt(sig, radius)
		clusterIDs := make([]string, 0, len(neighborSigs))
		for _, ns := range neighborSigs {
			clusterIDs = append(clusterIDs, vector.ClusterIDFromSignature(ns))
		}
		log.Infof("[SearchService] 主聚类桶为空, 扩大到距离 %d 的 %d 个邻近桶", radius, len(clusterIDs))
		candidates, err = s.fetchCluster(ctx, clusterIDs)
		if err != nil {
			return nil, err
		}
		if len(candidates) > 0 {
			log.Infof("[SearchService] 在距离 %d 的邻近桶中找到 %d 个候选", radius, len(candidates))
			return candidates, nil
		}
	}
	return nil, nil
}

// fetchCluster 拉取一组聚类桶中的全部向量记录。
func (s *searchService) fetchCluster(ctx context.Context, clusterIDs []string) ([]*model.VectorRecord, error) {
	return s.fetchVectorRecords(ctx, []ledger.TagFilter{
		{Name: store.TagEntityType, Values: []string{string(model.EntityTypeVectorEmbedding)}},
		{Name: store.TagClusterID, Values: clusterIDs},
	})
}

// fetchVectorRecords 按标签检索并取回向量记录载荷。
// 同一 (docId, chunk) 多次索引时只保留时间戳最新的记录。
func (s *searchService) fetchVectorRecords(ctx context.Context, filters []ledger.TagFilter) ([]*model.VectorRecord, error) {
	hits, err := s.gateway.SearchByTags(ctx, ledger.SearchQuery{
		Filters: filters,
		Sort:    ledger.SortRecencyDesc,
		Limit:   candidateSearchLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("检索向量记录失败: %w", err)
	}

	latest := make(map[string]*model.VectorRecord, len(hits))
	for _, hit := range hits {
		payload, err := s.gateway.Fetch(ctx, hit.Address)
		if err != nil {
			log.Warnf("[SearchService] 取回向量载荷失败, address: %s: %v", hit.Address, err)
			continue
		}
		var rec model.VectorRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			log.Warnf("[SearchService] 解析向量载荷失败, address: %s: %v", hit.Address, err)
			continue
		}
		rec.LedgerAddress = hit.Address
		key := fmt.Sprintf("%s#%d", rec.DocID, rec.ChunkIndex)
		if prev, ok := latest[key]; ok && !rec.Timestamp.After(prev.Timestamp) {
			continue
		}
		latest[key] = &rec
	}

	records := make([]*model.VectorRecord, 0, len(latest))
	for _, rec := range latest {
		records = append(records, rec)
	}
	return records, nil
}

// FindSimilarDocuments 用目标文档自身内容作种子检索相似文档。
func (s *searchService) FindSimilarDocuments(ctx context.Context, docID string, limit int) ([]model.SimilarityResult, error) {
	log.Infof("[SearchService] 开始以文找文, DocID: %s", docID)

	if limit <= 0 {
		limit = s.searchCfg.DefaultLimit
	}

	rec, err := s.entityStore.Read(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("读取种子文档失败: %w", err)
	}
	seed := rec.Fields.PrimaryContent()
	if seed == "" {
		return []model.SimilarityResult{}, nil
	}

	// 种子文档自身的分块会占据相似度榜首，候选阶段不按 limit 截断，
	// 过滤掉自身分块之后再截。
	results, err := s.Search(ctx, truncateRunes(seed, chunkSize), SearchOptions{
		Limit:     candidateSearchLimit,
		Threshold: s.searchCfg.SimilarThreshold,
	})
	if err != nil {
		return nil, err
	}

	// 去掉文档自身的分块
	filtered := make([]model.SimilarityResult, 0, len(results))
	for _, r := range results {
		if r.DocID == docID {
			continue
		}
		filtered = append(filtered, r)
	}
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	log.Infof("[SearchService] 以文找文完成, DocID: %s, 返回 %d 条结果", docID, len(filtered))
	return filtered, nil
}

// HybridSearch 对语义检索结果按关键词词频加权后重排。
func (s *searchService) HybridSearch(ctx context.Context, query string, keywords []string, opts SearchOptions) ([]model.SimilarityResult, error) {
	log.Infof("[SearchService] 开始混合检索, query: '%s', keywords: %v", query, keywords)

	results, err := s.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	if len(keywords) == 0 || len(results) == 0 {
		return results, nil
	}

	// 权重来自配置，不在此处硬编码。
	wSem := s.searchCfg.SemanticWeight
	wKey := s.searchCfg.KeywordWeight
	for i := range results {
		keywordScore := vector.KeywordScore(results[i].ContentPreview, keywords)
		results[i].Similarity = wSem*results[i].Similarity + wKey*keywordScore
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })

	log.Infof("[SearchService] 混合检索完成, 返回 %d 条结果", len(results))
	return results, nil
}

// AskQuestion 执行检索增强问答。
func (s *searchService) AskQuestion(ctx context.Context, question string, ownerID string) (*model.Answer, error) {
	log.Infof("[SearchService] 开始问答, question: '%s'", question)

	results, err := s.Search(ctx, question, SearchOptions{OwnerFilter: ownerID})
	if err != nil {
		return nil, err
	}

	if len(results) == 0 {
		// 没有候选通过阈值：返回固定回答，绝不编造来源。
		log.Infof("[SearchService] 检索无结果, 返回资料不足回答, question: '%s'", question)
		return &model.Answer{
			Text:       s.noResultText(),
			Confidence: 0,
			Sources:    []model.SimilarityResult{},
		}, nil
	}

	// 组装上下文块
	var contextBlock strings.Builder
	for i, r := range results {
		if i > 0 {
			contextBlock.WriteString("\n---\n")
		}
		contextBlock.WriteString(r.ContentPreview)
	}

	gen, err := s.llmClient.Generate(ctx, question, contextBlock.String())
	if err != nil {
		log.Errorf("[SearchService] 生成回答失败: %v", err)
		return nil, fmt.Errorf("生成回答失败: %w", err)
	}

	answer := &model.Answer{
		Text:       gen.Text,
		Confidence: gen.Confidence,
		Sources:    results,
	}
	s.appendHistory(ctx, ownerID, question, answer.Text)
	log.Infof("[SearchService] 问答完成, question: '%s', 置信度: %.2f, 来源数: %d", question, answer.Confidence, len(answer.Sources))
	return answer, nil
}

// KeywordSearch 查询全文镜像。镜像不可用时返回错误，调用方可回落到语义检索。
func (s *searchService) KeywordSearch(ctx context.Context, keyword, ownerID string, limit int) ([]model.KeywordSearchResultDTO, error) {
	if limit <= 0 {
		limit = s.searchCfg.DefaultLimit
	}
	docs, err := es.KeywordSearch(ctx, s.esCfg.IndexName, keyword, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("全文镜像检索失败: %w", err)
	}

	keywords := strings.Fields(keyword)
	results := make([]model.KeywordSearchResultDTO, 0, len(docs))
	for _, d := range docs {
		results = append(results, model.KeywordSearchResultDTO{
			DocID:          d.DocID,
			ChunkIndex:     d.ChunkIndex,
			ContentPreview: d.ContentPreview,
			Score:          vector.KeywordScore(d.ContentPreview, keywords),
		})
	}
	return results, nil
}

func (s *searchService) noResultText() string {
	if s.llmCfg.Prompt.NoResultText != "" {
		return s.llmCfg.Prompt.NoResultText
	}
	return "资料不足，无法回答该问题。"
}

// appendHistory 尽力而为地记录问答历史，失败只打日志。
func (s *searchService) appendHistory(ctx context.Context, ownerID, question, answer string) {
	if s.historyRepo == nil || ownerID == "" {
		return
	}
	now := time.Now().UTC()
	err := s.historyRepo.AppendHistory(ctx, ownerID,
		model.AskMessage{Role: "user", Content: question, Timestamp: now},
		model.AskMessage{Role: "assistant", Content: answer, Timestamp: now},
	)
	if err != nil {
		log.Warnf("[SearchService] 记录问答历史失败: %v", err)
	}
}
