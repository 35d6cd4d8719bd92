package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerbase-go/internal/cache"
	"ledgerbase-go/internal/config"
	"ledgerbase-go/internal/model"
	"ledgerbase-go/internal/store"
	"ledgerbase-go/internal/vector"
	"ledgerbase-go/pkg/ledger"
	"ledgerbase-go/pkg/llm"
)

const testModel = "test-embed-v1"

// stubEmbedder 只认识预先登记的文本，保证测试里每个查询向量都是可控的。
type stubEmbedder struct {
	model   string
	vectors map[string][]float32
}

func (s *stubEmbedder) Model() string { return s.model }

func (s *stubEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vec, _, err := s.CreateEmbeddingTagged(ctx, text)
	return vec, err
}

func (s *stubEmbedder) CreateEmbeddingTagged(_ context.Context, text string) ([]float32, string, error) {
	if vec, ok := s.vectors[text]; ok {
		return vec, s.model, nil
	}
	return nil, "", fmt.Errorf("未登记的测试文本: %q", text)
}

// stubLLM 记录最近一次收到的上下文块并返回固定的生成结果。
type stubLLM struct {
	gen         *llm.Generation
	err         error
	calls       int
	lastContext string
}

func (s *stubLLM) Generate(_ context.Context, _ string, contextBlock string) (*llm.Generation, error) {
	s.calls++
	s.lastContext = contextBlock
	if s.err != nil {
		return nil, s.err
	}
	return s.gen, nil
}

func (s *stubLLM) StreamChatMessages(context.Context, []llm.Message, *llm.GenerationParams, llm.MessageWriter) error {
	return nil
}

func testSearchConfig() config.SearchConfig {
	return config.SearchConfig{
		Threshold:         0.7,
		SimilarThreshold:  0.8,
		SemanticWeight:    0.7,
		KeywordWeight:     0.3,
		ClusterFlipRadius: 3,
		DefaultLimit:      10,
	}
}

// ones 构造一个全 1 向量。
func ones(n int) []float32 {
	vec := make([]float32, n)
	for i := range vec {
		vec[i] = 1
	}
	return vec
}

// withFlips 在全 1 向量上把指定维度翻成 -1，用来制造到查询向量的固定汉明距离。
func withFlips(n int, flips ...int) []float32 {
	vec := ones(n)
	for _, i := range flips {
		vec[i] = -1
	}
	return vec
}

// seedVector 把一条向量记录直接提交进内存网关，簇标识按其向量派生。
func seedVector(t *testing.T, gateway *ledger.MemoryGateway, rec *model.VectorRecord) {
	t.Helper()
	rec.ClusterID = vector.ClusterID(rec.Embedding)
	rec.Dimensions = len(rec.Embedding)
	if rec.EmbeddingModel == "" {
		rec.EmbeddingModel = testModel
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(rec)
	require.NoError(t, err)
	_, err = gateway.Submit(context.Background(), payload, store.VectorTags(rec))
	require.NoError(t, err)
}

func newSearchService(gateway *ledger.MemoryGateway, embedder *stubEmbedder, llmClient llm.Client, entityStore store.EntityStore) SearchService {
	return NewSearchService(gateway, embedder, entityStore, llmClient,
		nil, testSearchConfig(), config.ElasticsearchConfig{}, config.LLMConfig{})
}

func TestSearchRanksBySimilarity(t *testing.T) {
	ctx := context.Background()
	gateway := ledger.NewMemoryGateway()
	embedder := &stubEmbedder{model: testModel, vectors: map[string][]float32{
		"查询": ones(64),
	}}

	// 两条记录前 32 维同号，与查询同桶；后 32 维拉开相似度差距
	far := ones(64)
	for i := 32; i < 64; i++ {
		far[i] = 0.5
	}
	seedVector(t, gateway, &model.VectorRecord{DocID: "doc-near", ChunkIndex: 0, Embedding: ones(64), ContentPreview: "完全一致"})
	seedVector(t, gateway, &model.VectorRecord{DocID: "doc-far", ChunkIndex: 0, Embedding: far, ContentPreview: "方向略偏"})

	s := newSearchService(gateway, embedder, &stubLLM{}, nil)
	results, err := s.Search(ctx, "查询", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "doc-near", results[0].DocID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
	assert.Greater(t, results[0].Similarity, results[1].Similarity)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Similarity, 0.7)
		assert.LessOrEqual(t, r.Similarity, 1.0)
	}
}

func TestSearchEmptyUnderThresholdIsNotError(t *testing.T) {
	ctx := context.Background()
	gateway := ledger.NewMemoryGateway()
	embedder := &stubEmbedder{model: testModel, vectors: map[string][]float32{
		"查询": ones(64),
	}}

	far := ones(64)
	for i := 32; i < 64; i++ {
		far[i] = 0.5
	}
	seedVector(t, gateway, &model.VectorRecord{DocID: "doc-1", Embedding: far, ContentPreview: "x"})

	s := newSearchService(gateway, embedder, &stubLLM{}, nil)
	results, err := s.Search(ctx, "查询", SearchOptions{Threshold: 0.99})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchRejectsBlankQuery(t *testing.T) {
	s := newSearchService(ledger.NewMemoryGateway(), &stubEmbedder{model: testModel}, &stubLLM{}, nil)
	_, err := s.Search(context.Background(), "   ", SearchOptions{})
	assert.Error(t, err)
}

func TestSearchSkipsMismatchedModel(t *testing.T) {
	ctx := context.Background()
	gateway := ledger.NewMemoryGateway()
	embedder := &stubEmbedder{model: testModel, vectors: map[string][]float32{
		"查询": ones(32),
	}}

	// 同一个桶里混着另一个模型（如降级伪向量）产出的记录，必须被跳过
	seedVector(t, gateway, &model.VectorRecord{DocID: "doc-ok", Embedding: ones(32), ContentPreview: "a"})
	seedVector(t, gateway, &model.VectorRecord{DocID: "doc-pseudo", Embedding: ones(32), ContentPreview: "b", EmbeddingModel: "pseudo-sha256"})

	s := newSearchService(gateway, embedder, &stubLLM{}, nil)
	results, err := s.Search(ctx, "查询", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-ok", results[0].DocID)
	assert.Equal(t, testModel, results[0].EmbeddingModel)
}

func TestSearchFallsBackToNeighborClusters(t *testing.T) {
	ctx := context.Background()
	gateway := ledger.NewMemoryGateway()
	embedder := &stubEmbedder{model: testModel, vectors: map[string][]float32{
		"查询": ones(32),
	}}

	// 唯一的记录与查询在首维符号相反：主桶为空，必须在距离 1 的邻近桶找到
	near := withFlips(32, 0)
	seedVector(t, gateway, &model.VectorRecord{DocID: "doc-邻桶", Embedding: near, ContentPreview: "x"})

	s := newSearchService(gateway, embedder, &stubLLM{}, nil)
	results, err := s.Search(ctx, "查询", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-邻桶", results[0].DocID)
	// (32-2)/32
	assert.InDelta(t, 0.9375, results[0].Similarity, 1e-6)
}

func TestSearchOwnerFilterBypassesClustering(t *testing.T) {
	ctx := context.Background()
	gateway := ledger.NewMemoryGateway()
	embedder := &stubEmbedder{model: testModel, vectors: map[string][]float32{
		"查询": ones(32),
	}}

	// 5 个符号位翻转：超出最大扩散半径 3，聚类路径永远找不到它
	distant := withFlips(32, 0, 1, 2, 3, 4)
	seedVector(t, gateway, &model.VectorRecord{DocID: "doc-mine", Embedding: distant, ContentPreview: "x", OwnerID: "user-9"})
	seedVector(t, gateway, &model.VectorRecord{DocID: "doc-other", Embedding: distant, ContentPreview: "y", OwnerID: "user-2"})

	s := newSearchService(gateway, embedder, &stubLLM{}, nil)

	// 聚类受限的检索在半径 3 内穷尽后空手而归
	results, err := s.Search(ctx, "查询", SearchOptions{Threshold: 0.5})
	require.NoError(t, err)
	assert.Empty(t, results)

	// owner 过滤直接按标签拉取，且只看见自己的记录
	results, err = s.Search(ctx, "查询", SearchOptions{Threshold: 0.5, OwnerFilter: "user-9"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-mine", results[0].DocID)
}

func TestSearchKeepsOnlyNewestChunkVersion(t *testing.T) {
	ctx := context.Background()
	gateway := ledger.NewMemoryGateway()
	embedder := &stubEmbedder{model: testModel, vectors: map[string][]float32{
		"查询": ones(32),
	}}

	old := time.Now().UTC().Add(-time.Hour)
	seedVector(t, gateway, &model.VectorRecord{DocID: "doc-1", ChunkIndex: 0, Embedding: ones(32), ContentPreview: "旧版本", Timestamp: old})
	seedVector(t, gateway, &model.VectorRecord{DocID: "doc-1", ChunkIndex: 0, Embedding: ones(32), ContentPreview: "新版本", Timestamp: old.Add(time.Hour)})

	s := newSearchService(gateway, embedder, &stubLLM{}, nil)
	results, err := s.Search(ctx, "查询", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "新版本", results[0].ContentPreview)
}

func TestHybridSearchReRanksByKeyword(t *testing.T) {
	ctx := context.Background()
	gateway := ledger.NewMemoryGateway()
	embedder := &stubEmbedder{model: testModel, vectors: map[string][]float32{
		"查询": ones(64),
	}}

	lower := ones(64)
	for i := 32; i < 64; i++ {
		lower[i] = 0.5
	}
	seedVector(t, gateway, &model.VectorRecord{DocID: "doc-semantic", Embedding: ones(64), ContentPreview: "alpha beta"})
	seedVector(t, gateway, &model.VectorRecord{DocID: "doc-keyword", Embedding: lower, ContentPreview: "redis a redis b"})

	s := newSearchService(gateway, embedder, &stubLLM{}, nil)

	// 纯语义检索中 doc-semantic 领先
	plain, err := s.Search(ctx, "查询", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, plain, 2)
	assert.Equal(t, "doc-semantic", plain[0].DocID)

	// 命中关键词的词频得分把 doc-keyword 抬到第一位
	hybrid, err := s.HybridSearch(ctx, "查询", []string{"redis"}, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, hybrid, 2)
	assert.Equal(t, "doc-keyword", hybrid[0].DocID)
}

func TestAskQuestionWithoutEvidence(t *testing.T) {
	ctx := context.Background()
	llmStub := &stubLLM{gen: &llm.Generation{Text: "不该被调用"}}
	s := newSearchService(ledger.NewMemoryGateway(), &stubEmbedder{model: testModel, vectors: map[string][]float32{
		"这是什么": ones(32),
	}}, llmStub, nil)

	answer, err := s.AskQuestion(ctx, "这是什么", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "资料不足，无法回答该问题。", answer.Text)
	assert.Zero(t, answer.Confidence)
	assert.Empty(t, answer.Sources)
	// 检索无结果时绝不调用生成
	assert.Zero(t, llmStub.calls)
}

func TestAskQuestionGroundsAnswerInRetrieval(t *testing.T) {
	ctx := context.Background()
	gateway := ledger.NewMemoryGateway()
	embedder := &stubEmbedder{model: testModel, vectors: map[string][]float32{
		"账本是什么": ones(32),
	}}
	seedVector(t, gateway, &model.VectorRecord{
		DocID: "doc-1", Embedding: ones(32),
		ContentPreview: "账本是只追加的记录序列", OwnerID: "user-1",
	})

	llmStub := &stubLLM{gen: &llm.Generation{Text: "账本是只追加的。", Confidence: 0.9}}
	s := newSearchService(gateway, embedder, llmStub, nil)

	answer, err := s.AskQuestion(ctx, "账本是什么", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "账本是只追加的。", answer.Text)
	assert.InDelta(t, 0.9, answer.Confidence, 1e-9)
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, "doc-1", answer.Sources[0].DocID)

	// 生成时收到的上下文必须来自检索命中的预览
	assert.Equal(t, 1, llmStub.calls)
	assert.Contains(t, llmStub.lastContext, "账本是只追加的记录序列")
}

func TestFindSimilarDocumentsExcludesSelf(t *testing.T) {
	ctx := context.Background()
	gateway := ledger.NewMemoryGateway()
	entityStore := store.NewEntityStore(gateway, cache.NewMemoryCache(5*time.Minute), nil)

	seedContent := "分布式账本的共识机制"
	created, err := entityStore.Create(ctx, model.EntityTypeDocument, &model.DocumentFields{
		Title: "种子文档", Content: seedContent, OwnerID: "user-1",
	})
	require.NoError(t, err)

	embedder := &stubEmbedder{model: testModel, vectors: map[string][]float32{
		seedContent: ones(64),
	}}

	similar := ones(64)
	for i := 32; i < 64; i++ {
		similar[i] = 0.8
	}
	seedVector(t, gateway, &model.VectorRecord{DocID: created.EntityID, Embedding: ones(64), ContentPreview: "自身分块"})
	seedVector(t, gateway, &model.VectorRecord{DocID: "document-other", Embedding: similar, ContentPreview: "相邻主题"})

	s := newSearchService(gateway, embedder, &stubLLM{}, entityStore)
	results, err := s.FindSimilarDocuments(ctx, created.EntityID, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "document-other", results[0].DocID)
}

func TestFindSimilarDocumentsDefaultLimit(t *testing.T) {
	ctx := context.Background()
	gateway := ledger.NewMemoryGateway()
	entityStore := store.NewEntityStore(gateway, cache.NewMemoryCache(5*time.Minute), nil)

	seedContent := "分布式账本的共识机制"
	created, err := entityStore.Create(ctx, model.EntityTypeDocument, &model.DocumentFields{
		Title: "种子文档", Content: seedContent, OwnerID: "user-1",
	})
	require.NoError(t, err)

	embedder := &stubEmbedder{model: testModel, vectors: map[string][]float32{
		seedContent: ones(64),
	}}

	similar := ones(64)
	for i := 32; i < 64; i++ {
		similar[i] = 0.8
	}
	seedVector(t, gateway, &model.VectorRecord{DocID: created.EntityID, Embedding: ones(64), ContentPreview: "自身分块"})
	seedVector(t, gateway, &model.VectorRecord{DocID: "document-other", Embedding: similar, ContentPreview: "相邻主题"})

	// limit 传 0 时回落到配置默认值，自身分块被过滤后邻居仍然可见
	s := newSearchService(gateway, embedder, &stubLLM{}, entityStore)
	results, err := s.FindSimilarDocuments(ctx, created.EntityID, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "document-other", results[0].DocID)
}

func TestFindSimilarDocumentsMultiChunkSeed(t *testing.T) {
	ctx := context.Background()
	gateway := ledger.NewMemoryGateway()
	entityStore := store.NewEntityStore(gateway, cache.NewMemoryCache(5*time.Minute), nil)

	seedContent := "分布式账本的共识机制"
	created, err := entityStore.Create(ctx, model.EntityTypeDocument, &model.DocumentFields{
		Title: "种子文档", Content: seedContent, OwnerID: "user-1",
	})
	require.NoError(t, err)

	embedder := &stubEmbedder{model: testModel, vectors: map[string][]float32{
		seedContent: ones(64),
	}}

	// 种子文档切出三个分块，全部排在榜首；邻居文档只有一条记录
	for i := 0; i < 3; i++ {
		seedVector(t, gateway, &model.VectorRecord{DocID: created.EntityID, ChunkIndex: i, Embedding: ones(64), ContentPreview: "自身分块"})
	}
	similar := ones(64)
	for i := 32; i < 64; i++ {
		similar[i] = 0.8
	}
	seedVector(t, gateway, &model.VectorRecord{DocID: "document-other", Embedding: similar, ContentPreview: "相邻主题"})

	s := newSearchService(gateway, embedder, &stubLLM{}, entityStore)
	results, err := s.FindSimilarDocuments(ctx, created.EntityID, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "document-other", results[0].DocID)
}
