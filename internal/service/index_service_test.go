package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerbase-go/internal/config"
	"ledgerbase-go/internal/model"
	"ledgerbase-go/internal/vector"
	"ledgerbase-go/pkg/ledger"
)

// fixedEmbedder 对任何输入返回同一个向量，用于不关心向量取值的索引流程测试。
type fixedEmbedder struct {
	model string
	vec   []float32
}

func (f *fixedEmbedder) Model() string { return f.model }

func (f *fixedEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vec, _, err := f.CreateEmbeddingTagged(ctx, text)
	return vec, err
}

func (f *fixedEmbedder) CreateEmbeddingTagged(context.Context, string) ([]float32, string, error) {
	return f.vec, f.model, nil
}

func TestSplitText(t *testing.T) {
	t.Run("短文本只有一个分块", func(t *testing.T) {
		chunks := splitText("短文本", 1000, 100)
		require.Len(t, chunks, 1)
		assert.Equal(t, "短文本", chunks[0])
	})

	t.Run("空文本没有分块", func(t *testing.T) {
		assert.Nil(t, splitText("", 1000, 100))
	})

	t.Run("长文本按重叠窗口切分", func(t *testing.T) {
		text := strings.Repeat("数", 2500)
		chunks := splitText(text, 1000, 100)
		// 步长 900：[0,1000) [900,1900) [1800,2500)
		require.Len(t, chunks, 3)
		assert.Equal(t, 1000, utf8.RuneCountInString(chunks[0]))
		assert.Equal(t, 1000, utf8.RuneCountInString(chunks[1]))
		assert.Equal(t, 700, utf8.RuneCountInString(chunks[2]))
	})

	t.Run("相邻分块共享重叠部分", func(t *testing.T) {
		var sb strings.Builder
		for i := 0; i < 250; i++ {
			sb.WriteRune(rune('a' + i%26))
		}
		chunks := splitText(sb.String(), 100, 20)
		require.True(t, len(chunks) >= 2)
		first := []rune(chunks[0])
		second := []rune(chunks[1])
		assert.Equal(t, string(first[80:]), string(second[:20]))
	})
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "你好", truncateRunes("你好世界", 2))
	assert.Equal(t, "你好", truncateRunes("你好", 10))
}

func TestIndexDocument(t *testing.T) {
	ctx := context.Background()
	gateway := ledger.NewMemoryGateway()
	vec := make([]float32, 64)
	for i := range vec {
		vec[i] = 0.5
	}
	embedder := &fixedEmbedder{model: testModel, vec: vec}
	s := NewIndexService(gateway, embedder)

	content := strings.Repeat("知", 2500)
	records, err := s.IndexDocument(ctx, "document-1", content, "user-1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, 3, gateway.Len())

	for i, rec := range records {
		assert.Equal(t, "document-1", rec.DocID)
		assert.Equal(t, i, rec.ChunkIndex)
		assert.Equal(t, 64, rec.Dimensions)
		assert.Equal(t, testModel, rec.EmbeddingModel)
		assert.Equal(t, vector.ClusterID(vec), rec.ClusterID)
		assert.Equal(t, "user-1", rec.OwnerID)
		assert.NotEmpty(t, rec.LedgerAddress)
		assert.LessOrEqual(t, utf8.RuneCountInString(rec.ContentPreview), previewRunes)
		assert.False(t, rec.Timestamp.IsZero())
	}

	// 提交到账本的载荷必须能还原出同样的记录
	payload, err := gateway.Fetch(ctx, records[0].LedgerAddress)
	require.NoError(t, err)
	var stored model.VectorRecord
	require.NoError(t, json.Unmarshal(payload, &stored))
	assert.Equal(t, records[0].DocID, stored.DocID)
	assert.Equal(t, records[0].ClusterID, stored.ClusterID)
	assert.Len(t, stored.Embedding, 64)
}

func TestIndexDocumentRejectsEmptyContent(t *testing.T) {
	s := NewIndexService(ledger.NewMemoryGateway(), &fixedEmbedder{model: testModel, vec: []float32{1}})
	_, err := s.IndexDocument(context.Background(), "document-1", "", "user-1")
	assert.Error(t, err)
}

func TestIndexDocumentIsSearchable(t *testing.T) {
	ctx := context.Background()
	gateway := ledger.NewMemoryGateway()
	vec := make([]float32, 32)
	for i := range vec {
		vec[i] = 1
	}
	embedder := &fixedEmbedder{model: testModel, vec: vec}

	_, err := NewIndexService(gateway, embedder).IndexDocument(ctx, "document-1", "账本是只追加的记录序列", "user-1")
	require.NoError(t, err)

	// 索引产出的记录应能被同一模型的查询在主聚类桶里命中
	search := NewSearchService(gateway,
		&stubEmbedder{model: testModel, vectors: map[string][]float32{"查询": vec}},
		nil, &stubLLM{}, nil, testSearchConfig(), config.ElasticsearchConfig{}, config.LLMConfig{})
	results, err := search.Search(ctx, "查询", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "document-1", results[0].DocID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
}
