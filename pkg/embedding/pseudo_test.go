package embedding

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingClient 模拟不可用的嵌入服务。
type failingClient struct{}

func (failingClient) Model() string { return "real-model" }

func (failingClient) CreateEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("嵌入服务不可用")
}

// okClient 返回固定向量的主嵌入客户端替身。
type okClient struct{ vec []float32 }

func (c okClient) Model() string { return "real-model" }

func (c okClient) CreateEmbedding(context.Context, string) ([]float32, error) {
	return c.vec, nil
}

func TestPseudoClientDeterministic(t *testing.T) {
	ctx := context.Background()
	c := NewPseudoClient(256)

	v1, err := c.CreateEmbedding(ctx, "相同输入")
	require.NoError(t, err)
	v2, err := c.CreateEmbedding(ctx, "相同输入")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Len(t, v1, 256)

	v3, err := c.CreateEmbedding(ctx, "不同输入")
	require.NoError(t, err)
	assert.NotEqual(t, v1, v3)
}

func TestPseudoClientValueRange(t *testing.T) {
	c := NewPseudoClient(512)
	vec, err := c.CreateEmbedding(context.Background(), "范围检查")
	require.NoError(t, err)
	require.Len(t, vec, 512)
	for _, v := range vec {
		assert.GreaterOrEqual(t, v, float32(-1))
		assert.Less(t, v, float32(1))
	}
}

func TestPseudoClientModelPrefix(t *testing.T) {
	c := NewPseudoClient(16)
	assert.True(t, strings.HasPrefix(c.Model(), PseudoModelPrefix))
}

func TestFallbackClientPassesThrough(t *testing.T) {
	ctx := context.Background()
	primary := okClient{vec: []float32{1, 2, 3}}
	c := NewFallbackClient(primary, 3)

	vec, modelName, err := c.CreateEmbeddingTagged(ctx, "文本")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, vec)
	assert.Equal(t, "real-model", modelName)
}

func TestFallbackClientDegradesToPseudo(t *testing.T) {
	ctx := context.Background()
	c := NewFallbackClient(failingClient{}, 64)

	vec, modelName, err := c.CreateEmbeddingTagged(ctx, "文本")
	require.NoError(t, err)
	assert.Len(t, vec, 64)

	// 降级产出的向量绝不能顶着真实模型的名字
	assert.NotEqual(t, "real-model", modelName)
	assert.True(t, strings.HasPrefix(modelName, PseudoModelPrefix))

	// 降级同样是确定性的
	vec2, _, err := c.CreateEmbeddingTagged(ctx, "文本")
	require.NoError(t, err)
	assert.Equal(t, vec, vec2)
}
