package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	t.Run("自身相似度为1", func(t *testing.T) {
		vec := []float32{0.3, -0.7, 0.2, 0.9}
		sim, err := CosineSimilarity(vec, vec)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, sim, 1e-9)
	})

	t.Run("正交向量相似度为0", func(t *testing.T) {
		a := []float32{1, 0}
		b := []float32{0, 1}
		sim, err := CosineSimilarity(a, b)
		require.NoError(t, err)
		assert.Equal(t, 0.0, sim)
	})

	t.Run("反向向量截断为0", func(t *testing.T) {
		a := []float32{1, 2, 3}
		b := []float32{-1, -2, -3}
		sim, err := CosineSimilarity(a, b)
		require.NoError(t, err)
		assert.Equal(t, 0.0, sim)
	})

	t.Run("零向量按0处理", func(t *testing.T) {
		a := []float32{0, 0, 0}
		b := []float32{1, 2, 3}
		sim, err := CosineSimilarity(a, b)
		require.NoError(t, err)
		assert.Equal(t, 0.0, sim)
	})

	t.Run("维度不一致报错", func(t *testing.T) {
		_, err := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3})
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("结果落在单位区间", func(t *testing.T) {
		a := []float32{0.1, 0.9, -0.4}
		b := []float32{0.2, 0.8, -0.3}
		sim, err := CosineSimilarity(a, b)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, sim, 0.0)
		assert.LessOrEqual(t, sim, 1.0)
	})
}

func TestKeywordScore(t *testing.T) {
	t.Run("全部命中", func(t *testing.T) {
		score := KeywordScore("ledger append only ledger", []string{"ledger"})
		// tf = 2/4, coverage = 1
		assert.InDelta(t, 0.5, score, 1e-9)
	})

	t.Run("部分覆盖按比例折减", func(t *testing.T) {
		score := KeywordScore("ledger append only", []string{"ledger", "missing"})
		// tf = 1/3, coverage = 1/2
		assert.InDelta(t, 1.0/6.0, score, 1e-9)
	})

	t.Run("大小写不敏感", func(t *testing.T) {
		assert.Greater(t, KeywordScore("Ledger Engine", []string{"ledger"}), 0.0)
	})

	t.Run("无命中得0分", func(t *testing.T) {
		assert.Equal(t, 0.0, KeywordScore("append only store", []string{"ledger"}))
	})

	t.Run("空输入得0分", func(t *testing.T) {
		assert.Equal(t, 0.0, KeywordScore("", []string{"ledger"}))
		assert.Equal(t, 0.0, KeywordScore("text", nil))
	})
}
