package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignature(t *testing.T) {
	t.Run("正分量置位", func(t *testing.T) {
		vec := make([]float32, SignatureBits)
		vec[0] = 1.0
		vec[3] = 0.5
		vec[31] = 2.0

		sig := Signature(vec)
		assert.Equal(t, uint32(1<<0|1<<3|1<<31), sig)
	})

	t.Run("零与负分量不置位", func(t *testing.T) {
		vec := make([]float32, SignatureBits)
		vec[1] = -1.0
		vec[2] = 0

		assert.Equal(t, uint32(0), Signature(vec))
	})

	t.Run("维度不足时高位补零", func(t *testing.T) {
		short := []float32{1.0, -1.0, 1.0}
		assert.Equal(t, uint32(1<<0|1<<2), Signature(short))
	})

	t.Run("仅取前导维度", func(t *testing.T) {
		long := make([]float32, 128)
		long[0] = 1.0
		long[64] = 1.0 // 超出前导窗口, 不影响签名

		assert.Equal(t, uint32(1), Signature(long))
	})
}

func TestClusterID(t *testing.T) {
	vec := []float32{0.5, -0.2, 0.7, 0.1}

	t.Run("确定性", func(t *testing.T) {
		assert.Equal(t, ClusterID(vec), ClusterID(vec))
	})

	t.Run("定宽十六进制", func(t *testing.T) {
		id := ClusterID(vec)
		assert.Len(t, id, 16)
	})

	t.Run("不同符号位串产生不同簇", func(t *testing.T) {
		other := []float32{-0.5, -0.2, 0.7, 0.1}
		assert.NotEqual(t, ClusterID(vec), ClusterID(other))
	})

	t.Run("方向一致的向量同簇", func(t *testing.T) {
		scaled := []float32{5.0, -2.0, 7.0, 1.0}
		assert.Equal(t, ClusterID(vec), ClusterID(scaled))
	})
}

func TestNeighborSignaturesAt(t *testing.T) {
	base := uint32(0b1010)

	t.Run("距离1的邻居数等于位数", func(t *testing.T) {
		neighbors := NeighborSignaturesAt(base, 1)
		require.Len(t, neighbors, SignatureBits)
		for _, n := range neighbors {
			assert.Equal(t, 1, HammingDistance(base, n))
		}
	})

	t.Run("距离2的邻居恰好差两位", func(t *testing.T) {
		neighbors := NeighborSignaturesAt(base, 2)
		// C(32, 2)
		require.Len(t, neighbors, 32*31/2)
		for _, n := range neighbors {
			assert.Equal(t, 2, HammingDistance(base, n))
		}
	})

	t.Run("非法半径返回空", func(t *testing.T) {
		assert.Nil(t, NeighborSignaturesAt(base, 0))
		assert.Nil(t, NeighborSignaturesAt(base, SignatureBits+1))
	})

	t.Run("邻居互不重复", func(t *testing.T) {
		neighbors := NeighborSignaturesAt(base, 1)
		seen := make(map[uint32]bool, len(neighbors))
		for _, n := range neighbors {
			assert.False(t, seen[n])
			seen[n] = true
		}
	})
}

func TestHammingDistance(t *testing.T) {
	assert.Equal(t, 0, HammingDistance(0b1010, 0b1010))
	assert.Equal(t, 1, HammingDistance(0b1010, 0b1011))
	assert.Equal(t, 4, HammingDistance(0b1111, 0b0000))
}
