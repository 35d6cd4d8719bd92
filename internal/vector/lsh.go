// Package vector 提供了向量索引与检索用到的纯计算：
// 局部性（LSH）簇派生、余弦相似度与关键词词频打分。
package vector

import (
	"fmt"
	"hash/fnv"
	"math/bits"
)

// SignatureBits 是参与簇派生的前导维度数。
// 方向相近的向量在这些维度上的符号位大概率一致，从而落入同一桶；
// 代价是召回：在某个前导维度符号相反的近邻会落到别的桶里。
const SignatureBits = 32

// Signature 取向量前 SignatureBits 个维度的符号位组成位串。
// 维度不足时高位补零；分量为正记 1，零或负记 0。
func Signature(vec []float32) uint32 {
	var sig uint32
	n := SignatureBits
	if len(vec) < n {
		n = len(vec)
	}
	for i := 0; i < n; i++ {
		if vec[i] > 0 {
			sig |= 1 << uint(i)
		}
	}
	return sig
}

// ClusterIDFromSignature 将符号位串哈希为定宽簇标识。
func ClusterIDFromSignature(sig uint32) string {
	h := fnv.New64a()
	var buf [SignatureBits]byte
	for i := 0; i < SignatureBits; i++ {
		if sig&(1<<uint(i)) != 0 {
			buf[i] = '1'
		} else {
			buf[i] = '0'
		}
	}
	h.Write(buf[:])
	return fmt.Sprintf("%016x", h.Sum64())
}

// ClusterID 计算向量所属的局部性簇标识。
func ClusterID(vec []float32) string {
	return ClusterIDFromSignature(Signature(vec))
}

// NeighborSignaturesAt 枚举与 sig 汉明距离恰好为 radius 的全部位串。
// 检索在主簇零命中时逐层扩散：先距离 1，再距离 2，依此类推。
func NeighborSignaturesAt(sig uint32, radius int) []uint32 {
	if radius <= 0 || radius > SignatureBits {
		return nil
	}

	var result []uint32
	positions := make([]int, radius)
	var walk func(start, depth int, current uint32)
	walk = func(start, depth int, current uint32) {
		if depth == radius {
			result = append(result, current)
			return
		}
		for i := start; i < SignatureBits; i++ {
			positions[depth] = i
			walk(i+1, depth+1, current^(1<<uint(i)))
		}
	}
	walk(0, 0, sig)
	return result
}

// HammingDistance 返回两个符号位串之间不同的位数。
func HammingDistance(a, b uint32) int {
	return bits.OnesCount32(a ^ b)
}
