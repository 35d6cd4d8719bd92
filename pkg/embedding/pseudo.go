package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"

	"ledgerbase-go/pkg/log"
)

// PseudoModelPrefix 标记降级模式产出的向量。
// 伪向量只保证“相同输入得到相同向量”，不具备语义质量，
// 通过模型标识与真实嵌入严格隔离，绝不混入相似度比较。
const PseudoModelPrefix = "pseudo-"

// pseudoClient 在嵌入服务不可用时产出确定性的哈希派生向量。
type pseudoClient struct {
	dimensions int
}

// NewPseudoClient 创建一个降级模式的嵌入客户端。
func NewPseudoClient(dimensions int) Client {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &pseudoClient{dimensions: dimensions}
}

func (c *pseudoClient) Model() string {
	return PseudoModelPrefix + "sha256"
}

// CreateEmbedding 从输入文本的链式 SHA-256 摘要展开出固定维度的向量。
// 对相同输入严格可复现。
func (c *pseudoClient) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, c.dimensions)
	digest := sha256.Sum256([]byte(text))
	i := 0
	for i < c.dimensions {
		for off := 0; off+4 <= len(digest) && i < c.dimensions; off += 4 {
			bits := binary.BigEndian.Uint32(digest[off : off+4])
			// 映射到 [-1, 1)
			vec[i] = float32(int32(bits)) / float32(1<<31)
			i++
		}
		digest = sha256.Sum256(digest[:])
	}
	return vec, nil
}

// fallbackClient 优先调用真实嵌入服务，失败时退回伪向量。
// 返回向量使用方必须结合 Model() 判断向量来源。
type fallbackClient struct {
	primary Client
	pseudo  Client
}

// NewFallbackClient 包装主嵌入客户端，在其不可用时降级为确定性伪向量。
func NewFallbackClient(primary Client, dimensions int) TaggedClient {
	return &fallbackClient{primary: primary, pseudo: NewPseudoClient(dimensions)}
}

// TaggedClient 在常规接口之外返回每次实际使用的模型标识，
// 使降级产生的伪向量永远不会被误标成真实模型。
type TaggedClient interface {
	Client
	CreateEmbeddingTagged(ctx context.Context, text string) ([]float32, string, error)
}

func (c *fallbackClient) Model() string {
	return c.primary.Model()
}

func (c *fallbackClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vec, _, err := c.CreateEmbeddingTagged(ctx, text)
	return vec, err
}

// CreateEmbeddingTagged 返回向量与产出它的模型标识。
func (c *fallbackClient) CreateEmbeddingTagged(ctx context.Context, text string) ([]float32, string, error) {
	vec, err := c.primary.CreateEmbedding(ctx, text)
	if err == nil {
		return vec, c.primary.Model(), nil
	}
	log.Warnf("[EmbeddingClient] 嵌入服务不可用，降级为确定性伪向量: %v", err)
	vec, perr := c.pseudo.CreateEmbedding(ctx, text)
	if perr != nil {
		return nil, "", perr
	}
	return vec, c.pseudo.Model(), nil
}
