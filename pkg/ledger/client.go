// Package ledger 提供了与追加写入、内容寻址的账本网关交互的客户端。
// 网关只有三个能力：提交（返回永久内容地址）、按标签检索、按地址取回载荷。
// 三者都是最终一致的：刚提交的记录可能暂时不出现在检索结果中。
package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ledgerbase-go/internal/config"
	"ledgerbase-go/pkg/log"
)

// Tag 是附着在账本写入上的名值对，是账本侧唯一的查询机制。
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// TagFilter 按名字匹配任一给定取值。
type TagFilter struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// SortOrder 控制检索结果的排序方向。
type SortOrder string

const (
	SortRecencyDesc SortOrder = "RECENCY_DESC"
	SortRecencyAsc  SortOrder = "RECENCY_ASC"
)

// SearchQuery 是一次标签检索的参数。
type SearchQuery struct {
	Filters []TagFilter `json:"tags"`
	Sort    SortOrder   `json:"sort"`
	Limit   int         `json:"limit"`
}

// SearchHit 是检索返回的单条命中：地址、标签集与网关记录的时间戳。
type SearchHit struct {
	Address   string    `json:"address"`
	Tags      []Tag     `json:"tags"`
	Timestamp time.Time `json:"timestamp"`
}

// TagValue 在命中的标签集中查找指定名字的取值，未找到返回空串。
func (h SearchHit) TagValue(name string) string {
	for _, t := range h.Tags {
		if t.Name == name {
			return t.Value
		}
	}
	return ""
}

// Gateway 是账本网关的消费接口。实现必须只追加：不存在覆盖与物理删除。
type Gateway interface {
	// Submit 提交载荷与标签集，返回永久内容地址。
	Submit(ctx context.Context, payload []byte, tags []Tag) (string, error)
	// SearchByTags 返回匹配全部过滤条件的记录，按 Sort 排序、Limit 截断。
	SearchByTags(ctx context.Context, query SearchQuery) ([]SearchHit, error)
	// Fetch 按内容地址取回原始载荷。
	Fetch(ctx context.Context, address string) ([]byte, error)
}

// Archive 是本地载荷归档接口，用于在网关检索尚未收敛时就近取回载荷。
// 归档是尽力而为的：任何失败都不影响账本提交结果。
type Archive interface {
	Put(ctx context.Context, address string, payload []byte) error
	Get(ctx context.Context, address string) ([]byte, error)
}

// Client 是账本网关的 HTTP 实现。
type Client struct {
	cfg     config.LedgerConfig
	client  *http.Client
	archive Archive
}

// NewClient 创建一个新的账本网关客户端。archive 可以为 nil。
func NewClient(cfg config.LedgerConfig, archive Archive) *Client {
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		archive: archive,
	}
}

type submitRequest struct {
	Data string `json:"data"` // base64 编码的载荷
	Tags []Tag  `json:"tags"`
	App  string `json:"app,omitempty"`
}

type submitResponse struct {
	ID string `json:"id"`
}

// Submit 向网关提交一次追加写入并返回内容地址。
// 成功后将载荷写入本地归档（尽力而为），以弥合网关的最终一致窗口。
func (c *Client) Submit(ctx context.Context, payload []byte, tags []Tag) (string, error) {
	reqBody := submitRequest{
		Data: base64.StdEncoding.EncodeToString(payload),
		Tags: tags,
		App:  c.cfg.AppName,
	}
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("序列化提交请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.GatewayURL+"/tx", bytes.NewReader(reqBytes))
	if err != nil {
		return "", fmt.Errorf("创建提交请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("调用账本网关提交接口失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("账本网关提交返回非成功状态码 [%d]: %s", resp.StatusCode, string(bodyBytes))
	}

	var submitResp submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&submitResp); err != nil {
		return "", fmt.Errorf("解析提交响应失败: %w", err)
	}
	if submitResp.ID == "" {
		return "", fmt.Errorf("账本网关返回了空的内容地址")
	}

	if c.archive != nil {
		if aerr := c.archive.Put(ctx, submitResp.ID, payload); aerr != nil {
			log.Warnf("[LedgerClient] 载荷归档失败 (address=%s): %v", submitResp.ID, aerr)
		}
	}

	log.Infof("[LedgerClient] 提交成功, address: %s, tags: %d", submitResp.ID, len(tags))
	return submitResp.ID, nil
}

type searchResponse struct {
	Transactions []struct {
		ID        string `json:"id"`
		Tags      []Tag  `json:"tags"`
		Timestamp int64  `json:"timestamp"` // Unix 毫秒
	} `json:"transactions"`
}

// SearchByTags 执行一次标签检索。
func (c *Client) SearchByTags(ctx context.Context, query SearchQuery) ([]SearchHit, error) {
	if query.Sort == "" {
		query.Sort = SortRecencyDesc
	}
	reqBytes, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("序列化检索请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.GatewayURL+"/tx/search", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("创建检索请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("调用账本网关检索接口失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("账本网关检索返回非 200 状态码 [%d]: %s", resp.StatusCode, string(bodyBytes))
	}

	var searchResp searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("解析检索响应失败: %w", err)
	}

	hits := make([]SearchHit, 0, len(searchResp.Transactions))
	for _, tx := range searchResp.Transactions {
		hits = append(hits, SearchHit{
			Address:   tx.ID,
			Tags:      tx.Tags,
			Timestamp: time.UnixMilli(tx.Timestamp),
		})
	}
	return hits, nil
}

// Fetch 取回指定地址的载荷。本地归档命中时不经过网关。
func (c *Client) Fetch(ctx context.Context, address string) ([]byte, error) {
	if c.archive != nil {
		if payload, err := c.archive.Get(ctx, address); err == nil && len(payload) > 0 {
			return payload, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.cfg.GatewayURL+"/tx/"+address+"/data", nil)
	if err != nil {
		return nil, fmt.Errorf("创建取回请求失败: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("调用账本网关取回接口失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("地址 %s 在网关上不存在", address)
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("账本网关取回返回非 200 状态码 [%d]: %s", resp.StatusCode, string(bodyBytes))
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取载荷失败: %w", err)
	}
	return payload, nil
}
