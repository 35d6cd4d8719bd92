package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryGateway 是 Gateway 的进程内实现：一条只追加的记录序列加标签扫描。
// 供测试与离线/降级模式使用，语义与真实网关一致（无覆盖、无删除）。
type MemoryGateway struct {
	mu      sync.RWMutex
	records []memoryRecord
	byAddr  map[string]int
}

type memoryRecord struct {
	address   string
	payload   []byte
	tags      []Tag
	timestamp time.Time
}

// NewMemoryGateway 创建一个空的进程内网关。
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{byAddr: make(map[string]int)}
}

// Submit 追加一条记录并返回内容地址。
// 地址由载荷内容与序号共同派生，保证每次提交得到唯一地址。
func (g *MemoryGateway) Submit(_ context.Context, payload []byte, tags []Tag) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	h := sha256.New()
	h.Write(payload)
	fmt.Fprintf(h, "#%d", len(g.records))
	address := hex.EncodeToString(h.Sum(nil))

	stored := make([]byte, len(payload))
	copy(stored, payload)
	tagsCopy := make([]Tag, len(tags))
	copy(tagsCopy, tags)

	g.byAddr[address] = len(g.records)
	g.records = append(g.records, memoryRecord{
		address:   address,
		payload:   stored,
		tags:      tagsCopy,
		timestamp: time.Now(),
	})
	return address, nil
}

// SearchByTags 按标签过滤全部记录。
func (g *MemoryGateway) SearchByTags(_ context.Context, query SearchQuery) ([]SearchHit, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var hits []SearchHit
	for _, rec := range g.records {
		if matchesFilters(rec.tags, query.Filters) {
			tagsCopy := make([]Tag, len(rec.tags))
			copy(tagsCopy, rec.tags)
			hits = append(hits, SearchHit{Address: rec.address, Tags: tagsCopy, Timestamp: rec.timestamp})
		}
	}

	asc := query.Sort == SortRecencyAsc
	sort.SliceStable(hits, func(i, j int) bool {
		if asc {
			return hits[i].Timestamp.Before(hits[j].Timestamp)
		}
		return hits[i].Timestamp.After(hits[j].Timestamp)
	})

	if query.Limit > 0 && len(hits) > query.Limit {
		hits = hits[:query.Limit]
	}
	return hits, nil
}

// Fetch 按地址取回载荷。
func (g *MemoryGateway) Fetch(_ context.Context, address string) ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	idx, ok := g.byAddr[address]
	if !ok {
		return nil, fmt.Errorf("地址 %s 不存在", address)
	}
	payload := make([]byte, len(g.records[idx].payload))
	copy(payload, g.records[idx].payload)
	return payload, nil
}

// Len 返回已提交的记录总数。
func (g *MemoryGateway) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.records)
}

// matchesFilters 要求每个过滤条件都至少有一个取值命中。
func matchesFilters(tags []Tag, filters []TagFilter) bool {
	for _, f := range filters {
		value := ""
		found := false
		for _, t := range tags {
			if t.Name == f.Name {
				value = t.Value
				found = true
				break
			}
		}
		if !found {
			return false
		}
		ok := false
		for _, v := range f.Values {
			if v == value {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}
