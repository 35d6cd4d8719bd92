package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"ledgerbase-go/internal/cache"
	"ledgerbase-go/internal/model"
	"ledgerbase-go/pkg/ledger"
	"ledgerbase-go/pkg/log"
)

// 单次解析拉取的原始记录上限。同一实体的版本数通常远小于它。
const resolveSearchLimit = 100

// EntityStore 接口定义了账本之上的实体读写操作。
type EntityStore interface {
	// Create 分配新的实体标识并提交版本 1。提交失败返回 WriteFailureError，实体视为未创建。
	Create(ctx context.Context, kind model.EntityType, fields model.EntityFields) (*model.EntityRecord, error)
	// Read 返回实体的当前状态。确认缺席返回 ErrNotFound，查询故障返回 QueryFailureError。
	Read(ctx context.Context, entityID string) (*model.EntityRecord, error)
	// Update 以当前版本为基础追加一个新版本。基础记录本身永不被修改。
	Update(ctx context.Context, entityID string, fields model.EntityFields) (*model.EntityRecord, error)
	// Delete 追加一个墓碑版本并在返回前使缓存失效。
	Delete(ctx context.Context, entityID string, actor string) (bool, error)
	// ListByTag 按标签检索并重建快照：按实体去重取最高版本，再剔除墓碑。
	ListByTag(ctx context.Context, kind model.EntityType, tagFilters map[string]string, limit int) ([]*model.EntityRecord, error)
}

// Mirror 是可选的读模型镜像写入口。镜像是非权威的，任何失败只记日志。
type Mirror interface {
	Upsert(rec *model.EntityRecord) error
	MarkDeleted(entityID string, version int) error
}

type entityStore struct {
	gateway ledger.Gateway
	cache   cache.Cache
	mirror  Mirror // 可以为 nil
}

// NewEntityStore 创建一个新的 EntityStore 实例。
func NewEntityStore(gateway ledger.Gateway, c cache.Cache, mirror Mirror) EntityStore {
	return &entityStore{gateway: gateway, cache: c, mirror: mirror}
}

// Create 生成实体标识、计算内容哈希并提交版本 1。
func (s *entityStore) Create(ctx context.Context, kind model.EntityType, fields model.EntityFields) (*model.EntityRecord, error) {
	if !model.ValidEntityType(kind) {
		return nil, fmt.Errorf("不支持的实体类型: %q", kind)
	}
	if fields == nil || fields.Kind() != kind {
		return nil, fmt.Errorf("字段集类型与实体类型 %q 不一致", kind)
	}
	if err := fields.Validate(); err != nil {
		return nil, fmt.Errorf("字段校验失败: %w", err)
	}

	now := time.Now().UTC()
	rec := &model.EntityRecord{
		EntityType:  kind,
		EntityID:    fmt.Sprintf("%s-%s", kind, uuid.NewString()),
		Version:     1,
		ContentHash: hashContent(fields.PrimaryContent()),
		CreatedAt:   now,
		UpdatedAt:   now,
		Fields:      fields,
	}

	if err := s.submit(ctx, rec, "create"); err != nil {
		return nil, err
	}

	s.fillCache(ctx, rec)
	s.mirrorUpsert(rec)
	log.Infof("[EntityStore] 创建实体成功, type: %s, id: %s, address: %s", kind, rec.EntityID, rec.LedgerAddress)
	return rec, nil
}

// Read 先查缓存，未命中时回源账本做最新版本解析并回填缓存。
func (s *entityStore) Read(ctx context.Context, entityID string) (*model.EntityRecord, error) {
	var cached model.EntityRecord
	hit, err := s.cache.Get(ctx, cache.StoreEntities, entityID, &cached)
	if err != nil {
		log.Warnf("[EntityStore] 缓存读取异常, id: %s, err: %v", entityID, err)
	}
	if hit {
		if cached.Deleted {
			return nil, ErrNotFound
		}
		return &cached, nil
	}

	rec, err := s.resolveLatest(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if rec.Deleted {
		return nil, ErrNotFound
	}

	s.fillCache(ctx, rec)
	return rec, nil
}

// Update 以当前版本为基础计算下一版本并追加提交。
// contentHash 仅在主内容变化时重新计算。
func (s *entityStore) Update(ctx context.Context, entityID string, fields model.EntityFields) (*model.EntityRecord, error) {
	base, err := s.Read(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if fields == nil || fields.Kind() != base.EntityType {
		return nil, fmt.Errorf("字段集类型与实体类型 %q 不一致", base.EntityType)
	}
	if err := fields.Validate(); err != nil {
		return nil, fmt.Errorf("字段校验失败: %w", err)
	}

	contentHash := base.ContentHash
	if fields.PrimaryContent() != base.Fields.PrimaryContent() {
		contentHash = hashContent(fields.PrimaryContent())
	}

	rec := &model.EntityRecord{
		EntityType:             base.EntityType,
		EntityID:               base.EntityID,
		Version:                base.Version + 1,
		PreviousVersionAddress: base.LedgerAddress,
		ContentHash:            contentHash,
		CreatedAt:              base.CreatedAt,
		UpdatedAt:              time.Now().UTC(),
		Fields:                 fields,
	}

	if err := s.submit(ctx, rec, "update"); err != nil {
		return nil, err
	}

	s.fillCache(ctx, rec)
	s.mirrorUpsert(rec)
	log.Infof("[EntityStore] 更新实体成功, id: %s, version: %d", rec.EntityID, rec.Version)
	return rec, nil
}

// Delete 追加墓碑版本。缓存失效发生在返回之前，
// 避免把已墓碑的实体当作存活状态继续提供。
func (s *entityStore) Delete(ctx context.Context, entityID string, actor string) (bool, error) {
	base, err := s.Read(ctx, entityID)
	if err != nil {
		return false, err
	}

	rec := &model.EntityRecord{
		EntityType:             base.EntityType,
		EntityID:               base.EntityID,
		Version:                base.Version + 1,
		PreviousVersionAddress: base.LedgerAddress,
		ContentHash:            base.ContentHash,
		Deleted:                true,
		DeletedBy:              actor,
		CreatedAt:              base.CreatedAt,
		UpdatedAt:              time.Now().UTC(),
		Fields:                 base.Fields,
	}

	if err := s.submit(ctx, rec, "delete"); err != nil {
		return false, err
	}

	if err := s.cache.Invalidate(ctx, cache.StoreEntities, entityID); err != nil {
		// 失效失败不回滚删除（墓碑已落账本），残留条目由 TTL 兜底。
		log.Errorf("[EntityStore] 删除后缓存失效失败, id: %s, err: %v", entityID, err)
	}
	if s.mirror != nil {
		if err := s.mirror.MarkDeleted(entityID, rec.Version); err != nil {
			log.Warnf("[EntityStore] 镜像标记删除失败, id: %s, err: %v", entityID, err)
		}
	}
	log.Infof("[EntityStore] 删除实体成功, id: %s, tombstone version: %d, actor: %s", entityID, rec.Version, actor)
	return true, nil
}

// ListByTag 执行标签检索并重建实体快照。
// 网关返回的是原始匹配记录，同一逻辑实体可能出现多条；
// 这里按 entityId 去重只保留最高版本，再剔除当前版本为墓碑的实体。
func (s *entityStore) ListByTag(ctx context.Context, kind model.EntityType, tagFilters map[string]string, limit int) ([]*model.EntityRecord, error) {
	// 查询结果按签名缓存。写入不反向失效查询缓存，陈旧窗口由 TTL 收口。
	queryKey := queryCacheKey(kind, tagFilters, limit)
	var cached []*model.EntityRecord
	hit, err := s.cache.Get(ctx, cache.StoreQueries, queryKey, &cached)
	if err != nil {
		log.Warnf("[EntityStore] 查询缓存读取异常, key: %s, err: %v", queryKey, err)
	}
	if hit {
		return cached, nil
	}

	filters := []ledger.TagFilter{
		{Name: TagEntityType, Values: []string{string(kind)}},
	}
	for name, value := range tagFilters {
		filters = append(filters, ledger.TagFilter{Name: name, Values: []string{value}})
	}

	hits, err := s.gateway.SearchByTags(ctx, ledger.SearchQuery{
		Filters: filters,
		Sort:    ledger.SortRecencyDesc,
	})
	if err != nil {
		return nil, &QueryFailureError{Op: "listByTag", Cause: err}
	}

	winners := dedupeByEntity(hits)

	// 按各实体胜出版本的时间戳倒序，限定数量后再取载荷。
	sort.Slice(winners, func(i, j int) bool {
		return winners[i].Timestamp.After(winners[j].Timestamp)
	})

	var result []*model.EntityRecord
	for _, hit := range winners {
		if limit > 0 && len(result) >= limit {
			break
		}
		if hit.TagValue(TagDeleted) == "true" {
			continue
		}
		rec, err := s.fetchRecord(ctx, hit)
		if err != nil {
			return nil, err
		}
		if rec.Deleted {
			continue
		}
		result = append(result, rec)
		s.fillCache(ctx, rec)
	}

	// 空结果不缓存：否则新建实体在 TTL 内对同签名查询不可见，
	// 用户名唯一性检查这类存在性判断会被负缓存击穿。
	if len(result) > 0 {
		if err := s.cache.Put(ctx, cache.StoreQueries, queryKey, result); err != nil {
			log.Warnf("[EntityStore] 查询缓存写入失败, key: %s, err: %v", queryKey, err)
		}
	}
	return result, nil
}

// queryCacheKey 把一次列表查询折叠成确定性的签名：
// 实体类型、排序后的标签过滤器和数量上限共同参与摘要。
func queryCacheKey(kind model.EntityType, tagFilters map[string]string, limit int) string {
	names := make([]string, 0, len(tagFilters))
	for name := range tagFilters {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%d", kind, limit)
	for _, name := range names {
		fmt.Fprintf(h, "|%s=%s", name, tagFilters[name])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// resolveLatest 对单个实体执行最新版本解析：
// 数值最高的版本即当前状态；同版本并存说明发生了写入竞争，
// 按时间戳靠后者裁决，并把该冲突记为可审计事件而非静默吞掉。
func (s *entityStore) resolveLatest(ctx context.Context, entityID string) (*model.EntityRecord, error) {
	hits, err := s.gateway.SearchByTags(ctx, ledger.SearchQuery{
		Filters: []ledger.TagFilter{{Name: TagEntityID, Values: []string{entityID}}},
		Sort:    ledger.SortRecencyDesc,
		Limit:   resolveSearchLimit,
	})
	if err != nil {
		return nil, &QueryFailureError{Op: "read", Cause: err}
	}
	if len(hits) == 0 {
		return nil, ErrNotFound
	}

	winner := pickWinner(hits, entityID)
	return s.fetchRecord(ctx, winner)
}

// pickWinner 在同一实体的全部命中中选出当前版本。
func pickWinner(hits []ledger.SearchHit, entityID string) ledger.SearchHit {
	winner := hits[0]
	winnerVersion := hitVersion(winner)
	for _, hit := range hits[1:] {
		v := hitVersion(hit)
		switch {
		case v > winnerVersion:
			winner, winnerVersion = hit, v
		case v == winnerVersion && hit.Address != winner.Address:
			// 同版本两条记录：写入竞争。时间戳靠后者胜出，冲突本身要可观测。
			log.Warnf("[EntityStore] 检测到版本冲突, id: %s, version: %d, addresses: [%s, %s]",
				entityID, v, winner.Address, hit.Address)
			if hit.Timestamp.After(winner.Timestamp) {
				winner = hit
			}
		}
	}
	return winner
}

// dedupeByEntity 按 entityId 分组并为每组选出最高版本的命中。
func dedupeByEntity(hits []ledger.SearchHit) []ledger.SearchHit {
	byID := make(map[string]ledger.SearchHit)
	for _, hit := range hits {
		id := hit.TagValue(TagEntityID)
		if id == "" {
			continue
		}
		current, exists := byID[id]
		if !exists {
			byID[id] = hit
			continue
		}
		cv, hv := hitVersion(current), hitVersion(hit)
		switch {
		case hv > cv:
			byID[id] = hit
		case hv == cv && hit.Address != current.Address:
			log.Warnf("[EntityStore] 列表去重时检测到版本冲突, id: %s, version: %d", id, hv)
			if hit.Timestamp.After(current.Timestamp) {
				byID[id] = hit
			}
		}
	}

	winners := make([]ledger.SearchHit, 0, len(byID))
	for _, hit := range byID {
		winners = append(winners, hit)
	}
	return winners
}

// fetchRecord 取回命中的载荷并还原实体记录。
func (s *entityStore) fetchRecord(ctx context.Context, hit ledger.SearchHit) (*model.EntityRecord, error) {
	payload, err := s.gateway.Fetch(ctx, hit.Address)
	if err != nil {
		return nil, &QueryFailureError{Op: "fetch", Cause: err}
	}
	var rec model.EntityRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, &QueryFailureError{Op: "decode", Cause: err}
	}
	rec.LedgerAddress = hit.Address
	return &rec, nil
}

// submit 序列化记录并提交账本，成功后把返回的内容地址写回记录。
// 载荷本身不包含自己的地址。
func (s *entityStore) submit(ctx context.Context, rec *model.EntityRecord, op string) error {
	rec.LedgerAddress = ""
	payload, err := json.Marshal(rec)
	if err != nil {
		return &WriteFailureError{Op: op, Cause: err}
	}
	address, err := s.gateway.Submit(ctx, payload, entityTags(rec))
	if err != nil {
		return &WriteFailureError{Op: op, Cause: err}
	}
	rec.LedgerAddress = address
	return nil
}

// fillCache 把记录写入实体缓存（写透），失败只记日志。
func (s *entityStore) fillCache(ctx context.Context, rec *model.EntityRecord) {
	if err := s.cache.Put(ctx, cache.StoreEntities, rec.EntityID, rec); err != nil {
		log.Warnf("[EntityStore] 缓存写入失败, id: %s, err: %v", rec.EntityID, err)
	}
}

// mirrorUpsert 把当前版本同步进读模型镜像（尽力而为）。
func (s *entityStore) mirrorUpsert(rec *model.EntityRecord) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Upsert(rec); err != nil {
		log.Warnf("[EntityStore] 镜像同步失败, id: %s, err: %v", rec.EntityID, err)
	}
}

// hashContent 计算主内容字段的 SHA-256 摘要。
func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
