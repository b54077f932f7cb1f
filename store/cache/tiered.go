package cache

import (
	"context"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/lithammer/shortuuid/v4"

	memerr "github.com/hrygo/mnemo/internal/errors"
	"github.com/hrygo/mnemo/internal/observability"
	"github.com/hrygo/mnemo/store"
)

// Flush triggers, used as metric labels.
const (
	TriggerThreshold = "threshold"
	TriggerTime      = "time"
	TriggerForced    = "forced"
	TriggerManual    = "manual"
)

// RecordStore is the durable tier. *store.Store satisfies it.
type RecordStore interface {
	UpsertRecords(ctx context.Context, records []*store.Record) error
	GetRecord(ctx context.Context, find *store.FindRecord) (*store.Record, error)
	ListRecords(ctx context.Context, find *store.FindRecord) ([]*store.Record, error)
	UpdateRecordPayload(ctx context.Context, update *store.UpdateRecordPayload) (bool, error)
	DeleteRecord(ctx context.Context, delete *store.DeleteRecord) error
}

var _ RecordStore = (*store.Store)(nil)

// TieredConfig holds the configuration for the tiered store.
type TieredConfig struct {
	// FlushThreshold is the pending-write count that triggers a flush.
	FlushThreshold int
	// TTL applies to every cache entry.
	TTL     time.Duration
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// DefaultTieredConfig returns the default tiered store configuration.
func DefaultTieredConfig() *TieredConfig {
	return &TieredConfig{
		FlushThreshold: 100,
		TTL:            time.Hour,
	}
}

// CacheStats is the snapshot returned by GetCacheStats.
type CacheStats struct {
	RecordCount    int64 `json:"record_count"`
	IndexSize      int64 `json:"index_size"`
	MemoryEstimate int64 `json:"memory_estimate"`
	Threshold      int   `json:"threshold"`
	TTL            int64 `json:"ttl"` // seconds
}

// TieredStore composes a ShortTermCache in front of a durable RecordStore.
//
// Writes land in the cache. Once the pending-write count reaches the flush
// threshold, every cached record is upserted into the durable store and the
// cache is refilled with the most recently updated durable records. Reads
// try the cache, then the store, and never repopulate the cache.
//
// TieredStore holds no lock; flushes are idempotent upserts and the refill is
// authoritative, so interleaved writers only cost a redundant flush.
type TieredStore struct {
	cache     ShortTermCache
	durable   RecordStore
	threshold int
	ttl       time.Duration
	logger    *slog.Logger
	metrics   *observability.Metrics
	now       func() time.Time

	// lastFlush is the unix nano time of the last completed flush.
	lastFlush atomic.Int64
}

// NewTieredStore creates a tiered store.
func NewTieredStore(cache ShortTermCache, durable RecordStore, config *TieredConfig) *TieredStore {
	if config == nil {
		config = DefaultTieredConfig()
	}
	threshold := config.FlushThreshold
	if threshold <= 0 {
		threshold = DefaultTieredConfig().FlushThreshold
	}
	ttl := config.TTL
	if ttl <= 0 {
		ttl = DefaultTieredConfig().TTL
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	t := &TieredStore{
		cache:     cache,
		durable:   durable,
		threshold: threshold,
		ttl:       ttl,
		logger:    logger,
		metrics:   config.Metrics,
		now:       time.Now,
	}
	t.lastFlush.Store(t.now().UnixNano())
	return t
}

// AddRecord writes the record to the cache and flushes when the threshold is reached.
// The record is visible to GetRecord and GetRecordsByCategory once this returns nil.
// A failed flush is logged and retried by the next write; the record stays cached.
func (t *TieredStore) AddRecord(ctx context.Context, record *store.Record) error {
	if record == nil || record.ID == "" {
		return memerr.InvalidArgument("record id is required")
	}
	r := record.Clone()
	now := t.now().UnixMilli()
	if r.CreatedTs == 0 {
		r.CreatedTs = now
	}
	r.UpdatedTs = now
	return t.write(ctx, r)
}

func (t *TieredStore) write(ctx context.Context, r *store.Record) error {
	pending, err := t.cache.Put(ctx, r, t.ttl)
	if err != nil {
		return err
	}
	if pending >= int64(t.threshold) {
		if err := t.persist(ctx, TriggerThreshold); err != nil {
			t.logger.Warn("threshold flush failed, records stay cached",
				slog.Int64("pending", pending),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// GetRecord returns nil when neither tier holds the id.
func (t *TieredStore) GetRecord(ctx context.Context, id string) (*store.Record, error) {
	record, ok, err := t.cache.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	t.metrics.ObserveCacheLookup("cache", ok)
	if ok {
		return record, nil
	}

	record, err = t.durable.GetRecord(ctx, &store.FindRecord{ID: &id})
	if err != nil {
		return nil, err
	}
	t.metrics.ObserveCacheLookup("store", record != nil)
	return record, nil
}

// GetRecordsByCategory returns the union of both tiers for the category,
// most recently updated first. The cached copy wins on id collisions.
func (t *TieredStore) GetRecordsByCategory(ctx context.Context, category string, limit int) ([]*store.Record, error) {
	if limit <= 0 || limit > store.MaxListLimit {
		limit = store.MaxListLimit
	}

	ids, err := t.cache.ScanIndex(ctx)
	if err != nil {
		return nil, err
	}
	cached, err := t.cache.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	durable, err := t.durable.ListRecords(ctx, &store.FindRecord{Category: &category, Limit: limit})
	if err != nil {
		return nil, err
	}

	merged := make(map[string]*store.Record, len(cached)+len(durable))
	for _, r := range cached {
		if r.Category == category {
			merged[r.ID] = r
		}
	}
	for _, r := range durable {
		if _, ok := merged[r.ID]; !ok {
			merged[r.ID] = r
		}
	}

	list := make([]*store.Record, 0, len(merged))
	for _, r := range merged {
		list = append(list, r)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].UpdatedTs != list[j].UpdatedTs {
			return list[i].UpdatedTs > list[j].UpdatedTs
		}
		return list[i].ID > list[j].ID
	})
	if len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// UpdateRecordPayload replaces the payload in whichever tiers hold the record.
// It reports false when neither does.
func (t *TieredStore) UpdateRecordPayload(ctx context.Context, id string, payload []byte) (bool, error) {
	now := t.now().UnixMilli()

	cached, inCache, err := t.cache.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if inCache {
		cached.Payload = payload
		cached.UpdatedTs = now
		if err := t.write(ctx, cached); err != nil {
			return false, err
		}
	}

	inStore, err := t.durable.UpdateRecordPayload(ctx, &store.UpdateRecordPayload{ID: id, Payload: payload, UpdatedTs: now})
	if err != nil {
		return false, err
	}
	return inCache || inStore, nil
}

// DeleteRecord removes the id from both tiers. Deleting an absent id succeeds.
func (t *TieredStore) DeleteRecord(ctx context.Context, id string) error {
	if err := t.cache.Remove(ctx, id); err != nil {
		return err
	}
	return t.durable.DeleteRecord(ctx, &store.DeleteRecord{ID: id})
}

// PersistCacheToStore flushes every cached record and refills the cache.
func (t *TieredStore) PersistCacheToStore(ctx context.Context) error {
	return t.persist(ctx, TriggerManual)
}

func (t *TieredStore) persist(ctx context.Context, trigger string) error {
	start := t.now()
	logger := t.logger.With(
		slog.String(observability.LogFieldFlushID, shortuuid.New()),
		slog.String("trigger", trigger))
	// Threshold flushes run inside a caller's write; tag them with its operation.
	if op, ok := observability.FromContext(ctx); ok {
		logger = logger.With(slog.String(observability.LogFieldOperationID, op.OperationID))
	}

	ids, err := t.cache.ScanIndex(ctx)
	if err != nil {
		return err
	}
	records, err := t.cache.GetMany(ctx, ids)
	if err != nil {
		return err
	}
	if len(records) > 0 {
		if err := t.durable.UpsertRecords(ctx, records); err != nil {
			logger.Error("cache flush failed",
				slog.Int("records", len(records)),
				slog.String("error", err.Error()))
			return err
		}
	}

	// Only the scanned ids are dropped, so writes racing this flush stay cached.
	if err := t.refresh(ctx, ids, t.threshold); err != nil {
		return err
	}

	t.lastFlush.Store(t.now().UnixNano())
	t.metrics.ObserveFlush(trigger, len(records))
	logger.Info("cache flushed",
		slog.Int("records", len(records)),
		slog.Int("stale_index_entries", len(ids)-len(records)),
		slog.Int64(observability.LogFieldDuration, t.now().Sub(start).Milliseconds()))
	return nil
}

// RefreshCacheFromStore replaces the cache contents with the limit most
// recently updated durable records. Unflushed cache entries are discarded,
// so callers flush first.
func (t *TieredStore) RefreshCacheFromStore(ctx context.Context, limit int) error {
	ids, err := t.cache.ScanIndex(ctx)
	if err != nil {
		return err
	}
	return t.refresh(ctx, ids, limit)
}

func (t *TieredStore) refresh(ctx context.Context, drop []string, limit int) error {
	recent, err := t.durable.ListRecords(ctx, &store.FindRecord{Limit: limit})
	if err != nil {
		return err
	}
	return t.cache.Replace(ctx, drop, recent, t.ttl)
}

// GetCacheStats reports the cache occupancy. RecordCount is the pending-write
// counter; IndexSize may include expired ids.
func (t *TieredStore) GetCacheStats(ctx context.Context) (*CacheStats, error) {
	stats, err := t.cache.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &CacheStats{
		RecordCount:    stats.Pending,
		IndexSize:      stats.IndexSize,
		MemoryEstimate: stats.MemoryBytes,
		Threshold:      t.threshold,
		TTL:            int64(t.ttl / time.Second),
	}, nil
}

// LastFlush returns the time of the last completed flush, or the construction time.
func (t *TieredStore) LastFlush() time.Time {
	return time.Unix(0, t.lastFlush.Load())
}

// Close closes the cache. The durable store is owned by the caller.
func (t *TieredStore) Close() error {
	return t.cache.Close()
}
