package cache

import (
	"context"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/pkg/errors"

	memerr "github.com/hrygo/mnemo/internal/errors"
	"github.com/hrygo/mnemo/store"
)

// MemoryCacheConfig sizes the in-process backend.
type MemoryCacheConfig struct {
	// MaxCostBytes bounds the encoded size of all entries.
	MaxCostBytes int64
	// NumCounters should be about ten times the expected number of entries.
	NumCounters int64
}

// DefaultMemoryConfig returns the default in-process cache configuration.
func DefaultMemoryConfig() *MemoryCacheConfig {
	return &MemoryCacheConfig{
		MaxCostBytes: 64 << 20,
		NumCounters:  100_000,
	}
}

// MemoryCache is a ShortTermCache local to one process, backed by ristretto.
// Ristretto owns TTL expiry; the index and counter live beside it.
type MemoryCache struct {
	cache *ristretto.Cache

	mu      sync.Mutex
	index   map[string]struct{}
	pending int64
}

var _ ShortTermCache = (*MemoryCache)(nil)

// NewMemoryCache creates an in-process cache.
func NewMemoryCache(config *MemoryCacheConfig) (*MemoryCache, error) {
	if config == nil {
		config = DefaultMemoryConfig()
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: config.NumCounters,
		MaxCost:     config.MaxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create in-process cache")
	}
	return &MemoryCache{
		cache: c,
		index: make(map[string]struct{}),
	}, nil
}

func (c *MemoryCache) set(record *store.Record, ttl time.Duration) error {
	data, err := encodeRecord(record)
	if err != nil {
		return errors.Wrap(err, "failed to encode record")
	}
	if !c.cache.SetWithTTL(record.ID, data, int64(len(data)), ttl) {
		return memerr.Unavailable("in-process cache rejected write", nil).WithContext("id", record.ID)
	}
	// Make the write visible to the next Get.
	c.cache.Wait()
	// Admission can still drop the entry after SetWithTTL accepted it.
	if _, ok := c.cache.Get(record.ID); !ok {
		return memerr.Unavailable("in-process cache dropped write", nil).WithContext("id", record.ID)
	}
	return nil
}

func (c *MemoryCache) Put(ctx context.Context, record *store.Record, ttl time.Duration) (int64, error) {
	if err := c.set(record, ttl); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index[record.ID] = struct{}{}
	c.pending++
	return c.pending, nil
}

func (c *MemoryCache) Get(ctx context.Context, id string) (*store.Record, bool, error) {
	v, ok := c.cache.Get(id)
	if !ok {
		return nil, false, nil
	}
	data, ok := v.([]byte)
	if !ok {
		return nil, false, errors.Errorf("unexpected cache value type %T", v)
	}
	record, err := decodeRecord(data)
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to decode cached record %s", id)
	}
	return record, true, nil
}

func (c *MemoryCache) GetMany(ctx context.Context, ids []string) ([]*store.Record, error) {
	records := make([]*store.Record, 0, len(ids))
	for _, id := range ids {
		record, ok, err := c.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			records = append(records, record)
		}
	}
	return records, nil
}

func (c *MemoryCache) Remove(ctx context.Context, id string) error {
	c.cache.Del(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.index[id]; ok {
		delete(c.index, id)
		// Refilled entries were never counted.
		if c.pending > 0 {
			c.pending--
		}
	}
	return nil
}

func (c *MemoryCache) ScanIndex(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.index))
	for id := range c.index {
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *MemoryCache) Replace(ctx context.Context, drop []string, records []*store.Record, ttl time.Duration) error {
	keep := make(map[string]struct{}, len(records))
	for _, r := range records {
		keep[r.ID] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range drop {
		if _, refilled := keep[id]; refilled {
			continue
		}
		c.cache.Del(id)
		delete(c.index, id)
	}
	for _, r := range records {
		if err := c.set(r, ttl); err != nil {
			return err
		}
		c.index[r.ID] = struct{}{}
	}

	var remaining int64
	for id := range c.index {
		if _, refilled := keep[id]; !refilled {
			remaining++
		}
	}
	c.pending = remaining
	return nil
}

func (c *MemoryCache) Stats(ctx context.Context) (*BackendStats, error) {
	ids, _ := c.ScanIndex(ctx)
	var memory int64
	for _, id := range ids {
		if v, ok := c.cache.Get(id); ok {
			if data, ok := v.([]byte); ok {
				memory += int64(len(data))
			}
		}
	}

	c.mu.Lock()
	pending := c.pending
	c.mu.Unlock()

	return &BackendStats{
		Pending:     max(pending, 0),
		IndexSize:   int64(len(ids)),
		MemoryBytes: memory,
	}, nil
}

func (c *MemoryCache) Close() error {
	c.cache.Close()
	return nil
}
