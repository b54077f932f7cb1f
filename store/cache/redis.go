package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	memerr "github.com/hrygo/mnemo/internal/errors"
	"github.com/hrygo/mnemo/store"
)

// replaceRetries bounds optimistic retries when the index changes during Replace.
const replaceRetries = 5

// decrPending decrements the pending counter without going below zero.
// Refilled entries were never counted, so removing one must not drive it negative.
var decrPending = redis.NewScript(`
local v = redis.call('DECR', KEYS[1])
if v < 0 then
	redis.call('SET', KEYS[1], 0)
	return 0
end
return v
`)

// RedisCacheConfig holds Redis connection settings.
type RedisCacheConfig struct {
	URL          string
	KeyPrefix    string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

// DefaultRedisConfig returns the default Redis configuration.
func DefaultRedisConfig() *RedisCacheConfig {
	return &RedisCacheConfig{
		URL:          "redis://localhost:6379/0",
		KeyPrefix:    "mnemo:",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	}
}

// RedisCache is a ShortTermCache shared by every process pointing at the same Redis.
//
// Layout: <prefix>record:<id> holds the JSON entry with a TTL, <prefix>index is
// a SET of cached ids and <prefix>pending counts writes since the last refill.
type RedisCache struct {
	client *redis.Client
	prefix string
}

var _ ShortTermCache = (*RedisCache)(nil)

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, config *RedisCacheConfig) (*RedisCache, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid redis url")
	}
	if config.DialTimeout > 0 {
		opts.DialTimeout = config.DialTimeout
	}
	if config.ReadTimeout > 0 {
		opts.ReadTimeout = config.ReadTimeout
	}
	if config.WriteTimeout > 0 {
		opts.WriteTimeout = config.WriteTimeout
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, memerr.Unavailable("failed to connect to redis", err)
	}

	slog.Info("redis cache connected", slog.String("addr", opts.Addr), slog.String("prefix", config.KeyPrefix))
	return NewRedisCacheFromClient(client, config.KeyPrefix), nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) recordKey(id string) string {
	return c.prefix + "record:" + id
}

func (c *RedisCache) indexKey() string {
	return c.prefix + "index"
}

func (c *RedisCache) pendingKey() string {
	return c.prefix + "pending"
}

func (c *RedisCache) Put(ctx context.Context, record *store.Record, ttl time.Duration) (int64, error) {
	data, err := encodeRecord(record)
	if err != nil {
		return 0, errors.Wrap(err, "failed to encode record")
	}

	var pending *redis.IntCmd
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.recordKey(record.ID), data, ttl)
		pipe.SAdd(ctx, c.indexKey(), record.ID)
		pending = pipe.Incr(ctx, c.pendingKey())
		return nil
	})
	if err != nil {
		return 0, memerr.Unavailable("redis put failed", err)
	}
	return pending.Val(), nil
}

func (c *RedisCache) Get(ctx context.Context, id string) (*store.Record, bool, error) {
	data, err := c.client.Get(ctx, c.recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, memerr.Unavailable("redis get failed", err)
	}
	record, err := decodeRecord(data)
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to decode cached record %s", id)
	}
	return record, true, nil
}

func (c *RedisCache) GetMany(ctx context.Context, ids []string) ([]*store.Record, error) {
	if len(ids) == 0 {
		return []*store.Record{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.recordKey(id)
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, memerr.Unavailable("redis mget failed", err)
	}

	records := make([]*store.Record, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			// Expired or removed; the index entry is stale.
			continue
		}
		record, err := decodeRecord([]byte(s))
		if err != nil {
			slog.Warn("skipping undecodable cache entry", slog.String("id", ids[i]), slog.String("error", err.Error()))
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func (c *RedisCache) Remove(ctx context.Context, id string) error {
	var removed *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, c.recordKey(id))
		removed = pipe.SRem(ctx, c.indexKey(), id)
		return nil
	})
	if err != nil {
		return memerr.Unavailable("redis remove failed", err)
	}
	if removed.Val() > 0 {
		if err := decrPending.Run(ctx, c.client, []string{c.pendingKey()}).Err(); err != nil {
			return memerr.Unavailable("redis counter update failed", err)
		}
	}
	return nil
}

func (c *RedisCache) ScanIndex(ctx context.Context) ([]string, error) {
	ids, err := c.client.SMembers(ctx, c.indexKey()).Result()
	if err != nil {
		return nil, memerr.Unavailable("redis index scan failed", err)
	}
	return ids, nil
}

func (c *RedisCache) Replace(ctx context.Context, drop []string, records []*store.Record, ttl time.Duration) error {
	entries := make([][]byte, len(records))
	keep := make(map[string]struct{}, len(records))
	for i, r := range records {
		data, err := encodeRecord(r)
		if err != nil {
			return errors.Wrap(err, "failed to encode record")
		}
		entries[i] = data
		keep[r.ID] = struct{}{}
	}
	dropSet := toSet(drop)

	txf := func(tx *redis.Tx) error {
		current, err := tx.SMembers(ctx, c.indexKey()).Result()
		if err != nil {
			return err
		}
		var remaining int64
		for _, id := range current {
			if _, dropped := dropSet[id]; dropped {
				continue
			}
			if _, refilled := keep[id]; refilled {
				continue
			}
			remaining++
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, id := range drop {
				if _, refilled := keep[id]; refilled {
					continue
				}
				pipe.Del(ctx, c.recordKey(id))
				pipe.SRem(ctx, c.indexKey(), id)
			}
			for i, r := range records {
				pipe.Set(ctx, c.recordKey(r.ID), entries[i], ttl)
				pipe.SAdd(ctx, c.indexKey(), r.ID)
			}
			pipe.Set(ctx, c.pendingKey(), remaining, 0)
			return nil
		})
		return err
	}

	for i := 0; i < replaceRetries; i++ {
		err := c.client.Watch(ctx, txf, c.indexKey())
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return memerr.Unavailable("redis replace failed", err)
	}
	return memerr.Unavailable(fmt.Sprintf("redis replace aborted after %d concurrent index changes", replaceRetries), redis.TxFailedErr)
}

func (c *RedisCache) Stats(ctx context.Context) (*BackendStats, error) {
	pending, err := c.client.Get(ctx, c.pendingKey()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, memerr.Unavailable("redis stats failed", err)
	}
	ids, err := c.ScanIndex(ctx)
	if err != nil {
		return nil, err
	}

	var memory int64
	if len(ids) > 0 {
		cmds := make([]*redis.IntCmd, len(ids))
		_, err = c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, id := range ids {
				cmds[i] = pipe.StrLen(ctx, c.recordKey(id))
			}
			return nil
		})
		if err != nil {
			return nil, memerr.Unavailable("redis stats failed", err)
		}
		for _, cmd := range cmds {
			memory += cmd.Val()
		}
	}

	return &BackendStats{
		Pending:     max(pending, 0),
		IndexSize:   int64(len(ids)),
		MemoryBytes: memory,
	}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
