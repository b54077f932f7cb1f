package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hrygo/mnemo/store"
)

// ShortTermCache is the volatile tier: TTL-keyed records, an index set of
// cached ids and a pending-write counter used only as a flush trigger.
//
// The index may reference ids whose TTL already expired. Callers treat index
// entries as candidates and verify them on read.
type ShortTermCache interface {
	// Put stores the record, adds it to the index and returns the pending-write count.
	Put(ctx context.Context, record *store.Record, ttl time.Duration) (int64, error)
	// Get reports false when the id is not cached.
	Get(ctx context.Context, id string) (*store.Record, bool, error)
	// GetMany returns the cached records among ids, skipping missing ones.
	GetMany(ctx context.Context, ids []string) ([]*store.Record, error)
	// Remove deletes the record and its index entry.
	Remove(ctx context.Context, id string) error
	// ScanIndex returns every indexed id, including expired ones.
	ScanIndex(ctx context.Context) ([]string, error)
	// Replace drops the given ids, writes records and resets the pending
	// counter to the number of remaining entries not in records.
	Replace(ctx context.Context, drop []string, records []*store.Record, ttl time.Duration) error
	// Stats reports the backend's view of its contents.
	Stats(ctx context.Context) (*BackendStats, error)
	Close() error
}

// BackendStats is what a ShortTermCache knows about itself.
type BackendStats struct {
	Pending     int64
	IndexSize   int64
	MemoryBytes int64
}

type cacheEntry struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Payload   []byte    `json:"payload"`
	Embedding []float32 `json:"embedding,omitempty"`
	CreatedTs int64     `json:"created_ts"`
	UpdatedTs int64     `json:"updated_ts"`
}

func encodeRecord(r *store.Record) ([]byte, error) {
	return json.Marshal(cacheEntry{
		ID:        r.ID,
		Category:  r.Category,
		Payload:   r.Payload,
		Embedding: r.Embedding,
		CreatedTs: r.CreatedTs,
		UpdatedTs: r.UpdatedTs,
	})
}

func decodeRecord(data []byte) (*store.Record, error) {
	var e cacheEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &store.Record{
		ID:        e.ID,
		Category:  e.Category,
		Payload:   e.Payload,
		Embedding: e.Embedding,
		CreatedTs: e.CreatedTs,
		UpdatedTs: e.UpdatedTs,
	}, nil
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
