package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hrygo/mnemo/store"
)

// PersistenceState describes whether a time-triggered flush is due.
type PersistenceState int

const (
	// StateIdle means the last flush is younger than the time threshold.
	StateIdle PersistenceState = iota
	// StateFlushPending means a flush is due on the next write or explicit call.
	StateFlushPending
)

func (s PersistenceState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFlushPending:
		return "flush_pending"
	default:
		return "unknown"
	}
}

// DefaultTimeThreshold is the elapsed time after which a write triggers a flush.
const DefaultTimeThreshold = 15 * time.Minute

// TimeGatedStore wraps a TieredStore with an elapsed-time flush trigger.
// The mutex serializes the check-and-maybe-flush decision of writers.
type TimeGatedStore struct {
	tiered    *TieredStore
	threshold time.Duration
	logger    *slog.Logger

	mu  sync.Mutex
	now func() time.Time
}

// NewTimeGatedStore wraps tiered. A non-positive threshold uses DefaultTimeThreshold.
func NewTimeGatedStore(tiered *TieredStore, threshold time.Duration) *TimeGatedStore {
	if threshold <= 0 {
		threshold = DefaultTimeThreshold
	}
	return &TimeGatedStore{
		tiered:    tiered,
		threshold: threshold,
		logger:    tiered.logger,
		now:       time.Now,
	}
}

// AddRecord delegates the write, then flushes if the time threshold has elapsed
// since the last completed flush.
func (s *TimeGatedStore) AddRecord(ctx context.Context, record *store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.tiered.AddRecord(ctx, record); err != nil {
		return err
	}
	s.maybePersist(ctx)
	return nil
}

// UpdateRecordPayload is a write and goes through the same gate as AddRecord.
func (s *TimeGatedStore) UpdateRecordPayload(ctx context.Context, id string, payload []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.tiered.UpdateRecordPayload(ctx, id, payload)
	if err != nil {
		return false, err
	}
	s.maybePersist(ctx)
	return ok, nil
}

func (s *TimeGatedStore) maybePersist(ctx context.Context) {
	if s.stateLocked() != StateFlushPending {
		return
	}
	if err := s.tiered.persist(ctx, TriggerTime); err != nil {
		// Stays FlushPending; the next write retries.
		s.logger.Warn("time-triggered flush failed", slog.String("error", err.Error()))
	}
}

// ForcePersistence flushes unconditionally, e.g. at shutdown.
func (s *TimeGatedStore) ForcePersistence(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tiered.persist(ctx, TriggerForced)
}

// State reports whether a time-triggered flush is due.
func (s *TimeGatedStore) State() PersistenceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *TimeGatedStore) stateLocked() PersistenceState {
	if s.now().Sub(s.tiered.LastFlush()) >= s.threshold {
		return StateFlushPending
	}
	return StateIdle
}

func (s *TimeGatedStore) GetRecord(ctx context.Context, id string) (*store.Record, error) {
	return s.tiered.GetRecord(ctx, id)
}

func (s *TimeGatedStore) GetRecordsByCategory(ctx context.Context, category string, limit int) ([]*store.Record, error) {
	return s.tiered.GetRecordsByCategory(ctx, category, limit)
}

// DeleteRecord holds the gate so a delete cannot land between a flush's
// cache read and its durable upsert.
func (s *TimeGatedStore) DeleteRecord(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tiered.DeleteRecord(ctx, id)
}

func (s *TimeGatedStore) GetCacheStats(ctx context.Context) (*CacheStats, error) {
	return s.tiered.GetCacheStats(ctx)
}

// Tiered returns the wrapped store.
func (s *TimeGatedStore) Tiered() *TieredStore {
	return s.tiered
}
