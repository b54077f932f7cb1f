package store

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/mnemo/internal/profile"
)

// Store provides database access to durable records.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

// UpsertRecords writes records atomically. Zero timestamps are filled with the current time.
func (s *Store) UpsertRecords(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	for _, r := range records {
		if r == nil || r.ID == "" {
			return errors.New("record id is required")
		}
		if r.CreatedTs == 0 {
			r.CreatedTs = now
		}
		if r.UpdatedTs == 0 {
			r.UpdatedTs = r.CreatedTs
		}
	}
	return s.driver.UpsertRecords(ctx, records)
}

func (s *Store) ListRecords(ctx context.Context, find *FindRecord) ([]*Record, error) {
	if find == nil {
		find = &FindRecord{}
	}
	if find.Limit <= 0 || find.Limit > MaxListLimit {
		find.Limit = MaxListLimit
	}
	return s.driver.ListRecords(ctx, find)
}

// GetRecord returns nil when the record does not exist.
func (s *Store) GetRecord(ctx context.Context, find *FindRecord) (*Record, error) {
	list, err := s.ListRecords(ctx, &FindRecord{ID: find.ID, Category: find.Category, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) UpdateRecordPayload(ctx context.Context, update *UpdateRecordPayload) (bool, error) {
	if update.UpdatedTs == 0 {
		update.UpdatedTs = time.Now().UnixMilli()
	}
	return s.driver.UpdateRecordPayload(ctx, update)
}

func (s *Store) DeleteRecord(ctx context.Context, delete *DeleteRecord) error {
	return s.driver.DeleteRecord(ctx, delete)
}
