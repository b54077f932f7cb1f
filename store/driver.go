package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)

	// UpsertRecords inserts or replaces records by id inside one transaction.
	// Either every record becomes visible or none does.
	UpsertRecords(ctx context.Context, records []*Record) error
	ListRecords(ctx context.Context, find *FindRecord) ([]*Record, error)
	// UpdateRecordPayload reports false when no record has the id.
	UpdateRecordPayload(ctx context.Context, update *UpdateRecordPayload) (bool, error)
	// DeleteRecord succeeds when the record is already absent.
	DeleteRecord(ctx context.Context, delete *DeleteRecord) error
}
