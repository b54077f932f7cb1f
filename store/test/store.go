package test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hrygo/mnemo/internal/profile"
	"github.com/hrygo/mnemo/store"
	"github.com/hrygo/mnemo/store/db"
)

// NewTestingStore returns a migrated store for the driver named by TEST_DRIVER.
// SQLite on a temp file is the default; "postgres" starts a container.
func NewTestingStore(ctx context.Context, t *testing.T) *store.Store {
	t.Helper()

	prof := getTestingProfile(t)
	driver, err := db.NewDBDriver(prof)
	if err != nil {
		t.Fatalf("failed to create db driver: %v", err)
	}

	s := store.New(driver, prof)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate db: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Logf("failed to close store: %v", err)
		}
	})
	return s
}

func getTestingProfile(t *testing.T) *profile.Profile {
	driver := getDriverFromEnv()
	prof := &profile.Profile{
		Mode:   "dev",
		Driver: driver,
		Data:   t.TempDir(),
	}
	switch driver {
	case "postgres":
		prof.DSN = GetPostgresDSN(t)
	default:
		prof.DSN = filepath.Join(prof.Data, "mnemo_test.db")
	}
	return prof
}

func getDriverFromEnv() string {
	driver := os.Getenv("TEST_DRIVER")
	if driver == "" {
		driver = "sqlite"
	}
	return driver
}
