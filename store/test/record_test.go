package test

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/mnemo/store"
)

func strPtr(s string) *string {
	return &s
}

func TestRecordStore(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	t.Run("upsert and get", func(t *testing.T) {
		err := ts.UpsertRecords(ctx, []*store.Record{{
			ID:        "r1",
			Category:  "agentA",
			Payload:   []byte(`{"query":"q"}`),
			Embedding: []float32{0.1, 0.2, 0.3},
			CreatedTs: 1000,
			UpdatedTs: 1000,
		}})
		require.NoError(t, err)

		got, err := ts.GetRecord(ctx, &store.FindRecord{ID: strPtr("r1")})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "agentA", got.Category)
		assert.JSONEq(t, `{"query":"q"}`, string(got.Payload))
		assert.InDeltaSlice(t, []float32{0.1, 0.2, 0.3}, got.Embedding, 1e-6)
		assert.Equal(t, int64(1000), got.CreatedTs)
	})

	t.Run("last write wins and created_ts is kept", func(t *testing.T) {
		err := ts.UpsertRecords(ctx, []*store.Record{{
			ID:        "r1",
			Category:  "agentA",
			Payload:   []byte(`{"query":"q2"}`),
			CreatedTs: 5000,
			UpdatedTs: 5000,
		}})
		require.NoError(t, err)

		got, err := ts.GetRecord(ctx, &store.FindRecord{ID: strPtr("r1")})
		require.NoError(t, err)
		assert.JSONEq(t, `{"query":"q2"}`, string(got.Payload))
		assert.Equal(t, int64(1000), got.CreatedTs)
		assert.Equal(t, int64(5000), got.UpdatedTs)
		assert.Nil(t, got.Embedding)
	})

	t.Run("get missing returns nil", func(t *testing.T) {
		got, err := ts.GetRecord(ctx, &store.FindRecord{ID: strPtr("missing")})
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("list by category ordered by update time", func(t *testing.T) {
		var batch []*store.Record
		for i := 0; i < 5; i++ {
			batch = append(batch, &store.Record{
				ID:        fmt.Sprintf("b%d", i),
				Category:  "agentB",
				Payload:   []byte(`{}`),
				CreatedTs: int64(100 + i),
				UpdatedTs: int64(100 + i),
			})
		}
		require.NoError(t, ts.UpsertRecords(ctx, batch))

		list, err := ts.ListRecords(ctx, &store.FindRecord{Category: strPtr("agentB"), Limit: 3})
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, "b4", list[0].ID)
		assert.Equal(t, "b3", list[1].ID)
		assert.Equal(t, "b2", list[2].ID)

		all, err := ts.ListRecords(ctx, &store.FindRecord{Category: strPtr("agentB")})
		require.NoError(t, err)
		assert.Len(t, all, 5)
	})

	t.Run("update payload", func(t *testing.T) {
		ok, err := ts.UpdateRecordPayload(ctx, &store.UpdateRecordPayload{ID: "b0", Payload: []byte(`{"total_usage_count":1}`)})
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := ts.GetRecord(ctx, &store.FindRecord{ID: strPtr("b0")})
		require.NoError(t, err)
		assert.JSONEq(t, `{"total_usage_count":1}`, string(got.Payload))
		assert.Equal(t, "agentB", got.Category)

		ok, err = ts.UpdateRecordPayload(ctx, &store.UpdateRecordPayload{ID: "nope", Payload: []byte(`{}`)})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		require.NoError(t, ts.DeleteRecord(ctx, &store.DeleteRecord{ID: "b1"}))
		require.NoError(t, ts.DeleteRecord(ctx, &store.DeleteRecord{ID: "b1"}))

		got, err := ts.GetRecord(ctx, &store.FindRecord{ID: strPtr("b1")})
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		assert.NoError(t, ts.UpsertRecords(ctx, nil))
	})

	t.Run("batch without id is rejected", func(t *testing.T) {
		err := ts.UpsertRecords(ctx, []*store.Record{{ID: "ok"}, {Category: "x"}})
		assert.Error(t, err)

		got, err := ts.GetRecord(ctx, &store.FindRecord{ID: strPtr("ok")})
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

// TestUpsertRecordsAtomic fails the second row inside the driver transaction
// and checks the first row was rolled back with it.
func TestUpsertRecordsAtomic(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	require.NoError(t, ts.UpsertRecords(ctx, []*store.Record{{ID: "kept", Category: "agentA", Payload: []byte(`{"v":1}`)}}))

	batch := []*store.Record{
		{ID: "kept", Category: "agentA", Payload: []byte(`{"v":2}`), CreatedTs: 1, UpdatedTs: 2},
		{ID: "fresh", Category: "agentA", Payload: []byte(`{}`), CreatedTs: 1, UpdatedTs: 2},
		// NaN cannot be encoded by either driver.
		{ID: "bad", Category: "agentA", Payload: []byte(`{}`), Embedding: []float32{float32(math.NaN())}, CreatedTs: 1, UpdatedTs: 2},
	}
	require.Error(t, ts.GetDriver().UpsertRecords(ctx, batch))

	kept, err := ts.GetRecord(ctx, &store.FindRecord{ID: strPtr("kept")})
	require.NoError(t, err)
	require.NotNil(t, kept)
	assert.JSONEq(t, `{"v":1}`, string(kept.Payload))

	for _, id := range []string{"fresh", "bad"} {
		got, err := ts.GetRecord(ctx, &store.FindRecord{ID: strPtr(id)})
		require.NoError(t, err)
		assert.Nil(t, got, id)
	}
}

func TestMigrationVersion(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	version, dirty, err := ts.MigrationVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// Running again leaves the schema untouched.
	require.NoError(t, ts.Migrate(ctx))

	initialized, err := ts.GetDriver().IsInitialized(ctx)
	require.NoError(t, err)
	assert.True(t, initialized)
}
