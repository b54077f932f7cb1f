package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memerr "github.com/hrygo/mnemo/internal/errors"
	"github.com/hrygo/mnemo/store/cache"
)

type fakeCache struct {
	stats   *cache.CacheStats
	err     error
	flushes int
}

func (f *fakeCache) GetCacheStats(context.Context) (*cache.CacheStats, error) {
	return f.stats, f.err
}

func (f *fakeCache) State() cache.PersistenceState { return cache.StateFlushPending }

func (f *fakeCache) ForcePersistence(context.Context) error {
	f.flushes++
	return f.err
}

func serve(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestAdminServer(t *testing.T) {
	flushedAt := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	fc := &fakeCache{stats: &cache.CacheStats{RecordCount: 7, IndexSize: 9, Threshold: 100, TTL: 3600}}

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "mnemo_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	s := NewServer(fc, reg, func() time.Time { return flushedAt })

	t.Run("health", func(t *testing.T) {
		rec := serve(t, s, http.MethodGet, "/healthz")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "ok")
	})

	t.Run("metrics", func(t *testing.T) {
		rec := serve(t, s, http.MethodGet, "/metrics")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "mnemo_test_total 1")
	})

	t.Run("stats", func(t *testing.T) {
		rec := serve(t, s, http.MethodGet, "/api/v1/cache/stats")
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, float64(7), body["record_count"])
		assert.Equal(t, float64(9), body["index_size"])
		assert.Equal(t, "flush_pending", body["state"])
		assert.Equal(t, "2026-02-03T04:05:06Z", body["last_flush"])
	})

	t.Run("flush", func(t *testing.T) {
		rec := serve(t, s, http.MethodPost, "/api/v1/cache/flush")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, fc.flushes)
	})
}

func TestAdminServerErrors(t *testing.T) {
	fc := &fakeCache{err: memerr.Unavailable("redis down", errors.New("dial tcp"))}
	s := NewServer(fc, nil, nil)

	rec := serve(t, s, http.MethodGet, "/api/v1/cache/stats")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "UNAVAILABLE"))

	rec = serve(t, s, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	fc.err = errors.New("boom")
	rec = serve(t, s, http.MethodPost, "/api/v1/cache/flush")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
