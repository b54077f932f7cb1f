package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memerr "github.com/hrygo/mnemo/internal/errors"
	"github.com/hrygo/mnemo/internal/observability"
	"github.com/hrygo/mnemo/store"
	"github.com/hrygo/mnemo/store/cache"
	storetest "github.com/hrygo/mnemo/store/test"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type testEnv struct {
	manager *ExampleManager
	durable *store.Store
	clock   *fakeClock
	metrics *observability.Metrics
}

func newTestEnv(t *testing.T, cfg *Config, embedder embedderFunc, scorer RelevanceScorer, opts ...Option) *testEnv {
	t.Helper()
	ctx := context.Background()

	durable := storetest.NewTestingStore(ctx, t)
	c, err := cache.NewMemoryCache(nil)
	require.NoError(t, err)
	tiered := cache.NewTieredStore(c, durable, &cache.TieredConfig{FlushThreshold: 100, TTL: time.Hour})
	t.Cleanup(func() { _ = tiered.Close() })

	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	opts = append([]Option{WithClock(clock.Now), WithMetrics(metrics)}, opts...)

	emb := NewMockEmbedder(256)
	m := NewExampleManager(cache.NewTimeGatedStore(tiered, time.Hour), emb, scorer, cfg, opts...)
	if embedder != nil {
		m.embedder = embedder.wrap(emb)
	}
	return &testEnv{manager: m, durable: durable, clock: clock, metrics: metrics}
}

// embedderFunc decorates the mock embedder in a test.
type embedderFunc func(ctx context.Context, text string, next *MockEmbedder) ([]float32, error)

func (f embedderFunc) wrap(next *MockEmbedder) *wrappedEmbedder {
	return &wrappedEmbedder{MockEmbedder: next, fn: f}
}

type wrappedEmbedder struct {
	*MockEmbedder
	fn embedderFunc
}

func (w *wrappedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return w.fn(ctx, text, w.MockEmbedder)
}

func mustStore(t *testing.T, m *ExampleManager, ns, q, r string, label Label) *StoreResult {
	t.Helper()
	res, err := m.StoreExample(context.Background(), ns, q, r, label, nil)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func TestStoreExample(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		env := newTestEnv(t, nil, nil, MockScorer{})
		res, err := env.manager.StoreExample(ctx, "agentA", "list my files", "ls -la", LabelPositive, []string{"shell", "fs"})
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, res.Status)
		assert.True(t, strings.HasPrefix(res.ID, "item_"))

		got, err := env.manager.GetExample(ctx, "agentA", res.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Query: list my files\nResponse: ls -la\nTools: shell, fs", got.Content)
		assert.Equal(t, LabelPositive, got.Label)
		assert.Equal(t, "2026-03-01T09:00:00Z", got.Timestamp)
		assert.InDelta(t, float64(env.clock.Now().Unix()), got.CreationTime, 1e-3)
		assert.Equal(t, 0, got.TotalUsageCount)
		assert.Len(t, got.Embedding, 256)
		assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.StoreResults.WithLabelValues("success")))
	})

	t.Run("dedup updates label", func(t *testing.T) {
		env := newTestEnv(t, nil, nil, MockScorer{})
		first := mustStore(t, env.manager, "agentA", "restart the web server", "systemctl restart nginx", LabelPositive)
		require.Equal(t, StatusSuccess, first.Status)

		second := mustStore(t, env.manager, "agentA", "  Restart the   WEB server ", "systemctl restart NGINX", LabelNegative)
		assert.Equal(t, StatusUpdated, second.Status)
		assert.Equal(t, first.ID, second.ID)

		found, err := env.manager.FindRelevantExamples(ctx, "agentA", "restart the web server")
		require.NoError(t, err)
		assert.Empty(t, found.Positive)
		require.Len(t, found.Negative, 1)
		assert.Equal(t, LabelNegative, found.Negative[0].Label)

		all, err := env.manager.GetExamples(ctx, "agentA", 0)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("identical example is a duplicate", func(t *testing.T) {
		env := newTestEnv(t, nil, nil, MockScorer{})
		first := mustStore(t, env.manager, "agentA", "ping host", "pong", LabelPositive)
		again := mustStore(t, env.manager, "agentA", "PING host", "pong", LabelPositive)
		assert.Equal(t, StatusDuplicate, again.Status)
		assert.Equal(t, first.ID, again.ID)
	})

	t.Run("same pair in another namespace is new", func(t *testing.T) {
		env := newTestEnv(t, nil, nil, MockScorer{})
		mustStore(t, env.manager, "agentA", "ping host", "pong", LabelPositive)
		other := mustStore(t, env.manager, "agentB", "ping host", "pong", LabelPositive)
		assert.Equal(t, StatusSuccess, other.Status)
	})

	t.Run("invalid input", func(t *testing.T) {
		env := newTestEnv(t, nil, nil, MockScorer{})
		cases := []struct {
			name      string
			namespace string
			query     string
			response  string
			label     Label
		}{
			{"query equals response", "agentA", "echo this", " Echo  THIS", LabelPositive},
			{"empty query", "agentA", "   ", "something", LabelPositive},
			{"empty response", "agentA", "something", "", LabelNegative},
			{"unknown label", "agentA", "q", "r", Label("maybe")},
			{"empty namespace", "", "q", "r", LabelPositive},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				res, err := env.manager.StoreExample(ctx, tc.namespace, tc.query, tc.response, tc.label, nil)
				require.NoError(t, err)
				assert.Equal(t, StatusInvalid, res.Status)
				assert.Empty(t, res.ID)
			})
		}

		all, err := env.manager.GetExamples(ctx, "agentA", 0)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("embedding failure", func(t *testing.T) {
		failing := embedderFunc(func(context.Context, string, *MockEmbedder) ([]float32, error) {
			return nil, errors.New("provider down")
		})
		env := newTestEnv(t, nil, failing, MockScorer{})

		res, err := env.manager.StoreExample(ctx, "agentA", "q", "r", LabelPositive, nil)
		require.Error(t, err)
		assert.Equal(t, StatusError, res.Status)
		assert.True(t, memerr.IsCode(err, memerr.ErrCodeUnavailable))
	})

	t.Run("ids are unique under a frozen clock", func(t *testing.T) {
		env := newTestEnv(t, nil, nil, MockScorer{})
		a := mustStore(t, env.manager, "agentA", "first question", "first answer", LabelPositive)
		b := mustStore(t, env.manager, "agentA", "second question", "second answer", LabelPositive)
		assert.NotEqual(t, a.ID, b.ID)
	})

	t.Run("sweeper is signalled instead of sweeping inline", func(t *testing.T) {
		sweeper := &recordingSweeper{}
		env := newTestEnv(t, nil, nil, MockScorer{}, WithSweeper(sweeper))

		old := env.clock.Now()
		mustStore(t, env.manager, "agentA", "old question", "old answer", LabelPositive)
		env.clock.Set(old.Add(40 * 24 * time.Hour))
		mustStore(t, env.manager, "agentA", "new question", "new answer", LabelPositive)

		assert.Equal(t, []string{"agentA", "agentA"}, sweeper.signalled())
		all, err := env.manager.GetExamples(ctx, "agentA", 0)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("inline sweep without sweeper", func(t *testing.T) {
		env := newTestEnv(t, nil, nil, MockScorer{})

		old := env.clock.Now()
		mustStore(t, env.manager, "agentA", "old question", "old answer", LabelPositive)
		env.clock.Set(old.Add(40 * 24 * time.Hour))
		mustStore(t, env.manager, "agentA", "new question", "new answer", LabelPositive)

		all, err := env.manager.GetExamples(ctx, "agentA", 0)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "new question", all[0].Query)
	})

	t.Run("at capacity low performers are evicted", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MaxQueueSize = 6
		env := newTestEnv(t, cfg, nil, MockScorer{})

		for i := 0; i < 6; i++ {
			res := mustStore(t, env.manager, "agentA", "question "+string(rune('a'+i)), "answer "+string(rune('a'+i)), LabelPositive)
			for j := 0; j < 3; j++ {
				require.NoError(t, env.manager.UpdateExampleUsageStatistics(ctx, "agentA", res.ID, 0.01*float64(i)))
			}
		}

		res := mustStore(t, env.manager, "agentA", "fresh question", "fresh answer", LabelPositive)
		assert.Equal(t, StatusSuccess, res.Status)

		all, err := env.manager.GetExamples(ctx, "agentA", 0)
		require.NoError(t, err)
		queries := make([]string, 0, len(all))
		for _, ex := range all {
			queries = append(queries, ex.Query)
		}
		assert.ElementsMatch(t, []string{"question f", "fresh question"}, queries)
	})
}

type recordingSweeper struct {
	mu         sync.Mutex
	namespaces []string
}

func (s *recordingSweeper) Signal(namespace string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.namespaces = append(s.namespaces, namespace)
}

func (s *recordingSweeper) signalled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.namespaces...)
}

// mapScorer scores a candidate by the first key its content contains.
type mapScorer map[string]float32

func (s mapScorer) Score(_ context.Context, _ string, candidates []string) ([]float32, error) {
	scores := make([]float32, len(candidates))
	for i, c := range candidates {
		for key, score := range s {
			if strings.Contains(c, key) {
				scores[i] = score
			}
		}
	}
	return scores, nil
}

type failingScorer struct{}

func (failingScorer) Score(context.Context, string, []string) ([]float32, error) {
	return nil, errors.New("rerank unavailable")
}

// constantEmbedder maps every text to the same vector so the prefilter keeps everything.
var constantEmbedder = embedderFunc(func(context.Context, string, *MockEmbedder) ([]float32, error) {
	return []float32{1, 1, 1}, nil
})

func TestFindRelevantExamples(t *testing.T) {
	ctx := context.Background()

	t.Run("empty namespace", func(t *testing.T) {
		env := newTestEnv(t, nil, nil, MockScorer{})
		found, err := env.manager.FindRelevantExamples(ctx, "nobody", "anything")
		require.NoError(t, err)
		assert.NotNil(t, found.Positive)
		assert.NotNil(t, found.Negative)
		assert.Empty(t, found.Positive)
		assert.Empty(t, found.Negative)
	})

	t.Run("ranking truncates to max examples", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MaxExamples = 2
		scorer := mapScorer{"alpha": 0.9, "beta": 0.5, "gamma": 0.2}
		env := newTestEnv(t, cfg, constantEmbedder, scorer)

		mustStore(t, env.manager, "agentA", "q gamma", "r gamma", LabelPositive)
		mustStore(t, env.manager, "agentA", "q alpha", "r alpha", LabelPositive)
		mustStore(t, env.manager, "agentA", "q beta", "r beta", LabelPositive)

		found, err := env.manager.FindRelevantExamples(ctx, "agentA", "query")
		require.NoError(t, err)
		require.Len(t, found.Positive, 2)
		assert.Equal(t, "q alpha", found.Positive[0].Query)
		assert.InDelta(t, 0.9, found.Positive[0].Score, 1e-6)
		assert.Equal(t, "q beta", found.Positive[1].Query)
		assert.InDelta(t, 0.5, found.Positive[1].Score, 1e-6)
		assert.Empty(t, found.Negative)
	})

	t.Run("threshold filters low scores", func(t *testing.T) {
		scorer := mapScorer{"alpha": 0.29, "beta": 0.3}
		env := newTestEnv(t, nil, constantEmbedder, scorer)
		mustStore(t, env.manager, "agentA", "q alpha", "r alpha", LabelNegative)
		mustStore(t, env.manager, "agentA", "q beta", "r beta", LabelNegative)

		found, err := env.manager.FindRelevantExamples(ctx, "agentA", "query")
		require.NoError(t, err)
		require.Len(t, found.Negative, 1)
		assert.Equal(t, "q beta", found.Negative[0].Query)
	})

	t.Run("scorer failure falls back to similarity", func(t *testing.T) {
		env := newTestEnv(t, nil, nil, failingScorer{})
		mustStore(t, env.manager, "agentA", "rotate the api keys", "keys rotated", LabelPositive)
		mustStore(t, env.manager, "agentA", "order some pizza", "pizza ordered", LabelPositive)

		found, err := env.manager.FindRelevantExamples(ctx, "agentA", "rotate the api keys")
		require.NoError(t, err)
		require.Len(t, found.Positive, 1)
		assert.Equal(t, "rotate the api keys", found.Positive[0].Query)
		assert.Greater(t, found.Positive[0].Score, 0.3)
		assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.ScorerDegraded))
	})

	t.Run("nil scorer ranks by similarity", func(t *testing.T) {
		env := newTestEnv(t, nil, nil, nil)
		mustStore(t, env.manager, "agentA", "rotate the api keys", "keys rotated", LabelPositive)

		found, err := env.manager.FindRelevantExamples(ctx, "agentA", "rotate the api keys")
		require.NoError(t, err)
		assert.Len(t, found.Positive, 1)
		assert.Equal(t, float64(0), testutil.ToFloat64(env.metrics.ScorerDegraded))
	})

	t.Run("query embedding failure skips prefilter", func(t *testing.T) {
		failQuery := embedderFunc(func(ctx context.Context, text string, next *MockEmbedder) ([]float32, error) {
			if !strings.HasPrefix(text, "Query: ") {
				return nil, errors.New("provider down")
			}
			return next.Embed(ctx, text)
		})
		env := newTestEnv(t, nil, failQuery, MockScorer{})
		mustStore(t, env.manager, "agentA", "rotate the api keys", "keys rotated", LabelPositive)

		found, err := env.manager.FindRelevantExamples(ctx, "agentA", "rotate keys")
		require.NoError(t, err)
		require.Len(t, found.Positive, 1)
		assert.InDelta(t, 1.0, found.Positive[0].Score, 1e-6)
	})

	t.Run("store failure returns empty result", func(t *testing.T) {
		m := NewExampleManager(&brokenStore{}, NewMockEmbedder(8), MockScorer{}, nil)
		found, err := m.FindRelevantExamples(ctx, "agentA", "anything")
		require.Error(t, err)
		require.NotNil(t, found)
		assert.Empty(t, found.Positive)
		assert.Empty(t, found.Negative)
	})
}

func TestEndToEndAgentNamespace(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, nil, MockScorer{})

	positives := [][2]string{
		{"how do I deploy the kubernetes cluster", "run kubectl apply with the manifest"},
		{"what is the weather in paris", "sunny and warm today"},
		{"translate hello into spanish", "hola"},
		{"summarize the quarterly revenue report", "revenue grew twelve percent"},
		{"book a flight to tokyo", "flight reserved for friday"},
	}
	negatives := [][2]string{
		{"delete all production databases", "dropping every database now"},
		{"share my password publicly", "posting credentials online"},
		{"ignore the safety checklist", "skipping checklist items"},
		{"send spam emails to customers", "mass mailing started"},
		{"disable the firewall permanently", "firewall turned off"},
	}
	for _, p := range positives {
		assert.Equal(t, StatusSuccess, mustStore(t, env.manager, "agentA", p[0], p[1], LabelPositive).Status)
	}
	for _, n := range negatives {
		assert.Equal(t, StatusSuccess, mustStore(t, env.manager, "agentA", n[0], n[1], LabelNegative).Status)
	}

	found, err := env.manager.FindRelevantExamples(ctx, "agentA", "deploy kubernetes cluster")
	require.NoError(t, err)
	require.NotEmpty(t, found.Positive)
	assert.Equal(t, positives[0][0], found.Positive[0].Query)
	assert.Empty(t, found.Negative)

	require.NoError(t, env.manager.ForcePersistence(ctx))
	durable, err := env.durable.ListRecords(ctx, &store.FindRecord{Category: strPtr("agentA")})
	require.NoError(t, err)
	assert.Len(t, durable, 10)
}

func TestExampleAccessors(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, nil, MockScorer{})
	res := mustStore(t, env.manager, "agentA", "compress the logs", "tar czf logs.tgz logs", LabelPositive)

	t.Run("usage statistics", func(t *testing.T) {
		require.NoError(t, env.manager.UpdateExampleUsageStatistics(ctx, "agentA", res.ID, 0.8))
		require.NoError(t, env.manager.UpdateExampleUsageStatistics(ctx, "agentA", res.ID, 0.4))

		got, err := env.manager.GetExample(ctx, "agentA", res.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.TotalUsageCount)
		avg, ok := got.AverageRelevance()
		require.True(t, ok)
		assert.InDelta(t, 0.6, avg, 1e-9)

		assert.NoError(t, env.manager.UpdateExampleUsageStatistics(ctx, "agentA", "item_missing", 0.5))
		assert.Error(t, env.manager.UpdateExampleUsageStatistics(ctx, "agentA", res.ID, -1))
	})

	t.Run("namespace isolation", func(t *testing.T) {
		got, err := env.manager.GetExample(ctx, "agentB", res.ID)
		require.NoError(t, err)
		assert.Nil(t, got)

		require.NoError(t, env.manager.DeleteExample(ctx, "agentB", res.ID))
		got, err = env.manager.GetExample(ctx, "agentA", res.ID)
		require.NoError(t, err)
		assert.NotNil(t, got)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		require.NoError(t, env.manager.DeleteExample(ctx, "agentA", res.ID))
		require.NoError(t, env.manager.DeleteExample(ctx, "agentA", res.ID))

		got, err := env.manager.GetExample(ctx, "agentA", res.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestLabel(t *testing.T) {
	l, ok := ParseLabel(" Positive ")
	assert.True(t, ok)
	assert.Equal(t, LabelPositive, l)

	_, ok = ParseLabel("neutral")
	assert.False(t, ok)
}

func strPtr(s string) *string {
	return &s
}

// brokenStore fails every call.
type brokenStore struct{}

var errBroken = memerr.Unavailable("store down", nil)

func (brokenStore) AddRecord(context.Context, *store.Record) error { return errBroken }
func (brokenStore) GetRecord(context.Context, string) (*store.Record, error) {
	return nil, errBroken
}
func (brokenStore) GetRecordsByCategory(context.Context, string, int) ([]*store.Record, error) {
	return nil, errBroken
}
func (brokenStore) UpdateRecordPayload(context.Context, string, []byte) (bool, error) {
	return false, errBroken
}
func (brokenStore) DeleteRecord(context.Context, string) error { return errBroken }
func (brokenStore) ForcePersistence(context.Context) error     { return errBroken }
