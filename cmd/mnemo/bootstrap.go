package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hrygo/mnemo/internal/observability"
	"github.com/hrygo/mnemo/internal/profile"
	"github.com/hrygo/mnemo/plugin/ai"
	"github.com/hrygo/mnemo/plugin/ai/memory"
	"github.com/hrygo/mnemo/server/runner/sweep"
	"github.com/hrygo/mnemo/store"
	"github.com/hrygo/mnemo/store/cache"
	"github.com/hrygo/mnemo/store/db"
)

// app holds every long-lived component, built once per process.
type app struct {
	profile  *profile.Profile
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics

	store   *store.Store
	tiered  *cache.TieredStore
	gated   *cache.TimeGatedStore
	manager *memory.ExampleManager
	// runner is nil unless background sweeps were requested.
	runner *sweep.Runner
}

func loadProfile(cfgPath string) (*profile.Profile, error) {
	p, err := profile.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid profile")
	}
	return p, nil
}

// openStore opens and migrates the durable store.
func openStore(ctx context.Context, p *profile.Profile) (*store.Store, error) {
	driver, err := db.NewDBDriver(p)
	if err != nil {
		return nil, err
	}
	s := store.New(driver, p)
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func newShortTermCache(ctx context.Context, p *profile.Profile) (cache.ShortTermCache, error) {
	switch p.Cache.Backend {
	case "redis":
		cfg := cache.DefaultRedisConfig()
		cfg.URL = p.Redis.URL
		cfg.KeyPrefix = p.Redis.KeyPrefix
		return cache.NewRedisCache(ctx, cfg)
	default:
		cfg := cache.DefaultMemoryConfig()
		if p.Cache.MaxCostBytes > 0 {
			cfg.MaxCostBytes = p.Cache.MaxCostBytes
		}
		return cache.NewMemoryCache(cfg)
	}
}

// newApp wires the stack. With backgroundSweeps the write path signals a
// sweep runner instead of sweeping inline; the caller starts the runner.
func newApp(ctx context.Context, cfgPath string, backgroundSweeps bool) (*app, error) {
	p, err := loadProfile(cfgPath)
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(os.Stderr, p.Log.Level, p.Log.Format)
	slog.SetDefault(logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	s, err := openStore(ctx, p)
	if err != nil {
		return nil, err
	}

	shortTerm, err := newShortTermCache(ctx, p)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	tiered := cache.NewTieredStore(shortTerm, s, &cache.TieredConfig{
		FlushThreshold: p.Cache.Threshold,
		TTL:            time.Duration(p.Cache.TTL) * time.Second,
		Logger:         logger,
		Metrics:        metrics,
	})
	gated := cache.NewTimeGatedStore(tiered, time.Duration(p.Cache.TimeThresholdMinutes)*time.Minute)

	a := &app{
		profile:  p,
		logger:   logger,
		registry: registry,
		metrics:  metrics,
		store:    s,
		tiered:   tiered,
		gated:    gated,
	}

	embedder, scorer, err := newAIServices(p, logger)
	if err != nil {
		a.closeStores()
		return nil, err
	}

	opts := []memory.Option{memory.WithLogger(logger), memory.WithMetrics(metrics)}
	if backgroundSweeps && p.Sweep.Enabled {
		runner, err := sweep.NewRunner(p.Sweep.Schedule, logger)
		if err != nil {
			a.closeStores()
			return nil, err
		}
		a.runner = runner
		opts = append(opts, memory.WithSweeper(runner))
	}
	a.manager = memory.NewExampleManager(gated, embedder, scorer, memory.NewConfigFromProfile(p), opts...)
	if a.runner != nil {
		a.runner.Bind(a.manager)
	}
	return a, nil
}

// newAIServices builds the embedder and an optional scorer. Without credentials
// dev and demo modes fall back to the offline mock embedder.
func newAIServices(p *profile.Profile, logger *slog.Logger) (ai.EmbeddingService, memory.RelevanceScorer, error) {
	cfg := ai.NewConfigFromProfile(p)
	if !cfg.Enabled {
		if !p.IsDev() {
			return nil, nil, errors.New("ai.embedding.api_key is required in prod mode")
		}
		logger.Warn("no embedding provider configured, using offline mock embedder")
		return memory.NewMockEmbedder(0), nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, errors.Wrap(err, "invalid ai config")
	}

	embedder, err := ai.NewEmbeddingService(&cfg.Embedding)
	if err != nil {
		return nil, nil, err
	}
	var scorer memory.RelevanceScorer
	if cfg.Reranker.Enabled {
		scorer = memory.NewRerankScorer(ai.NewRerankerService(&cfg.Reranker))
	}
	return embedder, scorer, nil
}

// close flushes cache-resident records and releases both tiers.
func (a *app) close(ctx context.Context) error {
	if a.runner != nil {
		a.runner.Close()
	}
	err := a.gated.ForcePersistence(ctx)
	if err != nil {
		a.logger.Error("final flush failed", slog.String("error", err.Error()))
	}
	a.closeStores()
	return err
}

func (a *app) closeStores() {
	if err := a.tiered.Close(); err != nil {
		a.logger.Warn("failed to close cache", slog.String("error", err.Error()))
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close store", slog.String("error", err.Error()))
	}
}
