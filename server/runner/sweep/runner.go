// Package sweep runs exemplar housekeeping sweeps in the background.
package sweep

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/pkg/errors"

	"github.com/hrygo/mnemo/internal/observability"
)

// DefaultSchedule runs a sweep every five minutes.
const DefaultSchedule = "*/5 * * * *"

// Sweeper sweeps one namespace. *memory.ExampleManager satisfies it.
type Sweeper interface {
	SweepNamespace(ctx context.Context, namespace string) error
}

// Runner collects namespaces signalled by the write path and sweeps them on
// a cron schedule. A failed namespace is signalled again for the next run.
type Runner struct {
	expr    *cronexpr.Expression
	sweeper Sweeper
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	pending map[string]struct{}

	// Lifecycle management
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a runner for schedule (DefaultSchedule when empty).
func NewRunner(schedule string, logger *slog.Logger) (*Runner, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	expr, err := cronexpr.Parse(schedule)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid sweep schedule %q", schedule)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		expr:    expr,
		logger:  logger,
		now:     time.Now,
		pending: make(map[string]struct{}),
	}, nil
}

// Bind sets the sweeper. The write path may signal before Bind; those
// namespaces are swept by the first run after it.
func (r *Runner) Bind(sweeper Sweeper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweeper = sweeper
}

// Signal marks namespace as needing a sweep. It never blocks on I/O.
func (r *Runner) Signal(namespace string) {
	if namespace == "" {
		return
	}
	r.mu.Lock()
	r.pending[namespace] = struct{}{}
	r.mu.Unlock()
}

// Pending returns the signalled namespaces, sorted.
func (r *Runner) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.pending)
}

// RunOnce sweeps every pending namespace and returns how many succeeded.
func (r *Runner) RunOnce(ctx context.Context) int {
	r.mu.Lock()
	sweeper := r.sweeper
	if sweeper == nil {
		r.mu.Unlock()
		return 0
	}
	batch := r.pending
	r.pending = make(map[string]struct{})
	r.mu.Unlock()

	swept := 0
	for _, namespace := range sortedKeys(batch) {
		if ctx.Err() != nil {
			r.Signal(namespace)
			continue
		}
		op := observability.NewOperationContext(r.logger, "sweep", namespace)
		if err := sweeper.SweepNamespace(ctx, namespace); err != nil {
			op.Error("sweep failed, retrying next run", err)
			r.Signal(namespace)
			continue
		}
		op.Debug("namespace swept", op.DurationAttr())
		swept++
	}
	return swept
}

// Next returns the next scheduled run after t.
func (r *Runner) Next(t time.Time) time.Time {
	return r.expr.Next(t)
}

// Start runs sweeps on schedule until ctx is done or Close is called.
func (r *Runner) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			next := r.Next(r.now())
			if next.IsZero() {
				r.logger.Warn("sweep schedule has no future runs")
				return
			}
			timer := time.NewTimer(next.Sub(r.now()))
			select {
			case <-ctx.Done():
				timer.Stop()
				r.logger.Info("sweep runner stopped")
				return
			case <-timer.C:
				if n := r.RunOnce(ctx); n > 0 {
					r.logger.Info("sweep completed", slog.Int("namespaces", n))
				}
			}
		}
	}()
}

// Close stops the scheduling goroutine and waits for an in-flight run.
func (r *Runner) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
