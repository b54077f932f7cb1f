package sweep

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSweeper records swept namespaces and fails those in failFor.
type mockSweeper struct {
	mu      sync.Mutex
	swept   []string
	failFor map[string]bool
	done    chan struct{}
}

func (m *mockSweeper) SweepNamespace(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.swept = append(m.swept, namespace)
	if m.done != nil {
		select {
		case m.done <- struct{}{}:
		default:
		}
	}
	if m.failFor[namespace] {
		return errors.New("store unavailable")
	}
	return nil
}

func (m *mockSweeper) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.swept...)
}

func TestNewRunner(t *testing.T) {
	r, err := NewRunner("", nil)
	require.NoError(t, err)
	base := time.Date(2026, 5, 1, 10, 2, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 5, 1, 10, 5, 0, 0, time.UTC), r.Next(base))

	_, err = NewRunner("not a schedule", nil)
	assert.Error(t, err)
}

func TestRunOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("sweeps each signalled namespace once", func(t *testing.T) {
		r, err := NewRunner(DefaultSchedule, nil)
		require.NoError(t, err)
		sweeper := &mockSweeper{}
		r.Bind(sweeper)

		r.Signal("agentB")
		r.Signal("agentA")
		r.Signal("agentA")
		r.Signal("")

		assert.Equal(t, 2, r.RunOnce(ctx))
		assert.Equal(t, []string{"agentA", "agentB"}, sweeper.calls())
		assert.Empty(t, r.Pending())

		assert.Equal(t, 0, r.RunOnce(ctx))
	})

	t.Run("failures are retried next run", func(t *testing.T) {
		r, err := NewRunner(DefaultSchedule, nil)
		require.NoError(t, err)
		sweeper := &mockSweeper{failFor: map[string]bool{"agentA": true}}
		r.Bind(sweeper)

		r.Signal("agentA")
		r.Signal("agentB")
		assert.Equal(t, 1, r.RunOnce(ctx))
		assert.Equal(t, []string{"agentA"}, r.Pending())
	})

	t.Run("signals before bind are kept", func(t *testing.T) {
		r, err := NewRunner(DefaultSchedule, nil)
		require.NoError(t, err)

		r.Signal("agentA")
		assert.Equal(t, 0, r.RunOnce(ctx))
		assert.Equal(t, []string{"agentA"}, r.Pending())

		sweeper := &mockSweeper{}
		r.Bind(sweeper)
		assert.Equal(t, 1, r.RunOnce(ctx))
	})

	t.Run("cancelled context requeues", func(t *testing.T) {
		r, err := NewRunner(DefaultSchedule, nil)
		require.NoError(t, err)
		sweeper := &mockSweeper{}
		r.Bind(sweeper)
		r.Signal("agentA")

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		assert.Equal(t, 0, r.RunOnce(cancelled))
		assert.Empty(t, sweeper.calls())
		assert.Equal(t, []string{"agentA"}, r.Pending())
	})
}

func TestStartAndClose(t *testing.T) {
	r, err := NewRunner("* * * * * * *", nil) // every second
	require.NoError(t, err)
	sweeper := &mockSweeper{done: make(chan struct{}, 1)}
	r.Bind(sweeper)
	r.Signal("agentA")

	r.Start(context.Background())
	defer r.Close()

	select {
	case <-sweeper.done:
	case <-time.After(5 * time.Second):
		t.Fatal("sweep did not run")
	}
	r.Close()
	assert.Equal(t, []string{"agentA"}, sweeper.calls())
}
