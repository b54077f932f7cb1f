package memory

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/hrygo/mnemo/internal/observability"
	"github.com/hrygo/mnemo/store"
)

// Sweep reasons, used as metric labels.
const (
	sweepReasonExpired      = "expired"
	sweepReasonLowPerformer = "low_performer"
)

// CleanupExpiredExamples deletes exemplars of namespace older than RetentionDays.
// An unparsable timestamp counts as expired. Per-item failures are logged and
// skipped; the returned error covers only the initial load.
func (m *ExampleManager) CleanupExpiredExamples(ctx context.Context, namespace string) (int, error) {
	op := observability.NewOperationContext(m.logger, "cleanup_expired", namespace)
	items, err := m.loadExamples(ctx, namespace, store.MaxListLimit)
	if err != nil {
		return 0, err
	}

	cutoff := m.now().Add(-time.Duration(m.config.RetentionDays) * 24 * time.Hour)
	deleted := 0
	for _, item := range items {
		ts, err := time.Parse(time.RFC3339, item.Timestamp)
		if err == nil && !ts.Before(cutoff) {
			continue
		}
		if err := m.store.DeleteRecord(ctx, item.ID); err != nil {
			op.Warn("failed to delete expired example", slog.String("id", item.ID), slog.String("error", err.Error()))
			continue
		}
		deleted++
	}

	if deleted > 0 {
		m.metrics.ObserveSweepDeletions(sweepReasonExpired, deleted)
		op.Info("expired examples removed", slog.Int("count", deleted), op.DurationAttr())
	}
	return deleted, nil
}

// CleanupLowPerformingExamples deletes up to EvictionBatch of items that were
// used at least CleanupUsageThreshold times with an average relevance below
// LowPerformerThreshold, worst first. It returns the number deleted.
func (m *ExampleManager) CleanupLowPerformingExamples(ctx context.Context, items []*Example) int {
	type candidate struct {
		example *Example
		average float64
	}
	var candidates []candidate
	for _, item := range items {
		if item.TotalUsageCount < m.config.CleanupUsageThreshold {
			continue
		}
		avg, ok := item.AverageRelevance()
		if !ok || avg >= m.config.LowPerformerThreshold {
			continue
		}
		candidates = append(candidates, candidate{example: item, average: avg})
	}
	if len(candidates) == 0 {
		return 0
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].average < candidates[j].average
	})
	if len(candidates) > m.config.EvictionBatch {
		candidates = candidates[:m.config.EvictionBatch]
	}

	deleted := 0
	for _, c := range candidates {
		if err := m.store.DeleteRecord(ctx, c.example.ID); err != nil {
			m.logger.Warn("failed to delete low-performing example",
				slog.String(observability.LogFieldNamespace, c.example.Namespace),
				slog.String("id", c.example.ID),
				slog.String("error", err.Error()))
			continue
		}
		deleted++
	}
	m.metrics.ObserveSweepDeletions(sweepReasonLowPerformer, deleted)
	return deleted
}
