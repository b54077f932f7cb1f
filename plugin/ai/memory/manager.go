package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	memerr "github.com/hrygo/mnemo/internal/errors"
	"github.com/hrygo/mnemo/internal/observability"
	"github.com/hrygo/mnemo/plugin/ai"
	"github.com/hrygo/mnemo/store"
)

// ExampleStore is the record store the manager writes through.
// *cache.TimeGatedStore satisfies it.
type ExampleStore interface {
	AddRecord(ctx context.Context, record *store.Record) error
	GetRecord(ctx context.Context, id string) (*store.Record, error)
	GetRecordsByCategory(ctx context.Context, category string, limit int) ([]*store.Record, error)
	UpdateRecordPayload(ctx context.Context, id string, payload []byte) (bool, error)
	DeleteRecord(ctx context.Context, id string) error
	ForcePersistence(ctx context.Context) error
}

// Option configures an ExampleManager.
type Option func(*ExampleManager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *ExampleManager) { m.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *ExampleManager) { m.logger = logger }
}

// WithSweeper moves the expiration sweep off the write path: StoreExample
// signals the sweeper instead of sweeping inline.
func WithSweeper(s SweepSignaler) Option {
	return func(m *ExampleManager) { m.sweeper = s }
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *ExampleManager) { m.metrics = metrics }
}

// ExampleManager stores and retrieves episodic exemplars. Each namespace maps
// to one record category.
type ExampleManager struct {
	store    ExampleStore
	embedder ai.EmbeddingService
	scorer   RelevanceScorer
	config   *Config

	sweeper SweepSignaler
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time

	// lastID is the last issued id timestamp, kept strictly increasing.
	lastID atomic.Int64
}

// NewExampleManager creates a manager. A nil scorer ranks by embedding similarity only.
func NewExampleManager(s ExampleStore, embedder ai.EmbeddingService, scorer RelevanceScorer, cfg *Config, opts ...Option) *ExampleManager {
	m := &ExampleManager{
		store:    s,
		embedder: embedder,
		scorer:   scorer,
		config:   cfg.withDefaults(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ ExampleService = (*ExampleManager)(nil)

// StoreExample implements ExampleService.
func (m *ExampleManager) StoreExample(ctx context.Context, namespace, query, response string, label Label, toolCalls []string) (*StoreResult, error) {
	return m.StoreInteractionExample(ctx, namespace, query, response, label, toolCalls)
}

// FindRelevantExamples implements ExampleService.
func (m *ExampleManager) FindRelevantExamples(ctx context.Context, namespace, query string) (*RelevantExamples, error) {
	return m.FindRelevantExamplesForQuery(ctx, namespace, query)
}

// StoreInteractionExample records (query, response) under namespace.
//
// An existing pair with equal normalized text is not duplicated: its label is
// updated when it differs (StatusUpdated), otherwise nothing is written
// (StatusDuplicate). A pair whose query equals its response is rejected
// (StatusInvalid). At capacity, low performers are evicted before the insert.
func (m *ExampleManager) StoreInteractionExample(ctx context.Context, namespace, query, response string, label Label, toolCalls []string) (*StoreResult, error) {
	op := observability.NewOperationContext(m.logger, "store_example", namespace)
	ctx = observability.WithOperationContext(ctx, op)
	result, err := m.storeExample(ctx, op, namespace, query, response, label, toolCalls)
	m.metrics.ObserveStoreResult(string(result.Status))
	if err != nil {
		op.Error("failed to store example", err, op.DurationAttr())
	} else {
		op.Debug("example stored", slog.String("status", string(result.Status)), slog.String("id", result.ID), op.DurationAttr())
	}
	return result, err
}

func (m *ExampleManager) storeExample(ctx context.Context, op *observability.OperationContext, namespace, query, response string, label Label, toolCalls []string) (*StoreResult, error) {
	if namespace == "" {
		return invalid("namespace is required"), nil
	}
	if !label.Valid() {
		return invalid(fmt.Sprintf("unknown label %q", label)), nil
	}
	normQuery, normResponse := normalize(query), normalize(response)
	if normQuery == "" || normResponse == "" {
		return invalid("query and response are required"), nil
	}

	if m.sweeper != nil {
		m.sweeper.Signal(namespace)
	} else if _, err := m.CleanupExpiredExamples(ctx, namespace); err != nil {
		op.Warn("expiration sweep failed", slog.String("error", err.Error()))
	}

	items, err := m.loadExamples(ctx, namespace, m.config.MaxQueueSize+m.config.LoadMargin)
	if err != nil {
		return failed(err)
	}

	for _, item := range items {
		if normalize(item.Query) != normQuery || normalize(item.Response) != normResponse {
			continue
		}
		if item.Label == label {
			return &StoreResult{Status: StatusDuplicate, Message: "identical example already stored", ID: item.ID}, nil
		}
		item.Label = label
		ok, err := m.writePayload(ctx, item)
		if err != nil {
			return failed(err)
		}
		if ok {
			return &StoreResult{Status: StatusUpdated, Message: fmt.Sprintf("label updated to %s", label), ID: item.ID}, nil
		}
		// Deleted concurrently; store it as new.
		break
	}

	if normQuery == normResponse {
		return invalid("response must differ from query"), nil
	}

	if len(items) >= m.config.MaxQueueSize {
		if n := m.CleanupLowPerformingExamples(ctx, items); n > 0 {
			op.Info("evicted low-performing examples", slog.Int("count", n))
		}
	}

	content := buildContent(query, response, toolCalls)
	embedding, err := m.embedder.Embed(ctx, content)
	if err != nil {
		return failed(memerr.Unavailable("failed to embed example", err))
	}

	now := m.now()
	example := EpisodicExample{
		Query:        query,
		Response:     response,
		Content:      content,
		Label:        label,
		Timestamp:    now.UTC().Format(time.RFC3339),
		CreationTime: float64(now.UnixNano()) / float64(time.Second),
		ToolCalls:    toolCalls,
	}
	payload, err := json.Marshal(&example)
	if err != nil {
		return failed(errors.Wrap(err, "failed to encode example"))
	}

	id := m.nextID(now)
	if err := m.store.AddRecord(ctx, &store.Record{
		ID:        id,
		Category:  namespace,
		Payload:   payload,
		Embedding: embedding,
		CreatedTs: now.UnixMilli(),
	}); err != nil {
		return failed(err)
	}
	return &StoreResult{Status: StatusSuccess, Message: "example stored", ID: id}, nil
}

func invalid(msg string) *StoreResult {
	return &StoreResult{Status: StatusInvalid, Message: msg}
}

func failed(err error) (*StoreResult, error) {
	return &StoreResult{Status: StatusError, Message: err.Error()}, err
}

// nextID returns "item_<unix nanos>", bumped past the previous id on collision.
func (m *ExampleManager) nextID(now time.Time) string {
	n := now.UnixNano()
	for {
		last := m.lastID.Load()
		if n <= last {
			n = last + 1
		}
		if m.lastID.CompareAndSwap(last, n) {
			return "item_" + strconv.FormatInt(n, 10)
		}
	}
}

// normalize lowercases s and collapses whitespace runs.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func buildContent(query, response string, toolCalls []string) string {
	content := "Query: " + query + "\nResponse: " + response
	if len(toolCalls) > 0 {
		content += "\nTools: " + strings.Join(toolCalls, ", ")
	}
	return content
}

// FindRelevantExamplesForQuery returns up to MaxExamples exemplars per label
// scoring at least RelevanceThreshold, best first.
//
// Candidates are prefiltered by cosine similarity to the query embedding and
// then reranked by the scorer. When the scorer fails the prefilter score is
// used. When the query cannot be embedded every candidate goes to the scorer.
func (m *ExampleManager) FindRelevantExamplesForQuery(ctx context.Context, namespace, query string) (*RelevantExamples, error) {
	op := observability.NewOperationContext(m.logger, "find_examples", namespace)
	ctx = observability.WithOperationContext(ctx, op)
	result := emptyRelevantExamples()
	if strings.TrimSpace(query) == "" {
		return result, nil
	}

	items, err := m.loadExamples(ctx, namespace, m.config.RetrievalCap)
	if err != nil {
		op.Error("failed to load examples", err)
		return result, err
	}
	if len(items) == 0 {
		return result, nil
	}

	queryVec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		op.Warn("query embedding failed, skipping prefilter", slog.String("error", err.Error()))
		queryVec = nil
	}

	var positive, negative []ScoredExample
	for _, item := range items {
		var score float64
		if queryVec != nil {
			score = cosineSimilarity(queryVec, item.Embedding)
			if score < m.config.PrefilterThreshold {
				continue
			}
		}
		candidate := ScoredExample{Example: item, Score: score}
		if item.Label == LabelPositive {
			positive = append(positive, candidate)
		} else {
			negative = append(negative, candidate)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		result.Positive = m.rank(gctx, op, query, positive)
		return nil
	})
	g.Go(func() error {
		result.Negative = m.rank(gctx, op, query, negative)
		return nil
	})
	_ = g.Wait()

	m.metrics.ObserveFindResults(string(LabelPositive), len(result.Positive))
	m.metrics.ObserveFindResults(string(LabelNegative), len(result.Negative))
	op.Debug("examples retrieved",
		slog.Int("candidates", len(items)),
		slog.Int("positive", len(result.Positive)),
		slog.Int("negative", len(result.Negative)),
		op.DurationAttr())
	return result, nil
}

// rank rescores candidates, drops those below the relevance threshold and
// returns the best MaxExamples. The returned slice is never nil.
func (m *ExampleManager) rank(ctx context.Context, op *observability.OperationContext, query string, candidates []ScoredExample) []ScoredExample {
	if len(candidates) == 0 {
		return []ScoredExample{}
	}

	if m.scorer != nil {
		contents := make([]string, len(candidates))
		for i, c := range candidates {
			contents[i] = c.Content
		}
		scores, err := m.scorer.Score(ctx, query, contents)
		if err == nil && len(scores) != len(candidates) {
			err = errors.Errorf("scorer returned %d scores for %d candidates", len(scores), len(candidates))
		}
		if err != nil {
			degraded := memerr.ScorerDegraded(err)
			m.metrics.ObserveScorerDegraded()
			op.Warn("relevance scorer failed, using similarity scores",
				slog.String(observability.LogFieldErrorCode, string(degraded.Code)),
				slog.String("error", err.Error()))
		} else {
			for i := range candidates {
				candidates[i].Score = float64(scores[i])
			}
		}
	}

	kept := make([]ScoredExample, 0, len(candidates))
	for _, c := range candidates {
		if c.Score >= m.config.RelevanceThreshold {
			kept = append(kept, c)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Score > kept[j].Score
	})
	if len(kept) > m.config.MaxExamples {
		kept = kept[:m.config.MaxExamples]
	}
	return kept
}

// GetExamples lists up to limit exemplars in namespace, most recent first.
// A non-positive limit uses MaxQueueSize plus the load margin.
func (m *ExampleManager) GetExamples(ctx context.Context, namespace string, limit int) ([]*Example, error) {
	if limit <= 0 {
		limit = m.config.MaxQueueSize + m.config.LoadMargin
	}
	return m.loadExamples(ctx, namespace, limit)
}

// GetExample returns nil when id is absent or belongs to another namespace.
func (m *ExampleManager) GetExample(ctx context.Context, namespace, id string) (*Example, error) {
	record, err := m.store.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil || record.Category != namespace {
		return nil, nil
	}
	return decodeExample(record)
}

// DeleteExample removes id from namespace. Ids of other namespaces are left alone.
func (m *ExampleManager) DeleteExample(ctx context.Context, namespace, id string) error {
	record, err := m.store.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	if record != nil && record.Category != namespace {
		return nil
	}
	return m.store.DeleteRecord(ctx, id)
}

// UpdateExampleUsageStatistics adds one use with the given relevance. Missing ids are a no-op.
func (m *ExampleManager) UpdateExampleUsageStatistics(ctx context.Context, namespace, id string, relevance float64) error {
	if relevance < 0 {
		return memerr.InvalidArgument("relevance must not be negative")
	}
	example, err := m.GetExample(ctx, namespace, id)
	if err != nil || example == nil {
		return err
	}
	example.TotalUsageCount++
	example.TotalRelevanceSum += relevance
	_, err = m.writePayload(ctx, example)
	return err
}

// ForcePersistence flushes the cache tier to the durable store.
func (m *ExampleManager) ForcePersistence(ctx context.Context) error {
	return m.store.ForcePersistence(ctx)
}

// SweepNamespace removes expired exemplars, then evicts low performers when
// the namespace is at capacity.
func (m *ExampleManager) SweepNamespace(ctx context.Context, namespace string) error {
	if _, err := m.CleanupExpiredExamples(ctx, namespace); err != nil {
		return err
	}
	items, err := m.loadExamples(ctx, namespace, m.config.MaxQueueSize+m.config.LoadMargin)
	if err != nil {
		return err
	}
	if len(items) >= m.config.MaxQueueSize {
		m.CleanupLowPerformingExamples(ctx, items)
	}
	return nil
}

func (m *ExampleManager) writePayload(ctx context.Context, example *Example) (bool, error) {
	payload, err := json.Marshal(&example.EpisodicExample)
	if err != nil {
		return false, errors.Wrap(err, "failed to encode example")
	}
	return m.store.UpdateRecordPayload(ctx, example.ID, payload)
}

// loadExamples decodes up to limit records of namespace. Undecodable payloads are skipped.
func (m *ExampleManager) loadExamples(ctx context.Context, namespace string, limit int) ([]*Example, error) {
	records, err := m.store.GetRecordsByCategory(ctx, namespace, limit)
	if err != nil {
		return nil, err
	}
	examples := make([]*Example, 0, len(records))
	for _, record := range records {
		example, err := decodeExample(record)
		if err != nil {
			m.logger.Warn("skipping undecodable example",
				slog.String(observability.LogFieldNamespace, namespace),
				slog.String("id", record.ID),
				slog.String("error", err.Error()))
			continue
		}
		examples = append(examples, example)
	}
	return examples, nil
}

func decodeExample(record *store.Record) (*Example, error) {
	example := &Example{
		ID:        record.ID,
		Namespace: record.Category,
		Embedding: record.Embedding,
	}
	if err := json.Unmarshal(record.Payload, &example.EpisodicExample); err != nil {
		return nil, errors.Wrapf(err, "failed to decode example %s", record.ID)
	}
	return example, nil
}
