// Package memory provides the episodic exemplar manager for AI agents.
// Exemplars are (query, response, label) triples stored per namespace and
// retrieved by relevance to bias future agent behavior.
package memory

import (
	"context"
	"strings"
)

// ExampleService defines the exemplar operations exposed to agents.
type ExampleService interface {
	// StoreExample records an interaction as a positive or negative exemplar.
	// The result is always non-nil; err is set only for StatusError.
	StoreExample(ctx context.Context, namespace, query, response string, label Label, toolCalls []string) (*StoreResult, error)

	// FindRelevantExamples returns the best exemplars per label for query.
	// The result is always well-formed, possibly empty.
	FindRelevantExamples(ctx context.Context, namespace, query string) (*RelevantExamples, error)

	// GetExamples lists up to limit exemplars, most recent first.
	GetExamples(ctx context.Context, namespace string, limit int) ([]*Example, error)

	// DeleteExample removes an exemplar. Deleting a missing id is not an error.
	DeleteExample(ctx context.Context, namespace, id string) error

	// UpdateExampleUsageStatistics records one use of an exemplar with its relevance.
	UpdateExampleUsageStatistics(ctx context.Context, namespace, id string, relevance float64) error

	// ForcePersistence flushes cache-resident records to the durable store.
	ForcePersistence(ctx context.Context) error

	// SweepNamespace runs the expiration and low-performer sweeps for a namespace.
	SweepNamespace(ctx context.Context, namespace string) error
}

// SweepSignaler receives "needs sweep" notifications from the write path.
type SweepSignaler interface {
	Signal(namespace string)
}

// Label classifies an exemplar as behavior to imitate or to avoid.
type Label string

const (
	LabelPositive Label = "positive"
	LabelNegative Label = "negative"
)

// Valid reports whether l is a known label.
func (l Label) Valid() bool {
	return l == LabelPositive || l == LabelNegative
}

// ParseLabel parses a label case-insensitively.
func ParseLabel(s string) (Label, bool) {
	l := Label(strings.ToLower(strings.TrimSpace(s)))
	return l, l.Valid()
}

// StoreStatus is the terminal outcome of StoreExample.
type StoreStatus string

const (
	StatusSuccess   StoreStatus = "success"
	StatusDuplicate StoreStatus = "duplicate"
	StatusUpdated   StoreStatus = "updated"
	StatusInvalid   StoreStatus = "invalid"
	StatusError     StoreStatus = "error"
)

// StoreResult is returned by StoreExample.
type StoreResult struct {
	Status  StoreStatus `json:"status"`
	Message string      `json:"message"`
	// ID is the affected exemplar, empty for invalid and error results.
	ID string `json:"id,omitempty"`
}

// EpisodicExample is the payload of an exemplar record.
type EpisodicExample struct {
	Query    string `json:"query"`
	Response string `json:"response"`
	// Content is the text that was embedded.
	Content           string   `json:"content"`
	Label             Label    `json:"label"`
	Timestamp         string   `json:"timestamp"`     // RFC3339
	CreationTime      float64  `json:"creation_time"` // unix seconds
	TotalUsageCount   int      `json:"total_usage_count"`
	TotalRelevanceSum float64  `json:"total_relevance_sum"`
	ToolCalls         []string `json:"tool_calls,omitempty"`
}

// AverageRelevance returns the mean relevance, or false when the exemplar was never used.
func (e *EpisodicExample) AverageRelevance() (float64, bool) {
	if e.TotalUsageCount <= 0 {
		return 0, false
	}
	return e.TotalRelevanceSum / float64(e.TotalUsageCount), true
}

// Example is a stored exemplar.
type Example struct {
	ID        string `json:"id"`
	Namespace string `json:"namespace"`
	EpisodicExample
	Embedding []float32 `json:"-"`
}

// ScoredExample is an exemplar with its retrieval score.
type ScoredExample struct {
	*Example
	Score float64 `json:"score"`
}

// RelevantExamples holds retrieval results per label, best first.
type RelevantExamples struct {
	Positive []ScoredExample `json:"positive"`
	Negative []ScoredExample `json:"negative"`
}

func emptyRelevantExamples() *RelevantExamples {
	return &RelevantExamples{
		Positive: []ScoredExample{},
		Negative: []ScoredExample{},
	}
}
