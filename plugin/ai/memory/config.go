package memory

import (
	"github.com/hrygo/mnemo/internal/profile"
)

// Config configures the exemplar manager.
type Config struct {
	// MaxQueueSize is the per-namespace size at which low performers are evicted.
	MaxQueueSize int
	// RetentionDays is the age after which exemplars expire.
	RetentionDays int
	// RelevanceThreshold is the minimum score for a retrieval result.
	RelevanceThreshold float64
	// CleanupUsageThreshold is the usage count below which exemplars are protected from eviction.
	CleanupUsageThreshold int
	// LowPerformerThreshold is the average relevance below which a used exemplar is evicted.
	LowPerformerThreshold float64
	// MaxExamples is the number of results returned per label.
	MaxExamples int

	// RetrievalCap bounds the candidates fetched per query.
	RetrievalCap int
	// PrefilterThreshold is the cosine similarity below which candidates skip reranking.
	PrefilterThreshold float64
	// LoadMargin is added to MaxQueueSize when loading exemplars for dedup.
	LoadMargin int
	// EvictionBatch is the maximum number of low performers removed per sweep.
	EvictionBatch int
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxQueueSize:          30,
		RetentionDays:         30,
		RelevanceThreshold:    0.3,
		CleanupUsageThreshold: 3,
		LowPerformerThreshold: 0.2,
		MaxExamples:           3,
		RetrievalCap:          50,
		PrefilterThreshold:    0.1,
		LoadMargin:            10,
		EvictionBatch:         5,
	}
}

// NewConfigFromProfile creates the manager config from profile.
func NewConfigFromProfile(p *profile.Profile) *Config {
	cfg := DefaultConfig()
	cfg.MaxQueueSize = p.Memory.MaxQueueSize
	cfg.RetentionDays = p.Memory.RetentionDays
	cfg.RelevanceThreshold = p.Memory.RelevanceThreshold
	cfg.CleanupUsageThreshold = p.Memory.CleanupUsageThreshold
	cfg.LowPerformerThreshold = p.Memory.LowPerformerThreshold
	cfg.MaxExamples = p.Memory.MaxExamples
	return cfg
}

// withDefaults fills non-positive sizes from DefaultConfig.
func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.MaxQueueSize <= 0 {
		out.MaxQueueSize = d.MaxQueueSize
	}
	if out.RetentionDays <= 0 {
		out.RetentionDays = d.RetentionDays
	}
	if out.CleanupUsageThreshold <= 0 {
		out.CleanupUsageThreshold = d.CleanupUsageThreshold
	}
	if out.MaxExamples <= 0 {
		out.MaxExamples = d.MaxExamples
	}
	if out.RetrievalCap <= 0 {
		out.RetrievalCap = d.RetrievalCap
	}
	if out.LoadMargin < 0 {
		out.LoadMargin = d.LoadMargin
	}
	if out.EvictionBatch <= 0 {
		out.EvictionBatch = d.EvictionBatch
	}
	return &out
}
