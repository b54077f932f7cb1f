package ai

import (
	"errors"

	"github.com/hrygo/mnemo/internal/profile"
)

// Config represents AI configuration.
type Config struct {
	Enabled bool

	Embedding EmbeddingConfig
	Reranker  RerankerConfig
}

// EmbeddingConfig represents vector embedding configuration.
type EmbeddingConfig struct {
	Provider   string // siliconflow, openai
	Model      string // BAAI/bge-m3
	Dimensions int    // 1024
	APIKey     string
	BaseURL    string
	// RequestsPerSecond limits outbound calls; zero means unlimited.
	RequestsPerSecond float64
}

// RerankerConfig represents reranker configuration.
type RerankerConfig struct {
	Enabled           bool
	Model             string // BAAI/bge-reranker-v2-m3
	APIKey            string
	BaseURL           string
	RequestsPerSecond float64
}

// NewConfigFromProfile creates AI config from profile.
func NewConfigFromProfile(p *profile.Profile) *Config {
	cfg := &Config{
		Enabled: p.IsAIEnabled(),
	}

	if !cfg.Enabled {
		return cfg
	}

	e := p.AI.Embedding
	cfg.Embedding = EmbeddingConfig{
		Provider:          e.Provider,
		Model:             e.Model,
		Dimensions:        e.Dimensions,
		APIKey:            e.APIKey,
		BaseURL:           e.BaseURL,
		RequestsPerSecond: e.RequestsPerSecond,
	}

	r := p.AI.Reranker
	cfg.Reranker = RerankerConfig{
		Enabled:           r.Enabled,
		Model:             r.Model,
		APIKey:            r.APIKey,
		BaseURL:           r.BaseURL,
		RequestsPerSecond: r.RequestsPerSecond,
	}
	// The reranker shares the embedding credentials when none are configured.
	if cfg.Reranker.APIKey == "" {
		cfg.Reranker.APIKey = e.APIKey
	}

	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Embedding.Provider == "" {
		return errors.New("embedding provider is required")
	}

	if c.Embedding.APIKey == "" {
		return errors.New("embedding API key is required")
	}

	if c.Embedding.Dimensions <= 0 {
		return errors.New("embedding dimensions must be positive")
	}

	if c.Reranker.Enabled && c.Reranker.BaseURL == "" {
		return errors.New("reranker base URL is required")
	}

	return nil
}
