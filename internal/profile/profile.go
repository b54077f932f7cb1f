package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "MNEMO"

// Profile is the configuration to start mnemo.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string `mapstructure:"mode"`
	// Data is the data directory, used for the default sqlite DSN
	Data string `mapstructure:"data"`
	// Driver is the database driver (sqlite or postgres)
	Driver string `mapstructure:"driver"`
	// DSN points to where mnemo stores durable records
	DSN string `mapstructure:"dsn"`

	Cache   CacheConfig   `mapstructure:"cache"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Memory  MemoryConfig  `mapstructure:"memory"`
	AI      AIConfig      `mapstructure:"ai"`
	Sweep   SweepConfig   `mapstructure:"sweep"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
}

// CacheConfig configures the short-term tier and its flush triggers.
type CacheConfig struct {
	// Backend is "redis" or "memory"
	Backend              string `mapstructure:"backend"`
	Threshold            int    `mapstructure:"threshold"`
	TTL                  int    `mapstructure:"ttl"` // seconds
	TimeThresholdMinutes int    `mapstructure:"time_threshold_minutes"`
	// MaxCostBytes bounds the in-process backend.
	MaxCostBytes int64 `mapstructure:"max_cost_bytes"`
}

type RedisConfig struct {
	URL       string `mapstructure:"url"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// MemoryConfig configures the episodic exemplar manager.
type MemoryConfig struct {
	MaxQueueSize          int     `mapstructure:"max_queue_size"`
	RetentionDays         int     `mapstructure:"retention_days"`
	RelevanceThreshold    float64 `mapstructure:"relevance_threshold"`
	CleanupUsageThreshold int     `mapstructure:"cleanup_usage_threshold"`
	LowPerformerThreshold float64 `mapstructure:"low_performer_threshold"`
	MaxExamples           int     `mapstructure:"max_examples"`
}

type AIConfig struct {
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Reranker  RerankerConfig  `mapstructure:"reranker"`
}

type EmbeddingConfig struct {
	Provider          string  `mapstructure:"provider"` // openai, siliconflow
	APIKey            string  `mapstructure:"api_key"`
	BaseURL           string  `mapstructure:"base_url"`
	Model             string  `mapstructure:"model"`
	Dimensions        int     `mapstructure:"dimensions"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

type RerankerConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	APIKey            string  `mapstructure:"api_key"`
	BaseURL           string  `mapstructure:"base_url"`
	Model             string  `mapstructure:"model"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

type SweepConfig struct {
	// Schedule is a cron expression (gorhill/cronexpr syntax).
	Schedule string `mapstructure:"schedule"`
	Enabled  bool   `mapstructure:"enabled"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if an embedding provider has credentials configured.
func (p *Profile) IsAIEnabled() bool {
	return p.AI.Embedding.APIKey != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "dev")
	v.SetDefault("data", ".")
	v.SetDefault("driver", "sqlite")
	v.SetDefault("dsn", "")

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.threshold", 100)
	v.SetDefault("cache.ttl", 3600)
	v.SetDefault("cache.time_threshold_minutes", 15)
	v.SetDefault("cache.max_cost_bytes", 64<<20)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.key_prefix", "mnemo:")

	v.SetDefault("memory.max_queue_size", 30)
	v.SetDefault("memory.retention_days", 30)
	v.SetDefault("memory.relevance_threshold", 0.3)
	v.SetDefault("memory.cleanup_usage_threshold", 3)
	v.SetDefault("memory.low_performer_threshold", 0.2)
	v.SetDefault("memory.max_examples", 3)

	v.SetDefault("ai.embedding.provider", "siliconflow")
	v.SetDefault("ai.embedding.api_key", "")
	v.SetDefault("ai.embedding.base_url", "https://api.siliconflow.cn/v1")
	v.SetDefault("ai.embedding.model", "BAAI/bge-m3")
	v.SetDefault("ai.embedding.dimensions", 1024)
	v.SetDefault("ai.embedding.requests_per_second", 10)
	v.SetDefault("ai.reranker.enabled", false)
	v.SetDefault("ai.reranker.api_key", "")
	v.SetDefault("ai.reranker.base_url", "https://api.siliconflow.cn")
	v.SetDefault("ai.reranker.model", "BAAI/bge-reranker-v2-m3")
	v.SetDefault("ai.reranker.requests_per_second", 10)

	v.SetDefault("sweep.enabled", true)
	v.SetDefault("sweep.schedule", "*/5 * * * *")

	v.SetDefault("metrics.addr", ":9464")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads the profile from defaults, an optional config file and MNEMO_* environment variables.
// Nested keys map to environment variables with "." replaced by "_", e.g. MNEMO_CACHE_THRESHOLD.
func Load(configPath string) (*Profile, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
		}
	}

	p := &Profile{}
	if err := v.Unmarshal(p); err != nil {
		return nil, errors.Wrap(err, "failed to decode profile")
	}
	return p, nil
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		absDir, err := filepath.Abs(dataDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Driver != "sqlite" && p.Driver != "postgres" {
		return errors.Errorf("unsupported driver %q: only 'postgres' and 'sqlite' are supported", p.Driver)
	}
	if p.Cache.Backend != "memory" && p.Cache.Backend != "redis" {
		return errors.Errorf("unsupported cache backend %q", p.Cache.Backend)
	}

	if p.Cache.Threshold <= 0 {
		return errors.New("cache.threshold must be positive")
	}
	if p.Cache.TTL <= 0 {
		return errors.New("cache.ttl must be positive")
	}
	if p.Cache.TimeThresholdMinutes <= 0 {
		return errors.New("cache.time_threshold_minutes must be positive")
	}
	if p.Memory.MaxQueueSize <= 0 || p.Memory.MaxExamples <= 0 || p.Memory.RetentionDays <= 0 {
		return errors.New("memory.max_queue_size, memory.max_examples and memory.retention_days must be positive")
	}
	if p.Memory.RelevanceThreshold < 0 || p.Memory.RelevanceThreshold > 1 {
		return errors.New("memory.relevance_threshold must be within [0, 1]")
	}

	if p.Driver == "sqlite" && p.DSN == "" {
		dataDir, err := checkDataDir(p.Data)
		if err != nil {
			slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
			return err
		}
		p.Data = dataDir
		p.DSN = filepath.Join(dataDir, fmt.Sprintf("mnemo_%s.db", p.Mode))
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("dsn is required for postgres")
	}

	return nil
}
