package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Server      ServerConfig     `toml:"server"`
	Storage     StorageConfig    `toml:"storage"`
	Logging     LoggingConfig    `toml:"logging"`
	Research    ResearchConfig   `toml:"research"`
	Collectors  CollectorsConfig `toml:"collectors"`
	Claude      ClaudeConfig     `toml:"claude"`
	Supervisor  SupervisorConfig `toml:"supervisor"`
	Scheduler   SchedulerConfig  `toml:"scheduler"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"gt=0,lte=65535"`
	Host string `toml:"host" validate:"required"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string        `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool          `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
	GCInterval     time.Duration `toml:"gc_interval"`              // Value-log garbage collection cadence; 0 disables
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// ResearchConfig contains pipeline-wide research defaults
type ResearchConfig struct {
	DefaultMaxItems       int           `toml:"default_max_items" validate:"gt=0"`        // Volume limit when a configuration omits one
	DefaultMaxPerSub      int           `toml:"default_max_per_sub" validate:"gt=0"`      // Per-sub-community volume limit
	MinPrefilterRelevance float64       `toml:"min_prefilter_relevance" validate:"gte=0"` // Items below this never reach the AI provider
	ProgressFlushEvery    int           `toml:"progress_flush_every" validate:"gt=0"`     // Flush counters to storage every N items
	ProgressFlushInterval time.Duration `toml:"progress_flush_interval"`                  // ...or after this long, whichever first
}

// CollectorsConfig contains per-platform collector configuration
type CollectorsConfig struct {
	Forum      ForumConfig      `toml:"forum"`
	Aggregator AggregatorConfig `toml:"aggregator"`
	CodeHost   CodeHostConfig   `toml:"codehost"`
}

// ForumConfig configures the discussion-forum collector (Reddit-style JSON API)
type ForumConfig struct {
	BaseURL        string        `toml:"base_url"`
	UserAgent      string        `toml:"user_agent"`
	RateLimit      time.Duration `toml:"rate_limit"`      // Minimum spacing between requests
	RequestTimeout time.Duration `toml:"request_timeout"` // HTTP request timeout
}

// AggregatorConfig configures the news-aggregator collector (Algolia-style search API)
type AggregatorConfig struct {
	BaseURL        string        `toml:"base_url"`
	RateLimit      time.Duration `toml:"rate_limit"`
	RequestTimeout time.Duration `toml:"request_timeout"`
}

// CodeHostConfig configures the code-hosting collector (GitHub API)
type CodeHostConfig struct {
	Token          string        `toml:"token"` // Personal access token; unauthenticated when empty
	RateLimit      time.Duration `toml:"rate_limit"`
	RequestTimeout time.Duration `toml:"request_timeout"`
}

// ClaudeConfig contains Anthropic Claude API configuration for the analysis stage
type ClaudeConfig struct {
	APIKey        string        `toml:"api_key"`        // Anthropic API key
	Model         string        `toml:"model"`          // Model for analysis (default: "claude-haiku-3-5-20241022")
	MaxTokens     int           `toml:"max_tokens"`     // Maximum tokens in response (default: 1024)
	Timeout       time.Duration `toml:"timeout"`        // Per-item request timeout
	RetryAttempts int           `toml:"retry_attempts"` // Attempt ceiling for transient failures
	Concurrency   int           `toml:"concurrency"`    // Bounded parallelism for item analysis
}

// SupervisorConfig controls stage lease behavior
type SupervisorConfig struct {
	LeaseTTL          time.Duration `toml:"lease_ttl"`          // Lease without a heartbeat renewal within this window is dead
	HeartbeatInterval time.Duration `toml:"heartbeat_interval"` // How often a running stage renews its lease
	CancelGracePeriod time.Duration `toml:"cancel_grace_period"`
	LogDir            string        `toml:"log_dir"` // Directory for per-stage log files
}

// SchedulerConfig controls recurring research runs
type SchedulerConfig struct {
	Enabled bool `toml:"enabled"`
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability;
// only user-facing settings should be exposed in indago.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:       "./data",
				GCInterval: 5 * time.Minute,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Research: ResearchConfig{
			DefaultMaxItems:       100,
			DefaultMaxPerSub:      25,
			MinPrefilterRelevance: 0.1,
			ProgressFlushEvery:    10,
			ProgressFlushInterval: 5 * time.Second,
		},
		Collectors: CollectorsConfig{
			Forum: ForumConfig{
				BaseURL:        "https://www.reddit.com",
				UserAgent:      "indago-research/1.0",
				RateLimit:      2 * time.Second, // Reddit asks unauthenticated clients to stay under 30 rpm
				RequestTimeout: 30 * time.Second,
			},
			Aggregator: AggregatorConfig{
				BaseURL:        "https://hn.algolia.com/api/v1",
				RateLimit:      500 * time.Millisecond,
				RequestTimeout: 30 * time.Second,
			},
			CodeHost: CodeHostConfig{
				RateLimit:      time.Second,
				RequestTimeout: 30 * time.Second,
			},
		},
		Claude: ClaudeConfig{
			Model:         "claude-haiku-3-5-20241022",
			MaxTokens:     1024,
			Timeout:       60 * time.Second,
			RetryAttempts: 4,
			Concurrency:   4,
		},
		Supervisor: SupervisorConfig{
			LeaseTTL:          90 * time.Second,
			HeartbeatInterval: 15 * time.Second,
			CancelGracePeriod: 10 * time.Second,
			LogDir:            "./logs/stages",
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
		},
	}
}

// LoadFromFiles loads configuration with overlay semantics:
// defaults -> file1 -> file2 -> ... -> environment variables.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies INDAGO_* environment variables on top of file config
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("INDAGO_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
	if v := os.Getenv("INDAGO_HOST"); v != "" {
		config.Server.Host = v
	}
	if v := os.Getenv("INDAGO_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("INDAGO_DATA_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		config.Claude.APIKey = v
	}
	if v := os.Getenv("INDAGO_GITHUB_TOKEN"); v != "" {
		config.Collectors.CodeHost.Token = v
	}
}

// ApplyFlagOverrides applies command-line flag values (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks structural constraints on the resolved configuration
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Supervisor.HeartbeatInterval >= c.Supervisor.LeaseTTL {
		return fmt.Errorf("invalid configuration: supervisor heartbeat interval %s must be shorter than lease TTL %s",
			c.Supervisor.HeartbeatInterval, c.Supervisor.LeaseTTL)
	}
	return nil
}

// ValidateSchedule verifies a cron expression is parseable before it is
// stored on a research configuration.
func ValidateSchedule(schedule string) error {
	if schedule == "" {
		return nil // Schedule is optional
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return nil
}

// IsProduction returns true when running with environment = "production"
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
