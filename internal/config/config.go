// ABOUTME: Configuration loading and parsing for the DM sync engine.
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied where the file leaves a field unset. The poll interval
// and cache capacity are deliberately configuration, not constants.
const (
	DefaultPollInterval    = 3 * time.Second
	DefaultCacheCapacity   = 8
	DefaultMessagePageSize = 50
	DefaultConvoPageSize   = 25
)

// Config represents the complete engine configuration for one identity.
type Config struct {
	Identity string         `yaml:"identity"` // did of the authenticated account
	Firehose FirehoseConfig `yaml:"firehose"`
	Cache    CacheConfig    `yaml:"cache"`
	Paging   PagingConfig   `yaml:"paging"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// FirehoseConfig holds poll-loop timing configuration.
type FirehoseConfig struct {
	PollInterval time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	PollIntervalRaw string `yaml:"poll_interval"`
}

// CacheConfig holds the channel cache bound.
type CacheConfig struct {
	Capacity int `yaml:"capacity"`
}

// PagingConfig holds page sizes for message history and the listing.
type PagingConfig struct {
	Messages      int `yaml:"messages"`
	Conversations int `yaml:"conversations"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config with every field at its default value. The
// identity must still be filled in by the caller.
func Default() *Config {
	return &Config{
		Firehose: FirehoseConfig{PollInterval: DefaultPollInterval},
		Cache:    CacheConfig{Capacity: DefaultCacheCapacity},
		Paging: PagingConfig{
			Messages:      DefaultMessagePageSize,
			Conversations: DefaultConvoPageSize,
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values and unset fields
// fall back to defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills unset fields with defaults.
func (c *Config) applyDefaults() {
	if c.Firehose.PollInterval == 0 {
		c.Firehose.PollInterval = DefaultPollInterval
	}
	if c.Cache.Capacity == 0 {
		c.Cache.Capacity = DefaultCacheCapacity
	}
	if c.Paging.Messages == 0 {
		c.Paging.Messages = DefaultMessagePageSize
	}
	if c.Paging.Conversations == 0 {
		c.Paging.Conversations = DefaultConvoPageSize
	}
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	if c.Identity == "" {
		return fmt.Errorf("identity is required")
	}
	if c.Firehose.PollInterval < 0 {
		return fmt.Errorf("firehose.poll_interval must be positive")
	}
	if c.Cache.Capacity < 1 {
		return fmt.Errorf("cache.capacity must be at least 1")
	}
	if c.Paging.Messages < 1 {
		return fmt.Errorf("paging.messages must be at least 1")
	}
	if c.Paging.Conversations < 1 {
		return fmt.Errorf("paging.conversations must be at least 1")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Firehose.PollIntervalRaw != "" {
		cfg.Firehose.PollInterval, err = time.ParseDuration(cfg.Firehose.PollIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing poll_interval %q: %w", cfg.Firehose.PollIntervalRaw, err)
		}
	}

	return nil
}
