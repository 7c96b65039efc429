// Package config holds the transfer settings shared by the upload and
// download engines, with loaders for YAML files and GFILE_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/bitrise-io/gfile/internal/errs"
	"github.com/bitrise-io/go-utils/v2/env"
	"gopkg.in/yaml.v3"
)

// DefaultLandingURL is the page the upload server name is scraped from.
const DefaultLandingURL = "https://gigafile.nu/"

// Config defines the transfer settings.
type Config struct {
	// ChunkSize is the upload granularity. Peak in-flight memory is about
	// Workers * ChunkSize.
	ChunkSize int64

	// CopySize is the read granularity used while building chunk bodies and
	// while streaming downloads to disk.
	CopySize int64

	// Workers is the size of the upload worker pool.
	Workers int

	// Progress enables the terminal progress reporter.
	Progress bool

	// SerializeLastChunk uploads the last chunk after the pool drained
	// instead of inside the pool.
	SerializeLastChunk bool

	// Lifetime is the retention hint, in days, sent with every chunk.
	Lifetime int

	// LandingURL is fetched to discover the upload server. Its scheme is
	// also used to reach the upload server.
	LandingURL string

	// ShareURLPattern is a regular expression matching share URLs, with the
	// file id as its first group. Empty selects the built-in pattern.
	ShareURLPattern string

	Retry RetryConfig

	Verbose bool
}

// RetryConfig configures transport level retries.
type RetryConfig struct {
	Attempts int
	WaitMin  time.Duration
	WaitMax  time.Duration
}

// Default returns a Config with the defaults of the command line tool.
func Default() Config {
	return Config{
		ChunkSize:  100 * 1024 * 1024,
		CopySize:   1024 * 1024,
		Workers:    4,
		Progress:   true,
		Lifetime:   7,
		LandingURL: DefaultLandingURL,
		Retry: RetryConfig{
			Attempts: 4,
			WaitMin:  time.Second,
			WaitMax:  30 * time.Second,
		},
	}
}

type yamlConfig struct {
	ChunkSize          string          `yaml:"chunk_size"`
	CopySize           string          `yaml:"copy_size"`
	Workers            int             `yaml:"workers"`
	Progress           *bool           `yaml:"progress"`
	SerializeLastChunk bool            `yaml:"serialize_last_chunk"`
	Lifetime           int             `yaml:"lifetime"`
	LandingURL         string          `yaml:"landing_url"`
	ShareURLPattern    string          `yaml:"share_url_pattern"`
	Retry              yamlRetryConfig `yaml:"retry"`
	Verbose            bool            `yaml:"verbose"`
}

type yamlRetryConfig struct {
	Attempts int    `yaml:"attempts"`
	WaitMin  string `yaml:"wait_min"`
	WaitMax  string `yaml:"wait_max"`
}

// LoadFromFile loads configuration from a YAML file on top of Default().
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errs.IO("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, errs.InvalidArgument("parse config file: %w", err)
	}

	cfg := Default()
	if yc.ChunkSize != "" {
		if cfg.ChunkSize, err = ParseSize(yc.ChunkSize); err != nil {
			return Config{}, fmt.Errorf("parse chunk_size: %w", err)
		}
	}
	if yc.CopySize != "" {
		if cfg.CopySize, err = ParseSize(yc.CopySize); err != nil {
			return Config{}, fmt.Errorf("parse copy_size: %w", err)
		}
	}
	if yc.Workers != 0 {
		cfg.Workers = yc.Workers
	}
	if yc.Progress != nil {
		cfg.Progress = *yc.Progress
	}
	cfg.SerializeLastChunk = yc.SerializeLastChunk
	if yc.Lifetime != 0 {
		cfg.Lifetime = yc.Lifetime
	}
	if yc.LandingURL != "" {
		cfg.LandingURL = yc.LandingURL
	}
	cfg.ShareURLPattern = yc.ShareURLPattern
	if yc.Retry.Attempts != 0 {
		cfg.Retry.Attempts = yc.Retry.Attempts
	}
	if yc.Retry.WaitMin != "" {
		if cfg.Retry.WaitMin, err = time.ParseDuration(yc.Retry.WaitMin); err != nil {
			return Config{}, errs.InvalidArgument("parse retry.wait_min: %w", err)
		}
	}
	if yc.Retry.WaitMax != "" {
		if cfg.Retry.WaitMax, err = time.ParseDuration(yc.Retry.WaitMax); err != nil {
			return Config{}, errs.InvalidArgument("parse retry.wait_max: %w", err)
		}
	}
	cfg.Verbose = yc.Verbose

	return cfg, nil
}

// LoadFromEnv overrides c with GFILE_* variables found in envRepo.
func (c *Config) LoadFromEnv(envRepo env.Repository) error {
	var err error
	if v := envRepo.Get("GFILE_CHUNK_SIZE"); v != "" {
		if c.ChunkSize, err = ParseSize(v); err != nil {
			return fmt.Errorf("parse GFILE_CHUNK_SIZE: %w", err)
		}
	}
	if v := envRepo.Get("GFILE_COPY_SIZE"); v != "" {
		if c.CopySize, err = ParseSize(v); err != nil {
			return fmt.Errorf("parse GFILE_COPY_SIZE: %w", err)
		}
	}
	if v := envRepo.Get("GFILE_WORKERS"); v != "" {
		if c.Workers, err = strconv.Atoi(v); err != nil {
			return errs.InvalidArgument("parse GFILE_WORKERS: %w", err)
		}
	}
	if v := envRepo.Get("GFILE_PROGRESS"); v != "" {
		c.Progress = isTrue(v)
	}
	if v := envRepo.Get("GFILE_SERIALIZE_LAST_CHUNK"); v != "" {
		c.SerializeLastChunk = isTrue(v)
	}
	if v := envRepo.Get("GFILE_LIFETIME"); v != "" {
		if c.Lifetime, err = strconv.Atoi(v); err != nil {
			return errs.InvalidArgument("parse GFILE_LIFETIME: %w", err)
		}
	}
	if v := envRepo.Get("GFILE_LANDING_URL"); v != "" {
		c.LandingURL = v
	}
	if v := envRepo.Get("GFILE_SHARE_URL_PATTERN"); v != "" {
		c.ShareURLPattern = v
	}
	if v := envRepo.Get("GFILE_RETRY_ATTEMPTS"); v != "" {
		if c.Retry.Attempts, err = strconv.Atoi(v); err != nil {
			return errs.InvalidArgument("parse GFILE_RETRY_ATTEMPTS: %w", err)
		}
	}
	if v := envRepo.Get("GFILE_VERBOSE"); v != "" {
		c.Verbose = isTrue(v)
	}
	return nil
}

func isTrue(v string) bool {
	b, err := strconv.ParseBool(v)
	return (err == nil && b) || v == "yes"
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return errs.InvalidArgument("config: chunk size must be positive")
	}
	if c.CopySize <= 0 {
		return errs.InvalidArgument("config: copy size must be positive")
	}
	if c.Workers < 1 {
		return errs.InvalidArgument("config: workers must be at least 1")
	}
	if c.Lifetime < 0 {
		return errs.InvalidArgument("config: lifetime must not be negative")
	}
	if c.Retry.Attempts < 0 {
		return errs.InvalidArgument("config: retry attempts must not be negative")
	}
	if c.Retry.WaitMax < c.Retry.WaitMin {
		return errs.InvalidArgument("config: retry wait_max is below wait_min")
	}
	if c.ShareURLPattern != "" {
		re, err := regexp.Compile(c.ShareURLPattern)
		if err != nil {
			return errs.InvalidArgument("config: share URL pattern: %w", err)
		}
		if re.NumSubexp() < 1 {
			return errs.InvalidArgument("config: share URL pattern has no file id group")
		}
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored; boolean switches can only be turned on.
func (c Config) Merge(override Config) Config {
	if override.ChunkSize != 0 {
		c.ChunkSize = override.ChunkSize
	}
	if override.CopySize != 0 {
		c.CopySize = override.CopySize
	}
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.Progress {
		c.Progress = true
	}
	if override.SerializeLastChunk {
		c.SerializeLastChunk = true
	}
	if override.Lifetime != 0 {
		c.Lifetime = override.Lifetime
	}
	if override.LandingURL != "" {
		c.LandingURL = override.LandingURL
	}
	if override.ShareURLPattern != "" {
		c.ShareURLPattern = override.ShareURLPattern
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.WaitMin != 0 {
		c.Retry.WaitMin = override.Retry.WaitMin
	}
	if override.Retry.WaitMax != 0 {
		c.Retry.WaitMax = override.Retry.WaitMax
	}
	if override.Verbose {
		c.Verbose = true
	}
	return c
}
