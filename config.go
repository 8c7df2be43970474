package jsvm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
)

const (
	DefaultMemoryLimit  = 128 << 20
	DefaultMaxStackSize = 4 << 20
	DefaultHTTPTimeout  = 30 * time.Second
)

// envPrefix prefixes every environment variable read by LoadConfig.
const envPrefix = "JSVM"

// Config holds the construction parameters of a VM. Zero fields take
// their defaults in New.
type Config struct {
	MemoryLimit  int64 `envconfig:"MEMORY_LIMIT" toml:"memory_limit" yaml:"memory_limit"`
	MaxStackSize int64 `envconfig:"MAX_STACK_SIZE" toml:"max_stack_size" yaml:"max_stack_size"`

	// Timeout bounds the wall-clock time of each evaluation. 0 is unbounded.
	Timeout  time.Duration `envconfig:"TIMEOUT" toml:"timeout" yaml:"timeout"`
	Features []Feature     `envconfig:"FEATURES" toml:"features" yaml:"features"`

	// MaxLogEntries caps the log buffer, dropping the oldest entry when
	// full. 0 keeps every entry.
	MaxLogEntries int `envconfig:"MAX_LOG_ENTRIES" toml:"max_log_entries" yaml:"max_log_entries"`

	// WorkDir is the initial directory of the std and os features. It
	// defaults to the process working directory.
	WorkDir     string        `envconfig:"WORK_DIR" toml:"work_dir" yaml:"work_dir"`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" toml:"http_timeout" yaml:"http_timeout"`

	// LogLevel, when set, makes the loaders build Logger with NewLogger.
	LogLevel       string `envconfig:"LOG_LEVEL" toml:"log_level" yaml:"log_level"`
	LogDevelopment bool   `envconfig:"LOG_DEV" toml:"log_development" yaml:"log_development"`

	Logger  *zap.Logger `ignored:"true" toml:"-" yaml:"-"`
	Metrics *Metrics    `ignored:"true" toml:"-" yaml:"-"`
}

// DefaultConfig returns the configuration of a VM with no features and no
// timeout.
func DefaultConfig() Config {
	return Config{
		MemoryLimit:  DefaultMemoryLimit,
		MaxStackSize: DefaultMaxStackSize,
		HTTPTimeout:  DefaultHTTPTimeout,
	}
}

// LoadConfig reads the configuration from JSVM_* environment variables on
// top of DefaultConfig.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// LoadConfigFile reads a TOML or YAML file, chosen by extension, then
// applies JSVM_* environment overrides.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		return Config{}, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	if err := envconfig.Process(envPrefix, c); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if c.LogLevel != "" && c.Logger == nil {
		logger, err := NewLogger(c.LogLevel, c.LogDevelopment)
		if err != nil {
			return err
		}
		c.Logger = logger
	}
	return nil
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MemoryLimit == 0 {
		c.MemoryLimit = d.MemoryLimit
	}
	if c.MaxStackSize == 0 {
		c.MaxStackSize = d.MaxStackSize
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = d.HTTPTimeout
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var errs []error
	if c.MemoryLimit <= 0 {
		errs = append(errs, fmt.Errorf("memory limit must be positive, got %d", c.MemoryLimit))
	}
	if c.MaxStackSize <= 0 {
		errs = append(errs, fmt.Errorf("max stack size must be positive, got %d", c.MaxStackSize))
	} else if c.MemoryLimit > 0 && c.MaxStackSize > c.MemoryLimit {
		errs = append(errs, fmt.Errorf("max stack size %d exceeds memory limit %d", c.MaxStackSize, c.MemoryLimit))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative, got %v", c.Timeout))
	}
	if c.HTTPTimeout < 0 {
		errs = append(errs, fmt.Errorf("HTTP timeout must not be negative, got %v", c.HTTPTimeout))
	}
	if c.MaxLogEntries < 0 {
		errs = append(errs, fmt.Errorf("max log entries must not be negative, got %d", c.MaxLogEntries))
	}
	for _, f := range c.Features {
		if !f.known() {
			errs = append(errs, fmt.Errorf("unsupported feature %q", f))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidArgument, errors.Join(errs...))
}
