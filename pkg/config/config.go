package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Veraticus/inactivity-detector/pkg/inactivity"
)

// Config holds all configuration for inactivity-detector
type Config struct {
	// Inactivity settings
	ThresholdMinutes float64  `yaml:"threshold_minutes" env:"INACTIVITY_THRESHOLD_MINUTES"`
	DebounceMillis   int      `yaml:"debounce_ms" env:"INACTIVITY_DEBOUNCE_MS"`
	Events           []string `yaml:"events" env:"INACTIVITY_EVENTS"`

	// Notification settings
	NtfyTopic  string `yaml:"ntfy_topic" env:"INACTIVITY_NTFY_TOPIC"`
	NtfyServer string `yaml:"ntfy_server" env:"INACTIVITY_NTFY_SERVER"`

	// Behavior flags
	Quiet bool `yaml:"quiet" env:"INACTIVITY_QUIET"`
	Mouse bool `yaml:"mouse" env:"INACTIVITY_MOUSE"`

	// Browser surface
	Listen         string   `yaml:"listen" env:"INACTIVITY_LISTEN"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	// Rate limiting
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Window      time.Duration `yaml:"window"`
	MaxMessages int           `yaml:"max_messages"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		ThresholdMinutes: inactivity.DefaultThreshold.Minutes(),
		DebounceMillis:   int(inactivity.DefaultDebounce / time.Millisecond),
		Events:           inactivity.DefaultEvents(),
		NtfyServer:       "https://ntfy.sh",
		Mouse:            true,
		RateLimit: RateLimitConfig{
			Window:      1 * time.Minute,
			MaxMessages: 5,
		},
	}
}

// Load loads configuration from file and environment
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Try to load from config file
	configPath := Path()
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with environment variables
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load from environment: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFile loads defaults, then the given file, then the environment.
// Unlike Load, a missing file is an error.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := loadFromFile(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Path returns the config file path
func Path() string {
	// Check for explicit config path
	if path := os.Getenv("INACTIVITY_CONFIG"); path != "" {
		return path
	}

	// Check XDG config directory
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "inactivity-detector", "config.yaml")
	}

	// Fall back to home directory
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "inactivity-detector", "config.yaml")
	}

	return ""
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(cfg *Config, path string) error {
	// #nosec G304 - The config file path comes from trusted sources (env var, flag or standard locations)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// loadFromEnv loads configuration from environment variables
func loadFromEnv(cfg *Config) error {
	if threshold := os.Getenv("INACTIVITY_THRESHOLD_MINUTES"); threshold != "" {
		v, err := strconv.ParseFloat(threshold, 64)
		if err != nil {
			return fmt.Errorf("invalid INACTIVITY_THRESHOLD_MINUTES: %w", err)
		}
		cfg.ThresholdMinutes = v
	}

	if debounce := os.Getenv("INACTIVITY_DEBOUNCE_MS"); debounce != "" {
		v, err := strconv.Atoi(debounce)
		if err != nil {
			return fmt.Errorf("invalid INACTIVITY_DEBOUNCE_MS: %w", err)
		}
		cfg.DebounceMillis = v
	}

	if events, ok := os.LookupEnv("INACTIVITY_EVENTS"); ok {
		cfg.Events = ParseList(events)
	}

	if topic := os.Getenv("INACTIVITY_NTFY_TOPIC"); topic != "" {
		cfg.NtfyTopic = topic
	}

	if server := os.Getenv("INACTIVITY_NTFY_SERVER"); server != "" {
		cfg.NtfyServer = server
	}

	if listen := os.Getenv("INACTIVITY_LISTEN"); listen != "" {
		cfg.Listen = listen
	}

	if quiet := os.Getenv("INACTIVITY_QUIET"); quiet != "" {
		v, err := parseBool(quiet)
		if err != nil {
			return fmt.Errorf("invalid INACTIVITY_QUIET value: %w", err)
		}
		cfg.Quiet = v
	}

	if mouse := os.Getenv("INACTIVITY_MOUSE"); mouse != "" {
		v, err := parseBool(mouse)
		if err != nil {
			return fmt.Errorf("invalid INACTIVITY_MOUSE value: %w", err)
		}
		cfg.Mouse = v
	}

	return nil
}

func parseBool(s string) (bool, error) {
	switch s {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	default:
		return false, fmt.Errorf("%q (use true/false)", s)
	}
}

// ParseList splits a comma-separated list, trimming blanks. An empty
// string yields an empty, non-nil list.
func ParseList(s string) []string {
	result := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}

// Upper bounds that still fit in a time.Duration.
const (
	maxThresholdMinutes = float64(math.MaxInt64) / float64(time.Minute)
	maxDebounceMillis   = int64(math.MaxInt64 / int64(time.Millisecond))
)

// Validate validates the configuration
func (c *Config) Validate() error {
	switch {
	case math.IsNaN(c.ThresholdMinutes) || c.ThresholdMinutes <= 0:
		return fmt.Errorf("%w: threshold_minutes must be positive, got %v", inactivity.ErrInvalidConfig, c.ThresholdMinutes)
	case c.ThresholdMinutes >= maxThresholdMinutes:
		return fmt.Errorf("%w: threshold_minutes %v is too large", inactivity.ErrInvalidConfig, c.ThresholdMinutes)
	case c.Threshold() <= 0:
		return fmt.Errorf("%w: threshold_minutes %v is shorter than a nanosecond", inactivity.ErrInvalidConfig, c.ThresholdMinutes)
	}

	if c.DebounceMillis < 0 {
		return fmt.Errorf("%w: debounce_ms must be non-negative, got %d", inactivity.ErrInvalidConfig, c.DebounceMillis)
	}
	if int64(c.DebounceMillis) > maxDebounceMillis {
		return fmt.Errorf("%w: debounce_ms %d is too large", inactivity.ErrInvalidConfig, c.DebounceMillis)
	}

	if err := c.MonitorOptions().Validate(); err != nil {
		return err
	}

	for _, name := range c.Events {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: events must not contain empty names", inactivity.ErrInvalidConfig)
		}
	}

	if c.RateLimit.MaxMessages < 0 {
		return fmt.Errorf("rate_limit.max_messages must be non-negative")
	}

	if c.RateLimit.Window < 0 {
		return fmt.Errorf("rate_limit.window must be non-negative")
	}

	return nil
}

// Threshold returns the inactivity threshold as a duration
func (c *Config) Threshold() time.Duration {
	return inactivity.MinutesToDuration(c.ThresholdMinutes)
}

// Debounce returns the debounce delay as a duration
func (c *Config) Debounce() time.Duration {
	return inactivity.MillisToDuration(c.DebounceMillis)
}

// MonitorOptions converts the configuration into monitor options. Surface,
// clock and logger are left for the caller.
func (c *Config) MonitorOptions() inactivity.Options {
	events := make([]string, len(c.Events))
	copy(events, c.Events)

	return inactivity.Options{
		Threshold: c.Threshold(),
		Debounce:  c.Debounce(),
		Events:    events,
	}
}
