// ABOUTME: Configuration loading and parsing for coven-bot
// ABOUTME: Supports TOML or YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvPath names the environment variable that overrides the config location.
const EnvPath = "COVEN_BOT_CONFIG"

// Config represents the complete coven-bot configuration
type Config struct {
	Matrix   MatrixConfig   `toml:"matrix" yaml:"matrix"`
	Bot      BotConfig      `toml:"bot" yaml:"bot"`
	Autojoin AutojoinConfig `toml:"autojoin" yaml:"autojoin"`
	Logging  LoggingConfig  `toml:"logging" yaml:"logging"`
}

// MatrixConfig holds the homeserver account the bot logs in as
type MatrixConfig struct {
	Homeserver string `toml:"homeserver" yaml:"homeserver"`
	Username   string `toml:"username" yaml:"username"`
	Password   string `toml:"password" yaml:"password"` // prompted for when empty
	DeviceName string `toml:"device_name" yaml:"device_name"`
}

// BotConfig holds the bot's identity and message policy
type BotConfig struct {
	Name              string `toml:"name" yaml:"name"`
	AllowList         string `toml:"allow_list" yaml:"allow_list"`
	StateDir          string `toml:"state_dir" yaml:"state_dir"`
	CommandPrefix     string `toml:"command_prefix" yaml:"command_prefix"`
	RoomSizeLimit     int    `toml:"room_size_limit" yaml:"room_size_limit"`
	DisableEncryption bool   `toml:"disable_encryption" yaml:"disable_encryption"`
}

// AutojoinConfig holds invite handling and join retry timing
type AutojoinConfig struct {
	Enabled      bool          `toml:"enabled" yaml:"enabled"`
	InitialDelay time.Duration `toml:"-" yaml:"-"`
	MaxDelay     time.Duration `toml:"-" yaml:"-"`

	// Raw string values for unmarshaling
	InitialDelayRaw string `toml:"initial_delay" yaml:"initial_delay"`
	MaxDelayRaw     string `toml:"max_delay" yaml:"max_delay"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// DefaultPath returns the config location used when neither a flag nor
// COVEN_BOT_CONFIG names one.
func DefaultPath() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "coven", "bot.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "coven", "bot.toml")
	}
	return filepath.Join(home, ".config", "coven", "bot.toml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .yaml or .yml are parsed as YAML, anything else as TOML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(string(data), formatOf(path))
}

// Format is a config file syntax.
type Format int

const (
	FormatTOML Format = iota
	FormatYAML
)

func formatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// Parse decodes, expands, and validates config text.
func Parse(text string, format Format) (*Config, error) {
	expanded := expandEnvVars(text)

	var cfg Config
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	u, err := url.Parse(c.Matrix.Homeserver)
	if err != nil {
		return fmt.Errorf("matrix.homeserver is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("matrix.homeserver must use http or https scheme")
	}
	if c.Matrix.Username == "" {
		return fmt.Errorf("matrix.username is required")
	}
	if c.Bot.RoomSizeLimit < 0 {
		return fmt.Errorf("bot.room_size_limit must not be negative")
	}
	if c.Autojoin.InitialDelay < 0 || c.Autojoin.MaxDelay < 0 {
		return fmt.Errorf("autojoin delays must not be negative")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Autojoin.InitialDelayRaw != "" {
		cfg.Autojoin.InitialDelay, err = time.ParseDuration(cfg.Autojoin.InitialDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing initial_delay %q: %w", cfg.Autojoin.InitialDelayRaw, err)
		}
	}

	if cfg.Autojoin.MaxDelayRaw != "" {
		cfg.Autojoin.MaxDelay, err = time.ParseDuration(cfg.Autojoin.MaxDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing max_delay %q: %w", cfg.Autojoin.MaxDelayRaw, err)
		}
	}

	return nil
}
