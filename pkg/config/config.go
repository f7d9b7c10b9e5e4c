// Package config loads relay and client settings from a TOML file, with
// defaults for everything and environment overrides applied last.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/nstogner/expertchat/pkg/domain"
	"github.com/nstogner/expertchat/pkg/persona"
)

// Environment variables read by ApplyEnvOverrides.
const (
	EnvConfigPath  = "EXPERTCHAT_CONFIG"
	EnvGeminiKey   = "GEMINI_API_KEY"
	EnvUpstreamURL = "EXPERTCHAT_UPSTREAM_URL"
	EnvListen      = "EXPERTCHAT_LISTEN"
	EnvLogLevel    = "EXPERTCHAT_LOG_LEVEL"
)

// DefaultPath is used when neither a flag nor EXPERTCHAT_CONFIG names a file.
const DefaultPath = "expertchat.toml"

// Config is the complete configuration.
type Config struct {
	Listen      string `toml:"listen"`
	UpstreamURL string `toml:"upstream_url"`
	DBPath      string `toml:"db_path"`
	// RelayURL is where the chat client finds the relay.
	RelayURL string `toml:"relay_url"`
	// StaticDir, when set, is served at / as a single-page web UI.
	StaticDir string `toml:"static_dir"`

	Log       LogConfig       `toml:"log"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	RateLimit RateLimitConfig `toml:"rate_limit"`

	// Personas override built-in personas by id or add new ones.
	Personas []PersonaConfig `toml:"personas"`

	// GeminiAPIKey comes from the environment only.
	GeminiAPIKey string `toml:"-"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `toml:"level"`
	// File, when set, also writes logs to a rotated file.
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled bool `toml:"enabled"`
	// Dir receives the trace and metric files.
	Dir string `toml:"dir"`
}

// RateLimitConfig limits chat requests per client address. A zero
// PerSecond disables limiting.
type RateLimitConfig struct {
	PerSecond float64 `toml:"per_second"`
	Burst     int     `toml:"burst"`
}

// PersonaConfig describes one persona in the config file.
type PersonaConfig struct {
	ID           string `toml:"id"`
	DisplayName  string `toml:"display_name"`
	Title        string `toml:"title"`
	Description  string `toml:"description"`
	Style        string `toml:"style"`
	Backend      string `toml:"backend"`
	Model        string `toml:"model"`
	Instructions string `toml:"instructions"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:      ":8080",
		UpstreamURL: "http://localhost:8000/ask",
		DBPath:      "data/expertchat.db",
		RelayURL:    "http://localhost:8080",
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Telemetry: TelemetryConfig{Dir: "logs"},
		RateLimit: RateLimitConfig{PerSecond: 2, Burst: 5},
	}
}

// Load reads path over the defaults. A missing file is not an error when
// path was not given explicitly: an empty path falls back to
// EXPERTCHAT_CONFIG, then DefaultPath.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvConfigPath)
		explicit = path != ""
	}
	if path == "" {
		path = DefaultPath
	}

	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			cfg.ApplyEnvOverrides()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("failed to decode TOML file %s: %w", path, err)
	}
	cfg.fillDefaults()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Parse decodes TOML text over the defaults. Environment overrides are not applied.
func Parse(data string) (*Config, error) {
	cfg := Default()
	if _, err := toml.Decode(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode TOML: %w", err)
	}
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// fillDefaults restores defaults for values a file set to empty.
func (c *Config) fillDefaults() {
	d := Default()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.UpstreamURL == "" {
		c.UpstreamURL = d.UpstreamURL
	}
	if c.DBPath == "" {
		c.DBPath = d.DBPath
	}
	if c.RelayURL == "" {
		c.RelayURL = d.RelayURL
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Telemetry.Dir == "" {
		c.Telemetry.Dir = d.Telemetry.Dir
	}
}

// ApplyEnvOverrides applies environment variables on top of the file.
func (c *Config) ApplyEnvOverrides() {
	if key := os.Getenv(EnvGeminiKey); key != "" {
		c.GeminiAPIKey = key
	}
	if url := os.Getenv(EnvUpstreamURL); url != "" {
		c.UpstreamURL = url
	}
	if listen := os.Getenv(EnvListen); listen != "" {
		c.Listen = listen
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.Log.Level = level
	}
}

// Validate reports configuration errors.
func (c *Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	if c.RateLimit.PerSecond < 0 {
		errs = append(errs, errors.New("rate_limit.per_second must not be negative"))
	}
	if c.RateLimit.PerSecond > 0 && c.RateLimit.Burst < 1 {
		errs = append(errs, errors.New("rate_limit.burst must be at least 1"))
	}
	seen := make(map[string]bool)
	for i, p := range c.Personas {
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("personas[%d]: id is required", i))
			continue
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Errorf("personas[%d]: duplicate id %q", i, p.ID))
		}
		seen[p.ID] = true
		switch p.Backend {
		case "", domain.BackendLocal, domain.BackendGemini:
		default:
			errs = append(errs, fmt.Errorf("personas[%d]: unknown backend %q", i, p.Backend))
		}
	}
	return errors.Join(errs...)
}

// PersonaCatalog returns the built-in personas with the configured ones
// merged in. A configured persona replaces a built-in one field by field:
// empty fields keep the built-in value.
func (c *Config) PersonaCatalog() []domain.Persona {
	out := persona.Defaults()
	for _, pc := range c.Personas {
		i := -1
		for j := range out {
			if out[j].ID == pc.ID {
				i = j
				break
			}
		}
		if i < 0 {
			out = append(out, domain.Persona{ID: pc.ID})
			i = len(out) - 1
		}
		p := &out[i]
		setIf(&p.DisplayName, pc.DisplayName)
		setIf(&p.Title, pc.Title)
		setIf(&p.Description, pc.Description)
		setIf(&p.Style, pc.Style)
		setIf(&p.Backend, pc.Backend)
		setIf(&p.Model, pc.Model)
		setIf(&p.Instructions, pc.Instructions)
	}
	return out
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
