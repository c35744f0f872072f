// Package config loads and validates the collector configuration.
//
// Configuration comes from a YAML file, with API credentials optionally
// overridden by environment variables (a .env file is honoured when
// present) so that secrets can stay out of the config file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Key is one API key pair for the exchange.
type Key struct {
	APIKey    string `yaml:"api_key" validate:"required"`
	APISecret string `yaml:"api_secret" validate:"required"`
}

// Keys groups the API keys by access level. Only the read-only key is
// required; a trading-scoped key is accepted but nothing in this
// process places orders with it.
type Keys struct {
	ReadOnly Key  `yaml:"read_only" validate:"required"`
	Trading  *Key `yaml:"trading,omitempty"`
}

// Config is the process configuration, loaded once at startup and
// read-only for the lifetime of the process.
type Config struct {
	// CurrencyPair in BASE-QUOTE form using exchange currency codes,
	// e.g. "Xbt-Aud". Whether the exchange supports the pair is
	// validated by the remote API, not locally.
	CurrencyPair string `yaml:"currency_pair" validate:"required"`

	PollIntervalSeconds  int `yaml:"poll_interval_seconds" validate:"gt=0"`
	FlushIntervalSeconds int `yaml:"flush_interval_seconds" validate:"gt=0"`

	// OutputPath is the append-only file flush records are written to.
	OutputPath string `yaml:"output_path" validate:"required"`

	// TolerateFlushLoss keeps the collector running when a flush
	// record could not be persisted after bounded retries. When false
	// a persistence failure is fatal.
	TolerateFlushLoss bool `yaml:"tolerate_flush_loss"`

	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`

	Keys Keys `yaml:"keys"`
}

func defaults() Config {
	return Config{
		CurrencyPair:         "Xbt-Aud",
		PollIntervalSeconds:  5,
		FlushIntervalSeconds: 3600,
		OutputPath:           "spread-bot.log",
		LogLevel:             "info",
	}
}

// PollInterval returns the sampling cadence as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// FlushInterval returns the flush cadence as a duration.
func (c Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalSeconds) * time.Second
}

// Base returns the primary (base) currency code of the configured pair.
func (c Config) Base() string { return strings.SplitN(c.CurrencyPair, "-", 2)[0] }

// Quote returns the secondary (quote) currency code of the configured pair.
func (c Config) Quote() string {
	parts := strings.SplitN(c.CurrencyPair, "-", 2)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// Load reads the configuration file at path, overlays credential
// environment variables and validates the result. A missing or
// malformed file, or a missing required field, is a startup-fatal
// error.
func Load(path string) (Config, error) {
	cfg := defaults()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}

	// .env is optional; ignore a missing file but honour one that exists.
	_ = godotenv.Load()
	if v := os.Getenv("IR_API_KEY"); v != "" {
		cfg.Keys.ReadOnly.APIKey = v
	}
	if v := os.Getenv("IR_API_SECRET"); v != "" {
		cfg.Keys.ReadOnly.APISecret = v
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	parts := strings.Split(c.CurrencyPair, "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("invalid currency_pair %q: expected BASE-QUOTE", c.CurrencyPair)
	}
	return nil
}

// Redacted returns a copy of the configuration with secrets masked,
// suitable for the dump-config subcommand.
func (c Config) Redacted() Config {
	out := c
	out.Keys.ReadOnly.APISecret = redact(c.Keys.ReadOnly.APISecret)
	if c.Keys.Trading != nil {
		t := *c.Keys.Trading
		t.APISecret = redact(t.APISecret)
		out.Keys.Trading = &t
	}
	return out
}

func redact(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + strings.Repeat("*", len(s)-4)
}
