package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig     `json:"server"`
	Providers []ProviderConfig `json:"providers"`
	Gateway   GatewayConfig    `json:"gateway"`
	Database  DatabaseConfig   `json:"database"`
	Assistant AssistantConfig  `json:"assistant"`
}

type ServerConfig struct {
	Port            int      `json:"port"`
	LogLevel        string   `json:"log_level"`
	AllowedOrigins  []string `json:"allowed_origins,omitempty"`
	ShutdownTimeout Duration `json:"shutdown_timeout"`
}

type ProviderConfig struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Name     string            `json:"name"`
	Endpoint string            `json:"endpoint"`
	APIKey   string            `json:"api_key"`
	Models   []string          `json:"models,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
	Timeout  Duration          `json:"timeout,omitempty"`
}

type GatewayConfig struct {
	Slack   SlackGatewayConfig   `json:"slack"`
	Discord DiscordGatewayConfig `json:"discord"`
}

type SlackGatewayConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	AppToken string `json:"app_token"`
}

type DiscordGatewayConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN           string `json:"dsn"`
	MigrationsDir string `json:"migrations_dir"`
	// UserID scopes ledger reads to one account.
	UserID int64 `json:"user_id"`
}

type RedisConfig struct {
	URL string `json:"url"`
	// TraceMaxLen caps each trace stream; older entries are trimmed.
	TraceMaxLen int64 `json:"trace_max_len"`
}

// AssistantConfig tunes the query pipeline.
type AssistantConfig struct {
	RateLimit      RateLimitConfig `json:"rate_limit"`
	Session        SessionConfig   `json:"session"`
	Workers        int             `json:"workers"`
	RequestTimeout Duration        `json:"request_timeout"`
	Planner        PurposeConfig   `json:"planner"`
	Aggregator     PurposeConfig   `json:"aggregator"`
	Pricing        PurposeConfig   `json:"pricing"`
	Categories     []string        `json:"categories,omitempty"`
}

type RateLimitConfig struct {
	PerMinute int `json:"per_minute"`
	PerDay    int `json:"per_day"`
}

type SessionConfig struct {
	TTL           Duration `json:"ttl"`
	MaxSessions   int      `json:"max_sessions"`
	MaxTurns      int      `json:"max_turns"`
	SweepInterval Duration `json:"sweep_interval"`
}

// PurposeConfig binds one kind of LLM call to a provider.
type PurposeConfig struct {
	Provider  string   `json:"provider,omitempty"`
	Model     string   `json:"model,omitempty"`
	Fallbacks []string `json:"fallbacks,omitempty"`
}

// Duration is a time.Duration that reads "30m"-style strings or nanoseconds.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		d.Duration = time.Duration(val)
	case string:
		if val == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		d.Duration = parsed
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

// DefaultCategories are the spending categories recognised without a ledger.
var DefaultCategories = []string{
	"Food", "Groceries", "Transport", "Shopping", "Entertainment",
	"Utilities", "Rent", "Health", "Travel", "Education", "Subscriptions",
}

// Default returns a configuration that runs without a file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            3210,
			LogLevel:        "development",
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: Duration{10 * time.Second},
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{MigrationsDir: "migrations", UserID: 1},
			Redis:    RedisConfig{TraceMaxLen: 1000},
		},
		Assistant: AssistantConfig{
			RateLimit: RateLimitConfig{PerMinute: 15, PerDay: 1500},
			Session: SessionConfig{
				TTL:           Duration{30 * time.Minute},
				MaxSessions:   1000,
				MaxTurns:      10,
				SweepInterval: Duration{time.Minute},
			},
			RequestTimeout: Duration{30 * time.Second},
			Categories:     append([]string(nil), DefaultCategories...),
		},
	}
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file over Default and substitutes environment
// variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes config bytes over Default.
func Parse(data []byte) (*Config, error) {
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})

	cfg := Default()
	if err := json.Unmarshal([]byte(resolved), cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path when it exists. A missing file is only an error
// when required is set.
func LoadOrDefault(path string, required bool) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !required && errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return nil, err
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	a := c.Assistant
	if a.RateLimit.PerMinute <= 0 || a.RateLimit.PerDay <= 0 {
		return errors.New("assistant.rate_limit: per_minute and per_day must be positive")
	}
	if a.RateLimit.PerMinute > a.RateLimit.PerDay {
		return errors.New("assistant.rate_limit: per_minute exceeds per_day")
	}
	if a.Session.TTL.Duration <= 0 {
		return errors.New("assistant.session.ttl must be positive")
	}
	if a.Workers < 0 {
		return errors.New("assistant.workers must not be negative")
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.ID == "" {
			return errors.New("provider with empty id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}
