// Package config provides YAML-based configuration loading for Orquestrix.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Orquestrix configuration, loaded from orquestrix.yaml.
type Config struct {
	Actor    ActorConfig    `yaml:"actor"`
	Database DatabaseConfig `yaml:"database"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Server   ServerConfig   `yaml:"server"`
	Sync     SyncConfig     `yaml:"sync"`
	Log      LogConfig      `yaml:"log"`
}

// ActorConfig names the operator every entry point acts on behalf of.
type ActorConfig struct {
	Username string `yaml:"username"`
	Email    string `yaml:"email"`
}

// DatabaseConfig selects the persistence driver and its location.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	Path   string `yaml:"path"`   // sqlite only
	DSN    string `yaml:"dsn"`    // mysql and postgres
}

// OpenAIConfig holds remote API credentials, model defaults and polling
// bounds. All timing values are in seconds.
type OpenAIConfig struct {
	APIKey            string  `yaml:"api_key"`
	BaseURL           string  `yaml:"base_url"`
	ChatModel         string  `yaml:"chat_model"`
	WorkerModel       string  `yaml:"worker_model"`
	RequestTimeout    float64 `yaml:"request_timeout"`
	PollInterval      float64 `yaml:"poll_interval"`
	PollTimeout       float64 `yaml:"poll_timeout"`
	WorkerPollTimeout float64 `yaml:"worker_poll_timeout"`
	StepsPollTimeout  float64 `yaml:"steps_poll_timeout"`
}

// ServerConfig holds settings for the JSON API server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// SyncConfig controls scheduled reconciliation pulls. An empty schedule
// disables them.
type SyncConfig struct {
	Schedule string `yaml:"schedule"`
}

// LogConfig selects the logger mode (dev or prod).
type LogConfig struct {
	Mode string `yaml:"mode"`
}

var validDrivers = map[string]bool{
	"sqlite":   true,
	"mysql":    true,
	"postgres": true,
}

// Load reads a YAML config file from path and returns a validated Config.
// A .env file next to the config file is loaded into the environment first
// when present; variables already set are not overridden.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load %s: %w", envFile, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config, applying
// environment overrides before defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides file values with OPENAI_* and database variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *float64) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("config: env %s: %w", key, err)
		}
		*dst = f
		return nil
	}

	str("OPENAI_API_KEY", &c.OpenAI.APIKey)
	str("OPENAI_BASE_URL", &c.OpenAI.BaseURL)
	str("OPENAI_CHAT_MODEL", &c.OpenAI.ChatModel)
	str("OPENAI_WORKER_MODEL", &c.OpenAI.WorkerModel)
	str("DB_FILE", &c.Database.Path)
	if v, ok := lookup("DATABASE_URL"); ok && strings.TrimSpace(v) != "" {
		c.Database.DSN = strings.TrimSpace(v)
		if c.Database.Driver == "" {
			c.Database.Driver = "postgres"
		}
	}

	for key, dst := range map[string]*float64{
		"OPENAI_REQUEST_TIMEOUT":    &c.OpenAI.RequestTimeout,
		"OPENAI_POLL_INTERVAL":      &c.OpenAI.PollInterval,
		"OPENAI_POLL_TIMEOUT":       &c.OpenAI.PollTimeout,
		"OPENAI_STEPS_POLL_TIMEOUT": &c.OpenAI.StepsPollTimeout,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Actor.Username == "" {
		c.Actor.Username = "admin"
	}
	if c.Actor.Email == "" {
		c.Actor.Email = c.Actor.Username + "@example.com"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = filepath.Join("instance", "orquestrix.db")
	}
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = "https://api.openai.com"
	}
	c.OpenAI.BaseURL = strings.TrimRight(c.OpenAI.BaseURL, "/")
	if c.OpenAI.ChatModel == "" {
		c.OpenAI.ChatModel = "gpt-4.5"
	}
	if c.OpenAI.WorkerModel == "" {
		c.OpenAI.WorkerModel = "gpt-4.1"
	}
	if c.OpenAI.RequestTimeout == 0 {
		c.OpenAI.RequestTimeout = 60
	}
	if c.OpenAI.PollInterval == 0 {
		c.OpenAI.PollInterval = 1.0
	}
	if c.OpenAI.PollTimeout == 0 {
		c.OpenAI.PollTimeout = 120
	}
	if c.OpenAI.WorkerPollTimeout == 0 {
		c.OpenAI.WorkerPollTimeout = 180
	}
	if c.OpenAI.StepsPollTimeout == 0 {
		c.OpenAI.StepsPollTimeout = 15
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Log.Mode == "" {
		c.Log.Mode = "dev"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if !validDrivers[c.Database.Driver] {
		errs = append(errs, fmt.Sprintf("database.driver %q must be one of sqlite, mysql, postgres", c.Database.Driver))
	}
	if c.Database.Driver != "sqlite" && c.Database.DSN == "" {
		errs = append(errs, fmt.Sprintf("database.dsn is required for driver %s", c.Database.Driver))
	}
	if c.OpenAI.RequestTimeout < 0 {
		errs = append(errs, "openai.request_timeout must be positive")
	}
	if c.OpenAI.PollInterval < 0 {
		errs = append(errs, "openai.poll_interval must be positive")
	}
	if c.OpenAI.PollTimeout < 0 || c.OpenAI.WorkerPollTimeout < 0 || c.OpenAI.StepsPollTimeout < 0 {
		errs = append(errs, "openai poll timeouts must be positive")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Seconds converts a fractional seconds value to a time.Duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
