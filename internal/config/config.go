package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g.
// RELAY_AGENT_TIMEOUT=90s.
const EnvPrefix = "RELAY_"

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

type LogConfig struct {
	Level    string `yaml:"level" env:"LEVEL"`       // trace|debug|info|warn|error
	Format   string `yaml:"format" env:"FORMAT"`     // json|console
	Sampling bool   `yaml:"sampling" env:"SAMPLING"` // enable sampling in prod
}

type AgentConfig struct {
	Runner       string        `yaml:"runner" env:"RUNNER"` // cli|echo
	Path         string        `yaml:"path" env:"PATH"`
	WorkDir      string        `yaml:"work_dir" env:"WORK_DIR"`
	OutputFormat string        `yaml:"output_format" env:"OUTPUT_FORMAT"` // text|stream-json
	DefaultModel string        `yaml:"default_model" env:"DEFAULT_MODEL"`
	Models       []string      `yaml:"models" env:"MODELS" envSeparator:","`
	Recommended  []string      `yaml:"recommended" env:"RECOMMENDED" envSeparator:","`
	Timeout      time.Duration `yaml:"timeout" env:"TIMEOUT"`
	WaitDelay    time.Duration `yaml:"wait_delay" env:"WAIT_DELAY"`
	// CreateChatTimeout bounds the "create-chat" subcommand.
	CreateChatTimeout time.Duration `yaml:"create_chat_timeout" env:"CREATE_CHAT_TIMEOUT"`
	EchoDelay         time.Duration `yaml:"echo_delay" env:"ECHO_DELAY"`
}

type JobsConfig struct {
	Workers          int           `yaml:"workers" env:"WORKERS"`
	Retention        time.Duration `yaml:"retention" env:"RETENTION"`
	SweepInterval    time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	DefaultListLimit int           `yaml:"default_list_limit" env:"DEFAULT_LIST_LIMIT"`
	MaxListLimit     int           `yaml:"max_list_limit" env:"MAX_LIST_LIMIT"`
}

type SQLiteConfig struct {
	Path          string `yaml:"path" env:"PATH"`
	PoolSize      int    `yaml:"pool_size" env:"POOL_SIZE"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms" env:"BUSY_TIMEOUT_MS"`
}

type PostgresConfig struct {
	URL           string        `yaml:"url" env:"URL"`
	MaxConns      int32         `yaml:"max_conns" env:"MAX_CONNS"`
	StatsInterval time.Duration `yaml:"stats_interval" env:"STATS_INTERVAL"`
}

type StoreConfig struct {
	Driver   string         `yaml:"driver" env:"DRIVER"` // sqlite|postgres|memory
	SQLite   SQLiteConfig   `yaml:"sqlite" envPrefix:"SQLITE_"`
	Postgres PostgresConfig `yaml:"postgres" envPrefix:"POSTGRES_"`
}

// RedisConfig is optional; with an empty URL the in-process lock is used
// and submits are not rate limited.
type RedisConfig struct {
	URL      string        `yaml:"url" env:"URL"`
	Password string        `yaml:"password" env:"PASSWORD"`
	DB       int           `yaml:"db" env:"DB"`
	LockTTL  time.Duration `yaml:"lock_ttl" env:"LOCK_TTL"`
}

type APIConfig struct {
	SubmitRateLimit  int           `yaml:"submit_rate_limit" env:"SUBMIT_RATE_LIMIT"` // 0 disables
	SubmitRateWindow time.Duration `yaml:"submit_rate_window" env:"SUBMIT_RATE_WINDOW"`
}

type Config struct {
	Server ServerConfig `yaml:"server" envPrefix:"SERVER_"`
	Log    LogConfig    `yaml:"log" envPrefix:"LOG_"`
	Agent  AgentConfig  `yaml:"agent" envPrefix:"AGENT_"`
	Jobs   JobsConfig   `yaml:"jobs" envPrefix:"JOBS_"`
	Store  StoreConfig  `yaml:"store" envPrefix:"STORE_"`
	Redis  RedisConfig  `yaml:"redis" envPrefix:"REDIS_"`
	API    APIConfig    `yaml:"api" envPrefix:"API_"`

	Runtime RuntimeConfig `yaml:"-"`
}

// DefaultModels is the agent CLI's accepted model list.
var DefaultModels = []string{
	"composer-1",
	"auto",
	"sonnet-4.5",
	"sonnet-4.5-thinking",
	"gpt-5",
	"gpt-5-codex",
	"gpt-5-codex-high",
	"opus-4.1",
	"grok",
}

// DefaultRecommended is advertised by the models endpoint.
var DefaultRecommended = []string{"sonnet-4.5-thinking", "sonnet-4.5", "gpt-5"}

// LoadConfig reads the YAML file at path (skipped when path is empty),
// applies RELAY_* environment overrides, then defaults and validation.
func LoadConfig(path string, dev bool) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	cfg.Runtime.Dev = dev
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
	cfg.Server.ReadTimeout = orDuration(cfg.Server.ReadTimeout, 10*time.Second)
	cfg.Server.WriteTimeout = orDuration(cfg.Server.WriteTimeout, 30*time.Second)
	cfg.Server.RequestTimeout = orDuration(cfg.Server.RequestTimeout, 15*time.Second)
	cfg.Server.ShutdownTimeout = orDuration(cfg.Server.ShutdownTimeout, 10*time.Second)

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	if cfg.Agent.Runner == "" {
		cfg.Agent.Runner = "cli"
	}
	if cfg.Agent.Path == "" {
		cfg.Agent.Path = "cursor-agent"
	}
	if cfg.Agent.OutputFormat == "" {
		cfg.Agent.OutputFormat = "text"
	}
	if len(cfg.Agent.Models) == 0 {
		cfg.Agent.Models = append([]string(nil), DefaultModels...)
	}
	if cfg.Agent.DefaultModel == "" {
		cfg.Agent.DefaultModel = "sonnet-4.5-thinking"
	}
	if len(cfg.Agent.Recommended) == 0 {
		cfg.Agent.Recommended = append([]string(nil), DefaultRecommended...)
	}
	cfg.Agent.Timeout = orDuration(cfg.Agent.Timeout, 120*time.Second)
	cfg.Agent.CreateChatTimeout = orDuration(cfg.Agent.CreateChatTimeout, 10*time.Second)
	cfg.Agent.WaitDelay = orDuration(cfg.Agent.WaitDelay, 2*time.Second)
	cfg.Agent.EchoDelay = orDuration(cfg.Agent.EchoDelay, 200*time.Millisecond)

	if cfg.Jobs.Workers <= 0 {
		cfg.Jobs.Workers = 4
	}
	cfg.Jobs.Retention = orDuration(cfg.Jobs.Retention, time.Hour)
	cfg.Jobs.SweepInterval = orDuration(cfg.Jobs.SweepInterval, 30*time.Minute)
	if cfg.Jobs.DefaultListLimit <= 0 {
		cfg.Jobs.DefaultListLimit = 20
	}
	if cfg.Jobs.MaxListLimit <= 0 {
		cfg.Jobs.MaxListLimit = 100
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
		if cfg.Runtime.Dev {
			cfg.Store.Driver = "memory"
		}
	}
	if cfg.Store.SQLite.Path == "" {
		cfg.Store.SQLite.Path = defaultIDEDatabase()
	}
	if cfg.Store.SQLite.BusyTimeoutMS <= 0 {
		cfg.Store.SQLite.BusyTimeoutMS = 5000
	}
	cfg.Store.Postgres.StatsInterval = orDuration(cfg.Store.Postgres.StatsInterval, 15*time.Second)

	cfg.Redis.LockTTL = orDuration(cfg.Redis.LockTTL, 30*time.Second)
	cfg.API.SubmitRateWindow = orDuration(cfg.API.SubmitRateWindow, time.Minute)
}

// Validate performs minimal sanity checks on a defaulted config.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "sqlite", "memory":
	case "postgres":
		if c.Store.Postgres.URL == "" {
			errs = append(errs, errors.New("store.postgres.url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q: want sqlite, postgres or memory", c.Store.Driver))
	}
	if c.Agent.Runner != "cli" && c.Agent.Runner != "echo" {
		errs = append(errs, fmt.Errorf("agent.runner %q: want cli or echo", c.Agent.Runner))
	}
	if c.Agent.OutputFormat != "text" && c.Agent.OutputFormat != "stream-json" {
		errs = append(errs, fmt.Errorf("agent.output_format %q: want text or stream-json", c.Agent.OutputFormat))
	}
	if !slices.Contains(c.Agent.Models, c.Agent.DefaultModel) {
		errs = append(errs, fmt.Errorf("agent.default_model %q is not in agent.models", c.Agent.DefaultModel))
	}
	for _, m := range c.Agent.Recommended {
		if !slices.Contains(c.Agent.Models, m) {
			errs = append(errs, fmt.Errorf("agent.recommended %q is not in agent.models", m))
		}
	}
	if c.Jobs.DefaultListLimit > c.Jobs.MaxListLimit {
		errs = append(errs, errors.New("jobs.default_list_limit exceeds jobs.max_list_limit"))
	}
	return errors.Join(errs...)
}

func orDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// defaultIDEDatabase is the IDE's global state database for this user.
func defaultIDEDatabase() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "state.vscdb"
	}
	return filepath.Join(dir, "Cursor", "User", "globalStorage", "state.vscdb")
}
