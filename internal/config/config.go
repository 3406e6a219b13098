package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Feed      FeedConfig      `yaml:"feed"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Auth      AuthConfig      `yaml:"auth"`
	State     StateConfig     `yaml:"state"`
	Archive   ArchiveConfig   `yaml:"archive"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type HTTPConfig struct {
	Addr           string        `yaml:"addr"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

type FeedConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Timeout       time.Duration `yaml:"timeout"`
	FetchInterval time.Duration `yaml:"fetch_interval"`
	MaxInterval   time.Duration `yaml:"max_interval"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	StartupDelay  time.Duration `yaml:"startup_delay"`
	HistoryLimit  int           `yaml:"history_limit"`
}

type SimulatorConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
}

type AuthConfig struct {
	// Secret falls back to COINSIM_JWT_SECRET when unset in the file.
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type ArchiveConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":5000"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.Feed.BaseURL == "" {
		cfg.Feed.BaseURL = "https://api.coingecko.com"
	}
	if cfg.Feed.Timeout == 0 {
		cfg.Feed.Timeout = 10 * time.Second
	}
	if cfg.Feed.FetchInterval == 0 {
		cfg.Feed.FetchInterval = 5 * time.Minute
	}
	if cfg.Feed.MaxInterval == 0 {
		cfg.Feed.MaxInterval = 15 * time.Minute
	}
	if cfg.Feed.CacheTTL == 0 {
		cfg.Feed.CacheTTL = 2 * time.Minute
	}
	if cfg.Feed.StartupDelay == 0 {
		cfg.Feed.StartupDelay = 2 * time.Second
	}
	if cfg.Feed.HistoryLimit == 0 {
		cfg.Feed.HistoryLimit = 100
	}
	if cfg.Simulator.TickInterval == 0 {
		cfg.Simulator.TickInterval = time.Minute
	}
	if cfg.Auth.Secret == "" {
		cfg.Auth.Secret = os.Getenv("COINSIM_JWT_SECRET")
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 7 * 24 * time.Hour
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/coinsim.db"
	}
	if cfg.Archive.DSN == "" {
		cfg.Archive.DSN = os.Getenv("COINSIM_ARCHIVE_DSN")
	}
	if cfg.Archive.Schema == "" {
		cfg.Archive.Schema = "public"
	}
	if cfg.Archive.QueueSize == 0 {
		cfg.Archive.QueueSize = 256
	}
}

func validate(cfg *Config) error {
	if cfg.Auth.Secret == "" {
		return errors.New("auth.secret (or COINSIM_JWT_SECRET) is required")
	}
	if cfg.Feed.MaxInterval < cfg.Feed.FetchInterval {
		return errors.New("feed.max_interval must be >= feed.fetch_interval")
	}
	if cfg.Feed.CacheTTL < 0 {
		return errors.New("feed.cache_ttl must be >= 0")
	}
	if cfg.Feed.HistoryLimit < 1 {
		return errors.New("feed.history_limit must be >= 1")
	}
	if cfg.Simulator.TickInterval <= 0 {
		return errors.New("simulator.tick_interval must be > 0")
	}
	if cfg.Archive.Enabled && cfg.Archive.DSN == "" {
		return errors.New("archive.dsn (or COINSIM_ARCHIVE_DSN) is required when archive is enabled")
	}
	return nil
}
