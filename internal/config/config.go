package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App      AppConfig      `yaml:"app"`
	Store    StoreConfig    `yaml:"store"`
	Scraping ScrapingConfig `yaml:"scraping"`
	Sources  []Source       `yaml:"sources"`
}

type AppConfig struct {
	Addr     string `yaml:"addr"`
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`
}

// StoreConfig selects the persistence backend and how snapshots are written.
type StoreConfig struct {
	Backend        string `yaml:"backend"` // sqlite | postgres | file
	Path           string `yaml:"path"`    // sqlite file, relative to the data dir
	PostgresDSN    string `yaml:"postgres_dsn"`
	KeyringAccount string `yaml:"keyring_account"`
	MaxConns       int    `yaml:"max_conns"`

	Strategy        string `yaml:"strategy"` // replace | upsert
	DeleteOnRemoval bool   `yaml:"delete_on_removal"`
	EmptyResult     string `yaml:"empty_result"`  // hold | clear
	PartialWrite    string `yaml:"partial_write"` // rollback | continue
}

type ScrapingConfig struct {
	Workers           int         `yaml:"workers"`
	TimeoutSeconds    int         `yaml:"timeout_seconds"`
	UserAgent         string      `yaml:"user_agent"`
	RequestsPerSecond float64     `yaml:"requests_per_second"`
	Burst             int         `yaml:"burst"`
	Retry             RetryConfig `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts"`
	BaseDelaySeconds float64 `yaml:"base_delay_seconds"`
	Multiplier       float64 `yaml:"multiplier"`
}

// Source is one row of the scraper table.
type Source struct {
	ID              string            `yaml:"id"`
	Name            string            `yaml:"name"`
	Enabled         bool              `yaml:"enabled"`
	IntervalMinutes int               `yaml:"interval_minutes"`
	TimeoutSeconds  int               `yaml:"timeout_seconds,omitempty"`
	Kind            string            `yaml:"kind"`
	URL             string            `yaml:"url"`
	Item            string            `yaml:"item,omitempty"`
	Fields          map[string]string `yaml:"fields"`
	NextPage        string            `yaml:"next_page,omitempty"`
	MaxPages        int               `yaml:"max_pages,omitempty"`
	Headers         map[string]string `yaml:"headers,omitempty"`
}

func (s Source) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

func (s Source) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

func (c ScrapingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelaySeconds * float64(time.Second))
}

func Default() Config {
	var cfg Config
	cfg.App.Addr = "127.0.0.1:38471"
	cfg.App.DataDir = "."
	cfg.App.LogLevel = "info"

	cfg.Store.Backend = "sqlite"
	cfg.Store.Path = "listings.db"
	cfg.Store.MaxConns = 4
	cfg.Store.Strategy = "replace"
	cfg.Store.EmptyResult = "hold"
	cfg.Store.PartialWrite = "rollback"

	cfg.Scraping.Workers = 4
	cfg.Scraping.TimeoutSeconds = 300
	cfg.Scraping.RequestsPerSecond = 1
	cfg.Scraping.Burst = 2
	cfg.Scraping.Retry = RetryConfig{MaxAttempts: 3, BaseDelaySeconds: 1, Multiplier: 2}
	return cfg
}

// Load reads path over the defaults; keys absent from the file keep their default.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	err = yaml.Unmarshal(b, &cfg)
	return cfg, err
}
