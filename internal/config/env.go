package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvAddr          = "SCRAPER_ADDR"
	EnvDataDir       = "SCRAPER_DATA_DIR"
	EnvLogLevel      = "SCRAPER_LOG_LEVEL"
	EnvStoreBackend  = "SCRAPER_STORE_BACKEND"
	EnvPostgresDSN   = "SCRAPER_POSTGRES_DSN"
	EnvStoreStrategy = "SCRAPER_STORE_STRATEGY"
)

// LoadDotEnv loads KEY=VALUE pairs from files into the environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// ApplyEnv overrides cfg with any SCRAPER_* variables that are set.
func ApplyEnv(cfg *Config) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.App.Addr, EnvAddr)
	set(&cfg.App.DataDir, EnvDataDir)
	set(&cfg.App.LogLevel, EnvLogLevel)
	set(&cfg.Store.Backend, EnvStoreBackend)
	set(&cfg.Store.PostgresDSN, EnvPostgresDSN)
	set(&cfg.Store.Strategy, EnvStoreStrategy)
}

// DataDir resolves the data dir before any config file is read.
func DataDir() string {
	if v := strings.TrimSpace(os.Getenv(EnvDataDir)); v != "" {
		return v
	}
	return "."
}
