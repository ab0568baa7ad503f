package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the server settings. Values come from defaults, then the
// optional YAML file named by CONFESSIONS_CONFIG, then the environment.
type Config struct {
	HTTPAddr        string        `yaml:"http_addr"`
	StaticDir       string        `yaml:"static_dir"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Store           StoreConfig   `yaml:"store"`
	Log             LogConfig     `yaml:"log"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Backend string `yaml:"backend"` // redis|sqlite
	Redis   struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	SQLite struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text|json
}

const (
	backendRedis  = "redis"
	backendSQLite = "sqlite"
)

// defaultConfig returns the settings used when nothing overrides them.
func defaultConfig() Config {
	var cfg Config
	cfg.HTTPAddr = ":3000"
	cfg.StaticDir = "public"
	cfg.ShutdownTimeout = 5 * time.Second
	cfg.Store.Backend = backendRedis
	cfg.Store.Redis.Addr = "localhost:6379"
	cfg.Store.SQLite.Path = "confessions.db"
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// LoadConfig reads .env if present and builds the config from the process
// environment.
func LoadConfig() (Config, error) {
	_ = godotenv.Load(".env")
	return loadConfig(os.Getenv)
}

// loadConfig layers the YAML file and the variables read through getenv over
// the defaults.
func loadConfig(getenv func(string) string) (Config, error) {
	cfg := defaultConfig()

	if path := getenv("CONFESSIONS_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// HTTP_ADDR wins over PORT
	if v := getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	} else if v := getenv("PORT"); v != "" {
		cfg.HTTPAddr = ":" + v
	}
	envString(getenv, "STATIC_DIR", &cfg.StaticDir)
	envString(getenv, "STORE_BACKEND", &cfg.Store.Backend)
	envString(getenv, "REDIS_ADDR", &cfg.Store.Redis.Addr)
	envString(getenv, "REDIS_PASSWORD", &cfg.Store.Redis.Password)
	envString(getenv, "SQLITE_PATH", &cfg.Store.SQLite.Path)
	envString(getenv, "LOG_LEVEL", &cfg.Log.Level)
	envString(getenv, "LOG_FORMAT", &cfg.Log.Format)
	if v := getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("REDIS_DB: %w", err)
		}
		cfg.Store.Redis.DB = n
	}
	if v := getenv("SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("SHUTDOWN_TIMEOUT: %w", err)
		}
		cfg.ShutdownTimeout = d
	}

	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	return cfg, cfg.validate()
}

// validate rejects unknown backends and log formats.
func (c Config) validate() error {
	switch c.Store.Backend {
	case backendRedis, backendSQLite:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("http address is empty")
	}
	return nil
}

// envString copies the variable key into dst when it is set.
func envString(getenv func(string) string, key string, dst *string) {
	if v := getenv(key); v != "" {
		*dst = v
	}
}
