package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(envMap(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":3000" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.Store.Backend != backendRedis || cfg.Store.Redis.Addr != "localhost:6379" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.StaticDir != "public" || cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func TestLoadConfigEnv(t *testing.T) {
	cfg, err := loadConfig(envMap(map[string]string{
		"PORT":             "8081",
		"STORE_BACKEND":    "SQLite",
		"SQLITE_PATH":      "/tmp/c.db",
		"REDIS_DB":         "2",
		"LOG_FORMAT":       "json",
		"SHUTDOWN_TIMEOUT": "1s",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8081" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.Store.Backend != backendSQLite || cfg.Store.SQLite.Path != "/tmp/c.db" || cfg.Store.Redis.DB != 2 {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.ShutdownTimeout != time.Second {
		t.Errorf("ShutdownTimeout = %s", cfg.ShutdownTimeout)
	}

	cfg, err = loadConfig(envMap(map[string]string{"PORT": "8081", "HTTP_ADDR": "127.0.0.1:9000"}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:9000" {
		t.Errorf("HTTP_ADDR should win over PORT, got %q", cfg.HTTPAddr)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
http_addr: ":4000"
shutdown_timeout: 2s
store:
  backend: redis
  redis:
    addr: "redis:6379"
    db: 1
log:
  level: debug
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadConfig(envMap(map[string]string{
		"CONFESSIONS_CONFIG": path,
		"REDIS_ADDR":         "override:6379",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":4000" || cfg.ShutdownTimeout != 2*time.Second {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Store.Redis.Addr != "override:6379" || cfg.Store.Redis.DB != 1 {
		t.Errorf("redis = %+v", cfg.Store.Redis)
	}
	if cfg.Log.Level != "debug" || cfg.StaticDir != "public" {
		t.Errorf("unexpected config %+v", cfg)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	for name, env := range map[string]map[string]string{
		"backend":     {"STORE_BACKEND": "mongo"},
		"log format":  {"LOG_FORMAT": "xml"},
		"redis db":    {"REDIS_DB": "one"},
		"timeout":     {"SHUTDOWN_TIMEOUT": "soon"},
		"config file": {"CONFESSIONS_CONFIG": filepath.Join(t.TempDir(), "missing.yaml")},
	} {
		if _, err := loadConfig(envMap(env)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
