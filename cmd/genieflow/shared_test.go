package main

import (
	"path/filepath"
	"testing"

	"github.com/genieflow/genieflow/internal/common/config"
	"github.com/genieflow/genieflow/internal/common/logger"
	redisstore "github.com/genieflow/genieflow/internal/store/redis"
	sqlitestore "github.com/genieflow/genieflow/internal/store/sqlite"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	return log
}

func TestBuildStoreSQLiteBackend(t *testing.T) {
	cfg := &config.Config{
		Store:  config.StoreConfig{Backend: "sqlite", AppPrefix: "genieflow"},
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	}
	st, err := buildStore(cfg, testLogger(t))
	if err != nil {
		t.Fatalf("buildStore: %v", err)
	}
	if _, ok := st.(*sqlitestore.Store); !ok {
		t.Fatalf("expected *sqlite.Store, got %T", st)
	}
}

func TestBuildStoreRedisBackendDefault(t *testing.T) {
	cfg := &config.Config{
		Store: config.StoreConfig{Backend: "", AppPrefix: "genieflow"},
		Redis: config.RedisConfig{Addr: "127.0.0.1:6379"},
	}
	st, err := buildStore(cfg, testLogger(t))
	if err != nil {
		t.Fatalf("buildStore: %v", err)
	}
	if _, ok := st.(*redisstore.Store); !ok {
		t.Fatalf("expected an empty backend to default to *redis.Store, got %T", st)
	}
}

func TestBuildStoreUnknownBackendIsError(t *testing.T) {
	cfg := &config.Config{Store: config.StoreConfig{Backend: "bogus"}}
	if _, err := buildStore(cfg, testLogger(t)); err == nil {
		t.Fatal("expected an unknown store backend to be rejected")
	}
}
