// Package kvtest opens every kv backend for package tests, the way the
// carstore tests run one suite against each store implementation.
package kvtest

import (
	"log/slog"
	"testing"

	"github.com/bluesky-social/arbor/kv"
	"github.com/bluesky-social/arbor/kv/badgerkv"
	"github.com/bluesky-social/arbor/kv/gormkv"
	"github.com/bluesky-social/arbor/kv/pebblekv"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Factory opens a fresh, empty store. The store is closed by t.Cleanup.
type Factory func(t testing.TB) kv.Store

// Backends lists every store implementation by name.
var Backends = map[string]Factory{
	"memory": Memory,
	"pebble": Pebble,
	"badger": Badger,
	"sqlite": Sqlite,
}

func Memory(t testing.TB) kv.Store {
	s := kv.NewMemory()
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func Pebble(t testing.TB) kv.Store {
	s, err := pebblekv.OpenMem(Logger(t))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func Badger(t testing.TB) kv.Store {
	s, err := badgerkv.OpenInMemory(Logger(t))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func Sqlite(t testing.TB) kv.Store {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 logger.Discard,
	})
	if err != nil {
		t.Fatal(err)
	}
	sqldb, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	// every pooled connection would get its own in-memory database
	sqldb.SetMaxOpenConns(1)

	s, err := gormkv.NewGormstore(db, "nodes")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type testWriter struct {
	t testing.TB
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}

// Logger writes through t.Log at debug level.
func Logger(t testing.TB) *slog.Logger {
	hopts := slog.HandlerOptions{
		Level: slog.LevelDebug,
	}
	return slog.New(slog.NewTextHandler(&testWriter{t}, &hopts))
}
