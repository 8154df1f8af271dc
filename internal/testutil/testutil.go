// Package testutil provides shared test helpers for setting up the
// store and index databases.
package testutil

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/store"
)

// TestStore creates a temporary note store that is automatically cleaned up.
func TestStore(t *testing.T) *store.DB {
	t.Helper()
	f, err := os.CreateTemp("", "ansuz-store-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := store.Open(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestIndex creates a temporary index database that is automatically cleaned up.
func TestIndex(t *testing.T) *index.DB {
	t.Helper()
	f, err := os.CreateTemp("", "ansuz-index-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := index.Open(f.Name(), 2)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Logger returns a quiet logger for tests.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// Eventually polls fn every tick until it returns true or timeout elapses.
func Eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}
