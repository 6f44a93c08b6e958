// Package testutil provides shared test helpers for setting up databases and
// media directories.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/HyServers/hyservers-web/internal/search"
	"github.com/HyServers/hyservers-web/internal/storage"
	"github.com/HyServers/hyservers-web/internal/store"
)

func tempDBPath(t *testing.T, pattern string) string {
	t.Helper()
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() {
		os.Remove(f.Name())
		os.Remove(f.Name() + "-wal")
		os.Remove(f.Name() + "-shm")
	})
	return f.Name()
}

// TestStore creates a temporary record store that is automatically cleaned up.
func TestStore(t *testing.T) *store.SQLite {
	t.Helper()
	db, err := store.Open(tempDBPath(t, "hyservers-store-*.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestEngine creates a temporary search engine that is automatically cleaned up.
func TestEngine(t *testing.T) *search.SQLite {
	t.Helper()
	e, err := search.Open(tempDBPath(t, "hyservers-search-*.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

// TestMedia creates a temporary media directory with a storage.Provider.
func TestMedia(t *testing.T) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	p, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, p
}

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
