package archivestore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/iangow/db2pq/internal/archivestore"
	"github.com/iangow/db2pq/internal/core"
)

func writeSource(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// storeUnderTest lets the filesystem and memory backends share one
// behavioral suite.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) core.ArchiveStore) {
	ctx := context.Background()

	t.Run("put moves the source file", func(t *testing.T) {
		store := newStore(t)
		src := writeSource(t, t.TempDir(), "dsf.parquet", []byte("v1"))

		if err := store.Put(ctx, src, "crsp/archive/dsf_a.parquet"); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if _, err := os.Stat(src); !os.IsNotExist(err) {
			t.Errorf("source file still present after Put: %v", err)
		}
		exists, err := store.Exists(ctx, "crsp/archive/dsf_a.parquet")
		if err != nil {
			t.Fatalf("Exists() error = %v", err)
		}
		if !exists {
			t.Error("Exists() = false after Put")
		}
	})

	t.Run("fetch copies and leaves the entry in place", func(t *testing.T) {
		store := newStore(t)
		src := writeSource(t, t.TempDir(), "dsf.parquet", []byte("payload"))
		if err := store.Put(ctx, src, "crsp/archive/dsf_a.parquet"); err != nil {
			t.Fatal(err)
		}

		dest := filepath.Join(t.TempDir(), "restored.parquet")
		if err := store.Fetch(ctx, "crsp/archive/dsf_a.parquet", dest); err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		data, err := os.ReadFile(dest)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "payload" {
			t.Errorf("fetched content = %q, want %q", data, "payload")
		}

		exists, err := store.Exists(ctx, "crsp/archive/dsf_a.parquet")
		if err != nil || !exists {
			t.Errorf("entry gone after Fetch: exists=%v err=%v", exists, err)
		}
	})

	t.Run("fetch of unknown key fails", func(t *testing.T) {
		store := newStore(t)
		dest := filepath.Join(t.TempDir(), "restored.parquet")
		if err := store.Fetch(ctx, "crsp/archive/nope.parquet", dest); err == nil {
			t.Error("Fetch() expected error for unknown key")
		}
	})

	t.Run("exists is false for unknown key", func(t *testing.T) {
		store := newStore(t)
		exists, err := store.Exists(ctx, "crsp/archive/nope.parquet")
		if err != nil {
			t.Fatalf("Exists() error = %v", err)
		}
		if exists {
			t.Error("Exists() = true for unknown key")
		}
	})

	t.Run("list filters by prefix and sorts", func(t *testing.T) {
		store := newStore(t)
		dir := t.TempDir()
		for _, key := range []string{
			"crsp/archive/msf_b.parquet",
			"crsp/archive/dsf_b.parquet",
			"crsp/archive/dsf_a.parquet",
			"comp/archive/funda_a.parquet",
		} {
			src := writeSource(t, dir, filepath.Base(key), []byte("x"))
			if err := store.Put(ctx, src, key); err != nil {
				t.Fatal(err)
			}
		}

		keys, err := store.List(ctx, "crsp/archive/dsf_")
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		want := []string{"crsp/archive/dsf_a.parquet", "crsp/archive/dsf_b.parquet"}
		if len(keys) != 2 || keys[0] != want[0] || keys[1] != want[1] {
			t.Errorf("List() = %v, want %v", keys, want)
		}
	})
}

func TestFileStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) core.ArchiveStore {
		store, err := archivestore.NewFileStore(t.TempDir())
		if err != nil {
			t.Fatalf("NewFileStore() error = %v", err)
		}
		return store
	})

	t.Run("requires a root", func(t *testing.T) {
		if _, err := archivestore.NewFileStore(""); err == nil {
			t.Error("NewFileStore(\"\") expected error")
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) core.ArchiveStore {
		return archivestore.NewMemoryStore()
	})
}
