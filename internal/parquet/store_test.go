package parquet_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	pq "github.com/parquet-go/parquet-go"

	"github.com/iangow/db2pq/internal/core"
	"github.com/iangow/db2pq/internal/parquet"
)

func snapshotPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "crsp", "dsf.parquet")
}

func TestStore_WriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := parquet.NewStore()
	path := snapshotPath(t)

	cols := []core.Column{
		{Name: "permno", Type: core.TypeInt},
		{Name: "ret", Type: core.TypeFloat},
		{Name: "ticker", Type: core.TypeString},
		{Name: "active", Type: core.TypeBool},
		{Name: "date", Type: core.TypeDate},
		{Name: "updated", Type: core.TypeTimestamp},
	}
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	instant := time.Date(2024, 1, 15, 21, 30, 0, 0, time.UTC)
	rows := [][]any{
		{int64(10001), 0.0145, "IBM", true, day, instant},
		{int64(10002), nil, nil, false, nil, nil},
	}
	lastModified := time.Date(2024, 1, 15, 21, 30, 0, 0, time.UTC)

	src := core.NewSliceSource(cols, rows, 1)
	if err := store.Write(ctx, path, src, lastModified); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := store.LastModified(path)
	if err != nil {
		t.Fatalf("LastModified() error = %v", err)
	}
	if !got.Equal(lastModified) {
		t.Errorf("LastModified() = %v, want %v", got, lastModified)
	}

	gotCols, gotRows, err := store.Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(gotRows) != 2 {
		t.Fatalf("Read() returned %d rows, want 2", len(gotRows))
	}
	byName := make(map[string]int, len(gotCols))
	for i, c := range gotCols {
		byName[c.Name] = i
	}

	if v := gotRows[0][byName["permno"]]; v != int64(10001) {
		t.Errorf("permno = %v (%T), want 10001", v, v)
	}
	if v := gotRows[0][byName["ret"]]; v != 0.0145 {
		t.Errorf("ret = %v, want 0.0145", v)
	}
	if v := gotRows[0][byName["ticker"]]; v != "IBM" {
		t.Errorf("ticker = %v, want IBM", v)
	}
	if v := gotRows[0][byName["active"]]; v != true {
		t.Errorf("active = %v, want true", v)
	}
	if v := gotRows[0][byName["date"]].(time.Time); !v.Equal(day) {
		t.Errorf("date = %v, want %v", v, day)
	}
	if v := gotRows[0][byName["updated"]].(time.Time); !v.Equal(instant) {
		t.Errorf("updated = %v, want %v", v, instant)
	}
	for _, name := range []string{"ret", "ticker", "date", "updated"} {
		if v := gotRows[1][byName[name]]; v != nil {
			t.Errorf("row 1 %s = %v, want nil", name, v)
		}
	}
}

func TestStore_LastModified(t *testing.T) {
	ctx := context.Background()
	store := parquet.NewStore()
	cols := []core.Column{{Name: "n", Type: core.TypeInt}}

	t.Run("missing file", func(t *testing.T) {
		_, err := store.LastModified(snapshotPath(t))
		if !errors.Is(err, core.ErrNoSnapshot) {
			t.Errorf("error = %v, want ErrNoSnapshot", err)
		}
	})

	t.Run("zero time writes no metadata", func(t *testing.T) {
		path := snapshotPath(t)
		src := core.NewSliceSource(cols, [][]any{{int64(1)}}, 0)
		if err := store.Write(ctx, path, src, time.Time{}); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		_, err := store.LastModified(path)
		if !errors.Is(err, core.ErrNoMetadata) {
			t.Errorf("error = %v, want ErrNoMetadata", err)
		}
	})

	t.Run("malformed metadata value", func(t *testing.T) {
		path := snapshotPath(t)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		f, err := os.Create(path)
		if err != nil {
			t.Fatal(err)
		}
		w := pq.NewGenericWriter[map[string]any](f,
			pq.NewSchema("dsf", pq.Group{"n": pq.Optional(pq.Int(64))}),
			pq.KeyValueMetadata("last_modified", "sometime in march"))
		if _, err := w.Write([]map[string]any{{"n": int64(1)}}); err != nil {
			t.Fatal(err)
		}
		if err := w.Close(); err != nil {
			t.Fatal(err)
		}
		f.Close()

		_, err = store.LastModified(path)
		if !errors.Is(err, core.ErrBadMetadata) {
			t.Errorf("error = %v, want ErrBadMetadata", err)
		}
	})

	t.Run("file that is not parquet", func(t *testing.T) {
		path := snapshotPath(t)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("definitely not parquet"), 0644); err != nil {
			t.Fatal(err)
		}
		_, err := store.LastModified(path)
		if !errors.Is(err, core.ErrBadMetadata) {
			t.Errorf("error = %v, want ErrBadMetadata", err)
		}
	})
}

// failingSource delivers one batch and then fails.
type failingSource struct {
	cols []core.Column
	sent bool
}

func (s *failingSource) Columns() []core.Column { return s.cols }

func (s *failingSource) Next(ctx context.Context) ([][]any, error) {
	if s.sent {
		return nil, fmt.Errorf("source connection lost")
	}
	s.sent = true
	return [][]any{{int64(1)}}, nil
}

func (s *failingSource) Close() error { return nil }

func TestStore_Write_failureKeepsPreviousSnapshot(t *testing.T) {
	ctx := context.Background()
	store := parquet.NewStore()
	path := snapshotPath(t)
	cols := []core.Column{{Name: "n", Type: core.TypeInt}}
	stamp := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	src := core.NewSliceSource(cols, [][]any{{int64(42)}}, 0)
	if err := store.Write(ctx, path, src, stamp); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	err := store.Write(ctx, path, &failingSource{cols: cols}, stamp.Add(time.Hour))
	if err == nil {
		t.Fatal("Write() expected error from failing source")
	}

	// The original snapshot survives and no temp file is left behind.
	got, err := store.LastModified(path)
	if err != nil {
		t.Fatalf("LastModified() after failed write: %v", err)
	}
	if !got.Equal(stamp) {
		t.Errorf("timestamp = %v, want %v", got, stamp)
	}
	if _, err := os.Stat(core.TempPath(path)); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}

	_, rows, err := store.Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(rows) != 1 || rows[0][0] != int64(42) {
		t.Errorf("rows = %v, want original [42]", rows)
	}
}

func TestStore_Write_contextCancellation(t *testing.T) {
	store := parquet.NewStore()
	path := snapshotPath(t)
	cols := []core.Column{{Name: "n", Type: core.TypeInt}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := core.NewSliceSource(cols, [][]any{{int64(1)}}, 0)
	err := store.Write(ctx, path, src, time.Time{})
	if err == nil {
		t.Fatal("Write() expected error for cancelled context")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("snapshot installed despite cancellation: %v", err)
	}
}

func TestStore_Read_missingFile(t *testing.T) {
	store := parquet.NewStore()
	_, _, err := store.Read(snapshotPath(t))
	if !errors.Is(err, core.ErrNoSnapshot) {
		t.Errorf("error = %v, want ErrNoSnapshot", err)
	}
}
