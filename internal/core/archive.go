package core

import (
	"context"
	"fmt"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"
)

// DefaultArchiveDir is the directory name under each schema where
// archived snapshots are kept.
const DefaultArchiveDir = "archive"

// Stamp format for archive file names: UTC, filename-safe, lexically
// sortable in wall-clock order.
const archiveStampFormat = "20060102T150405Z"

// What follows "<table>_" in a well-formed archive file name: the stamp,
// an optional collision counter, and the extension. Anything else after
// the prefix belongs to a different table whose name merely starts with
// this one (dsf vs dsf_old).
var archiveStampRe = regexp.MustCompile(`^\d{8}T\d{6}Z(_\d+)?\.parquet$`)

// Archiver moves superseded snapshots into the archive store and
// restores them. Archived entries are immutable; repeated archival of
// the same table produces distinct, chronologically sorting keys.
type Archiver struct {
	store ArchiveStore
	clock Clock
	dir   string
}

func NewArchiver(store ArchiveStore, clock Clock, dir string) *Archiver {
	if dir == "" {
		dir = DefaultArchiveDir
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &Archiver{store: store, clock: clock, dir: dir}
}

// Archive moves the snapshot at snapshotPath into the archive, stamped
// with the archival moment. Archiving a nonexistent snapshot is a
// no-op returning an empty key — first-time writes have nothing to
// archive. Two archivals within the same second get a counter suffix
// rather than overwriting one another.
func (a *Archiver) Archive(ctx context.Context, snapshotPath, schema, table string) (string, error) {
	if _, err := os.Stat(snapshotPath); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("stat %s: %w", snapshotPath, err)
	}
	stamp := a.clock.Now().UTC().Format(archiveStampFormat)
	key := ArchiveKey(schema, a.dir, table, stamp)
	for n := 2; ; n++ {
		exists, err := a.store.Exists(ctx, key)
		if err != nil {
			return "", fmt.Errorf("checking archive %s: %w", key, err)
		}
		if !exists {
			break
		}
		key = ArchiveKey(schema, a.dir, table, fmt.Sprintf("%s_%d", stamp, n))
	}
	if err := a.store.Put(ctx, snapshotPath, key); err != nil {
		return "", fmt.Errorf("archiving %s: %w", snapshotPath, err)
	}
	return key, nil
}

// Restore copies an archived snapshot back to the live path. It fails
// without touching anything when the archived entry does not exist.
func (a *Archiver) Restore(ctx context.Context, key, snapshotPath string) error {
	exists, err := a.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("checking archive %s: %w", key, err)
	}
	if !exists {
		return fmt.Errorf("archived snapshot not found: %s", key)
	}
	if err := a.store.Fetch(ctx, key, snapshotPath); err != nil {
		return fmt.Errorf("restoring %s: %w", key, err)
	}
	return nil
}

// List returns the archive keys for a table, oldest first.
func (a *Archiver) List(ctx context.Context, schema, table string) ([]string, error) {
	keys, err := a.store.List(ctx, ArchivePrefix(schema, a.dir, table))
	if err != nil {
		return nil, fmt.Errorf("listing archives for %s.%s: %w", schema, table, err)
	}
	matched := keys[:0]
	for _, key := range keys {
		rest := strings.TrimPrefix(path.Base(key), table+"_")
		if archiveStampRe.MatchString(rest) {
			matched = append(matched, key)
		}
	}
	sort.Strings(matched)
	return matched, nil
}

// Find returns the archive key for a specific stamp, or the most recent
// key when stamp is empty.
func (a *Archiver) Find(ctx context.Context, schema, table, stamp string) (string, error) {
	keys, err := a.List(ctx, schema, table)
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", fmt.Errorf("no archived snapshots for %s.%s", schema, table)
	}
	if stamp == "" {
		return keys[len(keys)-1], nil
	}
	for _, key := range keys {
		if strings.HasSuffix(key, "_"+stamp+snapshotExt) {
			return key, nil
		}
	}
	return "", fmt.Errorf("no archived snapshot for %s.%s with stamp %s", schema, table, stamp)
}
