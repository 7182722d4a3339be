package core

import (
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

const snapshotExt = ".parquet"

// SnapshotPath returns the canonical path of a table's live snapshot.
func SnapshotPath(dataDir, schema, table string) string {
	return filepath.Join(dataDir, schema, table+snapshotExt)
}

// TempPath returns the transient write path for a snapshot. It lives in
// the same directory so the final rename is atomic.
func TempPath(snapshotPath string) string {
	dir, base := filepath.Split(snapshotPath)
	return filepath.Join(dir, ".temp_"+base)
}

// ArchiveKey returns the archive-store key for one archived version.
func ArchiveKey(schema, archiveDir, table, stamp string) string {
	return path.Join(schema, archiveDir, table+"_"+stamp+snapshotExt)
}

// ArchivePrefix returns the key prefix shared by all archived versions
// of a table.
func ArchivePrefix(schema, archiveDir, table string) string {
	return path.Join(schema, archiveDir, table+"_")
}

// ListSnapshots returns the table names that have a live snapshot in
// the schema directory, sorted by name. Transient temp files are
// skipped.
func ListSnapshots(dataDir, schema string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dataDir, schema, "*"+snapshotExt))
	if err != nil {
		return nil, fmt.Errorf("listing snapshots for %s: %w", schema, err)
	}
	var tables []string
	for _, m := range matches {
		base := filepath.Base(m)
		if strings.HasPrefix(base, ".temp_") {
			continue
		}
		tables = append(tables, strings.TrimSuffix(base, snapshotExt))
	}
	sort.Strings(tables)
	return tables, nil
}
