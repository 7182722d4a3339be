package core

import (
	"context"
	"errors"
	"time"
)

// Conditions reported by a SnapshotStore when no usable timestamp is
// recorded locally. All three mean the snapshot cannot vouch for any
// source state; callers treat them as "never synchronized".
var (
	ErrNoSnapshot  = errors.New("snapshot does not exist")
	ErrNoMetadata  = errors.New("snapshot has no last_modified metadata")
	ErrBadMetadata = errors.New("snapshot last_modified metadata is malformed")
)

// SnapshotStore persists columnar snapshots with an embedded
// last_modified value.
type SnapshotStore interface {
	// LastModified reads the embedded timestamp without scanning row
	// data. Reports ErrNoSnapshot, ErrNoMetadata, or ErrBadMetadata
	// (possibly wrapped) when no usable timestamp is recorded.
	LastModified(path string) (time.Time, error)

	// Write consumes src and installs a complete snapshot at path.
	// A failure mid-write must leave any previous snapshot at path
	// intact. A zero lastModified writes no metadata key.
	Write(ctx context.Context, path string, src RowSource, lastModified time.Time) error

	// Read loads a snapshot back into memory.
	Read(path string) ([]Column, [][]any, error)
}

// ArchiveStore holds superseded snapshots. Keys are slash-separated
// paths relative to the data root. Entries are immutable once put.
type ArchiveStore interface {
	// Put moves the file at srcPath into the store under key.
	Put(ctx context.Context, srcPath, key string) error

	// Fetch copies the entry at key to destPath, leaving the entry in
	// place.
	Fetch(ctx context.Context, key, destPath string) error

	Exists(ctx context.Context, key string) (bool, error)

	// List returns keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Querier runs read-only SQL against the remote source.
type Querier interface {
	Tables(ctx context.Context, schema string) ([]string, error)
	Columns(ctx context.Context, ref TableRef) ([]Column, error)

	// Comment returns the table comment, or "" when none is set.
	Comment(ctx context.Context, ref TableRef) (string, error)

	// Select streams the given columns in order; the returned source
	// reports exactly these columns. where is an opaque predicate passed
	// through verbatim; limit <= 0 means no limit; batchSize <= 0
	// delivers the whole result as one batch.
	Select(ctx context.Context, ref TableRef, columns []Column, where string, limit, batchSize int) (RowSource, error)
}

// RemoteExecutor runs a command on the remote host and returns its
// stdout. Used only to obtain legacy "last modified" listings when the
// source timestamp is not queryable.
type RemoteExecutor interface {
	RunRemote(ctx context.Context, command string) (string, error)
}

// Journal records synchronization attempts. A journal failure must not
// fail the sync itself.
type Journal interface {
	Record(ctx context.Context, rec SyncRecord) error
}

// SyncRecord is one journal entry.
type SyncRecord struct {
	ID             string
	Schema         string
	Table          string
	Refreshed      bool
	RemoteModified time.Time
	LocalModified  time.Time
	Error          string
	StartedAt      time.Time
	FinishedAt     time.Time
}

// TableRef identifies a (schema, table) pair in the remote source.
type TableRef struct {
	Schema string
	Table  string
}

func (r TableRef) String() string { return r.Schema + "." + r.Table }
