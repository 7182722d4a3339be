package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// DefaultBatchSize is the number of rows delivered per batch when
// batched extraction is requested without an explicit size.
const DefaultBatchSize = 1 << 20

// SyncService coordinates the staleness check, archival, and snapshot
// write for each table. One writer per (schema, table) snapshot path is
// assumed; concurrent invocations against the same table are the
// caller's responsibility to serialize.
type SyncService struct {
	querier  Querier
	store    SnapshotStore
	archiver *Archiver
	remote   RemoteExecutor
	journal  Journal
	logger   Logger
	clock    Clock
	idgen    IDGenerator

	dataDir   string
	loc       *time.Location // zone for wall-clock timestamp columns
	sourceLoc *time.Location // zone for source comment timestamps
}

// ServiceOptions carries the engine-wide settings.
type ServiceOptions struct {
	DataDir        string
	Location       *time.Location // zoneless column interpretation, UTC when nil
	SourceLocation *time.Location // source signal interpretation, UTC when nil
}

// NewSyncService creates a SyncService with the provided dependencies.
// remote and journal may be nil; logger, clock and idgen fall back to
// no-op/real implementations when nil.
func NewSyncService(querier Querier, store SnapshotStore, archiver *Archiver, remote RemoteExecutor, journal Journal, logger Logger, clock Clock, idgen IDGenerator, opts ServiceOptions) *SyncService {
	if logger == nil {
		logger = NewNopLogger()
	}
	if clock == nil {
		clock = RealClock{}
	}
	if idgen == nil {
		idgen = UUIDGenerator{}
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	sourceLoc := opts.SourceLocation
	if sourceLoc == nil {
		sourceLoc = time.UTC
	}
	return &SyncService{
		querier:   querier,
		store:     store,
		archiver:  archiver,
		remote:    remote,
		journal:   journal,
		logger:    logger,
		clock:     clock,
		idgen:     idgen,
		dataDir:   opts.DataDir,
		loc:       loc,
		sourceLoc: sourceLoc,
	}
}

// SyncOptions controls a single table export or synchronization.
type SyncOptions struct {
	Rules         Rules
	Where         string // opaque row predicate, passed through verbatim
	Limit         int    // row limit, 0 = all rows
	Batched       bool
	BatchSize     int
	Archive       bool
	Force         bool   // refresh regardless of the staleness decision
	UseRemote     bool   // consult the legacy remote listing signal
	RemoteCommand string // command producing the legacy listing
	AltName       string // alternate snapshot basename
}

// Sync refreshes the local snapshot for ref when it is stale relative
// to the remote source. Returns true iff a new snapshot was written.
func (s *SyncService) Sync(ctx context.Context, ref TableRef, opts SyncOptions) (bool, error) {
	started := s.clock.Now()

	remote, err := s.remoteLastModified(ctx, ref, opts)
	if err != nil {
		s.record(ctx, ref, false, remote, time.Time{}, err, started)
		return false, err
	}

	name := opts.AltName
	if name == "" {
		name = ref.Table
	}
	path := SnapshotPath(s.dataDir, ref.Schema, name)
	local := s.localLastModified(path)

	if !opts.Force && !IsStale(remote, local) {
		s.logger.Info("snapshot up to date", "table", ref.String())
		s.record(ctx, ref, false, remote, local, nil, started)
		return false, nil
	}
	if opts.Force {
		s.logger.Info("forcing refresh", "table", ref.String())
	} else {
		s.logger.Info("refresh available", "table", ref.String(), "remote", remote, "local", local)
	}

	if err := s.refresh(ctx, ref, name, path, remote, opts); err != nil {
		s.record(ctx, ref, false, remote, local, err, started)
		return false, err
	}
	s.record(ctx, ref, true, remote, local, nil, started)
	return true, nil
}

// Export dumps ref to a snapshot without consulting the staleness
// oracle. lastModified may be zero when no source timestamp is known;
// the snapshot is then written without one rather than guessing.
// Returns the snapshot path.
func (s *SyncService) Export(ctx context.Context, ref TableRef, lastModified time.Time, opts SyncOptions) (string, error) {
	name := opts.AltName
	if name == "" {
		name = ref.Table
	}
	path := SnapshotPath(s.dataDir, ref.Schema, name)
	if err := s.refresh(ctx, ref, name, path, lastModified, opts); err != nil {
		return "", err
	}
	return path, nil
}

// refresh extracts the table and installs a new snapshot, archiving any
// existing one first when requested. Archival precedes the write, so an
// interrupted refresh rolls the table back to "no current snapshot" —
// the next run sees an absent local timestamp and retries in full.
func (s *SyncService) refresh(ctx context.Context, ref TableRef, name, path string, lastModified time.Time, opts SyncOptions) error {
	cols, err := s.querier.Columns(ctx, ref)
	if err != nil {
		return fmt.Errorf("describing %s: %w", ref, err)
	}
	kept, err := FilterColumns(cols, opts.Rules)
	if err != nil {
		return fmt.Errorf("filtering columns for %s: %w", ref, err)
	}
	batchSize := 0
	if opts.Batched {
		batchSize = opts.BatchSize
		if batchSize <= 0 {
			batchSize = DefaultBatchSize
		}
	}
	src, err := s.querier.Select(ctx, ref, kept, opts.Where, opts.Limit, batchSize)
	if err != nil {
		return fmt.Errorf("selecting from %s: %w", ref, err)
	}

	if opts.Archive {
		key, err := s.archiver.Archive(ctx, path, ref.Schema, name)
		if err != nil {
			src.Close()
			return err
		}
		if key != "" {
			s.logger.Info("snapshot archived", "table", ref.String(), "key", key)
		}
	}
	return s.writeSnapshot(ctx, path, src, opts.Rules, lastModified)
}

// remoteLastModified resolves the source timestamp. The table comment
// is the preferred signal; the legacy remote listing is consulted only
// when requested. A signal that cannot be parsed as a timestamp counts
// as absent, which forces a refresh.
func (s *SyncService) remoteLastModified(ctx context.Context, ref TableRef, opts SyncOptions) (time.Time, error) {
	if opts.UseRemote {
		if s.remote == nil {
			return time.Time{}, fmt.Errorf("remote executor not configured for %s", ref)
		}
		out, err := s.remote.RunRemote(ctx, opts.RemoteCommand)
		if err != nil {
			return time.Time{}, fmt.Errorf("running remote listing for %s: %w", ref, err)
		}
		t, err := ParseContentsModified(out, s.sourceLoc)
		if err != nil {
			s.logger.Warn("unparseable remote listing, treating source timestamp as absent",
				"table", ref.String(), "error", err)
			return time.Time{}, nil
		}
		return t, nil
	}

	comment, err := s.querier.Comment(ctx, ref)
	if err != nil {
		return time.Time{}, fmt.Errorf("reading comment for %s: %w", ref, err)
	}
	if comment == "" {
		s.logger.Warn("no source timestamp available", "table", ref.String())
		return time.Time{}, nil
	}
	t, err := ParseLastModified(comment, s.sourceLoc)
	if err != nil {
		s.logger.Warn("unparseable table comment, treating source timestamp as absent",
			"table", ref.String(), "comment", comment)
		return time.Time{}, nil
	}
	return t, nil
}

// localLastModified reads the snapshot's recorded timestamp. Any state
// that cannot vouch for a source timestamp — missing file, missing key,
// malformed value, unreadable footer — maps to absent: re-deriving the
// snapshot is always safe, so none of these is fatal.
func (s *SyncService) localLastModified(path string) time.Time {
	t, err := s.store.LastModified(path)
	switch {
	case err == nil:
		return t
	case errors.Is(err, ErrNoSnapshot), errors.Is(err, ErrNoMetadata):
		return time.Time{}
	case errors.Is(err, ErrBadMetadata):
		s.logger.Warn("malformed snapshot metadata, forcing refresh", "path", path, "error", err)
		return time.Time{}
	default:
		s.logger.Warn("cannot read snapshot metadata, forcing refresh", "path", path, "error", err)
		return time.Time{}
	}
}

func (s *SyncService) record(ctx context.Context, ref TableRef, refreshed bool, remote, local time.Time, err error, started time.Time) {
	if s.journal == nil {
		return
	}
	rec := SyncRecord{
		ID:             s.idgen.New(),
		Schema:         ref.Schema,
		Table:          ref.Table,
		Refreshed:      refreshed,
		RemoteModified: remote,
		LocalModified:  local,
		StartedAt:      started,
		FinishedAt:     s.clock.Now(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if jerr := s.journal.Record(ctx, rec); jerr != nil {
		s.logger.Warn("journal write failed", "table", ref.String(), "error", jerr)
	}
}

// TableResult is the outcome of one table within a schema-level run.
type TableResult struct {
	Ref       TableRef
	Refreshed bool
	Err       error
}

// SyncSchema synchronizes every table that already has a live snapshot
// under the schema directory. Each table is isolated: one table's
// failure becomes a result entry and its siblings proceed.
func (s *SyncService) SyncSchema(ctx context.Context, schema string, opts SyncOptions) ([]TableResult, error) {
	tables, err := ListSnapshots(s.dataDir, schema)
	if err != nil {
		return nil, err
	}
	opts.AltName = ""
	results := make([]TableResult, 0, len(tables))
	for _, table := range tables {
		ref := TableRef{Schema: schema, Table: table}
		refreshed, err := s.Sync(ctx, ref, opts)
		if err != nil {
			s.logger.Error("sync failed", "table", ref.String(), "error", err)
		}
		results = append(results, TableResult{Ref: ref, Refreshed: refreshed, Err: err})
	}
	return results, nil
}

// ExportSchema exports every table in the remote schema, with the same
// per-table isolation as SyncSchema.
func (s *SyncService) ExportSchema(ctx context.Context, schema string, opts SyncOptions) ([]TableResult, error) {
	tables, err := s.querier.Tables(ctx, schema)
	if err != nil {
		return nil, fmt.Errorf("listing tables in %s: %w", schema, err)
	}
	opts.AltName = ""
	results := make([]TableResult, 0, len(tables))
	for _, table := range tables {
		ref := TableRef{Schema: schema, Table: table}
		_, err := s.Export(ctx, ref, time.Time{}, opts)
		if err != nil {
			s.logger.Error("export failed", "table", ref.String(), "error", err)
		}
		results = append(results, TableResult{Ref: ref, Refreshed: err == nil, Err: err})
	}
	return results, nil
}

// RestoreSnapshot brings an archived version back to the live path. An
// empty stamp restores the most recent archive. Returns the archive key
// that was restored.
func (s *SyncService) RestoreSnapshot(ctx context.Context, ref TableRef, stamp string) (string, error) {
	key, err := s.archiver.Find(ctx, ref.Schema, ref.Table, stamp)
	if err != nil {
		return "", err
	}
	path := SnapshotPath(s.dataDir, ref.Schema, ref.Table)
	if err := s.archiver.Restore(ctx, key, path); err != nil {
		return "", err
	}
	s.logger.Info("snapshot restored", "table", ref.String(), "from", key)
	return key, nil
}

// ListArchives returns the archive keys for ref, oldest first.
func (s *SyncService) ListArchives(ctx context.Context, ref TableRef) ([]string, error) {
	return s.archiver.List(ctx, ref.Schema, ref.Table)
}

// RemoveSnapshot deletes the live snapshot for ref. Archived versions
// are untouched; this is the only operation that destroys a snapshot.
func (s *SyncService) RemoveSnapshot(ref TableRef) error {
	path := SnapshotPath(s.dataDir, ref.Schema, ref.Table)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no snapshot for %s", ref)
		}
		return fmt.Errorf("removing snapshot for %s: %w", ref, err)
	}
	s.logger.Info("snapshot removed", "table", ref.String())
	return nil
}
