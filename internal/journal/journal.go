// Package journal records synchronization runs in a local SQLite
// database. The journal is an audit trail, not a source of truth: the
// snapshot files themselves carry the state that drives sync decisions.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/iangow/db2pq/internal/core"
	"github.com/iangow/db2pq/internal/journal/migrations"
)

// SQLiteJournal implements the Journal interface using SQLite.
type SQLiteJournal struct {
	db *sql.DB
}

// Open opens (creating and migrating if necessary) the journal at path.
// ":memory:" gives an in-memory journal.
func Open(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating journal database: %w", err)
	}
	return &SQLiteJournal{db: db}, nil
}

func (j *SQLiteJournal) Close() error { return j.db.Close() }

// Record inserts one journal entry. Zero timestamps are stored as NULL.
func (j *SQLiteJournal) Record(ctx context.Context, rec core.SyncRecord) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO sync_runs
			(id, schema_name, table_name, refreshed, remote_modified, local_modified, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Schema, rec.Table, rec.Refreshed,
		nullTime(rec.RemoteModified), nullTime(rec.LocalModified),
		rec.Error, rec.StartedAt.UTC().Format(time.RFC3339), rec.FinishedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("recording sync run: %w", err)
	}
	return nil
}

// List returns the most recent entries for a table, newest first. A
// limit of zero or less returns everything.
func (j *SQLiteJournal) List(ctx context.Context, ref core.TableRef, limit int) ([]core.SyncRecord, error) {
	query := `
		SELECT id, schema_name, table_name, refreshed, remote_modified, local_modified, error, started_at, finished_at
		FROM sync_runs
		WHERE schema_name = ? AND table_name = ?
		ORDER BY started_at DESC`
	args := []any{ref.Schema, ref.Table}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sync runs: %w", err)
	}
	defer rows.Close()

	var recs []core.SyncRecord
	for rows.Next() {
		var rec core.SyncRecord
		var remote, local sql.NullString
		var started, finished string
		if err := rows.Scan(&rec.ID, &rec.Schema, &rec.Table, &rec.Refreshed,
			&remote, &local, &rec.Error, &started, &finished); err != nil {
			return nil, err
		}
		rec.RemoteModified = parseTime(remote)
		rec.LocalModified = parseTime(local)
		rec.StartedAt, _ = time.Parse(time.RFC3339, started)
		rec.FinishedAt, _ = time.Parse(time.RFC3339, finished)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

var _ core.Journal = (*SQLiteJournal)(nil)
