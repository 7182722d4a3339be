// Package postgres implements the source-side querier on a PostgreSQL
// connection.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"math/big"
	"net/url"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/iangow/db2pq/internal/core"
)

// Config carries the connection parameters.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// Querier runs read-only queries against one database.
type Querier struct {
	db *sql.DB
}

// Open connects and verifies the connection with a short ping.
func Open(ctx context.Context, cfg Config) (*Querier, error) {
	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Database, err)
	}
	return &Querier{db: db}, nil
}

func (cfg Config) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   "/" + cfg.Database,
	}
	if cfg.Password != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	} else {
		u.User = url.User(cfg.User)
	}
	if cfg.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", cfg.SSLMode)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (q *Querier) Close() error { return q.db.Close() }

// Tables lists the base tables in a schema, sorted by name.
func (q *Querier) Tables(ctx context.Context, schema string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`, schema)
	if err != nil {
		return nil, fmt.Errorf("listing tables in %s: %w", schema, err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// Columns describes the table's columns in ordinal order, with declared
// SQL types mapped into the snapshot type system.
func (q *Querier) Columns(ctx context.Context, ref core.TableRef) ([]core.Column, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, ref.Schema, ref.Table)
	if err != nil {
		return nil, fmt.Errorf("describing %s: %w", ref, err)
	}
	defer rows.Close()

	var cols []core.Column
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, err
		}
		cols = append(cols, core.Column{Name: name, Type: columnType(dataType)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s not found", ref)
	}
	return cols, nil
}

// columnType maps an information_schema data_type to a snapshot type.
// Unrecognized types degrade to string rather than failing the export.
func columnType(dataType string) core.Type {
	if t, err := core.ParseType(dataType); err == nil {
		return t
	}
	return core.TypeString
}

// Comment returns the table comment, or "" when none is set.
func (q *Querier) Comment(ctx context.Context, ref core.TableRef) (string, error) {
	var comment sql.NullString
	err := q.db.QueryRowContext(ctx,
		`SELECT obj_description(to_regclass($1), 'pg_class')`,
		ref.String()).Scan(&comment)
	if err != nil {
		return "", fmt.Errorf("reading comment for %s: %w", ref, err)
	}
	return comment.String, nil
}

// Select streams the given columns. The result set stays open until
// the returned source is closed.
func (q *Querier) Select(ctx context.Context, ref core.TableRef, columns []core.Column, where string, limit, batchSize int) (core.RowSource, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("no columns selected from %s", ref)
	}
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
	}
	query := buildSelect(ref, names, where, limit)
	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", ref, err)
	}
	cols := append([]core.Column(nil), columns...)
	return &rowSource{rows: rows, cols: cols, batchSize: batchSize}, nil
}

// rowSource adapts a *sql.Rows to batch delivery.
type rowSource struct {
	rows      *sql.Rows
	cols      []core.Column
	batchSize int
	done      bool
}

func (s *rowSource) Columns() []core.Column { return s.cols }

func (s *rowSource) Next(ctx context.Context) ([][]any, error) {
	if s.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := s.batchSize
	if limit <= 0 {
		limit = int(^uint(0) >> 1)
	}
	var batch [][]any
	for len(batch) < limit && s.rows.Next() {
		row, err := s.scanRow()
		if err != nil {
			return nil, err
		}
		batch = append(batch, row)
	}
	if len(batch) < limit {
		s.done = true
		if err := s.rows.Err(); err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return nil, io.EOF
		}
	}
	return batch, nil
}

func (s *rowSource) scanRow() ([]any, error) {
	values := make([]any, len(s.cols))
	targets := make([]any, len(s.cols))
	for i := range values {
		targets[i] = &values[i]
	}
	if err := s.rows.Scan(targets...); err != nil {
		return nil, err
	}
	for i, v := range values {
		values[i] = normalizeValue(v)
	}
	return values, nil
}

func (s *rowSource) Close() error { return s.rows.Close() }

// normalizeValue reduces driver-specific scan results to the small set
// of Go types the transform layer accepts.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		b := make([]byte, len(x))
		copy(b, x)
		return b
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	case *big.Int:
		if x.IsInt64() {
			return x.Int64()
		}
		return x.String()
	default:
		return v
	}
}

var _ core.Querier = (*Querier)(nil)
var _ core.RowSource = (*rowSource)(nil)
