// Package parquet implements the snapshot store on parquet files. The
// source timestamp is embedded in the file footer's key/value metadata,
// so staleness checks never scan row data.
package parquet

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/iangow/db2pq/internal/core"
)

// MetadataKey is the footer key holding the source timestamp, as an
// RFC-3339 UTC string.
const MetadataKey = "last_modified"

// DefaultRowGroupSize bounds the rows buffered before a row group is
// flushed.
const DefaultRowGroupSize = 1 << 20

// Store reads and writes parquet snapshots.
type Store struct {
	RowGroupSize int
}

func NewStore() *Store {
	return &Store{RowGroupSize: DefaultRowGroupSize}
}

// LastModified reads the embedded timestamp from the file footer.
// A missing file reports core.ErrNoSnapshot, a missing key
// core.ErrNoMetadata; an unreadable footer or unparseable value wraps
// core.ErrBadMetadata so callers can recover by refreshing.
func (s *Store) LastModified(path string) (time.Time, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, core.ErrNoSnapshot
		}
		return time.Time{}, fmt.Errorf("opening snapshot %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return time.Time{}, fmt.Errorf("stat snapshot %s: %w", path, err)
	}
	pf, err := parquet.OpenFile(f, info.Size(), parquet.SkipPageIndex(true), parquet.SkipBloomFilters(true))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", core.ErrBadMetadata, path, err)
	}
	value, ok := pf.Lookup(MetadataKey)
	if !ok {
		return time.Time{}, core.ErrNoMetadata
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %q", core.ErrBadMetadata, path, value)
	}
	return t.UTC(), nil
}

// Write consumes src and installs a complete snapshot at path. The data
// goes to a temporary file in the same directory first and is renamed
// into place only after a full write, so a failure mid-write leaves any
// previous snapshot intact and a crash never exposes a partial file.
func (s *Store) Write(ctx context.Context, path string, src core.RowSource, lastModified time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	tmp := core.TempPath(path)
	if err := s.writeFile(ctx, tmp, path, src, lastModified); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("installing snapshot: %w", err)
	}
	return nil
}

func (s *Store) writeFile(ctx context.Context, tmp, path string, src core.RowSource, lastModified time.Time) error {
	cols := src.Columns()
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	schema, err := buildSchema(name, cols)
	if err != nil {
		return err
	}

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating temp snapshot: %w", err)
	}
	defer f.Close()

	opts := []parquet.WriterOption{schema}
	if !lastModified.IsZero() {
		opts = append(opts, parquet.KeyValueMetadata(MetadataKey, lastModified.UTC().Format(time.RFC3339)))
	}
	w := parquet.NewGenericWriter[map[string]any](f, opts...)

	buffered := 0
	for {
		rows, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		records := make([]map[string]any, len(rows))
		for i, row := range rows {
			rec := make(map[string]any, len(cols))
			for j, c := range cols {
				v, err := encodeValue(row[j], c.Type)
				if err != nil {
					return fmt.Errorf("column %s: %w", c.Name, err)
				}
				if v != nil {
					rec[c.Name] = v
				}
			}
			records[i] = rec
		}
		if _, err := w.Write(records); err != nil {
			return fmt.Errorf("writing rows: %w", err)
		}
		buffered += len(records)
		if s.RowGroupSize > 0 && buffered >= s.RowGroupSize {
			if err := w.Flush(); err != nil {
				return fmt.Errorf("flushing row group: %w", err)
			}
			buffered = 0
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing parquet writer: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing temp snapshot: %w", err)
	}
	return nil
}

// Read loads a snapshot back into memory. Column order follows the
// file schema.
func (s *Store) Read(path string) ([]core.Column, [][]any, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, core.ErrNoSnapshot
		}
		return nil, nil, fmt.Errorf("opening snapshot %s: %w", path, err)
	}
	defer f.Close()

	r := parquet.NewGenericReader[map[string]any](f)
	defer r.Close()

	fields := r.Schema().Fields()
	cols := make([]core.Column, len(fields))
	for i, fld := range fields {
		cols[i] = core.Column{Name: fld.Name(), Type: typeOf(fld)}
	}

	var rows [][]any
	buf := make([]map[string]any, 64)
	for {
		for i := range buf {
			buf[i] = map[string]any{}
		}
		n, err := r.Read(buf)
		for i := 0; i < n; i++ {
			row := make([]any, len(cols))
			for j, c := range cols {
				row[j] = decodeValue(buf[i][c.Name], c.Type)
			}
			rows = append(rows, row)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("reading snapshot %s: %w", path, err)
		}
	}
	return cols, rows, nil
}

func buildSchema(name string, cols []core.Column) (*parquet.Schema, error) {
	group := parquet.Group{}
	for _, c := range cols {
		node, err := nodeFor(c.Type)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		group[c.Name] = parquet.Optional(node)
	}
	return parquet.NewSchema(name, group), nil
}

func nodeFor(t core.Type) (parquet.Node, error) {
	switch t {
	case core.TypeBool:
		return parquet.Leaf(parquet.BooleanType), nil
	case core.TypeInt:
		return parquet.Int(64), nil
	case core.TypeFloat:
		return parquet.Leaf(parquet.DoubleType), nil
	case core.TypeString:
		return parquet.String(), nil
	case core.TypeBytes:
		return parquet.Leaf(parquet.ByteArrayType), nil
	case core.TypeDate:
		return parquet.Date(), nil
	case core.TypeTimestamp, core.TypeTimestampNTZ:
		return parquet.Timestamp(parquet.Microsecond), nil
	}
	return nil, fmt.Errorf("unsupported column type %v", t)
}

// encodeValue converts a snapshot value to the physical representation
// the schema node expects. Nil passes through as null.
func encodeValue(v any, t core.Type) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case core.TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case core.TypeInt:
		if n, ok := v.(int64); ok {
			return n, nil
		}
	case core.TypeFloat:
		if f, ok := v.(float64); ok {
			return f, nil
		}
	case core.TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case core.TypeBytes:
		if b, ok := v.([]byte); ok {
			return b, nil
		}
	case core.TypeDate:
		if tt, ok := v.(time.Time); ok {
			return int32(tt.UTC().Unix() / 86400), nil
		}
	case core.TypeTimestamp, core.TypeTimestampNTZ:
		if tt, ok := v.(time.Time); ok {
			return tt.UnixMicro(), nil
		}
	}
	return nil, fmt.Errorf("cannot store %T as %v", v, t)
}

// decodeValue converts a stored physical value back to the snapshot
// type system.
func decodeValue(v any, t core.Type) any {
	if v == nil {
		return nil
	}
	switch t {
	case core.TypeDate:
		switch d := v.(type) {
		case int32:
			return time.Unix(int64(d)*86400, 0).UTC()
		case int64:
			return time.Unix(d*86400, 0).UTC()
		}
	case core.TypeTimestamp:
		switch n := v.(type) {
		case int64:
			return time.UnixMicro(n).UTC()
		case time.Time:
			return n.UTC()
		}
	case core.TypeInt:
		if n, ok := v.(int32); ok {
			return int64(n)
		}
	case core.TypeString:
		if b, ok := v.([]byte); ok {
			return string(b)
		}
	case core.TypeBytes:
		if s, ok := v.(string); ok {
			return []byte(s)
		}
	}
	return v
}

func typeOf(fld parquet.Field) core.Type {
	typ := fld.Type()
	if lt := typ.LogicalType(); lt != nil {
		switch {
		case lt.UTF8 != nil:
			return core.TypeString
		case lt.Date != nil:
			return core.TypeDate
		case lt.Timestamp != nil:
			return core.TypeTimestamp
		case lt.Integer != nil:
			return core.TypeInt
		}
	}
	switch typ.Kind() {
	case parquet.Boolean:
		return core.TypeBool
	case parquet.Int32, parquet.Int64:
		return core.TypeInt
	case parquet.Float, parquet.Double:
		return core.TypeFloat
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return core.TypeBytes
	}
	return core.TypeString
}

var _ core.SnapshotStore = (*Store)(nil)
