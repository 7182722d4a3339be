package core

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Type is the semantic type of a snapshot column.
type Type int

const (
	TypeString Type = iota
	TypeBool
	TypeInt
	TypeFloat
	TypeDate
	TypeTimestamp    // an instant, stored as UTC
	TypeTimestampNTZ // a wall-clock time without a zone
	TypeBytes
)

func (t Type) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeDate:
		return "date"
	case TypeTimestamp:
		return "timestamp"
	case TypeTimestampNTZ:
		return "timestamp_ntz"
	case TypeBytes:
		return "bytes"
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ParseType maps a declared type name, as written in config or on the
// command line, to a Type. The common PostgreSQL spellings are accepted.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bool", "boolean":
		return TypeBool, nil
	case "int", "integer", "bigint", "smallint", "int2", "int4", "int8":
		return TypeInt, nil
	case "float", "float4", "float8", "real", "double", "double precision", "numeric":
		return TypeFloat, nil
	case "text", "string", "varchar", "char", "character varying":
		return TypeString, nil
	case "date":
		return TypeDate, nil
	case "timestamptz", "timestamp with time zone":
		return TypeTimestamp, nil
	case "timestamp", "timestamp without time zone":
		return TypeTimestampNTZ, nil
	case "bytea", "bytes":
		return TypeBytes, nil
	}
	return TypeString, fmt.Errorf("unknown column type %q", s)
}

// Column describes one snapshot column.
type Column struct {
	Name string
	Type Type
}

// RowSource is a finite, single-pass sequence of row batches. Next
// returns io.EOF after the last batch; sources are not restartable.
// Each row is positionally aligned with Columns.
type RowSource interface {
	Columns() []Column
	Next(ctx context.Context) ([][]any, error)
	Close() error
}

// SliceSource serves in-memory rows in fixed-size batches. A batch size
// of zero or less delivers everything in a single batch.
type SliceSource struct {
	cols      []Column
	rows      [][]any
	batchSize int
	pos       int
}

func NewSliceSource(cols []Column, rows [][]any, batchSize int) *SliceSource {
	return &SliceSource{cols: cols, rows: rows, batchSize: batchSize}
}

func (s *SliceSource) Columns() []Column { return s.cols }

func (s *SliceSource) Next(ctx context.Context) ([][]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.rows) {
		return nil, io.EOF
	}
	end := len(s.rows)
	if s.batchSize > 0 && s.pos+s.batchSize < end {
		end = s.pos + s.batchSize
	}
	batch := s.rows[s.pos:end]
	s.pos = end
	return batch, nil
}

func (s *SliceSource) Close() error { return nil }

// ReadAll drains src into memory. Intended for small results and tests.
func ReadAll(ctx context.Context, src RowSource) ([][]any, error) {
	var rows [][]any
	for {
		batch, err := src.Next(ctx)
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, batch...)
	}
}
