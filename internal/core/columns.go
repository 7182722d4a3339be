package core

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Rules is the column rule set applied during an export: regex filters
// plus per-column type coercions. Drop patterns are evaluated before
// keep patterns; coercions apply only to surviving columns.
type Rules struct {
	Drop  []*regexp.Regexp
	Keep  []*regexp.Regexp
	Types map[string]Type
}

// CompileRules builds a Rules from raw pattern strings and type names.
func CompileRules(drop, keep []string, colTypes map[string]string) (Rules, error) {
	var rules Rules
	for _, p := range drop {
		re, err := regexp.Compile(p)
		if err != nil {
			return Rules{}, fmt.Errorf("invalid drop pattern %q: %w", p, err)
		}
		rules.Drop = append(rules.Drop, re)
	}
	for _, p := range keep {
		re, err := regexp.Compile(p)
		if err != nil {
			return Rules{}, fmt.Errorf("invalid keep pattern %q: %w", p, err)
		}
		rules.Keep = append(rules.Keep, re)
	}
	if len(colTypes) > 0 {
		rules.Types = make(map[string]Type, len(colTypes))
		for name, typeName := range colTypes {
			t, err := ParseType(typeName)
			if err != nil {
				return Rules{}, fmt.Errorf("column %s: %w", name, err)
			}
			rules.Types[name] = t
		}
	}
	return rules, nil
}

// FilterColumns applies drop then keep patterns, preserving column
// order. A column survives when no drop pattern matches it and either
// no keep patterns are given or some keep pattern matches it. Matching
// is an unanchored regex search. Filtering away every column is an
// error.
func FilterColumns(cols []Column, rules Rules) ([]Column, error) {
	kept := make([]Column, 0, len(cols))
	for _, c := range cols {
		if matchAny(rules.Drop, c.Name) {
			continue
		}
		if len(rules.Keep) > 0 && !matchAny(rules.Keep, c.Name) {
			continue
		}
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("no columns selected after applying keep/drop filters")
	}
	return kept, nil
}

func matchAny(patterns []*regexp.Regexp, name string) bool {
	for _, p := range patterns {
		if p.MatchString(name) {
			return true
		}
	}
	return false
}

// CoerceError reports a value that could not be converted to a
// column's declared type.
type CoerceError struct {
	Column string
	Row    int
	Value  any
}

func (e *CoerceError) Error() string {
	return fmt.Sprintf("cannot coerce value %v (row %d) for column %s", e.Value, e.Row, e.Column)
}

// transformSource wraps a RowSource, applying type coercions and
// re-expressing wall-clock timestamps as UTC instants. Both transforms
// are stateless across batches, so batch boundaries cannot change the
// interpretation of any row.
type transformSource struct {
	src     RowSource
	cols    []Column
	coerced map[int]Type // column index -> declared target type
	ntz     []int        // wall-clock timestamp column indexes
	loc     *time.Location
	offset  int // rows already delivered, for error context
}

// NewTransformSource applies rules.Types coercions and interprets
// zoneless timestamp columns as wall-clock times in loc (UTC when nil).
func NewTransformSource(src RowSource, rules Rules, loc *time.Location) RowSource {
	if loc == nil {
		loc = time.UTC
	}
	in := src.Columns()
	cols := make([]Column, len(in))
	coerced := make(map[int]Type)
	var ntz []int
	for i, c := range in {
		cols[i] = c
		if t, ok := rules.Types[c.Name]; ok && t != c.Type {
			coerced[i] = t
			cols[i].Type = t
		}
		if cols[i].Type == TypeTimestampNTZ {
			ntz = append(ntz, i)
			cols[i].Type = TypeTimestamp
		}
	}
	return &transformSource{src: src, cols: cols, coerced: coerced, ntz: ntz, loc: loc}
}

func (s *transformSource) Columns() []Column { return s.cols }

func (s *transformSource) Next(ctx context.Context) ([][]any, error) {
	batch, err := s.src.Next(ctx)
	if err != nil {
		return nil, err
	}
	for i, row := range batch {
		for j, target := range s.coerced {
			v, ok := coerceValue(row[j], target)
			if !ok {
				return nil, &CoerceError{Column: s.cols[j].Name, Row: s.offset + i, Value: row[j]}
			}
			row[j] = v
		}
		for _, j := range s.ntz {
			if t, ok := row[j].(time.Time); ok {
				row[j] = rezone(t, s.loc)
			}
		}
	}
	s.offset += len(batch)
	return batch, nil
}

func (s *transformSource) Close() error { return s.src.Close() }

// rezone reinterprets t's wall-clock reading in loc and returns the
// corresponding UTC instant.
func rezone(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc).UTC()
}

var (
	boolTrue  = map[string]bool{"t": true, "true": true, "y": true, "yes": true, "1": true, "1.0": true}
	boolFalse = map[string]bool{"f": true, "false": true, "n": true, "no": true, "0": true, "0.0": true}
)

// coerceValue converts v to target. Nil passes through. The boolean
// target accepts the 0/1 numeric encodings and their common text forms;
// anything else is rejected rather than silently mistyped.
func coerceValue(v any, target Type) (any, bool) {
	if v == nil {
		return nil, true
	}
	switch target {
	case TypeBool:
		switch x := v.(type) {
		case bool:
			return x, true
		case int64:
			return intToBool(x)
		case int:
			return intToBool(int64(x))
		case int32:
			return intToBool(int64(x))
		case int16:
			return intToBool(int64(x))
		case float64:
			if x == 0 || x == 1 {
				return intToBool(int64(x))
			}
		case float32:
			return coerceValue(float64(x), TypeBool)
		case string:
			return stringToBool(x)
		case []byte:
			return stringToBool(string(x))
		}
	case TypeInt:
		switch x := v.(type) {
		case int64:
			return x, true
		case int:
			return int64(x), true
		case int32:
			return int64(x), true
		case int16:
			return int64(x), true
		case float64:
			// Conversion of an out-of-range float to int64 is
			// implementation-defined, so bounds come first.
			if x == math.Trunc(x) && x >= -(1<<63) && x < 1<<63 {
				return int64(x), true
			}
		case float32:
			return coerceValue(float64(x), TypeInt)
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
				return n, true
			}
		}
	case TypeFloat:
		switch x := v.(type) {
		case float64:
			return x, true
		case float32:
			return float64(x), true
		case int64:
			return float64(x), true
		case int:
			return float64(x), true
		case int32:
			return float64(x), true
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
				return f, true
			}
		}
	case TypeString:
		switch x := v.(type) {
		case string:
			return x, true
		case []byte:
			return string(x), true
		case int64:
			return strconv.FormatInt(x, 10), true
		case float64:
			return strconv.FormatFloat(x, 'g', -1, 64), true
		case bool:
			return strconv.FormatBool(x), true
		}
	case TypeDate:
		switch x := v.(type) {
		case time.Time:
			return x, true
		case string:
			if t, err := time.Parse("2006-01-02", strings.TrimSpace(x)); err == nil {
				return t, true
			}
		}
	case TypeTimestamp, TypeTimestampNTZ:
		switch x := v.(type) {
		case time.Time:
			return x, true
		case string:
			if t, err := time.Parse(time.RFC3339, strings.TrimSpace(x)); err == nil {
				return t, true
			}
		}
	case TypeBytes:
		switch x := v.(type) {
		case []byte:
			return x, true
		case string:
			return []byte(x), true
		}
	}
	return nil, false
}

func intToBool(n int64) (any, bool) {
	switch n {
	case 0:
		return false, true
	case 1:
		return true, true
	}
	return nil, false
}

func stringToBool(s string) (any, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if boolTrue[s] {
		return true, true
	}
	if boolFalse[s] {
		return false, true
	}
	return nil, false
}
