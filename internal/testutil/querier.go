package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/iangow/db2pq/internal/core"
)

// TableData is the in-memory contents of one stubbed table.
type TableData struct {
	Columns []core.Column
	Rows    [][]any
	Comment string
}

// StubQuerier serves canned tables. Safe for concurrent use.
type StubQuerier struct {
	mu     sync.Mutex
	tables map[string]*TableData

	// CommentErr, when set, is returned from every Comment call.
	CommentErr error
	// SelectErr, when set, is returned from every Select call.
	SelectErr error

	selectCount int
}

func NewStubQuerier() *StubQuerier {
	return &StubQuerier{tables: make(map[string]*TableData)}
}

// SetTable installs or replaces the data for ref.
func (q *StubQuerier) SetTable(ref core.TableRef, data TableData) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tables[ref.String()] = &data
}

// SelectCount reports how many Select calls were made.
func (q *StubQuerier) SelectCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.selectCount
}

func (q *StubQuerier) Tables(ctx context.Context, schema string) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var names []string
	for key := range q.tables {
		ref, err := splitKey(key)
		if err != nil {
			return nil, err
		}
		if ref.Schema == schema {
			names = append(names, ref.Table)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (q *StubQuerier) Columns(ctx context.Context, ref core.TableRef) ([]core.Column, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	data, ok := q.tables[ref.String()]
	if !ok {
		return nil, fmt.Errorf("table %s not found", ref)
	}
	return append([]core.Column(nil), data.Columns...), nil
}

func (q *StubQuerier) Comment(ctx context.Context, ref core.TableRef) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.CommentErr != nil {
		return "", q.CommentErr
	}
	data, ok := q.tables[ref.String()]
	if !ok {
		return "", fmt.Errorf("table %s not found", ref)
	}
	return data.Comment, nil
}

// Select honors column selection and limit; where is ignored, as stubs
// have no SQL engine.
func (q *StubQuerier) Select(ctx context.Context, ref core.TableRef, columns []core.Column, where string, limit, batchSize int) (core.RowSource, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.selectCount++
	if q.SelectErr != nil {
		return nil, q.SelectErr
	}
	data, ok := q.tables[ref.String()]
	if !ok {
		return nil, fmt.Errorf("table %s not found", ref)
	}

	indexes := make([]int, 0, len(columns))
	cols := make([]core.Column, 0, len(columns))
	for _, want := range columns {
		found := false
		for i, c := range data.Columns {
			if c.Name == want.Name {
				indexes = append(indexes, i)
				cols = append(cols, want)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("column %s not found in %s", want.Name, ref)
		}
	}

	rows := data.Rows
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	out := make([][]any, len(rows))
	for i, row := range rows {
		sel := make([]any, len(indexes))
		for j, idx := range indexes {
			sel[j] = row[idx]
		}
		out[i] = sel
	}
	return core.NewSliceSource(cols, out, batchSize), nil
}

func splitKey(key string) (core.TableRef, error) {
	for i := 0; i < len(key); i++ {
		if key[i] == '.' {
			return core.TableRef{Schema: key[:i], Table: key[i+1:]}, nil
		}
	}
	return core.TableRef{}, fmt.Errorf("malformed table key %q", key)
}

var _ core.Querier = (*StubQuerier)(nil)
