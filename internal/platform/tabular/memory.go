package tabular

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps tables in process memory. It backs local development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]*Table
}

// NewMemoryStore seeds the store with the supplied tables.
func NewMemoryStore(tables ...Table) *MemoryStore {
	store := &MemoryStore{tables: make(map[string]*Table, len(tables))}
	for _, table := range tables {
		clone := table.Clone()
		for i, row := range clone.Rows {
			clone.Rows[i] = fitRow(row, len(clone.Header))
		}
		store.tables[table.Name] = &clone
	}
	return store
}

// EnsureTable creates an empty table with header when it does not exist yet.
func (s *MemoryStore) EnsureTable(_ context.Context, table string, header []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[table]; ok {
		return nil
	}
	s.tables[table] = &Table{Name: table, Header: append([]string(nil), header...)}
	return nil
}

// ReadAll returns a copy of the table.
func (s *MemoryStore) ReadAll(ctx context.Context, table string) (Table, error) {
	if err := ctx.Err(); err != nil {
		return Table{}, WrapError("read", table, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[table]
	if !ok {
		return Table{}, WrapError("read", table, ErrTableNotFound)
	}
	return t.Clone(), nil
}

// AppendRow appends row, enforcing the unique column when requested.
func (s *MemoryStore) AppendRow(ctx context.Context, table string, row []string, opts ...AppendOption) error {
	if err := ctx.Err(); err != nil {
		return WrapError("append", table, err)
	}
	cfg := ResolveAppendOptions(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[table]
	if !ok {
		return WrapError("append", table, ErrTableNotFound)
	}
	if len(row) > len(t.Header) {
		return WrapError("append", table, fmt.Errorf("row has %d cells, header has %d", len(row), len(t.Header)))
	}
	if err := checkUnique(*t, row, cfg); err != nil {
		return WrapError("append", table, err)
	}
	t.Rows = append(t.Rows, fitRow(row, len(t.Header)))
	return nil
}

// UpdateCells overwrites the named cells of the row matching key.
func (s *MemoryStore) UpdateCells(ctx context.Context, table string, key RowKey, values map[string]string) error {
	if err := ctx.Err(); err != nil {
		return WrapError("update", table, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[table]
	if !ok {
		return WrapError("update", table, ErrTableNotFound)
	}
	idx, err := t.FindRow(key)
	if err != nil {
		return WrapError("update", table, err)
	}
	columns, err := resolveColumns(table, t.Header, values)
	if err != nil {
		return WrapError("update", table, err)
	}
	for col, value := range columns {
		t.Rows[idx][col] = value
	}
	return nil
}
