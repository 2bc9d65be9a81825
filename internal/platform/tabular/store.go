// Package tabular provides header-keyed, row-oriented table storage over spreadsheet-like
// backends. Backends expose read-all, append and per-cell update primitives only; none of them
// offer row locks or multi-row transactions to callers.
package tabular

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTableNotFound indicates the named table (sheet, collection) does not exist.
	ErrTableNotFound = errors.New("tabular: table not found")
	// ErrColumnNotFound indicates a column name is absent from the table header.
	ErrColumnNotFound = errors.New("tabular: column not found")
	// ErrRowNotFound indicates no row matched the supplied key.
	ErrRowNotFound = errors.New("tabular: row not found")
	// ErrDuplicateKey indicates an append would introduce a second row with the same unique key.
	ErrDuplicateKey = errors.New("tabular: duplicate key")
	// ErrConflict indicates a concurrent writer modified the backing document first.
	ErrConflict = errors.New("tabular: concurrent modification")
)

// Store is the minimal contract shared by all table backends.
type Store interface {
	// ReadAll returns the header and every data row of the table.
	ReadAll(ctx context.Context, table string) (Table, error)
	// AppendRow appends a row whose cells follow the table's declared column order.
	AppendRow(ctx context.Context, table string, row []string, opts ...AppendOption) error
	// UpdateCells overwrites the named columns of the single row matching key.
	UpdateCells(ctx context.Context, table string, key RowKey, values map[string]string) error
}

// Bootstrapper is implemented by backends that can create a table on demand.
type Bootstrapper interface {
	EnsureTable(ctx context.Context, table string, header []string) error
}

// RowKey identifies a row by the value held in one of its columns.
type RowKey struct {
	Column string
	Value  string
}

func (k RowKey) String() string {
	return fmt.Sprintf("%s=%s", k.Column, k.Value)
}

// AppendOption customises AppendRow.
type AppendOption func(*AppendConfig)

// AppendConfig holds the resolved append options; backends read it via ResolveAppendOptions.
type AppendConfig struct {
	UniqueColumn string
}

// UniqueOn asks the backend to reject the append when another row already holds the same value
// in column. Backends with native constraints enforce it atomically; the others check under
// their own process-local lock.
func UniqueOn(column string) AppendOption {
	return func(cfg *AppendConfig) {
		cfg.UniqueColumn = strings.TrimSpace(column)
	}
}

// ResolveAppendOptions applies opts over the zero configuration.
func ResolveAppendOptions(opts ...AppendOption) AppendConfig {
	var cfg AppendConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// Table is a snapshot of a table: a header row plus data rows padded to the header width.
type Table struct {
	Name   string
	Header []string
	Rows   [][]string
}

// NewTable normalises raw rows, using the first row as the header. Data rows are padded or
// truncated to the header width and keep their position, so row i maps to sheet row i+2.
func NewTable(name string, raw [][]string) Table {
	table := Table{Name: name}
	if len(raw) == 0 {
		return table
	}
	table.Header = make([]string, len(raw[0]))
	for i, cell := range raw[0] {
		table.Header[i] = strings.TrimSpace(cell)
	}
	for _, row := range raw[1:] {
		table.Rows = append(table.Rows, fitRow(row, len(table.Header)))
	}
	return table
}

// ColumnIndex returns the zero based index of the column, matching case-insensitively.
func (t Table) ColumnIndex(name string) int {
	return columnIndex(t.Header, name)
}

// ColumnIndexAny returns the index of the first name present in the header.
func (t Table) ColumnIndexAny(names ...string) int {
	for _, name := range names {
		if idx := t.ColumnIndex(name); idx >= 0 {
			return idx
		}
	}
	return -1
}

// FindRow returns the zero based data row index of the first row matching key.
func (t Table) FindRow(key RowKey) (int, error) {
	col := t.ColumnIndex(key.Column)
	if col < 0 {
		return -1, fmt.Errorf("%w: %q in table %q", ErrColumnNotFound, key.Column, t.Name)
	}
	want := strings.TrimSpace(key.Value)
	if want == "" {
		return -1, fmt.Errorf("%w: empty key for column %q", ErrRowNotFound, key.Column)
	}
	for i, row := range t.Rows {
		if strings.TrimSpace(row[col]) == want {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %s in table %q", ErrRowNotFound, key, t.Name)
}

// Value returns the cell at row/column or an empty string when the column is unknown.
func (t Table) Value(row int, column string) string {
	if row < 0 || row >= len(t.Rows) {
		return ""
	}
	col := t.ColumnIndex(column)
	if col < 0 {
		return ""
	}
	return t.Rows[row][col]
}

// Clone deep copies the table so callers can mutate the snapshot freely.
func (t Table) Clone() Table {
	out := Table{Name: t.Name, Header: append([]string(nil), t.Header...)}
	if len(t.Rows) > 0 {
		out.Rows = make([][]string, len(t.Rows))
		for i, row := range t.Rows {
			out.Rows[i] = append([]string(nil), row...)
		}
	}
	return out
}

// resolveColumns maps update column names to header indices.
func resolveColumns(table string, header []string, values map[string]string) (map[int]string, error) {
	resolved := make(map[int]string, len(values))
	for column, value := range values {
		idx := columnIndex(header, column)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %q in table %q", ErrColumnNotFound, column, table)
		}
		resolved[idx] = value
	}
	return resolved, nil
}

// checkUnique reports ErrDuplicateKey when row's value in the unique column already exists.
func checkUnique(table Table, row []string, cfg AppendConfig) error {
	if cfg.UniqueColumn == "" {
		return nil
	}
	col := table.ColumnIndex(cfg.UniqueColumn)
	if col < 0 {
		return fmt.Errorf("%w: %q in table %q", ErrColumnNotFound, cfg.UniqueColumn, table.Name)
	}
	if col >= len(row) {
		return nil
	}
	if _, err := table.FindRow(RowKey{Column: cfg.UniqueColumn, Value: row[col]}); err == nil {
		return fmt.Errorf("%w: %s=%s in table %q", ErrDuplicateKey, cfg.UniqueColumn, row[col], table.Name)
	}
	return nil
}

func columnIndex(header []string, name string) int {
	name = strings.TrimSpace(name)
	for i, column := range header {
		if strings.EqualFold(strings.TrimSpace(column), name) {
			return i
		}
	}
	return -1
}

func fitRow(row []string, width int) []string {
	out := make([]string, width)
	copy(out, row)
	return out
}
