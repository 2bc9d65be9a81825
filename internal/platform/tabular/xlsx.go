package tabular

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/xuri/excelize/v2"
)

const (
	defaultXLSXAttempts = 3
	defaultXLSXSheet    = "Sheet1"
)

// XLSXStore keeps every table as a sheet of one .xlsx workbook held in a Blob. Each call loads
// the workbook fresh; writes are conditional on the generation that was loaded.
type XLSXStore struct {
	blob     Blob
	attempts int

	mu sync.Mutex
}

// XLSXOption customises the workbook store.
type XLSXOption func(*XLSXStore)

// WithXLSXAttempts bounds how often a write is replayed after losing a generation race.
func WithXLSXAttempts(attempts int) XLSXOption {
	return func(s *XLSXStore) {
		if attempts > 0 {
			s.attempts = attempts
		}
	}
}

// NewXLSXStore constructs a workbook store backed by blob.
func NewXLSXStore(blob Blob, opts ...XLSXOption) (*XLSXStore, error) {
	if blob == nil {
		return nil, errors.New("tabular: xlsx blob is required")
	}
	store := &XLSXStore{blob: blob, attempts: defaultXLSXAttempts}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// ReadAll returns every row of the sheet named table.
func (s *XLSXStore) ReadAll(ctx context.Context, table string) (Table, error) {
	f, _, err := s.open(ctx, false)
	if err != nil {
		return Table{}, WrapError("read", table, err)
	}
	defer f.Close()

	rows, err := readSheet(f, table)
	if err != nil {
		return Table{}, WrapError("read", table, err)
	}
	return NewTable(table, rows), nil
}

// AppendRow writes row beneath the last populated row of the sheet.
func (s *XLSXStore) AppendRow(ctx context.Context, table string, row []string, opts ...AppendOption) error {
	cfg := ResolveAppendOptions(opts...)
	err := s.mutate(ctx, false, func(f *excelize.File) error {
		rows, err := readSheet(f, table)
		if err != nil {
			return err
		}
		current := NewTable(table, rows)
		if len(row) > len(current.Header) {
			return fmt.Errorf("row has %d cells, header has %d", len(row), len(current.Header))
		}
		if err := checkUnique(current, row, cfg); err != nil {
			return err
		}
		cell, err := excelize.CoordinatesToCellName(1, len(rows)+1)
		if err != nil {
			return err
		}
		values := append([]string(nil), row...)
		return f.SetSheetRow(table, cell, &values)
	})
	return WrapError("append", table, err)
}

// UpdateCells overwrites the named cells of the row matching key.
func (s *XLSXStore) UpdateCells(ctx context.Context, table string, key RowKey, values map[string]string) error {
	err := s.mutate(ctx, false, func(f *excelize.File) error {
		rows, err := readSheet(f, table)
		if err != nil {
			return err
		}
		current := NewTable(table, rows)
		idx, err := current.FindRow(key)
		if err != nil {
			return err
		}
		columns, err := resolveColumns(table, current.Header, values)
		if err != nil {
			return err
		}
		for col, value := range columns {
			cell, err := excelize.CoordinatesToCellName(col+1, idx+2)
			if err != nil {
				return err
			}
			if err := f.SetCellStr(table, cell, value); err != nil {
				return err
			}
		}
		return nil
	})
	return WrapError("update", table, err)
}

// EnsureTable creates the workbook and sheet when missing and writes the header row.
func (s *XLSXStore) EnsureTable(ctx context.Context, table string, header []string) error {
	err := s.mutate(ctx, true, func(f *excelize.File) error {
		idx, err := f.GetSheetIndex(table)
		if err != nil {
			return err
		}
		if idx >= 0 {
			return errNothingToSave
		}
		if _, err := f.NewSheet(table); err != nil {
			return err
		}
		cells := append([]string(nil), header...)
		if err := f.SetSheetRow(table, "A1", &cells); err != nil {
			return err
		}
		if table != defaultXLSXSheet {
			if rows, err := f.GetRows(defaultXLSXSheet); err == nil && len(rows) == 0 {
				_ = f.DeleteSheet(defaultXLSXSheet)
			}
		}
		return nil
	})
	return WrapError("ensure", table, err)
}

var errNothingToSave = errors.New("tabular: nothing to save")

func (s *XLSXStore) mutate(ctx context.Context, create bool, apply func(*excelize.File) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < s.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, generation, err := s.open(ctx, create)
		if err != nil {
			return err
		}
		if err := apply(f); err != nil {
			_ = f.Close()
			if errors.Is(err, errNothingToSave) {
				return nil
			}
			return err
		}
		buf, err := f.WriteToBuffer()
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("encode workbook: %w", err)
		}
		err = s.blob.Save(ctx, buf.Bytes(), generation)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (s *XLSXStore) open(ctx context.Context, create bool) (*excelize.File, int64, error) {
	data, generation, err := s.blob.Load(ctx)
	if errors.Is(err, ErrBlobNotExist) {
		if !create {
			return nil, 0, ErrTableNotFound
		}
		return excelize.NewFile(), 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("decode workbook: %w", err)
	}
	return f, generation, nil
}

func readSheet(f *excelize.File, table string) ([][]string, error) {
	idx, err := f.GetSheetIndex(table)
	if err != nil {
		return nil, err
	}
	if idx < 0 {
		return nil, ErrTableNotFound
	}
	return f.GetRows(table)
}
