package tabular

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const (
	sheetsValueInputRaw     = "RAW"
	sheetsInsertRows        = "INSERT_ROWS"
	sheetsRenderFormatted   = "FORMATTED_VALUE"
	sheetsTitleFieldMask    = "sheets.properties.title"
	sheetsParseRangeMessage = "unable to parse range"
)

// SheetsStore stores each table as one sheet (tab) of a Google Sheets spreadsheet. Row 1 holds
// the header.
type SheetsStore struct {
	svc           *sheets.Service
	spreadsheetID string

	// appendMu serialises unique appends issued by this process; the Sheets API itself offers
	// no conditional write.
	appendMu sync.Mutex
}

// NewSheetsStore builds a store for spreadsheetID using the supplied client options.
func NewSheetsStore(ctx context.Context, spreadsheetID string, opts ...option.ClientOption) (*SheetsStore, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("tabular: spreadsheet id is required")
	}
	scoped := append([]option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}, opts...)
	svc, err := sheets.NewService(ctx, scoped...)
	if err != nil {
		return nil, fmt.Errorf("tabular: create sheets service: %w", err)
	}
	return &SheetsStore{svc: svc, spreadsheetID: spreadsheetID}, nil
}

// ReadAll fetches every populated row of the sheet named table.
func (s *SheetsStore) ReadAll(ctx context.Context, table string) (Table, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, sheetRange(table, "")).
		ValueRenderOption(sheetsRenderFormatted).
		Context(ctx).
		Do()
	if err != nil {
		return Table{}, WrapError("read", table, translateSheetsError(err))
	}
	return NewTable(table, stringifyValues(resp.Values)), nil
}

// AppendRow appends row beneath the last populated row.
func (s *SheetsStore) AppendRow(ctx context.Context, table string, row []string, opts ...AppendOption) error {
	cfg := ResolveAppendOptions(opts...)
	if cfg.UniqueColumn != "" {
		s.appendMu.Lock()
		defer s.appendMu.Unlock()

		current, err := s.ReadAll(ctx, table)
		if err != nil {
			return err
		}
		if err := checkUnique(current, row, cfg); err != nil {
			return WrapError("append", table, err)
		}
	}

	values := make([]interface{}, len(row))
	for i, cell := range row {
		values[i] = cell
	}
	_, err := s.svc.Spreadsheets.Values.Append(s.spreadsheetID, sheetRange(table, "A1"), &sheets.ValueRange{
		Values: [][]interface{}{values},
	}).
		ValueInputOption(sheetsValueInputRaw).
		InsertDataOption(sheetsInsertRows).
		Context(ctx).
		Do()
	if err != nil {
		return WrapError("append", table, translateSheetsError(err))
	}
	return nil
}

// UpdateCells locates the row by key and writes each cell in a single batch request.
func (s *SheetsStore) UpdateCells(ctx context.Context, table string, key RowKey, values map[string]string) error {
	current, err := s.ReadAll(ctx, table)
	if err != nil {
		return err
	}
	idx, err := current.FindRow(key)
	if err != nil {
		return WrapError("update", table, err)
	}
	columns, err := resolveColumns(table, current.Header, values)
	if err != nil {
		return WrapError("update", table, err)
	}

	data := make([]*sheets.ValueRange, 0, len(columns))
	for col, value := range columns {
		cell, err := excelize.CoordinatesToCellName(col+1, idx+2)
		if err != nil {
			return WrapError("update", table, err)
		}
		data = append(data, &sheets.ValueRange{
			Range:  sheetRange(table, cell),
			Values: [][]interface{}{{value}},
		})
	}

	_, err = s.svc.Spreadsheets.Values.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateValuesRequest{
		ValueInputOption: sheetsValueInputRaw,
		Data:             data,
	}).Context(ctx).Do()
	if err != nil {
		return WrapError("update", table, translateSheetsError(err))
	}
	return nil
}

// EnsureTable adds the sheet and writes the header row when the sheet is missing.
func (s *SheetsStore) EnsureTable(ctx context.Context, table string, header []string) error {
	spreadsheet, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Fields(sheetsTitleFieldMask).Context(ctx).Do()
	if err != nil {
		return WrapError("ensure", table, translateSheetsError(err))
	}
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == table {
			return nil
		}
	}

	_, err = s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: table}},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return WrapError("ensure", table, translateSheetsError(err))
	}

	cells := make([]interface{}, len(header))
	for i, column := range header {
		cells[i] = column
	}
	_, err = s.svc.Spreadsheets.Values.Update(s.spreadsheetID, sheetRange(table, "A1"), &sheets.ValueRange{
		Values: [][]interface{}{cells},
	}).ValueInputOption(sheetsValueInputRaw).Context(ctx).Do()
	return WrapError("ensure", table, translateSheetsError(err))
}

func sheetRange(table, cell string) string {
	quoted := "'" + strings.ReplaceAll(table, "'", "''") + "'"
	if cell == "" {
		return quoted
	}
	return quoted + "!" + cell
}

func stringifyValues(values [][]interface{}) [][]string {
	out := make([][]string, len(values))
	for i, row := range values {
		out[i] = make([]string, len(row))
		for j, cell := range row {
			if cell == nil {
				continue
			}
			if str, ok := cell.(string); ok {
				out[i][j] = str
				continue
			}
			out[i][j] = fmt.Sprint(cell)
		}
	}
	return out
}

func translateSheetsError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.Code == http.StatusNotFound:
		return fmt.Errorf("%w: %v", ErrTableNotFound, err)
	case apiErr.Code == http.StatusBadRequest && strings.Contains(strings.ToLower(apiErr.Message), sheetsParseRangeMessage):
		return fmt.Errorf("%w: %v", ErrTableNotFound, err)
	case apiErr.Code == http.StatusConflict, apiErr.Code == http.StatusPreconditionFailed:
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
