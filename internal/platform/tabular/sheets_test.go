package tabular

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"
	"google.golang.org/api/option"
)

// fakeSheets serves the handful of Sheets v4 endpoints the store calls.
type fakeSheets struct {
	mu     sync.Mutex
	sheets map[string][][]string
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && strings.Contains(path, "/values/"):
		name := sheetName(path[strings.Index(path, "/values/")+len("/values/"):])
		rows, ok := f.sheets[name]
		if !ok {
			writeAPIError(w, http.StatusBadRequest, "Unable to parse range: "+name)
			return
		}
		writeJSON(w, map[string]any{"range": name, "majorDimension": "ROWS", "values": rows})
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":append"):
		name := sheetName(strings.TrimSuffix(path[strings.Index(path, "/values/")+len("/values/"):], ":append"))
		var body struct {
			Values [][]string `json:"values"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeAPIError(w, http.StatusBadRequest, err.Error())
			return
		}
		if _, ok := f.sheets[name]; !ok {
			writeAPIError(w, http.StatusBadRequest, "Unable to parse range: "+name)
			return
		}
		f.sheets[name] = append(f.sheets[name], body.Values...)
		writeJSON(w, map[string]any{})
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/values:batchUpdate"):
		var body struct {
			Data []struct {
				Range  string     `json:"range"`
				Values [][]string `json:"values"`
			} `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeAPIError(w, http.StatusBadRequest, err.Error())
			return
		}
		for _, data := range body.Data {
			sep := strings.LastIndex(data.Range, "!")
			name := sheetName(data.Range[:sep])
			col, row, err := excelize.CellNameToCoordinates(data.Range[sep+1:])
			if err != nil {
				writeAPIError(w, http.StatusBadRequest, err.Error())
				return
			}
			rows := f.sheets[name]
			for len(rows[row-1]) < col {
				rows[row-1] = append(rows[row-1], "")
			}
			rows[row-1][col-1] = data.Values[0][0]
		}
		writeJSON(w, map[string]any{})
	default:
		writeAPIError(w, http.StatusNotFound, "unexpected "+r.Method+" "+path)
	}
}

func sheetName(raw string) string {
	if idx := strings.Index(raw, "!"); idx >= 0 {
		raw = raw[:idx]
	}
	return strings.ReplaceAll(strings.Trim(raw, "'"), "''", "'")
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func writeAPIError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": code, "message": message}})
}

func newFakeSheetsStore(t *testing.T, fake *fakeSheets) *SheetsStore {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := NewSheetsStore(context.Background(), "sheet-1",
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
		option.WithoutAuthentication(),
	)
	if err != nil {
		t.Fatalf("new sheets store: %v", err)
	}
	return store
}

func TestSheetsStoreReadAppendUpdate(t *testing.T) {
	ctx := context.Background()
	fake := &fakeSheets{sheets: map[string][][]string{
		"orders": {{"po_id", "sku", "status"}, {"PO-1", "SKU-1", "requested"}},
	}}
	store := newFakeSheetsStore(t, fake)

	if err := store.AppendRow(ctx, "orders", []string{"PO-2", "SKU-2", "requested"}, UniqueOn("po_id")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.UpdateCells(ctx, "orders", RowKey{Column: "po_id", Value: "PO-2"}, map[string]string{"status": "received"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	table, err := store.ReadAll(ctx, "orders")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := [][]string{{"PO-1", "SKU-1", "requested"}, {"PO-2", "SKU-2", "received"}}
	if diff := cmp.Diff(want, table.Rows); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestSheetsStoreDuplicateAppend(t *testing.T) {
	fake := &fakeSheets{sheets: map[string][][]string{
		"orders": {{"po_id"}, {"PO-1"}},
	}}
	store := newFakeSheetsStore(t, fake)

	err := store.AppendRow(context.Background(), "orders", []string{"PO-1"}, UniqueOn("po_id"))
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected duplicate key, got %v", err)
	}
	if len(fake.sheets["orders"]) != 2 {
		t.Fatalf("expected no row appended")
	}
}

func TestSheetsStoreMissingSheet(t *testing.T) {
	store := newFakeSheetsStore(t, &fakeSheets{sheets: map[string][][]string{}})

	_, err := store.ReadAll(context.Background(), "orders")
	var wrapped *Error
	if !errors.As(err, &wrapped) || !wrapped.IsNotFound() {
		t.Fatalf("expected not found, got %v", err)
	}
}
