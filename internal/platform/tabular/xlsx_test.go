package tabular

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newWorkbookStore(t *testing.T) (*XLSXStore, FileBlob) {
	t.Helper()
	blob := FileBlob{Path: filepath.Join(t.TempDir(), "orders.xlsx")}
	store, err := NewXLSXStore(blob)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.EnsureTable(context.Background(), "orders", []string{"po_id", "sku", "status"}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	return store, blob
}

func TestXLSXStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newWorkbookStore(t)

	for _, row := range [][]string{{"PO-1", "SKU-1", "requested"}, {"PO-2", "SKU-2", "requested"}} {
		if err := store.AppendRow(ctx, "orders", row, UniqueOn("po_id")); err != nil {
			t.Fatalf("append: %v", err)
		}
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

func TestXLSXStoreDuplicateAndMissing(t *testing.T) {
	ctx := context.Background()
	store, _ := newWorkbookStore(t)

	if err := store.AppendRow(ctx, "orders", []string{"PO-1"}, UniqueOn("po_id")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.AppendRow(ctx, "orders", []string{"PO-1"}, UniqueOn("po_id")); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if _, err := store.ReadAll(ctx, "products"); !errors.Is(err, ErrTableNotFound) {
		t.Fatalf("expected missing sheet, got %v", err)
	}
}

func TestXLSXStoreMissingWorkbook(t *testing.T) {
	store, err := NewXLSXStore(FileBlob{Path: filepath.Join(t.TempDir(), "none.xlsx")})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.ReadAll(context.Background(), "orders"); !errors.Is(err, ErrTableNotFound) {
		t.Fatalf("expected table not found, got %v", err)
	}
}

func TestFileBlobDetectsStaleGeneration(t *testing.T) {
	ctx := context.Background()
	_, blob := newWorkbookStore(t)

	data, generation, err := blob.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := blob.Save(ctx, data, generation+1); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict for stale generation, got %v", err)
	}
	if err := blob.Save(ctx, data, 0); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict when creating over an existing file, got %v", err)
	}
}
