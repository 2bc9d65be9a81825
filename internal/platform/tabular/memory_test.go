package tabular

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newOrdersMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	if err := store.EnsureTable(context.Background(), "orders", []string{"po_id", "sku", "status"}); err != nil {
		t.Fatalf("ensure table: %v", err)
	}
	return store
}

func TestMemoryStoreAppendAndRead(t *testing.T) {
	ctx := context.Background()
	store := newOrdersMemoryStore(t)

	if err := store.AppendRow(ctx, "orders", []string{"PO-1", "SKU-1", "requested"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.AppendRow(ctx, "orders", []string{"PO-2", "SKU-2"}); err != nil {
		t.Fatalf("append short row: %v", err)
	}

	table, err := store.ReadAll(ctx, "orders")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := [][]string{{"PO-1", "SKU-1", "requested"}, {"PO-2", "SKU-2", ""}}
	if diff := cmp.Diff(want, table.Rows); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}

	table.Rows[0][0] = "mutated"
	again, _ := store.ReadAll(ctx, "orders")
	if again.Rows[0][0] != "PO-1" {
		t.Fatalf("expected snapshot isolation")
	}
}

func TestMemoryStoreUniqueAppend(t *testing.T) {
	ctx := context.Background()
	store := newOrdersMemoryStore(t)

	if err := store.AppendRow(ctx, "orders", []string{"PO-1"}, UniqueOn("po_id")); err != nil {
		t.Fatalf("append: %v", err)
	}
	err := store.AppendRow(ctx, "orders", []string{"PO-1"}, UniqueOn("po_id"))
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected duplicate key, got %v", err)
	}
	var wrapped *Error
	if !errors.As(err, &wrapped) || !wrapped.IsConflict() {
		t.Fatalf("expected conflict classification, got %v", err)
	}
}

func TestMemoryStoreRejectsWideRows(t *testing.T) {
	store := newOrdersMemoryStore(t)
	if err := store.AppendRow(context.Background(), "orders", []string{"a", "b", "c", "d"}); err == nil {
		t.Fatalf("expected error for row wider than header")
	}
}

func TestMemoryStoreUpdateCells(t *testing.T) {
	ctx := context.Background()
	store := newOrdersMemoryStore(t)
	_ = store.AppendRow(ctx, "orders", []string{"PO-1", "SKU-1", "requested"})

	if err := store.UpdateCells(ctx, "orders", RowKey{Column: "po_id", Value: "PO-1"}, map[string]string{"status": "received"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	table, _ := store.ReadAll(ctx, "orders")
	if got := table.Value(0, "status"); got != "received" {
		t.Fatalf("expected received, got %q", got)
	}

	err := store.UpdateCells(ctx, "orders", RowKey{Column: "po_id", Value: "PO-9"}, map[string]string{"status": "x"})
	if !errors.Is(err, ErrRowNotFound) {
		t.Fatalf("expected row not found, got %v", err)
	}
	err = store.UpdateCells(ctx, "orders", RowKey{Column: "po_id", Value: "PO-1"}, map[string]string{"nope": "x"})
	if !errors.Is(err, ErrColumnNotFound) {
		t.Fatalf("expected column not found, got %v", err)
	}
}

func TestMemoryStoreMissingTable(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.ReadAll(context.Background(), "orders")
	var wrapped *Error
	if !errors.As(err, &wrapped) || !wrapped.IsNotFound() {
		t.Fatalf("expected not found, got %v", err)
	}
}
