package tabular

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5/pgxpool"
)

func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("APP_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("APP_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := MigratePostgres(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store, err := NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	return store
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()
	table := fmt.Sprintf("orders_%d", time.Now().UnixNano())

	if err := store.EnsureTable(ctx, table, []string{"po_id", "sku", "status"}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := store.AppendRow(ctx, table, []string{"PO-1", "SKU-1", "requested"}, UniqueOn("po_id")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.AppendRow(ctx, table, []string{"PO-2", "SKU-2"}, UniqueOn("po_id")); err != nil {
		t.Fatalf("append short row: %v", err)
	}
	err := store.AppendRow(ctx, table, []string{"PO-1", "SKU-9"}, UniqueOn("po_id"))
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected duplicate key, got %v", err)
	}

	if err := store.UpdateCells(ctx, table, RowKey{Column: "po_id", Value: "PO-2"}, map[string]string{"status": "received"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	err = store.UpdateCells(ctx, table, RowKey{Column: "po_id", Value: "PO-404"}, map[string]string{"status": "received"})
	if !errors.Is(err, ErrRowNotFound) {
		t.Fatalf("expected row not found, got %v", err)
	}

	got, err := store.ReadAll(ctx, table)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := [][]string{{"PO-1", "SKU-1", "requested"}, {"PO-2", "SKU-2", "received"}}
	if diff := cmp.Diff(want, got.Rows); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestPostgresStore_UnknownTable(t *testing.T) {
	store := newPostgresStore(t)
	_, err := store.ReadAll(context.Background(), "missing_table")
	if !errors.Is(err, ErrTableNotFound) {
		t.Fatalf("expected table not found, got %v", err)
	}
}
