// Package repositories declares the persistence contracts used by services.
package repositories

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/suprole/replenishment/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository reads and writes the order table. Every call reads the table fresh.
type OrderRepository interface {
	// List returns every order in table order.
	List(ctx context.Context) ([]domain.Order, error)
	// Get returns the order with poID. Should return a RepositoryError with IsNotFound when absent.
	Get(ctx context.Context, poID string) (domain.Order, error)
	// ListIDs returns every stored order id, used for sequence scans.
	ListIDs(ctx context.Context) ([]string, error)
	// Append writes a complete row. A duplicate po_id is reported with IsConflict.
	Append(ctx context.Context, order domain.Order) error
	// Update writes only the fields set on update for the row of poID.
	Update(ctx context.Context, poID string, update OrderUpdate) error
}

// OrderUpdate lists the cells to write. Nil pointers leave the cell untouched; ClearArrivalDate
// blanks the arrival date. Audit fields are always written.
type OrderUpdate struct {
	Status           *domain.OrderStatus
	TaxRate          *decimal.Decimal
	InvoiceNo        *string
	ArrivalDate      *time.Time
	ClearArrivalDate bool
	Remarks          *string
	LastUpdatedBy    string
	LastUpdatedAt    time.Time
}

// CatalogRepository loads the read-only reference datasets.
type CatalogRepository interface {
	LoadCatalog(ctx context.Context) (domain.Catalog, error)
}

// SequenceRepository hands out per-name sequence numbers atomically. The returned value is
// strictly greater than both the stored counter and floor.
type SequenceRepository interface {
	Next(ctx context.Context, name string, floor int64) (int64, error)
}
