package tabular

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/suprole/replenishment/internal/domain"
	ptabular "github.com/suprole/replenishment/internal/platform/tabular"
	"github.com/suprole/replenishment/internal/repositories"
)

// OrderRepository implements repositories.OrderRepository over one table of a tabular store.
type OrderRepository struct {
	store ptabular.Store
	table string
	loc   *time.Location
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository binds the repository to table. Dates are read and written in loc.
func NewOrderRepository(store ptabular.Store, table string, loc *time.Location) (*OrderRepository, error) {
	if store == nil {
		return nil, errors.New("order repository: store is required")
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return nil, errors.New("order repository: table name is required")
	}
	if loc == nil {
		loc = domain.LoadLocation("")
	}
	return &OrderRepository{store: store, table: table, loc: loc}, nil
}

// List returns every non-blank order row.
func (r *OrderRepository) List(ctx context.Context) ([]domain.Order, error) {
	table, err := r.read(ctx)
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(table.Rows))
	poCol := colPoID.index(table)
	for i := range table.Rows {
		if strings.TrimSpace(table.Rows[i][poCol]) == "" {
			continue
		}
		orders = append(orders, r.decode(table, i))
	}
	return orders, nil
}

// Get returns the first row whose po_id equals poID.
func (r *OrderRepository) Get(ctx context.Context, poID string) (domain.Order, error) {
	table, err := r.read(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	idx, err := table.FindRow(ptabular.RowKey{Column: colPoID.header(table), Value: poID})
	if err != nil {
		return domain.Order{}, ptabular.WrapError("get", r.table, err)
	}
	return r.decode(table, idx), nil
}

// ListIDs returns the po_id column.
func (r *OrderRepository) ListIDs(ctx context.Context) ([]string, error) {
	table, err := r.read(ctx)
	if err != nil {
		return nil, err
	}
	poCol := colPoID.index(table)
	ids := make([]string, 0, len(table.Rows))
	for _, row := range table.Rows {
		if id := strings.TrimSpace(row[poCol]); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Append writes order in the table's header order. The store rejects a duplicate po_id.
func (r *OrderRepository) Append(ctx context.Context, order domain.Order) error {
	table, err := r.read(ctx)
	if err != nil {
		return err
	}
	values := r.encode(order)
	row := make([]string, len(table.Header))
	for _, col := range orderColumns {
		if idx := col.index(table); idx >= 0 {
			row[idx] = values[col.name]
		}
	}
	return r.store.AppendRow(ctx, r.table, row, ptabular.UniqueOn(colPoID.header(table)))
}

// Update writes the set fields plus the audit columns. Optional columns missing from a legacy
// table are skipped; a missing status column is an error when the status changes.
func (r *OrderRepository) Update(ctx context.Context, poID string, update repositories.OrderUpdate) error {
	table, err := r.read(ctx)
	if err != nil {
		return err
	}
	values := make(map[string]string)
	set := func(col column, value string) {
		if header := col.header(table); header != "" {
			values[header] = value
		}
	}

	if update.Status != nil {
		if colStatus.header(table) == "" {
			return ptabular.WrapError("update", r.table, fmt.Errorf("%w: %q", ptabular.ErrColumnNotFound, colStatus.name))
		}
		set(colStatus, update.Status.String())
	}
	if update.TaxRate != nil {
		set(colTaxRate, update.TaxRate.String())
	}
	if update.InvoiceNo != nil {
		set(colInvoiceNo, *update.InvoiceNo)
	}
	switch {
	case update.ClearArrivalDate:
		set(colArrivalDate, "")
	case update.ArrivalDate != nil:
		set(colArrivalDate, formatDate(update.ArrivalDate, r.loc))
	}
	if update.Remarks != nil {
		set(colRemarks, *update.Remarks)
	}
	set(colLastUpdatedBy, update.LastUpdatedBy)
	set(colLastUpdatedAt, formatTimestamp(&update.LastUpdatedAt, r.loc))

	return r.store.UpdateCells(ctx, r.table, ptabular.RowKey{Column: colPoID.header(table), Value: poID}, values)
}

func (r *OrderRepository) read(ctx context.Context) (ptabular.Table, error) {
	table, err := r.store.ReadAll(ctx, r.table)
	if err != nil {
		return ptabular.Table{}, err
	}
	if colPoID.index(table) < 0 {
		return ptabular.Table{}, ptabular.WrapError("read", r.table, fmt.Errorf("%w: %q", ptabular.ErrColumnNotFound, colPoID.name))
	}
	return table, nil
}

func (r *OrderRepository) decode(table ptabular.Table, idx int) domain.Order {
	cell := func(col column) string {
		header := col.header(table)
		if header == "" {
			return ""
		}
		return strings.TrimSpace(table.Value(idx, header))
	}
	intCell := func(col column) int {
		value, _ := parseInt(cell(col))
		return value
	}
	decimalCell := func(col column) decimal.Decimal {
		value, _ := parseDecimal(cell(col))
		return value
	}

	order := domain.Order{
		PoID:          cell(colPoID),
		SKU:           cell(colSKU),
		ASIN:          cell(colASIN),
		ProductCode:   cell(colProductCode),
		ProductName:   cell(colProductName),
		OrderDate:     parseTime(cell(colOrderDate), r.loc),
		Seller:        cell(colSeller),
		Quantity:      intCell(colQuantity),
		SetCount:      intCell(colSetCount),
		SetSize:       intCell(colSetSize),
		UnitPrice:     decimalCell(colUnitPrice),
		Subtotal:      decimalCell(colSubtotal),
		TaxRate:       decimalCell(colTaxRate),
		InvoiceNo:     cell(colInvoiceNo),
		ArrivalDate:   parseTime(cell(colArrivalDate), r.loc),
		Remarks:       cell(colRemarks),
		CreatedBy:     cell(colCreatedBy),
		CreatedAt:     parseTime(cell(colCreatedAt), r.loc),
		LastUpdatedBy: cell(colLastUpdatedBy),
		LastUpdatedAt: parseTime(cell(colLastUpdatedAt), r.loc),
	}
	if order.OrderDate != nil {
		day := domain.StartOfDay(*order.OrderDate, r.loc)
		order.OrderDate = &day
	}
	raw := cell(colStatus)
	if status, ok := domain.ParseOrderStatus(raw); ok {
		order.Status = status
	} else {
		order.Status = domain.OrderStatus(raw)
	}
	return order
}

func (r *OrderRepository) encode(order domain.Order) map[string]string {
	return map[string]string{
		colPoID.name:          order.PoID,
		colSKU.name:           order.SKU,
		colASIN.name:          order.ASIN,
		colProductCode.name:   order.ProductCode,
		colProductName.name:   order.ProductName,
		colOrderDate.name:     formatDate(order.OrderDate, r.loc),
		colSeller.name:        order.Seller,
		colQuantity.name:      formatInt(order.Quantity),
		colSetCount.name:      formatInt(order.SetCount),
		colSetSize.name:       formatInt(order.SetSize),
		colUnitPrice.name:     formatMoney(order.UnitPrice),
		colSubtotal.name:      formatMoney(order.Subtotal),
		colTaxRate.name:       order.TaxRate.String(),
		colInvoiceNo.name:     order.InvoiceNo,
		colArrivalDate.name:   formatDate(order.ArrivalDate, r.loc),
		colStatus.name:        order.Status.String(),
		colRemarks.name:       order.Remarks,
		colCreatedBy.name:     order.CreatedBy,
		colCreatedAt.name:     formatTimestamp(order.CreatedAt, r.loc),
		colLastUpdatedBy.name: order.LastUpdatedBy,
		colLastUpdatedAt.name: formatTimestamp(order.LastUpdatedAt, r.loc),
	}
}
