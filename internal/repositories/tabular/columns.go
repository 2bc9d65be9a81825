// Package tabular maps order and catalog rows of the tabular store onto domain types.
package tabular

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/suprole/replenishment/internal/domain"
	ptabular "github.com/suprole/replenishment/internal/platform/tabular"
)

// column names a logical field and the legacy headers accepted for it.
type column struct {
	name    string
	aliases []string
}

func (c column) index(table ptabular.Table) int {
	return table.ColumnIndexAny(append([]string{c.name}, c.aliases...)...)
}

// header returns the header text the table actually uses for c, or "" when absent.
func (c column) header(table ptabular.Table) string {
	if idx := c.index(table); idx >= 0 {
		return table.Header[idx]
	}
	return ""
}

var (
	colPoID          = column{name: "po_id"}
	colSKU           = column{name: "sku"}
	colASIN          = column{name: "asin"}
	colProductCode   = column{name: "product_code", aliases: []string{"商品コード"}}
	colProductName   = column{name: "product_name", aliases: []string{"商品名"}}
	colOrderDate     = column{name: "order_date", aliases: []string{"発注日"}}
	colSeller        = column{name: "seller", aliases: []string{"発注先セラー"}}
	colQuantity      = column{name: "quantity", aliases: []string{"発注数量（個）"}}
	colSetCount      = column{name: "set_count", aliases: []string{"セット数"}}
	colSetSize       = column{name: "set_size", aliases: []string{"セット個数"}}
	colUnitPrice     = column{name: "unit_price", aliases: []string{"単価（税抜/個）"}}
	colSubtotal      = column{name: "subtotal", aliases: []string{"税抜純売上高"}}
	colTaxRate       = column{name: "tax_rate", aliases: []string{"消費税率"}}
	colInvoiceNo     = column{name: "invoice_no", aliases: []string{"伝票No."}}
	colArrivalDate   = column{name: "arrival_date", aliases: []string{"到着予定日"}}
	colStatus        = column{name: "status", aliases: []string{"ステータス"}}
	colRemarks       = column{name: "remarks", aliases: []string{"備考"}}
	colCreatedBy     = column{name: "created_by"}
	colCreatedAt     = column{name: "created_at"}
	colLastUpdatedBy = column{name: "last_updated_by"}
	colLastUpdatedAt = column{name: "last_updated_at"}
)

// orderColumns is the append order of a freshly created order table.
var orderColumns = []column{
	colPoID, colSKU, colASIN, colProductCode, colProductName, colOrderDate, colSeller,
	colQuantity, colSetCount, colSetSize, colUnitPrice, colSubtotal, colTaxRate,
	colInvoiceNo, colArrivalDate, colStatus, colRemarks,
	colCreatedBy, colCreatedAt, colLastUpdatedBy, colLastUpdatedAt,
}

// OrderHeader returns the header row used when bootstrapping an empty order table.
func OrderHeader() []string {
	out := make([]string, len(orderColumns))
	for i, col := range orderColumns {
		out[i] = col.name
	}
	return out
}

var numberCleaner = strings.NewReplacer(",", "", "¥", "", "￥", "", " ", "")

func parseDecimal(raw string) (decimal.Decimal, bool) {
	cleaned := numberCleaner.Replace(strings.TrimSpace(raw))
	if cleaned == "" {
		return decimal.Zero, false
	}
	if strings.HasSuffix(cleaned, "%") {
		value, err := decimal.NewFromString(strings.TrimSuffix(cleaned, "%"))
		if err != nil {
			return decimal.Zero, false
		}
		return value.Div(decimal.NewFromInt(100)), true
	}
	value, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, false
	}
	return value, true
}

func parseInt(raw string) (int, bool) {
	value, ok := parseDecimal(raw)
	if !ok {
		return 0, false
	}
	return int(value.IntPart()), true
}

func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "y", "on":
		return true
	}
	return false
}

func parseTime(raw string, loc *time.Location) *time.Time {
	parsed, ok := domain.ParseDate(raw, loc)
	if !ok {
		return nil
	}
	return &parsed
}

func formatDate(t *time.Time, loc *time.Location) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.In(loc).Format(domain.DateLayout)
}

func formatTimestamp(t *time.Time, loc *time.Location) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.In(loc).Format(domain.TimestampLayout)
}

func formatMoney(value decimal.Decimal) string {
	return value.StringFixed(domain.MoneyPlaces)
}

func formatInt(value int) string {
	return strconv.Itoa(value)
}
