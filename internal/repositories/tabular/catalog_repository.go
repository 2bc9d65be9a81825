package tabular

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/suprole/replenishment/internal/domain"
	ptabular "github.com/suprole/replenishment/internal/platform/tabular"
	"github.com/suprole/replenishment/internal/repositories"
)

var (
	catSKU         = column{name: "sku"}
	catASIN        = column{name: "asin"}
	catProductCode = column{name: "product_code", aliases: []string{"商品コード"}}
	catName        = column{name: "name", aliases: []string{"product_name", "商品名"}}
	catBrand       = column{name: "brand", aliases: []string{"ブランド"}}
	catVisible     = column{name: "visible", aliases: []string{"表示/非表示"}}

	purSetSize       = column{name: "set_size", aliases: []string{"セット個数"}}
	purMinLot        = column{name: "min_lot", aliases: []string{"最小ロット"}}
	purPurchasePrice = column{name: "purchase_price", aliases: []string{"仕入れ値（税抜/セット）"}}
	purHazard        = column{name: "hazard", aliases: []string{"危険物"}}
	purHasExpiry     = column{name: "has_expiry", aliases: []string{"消費期限要"}}
)

// ProductHeader is the header of a freshly bootstrapped product catalog table.
func ProductHeader() []string {
	return []string{catSKU.name, catASIN.name, catProductCode.name, catName.name, catBrand.name, catVisible.name}
}

// PurchaseHeader is the header of a freshly bootstrapped purchase catalog table.
func PurchaseHeader() []string {
	return []string{catASIN.name, purSetSize.name, purMinLot.name, purPurchasePrice.name, purHazard.name, purHasExpiry.name}
}

// CatalogRepository reads the product and purchase catalog tables.
type CatalogRepository struct {
	store     ptabular.Store
	products  string
	purchases string
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

// NewCatalogRepository binds the repository to both tables.
func NewCatalogRepository(store ptabular.Store, productsTable, purchasesTable string) (*CatalogRepository, error) {
	if store == nil {
		return nil, errors.New("catalog repository: store is required")
	}
	productsTable = strings.TrimSpace(productsTable)
	purchasesTable = strings.TrimSpace(purchasesTable)
	if productsTable == "" || purchasesTable == "" {
		return nil, errors.New("catalog repository: table names are required")
	}
	return &CatalogRepository{store: store, products: productsTable, purchases: purchasesTable}, nil
}

// LoadCatalog reads both tables. The first row for a duplicated key wins.
func (r *CatalogRepository) LoadCatalog(ctx context.Context) (domain.Catalog, error) {
	products, err := r.loadProducts(ctx)
	if err != nil {
		return domain.Catalog{}, err
	}
	purchases, err := r.loadPurchases(ctx)
	if err != nil {
		return domain.Catalog{}, err
	}
	return domain.Catalog{Products: products, Purchases: purchases}, nil
}

func (r *CatalogRepository) loadProducts(ctx context.Context) (map[string]domain.ProductCatalogEntry, error) {
	table, err := r.store.ReadAll(ctx, r.products)
	if err != nil {
		return nil, err
	}
	if catSKU.index(table) < 0 {
		return nil, ptabular.WrapError("read", r.products, fmt.Errorf("%w: %q", ptabular.ErrColumnNotFound, catSKU.name))
	}
	visibleCol := catVisible.index(table)

	out := make(map[string]domain.ProductCatalogEntry, len(table.Rows))
	for i, row := range table.Rows {
		sku := catalogCell(table, i, catSKU)
		if sku == "" {
			continue
		}
		if _, exists := out[sku]; exists {
			continue
		}
		visible := true
		if visibleCol >= 0 && strings.TrimSpace(row[visibleCol]) != "" {
			visible = parseBool(row[visibleCol])
		}
		out[sku] = domain.ProductCatalogEntry{
			SKU:         sku,
			ASIN:        catalogCell(table, i, catASIN),
			ProductCode: catalogCell(table, i, catProductCode),
			Name:        catalogCell(table, i, catName),
			Brand:       catalogCell(table, i, catBrand),
			Visible:     visible,
		}
	}
	return out, nil
}

func (r *CatalogRepository) loadPurchases(ctx context.Context) (map[string]domain.PurchaseCatalogEntry, error) {
	table, err := r.store.ReadAll(ctx, r.purchases)
	if err != nil {
		return nil, err
	}
	if catASIN.index(table) < 0 {
		return nil, ptabular.WrapError("read", r.purchases, fmt.Errorf("%w: %q", ptabular.ErrColumnNotFound, catASIN.name))
	}

	out := make(map[string]domain.PurchaseCatalogEntry, len(table.Rows))
	for i := range table.Rows {
		asin := catalogCell(table, i, catASIN)
		if asin == "" {
			continue
		}
		if _, exists := out[asin]; exists {
			continue
		}

		// Blank or unparsable cells fall back to one set of one unit at price zero. An explicit
		// min lot of 0 is kept and disables the lot check.
		setSize, ok := parseInt(catalogCell(table, i, purSetSize))
		if !ok || setSize <= 0 {
			setSize = 1
		}
		minLot, ok := parseInt(catalogCell(table, i, purMinLot))
		if !ok || minLot < 0 {
			minLot = 1
		}
		price, ok := parseDecimal(catalogCell(table, i, purPurchasePrice))
		if !ok || price.IsNegative() {
			price = decimal.Zero
		}

		out[asin] = domain.PurchaseCatalogEntry{
			ASIN:          asin,
			SetSize:       setSize,
			MinLot:        minLot,
			PurchasePrice: price,
			Hazard:        parseBool(catalogCell(table, i, purHazard)),
			HasExpiry:     parseBool(catalogCell(table, i, purHasExpiry)),
		}
	}
	return out, nil
}

func catalogCell(table ptabular.Table, row int, col column) string {
	if idx := col.index(table); idx >= 0 {
		return strings.TrimSpace(table.Rows[row][idx])
	}
	return ""
}
