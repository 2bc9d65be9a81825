package domain

import "github.com/shopspring/decimal"

// ProductCatalogEntry describes a sellable product keyed by SKU.
type ProductCatalogEntry struct {
	SKU         string
	ASIN        string
	ProductCode string
	Name        string
	Brand       string
	Visible     bool
}

// PurchaseCatalogEntry captures supplier purchasing terms keyed by ASIN.
type PurchaseCatalogEntry struct {
	ASIN          string
	SetSize       int
	MinLot        int
	PurchasePrice decimal.Decimal
	Hazard        bool
	HasExpiry     bool
}

// Catalog groups both reference datasets loaded for a single request.
type Catalog struct {
	Products  map[string]ProductCatalogEntry
	Purchases map[string]PurchaseCatalogEntry
}

// Product looks up a product entry by SKU.
func (c Catalog) Product(sku string) (ProductCatalogEntry, bool) {
	entry, ok := c.Products[sku]
	return entry, ok
}

// Purchase looks up purchasing terms by ASIN.
func (c Catalog) Purchase(asin string) (PurchaseCatalogEntry, bool) {
	entry, ok := c.Purchases[asin]
	return entry, ok
}

// ProductSearchResult joins a product with its purchasing terms, when present.
type ProductSearchResult struct {
	Product  ProductCatalogEntry
	Purchase *PurchaseCatalogEntry
}
