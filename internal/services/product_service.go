package services

import (
	"context"
	"errors"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"

	"github.com/suprole/replenishment/internal/domain"
	"github.com/suprole/replenishment/internal/platform/observability"
	"github.com/suprole/replenishment/internal/repositories"
)

const (
	suggestMinQueryRunes = 2
	defaultSuggestLimit  = 10
	maxSuggestLimit      = 50
)

type productService struct {
	catalog repositories.CatalogRepository
}

// NewProductService constructs the catalog lookup service.
func NewProductService(catalog repositories.CatalogRepository) (ProductService, error) {
	if catalog == nil {
		return nil, errors.New("product service: catalog repository is required")
	}
	return &productService{catalog: catalog}, nil
}

func (s *productService) Search(ctx context.Context, filter ProductFilter) ([]domain.ProductSearchResult, error) {
	ctx, span := observability.StartSpan(ctx, "products.Search")
	defer span.End()

	if filter.Limit < 0 {
		return nil, spanError(span, &ValidationError{Field: "limit", Message: "limit must not be negative"})
	}
	catalog, err := s.catalog.LoadCatalog(ctx)
	if err != nil {
		return nil, spanError(span, catalogError(err))
	}

	fold := cases.Fold()
	namePart := fold.String(strings.TrimSpace(filter.NamePart))
	sku := strings.TrimSpace(filter.SKU)
	asin := strings.TrimSpace(filter.ASIN)
	code := strings.TrimSpace(filter.ProductCode)
	brand := strings.TrimSpace(filter.Brand)

	results := make([]domain.ProductSearchResult, 0)
	for _, product := range sortedProducts(catalog) {
		switch {
		case !product.Visible && !filter.IncludeHidden:
			continue
		case sku != "" && product.SKU != sku:
			continue
		case asin != "" && product.ASIN != asin:
			continue
		case code != "" && product.ProductCode != code:
			continue
		case brand != "" && product.Brand != brand:
			continue
		case namePart != "" && !strings.Contains(fold.String(product.Name), namePart):
			continue
		}
		results = append(results, joinPurchase(catalog, product))
	}
	if filter.Limit > 0 && len(results) > filter.Limit {
		results = results[:filter.Limit]
	}
	return results, nil
}

func (s *productService) Suggest(ctx context.Context, query string, limit int) ([]domain.ProductSearchResult, error) {
	ctx, span := observability.StartSpan(ctx, "products.Suggest")
	defer span.End()

	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < suggestMinQueryRunes {
		return []domain.ProductSearchResult{}, nil
	}
	switch {
	case limit <= 0:
		limit = defaultSuggestLimit
	case limit > maxSuggestLimit:
		limit = maxSuggestLimit
	}

	catalog, err := s.catalog.LoadCatalog(ctx)
	if err != nil {
		return nil, spanError(span, catalogError(err))
	}
	fold := cases.Fold()
	keyword := fold.String(query)

	results := make([]domain.ProductSearchResult, 0, limit)
	for _, product := range sortedProducts(catalog) {
		if len(results) >= limit {
			break
		}
		if !product.Visible {
			continue
		}
		if containsFolded(fold, keyword, product.SKU, product.ASIN, product.Name, product.ProductCode) {
			results = append(results, joinPurchase(catalog, product))
		}
	}
	return results, nil
}

func sortedProducts(catalog domain.Catalog) []domain.ProductCatalogEntry {
	products := make([]domain.ProductCatalogEntry, 0, len(catalog.Products))
	for _, product := range catalog.Products {
		products = append(products, product)
	}
	slices.SortFunc(products, func(a, b domain.ProductCatalogEntry) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.SKU, b.SKU)
	})
	return products
}

func joinPurchase(catalog domain.Catalog, product domain.ProductCatalogEntry) domain.ProductSearchResult {
	result := domain.ProductSearchResult{Product: product}
	if purchase, ok := catalog.Purchase(product.ASIN); ok {
		result.Purchase = &purchase
	}
	return result
}

func containsFolded(fold cases.Caser, keyword string, values ...string) bool {
	for _, value := range values {
		if strings.Contains(fold.String(value), keyword) {
			return true
		}
	}
	return false
}
