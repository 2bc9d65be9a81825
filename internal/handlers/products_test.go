package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"github.com/suprole/replenishment/internal/domain"
	"github.com/suprole/replenishment/internal/services"
)

func newProductRouter(svc services.ProductService) http.Handler {
	return NewRouter(WithProductRoutes(NewProductHandlers(svc).Routes))
}

func TestProductHandlers_Search(t *testing.T) {
	var got services.ProductFilter
	svc := &stubProductService{
		searchFn: func(_ context.Context, filter services.ProductFilter) ([]domain.ProductSearchResult, error) {
			got = filter
			return []domain.ProductSearchResult{{
				Product:  domain.ProductCatalogEntry{SKU: "S2", ASIN: "A2", Name: "Body Soap", Visible: true},
				Purchase: &domain.PurchaseCatalogEntry{ASIN: "A2", SetSize: 3, PurchasePrice: decimal.RequireFromString("1000")},
			}, {
				Product: domain.ProductCatalogEntry{SKU: "S4", ASIN: "A-missing", Name: "Orphan", Visible: true},
			}}, nil
		},
	}
	rr := httptest.NewRecorder()
	newProductRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/products?brand=Acme&name=soap&include_hidden=true&limit=5", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	want := services.ProductFilter{Brand: "Acme", NamePart: "soap", IncludeHidden: true, Limit: 5}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("filter mismatch (-want +got):\n%s", diff)
	}

	body := decodeBody(t, rr)
	items := body["items"].([]any)
	first := items[0].(map[string]any)
	purchase := first["purchase"].(map[string]any)
	if purchase["unitPrice"] != 333.33 || purchase["purchasePrice"] != float64(1000) {
		t.Fatalf("unexpected purchase payload %v", purchase)
	}
	if _, ok := items[1].(map[string]any)["purchase"]; ok {
		t.Fatalf("expected no purchase for orphan product")
	}
}

func TestProductHandlers_SearchRejectsBadLimit(t *testing.T) {
	rr := httptest.NewRecorder()
	newProductRouter(&stubProductService{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/products?limit=ten", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestProductHandlers_Suggest(t *testing.T) {
	var gotQuery string
	var gotLimit int
	svc := &stubProductService{
		suggestFn: func(_ context.Context, query string, limit int) ([]domain.ProductSearchResult, error) {
			gotQuery, gotLimit = query, limit
			return []domain.ProductSearchResult{}, nil
		},
	}
	rr := httptest.NewRecorder()
	newProductRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/products/suggest?q=hand&limit=3", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotQuery != "hand" || gotLimit != 3 {
		t.Fatalf("unexpected arguments %q %d", gotQuery, gotLimit)
	}
	if body := decodeBody(t, rr); body["count"] != float64(0) {
		t.Fatalf("unexpected body %v", body)
	}
}
