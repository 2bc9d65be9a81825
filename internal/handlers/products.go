package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/suprole/replenishment/internal/domain"
	"github.com/suprole/replenishment/internal/platform/httpx"
	"github.com/suprole/replenishment/internal/services"
)

type productPayload struct {
	SKU         string       `json:"sku"`
	ASIN        string       `json:"asin"`
	ProductCode string       `json:"productCode"`
	Name        string       `json:"productName"`
	Brand       string       `json:"brand"`
	Visible     bool         `json:"visible"`
	Purchase    *purchaseDTO `json:"purchase,omitempty"`
}

type purchaseDTO struct {
	SetSize       int         `json:"setSize"`
	MinLot        int         `json:"minLot"`
	PurchasePrice json.Number `json:"purchasePrice"`
	UnitPrice     json.Number `json:"unitPrice,omitempty"`
	Hazard        bool        `json:"hazard"`
	HasExpiry     bool        `json:"hasExpiry"`
}

type productListResponse struct {
	Items []productPayload `json:"items"`
	Count int              `json:"count"`
}

// ProductHandlers exposes catalog lookups used by the order form.
type ProductHandlers struct {
	products services.ProductService
}

// NewProductHandlers constructs a new ProductHandlers instance.
func NewProductHandlers(products services.ProductService) *ProductHandlers {
	return &ProductHandlers{products: products}
}

// Routes registers the /products endpoints.
func (h *ProductHandlers) Routes(r chi.Router) {
	r.Get("/", h.searchProducts)
	r.Get("/suggest", h.suggestProducts)
}

func (h *ProductHandlers) searchProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		httpx.WriteError(ctx, w, httpx.NewError("product_service_unavailable", "product service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	limit, ok := parseLimit(query.Get("limit"))
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be an integer", http.StatusBadRequest))
		return
	}
	includeHidden, _ := strconv.ParseBool(strings.TrimSpace(query.Get("include_hidden")))

	results, err := h.products.Search(ctx, services.ProductFilter{
		SKU:           strings.TrimSpace(query.Get("sku")),
		ASIN:          strings.TrimSpace(query.Get("asin")),
		ProductCode:   strings.TrimSpace(query.Get("product_code")),
		NamePart:      strings.TrimSpace(firstNonEmpty(query.Get("name"), query.Get("q"))),
		Brand:         strings.TrimSpace(query.Get("brand")),
		IncludeHidden: includeHidden,
		Limit:         limit,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildProductList(results))
}

func (h *ProductHandlers) suggestProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		httpx.WriteError(ctx, w, httpx.NewError("product_service_unavailable", "product service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	limit, ok := parseLimit(query.Get("limit"))
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be an integer", http.StatusBadRequest))
		return
	}

	results, err := h.products.Suggest(ctx, query.Get("q"), limit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildProductList(results))
}

func parseLimit(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return limit, true
}

func buildProductList(results []domain.ProductSearchResult) productListResponse {
	items := make([]productPayload, 0, len(results))
	for _, result := range results {
		items = append(items, buildProductPayload(result))
	}
	return productListResponse{Items: items, Count: len(items)}
}

func buildProductPayload(result domain.ProductSearchResult) productPayload {
	payload := productPayload{
		SKU:         result.Product.SKU,
		ASIN:        result.Product.ASIN,
		ProductCode: result.Product.ProductCode,
		Name:        result.Product.Name,
		Brand:       result.Product.Brand,
		Visible:     result.Product.Visible,
	}
	if purchase := result.Purchase; purchase != nil {
		dto := &purchaseDTO{
			SetSize:       purchase.SetSize,
			MinLot:        purchase.MinLot,
			PurchasePrice: decimalNumber(purchase.PurchasePrice),
			Hazard:        purchase.Hazard,
			HasExpiry:     purchase.HasExpiry,
		}
		if purchase.SetSize > 0 {
			dto.UnitPrice = decimalNumber(domain.Round2(purchase.PurchasePrice.Div(decimal.NewFromInt(int64(purchase.SetSize)))))
		}
		payload.Purchase = dto
	}
	return payload
}
