package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/suprole/replenishment/internal/domain"
	"github.com/suprole/replenishment/internal/platform/httpx"
	"github.com/suprole/replenishment/internal/services"
)

type createOrderRequest struct {
	SKU       string           `json:"sku"`
	SetCount  int              `json:"setCount"`
	TaxRate   *decimal.Decimal `json:"taxRate"`
	OrderDate string           `json:"orderDate"`
	Seller    string           `json:"seller"`
	Remarks   string           `json:"remarks"`
	CreatedBy string           `json:"createdBy"`
}

// updateOrderRequest is a partial update. A null invoiceNo, arrivalDate or remarks clears the
// field; a null taxRate is treated as absent since an order always carries a rate.
type updateOrderRequest struct {
	TaxRate               *decimal.Decimal `json:"taxRate"`
	InvoiceNo             clearableString  `json:"invoiceNo"`
	ArrivalDate           clearableString  `json:"arrivalDate"`
	Remarks               clearableString  `json:"remarks"`
	UpdatedBy             string           `json:"updatedBy"`
	ExpectedLastUpdatedAt *time.Time       `json:"expectedLastUpdatedAt"`
}

type changeStatusRequest struct {
	Status    string `json:"status"`
	UpdatedBy string `json:"updatedBy"`
}

type orderPayload struct {
	PoID          string      `json:"poId"`
	SKU           string      `json:"sku"`
	ASIN          string      `json:"asin"`
	ProductCode   string      `json:"productCode"`
	ProductName   string      `json:"productName"`
	Brand         string      `json:"brand,omitempty"`
	OrderDate     *string     `json:"orderDate"`
	Seller        string      `json:"seller"`
	Quantity      int         `json:"quantity"`
	SetCount      int         `json:"setCount"`
	SetSize       int         `json:"setSize"`
	UnitPrice     json.Number `json:"unitPrice"`
	Subtotal      json.Number `json:"subtotal"`
	TaxRate       json.Number `json:"taxRate"`
	InvoiceNo     string      `json:"invoiceNo"`
	ArrivalDate   *string     `json:"arrivalDate"`
	Status        string      `json:"status"`
	Remarks       string      `json:"remarks"`
	CreatedBy     string      `json:"createdBy"`
	CreatedAt     *string     `json:"createdAt"`
	LastUpdatedBy string      `json:"lastUpdatedBy"`
	LastUpdatedAt *string     `json:"lastUpdatedAt"`
}

type orderListResponse struct {
	Items []orderPayload `json:"items"`
	Count int            `json:"count"`
}

type createOrderResponse struct {
	Success bool         `json:"success"`
	PoID    string       `json:"poId"`
	Order   orderPayload `json:"order"`
}

type updateOrderResponse struct {
	Success bool         `json:"success"`
	Order   orderPayload `json:"order"`
}

type changeStatusResponse struct {
	Success bool   `json:"success"`
	PoID    string `json:"poId"`
	From    string `json:"from"`
	To      string `json:"to"`
	Changed bool   `json:"changed"`
	Message string `json:"message,omitempty"`
}

// OrderHandlers exposes the replenishment order endpoints.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes registers the /orders endpoints. createMW wraps POST / only (idempotency replay).
func (h *OrderHandlers) Routes(createMW ...func(http.Handler) http.Handler) RouteRegistrar {
	return func(r chi.Router) {
		r.Get("/", h.listOrders)
		r.With(nonNil(createMW)...).Post("/", h.createOrder)
		r.Get("/{poId}", h.getOrder)
		r.Patch("/{poId}", h.updateOrder)
		r.Post("/{poId}/status", h.changeStatus)
	}
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	filter := services.OrderFilter{
		PoID:        strings.TrimSpace(query.Get("po_id")),
		SKU:         strings.TrimSpace(query.Get("sku")),
		ASIN:        strings.TrimSpace(query.Get("asin")),
		Seller:      strings.TrimSpace(query.Get("seller")),
		Statuses:    parseFilterValues(append(query["status"], query["statuses"]...)),
		ProductName: strings.TrimSpace(firstNonEmpty(query.Get("product_name"), query.Get("productName"))),
		FromDate:    strings.TrimSpace(firstNonEmpty(query.Get("from_date"), query.Get("fromDate"))),
		ToDate:      strings.TrimSpace(firstNonEmpty(query.Get("to_date"), query.Get("toDate"))),
	}

	orders, err := h.orders.List(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, buildOrderPayload(order))
	}
	httpx.WriteJSON(w, http.StatusOK, orderListResponse{Items: items, Count: len(items)})
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createOrderRequest
	if status, msg, ok := decodeJSONBody(r, &req); !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", msg, status))
		return
	}

	result, err := h.orders.Create(ctx, services.CreateOrderCommand{
		SKU:       strings.TrimSpace(req.SKU),
		SetCount:  req.SetCount,
		TaxRate:   req.TaxRate,
		OrderDate: req.OrderDate,
		Seller:    req.Seller,
		Remarks:   req.Remarks,
		CreatedBy: req.CreatedBy,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	w.Header().Set("Location", r.URL.Path+"/"+result.PoID)
	httpx.WriteJSON(w, http.StatusCreated, createOrderResponse{
		Success: true,
		PoID:    result.PoID,
		Order:   buildOrderPayload(result.Order),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	poID := strings.TrimSpace(chi.URLParam(r, "poId"))
	if poID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "poId is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Get(ctx, poID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) updateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	poID := strings.TrimSpace(chi.URLParam(r, "poId"))
	if poID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "poId is required", http.StatusBadRequest))
		return
	}

	var req updateOrderRequest
	if status, msg, ok := decodeJSONBody(r, &req); !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", msg, status))
		return
	}

	result, err := h.orders.Update(ctx, services.UpdateOrderCommand{
		PoID: poID,
		Patch: services.OrderPatch{
			TaxRate:     req.TaxRate,
			InvoiceNo:   req.InvoiceNo.ptr(),
			ArrivalDate: req.ArrivalDate.ptr(),
			Remarks:     req.Remarks.ptr(),
		},
		UpdatedBy:             req.UpdatedBy,
		ExpectedLastUpdatedAt: req.ExpectedLastUpdatedAt,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, updateOrderResponse{Success: result.Success, Order: buildOrderPayload(result.Order)})
}

func (h *OrderHandlers) changeStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	poID := strings.TrimSpace(chi.URLParam(r, "poId"))
	if poID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "poId is required", http.StatusBadRequest))
		return
	}

	var req changeStatusRequest
	if status, msg, ok := decodeJSONBody(r, &req); !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", msg, status))
		return
	}

	result, err := h.orders.ChangeStatus(ctx, services.ChangeStatusCommand{
		PoID:      poID,
		Status:    req.Status,
		UpdatedBy: req.UpdatedBy,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, changeStatusResponse{
		Success: true,
		PoID:    result.PoID,
		From:    result.From.String(),
		To:      result.To.String(),
		Changed: result.Changed,
		Message: result.Message,
	})
}

func buildOrderPayload(order domain.Order) orderPayload {
	return orderPayload{
		PoID:          order.PoID,
		SKU:           order.SKU,
		ASIN:          order.ASIN,
		ProductCode:   order.ProductCode,
		ProductName:   order.ProductName,
		Brand:         order.Brand,
		OrderDate:     formatOptionalTime(order.OrderDate, domain.DateLayout),
		Seller:        order.Seller,
		Quantity:      order.Quantity,
		SetCount:      order.SetCount,
		SetSize:       order.SetSize,
		UnitPrice:     decimalNumber(order.UnitPrice),
		Subtotal:      decimalNumber(order.Subtotal),
		TaxRate:       decimalNumber(order.TaxRate),
		InvoiceNo:     order.InvoiceNo,
		ArrivalDate:   formatOptionalTime(order.ArrivalDate, domain.DateLayout),
		Status:        order.Status.String(),
		Remarks:       order.Remarks,
		CreatedBy:     order.CreatedBy,
		CreatedAt:     formatOptionalTime(order.CreatedAt, time.RFC3339),
		LastUpdatedBy: order.LastUpdatedBy,
		LastUpdatedAt: formatOptionalTime(order.LastUpdatedAt, time.RFC3339),
	}
}

func decimalNumber(value decimal.Decimal) json.Number {
	return json.Number(value.String())
}

func formatOptionalTime(value *time.Time, layout string) *string {
	if value == nil || value.IsZero() {
		return nil
	}
	formatted := value.Format(layout)
	return &formatted
}

func parseFilterValues(values []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if _, ok := seen[part]; ok {
				continue
			}
			seen[part] = struct{}{}
			out = append(out, part)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func nonNil(mw []func(http.Handler) http.Handler) []func(http.Handler) http.Handler {
	out := make([]func(http.Handler) http.Handler, 0, len(mw))
	for _, m := range mw {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}
