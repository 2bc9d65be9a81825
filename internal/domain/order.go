package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus enumerates the lifecycle states of a replenishment order.
type OrderStatus string

const (
	// OrderStatusRequested is the initial state assigned on creation.
	OrderStatusRequested OrderStatus = "requested"
	// OrderStatusSupplierOrdered marks that the order has been placed with the supplier.
	OrderStatusSupplierOrdered OrderStatus = "supplier-ordered"
	// OrderStatusDeliveryProcessed marks that the supplier completed delivery paperwork.
	OrderStatusDeliveryProcessed OrderStatus = "delivery-processed"
	// OrderStatusReceived marks that goods arrived at the warehouse.
	OrderStatusReceived OrderStatus = "received"
	// OrderStatusShippedOut marks that goods were shipped onwards to the fulfilment centre.
	OrderStatusShippedOut OrderStatus = "shipped-out"
	// OrderStatusOnHold parks an order from any state.
	OrderStatusOnHold OrderStatus = "on-hold"
	// OrderStatusReturned is terminal.
	OrderStatusReturned OrderStatus = "returned"
)

// DefaultSeller is recorded when the caller does not name a seller.
const DefaultSeller = "Suprole"

// DefaultTaxRate applies when the caller does not supply a tax rate.
var DefaultTaxRate = decimal.RequireFromString("0.10")

var orderStatuses = []OrderStatus{
	OrderStatusRequested,
	OrderStatusSupplierOrdered,
	OrderStatusDeliveryProcessed,
	OrderStatusReceived,
	OrderStatusShippedOut,
	OrderStatusOnHold,
	OrderStatusReturned,
}

// legacyStatusLabels maps status labels written by the spreadsheet era tooling.
var legacyStatusLabels = map[string]OrderStatus{
	"sup_依頼中":      OrderStatusRequested,
	"be_メーカー取寄中":  OrderStatusSupplierOrdered,
	"be_納品手続完了":   OrderStatusDeliveryProcessed,
	"sup_受取完了":    OrderStatusReceived,
	"sup_fba出荷完了": OrderStatusShippedOut,
	"保留":          OrderStatusOnHold,
	"返品":          OrderStatusReturned,
}

// StatusTransitions declares the nominal lifecycle graph. It is consulted only when the
// enforced transition policy is active.
var StatusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusRequested:         {OrderStatusSupplierOrdered, OrderStatusOnHold, OrderStatusReturned},
	OrderStatusSupplierOrdered:   {OrderStatusDeliveryProcessed, OrderStatusOnHold, OrderStatusReturned},
	OrderStatusDeliveryProcessed: {OrderStatusReceived, OrderStatusOnHold, OrderStatusReturned},
	OrderStatusReceived:          {OrderStatusShippedOut, OrderStatusOnHold, OrderStatusReturned},
	OrderStatusShippedOut:        {OrderStatusOnHold, OrderStatusReturned},
	OrderStatusOnHold:            {OrderStatusOnHold, OrderStatusReturned},
	OrderStatusReturned:          {},
}

// OrderStatuses returns the closed set of statuses in lifecycle order.
func OrderStatuses() []OrderStatus {
	return slices.Clone(orderStatuses)
}

// ParseOrderStatus normalises raw input into a known status.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	if status, ok := legacyStatusLabels[trimmed]; ok {
		return status, true
	}
	candidate := OrderStatus(strings.ToLower(strings.ReplaceAll(trimmed, "_", "-")))
	if candidate.IsValid() {
		return candidate, true
	}
	return "", false
}

// IsValid reports whether the status belongs to the closed set.
func (s OrderStatus) IsValid() bool {
	return slices.Contains(orderStatuses, s)
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// TransitionPolicy decides whether a status change is allowed.
type TransitionPolicy string

const (
	// PolicyPermissive accepts any change between known statuses.
	PolicyPermissive TransitionPolicy = "permissive"
	// PolicyEnforced accepts only the edges declared in StatusTransitions.
	PolicyEnforced TransitionPolicy = "enforced"
)

// ParseTransitionPolicy falls back to the permissive policy for blank or unknown values.
func ParseTransitionPolicy(raw string) TransitionPolicy {
	if TransitionPolicy(strings.ToLower(strings.TrimSpace(raw))) == PolicyEnforced {
		return PolicyEnforced
	}
	return PolicyPermissive
}

// Allows reports whether the policy admits moving from one status to another.
func (p TransitionPolicy) Allows(from, to OrderStatus) bool {
	if !to.IsValid() {
		return false
	}
	if p != PolicyEnforced || from == to {
		return true
	}
	return slices.Contains(StatusTransitions[from], to)
}

// Order is one replenishment request for a single SKU.
type Order struct {
	PoID          string
	SKU           string
	ASIN          string
	ProductCode   string
	ProductName   string
	Brand         string
	OrderDate     *time.Time
	Seller        string
	Quantity      int
	SetCount      int
	SetSize       int
	UnitPrice     decimal.Decimal
	Subtotal      decimal.Decimal
	TaxRate       decimal.Decimal
	InvoiceNo     string
	ArrivalDate   *time.Time
	Status        OrderStatus
	Remarks       string
	CreatedBy     string
	CreatedAt     *time.Time
	LastUpdatedBy string
	LastUpdatedAt *time.Time
}

// Tax returns subtotal multiplied by the order's tax rate without rounding.
func (o Order) Tax() decimal.Decimal {
	return o.Subtotal.Mul(o.TaxRate)
}

// PoIDPrefix builds the date scoped prefix shared by all order ids issued on day.
func PoIDPrefix(day time.Time) string {
	return fmt.Sprintf("PO-%s-", day.Format("20060102"))
}

// FormatPoID renders a sequence number into the canonical id for day.
func FormatPoID(day time.Time, seq int) string {
	return fmt.Sprintf("%s%04d", PoIDPrefix(day), seq)
}
