package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseOrderStatus(t *testing.T) {
	cases := map[string]OrderStatus{
		"requested":        OrderStatusRequested,
		"  Received ":      OrderStatusReceived,
		"supplier_ordered": OrderStatusSupplierOrdered,
		"SHIPPED-OUT":      OrderStatusShippedOut,
		"sup_依頼中":          OrderStatusRequested,
		"返品":               OrderStatusReturned,
	}
	for raw, want := range cases {
		got, ok := ParseOrderStatus(raw)
		if !ok || got != want {
			t.Fatalf("ParseOrderStatus(%q) = %q, %v; want %q", raw, got, ok, want)
		}
	}
	for _, raw := range []string{"", "  ", "cancelled"} {
		if got, ok := ParseOrderStatus(raw); ok {
			t.Fatalf("expected %q to be rejected, got %q", raw, got)
		}
	}
}

func TestTransitionPolicy(t *testing.T) {
	if ParseTransitionPolicy(" Enforced ") != PolicyEnforced {
		t.Fatalf("expected enforced policy")
	}
	if ParseTransitionPolicy("strict") != PolicyPermissive {
		t.Fatalf("expected unknown policy to fall back to permissive")
	}

	permissive := PolicyPermissive
	if !permissive.Allows(OrderStatusReturned, OrderStatusRequested) {
		t.Fatalf("permissive policy should allow any known target")
	}
	if permissive.Allows(OrderStatusRequested, OrderStatus("lost")) {
		t.Fatalf("unknown target must be rejected")
	}

	enforced := PolicyEnforced
	if !enforced.Allows(OrderStatusRequested, OrderStatusSupplierOrdered) {
		t.Fatalf("declared edge should be allowed")
	}
	if enforced.Allows(OrderStatusRequested, OrderStatusReceived) {
		t.Fatalf("skipping states should be rejected")
	}
	if enforced.Allows(OrderStatusReturned, OrderStatusOnHold) {
		t.Fatalf("returned is terminal")
	}
	if !enforced.Allows(OrderStatusReturned, OrderStatusReturned) {
		t.Fatalf("same status is always allowed")
	}
}

func TestOrderStatuses_ReturnsCopy(t *testing.T) {
	statuses := OrderStatuses()
	if len(statuses) != 7 || statuses[0] != OrderStatusRequested {
		t.Fatalf("unexpected statuses %v", statuses)
	}
	statuses[0] = "mutated"
	if OrderStatuses()[0] != OrderStatusRequested {
		t.Fatalf("expected OrderStatuses to return a copy")
	}
}

func TestFormatPoID(t *testing.T) {
	day := time.Date(2025, 3, 9, 23, 0, 0, 0, time.UTC)
	if got := FormatPoID(day, 7); got != "PO-20250309-0007" {
		t.Fatalf("unexpected id %q", got)
	}
	if got := FormatPoID(day, 12345); got != "PO-20250309-12345" {
		t.Fatalf("unexpected overflow id %q", got)
	}
}

func TestOrderTax(t *testing.T) {
	order := Order{Subtotal: decimal.RequireFromString("1999.98"), TaxRate: DefaultTaxRate}
	if got := order.Tax(); !got.Equal(decimal.RequireFromString("199.998")) {
		t.Fatalf("unexpected tax %s", got)
	}
}
