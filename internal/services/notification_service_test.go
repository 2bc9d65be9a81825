package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"github.com/suprole/replenishment/internal/domain"
)

type notificationFixture struct {
	svc     NotificationService
	orders  *stubOrderRepository
	mailer  *stubMailer
	events  *stubEvents
	metrics *stubMetrics
}

func newNotificationFixture(t *testing.T, recipients NotificationRecipients) notificationFixture {
	t.Helper()
	fx := notificationFixture{
		orders:  &stubOrderRepository{orders: notificationOrders()},
		mailer:  &stubMailer{},
		events:  &stubEvents{},
		metrics: &stubMetrics{},
	}
	svc, err := NewNotificationService(NotificationServiceDeps{
		Orders:     fx.orders,
		Mailer:     fx.mailer,
		Recipients: recipients,
		Clock:      fixedClock(createdAt),
		Location:   tokyo,
		Events:     fx.events,
		Metrics:    fx.metrics,
	})
	if err != nil {
		t.Fatalf("NewNotificationService: %v", err)
	}
	fx.svc = svc
	return fx
}

var bothRecipients = NotificationRecipients{Befree: "befree@example.com", Suprole: "suprole@example.com"}

func notificationOrders() []domain.Order {
	rate := decimal.RequireFromString("0.10")
	reduced := decimal.RequireFromString("0.08")
	return []domain.Order{
		{PoID: "PO-1", ASIN: "A1", ProductCode: "P-001", ProductName: "ハンドクリーム", Quantity: 40, UnitPrice: decimal.RequireFromString("100.00"), Subtotal: decimal.RequireFromString("4000.00"), TaxRate: rate, Status: domain.OrderStatusRequested, OrderDate: datePtr(2025, 3, 1)},
		{PoID: "PO-2", ASIN: "A2", ProductCode: "P-002", ProductName: "Body Soap", Quantity: 3, UnitPrice: decimal.RequireFromString("333.33"), Subtotal: decimal.RequireFromString("999.99"), TaxRate: reduced, Status: domain.OrderStatusSupplierOrdered},
		{PoID: "PO-3", ASIN: "A3", ProductCode: "P-003", ProductName: "<b>Lotion</b> & Co", Quantity: 12, UnitPrice: decimal.RequireFromString("1250.50"), Subtotal: decimal.RequireFromString("15006.00"), TaxRate: rate, Status: domain.OrderStatusRequested},
		{PoID: "PO-4", ASIN: "A4", ProductCode: "P-004", ProductName: "Mask", Quantity: 5, UnitPrice: decimal.RequireFromString("10.05"), Subtotal: decimal.RequireFromString("50.25"), TaxRate: reduced, InvoiceNo: "INV-77", ArrivalDate: datePtr(2025, 3, 20), Status: domain.OrderStatusDeliveryProcessed},
		{PoID: "PO-5", ASIN: "A5", ProductCode: "P-005", ProductName: "Gel", Quantity: 1, UnitPrice: decimal.RequireFromString("10.05"), Subtotal: decimal.RequireFromString("10.05"), TaxRate: rate, Status: domain.OrderStatusDeliveryProcessed},
	}
}

func TestNotificationService_RequestOnlyIncludesRequestedOrders(t *testing.T) {
	fx := newNotificationFixture(t, bothRecipients)

	result, err := fx.svc.Dispatch(context.Background(), DispatchCommand{Kind: NotificationRequest, PoIDs: []string{"PO-1", "PO-2", "PO-3", "PO-4", "PO-1"}})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !result.Success || result.SentCount != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	if diff := cmp.Diff([]string{"PO-1", "PO-3"}, result.PoIDs); diff != "" {
		t.Fatalf("po ids mismatch (-want +got):\n%s", diff)
	}
	if len(fx.mailer.sent) != 1 {
		t.Fatalf("expected one mail, got %d", len(fx.mailer.sent))
	}
	msg := fx.mailer.sent[0]
	if diff := cmp.Diff([]string{"befree@example.com"}, msg.To); diff != "" {
		t.Fatalf("recipient mismatch (-want +got):\n%s", diff)
	}
	if msg.Subject != "【発注依頼】Suprole - 2025-03-03 (2件)" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	if !strings.Contains(msg.HTML, "PO-1") || !strings.Contains(msg.HTML, "PO-3") {
		t.Fatalf("expected eligible orders in body")
	}
	if strings.Contains(msg.HTML, "PO-2") || strings.Contains(msg.HTML, "PO-4") {
		t.Fatalf("ineligible orders leaked into body")
	}
	if diff := cmp.Diff([]string{"order.notification.sent"}, fx.events.types()); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"request:sent"}, fx.metrics.notifications); diff != "" {
		t.Fatalf("metrics mismatch (-want +got):\n%s", diff)
	}
}

func TestNotificationService_NoEligibleOrders(t *testing.T) {
	fx := newNotificationFixture(t, bothRecipients)

	_, err := fx.svc.Dispatch(context.Background(), DispatchCommand{Kind: NotificationDelivery, PoIDs: []string{"PO-1", "PO-2", "PO-missing"}})
	if !errors.Is(err, ErrValidation) || !strings.Contains(err.Error(), "no eligible orders") {
		t.Fatalf("expected no eligible orders, got %v", err)
	}
	if len(fx.mailer.sent) != 0 {
		t.Fatalf("expected no mail")
	}
}

func TestNotificationService_DeliveryGoesToSuprole(t *testing.T) {
	fx := newNotificationFixture(t, bothRecipients)

	result, err := fx.svc.Dispatch(context.Background(), DispatchCommand{Kind: NotificationDelivery, PoIDs: []string{"PO-4", "PO-5"}})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.SentCount != 2 {
		t.Fatalf("unexpected sent count %d", result.SentCount)
	}
	msg := fx.mailer.sent[0]
	if msg.To[0] != "suprole@example.com" || msg.Subject != "【納品手続完了】befree - 2025-03-03 (2件)" {
		t.Fatalf("unexpected envelope %+v", msg)
	}
	if !strings.Contains(msg.HTML, "INV-77") || !strings.Contains(msg.HTML, "2025-03-20") {
		t.Fatalf("expected delivery columns in body")
	}
}

func TestNotificationService_MissingRecipient(t *testing.T) {
	fx := newNotificationFixture(t, NotificationRecipients{Suprole: "suprole@example.com"})

	_, err := fx.svc.Dispatch(context.Background(), DispatchCommand{Kind: NotificationRequest, PoIDs: []string{"PO-1"}})
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if diff := cmp.Diff([]string{"APP_MAIL_BEFREE"}, cfgErr.Missing); diff != "" {
		t.Fatalf("missing mismatch (-want +got):\n%s", diff)
	}
	if len(fx.mailer.sent) != 0 {
		t.Fatalf("expected no mail")
	}
}

func TestNotificationService_MailFailureIsNotRetryable(t *testing.T) {
	fx := newNotificationFixture(t, bothRecipients)
	fx.mailer.err = errors.New("quota exceeded")
	before := notificationOrders()

	_, err := fx.svc.Dispatch(context.Background(), DispatchCommand{Kind: NotificationRequest, PoIDs: []string{"PO-1"}})
	var extErr *ExternalServiceError
	if !errors.As(err, &extErr) || extErr.Retryable || extErr.Service != "mail" {
		t.Fatalf("expected non-retryable mail error, got %v", err)
	}
	if len(fx.mailer.sent) != 1 {
		t.Fatalf("expected exactly one attempt, got %d", len(fx.mailer.sent))
	}
	if len(fx.orders.updates) != 0 {
		t.Fatalf("orders must not be mutated")
	}
	if diff := cmp.Diff(before, fx.orders.orders, decimalComparer); diff != "" {
		t.Fatalf("orders changed (-want +got):\n%s", diff)
	}
	if len(fx.events.events) != 0 {
		t.Fatalf("expected no event on failure")
	}
	if diff := cmp.Diff([]string{"request:failed"}, fx.metrics.notifications); diff != "" {
		t.Fatalf("metrics mismatch (-want +got):\n%s", diff)
	}
}

func TestNotificationService_RejectsBadInput(t *testing.T) {
	fx := newNotificationFixture(t, bothRecipients)
	if _, err := fx.svc.Dispatch(context.Background(), DispatchCommand{Kind: NotificationRequest}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for empty ids, got %v", err)
	}
	if _, err := fx.svc.Dispatch(context.Background(), DispatchCommand{Kind: "fax", PoIDs: []string{"PO-1"}}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for kind, got %v", err)
	}
}

func TestSummarizeOrders_RoundsTaxAtTotal(t *testing.T) {
	orders := []domain.Order{
		{Quantity: 5, Subtotal: decimal.RequireFromString("50.25"), TaxRate: decimal.RequireFromString("0.08")},
		{Quantity: 1, Subtotal: decimal.RequireFromString("10.05"), TaxRate: decimal.RequireFromString("0.10")},
		{Quantity: 1, Subtotal: decimal.RequireFromString("10.05"), TaxRate: decimal.RequireFromString("0.10")},
	}
	totals := SummarizeOrders(orders)

	// 4.02 + 1.005 + 1.005 = 6.03
	if totals.Count != 3 || totals.Quantity != 7 {
		t.Fatalf("unexpected counts %+v", totals)
	}
	if !totals.Subtotal.Equal(decimal.RequireFromString("70.35")) {
		t.Fatalf("unexpected subtotal %s", totals.Subtotal)
	}
	if !totals.Tax.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("unexpected tax %s", totals.Tax)
	}
	if !totals.Total.Equal(decimal.NewFromInt(76)) {
		t.Fatalf("unexpected total %s", totals.Total)
	}
}

func TestSummarizeOrders_LineRoundingWouldDiffer(t *testing.T) {
	orders := make([]domain.Order, 3)
	for i := range orders {
		orders[i] = domain.Order{Quantity: 1, Subtotal: decimal.RequireFromString("5.00"), TaxRate: decimal.RequireFromString("0.10")}
	}
	// 0.5 per line rounds to 1 each (3 total) when rounded per line; the summed 1.5 rounds to 2.
	if got := SummarizeOrders(orders).Tax; !got.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected tax rounded at the total, got %s", got)
	}
}

func TestRenderNotification_FormatsAndSanitizes(t *testing.T) {
	orders := notificationOrders()
	content, err := RenderNotification(NotificationRequest, []domain.Order{orders[0], orders[2]}, createdAt, tokyo)
	if err != nil {
		t.Fatalf("RenderNotification: %v", err)
	}
	for _, want := range []string{"¥4,000", "¥15,006", "¥1,250.5", "¥19,006", "52個", "2025-03-01", "Lotion &amp; Co"} {
		if !strings.Contains(content.HTML, want) {
			t.Fatalf("expected %q in body:\n%s", want, content.HTML)
		}
	}
	if strings.Contains(content.HTML, "<b>") || strings.Contains(content.HTML, "&amp;lt;") {
		t.Fatalf("expected markup stripped from free text:\n%s", content.HTML)
	}
	if strings.Contains(content.HTML, "消費税率") {
		t.Fatalf("request mail must not carry delivery columns")
	}
}

func TestRenderNotification_DeliveryTotals(t *testing.T) {
	orders := notificationOrders()
	content, err := RenderNotification(NotificationDelivery, []domain.Order{orders[3], orders[4]}, createdAt, tokyo)
	if err != nil {
		t.Fatalf("RenderNotification: %v", err)
	}
	for _, want := range []string{"消費税率", "8%", "10%", "INV-77", "税込合計", "¥65"} {
		if !strings.Contains(content.HTML, want) {
			t.Fatalf("expected %q in body:\n%s", want, content.HTML)
		}
	}
	if !content.Totals.Tax.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("unexpected tax %s", content.Totals.Tax)
	}
}
