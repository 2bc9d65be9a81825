package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/suprole/replenishment/internal/domain"
	"github.com/suprole/replenishment/internal/repositories"
)

var tokyo = domain.LoadLocation("Asia/Tokyo")

type repoErr struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *repoErr) Error() string       { return e.msg }
func (e *repoErr) IsNotFound() bool    { return e.notFound }
func (e *repoErr) IsConflict() bool    { return e.conflict }
func (e *repoErr) IsUnavailable() bool { return e.unavailable }

// stubOrderRepository keeps orders in memory and records writes. The fn fields override the
// default behaviour when set.
type stubOrderRepository struct {
	mu      sync.Mutex
	orders  []domain.Order
	updates []repositories.OrderUpdate
	appends int

	listFn    func(ctx context.Context) ([]domain.Order, error)
	appendFn  func(ctx context.Context, order domain.Order) error
	listIDsFn func(ctx context.Context) ([]string, error)
}

func (r *stubOrderRepository) List(ctx context.Context) ([]domain.Order, error) {
	if r.listFn != nil {
		return r.listFn(ctx)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Order(nil), r.orders...), nil
}

func (r *stubOrderRepository) Get(_ context.Context, poID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, order := range r.orders {
		if order.PoID == poID {
			return order, nil
		}
	}
	return domain.Order{}, &repoErr{msg: "row not found: " + poID, notFound: true}
}

func (r *stubOrderRepository) ListIDs(ctx context.Context) ([]string, error) {
	if r.listIDsFn != nil {
		return r.listIDsFn(ctx)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.orders))
	for _, order := range r.orders {
		ids = append(ids, order.PoID)
	}
	return ids, nil
}

func (r *stubOrderRepository) Append(ctx context.Context, order domain.Order) error {
	if r.appendFn != nil {
		if err := r.appendFn(ctx, order); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.orders {
		if existing.PoID == order.PoID {
			return &repoErr{msg: "duplicate key " + order.PoID, conflict: true}
		}
	}
	r.appends++
	r.orders = append(r.orders, order)
	return nil
}

func (r *stubOrderRepository) Update(_ context.Context, poID string, update repositories.OrderUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.orders {
		if r.orders[i].PoID != poID {
			continue
		}
		r.updates = append(r.updates, update)
		applyUpdate(&r.orders[i], update)
		return nil
	}
	return &repoErr{msg: "row not found: " + poID, notFound: true}
}

func (r *stubOrderRepository) find(poID string) domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, order := range r.orders {
		if order.PoID == poID {
			return order
		}
	}
	return domain.Order{}
}

type stubCatalog struct {
	catalog domain.Catalog
	err     error
	calls   int
}

func (c *stubCatalog) LoadCatalog(context.Context) (domain.Catalog, error) {
	c.calls++
	return c.catalog, c.err
}

// sampleCatalog holds S1 -> A1 with setSize 10, minLot 2 and a purchase price of 1000 per set.
func sampleCatalog() *stubCatalog {
	return &stubCatalog{catalog: domain.Catalog{
		Products: map[string]domain.ProductCatalogEntry{
			"S1": {SKU: "S1", ASIN: "A1", ProductCode: "P-001", Name: "ハンドクリーム", Brand: "Suprole", Visible: true},
			"S2": {SKU: "S2", ASIN: "A2", ProductCode: "P-002", Name: "Body Soap", Brand: "Acme", Visible: true},
			"S3": {SKU: "S3", ASIN: "A3", ProductCode: "P-003", Name: "Hidden Lotion", Brand: "Acme", Visible: false},
			"S4": {SKU: "S4", ASIN: "A-missing", ProductCode: "P-004", Name: "Orphan", Visible: true},
		},
		Purchases: map[string]domain.PurchaseCatalogEntry{
			"A1": {ASIN: "A1", SetSize: 10, MinLot: 2, PurchasePrice: decimal.NewFromInt(1000)},
			"A2": {ASIN: "A2", SetSize: 3, MinLot: 0, PurchasePrice: decimal.RequireFromString("1000")},
			"A3": {ASIN: "A3", SetSize: 1, MinLot: 1, PurchasePrice: decimal.NewFromInt(500)},
		},
	}}
}

type stubSequences struct {
	mu      sync.Mutex
	current map[string]int64
	floors  []int64
	err     error
}

func (s *stubSequences) Next(_ context.Context, name string, floor int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	if s.current == nil {
		s.current = make(map[string]int64)
	}
	s.floors = append(s.floors, floor)
	next := max(s.current[name], floor) + 1
	s.current[name] = next
	return next, nil
}

type stubMailer struct {
	sent []MailMessage
	err  error
}

func (m *stubMailer) Send(ctx context.Context, msg MailMessage) error {
	if _, ok := ctx.Deadline(); !ok {
		return fmt.Errorf("mail sent without deadline")
	}
	m.sent = append(m.sent, msg)
	return m.err
}

type stubEvents struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (p *stubEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *stubEvents) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.Type)
	}
	return out
}

type stubMetrics struct {
	mu            sync.Mutex
	created       int
	statusChanges []string
	notifications []string
}

func (m *stubMetrics) OrderCreated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
}

func (m *stubMetrics) StatusChanged(from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusChanges = append(m.statusChanges, from+"->"+to)
}

func (m *stubMetrics) NotificationSent(kind string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	outcome := "sent"
	if err != nil {
		outcome = "failed"
	}
	m.notifications = append(m.notifications, kind+":"+outcome)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func datePtr(year int, month time.Month, day int) *time.Time {
	t := time.Date(year, month, day, 0, 0, 0, 0, tokyo)
	return &t
}

func stringPtr(value string) *string { return &value }
