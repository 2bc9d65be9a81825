package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"

	"github.com/suprole/replenishment/internal/domain"
	"github.com/suprole/replenishment/internal/platform/lock"
	"github.com/suprole/replenishment/internal/platform/observability"
	"github.com/suprole/replenishment/internal/platform/requestctx"
	"github.com/suprole/replenishment/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventUpdated       = "order.updated"
	orderEventStatusChanged = "order.status.changed"

	orderLockPrefix = "po:"
	systemActor     = "system"
	noChangeMessage = "no change"
)

// OrderMetrics receives order counters. *observability.Metrics satisfies it.
type OrderMetrics interface {
	OrderCreated()
	StatusChanged(from, to string)
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders  repositories.OrderRepository
	Catalog repositories.CatalogRepository
	// Issuer defaults to an in-process issuer over Orders and Locker.
	Issuer        *OrderIDIssuer
	Locker        lock.Locker
	Clock         func() time.Time
	Location      *time.Location
	Policy        domain.TransitionPolicy
	DefaultSeller string
	IDGenerator   func() string
	Events        OrderEventPublisher
	Metrics       OrderMetrics
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders        repositories.OrderRepository
	catalog       repositories.CatalogRepository
	issuer        *OrderIDIssuer
	locker        lock.Locker
	clock         func() time.Time
	loc           *time.Location
	policy        domain.TransitionPolicy
	defaultSeller string
	newID         func() string
	events        OrderEventPublisher
	metrics       OrderMetrics
	logger        func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order service: catalog repository is required")
	}

	locker := deps.Locker
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	issuer := deps.Issuer
	if issuer == nil {
		var err error
		issuer, err = NewOrderIDIssuer(OrderIDIssuerDeps{Orders: deps.Orders, Locker: locker, Logger: logger})
		if err != nil {
			return nil, err
		}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	loc := deps.Location
	if loc == nil {
		loc = domain.LoadLocation("")
	}
	policy := deps.Policy
	if policy == "" {
		policy = domain.PolicyPermissive
	}
	seller := strings.TrimSpace(deps.DefaultSeller)
	if seller == "" {
		seller = domain.DefaultSeller
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	return &orderService{
		orders:  deps.Orders,
		catalog: deps.Catalog,
		issuer:  issuer,
		locker:  locker,
		clock: func() time.Time {
			return clock().In(loc)
		},
		loc:           loc,
		policy:        policy,
		defaultSeller: seller,
		newID:         idGen,
		events:        deps.Events,
		metrics:       deps.Metrics,
		logger:        logger,
	}, nil
}

// createDraft is the validated, catalog-resolved input of one creation.
type createDraft struct {
	product   domain.ProductCatalogEntry
	purchase  domain.PurchaseCatalogEntry
	setCount  int
	taxRate   decimal.Decimal
	orderDate time.Time
}

// validateCreate checks the command against the catalog without touching the order table.
func validateCreate(cmd CreateOrderCommand, catalog domain.Catalog, now time.Time, loc *time.Location) (createDraft, error) {
	sku := strings.TrimSpace(cmd.SKU)
	if sku == "" {
		return createDraft{}, &ValidationError{Field: "sku", Message: "sku is required"}
	}
	if cmd.SetCount <= 0 {
		return createDraft{}, &ValidationError{Field: "setCount", Message: "setCount must be a positive integer"}
	}
	product, ok := catalog.Product(sku)
	if !ok {
		return createDraft{}, NewValidationError("unknown sku %q", sku)
	}
	purchase, ok := catalog.Purchase(product.ASIN)
	if !ok {
		return createDraft{}, NewValidationError("unknown purchase entry for asin %q (sku %q)", product.ASIN, sku)
	}
	if purchase.SetSize > 0 && cmd.SetCount > math.MaxInt/purchase.SetSize {
		return createDraft{}, &ValidationError{Field: "setCount", Message: fmt.Sprintf("setCount %d is too large for set size %d", cmd.SetCount, purchase.SetSize)}
	}
	if err := domain.CheckLot(cmd.SetCount, purchase.MinLot); err != nil {
		return createDraft{}, &ValidationError{Field: "setCount", Message: err.Error()}
	}

	taxRate := domain.DefaultTaxRate
	if cmd.TaxRate != nil {
		if err := checkTaxRate(*cmd.TaxRate); err != nil {
			return createDraft{}, err
		}
		taxRate = *cmd.TaxRate
	}

	orderDate := now
	if parsed, ok := domain.ParseDate(cmd.OrderDate, loc); ok {
		orderDate = parsed
	}
	return createDraft{
		product:   product,
		purchase:  purchase,
		setCount:  cmd.SetCount,
		taxRate:   taxRate,
		orderDate: domain.StartOfDay(orderDate, loc),
	}, nil
}

func checkTaxRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return &ValidationError{Field: "taxRate", Message: "taxRate must be between 0 and 1 (got " + rate.String() + ")"}
	}
	return nil
}

func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error) {
	ctx, span := observability.StartSpan(ctx, "orders.Create")
	defer span.End()

	catalog, err := s.catalog.LoadCatalog(ctx)
	if err != nil {
		return CreateOrderResult{}, spanError(span, catalogError(err))
	}

	now := s.clock()
	draft, err := validateCreate(cmd, catalog, now, s.loc)
	if err != nil {
		return CreateOrderResult{}, spanError(span, err)
	}
	if raw := strings.TrimSpace(cmd.OrderDate); raw != "" {
		if _, ok := domain.ParseDate(raw, s.loc); !ok {
			s.logger(ctx, "order.create.order_date_defaulted", map[string]any{"orderDate": raw})
		}
	}

	pricing, err := domain.PriceLine(draft.purchase.PurchasePrice, draft.purchase.SetSize, draft.setCount)
	if err != nil {
		return CreateOrderResult{}, spanError(span, &ValidationError{Message: err.Error()})
	}

	actor := s.actor(ctx, cmd.CreatedBy)
	seller := strings.TrimSpace(cmd.Seller)
	if seller == "" {
		seller = s.defaultSeller
	}
	orderDate := draft.orderDate
	createdAt := now
	order := domain.Order{
		SKU:           draft.product.SKU,
		ASIN:          draft.product.ASIN,
		ProductCode:   draft.product.ProductCode,
		ProductName:   draft.product.Name,
		Brand:         draft.product.Brand,
		OrderDate:     &orderDate,
		Seller:        seller,
		Quantity:      pricing.Quantity,
		SetCount:      draft.setCount,
		SetSize:       draft.purchase.SetSize,
		UnitPrice:     pricing.UnitPrice,
		Subtotal:      pricing.Subtotal,
		TaxRate:       draft.taxRate,
		Status:        domain.OrderStatusRequested,
		Remarks:       strings.TrimSpace(cmd.Remarks),
		CreatedBy:     actor,
		CreatedAt:     &createdAt,
		LastUpdatedBy: actor,
		LastUpdatedAt: &createdAt,
	}

	poID, err := s.issuer.IssueAndAppend(ctx, now, func(ctx context.Context, poID string) error {
		order.PoID = poID
		return s.orders.Append(ctx, order)
	})
	if err != nil {
		return CreateOrderResult{}, spanError(span, storeError(err))
	}
	order.PoID = poID
	span.SetAttributes(attribute.String("order.po_id", poID))

	if s.metrics != nil {
		s.metrics.OrderCreated()
	}
	s.logger(ctx, orderEventCreated, map[string]any{
		"poId":     poID,
		"sku":      order.SKU,
		"quantity": order.Quantity,
		"subtotal": order.Subtotal.StringFixed(domain.MoneyPlaces),
	})
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		PoIDs:         []string{poID},
		CurrentStatus: order.Status.String(),
		Actor:         actor,
		OccurredAt:    now,
		Metadata: map[string]any{
			"sku":      order.SKU,
			"quantity": order.Quantity,
		},
	})
	return CreateOrderResult{PoID: poID, Order: order}, nil
}

func (s *orderService) Get(ctx context.Context, poID string) (domain.Order, error) {
	ctx, span := observability.StartSpan(ctx, "orders.Get", attribute.String("order.po_id", poID))
	defer span.End()

	poID = strings.TrimSpace(poID)
	if poID == "" {
		return domain.Order{}, spanError(span, &ValidationError{Field: "poId", Message: "poId is required"})
	}
	order, err := s.orders.Get(ctx, poID)
	if err != nil {
		return domain.Order{}, spanError(span, notFoundOr(err, "order", poID))
	}
	orders := []domain.Order{order}
	s.joinCatalog(ctx, orders)
	return orders[0], nil
}

func (s *orderService) List(ctx context.Context, filter OrderFilter) ([]domain.Order, error) {
	ctx, span := observability.StartSpan(ctx, "orders.List")
	defer span.End()

	match, err := compileOrderFilter(filter, s.loc)
	if err != nil {
		return nil, spanError(span, err)
	}
	orders, err := s.orders.List(ctx)
	if err != nil {
		return nil, spanError(span, storeError(err))
	}
	s.joinCatalog(ctx, orders)
	out := make([]domain.Order, 0, len(orders))
	for _, order := range orders {
		if match(order) {
			out = append(out, order)
		}
	}
	SortOrders(out)
	span.SetAttributes(attribute.Int("orders.count", len(out)))
	return out, nil
}

// SortOrders sorts by order date descending with undated orders last; ties fall back to the
// po id, newest first.
func SortOrders(orders []domain.Order) {
	slices.SortStableFunc(orders, func(a, b domain.Order) int {
		switch {
		case a.OrderDate == nil && b.OrderDate == nil:
		case a.OrderDate == nil:
			return 1
		case b.OrderDate == nil:
			return -1
		default:
			if c := b.OrderDate.Compare(*a.OrderDate); c != 0 {
				return c
			}
		}
		return strings.Compare(b.PoID, a.PoID)
	})
}

func compileOrderFilter(filter OrderFilter, loc *time.Location) (func(domain.Order) bool, error) {
	statuses := make(map[domain.OrderStatus]struct{})
	for _, entry := range filter.Statuses {
		for _, raw := range strings.Split(entry, ",") {
			if strings.TrimSpace(raw) == "" {
				continue
			}
			status, ok := domain.ParseOrderStatus(raw)
			if !ok {
				return nil, unknownStatusError(raw)
			}
			statuses[status] = struct{}{}
		}
	}

	var from, to *time.Time
	if raw := strings.TrimSpace(filter.FromDate); raw != "" {
		parsed, ok := domain.ParseDate(raw, loc)
		if !ok {
			return nil, &ValidationError{Field: "fromDate", Message: "fromDate must be a date (YYYY-MM-DD), got " + raw}
		}
		day := domain.StartOfDay(parsed, loc)
		from = &day
	}
	if raw := strings.TrimSpace(filter.ToDate); raw != "" {
		parsed, ok := domain.ParseDate(raw, loc)
		if !ok {
			return nil, &ValidationError{Field: "toDate", Message: "toDate must be a date (YYYY-MM-DD), got " + raw}
		}
		day := domain.StartOfDay(parsed, loc)
		to = &day
	}

	fold := cases.Fold()
	namePart := fold.String(strings.TrimSpace(filter.ProductName))
	poID := strings.TrimSpace(filter.PoID)
	sku := strings.TrimSpace(filter.SKU)
	asin := strings.TrimSpace(filter.ASIN)
	seller := strings.TrimSpace(filter.Seller)

	return func(order domain.Order) bool {
		if poID != "" && order.PoID != poID {
			return false
		}
		if sku != "" && order.SKU != sku {
			return false
		}
		if asin != "" && order.ASIN != asin {
			return false
		}
		if seller != "" && order.Seller != seller {
			return false
		}
		if len(statuses) > 0 {
			if _, ok := statuses[order.Status]; !ok {
				return false
			}
		}
		if namePart != "" && !strings.Contains(fold.String(order.ProductName), namePart) {
			return false
		}
		if from != nil || to != nil {
			if order.OrderDate == nil {
				return false
			}
			day := domain.StartOfDay(*order.OrderDate, loc)
			if from != nil && day.Before(*from) {
				return false
			}
			if to != nil && day.After(*to) {
				return false
			}
		}
		return true
	}, nil
}

func unknownStatusError(raw string) error {
	allowed := make([]string, 0, len(domain.OrderStatuses()))
	for _, status := range domain.OrderStatuses() {
		allowed = append(allowed, status.String())
	}
	return &ValidationError{
		Field:   "status",
		Message: "unknown status " + strconv.Quote(strings.TrimSpace(raw)) + " (allowed: " + strings.Join(allowed, ", ") + ")",
	}
}

func (s *orderService) Update(ctx context.Context, cmd UpdateOrderCommand) (UpdateOrderResult, error) {
	ctx, span := observability.StartSpan(ctx, "orders.Update", attribute.String("order.po_id", cmd.PoID))
	defer span.End()

	poID := strings.TrimSpace(cmd.PoID)
	if poID == "" {
		return UpdateOrderResult{}, spanError(span, &ValidationError{Field: "poId", Message: "poId is required"})
	}
	update, err := s.compilePatch(cmd.Patch)
	if err != nil {
		return UpdateOrderResult{}, spanError(span, err)
	}

	release, err := s.lockOrder(ctx, poID)
	if err != nil {
		return UpdateOrderResult{}, spanError(span, err)
	}
	defer release()

	order, err := s.orders.Get(ctx, poID)
	if err != nil {
		return UpdateOrderResult{}, spanError(span, notFoundOr(err, "order", poID))
	}
	if cmd.ExpectedLastUpdatedAt != nil && !sameInstant(order.LastUpdatedAt, cmd.ExpectedLastUpdatedAt) {
		return UpdateOrderResult{}, spanError(span, &ConflictError{Message: "order " + poID + " was modified since it was read"})
	}

	now := s.clock()
	update.LastUpdatedBy = s.actor(ctx, cmd.UpdatedBy)
	update.LastUpdatedAt = now
	if err := s.orders.Update(ctx, poID, update); err != nil {
		return UpdateOrderResult{}, spanError(span, notFoundOr(err, "order", poID))
	}
	applyUpdate(&order, update)

	s.logger(ctx, orderEventUpdated, map[string]any{"poId": poID})
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventUpdated,
		PoIDs:         []string{poID},
		CurrentStatus: order.Status.String(),
		Actor:         update.LastUpdatedBy,
		OccurredAt:    now,
		Metadata:      map[string]any{"fields": patchedFields(cmd.Patch)},
	})
	return UpdateOrderResult{Success: true, Order: order}, nil
}

func (s *orderService) compilePatch(patch OrderPatch) (repositories.OrderUpdate, error) {
	var update repositories.OrderUpdate
	if patch.TaxRate != nil {
		if err := checkTaxRate(*patch.TaxRate); err != nil {
			return update, err
		}
		rate := *patch.TaxRate
		update.TaxRate = &rate
	}
	if patch.InvoiceNo != nil {
		invoice := strings.TrimSpace(*patch.InvoiceNo)
		update.InvoiceNo = &invoice
	}
	if patch.ArrivalDate != nil {
		raw := strings.TrimSpace(*patch.ArrivalDate)
		if raw == "" {
			update.ClearArrivalDate = true
		} else {
			parsed, ok := domain.ParseDate(raw, s.loc)
			if !ok {
				return update, &ValidationError{Field: "arrivalDate", Message: "arrivalDate must be a date (YYYY-MM-DD), got " + raw}
			}
			day := domain.StartOfDay(parsed, s.loc)
			update.ArrivalDate = &day
		}
	}
	if patch.Remarks != nil {
		remarks := *patch.Remarks
		update.Remarks = &remarks
	}
	return update, nil
}

func applyUpdate(order *domain.Order, update repositories.OrderUpdate) {
	if update.Status != nil {
		order.Status = *update.Status
	}
	if update.TaxRate != nil {
		order.TaxRate = *update.TaxRate
	}
	if update.InvoiceNo != nil {
		order.InvoiceNo = *update.InvoiceNo
	}
	switch {
	case update.ClearArrivalDate:
		order.ArrivalDate = nil
	case update.ArrivalDate != nil:
		day := *update.ArrivalDate
		order.ArrivalDate = &day
	}
	if update.Remarks != nil {
		order.Remarks = *update.Remarks
	}
	at := update.LastUpdatedAt
	order.LastUpdatedBy = update.LastUpdatedBy
	order.LastUpdatedAt = &at
}

func patchedFields(patch OrderPatch) []string {
	var fields []string
	if patch.TaxRate != nil {
		fields = append(fields, "taxRate")
	}
	if patch.InvoiceNo != nil {
		fields = append(fields, "invoiceNo")
	}
	if patch.ArrivalDate != nil {
		fields = append(fields, "arrivalDate")
	}
	if patch.Remarks != nil {
		fields = append(fields, "remarks")
	}
	return fields
}

func (s *orderService) ChangeStatus(ctx context.Context, cmd ChangeStatusCommand) (StatusChangeResult, error) {
	ctx, span := observability.StartSpan(ctx, "orders.ChangeStatus", attribute.String("order.po_id", cmd.PoID))
	defer span.End()

	poID := strings.TrimSpace(cmd.PoID)
	if poID == "" {
		return StatusChangeResult{}, spanError(span, &ValidationError{Field: "poId", Message: "poId is required"})
	}
	target, ok := domain.ParseOrderStatus(cmd.Status)
	if !ok {
		return StatusChangeResult{}, spanError(span, unknownStatusError(cmd.Status))
	}

	release, err := s.lockOrder(ctx, poID)
	if err != nil {
		return StatusChangeResult{}, spanError(span, err)
	}
	defer release()

	order, err := s.orders.Get(ctx, poID)
	if err != nil {
		return StatusChangeResult{}, spanError(span, notFoundOr(err, "order", poID))
	}
	from := order.Status
	if from == target {
		return StatusChangeResult{PoID: poID, From: from, To: target, Changed: false, Message: noChangeMessage}, nil
	}
	if !s.policy.Allows(from, target) {
		return StatusChangeResult{}, spanError(span, NewValidationError("transition from %s to %s is not allowed", from, target))
	}

	now := s.clock()
	actor := s.actor(ctx, cmd.UpdatedBy)
	if err := s.orders.Update(ctx, poID, repositories.OrderUpdate{
		Status:        &target,
		LastUpdatedBy: actor,
		LastUpdatedAt: now,
	}); err != nil {
		return StatusChangeResult{}, spanError(span, notFoundOr(err, "order", poID))
	}

	if s.metrics != nil {
		s.metrics.StatusChanged(from.String(), target.String())
	}
	s.logger(ctx, orderEventStatusChanged, map[string]any{
		"poId": poID,
		"from": from.String(),
		"to":   target.String(),
	})
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		PoIDs:          []string{poID},
		PreviousStatus: from.String(),
		CurrentStatus:  target.String(),
		Actor:          actor,
		OccurredAt:     now,
	})
	return StatusChangeResult{PoID: poID, From: from, To: target, Changed: true}, nil
}

func (s *orderService) lockOrder(ctx context.Context, poID string) (func(), error) {
	release, err := s.locker.Acquire(ctx, orderLockPrefix+poID)
	if err != nil {
		return nil, &ExternalServiceError{Service: "order lock", Retryable: true, Err: err}
	}
	return release, nil
}

// joinCatalog fills product name and brand from the product catalog. The catalog is decorative
// here, so a load failure is logged and the orders are returned as stored.
func (s *orderService) joinCatalog(ctx context.Context, orders []domain.Order) {
	if len(orders) == 0 {
		return
	}
	catalog, err := s.catalog.LoadCatalog(ctx)
	if err != nil {
		s.logger(ctx, "order.catalog.join_failed", map[string]any{"error": err})
		return
	}
	for i := range orders {
		product, ok := catalog.Product(orders[i].SKU)
		if !ok {
			continue
		}
		if orders[i].ProductName == "" {
			orders[i].ProductName = product.Name
		}
		orders[i].Brand = product.Brand
	}
}

func (s *orderService) actor(ctx context.Context, explicit string) string {
	if actor := strings.TrimSpace(explicit); actor != "" {
		return actor
	}
	if actor := requestctx.Actor(ctx); actor != "" {
		return actor
	}
	return systemActor
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.ID == "" {
		event.ID = s.newID()
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"poIds": event.PoIDs,
			"error": err,
		})
	}
}

func sameInstant(stored, expected *time.Time) bool {
	if stored == nil || expected == nil {
		return stored == nil && expected == nil
	}
	return stored.Truncate(time.Second).Equal(expected.Truncate(time.Second))
}

func catalogError(err error) error {
	if err == nil || isServiceError(err) {
		return err
	}
	return &ExternalServiceError{Service: "catalog store", Retryable: true, Err: err}
}

func spanError(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
