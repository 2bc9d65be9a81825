package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/suprole/replenishment/internal/domain"
)

// OrderService owns the replenishment order lifecycle.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error)
	Get(ctx context.Context, poID string) (domain.Order, error)
	List(ctx context.Context, filter OrderFilter) ([]domain.Order, error)
	Update(ctx context.Context, cmd UpdateOrderCommand) (UpdateOrderResult, error)
	ChangeStatus(ctx context.Context, cmd ChangeStatusCommand) (StatusChangeResult, error)
}

// NotificationService mails status-gated order summaries.
type NotificationService interface {
	Dispatch(ctx context.Context, cmd DispatchCommand) (DispatchResult, error)
}

// ProductService answers catalog lookups for the order form.
type ProductService interface {
	Search(ctx context.Context, filter ProductFilter) ([]domain.ProductSearchResult, error)
	Suggest(ctx context.Context, query string, limit int) ([]domain.ProductSearchResult, error)
}

// Mailer delivers one HTML message. Implementations do not retry.
type Mailer interface {
	Send(ctx context.Context, msg MailMessage) error
}

// MailMessage is a rendered notification.
type MailMessage struct {
	To      []string
	Subject string
	HTML    string
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	PoIDs          []string       `json:"poIds"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus,omitempty"`
	Actor          string         `json:"actor,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// CreateOrderCommand carries caller input for a new order. OrderDate is raw so an unparsable
// value can fall back to the creation time.
type CreateOrderCommand struct {
	SKU       string
	SetCount  int
	TaxRate   *decimal.Decimal
	OrderDate string
	Seller    string
	Remarks   string
	CreatedBy string
}

// CreateOrderResult reports the issued id and the stored order.
type CreateOrderResult struct {
	PoID  string
	Order domain.Order
}

// OrderFilter narrows List. Zero values match everything.
type OrderFilter struct {
	PoID        string
	SKU         string
	ASIN        string
	Seller      string
	Statuses    []string
	ProductName string
	FromDate    string
	ToDate      string
}

// OrderPatch lists the mutable fields. A nil field is left unchanged; an empty ArrivalDate
// clears the stored date.
type OrderPatch struct {
	TaxRate     *decimal.Decimal
	InvoiceNo   *string
	ArrivalDate *string
	Remarks     *string
}

// UpdateOrderCommand patches one order. ExpectedLastUpdatedAt, when set, must equal the stored
// last_updated_at value.
type UpdateOrderCommand struct {
	PoID                  string
	Patch                 OrderPatch
	UpdatedBy             string
	ExpectedLastUpdatedAt *time.Time
}

// UpdateOrderResult acknowledges a patch.
type UpdateOrderResult struct {
	Success bool
	Order   domain.Order
}

// ChangeStatusCommand moves one order to Status.
type ChangeStatusCommand struct {
	PoID      string
	Status    string
	UpdatedBy string
}

// StatusChangeResult reports the transition. Changed is false for a same-status request, in
// which case nothing was written.
type StatusChangeResult struct {
	PoID    string
	From    domain.OrderStatus
	To      domain.OrderStatus
	Changed bool
	Message string
}

// NotificationKind selects the recipient and the status gate.
type NotificationKind string

const (
	// NotificationRequest asks the supplier to order goods; requires status requested.
	NotificationRequest NotificationKind = "request"
	// NotificationDelivery reports completed delivery paperwork; requires status delivery-processed.
	NotificationDelivery NotificationKind = "delivery"
)

// DispatchCommand names the candidate orders for one notification.
type DispatchCommand struct {
	Kind        NotificationKind
	PoIDs       []string
	RequestedBy string
}

// DispatchResult reports how many orders the mail covered.
type DispatchResult struct {
	Success   bool
	SentCount int
	PoIDs     []string
}

// ProductFilter narrows product search.
type ProductFilter struct {
	SKU           string
	ASIN          string
	ProductCode   string
	NamePart      string
	Brand         string
	IncludeHidden bool
	Limit         int
}
