package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/suprole/replenishment/internal/domain"
	"github.com/suprole/replenishment/internal/platform/observability"
	"github.com/suprole/replenishment/internal/repositories"
)

const (
	notificationEventSent = "order.notification.sent"

	defaultMailTimeout = 15 * time.Second
)

// NotificationMetrics receives notification outcomes. *observability.Metrics satisfies it.
type NotificationMetrics interface {
	NotificationSent(kind string, err error)
}

// NotificationRecipients holds the configured addresses per notification kind.
type NotificationRecipients struct {
	// Befree receives request notifications.
	Befree string
	// Suprole receives delivery notifications.
	Suprole string
}

// NotificationServiceDeps bundles collaborators for the dispatcher.
type NotificationServiceDeps struct {
	Orders      repositories.OrderRepository
	Mailer      Mailer
	Recipients  NotificationRecipients
	MailTimeout time.Duration
	Clock       func() time.Time
	Location    *time.Location
	IDGenerator func() string
	Events      OrderEventPublisher
	Metrics     NotificationMetrics
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type notificationService struct {
	orders      repositories.OrderRepository
	mailer      Mailer
	recipients  NotificationRecipients
	mailTimeout time.Duration
	clock       func() time.Time
	loc         *time.Location
	newID       func() string
	events      OrderEventPublisher
	metrics     NotificationMetrics
	logger      func(context.Context, string, map[string]any)
}

// NewNotificationService constructs the status-gated notification dispatcher.
func NewNotificationService(deps NotificationServiceDeps) (NotificationService, error) {
	if deps.Orders == nil {
		return nil, errors.New("notification service: order repository is required")
	}
	if deps.Mailer == nil {
		return nil, errors.New("notification service: mailer is required")
	}
	timeout := deps.MailTimeout
	if timeout <= 0 {
		timeout = defaultMailTimeout
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	loc := deps.Location
	if loc == nil {
		loc = domain.LoadLocation("")
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &notificationService{
		orders:      deps.Orders,
		mailer:      deps.Mailer,
		recipients:  deps.Recipients,
		mailTimeout: timeout,
		clock:       clock,
		loc:         loc,
		newID:       idGen,
		events:      deps.Events,
		metrics:     deps.Metrics,
		logger:      logger,
	}, nil
}

// requiredStatus gates each notification kind.
func requiredStatus(kind NotificationKind) (domain.OrderStatus, bool) {
	switch kind {
	case NotificationRequest:
		return domain.OrderStatusRequested, true
	case NotificationDelivery:
		return domain.OrderStatusDeliveryProcessed, true
	}
	return "", false
}

func (s *notificationService) recipient(kind NotificationKind) (string, error) {
	switch kind {
	case NotificationRequest:
		if addr := strings.TrimSpace(s.recipients.Befree); addr != "" {
			return addr, nil
		}
		return "", &ConfigurationError{Missing: []string{"APP_MAIL_BEFREE"}, Message: "request notification recipient is not configured"}
	default:
		if addr := strings.TrimSpace(s.recipients.Suprole); addr != "" {
			return addr, nil
		}
		return "", &ConfigurationError{Missing: []string{"APP_MAIL_SUPROLE"}, Message: "delivery notification recipient is not configured"}
	}
}

// EligibleOrders keeps the orders named in poIDs whose status equals want, in table order.
func EligibleOrders(orders []domain.Order, poIDs []string, want domain.OrderStatus) []domain.Order {
	wanted := make(map[string]struct{}, len(poIDs))
	for _, id := range poIDs {
		wanted[id] = struct{}{}
	}
	out := make([]domain.Order, 0, len(poIDs))
	for _, order := range orders {
		if _, ok := wanted[order.PoID]; !ok || order.Status != want {
			continue
		}
		out = append(out, order)
		delete(wanted, order.PoID)
	}
	return out
}

func (s *notificationService) Dispatch(ctx context.Context, cmd DispatchCommand) (DispatchResult, error) {
	ctx, span := observability.StartSpan(ctx, "notifications.Dispatch")
	defer span.End()

	want, ok := requiredStatus(cmd.Kind)
	if !ok {
		return DispatchResult{}, spanError(span, NewValidationError("unknown notification kind %q", cmd.Kind))
	}
	poIDs := normalizeIDs(cmd.PoIDs)
	if len(poIDs) == 0 {
		return DispatchResult{}, spanError(span, &ValidationError{Field: "poIds", Message: "poIds is required"})
	}
	to, err := s.recipient(cmd.Kind)
	if err != nil {
		return DispatchResult{}, spanError(span, err)
	}

	orders, err := s.orders.List(ctx)
	if err != nil {
		return DispatchResult{}, spanError(span, storeError(err))
	}
	eligible := EligibleOrders(orders, poIDs, want)
	if len(eligible) == 0 {
		return DispatchResult{}, spanError(span, &ValidationError{Field: "poIds", Message: "no eligible orders (status " + want.String() + ")"})
	}

	now := s.clock()
	content, err := RenderNotification(cmd.Kind, eligible, now, s.loc)
	if err != nil {
		return DispatchResult{}, spanError(span, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.mailTimeout)
	err = s.mailer.Send(sendCtx, MailMessage{To: []string{to}, Subject: content.Subject, HTML: content.HTML})
	cancel()
	if s.metrics != nil {
		s.metrics.NotificationSent(string(cmd.Kind), err)
	}
	if err != nil {
		s.logger(ctx, "order.notification.failed", map[string]any{
			"kind":  string(cmd.Kind),
			"count": len(eligible),
			"error": err,
		})
		return DispatchResult{}, spanError(span, &ExternalServiceError{Service: "mail", Retryable: false, Err: err})
	}

	sent := make([]string, 0, len(eligible))
	for _, order := range eligible {
		sent = append(sent, order.PoID)
	}
	s.logger(ctx, notificationEventSent, map[string]any{
		"kind":  string(cmd.Kind),
		"count": len(sent),
		"to":    to,
	})
	s.publishEvent(ctx, OrderEvent{
		Type:          notificationEventSent,
		PoIDs:         sent,
		CurrentStatus: want.String(),
		Actor:         strings.TrimSpace(cmd.RequestedBy),
		OccurredAt:    now,
		Metadata:      map[string]any{"kind": string(cmd.Kind)},
	})
	return DispatchResult{Success: true, SentCount: len(sent), PoIDs: sent}, nil
}

func (s *notificationService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	event.ID = s.newID()
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"error": err,
		})
	}
}

func normalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
