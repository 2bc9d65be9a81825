package handlers

import (
	"context"
	"sync"

	"github.com/suprole/replenishment/internal/domain"
	"github.com/suprole/replenishment/internal/services"
)

type stubOrderService struct {
	mu sync.Mutex

	createFn       func(context.Context, services.CreateOrderCommand) (services.CreateOrderResult, error)
	getFn          func(context.Context, string) (domain.Order, error)
	listFn         func(context.Context, services.OrderFilter) ([]domain.Order, error)
	updateFn       func(context.Context, services.UpdateOrderCommand) (services.UpdateOrderResult, error)
	changeStatusFn func(context.Context, services.ChangeStatusCommand) (services.StatusChangeResult, error)

	creates []services.CreateOrderCommand
	updates []services.UpdateOrderCommand
	filters []services.OrderFilter
}

func (s *stubOrderService) Create(ctx context.Context, cmd services.CreateOrderCommand) (services.CreateOrderResult, error) {
	s.mu.Lock()
	s.creates = append(s.creates, cmd)
	s.mu.Unlock()
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.CreateOrderResult{}, nil
}

func (s *stubOrderService) Get(ctx context.Context, poID string) (domain.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, poID)
	}
	return domain.Order{}, &services.NotFoundError{Resource: "order", ID: poID}
}

func (s *stubOrderService) List(ctx context.Context, filter services.OrderFilter) ([]domain.Order, error) {
	s.mu.Lock()
	s.filters = append(s.filters, filter)
	s.mu.Unlock()
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return nil, nil
}

func (s *stubOrderService) Update(ctx context.Context, cmd services.UpdateOrderCommand) (services.UpdateOrderResult, error) {
	s.mu.Lock()
	s.updates = append(s.updates, cmd)
	s.mu.Unlock()
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.UpdateOrderResult{Success: true}, nil
}

func (s *stubOrderService) ChangeStatus(ctx context.Context, cmd services.ChangeStatusCommand) (services.StatusChangeResult, error) {
	if s.changeStatusFn != nil {
		return s.changeStatusFn(ctx, cmd)
	}
	return services.StatusChangeResult{}, nil
}

type stubNotificationService struct {
	dispatchFn func(context.Context, services.DispatchCommand) (services.DispatchResult, error)
	calls      []services.DispatchCommand
}

func (s *stubNotificationService) Dispatch(ctx context.Context, cmd services.DispatchCommand) (services.DispatchResult, error) {
	s.calls = append(s.calls, cmd)
	if s.dispatchFn != nil {
		return s.dispatchFn(ctx, cmd)
	}
	return services.DispatchResult{Success: true, SentCount: len(cmd.PoIDs), PoIDs: cmd.PoIDs}, nil
}

type stubProductService struct {
	searchFn  func(context.Context, services.ProductFilter) ([]domain.ProductSearchResult, error)
	suggestFn func(context.Context, string, int) ([]domain.ProductSearchResult, error)
}

func (s *stubProductService) Search(ctx context.Context, filter services.ProductFilter) ([]domain.ProductSearchResult, error) {
	if s.searchFn != nil {
		return s.searchFn(ctx, filter)
	}
	return nil, nil
}

func (s *stubProductService) Suggest(ctx context.Context, query string, limit int) ([]domain.ProductSearchResult, error) {
	if s.suggestFn != nil {
		return s.suggestFn(ctx, query, limit)
	}
	return nil, nil
}

type stubHealthRepository struct {
	report domain.HealthReport
	err    error
}

func (s *stubHealthRepository) Collect(context.Context) (domain.HealthReport, error) {
	return s.report, s.err
}

var (
	_ services.OrderService        = (*stubOrderService)(nil)
	_ services.NotificationService = (*stubNotificationService)(nil)
	_ services.ProductService      = (*stubProductService)(nil)
)
