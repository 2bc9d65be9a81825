package di

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/suprole/replenishment/internal/domain"
	"github.com/suprole/replenishment/internal/platform/config"
	"github.com/suprole/replenishment/internal/services"
)

func memoryConfig() config.Config {
	return config.Config{
		Environment: "test",
		Store: config.StoreConfig{
			Backend:        config.StoreMemory,
			OrdersTable:    "orders",
			ProductsTable:  "products",
			PurchasesTable: "purchases",
			Timeout:        time.Second,
		},
		Mail: config.MailConfig{
			Transport:        config.MailLog,
			SuproleRecipient: "ops@example.com",
			BefreeRecipient:  "buyer@example.com",
			From:             "noreply@example.com",
			Timeout:          time.Second,
		},
		Events: config.EventsConfig{Backend: config.EventsNone},
		Orders: config.OrdersConfig{Timezone: "Asia/Tokyo", DefaultSeller: "Suprole"},
	}
}

func TestNewContainer_MemoryBackend(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

	c, err := NewContainer(ctx, memoryConfig(),
		WithLogger(zaptest.NewLogger(t)),
		WithClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("new container: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Close(context.Background()); err != nil {
			t.Fatalf("close: %v", err)
		}
	})

	if c.Location == nil || c.Location.String() != "Asia/Tokyo" {
		t.Fatalf("expected Asia/Tokyo location, got %v", c.Location)
	}
	if c.Services.Orders == nil || c.Services.Notifications == nil || c.Services.Products == nil {
		t.Fatalf("expected all services to be wired: %+v", c.Services)
	}
	if c.Idempotency == nil {
		t.Fatalf("expected idempotency store")
	}

	orders, err := c.Services.Orders.List(ctx, services.OrderFilter{})
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(orders) != 0 {
		t.Fatalf("expected no orders, got %d", len(orders))
	}

	products, err := c.Services.Products.Search(ctx, services.ProductFilter{IncludeHidden: true})
	if err != nil {
		t.Fatalf("search products: %v", err)
	}
	if len(products) != 0 {
		t.Fatalf("expected empty catalog, got %d", len(products))
	}

	report, err := c.Health.Collect(ctx)
	if err != nil {
		t.Fatalf("collect health: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok health, got %+v", report)
	}
	if _, ok := report.Checks["store"]; !ok {
		t.Fatalf("expected store check in %+v", report.Checks)
	}
}

func TestNewContainer_UnsupportedBackends(t *testing.T) {
	cases := map[string]func(*config.Config){
		"store":  func(cfg *config.Config) { cfg.Store.Backend = "csv" },
		"mail":   func(cfg *config.Config) { cfg.Mail.Transport = "fax" },
		"events": func(cfg *config.Config) { cfg.Events.Backend = "nats" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := memoryConfig()
			mutate(&cfg)
			c, err := NewContainer(context.Background(), cfg)
			if err == nil {
				_ = c.Close(context.Background())
				t.Fatalf("expected error for unsupported %s backend", name)
			}
			if c != nil {
				t.Fatalf("expected nil container on failure")
			}
		})
	}
}

func TestContainerClose_Nil(t *testing.T) {
	var c *Container
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}
