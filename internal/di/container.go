package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/suprole/replenishment/internal/domain"
	"github.com/suprole/replenishment/internal/platform/config"
	pfirestore "github.com/suprole/replenishment/internal/platform/firestore"
	"github.com/suprole/replenishment/internal/platform/idempotency"
	"github.com/suprole/replenishment/internal/platform/jobs"
	"github.com/suprole/replenishment/internal/platform/lock"
	"github.com/suprole/replenishment/internal/platform/mail"
	"github.com/suprole/replenishment/internal/platform/observability"
	"github.com/suprole/replenishment/internal/platform/tabular"
	"github.com/suprole/replenishment/internal/repositories"
	firestoreRepo "github.com/suprole/replenishment/internal/repositories/firestore"
	tabularRepo "github.com/suprole/replenishment/internal/repositories/tabular"
	"github.com/suprole/replenishment/internal/services"
)

const closeTimeout = 5 * time.Second

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders        services.OrderService
	Notifications services.NotificationService
	Products      services.ProductService
}

// Container wires the store, repositories, services and supporting infrastructure.
type Container struct {
	Config      config.Config
	Location    *time.Location
	Store       tabular.Store
	Orders      repositories.OrderRepository
	Catalog     repositories.CatalogRepository
	Health      repositories.HealthRepository
	Idempotency idempotency.Store
	Metrics     *observability.Metrics
	Services    Services

	provider *pfirestore.Provider
	closers  []func(context.Context) error
}

type containerOptions struct {
	logger  *zap.Logger
	metrics *observability.Metrics
	clock   func() time.Time
	store   tabular.Store
	mailer  services.Mailer
	events  services.OrderEventPublisher
}

// Option customises NewContainer, mainly so tests can substitute backends.
type Option func(*containerOptions)

// WithLogger sets the base logger; components receive named children.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		o.logger = logger
	}
}

// WithMetrics shares a metrics registry with the HTTP layer.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(o *containerOptions) {
		o.metrics = metrics
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		o.clock = clock
	}
}

// WithStore bypasses the configured backend.
func WithStore(store tabular.Store) Option {
	return func(o *containerOptions) {
		o.store = store
	}
}

// WithMailer bypasses the configured mail transport.
func WithMailer(mailer services.Mailer) Option {
	return func(o *containerOptions) {
		o.mailer = mailer
	}
}

// WithEventPublisher bypasses the configured event backend.
func WithEventPublisher(events services.OrderEventPublisher) Option {
	return func(o *containerOptions) {
		o.events = events
	}
}

// NewContainer constructs the runtime dependencies. Anything opened before a failure is closed
// again.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (_ *Container, err error) {
	o := containerOptions{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.metrics == nil {
		o.metrics = observability.NewMetrics()
	}

	c := &Container{
		Config:   cfg,
		Location: domain.LoadLocation(cfg.Orders.Timezone),
		Metrics:  o.metrics,
	}
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			_ = c.Close(closeCtx)
		}
	}()

	var checks []repositories.DependencyCheck

	backend := cfg.Store.Backend
	store := o.store
	if store == nil {
		store, err = c.openStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
	} else {
		backend = "custom"
	}
	store = tabular.Instrument(tabular.WithTimeout(store, cfg.Store.Timeout), o.metrics.StoreObserver(backend))
	if err := bootstrapTables(ctx, store, cfg.Store); err != nil {
		return nil, err
	}
	c.Store = store
	checks = append(checks, repositories.DependencyCheck{
		Name: "store",
		Check: func(ctx context.Context) error {
			_, err := store.ReadAll(ctx, cfg.Store.OrdersTable)
			return err
		},
	})

	orders, err := tabularRepo.NewOrderRepository(store, cfg.Store.OrdersTable, c.Location)
	if err != nil {
		return nil, err
	}
	catalog, err := tabularRepo.NewCatalogRepository(store, cfg.Store.ProductsTable, cfg.Store.PurchasesTable)
	if err != nil {
		return nil, err
	}
	c.Orders = orders
	c.Catalog = catalog

	var locker lock.Locker = lock.NewLocalLocker()
	c.Idempotency = idempotency.NewMemoryStore()
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Redis.Password})
		c.addCloser(func(context.Context) error { return client.Close() })

		lockLogger := o.logger.Named("lock")
		redisLocker, err := lock.NewRedisLocker(client,
			lock.WithTTL(cfg.Redis.LockTTL),
			lock.WithReleaseHook(func(key string, err error) {
				lockLogger.Warn("lock release failed", zap.String("key", key), zap.Error(err))
			}),
		)
		if err != nil {
			return nil, err
		}
		locker = redisLocker
		if c.Idempotency, err = idempotency.NewRedisStore(client); err != nil {
			return nil, err
		}
		checks = append(checks, repositories.DependencyCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
	}

	var sequences repositories.SequenceRepository
	if cfg.Firestore.Sequences {
		provider := c.firestoreProvider(cfg)
		seqRepo, err := firestoreRepo.NewSequenceRepository(provider)
		if err != nil {
			return nil, err
		}
		sequences = seqRepo
	}

	mailer := o.mailer
	if mailer == nil {
		if mailer, err = buildMailer(ctx, cfg.Mail, o.logger.Named("mail")); err != nil {
			return nil, err
		}
	}

	events := o.events
	if events == nil {
		if events, err = c.buildPublisher(ctx, cfg.Events); err != nil {
			return nil, err
		}
	}

	idGenerator := func() string { return ulid.Make().String() }

	issuer, err := services.NewOrderIDIssuer(services.OrderIDIssuerDeps{
		Orders:    orders,
		Locker:    locker,
		Sequences: sequences,
		Scope:     cfg.Store.OrdersTable,
		Logger:    observability.EventLogger(o.logger.Named("orders")),
	})
	if err != nil {
		return nil, err
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:        orders,
		Catalog:       catalog,
		Issuer:        issuer,
		Locker:        locker,
		Clock:         o.clock,
		Location:      c.Location,
		Policy:        domain.ParseTransitionPolicy(cfg.Orders.StatusPolicy),
		DefaultSeller: cfg.Orders.DefaultSeller,
		IDGenerator:   idGenerator,
		Events:        events,
		Metrics:       o.metrics,
		Logger:        observability.EventLogger(o.logger.Named("orders")),
	})
	if err != nil {
		return nil, fmt.Errorf("order service: %w", err)
	}

	notificationService, err := services.NewNotificationService(services.NotificationServiceDeps{
		Orders: orders,
		Mailer: mailer,
		Recipients: services.NotificationRecipients{
			Befree:  cfg.Mail.BefreeRecipient,
			Suprole: cfg.Mail.SuproleRecipient,
		},
		MailTimeout: cfg.Mail.Timeout,
		Clock:       o.clock,
		Location:    c.Location,
		IDGenerator: idGenerator,
		Events:      events,
		Metrics:     o.metrics,
		Logger:      observability.EventLogger(o.logger.Named("notifications")),
	})
	if err != nil {
		return nil, fmt.Errorf("notification service: %w", err)
	}

	productService, err := services.NewProductService(catalog)
	if err != nil {
		return nil, fmt.Errorf("product service: %w", err)
	}

	c.Services = Services{
		Orders:        orderService,
		Notifications: notificationService,
		Products:      productService,
	}

	health, err := repositories.NewDependencyHealthRepository(checks, o.clock)
	if err != nil {
		return nil, err
	}
	c.Health = health
	return c, nil
}

// Close releases clients in reverse order of creation.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) addCloser(fn func(context.Context) error) {
	c.closers = append(c.closers, fn)
}

func (c *Container) openStore(ctx context.Context, cfg config.Config) (tabular.Store, error) {
	switch cfg.Store.Backend {
	case config.StoreSheets:
		var opts []option.ClientOption
		if path := strings.TrimSpace(cfg.Store.SheetsCredentialsFile); path != "" {
			opts = append(opts, option.WithCredentialsFile(path))
		}
		return tabular.NewSheetsStore(ctx, cfg.Store.SpreadsheetID, opts...)
	case config.StoreXLSX:
		if path := strings.TrimSpace(cfg.Store.XLSXPath); path != "" {
			return tabular.NewXLSXStore(tabular.FileBlob{Path: path})
		}
		client, err := cloudstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("storage client: %w", err)
		}
		c.addCloser(func(context.Context) error { return client.Close() })
		blob, err := tabular.NewGCSBlob(client, cfg.Store.XLSXBucket, cfg.Store.XLSXObject)
		if err != nil {
			return nil, err
		}
		return tabular.NewXLSXStore(blob)
	case config.StoreFirestore:
		return tabular.NewFirestoreStore(c.firestoreProvider(cfg), "")
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres pool: %w", err)
		}
		c.addCloser(func(context.Context) error {
			pool.Close()
			return nil
		})
		if err := tabular.MigratePostgres(ctx, pool); err != nil {
			return nil, err
		}
		return tabular.NewPostgresStore(pool)
	case config.StoreMemory:
		return tabular.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}
}

// firestoreProvider returns the shared provider, creating it on first use.
func (c *Container) firestoreProvider(cfg config.Config) *pfirestore.Provider {
	if c.provider == nil {
		c.provider = pfirestore.NewProvider(cfg.Firestore)
		c.addCloser(c.provider.Close)
	}
	return c.provider
}

func bootstrapTables(ctx context.Context, store tabular.Store, cfg config.StoreConfig) error {
	boot, ok := store.(tabular.Bootstrapper)
	if !ok {
		return nil
	}
	tables := []struct {
		name   string
		header []string
	}{
		{cfg.OrdersTable, tabularRepo.OrderHeader()},
		{cfg.ProductsTable, tabularRepo.ProductHeader()},
		{cfg.PurchasesTable, tabularRepo.PurchaseHeader()},
	}
	for _, table := range tables {
		if err := boot.EnsureTable(ctx, table.name, table.header); err != nil {
			return fmt.Errorf("ensure table %s: %w", table.name, err)
		}
	}
	return nil
}

func buildMailer(ctx context.Context, cfg config.MailConfig, logger *zap.Logger) (services.Mailer, error) {
	switch cfg.Transport {
	case config.MailGmail:
		opts := []option.ClientOption{option.WithScopes(gmail.GmailSendScope)}
		if path := strings.TrimSpace(cfg.GmailCredentialsFile); path != "" {
			opts = append(opts, option.WithCredentialsFile(path))
		}
		return mail.NewGmailSender(ctx, cfg.From, opts...)
	case config.MailSMTP:
		return mail.NewSMTPSender(cfg.SMTPAddr, cfg.From, cfg.SMTPUsername, cfg.SMTPPassword)
	case config.MailLog, "":
		return mail.NewLogSender(logger), nil
	default:
		return nil, fmt.Errorf("unsupported mail transport %q", cfg.Transport)
	}
}

func (c *Container) buildPublisher(ctx context.Context, cfg config.EventsConfig) (services.OrderEventPublisher, error) {
	switch cfg.Backend {
	case config.EventsPubSub:
		client, err := pubsub.NewClient(ctx, cfg.PubSubProject)
		if err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		topic := client.Topic(cfg.PubSubTopic)
		c.addCloser(func(context.Context) error {
			topic.Stop()
			return client.Close()
		})
		return jobs.NewPubSubOrderEventPublisher(topic)
	case config.EventsKafka:
		writer, err := jobs.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, err
		}
		publisher, err := jobs.NewKafkaOrderEventPublisher(writer)
		if err != nil {
			return nil, err
		}
		c.addCloser(func(context.Context) error { return publisher.Close() })
		return publisher, nil
	case config.EventsNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported events backend %q", cfg.Backend)
	}
}
