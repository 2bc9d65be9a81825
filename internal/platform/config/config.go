package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile        = ".env"
	defaultPort           = "8080"
	defaultReadTimeout    = 15 * time.Second
	defaultWriteTimeout   = 30 * time.Second
	defaultIdleTimeout    = 120 * time.Second
	defaultOrdersTable    = "orders"
	defaultProductsTable  = "products"
	defaultPurchasesTable = "purchases"
	defaultStoreTimeout   = 10 * time.Second
	defaultMailTimeout    = 15 * time.Second
	defaultLockTTL        = 30 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
	defaultTimezone       = "Asia/Tokyo"
	defaultSeller         = "Suprole"
	defaultEnvironment    = "local"
)

// Store backends.
const (
	StoreSheets    = "sheets"
	StoreXLSX      = "xlsx"
	StoreFirestore = "firestore"
	StorePostgres  = "postgres"
	StoreMemory    = "memory"
)

// Mail transports.
const (
	MailGmail = "gmail"
	MailSMTP  = "smtp"
	MailLog   = "log"
)

// Event backends.
const (
	EventsNone   = "none"
	EventsPubSub = "pubsub"
	EventsKafka  = "kafka"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment string
	Server      ServerConfig
	Auth        AuthConfig
	Store       StoreConfig
	Firestore   FirestoreConfig
	Redis       RedisConfig
	Mail        MailConfig
	Events      EventsConfig
	Orders      OrdersConfig
	Idempotency IdempotencyConfig
	Secrets     SecretsConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// AuthConfig holds the shared request token. An empty token disables the guard.
type AuthConfig struct {
	Token string
}

// StoreConfig selects and parameterises the tabular backend.
type StoreConfig struct {
	Backend               string
	SpreadsheetID         string
	SheetsCredentialsFile string
	OrdersTable           string
	ProductsTable         string
	PurchasesTable        string
	XLSXPath              string
	XLSXBucket            string
	XLSXObject            string
	PostgresDSN           string
	Timeout               time.Duration
}

// FirestoreConfig stores Firestore parameters, used by the firestore backend and the sequence
// counter.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
	Sequences    bool
}

// RedisConfig enables the distributed lock and idempotency store when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	LockTTL  time.Duration
}

// MailConfig selects the mail transport and recipients.
type MailConfig struct {
	Transport            string
	SuproleRecipient     string
	BefreeRecipient      string
	From                 string
	SMTPAddr             string
	SMTPUsername         string
	SMTPPassword         string
	GmailCredentialsFile string
	Timeout              time.Duration
}

// EventsConfig selects where order events are published.
type EventsConfig struct {
	Backend       string
	PubSubProject string
	PubSubTopic   string
	KafkaBrokers  []string
	KafkaTopic    string
}

// OrdersConfig holds order domain defaults.
type OrdersConfig struct {
	StatusPolicy  string
	Timezone      string
	DefaultSeller string
}

// IdempotencyConfig controls the Idempotency-Key middleware.
type IdempotencyConfig struct {
	TTL time.Duration
}

// SecretsConfig configures Secret Manager lookups.
type SecretsConfig struct {
	ProjectID string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ConfigurationError is returned when required configuration fields are missing or invalid.
type ConfigurationError struct {
	fields []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ConfigurationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects explicit values that take precedence over the system environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

func resolveOptions(opts []Option) loaderOptions {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// EnvironmentValues returns the merged environment (dotenv < OS env < explicit map) so callers can
// initialise dependencies, such as the secret fetcher, before invoking Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := resolveOptions(opts)
	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(dotEnv))
	for key, value := range dotEnv {
		values[key] = value
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[key] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// Load assembles the configuration from defaults, .env overrides, environment variables and
// Secret Manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := resolveOptions(opts)
	values, err := EnvironmentValues(opts...)
	if err != nil {
		return Config{}, err
	}
	lookup := func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}

	cfg := Config{
		Environment: strings.ToLower(stringWithDefault(lookup, "APP_ENVIRONMENT", defaultEnvironment)),
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "APP_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "APP_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "APP_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "APP_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Auth: AuthConfig{
			Token: stringWithDefault(lookup, "APP_TOKEN", ""),
		},
		Store: StoreConfig{
			Backend:               strings.ToLower(stringWithDefault(lookup, "APP_STORE_BACKEND", StoreSheets)),
			SpreadsheetID:         stringWithDefault(lookup, "APP_SPREADSHEET_ID", ""),
			SheetsCredentialsFile: stringWithDefault(lookup, "APP_SHEETS_CREDENTIALS_FILE", ""),
			OrdersTable:           stringWithDefault(lookup, "APP_ORDERS_TABLE", defaultOrdersTable),
			ProductsTable:         stringWithDefault(lookup, "APP_PRODUCTS_TABLE", defaultProductsTable),
			PurchasesTable:        stringWithDefault(lookup, "APP_PURCHASES_TABLE", defaultPurchasesTable),
			XLSXPath:              stringWithDefault(lookup, "APP_XLSX_PATH", ""),
			XLSXBucket:            stringWithDefault(lookup, "APP_XLSX_BUCKET", ""),
			XLSXObject:            stringWithDefault(lookup, "APP_XLSX_OBJECT", ""),
			PostgresDSN:           stringWithDefault(lookup, "APP_POSTGRES_DSN", ""),
			Timeout:               durationWithDefault(lookup, "APP_STORE_TIMEOUT", defaultStoreTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "APP_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "APP_FIRESTORE_EMULATOR_HOST", ""),
			Sequences:    boolWithDefault(lookup, "APP_FIRESTORE_SEQUENCES", false),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "APP_REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "APP_REDIS_PASSWORD", ""),
			LockTTL:  durationWithDefault(lookup, "APP_LOCK_TTL", defaultLockTTL),
		},
		Mail: MailConfig{
			Transport:            strings.ToLower(stringWithDefault(lookup, "APP_MAIL_TRANSPORT", MailLog)),
			SuproleRecipient:     stringWithDefault(lookup, "APP_MAIL_SUPROLE", ""),
			BefreeRecipient:      stringWithDefault(lookup, "APP_MAIL_BEFREE", ""),
			From:                 stringWithDefault(lookup, "APP_MAIL_FROM", ""),
			SMTPAddr:             stringWithDefault(lookup, "APP_SMTP_ADDR", ""),
			SMTPUsername:         stringWithDefault(lookup, "APP_SMTP_USERNAME", ""),
			SMTPPassword:         stringWithDefault(lookup, "APP_SMTP_PASSWORD", ""),
			GmailCredentialsFile: stringWithDefault(lookup, "APP_GMAIL_CREDENTIALS_FILE", ""),
			Timeout:              durationWithDefault(lookup, "APP_MAIL_TIMEOUT", defaultMailTimeout),
		},
		Events: EventsConfig{
			Backend:       strings.ToLower(stringWithDefault(lookup, "APP_EVENTS_BACKEND", EventsNone)),
			PubSubProject: stringWithDefault(lookup, "APP_PUBSUB_PROJECT_ID", ""),
			PubSubTopic:   stringWithDefault(lookup, "APP_PUBSUB_TOPIC", ""),
			KafkaBrokers:  csvWithDefault(lookup, "APP_KAFKA_BROKERS"),
			KafkaTopic:    stringWithDefault(lookup, "APP_KAFKA_TOPIC", ""),
		},
		Orders: OrdersConfig{
			StatusPolicy:  strings.ToLower(stringWithDefault(lookup, "APP_STATUS_POLICY", "permissive")),
			Timezone:      stringWithDefault(lookup, "APP_TIMEZONE", defaultTimezone),
			DefaultSeller: stringWithDefault(lookup, "APP_DEFAULT_SELLER", defaultSeller),
		},
		Idempotency: IdempotencyConfig{
			TTL: durationWithDefault(lookup, "APP_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
		Secrets: SecretsConfig{
			ProjectID: stringWithDefault(lookup, "APP_SECRETS_PROJECT_ID", ""),
		},
	}

	if cfg.Events.PubSubProject == "" {
		cfg.Events.PubSubProject = cfg.Firestore.ProjectID
	}

	secretFields := []*string{
		&cfg.Auth.Token,
		&cfg.Redis.Password,
		&cfg.Mail.SMTPPassword,
		&cfg.Store.PostgresDSN,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MissingRecipients names the notification recipients that are not configured. Startup only warns
// about them; sending to a missing recipient fails at send time.
func (c Config) MissingRecipients() []string {
	var missing []string
	if strings.TrimSpace(c.Mail.BefreeRecipient) == "" {
		missing = append(missing, "APP_MAIL_BEFREE")
	}
	if strings.TrimSpace(c.Mail.SuproleRecipient) == "" {
		missing = append(missing, "APP_MAIL_SUPROLE")
	}
	return missing
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "APP_SERVER_PORT")
	}
	if cfg.Store.OrdersTable == "" || cfg.Store.ProductsTable == "" || cfg.Store.PurchasesTable == "" {
		missing = append(missing, "APP_*_TABLE")
	}
	if cfg.Store.Timeout <= 0 {
		missing = append(missing, "APP_STORE_TIMEOUT")
	}
	if cfg.Mail.Timeout <= 0 {
		missing = append(missing, "APP_MAIL_TIMEOUT")
	}

	switch cfg.Store.Backend {
	case StoreSheets:
		if cfg.Store.SpreadsheetID == "" {
			missing = append(missing, "APP_SPREADSHEET_ID")
		}
	case StoreXLSX:
		if cfg.Store.XLSXPath == "" && (cfg.Store.XLSXBucket == "" || cfg.Store.XLSXObject == "") {
			missing = append(missing, "APP_XLSX_PATH")
		}
	case StoreFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "APP_FIRESTORE_PROJECT_ID")
		}
	case StorePostgres:
		if cfg.Store.PostgresDSN == "" {
			missing = append(missing, "APP_POSTGRES_DSN")
		}
	case StoreMemory:
	default:
		missing = append(missing, "APP_STORE_BACKEND")
	}
	if cfg.Firestore.Sequences && cfg.Firestore.ProjectID == "" {
		missing = append(missing, "APP_FIRESTORE_PROJECT_ID")
	}

	switch cfg.Mail.Transport {
	case MailGmail:
		if cfg.Mail.From == "" {
			missing = append(missing, "APP_MAIL_FROM")
		}
	case MailSMTP:
		if cfg.Mail.SMTPAddr == "" {
			missing = append(missing, "APP_SMTP_ADDR")
		}
		if cfg.Mail.From == "" {
			missing = append(missing, "APP_MAIL_FROM")
		}
	case MailLog:
	default:
		missing = append(missing, "APP_MAIL_TRANSPORT")
	}

	switch cfg.Events.Backend {
	case EventsNone:
	case EventsPubSub:
		if cfg.Events.PubSubProject == "" || cfg.Events.PubSubTopic == "" {
			missing = append(missing, "APP_PUBSUB_TOPIC")
		}
	case EventsKafka:
		if len(cfg.Events.KafkaBrokers) == 0 || cfg.Events.KafkaTopic == "" {
			missing = append(missing, "APP_KAFKA_BROKERS")
		}
	default:
		missing = append(missing, "APP_EVENTS_BACKEND")
	}

	switch cfg.Orders.StatusPolicy {
	case "permissive", "enforced":
	default:
		missing = append(missing, "APP_STATUS_POLICY")
	}
	if _, err := time.LoadLocation(cfg.Orders.Timezone); err != nil {
		missing = append(missing, "APP_TIMEZONE")
	}

	if len(missing) > 0 {
		return &ConfigurationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return parsed
		}
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "yes", "on":
			return true
		case "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
