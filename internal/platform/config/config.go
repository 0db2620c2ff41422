package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/language"
)

const (
	defaultEnvFile            = ".env"
	defaultPort               = "8080"
	defaultReadTimeout        = 15 * time.Second
	defaultWriteTimeout       = 30 * time.Second
	defaultIdleTimeout        = 120 * time.Second
	defaultShutdownTimeout    = 20 * time.Second
	defaultRequestTimeout     = 30 * time.Second
	defaultTransport          = TransportPubSub
	defaultPromotionTopic     = "promotion-events"
	defaultRecomputeTopic     = "discounted-price-recompute"
	defaultKafkaClientID      = "hanko-discounts"
	defaultKafkaBatchTimeout  = 50 * time.Millisecond
	defaultNotifierBatchSize  = 100
	defaultNotifierRetry      = 5 * time.Second
	defaultNotifierMaxPoll    = time.Hour
	defaultNotifierRunTimeout = 2 * time.Minute
	defaultIndexerRuleBatch   = 100
	defaultIndexerVariantPage = 500
	defaultLanguage           = "en"
	defaultAttemptLimit       = 10
	defaultAttemptWindow      = time.Minute
	defaultIdempotencyTTL     = 24 * time.Hour
	defaultIdempotencySweep   = 15 * time.Minute
)

// Event transports.
const (
	TransportPubSub = "pubsub"
	TransportKafka  = "kafka"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Firestore FirestoreConfig
	Events    EventsConfig
	PubSub    PubSubConfig
	Kafka     KafkaConfig
	Notifier  NotifierConfig
	Indexer   IndexerConfig
	Pricing   PricingConfig
	Vouchers  VoucherConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// RequestTimeout applies to customer-facing routes only.
	RequestTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// EventsConfig selects the transport and topics for promotion events and recompute jobs.
type EventsConfig struct {
	Transport      string
	PromotionTopic string
	RecomputeTopic string
}

// PubSubConfig configures the Pub/Sub transport.
type PubSubConfig struct {
	ProjectID    string
	EmulatorHost string
}

// KafkaConfig configures the Kafka transport.
type KafkaConfig struct {
	Brokers      []string
	ClientID     string
	Username     string
	Password     string
	BatchTimeout time.Duration
}

// NotifierConfig controls the promotion toggle poller.
type NotifierConfig struct {
	Enabled            bool
	BatchSize          int
	BatchRetryInterval time.Duration
	MaxPollInterval    time.Duration
	RunTimeout         time.Duration
}

// IndexerConfig bounds the work done by one rule refresh.
type IndexerConfig struct {
	RuleBatch   int
	VariantPage int
}

// PricingConfig holds pricing defaults.
type PricingConfig struct {
	DefaultLanguage string
}

// VoucherConfig throttles voucher submissions and controls how long usage-hook responses are
// kept for replay.
type VoucherConfig struct {
	AttemptLimit     int
	AttemptWindow    time.Duration
	IdempotencyTTL   time.Duration
	IdempotencySweep time.Duration
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

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets resolved to nothing.
type MissingSecretsError struct {
	names []string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.Names(), ", "))
}

// Names returns the sorted config field names of the missing secrets.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects explicit values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for sm:// and secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks config fields (e.g. "Kafka.Password") that must resolve to a value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// Load assembles the configuration from defaults, the .env file, the process environment and
// explicit overrides, in increasing precedence, then resolves secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}

	values, err := options.values()
	if err != nil {
		return Config{}, err
	}
	lookup := func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "DISCOUNTS_SERVER_PORT", stringWithDefault(lookup, "PORT", defaultPort)),
			ReadTimeout:     durationWithDefault(lookup, "DISCOUNTS_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "DISCOUNTS_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "DISCOUNTS_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "DISCOUNTS_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
			RequestTimeout:  durationWithDefault(lookup, "DISCOUNTS_SERVER_REQUEST_TIMEOUT", defaultRequestTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "DISCOUNTS_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "DISCOUNTS_FIRESTORE_EMULATOR_HOST", ""),
		},
		Events: EventsConfig{
			Transport:      strings.ToLower(stringWithDefault(lookup, "DISCOUNTS_EVENTS_TRANSPORT", defaultTransport)),
			PromotionTopic: stringWithDefault(lookup, "DISCOUNTS_EVENTS_PROMOTION_TOPIC", defaultPromotionTopic),
			RecomputeTopic: stringWithDefault(lookup, "DISCOUNTS_EVENTS_RECOMPUTE_TOPIC", defaultRecomputeTopic),
		},
		PubSub: PubSubConfig{
			ProjectID:    stringWithDefault(lookup, "DISCOUNTS_PUBSUB_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "DISCOUNTS_PUBSUB_EMULATOR_HOST", ""),
		},
		Kafka: KafkaConfig{
			Brokers:      csvWithDefault(lookup, "DISCOUNTS_KAFKA_BROKERS"),
			ClientID:     stringWithDefault(lookup, "DISCOUNTS_KAFKA_CLIENT_ID", defaultKafkaClientID),
			Username:     stringWithDefault(lookup, "DISCOUNTS_KAFKA_USERNAME", ""),
			Password:     stringWithDefault(lookup, "DISCOUNTS_KAFKA_PASSWORD", ""),
			BatchTimeout: durationWithDefault(lookup, "DISCOUNTS_KAFKA_BATCH_TIMEOUT", defaultKafkaBatchTimeout),
		},
		Notifier: NotifierConfig{
			Enabled:            boolWithDefault(lookup, "DISCOUNTS_NOTIFIER_ENABLED", true),
			BatchSize:          intWithDefault(lookup, "DISCOUNTS_NOTIFIER_BATCH_SIZE", defaultNotifierBatchSize),
			BatchRetryInterval: durationWithDefault(lookup, "DISCOUNTS_NOTIFIER_BATCH_RETRY_INTERVAL", defaultNotifierRetry),
			MaxPollInterval:    durationWithDefault(lookup, "DISCOUNTS_NOTIFIER_MAX_POLL_INTERVAL", defaultNotifierMaxPoll),
			RunTimeout:         durationWithDefault(lookup, "DISCOUNTS_NOTIFIER_RUN_TIMEOUT", defaultNotifierRunTimeout),
		},
		Indexer: IndexerConfig{
			RuleBatch:   intWithDefault(lookup, "DISCOUNTS_INDEXER_RULE_BATCH", defaultIndexerRuleBatch),
			VariantPage: intWithDefault(lookup, "DISCOUNTS_INDEXER_VARIANT_PAGE", defaultIndexerVariantPage),
		},
		Pricing: PricingConfig{
			DefaultLanguage: stringWithDefault(lookup, "DISCOUNTS_PRICING_DEFAULT_LANGUAGE", defaultLanguage),
		},
		Vouchers: VoucherConfig{
			AttemptLimit:     intWithDefault(lookup, "DISCOUNTS_VOUCHER_ATTEMPT_LIMIT", defaultAttemptLimit),
			AttemptWindow:    durationWithDefault(lookup, "DISCOUNTS_VOUCHER_ATTEMPT_WINDOW", defaultAttemptWindow),
			IdempotencyTTL:   durationWithDefault(lookup, "DISCOUNTS_VOUCHER_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			IdempotencySweep: durationWithDefault(lookup, "DISCOUNTS_VOUCHER_IDEMPOTENCY_SWEEP", defaultIdempotencySweep),
		},
	}

	// Pub/Sub lives in the same project as Firestore unless told otherwise.
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Kafka.Password", &cfg.Kafka.Password},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	var missing []string
	for _, name := range options.requiredSecrets {
		name = strings.TrimSpace(name)
		if name != "" && resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return Config{}, &MissingSecretsError{names: missing}
	}

	return cfg, nil
}

// EnvironmentValues returns the merged key/value view Load reads from, so callers can build
// dependencies such as the secret resolver before loading.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}
	return options.values()
}

func (o loaderOptions) values() (map[string]string, error) {
	values, err := loadDotEnv(o.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]string)
	}
	if o.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if key = strings.TrimSpace(key); ok && key != "" {
				values[key] = value
			}
		}
	}
	for key, value := range o.envMap {
		values[key] = value
	}
	return values, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	ref := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		var secretErr *SecretError
		if errors.As(err, &secretErr) {
			return "", secretErr
		}
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var invalid []string

	if strings.TrimSpace(cfg.Server.Port) == "" {
		invalid = append(invalid, "Server.Port")
	}
	if cfg.Firestore.ProjectID == "" {
		invalid = append(invalid, "Firestore.ProjectID")
	}
	switch cfg.Events.Transport {
	case TransportPubSub:
		if cfg.PubSub.ProjectID == "" {
			invalid = append(invalid, "PubSub.ProjectID")
		}
	case TransportKafka:
		if len(cfg.Kafka.Brokers) == 0 {
			invalid = append(invalid, "Kafka.Brokers")
		}
	default:
		invalid = append(invalid, "Events.Transport")
	}
	if strings.TrimSpace(cfg.Events.PromotionTopic) == "" {
		invalid = append(invalid, "Events.PromotionTopic")
	}
	if strings.TrimSpace(cfg.Events.RecomputeTopic) == "" {
		invalid = append(invalid, "Events.RecomputeTopic")
	}
	if cfg.Notifier.BatchSize <= 0 {
		invalid = append(invalid, "Notifier.BatchSize")
	}
	if cfg.Notifier.BatchRetryInterval <= 0 {
		invalid = append(invalid, "Notifier.BatchRetryInterval")
	}
	if cfg.Notifier.MaxPollInterval <= 0 {
		invalid = append(invalid, "Notifier.MaxPollInterval")
	}
	if cfg.Indexer.RuleBatch <= 0 {
		invalid = append(invalid, "Indexer.RuleBatch")
	}
	if cfg.Indexer.VariantPage <= 0 {
		invalid = append(invalid, "Indexer.VariantPage")
	}
	if _, err := language.Parse(cfg.Pricing.DefaultLanguage); err != nil {
		invalid = append(invalid, "Pricing.DefaultLanguage")
	}
	if cfg.Vouchers.AttemptLimit < 0 {
		invalid = append(invalid, "Vouchers.AttemptLimit")
	}
	if cfg.Vouchers.IdempotencyTTL <= 0 {
		invalid = append(invalid, "Vouchers.IdempotencyTTL")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
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
