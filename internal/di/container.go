package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/hanko-field/discounts/internal/platform/config"
	"github.com/hanko-field/discounts/internal/platform/observability"
	"github.com/hanko-field/discounts/internal/repositories"
	"github.com/hanko-field/discounts/internal/services"
)

// Services bundles the service-layer contracts that handlers and background runners rely upon.
type Services struct {
	CheckoutDiscounts services.CheckoutDiscountService
	OrderDiscounts    services.OrderDiscountService
	VoucherUsage      services.VoucherUsageService
	Toggle            *services.PromotionToggleScheduler
	Indexer           services.PromotionRuleIndexer
	Prices            services.DiscountedPriceService
	System            services.SystemService
}

// Container wires repositories, services and the event transport for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Events       EventTransport
	Services     Services
}

// Option customises NewContainer.
type Option func(*containerOptions)

type containerOptions struct {
	logger *zap.Logger
	meter  metric.Meter
	clock  func() time.Time
	build  services.BuildInfo
}

// WithLogger sets the base logger services report events through.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMeter sets the meter used for scheduler metrics.
func WithMeter(meter metric.Meter) Option {
	return func(o *containerOptions) {
		if meter != nil {
			o.meter = meter
		}
	}
}

// WithClock overrides the time source shared by every service.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithBuildInfo sets the metadata reported by the health endpoints.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *containerOptions) {
		o.build = build
	}
}

// NewContainer constructs the runtime dependencies from a repository registry and an event
// transport. Tests can pass in-memory registries and recording transports.
func NewContainer(cfg config.Config, reg repositories.Registry, events EventTransport, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if events == nil {
		return nil, errors.New("event transport is required")
	}
	options := containerOptions{
		logger: zap.NewNop(),
		meter:  noop.NewMeterProvider().Meter("discounts"),
		clock:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.build.StartedAt.IsZero() {
		options.build.StartedAt = options.clock().UTC()
	}

	svc, err := buildServices(cfg, reg, events, options)
	if err != nil {
		return nil, err
	}
	return &Container{
		Config:       cfg,
		Repositories: reg,
		Events:       events,
		Services:     svc,
	}, nil
}

// Close flushes the event transport and releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Events != nil {
		errs = append(errs, c.Events.Close(ctx))
	}
	if c.Repositories != nil {
		errs = append(errs, c.Repositories.Close(ctx))
	}
	return errors.Join(errs...)
}

func buildServices(cfg config.Config, reg repositories.Registry, events EventTransport, options containerOptions) (Services, error) {
	logger := func(component string) func(context.Context, string, map[string]any) {
		return observability.EventLogger(options.logger, component)
	}

	lang, err := language.Parse(cfg.Pricing.DefaultLanguage)
	if err != nil {
		return Services{}, fmt.Errorf("parse default language: %w", err)
	}

	matcher, err := services.NewCatalogueMatcher()
	if err != nil {
		return Services{}, fmt.Errorf("build catalogue matcher: %w", err)
	}
	validator, err := services.NewEligibilityValidator(services.EligibilityValidatorDeps{
		Customers: reg.VoucherCustomers(),
		Language:  lang,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build eligibility validator: %w", err)
	}
	recalculator, err := services.NewDiscountRecalculator(services.DiscountRecalculatorDeps{
		Vouchers:   reg.Vouchers(),
		Promotions: reg.Promotions(),
		Validator:  validator,
		Matcher:    matcher,
		Clock:      options.clock,
		Logger:     logger("discounts"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build discount recalculator: %w", err)
	}

	var svc Services

	svc.CheckoutDiscounts, err = services.NewCheckoutDiscountService(services.CheckoutDiscountServiceDeps{
		Checkouts:    reg.Checkouts(),
		Recalculator: recalculator,
		Clock:        options.clock,
		Logger:       logger("checkout_discounts"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout discount service: %w", err)
	}

	svc.OrderDiscounts, err = services.NewOrderDiscountService(services.OrderDiscountServiceDeps{
		Orders:       reg.Orders(),
		Recalculator: recalculator,
		Clock:        options.clock,
		Logger:       logger("order_discounts"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order discount service: %w", err)
	}

	svc.VoucherUsage, err = services.NewVoucherUsageService(services.VoucherUsageServiceDeps{
		Usage:  reg.VoucherUsage(),
		Clock:  options.clock,
		Logger: logger("voucher_usage"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build voucher usage service: %w", err)
	}

	svc.Prices, err = services.NewDiscountedPriceService(services.DiscountedPriceServiceDeps{
		Promotions: reg.Promotions(),
		Variants:   reg.Variants(),
		Matcher:    matcher,
		Clock:      options.clock,
		Logger:     logger("discounted_prices"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build discounted price service: %w", err)
	}

	svc.Indexer, err = services.NewPromotionRuleIndexer(services.PromotionRuleIndexerDeps{
		Promotions:  reg.Promotions(),
		Variants:    reg.Variants(),
		Matcher:     matcher,
		Recompute:   events,
		RuleBatch:   cfg.Indexer.RuleBatch,
		VariantPage: cfg.Indexer.VariantPage,
		Clock:       options.clock,
		Logger:      logger("rule_indexer"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build promotion rule indexer: %w", err)
	}

	svc.Toggle, err = services.NewPromotionToggleScheduler(services.PromotionToggleSchedulerDeps{
		Promotions:         reg.Promotions(),
		Events:             events,
		Recompute:          events,
		BatchSize:          cfg.Notifier.BatchSize,
		BatchRetryInterval: cfg.Notifier.BatchRetryInterval,
		MaxPollInterval:    cfg.Notifier.MaxPollInterval,
		RunTimeout:         cfg.Notifier.RunTimeout,
		Clock:              options.clock,
		Meter:              options.meter,
		Logger:             logger("promotion_toggle"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build promotion toggle scheduler: %w", err)
	}

	svc.System, err = services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Clock:            options.clock,
		Build:            options.build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}

	return svc, nil
}
