package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hanko-field/discounts/internal/di"
	"github.com/hanko-field/discounts/internal/handlers"
	"github.com/hanko-field/discounts/internal/platform/config"
	pfirestore "github.com/hanko-field/discounts/internal/platform/firestore"
	"github.com/hanko-field/discounts/internal/platform/idempotency"
	"github.com/hanko-field/discounts/internal/platform/observability"
	"github.com/hanko-field/discounts/internal/platform/secrets"
	firestoreRepo "github.com/hanko-field/discounts/internal/repositories/firestore"
	"github.com/hanko-field/discounts/internal/services"
)

const meterName = "github.com/hanko-field/discounts"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "discounts: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("discounts")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	resolver, err := newSecretResolver(ctx, logger, envValues)
	if err != nil {
		return fmt.Errorf("initialise secret resolver: %w", err)
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(resolver),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			return fmt.Errorf("missing required secrets %v", missing.Names())
		}
		return fmt.Errorf("load configuration: %w", err)
	}

	events, transportCheck, err := di.NewEventTransport(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialise %s transport: %w", cfg.Events.Transport, err)
	}

	provider := pfirestore.NewProvider(cfg.Firestore)
	registry, err := firestoreRepo.NewRegistry(provider, transportCheck)
	if err != nil {
		_ = events.Close(ctx)
		return fmt.Errorf("initialise repositories: %w", err)
	}

	container, err := di.NewContainer(cfg, registry, events,
		di.WithLogger(logger),
		di.WithMeter(otel.Meter(meterName)),
		di.WithBuildInfo(buildInfoFromEnv(envValues, startedAt)),
	)
	if err != nil {
		_ = events.Close(ctx)
		_ = registry.Close(ctx)
		return fmt.Errorf("build container: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	replayStore := idempotency.NewFirestoreStore(provider)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      newRouter(cfg, container, replayStore, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("discounts api listening", zap.String("addr", server.Addr), zap.String("transport", cfg.Events.Transport))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown signal received; draining requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if cfg.Notifier.Enabled {
		group.Go(func() error {
			return container.Services.Toggle.Run(groupCtx)
		})
	}
	group.Go(func() error {
		return idempotency.Sweep(groupCtx, replayStore, cfg.Vouchers.IdempotencySweep, logger.Named("idempotency"))
	})

	return group.Wait()
}

func newRouter(cfg config.Config, container *di.Container, replayStore idempotency.Store, logger *zap.Logger) http.Handler {
	svc := container.Services
	httpLogger := logger.Named("http")

	discounts := handlers.NewDiscountHandlers(svc.CheckoutDiscounts, svc.OrderDiscounts,
		handlers.WithVoucherAttemptLimit(cfg.Vouchers.AttemptLimit, cfg.Vouchers.AttemptWindow, time.Now),
	)
	replay := idempotency.Middleware(replayStore, idempotency.WithTTL(cfg.Vouchers.IdempotencyTTL))
	internal := handlers.NewInternalHandlers(handlers.InternalHandlersDeps{
		Toggle:      svc.Toggle,
		Indexer:     svc.Indexer,
		Prices:      svc.Prices,
		Vouchers:    svc.VoucherUsage,
		RunTimeout:  cfg.Notifier.RunTimeout,
		Idempotency: replay,
	})
	health := handlers.NewHealthHandlers(handlers.WithHealthSystemService(svc.System))

	return handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.TraceMiddleware(cfg.Firestore.ProjectID),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithRequestTimeout(cfg.Server.RequestTimeout),
		handlers.WithHealthHandlers(health),
		handlers.WithCheckoutRoutes(discounts.CheckoutRoutes),
		handlers.WithOrderRoutes(discounts.OrderRoutes),
		handlers.WithInternalRoutes(internal.Routes),
	)
}

func buildInfoFromEnv(env map[string]string, started time.Time) services.BuildInfo {
	return services.BuildInfo{
		Version:     envOr(env, "DISCOUNTS_BUILD_VERSION", "dev"),
		CommitSHA:   envOr(env, "DISCOUNTS_BUILD_COMMIT_SHA", "unknown"),
		Environment: envOr(env, "DISCOUNTS_ENVIRONMENT", "local"),
		StartedAt:   started,
	}
}

func newSecretResolver(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Resolver, error) {
	project := envOr(env, "DISCOUNTS_SECRETS_PROJECT_ID", envOr(env, "DISCOUNTS_FIRESTORE_PROJECT_ID", ""))
	return secrets.NewResolver(ctx,
		secrets.WithProject(project),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(envOr(env, "DISCOUNTS_SECRETS_FALLBACK_FILE", ".secrets.local")),
		secrets.WithMeter(otel.Meter(meterName)),
	)
}

// requiredSecretNames lists secrets that must resolve given the rest of the environment.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if strings.EqualFold(envOr(env, "DISCOUNTS_EVENTS_TRANSPORT", ""), config.TransportKafka) && envOr(env, "DISCOUNTS_KAFKA_USERNAME", "") != "" {
		required = append(required, "Kafka.Password")
	}
	return required
}

func envOr(env map[string]string, key, fallback string) string {
	if value := strings.TrimSpace(env[key]); value != "" {
		return value
	}
	return fallback
}
