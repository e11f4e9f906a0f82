package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/plateful/api/internal/handlers"
	"github.com/plateful/api/internal/platform/auth"
	"github.com/plateful/api/internal/platform/cache"
	"github.com/plateful/api/internal/platform/config"
	"github.com/plateful/api/internal/platform/observability"
	"github.com/plateful/api/internal/platform/pagination"
	"github.com/plateful/api/internal/platform/postgres"
	"github.com/plateful/api/internal/repositories"
	pgrepo "github.com/plateful/api/internal/repositories/postgres"
	"github.com/plateful/api/internal/services"
	"github.com/plateful/api/internal/settlement"
	"github.com/plateful/api/migrations"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	provider := postgres.NewProvider(cfg.Database)
	defer provider.Close()

	pool, err := provider.Pool(ctx)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}

	if cfg.Database.MigrateOnStart {
		if err := migrations.Apply(pool); err != nil {
			logger.Fatal("failed to apply migrations", zap.Error(err))
		}
		logger.Info("database schema is up to date")
	}

	store := cache.NewNoopStore()
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store, err = cache.NewRedisStore(redisClient)
		if err != nil {
			logger.Fatal("failed to initialise redis cache", zap.Error(err))
		}
		logger.Info("redis cache enabled", zap.String("addr", cfg.Redis.Addr))
	}
	defer func() {
		if redisClient != nil {
			_ = redisClient.Close()
		}
	}()

	checks := []repositories.DependencyCheck{
		{Name: "postgres", Check: provider.Ping},
	}
	if cfg.Redis.Enabled {
		checks = append(checks, repositories.DependencyCheck{Name: "redis", Check: store.Ping})
	}
	healthRepo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		logger.Fatal("failed to build health repository", zap.Error(err))
	}

	registry, err := pgrepo.NewRegistry(pool, healthRepo)
	if err != nil {
		logger.Fatal("failed to build repository registry", zap.Error(err))
	}

	settler, err := settlement.New(cfg.Settlement.Provider)
	if err != nil {
		logger.Fatal("failed to resolve settlement provider", zap.Error(err))
	}
	logger.Info("settlement provider ready", zap.String("provider", settler.Name()))

	verifier, err := auth.NewVerifier([]byte(cfg.Auth.JWTSecret),
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAudience(cfg.Auth.Audience),
		auth.WithLeeway(cfg.Auth.Leeway),
	)
	if err != nil {
		logger.Fatal("failed to initialise token verifier", zap.Error(err))
	}
	requireAuth := verifier.RequireAuth()

	serviceLogger := func(ctx context.Context, event string, fields map[string]any) {
		l := observability.FromContext(ctx)
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		l.Info(event, zapFields...)
	}

	auditService, err := services.NewAuditLogService(services.AuditLogServiceDeps{
		Repository: registry.AuditLogs(),
		Logger:     warnLogger{logger.Sugar()},
	})
	if err != nil {
		logger.Fatal("failed to build audit log service", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     registry.Orders(),
		MenuItems:  registry.MenuItems(),
		UnitOfWork: registry,
		Audit:      auditService,
		Cache:      store,
		Logger:     serviceLogger,
	})
	if err != nil {
		logger.Fatal("failed to build order service", zap.Error(err))
	}

	paymentService, err := services.NewPaymentService(services.PaymentServiceDeps{
		Payments:       registry.Payments(),
		Orders:         registry.Orders(),
		PaymentMethods: registry.PaymentMethods(),
		UnitOfWork:     registry,
		Provider:       settler,
		Audit:          auditService,
		Cache:          store,
		Logger:         serviceLogger,
	})
	if err != nil {
		logger.Fatal("failed to build payment service", zap.Error(err))
	}

	methodService, err := services.NewPaymentMethodService(services.PaymentMethodServiceDeps{
		Methods: registry.PaymentMethods(),
		Audit:   auditService,
	})
	if err != nil {
		logger.Fatal("failed to build payment method service", zap.Error(err))
	}

	systemService, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: registry.Health(),
		Audit:            auditService,
	})
	if err != nil {
		logger.Fatal("failed to build system service", zap.Error(err))
	}

	pageOpts := pagination.Options{
		DefaultPageSize: cfg.Pagination.DefaultPageSize,
		MaxPageSize:     cfg.Pagination.MaxPageSize,
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.TraceMiddleware(),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(logger),
			middleware.Throttle(cfg.RateLimits.DefaultPerMinute),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(
			handlers.WithHealthSystemService(systemService),
		)),
		handlers.WithOrderRoutes(handlers.NewOrderHandlers(requireAuth, orderService, pageOpts).Routes),
		handlers.WithPaymentRoutes(handlers.NewPaymentHandlers(requireAuth, paymentService, pageOpts).Routes),
		handlers.WithPaymentMethodRoutes(handlers.NewPaymentMethodHandlers(requireAuth, methodService).Routes),
		handlers.WithAdminRoutes(handlers.NewAdminHandlers(requireAuth, systemService, pageOpts).Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info("shutdown signal received")

		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(drainCtx); err != nil {
			logger.Error("graceful shutdown failed", zap.Error(err))
			_ = server.Close()
		}
	}

	if err := registry.Close(context.Background()); err != nil {
		logger.Warn("closing repositories failed", zap.Error(err))
	}
	logger.Info("server stopped")
}

// warnLogger adapts zap's sugared logger to the audit service's interface.
type warnLogger struct {
	sugar *zap.SugaredLogger
}

func (w warnLogger) Warnf(format string, args ...any) {
	w.sugar.Warnf(format, args...)
}
