package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/urban-assist/cmd/mainconfig"
	"github.com/wolfman30/urban-assist/internal/api/router"
	"github.com/wolfman30/urban-assist/internal/auth"
	"github.com/wolfman30/urban-assist/internal/availability"
	"github.com/wolfman30/urban-assist/internal/checkout"
	appconfig "github.com/wolfman30/urban-assist/internal/config"
	"github.com/wolfman30/urban-assist/internal/events"
	"github.com/wolfman30/urban-assist/internal/http/handlers"
	"github.com/wolfman30/urban-assist/internal/marketplace"
	"github.com/wolfman30/urban-assist/internal/observability/metrics"
	"github.com/wolfman30/urban-assist/internal/session"
	"github.com/wolfman30/urban-assist/pkg/logging"
)

func main() {
	cfg := appconfig.Load()

	logger := logging.NewForEnv(cfg.Env, cfg.LogLevel)
	logger.Info("starting urban-assist booking API",
		"env", cfg.Env,
		"port", cfg.Port,
		"marketplace", cfg.MarketplaceBaseURL,
	)

	ctx := context.Background()
	loc, err := displayLocation(cfg.DisplayTimezone)
	if err != nil {
		logger.Error("invalid DISPLAY_TIMEZONE", "timezone", cfg.DisplayTimezone, "error", err)
		os.Exit(1)
	}

	metricsHandler, bookingMetrics := setupBookingMetrics()
	checks := map[string]router.Check{}

	market := marketplace.NewClient(cfg.MarketplaceBaseURL, cfg.MarketplaceTimeout, logger)
	fetcher := availability.NewFetcher(market, loc, logger).WithMetrics(bookingMetrics)

	gateway, err := buildGateway(cfg, logger)
	if err != nil {
		logger.Error("payment gateway not configured", "error", err)
		os.Exit(1)
	}
	handoff := checkout.NewHandoff(market, gateway, cfg.PaymentCurrency, logger).WithMetrics(bookingMetrics)

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		handoff.WithLedger(checkout.NewPostgresLedger(pool))
		checks["postgres"] = pool.Ping
		logger.Info("checkout ledger enabled")
	}

	publisher, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to configure booking events", "error", err)
		os.Exit(1)
	}
	handoff.WithPublisher(publisher)

	store, storeCheck, err := buildSessionStore(cfg)
	if err != nil {
		logger.Error("failed to configure session store", "error", err)
		os.Exit(1)
	}
	if storeCheck != nil {
		checks["redis"] = storeCheck
	}

	manager := session.NewManager(store, fetcher, handoff, loc, logger).
		WithMetrics(bookingMetrics).
		WithIdleTTL(cfg.SessionTTL)
	claims := auth.NewClaimsReader(cfg.AuthJWTSecret)
	if !claims.Verifying() {
		logger.Warn("AUTH_JWT_SECRET not set; bearer tokens are forwarded to the marketplace unverified")
	}

	r := router.New(&router.Config{
		Logger:             logger,
		BookingSessions:    handlers.NewBookingSessionsHandler(manager, logger),
		Claims:             claims,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitRPS:       cfg.RateLimitRPS,
		RateLimitBurst:     cfg.RateLimitBurst,
		ReadinessChecks:    checks,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.MarketplaceTimeout*3 + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func setupBookingMetrics() (http.Handler, *metrics.BookingMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewBookingMetrics(reg)
}

func displayLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}

// buildGateway prefers Stripe; the fake gateway is only used when explicitly allowed.
func buildGateway(cfg *appconfig.Config, logger *logging.Logger) (checkout.Gateway, error) {
	if cfg.StripeSecretKey != "" {
		var opts []checkout.StripeOption
		if cfg.StripeAPIBaseURL != "" {
			opts = append(opts, checkout.WithStripeBaseURL(cfg.StripeAPIBaseURL))
		}
		return checkout.NewStripeGateway(cfg.StripeSecretKey, logger, opts...), nil
	}
	if cfg.AllowFakePayments {
		logger.Warn("using fake payment gateway; no card is ever charged")
		return checkout.NewFakeGateway(logger), nil
	}
	return nil, errors.New("set STRIPE_SECRET_KEY or ALLOW_FAKE_PAYMENTS=true")
}

func buildPublisher(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (events.Publisher, error) {
	if cfg.BookingEventsQueueURL == "" {
		return events.NewLogPublisher(logger), nil
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return events.NewSQSPublisher(mainconfig.NewSQSClient(awsCfg, cfg), cfg.BookingEventsQueueURL), nil
}

func buildSessionStore(cfg *appconfig.Config) (session.Store, router.Check, error) {
	switch cfg.SessionStore {
	case "", "memory":
		return session.NewMemoryStore(cfg.SessionTTL), nil, nil
	case "redis":
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		client := redis.NewClient(opts)
		check := func(ctx context.Context) error { return client.Ping(ctx).Err() }
		return session.NewRedisStore(client, cfg.SessionTTL), check, nil
	default:
		return nil, nil, fmt.Errorf("unknown SESSION_STORE %q", cfg.SessionStore)
	}
}
