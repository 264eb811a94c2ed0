package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/dukerupert/sindri/internal"
	"github.com/dukerupert/sindri/internal/auth"
	"github.com/dukerupert/sindri/internal/cookie"
	"github.com/dukerupert/sindri/internal/events"
	"github.com/dukerupert/sindri/internal/handler/api"
	"github.com/dukerupert/sindri/internal/jobs"
	"github.com/dukerupert/sindri/internal/middleware"
	"github.com/dukerupert/sindri/internal/postgres"
	"github.com/dukerupert/sindri/internal/pricing"
	"github.com/dukerupert/sindri/internal/routes"
	"github.com/dukerupert/sindri/internal/service"
	"github.com/dukerupert/sindri/internal/shipping"
	"github.com/dukerupert/sindri/internal/tax"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// database/sql connection is only used to run migrations; the service
	// itself talks to the pool below.
	logger.Info().Msg("connecting to database")
	sqlDB, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	if err := internal.RunMigrations(sqlDB); err != nil {
		sqlDB.Close()
		return fmt.Errorf("migrations failed: %w", err)
	}
	sqlDB.Close()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	// Stores
	cartStore := postgres.NewCartStore(pool)
	orderStore := postgres.NewOrderStore(pool)
	couponStore := postgres.NewCouponStore(pool)
	priceResolver := pricing.NewPostgresResolver(pool)

	// Events: NATS when configured, otherwise a no-op sink.
	var publisher events.Publisher = events.Noop{}
	if cfg.NATSUrl != "" {
		nats, err := events.NewNATSPublisher(cfg.NATSUrl)
		if err != nil {
			return fmt.Errorf("nats connection failed: %w", err)
		}
		defer nats.Close()
		publisher = nats
		logger.Info().Str("url", cfg.NATSUrl).Msg("connected to nats")
	}

	shipper := shipping.NewEstimator(cfg.Shipping.FreeThresholdCents, cfg.Shipping.FlatRateCents)
	taxer := tax.NewNoTax()
	verifier := auth.NewVerifier(cfg.AuthSecret)
	cookies := cookie.NewConfig(cfg.IsProd())

	// Services
	cartService := service.NewCartService(cartStore, couponStore, orderStore, priceResolver, shipper, taxer, publisher, logger)
	checkoutService := service.NewCheckoutService(cartStore, publisher, logger,
		time.Duration(cfg.Checkout.SessionWindowSeconds)*time.Second)
	orderService := service.NewOrderService(orderStore, cartStore, priceResolver, shipper, taxer, publisher, logger)

	// Background sweep for abandoned and expired carts.
	cleaner := jobs.NewCleaner(cartStore,
		time.Duration(cfg.Cleanup.IntervalSeconds)*time.Second,
		time.Duration(cfg.Cleanup.AbandonGraceSeconds)*time.Second,
		logger)
	cleaner.Start(ctx)

	metrics := middleware.NewMetrics("sindri")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = api.NewValidator()

	e.Use(echomw.Recover())
	e.Use(echomw.BodyLimit("64K"))
	e.Use(middleware.RequestID())
	e.Use(middleware.WithUser(verifier))
	e.Use(middleware.RequestLogger(logger))
	e.Use(metrics.Middleware())

	routes.RegisterAPIRoutes(e, routes.APIDeps{
		Cart:     api.NewCartHandler(cartService, cookies, logger),
		Checkout: api.NewCheckoutHandler(checkoutService, cookies, logger),
		Orders:   api.NewOrderHandler(orderService, cookies, logger),
		Metrics:  metrics,
	})

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("server starting")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
