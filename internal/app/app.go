package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/xenking/kart-shipping/internal/domain/shipping"
	"github.com/xenking/kart-shipping/internal/events/rabbitmq"
	"github.com/xenking/kart-shipping/internal/handler"
	"github.com/xenking/kart-shipping/internal/storage/cache"
	"github.com/xenking/kart-shipping/internal/storage/postgres"
	"github.com/xenking/kart-shipping/pkg/health"
	"github.com/xenking/kart-shipping/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	loc, err := cfg.Shipping.Location()
	if err != nil {
		return err
	}

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Snapshot cache in front of the store.
	repo, err := cache.New(postgres.NewShippingRepository(pool), cache.Config{
		TTL:           cfg.Cache.TTL,
		Size:          cfg.Cache.Size,
		MeterProvider: m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create cache")
	}
	n, err := repo.RefreshPostalCodes(ctx)
	if err != nil {
		return errors.Wrap(err, "load postal codes")
	}
	lg.Info("Loaded served postal codes", zap.Int("count", n))
	go refreshPostalCodes(ctx, lg, repo, cfg.Cache.PostalCodeRefresh)

	// Domain service.
	resolver := shipping.NewResolver(shipping.ResolverConfig{
		Location:       loc,
		MaxHorizonDays: cfg.Shipping.MaxHorizonDays,
	})
	svc, err := shipping.NewService(repo, resolver, shipping.ServiceOptions{
		MeterProvider:  m.MeterProvider(),
		TracerProvider: m.TracerProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create shipping service")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.OnChange(func(name string, healthy bool, err error) {
		if healthy {
			lg.Info("Health check recovered", zap.String("check", name))
			return
		}
		lg.Warn("Health check failing", zap.String("check", name), zap.Error(err))
	})
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	if cfg.Cache.PostalCodeRefresh > 0 {
		healthSvc.AddReadinessCheck("postal_codes", time.Second,
			health.FreshnessCheck(repo.PostalCodesRefreshedAt, 3*cfg.Cache.PostalCodeRefresh),
		)
	}
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second))

	// Cache invalidation events.
	if cfg.RabbitMQ.Enabled {
		conn, err := amqp.Dial(cfg.RabbitMQ.URL)
		if err != nil {
			return errors.Wrap(err, "dial rabbitmq")
		}
		defer func() { _ = conn.Close() }()

		listener, err := rabbitmq.NewListener(conn, rabbitmq.Config{
			URL:      cfg.RabbitMQ.URL,
			Exchange: cfg.RabbitMQ.Exchange,
			Queue:    cfg.RabbitMQ.Queue,
		}, repo, lg.Named("events"))
		if err != nil {
			return errors.Wrap(err, "create event listener")
		}
		defer func() { _ = listener.Close() }()

		healthSvc.AddReadinessCheck("rabbitmq", time.Second, func(context.Context) error {
			if conn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		})
		go func() {
			if err := listener.Run(ctx); err != nil {
				lg.Error("Event listener stopped", zap.Error(err))
			}
		}()
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// HTTP handlers.
	h := handler.NewHandler(handler.HandlerConfig{
		DefaultHorizonDays: cfg.Shipping.DefaultHorizonDays,
	}, svc)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           newHTTPHandler(zctx.From(ctx), m, cfg, h.Router(healthSvc)),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// newHTTPHandler wraps the router with the middleware stack.
func newHTTPHandler(lg *zap.Logger, tel httpmiddleware.Telemetry, cfg *Config, router http.Handler) http.Handler {
	return httpmiddleware.Wrap(router,
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", httpmiddleware.RequestIDHeader},
			ExposeHeaders:    []string{httpmiddleware.RequestIDHeader, "Retry-After"},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}),
		httpmiddleware.Instrument("shipping-api", tel),
		httpmiddleware.Route(),
		httpmiddleware.Labeler(),
		httpmiddleware.LogRequests(),
	)
}

// refreshPostalCodes rebuilds the served postal code filter every interval.
func refreshPostalCodes(ctx context.Context, lg *zap.Logger, repo *cache.Repository, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.RefreshPostalCodes(ctx)
			if err != nil {
				lg.Warn("Refresh postal codes", zap.Error(err))
				continue
			}
			lg.Debug("Refreshed postal codes", zap.Int("count", n))
		}
	}
}
