package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"golang.org/x/sync/errgroup"

	"keywarden/internal/config"
	apierrors "keywarden/internal/errors"
	"keywarden/internal/events"
	"keywarden/internal/infrastructure"
	"keywarden/internal/license"
	"keywarden/internal/middleware"
	"keywarden/internal/services"
	"keywarden/internal/store"
	transport "keywarden/internal/transport/http"
	"keywarden/pkg/contracts"
)

// runtimeMetricsInterval is how often process gauges are sampled.
const runtimeMetricsInterval = 15 * time.Second

// Application is the composed keywarden server.
type Application struct {
	Config         *config.Config
	Router         *chi.Mux
	Server         *http.Server
	Store          store.Store
	LicenseManager *license.Manager
	EventHub       *events.Hub
	Services       *ServiceContainer
	Logger         *slog.Logger
	OTelProviders  *infrastructure.OTelProviders

	metrics          *infrastructure.BusinessMetrics
	runtimeCollector *infrastructure.RuntimeMetricsCollector
}

// ServiceContainer holds the application services.
type ServiceContainer struct {
	License services.LicenseService
	Health  *services.HealthService
}

// New builds the application from the ambient configuration sources.
func New() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig builds the application from an already loaded configuration.
func NewWithConfig(cfg *config.Config) (*Application, error) {
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	logger.Info("keywarden starting",
		slog.String("version", contracts.Version),
		slog.String("addr", cfg.Server.Addr()),
		slog.String("store_driver", cfg.Store.Driver),
		slog.Bool("admin_auth", cfg.Admin.Enabled()),
		slog.Bool("ip_binding", cfg.License.BindIP))

	otelProviders, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("initialize services: %w", err)
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeServices opens the store and builds the service layer on top.
func (a *Application) initializeServices() error {
	st, err := store.Open(a.Config.Store.Driver, a.Config.Store.Path)
	if err != nil {
		return fmt.Errorf("open %s store: %w", a.Config.Store.Driver, err)
	}
	a.Store = st

	metrics, err := infrastructure.CreateBusinessMetrics(a.OTelProviders.Meter)
	if err != nil {
		a.Logger.Warn("business metrics unavailable", slog.String("error", err.Error()))
	}
	a.metrics = metrics

	a.EventHub = events.NewHub(a.Logger, metrics, a.Config.Security.AllowedOrigins)

	a.LicenseManager = license.NewManager(st, a.Logger, a.Config.License.DefaultValidityDays)
	validator := license.NewValidator(st, a.Logger, a.Config.License.BindIP)

	a.Services = &ServiceContainer{
		License: services.NewLicenseService(a.LicenseManager, validator, a.EventHub,
			metrics, a.OTelProviders.Tracer, a.Logger),
		Health: services.NewHealthService(st, a.EventHub, a.Logger),
	}

	return nil
}

// setupRouter configures the HTTP router with all routes.
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	// Pass-through middleware only at the root, safe for the WebSocket
	// upgrade below.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	errorHandler := apierrors.NewErrorHandler(a.Logger, false)
	licenseHandler := transport.NewLicenseHandler(a.Services.License, a.Logger, errorHandler)
	healthHandler := transport.NewHealthHandler(a.Services.Health, a.Logger, errorHandler)

	adminAuth := middleware.NewAdminAuth(a.Config.Admin, a.Logger)

	// WebSocket event feed. Registered before the main group so no
	// middleware wraps the ResponseWriter ahead of the hijack.
	wsRoute := r.With(middleware.WebSocketTraceMiddleware(a.Logger))
	if a.Config.Admin.Enabled() {
		wsRoute = wsRoute.With(adminAuth.Handler)
	}
	wsRoute.Get("/api/v1/admin/events", a.EventHub.Handler())

	r.Group(func(r chi.Router) {
		otelMiddleware := middleware.NewOTelMiddleware(a.OTelProviders, a.metrics)
		r.Use(otelMiddleware.Handler)
		r.Use(middleware.StructuredLogger(a.Logger))
		r.Use(middleware.Recoverer(a.Logger))
		r.Use(middleware.SecurityHeaders)

		if a.Config.Security.EnableCORS {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins:   a.Config.Security.AllowedOrigins,
				AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
				AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
				ExposedHeaders:   []string{"Content-Disposition"},
				AllowCredentials: false,
				MaxAge:           300,
			}))
		}

		if a.Config.Security.RateLimit.Enabled {
			r.Use(middleware.NewRateLimiter(
				a.Config.Security.RateLimit.RPS,
				a.Config.Security.RateLimit.Burst,
				a.Logger,
			).Handler)
		}

		r.Route("/api/v1", func(r chi.Router) {
			r.Use(render.SetContentType(render.ContentTypeJSON))
			r.Use(middleware.Compress(5))
			r.Use(middleware.Timeout(a.Config.Server.ReadTimeout, a.Logger))

			r.Mount("/health", healthHandler.Routes())
			r.Get("/version", healthHandler.Version)
			r.Mount("/license", licenseHandler.Routes())

			r.Route("/admin", func(r chi.Router) {
				if a.Config.Admin.Enabled() {
					r.Use(adminAuth.Handler)
				}
				r.Use(middleware.AuditLog(a.Logger))

				r.Mount("/licenses", licenseHandler.AdminRoutes())
				r.Get("/stats", healthHandler.Stats)
			})
		})

		r.NotFound(errorHandler.NotFound)
		r.MethodNotAllowed(errorHandler.MethodNotAllowed)
	})

	// Prometheus endpoint, outside the middleware group so scrapes skip
	// logging and rate limiting.
	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
}

// createServer creates the HTTP server.
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           a.Config.Server.Addr(),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Stop gracefully stops the application.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "shutting down keywarden")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	a.EventHub.Stop()

	if a.runtimeCollector != nil {
		a.runtimeCollector.Stop()
	}

	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.ErrorContext(ctx, "store close failed", slog.String("error", err.Error()))
		}
	}

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}

	if err := infrastructure.CloseLogFile(); err != nil {
		a.Logger.ErrorContext(ctx, "log file close failed", slog.String("error", err.Error()))
	}

	a.Logger.InfoContext(ctx, "keywarden shutdown complete")
	return nil
}

// Run runs the application until interrupted. The listener and the shutdown
// watcher share an errgroup so a listener failure tears everything down the
// same way a signal does.
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.EventHub.Start()

	if a.Config.Telemetry.Enabled {
		collector, err := infrastructure.NewRuntimeMetricsCollector(a.OTelProviders.Meter, runtimeMetricsInterval)
		if err != nil {
			a.Logger.WarnContext(ctx, "runtime metrics unavailable", slog.String("error", err.Error()))
		} else {
			a.runtimeCollector = collector
			go collector.Start(ctx)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfoContext(gctx, "keywarden listening",
			slog.String("address", "http://"+a.Config.Server.Addr()))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		// Shutdown gets a fresh context: gctx is already cancelled and
		// would cut the drain window to zero.
		return a.Stop(context.Background())
	})

	return g.Wait()
}
