// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bissquit/wastewatch/internal/compliance"
	"github.com/bissquit/wastewatch/internal/config"
	"github.com/bissquit/wastewatch/internal/coordination"
	"github.com/bissquit/wastewatch/internal/crews"
	"github.com/bissquit/wastewatch/internal/dispatch"
	"github.com/bissquit/wastewatch/internal/domain"
	"github.com/bissquit/wastewatch/internal/escalation"
	"github.com/bissquit/wastewatch/internal/identity"
	"github.com/bissquit/wastewatch/internal/incidents"
	"github.com/bissquit/wastewatch/internal/pkg/ctxlog"
	"github.com/bissquit/wastewatch/internal/pkg/httputil"
	"github.com/bissquit/wastewatch/internal/pkg/metrics"
	"github.com/bissquit/wastewatch/internal/version"
	"github.com/bissquit/wastewatch/internal/vision"
	"github.com/bissquit/wastewatch/internal/vision/remote"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Store is the persistence backend shared by all components.
type Store interface {
	incidents.Repository
	crews.Repository
	compliance.Repository
	dispatch.Repository
	Ping(ctx context.Context) error
}

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	store         Store
	db            *pgxpool.Pool
	closers       []func()
	service       *coordination.Service
	auth          *identity.Authenticator
	worker        *escalation.Worker
	queue         escalation.Queue
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		metricsCancel: metricsCancel,
	}

	if err := app.init(metricsCtx); err != nil {
		metricsCancel()
		app.close()
		return nil, err
	}

	go app.collectMetrics(metricsCtx)

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           app.setupRouter(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

func (a *App) init(ctx context.Context) error {
	connectCtx, connectCancel := context.WithTimeout(ctx, a.config.Database.ConnectTimeout)
	defer connectCancel()

	if err := a.openStore(connectCtx); err != nil {
		return err
	}

	escalator, err := a.setupEscalation(ctx, connectCtx)
	if err != nil {
		return err
	}

	if a.config.Auth.Enabled {
		a.auth, err = identity.NewAuthenticator(identity.Config{
			SecretKey: a.config.Auth.SecretKey,
			TokenTTL:  a.config.Auth.TokenTTL,
			Issuer:    a.config.Auth.Issuer,
		})
		if err != nil {
			return fmt.Errorf("create authenticator: %w", err)
		}
	} else {
		slog.Warn("authentication is disabled: every route is open")
	}

	adapter, policy, analyzer := a.setupVision()

	var deps coordination.Deps
	deps.Incidents = incidents.NewService(a.store)
	deps.Crews = crews.NewRegistry(a.store)
	deps.Ledger = compliance.NewLedger(a.store, compliance.Config{
		UsageWeight:  a.config.Compliance.UsageWeight,
		CreditWeight: a.config.Compliance.CreditWeight,
	})
	deps.Dispatch = dispatch.NewEngine(a.store)
	deps.Analyzer = analyzer
	deps.Adapter = adapter
	deps.Policy = policy
	deps.Retry = coordination.RetryConfig{
		MaxAttempts:    a.config.Retry.MaxAttempts,
		InitialBackoff: a.config.Retry.InitialBackoff,
		MaxBackoff:     a.config.Retry.MaxBackoff,
		Multiplier:     a.config.Retry.Multiplier,
	}
	if escalator != nil {
		deps.Escalator = escalator
	}

	a.service = coordination.NewService(deps)
	return nil
}

func (a *App) setupVision() (*vision.Adapter, *vision.SeverityPolicy, *vision.Analyzer) {
	cfg := a.config.Vision

	adapter := vision.NewAdapter(vision.Config{
		MaxVolumeM3:   cfg.MaxVolumeM3,
		MaxWeightTons: cfg.MaxWeightTons,
		LoadFactor:    cfg.LoadFactor,
	})

	rules := vision.DefaultSeverityRules()
	if len(cfg.SeverityRules) > 0 {
		rules = make([]vision.SeverityRule, 0, len(cfg.SeverityRules))
		for _, r := range cfg.SeverityRules {
			rules = append(rules, vision.SeverityRule{
				Severity:  domain.Severity(r.Severity),
				FillAbove: r.FillAbove,
				Classes:   r.Classes,
			})
		}
	}
	policy := vision.NewSeverityPolicy(rules)

	if cfg.ModelURL == "" {
		slog.Warn("vision model url is not configured: image detection and truck analysis will fail")
	}
	detector := remote.NewClient(remote.Config{
		URL:             cfg.ModelURL,
		Timeout:         cfg.Timeout,
		WasteConfidence: cfg.WasteConfidence,
		TruckConfidence: cfg.TruckConfidence,
	})

	return adapter, policy, vision.NewAnalyzer(detector, adapter, policy)
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"storage", a.config.Storage.Driver,
		"version", version.Version,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.metricsCancel()

	// Stop escalation worker first
	if a.worker != nil {
		a.worker.Stop()
	}

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	a.close()

	return errors.Join(errs...)
}

// close releases backend connections in reverse order of opening.
func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) collectMetrics(ctx context.Context) {
	a.recordMetrics(ctx)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.recordMetrics(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) recordMetrics(ctx context.Context) {
	if a.db != nil {
		metrics.RecordDBPoolMetrics(a.db)
	}

	// GetStats updates the incident gauges as a side effect.
	if _, err := a.service.GetStats(ctx); err != nil && ctx.Err() == nil {
		slog.Error("failed to collect incident stats", "error", err)
	}

	if a.queue != nil {
		stats, err := a.queue.Stats(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("failed to get escalation queue stats", "error", err)
			}
			return
		}
		escalation.RecordQueueStats(stats)
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Service returns the coordination service.
func (a *App) Service() *coordination.Service {
	return a.service
}

// EscalationWorker returns the escalation worker, or nil when escalation is disabled.
func (a *App) EscalationWorker() *escalation.Worker {
	return a.worker
}

func (a *App) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	r.Get("/docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>WasteWatch API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
        SwaggerUIBundle({
            url: "/api/openapi.yaml",
            dom_id: '#swagger-ui',
            presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
            layout: "BaseLayout"
        });
    </script>
</body>
</html>`))
	})

	handler := coordination.NewHandler(a.service, a.config.Server.MaxUploadBytes)
	limiter := httputil.NewRateLimiter(a.config.RateLimit.RequestsPerSecond, a.config.RateLimit.Burst)

	r.Route("/api/v1", func(r chi.Router) {
		handler.RegisterPublicRoutes(r)

		r.Group(func(r chi.Router) {
			a.requireRole(r, domain.RoleOperator)
			handler.RegisterOperatorRoutes(r)

			r.Group(func(r chi.Router) {
				r.Use(limiter.Middleware)
				handler.RegisterDetectionRoutes(r)
			})
		})

		r.Group(func(r chi.Router) {
			a.requireRole(r, domain.RoleAdmin)
			handler.RegisterAdminRoutes(r)
		})
	})

	return r
}

// requireRole guards the group when authentication is enabled.
func (a *App) requireRole(r chi.Router, role domain.Role) {
	if a.auth == nil {
		return
	}
	r.Use(httputil.AuthMiddleware(a.auth))
	r.Use(httputil.RequireRole(role))
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.store.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
