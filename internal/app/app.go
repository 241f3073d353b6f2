// Package app wires configuration, logging, telemetry, the license
// validator and the local transport into a runnable agent. All
// components are constructed eagerly at startup.
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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"xtcli/internal/config"
	"xtcli/internal/infrastructure"
	"xtcli/internal/license"
	transporthttp "xtcli/internal/transport/http"
	"xtcli/internal/transport/ws"
)

// Application holds the wired agent components
type Application struct {
	cfg       *config.Config
	logger    *slog.Logger
	telemetry *infrastructure.OTelProviders
	validator *license.Validator
	limiter   *license.AttemptLimiter
	hub       *ws.StatusHub
	server    *http.Server
}

// NewApplication builds the agent from configuration
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	telemetry, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}

	metrics, err := license.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("register license metrics: %w", err)
	}

	publicKey := license.EmbeddedPublicKey
	if cfg.License.PublicKeyFile != "" {
		pemBytes, err := os.ReadFile(cfg.License.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read public key file: %w", err)
		}
		publicKey = string(pemBytes)
	}
	verifier, err := license.NewVerifier(publicKey)
	if err != nil {
		return nil, fmt.Errorf("import license public key: %w", err)
	}

	hub := ws.NewStatusHub(cfg.Server.AllowedOrigins, logger)

	validator := license.NewValidator(license.Options{
		Client: license.NewClient(cfg.License.ServerURL,
			cfg.License.HealthTimeout, cfg.License.ValidateTimeout),
		Store:         license.NewFileStore(cfg.License.StoreFile),
		Verifier:      verifier,
		RequireOnline: cfg.License.RequireOnline,
		Metrics:       metrics,
		Notifier:      hub,
	})

	var limiter *license.AttemptLimiter
	if cfg.License.RateLimit.Enabled {
		limiter = license.NewAttemptLimiter(cfg.License.RateLimit.RPS, cfg.License.RateLimit.Burst)
	}

	app := &Application{
		cfg:       cfg,
		logger:    logger,
		telemetry: telemetry,
		validator: validator,
		limiter:   limiter,
		hub:       hub,
	}
	app.server = &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port),
		Handler:      app.router(metrics),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return app, nil
}

func (a *Application) router(metrics *license.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(transporthttp.TraceMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	handler := transporthttp.NewLicenseHandler(a.validator, a.limiter, metrics, a.logger)
	r.Mount("/api/license", handler.Routes())
	r.Handle("/ws/status", a.hub)

	if a.telemetry.PrometheusHTTP != nil {
		r.Handle("/metrics", a.telemetry.PrometheusHTTP)
	}

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		render.JSON(w, req, map[string]string{"status": "ok"})
	})

	return r
}

// Run starts the agent: stored-license revalidation in the background,
// then the local HTTP server until interrupted.
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		status := a.validator.Initialize(infrastructure.EnsureTraceID(ctx))
		a.logger.InfoContext(ctx, "startup license check complete",
			slog.String("status", string(status.Status)),
			slog.Bool("is_valid", status.IsValid))
	}()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("license agent listening", slog.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	return a.Shutdown()
}

// Shutdown stops the server and flushes telemetry
func (a *Application) Shutdown() error {
	a.logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var firstErr error
	if err := a.server.Shutdown(ctx); err != nil {
		firstErr = fmt.Errorf("server shutdown: %w", err)
	}
	if a.limiter != nil {
		a.limiter.Stop()
	}
	if err := a.telemetry.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	infrastructure.CloseLogFile()
	return firstErr
}
