// Command authserver runs a standalone OAuth 2.0 authorization server on top
// of the oauth2-core engine. Clients and users are seeded from configuration
// and resource owners log in with HTTP Basic credentials.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	oauth "github.com/giantswarm/oauth2-core"
	"github.com/giantswarm/oauth2-core/instrumentation"
	"github.com/giantswarm/oauth2-core/security"
	"github.com/giantswarm/oauth2-core/server"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "authserver: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inst, err := newInstrumentation(cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := inst.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shut down instrumentation", "error", err)
		}
	}()

	be, err := openBackend(cfg.Storage, logger, inst)
	if err != nil {
		return err
	}
	defer be.close()

	if err := seed(ctx, be.seeder, cfg.Clients, cfg.Users); err != nil {
		return err
	}
	if be.sweep != nil {
		period, err := time.ParseDuration(cfg.Storage.CleanupPeriod)
		if err != nil || period <= 0 {
			return fmt.Errorf("invalid storage.cleanupPeriod %q", cfg.Storage.CleanupPeriod)
		}
		go runSweeper(ctx, period, be.sweep, logger)
	}

	srv, err := server.New(be.store, &server.Config{
		Issuer:                   cfg.Server.Issuer,
		AuthorizationCodeTTL:     cfg.Server.AuthorizationCodeTTL,
		AccessTokenTTL:           cfg.Server.AccessTokenTTL,
		RefreshTokenTTL:          cfg.Server.RefreshTokenTTL,
		KeepAccessTokenOnRefresh: cfg.Server.KeepAccessTokenOnRefresh,
		DevelopmentMode:          cfg.Server.DevelopmentMode,
		AllowInsecureHTTP:        cfg.Server.AllowInsecureHTTP,
		TrustProxy:               cfg.Server.TrustProxy,
		TrustedProxyCount:        cfg.Server.TrustedProxyCount,
	}, logger)
	if err != nil {
		return err
	}
	srv.SetInstrumentation(inst)
	srv.SetAuditor(security.NewAuditor(logger, cfg.Server.AuditLogging))

	securityEvents := security.NewRateLimiter(1, 5, logger)
	defer securityEvents.Stop()
	srv.SetSecurityEventRateLimiter(securityEvents)

	handler := oauth.NewHandler(srv, &oauth.Config{
		UserResolver: basicAuthLogin(be.store, logger),
		CORS: oauth.CORSConfig{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowCredentials: cfg.CORS.AllowCredentials,
		},
	}, logger)
	if cfg.Server.RateLimitPerSecond > 0 {
		ipLimiter := security.NewRateLimiter(cfg.Server.RateLimitPerSecond, cfg.Server.RateLimitBurst, logger)
		defer ipLimiter.Stop()
		handler.SetRateLimiter(ipLimiter)
	}

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           newRouter(handler, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting authorization server",
			"listen", cfg.Listen,
			"issuer", cfg.Server.Issuer,
			"storage", cfg.Storage.Type)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func newRouter(h *oauth.Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.RequestIDMiddleware)
	r.Use(requestLogger(logger))

	h.RegisterRoutes(r)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Example protected resource: echoes the token's subject and client
	r.With(h.ValidateToken).Get("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		token, _ := oauth.AccessTokenFromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, "{\"sub\":%q,\"client_id\":%q}\n", token.UserID, token.ClientID)
	})
	return r
}

// requestLogger logs one line per request at debug level
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", security.GetRequestID(r.Context()))
		})
	}
}

func newLogger(cfg LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// newInstrumentation wires the OpenTelemetry SDK providers when tracing is
// enabled. Metrics are collected in-process by a manual reader; exporting
// them is left to the deployment.
func newInstrumentation(cfg TracingConfig) (*instrumentation.Instrumentation, error) {
	if !cfg.Enabled {
		return instrumentation.New(instrumentation.Config{ServiceName: cfg.ServiceName})
	}

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:    cfg.ServiceName,
		Enabled:        true,
		LogClientIPs:   cfg.LogClientIPs,
		MeterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader())),
		TracerProvider: sdktrace.NewTracerProvider(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up instrumentation: %w", err)
	}
	return inst, nil
}
