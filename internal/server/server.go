// Package server provides the service lifecycle runner: signal handling,
// config loading, observability init, health checks, and graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/deliberation-platform/identity/internal/config"
	"github.com/deliberation-platform/identity/internal/domain"
	"github.com/deliberation-platform/identity/internal/observability"
)

// Service is what a Setup function hands back to the runner.
type Service struct {
	// Handler serves every path except /healthz and /readyz.
	Handler http.Handler
	// Ready reports whether dependencies are reachable. Nil means always ready.
	Ready func(ctx context.Context) error
	// Close releases dependencies after HTTP has drained. May be nil.
	Close func()
}

// Params configures a service's lifecycle runner.
type Params struct {
	// Name identifies the service in logs and telemetry.
	Name    string
	Version string

	// Setup builds the service from loaded config. It runs after logging
	// and telemetry are initialized and before the listener accepts.
	Setup func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Service, error)
}

// Run executes the full service lifecycle. If ln is non-nil, it is used
// instead of creating a new listener from config (enables port-0 testing).
func Run(ctx context.Context, p Params, ln net.Listener) error {
	// ctx.Done() closes on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.InitLogger(observability.LogConfig{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		ServiceName: p.Name,
		Environment: cfg.Environment,
	})

	// --- Startup order: telemetry -> service -> HTTP server ---

	telemetry, err := observability.InitTelemetry(ctx, observability.TracerConfig{
		ServiceName:    p.Name,
		ServiceVersion: p.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTEL.Endpoint,
		Insecure:       cfg.IsLocal(),
		SampleRatio:    cfg.OTEL.SampleRatio,
	})
	if err != nil {
		return err
	}

	svc, err := p.Setup(ctx, cfg, logger)
	if err != nil {
		flushTelemetry(logger, telemetry)
		return fmt.Errorf("setup %s: %w", p.Name, err)
	}

	var shuttingDown atomic.Bool

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if shuttingDown.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"shutting_down","service":%q}`, p.Name)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","service":%q}`, p.Name)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if shuttingDown.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"shutting_down","service":%q}`, p.Name)
			return
		}
		if svc.Ready != nil {
			readyCtx, cancel := context.WithTimeout(r.Context(), domain.ReadinessTimeout)
			defer cancel()
			if readyErr := svc.Ready(readyCtx); readyErr != nil {
				logger.WarnContext(r.Context(), "readiness check failed", slog.String("error", readyErr.Error()))
				w.WriteHeader(http.StatusServiceUnavailable)
				fmt.Fprintf(w, `{"status":"not_ready","service":%q}`, p.Name)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ready","service":%q}`, p.Name)
	})
	if svc.Handler != nil {
		mux.Handle("/", svc.Handler)
	}

	if ln == nil {
		ln, err = (&net.ListenConfig{}).Listen(ctx, "tcp", fmt.Sprintf(":%d", cfg.HTTP.Port))
		if err != nil {
			closeService(svc)
			flushTelemetry(logger, telemetry)
			return fmt.Errorf("listen: %w", err)
		}
	}

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.HTTP.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// --- Structured concurrency via errgroup ---
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting HTTP server",
			slog.String("addr", ln.Addr().String()),
			slog.String("environment", cfg.Environment),
		)
		if serveErr := server.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return serveErr
		}
		return nil
	})

	// Shutdown order is the reverse of startup: HTTP -> service -> telemetry.
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("received shutdown signal, starting graceful shutdown")

		// Health checks return 503 while the load balancer drops the endpoint.
		shuttingDown.Store(true)
		time.Sleep(domain.ShutdownDrainDelay)

		httpCtx, httpCancel := context.WithTimeout(context.Background(), domain.ShutdownHTTPTimeout)
		defer httpCancel()
		if shutdownErr := server.Shutdown(httpCtx); shutdownErr != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", shutdownErr.Error()))
		}

		closeService(svc)
		flushTelemetry(logger, telemetry)

		logger.Info("shutdown complete")
		return nil
	})

	return g.Wait()
}

func closeService(svc *Service) {
	if svc.Close != nil {
		svc.Close()
	}
}

func flushTelemetry(logger *slog.Logger, telemetry *observability.Telemetry) {
	ctx, cancel := context.WithTimeout(context.Background(), domain.ShutdownOTELTimeout)
	defer cancel()
	if err := telemetry.Shutdown(ctx); err != nil {
		logger.Error("failed to flush telemetry", slog.String("error", err.Error()))
	}
}
