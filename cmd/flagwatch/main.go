// Package main is flagwatch, a small daemon that binds to a flagz server as
// one evaluation context and keeps its flags available over HTTP.
//
// The bootstrap sequence is:
//  1. Load configuration from FLAGWATCH_* variables (and an optional .env).
//  2. Set up logging, tracing and metrics.
//  3. Open the optional persistent flag cache (postgres or redis).
//  4. Start a flagbind provider backed by the flagz evaluation client.
//  5. Serve /healthz, /metrics and /flags until SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/matt-riley/flagbind"
	"github.com/matt-riley/flagbind/evalclient"
	"github.com/matt-riley/flagbind/internal/config"
	"github.com/matt-riley/flagbind/internal/logging"
	"github.com/matt-riley/flagbind/internal/metrics"
	"github.com/matt-riley/flagbind/internal/tracing"
)

const (
	httpReadHeaderTimeout = 5 * time.Second
	httpReadTimeout       = 30 * time.Second
	httpIdleTimeout       = 2 * time.Minute
	tracerShutdownTimeout = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		slog.Error("flagwatch failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)
	log.Info("configuration loaded", "config", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracing.Init(ctx, tracing.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), tracerShutdownTimeout)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			log.Error("tracer shutdown error", "error", err)
		}
	}()

	m := metrics.New()

	store, closeStore, err := openCache(ctx, cfg, log, m)
	if err != nil {
		return err
	}
	defer closeStore()

	provider, err := newProvider(cfg, log, m, store)
	if err != nil {
		return fmt.Errorf("create provider: %w", err)
	}
	cancelSub := provider.Subscribe(func(s flagbind.Snapshot) {
		if s.Err != nil {
			log.Warn("flag snapshot updated", "flags", s.Flags.Len(), "error", s.Err)
			return
		}
		log.Info("flag snapshot updated", "flags", s.Flags.Len())
	})
	defer cancelSub()

	// Start blocks for at most InitTimeout; a slow server keeps serving the
	// bootstrap values until the client becomes ready.
	provider.Start(ctx)
	defer closeProvider(provider, log)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(newHTTPHandler(provider, m, log), "flagwatch-http"),
		ReadHeaderTimeout: httpReadHeaderTimeout,
		ReadTimeout:       httpReadTimeout,
		IdleTimeout:       httpIdleTimeout,
	}

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen HTTP %s: %w", cfg.HTTPAddr, err)
	}
	defer listener.Close()

	serveErrCh := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- fmt.Errorf("serve HTTP: %w", err)
		}
	}()

	log.Info("flagwatch started", "http_addr", cfg.HTTPAddr)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-serveErrCh:
	}
	stop()

	log.Info("flagwatch shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		if serveErr != nil {
			return serveErr
		}
		return fmt.Errorf("shutdown HTTP: %w", err)
	}

	return serveErr
}

func newProvider(cfg config.Config, log *slog.Logger, m *metrics.Metrics, store evalclient.Store) (*flagbind.Provider, error) {
	evalCtx := cfg.EvalContext()

	var target flagbind.FlagSet
	if len(cfg.TargetFlags) > 0 {
		target = make(flagbind.FlagSet, len(cfg.TargetFlags))
		for _, key := range cfg.TargetFlags {
			target[key] = false
		}
	}

	opts := flagbind.ClientOptions{}
	if cfg.BootstrapFromCache {
		opts.Bootstrap = flagbind.BootstrapFromCache()
	}

	initialize := evalclient.NewInitializer(evalclient.Config{
		BaseURL: cfg.ServerURL,
		HTTPClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		Store:        store,
		Logger:       log.With("component", "evalclient"),
		OnEvaluation: m.RecordEvaluation,
	})

	return flagbind.New(flagbind.Config{
		ClientID:         cfg.APIKey,
		Context:          &evalCtx,
		ClientOptions:    opts,
		KeepOriginalKeys: cfg.KeepOriginalKeys,
		TargetFlags:      target,
		InitTimeout:      cfg.InitTimeout,
		Initialize:       initialize,
	},
		flagbind.WithLogger(log.With("component", "provider")),
		flagbind.WithRecorder(m),
		flagbind.WithTracerProvider(otel.GetTracerProvider()),
	)
}

// closeProvider detaches the provider and stops the evaluation client it
// created.
func closeProvider(p *flagbind.Provider, log *slog.Logger) {
	client := p.Snapshot().Client
	p.Stop()

	if c, ok := client.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			log.Error("close evaluation client", "error", err)
		}
	}
}
