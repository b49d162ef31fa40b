package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/sensorrelay/internal/adapter/httpserver"
	"github.com/pscheid92/sensorrelay/internal/adapter/metrics"
	wsadapter "github.com/pscheid92/sensorrelay/internal/adapter/websocket"
	"github.com/pscheid92/sensorrelay/internal/platform/config"
	"github.com/pscheid92/sensorrelay/internal/platform/logging"
	"github.com/pscheid92/sensorrelay/internal/platform/version"
	"github.com/pscheid92/sensorrelay/internal/relay"
)

const shutdownTimeout = 10 * time.Second

func runGracefulShutdown(srv *httpserver.Server, r *relay.Relay) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		// Consumers get their close frame before the listener stops.
		r.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		close(done)
	}()

	return done
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func staticDirCheck(dir string) func(context.Context) error {
	return func(context.Context) error {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("static dir: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("static dir %q is not a directory", dir)
		}
		return nil
	}
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	closeLog := logging.InitLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	defer func() { _ = closeLog() }()
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().String())

	registry := metrics.NewRegistry()
	relayMetrics := metrics.NewRelayMetrics(registry)
	httpMetrics := metrics.NewHTTPMetrics(registry)

	r := relay.New(clock, relayMetrics, relay.Options{
		ReadyToken:          cfg.ReadyToken,
		PingInterval:        cfg.PingInterval,
		PongTimeout:         cfg.PongTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		SendBufferSize:      cfg.SendBufferSize,
		ProducerMessageRate: cfg.ProducerMessageRate,
	})

	limits := wsadapter.NewConnectionLimits(clock, int64(cfg.MaxConnections), cfg.MaxConnectionsPerIP, cfg.ConnectionRate, cfg.ConnectionBurst)
	wsHandler := wsadapter.NewHandler(r, limits, relayMetrics, wsadapter.HandlerConfig{
		AllowedOrigins: cfg.Origins(),
		MaxMessageSize: cfg.MaxMessageSize,
		Development:    cfg.IsDevelopment(),
	})

	healthChecks := []httpserver.HealthCheck{
		{Name: "relay", Check: r.Ping},
		{Name: "static_dir", Check: staticDirCheck(cfg.StaticDir)},
	}
	srv := httpserver.NewServer(cfg, clock, wsHandler.Handle, metrics.Handler(registry), httpMetrics, healthChecks)

	done := runGracefulShutdown(srv, r)

	slog.Info("Relay ready", "ping_interval", cfg.PingInterval, "ready_token", cfg.ReadyToken)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
