package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/typegym/ai_gateway/internal/config"
	"github.com/typegym/ai_gateway/internal/cooldown"
	"github.com/typegym/ai_gateway/internal/credential"
	"github.com/typegym/ai_gateway/internal/dispatch"
	"github.com/typegym/ai_gateway/internal/live"
	"github.com/typegym/ai_gateway/internal/logger"
	"github.com/typegym/ai_gateway/internal/monitoring"
	"github.com/typegym/ai_gateway/internal/relay"
	"github.com/typegym/ai_gateway/internal/upstream"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Server.LoggingLevel)
	if cfg.Server.LoggingFormat == "json" {
		log = logger.NewJSON(cfg.Server.LoggingLevel)
	}

	log.Info("Starting ai_gateway",
		"logging_level", cfg.Server.LoggingLevel,
		"port", cfg.Server.Port,
		"upstream_base_url", cfg.Upstream.BaseURL,
	)

	pool := credential.FromEnv(cfg.Credentials.EnvVar, cfg.Credentials.MaxNumbered)
	if pool.Size() == 0 {
		// Not fatal: the relay stays up and reports the configuration error
		// per request, so a bad deploy is visible instead of crash-looping.
		log.Error("No upstream credentials found in environment",
			"env_var", cfg.Credentials.EnvVar,
		)
	} else {
		log.Info("Discovered upstream credentials", "count", pool.Size())
	}

	tracker := cooldown.New()
	metrics := monitoring.New(cfg.Monitoring.PrometheusEnabled)
	metrics.UpdatePoolSize(pool.Size())

	client := upstream.NewClient(cfg.Upstream.BaseURL, cfg.Server.RequestTimeout, log)
	dispatcher := dispatch.New(pool, tracker, client, dispatch.Options{
		MaxAttemptsCeiling: cfg.Dispatch.MaxAttemptsCeiling,
		RetryOnTimeout:     cfg.Dispatch.RetryOnTimeout,
		RetryUnknownOnce:   cfg.Dispatch.RetryUnknownOnce,
		RateLimitWindow:    cfg.Cooldown.RateLimitWindow,
		QuotaWindow:        cfg.Cooldown.QuotaWindow,
	}, log, metrics)

	cors := relay.NewCORS(cfg.Server.AllowedOrigins)

	broker, err := live.NewBroker(dispatcher, cfg.Live, cfg.Upstream.LiveURL, log, metrics)
	if err != nil {
		log.Error("Failed to initialize live broker", "error", err)
		os.Exit(1)
	}

	generate := relay.NewHandler(dispatcher, log, metrics,
		cfg.Server.MaxBodySizeMB, cfg.Server.RequestTimeout, cors)
	grant := live.NewGrantHandler(broker, cors)
	rtr := relay.NewRouter(generate, grant, pool, tracker, cfg.Monitoring.HealthCheckPath)

	mux := http.NewServeMux()
	mux.Handle("/", rtr)

	if cfg.Monitoring.PrometheusEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		log.Info("Prometheus metrics enabled", "path", "/metrics")

		go func() {
			ticker := time.NewTicker(10 * time.Second)
			defer ticker.Stop()
			for range ticker.C {
				metrics.UpdateCooldowns(tracker.ActiveCount())
			}
		}()
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: mux,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("Server shutdown complete")
}
