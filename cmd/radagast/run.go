package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/activeusers"
	"github.com/eugener/radagast/internal/authz"
	"github.com/eugener/radagast/internal/config"
	"github.com/eugener/radagast/internal/provider"
	"github.com/eugener/radagast/internal/provider/anthropic"
	"github.com/eugener/radagast/internal/provider/google"
	"github.com/eugener/radagast/internal/provider/openai"
	"github.com/eugener/radagast/internal/quota"
	"github.com/eugener/radagast/internal/server"
	"github.com/eugener/radagast/internal/storage/sqlite"
	"github.com/eugener/radagast/internal/telemetry"
	"github.com/eugener/radagast/internal/token"
	"github.com/eugener/radagast/internal/usage"
	"github.com/eugener/radagast/internal/worker"
)

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting radagast", "version", version, "addr", cfg.Server.Addr)

	// Open database
	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	if err := config.Bootstrap(ctx, cfg, store); err != nil {
		return err
	}

	// Tracing
	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				slog.Warn("tracing shutdown failed", "error", err)
			}
		}()
	}

	// Metrics
	var metrics *telemetry.Metrics
	var metricsHandler http.Handler
	if cfg.Telemetry.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = telemetry.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	// Token codec
	codec, err := token.NewCodec(cfg.Auth.Secret, cfg.Auth.Lifetime)
	if err != nil {
		return err
	}

	// Provider adapters share one pooled transport with cached DNS.
	resolver := &dnscache.Resolver{}
	httpClient := &http.Client{Transport: provider.NewTransport(resolver)}

	registry := provider.NewRegistry()
	if p := cfg.Providers.Anthropic; p.Enabled() {
		registry.Register(anthropic.New(p.APIURL, p.APIKey, httpClient))
	}
	if p := cfg.Providers.OpenAI; p.Enabled() {
		registry.Register(openai.New(gateway.ProviderOpenAI, p.APIURL, p.APIKey, httpClient))
	}
	if p := cfg.Providers.Google; p.Enabled() {
		registry.Register(google.New(p.APIURL, p.APIKey, httpClient))
	}
	if p := cfg.Providers.Zed; p.Enabled() {
		registry.Register(openai.New(gateway.ProviderZed, p.APIURL, p.APIKey, httpClient))
	}

	// Quota engine over the shared active-user counter.
	counter := activeusers.NewCounter(store)
	engine := quota.NewEngine(store, store, counter)

	// Usage accounting: persistent windows plus the analytics sink.
	var workers []worker.Worker
	var queue usage.EventQueue
	if cfg.ClickHouse.URL != "" {
		sink, err := telemetry.NewClickHouseSink(cfg.ClickHouse.URL, cfg.ClickHouse.Database, cfg.ClickHouse.Table, httpClient)
		if err != nil {
			return err
		}
		flusher := worker.NewEventFlusher(sink, metrics)
		workers = append(workers, flusher)
		queue = flusher
	}
	if metrics != nil {
		workers = append(workers, worker.NewActiveUserGauge(counter, metrics))
	}
	recorder := usage.NewRecorder(store, queue, metrics)

	// Authorization policy
	gated := make(map[string]gateway.Plan, len(cfg.Authz.PlanGatedModels))
	for model, plan := range cfg.Authz.PlanGatedModels {
		gated[model] = gateway.Plan(plan)
	}
	authorizer := authz.New(authz.Config{
		EmbargoedCountries: cfg.Authz.EmbargoedCountries,
		PlanGatedModels:    gated,
	})

	handler := server.New(server.Deps{
		Tokens:         codec,
		Adapters:       registry,
		Authz:          authorizer,
		Quota:          engine,
		Recorder:       recorder,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		ReadyCheck:     store.Ping,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Background workers
	workerCtx, stopWorkers := context.WithCancel(ctx)
	workersDone := make(chan error, 1)
	go func() {
		workersDone <- worker.NewRunner(workers...).Run(workerCtx)
	}()

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("radagast ready", "addr", cfg.Server.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		stopWorkers()
		<-workersDone
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		stopWorkers()
		return err
	}

	// Drain workers after the HTTP server stops accepting requests, so
	// in-flight completions can still enqueue their usage events.
	stopWorkers()
	if err := <-workersDone; err != nil {
		return err
	}

	slog.Info("radagast stopped")
	return nil
}
