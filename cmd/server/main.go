package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wbcsd/pact-conformance-test-service/internal/config"
	"github.com/wbcsd/pact-conformance-test-service/internal/handler"
	"github.com/wbcsd/pact-conformance-test-service/internal/observability"
	"github.com/wbcsd/pact-conformance-test-service/internal/repository"
	"github.com/wbcsd/pact-conformance-test-service/internal/schema"
	"github.com/wbcsd/pact-conformance-test-service/internal/service"
	"github.com/wbcsd/pact-conformance-test-service/internal/target"
	"github.com/wbcsd/pact-conformance-test-service/internal/testcase"
	"github.com/wbcsd/pact-conformance-test-service/internal/websocket"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_FILE")
	if configPath == "" {
		configPath = "config.toml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		config.Default().Log.NewLogger().Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}
	logger := cfg.Log.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize record store
	repo, closeRepo, err := repository.New(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to initialize record store", "type", cfg.Database.Type, "error", err)
		os.Exit(1)
	}
	defer closeRepo()

	registry, err := schema.NewRegistry()
	if err != nil {
		logger.Error("failed to compile schemas", "error", err)
		os.Exit(1)
	}

	var metrics *observability.Metrics
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		metrics = observability.NewMetrics(reg)
		metricsHandler = metrics.Handler(reg)
	}

	hub := websocket.NewHub()
	go hub.Run(ctx)

	opts := service.Options{Logger: logger, Notifier: hub}
	if metrics != nil {
		opts.Metrics = metrics
	}

	executorOpts := []testcase.Option{
		testcase.WithTimeout(cfg.Harness.ProbeTimeout()),
		testcase.WithLogger(logger),
	}
	if metrics != nil {
		executorOpts = append(executorOpts, testcase.WithObserver(metrics))
	}
	executor := testcase.NewExecutor(registry, executorOpts...)
	targetClient := target.NewClient(&http.Client{Timeout: cfg.Harness.ProbeTimeout()}, logger)

	// Initialize services
	runService := service.NewRunService(repo, executor, targetClient, cfg.Harness.WebhookURL, opts)
	callbackService := service.NewCallbackService(repo, registry, opts)
	resultsService := service.NewResultsService(repo, cfg.Harness.RecentRunsLimit)
	callbackAuth := service.NewCallbackAuth(cfg.CallbackAuth)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	r := handler.NewRouter(handler.RouterOptions{
		Conformance: handler.NewConformanceHandler(runService, callbackService, resultsService, callbackAuth, logger),
		Stream:      handler.NewWebSocketHandler(hub),
		Metrics:     metricsHandler,
		MetricsPath: cfg.Metrics.Path,
		Logger:      logger,
	})

	server := &http.Server{
		Addr:              cfg.Server.GetAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting pact conformance test service", "addr", server.Addr,
			"store", cfg.Database.Type, "webhook", cfg.Harness.WebhookURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
}
