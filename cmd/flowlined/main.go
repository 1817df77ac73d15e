// Command flowlined runs the Flowline workflow engine daemon: the worker
// pool, the cron scheduler sweep and the HTTP API with webhook ingress.
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

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/flowline-dev/flowline"
	"github.com/flowline-dev/flowline/executors"
	"github.com/flowline-dev/flowline/plugins/metrics"
	"github.com/flowline-dev/flowline/plugins/telemetry"
	"github.com/flowline-dev/flowline/providers"
)

func main() {
	if err := run(); err != nil {
		slog.Error("flowlined exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := flowline.LoadConfigFromEnv()
	if err != nil {
		return err
	}

	setupLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := flowline.RunMigrations(ctx, pool); err != nil {
		return err
	}

	store := flowline.NewStore(pool)
	txManager := flowline.NewTxManager(pool)

	env := flowline.NewRunEnvironment(&http.Client{Timeout: 30 * time.Second})
	if cfg.OpenAIAPIKey != "" {
		env.RegisterModel(flowline.NodeTypeOpenAI, providers.NewOpenAIClient(cfg.OpenAIAPIKey))
	}
	if cfg.AnthropicAPIKey != "" {
		env.RegisterModel(flowline.NodeTypeAnthropic, providers.NewAnthropicClient(cfg.AnthropicAPIKey))
	}
	if cfg.GeminiAPIKey != "" {
		env.RegisterModel(flowline.NodeTypeGemini, providers.NewGeminiClient(cfg.GeminiAPIKey))
	}

	pluginManager := flowline.NewPluginManager()
	pluginManager.Register(metrics.New(metrics.NewPrometheusCollector(nil)))
	pluginManager.Register(telemetry.New(nil))

	publisher := flowline.NewMemoryPublisher()

	registry := flowline.MustRegistry(executors.All()...)

	engine := flowline.NewEngine(registry,
		flowline.WithEngineStore(store),
		flowline.WithEngineTxManager(txManager),
		flowline.WithEnginePublisher(publisher),
		flowline.WithEnginePluginManager(pluginManager),
		flowline.WithEngineEnvironment(env),
		flowline.WithMaxNodeRetries(cfg.NodeRetries),
		flowline.WithRetryDelay(flowline.RetryStrategyExponential, cfg.BaseRetryDelay),
	)

	workerPool := flowline.NewWorkerPool(engine, cfg.WorkerCount, cfg.PollInterval)
	scheduler := flowline.NewCronScheduler(engine, store, cfg.SweepInterval)
	ingress := flowline.NewWebhookIngress(engine, store)
	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: flowline.NewServer(store, ingress).Mux(),
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		workerPool.Start(groupCtx)
		<-groupCtx.Done()
		workerPool.Stop()

		return nil
	})

	group.Go(func() error {
		scheduler.Run(groupCtx)

		return nil
	})

	group.Go(func() error {
		slog.Info("http server listening", "addr", cfg.ListenAddr)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func setupLogger(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}
