// AgentLens server: ingests agent observability events, maintains
// per-session hash chains, and serves the query, recall, and alerting API.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/agentlensai/agentlens/pkg/alerts"
	"github.com/agentlensai/agentlens/pkg/api"
	"github.com/agentlensai/agentlens/pkg/benchmark"
	"github.com/agentlensai/agentlens/pkg/bus"
	"github.com/agentlensai/agentlens/pkg/cleanup"
	"github.com/agentlensai/agentlens/pkg/config"
	"github.com/agentlensai/agentlens/pkg/database"
	"github.com/agentlensai/agentlens/pkg/embedding"
	"github.com/agentlensai/agentlens/pkg/guardrails"
	"github.com/agentlensai/agentlens/pkg/ingest"
	"github.com/agentlensai/agentlens/pkg/notify"
	"github.com/agentlensai/agentlens/pkg/queue"
	"github.com/agentlensai/agentlens/pkg/ratelimit"
	"github.com/agentlensai/agentlens/pkg/replay"
	"github.com/agentlensai/agentlens/pkg/store"
	"github.com/agentlensai/agentlens/pkg/version"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting AgentLens",
		"version", version.Full(),
		"http_port", cfg.HTTPPort,
		"storage_driver", cfg.StorageDriver,
		"queue_enabled", cfg.RedisURL != "")

	ctx := context.Background()

	// 1. Storage
	var provider store.Provider
	var dbClient *database.Client
	switch cfg.StorageDriver {
	case config.StoragePostgres:
		dbConfig, err := database.LoadConfigFromEnv()
		if err != nil {
			slog.Error("Failed to load database config", "error", err)
			os.Exit(1)
		}
		dbClient, err = database.NewClient(ctx, dbConfig)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		provider = store.NewPostgres(dbClient.DB())
		slog.Info("Connected to PostgreSQL database",
			"host", dbConfig.Host, "database", dbConfig.Database)
	default:
		provider = store.NewMemory()
		slog.Info("Using in-memory store")
	}
	defer func() {
		if err := provider.Close(); err != nil {
			slog.Error("Error closing store provider", "error", err)
		}
	}()

	// 2. Event bus
	eventBus := bus.New()

	// 3. Embedding worker and search (only with an endpoint configured)
	var embedClient embedding.Client
	var embedWorker *embedding.Worker
	var search *embedding.SearchService
	var enqueuer embedding.Enqueuer
	if cfg.EmbeddingEndpoint != "" {
		embedClient = embedding.NewHTTPClient(
			cfg.EmbeddingEndpoint, cfg.EmbeddingAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
		embedWorker = embedding.NewWorker(provider, embedClient, cfg.EmbeddingQueueSize)
		embedWorker.Start(ctx)
		enqueuer = embedWorker
		search = embedding.NewSearchService(provider, embedClient)
		slog.Info("Embedding worker started", "model", cfg.EmbeddingModel)
	} else {
		slog.Info("No embedding endpoint configured, recall disabled")
	}

	// 4. Ingest pipeline
	pipeline := ingest.New(provider, eventBus, enqueuer)

	// 5. Queue, batch writer, and quota fast path (only with Redis)
	var redisClient *redis.Client
	var q queue.Queue
	var writer *queue.Writer
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("Invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		q, err = queue.NewRedis(ctx, redisClient)
		if err != nil {
			slog.Error("Failed to initialize Redis queue", "error", err)
			os.Exit(1)
		}
		writer = queue.NewWriter(q, provider, eventBus, enqueuer, queue.WriterConfig{
			BatchSize:  cfg.WriterBatchSize,
			MaxRetries: cfg.WriterMaxRetries,
			Consumer:   consumerName(),
		})
		writer.Start(ctx)
		slog.Info("Redis queue and batch writer started",
			"batch_size", cfg.WriterBatchSize, "backpressure_threshold", cfg.BackpressureThreshold)
	}

	// 6. Rate limiting and quota
	limiter := ratelimit.NewLimiter(ratelimit.DefaultRefillInterval)
	quota := ratelimit.NewQuotaChecker(provider, redisClient, &ratelimit.StaticPlans{
		Default: ratelimit.Plan{
			Name:       "default",
			EventQuota: cfg.DefaultEventQuota,
			Paid:       cfg.DefaultPlanPaid,
		},
	})

	// 7. Notification router and rule engines
	router := notify.NewRouter(provider, notify.RouterConfig{
		GroupWindow:       cfg.NotifyGroupWindow,
		GroupLimit:        cfg.NotifyGroupLimit,
		AllowInternalURLs: cfg.AllowInternalURLs,
	})
	router.Start(ctx)

	alertEngine := alerts.NewEngine(provider, router, cfg.AlertInterval)
	alertEngine.Start(ctx)
	guardrailEngine := guardrails.NewEngine(provider, router, pipeline, cfg.GuardrailInterval)
	guardrailEngine.Start(ctx)
	slog.Info("Rule engines started",
		"alert_interval", cfg.AlertInterval, "guardrail_interval", cfg.GuardrailInterval)

	var retention *cleanup.Service
	if cfg.RetentionDays > 0 {
		retention = cleanup.NewService(provider, cleanup.Config{
			RetentionDays: cfg.RetentionDays,
			Interval:      cfg.CleanupInterval,
		})
		retention.Start(ctx)
	}

	// 8. HTTP server
	deps := api.Deps{
		Provider:   provider,
		Pipeline:   pipeline,
		Queue:      q,
		Writer:     writer,
		Bus:        eventBus,
		Search:     search,
		Embeddings: enqueuer,
		Replay:     replay.NewService(provider),
		Benchmarks: benchmark.NewEngine(provider),
		Router:     router,
		Limiter:    limiter,
		Quota:      quota,
	}
	if dbClient != nil {
		deps.DB = dbClient.DB()
	}
	httpServer := api.NewServer(cfg, deps)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", ":"+cfg.HTTPPort)
		if err := httpServer.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("AgentLens started successfully")

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown: stop accepting requests, then drain workers.
	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		slog.Warn("HTTP server shutdown error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer cancel()

	stopAll := func(name string, stop func()) {
		done := make(chan struct{})
		go func() {
			stop()
			close(done)
		}()
		select {
		case <-done:
			slog.Info(name + " stopped gracefully")
		case <-shutdownCtx.Done():
			slog.Warn(name + " shutdown timeout exceeded")
		}
	}

	stopAll("Alert engine", alertEngine.Stop)
	stopAll("Guardrail engine", guardrailEngine.Stop)
	if retention != nil {
		stopAll("Retention service", retention.Stop)
	}
	if writer != nil {
		stopAll("Batch writer", writer.Stop)
	}
	if embedWorker != nil {
		stopAll("Embedding worker", embedWorker.Stop)
	}
	stopAll("Notification router", router.Stop)

	if q != nil {
		if err := q.Close(); err != nil {
			slog.Warn("Queue close error", "error", err)
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			slog.Warn("Redis close error", "error", err)
		}
	}

	slog.Info("Shutdown complete")
}

// consumerName derives the batch writer's consumer id for multi-replica
// deployments. Priority: POD_ID env > HOSTNAME env > "writer-1".
func consumerName() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "writer-1"
}
