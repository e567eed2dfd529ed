// Command collector starts the news collector service.
//
// The collector ingests articles from RSS feeds and the news-search API,
// extracts and chunks their text, embeds the chunks through the NLP service,
// and indexes them in the vector store. It exposes HTTP endpoints for run
// orchestration, run monitoring, chunk similarity search, and the internal
// article read side.
//
// Usage:
//
//	go run ./cmd/collector [-config configs/development.yaml]
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

	"github.com/arturp39/factcheck-collector/internal/dispatch"
	"github.com/arturp39/factcheck-collector/internal/domain"
	"github.com/arturp39/factcheck-collector/internal/extractor"
	"github.com/arturp39/factcheck-collector/internal/fetcher"
	"github.com/arturp39/factcheck-collector/internal/ingest"
	"github.com/arturp39/factcheck-collector/internal/nlp"
	"github.com/arturp39/factcheck-collector/internal/robots"
	"github.com/arturp39/factcheck-collector/internal/scheduler"
	"github.com/arturp39/factcheck-collector/internal/search"
	"github.com/arturp39/factcheck-collector/internal/server"
	"github.com/arturp39/factcheck-collector/internal/store"
	"github.com/arturp39/factcheck-collector/internal/vector"
	"github.com/arturp39/factcheck-collector/pkg/config"
	"github.com/arturp39/factcheck-collector/pkg/health"
	"github.com/arturp39/factcheck-collector/pkg/kafka"
	"github.com/arturp39/factcheck-collector/pkg/logger"
	"github.com/arturp39/factcheck-collector/pkg/metrics"
	"github.com/arturp39/factcheck-collector/pkg/postgres"
	"github.com/arturp39/factcheck-collector/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting collector service", "port", cfg.Server.Port, "dispatch_mode", cfg.Dispatch.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// PostgreSQL + schema.
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	st := store.New(db)
	if err := st.Migrate(ctx); err != nil {
		slog.Error("failed to migrate schema", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to postgres")

	// Redis — the search cache degrades to cacheless when unavailable.
	var cache *redis.Client
	if cfg.Redis.Addr != "" {
		cache, err = redis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search cache disabled", "error", err)
			cache = nil
		}
	}
	if cache != nil {
		defer cache.Close()
	}

	m := metrics.New()
	var metricsShutdown func(context.Context) error
	if cfg.Metrics.Enabled {
		metricsShutdown = metrics.StartServer(cfg.Metrics.Port)
	}

	// Upstream clients.
	robotsCache := robots.NewCache(cfg.Crawler)
	pageExtractor := extractor.New(cfg.Crawler, robotsCache)
	nlpClient := nlp.NewClient(cfg.NLP)
	vectorClient := vector.NewClient(cfg.Vector)

	schemaCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := vectorClient.EnsureSchema(schemaCtx); err != nil {
		cancel()
		slog.Error("failed to ensure vector schema", "error", err)
		os.Exit(1)
	}
	cancel()

	// Fetchers.
	registry := fetcher.NewRegistry(
		fetcher.NewRSSFetcher(cfg.Crawler),
		fetcher.NewNewsAPIFetcher(cfg.NewsAPI, fetcher.NewNewsAPIClient(cfg.NewsAPI), st),
	)

	// Pipeline.
	discovery := ingest.NewDiscovery(st)
	enrichment := ingest.NewEnrichment(st, pageExtractor)
	indexer := ingest.NewIndexer(cfg.Chunking, st, nlpClient, vectorClient, m)
	job := ingest.NewEndpointJob(cfg.Ingestion, st, registry, robotsCache, discovery, enrichment, indexer, m)
	taskHandler := ingest.NewTaskHandler(cfg.Ingestion, st, job, m)

	// Task dispatch.
	var publisher dispatch.TaskPublisher
	var consumer *kafka.Consumer
	if cfg.Dispatch.Mode == "kafka" {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IngestionTasks)
		defer producer.Close()
		publisher = dispatch.NewKafkaPublisher(producer)
		consumer = kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IngestionTasks,
			func(ctx context.Context, key, value []byte) error {
				task, err := kafka.DecodeJSON[domain.TaskRequest](value)
				if err != nil {
					slog.Warn("acking undecodable task message", "error", err)
					return nil
				}
				return taskHandler.HandleTask(ctx, task)
			})
	} else {
		publisher = dispatch.NewHTTPPublisher(cfg.Dispatch)
	}

	runner := ingest.NewRunner(cfg.Ingestion, st, publisher, m)
	admin := ingest.NewAdmin(st, m)
	query := ingest.NewQuery(st)
	searchService := search.New(cfg.Search, vectorClient, cache, m)

	// Health checks.
	checker := health.NewChecker()
	checker.Register("postgres", pingCheck(st.Ping))
	checker.Register("nlp", pingCheck(nlpClient.Ping))
	checker.Register("vector", pingCheck(vectorClient.Ping))
	if cache != nil {
		checker.Register("redis", pingCheck(cache.Ping))
	}

	handler := server.New(runner, taskHandler, admin, query, st, searchService, checker)
	srv := server.NewServer(cfg.Server, server.NewRouter(handler, m, cfg.Server.WriteTimeout))

	sched := scheduler.New(cfg.Scheduler, runner, registry)
	if err := sched.Start(); err != nil {
		slog.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	if consumer != nil {
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("task consumer stopped", "error", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		sched.Stop()
		if metricsShutdown != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := metricsShutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
			cancel()
		}
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	if err := srv.Start(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("collector service stopped")
}

// pingCheck adapts a dependency's Ping method to a health check.
func pingCheck(ping func(context.Context) error) health.Check {
	return func(ctx context.Context) health.ComponentHealth {
		if err := ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	}
}
