package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tabgraph/internal/audit"
	"tabgraph/internal/cluster"
	"tabgraph/internal/config"
	"tabgraph/internal/dedup"
	"tabgraph/internal/embedding"
	"tabgraph/internal/entities"
	"tabgraph/internal/enrichment"
	"tabgraph/internal/graph"
	"tabgraph/internal/httpapi"
	"tabgraph/internal/ingestion"
	"tabgraph/internal/llm/providers"
	"tabgraph/internal/logging"
	"tabgraph/internal/metadata"
	"tabgraph/internal/queue"
	"tabgraph/internal/visualization"
	"tabgraph/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logging.New(cfg.LogLevel, cfg.LogPretty)
	ctx := logging.Into(context.Background(), log)

	pool, err := graph.OpenPostgresPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, cfg.Postgres.MinConns)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to postgres")
	}
	defer pool.Close()

	store, err := graph.NewPostgresStore(ctx, pool)
	if err != nil {
		log.Fatal().Err(err).Msg("initializing graph store schema")
	}
	defer store.Close()

	httpClient := &http.Client{Timeout: cfg.Embedding.Timeout}

	embedClient := embedding.New(cfg.Embedding, httpClient)
	embedder := embedding.NewClientEmbedder(embedClient, cfg.Embedding.Model)

	llmProvider, err := providers.Build(ctx, cfg.LLM, httpClient)
	if err != nil {
		log.Fatal().Err(err).Msg("building llm provider")
	}
	llmModel := llmModelFor(cfg)

	extractor := entities.NewLLMExtractor(llmProvider, llmModel)
	enricher := enrichment.NewLLMEnricher(llmProvider, llmModel, enrichment.DefaultRetryConfig())
	metadataProvider := metadata.NewLLMProvider(llmProvider, llmModel)

	namer := cluster.NewLLMNamer(llmProvider, llmModel)
	engine := cluster.NewEngine(cfg.Cluster, store)

	producer, consumer := buildQueue(cfg)
	defer producer.Close()

	dedupCache := buildDedup(cfg)

	var auditLog *audit.Log
	if cfg.ClickHouse.DSN != "" {
		auditLog, err = audit.Open(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			log.Warn().Err(err).Msg("audit log disabled: could not connect to clickhouse")
		} else {
			defer auditLog.Close()
		}
	}

	pipeline := ingestion.New(store, embedder, extractor, engine, namer, producer, dedupCache,
		ingestion.WithMetadataProvider(metadataProvider),
		ingestion.WithEnrichmentDedupWindow(time.Hour),
		ingestion.WithAuditLog(auditLog),
	)

	bgWorker := worker.New(store, enricher, embedder, cfg.Cluster.EnrichmentCacheTTL)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()
	go func() {
		if err := bgWorker.Run(workerCtx, consumer); err != nil && workerCtx.Err() == nil {
			log.Error().Err(err).Msg("enrichment worker stopped unexpectedly")
		}
	}()

	assembler := visualization.New(store)
	allowedOrigins := []string{"chrome-extension://tabgraph"}
	server := httpapi.New(pipeline, engine, store, assembler, bgWorker, llmProvider, llmModel, allowedOrigins)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: server}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("tabgraphd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancelWorker()
	consumer.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	} else {
		log.Info().Msg("tabgraphd stopped")
	}
}

func llmModelFor(cfg config.Config) string {
	switch cfg.LLM.Provider {
	case "anthropic":
		return cfg.LLM.Anthropic.Model
	case "google":
		return cfg.LLM.Google.Model
	default:
		return cfg.LLM.OpenAI.Model
	}
}

func buildQueue(cfg config.Config) (queue.Producer, queue.Consumer) {
	if len(cfg.Kafka.Brokers) > 0 {
		return queue.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic),
			queue.NewKafkaConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID)
	}
	inproc := queue.NewInProcess(1000)
	return inproc, inproc
}

func buildDedup(cfg config.Config) dedup.Cache {
	if cfg.Redis.Addr == "" {
		return dedup.NewNoop()
	}
	return dedup.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
}
