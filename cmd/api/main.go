// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/RoseVZ/Instalily-casestudy/internal/catalog"
	"github.com/RoseVZ/Instalily-casestudy/internal/config"
	"github.com/RoseVZ/Instalily-casestudy/internal/events"
	"github.com/RoseVZ/Instalily-casestudy/internal/handler"
	"github.com/RoseVZ/Instalily-casestudy/internal/llm"
	"github.com/RoseVZ/Instalily-casestudy/internal/middleware"
	"github.com/RoseVZ/Instalily-casestudy/internal/pipeline"
	"github.com/RoseVZ/Instalily-casestudy/internal/semdex"
	"github.com/RoseVZ/Instalily-casestudy/internal/store"
	"github.com/RoseVZ/Instalily-casestudy/pkg/logger"
	"github.com/RoseVZ/Instalily-casestudy/pkg/tracing"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "parts-assistant", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Part catalog
	cat, err := catalog.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to open catalog database", zap.Error(err))
		os.Exit(1)
	}
	defer cat.Close()

	// Conversation store
	var (
		convStore  store.Store
		storePing  handler.Pinger
		redisStore *store.RedisStore
	)
	if cfg.StoreInMemory {
		convStore = store.NewMemoryStore(cfg.ConversationTTL, cfg.HistoryLimit)
		log.Info("using in-memory conversation store")
	} else {
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL, cfg.ConversationTTL, cfg.HistoryLimit)
		if err != nil {
			log.Error("failed to connect to Redis", zap.Error(err))
			os.Exit(1)
		}
		defer redisStore.Close()
		convStore = redisStore
		storePing = redisStore
	}

	// LLM client: DeepSeek first, Anthropic as the alternative provider.
	var llmClient llm.Client
	switch {
	case cfg.DeepSeekAPIKey != "":
		llmClient, err = llm.NewDeepSeekClient(cfg.DeepSeekAPIKey, cfg.DeepSeekBaseURL, cfg.DeepSeekModel)
		if err != nil {
			log.Warn("failed to create DeepSeek client, LLM features disabled", zap.Error(err))
		}
	case cfg.AnthropicAPIKey != "":
		llmClient, err = llm.NewAnthropicClient(cfg.AnthropicAPIKey, "")
		if err != nil {
			log.Warn("failed to create Anthropic client, LLM features disabled", zap.Error(err))
		}
	default:
		log.Warn("no LLM API key configured, every turn will take the fallback path")
	}
	if llmClient != nil {
		log.Info("LLM provider ready", zap.String("provider", llmClient.Name()))
	}

	// Semantic index over the document corpus. Built only when an
	// embedding key is configured; the pipeline degrades without it.
	var docIndex pipeline.DocIndex
	if cfg.OpenAIAPIKey != "" {
		embedder, err := llm.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.EmbeddingModel)
		if err != nil {
			log.Warn("failed to create embedder, semantic search disabled", zap.Error(err))
		} else {
			index := semdex.New(embedder)
			docs, err := cat.Documents(ctx)
			if err != nil {
				log.Warn("failed to load document corpus, semantic search disabled", zap.Error(err))
			} else if err := index.Ingest(ctx, docs); err != nil {
				log.Warn("failed to build semantic index, semantic search disabled", zap.Error(err))
			} else {
				docIndex = index
				log.Info("semantic index ready", zap.Int("documents", index.Len()))
			}
		}
	} else {
		log.Info("no embedding key configured, semantic search disabled")
	}

	// Turn event publisher, optional.
	var eventSink pipeline.EventSink
	if cfg.NATSURL != "" {
		natsClient, err := events.Connect(ctx, events.Config{URL: cfg.NATSURL, Token: cfg.NATSToken}, log)
		if err != nil {
			log.Warn("failed to connect to NATS, turn events disabled", zap.Error(err))
		} else {
			defer natsClient.Close()
			publisher := events.NewPublisher(natsClient)
			if err := publisher.EnsureStream(ctx); err != nil {
				log.Warn("failed to ensure turn stream, turn events disabled", zap.Error(err))
			} else {
				eventSink = publisher
			}
		}
	}

	pipe := pipeline.New(convStore, cat, docIndex, llmClient, eventSink, log, pipeline.Config{
		ClassifyTimeout: cfg.ClassifyTimeout,
		SearchTimeout:   cfg.SearchTimeout,
		GatherTimeout:   cfg.GatherTimeout,
		RankTimeout:     cfg.RankTimeout,
		GenerateTimeout: cfg.GenerateTimeout,
		RerankEnabled:   cfg.RerankEnabled,
		RerankTopK:      cfg.RerankTopK,
		HistoryLimit:    cfg.HistoryLimit,
	})

	healthHandler := handler.NewHealthHandler(map[string]handler.Pinger{
		"postgres": cat,
		"redis":    storePing,
	})
	chatHandler := handler.NewChatHandler(pipe)
	productsHandler := handler.NewProductsHandler(cat)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(middleware.Auth(cfg.JWTSecret))
		}
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Post("/chat", chatHandler.Chat)

		r.Route("/products", func(r chi.Router) {
			r.Get("/search", productsHandler.Search)
			r.Get("/{partNumber}", productsHandler.Get)
			r.Get("/{partNumber}/installation", productsHandler.Installation)
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
