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

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-platform/internal/access"
	"github.com/capitalize-ai/agent-platform/internal/chatlock"
	"github.com/capitalize-ai/agent-platform/internal/config"
	"github.com/capitalize-ai/agent-platform/internal/handler"
	"github.com/capitalize-ai/agent-platform/internal/knowledge"
	"github.com/capitalize-ai/agent-platform/internal/llm"
	natsclient "github.com/capitalize-ai/agent-platform/internal/nats"
	"github.com/capitalize-ai/agent-platform/internal/service"
	"github.com/capitalize-ai/agent-platform/internal/store"
	"github.com/capitalize-ai/agent-platform/internal/stream"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
	"github.com/capitalize-ai/agent-platform/pkg/tracing"
)

const serviceName = "agent-platform"

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server", zap.String("instance_id", cfg.InstanceID))

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, tracing.Config{
			ServiceName: serviceName,
			Endpoint:    cfg.TracingEndpoint,
			Insecure:    true,
			SampleRate:  cfg.TracingSampleRate,
		})
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Storage and the per-chat lock
	st, locker, err := newStore(ctx, cfg)
	if err != nil {
		log.Fatal("failed to initialize store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer st.Close()
	if closer, ok := locker.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	if cfg.SeedDemo {
		if err := store.Seed(ctx, st, time.Now().UTC()); err != nil {
			log.Fatal("failed to seed demo data", zap.Error(err))
		}
		log.Info("demo data seeded")
	}

	// Optional NATS fan-out of persisted messages and turn events
	var (
		publisher  stream.Publisher
		natsPinger handler.Pinger
	)
	if cfg.NATSEnabled {
		natsClient, err := natsclient.Connect(ctx, natsclient.Config{
			Name:     serviceName + "-" + cfg.InstanceID,
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()
		publisher = natsclient.NewPublisher(natsClient.JetStream())
		natsPinger = natsClient
	}

	// LLM providers
	llmRouter := newLLMRouter(cfg, log)

	// Knowledge retrieval
	var embedder knowledge.Embedder
	if cfg.OpenAIAPIKey != "" {
		embedder = knowledge.NewCachedEmbedder(
			knowledge.NewOpenAIEmbedderWithConfig(openAIConfig(cfg), cfg.EmbeddingModel),
			cfg.EmbeddingCacheTTL,
		)
	} else {
		log.Warn("OPENAI_API_KEY not set, knowledge retrieval and ingest disabled")
	}

	// Initialize services
	guard := access.NewGuard(st)
	coordinator := stream.NewCoordinator(llmRouter, st, publisher, log, cfg.StreamMaxDuration)

	chatCfg := service.ChatServiceConfig{
		Store:       st,
		Guard:       guard,
		Locker:      locker,
		Coordinator: coordinator,
		Publisher:   publisher,
		Logger:      log,
	}
	var indexer *knowledge.Indexer
	if embedder != nil {
		chatCfg.Retriever = knowledge.NewRetriever(st, embedder, log)
		indexer = knowledge.NewIndexer(st, embedder, log, cfg.ChunkSize, cfg.ChunkOverlap)
	}

	chatSvc := service.NewChatService(chatCfg)
	agentSvc := service.NewAgentService(st, guard, log)
	analyticsSvc := service.NewAnalyticsService(st, guard)
	knowledgeSvc := service.NewKnowledgeService(guard, indexer)

	// Create router
	r := handler.NewRouter(handler.RouterConfig{
		Health:            handler.NewHealthHandler(st, natsPinger),
		Chat:              handler.NewChatHandler(chatSvc, log),
		Agents:            handler.NewAgentHandler(agentSvc, log),
		Analytics:         handler.NewAnalyticsHandler(analyticsSvc, log),
		Knowledge:         handler.NewKnowledgeHandler(knowledgeSvc, log),
		Logger:            log,
		JWTSecret:         cfg.JWTSecret,
		CORSOrigins:       cfg.CORSOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
	})
	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET not set, tenant is taken from the X-Tenant-ID header")
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

// newStore opens the configured store together with a matching chat locker.
// PostgreSQL deployments lock through a lease table so that replicas
// serialize turns on the same chat.
func newStore(ctx context.Context, cfg *config.Config) (store.Store, chatlock.Locker, error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		return store.NewMemoryStore(), chatlock.NewLocalLocker(), nil
	case config.StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, nil, fmt.Errorf("DATABASE_URL is required for the %s store", cfg.StoreDriver)
		}
		pgCfg := store.DefaultPostgresConfig(cfg.DatabaseURL)
		pgCfg.MaxOpenConns = cfg.DBMaxOpenConns
		pgCfg.MaxIdleConns = cfg.DBMaxIdleConns

		pg, err := store.NewPostgresStore(ctx, pgCfg)
		if err != nil {
			return nil, nil, err
		}
		locker, err := chatlock.NewDBLocker(pg.DB(), chatlock.DefaultDBLockerConfig(cfg.InstanceID))
		if err != nil {
			pg.Close()
			return nil, nil, err
		}
		if err := locker.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, nil, fmt.Errorf("failed to create lock table: %w", err)
		}
		return pg, locker, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// newLLMRouter registers a client for every provider with an API key.
func newLLMRouter(cfg *config.Config, log *logger.Logger) *llm.Router {
	router := llm.NewRouter()
	if cfg.OpenAIAPIKey != "" {
		router.Register(llm.ProviderOpenAI, llm.NewOpenAIClientWithConfig(openAIConfig(cfg)))
	}
	if cfg.AnthropicAPIKey != "" {
		client, err := llm.NewAnthropicClient(cfg.AnthropicAPIKey)
		if err != nil {
			log.Warn("failed to create Anthropic client", zap.Error(err))
		} else {
			router.Register(llm.ProviderAnthropic, client)
		}
	}
	if len(router.Providers()) == 0 {
		log.Warn("no LLM provider configured, chat turns will fail")
	}
	return router
}

func openAIConfig(cfg *config.Config) openai.ClientConfig {
	c := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		c.BaseURL = cfg.OpenAIBaseURL
	}
	return c
}
