package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"go.uber.org/zap"

	"github.com/datapilot-ai/datapilot-engine/pkg/cache"
	"github.com/datapilot-ai/datapilot-engine/pkg/catalog"
	"github.com/datapilot-ai/datapilot-engine/pkg/config"
	"github.com/datapilot-ai/datapilot-engine/pkg/database"
	"github.com/datapilot-ai/datapilot-engine/pkg/engine"
	"github.com/datapilot-ai/datapilot-engine/pkg/generator"
	"github.com/datapilot-ai/datapilot-engine/pkg/handlers"
	"github.com/datapilot-ai/datapilot-engine/pkg/kb"
	"github.com/datapilot-ai/datapilot-engine/pkg/llm"
	"github.com/datapilot-ai/datapilot-engine/pkg/logging"
	"github.com/datapilot-ai/datapilot-engine/pkg/middleware"
	"github.com/datapilot-ai/datapilot-engine/pkg/repair"
	"github.com/datapilot-ai/datapilot-engine/pkg/schema"
	"github.com/datapilot-ai/datapilot-engine/pkg/services"
	"github.com/datapilot-ai/datapilot-engine/pkg/validator"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("llm_model", cfg.LLM.Model),
		zap.String("schemas_dir", cfg.Schemas.Dir))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to metadata database", zap.Error(err))
	}
	defer db.Close()

	// golang-migrate needs database/sql, not the pgx pool.
	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(sqlDB, cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	_ = sqlDB.Close()

	queryEngine, err := engine.NewPostgresEngine(ctx, cfg.Engine.URL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to query engine", zap.Error(err))
	}

	llmClient, err := llm.NewClient(&llm.ProviderConfig{
		Provider: cfg.LLM.Provider,
		Endpoint: cfg.LLM.Endpoint,
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create LLM client", zap.Error(err))
	}

	functionCatalog := catalog.New()
	if cfg.Schemas.FunctionsFile != "" {
		functionCatalog, err = catalog.NewWithOverlay(cfg.Schemas.FunctionsFile)
		if err != nil {
			logger.Fatal("Failed to load function overlay", zap.Error(err))
		}
	}

	schemaStore := schema.NewStore(cfg.Schemas.Dir, logger)

	knowledgeBase := kb.New(kb.NewRepository(db), llmClient, kb.Config{
		TopK:                cfg.KnowledgeBase.TopK,
		SimilarityThreshold: cfg.KnowledgeBase.SimilarityThreshold,
		EmbeddingModel:      cfg.LLM.EmbeddingModel,
	}, logger)

	cacheRepo := cache.NewRepository(db, cfg.Cache.TTL, logger)

	coordinator := services.NewCoordinator(
		generator.New(llmClient, cfg.LLM.Temperature, logger),
		repair.New(llmClient, knowledgeBase, cfg.LLM.Temperature, logger),
		validator.New(functionCatalog, queryEngine, logger),
		queryEngine,
		cacheRepo,
		knowledgeBase,
		schemaStore,
		services.Config{
			MaxRepairAttempts: cfg.Pipeline.MaxRepairAttempts,
			MaxEngineAttempts: cfg.Pipeline.MaxEngineAttempts,
			GenerateTimeout:   cfg.Pipeline.GenerateTimeout,
			ValidateTimeout:   cfg.Pipeline.ValidateTimeout,
			ExecuteTimeout:    cfg.Pipeline.ExecuteTimeout,
			MaxPreviewRows:    cfg.Engine.MaxPreviewRows,
		},
		logger,
	)

	janitor := services.NewJanitor(cacheRepo, queryEngine, time.Hour, logger)
	go janitor.Start(ctx)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, db, queryEngine, logger).RegisterRoutes(mux)
	handlers.NewQueryHandler(coordinator, cfg.Pipeline.ProgressBuffer, logger).RegisterRoutes(mux)
	handlers.NewCacheAdminHandler(cacheRepo, coordinator, janitor, logger).RegisterRoutes(mux)
	handlers.NewSchemaHandler(schemaStore, logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:    net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler: middleware.RequestLogger(logger)(mux),
	}

	go func() {
		logger.Info("Starting datapilot-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Graceful shutdown failed", zap.Error(err))
	}
}
