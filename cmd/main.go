package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dovira/amlgraph-backend/internal/data/graph"
	"github.com/dovira/amlgraph-backend/internal/db"
	"github.com/dovira/amlgraph-backend/internal/domain"
	"github.com/dovira/amlgraph-backend/internal/handlers"
	"github.com/dovira/amlgraph-backend/internal/ingest"
	"github.com/dovira/amlgraph-backend/internal/platform/envutil"
	"github.com/dovira/amlgraph-backend/internal/platform/logger"
	"github.com/dovira/amlgraph-backend/internal/platform/neo4jdb"
	"github.com/dovira/amlgraph-backend/internal/platform/openai"
	"github.com/dovira/amlgraph-backend/internal/platform/rediscache"
	"github.com/dovira/amlgraph-backend/internal/repos"
	"github.com/dovira/amlgraph-backend/internal/server"
	"github.com/dovira/amlgraph-backend/internal/services"
)

func main() {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Schema registry, optionally overridden from a YAML file.
	registry := domain.DefaultRegistry()
	if path := envutil.String("SCHEMA_FILE", ""); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			log.Fatal("Could not read schema file", "path", path, "error", err)
		}
		registry, err = domain.LoadRegistry(raw)
		if err != nil {
			log.Fatal("Could not load schema file", "path", path, "error", err)
		}
		log.Info("Schema loaded from file", "path", path, "labels", len(registry.Labels()))
	}

	// Neo4j
	neoClient, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Fatal("Could not init Neo4j client", "error", err)
	}
	defer neoClient.Close(context.Background())

	mutator := graph.NewMutator(neoClient, registry, log)
	reader := graph.NewReader(neoClient, registry, log)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := mutator.EnsureConstraints(ctx); err != nil {
		cancel()
		log.Fatal("Could not ensure graph constraints", "error", err)
	}
	cancel()

	// Postgres audit store (optional)
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Warn("Postgres init failed, auditing disabled", "error", err)
		postgresService = nil
	}
	var runRepo repos.IngestRunRepo
	if postgresService != nil {
		if err := postgresService.AutoMigrateAll(); err != nil {
			log.Warn("Postgres auto migration failed", "error", err)
		}
		runRepo = repos.NewIngestRunRepo(postgresService.DB(), log)
	}

	// Redis extraction cache (optional)
	cache, err := rediscache.NewFromEnv(log)
	if err != nil {
		log.Warn("Redis init failed, extraction cache disabled", "error", err)
		cache = nil
	}
	if cache != nil {
		defer cache.Close()
	}

	// Oracles. The fixer can run on a different model than extraction via
	// OPENAI_FIX_MODEL; with it unset both share one client.
	openaiClient, err := openai.NewClient(log)
	if err != nil {
		log.Fatal("Could not init OpenAI client", "error", err)
	}
	fixClient, err := openai.NewClientWithModel(log, envutil.String("OPENAI_FIX_MODEL", ""))
	if err != nil {
		log.Fatal("Could not init OpenAI fix client", "error", err)
	}
	extractor := ingest.NewLLMOracle(openaiClient, registry, cache, log)
	fixer := ingest.NewLLMOracle(fixClient, registry, cache, log)

	// Machine + service
	machine := ingest.NewMachine(registry, extractor, fixer, mutator, log)
	maxFixAttempts := envutil.Int("MAX_FIX_ATTEMPTS", ingest.DefaultMaxFixAttempts)
	ingestionService := services.NewIngestionService(machine, runRepo, maxFixAttempts, log)

	// Handlers + router
	ingestHandler := handlers.NewIngestHandler(ingestionService)
	graphHandler := handlers.NewGraphHandler(reader, runRepo)

	router := server.NewRouter(server.RouterConfig{
		IngestHandler: ingestHandler,
		GraphHandler:  graphHandler,
	})

	port := envutil.String("PORT", "8080")
	log.Info("Starting server", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Server stopped", "error", err)
	}
}
