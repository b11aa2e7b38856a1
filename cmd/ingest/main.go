package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dovira/amlgraph-backend/internal/data/graph"
	"github.com/dovira/amlgraph-backend/internal/db"
	"github.com/dovira/amlgraph-backend/internal/domain"
	"github.com/dovira/amlgraph-backend/internal/ingest"
	"github.com/dovira/amlgraph-backend/internal/platform/envutil"
	"github.com/dovira/amlgraph-backend/internal/platform/logger"
	"github.com/dovira/amlgraph-backend/internal/platform/neo4jdb"
	"github.com/dovira/amlgraph-backend/internal/platform/openai"
	"github.com/dovira/amlgraph-backend/internal/platform/rediscache"
	"github.com/dovira/amlgraph-backend/internal/repos"
	"github.com/dovira/amlgraph-backend/internal/services"
)

// Batch ingestion over a JSONL file: one raw source record per line.
func main() {
	var (
		inputPath      string
		source         string
		workers        int
		maxFixAttempts int
		stopOnError    bool
	)
	flag.StringVar(&inputPath, "input", "", "path to a JSONL file, one record per line")
	flag.StringVar(&source, "source", "", "source tag recorded on audit rows (defaults to the file name)")
	flag.IntVar(&workers, "workers", 4, "concurrent ingestion runs")
	flag.IntVar(&maxFixAttempts, "max-fix-attempts", ingest.DefaultMaxFixAttempts, "bounded repair attempts per record")
	flag.BoolVar(&stopOnError, "stop-on-error", false, "abort the batch on the first failed record")
	flag.Parse()

	if inputPath == "" {
		fmt.Println("usage: ingest -input records.jsonl [-source name] [-workers n]")
		os.Exit(2)
	}
	if source == "" {
		source = inputPath
		if i := strings.LastIndexByte(source, '/'); i >= 0 {
			source = source[i+1:]
		}
	}

	log, err := logger.New(envutil.String("LOG_MODE", "production"))
	if err != nil {
		fmt.Printf("init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	registry := domain.DefaultRegistry()

	neoClient, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Fatal("init neo4j", "error", err)
	}
	defer neoClient.Close(context.Background())

	mutator := graph.NewMutator(neoClient, registry, log)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := mutator.EnsureConstraints(ctx); err != nil {
		cancel()
		log.Fatal("ensure constraints", "error", err)
	}
	cancel()

	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Warn("postgres init failed, auditing disabled", "error", err)
		postgresService = nil
	}
	var runRepo repos.IngestRunRepo
	if postgresService != nil {
		if err := postgresService.AutoMigrateAll(); err != nil {
			log.Warn("postgres auto migration failed", "error", err)
		}
		runRepo = repos.NewIngestRunRepo(postgresService.DB(), log)
	}

	cache, err := rediscache.NewFromEnv(log)
	if err != nil {
		log.Warn("redis init failed, extraction cache disabled", "error", err)
		cache = nil
	}
	if cache != nil {
		defer cache.Close()
	}

	openaiClient, err := openai.NewClient(log)
	if err != nil {
		log.Fatal("init openai", "error", err)
	}
	fixClient, err := openai.NewClientWithModel(log, envutil.String("OPENAI_FIX_MODEL", ""))
	if err != nil {
		log.Fatal("init openai fix client", "error", err)
	}
	extractor := ingest.NewLLMOracle(openaiClient, registry, cache, log)
	fixer := ingest.NewLLMOracle(fixClient, registry, cache, log)
	machine := ingest.NewMachine(registry, extractor, fixer, mutator, log)
	ingestion := services.NewIngestionService(machine, runRepo, maxFixAttempts, log)

	file, err := os.Open(inputPath)
	if err != nil {
		log.Fatal("open input", "path", inputPath, "error", err)
	}
	defer file.Close()

	if workers < 1 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(context.Background())
	g.SetLimit(workers)

	var persisted, failed atomic.Int64
	started := time.Now()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if gctx.Err() != nil {
			break
		}

		record := line
		no := lineNo
		g.Go(func() error {
			_, err := ingestion.IngestRecord(gctx, record, source)
			if err != nil {
				failed.Add(1)
				var runErr *ingest.RunError
				if errors.As(err, &runErr) {
					log.Warn("record failed", "line", no, "reason", runErr.Reason)
				} else {
					log.Warn("record failed", "line", no, "error", err)
				}
				if stopOnError {
					return fmt.Errorf("line %d: %w", no, err)
				}
				return nil
			}
			persisted.Add(1)
			return nil
		})
	}
	if err := scanner.Err(); err != nil {
		log.Error("read input", "error", err)
	}

	if err := g.Wait(); err != nil {
		log.Error("batch aborted", "error", err)
	}

	log.Info("batch finished",
		"lines", lineNo,
		"persisted", persisted.Load(),
		"failed", failed.Load(),
		"duration", time.Since(started))
	if failed.Load() > 0 {
		os.Exit(1)
	}
}
