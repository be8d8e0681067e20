package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yarrowlabs/conceptforge-backend/internal/budget"
	"github.com/yarrowlabs/conceptforge-backend/internal/canonical"
	"github.com/yarrowlabs/conceptforge-backend/internal/data/graph"
	"github.com/yarrowlabs/conceptforge-backend/internal/extract"
	"github.com/yarrowlabs/conceptforge-backend/internal/gatekeeper"
	"github.com/yarrowlabs/conceptforge-backend/internal/gateway"
	"github.com/yarrowlabs/conceptforge-backend/internal/ontology"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/envutil"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/logger"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/neo4jdb"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/openai"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/qdrant"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/redisdb"
	"github.com/yarrowlabs/conceptforge-backend/internal/relations"
	"github.com/yarrowlabs/conceptforge-backend/internal/runlog"
	"github.com/yarrowlabs/conceptforge-backend/internal/segment"
	"github.com/yarrowlabs/conceptforge-backend/internal/supervisor"
)

func main() {
	_ = godotenv.Load()

	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if envutil.Bool("TRACE_STDOUT", false) {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			log.Warn("trace exporter init failed", "error", err)
		} else {
			tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
			otel.SetTracerProvider(tp)
			defer func() { _ = tp.Shutdown(context.Background()) }()
		}
	}

	// Shared infra. Redis and Neo4j are optional: without them the run
	// degrades to in-process counters, locks and graph storage.
	rdb, err := redisdb.NewFromEnv(log)
	if err != nil {
		log.Fatal("redis init failed", "error", err)
	}

	var counterStore budget.CounterStore
	var lockStore gatekeeper.LockStore
	if rdb != nil {
		counterStore = budget.NewRedisCounterStore(rdb)
		lockStore = gatekeeper.NewRedisLockStore(rdb)
	} else {
		log.Warn("REDIS_ADDR unset, budget counters and promotion locks are process-local")
		counterStore = budget.NewMemoryCounterStore()
		lockStore = gatekeeper.NewMemoryLockStore()
	}

	var store graph.Store
	neoClient, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Fatal("neo4j init failed", "error", err)
	}
	if neoClient != nil {
		defer neoClient.Close(context.Background())
		store, err = graph.NewNeo4jStore(ctx, neoClient, log)
		if err != nil {
			log.Fatal("neo4j store init failed", "error", err)
		}
	} else {
		log.Warn("NEO4J_URI unset, concept graph is process-local and discarded on exit")
		store = graph.NewMemoryStore()
	}

	vectors, err := qdrant.NewVectorStore(log, qdrant.ConfigFromEnv())
	if err != nil {
		log.Fatal("qdrant init failed", "error", err)
	}

	ai, err := openai.NewFromEnv(log)
	if err != nil {
		log.Fatal("openai init failed", "error", err)
	}

	runs, err := runlog.Open(log)
	if err != nil {
		log.Fatal("run log init failed", "error", err)
	}

	ledger := budget.NewLedger(counterStore, log, budget.ConfigFromEnv())
	gw := gateway.New(log, gateway.NewLLMResolver(log, ai), gateway.ConfigFromEnv())
	cache := ontology.NewCache(log, rdb)

	sup := supervisor.New(supervisor.Deps{
		Log:           log,
		Segmenter:     segment.NewLexicalSegmenter(),
		Extractor:     extract.NewExtractor(log),
		Canonicalizer: canonical.New(log, cache, gw, ledger),
		Embedder:      ai,
		Gatekeeper:    gatekeeper.New(log, store, lockStore, gatekeeper.ConfigFromEnv()),
		Relations:     relations.NewExtractor(log, gw, ledger, relations.ConfigFromEnv()),
		Graph:         store,
		Vectors:       vectors,
		Ledger:        ledger,
		RunLog:        runs,
	}, supervisor.ConfigFromEnv())

	docDir := envutil.Str("DOC_DIR", "")
	if len(os.Args) > 1 {
		docDir = os.Args[1]
	}
	if docDir == "" {
		log.Fatal("no document directory: pass it as the first argument or set DOC_DIR")
	}

	tenantID := envutil.Str("WORKER_TENANT_ID", "default")
	docs, err := listDocuments(docDir)
	if err != nil {
		log.Fatal("list documents failed", "dir", docDir, "error", err)
	}
	if len(docs) == 0 {
		log.Info("nothing to process", "dir", docDir)
		return
	}
	log.Info("processing documents", "dir", docDir, "count", len(docs), "tenant_id", tenantID)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(envutil.Int("WORKER_CONCURRENCY", 4))
	start := time.Now()

	for _, path := range docs {
		path := path
		g.Go(func() error {
			raw, err := os.ReadFile(path)
			if err != nil {
				log.Error("read document failed", "path", path, "error", err)
				return nil
			}
			docID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			run := sup.Run(gctx, tenantID, docID, string(raw))
			log.Info("document processed",
				"document_id", docID,
				"final_state", run.CurrentState,
				"topics", run.TopicCount,
				"mentions", run.MentionCount,
				"promoted", run.ConceptsPromoted,
				"relations", run.RelationsWritten,
				"held", run.RelationsHeld,
				"fallbacks", run.FallbacksReturned,
				"cost", run.AccumulatedCost,
				"errors", len(run.Errors),
			)
			return nil
		})
	}
	_ = g.Wait()

	log.Info("worker finished", "documents", len(docs), "elapsed", time.Since(start))
}

func listDocuments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".txt", ".md":
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}
