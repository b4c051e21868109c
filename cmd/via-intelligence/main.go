// Via intelligence backend — serves the chat API, maintains the knowledge
// graph, and runs the background enrichment and correction loops.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/viacanvas/intelligence/pkg/agent"
	"github.com/viacanvas/intelligence/pkg/agent/controller"
	"github.com/viacanvas/intelligence/pkg/api"
	"github.com/viacanvas/intelligence/pkg/bus"
	"github.com/viacanvas/intelligence/pkg/canvas"
	"github.com/viacanvas/intelligence/pkg/category"
	"github.com/viacanvas/intelligence/pkg/cleanup"
	"github.com/viacanvas/intelligence/pkg/config"
	"github.com/viacanvas/intelligence/pkg/correction"
	"github.com/viacanvas/intelligence/pkg/database"
	"github.com/viacanvas/intelligence/pkg/extract"
	"github.com/viacanvas/intelligence/pkg/graph"
	"github.com/viacanvas/intelligence/pkg/knowledge"
	"github.com/viacanvas/intelligence/pkg/llm"
	"github.com/viacanvas/intelligence/pkg/masking"
	"github.com/viacanvas/intelligence/pkg/progress"
	"github.com/viacanvas/intelligence/pkg/queue"
	"github.com/viacanvas/intelligence/pkg/rag"
	"github.com/viacanvas/intelligence/pkg/services"
	"github.com/viacanvas/intelligence/pkg/session"
	syncsvc "github.com/viacanvas/intelligence/pkg/sync"
	"github.com/viacanvas/intelligence/pkg/tools"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	logger := slog.Default()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		logger.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		logger.Info("Loaded environment", "path", envPath)
	}

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		logger.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("Starting via-intelligence",
		"addr", cfg.Server.Addr,
		"config_dir", *configDir,
		"graph_backend", cfg.Graph.Backend)

	// 2. Database (optional). Without one, checkpoints and RAG tracking
	// live in memory and do not survive restarts.
	var dbClient *database.Client
	var checkpoints progress.CheckpointStore
	var ragTracker rag.Tracker
	if cfg.Database.Enabled() {
		dbClient, err = database.NewClient(ctx, cfg.Database, logger)
		if err != nil {
			logger.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbClient.Close()
		checkpoints = progress.NewPostgresStore(dbClient.Pool(), logger)
		ragTracker = rag.NewPostgresTracker(dbClient.Pool(), logger)
	} else {
		logger.Warn("No database configured, running with in-memory stores")
		checkpoints = progress.NewMemoryStore()
		ragTracker = rag.NewMemoryTracker()
	}

	// 3. Event bus
	events := bus.New(logger)
	defer events.Close()

	// 4. Graph backend and knowledge state
	backend, err := graph.New(cfg.Graph, logger)
	if err != nil {
		logger.Error("Failed to create graph backend", "error", err)
		os.Exit(1)
	}
	defer backend.Close()
	if err := backend.Load(ctx); err != nil {
		logger.Error("Failed to load graph snapshot", "error", err)
		os.Exit(1)
	}

	// 5. LLM and embedding clients
	llmClient, err := llm.NewClient(ctx, cfg.LLM, logger)
	if err != nil {
		logger.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}
	defer llmClient.Close()
	embedder, err := llm.NewEmbedder(ctx, cfg.Embedding, logger)
	if err != nil {
		logger.Error("Failed to initialize embedder", "error", err)
		os.Exit(1)
	}

	state := knowledge.NewState(backend, embedder, cfg.Graph, cfg.Thresholds, logger)

	// 6. Canvas client and category system
	canvasClient := canvas.NewClient(cfg.Canvas, logger)

	profiles := category.NewStore(cfg.Classifier.ProfilesPath)
	classifier := category.NewClassifier(llmClient, cfg.Classifier, logger)
	categories := category.NewManager(cfg.Classifier, classifier, profiles, logger)
	if err := categories.Load(); err != nil {
		logger.Error("Failed to load category profiles", "error", err)
		os.Exit(1)
	}

	// 7. RAG, masking, extraction
	ragService := rag.NewService(embedder, ragTracker, cfg.RAG, cfg.Embedding.Model, logger)
	scrubber := masking.NewScrubber(logger)
	builder := extract.NewBuilder(canvasClient, categories, state, embedder, events, cfg.Thresholds, logger)
	extractor, err := extract.NewService(cfg.Extraction, builder, scrubber, llmClient, logger)
	if err != nil {
		logger.Error("Failed to initialize extraction service", "error", err)
		os.Exit(1)
	}

	// 8. Worker pool (before anything that submits operations)
	pool := queue.NewWorkerPool(checkpoints, events, cfg.Queue, cfg.Progress, logger)
	if err := pool.Start(); err != nil {
		logger.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}
	if recovered, err := pool.RecoverOrphans(ctx); err != nil {
		logger.Error("Orphan recovery failed", "error", err)
		// Non-fatal — continue
	} else if recovered > 0 {
		logger.Info("Recovered orphaned operations", "count", recovered)
	}

	// 9. Tool registry and tool sets
	registry := tools.NewRegistry(logger)
	writer := tools.NewCardWriter(canvasClient, events, logger)
	academic := tools.NewAcademicClient(cfg.Research, logger)

	toolSets := []interface{ Register(*tools.Registry) error }{
		tools.NewCanvasTools(canvasClient, logger),
		tools.NewKnowledgeTools(state, categories, writer, canvasClient, embedder, llmClient, pool, cfg.Thresholds, logger),
		tools.NewExtractionTools(extractor, pool, logger),
		tools.NewLearningTools(llmClient, ragService, canvasClient, state, writer, academic, extractor,
			pool, events, cfg.Thresholds, cfg.RAG, logger),
		tools.NewResearchTools(llmClient, ragService, academic, writer, pool, cfg.Research, cfg.RAG, logger),
	}
	for _, ts := range toolSets {
		if err := ts.Register(registry); err != nil {
			logger.Error("Failed to register tools", "error", err)
			os.Exit(1)
		}
	}
	executor := tools.NewExecutor(registry, cfg.Agent, logger)

	// 10. Agents
	ctrl := controller.New(llmClient, cfg.Agent, logger)
	backgroundAgent := agent.NewBackground(llmClient, canvasClient, executor, writer, events, cfg.Thresholds, logger)
	backgroundAgent.Start()
	orchestrator := agent.NewOrchestrator(llmClient, ctrl, registry, executor, backgroundAgent, logger)

	// 11. Maintenance loops
	syncService := syncsvc.NewService(state, categories, ragService, events, logger)
	syncService.Start()

	corrector := correction.NewService(state, categories, cfg.Correction, logger)
	corrector.Start(ctx)

	sessions := session.NewManager()
	janitor := cleanup.NewService(sessions, checkpoints, extractor.Cache(), cfg.Retention, logger)
	janitor.Start(ctx)

	// 12. HTTP server and WebSocket feed
	operations := services.NewOperationService(checkpoints, pool, events, logger)
	feed := api.NewFeed(events, 10*time.Second, logger)
	feed.Start()

	server := api.NewServer(cfg.Server, sessions, orchestrator, operations, extractor,
		events, pool, dbClient, feed, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.Server.Addr)
		if err := server.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	logger.Info("via-intelligence started", "workers", cfg.Queue.WorkerCount)

	// 13. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		logger.Error("Server error triggered shutdown", "error", err)
	}

	// 14. Graceful shutdown. Stop the HTTP surface first so no new work
	// arrives, then drain the pool, then persist state.
	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	feed.Stop()

	backgroundAgent.Stop()
	syncService.Stop()
	corrector.Stop()
	janitor.Stop()

	poolCtx, poolCancel := context.WithTimeout(ctx, cfg.Queue.GracefulShutdownTimeout)
	defer poolCancel()
	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("Worker pool stopped gracefully")
	case <-poolCtx.Done():
		logger.Warn("Shutdown timeout exceeded — incomplete operations will be orphan-recovered")
	}

	if err := state.Persist(ctx); err != nil {
		logger.Error("Failed to persist graph snapshot", "error", err)
	}
	if err := categories.Persist(); err != nil {
		logger.Error("Failed to persist category profiles", "error", err)
	}

	logger.Info("Shutdown complete")
}
