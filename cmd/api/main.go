package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/jwebster45206/alignment-engine/internal/app"
	"github.com/jwebster45206/alignment-engine/internal/config"
	"github.com/jwebster45206/alignment-engine/internal/handlers"
	"github.com/jwebster45206/alignment-engine/internal/logger"
	"github.com/jwebster45206/alignment-engine/internal/metrics"
	"github.com/jwebster45206/alignment-engine/internal/middleware"
	"github.com/jwebster45206/alignment-engine/internal/session"
	"github.com/jwebster45206/alignment-engine/internal/telemetry"
	"github.com/jwebster45206/alignment-engine/pkg/storage"
)

const sweepInterval = 5 * time.Minute

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg)
	if envErr != nil {
		log.Info("No .env file found, using environment variables")
	}

	log.Info("Starting Alignment Engine API",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"llm_provider", cfg.LLMProvider,
		"model_name", cfg.ModelName,
		"store_backend", cfg.StoreBackend)

	shutdownTracing, err := telemetry.Setup(context.Background(), "alignment-engine", cfg.OTLPEndpoint)
	if err != nil {
		log.Error("Failed to set up tracing", "error", err)
		os.Exit(1)
	}

	storageCtx, storageCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	store, err := app.OpenStore(storageCtx, cfg, log)
	storageCancel()
	if err != nil {
		log.Error("Failed to connect to storage", "error", err, "backend", cfg.StoreBackend)
		os.Exit(1)
	}
	log.Info("Storage ready", "backend", cfg.StoreBackend)

	var recorder session.Recorder
	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
		recorder = m
	}

	// Pulling an Ollama model on first start can take a while.
	initCtx, initCancel := context.WithTimeout(context.Background(), 10*time.Minute)
	opts, err := app.SessionOptions(initCtx, cfg, store, recorder, log)
	initCancel()
	if err != nil {
		log.Error("Failed to initialize game engine", "error", err)
		os.Exit(1)
	}

	var snapshots storage.SnapshotStore
	if cfg.StoreBackend != config.StoreNone {
		snapshots = store
	}
	manager, err := session.NewManager(opts, snapshots, cfg.SessionTTL)
	if err != nil {
		log.Error("Failed to create session manager", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go manager.Run(ctx, sweepInterval)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.Logger(log))
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	if m != nil {
		r.Use(middleware.Metrics(m))
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	r.Method(http.MethodGet, "/health", handlers.NewHealthHandler(store, cfg.StoreBackend, manager, log))
	handlers.NewSessionHandler(manager, cfg.GuestbookLimit, log).RegisterRoutes(r)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
		// Turns wait on the model, so writes are bounded by LLM_TIMEOUT
		// rather than a server-wide deadline.
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("Server is shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	if err := store.Close(); err != nil {
		log.Error("Error closing storage connection", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("Error flushing traces", "error", err)
	}

	log.Info("Server exited")
}
