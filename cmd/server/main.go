package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"loom/internal/capabilities"
	"loom/internal/config"
	"loom/internal/handler"
	"loom/internal/middleware"
	"loom/internal/repository/postgres"
	"loom/internal/service/conversation"
	"loom/internal/service/events"
	"loom/internal/service/importer"
	"loom/internal/service/projector"
	"loom/internal/service/tokens"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	cfg := config.Load()

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.Environment == "dev" {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"table_prefix", cfg.TablePrefix,
	)

	// Create pgx connection pool
	ctx := context.Background()
	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to create connection pool: %v", err)
	}
	defer pool.Close()

	tables := postgres.NewTableNames(cfg.TablePrefix)

	if err := postgres.Migrate(ctx, pool, tables); err != nil {
		log.Fatalf("Failed to migrate schema: %v", err)
	}

	logger.Info("database connected",
		"max_conns", 25,
		"min_conns", 5,
	)

	// Create repositories
	repoConfig := &postgres.RepositoryConfig{
		Pool:   pool,
		Tables: tables,
		Logger: logger,
	}
	eventStore := postgres.NewEventStore(repoConfig)
	projectionStore := postgres.NewProjectionStore(repoConfig)

	// Model capabilities registry
	capabilityRegistry, err := capabilities.NewRegistry()
	if err != nil {
		log.Fatalf("Failed to initialize capability registry: %v", err)
	}

	// Core services
	proj := projector.New(projectionStore, logger)
	rebuilder := projector.NewRebuilder(eventStore, projectionStore, logger)
	eventService := events.NewService(eventStore, proj, cfg.Origin, logger)
	conversationService := conversation.NewService(
		projectionStore,
		capabilityRegistry,
		tokens.NewHeuristic(),
		cfg.DefaultCeiling,
		logger,
	)
	translator := importer.NewTranslator(cfg.Origin, logger)

	// Handlers
	treeHandler := handler.NewTreeHandler(eventService, proj, logger)
	nodeHandler := handler.NewNodeHandler(eventService, projectionStore, logger)
	eventsHandler := handler.NewEventsHandler(eventService, logger)
	contextHandler := handler.NewContextHandler(conversationService, logger)
	importHandler := handler.NewImportHandler(translator, eventService, proj, logger)
	adminHandler := handler.NewAdminHandler(rebuilder, logger)

	logger.Info("services initialized")

	// Create HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", adminHandler.HealthCheck)

	// Tree routes
	mux.HandleFunc("POST /api/trees", treeHandler.CreateTree)
	mux.HandleFunc("GET /api/trees/{id}", treeHandler.GetTree)
	mux.HandleFunc("PATCH /api/trees/{id}", treeHandler.UpdateTree)
	mux.HandleFunc("DELETE /api/trees/{id}", treeHandler.ArchiveTree)
	mux.HandleFunc("GET /api/trees/{id}/nodes", treeHandler.GetNodes)

	// Node routes
	mux.HandleFunc("POST /api/trees/{id}/nodes", nodeHandler.CreateNode)
	mux.HandleFunc("GET /api/nodes/{id}", nodeHandler.GetNode)
	mux.HandleFunc("PUT /api/nodes/{id}/content", nodeHandler.EditNodeContent)
	mux.HandleFunc("DELETE /api/nodes/{id}", nodeHandler.ArchiveNode)

	// Event routes
	mux.HandleFunc("POST /api/trees/{id}/events", eventsHandler.AppendEvent)
	mux.HandleFunc("GET /api/trees/{id}/events", eventsHandler.GetTreeEvents)
	mux.HandleFunc("GET /api/events", eventsHandler.TailEvents)

	// Context assembly
	mux.HandleFunc("POST /api/trees/{id}/context", contextHandler.BuildContext)

	// Import
	mux.HandleFunc("POST /api/import", importHandler.Import)

	// Admin
	mux.HandleFunc("POST /api/admin/rebuild", adminHandler.Rebuild)

	// Build middleware chain (wrapped in reverse order)
	var h http.Handler = mux
	h = middleware.RequestLogger(logger)(h)
	h = middleware.Recovery(logger)(h)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
	})
	h = corsHandler.Handler(h)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
}
