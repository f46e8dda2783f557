package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/rpattn/easel/internal/api"
	"github.com/rpattn/easel/internal/config"
	"github.com/rpattn/easel/internal/db"
	"github.com/rpattn/easel/internal/export"
	"github.com/rpattn/easel/internal/ingest"
	"github.com/rpattn/easel/internal/middleware"
	"github.com/rpattn/easel/internal/session"
	"github.com/rpattn/easel/internal/storage"
)

func main() {
	configPath := flag.String("config", ".", "directory to look for config.yaml in")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	collab, cleanup, err := openCollaborator(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to open storage backend: %v", err)
	}
	defer cleanup()

	manager := session.NewManager(collab,
		session.WithSceneSaveDelay(cfg.Autosave.SceneSaveDelay),
		session.WithHistorySaveDelay(cfg.Autosave.HistorySaveDelay),
		session.WithPollInterval(cfg.Autosave.PollInterval),
		session.WithHistoryCapacity(cfg.Autosave.HistoryCapacity),
	)

	exportService := export.NewService(manager)
	ingestService := ingest.NewService(manager)

	// Import and export mount on the outer mux so their patterns win over
	// the /api/ prefix route.
	mux := http.NewServeMux()
	mux.Handle("/api/", http.StripPrefix("/api", api.NewHTTPHandler(manager, collab)))
	mux.Handle("POST /api/scenes/{id}/import", ingest.NewHTTPHandler(ingestService))
	mux.Handle("GET /api/scenes/{id}/export", export.NewHTTPHandler(exportService))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	rateLimiter := middleware.NewRateLimiter(50, 100)

	handler := corsHandler.Handler(
		middleware.LoggingMiddleware(
			rateLimiter.Middleware(
				middleware.DataLoaderMiddleware(collab)(mux),
			),
		),
	)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("starting easel server", "addr", cfg.Server.Addr, "backend", cfg.Storage.Backend)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	// Flush pending debounced saves before the storage backend goes away.
	manager.SaveAll(shutdownCtx)
	manager.Close()

	slog.Info("server exited")
}

// openCollaborator builds the configured storage backend. The returned
// cleanup releases backend resources and runs after the manager has closed.
func openCollaborator(ctx context.Context, cfg config.StorageConfig) (storage.Collaborator, func(), error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return storage.NewMemoryCollaborator(), func() {}, nil
	case config.BackendFilesystem:
		collab, err := storage.NewFileCollaborator(cfg.FileDir)
		if err != nil {
			return nil, nil, err
		}
		return collab, func() {}, nil
	case config.BackendSQLite:
		collab, err := storage.NewSQLiteCollaborator(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return collab, closerFor(collab), nil
	case config.BackendPostgres:
		conn, err := db.NewConnection(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		if err := db.RunMigrations(ctx, conn, "./migrations"); err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return storage.NewPostgresCollaborator(conn.Pool), conn.Close, nil
	case config.BackendS3:
		collab, err := storage.NewS3Collaborator(ctx, cfg.S3)
		if err != nil {
			return nil, nil, err
		}
		return collab, func() {}, nil
	case config.BackendRedis:
		collab, err := storage.NewRedisCollaborator(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return collab, closerFor(collab), nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func closerFor(collab storage.Collaborator) func() {
	closer, ok := collab.(io.Closer)
	if !ok {
		return func() {}
	}
	return func() {
		if err := closer.Close(); err != nil {
			slog.Error("failed to close storage backend", "error", err)
		}
	}
}
