package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/ingest-worker/internal/chunker"
	"github.com/cuongbtq/ingest-worker/internal/config"
	"github.com/cuongbtq/ingest-worker/internal/parser"
	"github.com/cuongbtq/ingest-worker/internal/queue"
	"github.com/cuongbtq/ingest-worker/internal/status"
	"github.com/cuongbtq/ingest-worker/internal/worker"
	"github.com/cuongbtq/ingest-worker/shared/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	configPath := flag.String("config", defaultConfigPath, "Path to optional configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	appLogger, err := logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Resolve the parser variant once at startup
	parserVariant, err := parser.New(cfg.Worker.WorkerType)
	if err != nil {
		return fmt.Errorf("failed to resolve parser: %w", err)
	}

	queueClient := queue.NewClient(&queue.Config{
		BaseURL:        cfg.Worker.BaseURL,
		Email:          cfg.Worker.Email,
		Password:       cfg.Worker.Password,
		RequestTimeout: cfg.Worker.RequestTimeout,
	}, appLogger.Logger)

	// Instance identity: the leaser ID claims jobs; the uuid suffix keeps
	// log streams from multiple instances with the same leaser apart.
	instanceID := fmt.Sprintf("%s-%s", cfg.Worker.LeaserID, shortID())

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:        appLogger.Logger,
		Queue:         queueClient,
		Parser:        parserVariant,
		Chunker:       chunker.NewSlidingWindow(),
		LeaserID:      cfg.Worker.LeaserID,
		LeaseDuration: cfg.Worker.LeaseDuration,
		InstanceID:    instanceID,
	})

	appLogger.Info("Starting worker service",
		slog.String("instance_id", instanceID),
		slog.String("base_url", cfg.Worker.BaseURL),
		slog.String("worker_type", cfg.Worker.WorkerType),
	)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start the optional status server
	var statusServer *status.Server
	if cfg.Status.Enabled {
		statusServer = status.NewServer(cfg.Status.Port, &status.Dependencies{
			Logger: appLogger.Logger,
			Worker: workerInstance,
		})
		go func() {
			if err := statusServer.Start(); err != nil {
				appLogger.Error("Status server error",
					slog.Any("error", err),
				)
			}
		}()
	}

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
		cancel()
		<-errChan
	case err := <-errChan:
		// The loop only returns on its own when the initial login failed.
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	}

	if statusServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Warn("Status server shutdown failed",
				slog.Any("error", err),
			)
		}
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// shortID returns the first uuid segment, enough to tell instances apart.
func shortID() string {
	id := uuid.NewString()
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
