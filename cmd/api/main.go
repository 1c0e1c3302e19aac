package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"trade-pipeline-go/internal/config"
	"trade-pipeline-go/internal/database"
	"trade-pipeline-go/internal/lock"
	"trade-pipeline-go/internal/logger"
	"trade-pipeline-go/internal/pipeline"
	"trade-pipeline-go/internal/queue"
	"trade-pipeline-go/internal/store"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Connect to the database
	db, err := database.NewDatabase(&cfg)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}

	// Connect to Redis for the submission lock and the execution queue
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	tradeStore := store.NewTradeStore(db)
	locker := lock.NewRedisLocker(redisClient)
	execQueue := queue.NewRedisQueue(redisClient, log)

	intake := pipeline.NewService(tradeStore, locker, execQueue, &cfg.Pipeline, log)
	retry := pipeline.NewRetryController(tradeStore, execQueue, &cfg.Pipeline, log)

	// Setup HTTP server
	mux := http.NewServeMux()

	// Create a handler that has access to the pipeline components
	apiHandler := NewAPIHandler(log, tradeStore, intake, retry, execQueue)

	// Intake endpoints
	mux.HandleFunc("POST /api/orders", apiHandler.PlaceOrderHandler)
	mux.HandleFunc("GET /api/orders", apiHandler.ListTradesHandler)
	mux.HandleFunc("GET /api/orders/{id}", apiHandler.GetTradeHandler)
	mux.HandleFunc("POST /api/orders/{id}/cancel", apiHandler.CancelHandler)
	mux.HandleFunc("POST /api/orders/{id}/retry", apiHandler.RetryHandler)
	mux.HandleFunc("POST /api/orders/retry-failed", apiHandler.RetryAllHandler)
	mux.HandleFunc("POST /api/orders/expire-stale", apiHandler.ExpireStaleHandler)

	// Queue admin endpoints
	mux.HandleFunc("GET /api/queue/stats", apiHandler.QueueStatsHandler)
	mux.HandleFunc("GET /api/queue/failed", apiHandler.QueueFailedJobsHandler)
	mux.HandleFunc("POST /api/queue/failed/retry", apiHandler.QueueRetryFailedHandler)
	mux.HandleFunc("DELETE /api/queue/failed", apiHandler.QueuePurgeFailedHandler)

	mux.HandleFunc("GET /health", apiHandler.HealthHandler)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Info("Starting API server", zap.String("address", addr))

	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal("API server failed", zap.Error(err))
	}
}
