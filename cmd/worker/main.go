package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"trade-pipeline-go/internal/broker"
	"trade-pipeline-go/internal/config"
	"trade-pipeline-go/internal/database"
	"trade-pipeline-go/internal/logger"
	"trade-pipeline-go/internal/pipeline"
	"trade-pipeline-go/internal/queue"
	"trade-pipeline-go/internal/store"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(&cfg)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Connect to Redis for the execution queue
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	log.Info("Redis connection successful.")

	// Pick the broker adapter
	var brk broker.Broker
	if cfg.Pipeline.DryRun {
		log.Warn("Dry run enabled. Orders will be filled by the simulator.")
		brk = broker.NewSimulator(decimal.NewFromFloat(cfg.Pipeline.SimFillPrice), log)
	} else {
		rest := broker.NewRestClient(&cfg.Broker, log)
		if err := rest.Ping(ctx); err != nil {
			log.Fatal("Failed to connect to brokerage API", zap.Error(err))
		}
		log.Info("Successfully connected to brokerage API.")
		brk = rest
	}

	execQueue := queue.NewRedisQueue(redisClient, log)
	tradeStore := store.NewTradeStore(db)

	// Promote delayed retries onto the ready list.
	go execQueue.RunMover(ctx)

	// Run the execution workers until shutdown.
	worker := pipeline.NewWorker(tradeStore, brk, execQueue, &cfg.Pipeline, log)
	worker.Run(ctx)

	log.Info("Worker has been shut down.")
}
