package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/fitsync/fitsync/internal/cache"
	"github.com/fitsync/fitsync/internal/circuitbreaker"
	"github.com/fitsync/fitsync/internal/config"
	"github.com/fitsync/fitsync/internal/credentials"
	"github.com/fitsync/fitsync/internal/queue"
	"github.com/fitsync/fitsync/internal/ratelimit"
	"github.com/fitsync/fitsync/internal/repository"
	"github.com/fitsync/fitsync/internal/service"
	"github.com/fitsync/fitsync/internal/storage"
	"github.com/fitsync/fitsync/internal/upstream"
	"github.com/fitsync/fitsync/internal/worker"
	"github.com/joho/godotenv"
)

func main() {
	// Load env if it exists
	godotenv.Load()

	cfg, err := config.Load("config.json")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	redis, err := storage.NewRedis(
		cfg.Redis.GetRedisAddr(),
		cfg.Redis.Password,
		cfg.Redis.DB,
	)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()

	postgres, err := storage.NewPostgres(cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer postgres.Close()

	if err := postgres.AutoMigrate(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	jobQueue := queue.New(redis, queue.Config{
		MaxAttempts: cfg.Worker.MaxAttempts,
		BackoffBase: cfg.Worker.BackoffBase(),
		FailedCap:   cfg.Worker.FailedSinkCap,
	})

	governor := ratelimit.NewGovernor(redis, cfg.TierLimit, cfg.Upstream.FifteenMinLimit, cfg.Upstream.DailyLimit)
	complianceCache := cache.NewComplianceCache(redis, cfg.Cache.RawStreamTTL(), cfg.Cache.ComplianceCeiling())
	creds := credentials.NewRedisStore(redis)

	breaker := circuitbreaker.New(circuitbreaker.Config{})
	client := upstream.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.Timeout(), breaker)

	summaryRepo := repository.NewSummaryRepository(postgres)
	tierService := service.NewTierService(repository.NewTierRepository(postgres), cfg.LowestTier())

	drainer := worker.NewDrainer(jobQueue, governor, client, creds, tierService, summaryRepo, complianceCache, worker.Config{
		MaxBatch:    cfg.Worker.MaxBatch,
		CallsPerJob: cfg.Worker.CallsPerJob,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Starting drain worker, interval %s", cfg.Worker.Interval())
	drainer.Run(ctx, cfg.Worker.Interval())

	log.Println("Worker exited")
}
