// Command review-worker runs automated screenshot reviews off the task queue and
// the periodic sweeps that recover missed checks and audit the ledger.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/taskhub/taskhub-api/internal/config"
	"github.com/taskhub/taskhub-api/internal/domain/pricing"
	"github.com/taskhub/taskhub-api/internal/domain/referral"
	"github.com/taskhub/taskhub-api/internal/domain/review"
	"github.com/taskhub/taskhub-api/internal/domain/submission"
	"github.com/taskhub/taskhub-api/internal/domain/wallet"
	"github.com/taskhub/taskhub-api/internal/pkg/classifier"
	"github.com/taskhub/taskhub-api/internal/pkg/database"
	"github.com/taskhub/taskhub-api/internal/pkg/logger"
)

const (
	sweepTimeout     = 50 * time.Second
	reconcileTimeout = 10 * time.Minute
)

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		Service:     "review-worker",
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to init logger")
	}

	log.Info().
		Int("concurrency", cfg.WorkerConcurrency).
		Str("sweep", cfg.ReviewSweepSpec).
		Msg("Starting review-worker")

	if cfg.ClassifierURL == "" {
		log.Fatal().Msg("CLASSIFIER_URL is not configured")
	}

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(rdb)

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid REDIS_URL")
	}

	txManager := database.NewTxManager(db)
	taskClient := asynq.NewClientFromRedisClient(rdb)

	pricingService := pricing.NewService(pricing.NewRepository(db), txManager, cfg.PricingCacheTTL)
	walletService := wallet.NewService(wallet.NewRepository(db), txManager, pricingService)
	referralService := referral.NewService(referral.NewRepository(db), txManager)
	submissionService := submission.NewService(
		submission.NewRepository(db),
		txManager,
		walletService,
		referralService,
		pricingService,
		submission.Policy{
			BaseDelay:   cfg.ReviewBaseDelay,
			MaxAttempts: cfg.ReviewMaxAttempts,
			ClaimLease:  cfg.ReviewClaimLease,
		},
		cfg.DedupWindow,
	)
	submissionService.SetScheduler(review.NewTaskScheduler(taskClient))
	walletService.OnSettled(submissionService.SettlePaid)

	reviewService := review.NewService(
		submissionService,
		review.NewHTTPClassifier(classifier.NewClient(cfg.ClassifierURL, cfg.ClassifierToken, cfg.ClassifierTimeout)),
		review.Options{
			ClassifyTimeout: cfg.ClassifierTimeout,
			SweepWorkers:    cfg.WorkerConcurrency,
		},
	)

	mux := asynq.NewServeMux()
	reviewService.Register(mux)

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues: map[string]int{
			review.QueueReview: 1,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Error().
				Err(err).
				Str("task_type", task.Type()).
				Bytes("payload", task.Payload()).
				Msg("Review task failed")
		}),
	})
	if err := server.Start(mux); err != nil {
		log.Fatal().Err(err).Msg("Failed to start task server")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobs := cron.New()
	mustSchedule(jobs, cfg.ReviewSweepSpec, "review-sweep", func() {
		ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
		defer cancel()
		stats, err := reviewService.Sweep(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Review sweep failed")
			return
		}
		if stats.Expired+stats.Ran+stats.Failed > 0 {
			log.Info().
				Int("expired", stats.Expired).
				Int("ran", stats.Ran).
				Int("skipped", stats.Skipped).
				Int("failed", stats.Failed).
				Msg("Review sweep done")
		}
	})
	mustSchedule(jobs, cfg.ReconcileSpec, "ledger-audit", func() {
		ctx, cancel := context.WithTimeout(ctx, reconcileTimeout)
		defer cancel()
		drifted, err := walletService.AuditAll(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Ledger audit failed")
			return
		}
		log.Info().Int("drifted", len(drifted)).Msg("Ledger audit done")
	})
	mustSchedule(jobs, "@every 1m", "pricing-cache", func() {
		pricingService.SweepCache()
	})
	jobs.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan
	log.Info().Msg("Shutdown signal received")

	cancel()
	<-jobs.Stop().Done()
	server.Shutdown()

	log.Info().Msg("review-worker stopped")
}

func mustSchedule(c *cron.Cron, spec, name string, fn func()) {
	if _, err := c.AddFunc(spec, fn); err != nil {
		log.Fatal().Err(err).Str("job", name).Str("spec", spec).Msg("Invalid cron spec")
	}
}
