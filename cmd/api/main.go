package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/taskhub/taskhub-api/internal/config"
	"github.com/taskhub/taskhub-api/internal/domain/pricing"
	"github.com/taskhub/taskhub-api/internal/domain/referral"
	"github.com/taskhub/taskhub-api/internal/domain/review"
	"github.com/taskhub/taskhub-api/internal/domain/submission"
	"github.com/taskhub/taskhub-api/internal/domain/upload"
	"github.com/taskhub/taskhub-api/internal/domain/wallet"
	"github.com/taskhub/taskhub-api/internal/middleware"
	"github.com/taskhub/taskhub-api/internal/pkg/database"
	"github.com/taskhub/taskhub-api/internal/pkg/imaging"
	"github.com/taskhub/taskhub-api/internal/pkg/jwt"
	"github.com/taskhub/taskhub-api/internal/pkg/logger"
	"github.com/taskhub/taskhub-api/internal/pkg/response"
	"github.com/taskhub/taskhub-api/internal/pkg/storage"
	"github.com/taskhub/taskhub-api/migrations"
)

const cacheSweepSpec = "@every 1m"

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		Service:     "api",
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to init logger")
	}

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting TaskHub API")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	if cfg.AutoMigrate {
		if err := migrations.Up(context.Background(), db.DB); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
	}

	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redisClient)

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTIssuer)
	txManager := database.NewTxManager(db)

	blobStore, err := storage.New(context.Background(), storage.Config{
		Driver:      cfg.StorageDriver,
		S3Endpoint:  cfg.S3Endpoint,
		S3Region:    cfg.S3Region,
		S3Bucket:    cfg.S3Bucket,
		S3AccessKey: cfg.S3AccessKey,
		S3SecretKey: cfg.S3SecretKey,
		S3PublicURL: cfg.S3PublicURL,
		LocalPath:   cfg.LocalStoragePath,
		LocalURL:    cfg.LocalStorageURL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init storage")
	}

	taskClient := asynq.NewClientFromRedisClient(redisClient)

	// ---------- Repositories ----------
	pricingRepo := pricing.NewRepository(db)
	walletRepo := wallet.NewRepository(db)
	referralRepo := referral.NewRepository(db)
	submissionRepo := submission.NewRepository(db)
	uploadRepo := upload.NewRepository(db)

	// ---------- Services ----------
	pricingService := pricing.NewService(pricingRepo, txManager, cfg.PricingCacheTTL)
	walletService := wallet.NewService(walletRepo, txManager, pricingService)
	referralService := referral.NewService(referralRepo, txManager)
	submissionService := submission.NewService(
		submissionRepo,
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
	uploadService := upload.NewService(uploadRepo, blobStore, imaging.NewProcessor(imaging.DefaultConfig()), cfg.MaxUploadBytes)

	// ---------- Handlers ----------
	submissionHandler := submission.NewHandler(submissionService)
	walletHandler := wallet.NewHandler(walletService)
	pricingHandler := pricing.NewHandler(pricingService)
	referralHandler := referral.NewHandler(referralService)
	uploadHandler := upload.NewHandler(uploadService)

	authMiddleware := middleware.Auth(jwtService)
	idempotencyStore := middleware.NewIdempotencyStore(cfg.IdempotencyTTL)

	sweeps := cron.New()
	if _, err := sweeps.AddFunc(cacheSweepSpec, func() {
		n := pricingService.SweepCache() + idempotencyStore.Sweep()
		if n > 0 {
			log.Debug().Int("evicted", n).Msg("Cache sweep")
		}
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule cache sweep")
	}
	sweeps.Start()

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))

	r.Get("/health", healthHandler(map[string]func(context.Context) error{
		"postgres": db.PingContext,
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	}))

	if cfg.StorageDriver == "local" {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(cfg.LocalStoragePath))))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Idempotency(idempotencyStore))

		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			response.OK(w, map[string]string{"message": "pong"})
		})

		r.Mount("/uploads", uploadHandler.Routes(authMiddleware))
		r.Mount("/submissions", submissionHandler.Routes(authMiddleware))
		r.Mount("/wallet", walletHandler.Routes(authMiddleware))
		r.Mount("/finance", walletHandler.FinanceRoutes(authMiddleware))
		r.Mount("/referrals", referralHandler.Routes(authMiddleware))
		r.Mount("/pricing", pricingHandler.Routes(authMiddleware))

		r.Route("/admin", func(r chi.Router) {
			r.Mount("/pricing", pricingHandler.AdminRoutes(authMiddleware))
			r.Mount("/wallets", walletHandler.AdminRoutes(authMiddleware))
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	<-sweeps.Stop().Done()

	log.Info().Msg("Server exited properly")
}

// healthHandler pings every dependency and answers 503 when any of them fails.
func healthHandler(checks map[string]func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := make(map[string]string, len(checks))
		healthy := true
		for name, check := range checks {
			if err := check(ctx); err != nil {
				log.Warn().Err(err).Str("dependency", name).Msg("Health check failed")
				status[name] = "down"
				healthy = false
				continue
			}
			status[name] = "up"
		}

		if !healthy {
			response.ServiceUnavailable(w, status)
			return
		}
		response.OK(w, status)
	}
}
