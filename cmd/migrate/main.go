// Command migrate applies the embedded schema migrations.
//
//	migrate up | down | status
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/taskhub/taskhub-api/internal/config"
	"github.com/taskhub/taskhub-api/internal/pkg/database"
	"github.com/taskhub/taskhub-api/internal/pkg/logger"
)

func main() {
	timeout := flag.Duration("timeout", 5*time.Minute, "overall timeout")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: migrate [-timeout 5m] up|down|status")
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env, Service: "migrate"}); err != nil {
		log.Fatal().Err(err).Msg("Failed to init logger")
	}

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, flag.Arg(0), db.DB); err != nil {
		log.Error().Err(err).Str("command", flag.Arg(0)).Msg("migrate failed")
		cancel()
		database.ClosePostgres(db)
		os.Exit(1)
	}
}
