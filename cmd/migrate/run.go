package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/taskhub/taskhub-api/migrations"
)

func run(ctx context.Context, command string, db *sql.DB) error {
	switch command {
	case "up":
		return migrations.Up(ctx, db)
	case "down":
		p, err := migrations.NewProvider(db)
		if err != nil {
			return err
		}
		res, err := p.Down(ctx)
		if err != nil {
			return err
		}
		log.Info().
			Int64("version", res.Source.Version).
			Str("source", res.Source.Path).
			Dur("took", res.Duration).
			Msg("migration rolled back")
		return nil
	case "status":
		p, err := migrations.NewProvider(db)
		if err != nil {
			return err
		}
		statuses, err := p.Status(ctx)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			ev := log.Info().
				Int64("version", s.Source.Version).
				Str("source", s.Source.Path).
				Str("state", string(s.State))
			if !s.AppliedAt.IsZero() {
				ev = ev.Time("applied_at", s.AppliedAt)
			}
			ev.Msg("migration")
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}
