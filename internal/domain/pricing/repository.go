package pricing

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/taskhub/taskhub-api/internal/pkg/database"
)

const queryTimeout = 3 * time.Second

// Repository is pricing_versions storage.
type Repository interface {
	Current(ctx context.Context) (*Version, error)
	List(ctx context.Context, limit int) ([]*Version, error)
	// Create assigns the next version number and stores v.
	Create(ctx context.Context, v *Version) error
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates new pricing repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Current(ctx context.Context) (*Version, error) {
	ctx, cancel := database.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var v Version
	err := database.QuerierFromCtx(ctx, r.db).GetContext(ctx, &v, `
		SELECT version, rates, exchange_rate_bps, note, created_by, created_at
		FROM pricing_versions
		ORDER BY version DESC
		LIMIT 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoActiveVersion
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *repository) List(ctx context.Context, limit int) ([]*Version, error) {
	ctx, cancel := database.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var out []*Version
	err := database.QuerierFromCtx(ctx, r.db).SelectContext(ctx, &out, `
		SELECT version, rates, exchange_rate_bps, note, created_by, created_at
		FROM pricing_versions
		ORDER BY version DESC
		LIMIT $1
	`, limit)
	return out, err
}

func (r *repository) Create(ctx context.Context, v *Version) error {
	ctx, cancel := database.WithTimeout(ctx, queryTimeout)
	defer cancel()

	q := database.QuerierFromCtx(ctx, r.db)
	// Serializes publishers so two admins never race for the same number.
	if _, err := q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext('pricing_versions'))`); err != nil {
		return err
	}
	return q.QueryRowxContext(ctx, `
		INSERT INTO pricing_versions (version, rates, exchange_rate_bps, note, created_by, created_at)
		SELECT COALESCE(MAX(version), 0) + 1, $1, $2, $3, $4, $5 FROM pricing_versions
		RETURNING version
	`, v.Rates, v.ExchangeRateBps, v.Note, v.CreatedBy, v.CreatedAt).Scan(&v.Version)
}
