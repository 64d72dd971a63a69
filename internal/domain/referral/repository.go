package referral

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/taskhub/taskhub-api/internal/pkg/database"
)

const queryTimeout = 3 * time.Second

// graphLockKey guards every write to user_referrals so cycle checks see a stable graph.
const graphLockKey = 7421001

// Repository is user_referrals storage.
type Repository interface {
	// LockGraph takes the transaction-scoped lock that serializes assignments.
	LockGraph(ctx context.Context) error
	Get(ctx context.Context, userID uuid.UUID) (*Referral, error)
	Insert(ctx context.Context, ref *Referral) error
	// Ancestors walks referrer pointers upward from userID, nearest first, at most depth steps.
	Ancestors(ctx context.Context, userID uuid.UUID, depth int) ([]uuid.UUID, error)
	ListInvitees(ctx context.Context, referrerID uuid.UUID, limit int) ([]*Referral, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates new referral repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) LockGraph(ctx context.Context) error {
	ctx, cancel := database.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := database.QuerierFromCtx(ctx, r.db).ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, graphLockKey)
	return err
}

func (r *repository) Get(ctx context.Context, userID uuid.UUID) (*Referral, error) {
	ctx, cancel := database.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var ref Referral
	err := database.QuerierFromCtx(ctx, r.db).GetContext(ctx, &ref, `
		SELECT user_id, referrer_id, created_at FROM user_referrals WHERE user_id = $1
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

func (r *repository) Insert(ctx context.Context, ref *Referral) error {
	ctx, cancel := database.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := database.QuerierFromCtx(ctx, r.db).ExecContext(ctx, `
		INSERT INTO user_referrals (user_id, referrer_id, created_at) VALUES ($1, $2, $3)
	`, ref.UserID, ref.ReferrerID, ref.CreatedAt)
	if database.IsUniqueViolation(err, "user_referrals_pkey") {
		return ErrReferrerAlreadySet
	}
	return err
}

func (r *repository) Ancestors(ctx context.Context, userID uuid.UUID, depth int) ([]uuid.UUID, error) {
	ctx, cancel := database.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var out []uuid.UUID
	err := database.QuerierFromCtx(ctx, r.db).SelectContext(ctx, &out, `
		WITH RECURSIVE chain (user_id, referrer_id, depth) AS (
			SELECT user_id, referrer_id, 1 FROM user_referrals WHERE user_id = $1
			UNION ALL
			SELECT r.user_id, r.referrer_id, c.depth + 1
			FROM user_referrals r
			JOIN chain c ON r.user_id = c.referrer_id
			WHERE c.depth < $2
		)
		SELECT referrer_id FROM chain ORDER BY depth
	`, userID, depth)
	return out, err
}

func (r *repository) ListInvitees(ctx context.Context, referrerID uuid.UUID, limit int) ([]*Referral, error) {
	ctx, cancel := database.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var out []*Referral
	err := database.QuerierFromCtx(ctx, r.db).SelectContext(ctx, &out, `
		SELECT user_id, referrer_id, created_at
		FROM user_referrals
		WHERE referrer_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, referrerID, limit)
	return out, err
}
