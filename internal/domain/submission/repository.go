package submission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/taskhub/taskhub-api/internal/pkg/database"
)

const queryTimeout = 3 * time.Second

const submissionColumns = `id, owner_id, account_ref, type, meta, pricing_version, price, tier1_rate, tier2_rate,
	status, attempts, next_check_at, claimed_at, created_at, updated_at`

// Repository is submission storage. The review trail is append-only: there is no
// method that updates or deletes an entry.
type Repository interface {
	Create(ctx context.Context, s *Submission) error
	Get(ctx context.Context, id uuid.UUID) (*Submission, error)
	// GetForUpdate locks the submission row for the rest of the transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Submission, error)
	// LockSettled locks the given submissions that are completed, in id order.
	LockSettled(ctx context.Context, ids []uuid.UUID) ([]*Submission, error)
	Update(ctx context.Context, s *Submission) error
	List(ctx context.Context, filter *ListFilter) ([]*Submission, int, error)

	AppendReview(ctx context.Context, e *ReviewEntry) error
	Trail(ctx context.Context, id uuid.UUID) ([]*ReviewEntry, error)

	// ListDue returns submissions waiting for an automated check whose deadline passed.
	ListDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	// ListStaleClaims returns ai_reviewing submissions claimed before the cutoff.
	ListStaleClaims(ctx context.Context, claimedBefore time.Time, limit int) ([]uuid.UUID, error)
	// FindSettledHashes returns which of hashes already belong to a completed or paid
	// submission of owner created at or after since.
	FindSettledHashes(ctx context.Context, ownerID uuid.UUID, hashes []string, since time.Time) ([]string, error)
	// LockOwner serializes settlement of one owner's submissions until the
	// transaction ends.
	LockOwner(ctx context.Context, ownerID uuid.UUID) error
}

type submissionRow struct {
	ID             uuid.UUID  `db:"id"`
	OwnerID        uuid.UUID  `db:"owner_id"`
	AccountRef     string     `db:"account_ref"`
	Type           Type       `db:"type"`
	Meta           Meta       `db:"meta"`
	PricingVersion int        `db:"pricing_version"`
	Price          int64      `db:"price"`
	Tier1Rate      int64      `db:"tier1_rate"`
	Tier2Rate      int64      `db:"tier2_rate"`
	Status         Status     `db:"status"`
	Attempts       int        `db:"attempts"`
	NextCheckAt    *time.Time `db:"next_check_at"`
	ClaimedAt      *time.Time `db:"claimed_at"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

func (r *submissionRow) toEntity() *Submission {
	return &Submission{
		ID:         r.ID,
		OwnerID:    r.OwnerID,
		AccountRef: r.AccountRef,
		Type:       r.Type,
		Meta:       r.Meta,
		Pricing: PricingSnapshot{
			Version: r.PricingVersion,
			Price:   r.Price,
			Tier1:   r.Tier1Rate,
			Tier2:   r.Tier2Rate,
		},
		Status:      r.Status,
		Attempts:    r.Attempts,
		NextCheckAt: r.NextCheckAt,
		ClaimedAt:   r.ClaimedAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

type imageRow struct {
	SubmissionID uuid.UUID `db:"submission_id"`
	URL          string    `db:"url"`
	Hash         string    `db:"hash"`
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates new submission repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) q(ctx context.Context) database.Querier {
	return database.QuerierFromCtx(ctx, r.db)
}

func (r *repository) Create(ctx context.Context, s *Submission) error {
	ctx, cancel := database.WithTimeout(ctx, queryTimeout)
	defer cancel()

	q := r.q(ctx)
	_, err := q.ExecContext(ctx, `
		INSERT INTO submissions (id, owner_id, account_ref, type, meta, pricing_version, price, tier1_rate, tier2_rate,
			status, attempts, next_check_at, claimed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, s.ID, s.OwnerID, s.AccountRef, s.Type, s.Meta, s.Pricing.Version, s.Pricing.Price, s.Pricing.Tier1, s.Pricing.Tier2,
		s.Status, s.Attempts, s.NextCheckAt, s.ClaimedAt, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}

	for i, img := range s.Images {
		_, err := q.ExecContext(ctx, `
			INSERT INTO submission_images (submission_id, position, url, hash) VALUES ($1, $2, $3, $4)
		`, s.ID, i, img.URL, img.Hash)
		if database.IsUniqueViolation(err, "submission_images_submission_hash_key") {
			return ErrDuplicateImage
		}
		if err != nil {
			return fmt.Errorf("insert submission image: %w", err)
		}
	}
	return nil
}

func (r *repository) get(ctx context.Context, id uuid.UUID, suffix string) (*Submission, error) {
	ctx, cancel := database.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var row submissionRow
	err := r.q(ctx).GetContext(ctx, &row, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`+suffix, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s := row.toEntity()
	if err := r.attachImages(ctx, []*Submission{s}); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*Submission, error) {
	return r.get(ctx, id, "")
}

func (r *repository) GetForUpdate(ctx context.Context, id uuid.UUID) (*Submission, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *repository) LockSettled(ctx context.Context, ids []uuid.UUID) ([]*Submission, error) {
	ctx, cancel := database.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var rows []submissionRow
	err := r.q(ctx).SelectContext(ctx, &rows, `
		SELECT `+submissionColumns+`
		FROM submissions
		WHERE id = ANY($1::uuid[]) AND status = $2
		ORDER BY id
		FOR UPDATE
	`, database.UUIDArray(ids), StatusCompleted)
	if err != nil {
		return nil, err
	}
	out := make([]*Submission, len(rows))
	for i := range rows {
		out[i] = rows[i].toEntity()
	}
	return out, nil
}

func (r *repository) attachImages(ctx context.Context, subs []*Submission) error {
	if len(subs) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(subs))
	byID := make(map[uuid.UUID]*Submission, len(subs))
	for i, s := range subs {
		ids[i] = s.ID
		byID[s.ID] = s
		s.Images = []Image{}
	}

	var rows []imageRow
	err := r.q(ctx).SelectContext(ctx, &rows, `
		SELECT submission_id, url, hash
		FROM submission_images
		WHERE submission_id = ANY($1::uuid[])
		ORDER BY submission_id, position
	`, database.UUIDArray(ids))
	if err != nil {
		return fmt.Errorf("load submission images: %w", err)
	}
	for _, row := range rows {
		s := byID[row.SubmissionID]
		s.Images = append(s.Images, Image{URL: row.URL, Hash: row.Hash})
	}
	return nil
}

func (r *repository) Update(ctx context.Context, s *Submission) error {
	ctx, cancel := database.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.q(ctx).ExecContext(ctx, `
		UPDATE submissions
		SET status = $2, attempts = $3, next_check_at = $4, claimed_at = $5, updated_at = $6
		WHERE id = $1
	`, s.ID, s.Status, s.Attempts, s.NextCheckAt, s.ClaimedAt, s.UpdatedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func applyFilter(b squirrel.SelectBuilder, f *ListFilter) squirrel.SelectBuilder {
	if f.OwnerID != nil {
		b = b.Where(squirrel.Eq{"owner_id": f.OwnerID.String()})
	}
	if len(f.Status) > 0 {
		statuses := make([]string, len(f.Status))
		for i, s := range f.Status {
			statuses[i] = string(s)
		}
		b = b.Where(squirrel.Eq{"status": statuses})
	}
	if f.Type != "" {
		b = b.Where(squirrel.Eq{"type": string(f.Type)})
	}
	return b
}

func (r *repository) List(ctx context.Context, filter *ListFilter) ([]*Submission, int, error) {
	ctx, cancel := database.WithTimeout(ctx, queryTimeout)
	defer cancel()

	countQuery, countArgs, err := applyFilter(database.Builder.Select("COUNT(*)").From("submissions"), filter).ToSql()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := r.q(ctx).GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return nil, 0, err
	}

	query, args, err := applyFilter(database.Builder.Select(submissionColumns).From("submissions"), filter).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(filter.Limit)).
		Offset(uint64(filter.Offset)).
		ToSql()
	if err != nil {
		return nil, 0, err
	}
	var rows []submissionRow
	if err := r.q(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, err
	}

	out := make([]*Submission, len(rows))
	for i := range rows {
		out[i] = rows[i].toEntity()
	}
	if err := r.attachImages(ctx, out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *repository) AppendReview(ctx context.Context, e *ReviewEntry) error {
	ctx, cancel := database.WithTimeout(ctx, queryTimeout)
	defer cancel()

	// Callers hold the submission row lock, so MAX(seq)+1 cannot race.
	return r.q(ctx).QueryRowxContext(ctx, `
		INSERT INTO submission_reviews (submission_id, seq, stage, from_status, to_status, actor_id, actor_role,
			decision, reason, confidence, created_at)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		FROM submission_reviews WHERE submission_id = $1
		RETURNING seq
	`, e.SubmissionID, e.Stage, e.FromStatus, e.ToStatus, e.ActorID, e.ActorRole,
		e.Decision, e.Reason, e.Confidence, e.CreatedAt).Scan(&e.Seq)
}

func (r *repository) Trail(ctx context.Context, id uuid.UUID) ([]*ReviewEntry, error) {
	ctx, cancel := database.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var out []*ReviewEntry
	err := r.q(ctx).SelectContext(ctx, &out, `
		SELECT submission_id, seq, stage, from_status, to_status, actor_id, actor_role, decision, reason, confidence, created_at
		FROM submission_reviews
		WHERE submission_id = $1
		ORDER BY seq
	`, id)
	return out, err
}

func (r *repository) ListDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	ctx, cancel := database.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var out []uuid.UUID
	err := r.q(ctx).SelectContext(ctx, &out, `
		SELECT id FROM submissions
		WHERE status IN ($1, $2) AND next_check_at <= $3
		ORDER BY next_check_at
		LIMIT $4
	`, StatusPending, StatusAIRejected, now, limit)
	return out, err
}

func (r *repository) ListStaleClaims(ctx context.Context, claimedBefore time.Time, limit int) ([]uuid.UUID, error) {
	ctx, cancel := database.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var out []uuid.UUID
	err := r.q(ctx).SelectContext(ctx, &out, `
		SELECT id FROM submissions
		WHERE status = $1 AND claimed_at < $2
		ORDER BY claimed_at
		LIMIT $3
	`, StatusAIReviewing, claimedBefore, limit)
	return out, err
}

func (r *repository) FindSettledHashes(ctx context.Context, ownerID uuid.UUID, hashes []string, since time.Time) ([]string, error) {
	ctx, cancel := database.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var out []string
	err := r.q(ctx).SelectContext(ctx, &out, `
		SELECT DISTINCT i.hash
		FROM submission_images i
		JOIN submissions s ON s.id = i.submission_id
		WHERE s.owner_id = $1
		  AND s.status IN ($2, $3)
		  AND s.created_at >= $4
		  AND i.hash = ANY($5::text[])
	`, ownerID, StatusCompleted, StatusPaid, since, pq.StringArray(hashes))
	return out, err
}

func (r *repository) LockOwner(ctx context.Context, ownerID uuid.UUID) error {
	ctx, cancel := database.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if _, err := r.q(ctx).ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, ownerID.String()); err != nil {
		return fmt.Errorf("lock owner %s: %w", ownerID, err)
	}
	return nil
}
