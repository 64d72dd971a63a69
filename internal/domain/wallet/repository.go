package wallet

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

const uniqueSubmissionCredit = "wallet_transactions_submission_credit_key"

const insertColumns = `id, user_id, submission_id, type, amount, status, settlement_id, note, created_at, paid_at`

// transactionColumns reads from wallet_transactions aliased t and derives
// allocated from the allocation rows.
const transactionColumns = `t.id, t.user_id, t.submission_id, t.type, t.amount, t.status, t.settlement_id,
	t.note, t.created_at, t.paid_at,
	COALESCE((SELECT SUM(a.amount) FROM wallet_allocations a WHERE a.transaction_id = t.id), 0) AS allocated`

const settlementColumns = `id, user_id, kind, points, value, pricing_version, note, created_at`

// Repository is the wallet and transaction log storage. Every method runs on the
// transaction carried by ctx when there is one.
type Repository interface {
	// LockWallets creates missing wallet rows and locks all of them FOR UPDATE
	// in ascending user id order.
	LockWallets(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]*Wallet, error)
	GetWallet(ctx context.Context, userID uuid.UUID) (*Wallet, error)
	// AdjustTotals moves accrued and paid_out and recomputes balance in one statement.
	AdjustTotals(ctx context.Context, userID uuid.UUID, accruedDelta, paidOutDelta int64) (*Wallet, error)

	InsertTransaction(ctx context.Context, t *Transaction) error
	GetTransactions(ctx context.Context, ids []uuid.UUID) ([]*Transaction, error)
	LockTransactions(ctx context.Context, ids []uuid.UUID) ([]*Transaction, error)
	// LockPendingAccruals returns the user's pending accruals oldest first, locked.
	LockPendingAccruals(ctx context.Context, userID uuid.UUID) ([]*Transaction, error)
	// MarkTransactionsPaid closes fully allocated pending transactions. It never
	// touches amounts.
	MarkTransactionsPaid(ctx context.Context, ids []uuid.UUID, settlementID uuid.UUID, paidAt time.Time) error
	// InsertSettlement writes a settlement receipt with its allocations.
	InsertSettlement(ctx context.Context, s *Settlement, allocs []Allocation) error
	ListSettlements(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Settlement, int, error)
	ListBySubmission(ctx context.Context, submissionID uuid.UUID) ([]*Transaction, error)
	ListTransactions(ctx context.Context, filter *ListFilter) ([]*Transaction, int, error)

	Reconcile(ctx context.Context, userID uuid.UUID) (*Reconciliation, error)
	ListDrift(ctx context.Context, limit int) ([]*Reconciliation, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates new wallet repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) q(ctx context.Context) database.Querier {
	return database.QuerierFromCtx(ctx, r.db)
}

func expectRows(res sql.Result, want int, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", what, err)
	}
	if int(n) != want {
		return fmt.Errorf("%s: %d of %d rows written: %w", what, n, want, ErrLedgerDrift)
	}
	return nil
}

func (r *repository) LockWallets(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]*Wallet, error) {
	ctx, cancel := database.WithTimeout(ctx, queryTimeout)
	defer cancel()

	ids := database.UUIDArray(userIDs)
	if _, err := r.q(ctx).ExecContext(ctx, `
		INSERT INTO user_wallets (user_id)
		SELECT unnest($1::uuid[])
		ON CONFLICT (user_id) DO NOTHING
	`, ids); err != nil {
		return nil, fmt.Errorf("ensure wallets: %w", err)
	}

	var rows []*Wallet
	if err := r.q(ctx).SelectContext(ctx, &rows, `
		SELECT user_id, accrued, paid_out, balance, updated_at
		FROM user_wallets
		WHERE user_id = ANY($1::uuid[])
		ORDER BY user_id
		FOR UPDATE
	`, ids); err != nil {
		return nil, fmt.Errorf("lock wallets: %w", err)
	}

	out := make(map[uuid.UUID]*Wallet, len(rows))
	for _, w := range rows {
		out[w.UserID] = w
	}
	return out, nil
}

func (r *repository) GetWallet(ctx context.Context, userID uuid.UUID) (*Wallet, error) {
	ctx, cancel := database.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var w Wallet
	err := r.q(ctx).GetContext(ctx, &w, `
		SELECT user_id, accrued, paid_out, balance, updated_at
		FROM user_wallets
		WHERE user_id = $1
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return &Wallet{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *repository) AdjustTotals(ctx context.Context, userID uuid.UUID, accruedDelta, paidOutDelta int64) (*Wallet, error) {
	ctx, cancel := database.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var w Wallet
	err := r.q(ctx).GetContext(ctx, &w, `
		UPDATE user_wallets
		SET accrued = accrued + $2,
		    paid_out = paid_out + $3,
		    balance = (accrued + $2) - (paid_out + $3),
		    updated_at = now()
		WHERE user_id = $1
		RETURNING user_id, accrued, paid_out, balance, updated_at
	`, userID, accruedDelta, paidOutDelta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("adjust wallet %s: wallet row missing", userID)
	}
	if err != nil {
		if database.IsCheckViolation(err) {
			return nil, fmt.Errorf("adjust wallet %s: %w", userID, ErrLedgerDrift)
		}
		return nil, fmt.Errorf("adjust wallet %s: %w", userID, err)
	}
	return &w, nil
}

func (r *repository) InsertTransaction(ctx context.Context, t *Transaction) error {
	ctx, cancel := database.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.q(ctx).ExecContext(ctx, `
		INSERT INTO wallet_transactions (`+insertColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, t.ID, t.UserID, t.SubmissionID, string(t.Type), t.Amount, string(t.Status),
		t.SettlementID, t.Note, t.CreatedAt, t.PaidAt)
	if err != nil {
		if database.IsUniqueViolation(err, uniqueSubmissionCredit) {
			return ErrDuplicateCredit
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (r *repository) GetTransactions(ctx context.Context, ids []uuid.UUID) ([]*Transaction, error) {
	return r.selectByIDs(ctx, ids, "")
}

func (r *repository) LockTransactions(ctx context.Context, ids []uuid.UUID) ([]*Transaction, error) {
	return r.selectByIDs(ctx, ids, "FOR UPDATE OF t")
}

func (r *repository) selectByIDs(ctx context.Context, ids []uuid.UUID, suffix string) ([]*Transaction, error) {
	ctx, cancel := database.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var out []*Transaction
	err := r.q(ctx).SelectContext(ctx, &out, `
		SELECT `+transactionColumns+`
		FROM wallet_transactions t
		WHERE t.id = ANY($1::uuid[])
		ORDER BY t.id
		`+suffix, database.UUIDArray(ids))
	return out, err
}

func (r *repository) LockPendingAccruals(ctx context.Context, userID uuid.UUID) ([]*Transaction, error) {
	ctx, cancel := database.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var out []*Transaction
	err := r.q(ctx).SelectContext(ctx, &out, `
		SELECT `+transactionColumns+`
		FROM wallet_transactions t
		WHERE t.user_id = $1 AND t.status = 'pending'
		ORDER BY t.created_at, t.id
		FOR UPDATE OF t
	`, userID)
	return out, err
}

func (r *repository) MarkTransactionsPaid(ctx context.Context, ids []uuid.UUID, settlementID uuid.UUID, paidAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := database.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.q(ctx).ExecContext(ctx, `
		UPDATE wallet_transactions t
		SET status = 'paid', settlement_id = $2, paid_at = $3
		WHERE t.id = ANY($1::uuid[])
		  AND t.status = 'pending'
		  AND t.amount = (SELECT COALESCE(SUM(a.amount), 0) FROM wallet_allocations a WHERE a.transaction_id = t.id)
	`, database.UUIDArray(ids), settlementID, paidAt)
	if err != nil {
		return fmt.Errorf("mark transactions paid: %w", err)
	}
	return expectRows(res, len(ids), "mark transactions paid")
}

func (r *repository) InsertSettlement(ctx context.Context, s *Settlement, allocs []Allocation) error {
	ctx, cancel := database.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if _, err := r.q(ctx).ExecContext(ctx, `
		INSERT INTO wallet_settlements (`+settlementColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, s.ID, s.UserID, string(s.Kind), s.Points, s.Value, s.PricingVersion, s.Note, s.CreatedAt); err != nil {
		return fmt.Errorf("insert settlement: %w", err)
	}
	if len(allocs) == 0 {
		return nil
	}

	txIDs := make([]uuid.UUID, len(allocs))
	amounts := make([]int64, len(allocs))
	for i, a := range allocs {
		txIDs[i] = a.TransactionID
		amounts[i] = a.Amount
	}
	res, err := r.q(ctx).ExecContext(ctx, `
		INSERT INTO wallet_allocations (settlement_id, transaction_id, amount)
		SELECT $1, unnest($2::uuid[]), unnest($3::bigint[])
	`, s.ID, database.UUIDArray(txIDs), pq.Int64Array(amounts))
	if err != nil {
		return fmt.Errorf("insert allocations: %w", err)
	}
	return expectRows(res, len(allocs), "insert allocations")
}

func (r *repository) ListSettlements(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Settlement, int, error) {
	ctx, cancel := database.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var total int
	if err := r.q(ctx).GetContext(ctx, &total, `SELECT COUNT(*) FROM wallet_settlements WHERE user_id = $1`, userID); err != nil {
		return nil, 0, fmt.Errorf("count settlements: %w", err)
	}

	var out []*Settlement
	err := r.q(ctx).SelectContext(ctx, &out, `
		SELECT `+settlementColumns+`
		FROM wallet_settlements
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list settlements: %w", err)
	}
	return out, total, nil
}

func (r *repository) ListBySubmission(ctx context.Context, submissionID uuid.UUID) ([]*Transaction, error) {
	ctx, cancel := database.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var out []*Transaction
	err := r.q(ctx).SelectContext(ctx, &out, `
		SELECT `+transactionColumns+`
		FROM wallet_transactions t
		WHERE t.submission_id = $1
		ORDER BY t.created_at, t.id
	`, submissionID)
	return out, err
}

func applyFilter(b squirrel.SelectBuilder, f *ListFilter) squirrel.SelectBuilder {
	if f.UserID != nil {
		b = b.Where(squirrel.Eq{"t.user_id": f.UserID.String()})
	}
	if f.SubmissionID != nil {
		b = b.Where(squirrel.Eq{"t.submission_id": f.SubmissionID.String()})
	}
	if f.Type != "" {
		b = b.Where(squirrel.Eq{"t.type": string(f.Type)})
	}
	if f.Status != "" {
		b = b.Where(squirrel.Eq{"t.status": string(f.Status)})
	}
	return b
}

func (r *repository) ListTransactions(ctx context.Context, filter *ListFilter) ([]*Transaction, int, error) {
	ctx, cancel := database.WithTimeout(ctx, queryTimeout)
	defer cancel()

	countSQL, countArgs, err := applyFilter(database.Builder.Select("COUNT(*)").From("wallet_transactions t"), filter).ToSql()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := r.q(ctx).GetContext(ctx, &total, countSQL, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	query, args, err := applyFilter(database.Builder.Select(transactionColumns).From("wallet_transactions t"), filter).
		OrderBy("t.created_at DESC", "t.id").
		Limit(uint64(filter.Limit)).
		Offset(uint64(filter.Offset)).
		ToSql()
	if err != nil {
		return nil, 0, err
	}

	var out []*Transaction
	if err := r.q(ctx).SelectContext(ctx, &out, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	return out, total, nil
}

// reconcileSelect sums every transaction a user has, every allocation and every
// settlement, next to the stored wallet totals.
const reconcileSelect = `
	SELECT w.user_id, w.accrued, w.paid_out, w.balance,
	       COALESCE(t.pending, 0) AS pending_accruals,
	       COALESCE(t.paid, 0) AS paid_accruals,
	       COALESCE(a.allocated, 0) AS allocated,
	       COALESCE(s.points, 0) AS settled_points
	FROM user_wallets w
	LEFT JOIN (
		SELECT user_id,
		       SUM(amount) FILTER (WHERE status = 'pending') AS pending,
		       SUM(amount) FILTER (WHERE status = 'paid') AS paid
		FROM wallet_transactions
		GROUP BY user_id
	) t ON t.user_id = w.user_id
	LEFT JOIN (
		SELECT tx.user_id, SUM(al.amount) AS allocated
		FROM wallet_allocations al
		JOIN wallet_transactions tx ON tx.id = al.transaction_id
		GROUP BY tx.user_id
	) a ON a.user_id = w.user_id
	LEFT JOIN (
		SELECT user_id, SUM(points) AS points
		FROM wallet_settlements
		GROUP BY user_id
	) s ON s.user_id = w.user_id
`

func (r *repository) Reconcile(ctx context.Context, userID uuid.UUID) (*Reconciliation, error) {
	ctx, cancel := database.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var rec Reconciliation
	err := r.q(ctx).GetContext(ctx, &rec, reconcileSelect+`
		WHERE w.user_id = $1
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return &Reconciliation{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *repository) ListDrift(ctx context.Context, limit int) ([]*Reconciliation, error) {
	ctx, cancel := database.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var out []*Reconciliation
	err := r.q(ctx).SelectContext(ctx, &out, `
		SELECT * FROM (`+reconcileSelect+`) r
		WHERE r.balance <> r.accrued - r.paid_out
		   OR r.balance < 0
		   OR r.accrued <> r.pending_accruals + r.paid_accruals
		   OR r.paid_out <> r.settled_points
		   OR r.paid_out <> r.allocated
		   OR r.paid_accruals > r.allocated
		ORDER BY r.user_id
		LIMIT $1
	`, limit)
	return out, err
}
