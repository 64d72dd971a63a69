package wallet

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	bpsDenominator   = 10000
	driftAuditLimit  = 500
)

// TxManager runs fn inside one database transaction carried by ctx.
type TxManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ExchangeRateProvider returns the exchange rate of the active pricing version,
// in basis points of money per point.
type ExchangeRateProvider interface {
	ExchangeRate(ctx context.Context) (version int, bps int64, err error)
}

// SettlementHook is told, inside the settling transaction, which submissions had
// transactions move to paid.
type SettlementHook func(ctx context.Context, submissionIDs []uuid.UUID) error

type Service struct {
	repo      Repository
	tx        TxManager
	rates     ExchangeRateProvider
	onSettled SettlementHook
	now       func() time.Time
}

func NewService(repo Repository, tx TxManager, rates ExchangeRateProvider) *Service {
	return &Service{repo: repo, tx: tx, rates: rates, now: time.Now}
}

// OnSettled registers the hook run after transactions are paid.
func (s *Service) OnSettled(h SettlementHook) {
	s.onSettled = h
}

// WithClock replaces the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) {
	s.now = now
}

func (s *Service) GetWallet(ctx context.Context, userID uuid.UUID) (*Wallet, error) {
	return s.repo.GetWallet(ctx, userID)
}

// Credit records one pending accrual and returns its id.
func (s *Service) Credit(ctx context.Context, userID uuid.UUID, amount int64, txType TransactionType, sourceSubmissionID uuid.NullUUID, note string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		txs, err := s.ApplyCredits(ctx, []CreditRequest{{
			UserID:       userID,
			Amount:       amount,
			Type:         txType,
			SubmissionID: sourceSubmissionID,
			Note:         note,
		}})
		if err != nil {
			return err
		}
		id = txs[0].ID
		return nil
	})
	return id, err
}

// ApplyCredits writes pending accruals and raises Accrued for every beneficiary.
// It must run inside RunInTx so the credits commit together with the caller's work.
func (s *Service) ApplyCredits(ctx context.Context, reqs []CreditRequest) ([]*Transaction, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	for _, r := range reqs {
		if r.Amount <= 0 {
			return nil, ErrInvalidAmount
		}
		if !r.Type.Valid() {
			return nil, ErrInvalidTransactionType
		}
		if r.UserID == uuid.Nil {
			return nil, ErrInvalidBeneficiary
		}
	}

	users := make([]uuid.UUID, 0, len(reqs))
	for _, r := range reqs {
		users = append(users, r.UserID)
	}
	users = sortedUnique(users)
	if _, err := s.repo.LockWallets(ctx, users); err != nil {
		return nil, err
	}

	now := s.now()
	totals := make(map[uuid.UUID]int64, len(users))
	out := make([]*Transaction, 0, len(reqs))
	for _, r := range reqs {
		t := &Transaction{
			ID:           uuid.New(),
			UserID:       r.UserID,
			SubmissionID: r.SubmissionID,
			Type:         r.Type,
			Amount:       r.Amount,
			Status:       StatusPending,
			Note:         r.Note,
			CreatedAt:    now,
		}
		if err := s.repo.InsertTransaction(ctx, t); err != nil {
			return nil, err
		}
		totals[r.UserID] += r.Amount
		out = append(out, t)
	}

	for _, u := range users {
		if _, err := s.repo.AdjustTotals(ctx, u, totals[u], 0); err != nil {
			return nil, err
		}
	}

	for _, t := range out {
		log.Info().
			Str("transaction_id", t.ID.String()).
			Str("user_id", t.UserID.String()).
			Str("type", string(t.Type)).
			Int64("amount", t.Amount).
			Msg("wallet credit applied")
	}
	return out, nil
}

// MarkPaid settles pending accruals by payout. Already paid or unknown ids are
// skipped. Each beneficiary gets one withdrawal settlement per call covering the
// unsettled remainder of every transaction paid.
func (s *Service) MarkPaid(ctx context.Context, ids []uuid.UUID) (int, error) {
	ids = sortedUnique(ids)
	if len(ids) == 0 {
		return 0, nil
	}

	var paid int
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		paid = 0

		// Wallets are locked before transaction rows, the same order ExchangePoints uses.
		peek, err := s.repo.GetTransactions(ctx, ids)
		if err != nil {
			return err
		}
		var owners []uuid.UUID
		for _, t := range peek {
			if t.Status == StatusPending {
				owners = append(owners, t.UserID)
			}
		}
		if len(owners) == 0 {
			return nil
		}
		owners = sortedUnique(owners)
		if _, err := s.repo.LockWallets(ctx, owners); err != nil {
			return err
		}

		locked, err := s.repo.LockTransactions(ctx, ids)
		if err != nil {
			return err
		}
		byUser := make(map[uuid.UUID][]*Transaction)
		for _, t := range locked {
			if t.Status == StatusPending {
				byUser[t.UserID] = append(byUser[t.UserID], t)
			}
		}

		now := s.now()
		var settled []uuid.UUID
		for _, userID := range owners {
			txs := byUser[userID]
			if len(txs) == 0 {
				continue
			}
			settlementID := uuid.New()
			var sum int64
			allocs := make([]Allocation, 0, len(txs))
			txIDs := make([]uuid.UUID, 0, len(txs))
			for _, t := range txs {
				rest := t.Remaining()
				if rest <= 0 {
					return fmt.Errorf("pending transaction %s has nothing left to pay: %w", t.ID, ErrLedgerDrift)
				}
				sum += rest
				allocs = append(allocs, Allocation{SettlementID: settlementID, TransactionID: t.ID, Amount: rest})
				txIDs = append(txIDs, t.ID)
				if t.SubmissionID.Valid {
					settled = append(settled, t.SubmissionID.UUID)
				}
			}

			receipt := &Settlement{
				ID:        settlementID,
				UserID:    userID,
				Kind:      SettlementWithdrawal,
				Points:    sum,
				Note:      fmt.Sprintf("payout of %d transactions", len(txIDs)),
				CreatedAt: now,
			}
			if err := s.repo.InsertSettlement(ctx, receipt, allocs); err != nil {
				return err
			}
			if err := s.repo.MarkTransactionsPaid(ctx, txIDs, settlementID, now); err != nil {
				return err
			}
			if _, err := s.repo.AdjustTotals(ctx, userID, 0, sum); err != nil {
				return err
			}
			paid += len(txIDs)

			log.Info().
				Str("user_id", userID.String()).
				Str("settlement_id", settlementID.String()).
				Int("transactions", len(txIDs)).
				Int64("amount", sum).
				Msg("wallet payout settled")
		}

		return s.notifySettled(ctx, settled)
	})
	if err != nil {
		return 0, err
	}
	return paid, nil
}

// exchangeValue converts points to money at bps basis points per point.
func exchangeValue(points, bps int64) (int64, error) {
	if bps < 0 {
		return 0, fmt.Errorf("exchange rate %d bps: %w", bps, ErrInvalidAmount)
	}
	if bps > 0 && points > math.MaxInt64/bps {
		return 0, fmt.Errorf("%d points at %d bps: %w", points, bps, ErrAmountTooLarge)
	}
	return points * bps / bpsDenominator, nil
}

// ExchangePoints redeems points against the oldest pending accruals and records a
// point_exchange settlement valued at the active exchange rate. Transactions are
// never split or rewritten: the exchange allocates against their remaining
// amounts and only fully allocated ones turn paid.
func (s *Service) ExchangePoints(ctx context.Context, userID uuid.UUID, points int64) (*ExchangeResult, error) {
	if points <= 0 {
		return nil, ErrInvalidAmount
	}
	version, bps, err := s.rates.ExchangeRate(ctx)
	if err != nil {
		return nil, err
	}
	value, err := exchangeValue(points, bps)
	if err != nil {
		return nil, err
	}

	var result *ExchangeResult
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		wallets, err := s.repo.LockWallets(ctx, []uuid.UUID{userID})
		if err != nil {
			return err
		}
		w, ok := wallets[userID]
		if !ok || points > w.Balance {
			return ErrInsufficientPoints
		}

		pending, err := s.repo.LockPendingAccruals(ctx, userID)
		if err != nil {
			return err
		}

		now := s.now()
		settlementID := uuid.New()
		remaining := points
		var allocs []Allocation
		var closed []uuid.UUID
		var settled []uuid.UUID
		for _, t := range pending {
			if remaining == 0 {
				break
			}
			take := t.Remaining()
			if take <= 0 {
				continue
			}
			if take > remaining {
				take = remaining
			}
			remaining -= take
			allocs = append(allocs, Allocation{SettlementID: settlementID, TransactionID: t.ID, Amount: take})
			if take == t.Remaining() {
				closed = append(closed, t.ID)
				if t.SubmissionID.Valid {
					settled = append(settled, t.SubmissionID.UUID)
				}
			}
		}
		if remaining > 0 {
			return fmt.Errorf("exchange for %s: pending accruals short by %d: %w", userID, remaining, ErrLedgerDrift)
		}

		receipt := &Settlement{
			ID:             settlementID,
			UserID:         userID,
			Kind:           SettlementPointExchange,
			Points:         points,
			Value:          value,
			PricingVersion: &version,
			Note:           fmt.Sprintf("%d points at %d bps (pricing v%d)", points, bps, version),
			CreatedAt:      now,
		}
		if err := s.repo.InsertSettlement(ctx, receipt, allocs); err != nil {
			return err
		}
		if err := s.repo.MarkTransactionsPaid(ctx, closed, settlementID, now); err != nil {
			return err
		}
		updated, err := s.repo.AdjustTotals(ctx, userID, 0, points)
		if err != nil {
			return err
		}

		result = &ExchangeResult{
			Points:         points,
			Amount:         value,
			NewBalance:     updated.Balance,
			ReceiptID:      settlementID,
			PricingVersion: version,
		}
		return s.notifySettled(ctx, settled)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", userID.String()).
		Int64("points", points).
		Int64("amount", result.Amount).
		Int64("balance", result.NewBalance).
		Msg("points exchanged")
	return result, nil
}

func (s *Service) notifySettled(ctx context.Context, submissionIDs []uuid.UUID) error {
	if s.onSettled == nil || len(submissionIDs) == 0 {
		return nil
	}
	return s.onSettled(ctx, sortedUnique(submissionIDs))
}

// TransactionsForSubmission returns the credits a submission produced, as
// written.
func (s *Service) TransactionsForSubmission(ctx context.Context, submissionID uuid.UUID) ([]*Transaction, error) {
	return s.repo.ListBySubmission(ctx, submissionID)
}

// ListTransactions returns one page of the transaction log.
func (s *Service) ListTransactions(ctx context.Context, filter *ListFilter) ([]*Transaction, int, error) {
	if filter == nil {
		filter = &ListFilter{}
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.ListTransactions(ctx, filter)
}

// ListSettlements returns one page of a user's payouts and exchanges, newest first.
func (s *Service) ListSettlements(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Settlement, int, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListSettlements(ctx, userID, limit, offset)
}

// Reconcile audits one wallet against its transactions.
func (s *Service) Reconcile(ctx context.Context, userID uuid.UUID) (*Reconciliation, error) {
	return s.repo.Reconcile(ctx, userID)
}

// AuditAll logs every wallet whose totals disagree with its transaction log.
func (s *Service) AuditAll(ctx context.Context) ([]*Reconciliation, error) {
	drifted, err := s.repo.ListDrift(ctx, driftAuditLimit)
	if err != nil {
		return nil, err
	}
	for _, r := range drifted {
		log.Error().
			Str("user_id", r.UserID.String()).
			Int64("accrued", r.Accrued).
			Int64("paid_out", r.PaidOut).
			Int64("balance", r.Balance).
			Int64("pending_accruals", r.PendingAccruals).
			Int64("paid_accruals", r.PaidAccruals).
			Int64("allocated", r.Allocated).
			Int64("settled_points", r.SettledPoints).
			Strs("problems", r.Problems()).
			Msg("wallet ledger drift")
	}
	return drifted, nil
}

func sortedUnique(ids []uuid.UUID) []uuid.UUID {
	if len(ids) == 0 {
		return nil
	}
	out := make([]uuid.UUID, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}
