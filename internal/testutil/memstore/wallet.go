package memstore

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/taskhub/taskhub-api/internal/domain/wallet"
)

// Wallets returns the wallet.Repository view of the store.
func (s *Store) Wallets() wallet.Repository {
	return &walletRepo{s: s}
}

type walletRepo struct {
	s *Store
}

func (r *walletRepo) LockWallets(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]*wallet.Wallet, error) {
	if err := requireTx(ctx, "LockWallets"); err != nil {
		return nil, err
	}
	err := r.s.enter("LockWallets")
	defer r.s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make(map[uuid.UUID]*wallet.Wallet, len(userIDs))
	for _, id := range userIDs {
		w, ok := r.s.data.wallets[id]
		if !ok {
			w = wallet.Wallet{UserID: id, UpdatedAt: time.Now()}
			r.s.data.wallets[id] = w
		}
		out[id] = &w
	}
	return out, nil
}

func (r *walletRepo) GetWallet(ctx context.Context, userID uuid.UUID) (*wallet.Wallet, error) {
	err := r.s.enter("GetWallet")
	defer r.s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	w, ok := r.s.data.wallets[userID]
	if !ok {
		return &wallet.Wallet{UserID: userID}, nil
	}
	return &w, nil
}

func (r *walletRepo) AdjustTotals(ctx context.Context, userID uuid.UUID, accruedDelta, paidOutDelta int64) (*wallet.Wallet, error) {
	err := r.s.enter("AdjustTotals")
	defer r.s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	w, ok := r.s.data.wallets[userID]
	if !ok {
		return nil, fmt.Errorf("wallet %s not locked: %w", userID, wallet.ErrLedgerDrift)
	}
	w.Accrued += accruedDelta
	w.PaidOut += paidOutDelta
	w.Balance = w.Accrued - w.PaidOut
	if w.Balance < 0 {
		return nil, fmt.Errorf("wallet %s would go negative: %w", userID, wallet.ErrLedgerDrift)
	}
	w.UpdatedAt = time.Now()
	r.s.data.wallets[userID] = w
	return &w, nil
}

func (r *walletRepo) InsertTransaction(ctx context.Context, t *wallet.Transaction) error {
	err := r.s.enter("InsertTransaction")
	defer r.s.mu.Unlock()
	if err != nil {
		return err
	}

	if _, ok := r.s.data.txs[t.ID]; ok {
		return fmt.Errorf("transaction %s exists", t.ID)
	}
	if t.Amount <= 0 || !t.Type.Valid() {
		return fmt.Errorf("transaction %s rejected by table checks", t.ID)
	}
	if t.SubmissionID.Valid {
		for _, other := range r.s.data.txs {
			if other.SubmissionID == t.SubmissionID && other.UserID == t.UserID && other.Type == t.Type {
				return wallet.ErrDuplicateCredit
			}
		}
	}
	stored := cloneTx(*t)
	stored.Allocated = 0
	r.s.data.txs[t.ID] = stored
	r.s.data.txSeq[t.ID] = r.s.data.next()
	return nil
}

// read returns a copy of a stored transaction with Allocated derived from the
// allocation rows, like the SQL select.
func (r *walletRepo) read(t wallet.Transaction) *wallet.Transaction {
	c := cloneTx(t)
	c.Allocated = 0
	for _, a := range r.s.data.allocs {
		if a.TransactionID == t.ID {
			c.Allocated += a.Amount
		}
	}
	return &c
}

func (r *walletRepo) byIDs(ids []uuid.UUID) []*wallet.Transaction {
	out := make([]*wallet.Transaction, 0, len(ids))
	for _, id := range ids {
		if t, ok := r.s.data.txs[id]; ok {
			out = append(out, r.read(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0 })
	return out
}

func (r *walletRepo) GetTransactions(ctx context.Context, ids []uuid.UUID) ([]*wallet.Transaction, error) {
	err := r.s.enter("GetTransactions")
	defer r.s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return r.byIDs(ids), nil
}

func (r *walletRepo) LockTransactions(ctx context.Context, ids []uuid.UUID) ([]*wallet.Transaction, error) {
	if err := requireTx(ctx, "LockTransactions"); err != nil {
		return nil, err
	}
	err := r.s.enter("LockTransactions")
	defer r.s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return r.byIDs(ids), nil
}

// sorted orders transactions oldest first, insertion order breaking ties.
func (r *walletRepo) sorted(txs []*wallet.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].CreatedAt.Before(txs[j].CreatedAt)
		}
		return r.s.data.txSeq[txs[i].ID] < r.s.data.txSeq[txs[j].ID]
	})
}

func (r *walletRepo) collect(match func(t *wallet.Transaction) bool) []*wallet.Transaction {
	var out []*wallet.Transaction
	for _, t := range r.s.data.txs {
		c := r.read(t)
		if match(c) {
			out = append(out, c)
		}
	}
	r.sorted(out)
	return out
}

func (r *walletRepo) LockPendingAccruals(ctx context.Context, userID uuid.UUID) ([]*wallet.Transaction, error) {
	if err := requireTx(ctx, "LockPendingAccruals"); err != nil {
		return nil, err
	}
	err := r.s.enter("LockPendingAccruals")
	defer r.s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return r.collect(func(t *wallet.Transaction) bool {
		return t.UserID == userID && t.Status == wallet.StatusPending
	}), nil
}

func (r *walletRepo) MarkTransactionsPaid(ctx context.Context, ids []uuid.UUID, settlementID uuid.UUID, paidAt time.Time) error {
	err := r.s.enter("MarkTransactionsPaid")
	defer r.s.mu.Unlock()
	if err != nil {
		return err
	}

	for _, id := range ids {
		t, ok := r.s.data.txs[id]
		if !ok || t.Status != wallet.StatusPending {
			return fmt.Errorf("transaction %s is not pending: %w", id, wallet.ErrLedgerDrift)
		}
		if got := r.read(t); got.Allocated != t.Amount {
			return fmt.Errorf("transaction %s allocated %d of %d: %w", id, got.Allocated, t.Amount, wallet.ErrLedgerDrift)
		}
	}
	for _, id := range ids {
		t := r.s.data.txs[id]
		at := paidAt
		t.Status = wallet.StatusPaid
		t.SettlementID = uuid.NullUUID{UUID: settlementID, Valid: true}
		t.PaidAt = &at
		r.s.data.txs[id] = t
	}
	return nil
}

func (r *walletRepo) InsertSettlement(ctx context.Context, st *wallet.Settlement, allocs []wallet.Allocation) error {
	err := r.s.enter("InsertSettlement")
	defer r.s.mu.Unlock()
	if err != nil {
		return err
	}

	if _, ok := r.s.data.settles[st.ID]; ok {
		return fmt.Errorf("settlement %s exists", st.ID)
	}
	if st.Points <= 0 {
		return fmt.Errorf("settlement %s has no points", st.ID)
	}
	for _, a := range allocs {
		t, ok := r.s.data.txs[a.TransactionID]
		if !ok || a.SettlementID != st.ID || a.Amount <= 0 || t.Status != wallet.StatusPending {
			return fmt.Errorf("allocation of %s rejected: %w", a.TransactionID, wallet.ErrLedgerDrift)
		}
		if r.read(t).Allocated+a.Amount > t.Amount {
			return fmt.Errorf("allocation of %s exceeds its amount: %w", a.TransactionID, wallet.ErrLedgerDrift)
		}
	}
	c := *st
	if st.PricingVersion != nil {
		v := *st.PricingVersion
		c.PricingVersion = &v
	}
	r.s.data.settles[st.ID] = c
	r.s.data.allocs = append(r.s.data.allocs, allocs...)
	return nil
}

func (r *walletRepo) ListSettlements(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*wallet.Settlement, int, error) {
	err := r.s.enter("ListSettlements")
	defer r.s.mu.Unlock()
	if err != nil {
		return nil, 0, err
	}

	var out []*wallet.Settlement
	for _, st := range r.s.data.settles {
		if st.UserID == userID {
			c := st
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return page(out, offset, limit), len(out), nil
}

func (r *walletRepo) ListBySubmission(ctx context.Context, submissionID uuid.UUID) ([]*wallet.Transaction, error) {
	err := r.s.enter("ListBySubmission")
	defer r.s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return r.collect(func(t *wallet.Transaction) bool {
		return t.SubmissionID.Valid && t.SubmissionID.UUID == submissionID
	}), nil
}

func (r *walletRepo) ListTransactions(ctx context.Context, f *wallet.ListFilter) ([]*wallet.Transaction, int, error) {
	err := r.s.enter("ListTransactions")
	defer r.s.mu.Unlock()
	if err != nil {
		return nil, 0, err
	}

	all := r.collect(func(t *wallet.Transaction) bool {
		switch {
		case f.UserID != nil && t.UserID != *f.UserID:
			return false
		case f.SubmissionID != nil && (!t.SubmissionID.Valid || t.SubmissionID.UUID != *f.SubmissionID):
			return false
		case f.Type != "" && t.Type != f.Type:
			return false
		case f.Status != "" && t.Status != f.Status:
			return false
		}
		return true
	})
	// Newest first, like the SQL listing.
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return page(all, f.Offset, f.Limit), len(all), nil
}

func page[T any](all []T, offset, limit int) []T {
	if offset >= len(all) {
		return []T{}
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end]
}

func (r *walletRepo) reconcile(userID uuid.UUID) *wallet.Reconciliation {
	w := r.s.data.wallets[userID]
	rec := &wallet.Reconciliation{UserID: userID, Accrued: w.Accrued, PaidOut: w.PaidOut, Balance: w.Balance}
	for _, t := range r.s.data.txs {
		if t.UserID != userID {
			continue
		}
		if t.Status == wallet.StatusPaid {
			rec.PaidAccruals += t.Amount
		} else {
			rec.PendingAccruals += t.Amount
		}
	}
	for _, a := range r.s.data.allocs {
		if r.s.data.txs[a.TransactionID].UserID == userID {
			rec.Allocated += a.Amount
		}
	}
	for _, st := range r.s.data.settles {
		if st.UserID == userID {
			rec.SettledPoints += st.Points
		}
	}
	return rec
}

func (r *walletRepo) Reconcile(ctx context.Context, userID uuid.UUID) (*wallet.Reconciliation, error) {
	err := r.s.enter("Reconcile")
	defer r.s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return r.reconcile(userID), nil
}

func (r *walletRepo) ListDrift(ctx context.Context, limit int) ([]*wallet.Reconciliation, error) {
	err := r.s.enter("ListDrift")
	defer r.s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var out []*wallet.Reconciliation
	for id := range r.s.data.wallets {
		if rec := r.reconcile(id); !rec.Consistent() {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].UserID[:], out[j].UserID[:]) < 0 })
	return page(out, 0, limit), nil
}

// SetWallet overwrites a wallet row. Tests use it to simulate drift.
func (s *Store) SetWallet(w wallet.Wallet) {
	s.mu.Lock()
	s.data.wallets[w.UserID] = w
	s.mu.Unlock()
}

// Settlements returns every stored settlement oldest first.
func (s *Store) Settlements() []*wallet.Settlement {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*wallet.Settlement, 0, len(s.data.settles))
	for _, st := range s.data.settles {
		c := st
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out
}

// Allocations returns the allocation rows of one settlement.
func (s *Store) Allocations(settlementID uuid.UUID) []wallet.Allocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []wallet.Allocation
	for _, a := range s.data.allocs {
		if a.SettlementID == settlementID {
			out = append(out, a)
		}
	}
	return out
}

// Transactions returns every stored transaction oldest first.
func (s *Store) Transactions() []*wallet.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &walletRepo{s: s}
	return r.collect(func(*wallet.Transaction) bool { return true })
}
