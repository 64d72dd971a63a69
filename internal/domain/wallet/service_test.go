package wallet_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskhub/taskhub-api/internal/domain/wallet"
	"github.com/taskhub/taskhub-api/internal/testutil/memstore"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

type fixedRate struct {
	version int
	bps     int64
}

func (f fixedRate) ExchangeRate(ctx context.Context) (int, int64, error) {
	return f.version, f.bps, nil
}

// tick returns a clock that advances one second per call so creation order is strict.
func tick() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newTestService(t *testing.T) (*wallet.Service, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	svc := wallet.NewService(store.Wallets(), store, fixedRate{version: 4, bps: 100})
	svc.WithClock(tick())
	return svc, store
}

func credit(t *testing.T, svc *wallet.Service, userID uuid.UUID, amount int64) uuid.UUID {
	t.Helper()
	id, err := svc.Credit(context.Background(), userID, amount, wallet.TypeTaskReward, uuid.NullUUID{}, "")
	require.NoError(t, err)
	return id
}

func requireConsistent(t *testing.T, svc *wallet.Service, userID uuid.UUID) *wallet.Reconciliation {
	t.Helper()
	rec, err := svc.Reconcile(context.Background(), userID)
	require.NoError(t, err)
	assert.Empty(t, rec.Problems())
	return rec
}

// ---------------------------------------------------------------------------
// Credit
// ---------------------------------------------------------------------------

func TestService_Credit_RaisesAccruedAndBalance(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	userID := uuid.New()

	id := credit(t, svc, userID, 120)

	w, err := svc.GetWallet(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(120), w.Accrued)
	assert.Equal(t, int64(0), w.PaidOut)
	assert.Equal(t, int64(120), w.Balance)

	txs := store.Transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, id, txs[0].ID)
	assert.Equal(t, wallet.StatusPending, txs[0].Status)
	requireConsistent(t, svc, userID)
}

func TestService_Credit_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		user   uuid.UUID
		amount int64
		typ    wallet.TransactionType
		want   error
	}{
		{"zero amount", uuid.New(), 0, wallet.TypeTaskReward, wallet.ErrInvalidAmount},
		{"negative amount", uuid.New(), -10, wallet.TypeTaskReward, wallet.ErrInvalidAmount},
		{"settlement kind as type", uuid.New(), 10, wallet.TransactionType(wallet.SettlementWithdrawal), wallet.ErrInvalidTransactionType},
		{"no beneficiary", uuid.Nil, 10, wallet.TypeAdjustment, wallet.ErrInvalidBeneficiary},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newTestService(t)

			_, err := svc.Credit(context.Background(), tt.user, tt.amount, tt.typ, uuid.NullUUID{}, "")

			require.ErrorIs(t, err, tt.want)
			assert.Empty(t, store.Transactions())
		})
	}
}

func TestService_Credit_RollsBackOnFailure(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	userID := uuid.New()
	boom := errors.New("disk full")
	store.FailOn("AdjustTotals", boom)

	_, err := svc.Credit(context.Background(), userID, 50, wallet.TypeTaskReward, uuid.NullUUID{}, "")

	require.ErrorIs(t, err, boom)
	assert.Empty(t, store.Transactions())
	w, err := svc.GetWallet(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.Accrued)
}

func TestService_Credit_RejectsDuplicateSubmissionCredit(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	userID := uuid.New()
	subID := uuid.NullUUID{UUID: uuid.New(), Valid: true}

	_, err := svc.Credit(context.Background(), userID, 10, wallet.TypeTier1Commission, subID, "")
	require.NoError(t, err)
	_, err = svc.Credit(context.Background(), userID, 10, wallet.TypeTier1Commission, subID, "")
	require.ErrorIs(t, err, wallet.ErrDuplicateCredit)

	w, err := svc.GetWallet(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), w.Accrued)
}

func TestService_Credit_ConcurrentCreditsSerialize(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	userID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Credit(context.Background(), userID, 25, wallet.TypeTier2Commission, uuid.NullUUID{}, "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec := requireConsistent(t, svc, userID)
	assert.Equal(t, int64(1000), rec.Accrued)
	assert.Equal(t, int64(1000), rec.Balance)
}

// ---------------------------------------------------------------------------
// MarkPaid
// ---------------------------------------------------------------------------

func TestService_MarkPaid_SkipsAlreadyPaid(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	userID := uuid.New()
	first := credit(t, svc, userID, 300)
	second := credit(t, svc, userID, 200)

	n, err := svc.MarkPaid(context.Background(), []uuid.UUID{first})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = svc.MarkPaid(context.Background(), []uuid.UUID{first, second})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	w, err := svc.GetWallet(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), w.PaidOut)
	assert.Equal(t, int64(0), w.Balance)

	n, err = svc.MarkPaid(context.Background(), []uuid.UUID{first, second, first})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	receipts := store.Settlements()
	require.Len(t, receipts, 2)
	assert.Equal(t, wallet.SettlementWithdrawal, receipts[0].Kind)
	assert.Equal(t, int64(300), receipts[0].Points)
	assert.Equal(t, int64(200), receipts[1].Points)
	assert.Nil(t, receipts[1].PricingVersion)

	txs := store.Transactions()
	require.Len(t, txs, 2)
	for _, tx := range txs {
		assert.Equal(t, wallet.StatusPaid, tx.Status)
		assert.Equal(t, tx.Amount, tx.Allocated)
	}
	assert.Equal(t, receipts[0].ID, txs[0].SettlementID.UUID)
	requireConsistent(t, svc, userID)
}

func TestService_MarkPaid_SecondCallOnlyAdvancesPending(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	userID := uuid.New()
	paid := credit(t, svc, userID, 70)
	pending := credit(t, svc, userID, 30)
	_, err := svc.MarkPaid(context.Background(), []uuid.UUID{paid})
	require.NoError(t, err)

	before, err := svc.GetWallet(context.Background(), userID)
	require.NoError(t, err)

	n, err := svc.MarkPaid(context.Background(), []uuid.UUID{paid, pending})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	after, err := svc.GetWallet(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, before.PaidOut+30, after.PaidOut)
}

func TestService_MarkPaid_IgnoresUnknownAndReceiptIDs(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	userID := uuid.New()
	id := credit(t, svc, userID, 40)
	_, err := svc.MarkPaid(context.Background(), []uuid.UUID{id})
	require.NoError(t, err)

	receipts := store.Settlements()
	require.Len(t, receipts, 1)
	receiptID := receipts[0].ID

	n, err := svc.MarkPaid(context.Background(), []uuid.UUID{uuid.New(), receiptID})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	requireConsistent(t, svc, userID)
}

func TestService_MarkPaid_RunsSettlementHook(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	userID := uuid.New()
	subID := uuid.New()
	id, err := svc.Credit(context.Background(), userID, 90, wallet.TypeTaskReward, uuid.NullUUID{UUID: subID, Valid: true}, "")
	require.NoError(t, err)

	var got []uuid.UUID
	svc.OnSettled(func(ctx context.Context, ids []uuid.UUID) error {
		got = append(got, ids...)
		return nil
	})

	_, err = svc.MarkPaid(context.Background(), []uuid.UUID{id})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{subID}, got)
}

func TestService_MarkPaid_HookFailureRollsBack(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	userID := uuid.New()
	id, err := svc.Credit(context.Background(), userID, 90, wallet.TypeTaskReward, uuid.NullUUID{UUID: uuid.New(), Valid: true}, "")
	require.NoError(t, err)

	boom := errors.New("hook failed")
	svc.OnSettled(func(ctx context.Context, ids []uuid.UUID) error { return boom })

	_, err = svc.MarkPaid(context.Background(), []uuid.UUID{id})
	require.ErrorIs(t, err, boom)

	txs := store.Transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, wallet.StatusPending, txs[0].Status)
	w, err := svc.GetWallet(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.PaidOut)
}

// ---------------------------------------------------------------------------
// ExchangePoints
// ---------------------------------------------------------------------------

func TestService_ExchangePoints_InsufficientPoints(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	userID := uuid.New()
	credit(t, svc, userID, 1000)
	before := len(store.Transactions())

	res, err := svc.ExchangePoints(context.Background(), userID, 1500)

	require.ErrorIs(t, err, wallet.ErrInsufficientPoints)
	assert.Nil(t, res)
	w, err := svc.GetWallet(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), w.Balance)
	assert.Equal(t, int64(0), w.PaidOut)
	assert.Len(t, store.Transactions(), before)
}

func TestService_ExchangePoints_InvalidAmount(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	for _, points := range []int64{0, -1} {
		_, err := svc.ExchangePoints(context.Background(), uuid.New(), points)
		require.ErrorIs(t, err, wallet.ErrInvalidAmount)
	}
}

func TestService_ExchangePoints_AllocatesOldestPendingFirst(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	userID := uuid.New()
	older := credit(t, svc, userID, 300)
	newer := credit(t, svc, userID, 500)

	res, err := svc.ExchangePoints(context.Background(), userID, 400)
	require.NoError(t, err)
	assert.Equal(t, int64(400), res.Points)
	assert.Equal(t, int64(4), res.Amount)
	assert.Equal(t, int64(400), res.NewBalance)
	assert.Equal(t, 4, res.PricingVersion)

	txs := store.Transactions()
	require.Len(t, txs, 2, "an exchange never adds transactions")
	byID := map[uuid.UUID]*wallet.Transaction{txs[0].ID: txs[0], txs[1].ID: txs[1]}

	assert.Equal(t, int64(300), byID[older].Amount)
	assert.Equal(t, int64(300), byID[older].Allocated)
	assert.Equal(t, wallet.StatusPaid, byID[older].Status)
	assert.Equal(t, res.ReceiptID, byID[older].SettlementID.UUID)

	assert.Equal(t, int64(500), byID[newer].Amount)
	assert.Equal(t, int64(100), byID[newer].Allocated)
	assert.Equal(t, int64(400), byID[newer].Remaining())
	assert.Equal(t, wallet.StatusPending, byID[newer].Status)
	assert.False(t, byID[newer].SettlementID.Valid)

	receipts := store.Settlements()
	require.Len(t, receipts, 1)
	assert.Equal(t, res.ReceiptID, receipts[0].ID)
	assert.Equal(t, wallet.SettlementPointExchange, receipts[0].Kind)
	assert.Equal(t, int64(400), receipts[0].Points)
	assert.Equal(t, int64(4), receipts[0].Value)
	require.NotNil(t, receipts[0].PricingVersion)
	assert.Equal(t, 4, *receipts[0].PricingVersion)
	assert.ElementsMatch(t, []wallet.Allocation{
		{SettlementID: res.ReceiptID, TransactionID: older, Amount: 300},
		{SettlementID: res.ReceiptID, TransactionID: newer, Amount: 100},
	}, store.Allocations(res.ReceiptID))

	rec := requireConsistent(t, svc, userID)
	assert.Equal(t, int64(800), rec.Accrued)
	assert.Equal(t, int64(400), rec.PaidOut)
}

func TestService_ExchangePoints_ContinuesPartlyAllocatedRow(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	userID := uuid.New()
	id := credit(t, svc, userID, 500)

	_, err := svc.ExchangePoints(context.Background(), userID, 200)
	require.NoError(t, err)
	res, err := svc.ExchangePoints(context.Background(), userID, 300)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.NewBalance)

	txs := store.Transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, id, txs[0].ID)
	assert.Equal(t, int64(500), txs[0].Amount)
	assert.Equal(t, wallet.StatusPaid, txs[0].Status)
	assert.Equal(t, res.ReceiptID, txs[0].SettlementID.UUID)

	// Paying the closed row again is a no-op.
	n, err := svc.MarkPaid(context.Background(), []uuid.UUID{id})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	requireConsistent(t, svc, userID)
}

func TestService_MarkPaid_PaysOnlyRemainderOfPartlyExchangedRow(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	userID := uuid.New()
	id := credit(t, svc, userID, 500)
	_, err := svc.ExchangePoints(context.Background(), userID, 200)
	require.NoError(t, err)

	n, err := svc.MarkPaid(context.Background(), []uuid.UUID{id})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	w, err := svc.GetWallet(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), w.PaidOut)
	assert.Equal(t, int64(0), w.Balance)

	receipts := store.Settlements()
	require.Len(t, receipts, 2)
	assert.Equal(t, wallet.SettlementWithdrawal, receipts[1].Kind)
	assert.Equal(t, int64(300), receipts[1].Points)
	assert.Equal(t, int64(500), store.Transactions()[0].Amount)
	requireConsistent(t, svc, userID)
}

func TestService_ExchangePoints_ValueOverflowRejected(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	userID := uuid.New()
	credit(t, svc, userID, math.MaxInt64/2)

	_, err := svc.ExchangePoints(context.Background(), userID, math.MaxInt64/2)

	require.ErrorIs(t, err, wallet.ErrAmountTooLarge)
	assert.Empty(t, store.Settlements())
	w, err := svc.GetWallet(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.PaidOut)
	assert.Equal(t, int64(math.MaxInt64/2), w.Balance)
}

func TestService_ExchangePoints_WholeBalance(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	userID := uuid.New()
	credit(t, svc, userID, 250)
	credit(t, svc, userID, 750)

	res, err := svc.ExchangePoints(context.Background(), userID, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.NewBalance)

	_, err = svc.ExchangePoints(context.Background(), userID, 1)
	require.ErrorIs(t, err, wallet.ErrInsufficientPoints)
	requireConsistent(t, svc, userID)
}

func TestService_Ledger_TransactionsSumToAccruedAfterSettlements(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	userID := uuid.New()
	first := credit(t, svc, userID, 500)
	credit(t, svc, userID, 250)
	credit(t, svc, userID, 120)

	_, err := svc.MarkPaid(context.Background(), []uuid.UUID{first})
	require.NoError(t, err)
	_, err = svc.ExchangePoints(context.Background(), userID, 300)
	require.NoError(t, err)

	var sum, paid int64
	for _, tx := range store.Transactions() {
		sum += tx.Amount
		if tx.Status == wallet.StatusPaid {
			paid += tx.Amount
		}
	}
	var settled int64
	for _, st := range store.Settlements() {
		settled += st.Points
	}

	w, err := svc.GetWallet(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, w.Accrued, sum, "every transaction counts towards accrued")
	assert.Equal(t, int64(870), w.Accrued)
	assert.Equal(t, w.PaidOut, settled)
	assert.Equal(t, int64(750), paid)
	assert.Equal(t, int64(800), w.PaidOut)
	requireConsistent(t, svc, userID)
}

// ---------------------------------------------------------------------------
// Listing and audit
// ---------------------------------------------------------------------------

func TestService_ListTransactions_FiltersAndPages(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	alice, bob := uuid.New(), uuid.New()
	for i := 0; i < 5; i++ {
		credit(t, svc, alice, 10)
	}
	credit(t, svc, bob, 10)

	txs, total, err := svc.ListTransactions(context.Background(), &wallet.ListFilter{UserID: &alice, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, txs, 2)

	_, total, err = svc.ListTransactions(context.Background(), &wallet.ListFilter{Status: wallet.StatusPaid})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestService_ListSettlements_NewestFirst(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	userID := uuid.New()
	id := credit(t, svc, userID, 1000)
	_, err := svc.ExchangePoints(context.Background(), userID, 100)
	require.NoError(t, err)
	_, err = svc.MarkPaid(context.Background(), []uuid.UUID{id})
	require.NoError(t, err)

	items, total, err := svc.ListSettlements(context.Background(), userID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, items, 2)
	assert.Equal(t, wallet.SettlementWithdrawal, items[0].Kind)
	assert.Equal(t, int64(900), items[0].Points)
	assert.Equal(t, wallet.SettlementPointExchange, items[1].Kind)

	_, total, err = svc.ListSettlements(context.Background(), uuid.New(), 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestService_AuditAll_ReportsDrift(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	healthy, drifted := uuid.New(), uuid.New()
	credit(t, svc, healthy, 10)
	credit(t, svc, drifted, 10)
	store.SetWallet(wallet.Wallet{UserID: drifted, Accrued: 10, PaidOut: 0, Balance: 25})

	got, err := svc.AuditAll(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, drifted, got[0].UserID)
	assert.Contains(t, got[0].Problems(), "balance != accrued - paid_out")
}
