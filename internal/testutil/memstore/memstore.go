// Package memstore is an in-memory implementation of the repositories for
// service tests. Transactions are serialized by one mutex and rolled back by
// restoring a snapshot, which is enough to observe atomicity and ordering.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskhub/taskhub-api/internal/domain/pricing"
	"github.com/taskhub/taskhub-api/internal/domain/referral"
	"github.com/taskhub/taskhub-api/internal/domain/submission"
	"github.com/taskhub/taskhub-api/internal/domain/wallet"
)

type txKey struct{}

type state struct {
	seq int64

	wallets   map[uuid.UUID]wallet.Wallet
	txs       map[uuid.UUID]wallet.Transaction
	txSeq     map[uuid.UUID]int64
	settles   map[uuid.UUID]wallet.Settlement
	allocs    []wallet.Allocation
	subs      map[uuid.UUID]submission.Submission
	subSeq    map[uuid.UUID]int64
	reviews   map[uuid.UUID][]submission.ReviewEntry
	referrals map[uuid.UUID]referral.Referral
	versions  []pricing.Version
}

func newState() *state {
	return &state{
		wallets:   make(map[uuid.UUID]wallet.Wallet),
		txs:       make(map[uuid.UUID]wallet.Transaction),
		txSeq:     make(map[uuid.UUID]int64),
		settles:   make(map[uuid.UUID]wallet.Settlement),
		subs:      make(map[uuid.UUID]submission.Submission),
		subSeq:    make(map[uuid.UUID]int64),
		reviews:   make(map[uuid.UUID][]submission.ReviewEntry),
		referrals: make(map[uuid.UUID]referral.Referral),
	}
}

func (s *state) clone() *state {
	c := newState()
	c.seq = s.seq
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.txs {
		c.txs[k] = cloneTx(v)
	}
	for k, v := range s.txSeq {
		c.txSeq[k] = v
	}
	for k, v := range s.settles {
		c.settles[k] = v
	}
	c.allocs = append([]wallet.Allocation(nil), s.allocs...)
	for k, v := range s.subs {
		c.subs[k] = cloneSub(v)
	}
	for k, v := range s.subSeq {
		c.subSeq[k] = v
	}
	for k, v := range s.reviews {
		c.reviews[k] = append([]submission.ReviewEntry(nil), v...)
	}
	for k, v := range s.referrals {
		c.referrals[k] = v
	}
	c.versions = append([]pricing.Version(nil), s.versions...)
	return c
}

func (s *state) next() int64 {
	s.seq++
	return s.seq
}

// Store holds every table. Use the accessor methods to get repository views.
type Store struct {
	txMu sync.Mutex

	mu    sync.Mutex
	data  *state
	fails map[string]error
	calls map[string]int
}

func New() *Store {
	return &Store{
		data:  newState(),
		fails: make(map[string]error),
		calls: make(map[string]int),
	}
}

// FailOn makes every later call of the named repository method return err.
// A nil err clears the failure.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fails, method)
		return
	}
	s.fails[method] = err
}

// Calls reports how often the named repository method ran.
func (s *Store) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// enter locks the tables and returns the injected failure for method, if any.
// Callers must unlock s.mu.
func (s *Store) enter(method string) error {
	s.mu.Lock()
	s.calls[method]++
	return s.fails[method]
}

// RunInTx serializes fn against every other transaction and restores the
// previous state when fn fails or panics. Nested calls join the outer one.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.restore(snapshot)
			panic(r)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.restore(snapshot)
		return err
	}
	return nil
}

func (s *Store) restore(snapshot *state) {
	s.mu.Lock()
	s.data = snapshot
	s.mu.Unlock()
}

func requireTx(ctx context.Context, method string) error {
	if ctx.Value(txKey{}) == nil {
		return fmt.Errorf("memstore: %s called outside a transaction", method)
	}
	return nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneTx(t wallet.Transaction) wallet.Transaction {
	t.PaidAt = cloneTime(t.PaidAt)
	return t
}

func cloneSub(s submission.Submission) submission.Submission {
	s.Images = append([]submission.Image(nil), s.Images...)
	s.NextCheckAt = cloneTime(s.NextCheckAt)
	s.ClaimedAt = cloneTime(s.ClaimedAt)
	s.Trail = nil
	return s
}
