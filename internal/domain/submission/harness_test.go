package submission_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/taskhub/taskhub-api/internal/domain/pricing"
	"github.com/taskhub/taskhub-api/internal/domain/referral"
	"github.com/taskhub/taskhub-api/internal/domain/role"
	"github.com/taskhub/taskhub-api/internal/domain/submission"
	"github.com/taskhub/taskhub-api/internal/domain/wallet"
	"github.com/taskhub/taskhub-api/internal/testutil/memstore"
)

const baseDelay = 2 * time.Minute

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type scheduled struct {
	id      uuid.UUID
	attempt int
	at      time.Time
}

type schedulerSpy struct {
	mu    sync.Mutex
	calls []scheduled
}

func (s *schedulerSpy) ScheduleReview(ctx context.Context, id uuid.UUID, attempt int, at time.Time) error {
	s.mu.Lock()
	s.calls = append(s.calls, scheduled{id: id, attempt: attempt, at: at})
	s.mu.Unlock()
	return nil
}

func (s *schedulerSpy) last() scheduled {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[len(s.calls)-1]
}

type harness struct {
	store     *memstore.Store
	clock     *clock
	wallets   *wallet.Service
	referrals *referral.Service
	pricing   *pricing.Service
	svc       *submission.Service
	scheduler *schedulerSpy

	mentor  submission.Actor
	manager submission.Actor
	finance submission.Actor
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := memstore.New()
	clk := &clock{t: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}

	prices := pricing.NewService(store.Pricing(), store, time.Minute)
	wallets := wallet.NewService(store.Wallets(), store, prices)
	wallets.WithClock(clk.Now)
	referrals := referral.NewService(store.Referrals(), store)

	svc := submission.NewService(store.Submissions(), store, wallets, referrals, prices, submission.Policy{
		BaseDelay:   baseDelay,
		MaxAttempts: 3,
		ClaimLease:  5 * time.Minute,
	}, 30*24*time.Hour)
	svc.WithClock(clk.Now)
	spy := &schedulerSpy{}
	svc.SetScheduler(spy)
	wallets.OnSettled(svc.SettlePaid)

	h := &harness{
		store:     store,
		clock:     clk,
		wallets:   wallets,
		referrals: referrals,
		pricing:   prices,
		svc:       svc,
		scheduler: spy,
		mentor:    submission.Actor{ID: uuid.New(), Role: role.Mentor},
		manager:   submission.Actor{ID: uuid.New(), Role: role.Manager},
		finance:   submission.Actor{ID: uuid.New(), Role: role.Finance},
	}
	h.publish(t, 500, 50, 25)
	return h
}

func (h *harness) publish(t *testing.T, price, tier1, tier2 int64) {
	t.Helper()
	rate := pricing.Rate{Price: price, Tier1: tier1, Tier2: tier2}
	_, err := h.pricing.Publish(context.Background(), uuid.New(), pricing.Rates{
		"lead": rate, "note": rate, "comment": rate,
	}, 100, "")
	require.NoError(t, err)
}

func hashOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func (h *harness) input(owner uuid.UUID, images ...string) submission.SubmitInput {
	if len(images) == 0 {
		images = []string{fmt.Sprintf("screenshot-%s", uuid.NewString())}
	}
	in := submission.SubmitInput{
		OwnerID:    owner,
		AccountRef: "wx-device-1",
		Type:       submission.TypeNote,
		Meta:       submission.Meta{NoteURL: "https://xhs.example.com/note/1", NoteTitle: "spring"},
	}
	for _, img := range images {
		in.Images = append(in.Images, submission.Image{URL: "https://cdn.example.com/" + img + ".jpg", Hash: hashOf(img)})
	}
	return in
}

func (h *harness) submit(t *testing.T, owner uuid.UUID) *submission.Submission {
	t.Helper()
	sub, err := h.svc.Submit(context.Background(), h.input(owner))
	require.NoError(t, err)
	return sub
}

// runAttempt waits for the attempt deadline, claims it and records v.
func (h *harness) runAttempt(t *testing.T, id uuid.UUID, v submission.Verdict) *submission.Submission {
	t.Helper()
	ctx := context.Background()
	sub, err := h.svc.Get(ctx, h.mentor, id)
	require.NoError(t, err)
	if sub.NextCheckAt != nil && h.clock.Now().Before(*sub.NextCheckAt) {
		h.clock.Advance(sub.NextCheckAt.Sub(h.clock.Now()))
	}

	claimed, err := h.svc.ClaimForReview(ctx, id)
	require.NoError(t, err)
	require.Equal(t, submission.StatusAIReviewing, claimed.Status)

	out, err := h.svc.RecordVerdict(ctx, id, claimed.Attempts, v)
	require.NoError(t, err)
	return out
}

// toManagerReview drives a fresh submission through AI and mentor approval.
func (h *harness) toManagerReview(t *testing.T, owner uuid.UUID) *submission.Submission {
	t.Helper()
	sub := h.submit(t, owner)
	h.runAttempt(t, sub.ID, submission.Verdict{Passed: true, Confidence: 0.93})
	out, err := h.svc.MentorReview(context.Background(), h.mentor, sub.ID, submission.DecisionApprove, "looks genuine")
	require.NoError(t, err)
	require.Equal(t, submission.StatusManagerReview, out.Submission.Status)
	return out.Submission
}

func (h *harness) status(t *testing.T, id uuid.UUID) submission.Status {
	t.Helper()
	sub, err := h.svc.Get(context.Background(), h.manager, id)
	require.NoError(t, err)
	return sub.Status
}

func (h *harness) accruals() []*wallet.Transaction {
	return h.store.Transactions()
}
