package submission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/taskhub/taskhub-api/internal/domain/commission"
	"github.com/taskhub/taskhub-api/internal/domain/pricing"
	"github.com/taskhub/taskhub-api/internal/domain/role"
	"github.com/taskhub/taskhub-api/internal/domain/wallet"
)

const (
	ReasonMaxAttempts        = "max attempts exceeded"
	ReasonReviewUnavailable  = "automated review unavailable"
	ReasonClassifierRejected = "rejected by automated review"
	ReasonClaimExpired       = "review claim expired"

	defaultListLimit = 20
	maxListLimit     = 100
)

type TxManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Ledger writes and reads the credits a submission produced.
type Ledger interface {
	ApplyCredits(ctx context.Context, reqs []wallet.CreditRequest) ([]*wallet.Transaction, error)
	TransactionsForSubmission(ctx context.Context, submissionID uuid.UUID) ([]*wallet.Transaction, error)
}

// ReferralChain returns the owner's referrer and the referrer's referrer, nearest first.
type ReferralChain interface {
	Chain(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// PricingSource returns the pricing version new submissions snapshot.
type PricingSource interface {
	Current(ctx context.Context) (*pricing.Version, error)
}

// ReviewScheduler queues an automated review check. Scheduling is best effort:
// the sweep picks up anything whose deadline passed without a check.
type ReviewScheduler interface {
	ScheduleReview(ctx context.Context, submissionID uuid.UUID, attempt int, at time.Time) error
}

// SubmitInput is a validated submission request.
type SubmitInput struct {
	OwnerID    uuid.UUID
	AccountRef string
	Type       Type
	Images     []Image
	Meta       Meta
}

// Verdict is the outcome of one automated review attempt.
type Verdict struct {
	Passed     bool
	Confidence float64
	Reasons    []string
	// Unavailable is set when the classifier could not be reached or timed out.
	Unavailable bool
}

type Service struct {
	repo        Repository
	tx          TxManager
	ledger      Ledger
	referrals   ReferralChain
	prices      PricingSource
	scheduler   ReviewScheduler
	policy      Policy
	dedupWindow time.Duration
	now         func() time.Time
}

func NewService(repo Repository, tx TxManager, ledger Ledger, referrals ReferralChain, prices PricingSource, policy Policy, dedupWindow time.Duration) *Service {
	return &Service{
		repo:        repo,
		tx:          tx,
		ledger:      ledger,
		referrals:   referrals,
		prices:      prices,
		policy:      policy,
		dedupWindow: dedupWindow,
		now:         time.Now,
	}
}

// SetScheduler wires the queue that runs automated checks.
func (s *Service) SetScheduler(sch ReviewScheduler) {
	s.scheduler = sch
}

// WithClock replaces the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) {
	s.now = now
}

// Policy returns the retry policy in force.
func (s *Service) Policy() Policy {
	return s.policy
}

func validateInput(in *SubmitInput) error {
	if !in.Type.Valid() {
		return ErrInvalidType
	}
	if len(in.Images) == 0 {
		return ErrNoImages
	}
	seen := make(map[string]bool, len(in.Images))
	for _, img := range in.Images {
		if seen[img.Hash] {
			return ErrDuplicateImage
		}
		seen[img.Hash] = true
	}
	switch in.Type {
	case TypeNote:
		if in.Meta.NoteURL == "" {
			return fmt.Errorf("note_url: %w", ErrMissingMeta)
		}
	case TypeComment:
		if in.Meta.CommentText == "" {
			return fmt.Errorf("comment_text: %w", ErrMissingMeta)
		}
	case TypeLead:
		if in.Meta.LeadName == "" || (in.Meta.LeadPhone == "" && in.Meta.LeadWechat == "") {
			return fmt.Errorf("lead contact: %w", ErrMissingMeta)
		}
	}
	return nil
}

// Submit creates a pending submission with the current pricing frozen on it and
// schedules its first automated check.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*Submission, error) {
	if err := validateInput(&in); err != nil {
		return nil, err
	}

	version, err := s.prices.Current(ctx)
	if err != nil {
		return nil, err
	}
	rate, err := version.RateFor(string(in.Type))
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.checkRewarded(ctx, in.OwnerID, in.Images, now); err != nil {
		return nil, err
	}

	next := NextCheckAt(now, 1, s.policy.BaseDelay)
	sub := &Submission{
		ID:          uuid.New(),
		OwnerID:     in.OwnerID,
		AccountRef:  in.AccountRef,
		Type:        in.Type,
		Images:      in.Images,
		Meta:        in.Meta,
		Pricing:     PricingSnapshot{Version: version.Version, Price: rate.Price, Tier1: rate.Tier1, Tier2: rate.Tier2},
		Status:      StatusPending,
		NextCheckAt: &next,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return s.repo.Create(ctx, sub)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("submission_id", sub.ID.String()).
		Str("owner_id", sub.OwnerID.String()).
		Str("type", string(sub.Type)).
		Int("pricing_version", sub.Pricing.Version).
		Msg("submission created")

	s.schedule(ctx, sub.ID, 1, next)
	return sub, nil
}

// checkRewarded fails with ErrDuplicateSubmission when any image already belongs
// to a completed or paid submission of the owner inside the dedup window.
func (s *Service) checkRewarded(ctx context.Context, ownerID uuid.UUID, images []Image, now time.Time) error {
	hashes := make([]string, len(images))
	for i, img := range images {
		hashes[i] = img.Hash
	}
	dup, err := s.repo.FindSettledHashes(ctx, ownerID, hashes, now.Add(-s.dedupWindow))
	if err != nil {
		return err
	}
	if len(dup) > 0 {
		return fmt.Errorf("image %s: %w", dup[0], ErrDuplicateSubmission)
	}
	return nil
}

func (s *Service) schedule(ctx context.Context, id uuid.UUID, attempt int, at time.Time) {
	if s.scheduler == nil {
		return
	}
	if err := s.scheduler.ScheduleReview(ctx, id, attempt, at); err != nil {
		log.Warn().Err(err).
			Str("submission_id", id.String()).
			Int("attempt", attempt).
			Msg("failed to schedule review, sweep will retry")
	}
}

func isReviewer(r role.Role) bool {
	return r == role.Mentor || r == role.Manager || r == role.Finance || r == role.Admin
}

// Get returns a submission with its trail. Users only see their own.
func (s *Service) Get(ctx context.Context, viewer Actor, id uuid.UUID) (*Submission, error) {
	sub, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isReviewer(viewer.Role) && sub.OwnerID != viewer.ID {
		return nil, ErrNotFound
	}
	trail, err := s.repo.Trail(ctx, id)
	if err != nil {
		return nil, err
	}
	sub.Trail = trail
	return sub, nil
}

// List returns one page of submissions. Users are limited to their own.
func (s *Service) List(ctx context.Context, viewer Actor, filter *ListFilter) ([]*Submission, int, error) {
	if filter == nil {
		filter = &ListFilter{}
	}
	if !isReviewer(viewer.Role) {
		owner := viewer.ID
		filter.OwnerID = &owner
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
	return s.repo.List(ctx, filter)
}

// apply runs Advance and persists the trail entry. The submission row itself is
// written by the caller once all of its transitions are applied.
func (s *Service) apply(ctx context.Context, sub *Submission, t Transition) error {
	from := sub.Status
	entry, err := Advance(sub, t, s.now())
	if err != nil {
		return err
	}
	if err := s.repo.AppendReview(ctx, entry); err != nil {
		return err
	}

	log.Info().
		Str("submission_id", sub.ID.String()).
		Str("from", string(from)).
		Str("to", string(t.To)).
		Str("actor_role", string(t.Actor.Role)).
		Str("decision", string(entry.Decision)).
		Msg("submission transition")
	return nil
}

// MentorReview records the mentor's decision. Approval moves the submission on
// to the manager queue.
func (s *Service) MentorReview(ctx context.Context, actor Actor, id uuid.UUID, decision Decision, comment string) (*Outcome, error) {
	var out *Outcome
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		sub, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		switch decision {
		case DecisionApprove:
			if err := s.apply(ctx, sub, Transition{To: StatusMentorApproved, Actor: actor, Decision: DecisionApprove, Reason: comment}); err != nil {
				return err
			}
			if err := s.apply(ctx, sub, Transition{To: StatusManagerReview, Actor: actor}); err != nil {
				return err
			}
		case DecisionReject:
			if err := s.apply(ctx, sub, Transition{To: StatusMentorRejected, Actor: actor, Decision: DecisionReject, Reason: comment}); err != nil {
				return err
			}
		default:
			return ErrInvalidDecision
		}

		if err := s.repo.Update(ctx, sub); err != nil {
			return err
		}
		out = &Outcome{Submission: sub}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ManagerReview records the manager's decision. Approval is the single point that
// pays out: the submission is completed and every credit is written in the same
// transaction. Approving a submission that is already completed or paid returns
// the credits written the first time.
func (s *Service) ManagerReview(ctx context.Context, actor Actor, id uuid.UUID, decision Decision, comment string) (*Outcome, error) {
	if decision != DecisionApprove && decision != DecisionReject {
		return nil, ErrInvalidDecision
	}

	var out *Outcome
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		sub, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		if decision == DecisionApprove && sub.Status.IsSettled() {
			out, err = s.existingOutcome(ctx, sub)
			return err
		}

		if decision == DecisionReject {
			if err := s.apply(ctx, sub, Transition{To: StatusManagerRejected, Actor: actor, Decision: DecisionReject, Reason: comment}); err != nil {
				return err
			}
			if err := s.repo.Update(ctx, sub); err != nil {
				return err
			}
			out = &Outcome{Submission: sub}
			return nil
		}

		if err := s.apply(ctx, sub, Transition{To: StatusManagerApproved, Actor: actor, Decision: DecisionApprove, Reason: comment}); err != nil {
			return err
		}
		txs, err := s.settle(ctx, sub, actor)
		if err != nil {
			return err
		}
		out = &Outcome{Submission: sub, Transactions: txs}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ProcessFinance completes a manager-approved submission and returns its
// transactions. Already settled submissions return their existing transactions.
func (s *Service) ProcessFinance(ctx context.Context, actor Actor, id uuid.UUID) (*Outcome, error) {
	var out *Outcome
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		sub, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		switch {
		case sub.Status.IsSettled():
			out, err = s.existingOutcome(ctx, sub)
			return err
		case sub.Status == StatusManagerApproved:
			txs, err := s.settle(ctx, sub, actor)
			if err != nil {
				return err
			}
			out = &Outcome{Submission: sub, Transactions: txs}
			return nil
		default:
			return fmt.Errorf("finance processing from %s: %w", sub.Status, ErrInvalidStateTransition)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) existingOutcome(ctx context.Context, sub *Submission) (*Outcome, error) {
	txs, err := s.ledger.TransactionsForSubmission(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("submission_id", sub.ID.String()).
		Str("status", string(sub.Status)).
		Int("transactions", len(txs)).
		Msg("submission already settled, returning existing credits")
	return &Outcome{Submission: sub, Transactions: txs}, nil
}

// settle moves a manager-approved submission to completed and credits the owner
// and up to two referral ancestors at the submission's snapshot rates. Content
// rewarded since the submission was created is refused under the owner lock, so
// two pending copies of the same screenshot cannot both be paid.
func (s *Service) settle(ctx context.Context, sub *Submission, actor Actor) ([]*wallet.Transaction, error) {
	if err := s.repo.LockOwner(ctx, sub.OwnerID); err != nil {
		return nil, err
	}
	if err := s.checkRewarded(ctx, sub.OwnerID, sub.Images, s.now()); err != nil {
		return nil, err
	}

	chain, err := s.referrals.Chain(ctx, sub.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("referral chain: %w", err)
	}

	credits := commission.Calculate(commission.Input{
		SubmissionID: sub.ID,
		OwnerID:      sub.OwnerID,
		Rates: commission.Rates{
			Price: sub.Pricing.Price,
			Tier1: sub.Pricing.Tier1,
			Tier2: sub.Pricing.Tier2,
		},
		Chain: chain,
	})
	txs, err := s.ledger.ApplyCredits(ctx, commission.Requests(sub.ID, credits))
	if err != nil {
		return nil, err
	}

	reason := fmt.Sprintf("%d credits totalling %d", len(credits), commission.Total(credits))
	if err := s.apply(ctx, sub, Transition{To: StatusCompleted, Actor: actor, Reason: reason}); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, sub); err != nil {
		return nil, err
	}
	return txs, nil
}

// SettlePaid moves completed submissions to paid once every one of their credits
// is paid. It runs inside the ledger transaction that paid them.
func (s *Service) SettlePaid(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	subs, err := s.repo.LockSettled(ctx, ids)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		txs, err := s.ledger.TransactionsForSubmission(ctx, sub.ID)
		if err != nil {
			return err
		}
		if len(txs) == 0 || !allPaid(txs) {
			continue
		}
		if err := s.apply(ctx, sub, Transition{To: StatusPaid, Actor: SystemActor, Reason: fmt.Sprintf("%d credits paid", len(txs))}); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, sub); err != nil {
			return err
		}
	}
	return nil
}

func allPaid(txs []*wallet.Transaction) bool {
	for _, t := range txs {
		if t.Status != wallet.StatusPaid {
			return false
		}
	}
	return true
}

// ClaimForReview starts an automated review attempt: it moves a due submission to
// ai_reviewing and consumes one attempt. The returned submission is only in
// ai_reviewing when the caller should go on to classify it.
func (s *Service) ClaimForReview(ctx context.Context, id uuid.UUID) (*Submission, error) {
	var out *Submission
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		sub, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if sub.Status != StatusPending && sub.Status != StatusAIRejected {
			return fmt.Errorf("claim in %s: %w", sub.Status, ErrNotClaimable)
		}
		now := s.now()
		if sub.NextCheckAt != nil && now.Before(*sub.NextCheckAt) {
			return fmt.Errorf("due at %s: %w", sub.NextCheckAt.Format(time.RFC3339), ErrNotClaimable)
		}

		sub.Attempts++
		reason := fmt.Sprintf("automated review attempt %d of %d", sub.Attempts, s.policy.MaxAttempts)
		if err := s.apply(ctx, sub, Transition{To: StatusAIReviewing, Actor: SystemActor, Reason: reason}); err != nil {
			return err
		}
		sub.ClaimedAt = &now
		sub.NextCheckAt = nil

		if sub.Attempts > s.policy.MaxAttempts {
			if err := s.apply(ctx, sub, Transition{To: StatusRejected, Actor: SystemActor, Decision: DecisionReject, Reason: ReasonMaxAttempts}); err != nil {
				return err
			}
			sub.ClaimedAt = nil
		}

		if err := s.repo.Update(ctx, sub); err != nil {
			return err
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecordVerdict commits the result of attempt. A stale attempt, one whose claim
// expired and was taken over, is refused with ErrInvalidStateTransition.
func (s *Service) RecordVerdict(ctx context.Context, id uuid.UUID, attempt int, v Verdict) (*Submission, error) {
	var out *Submission
	var retryAt *time.Time
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		sub, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if sub.Status != StatusAIReviewing || sub.Attempts != attempt {
			return fmt.Errorf("verdict for attempt %d in %s (attempt %d): %w", attempt, sub.Status, sub.Attempts, ErrInvalidStateTransition)
		}
		retryAt, err = s.applyVerdict(ctx, sub, v)
		if err != nil {
			return err
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	if retryAt != nil {
		s.schedule(ctx, id, out.Attempts+1, *retryAt)
	}
	return out, nil
}

// ExpireClaim counts an ai_reviewing claim older than the lease as a failed,
// unavailable attempt. It reports false when the claim is no longer stale.
func (s *Service) ExpireClaim(ctx context.Context, id uuid.UUID) (bool, error) {
	var expired bool
	var retryAt *time.Time
	var attempts int
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		sub, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		cutoff := s.now().Add(-s.policy.ClaimLease)
		if sub.Status != StatusAIReviewing || sub.ClaimedAt == nil || sub.ClaimedAt.After(cutoff) {
			return nil
		}
		retryAt, err = s.applyVerdict(ctx, sub, Verdict{Unavailable: true, Reasons: []string{ReasonClaimExpired}})
		if err != nil {
			return err
		}
		expired = true
		attempts = sub.Attempts
		return nil
	})
	if err != nil {
		return false, err
	}
	if retryAt != nil {
		s.schedule(ctx, id, attempts+1, *retryAt)
	}
	return expired, nil
}

func (s *Service) applyVerdict(ctx context.Context, sub *Submission, v Verdict) (*time.Time, error) {
	sub.ClaimedAt = nil
	var confidence *float64
	if !v.Unavailable {
		c := v.Confidence
		confidence = &c
	}

	if v.Passed && !v.Unavailable {
		reason := strings.Join(v.Reasons, "; ")
		if err := s.apply(ctx, sub, Transition{To: StatusAIApproved, Actor: SystemActor, Decision: DecisionApprove, Reason: reason, Confidence: confidence}); err != nil {
			return nil, err
		}
		if err := s.apply(ctx, sub, Transition{To: StatusMentorReview, Actor: SystemActor}); err != nil {
			return nil, err
		}
		return nil, s.repo.Update(ctx, sub)
	}

	detail := strings.Join(v.Reasons, "; ")
	if detail == "" {
		detail = ReasonClassifierRejected
	}
	if v.Unavailable {
		detail = ReasonReviewUnavailable + ": " + detail
	}

	if sub.Attempts >= s.policy.MaxAttempts {
		reason := ReasonMaxAttempts
		if v.Unavailable {
			reason = ReasonReviewUnavailable
		}
		if err := s.apply(ctx, sub, Transition{To: StatusRejected, Actor: SystemActor, Decision: DecisionReject, Reason: reason, Confidence: confidence}); err != nil {
			return nil, err
		}
		return nil, s.repo.Update(ctx, sub)
	}

	if err := s.apply(ctx, sub, Transition{To: StatusAIRejected, Actor: SystemActor, Decision: DecisionReject, Reason: detail, Confidence: confidence}); err != nil {
		return nil, err
	}
	next := NextCheckAt(sub.CreatedAt, sub.Attempts+1, s.policy.BaseDelay)
	sub.NextCheckAt = &next
	if err := s.repo.Update(ctx, sub); err != nil {
		return nil, err
	}
	return &next, nil
}

// ListDue returns submissions whose automated check deadline has passed.
func (s *Service) ListDue(ctx context.Context, limit int) ([]uuid.UUID, error) {
	return s.repo.ListDue(ctx, s.now(), limit)
}

// ListStaleClaims returns ai_reviewing submissions whose claim outlived the lease.
func (s *Service) ListStaleClaims(ctx context.Context, limit int) ([]uuid.UUID, error) {
	return s.repo.ListStaleClaims(ctx, s.now().Add(-s.policy.ClaimLease), limit)
}
