// Package review drives automated screenshot review: it claims due submissions,
// asks the classifier outside any lock and commits the verdict.
package review

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/taskhub/taskhub-api/internal/domain/submission"
)

const (
	defaultClassifyTimeout = 20 * time.Second
	defaultSweepBatch      = 100
	defaultSweepWorkers    = 4
)

// Submissions is the part of the submission service the orchestrator drives.
type Submissions interface {
	ClaimForReview(ctx context.Context, id uuid.UUID) (*submission.Submission, error)
	RecordVerdict(ctx context.Context, id uuid.UUID, attempt int, v submission.Verdict) (*submission.Submission, error)
	ExpireClaim(ctx context.Context, id uuid.UUID) (bool, error)
	ListDue(ctx context.Context, limit int) ([]uuid.UUID, error)
	ListStaleClaims(ctx context.Context, limit int) ([]uuid.UUID, error)
}

type Options struct {
	ClassifyTimeout time.Duration
	SweepBatch      int
	SweepWorkers    int
}

type Service struct {
	subs       Submissions
	classifier Classifier
	opts       Options
}

func NewService(subs Submissions, c Classifier, opts Options) *Service {
	if opts.ClassifyTimeout <= 0 {
		opts.ClassifyTimeout = defaultClassifyTimeout
	}
	if opts.SweepBatch <= 0 {
		opts.SweepBatch = defaultSweepBatch
	}
	if opts.SweepWorkers <= 0 {
		opts.SweepWorkers = defaultSweepWorkers
	}
	return &Service{subs: subs, classifier: c, opts: opts}
}

// Run performs one automated review attempt. It returns submission.ErrNotClaimable
// when the submission is not due or no longer awaiting automated review.
func (s *Service) Run(ctx context.Context, id uuid.UUID) (*submission.Submission, error) {
	claimed, err := s.subs.ClaimForReview(ctx, id)
	if err != nil {
		return nil, err
	}
	if claimed.Status != submission.StatusAIReviewing {
		// Attempts were already exhausted; the claim closed it.
		return claimed, nil
	}

	verdict := s.classify(ctx, claimed)

	out, err := s.subs.RecordVerdict(ctx, id, claimed.Attempts, verdict)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("submission_id", id.String()).
		Int("attempt", claimed.Attempts).
		Bool("passed", verdict.Passed).
		Bool("unavailable", verdict.Unavailable).
		Float64("confidence", verdict.Confidence).
		Str("status", string(out.Status)).
		Msg("automated review attempt finished")
	return out, nil
}

func (s *Service) classify(ctx context.Context, sub *submission.Submission) submission.Verdict {
	cctx, cancel := context.WithTimeout(ctx, s.opts.ClassifyTimeout)
	defer cancel()

	v, err := s.classifier.Classify(cctx, sub)
	if err == nil {
		return v
	}
	if !errors.Is(err, ErrClassifierUnavailable) {
		err = errors.Join(ErrClassifierUnavailable, err)
	}
	log.Warn().Err(err).
		Str("submission_id", sub.ID.String()).
		Int("attempt", sub.Attempts).
		Msg("classifier call failed")
	return submission.Verdict{Unavailable: true, Reasons: []string{err.Error()}}
}

// SweepStats counts what one sweep did.
type SweepStats struct {
	Expired int
	Ran     int
	Skipped int
	Failed  int
}

// Sweep recovers work the task queue missed: stale claims are expired and due
// submissions are run. Per-item failures are logged and counted, not returned.
func (s *Service) Sweep(ctx context.Context) (SweepStats, error) {
	var expired, ran, skipped, failed atomic.Int64

	stale, err := s.subs.ListStaleClaims(ctx, s.opts.SweepBatch)
	if err != nil {
		return SweepStats{}, err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.SweepWorkers)
	for _, id := range stale {
		g.Go(func() error {
			ok, err := s.subs.ExpireClaim(gctx, id)
			switch {
			case err != nil:
				failed.Add(1)
				log.Error().Err(err).Str("submission_id", id.String()).Msg("failed to expire review claim")
			case ok:
				expired.Add(1)
			default:
				skipped.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	due, err := s.subs.ListDue(ctx, s.opts.SweepBatch)
	if err != nil {
		return SweepStats{}, err
	}
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(s.opts.SweepWorkers)
	for _, id := range due {
		g.Go(func() error {
			_, err := s.Run(gctx, id)
			switch {
			case err == nil:
				ran.Add(1)
			case isBenign(err):
				skipped.Add(1)
			default:
				failed.Add(1)
				log.Error().Err(err).Str("submission_id", id.String()).Msg("sweep review attempt failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	stats := SweepStats{
		Expired: int(expired.Load()),
		Ran:     int(ran.Load()),
		Skipped: int(skipped.Load()),
		Failed:  int(failed.Load()),
	}
	if stats != (SweepStats{}) {
		log.Info().
			Int("expired", stats.Expired).
			Int("ran", stats.Ran).
			Int("skipped", stats.Skipped).
			Int("failed", stats.Failed).
			Msg("review sweep finished")
	}
	return stats, ctx.Err()
}

// isBenign reports errors that mean another worker got there first.
func isBenign(err error) bool {
	return errors.Is(err, submission.ErrNotClaimable) ||
		errors.Is(err, submission.ErrInvalidStateTransition) ||
		errors.Is(err, submission.ErrNotFound)
}
