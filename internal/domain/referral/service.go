package referral

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// CommissionDepth is how many ancestors Chain returns.
const CommissionDepth = 2

// maxWalk bounds the cycle check. Chains are shallow in practice; a walk this long
// means the graph is already corrupt and the assignment is refused.
const maxWalk = 1024

const inviteeLimit = 200

type TxManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	repo Repository
	tx   TxManager
	now  func() time.Time
}

func NewService(repo Repository, tx TxManager) *Service {
	return &Service{repo: repo, tx: tx, now: time.Now}
}

// Assign sets userID's referrer once. The graph stays acyclic: the referrer may not
// be userID itself nor any user that has userID among its ancestors.
func (s *Service) Assign(ctx context.Context, userID, referrerID uuid.UUID) (*Referral, error) {
	if userID == referrerID {
		return nil, ErrSelfReferral
	}

	var ref *Referral
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.LockGraph(ctx); err != nil {
			return err
		}

		existing, err := s.repo.Get(ctx, userID)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.ReferrerID == referrerID {
				ref = existing
				return nil
			}
			return ErrReferrerAlreadySet
		}

		ancestors, err := s.repo.Ancestors(ctx, referrerID, maxWalk)
		if err != nil {
			return err
		}
		if len(ancestors) >= maxWalk {
			return ErrReferralCycleDetected
		}
		for _, a := range ancestors {
			if a == userID {
				return ErrReferralCycleDetected
			}
		}

		ref = &Referral{UserID: userID, ReferrerID: referrerID, CreatedAt: s.now()}
		return s.repo.Insert(ctx, ref)
	})
	if err != nil {
		log.Warn().Err(err).
			Str("user_id", userID.String()).
			Str("referrer_id", referrerID.String()).
			Msg("referrer assignment refused")
		return nil, err
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("referrer_id", referrerID.String()).
		Msg("referrer assigned")
	return ref, nil
}

// Chain returns the referrer and the referrer's referrer of userID, nearest first.
// A user without referrer has an empty chain.
func (s *Service) Chain(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return s.repo.Ancestors(ctx, userID, CommissionDepth)
}

// Overview returns the caller's referrer and direct invitees.
func (s *Service) Overview(ctx context.Context, userID uuid.UUID) (*Overview, error) {
	ref, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	invitees, err := s.repo.ListInvitees(ctx, userID, inviteeLimit)
	if err != nil {
		return nil, err
	}
	if invitees == nil {
		invitees = []*Referral{}
	}
	return &Overview{Referrer: ref, Invitees: invitees}, nil
}
