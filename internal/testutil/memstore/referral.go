package memstore

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/taskhub/taskhub-api/internal/domain/referral"
)

// Referrals returns the referral.Repository view of the store.
func (s *Store) Referrals() referral.Repository {
	return &referralRepo{s: s}
}

type referralRepo struct {
	s *Store
}

// LockGraph needs no work: RunInTx already serializes transactions.
func (r *referralRepo) LockGraph(ctx context.Context) error {
	if err := requireTx(ctx, "LockGraph"); err != nil {
		return err
	}
	err := r.s.enter("LockGraph")
	r.s.mu.Unlock()
	return err
}

func (r *referralRepo) Get(ctx context.Context, userID uuid.UUID) (*referral.Referral, error) {
	err := r.s.enter("GetReferral")
	defer r.s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	ref, ok := r.s.data.referrals[userID]
	if !ok {
		return nil, nil
	}
	return &ref, nil
}

func (r *referralRepo) Insert(ctx context.Context, ref *referral.Referral) error {
	err := r.s.enter("InsertReferral")
	defer r.s.mu.Unlock()
	if err != nil {
		return err
	}
	if _, ok := r.s.data.referrals[ref.UserID]; ok {
		return referral.ErrReferrerAlreadySet
	}
	r.s.data.referrals[ref.UserID] = *ref
	return nil
}

func (r *referralRepo) Ancestors(ctx context.Context, userID uuid.UUID, depth int) ([]uuid.UUID, error) {
	err := r.s.enter("Ancestors")
	defer r.s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var out []uuid.UUID
	cur := userID
	for len(out) < depth {
		ref, ok := r.s.data.referrals[cur]
		if !ok {
			break
		}
		out = append(out, ref.ReferrerID)
		cur = ref.ReferrerID
	}
	return out, nil
}

func (r *referralRepo) ListInvitees(ctx context.Context, referrerID uuid.UUID, limit int) ([]*referral.Referral, error) {
	err := r.s.enter("ListInvitees")
	defer r.s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var out []*referral.Referral
	for _, ref := range r.s.data.referrals {
		if ref.ReferrerID == referrerID {
			c := ref
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, 0, limit), nil
}

// SetReferrer stores a referral pointer without any checks. Tests use it to
// build chains, including corrupt ones.
func (s *Store) SetReferrer(userID, referrerID uuid.UUID) {
	s.mu.Lock()
	s.data.referrals[userID] = referral.Referral{UserID: userID, ReferrerID: referrerID}
	s.mu.Unlock()
}
