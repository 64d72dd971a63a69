package memstore

import (
	"context"

	"github.com/taskhub/taskhub-api/internal/domain/pricing"
)

// Pricing returns the pricing.Repository view of the store.
func (s *Store) Pricing() pricing.Repository {
	return &pricingRepo{s: s}
}

type pricingRepo struct {
	s *Store
}

func (r *pricingRepo) Current(ctx context.Context) (*pricing.Version, error) {
	err := r.s.enter("CurrentPricing")
	defer r.s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if len(r.s.data.versions) == 0 {
		return nil, pricing.ErrNoActiveVersion
	}
	v := r.s.data.versions[len(r.s.data.versions)-1]
	return &v, nil
}

func (r *pricingRepo) List(ctx context.Context, limit int) ([]*pricing.Version, error) {
	err := r.s.enter("ListPricing")
	defer r.s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	var out []*pricing.Version
	for i := len(r.s.data.versions) - 1; i >= 0; i-- {
		v := r.s.data.versions[i]
		out = append(out, &v)
	}
	return page(out, 0, limit), nil
}

func (r *pricingRepo) Create(ctx context.Context, v *pricing.Version) error {
	err := r.s.enter("CreatePricing")
	defer r.s.mu.Unlock()
	if err != nil {
		return err
	}
	v.Version = len(r.s.data.versions) + 1
	r.s.data.versions = append(r.s.data.versions, *v)
	return nil
}
