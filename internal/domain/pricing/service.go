package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/taskhub/taskhub-api/internal/pkg/cache"
)

const currentKey = "current"

// SubmissionTypes every published version must price.
var SubmissionTypes = []string{"lead", "note", "comment"}

type TxManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service serves the active pricing version from a short-lived memo.
type Service struct {
	repo  Repository
	tx    TxManager
	memo  *cache.TTL[string, *Version]
	group singleflight.Group
	now   func() time.Time
}

func NewService(repo Repository, tx TxManager, ttl time.Duration) *Service {
	return &Service{
		repo: repo,
		tx:   tx,
		memo: cache.New[string, *Version](ttl),
		now:  time.Now,
	}
}

// Current returns the newest published version. Concurrent misses share one query.
func (s *Service) Current(ctx context.Context) (*Version, error) {
	if v, ok := s.memo.Get(currentKey); ok {
		return v, nil
	}
	res, err, _ := s.group.Do(currentKey, func() (interface{}, error) {
		v, err := s.repo.Current(ctx)
		if err != nil {
			return nil, err
		}
		s.memo.Set(currentKey, v)
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*Version), nil
}

// ExchangeRate returns the active version number and its exchange rate in basis points.
func (s *Service) ExchangeRate(ctx context.Context) (int, int64, error) {
	v, err := s.Current(ctx)
	if err != nil {
		return 0, 0, err
	}
	return v.Version, v.ExchangeRateBps, nil
}

func (s *Service) List(ctx context.Context, limit int) ([]*Version, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.List(ctx, limit)
}

// Publish stores a new version. Submissions created earlier keep their snapshot.
func (s *Service) Publish(ctx context.Context, actorID uuid.UUID, rates Rates, exchangeRateBps int64, note string) (*Version, error) {
	if exchangeRateBps <= 0 {
		return nil, ErrInvalidExchange
	}
	for _, t := range SubmissionTypes {
		r, ok := rates[t]
		if !ok || r.Price < 0 || r.Tier1 < 0 || r.Tier2 < 0 {
			return nil, fmt.Errorf("%s: %w", t, ErrInvalidRates)
		}
	}

	v := &Version{
		Rates:           rates,
		ExchangeRateBps: exchangeRateBps,
		Note:            note,
		CreatedBy:       uuid.NullUUID{UUID: actorID, Valid: actorID != uuid.Nil},
		CreatedAt:       s.now(),
	}
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return s.repo.Create(ctx, v)
	})
	if err != nil {
		return nil, err
	}
	s.memo.Delete(currentKey)

	log.Info().
		Int("version", v.Version).
		Int64("exchange_rate_bps", v.ExchangeRateBps).
		Str("actor_id", actorID.String()).
		Msg("pricing version published")
	return v, nil
}

// SweepCache drops the expired memo entry.
func (s *Service) SweepCache() int {
	return s.memo.Sweep()
}
