package commission

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskhub/taskhub-api/internal/domain/wallet"
)

func TestCalculateFullChain(t *testing.T) {
	owner, b, c := uuid.New(), uuid.New(), uuid.New()

	credits := Calculate(Input{
		SubmissionID: uuid.New(),
		OwnerID:      owner,
		Rates:        Rates{Price: 100, Tier1: 20, Tier2: 10},
		Chain:        []uuid.UUID{b, c},
	})

	require.Len(t, credits, 3)
	assert.Equal(t, owner, credits[0].UserID)
	assert.Equal(t, int64(100), credits[0].Amount)
	assert.Equal(t, wallet.TypeTaskReward, credits[0].Type)
	assert.Equal(t, b, credits[1].UserID)
	assert.Equal(t, int64(20), credits[1].Amount)
	assert.Equal(t, wallet.TypeTier1Commission, credits[1].Type)
	assert.Equal(t, c, credits[2].UserID)
	assert.Equal(t, int64(10), credits[2].Amount)
	assert.Equal(t, wallet.TypeTier2Commission, credits[2].Type)
	assert.Equal(t, int64(130), Total(credits))
}

func TestCalculateWithoutReferrer(t *testing.T) {
	owner := uuid.New()
	credits := Calculate(Input{OwnerID: owner, Rates: Rates{Price: 100, Tier1: 20, Tier2: 10}})

	require.Len(t, credits, 1)
	assert.Equal(t, owner, credits[0].UserID)
}

func TestCalculateSingleAncestor(t *testing.T) {
	b := uuid.New()
	credits := Calculate(Input{OwnerID: uuid.New(), Rates: Rates{Price: 100, Tier1: 20, Tier2: 10}, Chain: []uuid.UUID{b}})

	require.Len(t, credits, 2)
	assert.Equal(t, wallet.TypeTier1Commission, credits[1].Type)
	assert.Equal(t, b, credits[1].UserID)
}

func TestCalculateIgnoresDeeperAncestors(t *testing.T) {
	chain := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	credits := Calculate(Input{OwnerID: uuid.New(), Rates: Rates{Price: 100, Tier1: 20, Tier2: 10}, Chain: chain})

	require.Len(t, credits, 3)
	for _, c := range credits {
		assert.NotEqual(t, chain[2], c.UserID)
		assert.NotEqual(t, chain[3], c.UserID)
	}
}

func TestCalculateSkipsZeroRates(t *testing.T) {
	credits := Calculate(Input{
		OwnerID: uuid.New(),
		Rates:   Rates{Price: 0, Tier1: 20, Tier2: 0},
		Chain:   []uuid.UUID{uuid.New(), uuid.New()},
	})

	require.Len(t, credits, 1)
	assert.Equal(t, wallet.TypeTier1Commission, credits[0].Type)
	for _, c := range credits {
		assert.Positive(t, c.Amount)
	}
}

func TestRequestsCarrySubmission(t *testing.T) {
	subID := uuid.New()
	reqs := Requests(subID, Calculate(Input{SubmissionID: subID, OwnerID: uuid.New(), Rates: Rates{Price: 5}}))

	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].SubmissionID.Valid)
	assert.Equal(t, subID, reqs[0].SubmissionID.UUID)
	assert.NotEmpty(t, reqs[0].Note)
}
