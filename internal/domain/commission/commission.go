// Package commission turns a completed task and its referral chain into ledger credits.
package commission

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/taskhub/taskhub-api/internal/domain/wallet"
)

// MaxDepth is how many referral ancestors earn a commission.
const MaxDepth = 2

// Rates are the amounts frozen on the submission when it was created.
type Rates struct {
	Price int64
	Tier1 int64
	Tier2 int64
}

// Input describes one completed task.
type Input struct {
	SubmissionID uuid.UUID
	OwnerID      uuid.UUID
	Rates        Rates
	// Chain holds the owner's referrer first, then the referrer's referrer.
	// Entries past MaxDepth are ignored.
	Chain []uuid.UUID
}

// Credit is one amount owed to one beneficiary.
type Credit struct {
	UserID uuid.UUID
	Amount int64
	Type   wallet.TransactionType
	Reason string
}

// Calculate returns the task reward for the owner followed by the tier-1 and
// tier-2 commissions. Zero or negative rates produce no credit.
func Calculate(in Input) []Credit {
	credits := make([]Credit, 0, 1+MaxDepth)

	if in.Rates.Price > 0 {
		credits = append(credits, Credit{
			UserID: in.OwnerID,
			Amount: in.Rates.Price,
			Type:   wallet.TypeTaskReward,
			Reason: fmt.Sprintf("task reward for submission %s", in.SubmissionID),
		})
	}

	tiers := []struct {
		amount int64
		typ    wallet.TransactionType
	}{
		{in.Rates.Tier1, wallet.TypeTier1Commission},
		{in.Rates.Tier2, wallet.TypeTier2Commission},
	}
	for depth, beneficiary := range in.Chain {
		if depth >= MaxDepth {
			break
		}
		tier := tiers[depth]
		if beneficiary == uuid.Nil || tier.amount <= 0 {
			continue
		}
		credits = append(credits, Credit{
			UserID: beneficiary,
			Amount: tier.amount,
			Type:   tier.typ,
			Reason: fmt.Sprintf("tier %d commission for submission %s", depth+1, in.SubmissionID),
		})
	}

	return credits
}

// Total sums the credits.
func Total(credits []Credit) int64 {
	var sum int64
	for _, c := range credits {
		sum += c.Amount
	}
	return sum
}

// Requests converts credits into ledger credit requests tied to the submission.
func Requests(submissionID uuid.UUID, credits []Credit) []wallet.CreditRequest {
	out := make([]wallet.CreditRequest, len(credits))
	for i, c := range credits {
		out[i] = wallet.CreditRequest{
			UserID:       c.UserID,
			Amount:       c.Amount,
			Type:         c.Type,
			SubmissionID: uuid.NullUUID{UUID: submissionID, Valid: true},
			Note:         c.Reason,
		}
	}
	return out
}
