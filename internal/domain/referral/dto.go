package referral

import "github.com/google/uuid"

// AssignRequest is the body of PUT /referrals/me.
type AssignRequest struct {
	ReferrerID uuid.UUID `json:"referrer_id" validate:"required"`
}
