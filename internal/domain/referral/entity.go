package referral

import (
	"time"

	"github.com/google/uuid"
)

// Referral is the upward pointer from a user to the user who invited them.
type Referral struct {
	UserID     uuid.UUID `db:"user_id" json:"user_id"`
	ReferrerID uuid.UUID `db:"referrer_id" json:"referrer_id"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Overview is what GET /referrals/me returns.
type Overview struct {
	Referrer *Referral   `json:"referrer"`
	Invitees []*Referral `json:"invitees"`
}
