package referral

import "errors"

var (
	ErrSelfReferral          = errors.New("user cannot refer themselves")
	ErrReferralCycleDetected = errors.New("referrer assignment would create a cycle")
	ErrReferrerAlreadySet    = errors.New("referrer already set")
)
