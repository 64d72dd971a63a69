package review

import "errors"

var (
	// ErrClassifierUnavailable wraps classifier timeouts, transport failures and bad responses.
	// It consumes an attempt like a failed verdict.
	ErrClassifierUnavailable = errors.New("classifier unavailable")
	ErrInvalidPayload        = errors.New("invalid review task payload")
)
