package submission

import "errors"

var (
	ErrNotFound               = errors.New("submission not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrForbidden              = errors.New("role may not perform this transition")
	ErrReasonRequired         = errors.New("rejection requires a reason")
	ErrDuplicateSubmission    = errors.New("content already rewarded for this owner")
	ErrDuplicateImage         = errors.New("same image attached twice")
	ErrNoImages               = errors.New("at least one image is required")
	ErrInvalidType            = errors.New("invalid submission type")
	ErrMissingMeta            = errors.New("required metadata missing for submission type")
	ErrNotClaimable           = errors.New("submission is not due for automated review")
)

var ErrInvalidDecision = errors.New("decision must be approve or reject")
