package wallet

import "errors"

var (
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInsufficientPoints     = errors.New("insufficient points")
	ErrAmountTooLarge         = errors.New("amount too large to exchange")
	ErrInvalidTransactionType = errors.New("invalid transaction type")
	ErrInvalidBeneficiary     = errors.New("invalid beneficiary")
	ErrDuplicateCredit        = errors.New("credit already recorded for this submission")
	ErrLedgerDrift            = errors.New("ledger invariant violated")
)
