package wallet

import "github.com/google/uuid"

// ExchangeRequest is the body of POST /wallet/exchange.
type ExchangeRequest struct {
	Points int64 `json:"points" validate:"required,gt=0"`
}

// PayoutRequest is the body of POST /finance/payouts.
type PayoutRequest struct {
	TransactionIDs []uuid.UUID `json:"transaction_ids" validate:"required,min=1,max=500"`
}

// PayoutResponse reports how many transactions moved to paid.
type PayoutResponse struct {
	PaidCount int `json:"paid_count"`
}

// AdjustmentRequest is a manual accrual booked by an admin.
type AdjustmentRequest struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
	Amount int64     `json:"amount" validate:"required,gt=0"`
	Note   string    `json:"note" validate:"required,max=500"`
}

// ReconciliationResponse is Reconciliation plus the evaluated invariants.
type ReconciliationResponse struct {
	*Reconciliation
	Consistent bool     `json:"consistent"`
	Problems   []string `json:"problems"`
}
