package wallet

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType names an accrual. Every transaction raises Accrued by its
// amount when written and the amount never changes afterwards.
type TransactionType string

const (
	TypeTaskReward      TransactionType = "task_reward"
	TypeTier1Commission TransactionType = "tier1_commission"
	TypeTier2Commission TransactionType = "tier2_commission"
	TypeAdjustment      TransactionType = "adjustment"
)

// Valid reports whether t is a known accrual type.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeTaskReward, TypeTier1Commission, TypeTier2Commission, TypeAdjustment:
		return true
	}
	return false
}

type TransactionStatus string

const (
	StatusPending TransactionStatus = "pending"
	StatusPaid    TransactionStatus = "paid"
)

// Wallet is the per-user ledger summary. Balance is a stored copy of
// Accrued - PaidOut and is only written by the statement that writes both.
type Wallet struct {
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	Accrued   int64     `db:"accrued" json:"accrued"`
	PaidOut   int64     `db:"paid_out" json:"paid_out"`
	Balance   int64     `db:"balance" json:"balance"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Transaction is one accrual. Allocated is the part already consumed by
// settlements; a transaction turns paid when Allocated reaches Amount.
type Transaction struct {
	ID           uuid.UUID         `db:"id" json:"id"`
	UserID       uuid.UUID         `db:"user_id" json:"user_id"`
	SubmissionID uuid.NullUUID     `db:"submission_id" json:"submission_id"`
	Type         TransactionType   `db:"type" json:"type"`
	Amount       int64             `db:"amount" json:"amount"`
	Allocated    int64             `db:"allocated" json:"allocated"`
	Status       TransactionStatus `db:"status" json:"status"`
	SettlementID uuid.NullUUID     `db:"settlement_id" json:"settlement_id"`
	Note         string            `db:"note" json:"note,omitempty"`
	CreatedAt    time.Time         `db:"created_at" json:"created_at"`
	PaidAt       *time.Time        `db:"paid_at" json:"paid_at,omitempty"`
}

// Remaining is the unsettled part of the transaction.
func (t *Transaction) Remaining() int64 {
	return t.Amount - t.Allocated
}

type SettlementKind string

const (
	SettlementWithdrawal    SettlementKind = "withdrawal"
	SettlementPointExchange SettlementKind = "point_exchange"
)

// Settlement is the receipt of points leaving a wallet. It carries no accrual:
// PaidOut grows by Points and the consumed transactions are listed as
// allocations. Value and PricingVersion are set for point exchanges only.
type Settlement struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	UserID         uuid.UUID      `db:"user_id" json:"user_id"`
	Kind           SettlementKind `db:"kind" json:"kind"`
	Points         int64          `db:"points" json:"points"`
	Value          int64          `db:"value" json:"value"`
	PricingVersion *int           `db:"pricing_version" json:"pricing_version,omitempty"`
	Note           string         `db:"note" json:"note,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}

// Allocation is the part of one transaction consumed by one settlement.
type Allocation struct {
	SettlementID  uuid.UUID `db:"settlement_id" json:"settlement_id"`
	TransactionID uuid.UUID `db:"transaction_id" json:"transaction_id"`
	Amount        int64     `db:"amount" json:"amount"`
}

// CreditRequest asks for one pending accrual.
type CreditRequest struct {
	UserID       uuid.UUID
	Amount       int64
	Type         TransactionType
	SubmissionID uuid.NullUUID
	Note         string
}

// ExchangeResult describes a completed points exchange.
type ExchangeResult struct {
	Points         int64     `json:"points"`
	Amount         int64     `json:"amount"`
	NewBalance     int64     `json:"new_balance"`
	ReceiptID      uuid.UUID `json:"receipt_id"`
	PricingVersion int       `json:"pricing_version"`
}

// Reconciliation compares a wallet against its transactions and settlements.
// PendingAccruals and PaidAccruals together cover every transaction the user has.
type Reconciliation struct {
	UserID          uuid.UUID `db:"user_id" json:"user_id"`
	Accrued         int64     `db:"accrued" json:"accrued"`
	PaidOut         int64     `db:"paid_out" json:"paid_out"`
	Balance         int64     `db:"balance" json:"balance"`
	PendingAccruals int64     `db:"pending_accruals" json:"pending_accruals"`
	PaidAccruals    int64     `db:"paid_accruals" json:"paid_accruals"`
	Allocated       int64     `db:"allocated" json:"allocated"`
	SettledPoints   int64     `db:"settled_points" json:"settled_points"`
}

// Problems lists every violated ledger invariant; empty means consistent.
func (r *Reconciliation) Problems() []string {
	var out []string
	if r.Balance != r.Accrued-r.PaidOut {
		out = append(out, "balance != accrued - paid_out")
	}
	if r.Accrued != r.PendingAccruals+r.PaidAccruals {
		out = append(out, "accrued != sum of transactions")
	}
	if r.PaidOut != r.SettledPoints {
		out = append(out, "paid_out != sum of settlements")
	}
	if r.PaidOut != r.Allocated {
		out = append(out, "paid_out != sum of allocations")
	}
	if r.PaidAccruals > r.Allocated {
		out = append(out, "paid transactions exceed allocations")
	}
	if r.Balance < 0 {
		out = append(out, "negative balance")
	}
	return out
}

// Consistent reports whether no invariant is violated.
func (r *Reconciliation) Consistent() bool {
	return len(r.Problems()) == 0
}

// ListFilter narrows a transaction listing.
type ListFilter struct {
	UserID       *uuid.UUID
	SubmissionID *uuid.UUID
	Type         TransactionType
	Status       TransactionStatus
	Limit        int
	Offset       int
}
