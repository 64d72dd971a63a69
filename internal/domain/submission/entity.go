package submission

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/taskhub/taskhub-api/internal/domain/role"
	"github.com/taskhub/taskhub-api/internal/domain/wallet"
)

// Type is what kind of work a submission reports.
type Type string

const (
	TypeLead    Type = "lead"
	TypeNote    Type = "note"
	TypeComment Type = "comment"
)

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	return t == TypeLead || t == TypeNote || t == TypeComment
}

// Status is the review lifecycle position.
type Status string

const (
	StatusPending         Status = "pending"
	StatusAIReviewing     Status = "ai_reviewing"
	StatusAIApproved      Status = "ai_approved"
	StatusAIRejected      Status = "ai_rejected"
	StatusMentorReview    Status = "mentor_review"
	StatusMentorApproved  Status = "mentor_approved"
	StatusMentorRejected  Status = "mentor_rejected"
	StatusManagerReview   Status = "manager_review"
	StatusManagerApproved Status = "manager_approved"
	StatusManagerRejected Status = "manager_rejected"
	StatusCompleted       Status = "completed"
	StatusPaid            Status = "paid"
	// StatusRejected ends a submission whose automated review attempts ran out.
	StatusRejected Status = "rejected"
)

var statuses = []Status{
	StatusPending, StatusAIReviewing, StatusAIApproved, StatusAIRejected,
	StatusMentorReview, StatusMentorApproved, StatusMentorRejected,
	StatusManagerReview, StatusManagerApproved, StatusManagerRejected,
	StatusCompleted, StatusPaid, StatusRejected,
}

// Statuses returns every canonical status.
func Statuses() []Status {
	out := make([]Status, len(statuses))
	copy(out, statuses)
	return out
}

// Stage names the part of the pipeline that wrote a trail entry.
type Stage string

const (
	StageAI         Stage = "ai"
	StageMentor     Stage = "mentor"
	StageManager    Stage = "manager"
	StageSettlement Stage = "settlement"
	StagePayout     Stage = "payout"
)

// Decision is the verdict recorded with a transition.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	// DecisionAdvance marks a transition that is bookkeeping rather than a verdict.
	DecisionAdvance Decision = "advance"
)

// Image is one stored screenshot and the sha256 of its original bytes.
type Image struct {
	URL  string `db:"url" json:"url"`
	Hash string `db:"hash" json:"hash"`
}

// Meta holds the type-specific fields. Stored as JSONB.
type Meta struct {
	NoteURL     string `json:"note_url,omitempty"`
	NoteTitle   string `json:"note_title,omitempty"`
	CommentText string `json:"comment_text,omitempty"`
	LeadName    string `json:"lead_name,omitempty"`
	LeadPhone   string `json:"lead_phone,omitempty"`
	LeadWechat  string `json:"lead_wechat,omitempty"`
}

// Value implements driver.Valuer
func (m Meta) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner
func (m *Meta) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*m = Meta{}
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return errors.New("submission: unsupported meta column type")
	}
}

// PricingSnapshot freezes the rates in force when the submission was created.
type PricingSnapshot struct {
	Version int   `json:"version"`
	Price   int64 `json:"price"`
	Tier1   int64 `json:"tier1"`
	Tier2   int64 `json:"tier2"`
}

// Submission is one reported task and its review state.
type Submission struct {
	ID          uuid.UUID       `json:"id"`
	OwnerID     uuid.UUID       `json:"owner_id"`
	AccountRef  string          `json:"account_ref"`
	Type        Type            `json:"type"`
	Images      []Image         `json:"images"`
	Meta        Meta            `json:"meta"`
	Pricing     PricingSnapshot `json:"pricing"`
	Status      Status          `json:"status"`
	Attempts    int             `json:"attempts"`
	NextCheckAt *time.Time      `json:"next_check_at,omitempty"`
	ClaimedAt   *time.Time      `json:"claimed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`

	// Trail is loaded by Get; listings leave it empty.
	Trail []*ReviewEntry `json:"trail,omitempty"`
}

// IsTerminal reports whether no further transition is possible.
func (s *Submission) IsTerminal() bool {
	return s.Status.IsTerminal()
}

// Hashes returns the content hashes of every image.
func (s *Submission) Hashes() []string {
	out := make([]string, len(s.Images))
	for i, img := range s.Images {
		out[i] = img.Hash
	}
	return out
}

// Actor is who applies a transition. System transitions carry uuid.Nil.
type Actor struct {
	ID   uuid.UUID
	Role role.Role
}

// SystemActor is the automated reviewer.
var SystemActor = Actor{Role: role.System}

// ReviewEntry is one row of the append-only review trail.
type ReviewEntry struct {
	Seq          int           `db:"seq" json:"seq"`
	SubmissionID uuid.UUID     `db:"submission_id" json:"-"`
	Stage        Stage         `db:"stage" json:"stage"`
	FromStatus   Status        `db:"from_status" json:"from"`
	ToStatus     Status        `db:"to_status" json:"to"`
	ActorID      uuid.NullUUID `db:"actor_id" json:"actor_id"`
	ActorRole    role.Role     `db:"actor_role" json:"actor_role"`
	Decision     Decision      `db:"decision" json:"decision"`
	Reason       string        `db:"reason" json:"reason,omitempty"`
	Confidence   *float64      `db:"confidence" json:"confidence,omitempty"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
}

// ListFilter narrows a submission listing.
type ListFilter struct {
	OwnerID *uuid.UUID
	Status  []Status
	Type    Type
	Limit   int
	Offset  int
}

// Outcome is the result of a review action. Transactions is set once the
// submission has been settled.
type Outcome struct {
	Submission   *Submission           `json:"submission"`
	Transactions []*wallet.Transaction `json:"transactions,omitempty"`
}
