package submission

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskhub/taskhub-api/internal/domain/role"
)

// transitions is the complete set of legal moves. Anything absent is illegal.
var transitions = map[Status][]Status{
	StatusPending:         {StatusAIReviewing},
	StatusAIReviewing:     {StatusAIApproved, StatusAIRejected, StatusRejected},
	StatusAIRejected:      {StatusAIReviewing},
	StatusAIApproved:      {StatusMentorReview},
	StatusMentorReview:    {StatusMentorApproved, StatusMentorRejected},
	StatusMentorApproved:  {StatusManagerReview},
	StatusManagerReview:   {StatusManagerApproved, StatusManagerRejected},
	StatusManagerApproved: {StatusCompleted},
	StatusCompleted:       {StatusPaid},
}

var terminal = map[Status]bool{
	StatusMentorRejected:  true,
	StatusManagerRejected: true,
	StatusPaid:            true,
	StatusRejected:        true,
}

var rejecting = map[Status]bool{
	StatusAIRejected:      true,
	StatusMentorRejected:  true,
	StatusManagerRejected: true,
	StatusRejected:        true,
}

type edge struct {
	from Status
	to   Status
}

var (
	automatedEdges = []edge{
		{StatusPending, StatusAIReviewing},
		{StatusAIReviewing, StatusAIApproved},
		{StatusAIReviewing, StatusAIRejected},
		{StatusAIReviewing, StatusRejected},
		{StatusAIRejected, StatusAIReviewing},
		{StatusAIApproved, StatusMentorReview},
		{StatusCompleted, StatusPaid},
	}
	mentorEdges = []edge{
		{StatusMentorReview, StatusMentorApproved},
		{StatusMentorReview, StatusMentorRejected},
		{StatusMentorApproved, StatusManagerReview},
	}
	managerEdges = []edge{
		{StatusManagerReview, StatusManagerApproved},
		{StatusManagerReview, StatusManagerRejected},
		{StatusManagerApproved, StatusCompleted},
	}
	financeEdges = []edge{
		{StatusManagerApproved, StatusCompleted},
	}
)

// capabilities maps (role, from) to the statuses that role may move a submission to.
var capabilities = buildCapabilities(map[role.Role][][]edge{
	role.System:  {automatedEdges},
	role.Mentor:  {mentorEdges},
	role.Manager: {managerEdges},
	role.Finance: {financeEdges},
	role.Admin:   {mentorEdges, managerEdges, financeEdges},
})

func buildCapabilities(grants map[role.Role][][]edge) map[role.Role]map[Status][]Status {
	out := make(map[role.Role]map[Status][]Status, len(grants))
	for r, groups := range grants {
		byFrom := make(map[Status][]Status)
		for _, group := range groups {
			for _, e := range group {
				if !isLegal(e.from, e.to) {
					panic(fmt.Sprintf("capability %s: %s -> %s is not a legal transition", r, e.from, e.to))
				}
				if !containsStatus(byFrom[e.from], e.to) {
					byFrom[e.from] = append(byFrom[e.from], e.to)
				}
			}
		}
		out[r] = byFrom
	}
	return out
}

// IsTerminal reports whether s accepts no further transition.
func (s Status) IsTerminal() bool {
	return terminal[s]
}

// Valid reports whether s is a canonical status.
func (s Status) Valid() bool {
	if terminal[s] {
		return true
	}
	_, ok := transitions[s]
	return ok
}

// IsRejection reports whether entering s records a rejection.
func (s Status) IsRejection() bool {
	return rejecting[s]
}

// IsSettled reports whether s means the submission's credits exist.
func (s Status) IsSettled() bool {
	return s == StatusCompleted || s == StatusPaid
}

func isLegal(from, to Status) bool {
	return containsStatus(transitions[from], to)
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// CanTransition reports whether r may move a submission from one status to another.
func CanTransition(r role.Role, from, to Status) bool {
	if from.IsTerminal() || !isLegal(from, to) {
		return false
	}
	return containsStatus(capabilities[r][from], to)
}

// AllowedTransitions lists the statuses r may move a submission in from to.
func AllowedTransitions(r role.Role, from Status) []Status {
	if from.IsTerminal() {
		return nil
	}
	allowed := capabilities[r][from]
	out := make([]Status, len(allowed))
	copy(out, allowed)
	return out
}

func stageOf(from, to Status) Stage {
	switch {
	case to == StatusPaid:
		return StagePayout
	case to == StatusCompleted:
		return StageSettlement
	case from == StatusMentorReview || from == StatusMentorApproved:
		return StageMentor
	case from == StatusManagerReview:
		return StageManager
	default:
		return StageAI
	}
}

// Transition describes one requested move.
type Transition struct {
	To         Status
	Actor      Actor
	Decision   Decision
	Reason     string
	Confidence *float64
}

// Advance applies t to s in memory and returns the trail entry to persist.
// The submission is left untouched when the move is refused.
func Advance(s *Submission, t Transition, at time.Time) (*ReviewEntry, error) {
	from := s.Status
	if from.IsTerminal() || !isLegal(from, t.To) {
		return nil, fmt.Errorf("%s -> %s: %w", from, t.To, ErrInvalidStateTransition)
	}
	if !CanTransition(t.Actor.Role, from, t.To) {
		return nil, fmt.Errorf("%s may not move %s -> %s: %w", t.Actor.Role, from, t.To, ErrForbidden)
	}
	if t.To.IsRejection() && t.Reason == "" {
		return nil, ErrReasonRequired
	}
	decision := t.Decision
	if decision == "" {
		decision = DecisionAdvance
	}

	entry := &ReviewEntry{
		SubmissionID: s.ID,
		Stage:        stageOf(from, t.To),
		FromStatus:   from,
		ToStatus:     t.To,
		ActorID:      uuid.NullUUID{UUID: t.Actor.ID, Valid: t.Actor.ID != uuid.Nil},
		ActorRole:    t.Actor.Role,
		Decision:     decision,
		Reason:       t.Reason,
		Confidence:   t.Confidence,
		CreatedAt:    at,
	}
	s.Status = t.To
	s.UpdatedAt = at
	s.Trail = append(s.Trail, entry)
	return entry, nil
}
