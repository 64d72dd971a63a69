package submission

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskhub/taskhub-api/internal/domain/role"
)

var allStatuses = Statuses()

func TestStatus_EveryStatusIsValid(t *testing.T) {
	t.Parallel()

	for _, s := range allStatuses {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, Status("cs_pass").Valid())
	assert.Len(t, allStatuses, len(transitions)+len(terminal))
}

func TestAdvance_TerminalStatusesRefuseEverything(t *testing.T) {
	t.Parallel()

	for _, from := range []Status{StatusMentorRejected, StatusManagerRejected, StatusPaid, StatusRejected} {
		for _, to := range allStatuses {
			for _, r := range role.All() {
				sub := &Submission{ID: uuid.New(), Status: from}
				_, err := Advance(sub, Transition{To: to, Actor: Actor{ID: uuid.New(), Role: r}, Reason: "x"}, time.Now())
				require.ErrorIs(t, err, ErrInvalidStateTransition, "%s -> %s as %s", from, to, r)
				assert.Equal(t, from, sub.Status)
				assert.Empty(t, sub.Trail)
			}
		}
	}
}

func TestAdvance_RoleChecks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		role role.Role
		from Status
		to   Status
		want error
	}{
		{"mentor approves", role.Mentor, StatusMentorReview, StatusMentorApproved, nil},
		{"user cannot approve", role.User, StatusMentorReview, StatusMentorApproved, ErrForbidden},
		{"mentor cannot manager-approve", role.Mentor, StatusManagerReview, StatusManagerApproved, ErrForbidden},
		{"manager approves", role.Manager, StatusManagerReview, StatusManagerApproved, nil},
		{"finance completes", role.Finance, StatusManagerApproved, StatusCompleted, nil},
		{"finance cannot manager-approve", role.Finance, StatusManagerReview, StatusManagerApproved, ErrForbidden},
		{"admin does all human stages", role.Admin, StatusMentorReview, StatusMentorApproved, nil},
		{"admin cannot run the classifier", role.Admin, StatusPending, StatusAIReviewing, ErrForbidden},
		{"system claims", role.System, StatusPending, StatusAIReviewing, nil},
		{"system cannot mentor-approve", role.System, StatusMentorReview, StatusMentorApproved, ErrForbidden},
		{"skip mentor", role.Admin, StatusAIApproved, StatusManagerReview, ErrInvalidStateTransition},
		{"reopen completed", role.Admin, StatusCompleted, StatusManagerReview, ErrInvalidStateTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sub := &Submission{ID: uuid.New(), Status: tt.from}
			entry, err := Advance(sub, Transition{To: tt.to, Actor: Actor{ID: uuid.New(), Role: tt.role}}, time.Now())
			if tt.want != nil {
				require.ErrorIs(t, err, tt.want)
				assert.Nil(t, entry)
				assert.Equal(t, tt.from, sub.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, sub.Status)
			assert.Equal(t, tt.role, entry.ActorRole)
			assert.Equal(t, DecisionAdvance, entry.Decision)
		})
	}
}

func TestAdvance_RejectionNeedsReason(t *testing.T) {
	t.Parallel()

	sub := &Submission{ID: uuid.New(), Status: StatusMentorReview}
	mentor := Actor{ID: uuid.New(), Role: role.Mentor}

	_, err := Advance(sub, Transition{To: StatusMentorRejected, Actor: mentor, Decision: DecisionReject}, time.Now())
	require.ErrorIs(t, err, ErrReasonRequired)
	assert.Equal(t, StatusMentorReview, sub.Status)

	at := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	entry, err := Advance(sub, Transition{To: StatusMentorRejected, Actor: mentor, Decision: DecisionReject, Reason: "fake account"}, at)
	require.NoError(t, err)
	assert.Equal(t, StageMentor, entry.Stage)
	assert.Equal(t, "fake account", entry.Reason)
	assert.Equal(t, at, entry.CreatedAt)
	assert.Equal(t, at, sub.UpdatedAt)
	assert.Len(t, sub.Trail, 1)
}

func TestAdvance_SystemActorHasNoID(t *testing.T) {
	t.Parallel()

	sub := &Submission{ID: uuid.New(), Status: StatusPending}
	entry, err := Advance(sub, Transition{To: StatusAIReviewing, Actor: SystemActor}, time.Now())
	require.NoError(t, err)
	assert.False(t, entry.ActorID.Valid)
	assert.Equal(t, StageAI, entry.Stage)
}

func TestCapabilities_OnlyLegalEdges(t *testing.T) {
	t.Parallel()

	for _, r := range role.All() {
		for _, from := range allStatuses {
			for _, to := range AllowedTransitions(r, from) {
				assert.True(t, isLegal(from, to), "%s: %s -> %s", r, from, to)
				assert.True(t, CanTransition(r, from, to))
			}
		}
	}
	assert.Empty(t, AllowedTransitions(role.User, StatusMentorReview))
	assert.ElementsMatch(t, []Status{StatusManagerApproved, StatusManagerRejected}, AllowedTransitions(role.Admin, StatusManagerReview))

	assert.Panics(t, func() {
		buildCapabilities(map[role.Role][][]edge{role.Admin: {{{StatusPending, StatusPaid}}}})
	})
}

func TestStageOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, StageAI, stageOf(StatusAIReviewing, StatusAIRejected))
	assert.Equal(t, StageMentor, stageOf(StatusMentorApproved, StatusManagerReview))
	assert.Equal(t, StageManager, stageOf(StatusManagerReview, StatusManagerApproved))
	assert.Equal(t, StageSettlement, stageOf(StatusManagerApproved, StatusCompleted))
	assert.Equal(t, StagePayout, stageOf(StatusCompleted, StatusPaid))
}

// ---------------------------------------------------------------------------
// Retry policy
// ---------------------------------------------------------------------------

func TestNextCheckAt_AnchoredToCreation(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	base := 2 * time.Minute

	assert.Equal(t, created.Add(2*time.Minute), NextCheckAt(created, 1, base))
	assert.Equal(t, created.Add(4*time.Minute), NextCheckAt(created, 2, base))
	assert.Equal(t, created.Add(6*time.Minute), NextCheckAt(created, 3, base))
	assert.Equal(t, created, NextCheckAt(created, -1, base))
}

func TestRetryDelay_NonIncreasingAndNeverNegative(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	base := 2 * time.Minute

	for attempt := 1; attempt <= 5; attempt++ {
		prev := RetryDelay(created, attempt, base, created)
		for elapsed := time.Duration(0); elapsed <= 20*time.Minute; elapsed += 30 * time.Second {
			d := RetryDelay(created, attempt, base, created.Add(elapsed))
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, prev)
			prev = d
		}
	}
	assert.Equal(t, time.Duration(0), RetryDelay(created, 2, base, created.Add(time.Hour)))
	assert.Equal(t, time.Minute, RetryDelay(created, 2, base, created.Add(3*time.Minute)))
}

// ---------------------------------------------------------------------------
// Vocabulary migration
// ---------------------------------------------------------------------------

func TestMigrateLegacyStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		version int
		raw     string
		want    Status
	}{
		{role.VocabularyV1, "waiting", StatusPending},
		{role.VocabularyV1, "cs_pass", StatusMentorApproved},
		{role.VocabularyV1, "boss_pass", StatusManagerApproved},
		{role.VocabularyV1, "ai_dead", StatusRejected},
		{role.VocabularyV1, "withdrawn", StatusPaid},
		{role.VocabularyV2, "mentor_pass", StatusMentorApproved},
		{role.VocabularyV2, "cs_reject", StatusMentorRejected},
		{role.VocabularyV2, "finance_processed", StatusCompleted},
		{role.VocabularyCurrent, "manager_approved", StatusManagerApproved},
	}
	for _, tt := range tests {
		got, err := MigrateLegacyStatus(tt.version, tt.raw)
		require.NoError(t, err, "v%d %s", tt.version, tt.raw)
		assert.Equal(t, tt.want, got)
	}

	for _, table := range legacyStatuses {
		for raw, s := range table {
			assert.True(t, s.Valid(), raw)
		}
	}

	_, err := MigrateLegacyStatus(role.VocabularyV1, "mentor_pass")
	require.Error(t, err)
	_, err = MigrateLegacyStatus(role.VocabularyCurrent, "cs_pass")
	require.Error(t, err)
	_, err = MigrateLegacyStatus(0, "waiting")
	require.Error(t, err)
}
