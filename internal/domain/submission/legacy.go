package submission

import (
	"fmt"

	"github.com/taskhub/taskhub-api/internal/domain/role"
)

// legacyStatuses maps status names persisted under older vocabularies.
// Role vocabulary versions are shared so one migration step covers both.
var legacyStatuses = map[int]map[string]Status{
	role.VocabularyV1: {
		"waiting":      StatusPending,
		"checking":     StatusAIReviewing,
		"ai_pass":      StatusAIApproved,
		"ai_fail":      StatusAIRejected,
		"ai_dead":      StatusRejected,
		"cs_review":    StatusMentorReview,
		"cs_pass":      StatusMentorApproved,
		"cs_reject":    StatusMentorRejected,
		"boss_review":  StatusManagerReview,
		"boss_pass":    StatusManagerApproved,
		"boss_reject":  StatusManagerRejected,
		"finance_done": StatusCompleted,
		"settled":      StatusPaid,
		"withdrawn":    StatusPaid,
	},
	role.VocabularyV2: {
		"pending":           StatusPending,
		"ai_reviewing":      StatusAIReviewing,
		"ai_approved":       StatusAIApproved,
		"ai_rejected":       StatusAIRejected,
		"rejected":          StatusRejected,
		"mentor_review":     StatusMentorReview,
		"mentor_pass":       StatusMentorApproved,
		"mentor_reject":     StatusMentorRejected,
		"cs_pass":           StatusMentorApproved,
		"cs_reject":         StatusMentorRejected,
		"manager_review":    StatusManagerReview,
		"manager_pass":      StatusManagerApproved,
		"manager_reject":    StatusManagerRejected,
		"finance_processed": StatusCompleted,
		"completed":         StatusCompleted,
		"paid":              StatusPaid,
	},
}

// ParseStatus accepts canonical names only.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

// MigrateLegacyStatus maps a status persisted under vocabulary version to the canonical status.
func MigrateLegacyStatus(version int, raw string) (Status, error) {
	if version >= role.VocabularyCurrent {
		return ParseStatus(raw)
	}
	table, ok := legacyStatuses[version]
	if !ok {
		return "", fmt.Errorf("unknown status vocabulary version %d", version)
	}
	if s, ok := table[raw]; ok {
		return s, nil
	}
	return "", fmt.Errorf("status %q has no mapping in vocabulary v%d", raw, version)
}
