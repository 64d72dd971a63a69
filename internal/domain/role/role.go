// Package role is the closed set of actor roles.
package role

import "fmt"

type Role string

const (
	User    Role = "user"
	Mentor  Role = "mentor"
	Manager Role = "manager"
	Finance Role = "finance"
	Admin   Role = "admin"
	// System is the automated reviewer. It never appears in tokens.
	System Role = "system"
)

var all = []Role{User, Mentor, Manager, Finance, Admin, System}

// All returns every canonical role.
func All() []Role {
	out := make([]Role, len(all))
	copy(out, all)
	return out
}

// Valid reports whether r is canonical.
func (r Role) Valid() bool {
	for _, c := range all {
		if r == c {
			return true
		}
	}
	return false
}

// Parse accepts canonical names only.
func Parse(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Vocabulary versions of persisted role names.
const (
	// VocabularyV1 is the launch vocabulary (customer-service/boss naming).
	VocabularyV1 = 1
	// VocabularyV2 renamed the reviewer roles but kept "cs" for mentors.
	VocabularyV2 = 2
	// VocabularyCurrent is the canonical vocabulary.
	VocabularyCurrent = 3
)

var legacyRoles = map[int]map[string]Role{
	VocabularyV1: {
		"member":  User,
		"cs":      Mentor,
		"kefu":    Mentor,
		"boss":    Manager,
		"finance": Finance,
		"cashier": Finance,
		"admin":   Admin,
		"super":   Admin,
		"ai":      System,
		"robot":   System,
	},
	VocabularyV2: {
		"user":     User,
		"cs":       Mentor,
		"reviewer": Mentor,
		"manager":  Manager,
		"finance":  Finance,
		"admin":    Admin,
		"system":   System,
	},
}

// MigrateLegacy maps a role name persisted under vocabulary version to the canonical role.
func MigrateLegacy(version int, raw string) (Role, error) {
	if version >= VocabularyCurrent {
		return Parse(raw)
	}
	table, ok := legacyRoles[version]
	if !ok {
		return "", fmt.Errorf("unknown role vocabulary version %d", version)
	}
	if r, ok := table[raw]; ok {
		return r, nil
	}
	return "", fmt.Errorf("role %q has no mapping in vocabulary v%d", raw, version)
}
