package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/taskhub/taskhub-api/internal/domain/role"
	"github.com/taskhub/taskhub-api/internal/domain/submission"
)

const canonicalVocabularyVersion = 3

// vocabColumn is one text column whose values follow a vocabulary version.
type vocabColumn struct {
	table   string
	column  string
	migrate func(version int, raw string) (string, error)
}

func migrateStatus(version int, raw string) (string, error) {
	s, err := submission.MigrateLegacyStatus(version, raw)
	return string(s), err
}

func migrateRole(version int, raw string) (string, error) {
	r, err := role.MigrateLegacy(version, raw)
	return string(r), err
}

var vocabColumns = []vocabColumn{
	{"submissions", "status", migrateStatus},
	{"submission_reviews", "from_status", migrateStatus},
	{"submission_reviews", "to_status", migrateStatus},
	{"submission_reviews", "actor_role", migrateRole},
}

// upCanonicalVocabulary rewrites rows imported under older status and role names
// to the canonical vocabulary, then pins the columns to it with CHECK constraints.
// An unmapped legacy name fails the migration.
func upCanonicalVocabulary(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `SET LOCAL taskhub.vocabulary_migration = 'on'`); err != nil {
		return err
	}

	for _, c := range vocabColumns {
		if err := rewriteColumn(ctx, tx, c); err != nil {
			return err
		}
	}
	for _, table := range []string{"submissions", "submission_reviews"} {
		if _, err := tx.ExecContext(ctx,
			`UPDATE `+table+` SET vocab_version = $1 WHERE vocab_version < $1`, role.VocabularyCurrent); err != nil {
			return fmt.Errorf("stamp %s: %w", table, err)
		}
	}

	statuses := make([]string, 0, len(submission.Statuses()))
	for _, s := range submission.Statuses() {
		statuses = append(statuses, string(s))
	}
	roles := make([]string, 0, len(role.All()))
	for _, r := range role.All() {
		roles = append(roles, string(r))
	}

	stmts := []string{
		`ALTER TABLE submissions ADD CONSTRAINT submissions_status_check CHECK (status IN (` + literalList(statuses) + `))`,
		`ALTER TABLE submission_reviews ADD CONSTRAINT submission_reviews_from_status_check CHECK (from_status IN (` + literalList(statuses) + `))`,
		`ALTER TABLE submission_reviews ADD CONSTRAINT submission_reviews_to_status_check CHECK (to_status IN (` + literalList(statuses) + `))`,
		`ALTER TABLE submission_reviews ADD CONSTRAINT submission_reviews_actor_role_check CHECK (actor_role IN (` + literalList(roles) + `))`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func rewriteColumn(ctx context.Context, tx *sql.Tx, c vocabColumn) error {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(
		`SELECT DISTINCT vocab_version, %s FROM %s WHERE vocab_version < $1`, c.column, c.table), role.VocabularyCurrent)
	if err != nil {
		return fmt.Errorf("scan %s.%s: %w", c.table, c.column, err)
	}
	type pair struct {
		version int
		raw     string
	}
	var pairs []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.version, &p.raw); err != nil {
			rows.Close()
			return err
		}
		pairs = append(pairs, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(pairs) == 0 {
		return nil
	}

	// One statement per column so a value is never mapped twice.
	values := make([]string, 0, len(pairs))
	for _, p := range pairs {
		canonical, err := c.migrate(p.version, p.raw)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", c.table, c.column, err)
		}
		values = append(values, fmt.Sprintf("(%d, %s, %s)", p.version, pq.QuoteLiteral(p.raw), pq.QuoteLiteral(canonical)))
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %[1]s t SET %[2]s = m.canonical
		FROM (VALUES %[3]s) AS m(version, raw, canonical)
		WHERE t.vocab_version = m.version AND t.%[2]s = m.raw
	`, c.table, c.column, strings.Join(values, ", ")))
	if err != nil {
		return fmt.Errorf("rewrite %s.%s: %w", c.table, c.column, err)
	}
	return nil
}

func downCanonicalVocabulary(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		ALTER TABLE submission_reviews DROP CONSTRAINT IF EXISTS submission_reviews_actor_role_check;
		ALTER TABLE submission_reviews DROP CONSTRAINT IF EXISTS submission_reviews_to_status_check;
		ALTER TABLE submission_reviews DROP CONSTRAINT IF EXISTS submission_reviews_from_status_check;
		ALTER TABLE submissions DROP CONSTRAINT IF EXISTS submissions_status_check;
	`)
	return err
}

func literalList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = pq.QuoteLiteral(v)
	}
	return strings.Join(quoted, ", ")
}
