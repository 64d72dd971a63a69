package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskhub/taskhub-api/internal/domain/role"
)

func TestVocabColumnsMapLegacyNames(t *testing.T) {
	t.Parallel()

	got, err := migrateStatus(role.VocabularyV1, "boss_pass")
	require.NoError(t, err)
	assert.Equal(t, "manager_approved", got)

	got, err = migrateRole(role.VocabularyV1, "kefu")
	require.NoError(t, err)
	assert.Equal(t, "mentor", got)

	_, err = migrateStatus(role.VocabularyV2, "boss_pass")
	require.Error(t, err)
}

func TestLiteralList(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `'pending', 'it''s'`, literalList([]string{"pending", "it's"}))
}

func TestEmbeddedSQL(t *testing.T) {
	t.Parallel()

	entries, err := sqlFiles.ReadDir(".")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"00001_init.sql", "00002_pricing_seed.sql"}, names)
}
