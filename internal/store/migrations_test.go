package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLStatements(t *testing.T) {
	script := `
-- comment only block
;
CREATE TABLE a (id TEXT);

-- trailing comment
CREATE INDEX idx_a ON a (id);
`
	stmts := sqlStatements(script)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "CREATE TABLE a")
	assert.Contains(t, stmts[1], "CREATE INDEX idx_a")
}

func TestMigrationScriptsEmbedded(t *testing.T) {
	require.NotEmpty(t, schemaMigrations)
	for _, m := range schemaMigrations {
		assert.NotEmpty(t, m.Script, "migration %d has no script", m.Version)
		assert.NotEmpty(t, sqlStatements(m.Script), "migration %d has no statements", m.Version)
	}
}
