package main

import (
	"testing"
	"time"

	"github.com/dvloznov/finance-import/internal/staging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusLines(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	migrations := []staging.Migration{
		{Version: 1, Name: "init", Checksum: "aaa"},
		{Version: 2, Name: "rows", Checksum: "bbb"},
		{Version: 3, Name: "ledger", Checksum: "ccc"},
	}
	applied := []staging.AppliedMigration{
		{Version: 1, Name: "init", Checksum: "aaa", AppliedAt: at, AppliedBy: "import-service"},
		{Version: 2, Name: "rows", Checksum: "old", AppliedAt: at, AppliedBy: "migrate-cli"},
	}

	lines := statusLines(migrations, applied)
	require.Len(t, lines, 3)
	assert.Equal(t, "  [APPLIED] 0001_init (2024-03-01T12:00:00Z by import-service)", lines[0])
	assert.Contains(t, lines[1], "[CHANGED] 0002_rows")
	assert.Equal(t, "  [PENDING] 0003_ledger", lines[2])
}

func TestStatusLinesWithEmbeddedMigrations(t *testing.T) {
	for _, d := range []staging.Dialect{staging.DialectSQLite, staging.DialectPostgres} {
		t.Run(string(d), func(t *testing.T) {
			migrations, err := staging.LoadMigrations(d)
			require.NoError(t, err)
			require.NotEmpty(t, migrations)

			for _, line := range statusLines(migrations, nil) {
				assert.Contains(t, line, "[PENDING]")
			}
		})
	}
}
