package app

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dvloznov/finance-import/internal/config"
	"github.com/dvloznov/finance-import/internal/domain"
	"github.com/dvloznov/finance-import/internal/filestore"
	"github.com/dvloznov/finance-import/internal/staging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.Root = filepath.Join(dir, "imports")
	cfg.Database.DSN = filepath.Join(dir, "staging.db")
	cfg.Import.DefaultCurrency = "EUR"
	cfg.Import.ExtraCurrencies = []string{"BTC"}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNew(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t))
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Exporter)
	assert.True(t, filepath.IsAbs(a.Files.Root()))

	applied, err := a.Store.AppliedMigrations(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, applied)

	body := "<STMTTRN>\n<TRNAMT>-3.00\n<FITID>X\n</STMTTRN>\n"
	batch, err := a.Manager.Import(ctx, nil, domain.SourceOFX, filestore.Upload{
		Filename: "tiny.ofx",
		Size:     int64(len(body)),
		Body:     strings.NewReader(body),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.BatchReady, batch.Status)

	rows, err := a.Store.ListRows(ctx, batch.ID, staging.RowFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	tx, err := rows[0].Transaction()
	require.NoError(t, err)
	assert.Equal(t, "EUR", tx.Currency, "configured default currency")

	require.NoError(t, a.Close())
	require.NoError(t, a.Close(), "closing twice is harmless")
}

func TestNewReopensMigratedDatabase(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	first, err := New(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := New(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "mysql"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}
