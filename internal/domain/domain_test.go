package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to BatchStatus
		want     bool
	}{
		{BatchDraft, BatchStaging, true},
		{BatchStaging, BatchReady, true},
		{BatchReady, BatchCommitted, true},
		{BatchDraft, BatchError, true},
		{BatchStaging, BatchError, true},
		{BatchReady, BatchError, true},
		{BatchDraft, BatchReady, false},
		{BatchStaging, BatchCommitted, false},
		{BatchCommitted, BatchError, false},
		{BatchError, BatchStaging, false},
		{BatchReady, BatchStaging, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStatusBadgeClass(t *testing.T) {
	assert.Equal(t, "secondary", StatusBadgeClass(BatchDraft))
	assert.Equal(t, "info", StatusBadgeClass(BatchStaging))
	assert.Equal(t, "primary", StatusBadgeClass(BatchReady))
	assert.Equal(t, "success", StatusBadgeClass(BatchCommitted))
	assert.Equal(t, "danger", StatusBadgeClass(BatchError))
	assert.Equal(t, "light", StatusBadgeClass("archived"))
}

func TestListSourceTypes(t *testing.T) {
	catalog := ListSourceTypes()
	require.Len(t, catalog, 5)

	for _, key := range []SourceType{SourceGnuCashXML, SourceGnuCashXMLGzip, SourceOFX, SourceCSVTemplate, SourceLegacyJournal} {
		info, ok := catalog[key]
		require.True(t, ok, "missing %s", key)
		assert.NotEmpty(t, info.Label)
		assert.NotEmpty(t, info.Description)
	}

	assert.True(t, SourceOFX.IsEager())
	assert.True(t, SourceGnuCashXMLGzip.IsEager())
	assert.False(t, SourceCSVTemplate.IsEager())
	assert.False(t, SourceLegacyJournal.IsEager())
}

func TestSourceTypesReturnsCopy(t *testing.T) {
	list := SourceTypes()
	list[0].Label = "changed"
	assert.NotEqual(t, "changed", SourceTypes()[0].Label)
}

func TestParseSourceType(t *testing.T) {
	st, err := ParseSourceType(" OFX ")
	require.NoError(t, err)
	assert.Equal(t, SourceOFX, st)

	_, err = ParseSourceType("quickbooks")
	assert.ErrorIs(t, err, ErrUnsupportedSourceType)
}

func TestValidateCounters(t *testing.T) {
	assert.NoError(t, ValidateCounters(0, 0, 0))
	assert.NoError(t, ValidateCounters(5, 2, 3))
	assert.ErrorIs(t, ValidateCounters(5, 3, 3), ErrCounterInvariant)
	assert.ErrorIs(t, ValidateCounters(-1, 0, 0), ErrCounterInvariant)
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, CodeEmptyStatement, ErrorCode(fmt.Errorf("parse: %w", ErrEmptyStatement)))
	assert.Equal(t, CodeNoTransactions, ErrorCode(ErrNoTransactionsFound))
	assert.Equal(t, CodeDecompression, ErrorCode(fmt.Errorf("x: %w", ErrDecompressionFailed)))
	assert.Equal(t, CodeCancelled, ErrorCode(fmt.Errorf("x: %w", context.Canceled)))
	assert.Equal(t, CodePersistence, ErrorCode(ErrDuplicateRow))
	assert.Equal(t, CodeUnknown, ErrorCode(errors.New("boom")))
	assert.Equal(t, "", ErrorCode(nil))

	assert.True(t, errors.Is(ErrEmptyStatement, ErrNoTransactionsFound))
}

func TestMoneyJSON(t *testing.T) {
	tx := Transaction{
		Amount:      MustMoney("-42.5"),
		Debit:       MustMoney("0"),
		Credit:      MustMoney("42.5"),
		Description: "Coffee Shop",
		Currency:    "USD",
		Source:      SourceOFX,
	}
	b, err := json.Marshal(tx)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"amount":-42.50`)
	assert.Contains(t, string(b), `"credit":42.50`)
	assert.Contains(t, string(b), `"date":null`)

	var back Transaction
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, back.Amount.Equal(tx.Amount.Decimal))
	assert.True(t, back.Balanced())
}

func TestTransactionBalanced(t *testing.T) {
	tx := Transaction{Amount: MustMoney("25"), Debit: MustMoney("25"), Credit: MustMoney("0")}
	assert.True(t, tx.Balanced())

	tx.Credit = MustMoney("25")
	assert.False(t, tx.Balanced())
}

func TestImportRowTransaction(t *testing.T) {
	row := ImportRow{RowNumber: 1, Normalized: json.RawMessage("null")}
	tx, err := row.Transaction()
	require.NoError(t, err)
	assert.Nil(t, tx)

	row.Normalized = json.RawMessage(`{"date":"2024-01-15","description":"x","amount":1.00,"debit":1.00,"credit":0.00,"currency":"USD","reference":"","source":"ofx"}`)
	tx, err = row.Transaction()
	require.NoError(t, err)
	require.NotNil(t, tx.Date)
	assert.Equal(t, "2024-01-15", tx.Date.String())
}
