package warehouse

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/finance-import/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBatch() *domain.ImportBatch {
	sum := "abc123"
	return &domain.ImportBatch{
		ID:               42,
		SourceType:       domain.SourceOFX,
		Status:           domain.BatchReady,
		OriginalFilename: "coffee.ofx",
		Checksum:         &sum,
	}
}

func TestToRows(t *testing.T) {
	staged := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	exported := staged.Add(time.Minute)
	msg := "transaction B: missing TRNAMT"

	rows := []*domain.ImportRow{
		{
			BatchID:    42,
			RowNumber:  1,
			Payload:    json.RawMessage(`{"FITID":"A"}`),
			Normalized: json.RawMessage(`{"date":"2024-01-15","description":"Coffee Shop","amount":-42.50,"debit":0.00,"credit":42.50,"currency":"USD","reference":"A","source":"ofx"}`),
			Status:     domain.RowPending,
			CreatedAt:  staged,
		},
		{
			BatchID:   42,
			RowNumber: 2,
			Payload:   json.RawMessage(`{"FITID":"B"}`),
			Status:    domain.RowError,
			Message:   &msg,
			CreatedAt: staged,
		},
	}

	out, err := ToRows(testBatch(), rows, exported)
	require.NoError(t, err)
	require.Len(t, out, 2)

	first := out[0]
	assert.Equal(t, int64(42), first.BatchID)
	assert.Equal(t, int64(1), first.RowNumber)
	assert.Equal(t, "ofx", first.SourceType)
	assert.Equal(t, bigquery.NullString{StringVal: "abc123", Valid: true}, first.Checksum)
	assert.True(t, first.TransactionDate.Valid)
	assert.Equal(t, "2024-01-15", first.TransactionDate.Date.String())
	assert.Equal(t, "-42.50", first.Amount.StringVal)
	assert.Equal(t, "0.00", first.Debit.StringVal)
	assert.Equal(t, "42.50", first.Credit.StringVal)
	assert.Equal(t, "USD", first.Currency.StringVal)
	assert.False(t, first.AccountName.Valid)
	assert.False(t, first.Message.Valid)
	assert.True(t, first.Normalized.Valid)
	assert.Equal(t, exported, first.ExportedAt)

	second := out[1]
	assert.Equal(t, "error", second.Status)
	assert.Equal(t, msg, second.Message.StringVal)
	assert.False(t, second.Normalized.Valid)
	assert.False(t, second.TransactionDate.Valid)
	assert.False(t, second.Amount.Valid)
	assert.True(t, second.Payload.Valid)
}

func TestToRowsRejectsCorruptNormalized(t *testing.T) {
	rows := []*domain.ImportRow{{RowNumber: 1, Normalized: json.RawMessage(`{"amount":"nope"`), Status: domain.RowPending}}
	_, err := ToRows(testBatch(), rows, time.Now())
	assert.Error(t, err)
}

func TestEncodeNDJSON(t *testing.T) {
	out, err := ToRows(testBatch(), []*domain.ImportRow{
		{RowNumber: 1, Payload: json.RawMessage(`{}`), Status: domain.RowPending},
		{RowNumber: 2, Payload: json.RawMessage(`{}`), Status: domain.RowPending},
	}, time.Now())
	require.NoError(t, err)

	data, err := EncodeNDJSON(out)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	for i, line := range lines {
		var decoded map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &decoded))
		assert.Equal(t, float64(i+1), decoded["row_number"])
		assert.Nil(t, decoded["transaction_date"])
		assert.Equal(t, "abc123", decoded["checksum"])
	}
}

func TestSchema(t *testing.T) {
	schema, err := Schema()
	require.NoError(t, err)

	types := map[string]bigquery.FieldType{}
	for _, f := range schema {
		types[f.Name] = f.Type
	}
	assert.Equal(t, bigquery.IntegerFieldType, types["batch_id"])
	assert.Equal(t, bigquery.DateFieldType, types["transaction_date"])
	assert.Equal(t, bigquery.NumericFieldType, types["amount"])
	assert.Equal(t, bigquery.NumericFieldType, types["credit"])
	assert.Equal(t, bigquery.StringFieldType, types["description"])
	assert.Equal(t, bigquery.JSONFieldType, types["payload"])
	assert.Equal(t, bigquery.TimestampFieldType, types["exported_at"])
}
