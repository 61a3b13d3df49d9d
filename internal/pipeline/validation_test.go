package pipeline

import (
	"testing"

	"github.com/dvloznov/finance-import/internal/domain"
	"github.com/dvloznov/finance-import/internal/parsers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func txn(amount, debit, credit, currency string) *domain.Transaction {
	return &domain.Transaction{
		Description: "test",
		Amount:      domain.MustMoney(amount),
		Debit:       domain.MustMoney(debit),
		Credit:      domain.MustMoney(credit),
		Currency:    currency,
		Source:      domain.SourceOFX,
	}
}

func TestRecordValidator_ValidateCurrency(t *testing.T) {
	v := NewRecordValidator("btc")

	tests := []struct {
		code    string
		wantErr bool
	}{
		{"USD", false},
		{"eur", false},
		{" GBP ", false},
		{"BTC", false},
		{"QQQ", true},
		{"US", true},
		{"", true},
		{"DOLLAR", true},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := v.ValidateCurrency(tt.code)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRecordValidator_Validate(t *testing.T) {
	v := NewRecordValidator()

	assert.NoError(t, v.Validate(nil))
	assert.NoError(t, v.Validate(txn("-42.50", "0.00", "42.50", "USD")))
	assert.NoError(t, v.Validate(txn("0.00", "0.00", "0.00", "USD")))

	err := v.Validate(txn("10.00", "0.00", "10.00", "USD"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "do not match")

	err = v.Validate(txn("10.00", "10.00", "0.00", "ZZZ"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ZZZ")
}

func TestRecordValidator_Apply(t *testing.T) {
	v := NewRecordValidator()
	records := []parsers.Record{
		{RowNumber: 1, Normalized: txn("5.00", "5.00", "0.00", "USD"), Status: domain.RowPending},
		{RowNumber: 2, Normalized: txn("5.00", "5.00", "0.00", "ABC"), Status: domain.RowPending},
		{RowNumber: 3, Status: domain.RowError, Message: "missing TRNAMT"},
	}

	v.Apply(records)

	assert.Equal(t, domain.RowPending, records[0].Status)
	assert.Empty(t, records[0].Message)

	assert.Equal(t, domain.RowError, records[1].Status)
	assert.Contains(t, records[1].Message, "row 2:")

	assert.Equal(t, "missing TRNAMT", records[2].Message, "existing row errors are kept")
}
