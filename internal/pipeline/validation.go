package pipeline

import (
	"fmt"
	"strings"

	"github.com/dvloznov/finance-import/internal/domain"
	"github.com/dvloznov/finance-import/internal/parsers"
	"golang.org/x/text/currency"
)

// RecordValidator checks normalized transactions before they are staged.
// Findings never abort a batch; they turn the record into an error row.
type RecordValidator struct {
	// knownCurrencies overrides the ISO 4217 lookup for codes such as
	// commodity tickers that a book uses as its currency.
	knownCurrencies map[string]bool
}

// NewRecordValidator creates a validator. extraCurrencies are accepted in
// addition to ISO 4217 codes.
func NewRecordValidator(extraCurrencies ...string) *RecordValidator {
	v := &RecordValidator{knownCurrencies: make(map[string]bool)}
	for _, c := range extraCurrencies {
		v.knownCurrencies[normalizeCode(c)] = true
	}
	return v
}

// Validate returns nil when tx may be staged as pending.
func (v *RecordValidator) Validate(tx *domain.Transaction) error {
	if tx == nil {
		return nil
	}
	if !tx.Balanced() {
		return fmt.Errorf("debit %s and credit %s do not match amount %s", tx.Debit, tx.Credit, tx.Amount)
	}
	if err := v.ValidateCurrency(tx.Currency); err != nil {
		return err
	}
	return nil
}

// ValidateCurrency checks a currency code. Returns nil if valid, error if invalid.
func (v *RecordValidator) ValidateCurrency(code string) error {
	norm := normalizeCode(code)
	if v.knownCurrencies[norm] {
		return nil
	}
	if len(norm) != 3 {
		return fmt.Errorf("invalid currency code %q", code)
	}
	if _, err := currency.ParseISO(norm); err != nil {
		return fmt.Errorf("unknown currency code %q", code)
	}
	return nil
}

// Apply validates every pending record in place.
func (v *RecordValidator) Apply(records []parsers.Record) {
	for i := range records {
		rec := &records[i]
		if rec.Status == domain.RowError {
			continue
		}
		if err := v.Validate(rec.Normalized); err != nil {
			rec.Status = domain.RowError
			rec.Message = fmt.Sprintf("row %d: %v", rec.RowNumber, err)
		}
	}
}

// normalizeCode normalizes a currency code for comparison.
func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
