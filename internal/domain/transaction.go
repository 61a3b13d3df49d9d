package domain

import (
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Transaction is the canonical normalized transaction stored in
// import_rows.normalized. The commit step reads this shape and nothing else.
type Transaction struct {
	Date        *civil.Date `json:"date"`        // nil when the source date is missing or garbled
	Description string      `json:"description"` // never empty, see normalize.Policy
	Amount      Money       `json:"amount"`      // signed, 2 fraction digits
	Debit       Money       `json:"debit"`
	Credit      Money       `json:"credit"`
	Currency    string      `json:"currency"`
	Reference   string      `json:"reference"`
	Source      SourceType  `json:"source"`

	// XML book passthrough
	AccountGUID *string `json:"account_guid,omitempty"`
	AccountName *string `json:"account_name,omitempty"`
	AccountCode *string `json:"account_code,omitempty"`
	AccountType *string `json:"account_type,omitempty"`

	// OFX passthrough
	TransactionType string `json:"transaction_type,omitempty"`
	AccountID       string `json:"account_id,omitempty"`
}

// Balanced reports whether debit - credit equals amount and at most one side is non-zero.
func (t *Transaction) Balanced() bool {
	if !t.Debit.Sub(t.Credit.Decimal).Equal(t.Amount.Decimal) {
		return false
	}
	return t.Debit.IsZero() || t.Credit.IsZero()
}

// Money is a decimal amount that serializes as a JSON number with two fraction digits.
type Money struct {
	decimal.Decimal
}

// NewMoney rounds d to cents.
func NewMoney(d decimal.Decimal) Money {
	return Money{d.Round(2)}
}

// MustMoney parses s and panics on failure. Intended for tests and constants.
func MustMoney(s string) Money {
	return NewMoney(decimal.RequireFromString(s))
}

func (m Money) String() string {
	return m.StringFixed(2)
}

// MarshalJSON implements json.Marshaler.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.StringFixed(2)), nil
}

// UnmarshalJSON accepts both JSON numbers and quoted strings.
func (m *Money) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return fmt.Errorf("money: %w", err)
	}
	m.Decimal = d
	return nil
}
