package normalize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dvloznov/finance-import/internal/domain"
	"github.com/shopspring/decimal"
)

// FractionStatus tells which denominator fallback, if any, DecodeFraction applied.
type FractionStatus int

// Fallback reports whether an unusable denominator was replaced by 1.
func (s FractionStatus) Fallback() bool {
	return s == FractionBadDenominator || s == FractionZeroDenominator
}

const (
	FractionExact FractionStatus = iota
	// FractionMissingDenominator: no "/" in the input.
	FractionMissingDenominator
	// FractionBadDenominator: the denominator was not an integer.
	FractionBadDenominator
	// FractionZeroDenominator: the denominator was 0.
	FractionZeroDenominator
)

// Fraction parts are integers and amounts plain decimals. Exponent notation is
// rejected: "1e-40000000" would otherwise expand to millions of digits.
var (
	integerPattern = regexp.MustCompile(`^[+-]?\d+$`)
	amountPattern  = regexp.MustCompile(`^[+-]?\d+([.,]\d+)?$`)
)

func (s FractionStatus) String() string {
	switch s {
	case FractionExact:
		return "exact"
	case FractionMissingDenominator:
		return "missing denominator"
	case FractionBadDenominator:
		return "non-numeric denominator"
	case FractionZeroDenominator:
		return "zero denominator"
	}
	return "unknown"
}

// DecodeFraction decodes a "numerator/denominator" amount as used by the XML
// book format. A missing, zero or non-numeric denominator is treated as 1.
// The result is rounded to two fraction digits.
func DecodeFraction(s string) (decimal.Decimal, FractionStatus, error) {
	s = strings.TrimSpace(s)
	num, den, found := strings.Cut(s, "/")

	num = strings.TrimSpace(num)
	if !integerPattern.MatchString(num) {
		return decimal.Zero, FractionExact, fmt.Errorf("decode fraction %q: numerator is not an integer", s)
	}
	n, err := decimal.NewFromString(strings.TrimPrefix(num, "+"))
	if err != nil {
		return decimal.Zero, FractionExact, fmt.Errorf("decode fraction %q: numerator: %w", s, err)
	}

	status := FractionExact
	d := DefaultDenominator
	den = strings.TrimSpace(den)
	switch {
	case !found:
		status = FractionMissingDenominator
	case !integerPattern.MatchString(den):
		status = FractionBadDenominator
	default:
		parsed, err := decimal.NewFromString(strings.TrimPrefix(den, "+"))
		switch {
		case err != nil:
			status = FractionBadDenominator
		case parsed.IsZero():
			status = FractionZeroDenominator
		default:
			d = parsed
		}
	}

	return n.Div(d).Round(2), status, nil
}

// ParseAmount parses a plain decimal such as "-42.50" or "+10". A comma is
// accepted as the decimal separator.
func ParseAmount(s string) (decimal.Decimal, error) {
	v := strings.TrimSpace(s)
	if !amountPattern.MatchString(v) {
		return decimal.Zero, fmt.Errorf("parse amount %q: not a plain decimal", s)
	}
	v = strings.Replace(strings.TrimPrefix(v, "+"), ",", ".", 1)
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return d.Round(2), nil
}

// SplitAmount derives the debit/credit pair from a signed amount.
// Positive amounts are debits, negative amounts are credits.
func SplitAmount(amount decimal.Decimal) (debit, credit decimal.Decimal) {
	switch amount.Sign() {
	case 1:
		return amount, decimal.Zero
	case -1:
		return decimal.Zero, amount.Neg()
	}
	return decimal.Zero, decimal.Zero
}

// ApplyAmount sets Amount, Debit and Credit on tx.
func ApplyAmount(tx *domain.Transaction, amount decimal.Decimal) {
	amount = amount.Round(2)
	debit, credit := SplitAmount(amount)
	tx.Amount = domain.NewMoney(amount)
	tx.Debit = domain.NewMoney(debit)
	tx.Credit = domain.NewMoney(credit)
}
