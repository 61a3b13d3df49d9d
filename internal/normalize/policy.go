package normalize

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// DefaultCurrency is used when the source omits a currency.
	DefaultCurrency = "USD"

	// DefaultDescription is used when neither name nor memo is present.
	DefaultDescription = "(no description)"
)

// DefaultDenominator is used when a fraction has no usable denominator.
var DefaultDenominator = decimal.NewFromInt(1)

// Policy holds the fallbacks applied while normalizing records.
type Policy struct {
	DefaultCurrency    string
	DefaultDescription string
}

// DefaultPolicy returns the stock fallbacks.
func DefaultPolicy() Policy {
	return Policy{
		DefaultCurrency:    DefaultCurrency,
		DefaultDescription: DefaultDescription,
	}
}

// WithCurrency returns a copy of p using code as the default currency.
// Blank codes keep the current default.
func (p Policy) WithCurrency(code string) Policy {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code != "" {
		p.DefaultCurrency = code
	}
	return p
}

// Currency returns the first non-blank candidate upper-cased, or the default.
func (p Policy) Currency(candidates ...string) string {
	if v := firstNonBlank(candidates...); v != "" {
		return strings.ToUpper(v)
	}
	if p.DefaultCurrency == "" {
		return DefaultCurrency
	}
	return p.DefaultCurrency
}

// Description falls back through candidates in order, then to the placeholder.
func (p Policy) Description(candidates ...string) string {
	if v := firstNonBlank(candidates...); v != "" {
		return v
	}
	if p.DefaultDescription == "" {
		return DefaultDescription
	}
	return p.DefaultDescription
}

// Reference falls back through candidates in order; it may be empty.
func (p Policy) Reference(candidates ...string) string {
	return firstNonBlank(candidates...)
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
