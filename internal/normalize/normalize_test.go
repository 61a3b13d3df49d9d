package normalize

import (
	"fmt"
	"testing"

	"github.com/dvloznov/finance-import/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFraction(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		status FractionStatus
	}{
		{"2500/100", "25", FractionExact},
		{"-2500/100", "-25", FractionExact},
		{"1/3", "0.33", FractionExact},
		{"2/3", "0.67", FractionExact},
		{"-1/8", "-0.13", FractionExact},
		{"0/100", "0", FractionExact},
		{"12345/1000", "12.35", FractionExact},
		{"42", "42", FractionMissingDenominator},
		{"4250/abc", "4250", FractionBadDenominator},
		{"4250/", "4250", FractionBadDenominator},
		{"7/0", "7", FractionZeroDenominator},
		{"100/1e-3", "100", FractionBadDenominator},
		{"1/1e-40000000", "1", FractionBadDenominator},
		{"+250/100", "2.5", FractionExact},
		{" 150/100 ", "1.5", FractionExact},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, status, err := DecodeFraction(tt.in)
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s want %s", got, tt.want)
			assert.Equal(t, tt.status, status)
		})
	}
}

func TestDecodeFractionRoundTrip(t *testing.T) {
	for a := int64(-1000); a <= 1000; a += 37 {
		for _, b := range []int64{1, 2, 3, 7, 100, 1000} {
			got, status, err := DecodeFraction(fmt.Sprintf("%d/%d", a, b))
			require.NoError(t, err)
			require.Equal(t, FractionExact, status)
			want := decimal.NewFromInt(a).Div(decimal.NewFromInt(b)).Round(2)
			require.True(t, got.Equal(want), "%d/%d: got %s want %s", a, b, got, want)
		}
	}
}

func TestDecodeFractionBadNumerator(t *testing.T) {
	_, _, err := DecodeFraction("abc/100")
	assert.Error(t, err)

	_, _, err = DecodeFraction("")
	assert.Error(t, err)

	for _, in := range []string{"1e5/100", "1e40000000/1", "0x10/1", "1.5/100"} {
		_, _, err = DecodeFraction(in)
		assert.Error(t, err, in)
	}
}

func TestFractionStatusFallback(t *testing.T) {
	assert.False(t, FractionExact.Fallback())
	assert.False(t, FractionMissingDenominator.Fallback())
	assert.True(t, FractionBadDenominator.Fallback())
	assert.True(t, FractionZeroDenominator.Fallback())
	assert.Equal(t, "zero denominator", FractionZeroDenominator.String())
}

func TestSplitAmount(t *testing.T) {
	for _, s := range []string{"25", "-25", "0", "0.01", "-1234.56"} {
		amount := decimal.RequireFromString(s)
		debit, credit := SplitAmount(amount)

		assert.True(t, debit.Sub(credit).Equal(amount), s)
		assert.False(t, debit.IsNegative(), s)
		assert.False(t, credit.IsNegative(), s)
		assert.True(t, debit.IsZero() || credit.IsZero(), s)
	}
}

func TestApplyAmount(t *testing.T) {
	var tx domain.Transaction
	ApplyAmount(&tx, decimal.RequireFromString("-42.5"))

	assert.Equal(t, "-42.50", tx.Amount.String())
	assert.Equal(t, "0.00", tx.Debit.String())
	assert.Equal(t, "42.50", tx.Credit.String())
	assert.True(t, tx.Balanced())
}

func TestParseAmount(t *testing.T) {
	tests := map[string]string{
		"-42.50":   "-42.5",
		"+10":      "10",
		" 3.14159": "3.14",
		"-42,50":   "-42.5",
	}
	for in, want := range tests {
		got, err := ParseAmount(in)
		require.NoError(t, err, in)
		assert.True(t, got.Equal(decimal.RequireFromString(want)), "%s: got %s", in, got)
	}

	_, err := ParseAmount("")
	assert.Error(t, err)
	_, err = ParseAmount("twelve")
	assert.Error(t, err)
	_, err = ParseAmount("1,000,000")
	assert.Error(t, err)

	for _, in := range []string{"1e3", "1e40000000", "-2.5E-10", ".50", "1.", "Inf"} {
		_, err = ParseAmount(in)
		assert.Error(t, err, in)
	}
}

func TestParseOFXDate(t *testing.T) {
	d := ParseOFXDate("20240115120000")
	require.NotNil(t, d)
	assert.Equal(t, "2024-01-15", d.String())

	d = ParseOFXDate("20240229")
	require.NotNil(t, d)
	assert.Equal(t, "2024-02-29", d.String())

	d = ParseOFXDate("20240115120000.000[-5:EST]")
	require.NotNil(t, d)
	assert.Equal(t, "2024-01-15", d.String())

	assert.Nil(t, ParseOFXDate("2024011"))
	assert.Nil(t, ParseOFXDate(""))
	assert.Nil(t, ParseOFXDate("2024AB15"))
	assert.Nil(t, ParseOFXDate("20241399"))
	assert.Nil(t, ParseOFXDate("20230229"))
}

func TestParseBookDate(t *testing.T) {
	d := ParseBookDate("2024-01-15 10:59:00 +0000")
	require.NotNil(t, d)
	assert.Equal(t, "2024-01-15", d.String())

	assert.Nil(t, ParseBookDate("2024-13-01 00:00:00 +0000"))
	assert.Nil(t, ParseBookDate("garbage"))
	assert.Nil(t, ParseBookDate(""))
}

func TestPolicyDescription(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, "Coffee Shop", p.Description("Coffee Shop", "memo"))
	assert.Equal(t, "memo", p.Description("  ", "memo"))
	assert.Equal(t, DefaultDescription, p.Description("", ""))
	assert.Equal(t, DefaultDescription, Policy{}.Description())
}

func TestPolicyCurrency(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, "EUR", p.Currency("eur"))
	assert.Equal(t, "GBP", p.Currency("", "gbp"))
	assert.Equal(t, DefaultCurrency, p.Currency(""))
	assert.Equal(t, "CAD", p.WithCurrency("cad").Currency())
	assert.Equal(t, DefaultCurrency, p.WithCurrency(" ").Currency())
	assert.Equal(t, DefaultCurrency, Policy{}.Currency())
}

func TestPolicyReference(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, "1001", p.Reference("1001", "FIT-1"))
	assert.Equal(t, "FIT-1", p.Reference("", "FIT-1"))
	assert.Equal(t, "", p.Reference("", ""))
}
