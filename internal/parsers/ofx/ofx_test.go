package ofx

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/dvloznov/finance-import/internal/domain"
	"github.com/dvloznov/finance-import/internal/normalize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestParser() *Parser {
	return NewParser(normalize.DefaultPolicy())
}

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile("testdata/" + name)
	require.NoError(t, err)
	return data
}

func TestParseCoffeeShop(t *testing.T) {
	records, err := newTestParser().Parse(context.Background(), readFixture(t, "coffee.ofx"))
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, 1, rec.RowNumber)
	assert.Equal(t, domain.RowPending, rec.Status)
	require.NotNil(t, rec.Normalized)

	tx := rec.Normalized
	require.NotNil(t, tx.Date)
	assert.Equal(t, "2024-01-15", tx.Date.String())
	assert.Equal(t, "Coffee Shop", tx.Description)
	assert.Equal(t, "-42.50", tx.Amount.String())
	assert.Equal(t, "0.00", tx.Debit.String())
	assert.Equal(t, "42.50", tx.Credit.String())
	assert.Equal(t, "USD", tx.Currency)
	assert.Equal(t, "202401150001", tx.Reference)
	assert.Equal(t, "DEBIT", tx.TransactionType)
	assert.Equal(t, "9876543210", tx.AccountID)
	assert.Equal(t, domain.SourceOFX, tx.Source)

	fields, ok := rec.Payload.(Fields)
	require.True(t, ok)
	assert.Equal(t, "-42.50", fields["TRNAMT"])
	assert.Equal(t, "20240115120000", fields["DTPOSTED"])
	assert.NotContains(t, fields, "BALAMT")
}

func TestParseQFXVariants(t *testing.T) {
	records, err := newTestParser().Parse(context.Background(), readFixture(t, "checking.qfx"))
	require.NoError(t, err)
	require.Len(t, records, 3)

	check := records[0].Normalized
	require.NotNil(t, check)
	assert.Equal(t, "1042", check.Reference, "check number wins over FITID")
	assert.Equal(t, "Landlord & Co", check.Description)
	assert.Equal(t, "CAD", check.Currency)
	assert.Equal(t, "2024-02-03", check.Date.String())
	assert.Equal(t, "-120.00", check.Amount.String())

	payroll := records[1].Normalized
	require.NotNil(t, payroll)
	assert.Nil(t, payroll.Date, "short timestamp yields a null date")
	assert.Equal(t, domain.RowPending, records[1].Status)
	assert.Equal(t, "Payroll deposit", payroll.Description)
	assert.Equal(t, "F-2", payroll.Reference)
	assert.Equal(t, "1500.00", payroll.Debit.String())
	assert.Equal(t, "0.00", payroll.Credit.String())

	fee := records[2].Normalized
	require.NotNil(t, fee)
	assert.Equal(t, normalize.DefaultDescription, fee.Description)
	assert.Equal(t, "-2.50", fee.Amount.String())
	assert.Equal(t, "FEE", fee.TransactionType)
	assert.Equal(t, 3, records[2].RowNumber)
}

func TestRecordBoundaries(t *testing.T) {
	doc := `<OFX>
<STMTTRN>
<TRNTYPE>DEBIT
<TRNAMT>-1.00
<FITID>A
</STMTTRN>
<STMTTRN>
<TRNTYPE>CREDIT
<TRNAMT>2.00
<FITID>B
<NAME>Second
</STMTTRN>
<NAME>Outside
<MEMO>Trailing
</OFX>`

	records, err := newTestParser().Parse(context.Background(), []byte(doc))
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0].Payload.(Fields)
	second := records[1].Payload.(Fields)
	assert.Equal(t, Fields{"TRNTYPE": "DEBIT", "TRNAMT": "-1.00", "FITID": "A"}, first)
	assert.Equal(t, Fields{"TRNTYPE": "CREDIT", "TRNAMT": "2.00", "FITID": "B", "NAME": "Second"}, second)
	assert.Equal(t, normalize.DefaultDescription, records[0].Normalized.Description)
	assert.Equal(t, "Second", records[1].Normalized.Description)
}

func TestInvestmentBankTransaction(t *testing.T) {
	doc := `<OFX><INVSTMTMSGSRSV1><INVSTMTTRNRS><INVSTMTRS><CURDEF>USD
<INVTRANLIST>
<INVBANKTRAN>
<STMTTRN>
<TRNTYPE>INT
<DTPOSTED>20240310
<TRNAMT>3.21
<FITID>INV-1
<NAME>Interest
</STMTTRN>
<SUBACCTFUND>CASH
</INVBANKTRAN>
</INVTRANLIST>
</INVSTMTRS></INVSTMTTRNRS></INVSTMTMSGSRSV1></OFX>`

	records, err := newTestParser().Parse(context.Background(), []byte(doc))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Interest", records[0].Normalized.Description)
	assert.Equal(t, "3.21", records[0].Normalized.Debit.String())
	assert.NotContains(t, records[0].Payload.(Fields), "SUBACCTFUND")
}

func TestNoTransactionsFound(t *testing.T) {
	_, err := newTestParser().Parse(context.Background(), []byte("Date,Amount\n2024-01-01,10.00\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoTransactionsFound)
	assert.False(t, errors.Is(err, domain.ErrEmptyStatement))
}

func TestEmptyStatement(t *testing.T) {
	_, err := newTestParser().Parse(context.Background(), readFixture(t, "empty_statement.ofx"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoTransactionsFound)
	assert.ErrorIs(t, err, domain.ErrEmptyStatement)
}

func TestBadAmountIsRowLevel(t *testing.T) {
	doc := `<STMTTRN>
<TRNAMT>twelve
<FITID>X1
</STMTTRN>
<STMTTRN>
<FITID>X2
</STMTTRN>
<STMTTRN>
<TRNAMT>5.00
<FITID>X3
</STMTTRN>`

	records, err := newTestParser().Parse(context.Background(), []byte(doc))
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, domain.RowError, records[0].Status)
	assert.Nil(t, records[0].Normalized)
	assert.Contains(t, records[0].Message, "X1")

	assert.Equal(t, domain.RowError, records[1].Status)
	assert.Contains(t, records[1].Message, "missing TRNAMT")

	assert.Equal(t, domain.RowPending, records[2].Status)
	assert.Empty(t, records[2].Message)
}

func TestDateFallsBackToUserDate(t *testing.T) {
	doc := "<STMTTRN>\n<DTUSER>20240401\n<TRNAMT>1\n</STMTTRN>\n"

	records, err := newTestParser().Parse(context.Background(), []byte(doc))
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].Normalized.Date)
	assert.Equal(t, "2024-04-01", records[0].Normalized.Date.String())
}

func TestWindows1252Text(t *testing.T) {
	doc := "OFXHEADER:100\nCHARSET:1252\n\n<STMTTRN>\n<TRNAMT>-3.00\n<NAME>Caf\xe9 Z\xfcrich\n</STMTTRN>\n"

	records, err := newTestParser().Parse(context.Background(), []byte(doc))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Café Zürich", records[0].Normalized.Description)
}

func TestParseHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestParser().Parse(ctx, readFixture(t, "coffee.ofx"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSegments(t *testing.T) {
	assert.Equal(t, []string{"<NAME>Coffee", "</NAME>"}, segments("<NAME>Coffee</NAME>"))
	assert.Equal(t, []string{"<A>1", "<B>2"}, segments("  <A>1 <B>2  "))
	assert.Equal(t, []string{"OFXHEADER:100"}, segments("OFXHEADER:100"))
	assert.Nil(t, segments("   "))
}

func TestScanStatementContext(t *testing.T) {
	doc, err := Scan("<CURDEF>eur\n<ACCTID>111\n<STMTTRN>\n<ACCTID>inner\n<TRNAMT>1\n</STMTTRN>\n<ACCTID>222\n")
	require.NoError(t, err)
	require.Len(t, doc.Records, 1)
	assert.Equal(t, "eur", doc.Records[0].Currency)
	assert.Equal(t, "111", doc.Records[0].AccountID)
	assert.Equal(t, "inner", doc.Records[0].Fields["ACCTID"])
}

func TestEachStatementKeepsItsOwnContext(t *testing.T) {
	doc := `<OFX>
<BANKMSGSRSV1><STMTTRNRS><STMTRS>
<CURDEF>USD
<BANKACCTFROM><ACCTID>CHK-1</BANKACCTFROM>
<BANKTRANLIST>
<STMTTRN><TRNAMT>-10.00<FITID>B1</STMTTRN>
</BANKTRANLIST>
</STMTRS></STMTTRNRS></BANKMSGSRSV1>
<CREDITCARDMSGSRSV1><CCSTMTTRNRS><CCSTMTRS>
<CURDEF>EUR
<CCACCTFROM><ACCTID>CARD-2</CCACCTFROM>
<BANKTRANLIST>
<STMTTRN><TRNAMT>-20.00<FITID>C1</STMTTRN>
</BANKTRANLIST>
</CCSTMTRS></CCSTMTTRNRS></CREDITCARDMSGSRSV1>
<INVSTMTMSGSRSV1><INVSTMTTRNRS><INVSTMTRS>
<INVTRANLIST>
<INVBANKTRAN><STMTTRN><TRNAMT>5.00<FITID>I1</STMTTRN><SUBACCTFUND>CASH</INVBANKTRAN>
</INVTRANLIST>
</INVSTMTRS></INVSTMTTRNRS></INVSTMTMSGSRSV1>
</OFX>`

	records, err := newTestParser().Parse(context.Background(), []byte(doc))
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "USD", records[0].Normalized.Currency)
	assert.Equal(t, "CHK-1", records[0].Normalized.AccountID)

	assert.Equal(t, "EUR", records[1].Normalized.Currency)
	assert.Equal(t, "CARD-2", records[1].Normalized.AccountID)

	// No CURDEF or ACCTID in the third statement: nothing leaks from the card.
	assert.Equal(t, normalize.DefaultPolicy().DefaultCurrency, records[2].Normalized.Currency)
	assert.Empty(t, records[2].Normalized.AccountID)
}

func TestExponentAmountIsRowLevel(t *testing.T) {
	doc := "<STMTTRN>\n<TRNAMT>1e40000000\n<FITID>E1\n</STMTTRN>\n<STMTTRN>\n<TRNAMT>1e3\n<FITID>E2\n</STMTTRN>\n"

	records, err := newTestParser().Parse(context.Background(), []byte(doc))
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, domain.RowError, rec.Status)
		assert.Nil(t, rec.Normalized)
	}
}
