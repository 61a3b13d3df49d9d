// Package ofx parses OFX and QFX statement downloads. Files are treated as
// line-oriented tag soup so that the many non-conforming bank exports still
// yield their transactions.
package ofx

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/aclindsa/ofxgo"
	"github.com/dvloznov/finance-import/internal/domain"
	"github.com/dvloznov/finance-import/internal/normalize"
	"github.com/dvloznov/finance-import/internal/parsers"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

var charsetHeader = regexp.MustCompile(`(?mi)^\s*CHARSET:\s*([A-Za-z0-9_-]+)`)

// Parser reads OFX/QFX files.
type Parser struct {
	policy normalize.Policy
}

// NewParser creates a parser applying policy to normalized rows.
func NewParser(policy normalize.Policy) *Parser {
	return &Parser{policy: policy}
}

// Name implements parsers.Parser.
func (p *Parser) Name() string {
	return "ofx"
}

// Parse implements parsers.Parser. A file without any transaction block fails
// with domain.ErrNoTransactionsFound, or domain.ErrEmptyStatement when the file
// is a well-formed statement whose transaction list is empty.
func (p *Parser) Parse(ctx context.Context, data []byte) ([]parsers.Record, error) {
	text, err := decodeText(data)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc, err := Scan(text)
	if err != nil {
		return nil, fmt.Errorf("ofx: scan (%d bytes): %w: %v", len(data), domain.ErrParseFailed, err)
	}
	if len(doc.Records) == 0 {
		return nil, classifyEmpty(data)
	}

	records := make([]parsers.Record, 0, len(doc.Records))
	for i, rec := range doc.Records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records = append(records, p.buildRecord(i+1, rec))
	}
	return records, nil
}

func (p *Parser) buildRecord(rowNumber int, scanned Record) parsers.Record {
	fields := scanned.Fields
	rec := parsers.Record{
		RowNumber: rowNumber,
		Payload:   fields,
		Status:    domain.RowPending,
	}

	raw, ok := fields["TRNAMT"]
	if !ok {
		rec.Status = domain.RowError
		rec.Message = fmt.Sprintf("transaction %s: missing TRNAMT", fields["FITID"])
		return rec
	}
	amount, err := normalize.ParseAmount(raw)
	if err != nil {
		rec.Status = domain.RowError
		rec.Message = fmt.Sprintf("transaction %s: %v", fields["FITID"], err)
		return rec
	}

	posted, ok := fields["DTPOSTED"]
	if !ok || posted == "" {
		posted = fields["DTUSER"]
	}

	tx := &domain.Transaction{
		Date:            normalize.ParseOFXDate(posted),
		Description:     p.policy.Description(html.UnescapeString(fields["NAME"]), html.UnescapeString(fields["MEMO"])),
		Currency:        p.policy.Currency(fields["CURSYM"], scanned.Currency),
		Reference:       p.policy.Reference(fields["CHECKNUM"], fields["FITID"]),
		Source:          domain.SourceOFX,
		TransactionType: strings.ToUpper(fields["TRNTYPE"]),
		AccountID:       scanned.AccountID,
	}
	normalize.ApplyAmount(tx, amount)
	rec.Normalized = tx
	return rec
}

// decodeText converts a v1 header CHARSET of 1252 or 8859-1 to UTF-8. Files
// that are already valid UTF-8 are returned as-is whatever the header says.
func decodeText(data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}

	var enc encoding.Encoding = charmap.Windows1252
	if m := charsetHeader.FindSubmatch(headerOf(data)); m != nil {
		switch strings.ToUpper(string(m[1])) {
		case "ISO-8859-1", "8859-1", "ISO8859-1":
			enc = charmap.ISO8859_1
		}
	}

	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("ofx: decode charset: %w: %v", domain.ErrParseFailed, err)
	}
	return string(out), nil
}

func headerOf(data []byte) []byte {
	if i := bytes.IndexByte(data, '<'); i >= 0 {
		return data[:i]
	}
	return data
}

// classifyEmpty tells an empty statement period apart from a file that is not
// a statement at all.
func classifyEmpty(data []byte) error {
	resp, err := ofxgo.ParseResponse(bytes.NewReader(data))
	if err == nil && hasStatement(resp) {
		return fmt.Errorf("ofx: %w", domain.ErrEmptyStatement)
	}
	return fmt.Errorf("ofx: %w: no STMTTRN or INVBANKTRAN blocks in %d bytes", domain.ErrNoTransactionsFound, len(data))
}

func hasStatement(resp *ofxgo.Response) bool {
	for _, msg := range resp.Bank {
		if _, ok := msg.(*ofxgo.StatementResponse); ok {
			return true
		}
	}
	for _, msg := range resp.CreditCard {
		if _, ok := msg.(*ofxgo.CCStatementResponse); ok {
			return true
		}
	}
	for _, msg := range resp.InvStmt {
		if _, ok := msg.(*ofxgo.InvStatementResponse); ok {
			return true
		}
	}
	return false
}
