// Package xmlbook parses desktop accounting books saved as (optionally gzip
// compressed) GnuCash XML. Every split of every transaction becomes one record.
package xmlbook

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dvloznov/finance-import/internal/domain"
	"github.com/dvloznov/finance-import/internal/normalize"
	"github.com/dvloznov/finance-import/internal/parsers"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

const nsGnc = "http://www.gnucash.org/XML/gnc"

// MaxDecompressedBytes bounds the inflated size of a compressed book.
const MaxDecompressedBytes = 512 << 20

var gzipMagic = []byte{0x1F, 0x8B}

// Parser reads GnuCash XML books.
type Parser struct {
	source domain.SourceType
	policy normalize.Policy
}

// NewParser creates a parser tagging rows with source and applying policy to
// normalized rows. Compressed and plain books are both accepted regardless of
// source.
func NewParser(source domain.SourceType, policy normalize.Policy) *Parser {
	return &Parser{source: source, policy: policy}
}

// Name implements parsers.Parser.
func (p *Parser) Name() string {
	return "gnucash-xml"
}

// Parse implements parsers.Parser.
func (p *Parser) Parse(ctx context.Context, data []byte) ([]parsers.Record, error) {
	raw, err := Decompress(data)
	if err != nil {
		return nil, err
	}

	book, err := readBook(ctx, raw)
	if err != nil {
		return nil, err
	}

	var records []parsers.Record
	rowNumber := 0
	for _, trn := range book.transactions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, s := range trn.Splits {
			rowNumber++
			records = append(records, p.buildRecord(rowNumber, trn, s, book.accounts))
		}
	}

	return records, nil
}

// Decompress inflates data when it starts with the gzip magic bytes and returns
// it unchanged otherwise.
func Decompress(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, gzipMagic) {
		return data, nil
	}

	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("xmlbook: open gzip stream: %w: %v", domain.ErrDecompressionFailed, err)
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, MaxDecompressedBytes+1))
	if err != nil {
		return nil, fmt.Errorf("xmlbook: inflate: %w: %v", domain.ErrDecompressionFailed, err)
	}
	if len(out) > MaxDecompressedBytes {
		return nil, fmt.Errorf("xmlbook: inflate: %w: book exceeds %d bytes", domain.ErrDecompressionFailed, MaxDecompressedBytes)
	}
	return out, nil
}

type book struct {
	accounts     map[string]account
	transactions []transaction
}

// readBook runs the first pass: collect the account lookup and the transaction
// elements. Template transactions used by scheduled transactions are skipped.
func readBook(ctx context.Context, data []byte) (*book, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charsetReader

	b := &book{accounts: make(map[string]account)}
	sawRoot := false

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("xmlbook: %w: %v", domain.ErrParseFailed, err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		if !sawRoot {
			if start.Name.Local != "gnc-v2" {
				return nil, fmt.Errorf("xmlbook: %w: unexpected root element <%s>", domain.ErrParseFailed, start.Name.Local)
			}
			sawRoot = true
			continue
		}

		switch {
		case start.Name.Local == "template-transactions":
			if err := dec.Skip(); err != nil {
				return nil, fmt.Errorf("xmlbook: %w: %v", domain.ErrParseFailed, err)
			}
		case isBookElement(start.Name, "account"):
			var acct account
			if err := dec.DecodeElement(&acct, &start); err != nil {
				return nil, fmt.Errorf("xmlbook: account: %w: %v", domain.ErrParseFailed, err)
			}
			b.accounts[strings.TrimSpace(acct.ID)] = acct
		case isBookElement(start.Name, "transaction"):
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			var trn transaction
			if err := dec.DecodeElement(&trn, &start); err != nil {
				return nil, fmt.Errorf("xmlbook: transaction: %w: %v", domain.ErrParseFailed, err)
			}
			b.transactions = append(b.transactions, trn)
		}
	}

	if !sawRoot {
		return nil, fmt.Errorf("xmlbook: %w: document has no root element", domain.ErrParseFailed)
	}
	return b, nil
}

func isBookElement(name xml.Name, local string) bool {
	if name.Local != local {
		return false
	}
	return name.Space == "" || name.Space == nsGnc || name.Space == "gnc"
}

// charsetReader lets books declare any IANA encoding in their XML prolog.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", label, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
	return transform.NewReader(input, enc.NewDecoder()), nil
}
