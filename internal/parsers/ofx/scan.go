package ofx

import (
	"bufio"
	"regexp"
	"strings"
)

// Record boundary tags. INVBANKTRAN wraps its own STMTTRN; the first end tag
// closes the record.
var (
	startTags = map[string]bool{"<STMTTRN>": true, "<INVBANKTRAN>": true}
	endTags   = map[string]bool{"</STMTTRN>": true, "</INVBANKTRAN>": true}

	// statementTags open a statement aggregate, which resets CURDEF and ACCTID.
	statementTags = map[string]bool{"<STMTRS>": true, "<CCSTMTRS>": true, "<INVSTMTRS>": true}
)

// tagValue matches an opening tag immediately followed by its value text.
var tagValue = regexp.MustCompile(`^<([A-Za-z0-9_.]+)>([^<]*)`)

// Fields is the tag -> value bag of one transaction record. Tags are upper-cased.
type Fields map[string]string

// Record is one transaction block with the context of the statement it
// appeared in.
type Record struct {
	Fields Fields
	// Currency is the CURDEF of the enclosing statement.
	Currency string
	// AccountID is the first ACCTID of the enclosing statement seen outside a
	// transaction block.
	AccountID string
}

// Document is the result of scanning a file. A file may hold several
// statements, e.g. a bank and a credit card statement.
type Document struct {
	Records []Record
}

// Scan walks the tag soup line by line. Lines holding several tags are split
// so each tag is handled as if it started its own line; an inline closing tag
// therefore never reaches the value.
func Scan(text string) (*Document, error) {
	doc := &Document{}
	var (
		current   Fields
		inRecord  bool
		currency  string
		accountID string
	)

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		for _, seg := range segments(sc.Text()) {
			upper := strings.ToUpper(seg)
			switch {
			case statementTags[upper]:
				if !inRecord {
					currency, accountID = "", ""
				}
				continue
			case startTags[upper]:
				if !inRecord {
					inRecord = true
					current = Fields{}
				}
				continue
			case endTags[upper]:
				if inRecord {
					doc.Records = append(doc.Records, Record{Fields: current, Currency: currency, AccountID: accountID})
					inRecord = false
					current = nil
				}
				continue
			}

			m := tagValue.FindStringSubmatch(seg)
			if m == nil {
				continue
			}
			tag := strings.ToUpper(m[1])
			value := strings.TrimSpace(m[2])

			if inRecord {
				current[tag] = value
				continue
			}
			switch tag {
			case "CURDEF":
				if currency == "" {
					currency = value
				}
			case "ACCTID":
				if accountID == "" {
					accountID = value
				}
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return doc, nil
}

// segments splits a line before every '<'.
func segments(line string) []string {
	var out []string
	for {
		line = strings.TrimSpace(line)
		if line == "" {
			return out
		}
		next := strings.IndexByte(line[1:], '<')
		if next < 0 {
			return append(out, line)
		}
		out = append(out, strings.TrimSpace(line[:next+1]))
		line = line[next+1:]
	}
}
