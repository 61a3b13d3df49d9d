package xmlbook

import (
	"fmt"
	"strings"

	"github.com/dvloznov/finance-import/internal/domain"
	"github.com/dvloznov/finance-import/internal/normalize"
	"github.com/dvloznov/finance-import/internal/parsers"
)

// Element names are matched on their local part so books that omit the
// namespace declarations still decode.

type commodity struct {
	Space string `xml:"space"`
	ID    string `xml:"id"`
}

type timestamp struct {
	Date string `xml:"date"`
}

type account struct {
	Name        string    `xml:"name"`
	ID          string    `xml:"id"`
	Type        string    `xml:"type"`
	Code        string    `xml:"code"`
	Description string    `xml:"description"`
	Parent      string    `xml:"parent"`
	Commodity   commodity `xml:"commodity"`
}

type transaction struct {
	ID          string    `xml:"id"`
	Currency    commodity `xml:"currency"`
	Num         string    `xml:"num"`
	DatePosted  timestamp `xml:"date-posted"`
	DateEntered timestamp `xml:"date-entered"`
	Description string    `xml:"description"`
	Splits      []split   `xml:"splits>split"`
}

type split struct {
	ID              string    `xml:"id"`
	Memo            string    `xml:"memo"`
	Action          string    `xml:"action"`
	ReconciledState string    `xml:"reconciled-state"`
	ReconcileDate   timestamp `xml:"reconcile-date"`
	Value           string    `xml:"value"`
	Quantity        string    `xml:"quantity"`
	Account         string    `xml:"account"`
}

// Payload is the raw transaction+split field bag stored verbatim for audit.
type Payload struct {
	TransactionGUID string `json:"transaction_guid"`
	SplitGUID       string `json:"split_guid"`
	DatePosted      string `json:"date_posted"`
	DateEntered     string `json:"date_entered"`
	Num             string `json:"num"`
	Description     string `json:"description"`
	CurrencySpace   string `json:"currency_space"`
	Currency        string `json:"currency"`
	Memo            string `json:"memo"`
	Action          string `json:"action"`
	ReconciledState string `json:"reconciled_state"`
	ReconcileDate   string `json:"reconcile_date"`
	Value           string `json:"value"`
	Quantity        string `json:"quantity"`
	AccountGUID     string `json:"account_guid"`
}

func newPayload(trn transaction, s split) Payload {
	return Payload{
		TransactionGUID: strings.TrimSpace(trn.ID),
		SplitGUID:       strings.TrimSpace(s.ID),
		DatePosted:      strings.TrimSpace(trn.DatePosted.Date),
		DateEntered:     strings.TrimSpace(trn.DateEntered.Date),
		Num:             trn.Num,
		Description:     trn.Description,
		CurrencySpace:   strings.TrimSpace(trn.Currency.Space),
		Currency:        strings.TrimSpace(trn.Currency.ID),
		Memo:            s.Memo,
		Action:          s.Action,
		ReconciledState: strings.TrimSpace(s.ReconciledState),
		ReconcileDate:   strings.TrimSpace(s.ReconcileDate.Date),
		Value:           strings.TrimSpace(s.Value),
		Quantity:        strings.TrimSpace(s.Quantity),
		AccountGUID:     strings.TrimSpace(s.Account),
	}
}

func (p *Parser) buildRecord(rowNumber int, trn transaction, s split, accounts map[string]account) parsers.Record {
	payload := newPayload(trn, s)
	rec := parsers.Record{
		RowNumber: rowNumber,
		Payload:   payload,
		Status:    domain.RowPending,
	}

	amount, fraction, err := normalize.DecodeFraction(payload.Value)
	if err != nil {
		rec.Status = domain.RowError
		rec.Message = fmt.Sprintf("split %s: %v", payload.SplitGUID, err)
		return rec
	}

	tx := &domain.Transaction{
		Date:        normalize.ParseBookDate(payload.DatePosted),
		Description: p.policy.Description(payload.Description, payload.Memo),
		Currency:    p.policy.Currency(currencyCode(trn.Currency)),
		Reference:   p.policy.Reference(payload.Num, payload.TransactionGUID),
		Source:      p.source,
	}
	normalize.ApplyAmount(tx, amount)

	if payload.AccountGUID != "" {
		tx.AccountGUID = &payload.AccountGUID
	}
	if acct, ok := accounts[payload.AccountGUID]; ok {
		tx.AccountName = optional(acct.Name)
		tx.AccountCode = optional(acct.Code)
		tx.AccountType = optional(acct.Type)
	}

	rec.Normalized = tx
	if fraction.Fallback() {
		rec.Status = domain.RowError
		rec.Message = fmt.Sprintf("split %s: %s in value %q, amount computed with denominator 1", payload.SplitGUID, fraction, payload.Value)
	}
	return rec
}

// currencyCode returns the commodity id when it names a currency.
func currencyCode(c commodity) string {
	switch strings.ToUpper(strings.TrimSpace(c.Space)) {
	case "ISO4217", "CURRENCY":
		return strings.TrimSpace(c.ID)
	}
	return ""
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
