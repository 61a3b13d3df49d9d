package pipeline

import (
	"github.com/dvloznov/finance-import/internal/domain"
	"github.com/dvloznov/finance-import/internal/normalize"
	"github.com/dvloznov/finance-import/internal/parsers"
	"github.com/dvloznov/finance-import/internal/parsers/ofx"
	"github.com/dvloznov/finance-import/internal/parsers/xmlbook"
)

// DefaultRegistry binds every eager source type to its parser. Deferred types
// stay unbound.
func DefaultRegistry(policy normalize.Policy) *parsers.Registry {
	r := parsers.NewRegistry()
	mustRegister(r, domain.SourceGnuCashXML, xmlbook.NewParser(domain.SourceGnuCashXML, policy))
	mustRegister(r, domain.SourceGnuCashXMLGzip, xmlbook.NewParser(domain.SourceGnuCashXMLGzip, policy))
	mustRegister(r, domain.SourceOFX, ofx.NewParser(policy))
	return r
}

func mustRegister(r *parsers.Registry, t domain.SourceType, p parsers.Parser) {
	if err := r.Register(t, p); err != nil {
		panic(err)
	}
}
