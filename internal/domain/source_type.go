package domain

import (
	"fmt"
	"strings"
)

// SourceType identifies the format of an uploaded export file.
type SourceType string

const (
	// SourceGnuCashXML is an uncompressed desktop accounting XML book.
	SourceGnuCashXML SourceType = "gnucash_xml"
	// SourceGnuCashXMLGzip is the same book written with compression enabled.
	SourceGnuCashXMLGzip SourceType = "gnucash_xml_gz"
	// SourceOFX covers OFX and QFX bank/Quicken downloads.
	SourceOFX SourceType = "ofx"
	// SourceCSVTemplate is a template CSV or IIF feed mapped interactively later.
	SourceCSVTemplate SourceType = "csv_template"
	// SourceLegacyJournal is a legacy general-journal export mapped interactively later.
	SourceLegacyJournal SourceType = "legacy_journal"
)

// SourceTypeInfo describes a source type for upload forms.
type SourceTypeInfo struct {
	Key         SourceType `json:"key"`
	Label       string     `json:"label"`
	Description string     `json:"description"`
	Extensions  []string   `json:"extensions"`
	// Eager is true when the type is parsed during populate. Other types wait
	// for the column-mapping step.
	Eager bool `json:"eager"`
}

var sourceCatalog = []SourceTypeInfo{
	{
		Key:         SourceGnuCashXML,
		Label:       "GnuCash XML book",
		Description: "Uncompressed GnuCash book saved in XML format. Every split becomes one staged row.",
		Extensions:  []string{".gnucash", ".xml"},
		Eager:       true,
	},
	{
		Key:         SourceGnuCashXMLGzip,
		Label:       "GnuCash XML book (compressed)",
		Description: "GnuCash book saved with file compression enabled (gzip).",
		Extensions:  []string{".gnucash", ".gz"},
		Eager:       true,
	},
	{
		Key:         SourceOFX,
		Label:       "OFX / QFX download",
		Description: "Bank or Quicken statement download. Every STMTTRN block becomes one staged row.",
		Extensions:  []string{".ofx", ".qfx"},
		Eager:       true,
	},
	{
		Key:         SourceCSVTemplate,
		Label:       "CSV template",
		Description: "CSV or IIF file following an import template. Columns are mapped after upload.",
		Extensions:  []string{".csv", ".iif"},
	},
	{
		Key:         SourceLegacyJournal,
		Label:       "Legacy general journal",
		Description: "General-journal export from the previous bookkeeping system. Columns are mapped after upload.",
		Extensions:  []string{".csv", ".txt"},
	},
}

// SourceTypes returns the catalog in display order.
func SourceTypes() []SourceTypeInfo {
	out := make([]SourceTypeInfo, len(sourceCatalog))
	copy(out, sourceCatalog)
	return out
}

// ListSourceTypes returns the catalog keyed by source type.
func ListSourceTypes() map[SourceType]SourceTypeInfo {
	out := make(map[SourceType]SourceTypeInfo, len(sourceCatalog))
	for _, info := range sourceCatalog {
		out[info.Key] = info
	}
	return out
}

// Info returns the catalog entry for t.
func (t SourceType) Info() (SourceTypeInfo, bool) {
	for _, info := range sourceCatalog {
		if info.Key == t {
			return info, true
		}
	}
	return SourceTypeInfo{}, false
}

// IsEager reports whether t is parsed during populate.
func (t SourceType) IsEager() bool {
	info, ok := t.Info()
	return ok && info.Eager
}

// ParseSourceType validates a source type key.
func ParseSourceType(s string) (SourceType, error) {
	t := SourceType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := t.Info(); !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedSourceType, s)
	}
	return t, nil
}
