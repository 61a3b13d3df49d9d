package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/dvloznov/finance-import/internal/domain"
	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow, color.Bold)
	blue   = color.New(color.FgBlue)
	red    = color.New(color.FgRed)
	faint  = color.New(color.Faint)
)

// badgeColors follows domain.StatusBadgeClass.
var badgeColors = map[string]*color.Color{
	"secondary": faint,
	"info":      blue,
	"primary":   yellow,
	"success":   green,
	"danger":    red,
}

func badge(status domain.BatchStatus) string {
	c, ok := badgeColors[domain.StatusBadgeClass(status)]
	if !ok {
		c = faint
	}
	return c.Sprintf("%-9s", status)
}

func header(w io.Writer, text string) {
	line := strings.Repeat("=", 60)
	green.Fprintf(w, "\n%s\n%s\n%s\n", line, text, line)
}

func printBatch(w io.Writer, b *domain.ImportBatch) {
	fmt.Fprintf(w, "ID:          %d\n", b.ID)
	fmt.Fprintf(w, "Status:      %s\n", badge(b.Status))
	fmt.Fprintf(w, "Source type: %s\n", b.SourceType)
	fmt.Fprintf(w, "File:        %s (%d bytes)\n", b.OriginalFilename, b.FileSize)
	fmt.Fprintf(w, "Stored at:   %s\n", b.StoredPath)
	if b.Checksum != nil {
		fmt.Fprintf(w, "SHA-256:     %s\n", *b.Checksum)
	}
	fmt.Fprintf(w, "Rows:        %d total, %d ready, %d error\n", b.TotalRows, b.ReadyRows, b.ErrorRows)
	if b.CreatedBy != nil {
		fmt.Fprintf(w, "Created by:  %s\n", *b.CreatedBy)
	}
	fmt.Fprintf(w, "Updated:     %s\n", b.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	if b.ErrorMessage != nil {
		red.Fprintf(w, "Error:       %s\n", *b.ErrorMessage)
	}
}

func printBatchLine(w io.Writer, b *domain.ImportBatch) {
	fmt.Fprintf(w, "%6d  %s  %-15s %5d/%-5d  %s\n",
		b.ID, badge(b.Status), b.SourceType, b.ErrorRows, b.TotalRows, b.OriginalFilename)
}

func printRow(w io.Writer, r *domain.ImportRow) {
	tx, err := r.Transaction()
	switch {
	case err != nil:
		red.Fprintf(w, "%5d. %v\n", r.RowNumber, err)
		return
	case tx == nil:
		fmt.Fprintf(w, "%5d. (no normalized form)\n", r.RowNumber)
	default:
		date := "----------"
		if tx.Date != nil {
			date = tx.Date.String()
		}
		fmt.Fprintf(w, "%5d. %s %12s %s  %s\n", r.RowNumber, date, tx.Amount, tx.Currency, tx.Description)
	}
	if r.Status == domain.RowError && r.Message != nil {
		red.Fprintf(w, "       %s\n", *r.Message)
	}
}

func printRowError(w io.Writer, e *domain.ImportRowError) {
	where := "batch"
	if e.RowNumber != nil {
		where = fmt.Sprintf("row %d", *e.RowNumber)
	}
	fmt.Fprintf(w, "  %-9s %s  %s\n", where, red.Sprint(e.ErrorCode), e.ErrorMessage)
}
