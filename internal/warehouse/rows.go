package warehouse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/finance-import/internal/domain"
)

// Row is one staged row as stored in the warehouse table.
type Row struct {
	BatchID          int64               `bigquery:"batch_id" json:"batch_id"`
	RowNumber        int64               `bigquery:"row_number" json:"row_number"`
	SourceType       string              `bigquery:"source_type" json:"source_type"`
	OriginalFilename string              `bigquery:"original_filename" json:"original_filename"`
	Checksum         bigquery.NullString `bigquery:"checksum" json:"checksum"`
	Status           string              `bigquery:"status" json:"status"`
	Message          bigquery.NullString `bigquery:"message" json:"message"`

	TransactionDate bigquery.NullDate   `bigquery:"transaction_date" json:"transaction_date"`
	Description     bigquery.NullString `bigquery:"description" json:"description"`
	Amount          bigquery.NullString `bigquery:"amount" json:"amount"` // NUMERIC
	Debit           bigquery.NullString `bigquery:"debit" json:"debit"`   // NUMERIC
	Credit          bigquery.NullString `bigquery:"credit" json:"credit"` // NUMERIC
	Currency        bigquery.NullString `bigquery:"currency" json:"currency"`
	Reference       bigquery.NullString `bigquery:"reference" json:"reference"`
	AccountName     bigquery.NullString `bigquery:"account_name" json:"account_name"`

	Payload    bigquery.NullJSON `bigquery:"payload" json:"payload"`
	Normalized bigquery.NullJSON `bigquery:"normalized" json:"normalized"`

	StagedAt   time.Time `bigquery:"staged_at" json:"staged_at"`
	ExportedAt time.Time `bigquery:"exported_at" json:"exported_at"`
}

// numericColumns are stored as decimal strings in Row and typed NUMERIC in the table.
var numericColumns = map[string]bool{"amount": true, "debit": true, "credit": true}

// Schema returns the table schema inferred from Row.
func Schema() (bigquery.Schema, error) {
	schema, err := bigquery.InferSchema(Row{})
	if err != nil {
		return nil, fmt.Errorf("Schema: infer: %w", err)
	}
	for _, f := range schema {
		if numericColumns[f.Name] {
			f.Type = bigquery.NumericFieldType
		}
	}
	return schema, nil
}

// ToRows maps a populated batch to warehouse rows.
func ToRows(batch *domain.ImportBatch, rows []*domain.ImportRow, exportedAt time.Time) ([]Row, error) {
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		row := Row{
			BatchID:          batch.ID,
			RowNumber:        int64(r.RowNumber),
			SourceType:       string(batch.SourceType),
			OriginalFilename: batch.OriginalFilename,
			Checksum:         nullString(batch.Checksum),
			Status:           string(r.Status),
			Message:          nullString(r.Message),
			Payload:          nullJSON(r.Payload),
			Normalized:       nullJSON(r.Normalized),
			StagedAt:         r.CreatedAt.UTC(),
			ExportedAt:       exportedAt.UTC(),
		}

		tx, err := r.Transaction()
		if err != nil {
			return nil, fmt.Errorf("ToRows: batch %d: %w", batch.ID, err)
		}
		if tx != nil {
			if tx.Date != nil {
				row.TransactionDate = bigquery.NullDate{Date: *tx.Date, Valid: true}
			}
			row.Description = bigquery.NullString{StringVal: tx.Description, Valid: true}
			row.Amount = bigquery.NullString{StringVal: tx.Amount.String(), Valid: true}
			row.Debit = bigquery.NullString{StringVal: tx.Debit.String(), Valid: true}
			row.Credit = bigquery.NullString{StringVal: tx.Credit.String(), Valid: true}
			row.Currency = bigquery.NullString{StringVal: tx.Currency, Valid: tx.Currency != ""}
			row.Reference = bigquery.NullString{StringVal: tx.Reference, Valid: tx.Reference != ""}
			row.AccountName = nullString(tx.AccountName)
		}
		out = append(out, row)
	}
	return out, nil
}

// EncodeNDJSON writes rows as newline-delimited JSON for a load job.
func EncodeNDJSON(rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range rows {
		if err := enc.Encode(&rows[i]); err != nil {
			return nil, fmt.Errorf("EncodeNDJSON: row %d: %w", rows[i].RowNumber, err)
		}
	}
	return buf.Bytes(), nil
}

func nullString(s *string) bigquery.NullString {
	if s == nil {
		return bigquery.NullString{}
	}
	return bigquery.NullString{StringVal: *s, Valid: true}
}

func nullJSON(raw json.RawMessage) bigquery.NullJSON {
	if len(raw) == 0 || string(raw) == "null" {
		return bigquery.NullJSON{}
	}
	return bigquery.NullJSON{JSONVal: string(raw), Valid: true}
}
