package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// BatchStatus is the lifecycle state of an import batch.
type BatchStatus string

const (
	BatchDraft     BatchStatus = "draft"
	BatchStaging   BatchStatus = "staging"
	BatchReady     BatchStatus = "ready"
	BatchCommitted BatchStatus = "committed"
	BatchError     BatchStatus = "error"
)

// Terminal reports whether no further transition is allowed.
func (s BatchStatus) Terminal() bool {
	return s == BatchCommitted || s == BatchError
}

// Valid reports whether s is a known status.
func (s BatchStatus) Valid() bool {
	switch s {
	case BatchDraft, BatchStaging, BatchReady, BatchCommitted, BatchError:
		return true
	}
	return false
}

// CanTransition reports whether a batch may move from one status to another.
// The forward path is draft -> staging -> ready -> committed; error is reachable
// from every non-terminal status.
func CanTransition(from, to BatchStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == BatchError {
		return true
	}
	switch from {
	case BatchDraft:
		return to == BatchStaging
	case BatchStaging:
		return to == BatchReady
	case BatchReady:
		return to == BatchCommitted
	}
	return false
}

// StatusBadgeClass maps a batch status to a presentation hint.
func StatusBadgeClass(status BatchStatus) string {
	switch status {
	case BatchDraft:
		return "secondary"
	case BatchStaging:
		return "info"
	case BatchReady:
		return "primary"
	case BatchCommitted:
		return "success"
	case BatchError:
		return "danger"
	default:
		return "light"
	}
}

// RowStatus is the row-local validation state.
type RowStatus string

const (
	RowPending RowStatus = "pending"
	RowReady   RowStatus = "ready"
	RowError   RowStatus = "error"
)

// Valid reports whether s is a known row status.
func (s RowStatus) Valid() bool {
	return s == RowPending || s == RowReady || s == RowError
}

// ImportBatch is one import attempt tied to exactly one uploaded file.
type ImportBatch struct {
	ID               int64       `json:"id"`
	SourceType       SourceType  `json:"source_type"`
	Status           BatchStatus `json:"status"`
	OriginalFilename string      `json:"original_filename"`
	StoredPath       string      `json:"stored_path"` // relative to the import root
	Checksum         *string     `json:"checksum"`
	FileSize         int64       `json:"file_size"`
	TotalRows        int         `json:"total_rows"`
	ReadyRows        int         `json:"ready_rows"`
	ErrorRows        int         `json:"error_rows"`
	ErrorMessage     *string     `json:"error_message,omitempty"`
	CreatedBy        *string     `json:"created_by"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
	CommittedAt      *time.Time  `json:"committed_at"`
}

// ValidateCounters checks the batch counter invariant.
func ValidateCounters(total, ready, errored int) error {
	if total < 0 || ready < 0 || errored < 0 {
		return fmt.Errorf("%w: negative counter (total=%d ready=%d error=%d)", ErrCounterInvariant, total, ready, errored)
	}
	if ready+errored > total {
		return fmt.Errorf("%w: total=%d ready=%d error=%d", ErrCounterInvariant, total, ready, errored)
	}
	return nil
}

// Validate checks the batch invariants.
func (b *ImportBatch) Validate() error {
	if !b.Status.Valid() {
		return fmt.Errorf("batch %d: unknown status %q", b.ID, b.Status)
	}
	return ValidateCounters(b.TotalRows, b.ReadyRows, b.ErrorRows)
}

// ImportRow is one staged record. Payload and Normalized hold JSON documents.
type ImportRow struct {
	ID         int64           `json:"id"`
	BatchID    int64           `json:"batch_id"`
	RowNumber  int             `json:"row_number"`
	Payload    json.RawMessage `json:"payload"`
	Normalized json.RawMessage `json:"normalized"`
	Status     RowStatus       `json:"status"`
	Message    *string         `json:"message"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Transaction decodes the normalized document. It returns nil when the row
// has no normalized form.
func (r *ImportRow) Transaction() (*Transaction, error) {
	if len(r.Normalized) == 0 || string(r.Normalized) == "null" {
		return nil, nil
	}
	var tx Transaction
	if err := json.Unmarshal(r.Normalized, &tx); err != nil {
		return nil, fmt.Errorf("row %d: decode normalized: %w", r.RowNumber, err)
	}
	return &tx, nil
}

// ImportRowError is one entry of the failure ledger. RowID and RowNumber are nil
// for batch-level failures where no row was persisted.
type ImportRowError struct {
	ID           int64     `json:"id"`
	BatchID      int64     `json:"batch_id"`
	RowID        *int64    `json:"row_id"`
	RowNumber    *int      `json:"row_number"`
	ErrorCode    string    `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
	CreatedAt    time.Time `json:"created_at"`
}
