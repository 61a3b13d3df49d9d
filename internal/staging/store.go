// Package staging persists import batches, their staged rows and the failure
// ledger in a relational database.
package staging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dvloznov/finance-import/internal/domain"
)

// DefaultRowLimit is the page size used by ListRows when none is given.
const DefaultRowLimit = 500

// RowFilter narrows ListRows.
type RowFilter struct {
	Status domain.RowStatus
	Limit  int
	Offset int
}

// Store provides batch, row and ledger persistence.
type Store interface {
	// CreateBatch inserts b and returns its id. CreatedAt/UpdatedAt are set by the store.
	CreateBatch(ctx context.Context, b *domain.ImportBatch) (int64, error)
	GetBatch(ctx context.Context, id int64) (*domain.ImportBatch, error)
	// RecentBatches lists batches by updated_at then id, newest first.
	RecentBatches(ctx context.Context, limit int) ([]*domain.ImportBatch, error)
	// ListBatchesByStatus lists batches in status. A non-zero updatedBefore
	// keeps only batches not updated since then.
	ListBatchesByStatus(ctx context.Context, status domain.BatchStatus, updatedBefore time.Time) ([]*domain.ImportBatch, error)
	ListRows(ctx context.Context, batchID int64, f RowFilter) ([]*domain.ImportRow, error)
	CountRows(ctx context.Context, batchID int64) (int, error)
	ListRowErrors(ctx context.Context, batchID int64) ([]*domain.ImportRowError, error)
	InsertRowError(ctx context.Context, e *domain.ImportRowError) (int64, error)
	UpdateBatchStatus(ctx context.Context, batchID int64, to domain.BatchStatus) error
	// MarkBatchFailed moves a draft or staging batch to error, zeroes its
	// counters and records the (truncated) message.
	MarkBatchFailed(ctx context.Context, batchID int64, message string) error
	// WithinTx runs fn in one transaction, committed only when fn returns nil.
	WithinTx(ctx context.Context, fn func(RowWriter) error) error
	Close() error
}

// RowWriter is the transactional write surface used while populating a batch.
type RowWriter interface {
	// InsertRow stages one row. A second row with the same batch and row
	// number fails with domain.ErrDuplicateRow.
	InsertRow(ctx context.Context, batchID int64, rowNumber int, payload, normalized json.RawMessage, status domain.RowStatus, message *string) (int64, error)
	InsertRowError(ctx context.Context, e *domain.ImportRowError) (int64, error)
	// UpdateBatchCounters rejects counters violating ready+error <= total.
	UpdateBatchCounters(ctx context.Context, batchID int64, total, ready, errored int) error
	UpdateBatchStatus(ctx context.Context, batchID int64, to domain.BatchStatus) error
}
