package staging

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/finance-import/internal/domain"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore implements Store over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

var _ Store = (*SQLStore)(nil)

// Open connects to the database and verifies the connection. It does not
// apply migrations; call Migrate for that.
func Open(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("staging: database DSN is required")
	}
	if dialect == DialectSQLite {
		dsn = sqliteDSN(dsn)
	}

	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("staging: open database: %w", err)
	}

	if dialect == DialectSQLite {
		// One writer at a time; a shared connection keeps transactions from
		// tripping over SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("staging: ping database: %w", err)
	}

	return NewSQLStore(db, dialect), nil
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: func() time.Time { return time.Now().UTC() }}
}

// DB exposes the underlying handle.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Dialect reports the SQL flavour in use.
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

const batchColumns = `id, source_type, status, original_filename, stored_path, checksum, file_size,
	total_rows, ready_rows, error_rows, error_message, created_by, created_at, updated_at, committed_at`

func (s *SQLStore) CreateBatch(ctx context.Context, b *domain.ImportBatch) (int64, error) {
	if b.Status == "" {
		b.Status = domain.BatchDraft
	}
	if err := b.Validate(); err != nil {
		return 0, fmt.Errorf("CreateBatch: %w", err)
	}

	now := s.now()
	var id int64
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`
		INSERT INTO import_batches
			(source_type, status, original_filename, stored_path, checksum, file_size,
			 total_rows, ready_rows, error_rows, error_message, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		string(b.SourceType), string(b.Status), b.OriginalFilename, b.StoredPath, b.Checksum, b.FileSize,
		b.TotalRows, b.ReadyRows, b.ErrorRows, b.ErrorMessage, b.CreatedBy, now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("CreateBatch: inserting batch: %w", err)
	}

	b.ID = id
	b.CreatedAt = now
	b.UpdatedAt = now
	return id, nil
}

func (s *SQLStore) GetBatch(ctx context.Context, id int64) (*domain.ImportBatch, error) {
	return getBatch(ctx, s.db, s.dialect, id)
}

func getBatch(ctx context.Context, q querier, d Dialect, id int64) (*domain.ImportBatch, error) {
	row := q.QueryRowContext(ctx, d.rebind(`SELECT `+batchColumns+` FROM import_batches WHERE id = ?`), id)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %d: %w", id, domain.ErrBatchNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetBatch: %w", err)
	}
	return b, nil
}

func (s *SQLStore) RecentBatches(ctx context.Context, limit int) ([]*domain.ImportBatch, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT `+batchColumns+` FROM import_batches
		ORDER BY updated_at DESC, id DESC
		LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("RecentBatches: querying: %w", err)
	}
	return collectBatches(rows)
}

func (s *SQLStore) ListBatchesByStatus(ctx context.Context, status domain.BatchStatus, updatedBefore time.Time) ([]*domain.ImportBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM import_batches WHERE status = ?`
	args := []any{string(status)}
	if !updatedBefore.IsZero() {
		query += ` AND updated_at < ?`
		args = append(args, updatedBefore.UTC())
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("ListBatchesByStatus: querying: %w", err)
	}
	return collectBatches(rows)
}

func (s *SQLStore) ListRows(ctx context.Context, batchID int64, f RowFilter) ([]*domain.ImportRow, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultRowLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT id, batch_id, row_number, payload, normalized, status, message, created_at
		FROM import_rows WHERE batch_id = ?`
	args := []any{batchID}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY row_number LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("ListRows: querying: %w", err)
	}
	defer rows.Close()

	var out []*domain.ImportRow
	for rows.Next() {
		var (
			r          domain.ImportRow
			payload    string
			normalized sql.NullString
			status     string
			message    sql.NullString
			createdAt  dbTime
		)
		if err := rows.Scan(&r.ID, &r.BatchID, &r.RowNumber, &payload, &normalized, &status, &message, &createdAt); err != nil {
			return nil, fmt.Errorf("ListRows: scanning: %w", err)
		}
		r.Payload = json.RawMessage(payload)
		if normalized.Valid {
			r.Normalized = json.RawMessage(normalized.String)
		}
		r.Status = domain.RowStatus(status)
		r.Message = nullStringPtr(message)
		r.CreatedAt = createdAt.Time
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListRows: iterating: %w", err)
	}
	return out, nil
}

func (s *SQLStore) CountRows(ctx context.Context, batchID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT COUNT(*) FROM import_rows WHERE batch_id = ?`), batchID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("CountRows: %w", err)
	}
	return n, nil
}

func (s *SQLStore) ListRowErrors(ctx context.Context, batchID int64) ([]*domain.ImportRowError, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT id, batch_id, row_id, row_number, error_code, error_message, created_at
		FROM import_row_errors WHERE batch_id = ?
		ORDER BY id`), batchID)
	if err != nil {
		return nil, fmt.Errorf("ListRowErrors: querying: %w", err)
	}
	defer rows.Close()

	var out []*domain.ImportRowError
	for rows.Next() {
		var (
			e         domain.ImportRowError
			rowID     sql.NullInt64
			rowNumber sql.NullInt64
			createdAt dbTime
		)
		if err := rows.Scan(&e.ID, &e.BatchID, &rowID, &rowNumber, &e.ErrorCode, &e.ErrorMessage, &createdAt); err != nil {
			return nil, fmt.Errorf("ListRowErrors: scanning: %w", err)
		}
		if rowID.Valid {
			v := rowID.Int64
			e.RowID = &v
		}
		if rowNumber.Valid {
			v := int(rowNumber.Int64)
			e.RowNumber = &v
		}
		e.CreatedAt = createdAt.Time
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListRowErrors: iterating: %w", err)
	}
	return out, nil
}

func (s *SQLStore) InsertRowError(ctx context.Context, e *domain.ImportRowError) (int64, error) {
	return insertRowError(ctx, s.db, s.dialect, s.now(), e)
}

func (s *SQLStore) UpdateBatchStatus(ctx context.Context, batchID int64, to domain.BatchStatus) error {
	return s.WithinTx(ctx, func(w RowWriter) error {
		return w.UpdateBatchStatus(ctx, batchID, to)
	})
}

func (s *SQLStore) MarkBatchFailed(ctx context.Context, batchID int64, message string) error {
	msg := domain.TruncateMessage(message)
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		UPDATE import_batches
		SET status = ?, total_rows = 0, ready_rows = 0, error_rows = 0, error_message = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`),
		string(domain.BatchError), msg, s.now(), batchID, string(domain.BatchDraft), string(domain.BatchStaging))
	if err != nil {
		return fmt.Errorf("MarkBatchFailed: updating batch %d: %w", batchID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return nil
	}

	b, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	return fmt.Errorf("batch %d: %s -> %s: %w", batchID, b.Status, domain.BatchError, domain.ErrInvalidTransition)
}

func (s *SQLStore) WithinTx(ctx context.Context, fn func(RowWriter) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("WithinTx: begin: %w", err)
	}

	if err := fn(&txWriter{tx: tx, dialect: s.dialect, now: s.now}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("WithinTx: commit: %w", err)
	}
	return nil
}

// txWriter implements RowWriter inside a transaction.
type txWriter struct {
	tx      *sql.Tx
	dialect Dialect
	now     func() time.Time
}

func (w *txWriter) InsertRow(ctx context.Context, batchID int64, rowNumber int, payload, normalized json.RawMessage, status domain.RowStatus, message *string) (int64, error) {
	if rowNumber < 1 {
		return 0, fmt.Errorf("InsertRow: row number %d must be >= 1", rowNumber)
	}
	if status == "" {
		status = domain.RowPending
	}
	if !status.Valid() {
		return 0, fmt.Errorf("InsertRow: unknown row status %q", status)
	}

	var norm any
	if len(normalized) > 0 && string(normalized) != "null" {
		norm = string(normalized)
	}

	var id int64
	err := w.tx.QueryRowContext(ctx, w.dialect.rebind(`
		INSERT INTO import_rows (batch_id, row_number, payload, normalized, status, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		batchID, rowNumber, string(payload), norm, string(status), message, w.now(),
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("InsertRow: batch %d row %d: %w", batchID, rowNumber, domain.ErrDuplicateRow)
		}
		return 0, fmt.Errorf("InsertRow: batch %d row %d: %w", batchID, rowNumber, err)
	}
	return id, nil
}

func (w *txWriter) InsertRowError(ctx context.Context, e *domain.ImportRowError) (int64, error) {
	return insertRowError(ctx, w.tx, w.dialect, w.now(), e)
}

func (w *txWriter) UpdateBatchCounters(ctx context.Context, batchID int64, total, ready, errored int) error {
	if err := domain.ValidateCounters(total, ready, errored); err != nil {
		return fmt.Errorf("UpdateBatchCounters: batch %d: %w", batchID, err)
	}
	res, err := w.tx.ExecContext(ctx, w.dialect.rebind(`
		UPDATE import_batches SET total_rows = ?, ready_rows = ?, error_rows = ?, updated_at = ?
		WHERE id = ?`),
		total, ready, errored, w.now(), batchID)
	if err != nil {
		return fmt.Errorf("UpdateBatchCounters: batch %d: %w", batchID, err)
	}
	return expectOne(res, batchID)
}

func (w *txWriter) UpdateBatchStatus(ctx context.Context, batchID int64, to domain.BatchStatus) error {
	var current string
	err := w.tx.QueryRowContext(ctx, w.dialect.rebind(`SELECT status FROM import_batches WHERE id = ?`), batchID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("batch %d: %w", batchID, domain.ErrBatchNotFound)
	}
	if err != nil {
		return fmt.Errorf("UpdateBatchStatus: reading batch %d: %w", batchID, err)
	}

	from := domain.BatchStatus(current)
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("batch %d: %s -> %s: %w", batchID, from, to, domain.ErrInvalidTransition)
	}

	now := w.now()
	var committedAt any
	if to == domain.BatchCommitted {
		committedAt = now
	}
	_, err = w.tx.ExecContext(ctx, w.dialect.rebind(`
		UPDATE import_batches SET status = ?, updated_at = ?, committed_at = COALESCE(?, committed_at)
		WHERE id = ?`),
		string(to), now, committedAt, batchID)
	if err != nil {
		return fmt.Errorf("UpdateBatchStatus: batch %d: %w", batchID, err)
	}
	return nil
}

func insertRowError(ctx context.Context, q querier, d Dialect, now time.Time, e *domain.ImportRowError) (int64, error) {
	var rowNumber any
	if e.RowNumber != nil {
		rowNumber = *e.RowNumber
	}
	var rowID any
	if e.RowID != nil {
		rowID = *e.RowID
	}

	var id int64
	err := q.QueryRowContext(ctx, d.rebind(`
		INSERT INTO import_row_errors (batch_id, row_id, row_number, error_code, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`),
		e.BatchID, rowID, rowNumber, e.ErrorCode, domain.TruncateMessage(e.ErrorMessage), now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("InsertRowError: batch %d: %w", e.BatchID, err)
	}
	e.ID = id
	e.CreatedAt = now
	return id, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBatch(sc scanner) (*domain.ImportBatch, error) {
	var (
		b           domain.ImportBatch
		sourceType  string
		status      string
		checksum    sql.NullString
		errMessage  sql.NullString
		createdBy   sql.NullString
		createdAt   dbTime
		updatedAt   dbTime
		committedAt dbTime
	)
	err := sc.Scan(&b.ID, &sourceType, &status, &b.OriginalFilename, &b.StoredPath, &checksum, &b.FileSize,
		&b.TotalRows, &b.ReadyRows, &b.ErrorRows, &errMessage, &createdBy, &createdAt, &updatedAt, &committedAt)
	if err != nil {
		return nil, err
	}
	b.SourceType = domain.SourceType(sourceType)
	b.Status = domain.BatchStatus(status)
	b.Checksum = nullStringPtr(checksum)
	b.ErrorMessage = nullStringPtr(errMessage)
	b.CreatedBy = nullStringPtr(createdBy)
	b.CreatedAt = createdAt.Time
	b.UpdatedAt = updatedAt.Time
	b.CommittedAt = committedAt.ptr()
	return &b, nil
}

func collectBatches(rows *sql.Rows) ([]*domain.ImportBatch, error) {
	defer rows.Close()
	var out []*domain.ImportBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning batch: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating batches: %w", err)
	}
	return out, nil
}

func expectOne(res sql.Result, batchID int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("batch %d: rows affected: %w", batchID, err)
	}
	if n == 0 {
		return fmt.Errorf("batch %d: %w", batchID, domain.ErrBatchNotFound)
	}
	return nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := strings.Clone(ns.String)
	return &v
}
