// Package pipeline turns uploaded statement files into staged import batches.
//
// A populate pass runs as a fixed sequence of steps: load the batch, read the
// stored file, parse it, serialize every row, then persist rows, ledger
// entries, counters and status in one transaction. Passes on the same batch
// are serialized; passes on different batches run in parallel.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/finance-import/internal/domain"
	"github.com/dvloznov/finance-import/internal/filestore"
	"github.com/dvloznov/finance-import/internal/jobs"
	"github.com/dvloznov/finance-import/internal/logger"
	"github.com/dvloznov/finance-import/internal/parsers"
	"github.com/dvloznov/finance-import/internal/staging"
)

// Exporter mirrors a populated batch elsewhere, e.g. to the warehouse.
type Exporter interface {
	ExportBatch(ctx context.Context, batch *domain.ImportBatch, rows []*domain.ImportRow) error
}

// JobTracker reports the newest asynchronous populate job of a batch.
type JobTracker interface {
	LatestForBatch(ctx context.Context, batchID int64) (*jobs.PopulateBatchJob, error)
}

// Manager is the entry point for staging and populating import batches.
type Manager struct {
	store     staging.Store
	files     *filestore.Store
	parsers   *parsers.Registry
	exporter  Exporter
	tracker   JobTracker
	validator *RecordValidator
	locks     *keyedLock
	now       func() time.Time
}

// Option customises a Manager.
type Option func(*Manager)

// WithExporter mirrors every populated batch through e.
func WithExporter(e Exporter) Option {
	return func(m *Manager) { m.exporter = e }
}

// WithJobTracker lets RecoverStale see batches whose populate job is still
// queued or waiting for a retry.
func WithJobTracker(t JobTracker) Option {
	return func(m *Manager) { m.tracker = t }
}

// WithValidator replaces the default record validator.
func WithValidator(v *RecordValidator) Option {
	return func(m *Manager) { m.validator = v }
}

// NewManager wires a manager.
func NewManager(store staging.Store, files *filestore.Store, registry *parsers.Registry, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		files:     files,
		parsers:   registry,
		validator: NewRecordValidator(),
		locks:     newKeyedLock(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Stage persists an upload in the file store.
func (m *Manager) Stage(ctx context.Context, up filestore.Upload) (*filestore.StoredFile, error) {
	return m.files.Stage(ctx, up)
}

// CreateBatch records a new batch in staging status with zero counters.
func (m *Manager) CreateBatch(ctx context.Context, actorID *string, sourceType domain.SourceType, file *filestore.StoredFile) (int64, error) {
	if _, ok := sourceType.Info(); !ok {
		return 0, fmt.Errorf("CreateBatch: %w: %q", domain.ErrUnsupportedSourceType, sourceType)
	}
	if file == nil {
		return 0, fmt.Errorf("CreateBatch: %w: no stored file", domain.ErrFileRejected)
	}

	batch := &domain.ImportBatch{
		SourceType:       sourceType,
		Status:           domain.BatchStaging,
		OriginalFilename: file.OriginalName,
		StoredPath:       file.RelativePath,
		Checksum:         file.Checksum,
		FileSize:         file.Size,
		CreatedBy:        actorID,
	}
	id, err := m.store.CreateBatch(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("CreateBatch: %w: %w", domain.ErrPersistence, err)
	}

	log := logger.FromContext(ctx)
	log.Info().
		Int64("batch_id", id).
		Str("source_type", string(sourceType)).
		Str("file", file.RelativePath).
		Msg("Created import batch")
	return id, nil
}

// PopulateBatch parses the stored file and stages its rows. Deferred source
// types are left in staging untouched. On a structural failure or
// cancellation the batch ends in error with no rows and a ledger entry
// describing the failure.
func (m *Manager) PopulateBatch(ctx context.Context, batchID int64, sourceType domain.SourceType, file *filestore.StoredFile) error {
	log := logger.FromContext(ctx).With().
		Int64("batch_id", batchID).
		Str("source_type", string(sourceType)).
		Logger()

	info, ok := sourceType.Info()
	if !ok {
		return fmt.Errorf("PopulateBatch: %w: %q", domain.ErrUnsupportedSourceType, sourceType)
	}
	if !info.Eager {
		log.Info().Msg("Deferred source type, batch stays in staging")
		return nil
	}

	unlock, err := m.locks.Lock(ctx, batchID)
	if err != nil {
		return fmt.Errorf("PopulateBatch: waiting for batch %d: %w", batchID, err)
	}
	defer unlock()

	ctx = logger.WithContext(ctx, log)
	started := m.now()
	state := &PipelineState{BatchID: batchID, SourceType: sourceType, File: file}

	if err := m.populatePipeline().Execute(ctx, state); err != nil {
		if errors.Is(err, domain.ErrBatchNotStaging) || errors.Is(err, domain.ErrBatchNotFound) {
			return fmt.Errorf("PopulateBatch: %w", err)
		}
		log.Error().Err(err).Str("code", domain.ErrorCode(err)).Msg("Populate failed")
		if failErr := m.failBatch(ctx, batchID, domain.ErrorCode(err), err.Error()); failErr != nil {
			return errors.Join(fmt.Errorf("PopulateBatch: %w", err), failErr)
		}
		return fmt.Errorf("PopulateBatch: %w", err)
	}

	log.Info().
		Int("rows", len(state.Staged)).
		Int("error_rows", state.ErrorRows).
		Dur("elapsed", m.now().Sub(started)).
		Msg("Batch populated")

	// The batch is durably ready at this point; export failures are only logged.
	export := &ExportRowsStep{exporter: m.exporter, store: m.store}
	if err := export.Execute(context.WithoutCancel(ctx), state); err != nil {
		log.Error().Err(err).Msg("Warehouse export failed")
	}
	return nil
}

func (m *Manager) populatePipeline() *Pipeline {
	return NewPipeline(
		&LoadBatchStep{store: m.store, parsers: m.parsers},
		&ReadFileStep{files: m.files},
		&ParseFileStep{validator: m.validator},
		&SerializeRowsStep{},
		&PersistRowsStep{store: m.store},
	)
}

// failBatch marks the batch failed and writes a batch-level ledger entry. It
// runs detached from ctx so cancellation still leaves the batch in error.
func (m *Manager) failBatch(ctx context.Context, batchID int64, code, message string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureTimeout)
	defer cancel()

	if err := m.store.MarkBatchFailed(ctx, batchID, message); err != nil {
		return fmt.Errorf("mark batch %d failed: %w", batchID, err)
	}
	if _, err := m.store.InsertRowError(ctx, &domain.ImportRowError{
		BatchID:      batchID,
		ErrorCode:    code,
		ErrorMessage: message,
	}); err != nil {
		return fmt.Errorf("record failure of batch %d: %w", batchID, err)
	}
	return nil
}

// Import stages the upload, creates its batch and populates it. The returned
// batch reflects the final state and is non-nil whenever a batch was created,
// including when population failed.
func (m *Manager) Import(ctx context.Context, actorID *string, sourceType domain.SourceType, up filestore.Upload) (*domain.ImportBatch, error) {
	if _, ok := sourceType.Info(); !ok {
		return nil, fmt.Errorf("Import: %w: %q", domain.ErrUnsupportedSourceType, sourceType)
	}

	file, err := m.Stage(ctx, up)
	if err != nil {
		return nil, err
	}
	id, err := m.CreateBatch(ctx, actorID, sourceType, file)
	if err != nil {
		return nil, err
	}

	popErr := m.PopulateBatch(ctx, id, sourceType, file)

	batch, err := m.store.GetBatch(context.WithoutCancel(ctx), id)
	if err != nil {
		return nil, errors.Join(popErr, err)
	}
	return batch, popErr
}

// RecentBatches lists batches newest first. limit is clamped to
// 1..MaxRecentLimit; zero or negative selects DefaultRecentLimit.
func (m *Manager) RecentBatches(ctx context.Context, limit int) ([]*domain.ImportBatch, error) {
	switch {
	case limit <= 0:
		limit = DefaultRecentLimit
	case limit > MaxRecentLimit:
		limit = MaxRecentLimit
	}
	return m.store.RecentBatches(ctx, limit)
}

// GetBatch returns one batch.
func (m *Manager) GetBatch(ctx context.Context, id int64) (*domain.ImportBatch, error) {
	return m.store.GetBatch(ctx, id)
}

// ListRows returns staged rows of a batch.
func (m *Manager) ListRows(ctx context.Context, batchID int64, f staging.RowFilter) ([]*domain.ImportRow, error) {
	if _, err := m.store.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}
	return m.store.ListRows(ctx, batchID, f)
}

// ListRowErrors returns the failure ledger of a batch.
func (m *Manager) ListRowErrors(ctx context.Context, batchID int64) ([]*domain.ImportRowError, error) {
	if _, err := m.store.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}
	return m.store.ListRowErrors(ctx, batchID)
}

// ListSourceTypes returns the source type catalog.
func (m *Manager) ListSourceTypes() []domain.SourceTypeInfo {
	return domain.SourceTypes()
}

// RecoverStale fails eager batches that have been in staging without rows
// since before olderThan ago: their populate pass was interrupted. Batches
// with a pass in progress in this process, or with a populate job still
// pending, running or retrying, are skipped. It returns the ids of
// the recovered batches.
func (m *Manager) RecoverStale(ctx context.Context, olderThan time.Duration) ([]int64, error) {
	log := logger.FromContext(ctx)
	if olderThan <= 0 {
		olderThan = DefaultStaleAfter
	}
	cutoff := m.now().Add(-olderThan)

	batches, err := m.store.ListBatchesByStatus(ctx, domain.BatchStaging, cutoff)
	if err != nil {
		return nil, fmt.Errorf("RecoverStale: %w", err)
	}

	var recovered []int64
	for _, b := range batches {
		if !b.SourceType.IsEager() {
			continue
		}
		active, err := m.jobActive(ctx, b.ID)
		if err != nil {
			return recovered, fmt.Errorf("RecoverStale: batch %d: %w", b.ID, err)
		}
		if active {
			log.Debug().Int64("batch_id", b.ID).Msg("Stale batch has a live job, skipping")
			continue
		}
		unlock, ok := m.locks.TryLock(b.ID)
		if !ok {
			continue
		}

		n, err := m.store.CountRows(ctx, b.ID)
		if err != nil {
			unlock()
			return recovered, fmt.Errorf("RecoverStale: batch %d: %w", b.ID, err)
		}
		if n > 0 {
			unlock()
			continue
		}

		msg := fmt.Sprintf("populate interrupted: batch stayed in staging since %s", b.UpdatedAt.Format(time.RFC3339))
		err = m.failBatch(ctx, b.ID, domain.CodeInterrupted, msg)
		unlock()
		if err != nil {
			return recovered, fmt.Errorf("RecoverStale: %w", err)
		}

		log.Warn().Int64("batch_id", b.ID).Msg("Recovered interrupted batch")
		recovered = append(recovered, b.ID)
	}
	return recovered, nil
}

func (m *Manager) jobActive(ctx context.Context, batchID int64) (bool, error) {
	if m.tracker == nil {
		return false, nil
	}
	job, err := m.tracker.LatestForBatch(ctx, batchID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return job.Status.Active(), nil
}
