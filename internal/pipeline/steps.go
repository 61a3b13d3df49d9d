package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dvloznov/finance-import/internal/domain"
	"github.com/dvloznov/finance-import/internal/filestore"
	"github.com/dvloznov/finance-import/internal/parsers"
	"github.com/dvloznov/finance-import/internal/staging"
)

// PipelineStep represents a single step of the populate pass.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	BatchID    int64
	SourceType domain.SourceType
	File       *filestore.StoredFile

	Batch   *domain.ImportBatch
	Parser  parsers.Parser
	Data    []byte
	Records []parsers.Record
	Rows    []stagedRow

	// Staged is filled by PersistRowsStep with the committed rows.
	Staged    []*domain.ImportRow
	ErrorRows int
}

// stagedRow is a record serialized for insertion.
type stagedRow struct {
	number     int
	payload    json.RawMessage
	normalized json.RawMessage
	status     domain.RowStatus
	message    *string
}

// Step 1: LoadBatchStep loads the batch and resolves the parser.
type LoadBatchStep struct {
	store   staging.Store
	parsers *parsers.Registry
}

func (s *LoadBatchStep) Execute(ctx context.Context, state *PipelineState) error {
	batch, err := s.store.GetBatch(ctx, state.BatchID)
	if err != nil {
		return err
	}
	if batch.Status != domain.BatchStaging {
		return fmt.Errorf("batch %d is %s: %w", batch.ID, batch.Status, domain.ErrBatchNotStaging)
	}

	p, ok := s.parsers.Lookup(state.SourceType)
	if !ok {
		return fmt.Errorf("no parser for %q: %w", state.SourceType, domain.ErrUnsupportedSourceType)
	}
	state.Batch = batch
	state.Parser = p
	return nil
}

// Step 2: ReadFileStep reads the staged file bytes.
type ReadFileStep struct {
	files *filestore.Store
}

func (s *ReadFileStep) Execute(ctx context.Context, state *PipelineState) error {
	if state.File == nil || state.File.RelativePath == "" {
		return fmt.Errorf("batch %d: %w: no stored file", state.BatchID, domain.ErrStorageUnavailable)
	}
	data, err := s.files.ReadAll(ctx, state.File.RelativePath)
	if err != nil {
		return err
	}
	state.Data = data
	return nil
}

// Step 3: ParseFileStep runs the format parser and row validation.
type ParseFileStep struct {
	validator *RecordValidator
}

func (s *ParseFileStep) Execute(ctx context.Context, state *PipelineState) error {
	records, err := state.Parser.Parse(ctx, state.Data)
	if err != nil {
		return err
	}
	if s.validator != nil {
		s.validator.Apply(records)
	}
	state.Records = records
	state.Data = nil
	return nil
}

// Step 4: SerializeRowsStep encodes every record before anything is written.
type SerializeRowsStep struct{}

func (s *SerializeRowsStep) Execute(ctx context.Context, state *PipelineState) error {
	rows := make([]stagedRow, 0, len(state.Records))
	errorRows := 0
	for _, rec := range state.Records {
		if err := ctx.Err(); err != nil {
			return err
		}

		payload, err := json.Marshal(rec.Payload)
		if err != nil {
			return fmt.Errorf("row %d payload: %w: %v", rec.RowNumber, domain.ErrSerialization, err)
		}

		var normalized json.RawMessage
		if rec.Normalized != nil {
			normalized, err = json.Marshal(rec.Normalized)
			if err != nil {
				return fmt.Errorf("row %d normalized: %w: %v", rec.RowNumber, domain.ErrSerialization, err)
			}
		}

		status := rec.Status
		if status == "" {
			status = domain.RowPending
		}
		row := stagedRow{number: rec.RowNumber, payload: payload, normalized: normalized, status: status}
		if rec.Message != "" {
			msg := domain.TruncateMessage(rec.Message)
			row.message = &msg
		}
		if status == domain.RowError {
			errorRows++
		}
		rows = append(rows, row)
	}
	state.Rows = rows
	state.ErrorRows = errorRows
	state.Records = nil
	return nil
}

// Step 5: PersistRowsStep writes rows, row-level ledger entries, counters and
// the ready status in one transaction.
type PersistRowsStep struct {
	store staging.Store
}

func (s *PersistRowsStep) Execute(ctx context.Context, state *PipelineState) error {
	staged := make([]*domain.ImportRow, 0, len(state.Rows))
	err := s.store.WithinTx(ctx, func(w staging.RowWriter) error {
		for _, row := range state.Rows {
			id, err := w.InsertRow(ctx, state.BatchID, row.number, row.payload, row.normalized, row.status, row.message)
			if err != nil {
				return err
			}
			staged = append(staged, &domain.ImportRow{
				ID:         id,
				BatchID:    state.BatchID,
				RowNumber:  row.number,
				Payload:    row.payload,
				Normalized: row.normalized,
				Status:     row.status,
				Message:    row.message,
			})

			if row.status == domain.RowError {
				rowID, rowNumber := id, row.number
				msg := "invalid row"
				if row.message != nil {
					msg = *row.message
				}
				if _, err := w.InsertRowError(ctx, &domain.ImportRowError{
					BatchID:      state.BatchID,
					RowID:        &rowID,
					RowNumber:    &rowNumber,
					ErrorCode:    domain.CodeRowInvalid,
					ErrorMessage: msg,
				}); err != nil {
					return err
				}
			}
		}

		if err := w.UpdateBatchCounters(ctx, state.BatchID, len(state.Rows), 0, state.ErrorRows); err != nil {
			return err
		}
		return w.UpdateBatchStatus(ctx, state.BatchID, domain.BatchReady)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}

	state.Staged = staged
	state.Rows = nil
	return nil
}

// Step 6: ExportRowsStep mirrors the staged rows to the warehouse. It runs
// after the batch is durably ready, so a failure never undoes staged data.
type ExportRowsStep struct {
	exporter Exporter
	store    staging.Store
}

func (s *ExportRowsStep) Execute(ctx context.Context, state *PipelineState) error {
	if s.exporter == nil || len(state.Staged) == 0 {
		return nil
	}

	batch, err := s.store.GetBatch(ctx, state.BatchID)
	if err != nil {
		return fmt.Errorf("reload batch for export: %w", err)
	}
	if err := s.exporter.ExportBatch(ctx, batch, state.Staged); err != nil {
		return fmt.Errorf("export batch: %w", err)
	}
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially, stopping at the first
// failure or cancellation.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}
