package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/finance-import/internal/domain"
	"github.com/dvloznov/finance-import/internal/filestore"
	"github.com/dvloznov/finance-import/internal/jobs"
	"github.com/dvloznov/finance-import/internal/logger"
)

// Enqueue stages the upload, creates its batch and hands population to a
// background worker through pub. The batch is returned in staging status.
func (m *Manager) Enqueue(ctx context.Context, pub jobs.Publisher, actorID *string, sourceType domain.SourceType, up filestore.Upload) (*domain.ImportBatch, *jobs.PopulateBatchJob, error) {
	if _, ok := sourceType.Info(); !ok {
		return nil, nil, fmt.Errorf("Enqueue: %w: %q", domain.ErrUnsupportedSourceType, sourceType)
	}

	file, err := m.Stage(ctx, up)
	if err != nil {
		return nil, nil, err
	}
	id, err := m.CreateBatch(ctx, actorID, sourceType, file)
	if err != nil {
		return nil, nil, err
	}

	job := &jobs.PopulateBatchJob{
		BatchID:      id,
		SourceType:   string(sourceType),
		RelativePath: file.RelativePath,
		OriginalName: file.OriginalName,
		Size:         file.Size,
		Checksum:     file.Checksum,
	}
	if err := pub.PublishPopulateBatch(ctx, job); err != nil {
		err = fmt.Errorf("Enqueue: publish batch %d: %w", id, err)
		if failErr := m.failBatch(ctx, id, domain.ErrorCode(err), err.Error()); failErr != nil {
			return nil, nil, errors.Join(err, failErr)
		}
		return nil, nil, err
	}

	log := logger.FromContext(ctx)
	log.Info().
		Int64("batch_id", id).
		Str("job_id", job.JobID).
		Msg("Queued batch for population")

	batch, err := m.store.GetBatch(ctx, id)
	if err != nil {
		return nil, job, err
	}
	return batch, job, nil
}

// HandleJob is a jobs.JobHandler that populates the batch named by a
// PopulateBatchJob. Failures that left the batch in a terminal state are
// permanent; anything else is retried by the queue.
func (m *Manager) HandleJob(ctx context.Context, job jobs.Job) error {
	p, ok := job.(*jobs.PopulateBatchJob)
	if !ok {
		return jobs.Permanent(fmt.Errorf("unexpected job type %q", job.GetType()))
	}

	sourceType, err := domain.ParseSourceType(p.SourceType)
	if err != nil {
		return jobs.Permanent(err)
	}

	// A bad path is left to ReadFileStep, which fails the batch with it.
	storedPath, _ := m.files.Resolve(p.RelativePath)
	file := &filestore.StoredFile{
		OriginalName: p.OriginalName,
		StoredPath:   storedPath,
		RelativePath: p.RelativePath,
		Size:         p.Size,
		Checksum:     p.Checksum,
	}

	popErr := m.PopulateBatch(ctx, p.BatchID, sourceType, file)
	if popErr == nil {
		return nil
	}

	batch, err := m.store.GetBatch(context.WithoutCancel(ctx), p.BatchID)
	if err != nil {
		if errors.Is(err, domain.ErrBatchNotFound) {
			return jobs.Permanent(popErr)
		}
		return errors.Join(popErr, err)
	}
	if batch.Status != domain.BatchStaging {
		return jobs.Permanent(popErr)
	}
	return popErr
}
