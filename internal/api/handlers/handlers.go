package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dvloznov/finance-import/internal/api/middleware"
	"github.com/dvloznov/finance-import/internal/domain"
	"github.com/dvloznov/finance-import/internal/filestore"
	"github.com/dvloznov/finance-import/internal/jobs"
	"github.com/dvloznov/finance-import/internal/staging"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// multipartMemory is the part of a multipart upload kept in memory; the rest
// spills to temporary files.
const multipartMemory = 8 << 20

// BatchService is the batch manager surface used by the handlers.
type BatchService interface {
	Import(ctx context.Context, actorID *string, sourceType domain.SourceType, up filestore.Upload) (*domain.ImportBatch, error)
	Enqueue(ctx context.Context, pub jobs.Publisher, actorID *string, sourceType domain.SourceType, up filestore.Upload) (*domain.ImportBatch, *jobs.PopulateBatchJob, error)
	RecentBatches(ctx context.Context, limit int) ([]*domain.ImportBatch, error)
	GetBatch(ctx context.Context, id int64) (*domain.ImportBatch, error)
	ListRows(ctx context.Context, batchID int64, f staging.RowFilter) ([]*domain.ImportRow, error)
	ListRowErrors(ctx context.Context, batchID int64) ([]*domain.ImportRowError, error)
	ListSourceTypes() []domain.SourceTypeInfo
}

// JobLookup finds the newest populate job of a batch.
type JobLookup interface {
	LatestForBatch(ctx context.Context, batchID int64) (*jobs.PopulateBatchJob, error)
}

// BatchResponse is a batch with its display badge. Job is the newest
// asynchronous populate job of the batch, when one is known.
type BatchResponse struct {
	*domain.ImportBatch
	Badge string                 `json:"badge"`
	Job   *jobs.PopulateBatchJob `json:"job,omitempty"`
}

func newBatchResponse(b *domain.ImportBatch) BatchResponse {
	return BatchResponse{ImportBatch: b, Badge: domain.StatusBadgeClass(b.Status)}
}

// BatchesHandler handles import batch endpoints.
type BatchesHandler struct {
	svc       BatchService
	publisher jobs.Publisher
	jobs      JobLookup
	maxUpload int64
	log       zerolog.Logger
}

// NewBatchesHandler creates a new batches handler. publisher may be nil, in
// which case asynchronous uploads are refused. lookup may be nil, in which
// case batch responses carry no job.
func NewBatchesHandler(svc BatchService, publisher jobs.Publisher, lookup JobLookup, maxUpload int64, log zerolog.Logger) *BatchesHandler {
	return &BatchesHandler{
		svc:       svc,
		publisher: publisher,
		jobs:      lookup,
		maxUpload: maxUpload,
		log:       log,
	}
}

// ListSourceTypes handles GET /api/source-types
func (h *BatchesHandler) ListSourceTypes(w http.ResponseWriter, r *http.Request) {
	types := h.svc.ListSourceTypes()
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"source_types": types,
		"count":        len(types),
	})
}

// ListBatches handles GET /api/batches
func (h *BatchesHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	batches, err := h.svc.RecentBatches(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list batches")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list batches")
		return
	}

	out := make([]BatchResponse, 0, len(batches))
	for _, b := range batches {
		out = append(out, newBatchResponse(b))
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"batches": out,
		"count":   len(out),
	})
}

// CreateBatch handles POST /api/batches. The multipart form carries the file
// in "file" and the source type in "source_type". With ?async=true population
// runs on a worker and 202 is returned.
func (h *BatchesHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartMemory)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteError(w, http.StatusBadRequest, "File exceeds the upload limit")
			return
		}
		middleware.WriteError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	sourceType, err := domain.ParseSourceType(r.FormValue("source_type"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	up := filestore.Upload{Filename: header.Filename, Size: header.Size, Body: file}
	actor := middleware.GetActor(ctx)

	if r.URL.Query().Get("async") == "true" {
		h.enqueue(w, r, actor, sourceType, up)
		return
	}

	batch, err := h.svc.Import(ctx, actor, sourceType, up)
	if err != nil {
		h.writeImportError(w, r, batch, err)
		return
	}

	h.log.Info().
		Int64("batch_id", batch.ID).
		Str("source_type", string(sourceType)).
		Str("status", string(batch.Status)).
		Msg("Batch imported")
	middleware.WriteJSON(w, http.StatusCreated, newBatchResponse(batch))
}

func (h *BatchesHandler) enqueue(w http.ResponseWriter, r *http.Request, actor *string, sourceType domain.SourceType, up filestore.Upload) {
	if h.publisher == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Asynchronous imports are disabled")
		return
	}

	batch, job, err := h.svc.Enqueue(r.Context(), h.publisher, actor, sourceType, up)
	if err != nil {
		h.writeImportError(w, r, batch, err)
		return
	}

	h.log.Info().Int64("batch_id", batch.ID).Str("job_id", job.JobID).Msg("Batch queued")
	middleware.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"batch":  newBatchResponse(batch),
		"job_id": job.JobID,
	})
}

// writeImportError maps an import failure to a response. batch is non-nil
// when the failure happened after the batch was created.
func (h *BatchesHandler) writeImportError(w http.ResponseWriter, r *http.Request, batch *domain.ImportBatch, err error) {
	status := statusFor(err)
	event := h.log.Warn()
	if status >= http.StatusInternalServerError {
		event = h.log.Error()
	}
	event.Err(err).Str("code", domain.ErrorCode(err)).Int("status", status).Msg("Import failed")

	body := map[string]interface{}{
		"error": publicMessage(status, err),
		"code":  domain.ErrorCode(err),
	}
	if batch != nil {
		body["batch"] = newBatchResponse(batch)
	}
	middleware.WriteJSON(w, status, body)
}

// GetBatch handles GET /api/batches/{id}
func (h *BatchesHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := batchID(w, r)
	if !ok {
		return
	}

	batch, err := h.svc.GetBatch(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, id, err)
		return
	}

	resp := newBatchResponse(batch)
	if h.jobs != nil {
		job, err := h.jobs.LatestForBatch(r.Context(), id)
		switch {
		case err == nil:
			resp.Job = job
		case !errors.Is(err, jobs.ErrJobNotFound):
			h.log.Warn().Err(err).Int64("batch_id", id).Msg("Failed to look up batch job")
		}
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// ListRows handles GET /api/batches/{id}/rows
func (h *BatchesHandler) ListRows(w http.ResponseWriter, r *http.Request) {
	id, ok := batchID(w, r)
	if !ok {
		return
	}

	filter := staging.RowFilter{Status: domain.RowStatus(r.URL.Query().Get("status"))}
	if filter.Status != "" && !filter.Status.Valid() {
		middleware.WriteError(w, http.StatusBadRequest, fmt.Sprintf("unknown row status %q", filter.Status))
		return
	}
	var err error
	if filter.Limit, err = intParam(r, "limit"); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.Offset, err = intParam(r, "offset"); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := h.svc.ListRows(r.Context(), id, filter)
	if err != nil {
		h.writeLookupError(w, id, err)
		return
	}
	if rows == nil {
		rows = []*domain.ImportRow{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"rows":  rows,
		"count": len(rows),
	})
}

// ListRowErrors handles GET /api/batches/{id}/errors
func (h *BatchesHandler) ListRowErrors(w http.ResponseWriter, r *http.Request) {
	id, ok := batchID(w, r)
	if !ok {
		return
	}

	ledger, err := h.svc.ListRowErrors(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, id, err)
		return
	}
	if ledger == nil {
		ledger = []*domain.ImportRowError{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"errors": ledger,
		"count":  len(ledger),
	})
}

func (h *BatchesHandler) writeLookupError(w http.ResponseWriter, id int64, err error) {
	if errors.Is(err, domain.ErrBatchNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Batch not found")
		return
	}
	h.log.Error().Err(err).Int64("batch_id", id).Msg("Failed to load batch")
	middleware.WriteError(w, http.StatusInternalServerError, "Failed to load batch")
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnsupportedSourceType), errors.Is(err, domain.ErrFileRejected):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrStorageUnavailable), errors.Is(err, jobs.ErrQueueClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrNoTransactionsFound),
		errors.Is(err, domain.ErrParseFailed),
		errors.Is(err, domain.ErrDecompressionFailed),
		errors.Is(err, domain.ErrSerialization):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrBatchNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func publicMessage(status int, err error) string {
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		return "Import failed"
	}
	return err.Error()
}

func batchID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid batch id")
		return 0, false
	}
	return id, true
}

func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return n, nil
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.JobFilter{Status: jobs.JobStatus(query.Get("status"))}

	if v := query.Get("batch_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid batch_id")
			return
		}
		filter.BatchID = id
	}
	var err error
	if filter.Limit, err = intParam(r, "limit"); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.Offset, err = intParam(r, "offset"); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
