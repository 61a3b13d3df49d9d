// Package warehouse mirrors populated batches into a BigQuery table for
// reporting. The staging database stays the source of truth.
package warehouse

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/finance-import/internal/domain"
	"github.com/dvloznov/finance-import/internal/logger"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Exporter loads staged rows into BigQuery, one load job per batch.
type Exporter struct {
	client  *bigquery.Client
	dataset string
	table   string
	now     func() time.Time
}

// NewExporter creates a BigQuery client for project.
func NewExporter(ctx context.Context, project, dataset, table string, opts ...option.ClientOption) (*Exporter, error) {
	if project == "" || dataset == "" || table == "" {
		return nil, fmt.Errorf("NewExporter: project, dataset and table are required")
	}
	client, err := bigquery.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewExporter: creating client: %w", err)
	}
	return &Exporter{client: client, dataset: dataset, table: table, now: time.Now}, nil
}

// Close closes the BigQuery client connection.
func (e *Exporter) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

func (e *Exporter) tableRef() *bigquery.Table {
	return e.client.Dataset(e.dataset).Table(e.table)
}

// EnsureTable creates the destination table when it does not exist.
func (e *Exporter) EnsureTable(ctx context.Context) error {
	t := e.tableRef()
	_, err := t.Metadata(ctx)
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusNotFound {
		return fmt.Errorf("EnsureTable: reading metadata: %w", err)
	}

	schema, err := Schema()
	if err != nil {
		return err
	}
	meta := &bigquery.TableMetadata{
		Schema: schema,
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: "exported_at",
		},
		Clustering: &bigquery.Clustering{Fields: []string{"batch_id"}},
	}
	if err := t.Create(ctx, meta); err != nil {
		return fmt.Errorf("EnsureTable: creating %s.%s: %w", e.dataset, e.table, err)
	}

	log := logger.FromContext(ctx)
	log.Info().Str("dataset", e.dataset).Str("table", e.table).Msg("Created warehouse table")
	return nil
}

// ExportBatch implements pipeline.Exporter. All rows of the batch are appended
// by a single load job, so a batch is either fully visible or absent. A batch
// already present in the table is skipped.
func (e *Exporter) ExportBatch(ctx context.Context, batch *domain.ImportBatch, rows []*domain.ImportRow) error {
	if len(rows) == 0 {
		return nil
	}

	existing, err := e.CountRows(ctx, batch.ID)
	if err != nil {
		return fmt.Errorf("ExportBatch: batch %d: %w", batch.ID, err)
	}
	if existing > 0 {
		log := logger.FromContext(ctx)
		log.Warn().
			Int64("batch_id", batch.ID).
			Int64("rows", existing).
			Msg("Batch already exported, skipping")
		return nil
	}

	out, err := ToRows(batch, rows, e.now())
	if err != nil {
		return err
	}
	data, err := EncodeNDJSON(out)
	if err != nil {
		return err
	}

	src := bigquery.NewReaderSource(bytes.NewReader(data))
	src.SourceFormat = bigquery.JSON

	loader := e.tableRef().LoaderFrom(src)
	loader.WriteDisposition = bigquery.WriteAppend
	loader.CreateDisposition = bigquery.CreateNever
	loader.Labels = map[string]string{"batch_id": fmt.Sprintf("%d", batch.ID)}

	job, err := loader.Run(ctx)
	if err != nil {
		return fmt.Errorf("ExportBatch: batch %d: starting load: %w", batch.ID, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("ExportBatch: batch %d: waiting for load %s: %w", batch.ID, job.ID(), err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("ExportBatch: batch %d: load %s: %w", batch.ID, job.ID(), err)
	}

	log := logger.FromContext(ctx)
	log.Info().
		Int64("batch_id", batch.ID).
		Int("rows", len(out)).
		Str("job_id", job.ID()).
		Msg("Exported batch to warehouse")
	return nil
}

// CountRows returns how many rows of batchID the table holds.
func (e *Exporter) CountRows(ctx context.Context, batchID int64) (int64, error) {
	q := e.client.Query(fmt.Sprintf(
		"SELECT COUNT(*) AS n FROM `%s.%s` WHERE batch_id = @batch_id", e.dataset, e.table))
	q.Parameters = []bigquery.QueryParameter{{Name: "batch_id", Value: batchID}}

	it, err := q.Read(ctx)
	if err != nil {
		return 0, fmt.Errorf("CountRows: running query: %w", err)
	}

	var row struct {
		N int64 `bigquery:"n"`
	}
	err = it.Next(&row)
	if err == iterator.Done {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("CountRows: reading result: %w", err)
	}
	return row.N, nil
}
