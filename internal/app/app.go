// Package app assembles the import service from its configuration. The API
// server and the CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dvloznov/finance-import/internal/config"
	"github.com/dvloznov/finance-import/internal/filestore"
	"github.com/dvloznov/finance-import/internal/logger"
	"github.com/dvloznov/finance-import/internal/normalize"
	"github.com/dvloznov/finance-import/internal/pipeline"
	"github.com/dvloznov/finance-import/internal/staging"
	"github.com/dvloznov/finance-import/internal/warehouse"
	"google.golang.org/api/option"
)

// App holds the wired components.
type App struct {
	Config   *config.Config
	Store    *staging.SQLStore
	Files    *filestore.Store
	Manager  *pipeline.Manager
	Exporter *warehouse.Exporter // nil when the warehouse is disabled

	closers []io.Closer
}

// New opens the staging database, applies pending migrations and wires the
// batch manager. Optional GCS and BigQuery integrations are enabled by cfg;
// extra are applied to the manager after the built-in options.
func New(ctx context.Context, cfg *config.Config, extra ...pipeline.Option) (*App, error) {
	log := logger.FromContext(ctx)
	a := &App{Config: cfg}

	dialect, err := staging.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	store, err := staging.Open(ctx, dialect, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, store)

	applied, err := store.Migrate(ctx, "import-service")
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: migrate staging store: %w", err)
	}
	if applied > 0 {
		log.Info().Int("applied", applied).Msg("Applied staging migrations")
	}

	var fileOpts []filestore.Option
	if cfg.MirrorEnabled() {
		mirror, err := filestore.NewGCSMirror(ctx, cfg.Mirror.Bucket, cfg.Mirror.Prefix, cfg.Mirror.CredentialsFile)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, mirror)
		fileOpts = append(fileOpts, filestore.WithMirror(mirror))
		log.Info().Str("bucket", cfg.Mirror.Bucket).Msg("Mirroring stored files to GCS")
	}
	files, err := filestore.New(cfg.Storage.Root, cfg.Storage.MaxUploadBytes, fileOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Files = files

	opts := []pipeline.Option{
		pipeline.WithValidator(pipeline.NewRecordValidator(cfg.Import.ExtraCurrencies...)),
	}
	if cfg.WarehouseEnabled() {
		var clientOpts []option.ClientOption
		if cfg.Mirror.CredentialsFile != "" {
			clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.Mirror.CredentialsFile))
		}
		exporter, err := warehouse.NewExporter(ctx, cfg.Warehouse.Project, cfg.Warehouse.Dataset, cfg.Warehouse.Table, clientOpts...)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, exporter)
		if err := exporter.EnsureTable(ctx); err != nil {
			a.Close()
			return nil, err
		}
		a.Exporter = exporter
		opts = append(opts, pipeline.WithExporter(exporter))
		log.Info().
			Str("project", cfg.Warehouse.Project).
			Str("table", cfg.Warehouse.Dataset+"."+cfg.Warehouse.Table).
			Msg("Exporting populated batches to BigQuery")
	}

	opts = append(opts, extra...)

	policy := normalize.DefaultPolicy().WithCurrency(cfg.Import.DefaultCurrency)
	a.Manager = pipeline.NewManager(store, files, pipeline.DefaultRegistry(policy), opts...)
	return a, nil
}

// Close releases every opened resource, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
