// Package app wires configuration into the services shared by the commands.
package app

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/statement-reconciler/internal/banks"
	"github.com/dvloznov/statement-reconciler/internal/config"
	"github.com/dvloznov/statement-reconciler/internal/cycles"
	"github.com/dvloznov/statement-reconciler/internal/gcs"
	"github.com/dvloznov/statement-reconciler/internal/gcsuploader"
	infraBQ "github.com/dvloznov/statement-reconciler/internal/infra/bigquery"
	"github.com/dvloznov/statement-reconciler/internal/notionsync"
	"github.com/dvloznov/statement-reconciler/internal/pipeline"
	"github.com/dvloznov/statement-reconciler/internal/reconcile"
	"github.com/dvloznov/statement-reconciler/internal/records"
	"github.com/dvloznov/statement-reconciler/internal/records/inmemory"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// App holds the configured backends.
type App struct {
	Config *config.Config

	Records  records.Store
	Cycles   cycles.Service
	Banks    banks.Directory
	Storage  gcs.StorageService
	Recorder pipeline.RunRecorder
	Engine   *reconcile.Engine

	// slot is shared by every pipeline of the process so extraction calls
	// never overlap.
	slot    *semaphore.Weighted
	closers []func() error
}

// New builds the backends selected by cfg.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, slot: semaphore.NewWeighted(1)}
	ds := infraBQ.Dataset{ProjectID: cfg.ProjectID, DatasetID: cfg.DatasetID}

	var bq *bigquery.Client
	if cfg.RecordStore == config.StoreBigQuery || cfg.CycleBackend == config.CyclesBigQuery {
		client, err := infraBQ.NewClient(ctx, ds)
		if err != nil {
			return nil, fmt.Errorf("app.New: %w", err)
		}
		bq = client
		a.closers = append(a.closers, client.Close)
		log.Info().Str("project", cfg.ProjectID).Str("dataset", cfg.DatasetID).Msg("Connected to BigQuery")
	}

	switch cfg.RecordStore {
	case config.StoreBigQuery:
		a.Records = infraBQ.NewStatementRecordRepositoryWithClient(bq, ds)
		a.Banks = infraBQ.NewBankAccountRepositoryWithClient(bq, ds)
		a.Recorder = infraBQ.NewExtractionRunRepositoryWithClient(bq, ds)
	default:
		dir, err := banks.LoadFile(cfg.BanksFile)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app.New: %w", err)
		}
		a.Records = inmemory.NewStore()
		a.Banks = dir
		log.Warn().Str("banks_file", cfg.BanksFile).Msg("Using in-memory record store; records are lost on exit")
	}

	switch cfg.CycleBackend {
	case config.CyclesBigQuery:
		a.Cycles = infraBQ.NewCycleRepositoryWithClient(bq, ds)
	case config.CyclesNotion:
		a.Cycles = notionsync.NewCycleBoard(notionsync.NewNotionClient(cfg.NotionToken), cfg.NotionDatabaseID)
	default:
		a.Cycles = cycles.NewMemory()
	}

	if cfg.Bucket != "" {
		svc, err := gcsuploader.NewGCSStorageService(ctx, cfg.Bucket)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app.New: %w", err)
		}
		a.Storage = svc
		a.closers = append(a.closers, svc.Close)
	} else {
		log.Warn().Msg("No GCS bucket configured - documents are kept in memory")
		a.Storage = gcs.NewMemory("local")
	}

	a.Engine = reconcile.NewEngine(a.Records, a.Cycles, a.Banks)
	return a, nil
}

// Pipeline creates an extraction pipeline backed by Gemini.
func (a *App) Pipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	extractor, err := pipeline.NewGeminiExtractor(ctx, a.Config.GeminiModel)
	if err != nil {
		return nil, fmt.Errorf("app.Pipeline: %w", err)
	}
	return a.PipelineWith(extractor), nil
}

// PipelineWith creates a pipeline around the given extractor.
func (a *App) PipelineWith(extractor pipeline.Extractor) *pipeline.Pipeline {
	return pipeline.New(pipeline.Deps{
		Banks:     a.Banks,
		Extractor: extractor,
		Engine:    a.Engine,
		Storage:   a.Storage,
		Recorder:  a.Recorder,
	}, pipeline.Config{
		MaxAttempts: a.Config.ExtractAttempts,
		Backoff:     a.Config.ExtractBackoff,
		Timeout:     a.Config.ExtractTimeout,
		Model:       a.Config.GeminiModel,
		Slot:        a.slot,
	})
}

// Close releases backend clients.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
