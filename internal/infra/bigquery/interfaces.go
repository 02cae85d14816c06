package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/statement-reconciler/internal/banks"
	"github.com/dvloznov/statement-reconciler/internal/cycles"
	"github.com/dvloznov/statement-reconciler/internal/domain"
	"github.com/dvloznov/statement-reconciler/internal/logger"
	"github.com/dvloznov/statement-reconciler/internal/pipeline"
	"github.com/dvloznov/statement-reconciler/internal/records"
)

// StatementRecordRepository is the BigQuery implementation of records.Store.
// It holds a shared BigQuery client to avoid creating a new connection for
// each operation.
type StatementRecordRepository struct {
	client *bigquery.Client
	ds     Dataset
}

// NewStatementRecordRepository creates a repository with its own BigQuery client.
func NewStatementRecordRepository(ctx context.Context, ds Dataset) (*StatementRecordRepository, error) {
	client, err := NewClient(ctx, ds)
	if err != nil {
		return nil, fmt.Errorf("NewStatementRecordRepository: %w", err)
	}
	return NewStatementRecordRepositoryWithClient(client, ds), nil
}

// NewStatementRecordRepositoryWithClient creates a repository on a shared client.
func NewStatementRecordRepositoryWithClient(client *bigquery.Client, ds Dataset) *StatementRecordRepository {
	return &StatementRecordRepository{client: client, ds: ds}
}

// Close closes the BigQuery client connection. This should be called when
// the repository is no longer needed to release resources.
func (r *StatementRecordRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Get delegates to GetStatementRecordWithClient.
func (r *StatementRecordRepository) Get(ctx context.Context, id string) (*domain.StatementRecord, error) {
	return GetStatementRecordWithClient(ctx, r.client, r.ds, id)
}

// FindByKey delegates to FindStatementRecordByKeyWithClient.
func (r *StatementRecordRepository) FindByKey(ctx context.Context, key domain.RecordKey) (*domain.StatementRecord, error) {
	return FindStatementRecordByKeyWithClient(ctx, r.client, r.ds, key)
}

// List delegates to ListStatementRecordsWithClient.
func (r *StatementRecordRepository) List(ctx context.Context, filter records.Filter) ([]*domain.StatementRecord, error) {
	return ListStatementRecordsWithClient(ctx, r.client, r.ds, filter)
}

// Insert delegates to InsertStatementRecordWithClient.
func (r *StatementRecordRepository) Insert(ctx context.Context, rec *domain.StatementRecord) error {
	return InsertStatementRecordWithClient(ctx, r.client, r.ds, rec)
}

// Update delegates to UpdateStatementRecordWithClient.
func (r *StatementRecordRepository) Update(ctx context.Context, rec *domain.StatementRecord) error {
	return UpdateStatementRecordWithClient(ctx, r.client, r.ds, rec)
}

// Delete delegates to DeleteStatementRecordsWithClient.
func (r *StatementRecordRepository) Delete(ctx context.Context, filter records.Filter) (int, error) {
	return DeleteStatementRecordsWithClient(ctx, r.client, r.ds, filter)
}

// Upsert delegates to UpsertStatementRecordWithClient.
func (r *StatementRecordRepository) Upsert(ctx context.Context, rec *domain.StatementRecord) (bool, error) {
	return UpsertStatementRecordWithClient(ctx, r.client, r.ds, rec)
}

// BankAccountRepository is the BigQuery implementation of banks.Directory.
type BankAccountRepository struct {
	client *bigquery.Client
	ds     Dataset
}

// NewBankAccountRepositoryWithClient creates a bank account directory on a shared client.
func NewBankAccountRepositoryWithClient(client *bigquery.Client, ds Dataset) *BankAccountRepository {
	return &BankAccountRepository{client: client, ds: ds}
}

// Get delegates to GetBankAccountWithClient.
func (r *BankAccountRepository) Get(ctx context.Context, bankID string) (*domain.BankAccount, error) {
	return GetBankAccountWithClient(ctx, r.client, r.ds, bankID)
}

// List delegates to ListBankAccountsWithClient.
func (r *BankAccountRepository) List(ctx context.Context) ([]domain.BankAccount, error) {
	return ListBankAccountsWithClient(ctx, r.client, r.ds)
}

// CycleRepository is the BigQuery implementation of cycles.Service.
type CycleRepository struct {
	client *bigquery.Client
	ds     Dataset
}

// NewCycleRepositoryWithClient creates a cycle service on a shared client.
func NewCycleRepositoryWithClient(client *bigquery.Client, ds Dataset) *CycleRepository {
	return &CycleRepository{client: client, ds: ds}
}

// Resolve delegates to ResolveCycleWithClient.
func (r *CycleRepository) Resolve(ctx context.Context, year, month int, kind domain.StatementKind) (string, error) {
	return ResolveCycleWithClient(ctx, r.client, r.ds, year, month, kind)
}

// ExtractionRunRepository records extraction runs and raw model output.
type ExtractionRunRepository struct {
	client *bigquery.Client
	ds     Dataset
}

// NewExtractionRunRepositoryWithClient creates a run recorder on a shared client.
func NewExtractionRunRepositoryWithClient(client *bigquery.Client, ds Dataset) *ExtractionRunRepository {
	return &ExtractionRunRepository{client: client, ds: ds}
}

// RecordRun delegates to InsertExtractionRunWithClient.
func (r *ExtractionRunRepository) RecordRun(ctx context.Context, run *domain.ExtractionRun) error {
	if err := InsertExtractionRunWithClient(ctx, r.client, r.ds, run); err != nil {
		return err
	}
	log := logger.FromContext(ctx)
	log.Debug().
		Str("run_id", run.RunID).
		Str("status", run.Status).
		Int("attempts", run.Attempts).
		Msg("Extraction run recorded")
	return nil
}

var (
	_ records.Store        = (*StatementRecordRepository)(nil)
	_ banks.Directory      = (*BankAccountRepository)(nil)
	_ cycles.Service       = (*CycleRepository)(nil)
	_ pipeline.RunRecorder = (*ExtractionRunRepository)(nil)
)
