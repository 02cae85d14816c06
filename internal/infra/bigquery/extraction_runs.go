package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/statement-reconciler/internal/domain"
	"github.com/google/uuid"
)

const maxErrorMessageLen = 2000

// runToRows maps an extraction run to its audit row and, when the run produced
// model output, the matching model output row.
func runToRows(run *domain.ExtractionRun) (*ExtractionRunRow, *ModelOutputRow, error) {
	errMsg := run.Error
	if len(errMsg) > maxErrorMessageLen {
		errMsg = errMsg[:maxErrorMessageLen]
	}

	row := &ExtractionRunRow{
		RunID:        run.RunID,
		FileName:     run.FileName,
		BankID:       nullString(run.BankID),
		ModelName:    run.Model,
		Status:       run.Status,
		Attempts:     int64(run.Attempts),
		ErrorMessage: nullString(errMsg),
		Kind:         nullString(string(run.Kind)),
		StartedTS:    run.StartedAt,
	}
	if !run.FinishedAt.IsZero() {
		row.FinishedTS = bigquery.NullTimestamp{Timestamp: run.FinishedAt, Valid: true}
	}

	if run.RawOutput == nil {
		return row, nil, nil
	}
	raw, err := nullJSON(run.RawOutput)
	if err != nil {
		return nil, nil, fmt.Errorf("runToRows: marshaling model output: %w", err)
	}
	out := &ModelOutputRow{
		OutputID:  uuid.NewString(),
		RunID:     run.RunID,
		ModelName: run.Model,
		RawJSON:   raw,
		CreatedTS: row.FinishedTS.Timestamp,
	}
	if !row.FinishedTS.Valid {
		out.CreatedTS = run.StartedAt
	}
	return row, out, nil
}

// InsertExtractionRunWithClient writes one extraction run and its model output, if any.
// Uses DML INSERT to avoid streaming buffer issues.
func InsertExtractionRunWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, run *domain.ExtractionRun) error {
	row, output, err := runToRows(run)
	if err != nil {
		return fmt.Errorf("InsertExtractionRunWithClient: %w", err)
	}

	sql := fmt.Sprintf(`
		INSERT INTO %s (
			run_id, file_name, bank_id, model_name,
			status, attempts, error_message, kind,
			started_ts, finished_ts
		)
		VALUES (
			@run_id, @file_name, @bank_id, @model_name,
			@status, @attempts, @error_message, @kind,
			@started_ts, @finished_ts
		)
	`, ds.Table(extractionRunsTable))

	params := []bigquery.QueryParameter{
		{Name: "run_id", Value: row.RunID},
		{Name: "file_name", Value: row.FileName},
		{Name: "bank_id", Value: row.BankID},
		{Name: "model_name", Value: row.ModelName},
		{Name: "status", Value: row.Status},
		{Name: "attempts", Value: row.Attempts},
		{Name: "error_message", Value: row.ErrorMessage},
		{Name: "kind", Value: row.Kind},
		{Name: "started_ts", Value: row.StartedTS},
		{Name: "finished_ts", Value: row.FinishedTS},
	}
	if _, err := runDML(ctx, client, "InsertExtractionRunWithClient", sql, params); err != nil {
		return err
	}

	if output == nil {
		return nil
	}
	return InsertModelOutputWithClient(ctx, client, ds, output)
}

// InsertModelOutputWithClient inserts a single ModelOutputRow.
func InsertModelOutputWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, row *ModelOutputRow) error {
	sql := fmt.Sprintf(`
		INSERT INTO %s (output_id, run_id, model_name, raw_json, created_ts)
		VALUES (@output_id, @run_id, @model_name, @raw_json, @created_ts)
	`, ds.Table(modelOutputsTable))

	params := []bigquery.QueryParameter{
		{Name: "output_id", Value: row.OutputID},
		{Name: "run_id", Value: row.RunID},
		{Name: "model_name", Value: row.ModelName},
		{Name: "raw_json", Value: row.RawJSON},
		{Name: "created_ts", Value: row.CreatedTS},
	}
	_, err := runDML(ctx, client, "InsertModelOutputWithClient", sql, params)
	return err
}
