package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
)

const (
	statementRecordsTable = "statement_records"
	bankAccountsTable     = "bank_accounts"
	cyclesTable           = "statement_cycles"
	extractionRunsTable   = "extraction_runs"
	modelOutputsTable     = "model_outputs"
)

// Dataset names the BigQuery project and dataset the repositories read and write.
type Dataset struct {
	ProjectID string
	DatasetID string
}

// Table returns the fully qualified, backtick-quoted name of a table in the dataset.
func (d Dataset) Table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", d.ProjectID, d.DatasetID, name)
}

// NewClient opens a BigQuery client for the dataset's project.
func NewClient(ctx context.Context, ds Dataset) (*bigquery.Client, error) {
	if ds.ProjectID == "" {
		return nil, fmt.Errorf("NewClient: project id is required")
	}
	client, err := bigquery.NewClient(ctx, ds.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("NewClient: creating client: %w", err)
	}
	return client, nil
}

// runDML runs a DML statement and returns the number of affected rows.
func runDML(ctx context.Context, client *bigquery.Client, op, sql string, params []bigquery.QueryParameter) (int64, error) {
	q := client.Query(sql)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: running query: %w", op, err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: waiting for job: %w", op, err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("%s: job error: %w", op, err)
	}

	if status.Statistics != nil {
		if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
			return qs.NumDMLAffectedRows, nil
		}
	}
	return 0, nil
}
