package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"
)

type ExtractionRunRow struct {
	RunID    string `bigquery:"run_id"`    // REQUIRED
	FileName string `bigquery:"file_name"` // REQUIRED

	BankID    bigquery.NullString `bigquery:"bank_id"`    // NULLABLE
	ModelName string              `bigquery:"model_name"` // REQUIRED

	Status       string              `bigquery:"status"`        // REQUIRED
	Attempts     int64               `bigquery:"attempts"`      // REQUIRED
	ErrorMessage bigquery.NullString `bigquery:"error_message"` // NULLABLE
	Kind         bigquery.NullString `bigquery:"kind"`          // NULLABLE

	StartedTS  time.Time              `bigquery:"started_ts"`  // REQUIRED
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts"` // NULLABLE
}

type ModelOutputRow struct {
	OutputID  string `bigquery:"output_id"`  // REQUIRED
	RunID     string `bigquery:"run_id"`     // REQUIRED
	ModelName string `bigquery:"model_name"` // REQUIRED

	RawJSON bigquery.NullJSON `bigquery:"raw_json"` // REQUIRED (JSON)

	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED
}
