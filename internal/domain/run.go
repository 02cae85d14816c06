package domain

import "time"

// Extraction run statuses.
const (
	RunStatusSucceeded = "SUCCEEDED"
	RunStatusFailed    = "FAILED"
)

// ExtractionRun is the audit entry for one pass of an upload item through the extraction engine.
type ExtractionRun struct {
	RunID      string
	FileName   string
	BankID     string
	Model      string
	Status     string
	Attempts   int
	Error      string
	Kind       StatementKind
	StartedAt  time.Time
	FinishedAt time.Time

	// RawOutput is the decoded model response of the last successful attempt.
	RawOutput map[string]interface{}
}
