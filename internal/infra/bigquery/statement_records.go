package bigquery

import (
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/statement-reconciler/internal/domain"
)

type StatementRecordRow struct {
	RecordID string `bigquery:"record_id"` // REQUIRED

	BankID string `bigquery:"bank_id"` // REQUIRED
	Month  int64  `bigquery:"month"`   // REQUIRED
	Year   int64  `bigquery:"year"`    // REQUIRED
	Kind   string `bigquery:"kind"`    // REQUIRED

	CompanyID bigquery.NullString `bigquery:"company_id"` // NULLABLE
	CycleID   bigquery.NullString `bigquery:"cycle_id"`   // NULLABLE

	DocumentPath     bigquery.NullString `bigquery:"document_path"`     // NULLABLE
	DocumentSize     bigquery.NullInt64  `bigquery:"document_size"`     // NULLABLE
	DocumentPassword bigquery.NullString `bigquery:"document_password"` // NULLABLE

	Payload bigquery.NullJSON `bigquery:"payload"` // JSON

	Validated   bool                   `bigquery:"validated"`    // REQUIRED
	ValidatedTS bigquery.NullTimestamp `bigquery:"validated_ts"` // NULLABLE
	ValidatedBy bigquery.NullString    `bigquery:"validated_by"` // NULLABLE
	Mismatches  bigquery.NullJSON      `bigquery:"mismatches"`   // JSON, NULLABLE

	WorkflowStatus string              `bigquery:"workflow_status"` // REQUIRED
	Assignee       bigquery.NullString `bigquery:"assignee"`        // NULLABLE

	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED
	UpdatedTS time.Time `bigquery:"updated_ts"` // REQUIRED
}

const statementRecordColumns = `
	record_id, bank_id, month, year, kind,
	company_id, cycle_id,
	document_path, document_size, document_password,
	payload,
	validated, validated_ts, validated_by, mismatches,
	workflow_status, assignee,
	created_ts, updated_ts`

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

func nullJSON(v interface{}) (bigquery.NullJSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return bigquery.NullJSON{}, err
	}
	return bigquery.NullJSON{JSONVal: string(b), Valid: true}, nil
}

// recordToRow flattens a statement record into its table row.
func recordToRow(rec *domain.StatementRecord) (*StatementRecordRow, error) {
	payload, err := nullJSON(rec.Payload)
	if err != nil {
		return nil, fmt.Errorf("recordToRow: marshaling payload: %w", err)
	}

	row := &StatementRecordRow{
		RecordID:         rec.ID,
		BankID:           rec.Key.BankID,
		Month:            int64(rec.Key.Month),
		Year:             int64(rec.Key.Year),
		Kind:             string(rec.Key.Kind),
		CompanyID:        nullString(rec.CompanyID),
		CycleID:          nullString(rec.CycleID),
		DocumentPath:     nullString(rec.Document.Path),
		DocumentSize:     bigquery.NullInt64{Int64: rec.Document.Size, Valid: rec.Document.Size > 0},
		DocumentPassword: nullString(rec.Document.Password),
		Payload:          payload,
		Validated:        rec.Validation.Validated,
		ValidatedBy:      nullString(rec.Validation.ValidatedBy),
		WorkflowStatus:   string(rec.Workflow.Status),
		Assignee:         nullString(rec.Workflow.Assignee),
		CreatedTS:        rec.CreatedAt,
		UpdatedTS:        rec.UpdatedAt,
	}
	if row.WorkflowStatus == "" {
		row.WorkflowStatus = string(domain.WorkflowPending)
	}
	if rec.Validation.ValidatedAt != nil {
		row.ValidatedTS = bigquery.NullTimestamp{Timestamp: *rec.Validation.ValidatedAt, Valid: true}
	}
	if len(rec.Validation.Mismatches) > 0 {
		if row.Mismatches, err = nullJSON(rec.Validation.Mismatches); err != nil {
			return nil, fmt.Errorf("recordToRow: marshaling mismatches: %w", err)
		}
	}
	return row, nil
}

// rowToRecord rebuilds a statement record from its table row.
func rowToRecord(row *StatementRecordRow) (*domain.StatementRecord, error) {
	rec := &domain.StatementRecord{
		ID: row.RecordID,
		Key: domain.RecordKey{
			BankID: row.BankID,
			Month:  int(row.Month),
			Year:   int(row.Year),
			Kind:   domain.StatementKind(row.Kind),
		},
		CompanyID: row.CompanyID.StringVal,
		CycleID:   row.CycleID.StringVal,
		Document: domain.DocumentRef{
			Path:     row.DocumentPath.StringVal,
			Size:     row.DocumentSize.Int64,
			Password: row.DocumentPassword.StringVal,
		},
		Validation: domain.ValidationStatus{
			Validated:   row.Validated,
			ValidatedBy: row.ValidatedBy.StringVal,
		},
		Workflow: domain.Workflow{
			Status:   domain.WorkflowStatus(row.WorkflowStatus),
			Assignee: row.Assignee.StringVal,
		},
		CreatedAt: row.CreatedTS,
		UpdatedAt: row.UpdatedTS,
	}

	if row.Payload.Valid {
		if err := json.Unmarshal([]byte(row.Payload.JSONVal), &rec.Payload); err != nil {
			return nil, fmt.Errorf("rowToRecord %s: decoding payload: %w", row.RecordID, err)
		}
	}
	if rec.Payload.Balances == nil {
		rec.Payload.Balances = []domain.MonthlyBalance{}
	}
	if row.ValidatedTS.Valid {
		t := row.ValidatedTS.Timestamp
		rec.Validation.ValidatedAt = &t
	}
	if row.Mismatches.Valid {
		if err := json.Unmarshal([]byte(row.Mismatches.JSONVal), &rec.Validation.Mismatches); err != nil {
			return nil, fmt.Errorf("rowToRecord %s: decoding mismatches: %w", row.RecordID, err)
		}
	}
	return rec, nil
}

// rowParams binds every column of a row as a named query parameter.
func rowParams(row *StatementRecordRow) []bigquery.QueryParameter {
	return []bigquery.QueryParameter{
		{Name: "record_id", Value: row.RecordID},
		{Name: "bank_id", Value: row.BankID},
		{Name: "month", Value: row.Month},
		{Name: "year", Value: row.Year},
		{Name: "kind", Value: row.Kind},
		{Name: "company_id", Value: row.CompanyID},
		{Name: "cycle_id", Value: row.CycleID},
		{Name: "document_path", Value: row.DocumentPath},
		{Name: "document_size", Value: row.DocumentSize},
		{Name: "document_password", Value: row.DocumentPassword},
		{Name: "payload", Value: row.Payload},
		{Name: "validated", Value: row.Validated},
		{Name: "validated_ts", Value: row.ValidatedTS},
		{Name: "validated_by", Value: row.ValidatedBy},
		{Name: "mismatches", Value: row.Mismatches},
		{Name: "workflow_status", Value: row.WorkflowStatus},
		{Name: "assignee", Value: row.Assignee},
		{Name: "created_ts", Value: row.CreatedTS},
		{Name: "updated_ts", Value: row.UpdatedTS},
	}
}
