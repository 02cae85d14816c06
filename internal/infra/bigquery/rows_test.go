package bigquery

import (
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/statement-reconciler/internal/domain"
	"github.com/dvloznov/statement-reconciler/internal/records"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatasetTable(t *testing.T) {
	ds := Dataset{ProjectID: "proj", DatasetID: "statements"}
	assert.Equal(t, "`proj.statements.statement_records`", ds.Table(statementRecordsTable))
}

func TestRecordRowConversion(t *testing.T) {
	validatedAt := time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC)
	rec := &domain.StatementRecord{
		ID:        "rec-1",
		Key:       domain.RecordKey{BankID: "kcb-main", Month: 2, Year: 2024, Kind: domain.KindRange},
		CompanyID: "acme",
		CycleID:   "cycle-1",
		Document:  domain.DocumentRef{Path: "statements/acme/kcb-main/2024/01/q1.pdf", Size: 2048},
		Payload: domain.ExtractionPayload{
			BankName:      "KCB",
			AccountNumber: "1234567890",
			Currency:      "KES",
			PeriodText:    "01/01/2024 - 31/03/2024",
			Balances: []domain.MonthlyBalance{{
				Month:          2,
				Year:           2024,
				ClosingBalance: decimal.NewNullDecimal(decimal.RequireFromString("1500.25")),
				Verified:       true,
				VerifiedBy:     "alice",
			}},
		},
		Validation: domain.ValidationStatus{
			Validated:   false,
			ValidatedAt: &validatedAt,
			ValidatedBy: "system",
			Mismatches:  []domain.Mismatch{{Field: "currency", Expected: "KES", Actual: "USD", Message: "currency differs"}},
		},
		Workflow:  domain.Workflow{Status: domain.WorkflowValidated, Assignee: "bob"},
		CreatedAt: validatedAt.Add(-time.Hour),
		UpdatedAt: validatedAt,
	}

	row, err := recordToRow(rec)
	require.NoError(t, err)
	assert.Equal(t, int64(2), row.Month)
	assert.Equal(t, "range", row.Kind)
	assert.True(t, row.DocumentSize.Valid)
	assert.False(t, row.DocumentPassword.Valid)
	assert.True(t, row.Mismatches.Valid)
	assert.Contains(t, row.Payload.JSONVal, `"closing_balance":"1500.25"`)

	back, err := rowToRecord(row)
	require.NoError(t, err)
	assert.Equal(t, rec.Key, back.Key)
	assert.Equal(t, rec.Document, back.Document)
	assert.Equal(t, rec.Workflow, back.Workflow)
	assert.Equal(t, rec.Validation.Mismatches, back.Validation.Mismatches)
	require.NotNil(t, back.Validation.ValidatedAt)
	assert.True(t, validatedAt.Equal(*back.Validation.ValidatedAt))
	require.Len(t, back.Payload.Balances, 1)
	assert.True(t, back.Payload.Balances[0].ClosingBalance.Decimal.Equal(decimal.RequireFromString("1500.25")))
	assert.False(t, back.Payload.Balances[0].OpeningBalance.Valid)
	assert.True(t, back.Payload.Balances[0].Verified)
}

func TestRowToRecord_EmptyPayload(t *testing.T) {
	rec, err := rowToRecord(&StatementRecordRow{RecordID: "r", BankID: "b", Month: 1, Year: 2024, Kind: "monthly"})
	require.NoError(t, err)
	assert.NotNil(t, rec.Payload.Balances)
	assert.Nil(t, rec.Validation.ValidatedAt)
}

func TestRowToRecord_BadJSON(t *testing.T) {
	_, err := rowToRecord(&StatementRecordRow{RecordID: "r", Payload: bigquery.NullJSON{JSONVal: "{", Valid: true}})
	assert.Error(t, err)
}

func TestRecordToRow_DefaultsWorkflow(t *testing.T) {
	row, err := recordToRow(&domain.StatementRecord{ID: "r"})
	require.NoError(t, err)
	assert.Equal(t, "pending", row.WorkflowStatus)
	assert.False(t, row.Mismatches.Valid)
}

func TestBuildRecordWhere(t *testing.T) {
	validated := false
	tests := []struct {
		name       string
		filter     records.Filter
		wantWhere  string
		wantParams int
	}{
		{"empty", records.Filter{}, "TRUE", 0},
		{"by id", records.Filter{ID: "x"}, "record_id = @f_record_id", 1},
		{
			"natural key",
			records.ForKey(domain.RecordKey{BankID: "kcb", Month: 3, Year: 2024, Kind: domain.KindMonthly}),
			"bank_id = @f_bank_id AND month = @f_month AND year = @f_year AND kind = @f_kind",
			4,
		},
		{"pending sweep", records.Filter{Validated: &validated}, "validated = @f_validated", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, params := buildRecordWhere(tt.filter)
			assert.Equal(t, tt.wantWhere, where)
			assert.Len(t, params, tt.wantParams)
		})
	}
}

func TestNewCycleRow(t *testing.T) {
	row := newCycleRow(2024, 3, domain.KindRange)
	assert.NotEmpty(t, row.CycleID)
	assert.Equal(t, "2024-03 range", row.Label)
	assert.Equal(t, civil.Date{Year: 2024, Month: time.March, Day: 1}, row.PeriodStart)
}

func TestBankAccountRowToDomain(t *testing.T) {
	row := BankAccountRow{
		BankID:           "kcb-main",
		BankName:         "KCB",
		AccountNumber:    "1234567890",
		CurrencyCode:     "KES",
		DocumentPassword: nullString("secret"),
	}
	acct := row.toDomain()
	assert.Equal(t, "secret", acct.Password)
	assert.Empty(t, acct.CompanyID)
}

func TestRunToRows(t *testing.T) {
	started := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

	t.Run("failed run has no output", func(t *testing.T) {
		run := &domain.ExtractionRun{
			RunID:     "run-1",
			FileName:  "a.pdf",
			Model:     "gemini-2.5-flash",
			Status:    domain.RunStatusFailed,
			Attempts:  3,
			Error:     string(make([]byte, 3000)),
			StartedAt: started,
		}
		row, out, err := runToRows(run)
		require.NoError(t, err)
		assert.Nil(t, out)
		assert.Len(t, row.ErrorMessage.StringVal, maxErrorMessageLen)
		assert.False(t, row.FinishedTS.Valid)
		assert.False(t, row.BankID.Valid)
	})

	t.Run("successful run keeps raw output", func(t *testing.T) {
		run := &domain.ExtractionRun{
			RunID:      "run-2",
			FileName:   "b.pdf",
			BankID:     "kcb-main",
			Model:      "gemini-2.5-flash",
			Status:     domain.RunStatusSucceeded,
			Attempts:   1,
			Kind:       domain.KindMonthly,
			StartedAt:  started,
			FinishedAt: started.Add(time.Minute),
			RawOutput:  map[string]interface{}{"bank_name": "KCB"},
		}
		row, out, err := runToRows(run)
		require.NoError(t, err)
		require.NotNil(t, out)
		assert.Equal(t, "run-2", out.RunID)
		assert.JSONEq(t, `{"bank_name":"KCB"}`, out.RawJSON.JSONVal)
		assert.Equal(t, run.FinishedAt, out.CreatedTS)
		assert.Equal(t, "monthly", row.Kind.StringVal)
	})
}
