package reconcile

import (
	"errors"
	"testing"

	"github.com/dvloznov/statement-reconciler/internal/domain"
	"github.com/dvloznov/statement-reconciler/internal/records"
	"github.com/dvloznov/statement-reconciler/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) seedQuarter(t *testing.T) []string {
	t.Helper()
	res, err := f.engine.Reconcile(f.ctx, Input{Bank: f.bank, Kind: domain.KindRange, Payload: quarterPayload()})
	require.NoError(t, err)
	return res.Records
}

func TestValidateRecord(t *testing.T) {
	f := newFixture()
	ids := f.seedQuarter(t)

	rec, err := f.engine.ValidateRecord(f.ctx, ids[0], "reviewer")
	require.NoError(t, err)
	assert.True(t, rec.Validation.Validated)
	assert.Equal(t, "reviewer", rec.Validation.ValidatedBy)
	require.NotNil(t, rec.Validation.ValidatedAt)
	assert.Empty(t, rec.Validation.Mismatches)

	p := rec.Payload
	p.AccountNumber = "999"
	_, err = f.engine.SaveRecord(f.ctx, rec.ID, p)
	require.NoError(t, err)

	rec, err = f.engine.ValidateRecord(f.ctx, rec.ID, "reviewer")
	require.NoError(t, err)
	assert.False(t, rec.Validation.Validated)
	require.Len(t, rec.Validation.Mismatches, 1)
	assert.Equal(t, validation.FieldAccountNumber, rec.Validation.Mismatches[0].Field)
}

func TestSaveRecord_ClearsValidation(t *testing.T) {
	f := newFixture()
	ids := f.seedQuarter(t)

	_, err := f.engine.ValidateRecord(f.ctx, ids[1], "reviewer")
	require.NoError(t, err)
	_, err = f.engine.SetWorkflow(f.ctx, ids[1], domain.WorkflowValidated, "bob")
	require.NoError(t, err)

	rec, err := f.engine.GetRecord(f.ctx, ids[1])
	require.NoError(t, err)

	saved, err := f.engine.SaveRecord(f.ctx, ids[1], rec.Payload)
	require.NoError(t, err)
	assert.False(t, saved.Validation.Validated)
	assert.Equal(t, domain.WorkflowPending, saved.Workflow.Status)
	assert.Equal(t, "bob", saved.Workflow.Assignee)
}

func TestVerifyBalance(t *testing.T) {
	f := newFixture()
	ids := f.seedQuarter(t)

	rec, err := f.engine.VerifyBalance(f.ctx, ids[2], 3, 2024, "auditor")
	require.NoError(t, err)
	b := rec.Payload.Balances[0]
	assert.True(t, b.Verified)
	assert.Equal(t, "auditor", b.VerifiedBy)
	require.NotNil(t, b.VerifiedAt)

	rec, err = f.engine.UnverifyBalance(f.ctx, ids[2], 3, 2024)
	require.NoError(t, err)
	b = rec.Payload.Balances[0]
	assert.False(t, b.Verified)
	assert.Empty(t, b.VerifiedBy)
	assert.Nil(t, b.VerifiedAt)

	_, err = f.engine.VerifyBalance(f.ctx, ids[2], 7, 2024, "auditor")
	assert.True(t, errors.Is(err, records.ErrNotFound))
}

func TestRevalidatePending(t *testing.T) {
	f := newFixture()
	ids := f.seedQuarter(t)

	rec, err := f.engine.GetRecord(f.ctx, ids[0])
	require.NoError(t, err)
	rec.Payload.Currency = "USD"
	_, err = f.engine.SaveRecord(f.ctx, rec.ID, rec.Payload)
	require.NoError(t, err)

	passed, err := f.engine.RevalidatePending(f.ctx, "sweeper")
	require.NoError(t, err)
	assert.Equal(t, 2, passed)

	// validated records are skipped on the next sweep
	passed, err = f.engine.RevalidatePending(f.ctx, "sweeper")
	require.NoError(t, err)
	assert.Equal(t, 0, passed)
}

func TestDeleteByKey(t *testing.T) {
	f := newFixture()
	f.seedQuarter(t)

	err := f.engine.DeleteByKey(f.ctx, domain.RecordKey{BankID: f.bank.BankID, Month: 2, Year: 2024})
	assert.True(t, errors.Is(err, records.ErrUnscopedDelete))

	err = f.engine.DeleteByKey(f.ctx, domain.RecordKey{BankID: f.bank.BankID, Month: 2, Year: 2024, Kind: domain.KindMonthly})
	assert.True(t, errors.Is(err, records.ErrNotFound))

	err = f.engine.DeleteByKey(f.ctx, domain.RecordKey{BankID: f.bank.BankID, Month: 2, Year: 2024, Kind: domain.KindRange})
	require.NoError(t, err)
	assert.Len(t, f.list(t, domain.KindRange), 2)
}

func TestParsePeriodAndClassify(t *testing.T) {
	f := newFixture()

	span, err := f.engine.ParsePeriod("Jan 1, 2024 - Mar 31, 2024")
	require.NoError(t, err)
	assert.Equal(t, 3, span.MonthCount())

	p := domain.ExtractionPayload{PeriodText: "01/02/2024 - 29/02/2024", Balances: []domain.MonthlyBalance{balance(2, 2024, 1)}}
	res := f.engine.Classify(f.ctx, &p, domain.KindRange)
	assert.Equal(t, domain.KindRange, res.Kind)
	assert.True(t, res.Conflict)
}
