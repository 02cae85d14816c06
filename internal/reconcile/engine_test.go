package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/statement-reconciler/internal/banks"
	"github.com/dvloznov/statement-reconciler/internal/cycles"
	"github.com/dvloznov/statement-reconciler/internal/domain"
	"github.com/dvloznov/statement-reconciler/internal/logger"
	"github.com/dvloznov/statement-reconciler/internal/records"
	"github.com/dvloznov/statement-reconciler/internal/records/inmemory"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hookedStore wraps the in-memory store so tests can inject failures.
type hookedStore struct {
	*inmemory.Store
	InsertFunc func(ctx context.Context, rec *domain.StatementRecord) error
}

func (h *hookedStore) Insert(ctx context.Context, rec *domain.StatementRecord) error {
	if h.InsertFunc != nil {
		if err := h.InsertFunc(ctx, rec); err != nil {
			return err
		}
	}
	return h.Store.Insert(ctx, rec)
}

type fixture struct {
	store  *hookedStore
	engine *Engine
	bank   *domain.BankAccount
	ctx    context.Context
}

func newFixture() *fixture {
	bank := &domain.BankAccount{
		BankID:        "kcb-main",
		BankName:      "KCB",
		AccountNumber: "1234567890",
		CurrencyCode:  "KES",
		CompanyID:     "acme",
	}
	store := &hookedStore{Store: inmemory.NewStore()}
	engine := NewEngine(store, cycles.NewMemory(), banks.NewStatic(*bank))
	engine.now = func() time.Time { return time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC) }

	return &fixture{
		store:  store,
		engine: engine,
		bank:   bank,
		ctx:    logger.WithContext(context.Background(), zerolog.Nop()),
	}
}

func amount(v int64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromInt(v))
}

func balance(month, year int, closing int64) domain.MonthlyBalance {
	return domain.MonthlyBalance{
		Month:          month,
		Year:           year,
		OpeningBalance: amount(closing - 10),
		ClosingBalance: amount(closing),
		StatementPage:  month,
	}
}

func quarterPayload() domain.ExtractionPayload {
	return domain.ExtractionPayload{
		BankName:      "KCB Bank Kenya",
		AccountNumber: "1234567890",
		Currency:      "KSH",
		PeriodText:    "01/01/2024 - 31/03/2024",
		TotalPages:    6,
		Balances: []domain.MonthlyBalance{
			balance(1, 2024, 100),
			balance(2, 2024, 200),
			balance(3, 2024, 300),
		},
	}
}

func (f *fixture) list(t *testing.T, kind domain.StatementKind) []*domain.StatementRecord {
	t.Helper()
	recs, err := f.store.List(f.ctx, records.Filter{BankID: f.bank.BankID, Kind: kind})
	require.NoError(t, err)
	return recs
}

func assertOneBalancePerRecord(t *testing.T, recs []*domain.StatementRecord) {
	t.Helper()
	for _, r := range recs {
		require.Len(t, r.Payload.Balances, 1, "record %s", r.Key)
		assert.True(t, r.Payload.Balances[0].SameMonth(r.Key.Month, r.Key.Year), "record %s", r.Key)
	}
}

func TestReconcile_RangeCreatesOneRecordPerMonth(t *testing.T) {
	f := newFixture()

	res, err := f.engine.Reconcile(f.ctx, Input{
		Bank:     f.bank,
		Kind:     domain.KindRange,
		Payload:  quarterPayload(),
		Document: domain.DocumentRef{Path: "statements/acme/kcb-main/2024/01/q1.pdf", Size: 2048},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Created)
	assert.Equal(t, 0, res.Merged)
	assert.Len(t, res.Records, 3)

	recs := f.list(t, domain.KindRange)
	require.Len(t, recs, 3)
	assertOneBalancePerRecord(t, recs)

	for i, r := range recs {
		assert.Equal(t, i+1, r.Key.Month)
		assert.Equal(t, domain.KindRange, r.Key.Kind)
		assert.Equal(t, "KCB Bank Kenya", r.Payload.BankName)
		assert.Equal(t, "KSH", r.Payload.Currency)
		assert.Equal(t, "statements/acme/kcb-main/2024/01/q1.pdf", r.Document.Path)
		assert.Equal(t, "acme", r.CompanyID)
		assert.NotEmpty(t, r.CycleID)
		assert.Equal(t, domain.WorkflowPending, r.Workflow.Status)
	}
	assert.Empty(t, f.list(t, domain.KindMonthly))
}

func TestReconcile_AggregateDecomposed(t *testing.T) {
	f := newFixture()

	p := quarterPayload()
	c := f.engine.Classify(f.ctx, &p, "")
	require.Equal(t, domain.KindRange, c.Kind)

	// the combined upload, saved as a single record at its start month
	agg := &domain.StatementRecord{
		Key:      domain.RecordKey{BankID: f.bank.BankID, Month: 1, Year: 2024, Kind: domain.KindRange},
		Payload:  p,
		Document: domain.DocumentRef{Path: "q1.pdf"},
	}
	require.NoError(t, f.store.Insert(f.ctx, agg))

	res, err := f.engine.DecomposeRecord(f.ctx, agg.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.Merged)

	recs := f.list(t, domain.KindRange)
	require.Len(t, recs, 3)
	assertOneBalancePerRecord(t, recs)

	// nothing holding several months survives
	for _, r := range recs {
		assert.Len(t, r.Payload.Balances, 1)
	}
}

func TestReconcile_AggregateOutsideSpanIsDeleted(t *testing.T) {
	f := newFixture()

	agg := &domain.StatementRecord{
		Key:     domain.RecordKey{BankID: f.bank.BankID, Month: 12, Year: 2023, Kind: domain.KindRange},
		Payload: quarterPayload(),
	}
	require.NoError(t, f.store.Insert(f.ctx, agg))

	res, err := f.engine.Reconcile(f.ctx, Input{
		Bank:        f.bank,
		Kind:        domain.KindRange,
		Payload:     quarterPayload(),
		AggregateID: agg.ID,
	})
	require.NoError(t, err)
	assert.True(t, res.AggregateDeleted)

	_, err = f.store.Get(f.ctx, agg.ID)
	assert.True(t, errors.Is(err, records.ErrNotFound))
	assert.Len(t, f.list(t, domain.KindRange), 3)
}

func TestReconcile_AggregateOfOtherKindUntouched(t *testing.T) {
	f := newFixture()

	monthly := &domain.StatementRecord{
		Key:     domain.RecordKey{BankID: f.bank.BankID, Month: 1, Year: 2024, Kind: domain.KindMonthly},
		Payload: quarterPayload(),
	}
	require.NoError(t, f.store.Insert(f.ctx, monthly))

	res, err := f.engine.Reconcile(f.ctx, Input{
		Bank:        f.bank,
		Kind:        domain.KindRange,
		Payload:     quarterPayload(),
		AggregateID: monthly.ID,
	})
	require.NoError(t, err)
	assert.False(t, res.AggregateDeleted)

	got, err := f.store.Get(f.ctx, monthly.ID)
	require.NoError(t, err)
	assert.Len(t, got.Payload.Balances, 3)
}

func TestReconcile_Idempotent(t *testing.T) {
	f := newFixture()
	in := Input{Bank: f.bank, Kind: domain.KindRange, Payload: quarterPayload()}

	_, err := f.engine.Reconcile(f.ctx, in)
	require.NoError(t, err)
	first := f.list(t, domain.KindRange)

	res, err := f.engine.Reconcile(f.ctx, in)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 3, res.Merged)

	second := f.list(t, domain.KindRange)
	require.Len(t, second, 3)
	assertOneBalancePerRecord(t, second)
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Payload.Balances, second[i].Payload.Balances)
	}
}

func TestReconcile_MergeKeepsOtherMonths(t *testing.T) {
	f := newFixture()

	existing := &domain.StatementRecord{
		Key: domain.RecordKey{BankID: f.bank.BankID, Month: 2, Year: 2024, Kind: domain.KindRange},
		Payload: domain.ExtractionPayload{
			Balances: []domain.MonthlyBalance{balance(2, 2024, 1), balance(5, 2024, 5)},
		},
	}
	require.NoError(t, f.store.Insert(f.ctx, existing))

	_, err := f.engine.Reconcile(f.ctx, Input{Bank: f.bank, Kind: domain.KindRange, Payload: quarterPayload()})
	require.NoError(t, err)

	got, err := f.store.Get(f.ctx, existing.ID)
	require.NoError(t, err)
	require.Len(t, got.Payload.Balances, 2)
	assert.True(t, got.Payload.Balances[0].ClosingBalance.Decimal.Equal(decimal.NewFromInt(200)))
	assert.Equal(t, 5, got.Payload.Balances[1].Month)
}

func TestReconcile_MergeAppendsMissingMonth(t *testing.T) {
	f := newFixture()

	existing := &domain.StatementRecord{
		Key: domain.RecordKey{BankID: f.bank.BankID, Month: 3, Year: 2024, Kind: domain.KindRange},
	}
	require.NoError(t, f.store.Insert(f.ctx, existing))

	_, err := f.engine.Reconcile(f.ctx, Input{Bank: f.bank, Kind: domain.KindRange, Payload: quarterPayload()})
	require.NoError(t, err)

	got, err := f.store.Get(f.ctx, existing.ID)
	require.NoError(t, err)
	require.Len(t, got.Payload.Balances, 1)
	assert.Equal(t, 3, got.Payload.Balances[0].Month)
}

func TestReconcile_VerifiedBalanceNotOverwritten(t *testing.T) {
	f := newFixture()

	verified := balance(2, 2024, 999)
	verified.Verified = true
	verified.VerifiedBy = "auditor"
	existing := &domain.StatementRecord{
		Key:     domain.RecordKey{BankID: f.bank.BankID, Month: 2, Year: 2024, Kind: domain.KindRange},
		Payload: domain.ExtractionPayload{Balances: []domain.MonthlyBalance{verified}},
	}
	require.NoError(t, f.store.Insert(f.ctx, existing))

	_, err := f.engine.Reconcile(f.ctx, Input{Bank: f.bank, Kind: domain.KindRange, Payload: quarterPayload()})
	require.NoError(t, err)

	got, err := f.store.Get(f.ctx, existing.ID)
	require.NoError(t, err)
	require.Len(t, got.Payload.Balances, 1)
	assert.True(t, got.Payload.Balances[0].Verified)
	assert.True(t, got.Payload.Balances[0].ClosingBalance.Decimal.Equal(decimal.NewFromInt(999)))
}

func TestReconcile_KindsCoexist(t *testing.T) {
	f := newFixture()

	_, err := f.engine.Reconcile(f.ctx, Input{Bank: f.bank, Kind: domain.KindRange, Payload: quarterPayload()})
	require.NoError(t, err)

	monthlyPayload := domain.ExtractionPayload{
		BankName:   "KCB",
		PeriodText: "01/02/2024 - 29/02/2024",
		Balances:   []domain.MonthlyBalance{balance(2, 2024, 222)},
	}
	res, err := f.engine.Reconcile(f.ctx, Input{Bank: f.bank, Kind: domain.KindMonthly, Payload: monthlyPayload})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	febMonthly := domain.RecordKey{BankID: f.bank.BankID, Month: 2, Year: 2024, Kind: domain.KindMonthly}
	febRange := domain.RecordKey{BankID: f.bank.BankID, Month: 2, Year: 2024, Kind: domain.KindRange}

	m, err := f.store.FindByKey(f.ctx, febMonthly)
	require.NoError(t, err)
	require.NotNil(t, m)
	r, err := f.store.FindByKey(f.ctx, febRange)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.NotEqual(t, m.ID, r.ID)

	require.NoError(t, f.engine.DeleteRecord(f.ctx, m.ID))

	gone, err := f.store.FindByKey(f.ctx, febMonthly)
	require.NoError(t, err)
	assert.Nil(t, gone)

	still, err := f.store.FindByKey(f.ctx, febRange)
	require.NoError(t, err)
	require.NotNil(t, still)
	assert.Equal(t, r.Payload, still.Payload)
}

func TestReconcile_PartialFailureContinues(t *testing.T) {
	f := newFixture()
	f.store.InsertFunc = func(ctx context.Context, rec *domain.StatementRecord) error {
		if rec.Key.Month == 2 {
			return errors.New("backend unavailable")
		}
		return nil
	}

	agg := &domain.StatementRecord{
		Key:     domain.RecordKey{BankID: f.bank.BankID, Month: 12, Year: 2023, Kind: domain.KindRange},
		Payload: quarterPayload(),
	}
	require.NoError(t, f.store.Store.Insert(f.ctx, agg))

	res, err := f.engine.Reconcile(f.ctx, Input{
		Bank:        f.bank,
		Kind:        domain.KindRange,
		Payload:     quarterPayload(),
		AggregateID: agg.ID,
	})
	require.Error(t, err)

	var pbf *domain.PartialBatchFailure
	require.True(t, errors.As(err, &pbf))
	assert.Equal(t, 3, pbf.Total)
	require.Len(t, pbf.Failures, 1)
	assert.Equal(t, 2, pbf.Failures[0].Key.Month)

	require.NotNil(t, res)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.Failed)
	assert.False(t, res.AggregateDeleted)

	_, err = f.store.Get(f.ctx, agg.ID)
	assert.NoError(t, err, "aggregate must survive a partial failure")
}

func TestReconcile_InsertConflictRecoversByMerge(t *testing.T) {
	f := newFixture()

	raced := false
	f.store.InsertFunc = func(ctx context.Context, rec *domain.StatementRecord) error {
		if rec.Key.Month == 2 && !raced {
			raced = true
			competitor := &domain.StatementRecord{
				Key:     rec.Key,
				Payload: domain.ExtractionPayload{Balances: []domain.MonthlyBalance{balance(2, 2024, 1)}},
			}
			return f.store.Store.Insert(ctx, competitor)
		}
		return nil
	}

	res, err := f.engine.Reconcile(f.ctx, Input{Bank: f.bank, Kind: domain.KindRange, Payload: quarterPayload()})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.Merged)

	recs := f.list(t, domain.KindRange)
	require.Len(t, recs, 3)
	assertOneBalancePerRecord(t, recs)
	assert.True(t, recs[1].Payload.Balances[0].ClosingBalance.Decimal.Equal(decimal.NewFromInt(200)))
}

func TestReconcile_SingleMonthUpsert(t *testing.T) {
	f := newFixture()

	p := domain.ExtractionPayload{
		BankName:   "KCB",
		PeriodText: "01/02/2024 - 29/02/2024",
		Balances:   []domain.MonthlyBalance{balance(2, 2024, 50)},
	}
	first, err := f.engine.Reconcile(f.ctx, Input{Bank: f.bank, Kind: domain.KindMonthly, Payload: p, Assignee: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Created)

	_, err = f.engine.ValidateRecord(f.ctx, first.Records[0], "v1")
	require.NoError(t, err)

	p.BankName = "KCB Bank"
	p.Balances = []domain.MonthlyBalance{balance(2, 2024, 75)}
	second, err := f.engine.Reconcile(f.ctx, Input{Bank: f.bank, Kind: domain.KindMonthly, Payload: p})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Merged)
	assert.Equal(t, first.Records, second.Records)

	got, err := f.store.Get(f.ctx, first.Records[0])
	require.NoError(t, err)
	assert.Equal(t, "KCB Bank", got.Payload.BankName)
	assert.True(t, got.Payload.Balances[0].ClosingBalance.Decimal.Equal(decimal.NewFromInt(75)))
	assert.Equal(t, "alice", got.Workflow.Assignee)
	assert.Equal(t, domain.WorkflowPending, got.Workflow.Status)
	assert.False(t, got.Validation.Validated)
	assert.Nil(t, got.Validation.ValidatedAt)
}

func TestReconcile_ClassifiesWhenKindMissing(t *testing.T) {
	f := newFixture()

	res, err := f.engine.Reconcile(f.ctx, Input{Bank: f.bank, Payload: quarterPayload()})
	require.NoError(t, err)
	assert.Equal(t, domain.KindRange, res.Kind)
}

func TestReconcile_Errors(t *testing.T) {
	f := newFixture()

	_, err := f.engine.Reconcile(f.ctx, Input{Payload: quarterPayload()})
	assert.True(t, errors.Is(err, domain.ErrMissingBank))

	_, err = f.engine.Reconcile(f.ctx, Input{Bank: f.bank, Payload: domain.ExtractionPayload{PeriodText: "sometime"}})
	var pe *domain.ParseError
	assert.True(t, errors.As(err, &pe))
}

func TestReconcile_SpanWidenedByBalances(t *testing.T) {
	f := newFixture()

	p := quarterPayload()
	p.PeriodText = "01/01/2024 - 29/02/2024"

	res, err := f.engine.Reconcile(f.ctx, Input{Bank: f.bank, Kind: domain.KindRange, Payload: p})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Span.MonthCount())
	assert.Len(t, f.list(t, domain.KindRange), 3)
}
