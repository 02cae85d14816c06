package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/statement-reconciler/internal/banks"
	"github.com/dvloznov/statement-reconciler/internal/classifier"
	"github.com/dvloznov/statement-reconciler/internal/cycles"
	"github.com/dvloznov/statement-reconciler/internal/domain"
	"github.com/dvloznov/statement-reconciler/internal/logger"
	"github.com/dvloznov/statement-reconciler/internal/period"
	"github.com/dvloznov/statement-reconciler/internal/records"
	"github.com/shopspring/decimal"
)

// Input is one classified extraction to be written to the record store.
type Input struct {
	Bank *domain.BankAccount

	// Kind is the intended statement kind. When empty the classifier decides.
	Kind domain.StatementKind

	Payload  domain.ExtractionPayload
	Document domain.DocumentRef
	Assignee string

	// AggregateID is the stored multi-month record being decomposed, if any.
	AggregateID string
}

// Result summarises one reconciliation run.
type Result struct {
	Kind    domain.StatementKind `json:"kind"`
	Span    period.Span          `json:"span"`
	Records []string             `json:"records"`

	Created int `json:"created"`
	Merged  int `json:"merged"`
	Failed  int `json:"failed"`

	Failures         []domain.MonthFailure `json:"-"`
	AggregateDeleted bool                  `json:"aggregate_deleted"`
}

// Engine writes extraction payloads into the record store as per-month records.
type Engine struct {
	store  records.Store
	cycles cycles.Service
	banks  banks.Directory
	now    func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(store records.Store, cycleService cycles.Service, directory banks.Directory) *Engine {
	return &Engine{
		store:  store,
		cycles: cycleService,
		banks:  directory,
		now:    time.Now,
	}
}

// Reconcile writes the payload to the record store. A single-month span is
// upserted; a longer span is decomposed into one record per month, merged
// into any records already present for the same kind.
//
// When some months fail the result is still returned together with a
// *domain.PartialBatchFailure. Months already written are not rolled back.
func (e *Engine) Reconcile(ctx context.Context, in Input) (*Result, error) {
	log := logger.FromContext(ctx)

	if in.Bank == nil || in.Bank.BankID == "" {
		return nil, fmt.Errorf("Reconcile: %w", domain.ErrMissingBank)
	}

	kind := in.Kind
	if !kind.Valid() {
		c := classifier.Classify(classifier.FromPayload(&in.Payload, ""))
		kind = c.Kind
		if c.Ambiguous {
			log.Warn().
				Str("bank_id", in.Bank.BankID).
				Str("period_text", in.Payload.PeriodText).
				Msg("Statement kind ambiguous, defaulting to monthly")
		}
	}

	span, err := spanFor(&in.Payload)
	if err != nil {
		return nil, fmt.Errorf("Reconcile: %w", err)
	}

	log.Info().
		Str("bank_id", in.Bank.BankID).
		Str("kind", string(kind)).
		Str("span", span.String()).
		Int("balances", len(in.Payload.Balances)).
		Msg("Reconciling statement")

	if span.MonthCount() == 1 {
		return e.reconcileSingle(ctx, in, kind, span)
	}
	return e.reconcileRange(ctx, in, kind, span)
}

// spanFor derives the months a payload covers: the parsed period widened to
// include every balance month, or the balances alone when the text does not parse.
func spanFor(p *domain.ExtractionPayload) (period.Span, error) {
	textSpan, parseErr := period.Parse(p.PeriodText)
	balSpan, haveBalances := period.SpanOf(p.Balances)

	switch {
	case parseErr == nil && haveBalances:
		start, end := textSpan.Start(), textSpan.End()
		if balSpan.Start().Before(start) {
			start = balSpan.Start()
		}
		if end.Before(balSpan.End()) {
			end = balSpan.End()
		}
		return period.NewSpan(start, end)
	case parseErr == nil:
		return textSpan, nil
	case haveBalances:
		return balSpan, nil
	default:
		return period.Span{}, parseErr
	}
}

func (e *Engine) reconcileSingle(ctx context.Context, in Input, kind domain.StatementKind, span period.Span) (*Result, error) {
	ym := span.Start()
	key := domain.RecordKey{BankID: in.Bank.BankID, Month: ym.Month, Year: ym.Year, Kind: kind}

	cycleID, err := e.cycles.Resolve(ctx, ym.Year, ym.Month, kind)
	if err != nil {
		return nil, fmt.Errorf("reconcileSingle: resolving cycle for %s: %w", key, err)
	}

	rec := newRecord(in, key, cycleID, in.Payload.Clone())

	existing, err := e.store.FindByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("reconcileSingle: looking up %s: %w", key, err)
	}
	if existing != nil && rec.Workflow.Assignee == "" {
		rec.Workflow.Assignee = existing.Workflow.Assignee
	}

	created, err := e.store.Upsert(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("reconcileSingle: upserting %s: %w", key, err)
	}

	res := &Result{Kind: kind, Span: span, Records: []string{rec.ID}}
	if created {
		res.Created = 1
	} else {
		res.Merged = 1
	}
	return res, nil
}

func (e *Engine) reconcileRange(ctx context.Context, in Input, kind domain.StatementKind, span period.Span) (*Result, error) {
	log := logger.FromContext(ctx)
	res := &Result{Kind: kind, Span: span}

	var aggregate *domain.StatementRecord
	if in.AggregateID != "" {
		agg, err := e.store.Get(ctx, in.AggregateID)
		switch {
		case errors.Is(err, records.ErrNotFound):
			log.Warn().Str("record_id", in.AggregateID).Msg("Aggregate record already gone, decomposing without it")
		case err != nil:
			return nil, fmt.Errorf("reconcileRange: loading aggregate %s: %w", in.AggregateID, err)
		case agg.Key.Kind != kind:
			log.Warn().
				Str("record_id", agg.ID).
				Str("aggregate_kind", string(agg.Key.Kind)).
				Str("kind", string(kind)).
				Msg("Aggregate record has a different kind, leaving it untouched")
		default:
			aggregate = agg
		}
	}

	var deferred *domain.RecordKey
	for ym := range span.All() {
		key := domain.RecordKey{BankID: in.Bank.BankID, Month: ym.Month, Year: ym.Year, Kind: kind}

		// The aggregate's own slot is rewritten last so a failure elsewhere
		// leaves the aggregate intact for a re-run.
		if aggregate != nil && aggregate.Key == key {
			deferred = &key
			continue
		}

		e.applyMonth(ctx, in, key, res)
	}

	if len(res.Failures) > 0 {
		return res, e.partial(ctx, span, res)
	}

	if aggregate != nil {
		if deferred != nil {
			if err := e.rewriteAggregate(ctx, in, aggregate, res); err != nil {
				res.Failed++
				res.Failures = append(res.Failures, domain.MonthFailure{Key: aggregate.Key, Err: err})
				return res, e.partial(ctx, span, res)
			}
		} else {
			n, err := e.store.Delete(ctx, records.Filter{ID: aggregate.ID, Kind: aggregate.Key.Kind})
			if err != nil {
				res.Failed++
				res.Failures = append(res.Failures, domain.MonthFailure{Key: aggregate.Key, Err: fmt.Errorf("deleting aggregate: %w", err)})
				return res, e.partial(ctx, span, res)
			}
			res.AggregateDeleted = n > 0
		}
	}

	log.Info().
		Int("created", res.Created).
		Int("merged", res.Merged).
		Bool("aggregate_deleted", res.AggregateDeleted).
		Msg("Range statement decomposed")

	return res, nil
}

func (e *Engine) partial(ctx context.Context, span period.Span, res *Result) error {
	log := logger.FromContext(ctx)
	log.Error().
		Int("failed", res.Failed).
		Int("months", span.MonthCount()).
		Msg("Range reconciliation finished with failures")
	return &domain.PartialBatchFailure{Total: span.MonthCount(), Failures: res.Failures}
}

// applyMonth writes one month of a range statement. Errors are recorded on res.
func (e *Engine) applyMonth(ctx context.Context, in Input, key domain.RecordKey, res *Result) {
	id, created, err := e.writeMonth(ctx, in, key)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("key", key.String()).Msg("Failed to reconcile month")
		res.Failed++
		res.Failures = append(res.Failures, domain.MonthFailure{Key: key, Err: err})
		return
	}
	res.Records = append(res.Records, id)
	if created {
		res.Created++
	} else {
		res.Merged++
	}
}

func (e *Engine) writeMonth(ctx context.Context, in Input, key domain.RecordKey) (string, bool, error) {
	cycleID, err := e.cycles.Resolve(ctx, key.Year, key.Month, key.Kind)
	if err != nil {
		return "", false, fmt.Errorf("resolving cycle: %w", err)
	}

	slice := monthPayload(&in.Payload, key.Month, key.Year)

	existing, err := e.store.FindByKey(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("looking up record: %w", err)
	}

	if existing == nil {
		rec := newRecord(in, key, cycleID, slice)
		err := e.store.Insert(ctx, rec)
		if err == nil {
			return rec.ID, true, nil
		}
		if !errors.Is(err, records.ErrConflict) {
			return "", false, fmt.Errorf("inserting record: %w", err)
		}
		// Someone else created it in the meantime; merge into theirs.
		existing, err = e.store.FindByKey(ctx, key)
		if err != nil {
			return "", false, fmt.Errorf("looking up record after conflict: %w", err)
		}
		if existing == nil {
			return "", false, &domain.PersistenceConflict{Key: key, Op: "insert", Reason: "conflicting record disappeared"}
		}
	}

	if mergeBalances(existing, slice.Balances) {
		existing.ResetReview()
	}
	if existing.CycleID == "" {
		existing.CycleID = cycleID
	}

	err = e.store.Update(ctx, existing)
	if errors.Is(err, records.ErrNotFound) {
		// Deleted between lookup and update; write it fresh.
		rec := newRecord(in, key, cycleID, slice)
		if err := e.store.Insert(ctx, rec); err != nil {
			return "", false, &domain.PersistenceConflict{Key: key, Op: "update", Reason: err.Error()}
		}
		return rec.ID, true, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("updating record: %w", err)
	}
	return existing.ID, false, nil
}

// rewriteAggregate turns the aggregate record into the single-month record for its own key.
func (e *Engine) rewriteAggregate(ctx context.Context, in Input, agg *domain.StatementRecord, res *Result) error {
	slice := monthPayload(&in.Payload, agg.Key.Month, agg.Key.Year)

	kept := make([]domain.MonthlyBalance, 0, 1)
	for _, b := range agg.Payload.Balances {
		if b.SameMonth(agg.Key.Month, agg.Key.Year) {
			kept = append(kept, b)
		}
	}
	agg.Payload = slice
	agg.Payload.Balances = kept
	mergeBalances(agg, slice.Balances)
	agg.ResetReview()

	if agg.CycleID == "" {
		cycleID, err := e.cycles.Resolve(ctx, agg.Key.Year, agg.Key.Month, agg.Key.Kind)
		if err != nil {
			return fmt.Errorf("resolving cycle: %w", err)
		}
		agg.CycleID = cycleID
	}

	if err := e.store.Update(ctx, agg); err != nil {
		return fmt.Errorf("rewriting aggregate: %w", err)
	}
	res.Records = append(res.Records, agg.ID)
	res.Merged++
	return nil
}

func newRecord(in Input, key domain.RecordKey, cycleID string, payload domain.ExtractionPayload) *domain.StatementRecord {
	return &domain.StatementRecord{
		Key:       key,
		CompanyID: in.Bank.CompanyID,
		CycleID:   cycleID,
		Document:  in.Document,
		Payload:   payload,
		Workflow: domain.Workflow{
			Status:   domain.WorkflowPending,
			Assignee: in.Assignee,
		},
	}
}

// monthPayload copies the shared metadata of p and keeps only the balance for month/year.
func monthPayload(p *domain.ExtractionPayload, month, year int) domain.ExtractionPayload {
	out := domain.ExtractionPayload{
		BankName:      p.BankName,
		AccountNumber: p.AccountNumber,
		Currency:      p.Currency,
		PeriodText:    period.Single(month, year).Canonical(),
		TotalPages:    p.TotalPages,
		Balances:      []domain.MonthlyBalance{},
	}
	for _, b := range p.Clone().Balances {
		if !b.SameMonth(month, year) {
			continue
		}
		if i := indexOf(out.Balances, month, year); i >= 0 {
			out.Balances[i] = b
			continue
		}
		out.Balances = append(out.Balances, b)
	}
	return out
}

// mergeBalances folds incoming balances into rec: a matching month is replaced,
// a new month is appended and other months are left alone. A verified balance
// is never overwritten. It reports whether anything changed.
func mergeBalances(rec *domain.StatementRecord, incoming []domain.MonthlyBalance) bool {
	changed := false
	for _, b := range incoming {
		i := rec.BalanceFor(b.Month, b.Year)
		switch {
		case i < 0:
			rec.Payload.Balances = append(rec.Payload.Balances, b)
			changed = true
		case rec.Payload.Balances[i].Verified:
		case !sameBalance(rec.Payload.Balances[i], b):
			rec.Payload.Balances[i] = b
			changed = true
		}
	}
	return changed
}

func indexOf(bs []domain.MonthlyBalance, month, year int) int {
	for i, b := range bs {
		if b.SameMonth(month, year) {
			return i
		}
	}
	return -1
}

func sameBalance(a, b domain.MonthlyBalance) bool {
	if a.Month != b.Month || a.Year != b.Year ||
		a.StatementPage != b.StatementPage || a.ClosingDate != b.ClosingDate ||
		a.Verified != b.Verified || a.VerifiedBy != b.VerifiedBy {
		return false
	}
	if !sameDecimal(a.OpeningBalance, b.OpeningBalance) || !sameDecimal(a.ClosingBalance, b.ClosingBalance) {
		return false
	}
	switch {
	case a.Highlight == nil && b.Highlight == nil:
		return true
	case a.Highlight == nil || b.Highlight == nil:
		return false
	default:
		return *a.Highlight == *b.Highlight
	}
}

func sameDecimal(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}
