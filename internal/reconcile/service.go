package reconcile

import (
	"context"
	"fmt"

	"github.com/dvloznov/statement-reconciler/internal/classifier"
	"github.com/dvloznov/statement-reconciler/internal/domain"
	"github.com/dvloznov/statement-reconciler/internal/logger"
	"github.com/dvloznov/statement-reconciler/internal/period"
	"github.com/dvloznov/statement-reconciler/internal/records"
	"github.com/dvloznov/statement-reconciler/internal/validation"
)

// ParsePeriod parses free-text statement period.
func (e *Engine) ParsePeriod(text string) (period.Span, error) {
	return period.Parse(text)
}

// Classify decides the statement kind of a payload.
func (e *Engine) Classify(ctx context.Context, p *domain.ExtractionPayload, explicit domain.StatementKind) classifier.Result {
	res := classifier.Classify(classifier.FromPayload(p, explicit))
	if res.Conflict {
		log := logger.FromContext(ctx)
		log.Warn().
			Str("explicit_kind", string(explicit)).
			Int("balances", len(p.Balances)).
			Str("period_text", p.PeriodText).
			Msg("Explicit statement kind contradicts extracted data")
	}
	return res
}

// GetRecord returns a single record.
func (e *Engine) GetRecord(ctx context.Context, id string) (*domain.StatementRecord, error) {
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetRecord: %w", err)
	}
	return rec, nil
}

// ListRecords returns records matching the filter.
func (e *Engine) ListRecords(ctx context.Context, filter records.Filter) ([]*domain.StatementRecord, error) {
	recs, err := e.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("ListRecords: %w", err)
	}
	return recs, nil
}

// SaveRecord replaces the extraction payload of an existing record with
// corrected values. Validation is cleared and assignment kept.
func (e *Engine) SaveRecord(ctx context.Context, id string, payload domain.ExtractionPayload) (*domain.StatementRecord, error) {
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("SaveRecord: %w", err)
	}

	rec.Payload = payload.Clone()
	rec.ResetReview()

	if err := e.store.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("SaveRecord: updating %s: %w", rec.Key, err)
	}
	return rec, nil
}

// DecomposeRecord splits a stored multi-month record into per-month records of the same kind.
func (e *Engine) DecomposeRecord(ctx context.Context, id string) (*Result, error) {
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("DecomposeRecord: %w", err)
	}

	bank, err := e.banks.Get(ctx, rec.Key.BankID)
	if err != nil {
		return nil, fmt.Errorf("DecomposeRecord: %w: %w", domain.ErrMissingBank, err)
	}

	return e.Reconcile(ctx, Input{
		Bank:        bank,
		Kind:        rec.Key.Kind,
		Payload:     rec.Payload,
		Document:    rec.Document,
		Assignee:    rec.Workflow.Assignee,
		AggregateID: rec.ID,
	})
}

// ValidateRecord checks a record against its bank's ground truth and
// overwrites its validation status.
func (e *Engine) ValidateRecord(ctx context.Context, id, validatorID string) (*domain.StatementRecord, error) {
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ValidateRecord: %w", err)
	}

	bank, err := e.banks.Get(ctx, rec.Key.BankID)
	if err != nil {
		return nil, fmt.Errorf("ValidateRecord: %w: %w", domain.ErrMissingBank, err)
	}

	out := validation.Validate(&rec.Payload, bank, validatorID, e.now())
	rec.Validation = out.Status()

	if err := e.store.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("ValidateRecord: updating %s: %w", rec.Key, err)
	}

	log := logger.FromContext(ctx)

	log.Info().
		Str("record_id", rec.ID).
		Str("key", rec.Key.String()).
		Bool("validated", out.IsValidated).
		Int("mismatches", len(out.Mismatches)).
		Msg("Record validated")

	return rec, nil
}

// RevalidatePending validates every record that is not yet validated and
// returns how many now pass.
func (e *Engine) RevalidatePending(ctx context.Context, validatorID string) (int, error) {
	notValidated := false
	recs, err := e.store.List(ctx, records.Filter{Validated: &notValidated})
	if err != nil {
		return 0, fmt.Errorf("RevalidatePending: listing records: %w", err)
	}

	passed := 0
	var firstErr error
	for _, rec := range recs {
		updated, err := e.ValidateRecord(ctx, rec.ID, validatorID)
		if err != nil {
			log := logger.FromContext(ctx)
			log.Warn().Err(err).Str("record_id", rec.ID).Msg("Revalidation failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if updated.Validation.Validated {
			passed++
		}
	}
	if firstErr != nil {
		return passed, fmt.Errorf("RevalidatePending: %w", firstErr)
	}
	return passed, nil
}

// VerifyBalance marks one month's balance in a record as verified.
func (e *Engine) VerifyBalance(ctx context.Context, id string, month, year int, verifier string) (*domain.StatementRecord, error) {
	return e.setVerified(ctx, id, month, year, verifier, true)
}

// UnverifyBalance clears the verification of one month's balance.
func (e *Engine) UnverifyBalance(ctx context.Context, id string, month, year int) (*domain.StatementRecord, error) {
	return e.setVerified(ctx, id, month, year, "", false)
}

func (e *Engine) setVerified(ctx context.Context, id string, month, year int, verifier string, verified bool) (*domain.StatementRecord, error) {
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("setVerified: %w", err)
	}

	i := rec.BalanceFor(month, year)
	if i < 0 {
		return nil, fmt.Errorf("setVerified: record %s has no balance for %04d-%02d: %w", rec.Key, year, month, records.ErrNotFound)
	}

	b := &rec.Payload.Balances[i]
	b.Verified = verified
	if verified {
		now := e.now()
		b.VerifiedBy = verifier
		b.VerifiedAt = &now
	} else {
		b.VerifiedBy = ""
		b.VerifiedAt = nil
	}

	if err := e.store.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("setVerified: updating %s: %w", rec.Key, err)
	}
	return rec, nil
}

// SetWorkflow moves a record through review and records who owns it.
func (e *Engine) SetWorkflow(ctx context.Context, id string, status domain.WorkflowStatus, assignee string) (*domain.StatementRecord, error) {
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("SetWorkflow: %w", err)
	}

	rec.Workflow.Status = status
	if assignee != "" {
		rec.Workflow.Assignee = assignee
	}

	if err := e.store.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("SetWorkflow: updating %s: %w", rec.Key, err)
	}
	return rec, nil
}

// DeleteRecord deletes a record. The delete is scoped to the record's own
// statement kind so the other kind for the same period is never touched.
func (e *Engine) DeleteRecord(ctx context.Context, id string) error {
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("DeleteRecord: %w", err)
	}
	return e.DeleteByKey(ctx, rec.Key)
}

// DeleteByKey deletes the record for one natural key.
func (e *Engine) DeleteByKey(ctx context.Context, key domain.RecordKey) error {
	if !key.Kind.Valid() || key.BankID == "" {
		return fmt.Errorf("DeleteByKey %s: %w", key, records.ErrUnscopedDelete)
	}

	n, err := e.store.Delete(ctx, records.ForKey(key))
	if err != nil {
		return fmt.Errorf("DeleteByKey %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("DeleteByKey %s: %w", key, records.ErrNotFound)
	}

	log := logger.FromContext(ctx)

	log.Info().Str("key", key.String()).Msg("Statement record deleted")
	return nil
}
