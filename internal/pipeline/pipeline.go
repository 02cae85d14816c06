package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/statement-reconciler/internal/banks"
	"github.com/dvloznov/statement-reconciler/internal/classifier"
	"github.com/dvloznov/statement-reconciler/internal/domain"
	"github.com/dvloznov/statement-reconciler/internal/gcs"
	"github.com/dvloznov/statement-reconciler/internal/jobs"
	"github.com/dvloznov/statement-reconciler/internal/logger"
	"github.com/dvloznov/statement-reconciler/internal/period"
	"github.com/dvloznov/statement-reconciler/internal/reconcile"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Deps are the collaborators a Pipeline drives.
type Deps struct {
	Banks     banks.Directory
	Extractor Extractor
	Unlocker  Unlocker
	Engine    Reconciler
	Storage   gcs.StorageService
	Recorder  RunRecorder // optional
}

// Config tunes extraction.
type Config struct {
	MaxAttempts int
	Backoff     time.Duration
	Timeout     time.Duration
	Model       string

	// Slot bounds concurrent extraction calls. Pipelines sharing one slot
	// never overlap; a nil slot gets a fresh one of weight 1.
	Slot *semaphore.Weighted
}

// Pipeline moves upload items from raw files to reconciled statement records.
type Pipeline struct {
	deps         Deps
	model        string
	maxAttempts  int
	matchSteps   []Step
	extractSteps []Step
	extract      *ExtractStep
	now          func() time.Time
}

// New creates a Pipeline.
func New(deps Deps, cfg Config) *Pipeline {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultExtractTimeout
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModelName
	}
	if cfg.Slot == nil {
		cfg.Slot = semaphore.NewWeighted(1)
	}
	if deps.Unlocker == nil {
		deps.Unlocker = PDFUnlocker{}
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}

	p := &Pipeline{
		deps:        deps,
		model:       cfg.Model,
		maxAttempts: cfg.MaxAttempts,
		now:         time.Now,
	}

	p.extract = &ExtractStep{
		extractor:   deps.Extractor,
		slot:        cfg.Slot,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		timeout:     cfg.Timeout,
		sleep:       sleepContext,
	}
	p.matchSteps = []Step{
		&DetectHintsStep{},
		&MatchBankStep{banks: deps.Banks},
	}
	p.extractSteps = []Step{
		&UnlockStep{unlocker: deps.Unlocker},
		p.extract,
		&ClassifyStep{},
		&RecordStep{recorder: deps.Recorder, now: func() time.Time { return p.now() }},
	}
	return p
}

// MaxAttempts is the extraction attempt budget per item.
func (p *Pipeline) MaxAttempts() int {
	return p.maxAttempts
}

// Process runs one pending item through matching and extraction. Extraction
// failures are recorded on the item, not returned; the error is reserved for
// a missing source, an invalid bank reference or cancellation.
func (p *Pipeline) Process(ctx context.Context, item *UploadItem) error {
	if !item.in(StatusPending, StatusProcessing) {
		return item.transitionError("Process", StatusPending, StatusProcessing)
	}
	if len(item.Data) == 0 {
		item.fail(domain.ErrMissingSource.Error(), false)
		return fmt.Errorf("Process item %d (%s): %w", item.Index, item.FileName, domain.ErrMissingSource)
	}

	item.Status = StatusProcessing
	state := &ItemState{Item: item}

	halted, err := p.runSteps(ctx, state, p.matchSteps)
	if err != nil || halted {
		return err
	}
	return p.runExtraction(ctx, state)
}

func (p *Pipeline) runExtraction(ctx context.Context, state *ItemState) error {
	state.Run = &domain.ExtractionRun{
		RunID:     uuid.NewString(),
		FileName:  state.Item.FileName,
		Model:     p.model,
		StartedAt: p.now(),
	}
	_, err := p.runSteps(ctx, state, p.extractSteps)
	return err
}

// runSteps executes steps in order. It reports halted when a step ended the
// chain early on purpose.
func (p *Pipeline) runSteps(ctx context.Context, state *ItemState, steps []Step) (halted bool, err error) {
	for i, step := range steps {
		err := step.Execute(ctx, state)
		if errors.Is(err, errHalt) {
			return true, nil
		}
		if err != nil {
			if ctx.Err() == nil {
				state.Item.fail(err.Error(), false)
			}
			return false, fmt.Errorf("pipeline step %d (%T) failed: %w", i+1, step, err)
		}
	}
	return false, nil
}

type nopReporter struct{}

func (nopReporter) Progress(ctx context.Context, processed, total int, currentItem string) {}
func (nopReporter) Stopped(ctx context.Context) bool                                     { return false }

// Run processes a batch strictly one item at a time. A failing item never
// aborts the batch. A stop request is honoured between items: the current
// item finishes and the rest stay pending.
func (p *Pipeline) Run(ctx context.Context, reporter ProgressReporter, items []*UploadItem) (jobs.Summary, error) {
	if reporter == nil {
		reporter = nopReporter{}
	}
	log := logger.FromContext(ctx)

	total := len(items)
	summary := jobs.Summary{Failures: []jobs.ItemFailure{}}

	for i, item := range items {
		if reporter.Stopped(ctx) {
			log.Info().Int("processed", i).Int("total", total).Msg("Batch stopped on request")
			break
		}
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("Run: %w", err)
		}

		reporter.Progress(ctx, i, total, item.FileName)

		err := p.Process(ctx, item)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return summary, fmt.Errorf("Run: %w", ctxErr)
		}

		switch item.Status {
		case StatusMatched:
			summary.Succeeded++
		case StatusUnmatched:
			summary.Unmatched++
		default:
			summary.Failed++
			msg := "item did not complete"
			if err != nil {
				msg = err.Error()
			} else if item.Failure != nil {
				msg = item.Failure.Error()
			}
			summary.Failures = append(summary.Failures, jobs.ItemFailure{
				Index:    item.Index,
				FileName: item.FileName,
				Message:  msg,
			})
		}

		reporter.Progress(ctx, i+1, total, "")
	}

	log.Info().
		Int("total", total).
		Int("succeeded", summary.Succeeded).
		Int("unmatched", summary.Unmatched).
		Int("failed", summary.Failed).
		Msg("Batch finished")

	return summary, nil
}

// AssignBank sets the bank of an item by hand. An unmatched item then runs
// extraction. A matched item whose period was entered before any bank was
// known only takes the bank, and its entered payload is kept.
func (p *Pipeline) AssignBank(ctx context.Context, item *UploadItem, bankID string) error {
	periodOnly := item.in(StatusMatched) && item.Bank == nil
	if !item.in(StatusUnmatched) && !periodOnly {
		return item.transitionError("AssignBank", StatusUnmatched)
	}

	acct, err := p.deps.Banks.Get(ctx, bankID)
	if err != nil {
		return fmt.Errorf("AssignBank: bank %q: %w: %w", bankID, domain.ErrMissingBank, err)
	}

	item.Bank, item.Confidence = acct, ConfidenceManual
	if periodOnly {
		fillBankFields(item.Payload, acct)
		return nil
	}
	item.Status = StatusProcessing
	return p.runExtraction(ctx, &ItemState{Item: item})
}

// fillBankFields copies bank metadata into the blank fields of a hand-built payload.
func fillBankFields(p *domain.ExtractionPayload, acct *domain.BankAccount) {
	if p == nil {
		return
	}
	if p.BankName == "" {
		p.BankName = acct.BankName
	}
	if p.AccountNumber == "" {
		p.AccountNumber = acct.AccountNumber
	}
	if p.Currency == "" {
		p.Currency = acct.CurrencyCode
	}
}

// EnterPeriod supplies the statement period by hand. It builds a minimal
// payload with one empty balance per month and marks the item matched
// without calling the extraction engine.
func (p *Pipeline) EnterPeriod(ctx context.Context, item *UploadItem, span period.Span) error {
	if !item.in(StatusUnmatched, StatusFailed) {
		return item.transitionError("EnterPeriod", StatusUnmatched, StatusFailed)
	}

	payload := domain.ExtractionPayload{}
	switch {
	case item.Payload != nil:
		payload = item.Payload.Clone()
	case item.Bank != nil:
		fillBankFields(&payload, item.Bank)
	}

	payload.PeriodText = span.Canonical()
	payload.Balances = make([]domain.MonthlyBalance, 0, span.MonthCount())
	for ym := range span.All() {
		payload.Balances = append(payload.Balances, domain.MonthlyBalance{Month: ym.Month, Year: ym.Year})
	}

	c := classifier.Classify(classifier.FromPayload(&payload, item.Kind))
	item.Payload = &payload
	item.Classification = &c
	item.GuessedKind = c.Kind
	item.Failure = nil
	item.Status = StatusMatched

	log := logger.FromContext(ctx)

	log.Info().
		Int("item", item.Index).
		Str("span", span.String()).
		Str("kind", string(c.Kind)).
		Msg("Period entered manually")
	return nil
}

// Retry runs extraction again for a failed item while attempts remain.
func (p *Pipeline) Retry(ctx context.Context, item *UploadItem) error {
	if !item.in(StatusFailed) {
		return item.transitionError("Retry", StatusFailed)
	}
	if item.PasswordState == PasswordRequired {
		return fmt.Errorf("Retry item %d (%s): %w", item.Index, item.FileName, ErrPasswordRequired)
	}
	if item.Retries >= p.maxAttempts {
		return fmt.Errorf("Retry item %d (%s): %d of %d attempts used: %w",
			item.Index, item.FileName, item.Retries, p.maxAttempts, ErrRetriesExhausted)
	}

	item.Failure = nil
	item.Status = StatusPending
	return p.Process(ctx, item)
}

// SupplyPassword retries an item that failed for want of a password.
func (p *Pipeline) SupplyPassword(ctx context.Context, item *UploadItem, password string) error {
	if !item.in(StatusFailed) || item.PasswordState != PasswordRequired {
		return fmt.Errorf("SupplyPassword item %d (%s): not waiting for a password: %w",
			item.Index, item.FileName, ErrInvalidTransition)
	}

	item.Password = password
	item.PasswordState = PasswordUnknown
	item.Failure = nil
	item.Status = StatusPending

	if err := p.Process(ctx, item); err != nil {
		return err
	}
	if item.PasswordState == PasswordRequired {
		return fmt.Errorf("SupplyPassword item %d (%s): %w", item.Index, item.FileName, ErrPasswordRequired)
	}
	return nil
}

// Upload stores a matched item's document and reconciles its payload into
// statement records. A partial reconciliation leaves the item matched so it
// can be uploaded again.
func (p *Pipeline) Upload(ctx context.Context, item *UploadItem, assignee string) (*reconcile.Result, error) {
	if !item.in(StatusMatched) {
		return nil, item.transitionError("Upload", StatusMatched)
	}
	if item.Bank == nil {
		return nil, fmt.Errorf("Upload item %d (%s): assign a bank first: %w", item.Index, item.FileName, domain.ErrMissingBank)
	}
	if len(item.Data) == 0 {
		return nil, fmt.Errorf("Upload item %d (%s): %w", item.Index, item.FileName, domain.ErrMissingSource)
	}
	if item.Payload == nil {
		return nil, fmt.Errorf("Upload item %d (%s): no extraction payload: %w", item.Index, item.FileName, ErrInvalidTransition)
	}

	start := p.statementStart(item.Payload)
	objectPath := gcs.StatementPath(item.Bank.CompanyID, item.Bank.BankID, start.Year, start.Month, item.FileName)

	if _, err := p.deps.Storage.Put(ctx, objectPath, item.Data, pdfMIMEType); err != nil {
		return nil, fmt.Errorf("Upload item %d (%s): storing document: %w", item.Index, item.FileName, err)
	}
	item.StoragePath = objectPath

	res, err := p.deps.Engine.Reconcile(ctx, reconcile.Input{
		Bank:    item.Bank,
		Kind:    item.GuessedKind,
		Payload: *item.Payload,
		Document: domain.DocumentRef{
			Path:     objectPath,
			Size:     int64(len(item.Data)),
			Password: item.UsedPassword,
		},
		Assignee: assignee,
	})
	if err != nil {
		return res, fmt.Errorf("Upload item %d (%s): %w", item.Index, item.FileName, err)
	}

	item.RecordIDs = res.Records
	item.Status = StatusUploaded
	return res, nil
}

func (p *Pipeline) statementStart(payload *domain.ExtractionPayload) period.YearMonth {
	if span, err := period.Parse(payload.PeriodText); err == nil {
		return span.Start()
	}
	if span, ok := period.SpanOf(payload.Balances); ok {
		return span.Start()
	}
	now := p.now()
	return period.YearMonth{Year: now.Year(), Month: int(now.Month())}
}

// Vouch marks every record produced by an uploaded item as validated by a reviewer.
func (p *Pipeline) Vouch(ctx context.Context, item *UploadItem, by string) error {
	if !item.in(StatusUploaded) {
		return item.transitionError("Vouch", StatusUploaded)
	}
	for _, id := range item.RecordIDs {
		if _, err := p.deps.Engine.SetWorkflow(ctx, id, domain.WorkflowValidated, by); err != nil {
			return fmt.Errorf("Vouch item %d (%s): record %s: %w", item.Index, item.FileName, id, err)
		}
	}
	item.Status = StatusVouched
	return nil
}
