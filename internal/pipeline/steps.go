package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/statement-reconciler/internal/banks"
	"github.com/dvloznov/statement-reconciler/internal/classifier"
	"github.com/dvloznov/statement-reconciler/internal/domain"
	"github.com/dvloznov/statement-reconciler/internal/logger"
	"golang.org/x/sync/semaphore"
)

// errHalt ends an item's step chain early without it being an error.
var errHalt = errors.New("halt")

// Step is one stage of processing an upload item.
type Step interface {
	Execute(ctx context.Context, state *ItemState) error
}

// ItemState holds the shared state across the steps for one item.
type ItemState struct {
	Item *UploadItem
	Run  *domain.ExtractionRun
	Raw  map[string]interface{}
}

// DetectHintsStep reads account number, bank name and password hints from the file name.
type DetectHintsStep struct{}

func (s *DetectHintsStep) Execute(ctx context.Context, state *ItemState) error {
	state.Item.Hints = DetectHints(state.Item.FileName)
	return nil
}

// MatchBankStep finds the bank account an item belongs to. An item with no
// match is left unmatched and goes no further.
type MatchBankStep struct {
	banks banks.Directory
}

func (s *MatchBankStep) Execute(ctx context.Context, state *ItemState) error {
	item := state.Item
	log := logger.FromContext(ctx)

	if item.Bank != nil {
		return nil
	}

	if item.BankID != "" {
		acct, err := s.banks.Get(ctx, item.BankID)
		if err != nil {
			return fmt.Errorf("MatchBankStep: bank %q: %w: %w", item.BankID, domain.ErrMissingBank, err)
		}
		item.Bank, item.Confidence = acct, ConfidenceManual
		return nil
	}

	accounts, err := s.banks.List(ctx)
	if err != nil {
		return fmt.Errorf("MatchBankStep: listing banks: %w", err)
	}

	acct, conf := MatchBank(item.Hints, accounts)
	if acct == nil {
		item.Status = StatusUnmatched
		log.Info().Int("item", item.Index).Str("file_name", item.FileName).Msg("No bank matched, extraction blocked")
		return errHalt
	}

	matched := *acct
	item.Bank, item.Confidence = &matched, conf
	log.Debug().
		Int("item", item.Index).
		Str("bank_id", matched.BankID).
		Str("confidence", string(conf)).
		Msg("Bank matched")
	return nil
}

// UnlockStep opens an encrypted document with the first candidate password
// that works: user supplied, then the bank's stored password, then the file name's.
type UnlockStep struct {
	unlocker Unlocker
}

func (s *UnlockStep) Execute(ctx context.Context, state *ItemState) error {
	item := state.Item
	log := logger.FromContext(ctx)

	candidates := []string{item.Password}
	if item.Bank != nil {
		candidates = append(candidates, item.Bank.Password)
	}
	candidates = append(candidates, item.Hints.Password)

	pw, encrypted, err := s.unlocker.Unlock(item.Data, candidates)
	switch {
	case errors.Is(err, ErrPasswordRequired):
		item.PasswordState = PasswordRequired
		item.fail("document is password protected and no known password opens it", false)
		log.Warn().Int("item", item.Index).Str("file_name", item.FileName).Msg("Password required")
		return errHalt
	case err != nil:
		// Leave it to the extraction engine, which reads more files than we can.
		log.Warn().Err(err).Int("item", item.Index).Msg("Could not inspect document encryption")
		item.PasswordState = PasswordUnknown
	case encrypted:
		item.PasswordState = PasswordUnlocked
		item.UsedPassword = pw
	default:
		item.PasswordState = PasswordNone
	}
	return nil
}

// ExtractStep calls the extraction engine, one document at a time across the
// process, retrying retryable failures with linear backoff until the item's
// attempt budget is spent.
type ExtractStep struct {
	extractor   Extractor
	slot        *semaphore.Weighted
	maxAttempts int
	backoff     time.Duration
	timeout     time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

func (s *ExtractStep) Execute(ctx context.Context, state *ItemState) error {
	item := state.Item
	log := logger.FromContext(ctx).With().Int("item", item.Index).Str("file_name", item.FileName).Logger()

	if item.Retries >= s.maxAttempts {
		item.fail(ErrRetriesExhausted.Error(), false)
		return nil
	}

	for item.Retries < s.maxAttempts {
		res, err := s.attempt(ctx, item)
		if err != nil {
			return fmt.Errorf("ExtractStep: %w", err)
		}
		if state.Run != nil {
			state.Run.Attempts++
		}

		switch r := res.(type) {
		case Success:
			payload := r.Payload
			item.Payload = &payload
			item.Failure = nil
			state.Raw = r.Raw
			return nil

		case Failure:
			item.Retries++
			log.Warn().
				Str("reason", r.Reason).
				Bool("retryable", r.Retryable).
				Int("attempt", item.Retries).
				Msg("Extraction attempt failed")

			if !r.Retryable || item.Retries >= s.maxAttempts {
				item.fail(r.Reason, r.Retryable)
				return nil
			}
			if err := s.sleep(ctx, time.Duration(item.Retries)*s.backoff); err != nil {
				return fmt.Errorf("ExtractStep: backoff: %w", err)
			}

		default:
			item.Retries++
			item.fail(fmt.Sprintf("unexpected extraction result %T", res), false)
			return nil
		}
	}
	return nil
}

func (s *ExtractStep) attempt(ctx context.Context, item *UploadItem) (Result, error) {
	if err := s.slot.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.slot.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res := s.extractor.Extract(callCtx, Document{
		Name:     item.FileName,
		Data:     item.Data,
		Password: item.UsedPassword,
	}, StatementSchema)

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		if _, ok := res.(Success); !ok {
			return Failure{Reason: fmt.Sprintf("extraction engine timed out after %s", s.timeout), Retryable: true}, nil
		}
	}
	if res == nil {
		return Failure{Reason: "extraction engine returned no result", Retryable: true}, nil
	}
	return res, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ClassifyStep guesses the statement kind from the extracted payload.
type ClassifyStep struct{}

func (s *ClassifyStep) Execute(ctx context.Context, state *ItemState) error {
	item := state.Item
	if item.Payload == nil || item.Failure != nil {
		return nil
	}

	c := classifier.Classify(classifier.FromPayload(item.Payload, item.Kind))
	item.Classification = &c
	item.GuessedKind = c.Kind

	log := logger.FromContext(ctx)
	if c.Conflict {
		log.Warn().
			Int("item", item.Index).
			Str("label", string(item.Kind)).
			Int("balances", len(item.Payload.Balances)).
			Msg("Statement kind label contradicts extracted data")
	}
	if c.Ambiguous {
		log.Info().Int("item", item.Index).Msg("Statement kind ambiguous, assuming monthly")
	}
	return nil
}

// RecordStep settles the item's status and writes the extraction run audit entry.
type RecordStep struct {
	recorder RunRecorder
	now      func() time.Time
}

func (s *RecordStep) Execute(ctx context.Context, state *ItemState) error {
	item := state.Item
	run := state.Run
	if run == nil {
		return nil
	}

	run.FinishedAt = s.now()
	if item.Bank != nil {
		run.BankID = item.Bank.BankID
	}

	if item.Failure != nil {
		run.Status = domain.RunStatusFailed
		run.Error = item.Failure.Reason
	} else {
		item.Status = StatusMatched
		run.Status = domain.RunStatusSucceeded
		run.Kind = item.GuessedKind
		run.RawOutput = state.Raw
	}

	if err := s.recorder.RecordRun(ctx, run); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("run_id", run.RunID).Msg("Failed to record extraction run")
	}
	return nil
}
