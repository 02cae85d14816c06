package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingSource is returned when the source document cannot be read.
	ErrMissingSource = errors.New("source document missing")

	// ErrMissingBank is returned when an operation needs a bank reference and none is usable.
	ErrMissingBank = errors.New("bank reference missing or invalid")
)

// ParseError reports period text that could not be turned into a span.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse period %q: %s", e.Input, e.Reason)
}

// ExtractionFailure reports a failed call to the extraction engine for one upload item.
type ExtractionFailure struct {
	ItemIndex int
	FileName  string
	Reason    string
	Retryable bool
	Attempts  int
}

func (e *ExtractionFailure) Error() string {
	return fmt.Sprintf("item %d (%s): extraction failed after %d attempt(s): %s",
		e.ItemIndex, e.FileName, e.Attempts, e.Reason)
}

// PersistenceConflict reports an unexpected existing or missing record during reconciliation.
type PersistenceConflict struct {
	Key    RecordKey
	Op     string
	Reason string
}

func (e *PersistenceConflict) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Op, e.Key, e.Reason)
}

// MonthFailure identifies one month that could not be written.
type MonthFailure struct {
	Key RecordKey
	Err error
}

// PartialBatchFailure is returned when a subset of a multi-month write failed.
// Committed months are not rolled back.
type PartialBatchFailure struct {
	Total    int
	Failures []MonthFailure
}

func (e *PartialBatchFailure) Error() string {
	keys := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		keys = append(keys, fmt.Sprintf("%s (%v)", f.Key, f.Err))
	}
	return fmt.Sprintf("%d of %d month(s) failed: %s", len(e.Failures), e.Total, strings.Join(keys, "; "))
}

// Unwrap exposes the per-month errors to errors.Is and errors.As.
func (e *PartialBatchFailure) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
