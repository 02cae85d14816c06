package pipeline

import (
	"errors"
	"fmt"

	"github.com/dvloznov/statement-reconciler/internal/classifier"
	"github.com/dvloznov/statement-reconciler/internal/domain"
)

// ItemStatus is the position of an upload item in its state machine.
type ItemStatus string

const (
	StatusPending    ItemStatus = "pending"
	StatusProcessing ItemStatus = "processing"
	StatusMatched    ItemStatus = "matched"
	StatusUnmatched  ItemStatus = "unmatched"
	StatusFailed     ItemStatus = "failed"
	StatusUploaded   ItemStatus = "uploaded"
	StatusVouched    ItemStatus = "vouched"
)

// PasswordState tracks what is known about document encryption.
type PasswordState string

const (
	PasswordUnknown  PasswordState = ""
	PasswordNone     PasswordState = "none"
	PasswordUnlocked PasswordState = "unlocked"
	PasswordRequired PasswordState = "required"
)

// Confidence of a bank match.
type Confidence string

const (
	ConfidenceNone   Confidence = ""
	ConfidenceLow    Confidence = "low"    // bank name in file name
	ConfidenceHigh   Confidence = "high"   // account number in file name
	ConfidenceManual Confidence = "manual" // assigned by a user or upload hint
)

var (
	// ErrInvalidTransition is returned when an operation is not allowed in the item's status.
	ErrInvalidTransition = errors.New("invalid item transition")

	// ErrRetriesExhausted is returned by Retry once the attempt budget is spent.
	ErrRetriesExhausted = errors.New("extraction retries exhausted")

	// ErrPasswordRequired marks an encrypted document no candidate password opens.
	ErrPasswordRequired = errors.New("document password required")
)

// UploadItem wraps one source file while it moves through the pipeline.
type UploadItem struct {
	Index    int
	FileName string
	Data     []byte

	// Optional hints supplied with the upload.
	BankID string
	Kind   domain.StatementKind

	Status     ItemStatus
	Hints      Hints
	Bank       *domain.BankAccount
	Confidence Confidence

	// Password is a user-supplied password; tried before any other candidate.
	Password      string
	PasswordState PasswordState
	// UsedPassword is the candidate that opened the document.
	UsedPassword string

	Payload        *domain.ExtractionPayload
	Classification *classifier.Result
	GuessedKind    domain.StatementKind

	// Retries counts failed extraction attempts.
	Retries int
	Failure *domain.ExtractionFailure

	StoragePath string
	RecordIDs   []string
}

// NewUploadItem creates a pending item.
func NewUploadItem(index int, fileName string, data []byte) *UploadItem {
	return &UploadItem{
		Index:    index,
		FileName: fileName,
		Data:     data,
		Status:   StatusPending,
	}
}

// Err returns the failure recorded on the item, if any.
func (it *UploadItem) Err() error {
	if it.Failure == nil {
		return nil
	}
	return it.Failure
}

func (it *UploadItem) transitionError(op string, allowed ...ItemStatus) error {
	return fmt.Errorf("%s item %d (%s): status %s, want one of %v: %w",
		op, it.Index, it.FileName, it.Status, allowed, ErrInvalidTransition)
}

func (it *UploadItem) in(statuses ...ItemStatus) bool {
	for _, s := range statuses {
		if it.Status == s {
			return true
		}
	}
	return false
}

func (it *UploadItem) fail(reason string, retryable bool) {
	it.Status = StatusFailed
	it.Failure = &domain.ExtractionFailure{
		ItemIndex: it.Index,
		FileName:  it.FileName,
		Reason:    reason,
		Retryable: retryable,
		Attempts:  it.Retries,
	}
}
