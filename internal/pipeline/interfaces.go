package pipeline

import (
	"context"

	"github.com/dvloznov/statement-reconciler/internal/domain"
	"github.com/dvloznov/statement-reconciler/internal/reconcile"
)

// Document is what the extraction engine is given.
type Document struct {
	Name     string
	Data     []byte
	Password string
}

// Result is the outcome of one extraction call: Success or Failure.
type Result interface {
	isResult()
}

// Success carries the structured payload.
type Success struct {
	Payload domain.ExtractionPayload
	Raw     map[string]interface{}
}

// Failure carries the reason the engine gave up and whether trying again may help.
type Failure struct {
	Reason    string
	Retryable bool
}

func (Success) isResult() {}
func (Failure) isResult() {}

// Extractor turns a statement document into structured fields.
// This interface enables mocking and testing of the extraction engine.
type Extractor interface {
	Extract(ctx context.Context, doc Document, schema Schema) Result
}

// Reconciler is the part of the reconciliation engine the pipeline drives.
type Reconciler interface {
	Reconcile(ctx context.Context, in reconcile.Input) (*reconcile.Result, error)
	SetWorkflow(ctx context.Context, id string, status domain.WorkflowStatus, assignee string) (*domain.StatementRecord, error)
}

// RunRecorder keeps the audit trail of extraction runs.
type RunRecorder interface {
	RecordRun(ctx context.Context, run *domain.ExtractionRun) error
}

// ProgressReporter receives batch progress and carries the cooperative stop flag.
type ProgressReporter interface {
	Progress(ctx context.Context, processed, total int, currentItem string)
	Stopped(ctx context.Context) bool
}

type nopRecorder struct{}

func (nopRecorder) RecordRun(ctx context.Context, run *domain.ExtractionRun) error { return nil }

var _ Reconciler = (*reconcile.Engine)(nil)
