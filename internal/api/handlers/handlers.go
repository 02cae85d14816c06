package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/dvloznov/statement-reconciler/internal/api/middleware"
	"github.com/dvloznov/statement-reconciler/internal/banks"
	"github.com/dvloznov/statement-reconciler/internal/domain"
	"github.com/dvloznov/statement-reconciler/internal/period"
	"github.com/dvloznov/statement-reconciler/internal/reconcile"
	"github.com/dvloznov/statement-reconciler/internal/records"
	"github.com/rs/zerolog"
)

// RecordService is the part of the reconciliation engine the API exposes.
type RecordService interface {
	ParsePeriod(text string) (period.Span, error)
	GetRecord(ctx context.Context, id string) (*domain.StatementRecord, error)
	ListRecords(ctx context.Context, filter records.Filter) ([]*domain.StatementRecord, error)
	SaveRecord(ctx context.Context, id string, payload domain.ExtractionPayload) (*domain.StatementRecord, error)
	DecomposeRecord(ctx context.Context, id string) (*reconcile.Result, error)
	ValidateRecord(ctx context.Context, id, validatorID string) (*domain.StatementRecord, error)
	VerifyBalance(ctx context.Context, id string, month, year int, verifier string) (*domain.StatementRecord, error)
	UnverifyBalance(ctx context.Context, id string, month, year int) (*domain.StatementRecord, error)
	SetWorkflow(ctx context.Context, id string, status domain.WorkflowStatus, assignee string) (*domain.StatementRecord, error)
	DeleteRecord(ctx context.Context, id string) error
}

var _ RecordService = (*reconcile.Engine)(nil)

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var parseErr *domain.ParseError
	var partial *domain.PartialBatchFailure
	var conflict *domain.PersistenceConflict

	switch {
	case errors.Is(err, records.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, records.ErrUnscopedDelete):
		return http.StatusBadRequest
	case errors.Is(err, records.ErrConflict), errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &parseErr),
		errors.Is(err, domain.ErrMissingBank),
		errors.Is(err, banks.ErrUnknownBank),
		errors.Is(err, domain.ErrMissingSource):
		return http.StatusUnprocessableEntity
	case errors.As(err, &partial):
		return http.StatusMultiStatus
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError logs err and writes it with the mapped status. Server
// errors get a generic message.
func writeServiceError(w http.ResponseWriter, log zerolog.Logger, err error, msg string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg(msg)
		middleware.WriteError(w, status, msg)
		return
	}
	log.Warn().Err(err).Int("status", status).Msg(msg)
	middleware.WriteError(w, status, err.Error())
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
