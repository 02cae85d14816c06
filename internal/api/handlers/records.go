package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dvloznov/statement-reconciler/internal/api/middleware"
	"github.com/dvloznov/statement-reconciler/internal/domain"
	"github.com/dvloznov/statement-reconciler/internal/gcs"
	"github.com/dvloznov/statement-reconciler/internal/records"
	"github.com/rs/zerolog"
)

// RecordsHandler handles statement record endpoints.
type RecordsHandler struct {
	service RecordService
	storage gcs.StorageService
	urlTTL  time.Duration
	log     zerolog.Logger
}

// NewRecordsHandler creates a new records handler.
func NewRecordsHandler(service RecordService, storage gcs.StorageService, urlTTL time.Duration, log zerolog.Logger) *RecordsHandler {
	if urlTTL <= 0 {
		urlTTL = 15 * time.Minute
	}
	return &RecordsHandler{
		service: service,
		storage: storage,
		urlTTL:  urlTTL,
		log:     log,
	}
}

// ListRecords handles GET /api/records
func (h *RecordsHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	filter, err := recordFilter(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	recs, err := h.service.ListRecords(r.Context(), filter)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list records")
		return
	}
	if recs == nil {
		recs = []*domain.StatementRecord{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"records": recs,
		"count":   len(recs),
	})
}

func recordFilter(r *http.Request) (records.Filter, error) {
	query := r.URL.Query()
	filter := records.Filter{
		BankID:    query.Get("bank_id"),
		CompanyID: query.Get("company_id"),
		CycleID:   query.Get("cycle_id"),
	}

	var err error
	if filter.Month, err = queryInt(r, "month"); err != nil || filter.Month < 0 || filter.Month > 12 {
		return filter, errors.New("Invalid month")
	}
	if filter.Year, err = queryInt(r, "year"); err != nil {
		return filter, errors.New("Invalid year")
	}
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		return filter, errors.New("Invalid limit")
	}
	if v := query.Get("kind"); v != "" {
		kind, ok := domain.ParseStatementKind(v)
		if !ok {
			return filter, errors.New("Invalid kind")
		}
		filter.Kind = kind
	}
	if v := query.Get("validated"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return filter, errors.New("Invalid validated flag")
		}
		filter.Validated = &b
	}
	return filter, nil
}

// GetRecord handles GET /api/records/{id}
func (h *RecordsHandler) GetRecord(w http.ResponseWriter, r *http.Request, recordID string) {
	rec, err := h.service.GetRecord(r.Context(), recordID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get record")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rec)
}

// SaveRecord handles PUT /api/records/{id}. The body is the corrected
// extraction payload; saving resets validation.
func (h *RecordsHandler) SaveRecord(w http.ResponseWriter, r *http.Request, recordID string) {
	var payload domain.ExtractionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	rec, err := h.service.SaveRecord(r.Context(), recordID, payload)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to save record")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rec)
}

// DeleteRecord handles DELETE /api/records/{id}
func (h *RecordsHandler) DeleteRecord(w http.ResponseWriter, r *http.Request, recordID string) {
	if err := h.service.DeleteRecord(r.Context(), recordID); err != nil {
		writeServiceError(w, h.log, err, "Failed to delete record")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ValidateRecord handles POST /api/records/{id}/validate
func (h *RecordsHandler) ValidateRecord(w http.ResponseWriter, r *http.Request, recordID string) {
	var req struct {
		ValidatedBy string `json:"validated_by"`
	}
	if err := decodeOptionalJSON(r, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	rec, err := h.service.ValidateRecord(r.Context(), recordID, req.ValidatedBy)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to validate record")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rec)
}

// DecomposeRecord handles POST /api/records/{id}/decompose. A stored
// multi-month record is split into monthly records.
func (h *RecordsHandler) DecomposeRecord(w http.ResponseWriter, r *http.Request, recordID string) {
	res, err := h.service.DecomposeRecord(r.Context(), recordID)
	if err != nil && res == nil {
		writeServiceError(w, h.log, err, "Failed to decompose record")
		return
	}

	status := http.StatusOK
	body := map[string]interface{}{"result": res}
	if err != nil {
		h.log.Warn().Err(err).Str("record_id", recordID).Msg("Record decomposed with failures")
		status = statusFor(err)
		body["error"] = err.Error()
	}
	middleware.WriteJSON(w, status, body)
}

type balanceRequest struct {
	Month      int    `json:"month"`
	Year       int    `json:"year"`
	VerifiedBy string `json:"verified_by"`
}

// VerifyBalance handles POST /api/records/{id}/balances/verify
func (h *RecordsHandler) VerifyBalance(w http.ResponseWriter, r *http.Request, recordID string) {
	req, ok := h.decodeBalanceRequest(w, r)
	if !ok {
		return
	}

	rec, err := h.service.VerifyBalance(r.Context(), recordID, req.Month, req.Year, req.VerifiedBy)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to verify balance")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rec)
}

// UnverifyBalance handles POST /api/records/{id}/balances/unverify
func (h *RecordsHandler) UnverifyBalance(w http.ResponseWriter, r *http.Request, recordID string) {
	req, ok := h.decodeBalanceRequest(w, r)
	if !ok {
		return
	}

	rec, err := h.service.UnverifyBalance(r.Context(), recordID, req.Month, req.Year)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to unverify balance")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rec)
}

func (h *RecordsHandler) decodeBalanceRequest(w http.ResponseWriter, r *http.Request) (balanceRequest, bool) {
	var req balanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return req, false
	}
	if req.Month < 1 || req.Month > 12 || req.Year <= 0 {
		middleware.WriteError(w, http.StatusBadRequest, "month and year are required")
		return req, false
	}
	return req, true
}

// SetWorkflow handles PUT /api/records/{id}/workflow
func (h *RecordsHandler) SetWorkflow(w http.ResponseWriter, r *http.Request, recordID string) {
	var req struct {
		Status   string `json:"status"`
		Assignee string `json:"assignee"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	status := domain.WorkflowStatus(req.Status)
	if status != domain.WorkflowPending && status != domain.WorkflowValidated {
		middleware.WriteError(w, http.StatusBadRequest, "status must be pending or validated")
		return
	}

	rec, err := h.service.SetWorkflow(r.Context(), recordID, status, req.Assignee)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to update workflow")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rec)
}

// DocumentURL handles GET /api/records/{id}/document-url
func (h *RecordsHandler) DocumentURL(w http.ResponseWriter, r *http.Request, recordID string) {
	ctx := r.Context()

	rec, err := h.service.GetRecord(ctx, recordID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get record")
		return
	}
	if rec.Document.Path == "" {
		middleware.WriteError(w, http.StatusNotFound, "Record has no stored document")
		return
	}

	url, err := h.storage.SignedURL(ctx, rec.Document.Path, h.urlTTL)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Document not found")
			return
		}
		h.log.Error().Err(err).Str("record_id", recordID).Msg("Failed to sign document URL")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to sign document URL")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"url":        url,
		"expires_at": time.Now().Add(h.urlTTL).UTC().Format(time.RFC3339),
		"password":   rec.Document.Password != "",
	})
}

// decodeOptionalJSON decodes the body into v unless it is empty.
func decodeOptionalJSON(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}
