package handlers

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/dvloznov/statement-reconciler/internal/api/middleware"
	"github.com/dvloznov/statement-reconciler/internal/domain"
	"github.com/dvloznov/statement-reconciler/internal/gcs"
	"github.com/dvloznov/statement-reconciler/internal/jobs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultMaxUploadBytes bounds the multipart form of one batch.
const DefaultMaxUploadBytes = 64 << 20

// BatchesHandler accepts statement uploads and queues them for extraction.
type BatchesHandler struct {
	storage    gcs.StorageService
	publisher  jobs.Publisher
	maxRetries int
	maxBytes   int64
	log        zerolog.Logger
}

// NewBatchesHandler creates a new batches handler.
func NewBatchesHandler(storage gcs.StorageService, publisher jobs.Publisher, maxRetries int, log zerolog.Logger) *BatchesHandler {
	return &BatchesHandler{
		storage:    storage,
		publisher:  publisher,
		maxRetries: maxRetries,
		maxBytes:   DefaultMaxUploadBytes,
		log:        log,
	}
}

// CreateBatch handles POST /api/batches
//
// The body is multipart/form-data with one or more "files" parts and the
// optional fields company_id, assignee, bank_id, kind and password. The
// bank, kind and password hints apply to every file of the batch.
func (h *BatchesHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "At least one file is required")
		return
	}

	var kind domain.StatementKind
	if v := r.FormValue("kind"); v != "" {
		k, ok := domain.ParseStatementKind(v)
		if !ok {
			middleware.WriteError(w, http.StatusBadRequest, fmt.Sprintf("Invalid kind %q", v))
			return
		}
		kind = k
	}

	maxRetries := h.maxRetries
	if v := r.FormValue("max_retries"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid max_retries")
			return
		}
		maxRetries = n
	}

	job := &jobs.BatchJob{
		JobID:      uuid.NewString(),
		CompanyID:  r.FormValue("company_id"),
		Assignee:   r.FormValue("assignee"),
		MaxRetries: maxRetries,
	}

	for i, fh := range files {
		f, err := fh.Open()
		if err != nil {
			h.log.Error().Err(err).Str("file_name", fh.Filename).Msg("Failed to open uploaded file")
			middleware.WriteError(w, http.StatusBadRequest, "Failed to read uploaded file")
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			h.log.Error().Err(err).Str("file_name", fh.Filename).Msg("Failed to read uploaded file")
			middleware.WriteError(w, http.StatusBadRequest, "Failed to read uploaded file")
			return
		}

		objectPath := gcs.IncomingPath(job.JobID, i, fh.Filename)
		if _, err := h.storage.Put(ctx, objectPath, data, "application/pdf"); err != nil {
			h.log.Error().Err(err).Str("path", objectPath).Msg("Failed to stage uploaded file")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to store uploaded file")
			return
		}

		job.Items = append(job.Items, jobs.BatchItem{
			FileName: filepath.Base(fh.Filename),
			Path:     objectPath,
			Size:     int64(len(data)),
			BankID:   r.FormValue("bank_id"),
			Kind:     kind,
			Password: r.FormValue("password"),
		})
	}

	if err := h.publisher.PublishBatch(ctx, job); err != nil {
		h.log.Error().Err(err).Str("job_id", job.JobID).Msg("Failed to enqueue batch")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue batch")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Int("files", len(job.Items)).Msg("Batch enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": job.JobID,
		"status": string(job.Status),
		"total":  len(job.Items),
	})
}
