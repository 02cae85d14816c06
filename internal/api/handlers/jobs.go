package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/dvloznov/statement-reconciler/internal/api/middleware"
	"github.com/dvloznov/statement-reconciler/internal/jobs"
	"github.com/rs/zerolog"
)

// StopRequester is implemented by job stores that support cooperative stop.
type StopRequester interface {
	RequestStop(ctx context.Context, jobID string) error
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store   jobs.JobStore
	stopper StopRequester
	log     zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, stopper StopRequester, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store:   store,
		stopper: stopper,
		log:     log,
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()

	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// StopJob handles POST /api/jobs/{id}/stop. The running item finishes and
// the remaining items stay pending.
func (h *JobsHandler) StopJob(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()

	if err := h.stopper.RequestStop(ctx, jobID); err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to stop job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to stop job")
		return
	}

	h.log.Info().Str("job_id", jobID).Msg("Stop requested")
	middleware.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":         jobID,
		"stop_requested": true,
	})
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Parse query parameters
	query := r.URL.Query()
	filter := jobs.JobFilter{
		CompanyID: query.Get("company_id"),
		Status:    jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if jobsList == nil {
		jobsList = []*jobs.BatchJob{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
