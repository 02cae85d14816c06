package api

import (
	"net/http"

	"github.com/dvloznov/statement-reconciler/internal/api/handlers"
	"github.com/dvloznov/statement-reconciler/internal/api/middleware"
	"github.com/rs/zerolog"
)

// Handlers groups the endpoint handlers served by the router.
type Handlers struct {
	Batches *handlers.BatchesHandler
	Jobs    *handlers.JobsHandler
	Records *handlers.RecordsHandler
	Periods *handlers.PeriodsHandler
}

type idHandler func(w http.ResponseWriter, r *http.Request, id string)

func withID(fn idHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if id == "" {
			middleware.WriteError(w, http.StatusBadRequest, "ID is required")
			return
		}
		fn(w, r, id)
	}
}

// NewRouter builds the API mux wrapped in the middleware chain. Browser
// callers are limited to allowedOrigins when any are given.
func NewRouter(h Handlers, log zerolog.Logger, allowedOrigins ...string) http.Handler {
	mux := http.NewServeMux()

	// Batches
	mux.HandleFunc("POST /api/batches", h.Batches.CreateBatch)

	// Jobs
	mux.HandleFunc("GET /api/jobs", h.Jobs.ListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", withID(h.Jobs.GetJob))
	mux.HandleFunc("POST /api/jobs/{id}/stop", withID(h.Jobs.StopJob))

	// Records
	mux.HandleFunc("GET /api/records", h.Records.ListRecords)
	mux.HandleFunc("GET /api/records/{id}", withID(h.Records.GetRecord))
	mux.HandleFunc("PUT /api/records/{id}", withID(h.Records.SaveRecord))
	mux.HandleFunc("DELETE /api/records/{id}", withID(h.Records.DeleteRecord))
	mux.HandleFunc("POST /api/records/{id}/validate", withID(h.Records.ValidateRecord))
	mux.HandleFunc("POST /api/records/{id}/decompose", withID(h.Records.DecomposeRecord))
	mux.HandleFunc("POST /api/records/{id}/balances/verify", withID(h.Records.VerifyBalance))
	mux.HandleFunc("POST /api/records/{id}/balances/unverify", withID(h.Records.UnverifyBalance))
	mux.HandleFunc("PUT /api/records/{id}/workflow", withID(h.Records.SetWorkflow))
	mux.HandleFunc("GET /api/records/{id}/document-url", withID(h.Records.DocumentURL))

	// Periods
	mux.HandleFunc("POST /api/periods/parse", h.Periods.ParsePeriod)

	// Health check endpoint
	mux.HandleFunc("GET /health", handlers.Health)

	// RequestID runs before Logger so every log line carries the id.
	return middleware.Recovery(log)(
		middleware.RequestID(
			middleware.Logger(log)(
				middleware.CORS(allowedOrigins...)(
					middleware.Auth(mux),
				),
			),
		),
	)
}
