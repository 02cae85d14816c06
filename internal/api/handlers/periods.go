package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dvloznov/statement-reconciler/internal/api/middleware"
	"github.com/dvloznov/statement-reconciler/internal/period"
	"github.com/rs/zerolog"
)

// PeriodsHandler exposes the period parser.
type PeriodsHandler struct {
	service RecordService
	log     zerolog.Logger
}

// NewPeriodsHandler creates a new periods handler.
func NewPeriodsHandler(service RecordService, log zerolog.Logger) *PeriodsHandler {
	return &PeriodsHandler{service: service, log: log}
}

type monthJSON struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

// ParsePeriod handles POST /api/periods/parse
func (h *PeriodsHandler) ParsePeriod(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	span, err := h.service.ParsePeriod(req.Text)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to parse period")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"span":      span,
		"months":    monthsOf(span),
		"canonical": span.Canonical(),
	})
}

func monthsOf(span period.Span) []monthJSON {
	out := make([]monthJSON, 0, span.MonthCount())
	for ym := range span.All() {
		out = append(out, monthJSON{Month: ym.Month, Year: ym.Year})
	}
	return out
}

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}
