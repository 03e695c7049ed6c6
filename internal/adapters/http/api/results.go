package api

import (
	"net/http"

	"github.com/okian/v2xmetrics/internal/domain/report"
)

// ResultsHandler serves finalized views of the live engine.
type ResultsHandler struct {
	deps interface{ Result() report.Result }
}

// NewResultsHandler creates a new results handler.
func NewResultsHandler(deps Dependencies) *ResultsHandler {
	return &ResultsHandler{deps: deps}
}

// HandleResult handles GET /result: the full metrics document.
func (h *ResultsHandler) HandleResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Result().Document())
}

// HandleSummary handles GET /summary.
func (h *ResultsHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Result().Summary())
}

// HandleAnomalies handles GET /anomalies.
func (h *ResultsHandler) HandleAnomalies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Result().AnomalyList())
}
