package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kalambet/rat/internal/backend"
)

// errorBody is the normalized failure payload every route returns.
type errorBody struct {
	Error   string          `json:"error"`
	Details json.RawMessage `json:"details,omitempty"`
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, errorBody{Error: fmt.Sprintf(format, args...)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing response", "error", err)
	}
}

// writeBackendError maps a backend failure to the normalized payload with the
// upstream status, or 500 when no response arrived.
func writeBackendError(w http.ResponseWriter, r *http.Request, deps Deps, err error) {
	be := backend.AsError(err)
	route := routePattern(r)

	deps.Metrics.upstreamError(route, be.Status)
	requestLogger(r.Context()).Warn("upstream request failed",
		"route", route,
		"status", be.Status,
		"error", be.Message,
	)

	writeJSON(w, be.Status, errorBody{Error: be.Message, Details: be.Details})
}
