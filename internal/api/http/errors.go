package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mind-engage/mindengage-crs/internal/crs"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the crs error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case crs.IsNotFound(err):
		http.Error(w, err.Error(), http.StatusNotFound)
	case crs.IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
		http.Error(w, "internal error: "+err.Error(), http.StatusInternalServerError)
	}
}

// actor is whoever the caller says recorded the change. There is no
// authentication in front of this API.
func actor(r *http.Request) string {
	return r.Header.Get("X-Actor-ID")
}
