package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-crs/internal/crs"
	"github.com/mind-engage/mindengage-crs/internal/grading"
)

func studentID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "studentID"))
	if id == "" {
		http.Error(w, "studentID required", http.StatusBadRequest)
		return "", false
	}
	return id, true
}

// GET /students/{studentID}/crs
func ReportHandler(svc *crs.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := studentID(w, r)
		if !ok {
			return
		}
		rep, err := svc.Report(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

// POST /students/{studentID}/crs/recalculate
func RecalculateHandler(svc *crs.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := studentID(w, r)
		if !ok {
			return
		}
		out, err := svc.Recalculate(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// GET /students/{studentID}/crs/history?dense=1&tz=Asia/Kolkata
func HistoryHandler(svc *crs.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := studentID(w, r)
		if !ok {
			return
		}
		q := r.URL.Query()
		opts := grading.HistoryOptions{}
		switch q.Get("dense") {
		case "1", "true", "yes":
			opts.Dense = true
		}
		if tz := q.Get("tz"); tz != "" {
			loc, err := time.LoadLocation(tz)
			if err != nil {
				http.Error(w, "bad tz: "+err.Error(), http.StatusBadRequest)
				return
			}
			opts.Location = loc
		}
		pts, err := svc.History(r.Context(), id, opts)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, pts)
	}
}

// GET /students/{studentID}/crs/changes
func ChangesHandler(svc *crs.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := studentID(w, r)
		if !ok {
			return
		}
		changes, err := svc.Changes(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, changes)
	}
}
