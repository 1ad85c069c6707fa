package http

import (
	"encoding/json"
	"net/http"

	"github.com/mind-engage/mindengage-crs/internal/crs"
)

type violationReq struct {
	ViolationTypeID string `json:"violation_type_id"`
	Comment         string `json:"comment,omitempty"`
}

// POST /students/{studentID}/violations
func RecordViolationHandler(svc *crs.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := studentID(w, r)
		if !ok {
			return
		}
		var req violationReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
			return
		}
		v, err := svc.RecordViolation(r.Context(), crs.NewViolation{
			StudentID:       id,
			ViolationTypeID: req.ViolationTypeID,
			Comment:         req.Comment,
			RecordedBy:      actor(r),
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, v)
	}
}
