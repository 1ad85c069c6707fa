package http

import (
	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-crs/internal/crs"
	"github.com/mind-engage/mindengage-crs/internal/storage"
)

// Mount registers the CRS API on r. blobs may be nil.
func Mount(r chi.Router, svc *crs.Service, blobs storage.BlobStore) {
	r.Post("/scores", RecordScoreHandler(svc))
	r.Post("/scores/bulk", BulkScoresHandler(svc, blobs))

	r.Route("/students/{studentID}", func(sr chi.Router) {
		sr.Post("/violations", RecordViolationHandler(svc))
		sr.Get("/crs", ReportHandler(svc))
		sr.Post("/crs/recalculate", RecalculateHandler(svc))
		sr.Get("/crs/history", HistoryHandler(svc))
		sr.Get("/crs/changes", ChangesHandler(svc))
	})
}
