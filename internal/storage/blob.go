package storage

import (
	"io"
	"time"

	"github.com/google/uuid"
)

// BlobStore keeps raw uploads so an ingest can be audited or replayed.
type BlobStore interface {
	Put(key string, r io.Reader) (string, error) // returns canonical key
	Get(key string) (io.ReadCloser, error)
}

// UploadKey names an archived bulk upload: bulk/<date>/<uuid><ext>.
func UploadKey(at time.Time, ext string) string {
	return "bulk/" + at.UTC().Format("2006-01-02") + "/" + uuid.NewString() + ext
}
