package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/mind-engage/mindengage-crs/internal/crs"
	"github.com/mind-engage/mindengage-crs/internal/storage"
)

const maxUpload = 10 << 20

// POST /scores
func RecordScoreHandler(svc *crs.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req crs.NewScore
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
			return
		}
		req.RecordedBy = actor(r)
		e, err := svc.RecordScore(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, e)
	}
}

type bulkResp struct {
	crs.BulkResult
	ArchiveKey string `json:"archive_key,omitempty"`
	Error      string `json:"error,omitempty"` // recomputation failure after rows were stored
}

// POST /scores/bulk
//
// Accepts a JSON array body, or multipart file= holding CSV or JSON. The
// raw upload is archived before ingestion when a blob store is configured.
func BulkScoresHandler(svc *crs.Service, blobs storage.BlobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ext, err := readUpload(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var rows []crs.BulkRow
		if first := firstNonSpace(raw); first == '[' || first == '{' {
			if err := json.Unmarshal(raw, &rows); err != nil {
				http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
				return
			}
			ext = ".json"
		} else {
			if rows, err = crs.ParseBulkCSV(bytes.NewReader(raw)); err != nil {
				writeError(w, r, err)
				return
			}
		}

		resp := bulkResp{}
		if blobs != nil {
			key, err := blobs.Put(storage.UploadKey(time.Now(), ext), bytes.NewReader(raw))
			if err != nil {
				slog.WarnContext(r.Context(), "archive bulk upload failed", "err", err)
			} else {
				resp.ArchiveKey = key
			}
		}

		resp.BulkResult, err = svc.BulkIngest(r.Context(), rows, actor(r))
		if err != nil {
			if resp.SuccessCount == 0 {
				writeError(w, r, err)
				return
			}
			// rows are already stored: report them alongside the failure
			slog.ErrorContext(r.Context(), "bulk recompute failed", "stored", resp.SuccessCount, "err", err)
			resp.Error = err.Error()
			writeJSON(w, http.StatusInternalServerError, resp)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func readUpload(r *http.Request) ([]byte, string, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUpload); err != nil {
			return nil, "", errBadUpload("bad multipart form: " + err.Error())
		}
		f, h, err := r.FormFile("file")
		if err != nil {
			return nil, "", errBadUpload("file required")
		}
		defer f.Close()
		raw, err := io.ReadAll(io.LimitReader(f, maxUpload))
		if err != nil {
			return nil, "", err
		}
		if len(bytes.TrimSpace(raw)) == 0 {
			return nil, "", errBadUpload("empty file")
		}
		ext := strings.ToLower(filepath.Ext(h.Filename))
		if ext == "" {
			ext = ".csv"
		}
		return raw, ext, nil
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxUpload))
	if err != nil {
		return nil, "", err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, "", errBadUpload("expected JSON array, CSV body or multipart file")
	}
	return raw, ".csv", nil
}

type errBadUpload string

func (e errBadUpload) Error() string { return string(e) }

func firstNonSpace(b []byte) byte {
	t := bytes.TrimLeft(b, " \t\r\n\ufeff")
	if len(t) == 0 {
		return 0
	}
	return t[0]
}
