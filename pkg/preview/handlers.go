package preview

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/ethpandaops/uploadoor/pkg/classify"
	"github.com/ethpandaops/uploadoor/pkg/gateway"
	"github.com/ethpandaops/uploadoor/pkg/index"
	"github.com/go-chi/chi/v5"
)

// defaultContentType is returned for objects stored without a type.
const defaultContentType = "application/octet-stream"

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleObject serves one stored object. Paths ending in "/" serve the
// directory's index page.
func (s *server) handleObject(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "*")

	// chi routes on the raw path when the request carries one.
	if r.URL.RawPath != "" {
		unescaped, err := url.PathUnescape(name)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{"invalid object name"})

			return
		}

		name = unescaped
	}

	if name == "" || strings.HasSuffix(name, "/") {
		name += index.FileName
	}

	path, err := gateway.LocalPath(s.dir, s.container, name)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid object name"})

		return
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeJSON(w, http.StatusNotFound, errorResponse{"object not found"})

			return
		}

		s.log.WithError(err).WithField("object", name).Error("Failed to open object")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"internal error"})

		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeJSON(w, http.StatusNotFound, errorResponse{"object not found"})

		return
	}

	contentType := classify.ContentType(name)
	if contentType == "" {
		contentType = defaultContentType
	}

	w.Header().Set("Content-Type", contentType)

	if encoding := classify.Encoding(name); encoding != "" {
		w.Header().Set("Content-Encoding", encoding)
	}

	http.ServeContent(w, r, "", info.ModTime(), f)
}

// handleListRuns returns the recorded run IDs, most recent first.
func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	ids, err := s.manifest.ListRunIDs(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list runs")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"internal error"})

		return
	}

	if ids == nil {
		ids = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": ids})
}

type entryResponse struct {
	Object          string `json:"object"`
	Source          string `json:"source"`
	Kind            string `json:"kind"`
	Size            int64  `json:"size"`
	Checksum        string `json:"sha224"`
	ContentType     string `json:"content_type,omitempty"`
	ContentEncoding string `json:"content_encoding,omitempty"`
	Attempts        int    `json:"attempts"`
	UploadedAt      string `json:"uploaded_at"`
}

// handleGetRun returns the objects stored by one run.
func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	entries, err := s.manifest.ListRun(r.Context(), runID)
	if err != nil {
		s.log.WithError(err).WithField("run_id", runID).Error("Failed to list run")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"internal error"})

		return
	}

	if len(entries) == 0 {
		writeJSON(w, http.StatusNotFound, errorResponse{"run not found"})

		return
	}

	resp := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, entryResponse{
			Object:          e.ObjectName,
			Source:          e.Source,
			Kind:            e.Kind,
			Size:            e.Size,
			Checksum:        e.Checksum,
			ContentType:     e.ContentType,
			ContentEncoding: e.ContentEncoding,
			Attempts:        e.Attempts,
			UploadedAt:      e.UploadedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "objects": resp})
}
