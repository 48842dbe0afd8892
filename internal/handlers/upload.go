package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/crawlytics/crawlytics/internal/ingest"
	"github.com/crawlytics/crawlytics/internal/repository"
)

type UploadHandler struct {
	Store       repository.EventStore
	Pipeline    *ingest.Pipeline
	Log         *logrus.Logger
	MaxUploadMB int64
}

type uploadResponse struct {
	Files      []ingest.FileReport `json:"files"`
	Ingested   int                 `json:"ingested"`
	StoreCount int64               `json:"store_count"`
	Error      string              `json:"error,omitempty"`
	ErrorFile  string              `json:"error_file,omitempty"`
}

// ServeHTTP ingests one or more uploaded files. The batch aborts on the
// first failing file; files already ingested stay in the table.
func (h *UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(h.MaxUploadMB << 20); err != nil {
		http.Error(w, "No file uploaded or invalid form: "+err.Error(), http.StatusBadRequest)
		return
	}
	files := r.MultipartForm.File["logfile"]
	if len(files) == 0 {
		http.Error(w, "No file uploaded", http.StatusBadRequest)
		return
	}

	resp := uploadResponse{}
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			h.fail(w, resp, fh.Filename, err)
			return
		}
		report, err := h.Pipeline.ProcessFile(f, fh.Filename, ingest.InferKind(fh.Filename))
		f.Close()
		if err != nil {
			h.fail(w, resp, fh.Filename, err)
			return
		}
		if err := h.Store.InsertBatch(report.Events); err != nil {
			h.fail(w, resp, fh.Filename, err)
			return
		}
		resp.Files = append(resp.Files, report)
		resp.Ingested += report.Matched
	}

	if n, err := h.Store.Count(); err == nil {
		resp.StoreCount = n
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *UploadHandler) fail(w http.ResponseWriter, resp uploadResponse, file string, err error) {
	h.Log.WithError(err).WithField("file", file).Warn("upload failed")
	resp.Error = err.Error()
	resp.ErrorFile = file
	writeJSON(w, uploadStatus(err), resp)
}

// uploadStatus maps the ingestion error taxonomy onto HTTP status codes.
func uploadStatus(err error) int {
	var (
		schemaErr     *ingest.SchemaError
		encodingErr   *ingest.EncodingError
		decompressErr *ingest.DecompressionError
		noEntriesErr  *ingest.NoMatchingEntriesError
	)
	switch {
	case errors.As(err, &schemaErr),
		errors.As(err, &encodingErr),
		errors.As(err, &decompressErr),
		errors.As(err, &noEntriesErr):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
