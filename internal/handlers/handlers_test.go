package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crawlytics/crawlytics/internal/analytics"
	"github.com/crawlytics/crawlytics/internal/handlers"
	"github.com/crawlytics/crawlytics/internal/ingest"
	"github.com/crawlytics/crawlytics/internal/parser"
	"github.com/crawlytics/crawlytics/internal/repository"
)

func newTestStore(t *testing.T) repository.EventStore {
	t.Helper()
	store, err := repository.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestPipeline() *ingest.Pipeline {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return ingest.NewPipeline(parser.New(true, "googlebot"), log)
}

func multipartBody(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("logfile", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func googlebotLines(n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb,
			"66.249.66.%d - - [10/Oct/2023:13:%02d:36 +0000] \"GET /page/%d HTTP/1.1\" 200 512 \"-\" \"Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)\"\n",
			i+1, i, i)
	}
	return sb.String()
}

func TestUploadHandler(t *testing.T) {
	t.Run("ingests a raw access log", func(t *testing.T) {
		store := newTestStore(t)
		h := &handlers.UploadHandler{
			Store: store, Pipeline: newTestPipeline(),
			Log: logrus.New(), MaxUploadMB: 8,
		}

		body, contentType := multipartBody(t, "access.log", googlebotLines(5))
		req := httptest.NewRequest("POST", "/upload", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp struct {
			Ingested   int   `json:"ingested"`
			StoreCount int64 `json:"store_count"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 5, resp.Ingested)
		assert.Equal(t, int64(5), resp.StoreCount)

		n, err := store.Count()
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)
	})

	t.Run("rejects a file with no matching entries", func(t *testing.T) {
		store := newTestStore(t)
		h := &handlers.UploadHandler{
			Store: store, Pipeline: newTestPipeline(),
			Log: logrus.New(), MaxUploadMB: 8,
		}

		body, contentType := multipartBody(t, "noise.log", "garbage line one\ngarbage line two\n")
		req := httptest.NewRequest("POST", "/upload", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		var resp struct {
			Error     string `json:"error"`
			ErrorFile string `json:"error_file"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Error)
		assert.Equal(t, "noise.log", resp.ErrorFile)
	})

	t.Run("rejects tabular data missing mandatory columns", func(t *testing.T) {
		store := newTestStore(t)
		h := &handlers.UploadHandler{
			Store: store, Pipeline: newTestPipeline(),
			Log: logrus.New(), MaxUploadMB: 8,
		}

		body, contentType := multipartBody(t, "data.csv", "url,status\n/a,200\n")
		req := httptest.NewRequest("POST", "/upload", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("requires a file", func(t *testing.T) {
		store := newTestStore(t)
		h := &handlers.UploadHandler{
			Store: store, Pipeline: newTestPipeline(),
			Log: logrus.New(), MaxUploadMB: 8,
		}

		req := httptest.NewRequest("POST", "/upload", strings.NewReader(""))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func uploadLog(t *testing.T, store repository.EventStore, content string) {
	t.Helper()
	h := &handlers.UploadHandler{
		Store: store, Pipeline: newTestPipeline(),
		Log: logrus.New(), MaxUploadMB: 8,
	}
	body, contentType := multipartBody(t, "access.log", content)
	req := httptest.NewRequest("POST", "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestAPIHandler(t *testing.T) {
	t.Run("stats returns a JSON analysis", func(t *testing.T) {
		store := newTestStore(t)
		uploadLog(t, store, googlebotLines(5))
		api := &handlers.APIHandler{Store: store, Engine: analytics.NewEngine(store)}

		rec := httptest.NewRecorder()
		api.Stats(rec, httptest.NewRequest("GET", "/api/stats", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var a analytics.Analysis
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
		assert.Equal(t, 5.0, a.BasicStats.Mean)
	})

	t.Run("url patterns rejects malformed dates", func(t *testing.T) {
		store := newTestStore(t)
		api := &handlers.APIHandler{Store: store, Engine: analytics.NewEngine(store)}

		rec := httptest.NewRecorder()
		api.URLPatterns(rec, httptest.NewRequest("GET", "/api/url-patterns?start=13/10/2023", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("compare requires all four bounds", func(t *testing.T) {
		store := newTestStore(t)
		api := &handlers.APIHandler{Store: store, Engine: analytics.NewEngine(store)}

		rec := httptest.NewRecorder()
		api.Compare(rec, httptest.NewRequest("GET", "/api/compare?start1=2023-10-01&end1=2023-10-07&start2=2023-10-08", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "end2")
	})

	t.Run("compare returns both period metrics", func(t *testing.T) {
		store := newTestStore(t)
		uploadLog(t, store, googlebotLines(5))
		api := &handlers.APIHandler{Store: store, Engine: analytics.NewEngine(store)}

		rec := httptest.NewRecorder()
		api.Compare(rec, httptest.NewRequest("GET",
			"/api/compare?start1=2023-10-01&end1=2023-10-09&start2=2023-10-10&end2=2023-10-20", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var c analytics.Comparison
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
		assert.Equal(t, int64(0), c.Period1.TotalCrawls)
		assert.Equal(t, int64(5), c.Period2.TotalCrawls)
	})

	t.Run("presets", func(t *testing.T) {
		store := newTestStore(t)
		api := &handlers.APIHandler{Store: store, Engine: analytics.NewEngine(store)}

		rec := httptest.NewRecorder()
		api.Presets(rec, httptest.NewRequest("GET", "/api/presets", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "full_report")

		r := chi.NewRouter()
		r.Get("/api/presets/{key}", api.PresetByKey)

		rec = httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest("GET", "/api/presets/overview", nil))
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest("GET", "/api/presets/bogus", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("reset drops the table", func(t *testing.T) {
		store := newTestStore(t)
		uploadLog(t, store, googlebotLines(3))
		api := &handlers.APIHandler{Store: store, Engine: analytics.NewEngine(store)}

		rec := httptest.NewRecorder()
		api.Reset(rec, httptest.NewRequest("POST", "/reset", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		n, err := store.Count()
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})
}

func TestDashboardHandler(t *testing.T) {
	store := newTestStore(t)
	uploadLog(t, store, googlebotLines(3))

	tmpl := template.Must(template.New("base").Parse(
		`{{define "base"}}{{.Overview.TotalCrawls}}|{{.DailyCountsJSON}}|{{.HeatmapJSON}}{{end}}`))
	h := &handlers.DashboardHandler{Store: store, Template: tmpl}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "3|"), body)
	assert.Contains(t, body, `"2023-10-10"`)
	assert.Contains(t, body, `"Tuesday"`)
}

func TestExportHandler(t *testing.T) {
	t.Run("raw csv download", func(t *testing.T) {
		store := newTestStore(t)
		uploadLog(t, store, googlebotLines(2))
		h := &handlers.ExportHandler{Store: store}

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/export?dataset=raw&format=csv", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "crawler_data_raw.csv")
		assert.Contains(t, rec.Body.String(), "/page/0")
	})

	t.Run("unknown dataset", func(t *testing.T) {
		store := newTestStore(t)
		h := &handlers.ExportHandler{Store: store}

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/export?dataset=sessions", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unsupported format", func(t *testing.T) {
		store := newTestStore(t)
		h := &handlers.ExportHandler{Store: store}

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/export?format=pdf", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
