package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/crawlytics/crawlytics/internal/analytics"
	"github.com/crawlytics/crawlytics/internal/models"
	"github.com/crawlytics/crawlytics/internal/repository"
)

// APIHandler serves the JSON endpoints the dashboard widgets consume.
type APIHandler struct {
	Store  repository.EventStore
	Engine *analytics.Engine
}

func (h *APIHandler) Stats(w http.ResponseWriter, r *http.Request) {
	a, err := h.Engine.StatisticalAnalysis()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *APIHandler) URLPatterns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, ok := optionalDate(q.Get("start"))
	if !ok {
		http.Error(w, "invalid start date (want YYYY-MM-DD)", http.StatusBadRequest)
		return
	}
	end, ok := optionalDate(q.Get("end"))
	if !ok {
		http.Error(w, "invalid end date (want YYYY-MM-DD)", http.StatusBadRequest)
		return
	}
	sortBy := q.Get("sort")
	if sortBy == "" {
		sortBy = "total_crawls"
	}
	rows, err := h.Store.URLPatterns(start, end, sortBy, q.Get("order") == "asc")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *APIHandler) Compare(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var bounds [4]string
	for i, name := range []string{"start1", "end1", "start2", "end2"} {
		v, ok := requiredDate(q.Get(name))
		if !ok {
			http.Error(w, "invalid or missing "+name+" (want YYYY-MM-DD)", http.StatusBadRequest)
			return
		}
		bounds[i] = v
	}
	c, err := h.Engine.ComparePeriods(bounds[0], bounds[1], bounds[2], bounds[3])
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *APIHandler) Presets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.Presets())
}

func (h *APIHandler) PresetByKey(w http.ResponseWriter, r *http.Request) {
	p, ok := models.PresetByKey(chi.URLParam(r, "key"))
	if !ok {
		http.Error(w, "unknown preset", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Reset drops the session event table.
func (h *APIHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.ReplaceAll(nil); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func optionalDate(s string) (string, bool) {
	if s == "" {
		return "", true
	}
	return requiredDate(s)
}

func requiredDate(s string) (string, bool) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return "", false
	}
	return t.Format("2006-01-02"), true
}
