package handlers

import (
	"html/template"
	"net/http"
	"net/url"
	"strconv"

	"github.com/crawlytics/crawlytics/internal/models"
	"github.com/crawlytics/crawlytics/internal/repository"
)

const pageSize = 50

type QueryHandler struct {
	Store    repository.EventStore
	Template *template.Template
}

type SortableColumn struct {
	Name   string
	Field  string
	URL    string
	Active bool
	Desc   bool
}

type QueryPageData struct {
	PageID  string
	Entries []models.CrawlEvent
	Total   int
	Page    int
	Pages   int
	Filters QueryFormFilters
	PrevURL string
	NextURL string
	Columns []SortableColumn
}

type QueryFormFilters struct {
	DateFrom string
	DateTo   string
	URL      string
	Status   string
	SortBy   string
	SortDesc bool
}

func (h *QueryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filters := parseQueryFilters(r)
	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			page = n
		}
	}

	offset := (page - 1) * pageSize
	entries, total, err := h.Store.Query(repository.QueryFilters{
		DateFrom:    filters.DateFrom,
		DateTo:      filters.DateTo,
		URLContains: filters.URL,
		Status:      filters.Status,
		SortBy:      filters.SortBy,
		SortDesc:    filters.SortDesc,
	}, pageSize, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	pages := (total + pageSize - 1) / pageSize
	if pages < 1 {
		pages = 1
	}

	baseQuery := r.URL.Query()
	data := QueryPageData{
		PageID:  "query",
		Entries: entries,
		Total:   total,
		Page:    page,
		Pages:   pages,
		Filters: filters,
		PrevURL: pageURL(baseQuery, page-1, page > 1),
		NextURL: pageURL(baseQuery, page+1, page < pages),
		Columns: buildSortColumns(baseQuery, filters.SortBy, filters.SortDesc),
	}
	if err := h.Template.ExecuteTemplate(w, "base", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func parseQueryFilters(r *http.Request) QueryFormFilters {
	q := r.URL.Query()
	return QueryFormFilters{
		DateFrom: q.Get("date_from"),
		DateTo:   q.Get("date_to"),
		URL:      q.Get("url"),
		Status:   q.Get("status"),
		SortBy:   q.Get("sort"),
		SortDesc: q.Get("order") == "desc",
	}
}

func pageURL(base url.Values, page int, ok bool) string {
	if !ok {
		return ""
	}
	q := make(url.Values)
	for k, v := range base {
		if k != "page" {
			q[k] = v
		}
	}
	q.Set("page", strconv.Itoa(page))
	return "?" + q.Encode()
}

func buildSortColumns(base url.Values, currentSort string, currentDesc bool) []SortableColumn {
	defs := []struct{ Name, Field string }{
		{"Date", "date"},
		{"Time", "time"},
		{"URL", "url"},
		{"Status", "status"},
		{"Hour", "hour"},
		{"Day", "day_of_week"},
	}
	if currentSort == "" {
		currentSort = "date"
	}
	cols := make([]SortableColumn, len(defs))
	for i, d := range defs {
		active := d.Field == currentSort
		newDesc := true
		if active && currentDesc {
			newDesc = false
		}
		q := make(url.Values)
		for k, v := range base {
			if k != "sort" && k != "order" && k != "page" {
				q[k] = v
			}
		}
		q.Set("sort", d.Field)
		if newDesc {
			q.Set("order", "desc")
		} else {
			q.Set("order", "asc")
		}
		cols[i] = SortableColumn{
			Name:   d.Name,
			Field:  d.Field,
			URL:    "?" + q.Encode(),
			Active: active,
			Desc:   currentDesc && active,
		}
	}
	return cols
}
