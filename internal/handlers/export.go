package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/crawlytics/crawlytics/internal/export"
	"github.com/crawlytics/crawlytics/internal/repository"
)

type ExportHandler struct {
	Store repository.EventStore
}

// ServeHTTP streams one dataset in one format, e.g.
// /export?dataset=url_patterns&format=excel.
func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	dataset := r.URL.Query().Get("dataset")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = export.FormatCSV
	}

	table, err := h.buildTable(dataset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := export.Encode(*table, format)
	if err != nil {
		var uerr *export.UnsupportedFormatError
		if errors.As(err, &uerr) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+res.FileName+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	_, _ = w.Write(res.Data)
}

var errUnknownDataset = errors.New("unknown dataset (want raw, daily_frequency, monthly_stats or url_patterns)")

func (h *ExportHandler) buildTable(dataset string) (*export.Table, error) {
	switch dataset {
	case export.DatasetRaw, "":
		events, err := h.Store.All()
		if err != nil {
			return nil, err
		}
		t := export.RawTable(events)
		return &t, nil
	case export.DatasetDailyFrequency:
		rows, err := h.Store.DailyFrequency()
		if err != nil {
			return nil, err
		}
		t := export.DailyFrequencyTable(rows)
		return &t, nil
	case export.DatasetMonthlyStats:
		rows, err := h.Store.MonthlyStats()
		if err != nil {
			return nil, err
		}
		t := export.MonthlyStatsTable(rows)
		return &t, nil
	case export.DatasetURLPatterns:
		rows, err := h.Store.URLPatterns("", "", "total_crawls", false)
		if err != nil {
			return nil, err
		}
		t := export.URLPatternsTable(rows)
		return &t, nil
	}
	return nil, errUnknownDataset
}
