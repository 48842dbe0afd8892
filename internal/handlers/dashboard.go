package handlers

import (
	"encoding/json"
	"html/template"
	"net/http"

	"github.com/crawlytics/crawlytics/internal/repository"
)

// Weekday rows of the heat map, Monday first.
var weekdayOrder = []string{
	"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday",
}

type DashboardHandler struct {
	Store    repository.EventStore
	Template *template.Template
}

type DashboardPageData struct {
	PageID   string
	Overview *repository.Overview

	DailyCountsJSON  template.JS
	MonthlyStatsJSON template.JS
	HeatmapJSON      template.JS
}

type heatmapPayload struct {
	Days   []string  `json:"days"`
	Hours  []int     `json:"hours"`
	Counts [][]int64 `json:"counts"` // rows by day, columns by hour
}

func (h *DashboardHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	overview, err := h.Store.Overview()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	daily, err := h.Store.DailyCounts("", "")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	monthly, err := h.Store.MonthlyStats()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	heatmap, err := h.buildHeatmap()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data := DashboardPageData{PageID: "dashboard", Overview: overview}
	for _, p := range []struct {
		dst *template.JS
		v   any
	}{
		{&data.DailyCountsJSON, daily},
		{&data.MonthlyStatsJSON, monthly},
		{&data.HeatmapJSON, heatmap},
	} {
		b, err := json.Marshal(p.v)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		*p.dst = template.JS(b)
	}
	if err := h.Template.ExecuteTemplate(w, "base", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// buildHeatmap pivots the event table into day-of-week x hour counts.
func (h *DashboardHandler) buildHeatmap() (*heatmapPayload, error) {
	events, err := h.Store.All()
	if err != nil {
		return nil, err
	}
	dayIndex := make(map[string]int, len(weekdayOrder))
	for i, d := range weekdayOrder {
		dayIndex[d] = i
	}
	p := &heatmapPayload{Days: weekdayOrder, Counts: make([][]int64, len(weekdayOrder))}
	for i := range p.Counts {
		p.Counts[i] = make([]int64, 24)
	}
	for hr := 0; hr < 24; hr++ {
		p.Hours = append(p.Hours, hr)
	}
	for _, e := range events {
		di, ok := dayIndex[e.DayOfWeek]
		if !ok || e.Hour < 0 || e.Hour > 23 {
			continue
		}
		p.Counts[di][e.Hour]++
	}
	return p, nil
}
