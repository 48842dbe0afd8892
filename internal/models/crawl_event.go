package models

import "time"

// CrawlEvent is one request attributed to the monitored crawler. Derived
// calendar fields are filled in once at ingestion and never mutated.
type CrawlEvent struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	Date      time.Time `json:"date"` // calendar date, midnight, no TZ meaning
	Time      string    `json:"time"` // wall-clock HH:MM:SS from the source
	Status    int       `json:"status"` // 0 when the source had no status field
	HasStatus bool      `json:"has_status"`
	UserAgent string    `json:"user_agent"`

	// Derived at ingestion.
	Month     string `json:"month"`       // YYYY-MM
	DayOfWeek string `json:"day_of_week"` // English weekday name
	Hour      int    `json:"hour"`        // 0-23
}

// Derive fills the calendar fields from Date and Hour set by the pipeline.
func (e *CrawlEvent) Derive() {
	e.Month = e.Date.Format("2006-01")
	e.DayOfWeek = e.Date.Weekday().String()
}

// DateString renders the calendar date the way it is stored and exported.
func (e *CrawlEvent) DateString() string {
	return e.Date.Format("2006-01-02")
}

// FileKind is the upload variant, resolved once at ingestion entry.
type FileKind int

const (
	KindRawLog FileKind = iota
	KindCompressedRawLog
	KindTabular
	KindCompressedTabular
)

func (k FileKind) String() string {
	switch k {
	case KindRawLog:
		return "raw-log"
	case KindCompressedRawLog:
		return "compressed-raw-log"
	case KindTabular:
		return "tabular"
	case KindCompressedTabular:
		return "compressed-tabular"
	}
	return "unknown"
}
