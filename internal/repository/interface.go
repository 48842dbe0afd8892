// Package repository holds the session event table: an in-memory SQLite
// database owning the date-sorted crawl events and the grouped views the
// aggregation layer builds on.
package repository

import (
	"github.com/crawlytics/crawlytics/internal/models"
)

type DailyFrequencyRow struct {
	Date  string `json:"date"`
	URL   string `json:"url"`
	Count int64  `json:"crawl_count"`
}

type MonthlyStatsRow struct {
	Month       string `json:"month"`
	TotalCrawls int64  `json:"total_crawls"`
	UniqueDays  int64  `json:"unique_days"`
}

type URLPatternRow struct {
	URL            string  `json:"url"`
	TotalCrawls    int64   `json:"total_crawls"`
	FirstCrawl     string  `json:"first_crawl"`
	LatestCrawl    string  `json:"latest_crawl"`
	UniqueDays     int64   `json:"unique_days"`
	MonthsActive   int64   `json:"months_active"`
	SuccessRate    float64 `json:"success_rate"`
	AvgDailyCrawls float64 `json:"avg_daily_crawls"`
}

type DateCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

type KeyCount struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

type HourCount struct {
	Hour  int   `json:"hour"`
	Count int64 `json:"count"`
}

// Overview is the dashboard headline block.
type Overview struct {
	TotalCrawls int64  `json:"total_crawls"`
	UniqueURLs  int64  `json:"unique_urls"`
	FirstDate   string `json:"first_date"`
	LastDate    string `json:"last_date"`
	HasStatus   bool   `json:"has_status"`
}

// QueryFilters drives the detailed-data view. Dates are inclusive
// YYYY-MM-DD strings; empty means unbounded.
type QueryFilters struct {
	DateFrom    string
	DateTo      string
	URLContains string
	Status      string
	SortBy      string
	SortDesc    bool
}

// EventStore is the session event table. One store per session; the whole
// table is replaced, never partially deleted.
type EventStore interface {
	InsertBatch(events []models.CrawlEvent) error
	ReplaceAll(events []models.CrawlEvent) error
	Count() (int64, error)
	// Generation increments on every mutation; aggregation caches key on it.
	Generation() uint64

	All() ([]models.CrawlEvent, error)
	Query(filters QueryFilters, limit, offset int) ([]models.CrawlEvent, int, error)
	Overview() (*Overview, error)
	HasStatus() (bool, error)

	DailyFrequency() ([]DailyFrequencyRow, error)
	MonthlyStats() ([]MonthlyStatsRow, error)
	URLPatterns(start, end, sortBy string, ascending bool) ([]URLPatternRow, error)

	DailyCounts(start, end string) ([]DateCount, error)
	HourlyDistribution(start, end string) ([]HourCount, error)
	DayOfWeekDistribution(start, end string) ([]KeyCount, error)
	StatusDistribution(start, end string) ([]KeyCount, error)
	CrawlerDistribution(start, end string) ([]KeyCount, error)
	URLCounts(start, end string) ([]KeyCount, error)
	CountInRange(start, end string) (int64, error)
	UniqueURLsInRange(start, end string) (int64, error)

	Close() error
}
