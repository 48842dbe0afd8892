package repository

import (
	"database/sql"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/crawlytics/crawlytics/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS crawl_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	url TEXT NOT NULL,
	date TEXT NOT NULL,
	time TEXT NOT NULL,
	status INTEGER,
	user_agent TEXT,
	month TEXT NOT NULL,
	day_of_week TEXT NOT NULL,
	hour INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_crawl_events_date ON crawl_events(date);
CREATE INDEX IF NOT EXISTS idx_crawl_events_url ON crawl_events(url);
CREATE INDEX IF NOT EXISTS idx_crawl_events_month ON crawl_events(month);
CREATE INDEX IF NOT EXISTS idx_crawl_events_hour ON crawl_events(hour);
`

// SQLiteStore keeps the session event table in an in-memory SQLite
// database. Rows are ordered by (date, id), so events inserted later keep
// their per-file order among equal dates.
type SQLiteStore struct {
	db         *sql.DB
	generation atomic.Uint64
}

// NewMemory opens a fresh in-memory event table. The pool is pinned to a
// single connection: every :memory: connection would otherwise be its own
// empty database.
func NewMemory() (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) InsertBatch(events []models.CrawlEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.Prepare(`INSERT INTO crawl_events (url, date, time, status, user_agent, month, day_of_week, hour) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, e := range events {
		var status sql.NullInt64
		if e.HasStatus {
			status = sql.NullInt64{Int64: int64(e.Status), Valid: true}
		}
		if _, err := stmt.Exec(e.URL, e.DateString(), e.Time, status, e.UserAgent, e.Month, e.DayOfWeek, e.Hour); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.generation.Add(1)
	return nil
}

// ReplaceAll drops the whole table and reinserts. Passing nil clears the
// session.
func (s *SQLiteStore) ReplaceAll(events []models.CrawlEvent) error {
	if _, err := s.db.Exec("DELETE FROM crawl_events"); err != nil {
		return err
	}
	s.generation.Add(1)
	return s.InsertBatch(events)
}

func (s *SQLiteStore) Count() (int64, error) {
	var n int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM crawl_events").Scan(&n)
	return n, err
}

func (s *SQLiteStore) Generation() uint64 {
	return s.generation.Load()
}

// rangeClause builds the inclusive date-range filter shared by the
// aggregate views. Empty bounds are unbounded.
func rangeClause(start, end string) (string, []any) {
	var (
		where []string
		args  []any
	)
	if start != "" {
		where = append(where, "date >= ?")
		args = append(args, start)
	}
	if end != "" {
		where = append(where, "date <= ?")
		args = append(args, end)
	}
	if len(where) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

func parseStoredDate(s string) (time.Time, bool) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func scanEvents(rows *sql.Rows) ([]models.CrawlEvent, error) {
	var events []models.CrawlEvent
	for rows.Next() {
		var (
			e      models.CrawlEvent
			date   string
			status sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.URL, &date, &e.Time, &status, &e.UserAgent, &e.Month, &e.DayOfWeek, &e.Hour); err != nil {
			return nil, err
		}
		d, ok := parseStoredDate(date)
		if !ok {
			continue
		}
		e.Date = d
		if status.Valid {
			e.Status = int(status.Int64)
			e.HasStatus = true
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

const eventColumns = "id, url, date, time, status, user_agent, month, day_of_week, hour"

func (s *SQLiteStore) All() ([]models.CrawlEvent, error) {
	rows, err := s.db.Query("SELECT " + eventColumns + " FROM crawl_events ORDER BY date, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *SQLiteStore) Query(filters QueryFilters, limit, offset int) ([]models.CrawlEvent, int, error) {
	whereClause, args := rangeClause(filters.DateFrom, filters.DateTo)
	var extra []string
	if filters.URLContains != "" {
		extra = append(extra, "url LIKE ?")
		args = append(args, "%"+filters.URLContains+"%")
	}
	if filters.Status != "" {
		extra = append(extra, "status = ?")
		args = append(args, filters.Status)
	}
	if len(extra) > 0 {
		if whereClause == "" {
			whereClause = " WHERE " + strings.Join(extra, " AND ")
		} else {
			whereClause += " AND " + strings.Join(extra, " AND ")
		}
	}

	orderBy := "date ASC, id ASC"
	allowed := map[string]bool{"date": true, "url": true, "time": true, "status": true, "hour": true, "day_of_week": true}
	if allowed[filters.SortBy] {
		dir := "ASC"
		if filters.SortDesc {
			dir = "DESC"
		}
		orderBy = filters.SortBy + " " + dir + ", id ASC"
	}

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM crawl_events"+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := s.db.Query(
		"SELECT "+eventColumns+" FROM crawl_events"+whereClause+" ORDER BY "+orderBy+" LIMIT ? OFFSET ?",
		args...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	events, err := scanEvents(rows)
	return events, total, err
}

func (s *SQLiteStore) Overview() (*Overview, error) {
	o := &Overview{}
	err := s.db.QueryRow(`
		SELECT COUNT(*), COUNT(DISTINCT url), COALESCE(MIN(date), ''), COALESCE(MAX(date), '')
		FROM crawl_events
	`).Scan(&o.TotalCrawls, &o.UniqueURLs, &o.FirstDate, &o.LastDate)
	if err != nil {
		return nil, err
	}
	o.HasStatus, err = s.HasStatus()
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (s *SQLiteStore) HasStatus() (bool, error) {
	var n int
	err := s.db.QueryRow("SELECT EXISTS(SELECT 1 FROM crawl_events WHERE status IS NOT NULL)").Scan(&n)
	return n == 1, err
}

func (s *SQLiteStore) DailyFrequency() ([]DailyFrequencyRow, error) {
	rows, err := s.db.Query(`
		SELECT date, url, COUNT(*) AS cnt
		FROM crawl_events
		GROUP BY date, url
		ORDER BY date, url
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DailyFrequencyRow
	for rows.Next() {
		var r DailyFrequencyRow
		if err := rows.Scan(&r.Date, &r.URL, &r.Count); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MonthlyStats() ([]MonthlyStatsRow, error) {
	rows, err := s.db.Query(`
		SELECT month, COUNT(*) AS total_crawls, COUNT(DISTINCT date) AS unique_days
		FROM crawl_events
		GROUP BY month
		ORDER BY month
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MonthlyStatsRow
	for rows.Next() {
		var r MonthlyStatsRow
		if err := rows.Scan(&r.Month, &r.TotalCrawls, &r.UniqueDays); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// urlPatternSortFields is the ORDER BY allow-list. An unknown sort field
// applies no ordering at all.
var urlPatternSortFields = map[string]bool{
	"url":              true,
	"total_crawls":     true,
	"first_crawl":      true,
	"latest_crawl":     true,
	"unique_days":      true,
	"months_active":    true,
	"success_rate":     true,
	"avg_daily_crawls": true,
}

func (s *SQLiteStore) URLPatterns(start, end, sortBy string, ascending bool) ([]URLPatternRow, error) {
	whereClause, args := rangeClause(start, end)

	// status = 200 is NULL-safe: events without status count as failures,
	// so a dataset lacking the field reports 0.
	q := `
		SELECT url,
			COUNT(*) AS total_crawls,
			MIN(date) AS first_crawl,
			MAX(date) AS latest_crawl,
			COUNT(DISTINCT date) AS unique_days,
			COUNT(DISTINCT month) AS months_active,
			AVG(CASE WHEN status = 200 THEN 100.0 ELSE 0.0 END) AS success_rate,
			CAST(COUNT(*) AS REAL) / COUNT(DISTINCT date) AS avg_daily_crawls
		FROM crawl_events` + whereClause + `
		GROUP BY url`

	if urlPatternSortFields[sortBy] {
		dir := " DESC"
		if ascending {
			dir = " ASC"
		}
		q += " ORDER BY " + sortBy + dir + ", url ASC"
	}

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []URLPatternRow
	for rows.Next() {
		var r URLPatternRow
		if err := rows.Scan(&r.URL, &r.TotalCrawls, &r.FirstCrawl, &r.LatestCrawl, &r.UniqueDays, &r.MonthsActive, &r.SuccessRate, &r.AvgDailyCrawls); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DailyCounts(start, end string) ([]DateCount, error) {
	whereClause, args := rangeClause(start, end)
	rows, err := s.db.Query(`
		SELECT date, COUNT(*) FROM crawl_events`+whereClause+`
		GROUP BY date ORDER BY date
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DateCount
	for rows.Next() {
		var r DateCount
		if err := rows.Scan(&r.Date, &r.Count); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) HourlyDistribution(start, end string) ([]HourCount, error) {
	whereClause, args := rangeClause(start, end)
	rows, err := s.db.Query(`
		SELECT hour, COUNT(*) FROM crawl_events`+whereClause+`
		GROUP BY hour ORDER BY hour
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HourCount
	for rows.Next() {
		var r HourCount
		if err := rows.Scan(&r.Hour, &r.Count); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) keyCounts(column, whereClause string, args []any, orderBy string) ([]KeyCount, error) {
	rows, err := s.db.Query(
		"SELECT "+column+", COUNT(*) AS cnt FROM crawl_events"+whereClause+" GROUP BY "+column+" ORDER BY "+orderBy,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []KeyCount
	for rows.Next() {
		var r KeyCount
		if err := rows.Scan(&r.Key, &r.Count); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DayOfWeekDistribution(start, end string) ([]KeyCount, error) {
	whereClause, args := rangeClause(start, end)
	return s.keyCounts("day_of_week", whereClause, args, "cnt DESC, day_of_week ASC")
}

func (s *SQLiteStore) StatusDistribution(start, end string) ([]KeyCount, error) {
	whereClause, args := rangeClause(start, end)
	if whereClause == "" {
		whereClause = " WHERE status IS NOT NULL"
	} else {
		whereClause += " AND status IS NOT NULL"
	}
	return s.keyCounts("CAST(status AS TEXT)", whereClause, args, "cnt DESC, status ASC")
}

func (s *SQLiteStore) CrawlerDistribution(start, end string) ([]KeyCount, error) {
	whereClause, args := rangeClause(start, end)
	if whereClause == "" {
		whereClause = " WHERE user_agent != ''"
	} else {
		whereClause += " AND user_agent != ''"
	}
	return s.keyCounts("user_agent", whereClause, args, "cnt DESC, user_agent ASC")
}

// URLCounts returns per-url totals, most-crawled first, ties by url.
func (s *SQLiteStore) URLCounts(start, end string) ([]KeyCount, error) {
	whereClause, args := rangeClause(start, end)
	return s.keyCounts("url", whereClause, args, "cnt DESC, url ASC")
}

func (s *SQLiteStore) CountInRange(start, end string) (int64, error) {
	whereClause, args := rangeClause(start, end)
	var n int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM crawl_events"+whereClause, args...).Scan(&n)
	return n, err
}

func (s *SQLiteStore) UniqueURLsInRange(start, end string) (int64, error) {
	whereClause, args := rangeClause(start, end)
	var n int64
	err := s.db.QueryRow("SELECT COUNT(DISTINCT url) FROM crawl_events"+whereClause, args...).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
