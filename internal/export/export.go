// Package export serializes the raw event table and the tabular aggregation
// results to downloadable byte formats.
package export

import (
	"bytes"
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/crawlytics/crawlytics/internal/models"
	"github.com/crawlytics/crawlytics/internal/repository"
)

// Export formats.
const (
	FormatCSV   = "csv"
	FormatExcel = "excel"
	FormatGzip  = "gz"
)

// Dataset names.
const (
	DatasetRaw            = "raw"
	DatasetDailyFrequency = "daily_frequency"
	DatasetMonthlyStats   = "monthly_stats"
	DatasetURLPatterns    = "url_patterns"
)

// UnsupportedFormatError signals an unknown export target.
type UnsupportedFormatError struct {
	Format string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported export format %q", e.Format)
}

// Table is a named column/row dataset ready for serialization.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]string
}

// Result is an encoded download.
type Result struct {
	Data        []byte
	FileName    string
	ContentType string
}

// Encode serializes a table in the requested format.
func Encode(t Table, format string) (*Result, error) {
	switch format {
	case FormatCSV:
		data, err := encodeCSV(t)
		if err != nil {
			return nil, err
		}
		return &Result{
			Data:        data,
			FileName:    fmt.Sprintf("crawler_data_%s.csv", t.Name),
			ContentType: "text/csv",
		}, nil

	case FormatExcel:
		data, err := encodeXLSX(t)
		if err != nil {
			return nil, err
		}
		return &Result{
			Data:        data,
			FileName:    fmt.Sprintf("crawler_data_%s.xlsx", t.Name),
			ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		}, nil

	case FormatGzip:
		data, err := encodeCSV(t)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write(data); err != nil {
			return nil, err
		}
		if err := gw.Close(); err != nil {
			return nil, err
		}
		return &Result{
			Data:        buf.Bytes(),
			FileName:    fmt.Sprintf("crawler_data_%s.csv.gz", t.Name),
			ContentType: "application/gzip",
		}, nil
	}
	return nil, &UnsupportedFormatError{Format: format}
}

func encodeCSV(t Table) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Columns); err != nil {
		return nil, err
	}
	if err := w.WriteAll(t.Rows); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeXLSX(t Table) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	if err := setRow(f, sheet, 1, t.Columns); err != nil {
		return nil, err
	}
	for i, row := range t.Rows {
		if err := setRow(f, sheet, i+2, row); err != nil {
			return nil, err
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func setRow(f *excelize.File, sheet string, row int, cells []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	values := make([]any, len(cells))
	for i, c := range cells {
		values[i] = c
	}
	return f.SetSheetRow(sheet, cell, &values)
}

// RawTable renders the full event table. The column set round-trips through
// tabular ingestion: url, date and time are the mandatory schema, status and
// user_agent the optional ones; status stays blank for events that had none.
func RawTable(events []models.CrawlEvent) Table {
	t := Table{
		Name:    DatasetRaw,
		Columns: []string{"url", "date", "time", "status", "user_agent", "month", "day_of_week", "hour"},
	}
	for _, e := range events {
		status := ""
		if e.HasStatus {
			status = strconv.Itoa(e.Status)
		}
		t.Rows = append(t.Rows, []string{
			e.URL, e.DateString(), e.Time, status, e.UserAgent,
			e.Month, e.DayOfWeek, strconv.Itoa(e.Hour),
		})
	}
	return t
}

func DailyFrequencyTable(rows []repository.DailyFrequencyRow) Table {
	t := Table{Name: DatasetDailyFrequency, Columns: []string{"date", "url", "crawl_count"}}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{r.Date, r.URL, strconv.FormatInt(r.Count, 10)})
	}
	return t
}

func MonthlyStatsTable(rows []repository.MonthlyStatsRow) Table {
	t := Table{Name: DatasetMonthlyStats, Columns: []string{"month", "total_crawls", "unique_days"}}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{
			r.Month, strconv.FormatInt(r.TotalCrawls, 10), strconv.FormatInt(r.UniqueDays, 10),
		})
	}
	return t
}

func URLPatternsTable(rows []repository.URLPatternRow) Table {
	t := Table{
		Name: DatasetURLPatterns,
		Columns: []string{
			"url", "total_crawls", "first_crawl", "latest_crawl",
			"unique_days", "months_active", "success_rate", "avg_daily_crawls",
		},
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{
			r.URL,
			strconv.FormatInt(r.TotalCrawls, 10),
			r.FirstCrawl,
			r.LatestCrawl,
			strconv.FormatInt(r.UniqueDays, 10),
			strconv.FormatInt(r.MonthsActive, 10),
			strconv.FormatFloat(r.SuccessRate, 'f', 2, 64),
			strconv.FormatFloat(r.AvgDailyCrawls, 'f', 2, 64),
		})
	}
	return t
}
