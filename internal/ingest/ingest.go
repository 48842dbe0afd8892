// Package ingest turns uploaded files into crawl events for the session
// event table, handling decompression, text decoding and both raw-log and
// structured tabular inputs.
package ingest

import (
	"bufio"
	"compress/gzip"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/charmap"

	"github.com/crawlytics/crawlytics/internal/models"
	"github.com/crawlytics/crawlytics/internal/parser"
)

const sampleLines = 5

// FileReport summarizes one processed file. It is the reporting hook the
// presentation layer surfaces; it carries no control-flow significance.
type FileReport struct {
	File    string              `json:"file"`
	Kind    string              `json:"kind"`
	Total   int                 `json:"total"`
	Matched int                 `json:"matched"`
	Invalid int                 `json:"invalid"`
	Events  []models.CrawlEvent `json:"-"`
}

// Pipeline converts raw file content into crawl events.
type Pipeline struct {
	parser *parser.Parser
	log    *logrus.Logger
}

func NewPipeline(p *parser.Parser, log *logrus.Logger) *Pipeline {
	return &Pipeline{parser: p, log: log}
}

// InferKind resolves the upload variant from the file name. The decision
// happens once here; nothing downstream re-inspects the name.
func InferKind(name string) models.FileKind {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".csv.gz"):
		return models.KindCompressedTabular
	case strings.HasSuffix(lower, ".csv"):
		return models.KindTabular
	case strings.HasSuffix(lower, ".gz"):
		return models.KindCompressedRawLog
	default:
		return models.KindRawLog
	}
}

// ProcessFile reads one file and returns its report with the extracted
// events. Errors are per-file and name the file.
func (p *Pipeline) ProcessFile(r io.Reader, name string, kind models.FileKind) (FileReport, error) {
	report := FileReport{File: name, Kind: kind.String()}

	raw, err := readMaybeCompressed(r, name, kind)
	if err != nil {
		return report, err
	}

	var events []models.CrawlEvent
	switch kind {
	case models.KindTabular, models.KindCompressedTabular:
		events, err = p.parseTabular(raw, name, &report)
	default:
		events, err = p.parseRawLog(raw, name, &report)
	}
	if err != nil {
		return report, err
	}

	for i := range events {
		events[i].Derive()
	}
	report.Events = events

	p.log.WithFields(logrus.Fields{
		"file":    name,
		"kind":    kind.String(),
		"total":   report.Total,
		"matched": report.Matched,
		"invalid": report.Invalid,
	}).Infof("processed %s lines, %s crawl entries",
		humanize.Comma(int64(report.Total)), humanize.Comma(int64(report.Matched)))

	return report, nil
}

func readMaybeCompressed(r io.Reader, name string, kind models.FileKind) ([]byte, error) {
	if kind == models.KindCompressedRawLog || kind == models.KindCompressedTabular {
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, &DecompressionError{File: name, Err: err}
		}
		defer gr.Close()
		b, err := io.ReadAll(gr)
		if err != nil {
			return nil, &DecompressionError{File: name, Err: err}
		}
		return b, nil
	}
	return io.ReadAll(r)
}

// decodeText decodes file bytes, trying UTF-8 first and falling back
// through legacy single-byte encodings.
func decodeText(b []byte, name string) (string, error) {
	if utf8.Valid(b) {
		return string(b), nil
	}
	if out, err := charmap.Windows1252.NewDecoder().Bytes(b); err == nil && !strings.ContainsRune(string(out), utf8.RuneError) {
		return string(out), nil
	}
	if out, err := charmap.ISO8859_1.NewDecoder().Bytes(b); err == nil {
		return string(out), nil
	}
	return "", &EncodingError{File: name}
}

func (p *Pipeline) parseRawLog(raw []byte, name string, report *FileReport) ([]models.CrawlEvent, error) {
	text, err := decodeText(raw, name)
	if err != nil {
		return nil, err
	}

	var (
		events []models.CrawlEvent
		sample []string
	)
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		report.Total++
		if len(sample) < sampleLines {
			sample = append(sample, line)
		}
		ev, ok := p.parser.ParseLine(line)
		if !ok {
			report.Invalid++
			continue
		}
		report.Matched++
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if report.Matched == 0 {
		return nil, &NoMatchingEntriesError{
			File:    name,
			Total:   report.Total,
			Invalid: report.Invalid,
			Sample:  sample,
		}
	}
	return events, nil
}

func (p *Pipeline) parseTabular(raw []byte, name string, report *FileReport) ([]models.CrawlEvent, error) {
	text, err := decodeText(raw, name)
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(strings.NewReader(text))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, &SchemaError{File: name, Missing: []string{"url", "date", "time"}}
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	var missing []string
	for _, required := range []string{"url", "date", "time"} {
		if _, ok := cols[required]; !ok {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return nil, &SchemaError{File: name, Missing: missing}
	}

	field := func(rec []string, col string) string {
		i, ok := cols[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var events []models.CrawlEvent
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			report.Invalid++
			continue
		}
		report.Total++

		ev, ok := rowToEvent(
			field(rec, "url"),
			field(rec, "date"),
			field(rec, "time"),
			field(rec, "status"),
			field(rec, "user_agent"),
		)
		if !ok {
			report.Invalid++
			continue
		}
		report.Matched++
		events = append(events, ev)
	}
	return events, nil
}

func rowToEvent(url, date, clock, status, userAgent string) (models.CrawlEvent, bool) {
	if url == "" {
		return models.CrawlEvent{}, false
	}
	d, ok := parseDate(date)
	if !ok {
		return models.CrawlEvent{}, false
	}
	hour, normalized, ok := parseClock(clock)
	if !ok {
		return models.CrawlEvent{}, false
	}
	ev := models.CrawlEvent{
		URL:       url,
		Date:      time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC),
		Time:      normalized,
		UserAgent: userAgent,
		Hour:      hour,
	}
	if status != "" {
		if n, err := strconv.Atoi(status); err == nil {
			ev.Status = n
			ev.HasStatus = true
		}
	}
	return ev, true
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"02/Jan/2006:15:04:05",
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

var clockLayouts = []string{
	"15:04:05",
	"15:04",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

func parseClock(s string) (int, string, bool) {
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Hour(), t.Format("15:04:05"), true
		}
	}
	return 0, "", false
}
