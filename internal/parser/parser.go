// Package parser classifies raw access-log lines against a fixed, ordered
// set of grammars and extracts crawl events from the ones that match.
package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/crawlytics/crawlytics/internal/models"
)

// DefaultCrawlerPattern is the substring matched against the user agent
// when crawler filtering is enabled.
const DefaultCrawlerPattern = "googlebot"

// Grammar priority order: combined log format, stripped-auth variant,
// minimal host + timestamp + request. The first structural match wins;
// later grammars are never retried for the same line.
//
// 203.0.113.9 - - [10/Oct/2023:13:55:36 +0000] "GET /p HTTP/1.1" 200 2326 "-" "Googlebot/2.1"
var grammars = []*regexp.Regexp{
	regexp.MustCompile(`^(?:\S+ )?(\S+) (\S+) (\S+) \[([^\]]+)\] "(\S+) (\S+)(?: [^"]*)?" (\d{3}) (\d+|-) "([^"]*)" "([^"]*)"`),
	regexp.MustCompile(`^(?:\S+ )?(\S+) \[([^\]]+)\] "(\S+) (\S+)(?: [^"]*)?" (\d{3}) (\d+|-) "([^"]*)" "([^"]*)"`),
	regexp.MustCompile(`^(?:\S+ )?(\S+) \[([^\]]+)\] "([^"\s]+) ([^"\s]+)`),
}

var timestampLayouts = []string{
	"02/Jan/2006:15:04:05 -0700",
	"02/Jan/2006:15:04:05",
}

// Parser extracts crawl events from single log lines. Zero value is not
// usable; construct with New.
type Parser struct {
	filter  bool
	pattern string
}

// New returns a line parser. When filter is true, lines whose user agent
// does not contain pattern (case-insensitive) are rejected. An empty
// pattern falls back to DefaultCrawlerPattern.
func New(filter bool, pattern string) *Parser {
	if pattern == "" {
		pattern = DefaultCrawlerPattern
	}
	return &Parser{filter: filter, pattern: strings.ToLower(pattern)}
}

// ParseLine matches one whitespace-trimmed line against the grammar set.
// It returns the extracted event and true, or a zero event and false when
// the line does not qualify. It never panics on malformed input.
func (p *Parser) ParseLine(line string) (models.CrawlEvent, bool) {
	if line == "" {
		return models.CrawlEvent{}, false
	}
	for i, g := range grammars {
		m := g.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		// First structural match wins: a failed semantic check below must
		// not fall through to a looser grammar.
		return p.extract(i, m)
	}
	return models.CrawlEvent{}, false
}

func (p *Parser) extract(grammar int, m []string) (models.CrawlEvent, bool) {
	var ts, url, status, ua string
	switch grammar {
	case 0:
		ts, url, status, ua = m[4], m[6], m[7], m[10]
	case 1:
		ts, url, status, ua = m[2], m[4], m[5], m[8]
	default:
		ts, url = m[2], m[4]
	}

	if p.filter && !strings.Contains(strings.ToLower(ua), p.pattern) {
		return models.CrawlEvent{}, false
	}
	if url == "" {
		return models.CrawlEvent{}, false
	}

	t, ok := parseTimestamp(ts)
	if !ok {
		return models.CrawlEvent{}, false
	}

	ev := models.CrawlEvent{
		URL:       url,
		Date:      time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC),
		Time:      t.Format("15:04:05"),
		UserAgent: ua,
		Hour:      t.Hour(),
	}
	if status != "" {
		if n, err := strconv.Atoi(status); err == nil {
			ev.Status = n
			ev.HasStatus = true
		}
	}
	return ev, true
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
