// Package analytics is the aggregation engine: statistical analysis and
// period comparison over the session event table. Every operation is a pure
// function of the table contents and its parameters; results are memoized
// per table generation.
package analytics

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/crawlytics/crawlytics/internal/models"
	"github.com/crawlytics/crawlytics/internal/repository"
	"github.com/crawlytics/crawlytics/internal/stats"
)

const (
	// Decomposition needs at least this many distinct observed days.
	decompositionMinDays = 14
	seasonalPeriod       = 7

	peakHourCount = 3
	topURLCount   = 5
)

// DatedValue is one point of a decomposition series. Value is nil where the
// component is undefined (the centered moving average has no edges).
type DatedValue struct {
	Date  string   `json:"date"`
	Value *float64 `json:"value"`
}

// URLDiversity measures how concentrated crawl attention is across urls.
type URLDiversity struct {
	UniqueURLs      int64                 `json:"unique_urls"`
	GiniCoefficient float64               `json:"gini_coefficient"`
	TopURLs         []repository.KeyCount `json:"top_urls"`
}

// Analysis is the statistical-analysis bundle for the whole table.
type Analysis struct {
	BasicStats   stats.Basic  `json:"basic_stats"`
	Trend        []DatedValue `json:"trend"`
	Seasonal     []DatedValue `json:"seasonal"`
	Residual     []DatedValue `json:"residual"`
	PeakHours    []int        `json:"peak_hours"`
	URLDiversity URLDiversity `json:"url_diversity"`
}

// PeriodMetrics summarizes one date range of a comparison.
type PeriodMetrics struct {
	Start               string                `json:"start"`
	End                 string                `json:"end"`
	TotalCrawls         int64                 `json:"total_crawls"`
	UniqueURLs          int64                 `json:"unique_urls"`
	AvgDailyCrawls      float64               `json:"avg_daily_crawls"`
	PeakHours           []int                 `json:"peak_hours"`
	TopURLs             []repository.KeyCount `json:"top_urls"`
	HourlyDistribution  []int64               `json:"hourly_distribution"`
	DailyPattern        []repository.KeyCount `json:"daily_pattern"`
	StatusDistribution  []repository.KeyCount `json:"status_distribution,omitempty"`
	CrawlerDistribution []repository.KeyCount `json:"crawler_distribution,omitempty"`
}

// Comparison holds two period summaries plus the sliced event sets.
type Comparison struct {
	Period1       PeriodMetrics       `json:"period1"`
	Period2       PeriodMetrics       `json:"period2"`
	Period1Events []models.CrawlEvent `json:"-"`
	Period2Events []models.CrawlEvent `json:"-"`
}

// Engine computes derived views over the event store. Results are cached
// keyed by (operation, store generation, parameters); mutation bumps the
// generation, which drops the whole cache.
type Engine struct {
	store repository.EventStore

	mu       sync.Mutex
	cacheGen uint64
	cache    map[string]any
}

func NewEngine(store repository.EventStore) *Engine {
	return &Engine{store: store, cache: make(map[string]any)}
}

// cached returns the memoized value for key, plus the generation the lookup
// observed. A caller that misses computes against that generation and hands
// it back to put.
func (e *Engine) cached(key string) (any, uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	gen := e.store.Generation()
	if gen != e.cacheGen {
		e.cache = make(map[string]any)
		e.cacheGen = gen
	}
	v, ok := e.cache[key]
	return v, gen, ok
}

// put stores v only while gen is still current. A mutation landing during
// the compute leaves the result uncached instead of publishing it under the
// new generation.
func (e *Engine) put(key string, v any, gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store.Generation() != gen || e.cacheGen != gen {
		return
	}
	e.cache[key] = v
}

// StatisticalAnalysis computes the basic-stats / decomposition / peak-hours /
// url-diversity bundle for the whole table.
func (e *Engine) StatisticalAnalysis() (*Analysis, error) {
	const key = "analysis"
	v, gen, ok := e.cached(key)
	if ok {
		return v.(*Analysis), nil
	}

	daily, err := e.store.DailyCounts("", "")
	if err != nil {
		return nil, err
	}

	// Observed days only; the calendar is not filled in for the moments.
	observed := make([]float64, len(daily))
	points := make([]stats.SeriesPoint, len(daily))
	for i, d := range daily {
		observed[i] = float64(d.Count)
		points[i] = stats.SeriesPoint{Date: d.Date, Value: float64(d.Count)}
	}

	a := &Analysis{BasicStats: stats.Describe(observed)}

	if len(daily) >= decompositionMinDays {
		a.Trend, a.Seasonal, a.Residual = decompose(points)
	}

	hours, err := e.store.HourlyDistribution("", "")
	if err != nil {
		return nil, err
	}
	a.PeakHours = peakHours(hours)

	urls, err := e.store.URLCounts("", "")
	if err != nil {
		return nil, err
	}
	counts := make([]float64, len(urls))
	for i, u := range urls {
		counts[i] = float64(u.Count)
	}
	a.URLDiversity = URLDiversity{
		UniqueURLs:      int64(len(urls)),
		GiniCoefficient: stats.Gini(counts),
		TopURLs:         topN(urls, topURLCount),
	}

	e.put(key, a, gen)
	return a, nil
}

// decompose runs the additive weekly decomposition over the zero-filled
// calendar. Numerical failure degrades to empty series.
func decompose(points []stats.SeriesPoint) (trend, seasonal, residual []DatedValue) {
	full := stats.Reindex(points)
	if full == nil {
		return nil, nil, nil
	}
	values := make([]float64, len(full))
	for i, p := range full {
		values[i] = p.Value
	}
	tr, se, re, err := stats.Decompose(values, seasonalPeriod)
	if err != nil {
		return nil, nil, nil
	}
	return series(full, tr), series(full, se), series(full, re)
}

func series(full []stats.SeriesPoint, values []float64) []DatedValue {
	out := make([]DatedValue, len(full))
	for i := range full {
		out[i].Date = full[i].Date
		if !math.IsNaN(values[i]) {
			v := values[i]
			out[i].Value = &v
		}
	}
	return out
}

// peakHours picks the hours with the highest totals. The input arrives in
// ascending hour order and the sort is stable, so ties resolve to the
// earlier hour.
func peakHours(rows []repository.HourCount) []int {
	sorted := append([]repository.HourCount(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Count > sorted[j].Count })
	n := peakHourCount
	if len(sorted) < n {
		n = len(sorted)
	}
	out := make([]int, 0, n)
	for _, r := range sorted[:n] {
		out = append(out, r.Hour)
	}
	return out
}

func topN(rows []repository.KeyCount, n int) []repository.KeyCount {
	if len(rows) < n {
		n = len(rows)
	}
	return append([]repository.KeyCount(nil), rows[:n]...)
}

// ComparePeriods summarizes two inclusive date ranges side by side. Empty
// ranges degrade to zero metrics.
func (e *Engine) ComparePeriods(start1, end1, start2, end2 string) (*Comparison, error) {
	key := fmt.Sprintf("compare|%s|%s|%s|%s", start1, end1, start2, end2)
	v, gen, ok := e.cached(key)
	if ok {
		return v.(*Comparison), nil
	}

	hasStatus, err := e.store.HasStatus()
	if err != nil {
		return nil, err
	}

	p1, ev1, err := e.periodMetrics(start1, end1, hasStatus)
	if err != nil {
		return nil, err
	}
	p2, ev2, err := e.periodMetrics(start2, end2, hasStatus)
	if err != nil {
		return nil, err
	}

	c := &Comparison{Period1: p1, Period2: p2, Period1Events: ev1, Period2Events: ev2}
	e.put(key, c, gen)
	return c, nil
}

func (e *Engine) periodMetrics(start, end string, hasStatus bool) (PeriodMetrics, []models.CrawlEvent, error) {
	m := PeriodMetrics{Start: start, End: end, HourlyDistribution: make([]int64, 24)}

	var err error
	if m.TotalCrawls, err = e.store.CountInRange(start, end); err != nil {
		return m, nil, err
	}
	if m.UniqueURLs, err = e.store.UniqueURLsInRange(start, end); err != nil {
		return m, nil, err
	}

	daily, err := e.store.DailyCounts(start, end)
	if err != nil {
		return m, nil, err
	}
	if len(daily) > 0 {
		var sum float64
		for _, d := range daily {
			sum += float64(d.Count)
		}
		m.AvgDailyCrawls = sum / float64(len(daily))
	}

	hours, err := e.store.HourlyDistribution(start, end)
	if err != nil {
		return m, nil, err
	}
	for _, h := range hours {
		if h.Hour >= 0 && h.Hour < 24 {
			m.HourlyDistribution[h.Hour] = h.Count
		}
	}
	m.PeakHours = peakHours(hours)

	urls, err := e.store.URLCounts(start, end)
	if err != nil {
		return m, nil, err
	}
	m.TopURLs = topN(urls, topURLCount)

	if m.DailyPattern, err = e.store.DayOfWeekDistribution(start, end); err != nil {
		return m, nil, err
	}
	if hasStatus {
		if m.StatusDistribution, err = e.store.StatusDistribution(start, end); err != nil {
			return m, nil, err
		}
	}
	if m.CrawlerDistribution, err = e.store.CrawlerDistribution(start, end); err != nil {
		return m, nil, err
	}

	// LIMIT -1 means unbounded in SQLite.
	events, _, err := e.store.Query(repository.QueryFilters{DateFrom: start, DateTo: end}, -1, 0)
	if err != nil {
		return m, nil, err
	}
	return m, events, nil
}
