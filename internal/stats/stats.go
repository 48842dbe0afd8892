// Package stats implements the numeric half of the aggregation engine:
// descriptive statistics over per-day count series, additive seasonal-trend
// decomposition, and the Gini coefficient over per-url counts.
package stats

import (
	"errors"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Basic holds the descriptive statistics of a daily count series.
type Basic struct {
	Mean     float64 `json:"mean_daily_crawls"`
	Median   float64 `json:"median_daily_crawls"`
	StdDev   float64 `json:"std_daily_crawls"`
	Skewness float64 `json:"skewness"`
	Kurtosis float64 `json:"kurtosis"`
}

// Describe computes mean, median, unbiased sample standard deviation,
// skewness and excess kurtosis. An empty input yields the zero value.
func Describe(values []float64) Basic {
	if len(values) == 0 {
		return Basic{}
	}
	b := Basic{
		Mean:   stat.Mean(values, nil),
		Median: median(values),
	}
	if len(values) > 1 {
		b.StdDev = stat.StdDev(values, nil)
		b.Skewness = stat.Skew(values, nil)
		b.Kurtosis = stat.ExKurtosis(values, nil)
	}
	if math.IsNaN(b.Skewness) || math.IsInf(b.Skewness, 0) {
		b.Skewness = 0
	}
	if math.IsNaN(b.Kurtosis) || math.IsInf(b.Kurtosis, 0) {
		b.Kurtosis = 0
	}
	return b
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// giniEpsilon keeps the denominator non-zero on all-zero inputs.
const giniEpsilon = 1e-7

// Gini computes the discrete Gini coefficient over non-negative counts:
// values are shifted to be non-negative, nudged by a small epsilon, sorted
// ascending, then folded as sum((2*rank - n - 1)*x) / (n * sum(x)) with
// 1-based ranks. 0 means a perfectly uniform distribution; values near 1
// mean concentration on few urls.
func Gini(counts []float64) float64 {
	n := len(counts)
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), counts...)
	if min := floats.Min(sorted); min < 0 {
		for i := range sorted {
			sorted[i] -= min
		}
	}
	for i := range sorted {
		sorted[i] += giniEpsilon
	}
	sort.Float64s(sorted)

	var num float64
	for i, v := range sorted {
		rank := float64(i + 1)
		num += (2*rank - float64(n) - 1) * v
	}
	return num / (float64(n) * floats.Sum(sorted))
}

// SeriesPoint is one dated value of a decomposition series.
type SeriesPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// Reindex expands a sparse per-day series to the complete daily calendar
// between its first and last date, filling missing days with 0. Input must
// be sorted ascending by date; unparseable dates yield a nil result.
func Reindex(points []SeriesPoint) []SeriesPoint {
	if len(points) == 0 {
		return nil
	}
	first, err1 := time.Parse("2006-01-02", points[0].Date)
	last, err2 := time.Parse("2006-01-02", points[len(points)-1].Date)
	if err1 != nil || err2 != nil || last.Before(first) {
		return nil
	}
	byDate := make(map[string]float64, len(points))
	for _, p := range points {
		byDate[p.Date] = p.Value
	}
	var out []SeriesPoint
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		key := d.Format("2006-01-02")
		out = append(out, SeriesPoint{Date: key, Value: byDate[key]})
	}
	return out
}

var errSeriesTooShort = errors.New("series shorter than two seasonal periods")

// Decompose performs an additive seasonal-trend decomposition of a complete
// (gap-free) daily series with the given period. The trend is a centered
// moving average, undefined (NaN) for the first and last period/2 points;
// the seasonal component is the zero-centered per-position mean of the
// detrended series; the residual is what remains. All three outputs are
// length-matched to the input.
func Decompose(values []float64, period int) (trend, seasonal, residual []float64, err error) {
	n := len(values)
	if period < 2 || n < 2*period {
		return nil, nil, nil, errSeriesTooShort
	}

	half := period / 2
	trend = make([]float64, n)
	for i := range trend {
		if i < half || i >= n-half {
			trend[i] = math.NaN()
			continue
		}
		trend[i] = stat.Mean(values[i-half:i+half+1], nil)
	}

	// Per-position means of the detrended series. Positions are phase
	// offsets into the period; a gap-free daily series keeps them aligned
	// to weekdays for period 7.
	sums := make([]float64, period)
	counts := make([]float64, period)
	for i, v := range values {
		if math.IsNaN(trend[i]) {
			continue
		}
		sums[i%period] += v - trend[i]
		counts[i%period]++
	}
	means := make([]float64, period)
	for j := range means {
		if counts[j] == 0 {
			return nil, nil, nil, errSeriesTooShort
		}
		means[j] = sums[j] / counts[j]
	}
	// Center so the seasonal component sums to zero over one period.
	offset := stat.Mean(means, nil)
	for j := range means {
		means[j] -= offset
	}

	seasonal = make([]float64, n)
	residual = make([]float64, n)
	for i, v := range values {
		seasonal[i] = means[i%period]
		residual[i] = v - trend[i] - seasonal[i]
	}
	return trend, seasonal, residual, nil
}
