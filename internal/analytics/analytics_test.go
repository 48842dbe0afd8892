package analytics_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crawlytics/crawlytics/internal/analytics"
	"github.com/crawlytics/crawlytics/internal/models"
	"github.com/crawlytics/crawlytics/internal/repository"
)

func event(url, date string, hour, status int) models.CrawlEvent {
	d, _ := time.Parse("2006-01-02", date)
	e := models.CrawlEvent{
		URL:  url,
		Date: d,
		Time: fmt.Sprintf("%02d:00:00", hour),
		Hour: hour,
	}
	if status > 0 {
		e.Status = status
		e.HasStatus = true
		e.UserAgent = "Googlebot/2.1"
	}
	e.Derive()
	return e
}

func setup(t *testing.T, events []models.CrawlEvent) (*analytics.Engine, *repository.SQLiteStore) {
	t.Helper()
	store, err := repository.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.InsertBatch(events))
	return analytics.NewEngine(store), store
}

// day n of a run starting 2023-10-01.
func day(n int) string {
	return time.Date(2023, 10, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n).Format("2006-01-02")
}

func TestStatisticalAnalysisBelowDecompositionThreshold(t *testing.T) {
	var events []models.CrawlEvent
	for i := 0; i < 13; i++ {
		events = append(events, event("/a", day(i), 8, 200))
	}
	engine, _ := setup(t, events)

	a, err := engine.StatisticalAnalysis()
	require.NoError(t, err)
	assert.Empty(t, a.Trend)
	assert.Empty(t, a.Seasonal)
	assert.Empty(t, a.Residual)
	assert.InDelta(t, 1.0, a.BasicStats.Mean, 1e-9)
}

func TestStatisticalAnalysis(t *testing.T) {
	var events []models.CrawlEvent
	for i := 0; i < 21; i++ {
		// Count per day varies 1..3; hours concentrate on 8 and 14.
		events = append(events, event("/home", day(i), 8, 200))
		if i%2 == 0 {
			events = append(events, event("/products", day(i), 14, 200))
		}
		if i%3 == 0 {
			events = append(events, event("/blog", day(i), 14, 404))
		}
	}
	engine, _ := setup(t, events)

	a, err := engine.StatisticalAnalysis()
	require.NoError(t, err)

	t.Run("decomposition series are length-matched to the calendar", func(t *testing.T) {
		require.Len(t, a.Trend, 21)
		require.Len(t, a.Seasonal, 21)
		require.Len(t, a.Residual, 21)
		assert.Nil(t, a.Trend[0].Value, "centered average has no left edge")
		require.NotNil(t, a.Trend[10].Value)
		assert.Equal(t, day(10), a.Trend[10].Date)
	})

	t.Run("peak hours", func(t *testing.T) {
		// hour 8: 21 events, hour 14: 11+7=18 events. Only two hours exist.
		assert.Equal(t, []int{8, 14}, a.PeakHours)
	})

	t.Run("url diversity", func(t *testing.T) {
		assert.EqualValues(t, 3, a.URLDiversity.UniqueURLs)
		require.Len(t, a.URLDiversity.TopURLs, 3)
		assert.Equal(t, "/home", a.URLDiversity.TopURLs[0].Key)
		assert.Greater(t, a.URLDiversity.GiniCoefficient, 0.0)
		assert.Less(t, a.URLDiversity.GiniCoefficient, 1.0)
	})
}

func TestPeakHourTieBreak(t *testing.T) {
	engine, _ := setup(t, []models.CrawlEvent{
		event("/a", day(0), 23, 200),
		event("/b", day(0), 5, 200),
		event("/c", day(0), 11, 200),
		event("/d", day(0), 11, 200),
	})
	a, err := engine.StatisticalAnalysis()
	require.NoError(t, err)
	// 11 has two events; the 23/5 tie resolves to the earlier hour first.
	assert.Equal(t, []int{11, 5, 23}, a.PeakHours)
}

func TestComparePeriods(t *testing.T) {
	var events []models.CrawlEvent
	for i := 0; i < 10; i++ {
		events = append(events, event("/a", day(i), 9, 200))
	}
	for i := 10; i < 20; i++ {
		events = append(events, event("/a", day(i), 15, 200))
		events = append(events, event("/b", day(i), 15, 301))
	}
	engine, store := setup(t, events)

	c, err := engine.ComparePeriods(day(0), day(9), day(10), day(19))
	require.NoError(t, err)

	t.Run("disjoint ranges partition the rows", func(t *testing.T) {
		inEither, err := store.CountInRange(day(0), day(19))
		require.NoError(t, err)
		assert.Equal(t, inEither, c.Period1.TotalCrawls+c.Period2.TotalCrawls)
		assert.Len(t, c.Period1Events, 10)
		assert.Len(t, c.Period2Events, 20)
	})

	t.Run("per-period metrics", func(t *testing.T) {
		assert.EqualValues(t, 10, c.Period1.TotalCrawls)
		assert.EqualValues(t, 1, c.Period1.UniqueURLs)
		assert.InDelta(t, 1.0, c.Period1.AvgDailyCrawls, 1e-9)
		assert.Equal(t, []int{9}, c.Period1.PeakHours)
		assert.EqualValues(t, 10, c.Period1.HourlyDistribution[9])
		assert.EqualValues(t, 0, c.Period1.HourlyDistribution[15])

		assert.EqualValues(t, 20, c.Period2.TotalCrawls)
		assert.EqualValues(t, 2, c.Period2.UniqueURLs)
		assert.InDelta(t, 2.0, c.Period2.AvgDailyCrawls, 1e-9)
		require.NotEmpty(t, c.Period2.TopURLs)
		assert.Equal(t, "/a", c.Period2.TopURLs[0].Key)
		require.NotEmpty(t, c.Period2.StatusDistribution)
	})

	t.Run("empty range degrades to zeros", func(t *testing.T) {
		c, err := engine.ComparePeriods("2020-01-01", "2020-01-31", day(0), day(9))
		require.NoError(t, err)
		assert.Zero(t, c.Period1.TotalCrawls)
		assert.Zero(t, c.Period1.AvgDailyCrawls)
		assert.Empty(t, c.Period1.PeakHours)
		assert.Empty(t, c.Period1Events)
	})
}

func TestCacheInvalidation(t *testing.T) {
	engine, store := setup(t, []models.CrawlEvent{event("/a", day(0), 9, 200)})

	a1, err := engine.StatisticalAnalysis()
	require.NoError(t, err)
	assert.EqualValues(t, 1, a1.URLDiversity.UniqueURLs)

	a2, err := engine.StatisticalAnalysis()
	require.NoError(t, err)
	assert.Same(t, a1, a2, "same generation must hit the cache")

	require.NoError(t, store.InsertBatch([]models.CrawlEvent{event("/b", day(1), 9, 200)}))

	a3, err := engine.StatisticalAnalysis()
	require.NoError(t, err)
	assert.NotSame(t, a1, a3)
	assert.EqualValues(t, 2, a3.URLDiversity.UniqueURLs)
}

// midComputeStore mutates the underlying table once, after the first
// URLCounts read, emulating an insert that lands while an analysis is
// being computed.
type midComputeStore struct {
	repository.EventStore
	extra models.CrawlEvent
	once  sync.Once
}

func (s *midComputeStore) URLCounts(start, end string) ([]repository.KeyCount, error) {
	rows, err := s.EventStore.URLCounts(start, end)
	s.once.Do(func() {
		if err == nil {
			err = s.EventStore.InsertBatch([]models.CrawlEvent{s.extra})
		}
	})
	return rows, err
}

func TestCacheDiscardsResultComputedAcrossMutation(t *testing.T) {
	store, err := repository.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.InsertBatch([]models.CrawlEvent{event("/a", day(0), 9, 200)}))

	wrapped := &midComputeStore{EventStore: store, extra: event("/b", day(1), 9, 200)}
	engine := analytics.NewEngine(wrapped)

	a1, err := engine.StatisticalAnalysis()
	require.NoError(t, err)
	assert.EqualValues(t, 1, a1.URLDiversity.UniqueURLs, "first analysis predates the insert")

	// The insert bumped the generation mid-compute, so a1 must not have
	// been cached; the next call recomputes over both rows.
	a2, err := engine.StatisticalAnalysis()
	require.NoError(t, err)
	assert.NotSame(t, a1, a2)
	assert.EqualValues(t, 2, a2.URLDiversity.UniqueURLs)
}
