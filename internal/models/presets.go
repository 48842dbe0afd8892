package models

// Preset is a named bundle of charts the dashboard can render together.
// The catalog is a constant lookup table created at process start.
type Preset struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Charts      []string `json:"charts"`
}

// Chart identifiers the presentation layer understands.
const (
	ChartDailyCrawls     = "daily_crawls"
	ChartMonthlyCrawls   = "monthly_crawls"
	ChartHeatmap         = "heatmap"
	ChartDecomposition   = "time_series_decomposition"
	ChartURLDistribution = "url_distribution"
)

var presets = []Preset{
	{
		Key:         "overview",
		Name:        "Crawl Overview",
		Description: "Daily and monthly crawl frequency at a glance.",
		Charts:      []string{ChartDailyCrawls, ChartMonthlyCrawls},
	},
	{
		Key:         "temporal",
		Name:        "Temporal Patterns",
		Description: "When the crawler visits: hour/day heat map and trend decomposition.",
		Charts:      []string{ChartHeatmap, ChartDecomposition},
	},
	{
		Key:         "url_focus",
		Name:        "URL Focus",
		Description: "Which URLs attract the crawler and how concentrated the attention is.",
		Charts:      []string{ChartURLDistribution, ChartDailyCrawls},
	},
	{
		Key:         "full_report",
		Name:        "Full Report",
		Description: "Every chart in one pass.",
		Charts: []string{
			ChartDailyCrawls, ChartMonthlyCrawls, ChartHeatmap,
			ChartDecomposition, ChartURLDistribution,
		},
	},
}

// Presets returns the catalog in display order.
func Presets() []Preset {
	return presets
}

// PresetByKey looks a preset up by its key.
func PresetByKey(key string) (Preset, bool) {
	for _, p := range presets {
		if p.Key == key {
			return p, true
		}
	}
	return Preset{}, false
}
