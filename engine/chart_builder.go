package engine

import (
	"context"
	"slices"

	"github.com/spektr-org/prism/schema"
)

// ============================================================================
// CHART BUILDER: Produces ChartConfig from a QueryContext
// ============================================================================
// The first grain level is the x axis. With one metric and a second grain
// level, every value of that level becomes a series; otherwise every metric
// is a series.
// ============================================================================

// Default color palette for chart series.
var defaultColors = []string{
	"#4F46E5", "#10B981", "#F59E0B", "#EF4444", "#8B5CF6",
	"#06B6D4", "#EC4899", "#84CC16", "#F97316", "#6366F1",
}

// ChartOptions configures BuildChart.
type ChartOptions struct {
	Title   string
	Type    string // "bar" when empty
	Metrics []string
}

// BuildChart renders qc as a chart. A context without a grain has nothing
// to plot and yields nil.
func BuildChart(ctx context.Context, qc *QueryContext, opts ChartOptions) (*ChartConfig, error) {
	levels := qc.Grain().Levels()
	if len(levels) == 0 {
		return nil, nil
	}
	metrics, err := tableMetrics(qc, opts.Metrics)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(metrics))
	for i, m := range metrics {
		ids[i] = m.ID()
	}
	rows, err := qc.Elements(ctx, nil, ids)
	if err != nil {
		return nil, err
	}

	chartType := opts.Type
	if chartType == "" {
		chartType = "bar"
	}
	config := &ChartConfig{
		ChartType:  chartType,
		Title:      opts.Title,
		XAxis:      levelLabel(levels[0]),
		ShowLegend: true,
		ShowGrid:   chartType != "pie",
	}
	if len(metrics) == 1 {
		config.YAxis = metricLabel(metrics[0])
	}

	if len(metrics) == 1 && len(levels) >= 2 {
		config.Series = splitSeries(rows, levels[0], levels[1], metrics[0])
	} else {
		config.Series = metricSeries(rows, levels[0], metrics)
	}
	config.Colors = assignColors(len(config.Series))
	return config, nil
}

func metricSeries(rows []Row, x *schema.LevelDefinition, metrics []*schema.Metric) []ChartSeries {
	series := make([]ChartSeries, len(metrics))
	for i, m := range metrics {
		series[i] = ChartSeries{Name: metricLabel(m), Color: defaultColors[i%len(defaultColors)]}
		for _, r := range rows {
			v, _ := r.Fetch(m.ID())
			series[i].Data = append(series[i].Data, ChartPoint{Label: coordinateOf(r, x), Value: RoundTo2(v)})
		}
	}
	return series
}

// splitSeries pivots the second level into series; every series carries a
// point for every x label, zero where the coordinate has no row.
func splitSeries(rows []Row, x, split *schema.LevelDefinition, m *schema.Metric) []ChartSeries {
	var labels, keys []string
	values := make(map[string]map[string]float64)
	for _, r := range rows {
		label, key := coordinateOf(r, x), coordinateOf(r, split)
		if !slices.Contains(labels, label) {
			labels = append(labels, label)
		}
		if _, ok := values[key]; !ok {
			keys = append(keys, key)
			values[key] = make(map[string]float64)
		}
		v, _ := r.Fetch(m.ID())
		values[key][label] += v
	}

	series := make([]ChartSeries, 0, len(keys))
	for i, key := range keys {
		s := ChartSeries{Name: key, Color: defaultColors[i%len(defaultColors)]}
		for _, label := range labels {
			s.Data = append(s.Data, ChartPoint{Label: label, Value: RoundTo2(values[key][label])})
		}
		series = append(series, s)
	}
	return series
}

func coordinateOf(r Row, l *schema.LevelDefinition) string {
	v, _ := r.Get(l.ID())
	s, _ := v.(string)
	return s
}

func assignColors(count int) []string {
	colors := make([]string, count)
	for i := 0; i < count; i++ {
		colors[i] = defaultColors[i%len(defaultColors)]
	}
	return colors
}
