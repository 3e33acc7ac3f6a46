package engine

import (
	"context"

	"github.com/spektr-org/prism/schema"
)

// ============================================================================
// TABLE BUILDER: Produces TableData from a QueryContext
// ============================================================================
// One column per grain level, then one per selected metric. Rows are the
// context's elements; metric cells use Fetch, so declared defaults fill in
// for cubes that have nothing at a coordinate. The summary is the grand
// total: the context located at the empty coordinate.
// ============================================================================

// TableOptions configures BuildTable.
type TableOptions struct {
	Title string
	// Metrics limits and orders the metric columns. Empty means every
	// selected metric.
	Metrics []string
}

// BuildTable renders qc as a table.
func BuildTable(ctx context.Context, qc *QueryContext, opts TableOptions) (*TableData, error) {
	metrics, err := tableMetrics(qc, opts.Metrics)
	if err != nil {
		return nil, err
	}
	levels := qc.Grain().Levels()

	columns := make([]Column, 0, len(levels)+len(metrics))
	for _, l := range levels {
		columns = append(columns, Column{Key: l.ID(), Label: levelLabel(l), Type: "text", Align: "left"})
	}
	metricIDs := make([]string, len(metrics))
	for i, m := range metrics {
		metricIDs[i] = m.ID()
		columns = append(columns, Column{Key: m.ID(), Label: metricLabel(m), Type: "number", Align: "right"})
	}

	rows, err := qc.Elements(ctx, nil, metricIDs)
	if err != nil {
		return nil, err
	}
	table := &TableData{
		Title:   opts.Title,
		Columns: columns,
		Rows:    make([][]string, 0, len(rows)),
	}
	for _, r := range rows {
		cells := make([]string, 0, len(columns))
		for _, l := range levels {
			v, _ := r.Get(l.ID())
			s, _ := v.(string)
			cells = append(cells, s)
		}
		cells = append(cells, metricCells(r, metrics)...)
		table.Rows = append(table.Rows, cells)
	}

	total, ok, err := qc.Locate(ctx, nil, nil)
	if err != nil {
		return nil, err
	}
	if ok {
		table.Summary = &Summary{Label: "Total", Values: make(map[string]string, len(metrics))}
		for i, cell := range metricCells(total, metrics) {
			table.Summary.Values[metrics[i].ID()] = cell
		}
	}
	return table, nil
}

func metricCells(r Row, metrics []*schema.Metric) []string {
	out := make([]string, len(metrics))
	for i, m := range metrics {
		if v, ok := r.Fetch(m.ID()); ok {
			out[i] = FormatNumber(v)
		}
	}
	return out
}

func tableMetrics(qc *QueryContext, ids []string) ([]*schema.Metric, error) {
	if len(ids) == 0 {
		return qc.Metrics(), nil
	}
	out := make([]*schema.Metric, 0, len(ids))
	for _, id := range ids {
		m := qc.metric(id)
		if m == nil {
			return nil, queryErrorf("metric %s is not selected by this query", id)
		}
		out = append(out, m)
	}
	return out, nil
}

func levelLabel(l *schema.LevelDefinition) string {
	if l.Label() == l.Name() {
		return LabelFor(l.Name())
	}
	return l.Label()
}

func metricLabel(m *schema.Metric) string {
	if m.Label == "" {
		return LabelFor(m.Name)
	}
	return m.Label
}
