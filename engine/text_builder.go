package engine

import "context"

// BuildText answers a single metric at the grand total of qc.
func BuildText(ctx context.Context, qc *QueryContext, metric string) (*TextData, error) {
	metrics, err := tableMetrics(qc, []string{metric})
	if err != nil {
		return nil, err
	}
	m := metrics[0]
	rows, err := qc.Elements(ctx, nil, []string{m.ID()})
	if err != nil {
		return nil, err
	}

	text := &TextData{Metric: m.ID(), Label: metricLabel(m), Value: "No data", Count: len(rows)}
	total, ok, err := qc.Locate(ctx, nil, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return text, nil
	}
	if v, ok := total.Fetch(m.ID()); ok {
		text.Value = FormatNumber(v)
		text.RawValue = v
		text.Present = true
	}
	return text, nil
}
