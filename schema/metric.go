package schema

import (
	"math"

	"github.com/spektr-org/prism/facts"
)

// Rollup names how a metric folds fact rows into one value.
type Rollup string

const (
	RollupSum    Rollup = "sum"
	RollupMin    Rollup = "min"
	RollupMax    Rollup = "max"
	RollupCount  Rollup = "count"
	RollupCustom Rollup = "custom"
)

// RollupView is what a custom rollup sees of an element: its fetched fact
// rows, sibling metric values, and its coordinate.
type RollupView interface {
	Facts() facts.RecordView
	Value(metric string) (float64, bool)
	Coordinate(levelID string) (string, bool)
}

// Metric is a named measure of one cube.
//
// Built-in rollups are pushed into the fact scope as an aggregated selection
// aliased to Name, then folded again per element. Custom rollups run on the
// element and return false when they have nothing to say, in which case
// Default (if any) is used.
type Metric struct {
	Name     string
	Label    string
	Rollup   Rollup
	Field    string
	Custom   func(RollupView) (float64, bool)
	Default  *float64
	Requires []string

	cube *Cube
}

// Float returns a pointer to v, for Metric.Default literals.
func Float(v float64) *float64 { return &v }

// ID returns "cube.metric".
func (m *Metric) ID() string {
	if m.cube == nil {
		return m.Name
	}
	return m.cube.name + "." + m.Name
}

func (m *Metric) Cube() *Cube { return m.cube }

// DisplayLabel returns Label, falling back to Name.
func (m *Metric) DisplayLabel() string {
	if m.Label != "" {
		return m.Label
	}
	return m.Name
}

// Selection returns the fact-scope selection for a built-in rollup.
func (m *Metric) Selection() (facts.Selection, bool) {
	switch m.Rollup {
	case RollupSum:
		return facts.Selection{Field: m.Field, Alias: m.Name, Aggregate: facts.AggregateSum}, true
	case RollupMin:
		return facts.Selection{Field: m.Field, Alias: m.Name, Aggregate: facts.AggregateMin}, true
	case RollupMax:
		return facts.Selection{Field: m.Field, Alias: m.Name, Aggregate: facts.AggregateMax}, true
	case RollupCount:
		return facts.Selection{Field: m.Field, Alias: m.Name, Aggregate: facts.AggregateCount}, true
	}
	return facts.Selection{}, false
}

// Fold re-aggregates pre-aggregated rows: sums of sums, min of mins, max of
// maxes, and counts are summed. False for an empty view or a custom rollup.
func (m *Metric) Fold(rows facts.RecordView) (float64, bool) {
	n := rows.Len()
	if n == 0 {
		return 0, false
	}
	switch m.Rollup {
	case RollupSum, RollupCount:
		var total float64
		for i := 0; i < n; i++ {
			total += rows.Measure(i, m.Name)
		}
		return total, true
	case RollupMin, RollupMax:
		v := rows.Measure(0, m.Name)
		for i := 1; i < n; i++ {
			if m.Rollup == RollupMin {
				v = math.Min(v, rows.Measure(i, m.Name))
			} else {
				v = math.Max(v, rows.Measure(i, m.Name))
			}
		}
		return v, true
	}
	return 0, false
}

func (m *Metric) validate() error {
	switch m.Rollup {
	case RollupSum, RollupMin, RollupMax:
		if m.Field == "" {
			return ConfigErrorf("metric %s: %s rollup needs a field", m.Name, m.Rollup)
		}
	case RollupCount:
	case RollupCustom:
		if m.Custom == nil {
			return ConfigErrorf("metric %s: custom rollup needs a function", m.Name)
		}
	default:
		return ConfigErrorf("metric %s: unknown rollup %q", m.Name, m.Rollup)
	}
	return nil
}
