package engine

import (
	"context"

	"github.com/spektr-org/prism/facts"
	"github.com/spektr-org/prism/schema"
)

// Row is a result row: a real Element or a VirtualElement.
type Row interface {
	Coordinates() *Coordinates
	// Get returns a coordinate value (string) or a metric value (float64).
	Get(key string) (any, bool)
	// Value returns a metric's rolled-up value; false when absent.
	Value(metric string) (float64, bool)
	// Fetch is Value falling back to the metric's declared default.
	Fetch(metric string) (float64, bool)
	// Locate re-addresses the row. The receiver is unchanged; false means
	// nothing matches the new coordinate.
	Locate(ctx context.Context, patch map[string]string, reset []string) (Row, bool, error)
	Null() bool
}

type metricValue struct {
	v  float64
	ok bool
}

// Element is the group of one sub-cube's facts sharing a coordinate.
// Metrics roll up lazily and are memoized.
type Element struct {
	sub       *SubCube
	coords    *Coordinates
	indices   []int
	facts     facts.RecordView
	values    map[*schema.Metric]metricValue
	computing map[*schema.Metric]bool
}

func newElement(sub *SubCube, coords *Coordinates, indices []int) *Element {
	return &Element{
		sub:       sub,
		coords:    coords,
		indices:   indices,
		facts:     facts.NewSubView(sub.rows, indices),
		values:    make(map[*schema.Metric]metricValue),
		computing: make(map[*schema.Metric]bool),
	}
}

func (e *Element) Coordinates() *Coordinates { return e.coords }
func (e *Element) SubCube() *SubCube         { return e.sub }
func (e *Element) Facts() facts.RecordView   { return e.facts }
func (e *Element) Null() bool                { return false }

// Value rolls a selected metric of this element's cube up. Custom rollups
// that report nothing fall back to the metric default, if declared.
func (e *Element) Value(metric string) (float64, bool) {
	id, err := schema.ParseID(metric)
	if err != nil {
		return 0, false
	}
	m := e.sub.metric(id)
	if m == nil {
		return 0, false
	}
	return e.rollup(m)
}

func (e *Element) rollup(m *schema.Metric) (float64, bool) {
	if mv, ok := e.values[m]; ok {
		return mv.v, mv.ok
	}
	if e.computing[m] {
		return 0, false
	}
	e.computing[m] = true
	defer delete(e.computing, m)

	var mv metricValue
	if m.Rollup == schema.RollupCustom {
		mv.v, mv.ok = m.Custom(e)
		if !mv.ok && m.Default != nil {
			mv.v, mv.ok = *m.Default, true
		}
	} else {
		mv.v, mv.ok = m.Fold(e.facts)
	}
	e.values[m] = mv
	return mv.v, mv.ok
}

func (e *Element) Fetch(metric string) (float64, bool) {
	if v, ok := e.Value(metric); ok {
		return v, true
	}
	return defaultOf(e.sub.metricByID(metric))
}

// Coordinate returns the value at a level of the sub-cube's grain closure,
// pinned or derived from the element's facts.
func (e *Element) Coordinate(levelID string) (string, bool) {
	if v, ok := e.coords.Get(levelID); ok {
		return v, true
	}
	id, err := schema.ParseID(levelID)
	if err != nil || len(e.indices) == 0 {
		return "", false
	}
	level, err := e.sub.space.grain.resolve(id)
	if err != nil || !e.sub.grain.Supports(level) || !e.determines(level) {
		return "", false
	}
	col, ok := e.sub.columns[level]
	if !ok {
		return "", false
	}
	v := col[e.indices[0]]
	return v, v != ""
}

// determines reports whether a pinned level fixes the value at level: only
// ancestors of a pinned level have one value across the element.
func (e *Element) determines(level *schema.LevelDefinition) bool {
	for _, p := range e.coords.Levels() {
		if level == p || level.IsAncestorOf(p) {
			return true
		}
	}
	return false
}

func (e *Element) Get(key string) (any, bool) {
	if v, ok := e.Coordinate(key); ok {
		return v, true
	}
	if v, ok := e.Value(key); ok {
		return v, true
	}
	return nil, false
}

// Locate re-addresses the element within its own sub-cube.
func (e *Element) Locate(ctx context.Context, patch map[string]string, reset []string) (Row, bool, error) {
	coords, err := e.coords.Locate(patch, reset)
	if err != nil {
		return nil, false, err
	}
	el, ok, err := e.sub.locate(ctx, coords)
	if err != nil || !ok {
		return nil, false, err
	}
	return el, true, nil
}

func (s *SubCube) metricByID(metric string) *schema.Metric {
	id, err := schema.ParseID(metric)
	if err != nil {
		return nil
	}
	return s.metric(id)
}

func defaultOf(m *schema.Metric) (float64, bool) {
	if m == nil || m.Default == nil {
		return 0, false
	}
	return *m.Default, true
}
