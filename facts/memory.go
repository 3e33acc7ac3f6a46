package facts

import (
	"context"
	"math"
	"strings"
)

// ============================================================================
// MEMORY SCOPE: fact scope over an in-memory RecordView
// ============================================================================
// Pipeline: where (raw fields) → group → aggregate → having (aggregate aliases).
// Without selections the filtered rows pass through as a SubView.
// ============================================================================

// MemoryScope scans a RecordView.
type MemoryScope struct {
	view    RecordView
	selects []Selection
	wheres  []where
	groupBy []string
}

type where struct {
	field string
	pred  Predicate
}

// NewMemoryScope returns an undecorated scope over view.
func NewMemoryScope(view RecordView) *MemoryScope {
	return &MemoryScope{view: view}
}

// MemorySource returns a factory of fresh memory scopes over one view.
func MemorySource(view RecordView) ScopeFactory {
	return func() Scope { return NewMemoryScope(view) }
}

func (s *MemoryScope) AddSelect(sel Selection) { s.selects = append(s.selects, sel) }

func (s *MemoryScope) AddWhere(field string, p Predicate) {
	s.wheres = append(s.wheres, where{field, p})
}

func (s *MemoryScope) AddGroupBy(field string) {
	for _, f := range s.groupBy {
		if f == field {
			return
		}
	}
	s.groupBy = append(s.groupBy, field)
}

// Execute runs the scope against its view.
func (s *MemoryScope) Execute(ctx context.Context) (RecordView, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	aliases := make(map[string]bool)
	for _, sel := range s.selects {
		if sel.Aggregate != AggregateNone {
			aliases[sel.Name()] = true
		}
	}
	var raw, having []where
	for _, w := range s.wheres {
		if aliases[w.field] {
			having = append(having, w)
		} else {
			raw = append(raw, w)
		}
	}

	// 1. Where
	filtered := s.filter(raw)
	if len(aliases) == 0 && len(s.groupBy) == 0 {
		return filtered, nil
	}

	// 2. Group
	grouped := make(map[string][]int)
	var order []string
	for i := 0; i < filtered.Len(); i++ {
		key := groupKey(filtered, i, s.groupBy)
		if _, exists := grouped[key]; !exists {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], i)
	}
	if len(s.groupBy) == 0 && len(order) == 0 {
		order = []string{""}
	}

	// 3. Aggregate + having
	records := make([]Record, 0, len(order))
	for _, key := range order {
		rec := s.aggregate(NewSubView(filtered, grouped[key]))
		if matchesHaving(rec, having) {
			records = append(records, rec)
		}
	}
	return NewSliceView(records), nil
}

func (s *MemoryScope) filter(wheres []where) RecordView {
	if len(wheres) == 0 {
		return s.view
	}
	n := s.view.Len()
	indices := make([]int, 0, n)
	for i := 0; i < n; i++ {
		pass := true
		for _, w := range wheres {
			v, _ := Field(s.view, i, w.field)
			if !w.pred.MatchString(v) {
				pass = false
				break
			}
		}
		if pass {
			indices = append(indices, i)
		}
	}
	return NewSubView(s.view, indices)
}

func groupKey(view RecordView, i int, fields []string) string {
	parts := make([]string, len(fields))
	for j, f := range fields {
		parts[j], _ = Field(view, i, f)
	}
	return strings.Join(parts, "\x1f")
}

func (s *MemoryScope) aggregate(group RecordView) Record {
	rec := Record{Dimensions: make(map[string]string), Measures: make(map[string]float64)}
	for _, f := range s.groupBy {
		if group.Len() > 0 {
			rec.Dimensions[f], _ = Field(group, 0, f)
		}
	}
	for _, sel := range s.selects {
		switch sel.Aggregate {
		case AggregateSum:
			rec.Measures[sel.Name()] = sumOf(group, sel.Field)
		case AggregateMin:
			rec.Measures[sel.Name()] = extremeOf(group, sel.Field, math.Min)
		case AggregateMax:
			rec.Measures[sel.Name()] = extremeOf(group, sel.Field, math.Max)
		case AggregateCount:
			rec.Measures[sel.Name()] = float64(group.Len())
		default:
			if _, grouped := rec.Dimensions[sel.Field]; grouped || group.Len() == 0 {
				continue
			}
			if d := group.Dimension(0, sel.Field); d != "" {
				rec.Dimensions[sel.Name()] = d
			} else {
				rec.Measures[sel.Name()] = group.Measure(0, sel.Field)
			}
		}
	}
	return rec
}

func sumOf(view RecordView, field string) float64 {
	var total float64
	for i := 0; i < view.Len(); i++ {
		total += view.Measure(i, field)
	}
	return total
}

func extremeOf(view RecordView, field string, pick func(a, b float64) float64) float64 {
	if view.Len() == 0 {
		return 0
	}
	m := view.Measure(0, field)
	for i := 1; i < view.Len(); i++ {
		m = pick(m, view.Measure(i, field))
	}
	return m
}

func matchesHaving(rec Record, having []where) bool {
	for _, w := range having {
		if !w.pred.MatchNumber(rec.Measures[w.field]) {
			return false
		}
	}
	return true
}
