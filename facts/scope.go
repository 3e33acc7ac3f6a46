package facts

import (
	"context"
	"slices"
	"strconv"
	"strings"
)

// ============================================================================
// FACT SCOPE: the fact-retrieval contract
// ============================================================================
// A Scope is decorated with select / where / group-by clauses and executed
// once. The engine never looks at how it executes: memory scan, SQL, or
// anything else that can produce a RecordView.
// ============================================================================

// Scope is a decoratable, executable fact query.
type Scope interface {
	AddSelect(sel Selection)
	AddWhere(field string, p Predicate)
	AddGroupBy(field string)
	Execute(ctx context.Context) (RecordView, error)
}

// ScopeFactory yields a fresh, undecorated Scope. Every level scope and
// sub-cube decorates its own instance.
type ScopeFactory func() Scope

// Aggregate names the aggregation applied to a selected field.
type Aggregate string

const (
	AggregateNone  Aggregate = ""
	AggregateSum   Aggregate = "sum"
	AggregateMin   Aggregate = "min"
	AggregateMax   Aggregate = "max"
	AggregateCount Aggregate = "count"
)

// Selection is one selected column. Alias defaults to Field.
type Selection struct {
	Field     string
	Alias     string
	Aggregate Aggregate
}

// Name returns the column name the selection is exposed under.
func (s Selection) Name() string {
	if s.Alias != "" {
		return s.Alias
	}
	return s.Field
}

// ── Predicates ──────────────────────────────────────────────

// Op is a predicate operator.
type Op string

const (
	OpIn    Op = "in"
	OpNotIn Op = "not_in"
	OpGt    Op = "gt"
	OpGte   Op = "gte"
	OpLt    Op = "lt"
	OpLte   Op = "lte"
)

// Predicate is a single where condition: a value set for dimensional
// operators, or one numeric bound for comparisons.
type Predicate struct {
	Op     Op
	Values []string
	Bound  float64
}

// With matches any of values.
func With(values ...string) Predicate { return Predicate{Op: OpIn, Values: values} }

// Without matches none of values.
func Without(values ...string) Predicate { return Predicate{Op: OpNotIn, Values: values} }

func Gt(v float64) Predicate  { return Predicate{Op: OpGt, Bound: v} }
func Gte(v float64) Predicate { return Predicate{Op: OpGte, Bound: v} }
func Lt(v float64) Predicate  { return Predicate{Op: OpLt, Bound: v} }
func Lte(v float64) Predicate { return Predicate{Op: OpLte, Bound: v} }

// IsDimensional reports whether p is a value-set predicate.
func (p Predicate) IsDimensional() bool { return p.Op == OpIn || p.Op == OpNotIn }

// MatchString tests a field value. Comparison predicates parse v as a number
// and never match when it is not one.
func (p Predicate) MatchString(v string) bool {
	switch p.Op {
	case OpIn:
		return slices.Contains(p.Values, v)
	case OpNotIn:
		return !slices.Contains(p.Values, v)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return false
	}
	return p.MatchNumber(f)
}

// MatchNumber tests a numeric field value.
func (p Predicate) MatchNumber(v float64) bool {
	switch p.Op {
	case OpGt:
		return v > p.Bound
	case OpGte:
		return v >= p.Bound
	case OpLt:
		return v < p.Bound
	case OpLte:
		return v <= p.Bound
	}
	return p.MatchString(strconv.FormatFloat(v, 'f', -1, 64))
}

func (p Predicate) String() string {
	if p.IsDimensional() {
		return string(p.Op) + " (" + strings.Join(p.Values, ", ") + ")"
	}
	return string(p.Op) + " " + strconv.FormatFloat(p.Bound, 'f', -1, 64)
}
