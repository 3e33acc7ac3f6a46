package schema

import (
	"github.com/spektr-org/prism/facts"
)

// ============================================================================
// LEVELS: one rank of a dimension hierarchy
// ============================================================================
// A dimension is an ordered list of levels, coarse → fine. A level's ordinal
// is its position, so a larger ordinal is a finer grain.
//
//   QueryLevel       has its own fact scope; records are keyed by Key.
//   DegenerateLevel  has no source; its value is the Key field on the
//                    records of the nearest finer query level.
// ============================================================================

// LevelKind distinguishes query levels from degenerate levels.
type LevelKind int

const (
	QueryLevel LevelKind = iota
	DegenerateLevel
)

func (k LevelKind) String() string {
	if k == DegenerateLevel {
		return "degenerate"
	}
	return "query"
}

// Level is the read interface shared by level definitions and the
// per-cube associations that bind them.
type Level interface {
	ID() string
	Name() string
	DimensionName() string
	Ordinal() int
	Key() string
	Kind() LevelKind
	Definition() *LevelDefinition
}

// LevelDefinition is a node in a dimension's hierarchy. Immutable once its
// dimension is registered.
type LevelDefinition struct {
	name      string
	label     string
	key       string
	kind      LevelKind
	source    facts.ScopeFactory
	dimension *Dimension
	ordinal   int
}

// NewQueryLevel declares a level backed by its own source, keyed by key.
func NewQueryLevel(name, key string, source facts.ScopeFactory) *LevelDefinition {
	return &LevelDefinition{name: name, key: key, kind: QueryLevel, source: source}
}

// NewDegenerateLevel declares a level whose values live in the key field of
// a finer level's records.
func NewDegenerateLevel(name, key string) *LevelDefinition {
	return &LevelDefinition{name: name, key: key, kind: DegenerateLevel}
}

// WithLabel sets the display label and returns the level.
func (l *LevelDefinition) WithLabel(label string) *LevelDefinition {
	l.label = label
	return l
}

func (l *LevelDefinition) ID() string                   { return l.DimensionName() + "." + l.name }
func (l *LevelDefinition) Name() string                 { return l.name }
func (l *LevelDefinition) Ordinal() int                 { return l.ordinal }
func (l *LevelDefinition) Key() string                  { return l.key }
func (l *LevelDefinition) Kind() LevelKind              { return l.kind }
func (l *LevelDefinition) Definition() *LevelDefinition { return l }
func (l *LevelDefinition) Source() facts.ScopeFactory   { return l.source }
func (l *LevelDefinition) Dimension() *Dimension        { return l.dimension }

func (l *LevelDefinition) DimensionName() string {
	if l.dimension == nil {
		return ""
	}
	return l.dimension.name
}

// Label returns the display label, falling back to the name.
func (l *LevelDefinition) Label() string {
	if l.label != "" {
		return l.label
	}
	return l.name
}

// Parent returns the next coarser level, or nil at the root.
func (l *LevelDefinition) Parent() *LevelDefinition {
	if l.dimension == nil || l.ordinal == 0 {
		return nil
	}
	return l.dimension.levels[l.ordinal-1]
}

// Children returns the finer levels directly under l.
func (l *LevelDefinition) Children() []*LevelDefinition {
	if l.dimension == nil || l.ordinal+1 >= len(l.dimension.levels) {
		return nil
	}
	return []*LevelDefinition{l.dimension.levels[l.ordinal+1]}
}

// SelfAndAncestors returns l followed by every coarser level, finest first.
func (l *LevelDefinition) SelfAndAncestors() []*LevelDefinition {
	out := []*LevelDefinition{l}
	for p := l.Parent(); p != nil; p = p.Parent() {
		out = append(out, p)
	}
	return out
}

// SelfAndDescendants returns l followed by every finer level, nearest first.
func (l *LevelDefinition) SelfAndDescendants() []*LevelDefinition {
	out := []*LevelDefinition{l}
	if l.dimension == nil {
		return out
	}
	return append(out, l.dimension.levels[l.ordinal+1:]...)
}

// IsAncestorOf reports whether l is strictly coarser than other in the same dimension.
func (l *LevelDefinition) IsAncestorOf(other *LevelDefinition) bool {
	return l.dimension != nil && l.dimension == other.dimension && l.ordinal < other.ordinal
}

// QueryLevelBelow returns the nearest strictly finer query level.
func (l *LevelDefinition) QueryLevelBelow() *LevelDefinition {
	for _, d := range l.SelfAndDescendants()[1:] {
		if d.kind == QueryLevel {
			return d
		}
	}
	return nil
}

// QueryLevelAbove returns the nearest strictly coarser query level.
func (l *LevelDefinition) QueryLevelAbove() *LevelDefinition {
	for _, a := range l.SelfAndAncestors()[1:] {
		if a.kind == QueryLevel {
			return a
		}
	}
	return nil
}

// RecordLevel returns the query level whose records hold l's values: l
// itself for a query level, the query level below for a degenerate one.
func (l *LevelDefinition) RecordLevel() *LevelDefinition {
	if l.kind == QueryLevel {
		return l
	}
	return l.QueryLevelBelow()
}

func (l *LevelDefinition) String() string { return l.ID() }

// ============================================================================
// DIMENSION
// ============================================================================

// Dimension is a linear hierarchy of levels, coarse → fine.
type Dimension struct {
	name   string
	levels []*LevelDefinition
	byName map[string]*LevelDefinition
}

// NewDimension registers levels, coarse → fine, under name.
func NewDimension(name string, levels ...*LevelDefinition) (*Dimension, error) {
	if name == "" {
		return nil, ConfigErrorf("dimension name is required")
	}
	if len(levels) == 0 {
		return nil, ConfigErrorf("dimension %s has no levels", name)
	}
	d := &Dimension{name: name, byName: make(map[string]*LevelDefinition, len(levels))}
	for i, l := range levels {
		switch {
		case l == nil || l.name == "":
			return nil, ConfigErrorf("dimension %s: level %d has no name", name, i)
		case l.dimension != nil:
			return nil, ConfigErrorf("level %s already belongs to dimension %s", l.name, l.dimension.name)
		case d.byName[l.name] != nil:
			return nil, ConfigErrorf("dimension %s: duplicate level %s", name, l.name)
		case l.key == "":
			return nil, ConfigErrorf("level %s.%s has no key", name, l.name)
		case l.kind == QueryLevel && l.source == nil:
			return nil, ConfigErrorf("query level %s.%s has no source", name, l.name)
		}
		d.byName[l.name] = l
	}
	for i, l := range levels {
		l.dimension = d
		l.ordinal = i
	}
	d.levels = levels
	return d, nil
}

func (d *Dimension) Name() string { return d.name }

// Levels returns the levels, coarse → fine.
func (d *Dimension) Levels() []*LevelDefinition { return d.levels }

// Level looks a level up by name.
func (d *Dimension) Level(name string) (*LevelDefinition, bool) {
	l, ok := d.byName[name]
	return l, ok
}

// Finest returns the most detailed level.
func (d *Dimension) Finest() *LevelDefinition { return d.levels[len(d.levels)-1] }
