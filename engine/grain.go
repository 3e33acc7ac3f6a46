package engine

import (
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/spektr-org/prism/schema"
)

// Grain is the set of levels results are grouped by: at most one level per
// dimension, the finest requested. Every ancestor of a grain level is
// derivable without changing cardinality, so the grain supports its whole
// ancestor closure. A grain is frozen once its owner is built.
type Grain struct {
	byDim  map[string]*schema.LevelDefinition
	dims   []string
	frozen bool
}

func newGrain() *Grain {
	return &Grain{byDim: make(map[string]*schema.LevelDefinition)}
}

// Add merges level into the grain, keeping the finer level of its dimension.
func (g *Grain) Add(level schema.Level) error {
	if g.frozen {
		return errors.AssertionFailedf("grain is frozen; cannot add %s", level.ID())
	}
	def := level.Definition()
	dim := def.DimensionName()
	cur, ok := g.byDim[dim]
	if !ok {
		g.dims = append(g.dims, dim)
		g.byDim[dim] = def
		return nil
	}
	g.byDim[dim] = schema.MoreDetailed(cur, def).Definition()
	return nil
}

func (g *Grain) freeze()        { g.frozen = true }
func (g *Grain) IsFrozen() bool { return g.frozen }
func (g *Grain) Len() int       { return len(g.dims) }
func (g *Grain) IsEmpty() bool  { return len(g.dims) == 0 }

// Levels returns the grain levels in the order their dimensions were added.
func (g *Grain) Levels() []*schema.LevelDefinition {
	out := make([]*schema.LevelDefinition, len(g.dims))
	for i, d := range g.dims {
		out[i] = g.byDim[d]
	}
	return out
}

// IDs returns the grain level ids.
func (g *Grain) IDs() []string {
	out := make([]string, len(g.dims))
	for i, d := range g.dims {
		out[i] = g.byDim[d].ID()
	}
	return out
}

// Level returns the grain level of dimension.
func (g *Grain) Level(dimension string) (*schema.LevelDefinition, bool) {
	l, ok := g.byDim[dimension]
	return l, ok
}

// Closure returns every grain level followed by its ancestors, per dimension.
func (g *Grain) Closure() []*schema.LevelDefinition {
	var out []*schema.LevelDefinition
	for _, d := range g.dims {
		out = append(out, g.byDim[d].SelfAndAncestors()...)
	}
	return out
}

// Supports reports whether level is a grain level or an ancestor of one.
func (g *Grain) Supports(level *schema.LevelDefinition) bool {
	l, ok := g.byDim[level.DimensionName()]
	return ok && (l == level || level.IsAncestorOf(l))
}

// SupportsID is Supports for a "dimension.level" id.
func (g *Grain) SupportsID(levelID string) bool {
	for _, l := range g.Closure() {
		if l.ID() == levelID {
			return true
		}
	}
	return false
}

// resolve finds id in the grain closure. A bare id must name exactly one
// level of the closure.
func (g *Grain) resolve(id schema.ID) (*schema.LevelDefinition, error) {
	var found []*schema.LevelDefinition
	for _, l := range g.Closure() {
		if id.IsQualified() && l.ID() == id.String() || !id.IsQualified() && l.Name() == id.Name {
			found = append(found, l)
		}
	}
	switch len(found) {
	case 0:
		return nil, queryErrorf("level %s is not in the grain", id)
	case 1:
		return found[0], nil
	}
	ids := make([]string, len(found))
	for i, l := range found {
		ids[i] = l.ID()
	}
	return nil, queryErrorf("level %s is ambiguous in the grain: %s", id, strings.Join(ids, ", "))
}

func (g *Grain) String() string { return "[" + strings.Join(g.IDs(), " ") + "]" }
