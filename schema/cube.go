package schema

import (
	"sort"

	"github.com/spektr-org/prism/facts"
)

// ============================================================================
// CUBE: one fact source and the levels it materializes
// ============================================================================

// SortFunc orders two values of a level; negative when a sorts first.
type SortFunc func(a, b string) int

// Binding declares that a cube's facts carry a level's value in FactKey.
// FactKey defaults to the level's key.
type Binding struct {
	Level   *LevelDefinition
	FactKey string
	Sort    SortFunc
}

// LevelAssociation binds a level definition to one cube. It only exists for
// levels the cube actually supports.
type LevelAssociation struct {
	level   *LevelDefinition
	cube    *Cube
	factKey string
	sort    SortFunc
}

func (a *LevelAssociation) ID() string                   { return a.level.ID() }
func (a *LevelAssociation) Name() string                 { return a.level.Name() }
func (a *LevelAssociation) DimensionName() string        { return a.level.DimensionName() }
func (a *LevelAssociation) Ordinal() int                 { return a.level.Ordinal() }
func (a *LevelAssociation) Key() string                  { return a.level.Key() }
func (a *LevelAssociation) Kind() LevelKind              { return a.level.Kind() }
func (a *LevelAssociation) Definition() *LevelDefinition { return a.level }

// FactKey is the fact field holding this level's value or foreign key.
func (a *LevelAssociation) FactKey() string { return a.factKey }

// Sort returns the per-cube ordering override, or nil.
func (a *LevelAssociation) Sort() SortFunc { return a.sort }

func (a *LevelAssociation) Cube() *Cube { return a.cube }

// DimensionAssociation groups one cube's associations for a dimension.
type DimensionAssociation struct {
	dimension *Dimension
	levels    []*LevelAssociation // coarse → fine
}

func (d *DimensionAssociation) Dimension() *Dimension       { return d.dimension }
func (d *DimensionAssociation) Levels() []*LevelAssociation { return d.levels }
func (d *DimensionAssociation) Lowest() *LevelAssociation   { return d.levels[len(d.levels)-1] }

// Cube is a fact source with its level associations and metrics.
type Cube struct {
	name     string
	source   facts.ScopeFactory
	dims     []*DimensionAssociation
	byDim    map[string]*DimensionAssociation
	byLevel  map[string]*LevelAssociation
	metrics  []*Metric
	byMetric map[string]*Metric
}

// NewCube validates bindings and metrics and assembles a cube.
func NewCube(name string, source facts.ScopeFactory, bindings []Binding, metrics ...*Metric) (*Cube, error) {
	if name == "" {
		return nil, ConfigErrorf("cube name is required")
	}
	if source == nil {
		return nil, ConfigErrorf("cube %s has no source", name)
	}
	c := &Cube{
		name:     name,
		source:   source,
		byDim:    make(map[string]*DimensionAssociation),
		byLevel:  make(map[string]*LevelAssociation),
		byMetric: make(map[string]*Metric),
	}

	for _, b := range bindings {
		if b.Level == nil || b.Level.dimension == nil {
			return nil, ConfigErrorf("cube %s: binding to an unregistered level", name)
		}
		if c.byLevel[b.Level.ID()] != nil {
			return nil, ConfigErrorf("cube %s: level %s bound twice", name, b.Level.ID())
		}
		key := b.FactKey
		if key == "" {
			key = b.Level.key
		}
		assoc := &LevelAssociation{level: b.Level, cube: c, factKey: key, sort: b.Sort}
		c.byLevel[b.Level.ID()] = assoc

		dim := c.byDim[b.Level.DimensionName()]
		if dim == nil {
			dim = &DimensionAssociation{dimension: b.Level.dimension}
			c.byDim[b.Level.DimensionName()] = dim
			c.dims = append(c.dims, dim)
		}
		dim.levels = append(dim.levels, assoc)
	}
	for _, dim := range c.dims {
		sort.SliceStable(dim.levels, func(i, j int) bool { return dim.levels[i].Ordinal() < dim.levels[j].Ordinal() })
	}

	for _, m := range metrics {
		if m == nil || m.Name == "" {
			return nil, ConfigErrorf("cube %s: metric has no name", name)
		}
		if m.cube != nil {
			return nil, ConfigErrorf("metric %s already belongs to cube %s", m.Name, m.cube.name)
		}
		if c.byMetric[m.Name] != nil {
			return nil, ConfigErrorf("cube %s: duplicate metric %s", name, m.Name)
		}
		if err := m.validate(); err != nil {
			return nil, err
		}
		c.byMetric[m.Name] = m
		c.metrics = append(c.metrics, m)
	}
	for _, m := range c.metrics {
		for _, req := range m.Requires {
			if req == m.Name || c.byMetric[req] == nil {
				return nil, ConfigErrorf("metric %s.%s requires unknown metric %s", name, m.Name, req)
			}
		}
		m.cube = c
	}
	return c, nil
}

func (c *Cube) Name() string               { return c.name }
func (c *Cube) Source() facts.ScopeFactory { return c.source }
func (c *Cube) Metrics() []*Metric         { return c.metrics }

// DimensionAssociations returns the bound dimensions in binding order.
func (c *Cube) DimensionAssociations() []*DimensionAssociation { return c.dims }

// DimensionAssociation returns the cube's binding of a dimension, or nil.
func (c *Cube) DimensionAssociation(dimension string) *DimensionAssociation {
	return c.byDim[dimension]
}

// HasLevel reports whether the cube binds the level directly.
func (c *Cube) HasLevel(levelID string) bool { return c.byLevel[levelID] != nil }

// Association returns the cube's binding of a level, or nil.
func (c *Cube) Association(levelID string) *LevelAssociation { return c.byLevel[levelID] }

// SupportedLevels returns the associations of a dimension, coarse → fine,
// or nil when the cube does not bind that dimension.
func (c *Cube) SupportedLevels(dimension string) []*LevelAssociation {
	if d := c.byDim[dimension]; d != nil {
		return d.levels
	}
	return nil
}

// LowestLevels returns the finest association of every bound dimension.
func (c *Cube) LowestLevels() []*LevelAssociation {
	out := make([]*LevelAssociation, 0, len(c.dims))
	for _, d := range c.dims {
		out = append(out, d.Lowest())
	}
	return out
}

// Metric looks a metric up by name.
func (c *Cube) Metric(name string) (*Metric, bool) {
	m, ok := c.byMetric[name]
	return m, ok
}
