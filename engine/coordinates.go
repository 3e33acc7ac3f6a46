package engine

import (
	"cmp"
	"maps"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/spektr-org/prism/schema"
)

// ============================================================================
// COORDINATES: level → value addresses
// ============================================================================
// A coordinate pins some levels of a query context's grain closure to
// values. Coordinates are values: Locate returns a patched copy and never
// touches the receiver.
//
//   patch  {"customers.country": "France"}  resets customers, then pins country
//   reset  ["customers.city"]               clears city and every finer level
//   reset  ["customers.*"]                  clears the whole dimension
// ============================================================================

// space is what coordinates of one query context may address.
type space struct {
	grain   *Grain
	dims    map[string]bool
	metrics map[string]bool
}

// Coordinates maps levels to values within one query context.
type Coordinates struct {
	space  *space
	values map[*schema.LevelDefinition]string
}

func newCoordinates(sp *space) *Coordinates {
	return &Coordinates{space: sp, values: make(map[*schema.LevelDefinition]string)}
}

func (c *Coordinates) clone() *Coordinates {
	return &Coordinates{space: c.space, values: maps.Clone(c.values)}
}

func (c *Coordinates) set(level *schema.LevelDefinition, value string) {
	c.values[level] = value
}

func (c *Coordinates) Len() int { return len(c.values) }

// Value returns the value pinned at level.
func (c *Coordinates) Value(level *schema.LevelDefinition) (string, bool) {
	v, ok := c.values[level]
	return v, ok
}

// Get returns the value pinned at a level id, bare or "dimension.level".
// A bare id shared by several levels of the grain is a miss.
func (c *Coordinates) Get(levelID string) (string, bool) {
	id, err := schema.ParseID(levelID)
	if err != nil {
		return "", false
	}
	l, err := c.space.grain.resolve(id)
	if err != nil {
		return "", false
	}
	v, ok := c.values[l]
	return v, ok
}

// Levels returns the pinned levels in grain dimension order, coarse → fine
// within a dimension.
func (c *Coordinates) Levels() []*schema.LevelDefinition {
	rank := make(map[string]int, len(c.space.grain.dims))
	for i, d := range c.space.grain.dims {
		rank[d] = i
	}
	out := slices.Collect(maps.Keys(c.values))
	slices.SortFunc(out, func(a, b *schema.LevelDefinition) int {
		if a.DimensionName() != b.DimensionName() {
			ra, oka := rank[a.DimensionName()]
			rb, okb := rank[b.DimensionName()]
			if oka && okb {
				return cmp.Compare(ra, rb)
			}
			return cmp.Compare(a.DimensionName(), b.DimensionName())
		}
		return cmp.Compare(a.Ordinal(), b.Ordinal())
	})
	return out
}

func (c *Coordinates) IDs() []string {
	levels := c.Levels()
	out := make([]string, len(levels))
	for i, l := range levels {
		out[i] = l.ID()
	}
	return out
}

// Map returns a copy keyed by level id.
func (c *Coordinates) Map() map[string]string {
	out := make(map[string]string, len(c.values))
	for l, v := range c.values {
		out[l.ID()] = v
	}
	return out
}

// Restrict returns the coordinate limited to levels keep accepts.
func (c *Coordinates) Restrict(keep func(*schema.LevelDefinition) bool) *Coordinates {
	out := newCoordinates(c.space)
	for l, v := range c.values {
		if keep(l) {
			out.values[l] = v
		}
	}
	return out
}

// Fingerprint hashes the pinned levels and values; equal coordinates of one
// context share a fingerprint.
func (c *Coordinates) Fingerprint() uint64 {
	ids := make([]string, 0, len(c.values))
	byID := make(map[string]string, len(c.values))
	for l, v := range c.values {
		ids = append(ids, l.ID())
		byID[l.ID()] = v
	}
	slices.Sort(ids)
	d := xxhash.New()
	for _, id := range ids {
		_, _ = d.WriteString(id)
		_, _ = d.WriteString("\x00")
		_, _ = d.WriteString(byID[id])
		_, _ = d.WriteString("\x1f")
	}
	return d.Sum64()
}

func (c *Coordinates) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, l := range c.Levels() {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(l.ID())
		b.WriteByte('=')
		b.WriteString(c.values[l])
	}
	b.WriteByte('}')
	return b.String()
}

// Locate returns a copy of c with reset applied first, then patch. Patching
// a level first clears the rest of its dimension.
func (c *Coordinates) Locate(patch map[string]string, reset []string) (*Coordinates, error) {
	out := c.clone()
	for _, r := range reset {
		id, err := schema.ParseID(r)
		if err != nil {
			return nil, asQueryError(err)
		}
		if id.IsWildcard() {
			if !c.space.dims[id.Source] {
				return nil, queryErrorf("reset %s: unknown dimension %s", r, id.Source)
			}
			out.clearDimension(id.Source)
			continue
		}
		level, err := c.space.level(id)
		if err != nil {
			return nil, err
		}
		for _, l := range level.SelfAndDescendants() {
			delete(out.values, l)
		}
	}

	keys := slices.Sorted(maps.Keys(patch))
	levels := make([]*schema.LevelDefinition, len(keys))
	for i, k := range keys {
		id, err := schema.ParseID(k)
		if err != nil {
			return nil, asQueryError(err)
		}
		if id.IsWildcard() {
			return nil, queryErrorf("patch %s: wildcards can only be reset", k)
		}
		if levels[i], err = c.space.level(id); err != nil {
			return nil, err
		}
	}
	cleared := make(map[string]bool)
	for _, l := range levels {
		if dim := l.DimensionName(); !cleared[dim] {
			out.clearDimension(dim)
			cleared[dim] = true
		}
	}
	for i, l := range levels {
		out.values[l] = patch[keys[i]]
	}
	return out, nil
}

func (c *Coordinates) clearDimension(dim string) {
	for l := range c.values {
		if l.DimensionName() == dim {
			delete(c.values, l)
		}
	}
}

// level resolves a coordinate id. Metrics are never coordinates.
func (sp *space) level(id schema.ID) (*schema.LevelDefinition, error) {
	level, err := sp.grain.resolve(id)
	if err != nil && sp.metrics[id.String()] {
		return nil, queryErrorf("%s is a metric, not a level", id)
	}
	return level, err
}
