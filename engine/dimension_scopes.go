package engine

import (
	"github.com/cockroachdb/errors"

	"github.com/spektr-org/prism/schema"
)

// DimensionScopes holds one level scope per level of every dimension a query
// context touches. Sub-cubes share it by reference.
type DimensionScopes struct {
	cfg    *config
	scopes map[*schema.LevelDefinition]LevelScope
	byID   map[string]LevelScope
	dims   []*schema.Dimension
}

func newDimensionScopes(cfg *config) *DimensionScopes {
	return &DimensionScopes{
		cfg:    cfg,
		scopes: make(map[*schema.LevelDefinition]LevelScope),
		byID:   make(map[string]LevelScope),
	}
}

// register instantiates scopes for every level of dim, finest first so each
// degenerate scope can be handed the query scope below it. Registering a
// dimension twice is a no-op.
func (r *DimensionScopes) register(dim *schema.Dimension) {
	levels := dim.Levels()
	if _, ok := r.scopes[levels[0]]; ok {
		return
	}
	for i := len(levels) - 1; i >= 0; i-- {
		l := levels[i]
		var s LevelScope
		if l.Kind() == schema.QueryLevel {
			s = newQueryLevelScope(r, l)
		} else {
			var below *QueryLevelScope
			if b := l.QueryLevelBelow(); b != nil {
				below = r.scopes[b].(*QueryLevelScope)
			}
			s = newDegenerateLevelScope(r, l, below)
		}
		r.scopes[l] = s
		r.byID[l.ID()] = s
	}
	r.dims = append(r.dims, dim)
}

// Scope returns the scope of a level id ("dimension.level").
func (r *DimensionScopes) Scope(levelID string) (LevelScope, bool) {
	s, ok := r.byID[levelID]
	return s, ok
}

// Dimensions returns the registered dimensions in registration order.
func (r *DimensionScopes) Dimensions() []*schema.Dimension { return r.dims }

func (r *DimensionScopes) scope(level *schema.LevelDefinition) (LevelScope, error) {
	s, ok := r.scopes[level]
	if !ok {
		return nil, errors.AssertionFailedf("no scope registered for level %s", level)
	}
	return s, nil
}

func (r *DimensionScopes) queryScope(level *schema.LevelDefinition) (*QueryLevelScope, error) {
	s, err := r.scope(level)
	if err != nil {
		return nil, err
	}
	q, ok := s.(*QueryLevelScope)
	if !ok {
		return nil, errors.AssertionFailedf("level %s is not a query level", level)
	}
	return q, nil
}

func (r *DimensionScopes) degenerateScope(level *schema.LevelDefinition) (*DegenerateLevelScope, error) {
	s, err := r.scope(level)
	if err != nil {
		return nil, err
	}
	d, ok := s.(*DegenerateLevelScope)
	if !ok {
		return nil, errors.AssertionFailedf("level %s is not a degenerate level", level)
	}
	return d, nil
}
