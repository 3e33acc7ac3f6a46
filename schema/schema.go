package schema

import (
	"github.com/cockroachdb/errors"
)

// ============================================================================
// SCHEMA: registry of dimensions and cubes
// ============================================================================
// Built once (by hand or from a YAML Config) and shared read-only by every
// query against it.
// ============================================================================

// ErrUnknownID marks lookups of ids the schema does not declare.
var ErrUnknownID = errors.New("unknown id")

// Schema holds dimensions and cubes in registration order.
type Schema struct {
	dims      map[string]*Dimension
	dimOrder  []*Dimension
	cubes     map[string]*Cube
	cubeOrder []*Cube
}

// New returns an empty schema.
func New() *Schema {
	return &Schema{dims: make(map[string]*Dimension), cubes: make(map[string]*Cube)}
}

// AddDimension registers d.
func (s *Schema) AddDimension(d *Dimension) error {
	if d == nil {
		return ConfigErrorf("nil dimension")
	}
	if s.dims[d.name] != nil {
		return ConfigErrorf("duplicate dimension %s", d.name)
	}
	s.dims[d.name] = d
	s.dimOrder = append(s.dimOrder, d)
	return nil
}

// AddCube registers c. Every dimension it binds must already be registered.
func (s *Schema) AddCube(c *Cube) error {
	if c == nil {
		return ConfigErrorf("nil cube")
	}
	if s.cubes[c.name] != nil {
		return ConfigErrorf("duplicate cube %s", c.name)
	}
	for _, d := range c.dims {
		if s.dims[d.dimension.name] != d.dimension {
			return ConfigErrorf("cube %s binds unregistered dimension %s", c.name, d.dimension.name)
		}
	}
	s.cubes[c.name] = c
	s.cubeOrder = append(s.cubeOrder, c)
	return nil
}

func (s *Schema) Dimensions() []*Dimension { return s.dimOrder }
func (s *Schema) Cubes() []*Cube           { return s.cubeOrder }

// Dimension looks a dimension up by name.
func (s *Schema) Dimension(name string) (*Dimension, bool) {
	d, ok := s.dims[name]
	return d, ok
}

// Cube looks a cube up by name.
func (s *Schema) Cube(name string) (*Cube, bool) {
	c, ok := s.cubes[name]
	return c, ok
}

// Level resolves a level id. A bare name must be unique across dimensions.
func (s *Schema) Level(id ID) (*LevelDefinition, error) {
	if id.IsQualified() {
		if d := s.dims[id.Source]; d != nil {
			if l, ok := d.Level(id.Name); ok {
				return l, nil
			}
		}
		return nil, errors.Mark(errors.Newf("unknown level %s", id), ErrUnknownID)
	}
	var found *LevelDefinition
	for _, d := range s.dimOrder {
		if l, ok := d.Level(id.Name); ok {
			if found != nil {
				return nil, errors.Newf("ambiguous level %s: %s or %s", id, found.ID(), l.ID())
			}
			found = l
		}
	}
	if found == nil {
		return nil, errors.Mark(errors.Newf("unknown level %s", id), ErrUnknownID)
	}
	return found, nil
}
