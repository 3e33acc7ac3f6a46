package schema

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/spektr-org/prism/facts"
)

// ============================================================================
// CONFIG: YAML schema declaration
// ============================================================================
//
//   name: music
//   dimensions:
//     - name: customers
//       levels:
//         - {name: country, kind: degenerate, key: country}
//         - {name: customer, kind: query, key: customer_id,
//            source: {kind: csv, path: customers.csv}}
//   cubes:
//     - name: invoices
//       source: {kind: sqlite, path: music.db, table: invoice_lines}
//       levels:
//         - {level: customers.customer, fact_key: customer_id}
//       metrics:
//         - {name: units_sold, rollup: sum, field: quantity, default: 0}
//
// Sources are turned into fact scopes by a SourceResolver supplied by the
// caller, so this package never touches files or databases itself.
// ============================================================================

// Config is the root of a schema file.
type Config struct {
	Name       string            `yaml:"name" validate:"required"`
	Dimensions []DimensionConfig `yaml:"dimensions" validate:"required,min=1,dive"`
	Cubes      []CubeConfig      `yaml:"cubes" validate:"required,min=1,dive"`
}

// SourceConfig locates fact rows.
type SourceConfig struct {
	Kind     string `yaml:"kind" validate:"required,oneof=csv json sqlite"`
	Path     string `yaml:"path" validate:"required"`
	Table    string `yaml:"table,omitempty" validate:"required_if=Kind sqlite"`
	Selector string `yaml:"selector,omitempty"` // JSONPath to the row array
}

// DimensionConfig declares a dimension's levels, coarse → fine.
type DimensionConfig struct {
	Name   string        `yaml:"name" validate:"required,excludesall=.*"`
	Levels []LevelConfig `yaml:"levels" validate:"required,min=1,dive"`
}

// LevelConfig declares one level.
type LevelConfig struct {
	Name   string        `yaml:"name" validate:"required,excludesall=.*"`
	Kind   string        `yaml:"kind" validate:"required,oneof=query degenerate"`
	Key    string        `yaml:"key" validate:"required"`
	Label  string        `yaml:"label,omitempty"`
	Source *SourceConfig `yaml:"source,omitempty" validate:"required_if=Kind query"`
}

// CubeConfig declares a fact source, the levels it binds, and its metrics.
type CubeConfig struct {
	Name    string          `yaml:"name" validate:"required,excludesall=.*"`
	Source  SourceConfig    `yaml:"source"`
	Levels  []BindingConfig `yaml:"levels" validate:"required,min=1,dive"`
	Metrics []MetricConfig  `yaml:"metrics" validate:"dive"`
}

// BindingConfig binds a "dimension.level" id to a fact field.
type BindingConfig struct {
	Level   string `yaml:"level" validate:"required,levelid"`
	FactKey string `yaml:"fact_key,omitempty"`
}

// MetricConfig declares a built-in metric.
type MetricConfig struct {
	Name    string   `yaml:"name" validate:"required,excludesall=.*"`
	Label   string   `yaml:"label,omitempty"`
	Rollup  string   `yaml:"rollup" validate:"required,oneof=sum min max count"`
	Field   string   `yaml:"field,omitempty" validate:"required_unless=Rollup count"`
	Default *float64 `yaml:"default,omitempty"`
}

// SourceResolver turns a source declaration into a fact scope factory.
type SourceResolver func(src SourceConfig) (facts.ScopeFactory, error)

var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
	_ = configValidate.RegisterValidation("levelid", validateLevelID)
}

func validateLevelID(fl validator.FieldLevel) bool {
	id, err := ParseID(fl.Field().String())
	return err == nil && id.IsQualified() && !id.IsWildcard()
}

// ParseConfig decodes and validates a YAML schema.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decode schema"), ErrConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig reads and parses a schema file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read schema %s", path)
	}
	return ParseConfig(data)
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return errors.Mark(errors.Wrap(err, "invalid schema"), ErrConfiguration)
	}
	return nil
}

// Marshal encodes the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Build resolves every source and assembles a Schema.
func (c *Config) Build(resolve SourceResolver) (*Schema, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	s := New()

	for _, dc := range c.Dimensions {
		levels := make([]*LevelDefinition, 0, len(dc.Levels))
		for _, lc := range dc.Levels {
			var l *LevelDefinition
			if lc.Kind == "query" {
				src, err := resolve(*lc.Source)
				if err != nil {
					return nil, errors.Wrapf(err, "level %s.%s", dc.Name, lc.Name)
				}
				l = NewQueryLevel(lc.Name, lc.Key, src)
			} else {
				l = NewDegenerateLevel(lc.Name, lc.Key)
			}
			levels = append(levels, l.WithLabel(lc.Label))
		}
		d, err := NewDimension(dc.Name, levels...)
		if err != nil {
			return nil, err
		}
		if err := s.AddDimension(d); err != nil {
			return nil, err
		}
	}

	for _, cc := range c.Cubes {
		src, err := resolve(cc.Source)
		if err != nil {
			return nil, errors.Wrapf(err, "cube %s", cc.Name)
		}
		bindings := make([]Binding, 0, len(cc.Levels))
		for _, bc := range cc.Levels {
			l, err := s.Level(MustParseID(bc.Level))
			if err != nil {
				return nil, errors.Mark(errors.Wrapf(err, "cube %s", cc.Name), ErrConfiguration)
			}
			bindings = append(bindings, Binding{Level: l, FactKey: bc.FactKey})
		}
		metrics := make([]*Metric, 0, len(cc.Metrics))
		for _, mc := range cc.Metrics {
			metrics = append(metrics, &Metric{
				Name:    mc.Name,
				Label:   mc.Label,
				Rollup:  Rollup(mc.Rollup),
				Field:   mc.Field,
				Default: mc.Default,
			})
		}
		cube, err := NewCube(cc.Name, src, bindings, metrics...)
		if err != nil {
			return nil, err
		}
		if err := s.AddCube(cube); err != nil {
			return nil, err
		}
	}
	return s, nil
}
