package schema

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/datadriven"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/spektr-org/prism/facts"
)

func emptySource() facts.ScopeFactory { return facts.MemorySource(facts.NewSliceView(nil)) }

// comparatorSchema: customers country > city > customer, and two cubes that
// bind different slices of it.
func comparatorSchema(t *testing.T) *Schema {
	t.Helper()
	s := New()
	customers, err := NewDimension("customers",
		NewDegenerateLevel("country", "country"),
		NewDegenerateLevel("city", "city"),
		NewQueryLevel("customer", "customer_id", emptySource()),
	)
	require.NoError(t, err)
	require.NoError(t, s.AddDimension(customers))

	customer, _ := customers.Level("customer")
	city, _ := customers.Level("city")
	country, _ := customers.Level("country")

	invoices, err := NewCube("invoices", emptySource(), []Binding{{Level: customer}})
	require.NoError(t, err)
	require.NoError(t, s.AddCube(invoices))

	regional, err := NewCube("regional", emptySource(), []Binding{{Level: city}, {Level: country}})
	require.NoError(t, err)
	require.NoError(t, s.AddCube(regional))
	return s
}

func TestComparator(t *testing.T) {
	s := comparatorSchema(t)

	level := func(t *testing.T, d *datadriven.TestData, key string) Level {
		if !d.HasArg(key) {
			return nil
		}
		var id string
		d.ScanArgs(t, key, &id)
		l, err := s.Level(MustParseID(id))
		require.NoError(t, err)
		return l
	}

	datadriven.RunTest(t, "testdata/comparator", func(t *testing.T, d *datadriven.TestData) string {
		switch d.Cmd {
		case "more-detailed":
			got := MoreDetailed(level(t, d, "a"), level(t, d, "b"))
			if isNil(got) {
				return "<nil>\n"
			}
			return got.ID() + "\n"

		case "common-denominator":
			var cubeName string
			d.ScanArgs(t, "cube", &cubeName)
			l := level(t, d, "level")

			var supported []*LevelAssociation
			if c, ok := s.Cube(cubeName); ok {
				supported = c.SupportedLevels(l.DimensionName())
				if d.HasArg("as-association") {
					l = c.Association(l.ID())
				}
			}
			got, err := FindCommonDenominator(l, supported)
			switch {
			case errors.HasAssertionFailure(err):
				return "assertion failure\n"
			case err != nil:
				return fmt.Sprintf("error: %v\n", err)
			case got == nil:
				return "<nil>\n"
			}
			return fmt.Sprintf("%s via %s\n", got.ID(), got.FactKey())

		default:
			return fmt.Sprintf("unknown command: %s", d.Cmd)
		}
	})
}
