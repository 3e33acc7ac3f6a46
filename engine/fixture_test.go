package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spektr-org/prism/facts"
	"github.com/spektr-org/prism/schema"
)

// countingScope counts executions of the scope it wraps.
type countingScope struct {
	facts.Scope
	executes *int
}

func (s countingScope) Execute(ctx context.Context) (facts.RecordView, error) {
	*s.executes++
	return s.Scope.Execute(ctx)
}

func counted(view facts.RecordView, n *int) facts.ScopeFactory {
	return func() facts.Scope {
		return countingScope{Scope: facts.NewMemoryScope(view), executes: n}
	}
}

func dims(kv ...string) facts.Record {
	r := facts.Record{Dimensions: make(map[string]string), Measures: make(map[string]float64)}
	for i := 0; i+1 < len(kv); i += 2 {
		r.Dimensions[kv[i]] = kv[i+1]
	}
	return r
}

type invoiceLine struct {
	customer, track, media string
	quantity               float64
}

var invoiceFields = facts.NewFields[invoiceLine]().
	Text("customer_id", func(l invoiceLine) string { return l.customer }).
	Text("track_id", func(l invoiceLine) string { return l.track }).
	Text("media_type", func(l invoiceLine) string { return l.media }).
	Number("quantity", func(l invoiceLine) float64 { return l.quantity })

// music is a two-cube schema. playlist_tracks and invoices share the tracks
// and media_types dimensions; only playlist_tracks binds playlists and only
// invoices binds customers.
//
//	tracks      genre (degenerate) > track (query, track_id)
//	media_types name (degenerate, media_type)
//	playlists   name (degenerate, playlist)
//	customers   country (degenerate) > city (degenerate) > customer (query, customer_id)
type music struct {
	schema   *schema.Schema
	executes int
}

type musicConfig struct {
	extraCustomers []facts.Record
	playlistSort   schema.SortFunc
}

func withCustomer(id, city, country string) func(*musicConfig) {
	return func(c *musicConfig) {
		c.extraCustomers = append(c.extraCustomers, dims("customer_id", id, "city", city, "country", country))
	}
}

func withPlaylistSort(fn schema.SortFunc) func(*musicConfig) {
	return func(c *musicConfig) { c.playlistSort = fn }
}

func newMusic(t *testing.T, opts ...func(*musicConfig)) *music {
	t.Helper()
	var cfg musicConfig
	for _, o := range opts {
		o(&cfg)
	}
	m := &music{}

	tracks := facts.NewSliceView([]facts.Record{
		dims("track_id", "t1", "genre", "Rock"),
		dims("track_id", "t2", "genre", "Rock"),
		dims("track_id", "t3", "genre", "Jazz"),
		dims("track_id", "t4", "genre", "Blues"),
	})
	customers := facts.NewSliceView(append([]facts.Record{
		dims("customer_id", "c1", "city", "Paris", "country", "France"),
		dims("customer_id", "c2", "city", "Lyon", "country", "France"),
		dims("customer_id", "c3", "city", "Boston", "country", "USA"),
	}, cfg.extraCustomers...))

	genre := schema.NewDegenerateLevel("genre", "genre")
	track := schema.NewQueryLevel("track", "track_id", counted(tracks, &m.executes))
	tracksDim, err := schema.NewDimension("tracks", genre, track)
	require.NoError(t, err)

	media := schema.NewDegenerateLevel("name", "media_type")
	mediaDim, err := schema.NewDimension("media_types", media)
	require.NoError(t, err)

	playlist := schema.NewDegenerateLevel("name", "playlist")
	playlistDim, err := schema.NewDimension("playlists", playlist)
	require.NoError(t, err)

	customer := schema.NewQueryLevel("customer", "customer_id", counted(customers, &m.executes))
	customersDim, err := schema.NewDimension("customers",
		schema.NewDegenerateLevel("country", "country"),
		schema.NewDegenerateLevel("city", "city"),
		customer,
	)
	require.NoError(t, err)

	playlistTracks, err := schema.NewCube("playlist_tracks",
		counted(facts.NewSliceView([]facts.Record{
			dims("track_id", "t1", "media_type", "MPEG", "playlist", "Favorites"),
			dims("track_id", "t2", "media_type", "MPEG", "playlist", "Favorites"),
			dims("track_id", "t3", "media_type", "AAC", "playlist", "Chill"),
			dims("track_id", "t1", "media_type", "MPEG", "playlist", "Chill"),
		}), &m.executes),
		[]schema.Binding{{Level: track}, {Level: media}, {Level: playlist, Sort: cfg.playlistSort}},
		&schema.Metric{Name: "tracks_count", Rollup: schema.RollupCount, Default: schema.Float(0)},
		&schema.Metric{Name: "rows", Rollup: schema.RollupCount},
	)
	require.NoError(t, err)

	invoices, err := schema.NewCube("invoices",
		counted(invoiceFields.View([]invoiceLine{
			{"c1", "t1", "MPEG", 2},
			{"c2", "t2", "MPEG", 1},
			{"c3", "t4", "MPEG", 5},
			{"c1", "t4", "MPEG", 1},
		}), &m.executes),
		[]schema.Binding{{Level: customer}, {Level: track}, {Level: media}},
		&schema.Metric{Name: "units_sold", Label: "Units sold", Rollup: schema.RollupSum, Field: "quantity", Default: schema.Float(0)},
		&schema.Metric{Name: "rows", Rollup: schema.RollupCount},
		&schema.Metric{
			Name:     "bulk_units",
			Rollup:   schema.RollupCustom,
			Requires: []string{"units_sold"},
			Custom: func(rv schema.RollupView) (float64, bool) {
				v, ok := rv.Value("units_sold")
				if !ok || v < 3 {
					return 0, false
				}
				return v, true
			},
		},
		&schema.Metric{
			Name:     "bulk_units_or_zero",
			Rollup:   schema.RollupCustom,
			Requires: []string{"bulk_units"},
			Default:  schema.Float(0),
			Custom: func(rv schema.RollupView) (float64, bool) {
				return rv.Value("bulk_units")
			},
		},
	)
	require.NoError(t, err)

	s := schema.New()
	for _, d := range []*schema.Dimension{tracksDim, mediaDim, playlistDim, customersDim} {
		require.NoError(t, s.AddDimension(d))
	}
	require.NoError(t, s.AddCube(playlistTracks))
	require.NoError(t, s.AddCube(invoices))
	m.schema = s
	return m
}

func (m *music) level(t *testing.T, id string) *schema.LevelDefinition {
	t.Helper()
	l, err := m.schema.Level(schema.MustParseID(id))
	require.NoError(t, err)
	return l
}

// federated is the grain the two cubes diverge on.
func (m *music) federated() QueryBuilder {
	return NewQuery(m.schema).
		Select("tracks_count", "units_sold").
		Granulate("tracks.genre", "media_types.name", "playlists.name", "customers.country")
}
