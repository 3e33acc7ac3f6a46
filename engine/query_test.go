package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spektr-org/prism/facts"
	"github.com/spektr-org/prism/schema"
)

func TestFederatedElements(t *testing.T) {
	ctx := context.Background()
	m := newMusic(t)
	qc, err := m.federated().Build(ctx)
	require.NoError(t, err)

	rows, err := qc.Elements(ctx, nil, nil)
	require.NoError(t, err)

	type want struct {
		coords    map[string]string
		tracks    float64
		hasTracks bool
		units     float64
		hasUnits  bool
		elements  int
	}
	at := func(genre, media, third string) map[string]string {
		c := map[string]string{"tracks.genre": genre, "media_types.name": media}
		if third == "France" || third == "USA" {
			c["customers.country"] = third
		} else {
			c["playlists.name"] = third
		}
		return c
	}
	expected := []want{
		{at("Rock", "MPEG", "Favorites"), 2, true, 3, true, 2},
		{at("Jazz", "AAC", "Chill"), 1, true, 0, false, 1},
		{at("Rock", "MPEG", "Chill"), 1, true, 3, true, 2},
		{at("Rock", "MPEG", "France"), 3, true, 3, true, 2},
		{at("Blues", "MPEG", "USA"), 0, false, 5, true, 1},
		{at("Blues", "MPEG", "France"), 0, false, 1, true, 1},
	}
	require.Len(t, rows, len(expected))

	for i, w := range expected {
		ve, ok := rows[i].(*VirtualElement)
		require.True(t, ok, "row %d is %T", i, rows[i])
		assert.False(t, ve.Null())
		assert.Equal(t, w.coords, ve.Coordinates().Map(), "row %d", i)
		assert.Len(t, ve.Elements(), w.elements, "row %d", i)

		tracks, ok := ve.Value("tracks_count")
		assert.Equal(t, w.hasTracks, ok, "row %d tracks present", i)
		if ok {
			assert.Equal(t, w.tracks, tracks, "row %d tracks", i)
		}
		units, ok := ve.Value("invoices.units_sold")
		assert.Equal(t, w.hasUnits, ok, "row %d units present", i)
		if ok {
			assert.Equal(t, w.units, units, "row %d units", i)
		}

		// Declared defaults fill in for the cube with nothing here.
		v, ok := ve.Fetch("units_sold")
		assert.True(t, ok)
		assert.Equal(t, w.units, v)
		v, ok = ve.Fetch("playlist_tracks.tracks_count")
		assert.True(t, ok)
		assert.Equal(t, w.tracks, v)
	}
}

func TestSliceOutsideGrainFailsBeforeFetching(t *testing.T) {
	ctx := context.Background()
	m := newMusic(t)

	for _, id := range []string{"customers.city", "city", "customers.customer"} {
		_, err := NewQuery(m.schema).
			Granulate("customers.country").
			Slice(id, facts.With("Paris")).
			Build(ctx)
		require.Error(t, err, id)
		assert.True(t, IsQueryError(err), id)
		assert.Contains(t, err.Error(), "not in the grain")
	}
	assert.Zero(t, m.executes)
}

func TestBuildErrors(t *testing.T) {
	ctx := context.Background()
	m := newMusic(t)

	tests := []struct {
		name  string
		query QueryBuilder
		msg   string
	}{
		{"unknown cube", NewQuery(m.schema).From("albums"), "unknown cube"},
		{"unknown metric", NewQuery(m.schema).Select("revenue"), "unknown metric"},
		{"ambiguous metric", NewQuery(m.schema).Select("rows"), "ambiguous metric"},
		{"malformed id", NewQuery(m.schema).Select("a.b.c"), "malformed"},
		{"unknown level", NewQuery(m.schema).Granulate("tracks.album"), "unknown level"},
		{"ambiguous level", NewQuery(m.schema).Granulate("name"), "ambiguous level"},
		{"with and without", NewQuery(m.schema).
			Granulate("tracks.track").
			Slice("tracks.genre", facts.With("Rock")).
			Slice("tracks.track", facts.Without("t1")), "both with and without"},
		{"comparison on a level", NewQuery(m.schema).
			Granulate("tracks.track").
			Slice("tracks.track", facts.Gt(1)), "cannot slice level"},
		{"custom metric slice", NewQuery(m.schema).
			Select("bulk_units").
			Granulate("tracks.track").
			Slice("bulk_units", facts.Gt(1)), "custom metric"},
		{"unknown slice id", NewQuery(m.schema).
			Granulate("tracks.track").
			Slice("albums.title", facts.With("x")), "unknown id"},
		{"metric of a dropped cube", NewQuery(m.schema).
			Select("units_sold").
			Granulate("tracks.track").
			Slice("tracks_count", facts.Gt(1)), "not a level or a selected metric"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.query.Build(ctx)
			require.Error(t, err)
			assert.True(t, IsQueryError(err), "%+v", err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}

	_, err := NewQuery(m.schema).Granulate("tracks.album").Build(ctx)
	assert.True(t, errors.Is(err, schema.ErrUnknownID))
}

func TestQueryBuilderIsImmutable(t *testing.T) {
	ctx := context.Background()
	m := newMusic(t)

	base := NewQuery(m.schema).Select("units_sold")
	byGenre := base.Granulate("tracks.genre")
	byCountry := base.Granulate("customers.country")

	a, err := byGenre.Build(ctx)
	require.NoError(t, err)
	b, err := byCountry.Build(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tracks.genre"}, a.Grain().IDs())
	assert.Equal(t, []string{"customers.country"}, b.Grain().IDs())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestImplicitGrain(t *testing.T) {
	m := newMusic(t)
	qc, err := NewQuery(m.schema).Select("units_sold").Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"customers.customer", "tracks.track", "media_types.name"}, qc.Grain().IDs())
	_, ok := qc.SubCube("playlist_tracks")
	assert.False(t, ok, "cubes without selected metrics drop out")
	assert.True(t, qc.Grain().IsFrozen())
}

func unitsByCoordinate(t *testing.T, rows []Row, level string) map[string]float64 {
	t.Helper()
	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		c, ok := r.Coordinates().Get(level)
		require.True(t, ok)
		v, ok := r.Value("units_sold")
		require.True(t, ok)
		out[c] = v
	}
	return out
}

func TestLevelSlices(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		query func(QueryBuilder) QueryBuilder
		level string
		want  map[string]float64
	}{
		{
			name: "fact strategy",
			query: func(b QueryBuilder) QueryBuilder {
				return b.Granulate("tracks.track").Slice("tracks.track", facts.Without("t4"))
			},
			level: "tracks.track",
			want:  map[string]float64{"t1": 2, "t2": 1},
		},
		{
			name: "join strategy through a degenerate level",
			query: func(b QueryBuilder) QueryBuilder {
				return b.Granulate("tracks.genre").Slice("tracks.genre", facts.With("Rock"))
			},
			level: "tracks.genre",
			want:  map[string]float64{"Rock": 3},
		},
		{
			name: "join strategy excluding",
			query: func(b QueryBuilder) QueryBuilder {
				return b.Granulate("tracks.genre").Slice("genre", facts.Without("Blues"))
			},
			level: "tracks.genre",
			want:  map[string]float64{"Rock": 3},
		},
		{
			name: "with slices on one level intersect",
			query: func(b QueryBuilder) QueryBuilder {
				return b.Granulate("tracks.genre").
					Slice("tracks.genre", facts.With("Rock", "Blues")).
					Slice("tracks.genre", facts.With("Blues", "Jazz"))
			},
			level: "tracks.genre",
			want:  map[string]float64{"Blues": 6},
		},
		{
			name: "finer slice of a dimension wins",
			query: func(b QueryBuilder) QueryBuilder {
				return b.Granulate("customers.customer").
					Slice("customers.country", facts.With("USA")).
					Slice("customers.city", facts.With("Lyon"))
			},
			level: "customers.customer",
			want:  map[string]float64{"c2": 1},
		},
		{
			name: "slice on an ancestor of the grain",
			query: func(b QueryBuilder) QueryBuilder {
				return b.Granulate("customers.city").Slice("customers.country", facts.With("France"))
			},
			level: "customers.city",
			want:  map[string]float64{"Paris": 3, "Lyon": 1},
		},
		{
			name: "metric slice filters fetched rows",
			query: func(b QueryBuilder) QueryBuilder {
				return b.Granulate("customers.country").Slice("invoices.units_sold", facts.Gt(4))
			},
			level: "customers.country",
			want:  map[string]float64{"USA": 5},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMusic(t)
			qc, err := tt.query(NewQuery(m.schema).Select("units_sold")).Build(ctx)
			require.NoError(t, err)
			rows, err := qc.Elements(ctx, nil, nil)
			require.NoError(t, err)
			for _, r := range rows {
				_, real := r.(*Element)
				assert.True(t, real, "single cube yields real elements")
			}
			assert.Equal(t, tt.want, unitsByCoordinate(t, rows, tt.level))
		})
	}
}

func TestSliceIgnoredByCubeWithoutDimension(t *testing.T) {
	ctx := context.Background()
	m := newMusic(t)
	qc, err := NewQuery(m.schema).
		Select("tracks_count", "units_sold").
		Granulate("tracks.genre", "customers.country").
		Slice("customers.country", facts.With("USA")).
		Build(ctx)
	require.NoError(t, err)

	pt, _ := qc.SubCube("playlist_tracks")
	all, err := pt.Facts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, all.Len(), "playlist_tracks keeps every track")

	rows, err := qc.Elements(ctx, []string{"customers.country"}, []string{"units_sold"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"USA": 5}, unitsByCoordinate(t, rows, "customers.country"))
}

func TestNullSubCube(t *testing.T) {
	ctx := context.Background()
	m := newMusic(t)
	qc, err := NewQuery(m.schema).
		Select("tracks_count", "units_sold").
		Granulate("playlists.name").
		Build(ctx)
	require.NoError(t, err)

	inv, ok := qc.SubCube("invoices")
	require.True(t, ok)
	assert.True(t, inv.IsNull())
	assert.Zero(t, inv.Grain().Len())

	rows, err := qc.Elements(ctx, nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		el, ok := r.(*Element)
		require.True(t, ok)
		assert.Equal(t, "playlist_tracks", el.SubCube().Name())
	}

	view, err := qc.Facts(ctx, "invoices")
	require.NoError(t, err)
	assert.Zero(t, view.Len())
	assert.Equal(t, 1, m.executes, "only playlist_tracks fetched")
}

func TestElementsAtCoarserLevels(t *testing.T) {
	ctx := context.Background()
	m := newMusic(t)
	qc, err := NewQuery(m.schema).Select("units_sold").Granulate("customers.city", "tracks.track").Build(ctx)
	require.NoError(t, err)

	rows, err := qc.Elements(ctx, []string{"country"}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"France": 4, "USA": 5}, unitsByCoordinate(t, rows, "customers.country"))

	_, err = qc.Elements(ctx, []string{"playlists.name"}, nil)
	assert.True(t, IsQueryError(err))
	_, err = qc.Elements(ctx, nil, []string{"tracks_count"})
	assert.True(t, IsQueryError(err))
}

func TestLocate(t *testing.T) {
	ctx := context.Background()
	m := newMusic(t)
	qc, err := m.federated().Build(ctx)
	require.NoError(t, err)
	rows, err := qc.Elements(ctx, nil, nil)
	require.NoError(t, err)

	first := rows[0]
	before := first.Coordinates().Map()

	moved, ok, err := first.Locate(ctx, map[string]string{"customers.country": "USA"}, []string{"playlists.*"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]string{
		"tracks.genre": "Rock", "media_types.name": "MPEG", "customers.country": "USA",
	}, moved.Coordinates().Map())
	tracks, ok := moved.Value("tracks_count")
	assert.True(t, ok)
	assert.Equal(t, 3.0, tracks)
	_, ok = moved.Value("units_sold")
	assert.False(t, ok, "no Rock sold in the USA")
	assert.Equal(t, before, first.Coordinates().Map(), "locate leaves the original untouched")

	_, ok, err = first.Locate(ctx, map[string]string{"tracks.genre": "Classical"}, nil)
	require.NoError(t, err)
	assert.False(t, ok, "nothing answers an unknown genre")

	_, _, err = first.Locate(ctx, map[string]string{"units_sold": "1"}, nil)
	assert.True(t, IsQueryError(err))

	total, ok, err := qc.Locate(ctx, nil, nil)
	require.NoError(t, err)
	require.True(t, ok)
	v, _ := total.Value("tracks_count")
	assert.Equal(t, 4.0, v)
	v, _ = total.Value("units_sold")
	assert.Equal(t, 9.0, v)

	// Real elements re-address within their own cube.
	single, err := NewQuery(m.schema).Select("units_sold").Granulate("customers.country").Build(ctx)
	require.NoError(t, err)
	france, ok, err := single.Locate(ctx, map[string]string{"customers.country": "France"}, nil)
	require.NoError(t, err)
	require.True(t, ok)
	v, _ = france.Value("units_sold")
	assert.Equal(t, 4.0, v)
	usa, ok, err := france.Locate(ctx, map[string]string{"country": "USA"}, nil)
	require.NoError(t, err)
	require.True(t, ok)
	v, _ = usa.Value("units_sold")
	assert.Equal(t, 5.0, v)
}

func TestVirtualElementGet(t *testing.T) {
	ctx := context.Background()
	m := newMusic(t)
	qc, err := m.federated().Build(ctx)
	require.NoError(t, err)
	rows, err := qc.Elements(ctx, nil, nil)
	require.NoError(t, err)

	first := rows[0]
	v, ok := first.Get("genre")
	assert.True(t, ok)
	assert.Equal(t, "Rock", v)
	v, ok = first.Get("units_sold")
	assert.True(t, ok)
	assert.Equal(t, 3.0, v)
	_, ok = first.Get("customers.country")
	assert.False(t, ok, "the invoices element spans countries")

	// Derived ancestors come from the facts.
	byCity, err := NewQuery(m.schema).Select("units_sold").Granulate("customers.city").Build(ctx)
	require.NoError(t, err)
	rows, err = byCity.Elements(ctx, nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	v, ok = rows[0].Get("customers.country")
	assert.True(t, ok)
	assert.Equal(t, "France", v)
}

func TestElementsAtLevelsOfOneCube(t *testing.T) {
	ctx := context.Background()
	m := newMusic(t)
	qc, err := m.federated().Build(ctx)
	require.NoError(t, err)

	rows, err := qc.Elements(ctx, []string{"playlists.name"}, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2, "invoices reach no playlist level and add no total row")

	got := make(map[string][2]float64)
	for _, r := range rows {
		require.Equal(t, 1, r.Coordinates().Len())
		name, ok := r.Coordinates().Get("playlists.name")
		require.True(t, ok)
		tracks, _ := r.Value("tracks_count")
		units, _ := r.Value("units_sold")
		got[name] = [2]float64{tracks, units}
	}
	assert.Equal(t, map[string][2]float64{
		"Favorites": {2, 9},
		"Chill":     {2, 9},
	}, got)
}

func TestAmbiguousBareLevel(t *testing.T) {
	ctx := context.Background()
	m := newMusic(t)
	qc, err := m.federated().Build(ctx)
	require.NoError(t, err)
	rows, err := qc.Elements(ctx, nil, nil)
	require.NoError(t, err)

	first := rows[0]
	for range 10 {
		_, ok := first.Coordinates().Get("name")
		require.False(t, ok, "media_types.name and playlists.name share the bare id")
		_, ok = first.Get("name")
		require.False(t, ok)
	}
	v, ok := first.Coordinates().Get("media_types.name")
	assert.True(t, ok)
	assert.Equal(t, "MPEG", v)
	v, ok = first.Coordinates().Get("playlists.name")
	assert.True(t, ok)
	assert.Equal(t, "Favorites", v)
	_, ok = first.Coordinates().Get("tracks.name")
	assert.False(t, ok)
}

func TestCustomRollups(t *testing.T) {
	ctx := context.Background()
	m := newMusic(t)
	qc, err := NewQuery(m.schema).Select("bulk_units_or_zero").Granulate("customers.country").Build(ctx)
	require.NoError(t, err)

	inv, _ := qc.SubCube("invoices")
	var selected []string
	for _, mt := range inv.Metrics() {
		selected = append(selected, mt.Name)
	}
	assert.Equal(t, []string{"units_sold", "bulk_units", "bulk_units_or_zero"}, selected)

	rows, err := qc.Elements(ctx, nil, nil)
	require.NoError(t, err)
	got := make(map[string][2]any)
	for _, r := range rows {
		c, _ := r.Coordinates().Get("country")
		bulk, bulkOK := r.Value("bulk_units")
		orZero, _ := r.Value("bulk_units_or_zero")
		got[c] = [2]any{bulkOK, orZero}
		if bulkOK {
			assert.Equal(t, orZero, bulk)
		}
	}
	assert.Equal(t, map[string][2]any{
		"France": {true, 4.0},
		"USA":    {true, 5.0},
	}, got)

	byCity, err := NewQuery(m.schema).Select("bulk_units_or_zero").Granulate("customers.city").Build(ctx)
	require.NoError(t, err)
	lyon, ok, err := byCity.Locate(ctx, map[string]string{"city": "Lyon"}, nil)
	require.NoError(t, err)
	require.True(t, ok)
	_, ok = lyon.Value("bulk_units")
	assert.False(t, ok, "custom rollup signalled empty and has no default")
	v, ok := lyon.Value("bulk_units_or_zero")
	assert.True(t, ok)
	assert.Zero(t, v)
}

func TestAssociationSortOrdersElements(t *testing.T) {
	ctx := context.Background()
	m := newMusic(t, withPlaylistSort(strings.Compare))
	qc, err := NewQuery(m.schema).Select("tracks_count").Granulate("playlists.name").Build(ctx)
	require.NoError(t, err)

	rows, err := qc.Elements(ctx, nil, nil)
	require.NoError(t, err)
	var names []string
	for _, r := range rows {
		n, _ := r.Coordinates().Get("playlists.name")
		names = append(names, n)
	}
	assert.Equal(t, []string{"Chill", "Favorites"}, names)
}

func TestFacts(t *testing.T) {
	ctx := context.Background()
	m := newMusic(t)
	qc, err := m.federated().Build(ctx)
	require.NoError(t, err)

	all, err := qc.Facts(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 8, all.Len())

	inv, err := qc.Facts(ctx, "invoices")
	require.NoError(t, err)
	assert.Equal(t, 4, inv.Len())

	_, err = qc.Facts(ctx, "albums")
	assert.True(t, IsQueryError(err))
}
