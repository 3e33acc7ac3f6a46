package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTable(t *testing.T) {
	ctx := context.Background()
	m := newMusic(t)
	qc, err := m.federated().Build(ctx)
	require.NoError(t, err)

	table, err := BuildTable(ctx, qc, TableOptions{Title: "Tracks and sales"})
	require.NoError(t, err)

	var keys, labels []string
	for _, c := range table.Columns {
		keys = append(keys, c.Key)
		labels = append(labels, c.Label)
	}
	assert.Equal(t, []string{
		"tracks.genre", "media_types.name", "playlists.name", "customers.country",
		"playlist_tracks.tracks_count", "invoices.units_sold",
	}, keys)
	assert.Equal(t, []string{"Genre", "Name", "Name", "Country", "Tracks Count", "Units sold"}, labels)
	assert.Equal(t, "right", table.Columns[4].Align)

	assert.Equal(t, [][]string{
		{"Rock", "MPEG", "Favorites", "", "2", "3"},
		{"Jazz", "AAC", "Chill", "", "1", "0"},
		{"Rock", "MPEG", "Chill", "", "1", "3"},
		{"Rock", "MPEG", "", "France", "3", "3"},
		{"Blues", "MPEG", "", "USA", "0", "5"},
		{"Blues", "MPEG", "", "France", "0", "1"},
	}, table.Rows)

	require.NotNil(t, table.Summary)
	assert.Equal(t, map[string]string{
		"playlist_tracks.tracks_count": "4",
		"invoices.units_sold":          "9",
	}, table.Summary.Values)

	_, err = BuildTable(ctx, qc, TableOptions{Metrics: []string{"revenue"}})
	assert.True(t, IsQueryError(err))
}

func TestBuildChart(t *testing.T) {
	ctx := context.Background()
	m := newMusic(t)

	split, err := NewQuery(m.schema).Select("units_sold").Granulate("customers.country", "tracks.genre").Build(ctx)
	require.NoError(t, err)
	chart, err := BuildChart(ctx, split, ChartOptions{Title: "Units"})
	require.NoError(t, err)
	require.NotNil(t, chart)
	assert.Equal(t, "bar", chart.ChartType)
	assert.Equal(t, "Country", chart.XAxis)
	assert.Equal(t, "Units sold", chart.YAxis)
	assert.Equal(t, []ChartSeries{
		{Name: "Rock", Color: defaultColors[0], Data: []ChartPoint{{"France", 3}, {"USA", 0}}},
		{Name: "Blues", Color: defaultColors[1], Data: []ChartPoint{{"France", 1}, {"USA", 5}}},
	}, chart.Series)
	assert.Len(t, chart.Colors, 2)

	perMetric, err := NewQuery(m.schema).Select("units_sold", "invoices.rows").Granulate("customers.country").Build(ctx)
	require.NoError(t, err)
	chart, err = BuildChart(ctx, perMetric, ChartOptions{Type: "pie"})
	require.NoError(t, err)
	assert.False(t, chart.ShowGrid)
	assert.Empty(t, chart.YAxis)
	assert.Equal(t, []ChartSeries{
		{Name: "Units sold", Color: defaultColors[0], Data: []ChartPoint{{"France", 4}, {"USA", 5}}},
		{Name: "Rows", Color: defaultColors[1], Data: []ChartPoint{{"France", 3}, {"USA", 1}}},
	}, chart.Series)
}

func TestBuildText(t *testing.T) {
	ctx := context.Background()
	m := newMusic(t)
	qc, err := NewQuery(m.schema).Select("units_sold").Granulate("customers.country").Build(ctx)
	require.NoError(t, err)

	text, err := BuildText(ctx, qc, "units_sold")
	require.NoError(t, err)
	assert.Equal(t, &TextData{
		Metric:   "invoices.units_sold",
		Label:    "Units sold",
		Value:    "9",
		RawValue: 9,
		Present:  true,
		Count:    2,
	}, text)

	_, err = BuildText(ctx, qc, "tracks_count")
	assert.True(t, IsQueryError(err))
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{2, "2"},
		{1234567, "1,234,567"},
		{-1234, "-1,234"},
		{1234.5, "1,234.50"},
		{0.125, "0.13"},
		{-0.5, "-0.50"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatNumber(tt.in), "%v", tt.in)
	}
	assert.Equal(t, "Tracks Count", LabelFor("tracks_count"))
	assert.Equal(t, "Media Types Name", LabelFor("media_types.name"))
}
