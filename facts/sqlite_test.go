package facts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSales(t *testing.T) *SQLiteScope {
	t.Helper()
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE invoice_lines (customer_id TEXT, track_id TEXT, quantity INTEGER)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO invoice_lines VALUES ('c1','t1',2), ('c2','t2',1), ('c3','t4',5), ('c1','t4',1)`)
	require.NoError(t, err)
	return NewSQLiteScope(db, "invoice_lines")
}

func TestSQLiteScope_Statement(t *testing.T) {
	s := NewSQLiteScope(nil, "invoice_lines")
	s.AddSelect(Selection{Field: "customer_id"})
	s.AddSelect(Selection{Field: "quantity", Alias: "units", Aggregate: AggregateSum})
	s.AddWhere("units", Gte(2))
	s.AddWhere("track_id", With("t1", "t4"))
	s.AddGroupBy("customer_id")

	query, args := s.Statement()
	assert.Equal(t,
		`SELECT "customer_id" AS "customer_id", SUM("quantity") AS "units" FROM "invoice_lines"`+
			` WHERE "track_id" IN (?, ?) GROUP BY "customer_id" HAVING "units" >= ?`,
		query)
	assert.Equal(t, []any{"t1", "t4", 2.0}, args)
}

func TestSQLiteScope_Execute(t *testing.T) {
	s := openSales(t)
	s.AddSelect(Selection{Field: "customer_id"})
	s.AddSelect(Selection{Field: "quantity", Alias: "units", Aggregate: AggregateSum})
	s.AddSelect(Selection{Alias: "lines", Aggregate: AggregateCount})
	s.AddWhere("track_id", Without("t2"))
	s.AddGroupBy("customer_id")

	view, err := s.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, view.Len())

	got := map[string]float64{}
	for i := 0; i < view.Len(); i++ {
		got[view.Dimension(i, "customer_id")] = view.Measure(i, "units")
	}
	assert.Equal(t, map[string]float64{"c1": 3, "c3": 5}, got)
}

func TestSQLiteScope_EmptyInMatchesNothing(t *testing.T) {
	s := openSales(t)
	s.AddWhere("customer_id", With())

	view, err := s.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, view.Len())
}
