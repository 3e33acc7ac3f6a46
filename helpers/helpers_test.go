package helpers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spektr-org/prism/engine"
	"github.com/spektr-org/prism/facts"
	"github.com/spektr-org/prism/schema"
)

func TestParseCSV(t *testing.T) {
	records, err := ParseCSV([]byte("Customer ID,City,Quantity\nc1, Paris ,2\nc2,Lyon,1.5\n"))
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, map[string]string{"customer_id": "c1", "city": "Paris", "quantity": "2"}, records[0].Dimensions)
	assert.Equal(t, map[string]float64{"quantity": 2}, records[0].Measures)
	assert.Equal(t, 1.5, records[1].Measures["quantity"])

	_, err = ParseCSV(nil)
	assert.Error(t, err)
	_, err = ParseCSV([]byte("a,b\n1,2,3\n"))
	assert.ErrorContains(t, err, "line 2")
}

func TestParseJSON(t *testing.T) {
	data := []byte(`{"lines": [
		{"invoiceId": 7, "mediaType": "MPEG", "quantity": 2.5, "gift": true, "tags": ["x"]},
		{"invoiceId": 8, "mediaType": "AAC", "quantity": 1}
	]}`)
	records, err := ParseJSON(data, "$.lines[*]")
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, map[string]string{"invoice_id": "7", "media_type": "MPEG", "quantity": "2.5", "gift": "true"}, records[0].Dimensions)
	assert.Equal(t, map[string]float64{"invoice_id": 7, "quantity": 2.5}, records[0].Measures)

	_, err = ParseJSON(data, "")
	assert.ErrorContains(t, err, "not an object")
	_, err = ParseJSON(data, "$[")
	assert.ErrorContains(t, err, "invalid jsonpath")
	_, err = ParseJSON([]byte("{"), "$")
	assert.Error(t, err)
}

const storeYAML = `
name: store
dimensions:
  - name: customers
    levels:
      - {name: country, kind: degenerate, key: country}
      - name: customer
        kind: query
        key: customer_id
        source: {kind: csv, path: customers.csv}
  - name: media_types
    levels:
      - {name: name, kind: degenerate, key: media_type}
cubes:
  - name: invoices
    source: {kind: sqlite, path: store.db, table: invoice_lines}
    levels:
      - {level: customers.customer}
      - {level: media_types.name}
    metrics:
      - {name: units_sold, rollup: sum, field: quantity, default: 0}
  - name: returns
    source: {kind: json, path: returns.json, selector: "$.returns[*]"}
    levels:
      - {level: customers.customer}
    metrics:
      - {name: returned, rollup: sum, field: quantity, default: 0}
`

func writeStore(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "customers.csv"),
		[]byte("customer_id,country\nc1,France\nc2,France\nc3,USA\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "returns.json"),
		[]byte(`{"returns": [{"customer_id": "c3", "quantity": 2}]}`), 0o644))

	db, err := facts.OpenSQLite(filepath.Join(dir, "store.db"))
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE invoice_lines (customer_id TEXT, media_type TEXT, quantity INTEGER)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO invoice_lines VALUES ('c1','MPEG',2), ('c2','MPEG',1), ('c3','AAC',5)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	return dir
}

func TestResolverBuildsQueryableSchema(t *testing.T) {
	ctx := context.Background()
	dir := writeStore(t)

	cfg, err := schema.ParseConfig([]byte(storeYAML))
	require.NoError(t, err)
	r := NewResolver(dir)
	t.Cleanup(func() { assert.NoError(t, r.Close()) })
	s, err := cfg.Build(r.Resolve)
	require.NoError(t, err)

	qc, err := engine.NewQuery(s).
		Select("units_sold", "returned").
		Granulate("customers.country").
		Slice("customers.country", facts.With("USA")).
		Build(ctx)
	require.NoError(t, err)

	rows, err := qc.Elements(ctx, nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	units, _ := rows[0].Fetch("units_sold")
	returned, _ := rows[0].Fetch("returned")
	assert.Equal(t, 5.0, units)
	assert.Equal(t, 2.0, returned)
}

func TestResolverErrors(t *testing.T) {
	r := NewResolver(t.TempDir())
	defer r.Close()

	_, err := r.Resolve(schema.SourceConfig{Kind: "csv", Path: "missing.csv"})
	assert.Error(t, err)
	_, err = r.Resolve(schema.SourceConfig{Kind: "sqlite", Path: "missing.db", Table: "t"})
	assert.Error(t, err)
	_, err = r.Resolve(schema.SourceConfig{Kind: "parquet", Path: "x"})
	assert.ErrorIs(t, err, schema.ErrConfiguration)
}
