package helpers

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/spektr-org/prism/facts"
	"github.com/spektr-org/prism/schema"
)

// ============================================================================
// CSV HELPER: Parses CSV data into fact records
// ============================================================================
// Consumer reads the CSV from wherever it lives (file, S3, Sheets).
// Headers are snake-cased into field keys. Every cell is a dimension value;
// cells that parse as numbers are measures as well, so a column can serve
// as both a level key and a metric field.
// ============================================================================

// ParseCSV parses CSV bytes into records.
func ParseCSV(data []byte) ([]facts.Record, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))

	headers, err := reader.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read CSV headers")
	}
	keys := make([]string, len(headers))
	for i, h := range headers {
		keys[i] = schema.SnakeCase(strings.TrimSpace(h))
	}

	var records []facts.Record
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read CSV line %d", line)
		}

		rec := newRecord(len(keys))
		for i, val := range row {
			if i >= len(keys) {
				break
			}
			put(&rec, keys[i], strings.TrimSpace(val))
		}
		records = append(records, rec)
	}
	return records, nil
}

// ParseCSVView parses CSV into a RecordView.
func ParseCSVView(data []byte) (facts.RecordView, error) {
	records, err := ParseCSV(data)
	if err != nil {
		return nil, err
	}
	return facts.NewSliceView(records), nil
}

func newRecord(size int) facts.Record {
	return facts.Record{
		Dimensions: make(map[string]string, size),
		Measures:   make(map[string]float64),
	}
}

func put(rec *facts.Record, key, val string) {
	rec.Dimensions[key] = val
	if f, err := strconv.ParseFloat(val, 64); err == nil {
		rec.Measures[key] = f
	}
}
