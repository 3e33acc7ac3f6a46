package helpers

import (
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"github.com/spektr-org/prism/facts"
	"github.com/spektr-org/prism/schema"
)

// DefaultSelector picks the elements of a top-level array.
const DefaultSelector = "$[*]"

// ParseJSON extracts records from JSON with a JSONPath selector. Each match
// must be an object; its scalar members become fields, nested values are
// skipped.
func ParseJSON(data []byte, selector string) ([]facts.Record, error) {
	if selector == "" {
		selector = DefaultSelector
	}
	x, err := jp.ParseString(selector)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid jsonpath %q", selector)
	}
	root, err := oj.Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, "parse JSON")
	}

	matches := x.Get(root)
	records := make([]facts.Record, 0, len(matches))
	for i, m := range matches {
		obj, ok := m.(map[string]any)
		if !ok {
			return nil, errors.Newf("match %d of %s is %T, not an object", i, selector, m)
		}
		rec := newRecord(len(obj))
		for k, v := range obj {
			key := schema.SnakeCase(k)
			switch v := v.(type) {
			case string:
				put(&rec, key, v)
			case int64:
				rec.Dimensions[key] = strconv.FormatInt(v, 10)
				rec.Measures[key] = float64(v)
			case float64:
				rec.Dimensions[key] = strconv.FormatFloat(v, 'f', -1, 64)
				rec.Measures[key] = v
			case bool:
				rec.Dimensions[key] = strconv.FormatBool(v)
			}
		}
		records = append(records, rec)
	}
	return records, nil
}
