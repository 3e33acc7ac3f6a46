package main

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/spektr-org/prism/facts"
)

var comparisons = map[string]func(float64) facts.Predicate{
	">":  facts.Gt,
	">=": facts.Gte,
	"<":  facts.Lt,
	"<=": facts.Lte,
}

// parseSlice reads "id=a,b", "id!=a,b" or "id<op>number". The operator is
// the first run of operator characters, so members may contain them.
func parseSlice(raw string) (string, facts.Predicate, error) {
	i := strings.IndexAny(raw, "!=<>")
	if i <= 0 {
		return "", facts.Predicate{}, errors.Newf("slice %q: expected id=a,b, id!=a,b or id>n", raw)
	}
	id := strings.TrimSpace(raw[:i])
	op := raw[i : i+1]
	if i+1 < len(raw) && raw[i+1] == '=' && op != "=" {
		op += "="
	}
	rest := raw[i+len(op):]

	switch op {
	case "=":
		return id, facts.With(members(rest)...), nil
	case "!=":
		return id, facts.Without(members(rest)...), nil
	case "!":
		return "", facts.Predicate{}, errors.Newf("slice %q: expected != after !", raw)
	}
	s := strings.TrimSpace(rest)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", facts.Predicate{}, errors.Newf("slice %q: %q is not a number", raw, s)
	}
	return id, comparisons[op](v), nil
}

func members(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
