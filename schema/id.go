package schema

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Wildcard is the level name that addresses a whole dimension ("customers.*").
const Wildcard = "*"

// ID addresses a level or metric. Source is the dimension (for levels) or
// cube (for metrics) and is empty for a bare id. IDs are parsed once at the
// API boundary and passed around as values.
type ID struct {
	Source string
	Name   string
}

// ParseID parses "name" or "source.name".
func ParseID(s string) (ID, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	switch {
	case len(parts) == 1 && parts[0] != "":
		return ID{Name: parts[0]}, nil
	case len(parts) == 2 && parts[0] != "" && parts[1] != "":
		return ID{Source: parts[0], Name: parts[1]}, nil
	}
	return ID{}, errors.Newf("malformed id %q", s)
}

// MustParseID is ParseID for literals; it panics on malformed input.
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id ID) IsQualified() bool { return id.Source != "" }
func (id ID) IsWildcard() bool  { return id.Name == Wildcard }

func (id ID) String() string {
	if id.Source == "" {
		return id.Name
	}
	return id.Source + "." + id.Name
}
