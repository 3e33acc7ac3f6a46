package engine

import "github.com/cockroachdb/errors"

// ============================================================================
// ERRORS
// ============================================================================
// Three kinds, told apart with errors.Is / errors.HasAssertionFailure:
//
//   ErrQuery                 caller input: unknown or ambiguous ids, slices
//                            outside the grain, conflicting slices
//   schema.ErrConfiguration  the schema cannot do what was asked, e.g. a
//                            degenerate level with no query level below
//   assertion failures       engine contract violations (re-entrant loads,
//                            lookups in the wrong direction)
//
// "Nothing here" is not an error: lookups return (value, ok).
// ============================================================================

// ErrQuery marks errors caused by the query itself.
var ErrQuery = errors.New("query error")

func queryErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.NewWithDepthf(1, format, args...), ErrQuery)
}

func asQueryError(err error) error {
	return errors.Mark(err, ErrQuery)
}

// IsQueryError reports whether err was caused by the query.
func IsQueryError(err error) bool { return errors.Is(err, ErrQuery) }
