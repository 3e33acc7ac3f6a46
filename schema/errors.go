package schema

import "github.com/cockroachdb/errors"

// ErrConfiguration marks errors caused by an invalid schema declaration:
// missing levels, sources, keys, or a level asked to do what its kind
// cannot. Test with errors.Is.
var ErrConfiguration = errors.New("configuration error")

// ConfigErrorf builds an error marked with ErrConfiguration.
func ConfigErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.NewWithDepthf(1, format, args...), ErrConfiguration)
}
