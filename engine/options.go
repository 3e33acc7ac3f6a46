package engine

import "log/slog"

// ============================================================================
// ENGINE OPTIONS: Functional options for NewQuery()
// ============================================================================

// Option configures engine behavior via functional options pattern.
type Option func(*config)

type config struct {
	logger *slog.Logger
}

// WithLogger routes engine debug logging (scope loads, fact fetches,
// skipped sub-cubes) to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// applyOptions creates a config from functional options.
func applyOptions(opts []Option) *config {
	cfg := &config{logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}
	cfg.logger = cfg.logger.With(slog.String("component", "prism.engine"))
	return cfg
}
