package engine

import (
	"context"
	"log/slog"
	"slices"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/spektr-org/prism/facts"
	"github.com/spektr-org/prism/schema"
)

// ============================================================================
// LEVEL SCOPES: per-query resolvers for one level
// ============================================================================
// A level scope translates between a level's values and the records that
// carry them. Scopes are shared by every sub-cube of a query context, so a
// slice applied through one is visible to all of them.
//
//   QueryLevelScope       executes the level's own source; records are
//                         indexed by the level key, first record wins.
//   DegenerateLevelScope  has no source; it indexes the records of the
//                         query level below by its own key, first wins.
//
// Both load lazily and exactly once: unloaded → loading → loaded.
// ============================================================================

// LevelScope resolves values of one level within a query context.
type LevelScope interface {
	Level() *schema.LevelDefinition
	Load(ctx context.Context) error
	IsLoaded() bool
	IsSliceable() bool

	// All returns the records carrying this level's values.
	All(ctx context.Context) (facts.RecordView, error)
	// Keys returns the distinct values of this level, in record order.
	Keys(ctx context.Context) ([]string, error)

	SliceWith(values ...string) error
	SliceWithout(values ...string) error

	// RecursiveLookupUp translates value into its ancestor at target. The
	// bool is false when value has no record.
	RecursiveLookupUp(ctx context.Context, value string, target *schema.LevelDefinition) (string, bool, error)
	// RecursiveLookupDown expands values into every descendant value at target.
	RecursiveLookupDown(ctx context.Context, values []string, target *schema.LevelDefinition) ([]string, error)
}

type scopeState int

const (
	unloaded scopeState = iota
	loading
	loaded
)

// ── Query level scope ──────────────────────────────────────

// QueryLevelScope is backed by the level's own fact source.
type QueryLevelScope struct {
	level  *schema.LevelDefinition
	reg    *DimensionScopes
	source facts.Scope

	state   scopeState
	records facts.RecordView
	byKey   map[string]int
	keys    []string
	// field → value → record indices, built on demand for lookups down
	index map[string]map[string][]int
}

func newQueryLevelScope(reg *DimensionScopes, level *schema.LevelDefinition) *QueryLevelScope {
	return &QueryLevelScope{level: level, reg: reg, source: level.Source()()}
}

func (s *QueryLevelScope) Level() *schema.LevelDefinition { return s.level }
func (s *QueryLevelScope) IsLoaded() bool                 { return s.state == loaded }
func (s *QueryLevelScope) IsSliceable() bool              { return true }

// Load executes the level source once. A failed load leaves the scope
// unloaded so it can be retried.
func (s *QueryLevelScope) Load(ctx context.Context) error {
	switch s.state {
	case loaded:
		return nil
	case loading:
		return errors.AssertionFailedf("level scope %s: re-entrant load", s.level)
	}
	s.state = loading

	ctx, span := tracer.Start(ctx, "prism.LevelScope.Load", trace.WithAttributes(
		attribute.String("level", s.level.ID()),
		attribute.String("kind", s.level.Kind().String()),
	))
	defer span.End()

	view, err := s.source.Execute(ctx)
	if err != nil {
		s.state = unloaded
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return errors.Wrapf(err, "loading level %s", s.level)
	}

	s.records = view
	s.byKey = make(map[string]int, view.Len())
	s.keys = s.keys[:0]
	for i := 0; i < view.Len(); i++ {
		k, ok := facts.Field(view, i, s.level.Key())
		if !ok {
			continue
		}
		if _, seen := s.byKey[k]; seen {
			continue
		}
		s.byKey[k] = i
		s.keys = append(s.keys, k)
	}
	s.state = loaded
	scopeLoads.WithLabelValues(s.level.Kind().String()).Inc()
	span.SetAttributes(attribute.Int("records", view.Len()))
	s.reg.cfg.logger.Debug("level scope loaded",
		slog.String("level", s.level.ID()),
		slog.Int("records", view.Len()),
		slog.Int("keys", len(s.keys)))
	return nil
}

func (s *QueryLevelScope) All(ctx context.Context) (facts.RecordView, error) {
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	return s.records, nil
}

func (s *QueryLevelScope) Keys(ctx context.Context) ([]string, error) {
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	return slices.Clone(s.keys), nil
}

func (s *QueryLevelScope) SliceWith(values ...string) error {
	s.slice(s.level.Key(), facts.With(values...))
	return nil
}

func (s *QueryLevelScope) SliceWithout(values ...string) error {
	s.slice(s.level.Key(), facts.Without(values...))
	return nil
}

// slice narrows the backing source. Once loaded, the cached records keep
// answering lookups; the where only reaches loads that have not run yet.
func (s *QueryLevelScope) slice(field string, p facts.Predicate) {
	if s.state != unloaded {
		s.reg.cfg.logger.Debug("slicing a loaded level scope",
			slog.String("level", s.level.ID()),
			slog.String("field", field),
			slog.String("predicate", p.String()))
	}
	s.source.AddWhere(field, p)
}

// representative returns the index of the record for key, first one wins.
func (s *QueryLevelScope) representative(ctx context.Context, key string) (int, bool, error) {
	if err := s.Load(ctx); err != nil {
		return 0, false, err
	}
	i, ok := s.byKey[key]
	return i, ok, nil
}

// indicesBy returns the indices of records whose field holds any of values,
// in record order.
func (s *QueryLevelScope) indicesBy(ctx context.Context, field string, values []string) ([]int, error) {
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	if s.index == nil {
		s.index = make(map[string]map[string][]int)
	}
	byValue, ok := s.index[field]
	if !ok {
		byValue = make(map[string][]int)
		for i := 0; i < s.records.Len(); i++ {
			if v, ok := facts.Field(s.records, i, field); ok {
				byValue[v] = append(byValue[v], i)
			}
		}
		s.index[field] = byValue
	}
	var out []int
	for _, v := range dedupe(values) {
		out = append(out, byValue[v]...)
	}
	slices.Sort(out)
	return out, nil
}

func (s *QueryLevelScope) RecursiveLookupUp(ctx context.Context, value string, target *schema.LevelDefinition) (string, bool, error) {
	return s.reg.lookupUp(ctx, s.level, value, target)
}

func (s *QueryLevelScope) RecursiveLookupDown(ctx context.Context, values []string, target *schema.LevelDefinition) ([]string, error) {
	return s.reg.lookupDown(ctx, s.level, values, target)
}

// ── Degenerate level scope ─────────────────────────────────

// DegenerateLevelScope reads its values off the records of the nearest
// finer query level. Without such a level it can only answer for itself.
type DegenerateLevelScope struct {
	level *schema.LevelDefinition
	reg   *DimensionScopes
	below *QueryLevelScope

	state scopeState
	// value → index of the first below record carrying it
	cache map[string]int
	keys  []string
}

func newDegenerateLevelScope(reg *DimensionScopes, level *schema.LevelDefinition, below *QueryLevelScope) *DegenerateLevelScope {
	return &DegenerateLevelScope{level: level, reg: reg, below: below}
}

func (s *DegenerateLevelScope) Level() *schema.LevelDefinition { return s.level }
func (s *DegenerateLevelScope) IsLoaded() bool                 { return s.state == loaded }
func (s *DegenerateLevelScope) IsSliceable() bool              { return s.below != nil }

func (s *DegenerateLevelScope) requireBelow() error {
	if s.below == nil {
		return schema.ConfigErrorf("degenerate level %s has no query level below it", s.level)
	}
	return nil
}

// Load loads the scope below and caches, for every value of this level,
// the first below record that carries it. Later records with the same
// value never override the cached one.
func (s *DegenerateLevelScope) Load(ctx context.Context) error {
	switch s.state {
	case loaded:
		return nil
	case loading:
		return errors.AssertionFailedf("level scope %s: re-entrant load", s.level)
	}
	if err := s.requireBelow(); err != nil {
		return err
	}
	s.state = loading
	records, err := s.below.All(ctx)
	if err != nil {
		s.state = unloaded
		return err
	}
	s.cache = make(map[string]int)
	s.keys = s.keys[:0]
	for i := 0; i < records.Len(); i++ {
		v, ok := facts.Field(records, i, s.level.Key())
		if !ok {
			continue
		}
		if _, seen := s.cache[v]; seen {
			continue
		}
		s.cache[v] = i
		s.keys = append(s.keys, v)
	}
	s.state = loaded
	scopeLoads.WithLabelValues(s.level.Kind().String()).Inc()
	s.reg.cfg.logger.Debug("level scope loaded",
		slog.String("level", s.level.ID()),
		slog.String("below", s.below.level.ID()),
		slog.Int("keys", len(s.keys)))
	return nil
}

// All returns one representative below record per value.
func (s *DegenerateLevelScope) All(ctx context.Context) (facts.RecordView, error) {
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	idx := make([]int, len(s.keys))
	for i, k := range s.keys {
		idx[i] = s.cache[k]
	}
	return facts.NewSubView(s.below.records, idx), nil
}

func (s *DegenerateLevelScope) Keys(ctx context.Context) ([]string, error) {
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	return slices.Clone(s.keys), nil
}

// SliceWith narrows the query level below to records carrying values.
func (s *DegenerateLevelScope) SliceWith(values ...string) error {
	if err := s.requireBelow(); err != nil {
		return err
	}
	s.below.slice(s.level.Key(), facts.With(values...))
	return nil
}

func (s *DegenerateLevelScope) SliceWithout(values ...string) error {
	if err := s.requireBelow(); err != nil {
		return err
	}
	s.below.slice(s.level.Key(), facts.Without(values...))
	return nil
}

func (s *DegenerateLevelScope) representative(ctx context.Context, value string) (int, bool, error) {
	if err := s.Load(ctx); err != nil {
		return 0, false, err
	}
	i, ok := s.cache[value]
	return i, ok, nil
}

func (s *DegenerateLevelScope) RecursiveLookupUp(ctx context.Context, value string, target *schema.LevelDefinition) (string, bool, error) {
	return s.reg.lookupUp(ctx, s.level, value, target)
}

func (s *DegenerateLevelScope) RecursiveLookupDown(ctx context.Context, values []string, target *schema.LevelDefinition) ([]string, error) {
	return s.reg.lookupDown(ctx, s.level, values, target)
}

// ── Recursive lookups ──────────────────────────────────────

// lookupUp walks from the record holding value toward target, hopping across
// query levels through their foreign keys.
func (r *DimensionScopes) lookupUp(ctx context.Context, from *schema.LevelDefinition, value string, target *schema.LevelDefinition) (string, bool, error) {
	if target == from {
		return value, true, nil
	}
	if !target.IsAncestorOf(from) {
		return "", false, errors.AssertionFailedf("lookup up from %s to %s: target is not coarser", from, target)
	}
	recordLevel := from.RecordLevel()
	if recordLevel == nil {
		return "", false, schema.ConfigErrorf("degenerate level %s has no query level below it", from)
	}
	q, err := r.queryScope(recordLevel)
	if err != nil {
		return "", false, err
	}

	var (
		idx int
		ok  bool
	)
	if from.Kind() == schema.QueryLevel {
		idx, ok, err = q.representative(ctx, value)
	} else {
		d, derr := r.degenerateScope(from)
		if derr != nil {
			return "", false, derr
		}
		idx, ok, err = d.representative(ctx, value)
	}
	if err != nil || !ok {
		return "", false, err
	}

	if target.RecordLevel() == q.level {
		v, ok := facts.Field(q.records, idx, target.Key())
		return v, ok, nil
	}
	above := q.level.QueryLevelAbove()
	if above == nil || (target != above && !target.IsAncestorOf(above)) {
		return "", false, schema.ConfigErrorf("level %s: no query level chain up to %s", from, target)
	}
	fk, ok := facts.Field(q.records, idx, above.Key())
	if !ok {
		return "", false, nil
	}
	return r.lookupUp(ctx, above, fk, target)
}

// lookupDown expands values at from into every value at the finer target.
func (r *DimensionScopes) lookupDown(ctx context.Context, from *schema.LevelDefinition, values []string, target *schema.LevelDefinition) ([]string, error) {
	if target == from {
		return dedupe(values), nil
	}
	if !from.IsAncestorOf(target) {
		return nil, errors.AssertionFailedf("lookup down from %s to %s: target is not finer", from, target)
	}
	below := from.QueryLevelBelow()
	if below == nil {
		return nil, schema.ConfigErrorf("level %s has no query level below it", from)
	}
	q, err := r.queryScope(below)
	if err != nil {
		return nil, err
	}
	idxs, err := q.indicesBy(ctx, from.Key(), values)
	if err != nil {
		return nil, err
	}

	field := below.Key()
	if target != below && target.RecordLevel() == below {
		field = target.Key()
	}
	found := make([]string, 0, len(idxs))
	for _, i := range idxs {
		if v, ok := facts.Field(q.records, i, field); ok {
			found = append(found, v)
		}
	}
	found = dedupe(found)
	if target == below || target.RecordLevel() == below {
		return found, nil
	}
	return r.lookupDown(ctx, below, found, target)
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
