package engine

import (
	"context"
	"log/slog"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/spektr-org/prism/facts"
	"github.com/spektr-org/prism/schema"
)

// ============================================================================
// QUERY BUILDER
// ============================================================================
// Immutable: every method returns a new builder, so a partial query can be
// shared and extended.
//
//   qc, err := engine.NewQuery(s).
//       Select("units_sold").
//       Slice("tracks.genre", facts.With("Rock")).
//       Granulate("customers.country").
//       Build(ctx)
//
// Build resolves every id up front. Query errors are returned before any
// level scope or fact scope executes, except join-strategy slices, which
// load the level scopes they translate through.
// ============================================================================

type sliceArg struct {
	id   string
	pred facts.Predicate
}

// QueryBuilder describes a query against a schema.
type QueryBuilder struct {
	schema  *schema.Schema
	opts    []Option
	cubes   []string
	selects []string
	slicers []sliceArg
	levels  []string
}

// NewQuery starts a query on s.
func NewQuery(s *schema.Schema, opts ...Option) QueryBuilder {
	return QueryBuilder{schema: s, opts: opts}
}

// From limits the query to cubes. Without From every cube participates.
func (b QueryBuilder) From(cubes ...string) QueryBuilder {
	b.cubes = append(slices.Clip(b.cubes), cubes...)
	return b
}

// Select adds metric ids, bare or "cube.metric". Without Select every metric
// of every participating cube is selected.
func (b QueryBuilder) Select(metrics ...string) QueryBuilder {
	b.selects = append(slices.Clip(b.selects), metrics...)
	return b
}

// Slice filters on a level or metric id. Level slices take With/Without;
// metric slices filter the rolled-up value.
func (b QueryBuilder) Slice(id string, p facts.Predicate) QueryBuilder {
	b.slicers = append(slices.Clip(b.slicers), sliceArg{id: id, pred: p})
	return b
}

// Granulate sets the grain. Without it the grain is the finest bound level
// of every dimension of the participating cubes.
func (b QueryBuilder) Granulate(levels ...string) QueryBuilder {
	b.levels = append(slices.Clip(b.levels), levels...)
	return b
}

// Build compiles the query into a QueryContext.
func (b QueryBuilder) Build(ctx context.Context) (*QueryContext, error) {
	cfg := applyOptions(b.opts)
	id := uuid.New()
	ctx, span := tracer.Start(ctx, "prism.Query.Build", trace.WithAttributes(
		attribute.String("query", id.String()),
		attribute.StringSlice("select", b.selects),
		attribute.StringSlice("granulate", b.levels),
	))
	defer span.End()

	qc, err := b.build(ctx, cfg, id)
	if err != nil {
		if IsQueryError(err) {
			queryErrors.Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	cfg.logger.Debug("query built",
		slog.String("query", id.String()),
		slog.String("grain", qc.grain.String()),
		slog.Int("sub_cubes", len(qc.subCubes)))
	return qc, nil
}

func (b QueryBuilder) build(ctx context.Context, cfg *config, id uuid.UUID) (*QueryContext, error) {
	if b.schema == nil {
		return nil, errors.AssertionFailedf("query without a schema")
	}
	cubes, err := b.resolveCubes()
	if err != nil {
		return nil, err
	}
	selected, cubes, err := b.resolveMetrics(cubes)
	if err != nil {
		return nil, err
	}
	grain, err := b.resolveGrain(cubes)
	if err != nil {
		return nil, err
	}

	scopes := newDimensionScopes(cfg)
	for _, l := range grain.Levels() {
		scopes.register(l.Dimension())
	}
	sp := &space{grain: grain, dims: make(map[string]bool), metrics: make(map[string]bool)}
	for _, d := range b.schema.Dimensions() {
		sp.dims[d.Name()] = true
	}
	for _, c := range cubes {
		for _, m := range selected[c] {
			sp.metrics[m.ID()] = true
			sp.metrics[m.Name] = true
		}
	}

	qc := &QueryContext{
		id:     id,
		schema: b.schema,
		cfg:    cfg,
		grain:  grain,
		scopes: scopes,
		space:  sp,
		byName: make(map[string]*SubCube, len(cubes)),
	}
	for _, c := range cubes {
		s, err := newSubCube(c, cfg, scopes, sp, selected[c], grain)
		if err != nil {
			return nil, err
		}
		qc.subCubes = append(qc.subCubes, s)
		qc.byName[c.Name()] = s
	}

	levelSlices, metricSlices, err := b.classifySlices(qc)
	if err != nil {
		return nil, err
	}

	// Level scopes are narrowed before any sub-cube resolves keys through them.
	for _, ls := range levelSlices {
		scope, err := scopes.scope(ls.level)
		if err != nil {
			return nil, err
		}
		if !scope.IsSliceable() {
			continue
		}
		if err := ls.apply(scope); err != nil {
			return nil, err
		}
	}
	for _, s := range qc.live() {
		for _, ls := range levelSlices {
			if err := b.sliceSubCube(ctx, qc, s, ls); err != nil {
				return nil, err
			}
		}
	}
	for _, ms := range metricSlices {
		if !ms.sub.null {
			ms.sub.source.AddWhere(ms.metric.Name, ms.pred)
		}
	}

	grain.freeze()
	for _, s := range qc.subCubes {
		s.grain.freeze()
	}
	return qc, nil
}

func (b QueryBuilder) resolveCubes() ([]*schema.Cube, error) {
	if len(b.cubes) == 0 {
		if len(b.schema.Cubes()) == 0 {
			return nil, queryErrorf("schema has no cubes")
		}
		return slices.Clone(b.schema.Cubes()), nil
	}
	var out []*schema.Cube
	for _, name := range b.cubes {
		c, ok := b.schema.Cube(name)
		if !ok {
			return nil, queryErrorf("unknown cube %s", name)
		}
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out, nil
}

// resolveMetrics returns the selected metrics per cube, required metrics
// included, and drops cubes none of the selection belongs to.
func (b QueryBuilder) resolveMetrics(cubes []*schema.Cube) (map[*schema.Cube][]*schema.Metric, []*schema.Cube, error) {
	out := make(map[*schema.Cube][]*schema.Metric, len(cubes))
	if len(b.selects) == 0 {
		for _, c := range cubes {
			out[c] = c.Metrics()
		}
		return out, cubes, nil
	}

	picked := make(map[*schema.Metric]bool)
	var pick func(m *schema.Metric)
	pick = func(m *schema.Metric) {
		if picked[m] {
			return
		}
		picked[m] = true
		for _, req := range m.Requires {
			r, _ := m.Cube().Metric(req)
			pick(r)
		}
	}
	for _, raw := range b.selects {
		id, err := schema.ParseID(raw)
		if err != nil {
			return nil, nil, asQueryError(err)
		}
		m, err := findMetric(cubes, id)
		if err != nil {
			return nil, nil, err
		}
		pick(m)
	}

	var kept []*schema.Cube
	for _, c := range cubes {
		for _, m := range c.Metrics() {
			if picked[m] {
				out[c] = append(out[c], m)
			}
		}
		if len(out[c]) > 0 {
			kept = append(kept, c)
		}
	}
	return out, kept, nil
}

// findMetric resolves a metric id among cubes. A bare id must name a metric
// of exactly one cube.
func findMetric(cubes []*schema.Cube, id schema.ID) (*schema.Metric, error) {
	var found []*schema.Metric
	for _, c := range cubes {
		if id.IsQualified() && c.Name() != id.Source {
			continue
		}
		if m, ok := c.Metric(id.Name); ok {
			found = append(found, m)
		}
	}
	switch len(found) {
	case 0:
		return nil, queryErrorf("unknown metric %s", id)
	case 1:
		return found[0], nil
	}
	return nil, queryErrorf("ambiguous metric %s: qualify it as %s or %s", id, found[0].ID(), found[1].ID())
}

func (b QueryBuilder) resolveGrain(cubes []*schema.Cube) (*Grain, error) {
	grain := newGrain()
	if len(b.levels) == 0 {
		for _, c := range cubes {
			for _, a := range c.LowestLevels() {
				if err := grain.Add(a); err != nil {
					return nil, err
				}
			}
		}
		return grain, nil
	}
	for _, raw := range b.levels {
		l, err := b.level(raw)
		if err != nil {
			return nil, err
		}
		if err := grain.Add(l); err != nil {
			return nil, err
		}
	}
	return grain, nil
}

func (b QueryBuilder) level(raw string) (*schema.LevelDefinition, error) {
	id, err := schema.ParseID(raw)
	if err != nil {
		return nil, asQueryError(err)
	}
	if id.IsWildcard() {
		return nil, queryErrorf("%s: wildcards only reset coordinates", raw)
	}
	l, err := b.schema.Level(id)
	if err != nil {
		return nil, asQueryError(err)
	}
	return l, nil
}

// ── Slices ─────────────────────────────────────────────────

type levelSlice struct {
	level *schema.LevelDefinition
	pred  facts.Predicate
}

func (ls levelSlice) apply(scope LevelScope) error {
	if ls.pred.Op == facts.OpIn {
		return scope.SliceWith(ls.pred.Values...)
	}
	return scope.SliceWithout(ls.pred.Values...)
}

type metricSlice struct {
	sub    *SubCube
	metric *schema.Metric
	pred   facts.Predicate
}

// classifySlices splits slices into level and metric slices and merges the
// level slices of each dimension into one.
func (b QueryBuilder) classifySlices(qc *QueryContext) ([]levelSlice, []metricSlice, error) {
	var (
		byDim   = make(map[string]*levelSlice)
		dimList []string
		metrics []metricSlice
	)
	for _, sa := range b.slicers {
		id, err := schema.ParseID(sa.id)
		if err != nil {
			return nil, nil, asQueryError(err)
		}

		level, isLevel, err := b.sliceLevel(id)
		if err != nil {
			return nil, nil, err
		}
		if !isLevel {
			ms, err := sliceMetric(qc, id, sa.pred)
			if err != nil {
				return nil, nil, err
			}
			metrics = append(metrics, ms)
			continue
		}

		if !qc.grain.Supports(level) {
			return nil, nil, queryErrorf("cannot slice on %s: level is not in the grain %s", level, qc.grain)
		}
		if !sa.pred.IsDimensional() {
			return nil, nil, queryErrorf("cannot slice level %s with %s", level, sa.pred)
		}

		dim := level.DimensionName()
		cur, ok := byDim[dim]
		if !ok {
			byDim[dim] = &levelSlice{level: level, pred: sa.pred}
			dimList = append(dimList, dim)
			continue
		}
		if cur.pred.Op != sa.pred.Op {
			return nil, nil, queryErrorf("dimension %s is sliced both with and without values", dim)
		}
		switch {
		case cur.level == level && sa.pred.Op == facts.OpIn:
			cur.pred = facts.With(intersect(cur.pred.Values, sa.pred.Values)...)
		case cur.level == level:
			cur.pred = facts.Without(dedupe(append(slices.Clone(cur.pred.Values), sa.pred.Values...))...)
		case level.Ordinal() > cur.level.Ordinal():
			*cur = levelSlice{level: level, pred: sa.pred}
		}
	}

	out := make([]levelSlice, len(dimList))
	for i, dim := range dimList {
		out[i] = *byDim[dim]
	}
	return out, metrics, nil
}

// sliceLevel resolves a slice id to a level. A qualified id is a level when
// its source is a dimension; a bare id is a level unless no level has that
// name.
func (b QueryBuilder) sliceLevel(id schema.ID) (*schema.LevelDefinition, bool, error) {
	if id.IsQualified() {
		if _, ok := b.schema.Dimension(id.Source); !ok {
			if _, ok := b.schema.Cube(id.Source); ok {
				return nil, false, nil
			}
			return nil, false, queryErrorf("unknown id %s", id)
		}
	}
	l, err := b.schema.Level(id)
	switch {
	case err == nil:
		return l, true, nil
	case !id.IsQualified() && errors.Is(err, schema.ErrUnknownID):
		return nil, false, nil
	}
	return nil, false, asQueryError(err)
}

func sliceMetric(qc *QueryContext, id schema.ID, p facts.Predicate) (metricSlice, error) {
	var found []metricSlice
	for _, s := range qc.subCubes {
		if m := s.metric(id); m != nil {
			found = append(found, metricSlice{sub: s, metric: m, pred: p})
		}
	}
	switch {
	case len(found) == 0:
		return metricSlice{}, queryErrorf("cannot slice on %s: not a level or a selected metric", id)
	case len(found) > 1:
		return metricSlice{}, queryErrorf("ambiguous metric %s in slice", id)
	case found[0].metric.Rollup == schema.RollupCustom:
		return metricSlice{}, queryErrorf("cannot slice on custom metric %s", found[0].metric.ID())
	}
	return found[0], nil
}

// sliceSubCube decorates one sub-cube's fact scope with a level slice. A
// cube binding the level filters its own fact key; any other cube filters
// the fact key of its common-denominator level by the keys the slice
// expands to. Cubes that cannot answer the dimension ignore the slice.
func (b QueryBuilder) sliceSubCube(ctx context.Context, qc *QueryContext, s *SubCube, ls levelSlice) error {
	if a := s.cube.Association(ls.level.ID()); a != nil {
		s.source.AddWhere(a.FactKey(), ls.pred)
		return nil
	}
	supported := s.cube.SupportedLevels(ls.level.DimensionName())
	if supported == nil {
		qc.cfg.logger.Debug("slice ignored by cube without the dimension",
			slog.String("cube", s.Name()), slog.String("level", ls.level.ID()))
		return nil
	}
	c, err := schema.FindCommonDenominator(ls.level, supported)
	if err != nil {
		return err
	}
	if c == nil {
		qc.cfg.logger.Debug("slice ignored by cube without a common denominator",
			slog.String("cube", s.Name()), slog.String("level", ls.level.ID()))
		return nil
	}

	scope, err := qc.scopes.scope(ls.level)
	if err != nil {
		return err
	}
	if !scope.IsSliceable() {
		return schema.ConfigErrorf("cannot slice %s through %s: %s has no query level below it", s.Name(), c.ID(), ls.level)
	}
	keys, err := scope.RecursiveLookupDown(ctx, ls.pred.Values, c.Definition())
	if err != nil {
		return err
	}
	if ls.pred.Op == facts.OpNotIn {
		target, err := qc.scopes.scope(c.Definition())
		if err != nil {
			return err
		}
		all, err := target.Keys(ctx)
		if err != nil {
			return err
		}
		keys = subtract(all, keys)
	}
	s.source.AddWhere(c.FactKey(), facts.With(keys...))
	return nil
}

func intersect(a, b []string) []string {
	var out []string
	for _, v := range a {
		if slices.Contains(b, v) && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func subtract(a, b []string) []string {
	drop := make(map[string]bool, len(b))
	for _, v := range b {
		drop[v] = true
	}
	var out []string
	for _, v := range a {
		if !drop[v] {
			out = append(out, v)
		}
	}
	return out
}
