package engine

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/spektr-org/prism/facts"
	"github.com/spektr-org/prism/schema"
)

// ============================================================================
// SUB-CUBE: one cube's share of a query context
// ============================================================================
// Build (by QueryBuilder.Build, in order):
//   1. selected metrics are pushed into the fact scope
//   2. the context grain is narrowed to what the cube can answer, directly
//      or through a common-denominator level
//   3. slices decorate the fact scope (fact or join strategy)
//   4. an empty grain marks the sub-cube null; it never fetches
//
// Access: the fact scope executes once, every row is resolved to the grain
// closure, and one bitmap per (level, value) indexes the rows for grouping
// and locating.
// ============================================================================

// SubCube wraps one cube's fact scope for a query context.
type SubCube struct {
	cube    *schema.Cube
	cfg     *config
	scopes  *DimensionScopes
	space   *space
	metrics []*schema.Metric
	grain   *Grain

	// dimension → association the facts are grouped by
	fetch      map[string]*schema.LevelAssociation
	fetchOrder []string

	source facts.Scope
	null   bool

	fetched  bool
	rows     facts.RecordView
	columns  map[*schema.LevelDefinition][]string
	index    map[*schema.LevelDefinition]map[string]*roaring.Bitmap
	elements map[uint64]*Element
}

func newSubCube(cube *schema.Cube, cfg *config, scopes *DimensionScopes, sp *space, metrics []*schema.Metric, grain *Grain) (*SubCube, error) {
	s := &SubCube{
		cube:     cube,
		cfg:      cfg,
		scopes:   scopes,
		space:    sp,
		metrics:  metrics,
		grain:    newGrain(),
		fetch:    make(map[string]*schema.LevelAssociation),
		elements: make(map[uint64]*Element),
	}
	for _, level := range grain.Levels() {
		supported := cube.SupportedLevels(level.DimensionName())
		if supported == nil {
			continue
		}
		assoc, err := schema.FindCommonDenominator(level, supported)
		if err != nil {
			return nil, err
		}
		if assoc == nil {
			continue
		}
		if err := s.grain.Add(level); err != nil {
			return nil, err
		}
		s.fetch[level.DimensionName()] = assoc
		s.fetchOrder = append(s.fetchOrder, level.DimensionName())
	}

	if s.grain.IsEmpty() {
		s.null = true
		nullSubCubes.Inc()
		cfg.logger.Debug("sub-cube is null", slog.String("cube", cube.Name()), slog.String("grain", grain.String()))
		return s, nil
	}

	s.source = cube.Source()()
	for _, m := range metrics {
		if sel, ok := m.Selection(); ok {
			s.source.AddSelect(sel)
		}
	}
	for _, dim := range s.fetchOrder {
		keys := []string{s.fetch[dim].FactKey()}
		grainLevel, _ := s.grain.Level(dim)
		for _, target := range grainLevel.SelfAndAncestors() {
			if a := s.bound(dim, target); a != nil {
				keys = append(keys, a.FactKey())
			}
		}
		for _, key := range keys {
			s.source.AddSelect(facts.Selection{Field: key})
			s.source.AddGroupBy(key)
		}
	}
	return s, nil
}

// bound returns the cube's association for target when target is coarser
// than the fetch level of dim and the cube carries it on its facts. Such
// columns are read from the facts instead of through the level scopes.
func (s *SubCube) bound(dim string, target *schema.LevelDefinition) *schema.LevelAssociation {
	if target == s.fetch[dim].Definition() {
		return nil
	}
	return s.cube.Association(target.ID())
}

func (s *SubCube) Name() string              { return s.cube.Name() }
func (s *SubCube) Cube() *schema.Cube        { return s.cube }
func (s *SubCube) Grain() *Grain             { return s.grain }
func (s *SubCube) IsNull() bool              { return s.null }
func (s *SubCube) Metrics() []*schema.Metric { return s.metrics }

// FetchLevel returns the association the facts of dimension are grouped by.
func (s *SubCube) FetchLevel(dimension string) (*schema.LevelAssociation, bool) {
	a, ok := s.fetch[dimension]
	return a, ok
}

// metric resolves a selected metric by bare or cube-qualified id.
func (s *SubCube) metric(id schema.ID) *schema.Metric {
	if id.IsQualified() && id.Source != s.cube.Name() {
		return nil
	}
	for _, m := range s.metrics {
		if m.Name == id.Name {
			return m
		}
	}
	return nil
}

// Facts executes the fact scope on first use and returns its rows. A null
// sub-cube has no rows.
func (s *SubCube) Facts(ctx context.Context) (facts.RecordView, error) {
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	if s.null {
		return facts.NewSliceView(nil), nil
	}
	return s.rows, nil
}

func (s *SubCube) load(ctx context.Context) error {
	if s.null || s.fetched {
		return nil
	}
	ctx, span := tracer.Start(ctx, "prism.SubCube.Fetch", trace.WithAttributes(
		attribute.String("cube", s.cube.Name()),
		attribute.String("grain", s.grain.String()),
	))
	defer span.End()

	start := time.Now()
	rows, err := s.source.Execute(ctx)
	factFetchDuration.WithLabelValues(s.cube.Name()).Observe(time.Since(start).Seconds())
	factFetches.WithLabelValues(s.cube.Name()).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return errors.Wrapf(err, "fetching facts of cube %s", s.cube.Name())
	}

	columns := make(map[*schema.LevelDefinition][]string)
	index := make(map[*schema.LevelDefinition]map[string]*roaring.Bitmap)
	for _, dim := range s.fetchOrder {
		assoc := s.fetch[dim]
		from := assoc.Definition()
		grainLevel, _ := s.grain.Level(dim)
		for _, target := range grainLevel.SelfAndAncestors() {
			var col []string
			var err error
			if a := s.bound(dim, target); a != nil {
				col = readColumn(rows, a.FactKey())
			} else {
				col, err = s.resolveColumn(ctx, rows, assoc.FactKey(), from, target)
			}
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return err
			}
			columns[target] = col
			byValue := make(map[string]*roaring.Bitmap)
			for i, v := range col {
				if v == "" {
					continue
				}
				bm, ok := byValue[v]
				if !ok {
					bm = roaring.New()
					byValue[v] = bm
				}
				bm.Add(uint32(i))
			}
			index[target] = byValue
		}
	}

	s.rows, s.columns, s.index = rows, columns, index
	s.fetched = true
	span.SetAttributes(attribute.Int("rows", rows.Len()))
	s.cfg.logger.Debug("facts fetched",
		slog.String("cube", s.cube.Name()),
		slog.Int("rows", rows.Len()),
		slog.Duration("took", time.Since(start)))
	return nil
}

// resolveColumn translates every row's fact key at from into its value at
// target. Rows whose key has no level record resolve to "".
func (s *SubCube) resolveColumn(ctx context.Context, rows facts.RecordView, factKey string, from, target *schema.LevelDefinition) ([]string, error) {
	col := make([]string, rows.Len())
	memo := make(map[string]string)
	for i := range col {
		fk, ok := facts.Field(rows, i, factKey)
		if !ok {
			continue
		}
		v, seen := memo[fk]
		if !seen {
			var found bool
			var err error
			v, found, err = s.scopes.lookupUp(ctx, from, fk, target)
			if err != nil {
				return nil, err
			}
			if !found {
				v = ""
			}
			memo[fk] = v
		}
		col[i] = v
	}
	return col, nil
}

func readColumn(rows facts.RecordView, factKey string) []string {
	col := make([]string, rows.Len())
	for i := range col {
		col[i], _ = facts.Field(rows, i, factKey)
	}
	return col
}

// elementsAt groups the facts by levels, first-seen order unless a bound
// level carries a sort. Levels the sub-cube cannot answer are ignored.
func (s *SubCube) elementsAt(ctx context.Context, levels []*schema.LevelDefinition) ([]*Element, error) {
	if s.null {
		return nil, nil
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	var use []*schema.LevelDefinition
	for _, l := range levels {
		if s.grain.Supports(l) {
			use = append(use, l)
		}
	}

	type group struct {
		values  []string
		indices []int
	}
	var order []string
	groups := make(map[string]*group)
	vals := make([]string, len(use))
rows:
	for i := 0; i < s.rows.Len(); i++ {
		for j, l := range use {
			if vals[j] = s.columns[l][i]; vals[j] == "" {
				continue rows
			}
		}
		key := strings.Join(vals, "\x1f")
		g, ok := groups[key]
		if !ok {
			g = &group{values: slices.Clone(vals)}
			groups[key] = g
			order = append(order, key)
		}
		g.indices = append(g.indices, i)
	}

	out := make([]*Element, 0, len(order))
	for _, key := range order {
		g := groups[key]
		coords := newCoordinates(s.space)
		for j, l := range use {
			coords.set(l, g.values[j])
		}
		out = append(out, s.element(coords, g.indices))
	}
	s.sortElements(out, use)
	return out, nil
}

func (s *SubCube) sortElements(els []*Element, levels []*schema.LevelDefinition) {
	sorts := make([]schema.SortFunc, len(levels))
	custom := false
	for i, l := range levels {
		if a := s.cube.Association(l.ID()); a != nil && a.Sort() != nil {
			sorts[i] = a.Sort()
			custom = true
		}
	}
	if !custom {
		return
	}
	slices.SortStableFunc(els, func(a, b *Element) int {
		for i, l := range levels {
			if sorts[i] == nil {
				continue
			}
			av, _ := a.coords.Value(l)
			bv, _ := b.coords.Value(l)
			if c := sorts[i](av, bv); c != 0 {
				return c
			}
		}
		return 0
	})
}

// locate returns the element of every row matching coords, restricted to
// the levels this sub-cube can answer. An empty restriction matches all rows.
func (s *SubCube) locate(ctx context.Context, coords *Coordinates) (*Element, bool, error) {
	if s.null {
		return nil, false, nil
	}
	if err := s.load(ctx); err != nil {
		return nil, false, err
	}
	restricted := coords.Restrict(s.grain.Supports)
	if el, ok := s.elements[restricted.Fingerprint()]; ok {
		return el, true, nil
	}

	var bm *roaring.Bitmap
	for _, l := range restricted.Levels() {
		v, _ := restricted.Value(l)
		hit, ok := s.index[l][v]
		if !ok {
			return nil, false, nil
		}
		if bm == nil {
			bm = hit.Clone()
		} else {
			bm.And(hit)
		}
	}

	var indices []int
	if bm == nil {
		indices = make([]int, s.rows.Len())
		for i := range indices {
			indices[i] = i
		}
	} else {
		indices = make([]int, 0, bm.GetCardinality())
		it := bm.Iterator()
		for it.HasNext() {
			indices = append(indices, int(it.Next()))
		}
	}
	if len(indices) == 0 {
		return nil, false, nil
	}
	return s.element(restricted, indices), true, nil
}

// element returns the memoized element at coords, creating it from indices.
func (s *SubCube) element(coords *Coordinates, indices []int) *Element {
	fp := coords.Fingerprint()
	if el, ok := s.elements[fp]; ok {
		return el
	}
	el := newElement(s, coords, indices)
	s.elements[fp] = el
	return el
}
