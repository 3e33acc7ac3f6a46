package engine

import (
	"context"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/spektr-org/prism/facts"
	"github.com/spektr-org/prism/schema"
)

// ============================================================================
// QUERY CONTEXT: the built query
// ============================================================================
// A QueryContext owns one sub-cube per participating cube, the level scopes
// they share and the combined grain. It is single-threaded: the first call
// that needs facts fetches them, later calls reuse them.
// ============================================================================

// QueryContext is the result of QueryBuilder.Build.
type QueryContext struct {
	id       uuid.UUID
	schema   *schema.Schema
	cfg      *config
	grain    *Grain
	scopes   *DimensionScopes
	space    *space
	subCubes []*SubCube
	byName   map[string]*SubCube
}

// ID identifies the context in logs and traces.
func (qc *QueryContext) ID() uuid.UUID { return qc.id }

func (qc *QueryContext) Grain() *Grain            { return qc.grain }
func (qc *QueryContext) Scopes() *DimensionScopes { return qc.scopes }
func (qc *QueryContext) SubCubes() []*SubCube     { return qc.subCubes }

func (qc *QueryContext) SubCube(name string) (*SubCube, bool) {
	s, ok := qc.byName[name]
	return s, ok
}

// Metrics returns the selected metrics of every sub-cube, in registration order.
func (qc *QueryContext) Metrics() []*schema.Metric {
	var out []*schema.Metric
	for _, s := range qc.subCubes {
		out = append(out, s.metrics...)
	}
	return out
}

// live returns the sub-cubes that are not null.
func (qc *QueryContext) live() []*SubCube {
	out := make([]*SubCube, 0, len(qc.subCubes))
	for _, s := range qc.subCubes {
		if !s.null {
			out = append(out, s)
		}
	}
	return out
}

func (qc *QueryContext) metric(metric string) *schema.Metric {
	for _, s := range qc.subCubes {
		if m := s.metricByID(metric); m != nil {
			return m
		}
	}
	return nil
}

// Elements groups the facts at levels (the grain when empty). With a single
// participating sub-cube the rows are its elements; otherwise every
// element's coordinate is probed against all participants and answered by
// a virtual element. metrics, when given, limits the participants to the
// sub-cubes selecting any of them.
func (qc *QueryContext) Elements(ctx context.Context, levels []string, metrics []string) ([]Row, error) {
	ctx, span := tracer.Start(ctx, "prism.QueryContext.Elements", trace.WithAttributes(
		attribute.String("query", qc.id.String()),
	))
	defer span.End()

	at := qc.grain.Levels()
	if len(levels) > 0 {
		at = make([]*schema.LevelDefinition, 0, len(levels))
		for _, raw := range levels {
			id, err := schema.ParseID(raw)
			if err != nil {
				return nil, asQueryError(err)
			}
			l, err := qc.grain.resolve(id)
			if err != nil {
				return nil, err
			}
			at = append(at, l)
		}
	}

	participants, err := qc.participants(metrics)
	if err != nil {
		return nil, err
	}
	if len(participants) == 1 {
		els, err := participants[0].elementsAt(ctx, at)
		if err != nil {
			return nil, err
		}
		out := make([]Row, len(els))
		for i, el := range els {
			out[i] = el
		}
		return out, nil
	}

	var out []Row
	seen := make(map[uint64]bool)
	for _, s := range participants {
		// Cubes reaching none of the levels would yield the empty coordinate.
		if len(at) > 0 && !slices.ContainsFunc(at, s.grain.Supports) {
			continue
		}
		els, err := s.elementsAt(ctx, at)
		if err != nil {
			return nil, err
		}
		for _, el := range els {
			fp := el.coords.Fingerprint()
			if seen[fp] {
				continue
			}
			seen[fp] = true
			ve, err := qc.probe(ctx, el.coords, participants)
			if err != nil {
				return nil, err
			}
			if ve.Null() {
				continue
			}
			out = append(out, ve)
		}
	}
	qc.cfg.logger.Debug("virtual elements built",
		slog.String("query", qc.id.String()),
		slog.Int("sub_cubes", len(participants)),
		slog.Int("elements", len(out)))
	return out, nil
}

func (qc *QueryContext) participants(metrics []string) ([]*SubCube, error) {
	live := qc.live()
	if len(metrics) == 0 {
		return live, nil
	}
	want := make(map[*SubCube]bool)
	for _, raw := range metrics {
		id, err := schema.ParseID(raw)
		if err != nil {
			return nil, asQueryError(err)
		}
		found := false
		for _, s := range qc.subCubes {
			if s.metric(id) != nil {
				want[s] = true
				found = true
			}
		}
		if !found {
			return nil, queryErrorf("metric %s is not selected by this query", raw)
		}
	}
	var out []*SubCube
	for _, s := range live {
		if want[s] {
			out = append(out, s)
		}
	}
	return out, nil
}

// probe collects, for coords, the element of every sub-cube that answers.
func (qc *QueryContext) probe(ctx context.Context, coords *Coordinates, subCubes []*SubCube) (*VirtualElement, error) {
	ve := &VirtualElement{qc: qc, coords: coords}
	for _, s := range subCubes {
		el, ok, err := s.locate(ctx, coords)
		if err != nil {
			return nil, err
		}
		if ok {
			ve.elements = append(ve.elements, el)
		}
	}
	return ve, nil
}

// Facts returns the fetched facts of one sub-cube, or of all of them
// concatenated when source is empty.
func (qc *QueryContext) Facts(ctx context.Context, source string) (facts.RecordView, error) {
	if source != "" {
		s, ok := qc.byName[source]
		if !ok {
			return nil, queryErrorf("cube %s is not part of this query", source)
		}
		return s.Facts(ctx)
	}
	views := make([]facts.RecordView, 0, len(qc.subCubes))
	for _, s := range qc.subCubes {
		v, err := s.Facts(ctx)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return facts.Concat(views...), nil
}

// Locate addresses the context directly, starting from the empty coordinate.
// With no patch it answers the grand total. A single live sub-cube answers
// with its own element.
func (qc *QueryContext) Locate(ctx context.Context, patch map[string]string, reset []string) (Row, bool, error) {
	coords, err := newCoordinates(qc.space).Locate(patch, reset)
	if err != nil {
		return nil, false, err
	}
	live := qc.live()
	if len(live) == 1 {
		el, ok, err := live[0].locate(ctx, coords)
		if err != nil || !ok {
			return nil, false, err
		}
		return el, true, nil
	}
	ve, err := qc.probe(ctx, coords, live)
	if err != nil || ve.Null() {
		return nil, false, err
	}
	return ve, true, nil
}
