package engine

import (
	"context"

	"github.com/spektr-org/prism/schema"
)

// VirtualElement federates, under one coordinate, the elements of every
// sub-cube that answers it. A virtual element with no elements is null and
// is never handed out by QueryContext.
type VirtualElement struct {
	qc       *QueryContext
	coords   *Coordinates
	elements []*Element
}

func (v *VirtualElement) Coordinates() *Coordinates { return v.coords }
func (v *VirtualElement) Null() bool                { return len(v.elements) == 0 }

// Elements returns the real elements, in sub-cube registration order.
func (v *VirtualElement) Elements() []*Element { return v.elements }

// Element returns the element contributed by cube.
func (v *VirtualElement) Element(cube string) (*Element, bool) {
	for _, el := range v.elements {
		if el.sub.Name() == cube {
			return el, true
		}
	}
	return nil, false
}

// Get checks the virtual coordinate first, then each element in sub-cube
// registration order; the first hit wins.
func (v *VirtualElement) Get(key string) (any, bool) {
	if s, ok := v.coords.Get(key); ok {
		return s, true
	}
	for _, el := range v.elements {
		if val, ok := el.Get(key); ok {
			return val, true
		}
	}
	return nil, false
}

// Value asks the element of the metric's cube. A bare id is answered by the
// first element whose cube selected it.
func (v *VirtualElement) Value(metric string) (float64, bool) {
	id, err := schema.ParseID(metric)
	if err != nil {
		return 0, false
	}
	for _, el := range v.elements {
		if m := el.sub.metric(id); m != nil {
			return el.rollup(m)
		}
	}
	return 0, false
}

func (v *VirtualElement) Fetch(metric string) (float64, bool) {
	if val, ok := v.Value(metric); ok {
		return val, true
	}
	return defaultOf(v.qc.metric(metric))
}

// Locate re-probes every sub-cube at the patched coordinate.
func (v *VirtualElement) Locate(ctx context.Context, patch map[string]string, reset []string) (Row, bool, error) {
	coords, err := v.coords.Locate(patch, reset)
	if err != nil {
		return nil, false, err
	}
	ve, err := v.qc.probe(ctx, coords, v.qc.live())
	if err != nil || ve.Null() {
		return nil, false, err
	}
	return ve, true, nil
}
