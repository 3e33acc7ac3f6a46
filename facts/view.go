package facts

import (
	"maps"
	"slices"
	"strconv"
)

// ============================================================================
// RECORD VIEW: Zero-Copy Data Access Interface
// ============================================================================
// The engine never owns fact data. It reads through this interface.
//
// Implementations:
//   SliceView       wraps []Record (CSV, JSON, ad-hoc)
//   Fields[T].View  reads typed structs through accessor functions (zero-copy)
//   SubView         filtered subset (indices into parent, zero-copy)
//   ConcatView      virtual concatenation of two views
//
// Fact scopes return views; elements hold SubViews of their sub-cube's facts.
// ============================================================================

// Record is a single fact row with string dimensions and numeric measures.
type Record struct {
	Dimensions map[string]string  `json:"dimensions"`
	Measures   map[string]float64 `json:"measures"`
}

// RecordView provides indexed access to a dataset.
// Dimension/Measure are called in tight loops; keep implementations fast.
type RecordView interface {
	Len() int
	Dimension(index int, key string) string
	Measure(index int, key string) float64
	DimensionKeys() []string // available dimension keys
	MeasureKeys() []string   // available measure keys
}

// Field reads key from row i as a string. Dimensions win over measures;
// a measure is formatted without trailing zeros. The bool is false when
// the view exposes neither.
func Field(view RecordView, i int, key string) (string, bool) {
	if v := view.Dimension(i, key); v != "" {
		return v, true
	}
	for _, k := range view.MeasureKeys() {
		if k == key {
			return strconv.FormatFloat(view.Measure(i, key), 'f', -1, 64), true
		}
	}
	return "", false
}

// ============================================================================
// SLICE VIEW: wraps []Record
// ============================================================================

// SliceView wraps a []Record slice as a RecordView.
type SliceView struct {
	records []Record
	dimKeys []string
	mesKeys []string
}

// NewSliceView creates a RecordView from a []Record slice.
func NewSliceView(records []Record) RecordView {
	v := &SliceView{records: records}
	v.cacheKeys()
	return v
}

func (v *SliceView) cacheKeys() {
	dimSeen := make(map[string]bool)
	mesSeen := make(map[string]bool)
	for _, r := range v.records {
		for k := range r.Dimensions {
			if !dimSeen[k] {
				dimSeen[k] = true
				v.dimKeys = append(v.dimKeys, k)
			}
		}
		for k := range r.Measures {
			if !mesSeen[k] {
				mesSeen[k] = true
				v.mesKeys = append(v.mesKeys, k)
			}
		}
	}
}

func (v *SliceView) Len() int { return len(v.records) }

func (v *SliceView) Dimension(i int, key string) string {
	if i < 0 || i >= len(v.records) {
		return ""
	}
	return v.records[i].Dimensions[key]
}

func (v *SliceView) Measure(i int, key string) float64 {
	if i < 0 || i >= len(v.records) {
		return 0
	}
	return v.records[i].Measures[key]
}

func (v *SliceView) DimensionKeys() []string { return v.dimKeys }
func (v *SliceView) MeasureKeys() []string   { return v.mesKeys }

// ============================================================================
// SUB VIEW: filtered subset (zero-copy)
// ============================================================================

// SubView is a filtered subset of a parent RecordView.
// Holds indices into the parent, no data copy.
type SubView struct {
	parent  RecordView
	indices []int
}

// NewSubView returns a view over parent restricted to indices, in that order.
func NewSubView(parent RecordView, indices []int) RecordView {
	return &SubView{parent: parent, indices: indices}
}

func (v *SubView) Len() int { return len(v.indices) }

func (v *SubView) Dimension(i int, key string) string {
	if i < 0 || i >= len(v.indices) {
		return ""
	}
	return v.parent.Dimension(v.indices[i], key)
}

func (v *SubView) Measure(i int, key string) float64 {
	if i < 0 || i >= len(v.indices) {
		return 0
	}
	return v.parent.Measure(v.indices[i], key)
}

func (v *SubView) DimensionKeys() []string { return v.parent.DimensionKeys() }
func (v *SubView) MeasureKeys() []string   { return v.parent.MeasureKeys() }

// ============================================================================
// CONCAT VIEW: virtual concatenation of two views
// ============================================================================

// ConcatView logically concatenates two RecordViews.
// Used to expose the facts of every sub-cube of a query as one view.
type ConcatView struct {
	a, b RecordView
}

// Concat chains views left to right. Nil views are skipped.
func Concat(views ...RecordView) RecordView {
	var out RecordView
	for _, v := range views {
		switch {
		case v == nil:
		case out == nil:
			out = v
		default:
			out = &ConcatView{a: out, b: v}
		}
	}
	if out == nil {
		return NewSliceView(nil)
	}
	return out
}

func (v *ConcatView) Len() int { return v.a.Len() + v.b.Len() }

func (v *ConcatView) Dimension(i int, key string) string {
	if i < v.a.Len() {
		return v.a.Dimension(i, key)
	}
	return v.b.Dimension(i-v.a.Len(), key)
}

func (v *ConcatView) Measure(i int, key string) float64 {
	if i < v.a.Len() {
		return v.a.Measure(i, key)
	}
	return v.b.Measure(i-v.a.Len(), key)
}

func (v *ConcatView) DimensionKeys() []string {
	return union(v.a.DimensionKeys(), v.b.DimensionKeys())
}

func (v *ConcatView) MeasureKeys() []string { return union(v.a.MeasureKeys(), v.b.MeasureKeys()) }

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, k := range append(append([]string(nil), a...), b...) {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

// ============================================================================
// TYPED FACTS: a RecordView over a slice of structs
// ============================================================================
//
//	lines := facts.NewFields[InvoiceLine]().
//	    Text("customer_id", func(l InvoiceLine) string { return l.CustomerID }).
//	    Number("quantity", func(l InvoiceLine) float64 { return l.Quantity })
//
//	cube, err := schema.NewCube("invoices", lines.Source(rows), ...)
//
// Rows are read through the accessors on every call; nothing is copied.
// ============================================================================

// Fields maps a struct type onto fact fields. Declare once, view many slices.
type Fields[T any] struct {
	textKeys   []string
	numberKeys []string
	text       map[string]func(T) string
	number     map[string]func(T) float64
}

// NewFields starts an empty field mapping for T.
func NewFields[T any]() *Fields[T] {
	return &Fields[T]{
		text:   make(map[string]func(T) string),
		number: make(map[string]func(T) float64),
	}
}

// Text declares a string field: a level key or any dimensional value.
// Redeclaring a key replaces its accessor.
func (f *Fields[T]) Text(key string, fn func(T) string) *Fields[T] {
	if _, ok := f.text[key]; !ok {
		f.textKeys = append(f.textKeys, key)
	}
	f.text[key] = fn
	return f
}

// Number declares a numeric field that metrics can fold.
func (f *Fields[T]) Number(key string, fn func(T) float64) *Fields[T] {
	if _, ok := f.number[key]; !ok {
		f.numberKeys = append(f.numberKeys, key)
	}
	f.number[key] = fn
	return f
}

// View returns rows as a RecordView. Later declarations on f are not seen
// by views already returned.
func (f *Fields[T]) View(rows []T) RecordView {
	return &typedView[T]{
		rows:       rows,
		text:       maps.Clone(f.text),
		number:     maps.Clone(f.number),
		textKeys:   slices.Clone(f.textKeys),
		numberKeys: slices.Clone(f.numberKeys),
	}
}

// Source returns a factory of memory scopes over rows.
func (f *Fields[T]) Source(rows []T) ScopeFactory {
	return MemorySource(f.View(rows))
}

type typedView[T any] struct {
	rows       []T
	text       map[string]func(T) string
	number     map[string]func(T) float64
	textKeys   []string
	numberKeys []string
}

func (v *typedView[T]) Len() int { return len(v.rows) }

func (v *typedView[T]) Dimension(i int, key string) string {
	fn, ok := v.text[key]
	if !ok || i < 0 || i >= len(v.rows) {
		return ""
	}
	return fn(v.rows[i])
}

func (v *typedView[T]) Measure(i int, key string) float64 {
	fn, ok := v.number[key]
	if !ok || i < 0 || i >= len(v.rows) {
		return 0
	}
	return fn(v.rows[i])
}

func (v *typedView[T]) DimensionKeys() []string { return v.textKeys }
func (v *typedView[T]) MeasureKeys() []string   { return v.numberKeys }
