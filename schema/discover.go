package schema

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/cockroachdb/errors"
)

// ============================================================================
// AUTO-DISCOVERY: draft a schema from a flat CSV
// ============================================================================
// Inspects a sample of rows and produces a Config with one cube over the file.
//
// Pipeline:
//   1. Sample values → detect type (numeric, date, bool, string)
//   2. Type + cardinality → classify role (level, metric, skip)
//   3. Functional dependencies → hierarchy chains (country → city)
//   4. Each chain leaf becomes a dimension of degenerate levels, root first
//   5. Numeric columns become sum metrics; a synthetic record_count is added
//
// Every level is bound on the cube directly, so the draft answers any grain
// from the fact rows alone. Degenerate levels without a query level below
// cannot be sliced through a join; hand-editing in query sources fixes that.
// ============================================================================

// DiscoverOptions controls discovery behavior.
type DiscoverOptions struct {
	SampleSize     int      // Max rows to inspect (0 = all). Default: 1000
	RecoverColumns []string // Force-include columns that were auto-skipped
	Name           string   // Cube name (default "facts")
	Path           string   // Source path written into the draft
}

// DefaultDiscoverOptions returns sensible defaults.
func DefaultDiscoverOptions() DiscoverOptions {
	return DiscoverOptions{SampleSize: 1000, Name: "facts"}
}

// SkippedColumn records why a column was left out of the draft.
type SkippedColumn struct {
	Column      string `yaml:"column"`
	Reason      string `yaml:"reason"`
	Recoverable bool   `yaml:"recoverable"`
}

// Discovery is a drafted schema plus what discovery chose to leave out.
type Discovery struct {
	Config  *Config
	Skipped []SkippedColumn
	Rows    int
	At      time.Time
}

// DiscoverFromCSV drafts a schema by inspecting CSV data.
func DiscoverFromCSV(data []byte, opts ...DiscoverOptions) (*Discovery, error) {
	opt := DefaultDiscoverOptions()
	if len(opts) > 0 {
		opt = opts[0]
		if opt.Name == "" {
			opt.Name = "facts"
		}
	}

	reader := csv.NewReader(strings.NewReader(string(data)))

	// 1. Read headers
	headers, err := reader.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read CSV headers")
	}
	if len(headers) == 0 {
		return nil, errors.New("CSV has no columns")
	}

	// 2. Read sample rows
	var rows [][]string
	limit := opt.SampleSize
	if limit <= 0 {
		limit = 100000 // safety cap
	}
	for i := 0; i < limit; i++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // skip malformed rows
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, errors.New("CSV has no data rows")
	}

	// 3. Analyze each column
	columns := make([]columnAnalysis, len(headers))
	for i, header := range headers {
		columns[i] = analyzeColumn(header, i, rows)
	}

	recoverSet := make(map[string]bool)
	for _, col := range opt.RecoverColumns {
		recoverSet[strings.ToLower(col)] = true
	}

	var levels, metrics []columnAnalysis
	var skipped []SkippedColumn
	for _, col := range columns {
		switch {
		case col.role == roleLevel:
			levels = append(levels, col)
		case col.role == roleMetric:
			metrics = append(metrics, col)
		case recoverSet[strings.ToLower(col.header)] || recoverSet[col.key]:
			levels = append(levels, col)
		default:
			skipped = append(skipped, SkippedColumn{Column: col.header, Reason: col.skipReason, Recoverable: col.recoverable})
		}
	}
	if len(levels) == 0 {
		return nil, errors.New("CSV has no groupable columns")
	}

	// 4. Hierarchies → dimensions
	parents := detectHierarchies(levels, rows)
	cfg := &Config{Name: opt.Name}
	cube := CubeConfig{Name: opt.Name, Source: SourceConfig{Kind: "csv", Path: opt.Path}}
	if cube.Source.Path == "" {
		cube.Source.Path = opt.Name + ".csv"
	}
	bound := make(map[string]bool)
	for _, chain := range hierarchyChains(levels, parents) {
		leaf := chain[len(chain)-1]
		dim := DimensionConfig{Name: leaf.key}
		for _, col := range chain {
			dim.Levels = append(dim.Levels, LevelConfig{Name: col.key, Kind: "degenerate", Key: col.key, Label: toDisplayName(col.header)})
			id := leaf.key + "." + col.key
			if !bound[id] {
				bound[id] = true
				cube.Levels = append(cube.Levels, BindingConfig{Level: id, FactKey: col.key})
			}
		}
		cfg.Dimensions = append(cfg.Dimensions, dim)
	}

	// 5. Metrics
	for _, col := range metrics {
		cube.Metrics = append(cube.Metrics, MetricConfig{Name: col.key, Label: toDisplayName(col.header), Rollup: "sum", Field: col.key})
	}
	zero := 0.0
	cube.Metrics = append(cube.Metrics, MetricConfig{Name: "record_count", Label: "Record Count", Rollup: "count", Default: &zero})
	cfg.Cubes = []CubeConfig{cube}

	return &Discovery{Config: cfg, Skipped: skipped, Rows: len(rows), At: time.Now()}, nil
}

// ============================================================================
// COLUMN ANALYSIS
// ============================================================================

type columnRole int

const (
	roleLevel columnRole = iota
	roleMetric
	roleSkipped
)

type columnType int

const (
	typeString columnType = iota
	typeNumeric
	typeDate
	typeBool
)

type columnAnalysis struct {
	header      string
	key         string
	index       int
	colType     columnType
	role        columnRole
	skipReason  string
	recoverable bool

	uniqueCount int
	totalCount  int
	hasDecimals bool
}

// analyzeColumn inspects all values in a column and classifies it.
func analyzeColumn(header string, index int, rows [][]string) columnAnalysis {
	col := columnAnalysis{
		header:     header,
		key:        SnakeCase(header),
		index:      index,
		totalCount: len(rows),
	}

	values := make([]string, 0, len(rows))
	uniqueSet := make(map[string]bool)
	for _, row := range rows {
		val := cell(row, index)
		if val == "" || val == "null" || val == "NULL" || val == "N/A" || val == "n/a" {
			continue
		}
		values = append(values, val)
		uniqueSet[val] = true
	}
	col.uniqueCount = len(uniqueSet)

	if len(values) == 0 {
		col.role = roleSkipped
		col.skipReason = "All values are empty/null"
		return col
	}

	col.colType = detectType(values)
	if col.colType == typeNumeric {
		for _, v := range values {
			if strings.Contains(v, ".") {
				col.hasDecimals = true
				break
			}
		}
	}
	col.classifyRole()
	return col
}

// classifyRole determines level vs metric vs skip.
func (col *columnAnalysis) classifyRole() {
	total := col.totalCount
	switch col.colType {
	case typeNumeric:
		if col.uniqueCount == total && total > 10 {
			col.role = roleSkipped
			col.skipReason = "Unique per row, likely an ID column"
			return
		}
		if col.hasDecimals {
			col.role = roleMetric
			return
		}
		// Few unique values at a low ratio → coded level (e.g., priority 1-5)
		uniqueRatio := float64(col.uniqueCount) / float64(total)
		if col.uniqueCount < 20 && uniqueRatio < 0.3 {
			col.role = roleLevel
			return
		}
		col.role = roleMetric

	case typeDate, typeBool:
		col.role = roleLevel

	case typeString:
		if col.uniqueCount == total && total > 10 {
			col.role = roleSkipped
			col.skipReason = "Unique per row, likely an identifier"
			return
		}
		if col.uniqueCount > total/2 && col.uniqueCount > 50 {
			col.role = roleSkipped
			col.skipReason = fmt.Sprintf("High cardinality (%d unique values), not useful for grouping", col.uniqueCount)
			col.recoverable = true
			return
		}
		col.role = roleLevel
	}
}

// ── Type detection ──────────────────────────────────────────

// detectType requires 80%+ of non-null values to match numeric/date/bool.
func detectType(values []string) columnType {
	numCount, dateCount, boolCount := 0, 0, 0
	for _, v := range values {
		if isNumeric(v) {
			numCount++
		}
		if isDate(v) {
			dateCount++
		}
		if isBool(v) {
			boolCount++
		}
	}

	threshold := int(float64(len(values)) * 0.8)
	switch {
	case boolCount >= threshold:
		return typeBool
	case dateCount >= threshold:
		return typeDate
	case numCount >= threshold:
		return typeNumeric
	}
	return typeString
}

func isNumeric(s string) bool {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	s = strings.TrimPrefix(s, "-")
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

var dateFormats = []string{
	"2006-01-02",
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
	"01/02/2006",
	"Jan-2006",
	"January 2006",
	"Jan 2, 2006",
}

func isDate(s string) bool {
	s = strings.TrimSpace(s)
	for _, layout := range dateFormats {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func isBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "false" || s == "yes" || s == "no"
}

// ============================================================================
// HIERARCHY DETECTION
// ============================================================================

// detectHierarchies maps each level column to its closest parent column.
// A is a parent of B when every value of B appears with exactly one value of
// A and A has fewer unique values. Among valid parents the one with the
// highest cardinality is closest.
func detectHierarchies(levels []columnAnalysis, rows [][]string) map[string]string {
	parents := make(map[string]string)
	for _, child := range levels {
		best, bestUniques := "", 0
		for _, parent := range levels {
			if parent.key == child.key || parent.uniqueCount >= child.uniqueCount {
				continue
			}
			if parent.uniqueCount > bestUniques && functionallyDetermines(rows, child.index, parent.index) {
				best, bestUniques = parent.key, parent.uniqueCount
			}
		}
		if best != "" {
			parents[child.key] = best
		}
	}
	return parents
}

func functionallyDetermines(rows [][]string, childIdx, parentIdx int) bool {
	childToParent := make(map[string]string)
	for _, row := range rows {
		child, parent := cell(row, childIdx), cell(row, parentIdx)
		if child == "" || parent == "" {
			continue
		}
		if existing, ok := childToParent[child]; ok {
			if existing != parent {
				return false
			}
		} else {
			childToParent[child] = parent
		}
	}
	return len(childToParent) > 1
}

// hierarchyChains returns one root → leaf chain per column nobody claims as
// parent, in column order.
func hierarchyChains(levels []columnAnalysis, parents map[string]string) [][]columnAnalysis {
	byKey := make(map[string]columnAnalysis, len(levels))
	isParent := make(map[string]bool)
	for _, col := range levels {
		byKey[col.key] = col
	}
	for _, p := range parents {
		isParent[p] = true
	}

	var chains [][]columnAnalysis
	for _, leaf := range levels {
		if isParent[leaf.key] {
			continue
		}
		chain := []columnAnalysis{leaf}
		seen := map[string]bool{leaf.key: true}
		for p, ok := parents[leaf.key]; ok && !seen[p]; p, ok = parents[p] {
			seen[p] = true
			chain = append([]columnAnalysis{byKey[p]}, chain...)
		}
		chains = append(chains, chain)
	}
	sort.SliceStable(chains, func(i, j int) bool {
		return chains[i][len(chains[i])-1].index < chains[j][len(chains[j])-1].index
	})
	return chains
}

// ============================================================================
// STRING UTILITIES
// ============================================================================

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// SnakeCase converts "Column Name" or "columnName" → "column_name". Anything
// outside [a-z0-9_] becomes an underscore so keys are safe as ids.
func SnakeCase(s string) string {
	var result strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) && i > 0 {
			prev := rune(s[i-1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) {
				result.WriteRune('_')
			}
		}
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			result.WriteRune(r)
		} else {
			result.WriteRune('_')
		}
	}

	out := result.String()
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	return strings.Trim(out, "_")
}

// toDisplayName cleans a header for human display.
// "story_points" → "Story Points", "assignee" → "Assignee"
func toDisplayName(s string) string {
	if strings.Contains(s, " ") {
		return strings.TrimSpace(s)
	}
	s = strings.ReplaceAll(s, "_", " ")
	s = strings.ReplaceAll(s, "-", " ")

	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}
