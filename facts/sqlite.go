package facts

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"
)

// ============================================================================
// SQLITE SCOPE: fact scope backed by a SQL table
// ============================================================================
// Decorations compile to one statement:
//   SELECT <selects> FROM <table> WHERE <raw> GROUP BY <fields> HAVING <aliases>
// Every value travels as a ? argument; identifiers are double-quoted.
// ============================================================================

// SQLiteScope queries one table or view through database/sql.
type SQLiteScope struct {
	db      *sql.DB
	table   string
	selects []Selection
	wheres  []where
	groupBy []string
}

// NewSQLiteScope returns an undecorated scope over table.
func NewSQLiteScope(db *sql.DB, table string) *SQLiteScope {
	return &SQLiteScope{db: db, table: table}
}

// SQLiteSource returns a factory of fresh scopes over one table.
func SQLiteSource(db *sql.DB, table string) ScopeFactory {
	return func() Scope { return NewSQLiteScope(db, table) }
}

// OpenSQLite opens a modernc sqlite database. In-memory databases are pinned
// to a single connection so every query sees the same data.
func OpenSQLite(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite %q", dsn)
	}
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

func (s *SQLiteScope) AddSelect(sel Selection) { s.selects = append(s.selects, sel) }

func (s *SQLiteScope) AddWhere(field string, p Predicate) {
	s.wheres = append(s.wheres, where{field, p})
}

func (s *SQLiteScope) AddGroupBy(field string) { s.groupBy = append(s.groupBy, field) }

// Statement renders the SQL and its arguments.
func (s *SQLiteScope) Statement() (string, []any) {
	var b strings.Builder

	aliases := make(map[string]bool)
	cols := make([]string, 0, len(s.selects))
	for _, sel := range s.selects {
		expr := quoteIdent(sel.Field)
		switch sel.Aggregate {
		case AggregateSum, AggregateMin, AggregateMax:
			expr = strings.ToUpper(string(sel.Aggregate)) + "(" + expr + ")"
		case AggregateCount:
			expr = "COUNT(*)"
		}
		if sel.Aggregate != AggregateNone {
			aliases[sel.Name()] = true
		}
		cols = append(cols, expr+" AS "+quoteIdent(sel.Name()))
	}
	if len(cols) == 0 {
		cols = []string{"*"}
	}
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(" FROM ")
	b.WriteString(quoteIdent(s.table))

	var conds, having []string
	for _, w := range s.wheres {
		cond, _ := condition(w)
		if cond == "" {
			continue
		}
		if aliases[w.field] {
			having = append(having, cond)
		} else {
			conds = append(conds, cond)
		}
	}
	// HAVING args follow WHERE args positionally.
	args := orderedArgs(s.wheres, aliases)

	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	if len(s.groupBy) > 0 {
		quoted := make([]string, len(s.groupBy))
		for i, f := range s.groupBy {
			quoted[i] = quoteIdent(f)
		}
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(quoted, ", "))
	}
	if len(having) > 0 {
		b.WriteString(" HAVING ")
		b.WriteString(strings.Join(having, " AND "))
	}
	return b.String(), args
}

func orderedArgs(wheres []where, aliases map[string]bool) []any {
	var raw, having []any
	for _, w := range wheres {
		_, a := condition(w)
		if aliases[w.field] {
			having = append(having, a...)
		} else {
			raw = append(raw, a...)
		}
	}
	return append(raw, having...)
}

func condition(w where) (string, []any) {
	field := quoteIdent(w.field)
	switch w.pred.Op {
	case OpIn, OpNotIn:
		if len(w.pred.Values) == 0 {
			if w.pred.Op == OpIn {
				return "0", nil
			}
			return "", nil
		}
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(w.pred.Values)), ", ")
		args := make([]any, len(w.pred.Values))
		for i, v := range w.pred.Values {
			args[i] = v
		}
		op := " IN ("
		if w.pred.Op == OpNotIn {
			op = " NOT IN ("
		}
		return field + op + marks + ")", args
	case OpGt:
		return field + " > ?", []any{w.pred.Bound}
	case OpGte:
		return field + " >= ?", []any{w.pred.Bound}
	case OpLt:
		return field + " < ?", []any{w.pred.Bound}
	case OpLte:
		return field + " <= ?", []any{w.pred.Bound}
	}
	return "", nil
}

func quoteIdent(name string) string {
	if name == "*" {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Execute runs the statement and materializes every row.
func (s *SQLiteScope) Execute(ctx context.Context) (RecordView, error) {
	query, args := s.Statement()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "query %s", s.table)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "read columns")
	}

	var records []Record
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrapf(err, "scan %s", s.table)
		}
		rec := Record{Dimensions: make(map[string]string, len(cols)), Measures: make(map[string]float64)}
		for i, col := range cols {
			switch v := values[i].(type) {
			case int64:
				rec.Measures[col] = float64(v)
				rec.Dimensions[col] = strconv.FormatInt(v, 10)
			case float64:
				rec.Measures[col] = v
				rec.Dimensions[col] = strconv.FormatFloat(v, 'f', -1, 64)
			case string:
				setText(&rec, col, v)
			case []byte:
				setText(&rec, col, string(v))
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "iterate %s", s.table)
	}
	return NewSliceView(records), nil
}

func setText(rec *Record, col, v string) {
	rec.Dimensions[col] = v
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		rec.Measures[col] = f
	}
}
