package dcquery

import (
	"fmt"
	"strconv"
	"strings"
)

// This file implements the algebraic SQL query tree and its single renderer
// (spec §4.9, design note "SQL construction"). Every assembler builds a
// *Query/Expr tree; Query.Compile produces both a literal-bound string (for
// logging / query_sql) or a placeholder + args form (for execution).

// renderCtx threads rendering mode and the placeholder argument list through
// the whole tree in one pass.
type renderCtx struct {
	bindLiterals bool
	args         []any
}

func (r *renderCtx) placeholder(v any) string {
	if r.bindLiterals {
		return renderLiteral(v)
	}
	r.args = append(r.args, v)
	return "$" + strconv.Itoa(len(r.args))
}

// Expr is one node of the algebraic query tree.
type Expr interface {
	render(r *renderCtx) string
}

// Ident references a column, optionally qualified by a table/alias.
type Ident struct {
	Table  string
	Column string
}

func (e Ident) render(r *renderCtx) string {
	if e.Table == "" {
		return quoteIdent(e.Column)
	}
	return quoteIdent(e.Table) + "." + quoteIdent(e.Column)
}

// Col builds an Ident from a resolved ColumnInfo.
func Col(c *ColumnInfo) Ident { return Ident{Table: c.ParentTable.Name, Column: c.Name} }

// Raw is an escape hatch for SQL text that is already known-safe (keywords,
// pre-quoted identifiers, fixed fragments). Never used for user-controlled
// values.
type Raw string

func (e Raw) render(r *renderCtx) string { return string(e) }

// Lit is a literal scalar value bound via the renderer's placeholder/literal
// mechanism. Accepts the same value shapes filter.go produces.
type Lit struct{ Value any }

func (e Lit) render(r *renderCtx) string {
	if v, ok := e.Value.(nullValue); ok {
		_ = v
		return "NULL"
	}
	return r.placeholder(e.Value)
}

// renderLiteral renders a Go value as a SQL literal for the bound-literal
// (logging) form. Falls back to a quoted string representation for types it
// does not specifically recognize, rather than failing the whole render.
func renderLiteral(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case nullValue:
		return "NULL"
	case bool:
		if t {
			return "TRUE"
		}
		return "FALSE"
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'"
	default:
		return "'" + strings.ReplaceAll(fmt.Sprintf("%v", t), "'", "''") + "'"
	}
}

// Call is a function call expression, e.g. COALESCE(x, '[]'), ARRAY_AGG(DISTINCT x).
type Call struct {
	Name     string
	Distinct bool
	Args     []Expr
}

func (e Call) render(r *renderCtx) string {
	parts := make([]string, len(e.Args))
	for i, a := range e.Args {
		parts[i] = a.render(r)
	}
	prefix := ""
	if e.Distinct {
		prefix = "DISTINCT "
	}
	return e.Name + "(" + prefix + strings.Join(parts, ", ") + ")"
}

// WithinGroup renders FUNC(args) WITHIN GROUP (ORDER BY col), used for
// percentile_disc.
type WithinGroup struct {
	Call    Call
	OrderBy Expr
}

func (e WithinGroup) render(r *renderCtx) string {
	return e.Call.render(r) + " WITHIN GROUP (ORDER BY " + e.OrderBy.render(r) + ")"
}

// BinOp is a binary infix expression: left OP right.
type BinOp struct {
	Left  Expr
	Op    string
	Right Expr
}

func (e BinOp) render(r *renderCtx) string {
	return e.Left.render(r) + " " + e.Op + " " + e.Right.render(r)
}

// And conjoins expressions with AND, wrapped in parens. Empty -> "TRUE".
type And []Expr

func (e And) render(r *renderCtx) string { return joinBool(r, []Expr(e), "AND", "TRUE") }

// Or disjoins expressions with OR, wrapped in parens. Empty -> "FALSE".
type Or []Expr

func (e Or) render(r *renderCtx) string { return joinBool(r, []Expr(e), "OR", "FALSE") }

func joinBool(r *renderCtx, exprs []Expr, op, identity string) string {
	if len(exprs) == 0 {
		return identity
	}
	if len(exprs) == 1 {
		return exprs[0].render(r)
	}
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = "(" + e.render(r) + ")"
	}
	return strings.Join(parts, " "+op+" ")
}

// Not negates an expression.
type Not struct{ Expr Expr }

func (e Not) render(r *renderCtx) string { return "NOT (" + e.Expr.render(r) + ")" }

// CaseInsensitive wraps an expression in UPPER(COALESCE(x, '')) for the
// case-insensitive, null-safe string comparison rule (spec §4.3).
type CaseInsensitive struct{ Expr Expr }

func (e CaseInsensitive) render(r *renderCtx) string {
	return "UPPER(COALESCE(" + e.Expr.render(r) + ", ''))"
}

// InList renders `left [NOT] IN (v1, v2, ...)`.
type InList struct {
	Left   Expr
	Values []any
	Not    bool
}

func (e InList) render(r *renderCtx) string {
	parts := make([]string, len(e.Values))
	for i, v := range e.Values {
		parts[i] = Lit{Value: v}.render(r)
	}
	op := "IN"
	if e.Not {
		op = "NOT IN"
	}
	return e.Left.render(r) + " " + op + " (" + strings.Join(parts, ", ") + ")"
}

// InSubquery renders `left [NOT] IN (subquery)`.
type InSubquery struct {
	Left  Expr
	Query *Query
	Not   bool
}

func (e InSubquery) render(r *renderCtx) string {
	op := "IN"
	if e.Not {
		op = "NOT IN"
	}
	return e.Left.render(r) + " " + op + " (" + e.Query.renderBody(r) + ")"
}

// Exists renders `EXISTS (subquery)`.
type Exists struct {
	Query *Query
}

func (e Exists) render(r *renderCtx) string {
	return "EXISTS (" + e.Query.renderBody(r) + ")"
}

// ScalarSubquery renders `(subquery)` used as a scalar expression.
type ScalarSubquery struct {
	Query *Query
}

func (e ScalarSubquery) render(r *renderCtx) string {
	return "(" + e.Query.renderBody(r) + ")"
}

// Alias wraps a select-list expression with an "AS name" label.
type Alias struct {
	Expr Expr
	Name string
}

func (e Alias) render(r *renderCtx) string {
	return e.Expr.render(r) + " AS " + quoteIdent(e.Name)
}

// FromItem is the source of a SELECT's FROM clause or a JOIN target: either a
// physical table (Table, Alias) or a nested *Query aliased as a subquery/CTE
// reference.
type FromItem struct {
	Table    string // physical table or CTE name
	Alias    string
	Subquery *Query // if set, Table is ignored and this is rendered as (subquery) AS Alias
}

func (f FromItem) render(r *renderCtx) string {
	if f.Subquery != nil {
		return "(" + f.Subquery.renderBody(r) + ") AS " + quoteIdent(f.Alias)
	}
	name := quoteIdent(f.Table)
	if f.Alias != "" && f.Alias != f.Table {
		return name + " AS " + quoteIdent(f.Alias)
	}
	return name
}

func (f FromItem) refName() string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Table
}

// JoinClause is one JOIN in a Query's FROM clause.
type JoinClause struct {
	Target FromItem
	On     Expr
	Outer  bool // LEFT OUTER JOIN vs INNER JOIN
}

func (j JoinClause) render(r *renderCtx) string {
	kind := "JOIN"
	if j.Outer {
		kind = "LEFT OUTER JOIN"
	}
	return kind + " " + j.Target.render(r) + " ON " + j.On.render(r)
}

// NamedQuery is one entry of a WITH clause.
type NamedQuery struct {
	Name  string
	Query *Query
}

// Query is a full SELECT statement (with optional leading CTEs), usable
// standalone or nested as a subquery/CTE body.
type Query struct {
	CTEs       []NamedQuery
	Distinct   bool
	Columns    []Expr
	From       *FromItem
	Joins      []JoinClause
	Where      Expr
	GroupBy    []Expr
	OrderBy    []Expr
	Limit      *int64
	Offset     *int64

	// UnionWith, when non-empty, renders this query's own SELECT body followed
	// by UNION [ALL] with each part's body, in order.
	UnionWith []*Query
	UnionAll  bool
}

// CTE appends one named CTE.
func (q *Query) CTE(name string, sub *Query) *Query {
	q.CTEs = append(q.CTEs, NamedQuery{Name: name, Query: sub})
	return q
}

// Select sets the select-list.
func (q *Query) Select(cols ...Expr) *Query {
	q.Columns = cols
	return q
}

func (q *Query) FromTable(table, alias string) *Query {
	q.From = &FromItem{Table: table, Alias: alias}
	return q
}

func (q *Query) FromSubquery(sub *Query, alias string) *Query {
	q.From = &FromItem{Subquery: sub, Alias: alias}
	return q
}

func (q *Query) Join(target FromItem, on Expr, outer bool) *Query {
	q.Joins = append(q.Joins, JoinClause{Target: target, On: on, Outer: outer})
	return q
}

func (q *Query) GroupByExprs(exprs ...Expr) *Query {
	q.GroupBy = exprs
	return q
}

// Union appends parts to render as UNION (ALL, when all is true) after this
// query's own SELECT body.
func (q *Query) Union(all bool, parts ...*Query) *Query {
	q.UnionAll = all
	q.UnionWith = append(q.UnionWith, parts...)
	return q
}

// renderBody renders the statement's CTEs + body, without a trailing
// semicolon, for use standalone or nested as a subquery/CTE definition.
func (q *Query) renderBody(r *renderCtx) string {
	if len(q.UnionWith) > 0 {
		kind := "UNION"
		if q.UnionAll {
			kind = "UNION ALL"
		}
		parts := make([]string, 0, len(q.UnionWith)+1)
		parts = append(parts, "("+q.renderSelectBody(r)+")")
		for _, p := range q.UnionWith {
			parts = append(parts, "("+p.renderBody(r)+")")
		}
		return strings.Join(parts, " "+kind+" ")
	}
	return q.renderSelectBody(r)
}

// renderSelectBody renders this query's own CTEs + SELECT body, ignoring any
// UnionWith parts (used both standalone and as the first branch of a union).
func (q *Query) renderSelectBody(r *renderCtx) string {
	var b strings.Builder
	if len(q.CTEs) > 0 {
		b.WriteString("WITH ")
		parts := make([]string, len(q.CTEs))
		for i, c := range q.CTEs {
			parts[i] = quoteIdent(c.Name) + " AS (" + c.Query.renderBody(r) + ")"
		}
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString(" ")
	}

	b.WriteString("SELECT ")
	if q.Distinct {
		b.WriteString("DISTINCT ")
	}
	if len(q.Columns) == 0 {
		b.WriteString("*")
	} else {
		cols := make([]string, len(q.Columns))
		for i, c := range q.Columns {
			cols[i] = c.render(r)
		}
		b.WriteString(strings.Join(cols, ", "))
	}

	if q.From != nil {
		b.WriteString(" FROM ")
		b.WriteString(q.From.render(r))
	}
	for _, j := range q.Joins {
		b.WriteString(" ")
		b.WriteString(j.render(r))
	}
	if q.Where != nil {
		b.WriteString(" WHERE ")
		b.WriteString(q.Where.render(r))
	}
	if len(q.GroupBy) > 0 {
		parts := make([]string, len(q.GroupBy))
		for i, g := range q.GroupBy {
			parts[i] = g.render(r)
		}
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(parts, ", "))
	}
	if len(q.OrderBy) > 0 {
		parts := make([]string, len(q.OrderBy))
		for i, o := range q.OrderBy {
			parts[i] = o.render(r)
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(parts, ", "))
	}
	if q.Limit != nil {
		b.WriteString(fmt.Sprintf(" LIMIT %d", *q.Limit))
	}
	if q.Offset != nil {
		b.WriteString(fmt.Sprintf(" OFFSET %d", *q.Offset))
	}
	return b.String()
}

// Compiled is the dual output of rendering a Query: a bound-literal string
// for logging and a placeholder + args form for execution (spec §4.9).
type Compiled struct {
	LiteralSQL string
	ExecSQL    string
	Args       []any
}

// Compile renders q in both forms. If literal binding fails for any reason,
// the renderer still produces a usable unbound-compile fallback for logging
// (spec §4.9) — renderLiteral never errors for the value shapes this
// compiler constructs, so the fallback path is defensive only.
func (q *Query) Compile() (Compiled, error) {
	c := Compiled{}

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				execCtx := &renderCtx{bindLiterals: false}
				c.LiteralSQL = q.renderBody(execCtx)
			}
		}()
		litCtx := &renderCtx{bindLiterals: true}
		c.LiteralSQL = q.renderBody(litCtx)
	}()

	execCtx := &renderCtx{bindLiterals: false}
	c.ExecSQL = q.renderBody(execCtx)
	c.Args = execCtx.args

	return c, nil
}
