package dcquery

import (
	"github.com/rs/zerolog"
)

// BuildSummaryQuery implements the Summary Query Assembler (spec §4.7):
// total_count, the other endpoint's reachable count, a per-projected-column
// statistical aggregate, and the data_source subset breakdown, all wrapped
// as a single row_to_json row. Grounded on
// original_source/cda_api/classes/SummaryQuery.py.
func BuildSummaryQuery(catalog *Catalog, resolver *Resolver, endpoint *TableInfo, tcfm *tableColumnAndFilterMap, preselect *Preselect, logger zerolog.Logger) (*Query, error) {
	endpointAlias := aliasColumnName(endpoint)
	var items []Expr

	totalCountSub := (&Query{}).
		Select(Call{Name: "COUNT", Distinct: true, Args: []Expr{Ident{Table: PreselectCTEName, Column: endpointAlias}}}).
		FromTable(PreselectCTEName, PreselectCTEName)
	items = append(items, Alias{Expr: ScalarSubquery{Query: totalCountSub}, Name: "total_count"})

	if other, err := catalog.OtherEndpoint(endpoint); err == nil {
		if rel, rerr := resolver.Resolve(endpoint, other); rerr == nil {
			sub := &Query{}
			sub.FromTable(PreselectCTEName, PreselectCTEName)
			if rel.RequiresMappingTable() {
				sub.Join(FromItem{Table: rel.MappingTable.Name, Alias: rel.MappingTable.Name},
					BinOp{Left: Col(rel.LocalMappingColumn), Op: "=", Right: Ident{Table: PreselectCTEName, Column: endpointAlias}}, false)
				sub.Join(FromItem{Table: other.Name, Alias: other.Name},
					BinOp{Left: Col(rel.ForeignColumn), Op: "=", Right: Col(rel.ForeignMappingColumn)}, false)
			} else {
				sub.Join(FromItem{Table: other.Name, Alias: other.Name},
					BinOp{Left: Col(rel.ForeignColumn), Op: "=", Right: Ident{Table: PreselectCTEName, Column: endpointAlias}}, false)
			}
			sub.Select(Call{Name: "COUNT", Distinct: true, Args: []Expr{Col(other.PrimaryKey)}})
			items = append(items, Alias{Expr: ScalarSubquery{Query: sub}, Name: other.Name + "_count"})
		}
	}

	for _, proj := range tcfm.Ordered() {
		for _, col := range proj.Columns {
			var expr Expr
			var err error

			switch col.ColumnType {
			case ColumnNumeric:
				expr, err = numericSummaryExpr(resolver, endpoint, col, preselect)
			case ColumnCategorical:
				if col.ParentTable == endpoint {
					expr, err = categoricalLocalExpr(resolver, endpoint, col, preselect)
				} else {
					expr, err = categoricalNonLocalExpr(resolver, endpoint, col, preselect)
				}
			default:
				logger.Debug().Str("column", col.UniqueName).Str("column_type", string(col.ColumnType)).
					Msg("summary: column type has no summarizer, skipping")
				continue
			}
			if err != nil {
				return nil, err
			}
			items = append(items, Alias{Expr: expr, Name: col.UniqueName + "_summary"})
		}
	}

	dsExpr, err := dataSourceSummaryExpr(endpoint, preselect)
	if err != nil {
		return nil, err
	}
	if dsExpr != nil {
		items = append(items, Alias{Expr: dsExpr, Name: "data_source"})
	}

	inner := &Query{}
	inner.CTE(PreselectCTEName, preselect.Query)
	inner.Select(items...)

	return (&Query{}).
		Select(Call{Name: "ROW_TO_JSON", Args: []Expr{Raw(quoteIdent("summary_result"))}}).
		FromSubquery(inner, "summary_result"), nil
}

// restrictToPreselect builds `FROM table [JOIN mapping]` restricted to rows
// reachable from the preselected endpoint set, returning both the query and
// the expression identifying, for each row, the endpoint id it belongs to
// (used by the null-aware categorical aggregate to detect "no value").
func restrictToPreselect(resolver *Resolver, endpoint, table *TableInfo, preselect *Preselect) (*Query, Expr, error) {
	q := &Query{}
	q.FromTable(table.Name, table.Name)

	if table == endpoint {
		sub, err := preselect.Subquery(endpoint)
		if err != nil {
			return nil, nil, err
		}
		q.Where = InSubquery{Left: Col(endpoint.PrimaryKey), Query: sub}
		return q, Col(endpoint.PrimaryKey), nil
	}

	rel, err := resolver.Resolve(endpoint, table)
	if err != nil {
		return nil, nil, err
	}
	sub, err := preselect.Subquery(endpoint)
	if err != nil {
		return nil, nil, err
	}

	var connExpr Expr
	if rel.RequiresMappingTable() {
		q.Join(FromItem{Table: rel.MappingTable.Name, Alias: rel.MappingTable.Name},
			BinOp{Left: Col(rel.ForeignMappingColumn), Op: "=", Right: Col(rel.ForeignColumn)}, false)
		q.Where = InSubquery{Left: Col(rel.LocalMappingColumn), Query: sub}
		connExpr = Col(rel.LocalMappingColumn)
	} else {
		q.Where = InSubquery{Left: Col(rel.ForeignColumn), Query: sub}
		connExpr = Col(rel.ForeignColumn)
	}

	if len(rel.AdditionalFilters) > 0 {
		clauses := []Expr{q.Where}
		for _, af := range rel.AdditionalFilters {
			clauses = append(clauses, BinOp{Left: Col(af.Column), Op: "=", Right: Lit{Value: af.Value}})
		}
		q.Where = And(clauses)
	}
	return q, connExpr, nil
}

// numericSummaryExpr builds the `{min,max,mean,median,lower_quartile,
// upper_quartile}` aggregate for one numeric column, wrapped as a
// single-element array (spec §4.7).
func numericSummaryExpr(resolver *Resolver, endpoint *TableInfo, col *ColumnInfo, preselect *Preselect) (Expr, error) {
	stats, _, err := restrictToPreselect(resolver, endpoint, col.ParentTable, preselect)
	if err != nil {
		return nil, err
	}
	stats.Select(
		Alias{Expr: Call{Name: "MIN", Args: []Expr{Col(col)}}, Name: "min"},
		Alias{Expr: Call{Name: "MAX", Args: []Expr{Col(col)}}, Name: "max"},
		Alias{Expr: Call{Name: "ROUND", Args: []Expr{Call{Name: "AVG", Args: []Expr{Col(col)}}}}, Name: "mean"},
		Alias{Expr: WithinGroup{Call: Call{Name: "PERCENTILE_DISC", Args: []Expr{Lit{Value: float64(0.5)}}}, OrderBy: Col(col)}, Name: "median"},
		Alias{Expr: WithinGroup{Call: Call{Name: "PERCENTILE_DISC", Args: []Expr{Lit{Value: float64(0.25)}}}, OrderBy: Col(col)}, Name: "lower_quartile"},
		Alias{Expr: WithinGroup{Call: Call{Name: "PERCENTILE_DISC", Args: []Expr{Lit{Value: float64(0.75)}}}, OrderBy: Col(col)}, Name: "upper_quartile"},
	)

	outer := (&Query{}).
		Select(Call{Name: "ARRAY_AGG", Args: []Expr{Call{Name: "ROW_TO_JSON", Args: []Expr{Raw(quoteIdent("stats_row"))}}}}).
		FromSubquery(stats, "stats_row")
	return ScalarSubquery{Query: outer}, nil
}

// categoricalLocalExpr builds the `ARRAY_AGG(row_to_json({value, count}))`
// aggregate for a categorical column that lives on the endpoint's own table
// (spec §4.7).
func categoricalLocalExpr(resolver *Resolver, endpoint *TableInfo, col *ColumnInfo, preselect *Preselect) (Expr, error) {
	grouped, _, err := restrictToPreselect(resolver, endpoint, col.ParentTable, preselect)
	if err != nil {
		return nil, err
	}
	grouped.Select(
		Alias{Expr: Col(col), Name: "value"},
		Alias{Expr: Call{Name: "COUNT", Args: []Expr{Raw("*")}}, Name: "count"},
	)
	grouped.GroupByExprs(Col(col))

	outer := (&Query{}).
		Select(Call{Name: "ARRAY_AGG", Args: []Expr{Call{Name: "ROW_TO_JSON", Args: []Expr{Raw(quoteIdent("g"))}}}}).
		FromSubquery(grouped, "g")
	return ScalarSubquery{Query: outer}, nil
}

// categoricalNonLocalExpr builds the null-aware categorical aggregate for a
// column that lives on a table reached from the endpoint (spec §4.7): the
// union of non-null (connecting id, value) pairs with (connecting id, NULL)
// for ids that carry no non-null value at all, grouped by value.
func categoricalNonLocalExpr(resolver *Resolver, endpoint *TableInfo, col *ColumnInfo, preselect *Preselect) (Expr, error) {
	endpointAlias := aliasColumnName(endpoint)

	base, connExpr, err := restrictToPreselect(resolver, endpoint, col.ParentTable, preselect)
	if err != nil {
		return nil, err
	}
	notNull := BinOp{Left: Col(col), Op: "IS NOT", Right: Raw("NULL")}

	nonNull := &Query{}
	*nonNull = *base
	nonNull.Where = And{base.Where, notNull}
	nonNull.Distinct = true
	nonNull.Select(
		Alias{Expr: connExpr, Name: "conn_id"},
		Alias{Expr: Col(col), Name: "value"},
	)

	existsNonNull := &Query{}
	*existsNonNull = *base
	existsNonNull.Where = And{base.Where, notNull,
		BinOp{Left: connExpr, Op: "=", Right: Ident{Table: PreselectCTEName, Column: endpointAlias}}}
	existsNonNull.Select(Raw("1"))

	noValue := &Query{}
	noValue.FromTable(PreselectCTEName, PreselectCTEName)
	noValue.Where = Not{Expr: Exists{Query: existsNonNull}}
	noValue.Select(
		Alias{Expr: Ident{Table: PreselectCTEName, Column: endpointAlias}, Name: "conn_id"},
		Alias{Expr: Raw("NULL"), Name: "value"},
	)

	combined := &Query{}
	*combined = *nonNull
	combined.Union(true, noValue)

	grouped := (&Query{}).
		Select(
			Alias{Expr: Ident{Table: "combined_values", Column: "value"}, Name: "value"},
			Alias{Expr: Call{Name: "COUNT", Args: []Expr{Raw("*")}}, Name: "count"},
		).
		FromSubquery(combined, "combined_values").
		GroupByExprs(Ident{Table: "combined_values", Column: "value"})

	outer := (&Query{}).
		Select(Call{Name: "ARRAY_AGG", Args: []Expr{Call{Name: "ROW_TO_JSON", Args: []Expr{Raw(quoteIdent("g"))}}}}).
		FromSubquery(grouped, "g")
	return ScalarSubquery{Query: outer}, nil
}

// dataSourceSummaryExpr builds the data_source breakdown (spec §4.7): a JSON
// object keyed by every non-empty subset of the endpoint's `*_data_at_*`
// boolean columns, each value the exact-match row count for that subset.
func dataSourceSummaryExpr(endpoint *TableInfo, preselect *Preselect) (Expr, error) {
	var sourceCols []*ColumnInfo
	for _, c := range endpoint.Columns {
		if dataAtToken(c.Name) != "" {
			sourceCols = append(sourceCols, c)
		}
	}
	if len(sourceCols) == 0 {
		return nil, nil
	}

	sub, err := preselect.Subquery(endpoint)
	if err != nil {
		return nil, err
	}

	n := len(sourceCols)
	var jsonArgs []Expr
	for mask := 1; mask < (1 << uint(n)); mask++ {
		var tokens []string
		var clauses []Expr
		for i, c := range sourceCols {
			inSubset := mask&(1<<uint(i)) != 0
			if inSubset {
				tokens = append(tokens, dataAtToken(c.Name))
			}
			clauses = append(clauses, BinOp{Left: Col(c), Op: "=", Right: Lit{Value: inSubset}})
		}

		key := joinUnderscore(tokens)
		if mask != (1<<uint(n))-1 {
			key += "_exclusive"
		}

		q := &Query{}
		q.FromTable(endpoint.Name, endpoint.Name)
		q.Where = And(append([]Expr{InSubquery{Left: Col(endpoint.PrimaryKey), Query: sub}}, clauses...))
		q.Select(Call{Name: "COUNT", Args: []Expr{Raw("*")}})

		jsonArgs = append(jsonArgs, Raw("'"+key+"'"), ScalarSubquery{Query: q})
	}

	return Call{Name: "JSON_BUILD_OBJECT", Args: jsonArgs}, nil
}

// dataAtToken returns the source token of a "..._data_at_<source>" column
// name, or "" if name does not match that pattern.
func dataAtToken(name string) string {
	const marker = "_data_at_"
	idx := lastIndex(name, marker)
	if idx < 0 {
		return ""
	}
	return name[idx+len(marker):]
}

func lastIndex(s, sub string) int {
	last := -1
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			last = i
		}
	}
	return last
}

func joinUnderscore(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "_"
		}
		out += p
	}
	return out
}
