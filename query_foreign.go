package dcquery

import "fmt"

// buildForeignAggregation builds one foreign table's sub-aggregation CTE,
// keyed by the endpoint's join column, in either array or JSON shape
// (spec §4.6). Grounded on the original's build_foreign_preselect /
// unique_column_array_agg helpers.
//
// Returns the CTE's name, its query body, the name of the join-key column
// within that CTE (always the endpoint's alias column name), and the names
// of the CTE's remaining output columns, which the caller wraps as
// COALESCE(cte.col, '[]') in the outer query (spec §4.6).
func buildForeignAggregation(resolver *Resolver, endpoint, foreignTable *TableInfo, columns []*ColumnInfo, arrayShape bool) (string, *Query, string, []string, error) {
	rel, err := resolver.Resolve(endpoint, foreignTable)
	if err != nil {
		return "", nil, "", nil, err
	}

	joinKeyCol := aliasColumnName(endpoint)

	base := &Query{}
	base.FromTable(foreignTable.Name, foreignTable.Name)

	var groupKeyExpr Expr
	if rel.RequiresMappingTable() {
		base.Join(FromItem{Table: rel.MappingTable.Name, Alias: rel.MappingTable.Name},
			BinOp{Left: Col(rel.ForeignMappingColumn), Op: "=", Right: Col(rel.ForeignColumn)}, false)
		groupKeyExpr = Col(rel.LocalMappingColumn)
	} else {
		groupKeyExpr = Col(rel.ForeignColumn)
	}

	if len(rel.AdditionalFilters) > 0 {
		var clauses []Expr
		for _, af := range rel.AdditionalFilters {
			clauses = append(clauses, BinOp{Left: Col(af.Column), Op: "=", Right: Lit{Value: af.Value}})
		}
		base.Where = And(clauses)
	}

	if arrayShape {
		cteName := fmt.Sprintf("%s_%s_columns", foreignTable.Name, endpoint.Name)
		cols := []Expr{Alias{Expr: groupKeyExpr, Name: joinKeyCol}}
		var outNames []string
		for _, c := range columns {
			cols = append(cols, Alias{
				Expr: Call{Name: "ARRAY_REMOVE", Args: []Expr{
					Call{Name: "ARRAY_AGG", Distinct: true, Args: []Expr{Col(c)}},
					Raw("NULL"),
				}},
				Name: c.UniqueName,
			})
			outNames = append(outNames, c.UniqueName)
		}
		base.Select(cols...)
		base.GroupByExprs(groupKeyExpr)
		return cteName, base, joinKeyCol, outNames, nil
	}

	// JSON shape: inner row-level subquery, middle json_build_object layer,
	// outer ARRAY_AGG grouped by join key.
	innerCols := []Expr{Alias{Expr: groupKeyExpr, Name: joinKeyCol}}
	for _, c := range columns {
		innerCols = append(innerCols, Alias{Expr: Col(c), Name: c.UniqueName})
	}
	base.Select(innerCols...)

	var jsonArgs []Expr
	for _, c := range columns {
		jsonArgs = append(jsonArgs,
			Raw("'"+c.UniqueName+"'"),
			Ident{Table: "json_base", Column: c.UniqueName},
		)
	}
	middle := &Query{}
	middle.Select(
		Ident{Table: "json_base", Column: joinKeyCol},
		Alias{Expr: Call{Name: "JSON_BUILD_OBJECT", Args: jsonArgs}, Name: "json_results"},
	).FromSubquery(base, "json_base")

	columnsLabel := foreignTable.Name + "_columns"
	final := &Query{}
	final.Select(
		Alias{Expr: Ident{Table: "json_mid", Column: joinKeyCol}, Name: joinKeyCol},
		Alias{Expr: Call{Name: "ARRAY_AGG", Args: []Expr{Ident{Table: "json_mid", Column: "json_results"}}}, Name: columnsLabel},
	).FromSubquery(middle, "json_mid")
	final.GroupByExprs(Ident{Table: "json_mid", Column: joinKeyCol})

	cteName := foreignTable.Name + "_collated_preselect"
	return cteName, final, joinKeyCol, []string{columnsLabel}, nil
}
