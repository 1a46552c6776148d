package dcquery

import "strings"

// DataQuery is the compiled pair of statements backing one /data/{endpoint}
// request: the paged row query and its matching total-count query
// (spec §4.6).
type DataQuery struct {
	Rows  *Query
	Count *Query
}

// BuildDataQuery implements the Data Query Assembler (spec §4.6): per
// foreign table it builds an array- or JSON-shaped sub-aggregation CTE keyed
// by the endpoint's join column, outer-joins every CTE back to the endpoint,
// and wraps the result as a single row_to_json(table_valued()) column.
func BuildDataQuery(resolver *Resolver, endpoint *TableInfo, tcfm *tableColumnAndFilterMap, preselect *Preselect, collateResults bool) (*DataQuery, error) {
	inner := &Query{}
	inner.CTE(PreselectCTEName, preselect.Query)
	inner.FromTable(endpoint.Name, endpoint.Name)

	var endpointCols, provenanceCols, filterCols, addCols []Expr

	for _, proj := range tcfm.Ordered() {
		if len(proj.Columns) == 0 {
			continue
		}
		filterColumnNames := make(map[string]bool)
		for _, f := range proj.Filters {
			filterColumnNames[f.Column.UniqueName] = true
		}

		if proj.Table == endpoint {
			cols, err := buildEndpointSelectItems(resolver, endpoint, proj.Columns)
			if err != nil {
				return nil, err
			}
			endpointCols = append(endpointCols, cols...)
			continue
		}

		arrayShape := !collateResults
		cteName, cteQuery, joinKeyCol, outNames, err := buildForeignAggregation(resolver, endpoint, proj.Table, proj.Columns, arrayShape)
		if err != nil {
			return nil, err
		}
		inner.CTE(cteName, cteQuery)

		joinOn := BinOp{Left: Col(endpoint.PrimaryKey), Op: "=", Right: Ident{Table: cteName, Column: joinKeyCol}}
		inner.Join(FromItem{Table: cteName, Alias: cteName}, joinOn, true)

		for _, name := range outNames {
			alias := Alias{
				Expr: Call{Name: "COALESCE", Args: []Expr{Ident{Table: cteName, Column: name}, Raw("'[]'")}},
				Name: name,
			}
			switch {
			case strings.HasSuffix(alias.Name, "identifiers"):
				provenanceCols = append(provenanceCols, alias)
			case filterColumnNames[alias.Name]:
				filterCols = append(filterCols, alias)
			default:
				addCols = append(addCols, alias)
			}
		}
	}

	// Column ordering (spec §4.6): endpoint's own columns first, then
	// *_identifier provenance aggregates, then filter-shadowing columns,
	// then remaining added columns.
	inner.Columns = append(append(append(endpointCols, provenanceCols...), filterCols...), addCols...)

	preselectSub, err := preselect.Subquery(endpoint)
	if err != nil {
		return nil, err
	}
	inner.Where = InSubquery{Left: Col(endpoint.PrimaryKey), Query: preselectSub}

	rows := (&Query{}).
		Select(Call{Name: "ROW_TO_JSON", Args: []Expr{Raw(quoteIdent("json_result"))}}).
		FromSubquery(inner, "json_result")

	countInner := &Query{}
	countInner.CTE(PreselectCTEName, preselect.Query)
	countPreselectSub, err := preselect.Subquery(endpoint)
	if err != nil {
		return nil, err
	}
	countInner.Select(Col(endpoint.PrimaryKey)).
		FromTable(endpoint.Name, endpoint.Name)
	countInner.Where = InSubquery{Left: Col(endpoint.PrimaryKey), Query: countPreselectSub}

	count := (&Query{}).
		Select(Call{Name: "COUNT", Args: []Expr{Raw("*")}}).
		FromSubquery(countInner, "rows_to_count")

	return &DataQuery{Rows: rows, Count: count}, nil
}

// buildEndpointSelectItems handles the endpoint table's own select columns:
// non-virtual columns select directly; virtual columns (physically on a
// different table but addressed under the endpoint) are grouped by their
// virtual parent and built as an array sub-aggregation keyed back to the
// endpoint id (spec §4.6).
func buildEndpointSelectItems(resolver *Resolver, endpoint *TableInfo, columns []*ColumnInfo) ([]Expr, error) {
	var items []Expr
	virtualGroups := make(map[string][]*ColumnInfo)
	var virtualOrder []string

	for _, c := range columns {
		if c.VirtualTable == "" {
			items = append(items, Alias{Expr: Col(c), Name: c.UniqueName})
			continue
		}
		if _, ok := virtualGroups[c.VirtualTable]; !ok {
			virtualOrder = append(virtualOrder, c.VirtualTable)
		}
		virtualGroups[c.VirtualTable] = append(virtualGroups[c.VirtualTable], c)
	}

	for _, virtualTableName := range virtualOrder {
		cols := virtualGroups[virtualTableName]
		physicalTable := cols[0].ParentTable
		_ = virtualTableName
		_, cteQuery, joinKeyCol, outNames, err := buildForeignAggregation(resolver, endpoint, physicalTable, cols, true)
		if err != nil {
			return nil, err
		}
		cteName := physicalTable.Name + "_" + endpoint.Name + "_virtual"
		items = append(items, virtualSubaggregate(cteName, cteQuery, joinKeyCol, outNames, endpoint)...)
	}
	return items, nil
}

// virtualSubaggregate renders a virtual-column group's aggregation inline as
// a correlated scalar array, since it must appear alongside the endpoint's
// own plain columns rather than via an outer JOIN.
func virtualSubaggregate(cteName string, cteQuery *Query, joinKeyCol string, outNames []string, endpoint *TableInfo) []Expr {
	var out []Expr
	for _, name := range outNames {
		sub := &Query{}
		sub.Select(Ident{Table: cteName, Column: name}).
			FromSubquery(cteQuery, cteName)
		sub.Where = BinOp{Left: Ident{Table: cteName, Column: joinKeyCol}, Op: "=", Right: Col(endpoint.PrimaryKey)}
		out = append(out, Alias{Expr: Call{Name: "COALESCE", Args: []Expr{ScalarSubquery{Query: sub}, Raw("'[]'")}}, Name: name})
	}
	return out
}
