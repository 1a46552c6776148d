package dcquery

// PreselectCTEName is the fixed name of the filtered-preselect CTE every
// downstream query is gated against (spec §4.5, GLOSSARY "Preselect").
const PreselectCTEName = "filtered_preselect"

// Preselect is the built filtered_preselect CTE plus the surface needed by
// the data/summary assemblers to reference it (spec §4.5
// "Exposed surface").
type Preselect struct {
	Query *Query // the CTE body, to be registered under PreselectCTEName

	aliasColumn map[*TableInfo]string // table -> its alias column name within the CTE
}

// AliasColumn returns the CTE's alias column name for table, if the table
// participates in the preselect.
func (p *Preselect) AliasColumn(table *TableInfo) (string, bool) {
	name, ok := p.aliasColumn[table]
	return name, ok
}

// Ident returns the filtered_preselect.{alias} identifier for table.
func (p *Preselect) Ident(table *TableInfo) (Ident, error) {
	name, ok := p.aliasColumn[table]
	if !ok {
		return Ident{}, newErr(KindInternalError, "table %q is not part of the filtered preselect", table.Name)
	}
	return Ident{Table: PreselectCTEName, Column: name}, nil
}

// Subquery returns `SELECT {alias} FROM filtered_preselect`, used by outer
// queries to gate `endpoint.pk IN (...)`.
func (p *Preselect) Subquery(table *TableInfo) (*Query, error) {
	id, err := p.Ident(table)
	if err != nil {
		return nil, err
	}
	return (&Query{}).Select(id).FromTable(PreselectCTEName, PreselectCTEName), nil
}

func aliasColumnName(table *TableInfo) string {
	return table.Name + "_alias"
}

// BuildPreselect implements the Preselect Builder (spec §4.5): it determines
// the minimal set of mapping tables needed to reach every filter-owning
// table, joins them to the endpoint, and lowers every filter to either a
// literal predicate (filter lives on the sole preselected table) or an
// EXISTS subquery (filter lives elsewhere), combining MATCH_ALL with AND and
// MATCH_SOME with OR.
func BuildPreselect(catalog *Catalog, resolver *Resolver, endpoint *TableInfo, tcfm *tableColumnAndFilterMap) (*Preselect, error) {
	mappingTables := make(map[*TableInfo]*TableRelationship)
	var matchAll, matchSome []Expr

	// 1. Determine mapping tables needed to reach filter-owning tables other
	// than the endpoint itself (excluding the external_reference mapping,
	// per spec §4.5.1; relationship.go lists file<->external_reference as an
	// ignored pair).
	for _, proj := range tcfm.Ordered() {
		if len(proj.Filters) == 0 || proj.Table == endpoint {
			continue
		}
		if proj.Table.Name == "external_reference" {
			continue
		}
		rel, err := resolver.Resolve(endpoint, proj.Table)
		if err != nil {
			return nil, err
		}
		if rel.RequiresMappingTable() {
			mappingTables[rel.MappingTable] = rel
		}
	}

	q := &Query{}
	aliasCols := map[*TableInfo]string{endpoint: aliasColumnName(endpoint)}
	endpointAlias := aliasColumnName(endpoint)

	if len(mappingTables) == 0 {
		// 2. No mapping tables required: preselect is the endpoint PK alias only.
		q.Select(Alias{Expr: Col(endpoint.PrimaryKey), Name: endpointAlias}).
			FromTable(endpoint.Name, endpoint.Name)
	} else {
		// 3. Select each distinct mapping-side alias column, joining the
		// mapping tables to the endpoint.
		cols := []Expr{Alias{Expr: Col(endpoint.PrimaryKey), Name: endpointAlias}}
		q.FromTable(endpoint.Name, endpoint.Name)

		for m, rel := range mappingTables {
			joinOn := BinOp{Left: Col(endpoint.PrimaryKey), Op: "=", Right: Col(rel.LocalMappingColumn)}
			q.Join(FromItem{Table: m.Name, Alias: m.Name}, joinOn, false)

			otherAlias := aliasColumnName(rel.To)
			cols = append(cols, Alias{Expr: Col(rel.ForeignMappingColumn), Name: otherAlias})
			aliasCols[rel.To] = otherAlias
		}
		q.Select(cols...)
	}

	// 4. Lower every filter to a predicate rooted at the preselect.
	for _, proj := range tcfm.Ordered() {
		for _, f := range proj.Filters {
			pred, err := lowerFilterPredicate(resolver, f, endpoint, proj.Table, aliasCols)
			if err != nil {
				return nil, err
			}
			switch f.Mode {
			case MatchSome:
				matchSome = append(matchSome, pred)
			default:
				matchAll = append(matchAll, pred)
			}
		}
	}

	// 5. Combine: WHERE (AND match_all) AND (OR match_some), each block
	// present only if non-empty.
	var whereParts []Expr
	if len(matchAll) > 0 {
		whereParts = append(whereParts, And(matchAll))
	}
	if len(matchSome) > 0 {
		whereParts = append(whereParts, Or(matchSome))
	}
	if len(whereParts) > 0 {
		q.Where = And(whereParts)
	}

	return &Preselect{Query: q, aliasColumn: aliasCols}, nil
}

// lowerFilterPredicate renders one filter as either a literal predicate
// (filter lives on the endpoint, the only entity table in the preselect's
// FROM) or an EXISTS subquery rooted at the endpoint/mapping alias (spec
// §4.5.4).
func lowerFilterPredicate(resolver *Resolver, f *FilterSpec, endpoint, filterTable *TableInfo, aliasCols map[*TableInfo]string) (Expr, error) {
	if filterTable == endpoint {
		return filterExpr(f, filterTable.Name), nil
	}

	// Otherwise: wrap as EXISTS, correlating back to the endpoint (or, when
	// a mapping table is required, to the mapping table's reached alias).
	sub := &Query{}
	sub.FromTable(filterTable.Name, filterTable.Name)

	rel, err := resolver.Resolve(endpoint, filterTable)
	if err != nil {
		return nil, err
	}

	var correlatedOn Expr
	if rel.RequiresMappingTable() {
		sub.Join(FromItem{Table: rel.MappingTable.Name, Alias: rel.MappingTable.Name},
			BinOp{Left: Col(rel.ForeignMappingColumn), Op: "=", Right: Col(rel.ForeignColumn)}, false)
		correlatedOn = BinOp{
			Left:  Col(rel.LocalMappingColumn),
			Op:    "=",
			Right: Col(endpoint.PrimaryKey),
		}
	} else {
		correlatedOn = BinOp{
			Left:  Col(rel.ForeignColumn),
			Op:    "=",
			Right: Col(rel.LocalColumn),
		}
	}

	predicate := filterExpr(f, filterTable.Name)
	clauses := []Expr{correlatedOn, predicate}
	for _, af := range rel.AdditionalFilters {
		clauses = append(clauses, BinOp{Left: Col(af.Column), Op: "=", Right: Lit{Value: af.Value}})
	}
	sub.Where = And(clauses)

	return Exists{Query: sub}, nil
}

