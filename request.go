package dcquery

import "strings"

// ProjectionMode distinguishes data-mode projection (data_returns) from
// summary-mode projection (summary_returns).
type ProjectionMode string

const (
	ModeData    ProjectionMode = "data"
	ModeSummary ProjectionMode = "summary"
)

// RequestSpec is the normalized shape of one incoming request body (spec §3).
type RequestSpec struct {
	Endpoint          string
	MatchAll          []string
	MatchSome         []string
	AddColumns        []string
	ExcludeColumns    []string
	CollateResults    bool
	ExternalReference bool
}

// TableProjection is one table's resolved column and filter set within a
// normalized request (spec §4.4 output: "{endpoint: projection_set} ∪
// {foreign_table: {columns, filters}}").
type TableProjection struct {
	Table   *TableInfo
	Columns []*ColumnInfo
	Filters []*FilterSpec
}

func newProjection(t *TableInfo) *TableProjection {
	return &TableProjection{Table: t}
}

func (p *TableProjection) addColumn(c *ColumnInfo) {
	for _, existing := range p.Columns {
		if existing == c {
			return
		}
	}
	p.Columns = append(p.Columns, c)
}

func (p *TableProjection) removeColumn(c *ColumnInfo) {
	out := p.Columns[:0]
	for _, existing := range p.Columns {
		if existing != c {
			out = append(out, existing)
		}
	}
	p.Columns = out
}

// tableColumnAndFilterMap is the ordered map the Normalizer produces, keyed
// by table, preserving first-seen table order so downstream assembly is
// deterministic.
type tableColumnAndFilterMap struct {
	order []*TableInfo
	m     map[*TableInfo]*TableProjection
}

func newTableColumnAndFilterMap() *tableColumnAndFilterMap {
	return &tableColumnAndFilterMap{m: make(map[*TableInfo]*TableProjection)}
}

func (t *tableColumnAndFilterMap) get(table *TableInfo) *TableProjection {
	p, ok := t.m[table]
	if !ok {
		p = newProjection(table)
		t.m[table] = p
		t.order = append(t.order, table)
	}
	return p
}

// Ordered returns projections in first-seen order.
func (t *tableColumnAndFilterMap) Ordered() []*TableProjection {
	out := make([]*TableProjection, len(t.order))
	for i, table := range t.order {
		out[i] = t.m[table]
	}
	return out
}

// Normalize implements the Request Normalizer (spec §4.4): it seeds the
// projection with the endpoint's default columns, folds in filter columns,
// applies ADD_COLUMNS/EXCLUDE_COLUMNS, and (in data mode) folds in
// external_reference columns when requested.
func Normalize(
	catalog *Catalog,
	endpoint *TableInfo,
	mode ProjectionMode,
	filters []*FilterSpec,
	addColumns []string,
	excludeColumns []string,
	externalReference bool,
) (*tableColumnAndFilterMap, error) {
	out := newTableColumnAndFilterMap()

	// 1. Seed with endpoint's default columns for this mode.
	endpointProjection := out.get(endpoint)
	for _, c := range defaultColumns(endpoint, mode) {
		endpointProjection.addColumn(c)
	}

	// 2. Fold in every filter's resolved column, tracking columns and
	// filters per table.
	for _, f := range filters {
		proj := out.get(f.Column.ParentTable)
		proj.addColumn(f.Column)
		proj.Filters = append(proj.Filters, f)
	}

	// 3. ADD_COLUMNS: "table.*" expands to all columns of that table for the
	// current mode; a plain name resolves via the catalog; unknown names
	// fail with ColumnNotFound (near-match suggestions via catalog lookup).
	for _, entry := range addColumns {
		if table, colName, ok := strings.Cut(entry, "."); ok && colName == "*" {
			t, err := catalog.GetTable(table)
			if err != nil {
				return nil, err
			}
			proj := out.get(t)
			for _, c := range defaultColumns(t, mode) {
				proj.addColumn(c)
			}
			continue
		}

		col, err := catalog.GetColumnByUniqueName(entry)
		if err != nil {
			return nil, err
		}
		out.get(col.ParentTable).addColumn(col)
	}

	// 4. EXCLUDE_COLUMNS: subtract from the projection; exclusions always
	// win over additions.
	for _, entry := range excludeColumns {
		col, err := catalog.GetColumnByUniqueName(entry)
		if err != nil {
			continue // unresolvable exclusions are a no-op, not an error
		}
		if proj, ok := out.m[col.ParentTable]; ok {
			proj.removeColumn(col)
		}
	}

	// 5. Mode-specific: in data mode, external_reference columns.
	if mode == ModeData && externalReference {
		extRefTable, err := catalog.GetTable("external_reference")
		if err == nil {
			proj := out.get(extRefTable)
			for _, c := range defaultColumns(extRefTable, mode) {
				proj.addColumn(c)
			}
		}
	}

	return out, nil
}

func defaultColumns(t *TableInfo, mode ProjectionMode) []*ColumnInfo {
	if mode == ModeSummary {
		return t.SummaryColumns()
	}
	return t.DataColumns()
}
