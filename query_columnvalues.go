package dcquery

import (
	"sort"
	"strings"
)

// ColumnValuesQuery is the compiled pair of statements backing one
// /column_values/{column} request (spec §4.8).
type ColumnValuesQuery struct {
	Rows  *Query
	Count *Query
}

// BuildColumnValuesQuery implements the `column_values(column, data_source?)`
// assembler (spec §4.8): `SELECT column, COUNT(*) GROUP BY column ORDER BY
// column`, optionally filtered by `data_at_{source}=true` for each
// comma-separated source, wrapped as row_to_json.
func BuildColumnValuesQuery(col *ColumnInfo, dataSources []string) (*ColumnValuesQuery, error) {
	table := col.ParentTable

	inner := &Query{}
	inner.FromTable(table.Name, table.Name)
	inner.Select(
		Alias{Expr: Col(col), Name: "value"},
		Alias{Expr: Call{Name: "COUNT", Args: []Expr{Raw("*")}}, Name: "count"},
	)
	inner.GroupByExprs(Col(col))
	inner.OrderBy = []Expr{Col(col)}

	if len(dataSources) > 0 {
		var clauses []Expr
		for _, source := range dataSources {
			source = strings.TrimSpace(source)
			if source == "" {
				continue
			}
			sourceCol, ok := table.Column("data_at_" + source)
			if !ok {
				return nil, newErr(KindSystemNotFound, "unknown data_source %q for table %q", source, table.Name)
			}
			clauses = append(clauses, BinOp{Left: Col(sourceCol), Op: "=", Right: Lit{Value: true}})
		}
		if len(clauses) > 0 {
			inner.Where = And(clauses)
		}
	}

	rows := (&Query{}).
		Select(Call{Name: "ROW_TO_JSON", Args: []Expr{Raw(quoteIdent("value_row"))}}).
		FromSubquery(inner, "value_row")

	countInner := &Query{}
	*countInner = *inner
	countInner.OrderBy = nil
	countOuter := (&Query{}).
		Select(Call{Name: "COUNT", Args: []Expr{Raw("*")}}).
		FromSubquery(countInner, "distinct_values")

	return &ColumnValuesQuery{Rows: rows, Count: countOuter}, nil
}

// BuildReleaseMetadataQuery implements `release_metadata` (spec §4.8):
// `SELECT row_to_json(release_metadata)`.
func BuildReleaseMetadataQuery(catalog *Catalog) (*Query, error) {
	table, err := catalog.GetTable("release_metadata")
	if err != nil {
		return nil, err
	}
	return (&Query{}).
		Select(Call{Name: "ROW_TO_JSON", Args: []Expr{Raw(quoteIdent(table.Name))}}).
		FromTable(table.Name, table.Name), nil
}

// ColumnDescriptor is one row of the static `/columns` catalog response
// (spec §6 ColumnsResponse).
type ColumnDescriptor struct {
	Table       string `json:"table"`
	Column      string `json:"column"`
	DataType    string `json:"data_type"`
	Nullable    bool   `json:"nullable"`
	Description string `json:"description"`
}

// Columns implements the `/columns` static endpoint's dedup rule (spec §9,
// REDESIGN FLAG (c)): one row per (virtual-or-real parent table, unique
// name), so a column exposed under a virtual_table parent is listed once
// under that parent rather than once per physical location.
func (c *Catalog) Columns() []ColumnDescriptor {
	type key struct{ table, unique string }
	seen := make(map[key]bool)
	var out []ColumnDescriptor

	var tableNames []string
	for name := range c.Tables {
		tableNames = append(tableNames, name)
	}
	sort.Strings(tableNames)

	for _, tname := range tableNames {
		for _, col := range c.Tables[tname].Columns {
			parent := col.ParentTable.Name
			if col.VirtualTable != "" {
				parent = col.VirtualTable
			}
			k := key{table: parent, unique: col.UniqueName}
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, ColumnDescriptor{
				Table:       parent,
				Column:      col.UniqueName,
				DataType:    col.SQLType,
				Nullable:    col.Nullable,
				Description: col.Comment,
			})
		}
	}
	return out
}
