package dcquery

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TableRole classifies a table's part in the compiler's join graph.
type TableRole string

const (
	RoleEndpoint TableRole = "endpoint"
	RoleData     TableRole = "data"
	RoleMapping  TableRole = "mapping"
	RoleVirtual  TableRole = "virtual"
	RoleMetadata TableRole = "metadata-only"
)

// ColumnType is the semantic classification read from column_metadata.
type ColumnType string

const (
	ColumnCategorical ColumnType = "categorical"
	ColumnNumeric     ColumnType = "numeric"
	ColumnNull        ColumnType = "null"
)

// ProcessBeforeDisplay tags a column for special client-side handling.
type ProcessBeforeDisplay string

const (
	ProcessNone                      ProcessBeforeDisplay = ""
	ProcessDataSource                ProcessBeforeDisplay = "data_source"
	ProcessExternalReferenceMetadata ProcessBeforeDisplay = "external_reference_metadata"
)

// ForeignKey describes one foreign key from the owning table to a target table/column.
type ForeignKey struct {
	ConstraintName string
	LocalColumn    *ColumnInfo
	TargetTable    string
	TargetColumn   *ColumnInfo
}

// TableInfo is a frozen description of one table, view, or materialized view.
type TableInfo struct {
	Name          string
	Columns       []*ColumnInfo
	ColumnsByName map[string]*ColumnInfo
	PrimaryKey    *ColumnInfo
	ForeignKeyMap map[string]*ForeignKey // other table name -> FK
	Role          TableRole
}

func (t *TableInfo) String() string { return t.Name }

// Column looks up a column by its physical name on this table.
func (t *TableInfo) Column(name string) (*ColumnInfo, bool) {
	c, ok := t.ColumnsByName[name]
	return c, ok
}

// DataColumns returns columns included in default row (data mode) output.
func (t *TableInfo) DataColumns() []*ColumnInfo {
	out := make([]*ColumnInfo, 0, len(t.Columns))
	for _, c := range t.Columns {
		if c.DataReturns {
			out = append(out, c)
		}
	}
	return out
}

// SummaryColumns returns columns included in default summary output.
func (t *TableInfo) SummaryColumns() []*ColumnInfo {
	out := make([]*ColumnInfo, 0, len(t.Columns))
	for _, c := range t.Columns {
		if c.SummaryReturns {
			out = append(out, c)
		}
	}
	return out
}

// VirtualColumns returns columns physically on this table but addressed
// to clients under a different (virtual) parent table.
func (t *TableInfo) VirtualColumns() []*ColumnInfo {
	out := make([]*ColumnInfo, 0)
	for _, c := range t.Columns {
		if c.VirtualTable != "" {
			out = append(out, c)
		}
	}
	return out
}

// ColumnInfo is a frozen description of one physical column plus semantic metadata.
type ColumnInfo struct {
	UniqueName  string
	ParentTable *TableInfo
	Name        string // physical column name
	SQLType     string
	Nullable    bool
	Comment     string

	ColumnType           ColumnType
	SummaryReturns       bool
	DataReturns          bool
	ProcessBeforeDisplay ProcessBeforeDisplay
	VirtualTable         string

	ForeignKeyTarget *ColumnInfo
	NullTwin         *ColumnInfo
}

func (c *ColumnInfo) String() string {
	return fmt.Sprintf("%s.%s (%s)", c.ParentTable.Name, c.Name, c.UniqueName)
}

// Qualified returns the "table"."column" rendering used in SQL.
func (c *ColumnInfo) Qualified() string {
	return quoteIdent(c.ParentTable.Name) + "." + quoteIdent(c.Name)
}

// uniqueNameOverrides supplies a few canonical short aliases over what the
// bare-name/table-prefixed disambiguation algorithm would otherwise produce.
var uniqueNameOverrides = map[string]string{
	"subject_subject_id_alias": "subject_id_alias",
	"file_file_id_alias":       "file_id_alias",
	"project_project_id_alias": "project_id_alias",
}

// Catalog is the frozen, queryable model of the database. Built once at
// startup from a live connection; immutable and safe for concurrent reads.
type Catalog struct {
	Tables map[string]*TableInfo
	byUnique map[string]*ColumnInfo

	endpointTables []string
}

// endpointTableNames names the two entity endpoints this compiler serves.
var endpointTableNames = []string{"subject", "file"}

// nonMappingTableNames are tables excluded from mapping-table role
// classification even though their FK count might otherwise qualify them.
var nonMappingTableNames = map[string]bool{
	"release_metadata": true,
	"column_metadata":  true,
}

// columnMetadataRow is one row of the column_metadata table.
type columnMetadataRow struct {
	tableName            string
	columnName           string
	columnType           ColumnType
	summaryReturns       bool
	dataReturns          bool
	processBeforeDisplay ProcessBeforeDisplay
	virtualTable         string
}

const listAllTablesSQL = `
SELECT c.relname AS table_name
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = 'public'
  AND c.relkind IN ('r', 'v', 'm', 'p')
ORDER BY c.relname;
`

const allColumnsSQL = `
SELECT
    c.table_name,
    c.column_name,
    c.data_type,
    CASE c.is_nullable WHEN 'YES' THEN true ELSE false END AS nullable,
    COALESCE(pg_catalog.col_description(format('%s.%s', c.table_schema, c.table_name)::regclass::oid, c.ordinal_position), '') AS comment
FROM information_schema.columns c
WHERE c.table_schema = 'public'
ORDER BY c.table_name, c.ordinal_position;
`

const allPrimaryKeysSQL = `
SELECT tc.table_name, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
    ON tc.constraint_name = kcu.constraint_name
    AND tc.table_schema = kcu.table_schema
WHERE tc.constraint_type = 'PRIMARY KEY'
    AND tc.table_schema = 'public'
ORDER BY tc.table_name, kcu.ordinal_position;
`

const allForeignKeysSQL = `
SELECT
    con.conname AS name,
    c.relname AS table_name,
    a.attname AS column_name,
    fc.relname AS target_table,
    fa.attname AS target_column
FROM pg_catalog.pg_constraint con
JOIN pg_catalog.pg_class c ON c.oid = con.conrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
JOIN pg_catalog.pg_class fc ON fc.oid = con.confrelid
JOIN pg_catalog.pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = con.conkey[1]
JOIN pg_catalog.pg_attribute fa ON fa.attrelid = con.confrelid AND fa.attnum = con.confkey[1]
WHERE con.contype = 'f'
  AND n.nspname = 'public'
ORDER BY c.relname, con.conname;
`

const columnMetadataSQL = `
SELECT table_name, column_name, column_type, summary_returns, data_returns,
       COALESCE(process_before_display, ''), COALESCE(virtual_table, '')
FROM column_metadata;
`

// BuildCatalog introspects the live database once and returns a frozen Catalog.
// Failure here must abort process startup (spec §5).
func BuildCatalog(ctx context.Context, pool *pgxpool.Pool) (*Catalog, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	cat := &Catalog{
		Tables:   make(map[string]*TableInfo),
		byUnique: make(map[string]*ColumnInfo),
	}

	if err := cat.loadTables(ctx, tx); err != nil {
		return nil, err
	}
	if err := cat.loadColumns(ctx, tx); err != nil {
		return nil, err
	}
	if err := cat.loadPrimaryKeys(ctx, tx); err != nil {
		return nil, err
	}
	if err := cat.loadForeignKeys(ctx, tx); err != nil {
		return nil, err
	}
	meta, err := cat.loadColumnMetadata(ctx, tx)
	if err != nil {
		return nil, err
	}
	cat.applyMetadata(meta)
	cat.computeUniqueNames()
	cat.attachNullTwins()
	cat.attachForeignKeyTargets()
	cat.computeRoles()

	return cat, nil
}

func (c *Catalog) loadTables(ctx context.Context, tx pgx.Tx) error {
	rows, err := tx.Query(ctx, listAllTablesSQL)
	if err != nil {
		return fmt.Errorf("catalog: failed to list tables: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("catalog: failed to scan table name: %w", err)
		}
		c.Tables[name] = &TableInfo{
			Name:          name,
			ColumnsByName: make(map[string]*ColumnInfo),
			ForeignKeyMap: make(map[string]*ForeignKey),
		}
	}
	return rows.Err()
}

func (c *Catalog) loadColumns(ctx context.Context, tx pgx.Tx) error {
	rows, err := tx.Query(ctx, allColumnsSQL)
	if err != nil {
		return fmt.Errorf("catalog: failed to list columns: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tableName, columnName, sqlType, comment string
		var nullable bool
		if err := rows.Scan(&tableName, &columnName, &sqlType, &nullable, &comment); err != nil {
			return fmt.Errorf("catalog: failed to scan column: %w", err)
		}
		table, ok := c.Tables[tableName]
		if !ok {
			continue
		}
		col := &ColumnInfo{
			ParentTable: table,
			Name:        columnName,
			SQLType:     sqlType,
			Nullable:    nullable,
			Comment:     comment,
			ColumnType:  ColumnNull,
		}
		table.Columns = append(table.Columns, col)
		table.ColumnsByName[columnName] = col
	}
	return rows.Err()
}

func (c *Catalog) loadPrimaryKeys(ctx context.Context, tx pgx.Tx) error {
	rows, err := tx.Query(ctx, allPrimaryKeysSQL)
	if err != nil {
		return fmt.Errorf("catalog: failed to list primary keys: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tableName, columnName string
		if err := rows.Scan(&tableName, &columnName); err != nil {
			return fmt.Errorf("catalog: failed to scan primary key: %w", err)
		}
		table, ok := c.Tables[tableName]
		if !ok {
			continue
		}
		if table.PrimaryKey == nil { // first PK column if composite (spec §3)
			if col, ok := table.ColumnsByName[columnName]; ok {
				table.PrimaryKey = col
			}
		}
	}
	return rows.Err()
}

func (c *Catalog) loadForeignKeys(ctx context.Context, tx pgx.Tx) error {
	rows, err := tx.Query(ctx, allForeignKeysSQL)
	if err != nil {
		return fmt.Errorf("catalog: failed to list foreign keys: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name, tableName, columnName, targetTable, targetColumn string
		if err := rows.Scan(&name, &tableName, &columnName, &targetTable, &targetColumn); err != nil {
			return fmt.Errorf("catalog: failed to scan foreign key: %w", err)
		}
		table, ok := c.Tables[tableName]
		if !ok {
			continue
		}
		targetTbl, ok := c.Tables[targetTable]
		if !ok {
			continue
		}
		localCol, ok := table.ColumnsByName[columnName]
		if !ok {
			continue
		}
		targetCol, ok := targetTbl.ColumnsByName[targetColumn]
		if !ok {
			continue
		}
		table.ForeignKeyMap[targetTable] = &ForeignKey{
			ConstraintName: name,
			LocalColumn:    localCol,
			TargetTable:    targetTable,
			TargetColumn:   targetCol,
		}
	}
	return rows.Err()
}

func (c *Catalog) loadColumnMetadata(ctx context.Context, tx pgx.Tx) ([]columnMetadataRow, error) {
	rows, err := tx.Query(ctx, columnMetadataSQL)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to load column_metadata: %w", err)
	}
	defer rows.Close()
	var out []columnMetadataRow
	for rows.Next() {
		var r columnMetadataRow
		var columnType, processBeforeDisplay string
		if err := rows.Scan(&r.tableName, &r.columnName, &columnType, &r.summaryReturns, &r.dataReturns, &processBeforeDisplay, &r.virtualTable); err != nil {
			return nil, fmt.Errorf("catalog: failed to scan column_metadata row: %w", err)
		}
		r.columnType = ColumnType(columnType)
		r.processBeforeDisplay = ProcessBeforeDisplay(processBeforeDisplay)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (c *Catalog) applyMetadata(rows []columnMetadataRow) {
	for _, r := range rows {
		table, ok := c.Tables[r.tableName]
		if !ok {
			continue
		}
		col, ok := table.ColumnsByName[r.columnName]
		if !ok {
			continue
		}
		col.ColumnType = r.columnType
		col.SummaryReturns = r.summaryReturns
		col.DataReturns = r.dataReturns
		col.ProcessBeforeDisplay = r.processBeforeDisplay
		col.VirtualTable = r.virtualTable
	}
}

// computeUniqueNames assigns the globally-unique client-facing name: the bare
// column name if it occurs on exactly one table, else "{table}_{column}",
// then applies the fixed override map (spec §4.1 step 3).
func (c *Catalog) computeUniqueNames() {
	bareCount := make(map[string]int)
	var tableNames []string
	for name := range c.Tables {
		tableNames = append(tableNames, name)
	}
	sort.Strings(tableNames)

	for _, tname := range tableNames {
		for _, col := range c.Tables[tname].Columns {
			bareCount[col.Name]++
		}
	}
	for _, tname := range tableNames {
		table := c.Tables[tname]
		for _, col := range table.Columns {
			var unique string
			if bareCount[col.Name] == 1 {
				unique = col.Name
			} else {
				unique = table.Name + "_" + col.Name
			}
			if override, ok := uniqueNameOverrides[unique]; ok {
				unique = override
			}
			col.UniqueName = unique
			c.byUnique[unique] = col
		}
	}
}

// attachNullTwins attaches, for every table "X" holding a column "col", the
// companion boolean column "col_null" on the parallel table "X_nulls"
// (spec §4.1 step 4).
func (c *Catalog) attachNullTwins() {
	for tname, table := range c.Tables {
		nullsTable, ok := c.Tables[tname+"_nulls"]
		if !ok {
			continue
		}
		for _, col := range table.Columns {
			twin, ok := nullsTable.ColumnsByName[col.Name+"_null"]
			if !ok {
				continue
			}
			col.NullTwin = twin
		}
	}
}

// attachForeignKeyTargets caches the FK parent->target column pointer for
// every column whose physical column carries a single foreign key
// (spec §4.1 step 5).
func (c *Catalog) attachForeignKeyTargets() {
	for _, table := range c.Tables {
		for _, fk := range table.ForeignKeyMap {
			fk.LocalColumn.ForeignKeyTarget = fk.TargetColumn
		}
	}
}

// computeRoles assigns each table's TableRole (spec §3).
func (c *Catalog) computeRoles() {
	for name, table := range c.Tables {
		switch {
		case isEndpointTable(name):
			table.Role = RoleEndpoint
		case !nonMappingTableNames[name] && len(table.ForeignKeyMap) >= 2:
			table.Role = RoleMapping
		case name == "release_metadata" || name == "column_metadata":
			table.Role = RoleMetadata
		case len(table.ForeignKeyMap) <= 1:
			table.Role = RoleData
		default:
			table.Role = RoleData
		}
	}
}

func isEndpointTable(name string) bool {
	for _, e := range endpointTableNames {
		if e == name {
			return true
		}
	}
	return false
}

// GetTable looks up a table by name, failing with TableNotFound.
func (c *Catalog) GetTable(name string) (*TableInfo, error) {
	t, ok := c.Tables[name]
	if !ok {
		return nil, newErr(KindTableNotFound, "unknown table %q", name)
	}
	return t, nil
}

// GetColumnByUniqueName looks up a column by its unique client-facing name,
// failing with ColumnNotFound and a near-match suggestion list (spec §4.4.3,
// SPEC_FULL supplemented feature 1: suffix match first, then prefix match).
func (c *Catalog) GetColumnByUniqueName(name string) (*ColumnInfo, error) {
	col, ok := c.byUnique[name]
	if ok {
		return col, nil
	}
	return nil, newErr(KindColumnNotFound, "unknown column %q%s", name, c.suggestionSuffix(name))
}

func (c *Catalog) suggestionSuffix(name string) string {
	suggestions := c.nearMatches(name)
	if len(suggestions) == 0 {
		return ""
	}
	return fmt.Sprintf(" (did you mean: %s?)", strings.Join(suggestions, ", "))
}

// nearMatches implements SPEC_FULL's near-match rule: suffix match first,
// then prefix match, deduplicated, in encounter order.
func (c *Catalog) nearMatches(name string) []string {
	var suffix, prefix []string
	seen := make(map[string]bool)
	var allNames []string
	for n := range c.byUnique {
		allNames = append(allNames, n)
	}
	sort.Strings(allNames)
	for _, n := range allNames {
		if strings.HasSuffix(n, name) && n != name {
			suffix = append(suffix, n)
			seen[n] = true
		}
	}
	for _, n := range allNames {
		if seen[n] {
			continue
		}
		if strings.HasPrefix(n, name) && n != name {
			prefix = append(prefix, n)
		}
	}
	return append(suffix, prefix...)
}

// GetColumnOnTable looks up a column by physical name on a specific table.
func (c *Catalog) GetColumnOnTable(table *TableInfo, name string) (*ColumnInfo, error) {
	col, ok := table.Column(name)
	if !ok {
		return nil, newErr(KindColumnNotFound, "unknown column %q on table %q", name, table.Name)
	}
	return col, nil
}

// LocalTables returns the two entity endpoint tables (subject, file).
func (c *Catalog) LocalTables() []*TableInfo {
	out := make([]*TableInfo, 0, len(endpointTableNames))
	for _, name := range endpointTableNames {
		if t, ok := c.Tables[name]; ok {
			out = append(out, t)
		}
	}
	return out
}

// OtherEndpoint returns the endpoint table that is not the given one.
func (c *Catalog) OtherEndpoint(endpoint *TableInfo) (*TableInfo, error) {
	for _, name := range endpointTableNames {
		if name != endpoint.Name {
			return c.GetTable(name)
		}
	}
	return nil, newErr(KindInternalError, "no other endpoint for %q", endpoint.Name)
}

// quoteIdent escapes a SQL identifier, doubling embedded double quotes.
// Grounded on describetable.go's identifier quoting.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
