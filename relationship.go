package dcquery

import (
	"fmt"
	"sync"
)

// polymorphicIdentifiersTable is the single polymorphic side table keyed by
// (parent table name, id alias) rather than a direct foreign key (spec §4.2.2).
const polymorphicIdentifiersTable = "upstream_identifiers"

// polymorphicDiscriminatorColumn is the column on the polymorphic identifiers
// table that names which entity table a row belongs to.
const polymorphicDiscriminatorColumn = "cda_table"

// polymorphicIDAliasColumn is the polymorphic table's column holding the
// owning row's primary key value.
const polymorphicIDAliasColumn = "id_alias"

// ignoredRelationshipPairs are (A, B) pairs the resolver marks as ignored
// (the original's hard-coded file<->external_reference pair, spec §4.2.3).
// When no path is found for such a pair, Resolve still returns a
// RelationshipNotFound error; its message only notes the pair as ignored.
var ignoredRelationshipPairs = map[[2]string]bool{
	{"file", "external_reference"}: true,
}

// AdditionalFilter is a discriminator predicate required alongside a join,
// e.g. selecting only polymorphic-identifier rows for one parent table.
type AdditionalFilter struct {
	Column *ColumnInfo
	Value  string
}

// TableRelationship is the single canonical join path from A to B (spec §3).
type TableRelationship struct {
	From, To *TableInfo

	LocalColumn   *ColumnInfo // column on A
	ForeignColumn *ColumnInfo // column on B (in the shared-column mapping case, B's own FK column)

	LocalMappingColumn   *ColumnInfo // mapping table's FK column -> A, when via mapping table
	ForeignMappingColumn *ColumnInfo // mapping table's FK column -> B (or B's FK target)
	MappingTable          *TableInfo

	AdditionalFilters []AdditionalFilter
}

// RequiresMappingTable reports whether this relationship must join through
// an intermediate mapping table (spec §3).
func (r *TableRelationship) RequiresMappingTable() bool {
	return r.LocalMappingColumn != nil && r.ForeignMappingColumn != nil
}

// Resolver computes and caches the canonical relationship for every ordered
// pair of tables, per process (spec §4.2, §5).
type Resolver struct {
	catalog *Catalog

	mu    sync.Mutex
	cache map[[2]string]*TableRelationship
	errs  map[[2]string]*Error
}

// NewResolver builds a Resolver over the given catalog.
func NewResolver(catalog *Catalog) *Resolver {
	return &Resolver{
		catalog: catalog,
		cache:   make(map[[2]string]*TableRelationship),
		errs:    make(map[[2]string]*Error),
	}
}

// Resolve returns the canonical relationship from A to B, computing and
// caching it on first use. Failures are reported at request time, never at
// startup (spec §3 invariant).
func (r *Resolver) Resolve(a, b *TableInfo) (*TableRelationship, error) {
	key := [2]string{a.Name, b.Name}

	r.mu.Lock()
	if rel, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return rel, nil
	}
	if err, ok := r.errs[key]; ok {
		r.mu.Unlock()
		return nil, err
	}
	r.mu.Unlock()

	rel, err := r.compute(a, b)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		if de, ok := err.(*Error); ok {
			r.errs[key] = de
		}
		return nil, err
	}
	r.cache[key] = rel
	return rel, nil
}

func (r *Resolver) compute(a, b *TableInfo) (*TableRelationship, error) {
	if a.Name == b.Name {
		return nil, newErr(KindRelationshipError, "cannot resolve relationship from %q to itself", a.Name)
	}

	// 1. Direct: A's name appears in B's foreign_key_map.
	if fk, ok := b.ForeignKeyMap[a.Name]; ok {
		return &TableRelationship{
			From:          a,
			To:            b,
			LocalColumn:   fk.TargetColumn,
			ForeignColumn: fk.LocalColumn,
		}, nil
	}

	// 2. Polymorphic direct.
	if b.Name == polymorphicIdentifiersTable {
		idAlias, ok := b.Column(polymorphicIDAliasColumn)
		if !ok {
			return nil, newErr(KindMappingError, "polymorphic identifiers table %q missing %q column", b.Name, polymorphicIDAliasColumn)
		}
		discriminator, ok := b.Column(polymorphicDiscriminatorColumn)
		if !ok {
			return nil, newErr(KindMappingError, "polymorphic identifiers table %q missing %q column", b.Name, polymorphicDiscriminatorColumn)
		}
		return &TableRelationship{
			From:          a,
			To:            b,
			LocalColumn:   a.PrimaryKey,
			ForeignColumn: idAlias,
			AdditionalFilters: []AdditionalFilter{
				{Column: discriminator, Value: a.Name},
			},
		}, nil
	}

	// 3. Via mapping table.
	rel, err := r.viaMapping(a, b)
	if err != nil {
		return nil, err
	}
	if rel != nil {
		return rel, nil
	}

	if ignoredRelationshipPairs[[2]string{a.Name, b.Name}] {
		return nil, newErr(KindRelationshipNotFound, "no relationship path from %q to %q (ignored pair)", a.Name, b.Name)
	}
	return nil, newErr(KindRelationshipNotFound, "no relationship path from %q to %q", a.Name, b.Name)
}

// mappingCandidate is a deduplication key: the underlying FK pair a mapping
// table uses to reach A and to reach B (or B's FK target).
type mappingCandidate struct {
	mappingTable   *TableInfo
	fkToA          *ForeignKey
	fkToB          *ForeignKey
	foreignColumn  *ColumnInfo
}

func (r *Resolver) viaMapping(a, b *TableInfo) (*TableRelationship, error) {
	seen := make(map[[2]string]bool) // dedup by underlying FK pair (constraint names)
	var candidates []mappingCandidate

	for _, m := range r.catalog.Tables {
		if m.Role != RoleMapping {
			continue
		}
		fkToA, ok := m.ForeignKeyMap[a.Name]
		if !ok {
			continue
		}

		// (a) direct FK to B: mapping.fkToB.LocalColumn correlates against B's
		// own column that the FK targets (fkToB.TargetColumn, on B).
		if fkToB, ok := m.ForeignKeyMap[b.Name]; ok {
			dedupKey := [2]string{fkToA.ConstraintName, fkToB.ConstraintName}
			if !seen[dedupKey] {
				seen[dedupKey] = true
				candidates = append(candidates, mappingCandidate{
					mappingTable:  m,
					fkToA:         fkToA,
					fkToB:         fkToB,
					foreignColumn: fkToB.TargetColumn,
				})
			}
			continue
		}

		// (b) FK whose target column equals the target column of one of B's FKs
		// (the "shared FK-target column" mapping-table discovery case): both
		// mapping.mFk.LocalColumn and b.bFk.LocalColumn reference the same
		// target value, so equal values mean "same referent" without ever
		// joining through the third table.
		for otherTableName, mFk := range m.ForeignKeyMap {
			if otherTableName == a.Name {
				continue
			}
			for _, bFk := range b.ForeignKeyMap {
				if bFk.TargetTable == mFk.TargetTable && bFk.TargetColumn.Name == mFk.TargetColumn.Name {
					dedupKey := [2]string{fkToA.ConstraintName, mFk.ConstraintName}
					if !seen[dedupKey] {
						seen[dedupKey] = true
						candidates = append(candidates, mappingCandidate{
							mappingTable:  m,
							fkToA:         fkToA,
							fkToB:         mFk,
							foreignColumn: bFk.LocalColumn,
						})
					}
				}
			}
		}
	}

	if len(candidates) == 0 {
		return nil, nil
	}
	if len(candidates) > 1 {
		return nil, newErr(KindRelationshipError, "ambiguous mapping-table relationship from %q to %q: %d candidates", a.Name, b.Name, len(candidates))
	}

	c := candidates[0]
	return &TableRelationship{
		From:                 a,
		To:                   b,
		LocalColumn:          a.PrimaryKey,
		ForeignColumn:        c.foreignColumn,
		LocalMappingColumn:   c.fkToA.LocalColumn,
		ForeignMappingColumn: c.fkToB.LocalColumn,
		MappingTable:         c.mappingTable,
	}, nil
}

// errMsg is a small helper used by callers that need a plain string.
func (r *TableRelationship) errMsg() string {
	return fmt.Sprintf("relationship %s -> %s", r.From.Name, r.To.Name)
}
