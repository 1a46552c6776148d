// Package dcquery compiles read-only analytics requests against a frozen
// relational data-commons schema into SQL.
//
// It introspects the schema once at startup into a Catalog, resolves
// multi-hop join paths between tables with a Resolver, normalizes an
// incoming request's filters and column projection with Normalize, builds
// a filtered-preselect CTE that gates every downstream query with
// BuildPreselect, and assembles one of four query shapes — data rows
// (BuildDataQuery), statistical summaries (BuildSummaryQuery), column
// frequency distributions (BuildColumnValuesQuery), and the static release
// metadata dump (BuildReleaseMetadataQuery).
//
// Every assembler returns an algebraic query tree (Query/Expr, sqltree.go)
// rather than a SQL string; Query.Compile renders it twice, once as
// bound-literal SQL for logging and once as placeholder SQL with a
// parallel argument list for execution.
//
// # Library usage
//
//	engine, err := dcquery.NewEngine(ctx, connString, dcquery.Config{
//		Pool:  dcquery.PoolConfig{MaxConns: 10},
//		Query: dcquery.QueryConfig{DefaultTimeoutSeconds: 30},
//	}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	rows, total, sql, err := engine.Data(ctx, &dcquery.RequestSpec{Endpoint: "subject"}, filters, 100, 0)
//
// Every statement the engine executes runs inside a read-only transaction
// that is always rolled back, and is checked by internal/safesql to be a
// single top-level SELECT before it ever reaches the connection.
package dcquery
