package dcquery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/datacommons-io/query-compiler/internal/errprompt"
	"github.com/datacommons-io/query-compiler/internal/hooks"
	"github.com/datacommons-io/query-compiler/internal/safesql"
	"github.com/datacommons-io/query-compiler/internal/sanitize"
	"github.com/datacommons-io/query-compiler/internal/timeout"
)

// Engine is the compiled-query executor: it owns the pool and the frozen
// catalog/resolver pair, and runs the four read operations end to end
// (parse -> normalize -> preselect -> assemble -> execute). Grounded on the
// original's PostgresMcp: pool lifecycle, AfterConnect session setup, and
// the semaphore/timeout/execute/log pipeline carry over; the protection
// checker, error-prompt matcher, and sanitizer are narrowed to this system's
// single-statement, read-only, row_to_json-shaped query surface.
type Engine struct {
	config   Config
	pool     *pgxpool.Pool
	catalog  *Catalog
	resolver *Resolver
	logger   zerolog.Logger

	semaphore  chan struct{}
	safesql    *safesql.Checker
	errPrompts *errprompt.Matcher
	sanitizer  *sanitize.Sanitizer
	timeouts   *timeout.Manager
	hooks      *hooks.Runner
}

// NewEngine opens the pool, introspects the catalog, and builds an Engine
// ready to serve requests. Config validation mirrors the original's New():
// invalid settings panic at startup rather than surfacing as a runtime error
// on the first request.
func NewEngine(ctx context.Context, connString string, config Config, logger zerolog.Logger) (*Engine, error) {
	validateConfig(config)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, wrapErr(KindInternalError, err, "parsing connection string")
	}
	if config.Pool.MaxConns > 0 {
		poolConfig.MaxConns = int32(config.Pool.MaxConns)
	}
	if config.Pool.MinConns > 0 {
		poolConfig.MinConns = int32(config.Pool.MinConns)
	}
	if d, err := time.ParseDuration(config.Pool.MaxConnLifetime); err == nil && d > 0 {
		poolConfig.MaxConnLifetime = d
	}
	if d, err := time.ParseDuration(config.Pool.MaxConnIdleTime); err == nil && d > 0 {
		poolConfig.MaxConnIdleTime = d
	}
	if d, err := time.ParseDuration(config.Pool.HealthCheckPeriod); err == nil && d > 0 {
		poolConfig.HealthCheckPeriod = d
	}
	poolConfig.DefaultQueryExecMode = pgx.QueryExecModeExec

	timezone := config.Timezone
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, "SET default_transaction_read_only = on"); err != nil {
			return err
		}
		if timezone != "" {
			if _, err := conn.Exec(ctx, fmt.Sprintf("SET timezone = %s", renderLiteral(timezone))); err != nil {
				return err
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, wrapErr(KindDatabaseConnectionDrop, err, "opening connection pool")
	}

	catalog, err := BuildCatalog(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}

	capacity := config.Query.MaxConcurrentQueries
	if capacity <= 0 {
		capacity = 10
	}

	errPrompts, err := errprompt.NewMatcher(config.ErrorPrompts)
	if err != nil {
		pool.Close()
		return nil, wrapErr(KindInternalError, err, "compiling error prompt rules")
	}
	sanitizer, err := sanitize.NewSanitizer(config.Sanitization)
	if err != nil {
		pool.Close()
		return nil, wrapErr(KindInternalError, err, "compiling sanitization rules")
	}

	return &Engine{
		config:     config,
		pool:       pool,
		catalog:    catalog,
		resolver:   NewResolver(catalog),
		logger:     logger,
		semaphore:  make(chan struct{}, capacity),
		safesql:    safesql.NewChecker(),
		errPrompts: errPrompts,
		sanitizer:  sanitizer,
		timeouts:   config.Query.timeoutManager(),
		hooks:      config.AuditHooks.runner(logger),
	}, nil
}

func validateConfig(c Config) {
	if c.Query.MaxConcurrentQueries < 0 {
		panic("dcquery: MaxConcurrentQueries must not be negative")
	}
	if c.Query.DefaultTimeoutSeconds <= 0 {
		panic("dcquery: DefaultTimeoutSeconds must be positive")
	}
}

// Close releases the pool.
func (e *Engine) Close() {
	e.pool.Close()
}

// Catalog exposes the frozen schema catalog, e.g. for the /columns endpoint.
func (e *Engine) Catalog() *Catalog { return e.catalog }

// execResult is the single-column row_to_json JSON document each query
// assembler's statement yields, one per output row.
type execResult struct {
	docs     []json.RawMessage
	duration time.Duration
	sql      string
}

// run executes a compiled query under the semaphore/timeout/logging
// pipeline shared by every operation (spec §5), mirroring the original's
// Query() method: acquire a slot, acquire a pooled connection, run inside a
// read-only transaction so a single misbehaving statement cannot outlive
// its timeout, collect rows, roll back (read-only, never commits), and log.
func (e *Engine) run(ctx context.Context, op OperationKind, compiled Compiled) (*execResult, error) {
	select {
	case e.semaphore <- struct{}{}:
		defer func() { <-e.semaphore }()
	case <-ctx.Done():
		return nil, wrapErr(KindInternalError, ctx.Err(), "waiting for query slot")
	}

	if err := e.safesql.Check(compiled.ExecSQL); err != nil {
		return nil, err
	}

	if e.hooks != nil {
		if _, err := e.hooks.RunBeforeExecute(ctx, compiled.LiteralSQL); err != nil {
			return nil, wrapErr(KindInternalError, err, "before-execute hook rejected %s query", op)
		}
	}

	opTimeout := e.timeouts.GetTimeoutForOperation(string(op))
	queryCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	start := time.Now()

	conn, err := e.pool.Acquire(queryCtx)
	if err != nil {
		return nil, wrapErr(KindDatabaseConnectionDrop, err, "acquiring connection")
	}
	defer conn.Release()

	tx, err := conn.BeginTx(queryCtx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, wrapErr(KindDatabaseConnectionDrop, err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback(queryCtx) }()

	rows, err := tx.Query(queryCtx, compiled.ExecSQL, compiled.Args...)
	if err != nil {
		return nil, e.wrapQueryError(op, err)
	}
	docs, err := collectJSONDocs(rows)
	rows.Close()
	if err != nil {
		return nil, e.wrapQueryError(op, err)
	}

	if e.hooks != nil && e.hooks.HasAfterExecuteHooks() {
		resultJSON, err := json.Marshal(docs)
		if err != nil {
			return nil, wrapErr(KindInternalError, err, "marshaling result for after-execute hooks")
		}
		// Hooks may only accept or reject here; a hook-modified result is not
		// re-parsed back into docs since docs is a per-row stream, not the
		// single document the hook's JSON response carries.
		if _, err := e.hooks.RunAfterExecute(ctx, string(resultJSON)); err != nil {
			return nil, wrapErr(KindInternalError, err, "after-execute hook rejected %s result", op)
		}
	}

	duration := time.Since(start)
	loggedSQL := e.sanitizer.SanitizeSQL(truncateForLog(compiled.LiteralSQL, 4096))
	e.logger.Info().
		Str("op", string(op)).
		Dur("duration", duration).
		Int("row_count", len(docs)).
		Str("sql", loggedSQL).
		Msg("query executed")

	return &execResult{docs: docs, duration: duration, sql: compiled.LiteralSQL}, nil
}

// wrapQueryError attaches any configured error-prompt guidance to a database
// error, mirroring the original's handleError. The underlying pgconn.PgError
// code decides the typed Kind (spec §7): an operator/function/type mismatch
// surfaces as a client-fixable InvalidFilterError, a connection-class error
// as DatabaseConnectionDrop, anything else falls back to InternalError.
func (e *Engine) wrapQueryError(op OperationKind, err error) error {
	msg := err.Error()
	prompt := e.errPrompts.Match(msg)
	logEvent := e.logger.Error().Err(err).Str("op", string(op))
	if patterns := e.errPrompts.MatchedPatterns(msg); len(patterns) > 0 {
		logEvent = logEvent.Strs("error_prompts", patterns)
	}
	logEvent.Msg("query error")

	kind := KindInternalError
	if translated, ok := translatePgError(err); ok {
		kind = translated
	}

	de := wrapErr(kind, err, "executing %s query", op)
	if prompt != "" {
		de.Message = de.Message + "\n\n" + prompt
	}
	return de
}

// translatePgError maps a pgconn.PgError's SQLSTATE code to a typed Kind
// (spec §7): undefined_function (42883) and datatype_mismatch (42804) mean
// the compiled filter applied an operator the column's type doesn't support
// (e.g. `IS TRUE` on a bigint) and are client-fixable, not server bugs; the
// 08xxx connection-exception class means the database dropped mid-query.
// Reports false when err carries no PgError or the code isn't one of these.
func translatePgError(err error) (Kind, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	switch pgErr.Code {
	case "42883", "42804":
		return KindInvalidFilterError, true
	}
	if strings.HasPrefix(pgErr.Code, "08") {
		return KindDatabaseConnectionDrop, true
	}
	return "", false
}

// collectJSONDocs scans every row of a single-column row_to_json(...)
// result set. Grounded on the original's collectRows/convertValue: the
// value-conversion switch is narrowed to what row_to_json actually returns
// (a jsonb/json scalar per row) rather than the original's general-purpose
// arbitrary-column conversion.
func collectJSONDocs(rows pgx.Rows) ([]json.RawMessage, error) {
	var docs []json.RawMessage
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		if len(values) == 0 {
			continue
		}
		doc, err := convertJSONValue(values[0])
		if err != nil {
			return nil, err
		}
		if doc == nil {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// convertJSONValue normalizes one row_to_json scalar into raw JSON bytes,
// following the same type-by-type approach as the original's convertValue
// for the few shapes row_to_json's driver representation can take.
func convertJSONValue(v interface{}) (json.RawMessage, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return json.RawMessage(val), nil
	case string:
		return json.RawMessage(val), nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

// Data executes one /data/{endpoint} request, returning the decoded row
// documents, the total preselect-matched row count, and the rendered SQL
// used for the row query (for the response envelope's query_sql, spec §6).
// limit/offset page the row query only; the count query always runs
// unbounded.
func (e *Engine) Data(ctx context.Context, req *RequestSpec, filters []*FilterSpec, limit, offset int64) ([]json.RawMessage, int64, string, error) {
	endpoint, err := e.catalog.GetTable(req.Endpoint)
	if err != nil {
		return nil, 0, "", err
	}
	tcfm, err := Normalize(e.catalog, endpoint, ModeData, filters, req.AddColumns, req.ExcludeColumns, req.ExternalReference)
	if err != nil {
		return nil, 0, "", err
	}
	preselect, err := BuildPreselect(e.catalog, e.resolver, endpoint, tcfm)
	if err != nil {
		return nil, 0, "", err
	}
	dq, err := BuildDataQuery(e.resolver, endpoint, tcfm, preselect, req.CollateResults)
	if err != nil {
		return nil, 0, "", err
	}
	dq.Rows.Limit = &limit
	dq.Rows.Offset = &offset

	rowsCompiled, err := dq.Rows.Compile()
	if err != nil {
		return nil, 0, "", err
	}
	countCompiled, err := dq.Count.Compile()
	if err != nil {
		return nil, 0, "", err
	}

	rowsResult, err := e.run(ctx, OpData, rowsCompiled)
	if err != nil {
		return nil, 0, "", err
	}
	countResult, err := e.run(ctx, OpData, countCompiled)
	if err != nil {
		return nil, 0, "", err
	}

	count, err := scanCount(countResult.docs)
	if err != nil {
		return nil, 0, "", err
	}
	return rowsResult.docs, count, rowsResult.sql, nil
}

// Summary executes one /summary/{endpoint} request, returning the single
// summary JSON document and the rendered SQL used to produce it.
func (e *Engine) Summary(ctx context.Context, req *RequestSpec, filters []*FilterSpec) (json.RawMessage, string, error) {
	endpoint, err := e.catalog.GetTable(req.Endpoint)
	if err != nil {
		return nil, "", err
	}
	tcfm, err := Normalize(e.catalog, endpoint, ModeSummary, filters, req.AddColumns, req.ExcludeColumns, false)
	if err != nil {
		return nil, "", err
	}
	preselect, err := BuildPreselect(e.catalog, e.resolver, endpoint, tcfm)
	if err != nil {
		return nil, "", err
	}
	query, err := BuildSummaryQuery(e.catalog, e.resolver, endpoint, tcfm, preselect, e.logger)
	if err != nil {
		return nil, "", err
	}
	compiled, err := query.Compile()
	if err != nil {
		return nil, "", err
	}
	result, err := e.run(ctx, OpSummary, compiled)
	if err != nil {
		return nil, "", err
	}
	if len(result.docs) == 0 {
		return nil, "", newErr(KindInternalError, "summary query returned no row")
	}
	return result.docs[0], result.sql, nil
}

// ColumnValues executes one /column_values/{column} request, returning the
// frequency rows, their count, and the rendered SQL used for the row query.
// limit/offset are optional (nil means unbounded) per spec §6's
// `limit?, offset?` query params.
func (e *Engine) ColumnValues(ctx context.Context, uniqueColumnName string, dataSources []string, limit, offset *int64) ([]json.RawMessage, int64, string, error) {
	col, err := e.catalog.GetColumnByUniqueName(uniqueColumnName)
	if err != nil {
		return nil, 0, "", err
	}
	cvq, err := BuildColumnValuesQuery(col, dataSources)
	if err != nil {
		return nil, 0, "", err
	}
	cvq.Rows.Limit = limit
	cvq.Rows.Offset = offset
	rowsCompiled, err := cvq.Rows.Compile()
	if err != nil {
		return nil, 0, "", err
	}
	countCompiled, err := cvq.Count.Compile()
	if err != nil {
		return nil, 0, "", err
	}
	rowsResult, err := e.run(ctx, OpColumnValues, rowsCompiled)
	if err != nil {
		return nil, 0, "", err
	}
	countResult, err := e.run(ctx, OpColumnValues, countCompiled)
	if err != nil {
		return nil, 0, "", err
	}
	count, err := scanCount(countResult.docs)
	if err != nil {
		return nil, 0, "", err
	}
	return rowsResult.docs, count, rowsResult.sql, nil
}

// ReleaseMetadata executes the static release_metadata lookup.
func (e *Engine) ReleaseMetadata(ctx context.Context) (json.RawMessage, error) {
	query, err := BuildReleaseMetadataQuery(e.catalog)
	if err != nil {
		return nil, err
	}
	compiled, err := query.Compile()
	if err != nil {
		return nil, err
	}
	result, err := e.run(ctx, OpReleaseMetadata, compiled)
	if err != nil {
		return nil, err
	}
	if len(result.docs) == 0 {
		return nil, newErr(KindInternalError, "release_metadata query returned no row")
	}
	return result.docs[0], nil
}

// scanCount unwraps the single-column COUNT(*) query's own row_to_json-free
// scalar result. Count queries in this package select a bare integer, not a
// JSON document, so the driver hands back the scalar directly by way of
// convertJSONValue's default branch, which already produces valid JSON
// (e.g. "42") for a numeric value.
func scanCount(docs []json.RawMessage) (int64, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	var n int64
	if err := json.Unmarshal(docs[0], &n); err != nil {
		return 0, wrapErr(KindInternalError, err, "parsing count result")
	}
	return n, nil
}

// truncateForLog truncates a string for log output to avoid oversized log
// entries, preserving UTF-8 rune boundaries (grounded on the original's
// truncateForLog in query.go).
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	truncateAt := maxLen
	for truncateAt > 0 && !utf8.RuneStart(s[truncateAt]) {
		truncateAt--
	}
	return s[:truncateAt] + "...[truncated]"
}
