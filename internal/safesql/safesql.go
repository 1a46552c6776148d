// Package safesql verifies that a compiled statement is exactly what the
// query assemblers are meant to produce: a single, read-only SELECT.
//
// This is narrower than a general-purpose SQL protection checker, because
// every statement here originates from this module's own query tree
// (sqltree.go), never from user-supplied SQL text. The AST walk exists as a
// defense against a future assembler bug emitting something other than a
// SELECT, not against adversarial input.
//
// Adapted from the original's internal/protection package, which allow-listed
// two dozen independently configurable statement kinds for an MCP server
// that executes arbitrary client-supplied SQL.
package safesql

import (
	"fmt"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Checker validates that a SQL string is a single top-level SELECT.
type Checker struct{}

// NewChecker builds a Checker.
func NewChecker() *Checker { return &Checker{} }

// Check parses sql and rejects anything but one top-level SELECT statement,
// walking CTEs since a CTE's body is itself a Node that could hide a
// non-SELECT statement.
func (c *Checker) Check(sql string) error {
	result, err := pg_query.Parse(sql)
	if err != nil {
		return fmt.Errorf("sql parse error: %w", err)
	}
	if len(result.Stmts) != 1 {
		return fmt.Errorf("expected exactly one statement, found %d", len(result.Stmts))
	}

	stmt := result.Stmts[0].Stmt
	selectStmt, ok := stmt.Node.(*pg_query.Node_SelectStmt)
	if !ok {
		return fmt.Errorf("expected a SELECT statement")
	}
	return checkCTEs(selectStmt.SelectStmt.WithClause)
}

func checkCTEs(with *pg_query.WithClause) error {
	if with == nil {
		return nil
	}
	for _, cte := range with.Ctes {
		common, ok := cte.Node.(*pg_query.Node_CommonTableExpr)
		if !ok {
			continue
		}
		body := common.CommonTableExpr.Ctequery
		if body == nil {
			continue
		}
		switch n := body.Node.(type) {
		case *pg_query.Node_SelectStmt:
			if err := checkCTEs(n.SelectStmt.WithClause); err != nil {
				return err
			}
		default:
			return fmt.Errorf("CTE %q is not a SELECT", common.CommonTableExpr.Ctename)
		}
	}
	return nil
}
