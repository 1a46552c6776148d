package dcquery

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Operator is one filter comparison operator (spec §4.3).
type Operator string

const (
	OpNE     Operator = "!="
	OpNE2    Operator = "<>"
	OpLE     Operator = "<="
	OpGE     Operator = ">="
	OpEQ     Operator = "="
	OpLT     Operator = "<"
	OpGT     Operator = ">"
	OpIs     Operator = "is"
	OpIsNot  Operator = "is not"
	OpIn     Operator = "in"
	OpNotIn  Operator = "not in"
	OpLike   Operator = "like"
	OpNotLike Operator = "not like"
)

// stringOperators are the operators whose comparisons are case-insensitive
// and null-safe (spec §4.3).
var stringOperators = map[Operator]bool{
	OpEQ: true, OpNE: true, OpNE2: true,
	OpIn: true, OpNotIn: true,
	OpLike: true, OpNotLike: true,
}

// FilterMode distinguishes MATCH_ALL from MATCH_SOME combination.
type FilterMode string

const (
	MatchAll  FilterMode = "ALL"
	MatchSome FilterMode = "SOME"
)

// nullValue is the sentinel representing the parsed literal "null".
type nullValue struct{}

var sqlNull = nullValue{}

// FilterSpec is one parsed, column-resolved filter (spec §3).
type FilterSpec struct {
	Raw           string
	Mode          FilterMode
	Column        *ColumnInfo
	Op            Operator
	Value         any // scalar (string/int64/float64/bool/nullValue) or []any for lists
	ExclusiveNull bool
}

// exclusiveNullSpecialColumns are retargeted to their own null twin column
// with `is true` (an error if the column has no null twin), instead of
// keeping the literal IS NULL test the generic path uses (spec §4.3).
var exclusiveNullSpecialColumns = map[string]bool{
	"tumor_vs_normal": true,
	"anatomic_site":   true,
}

// ParseFilter parses one "column op value" filter string into a resolved
// FilterSpec (spec §4.3).
func ParseFilter(raw string, mode FilterMode, catalog *Catalog, logger zerolog.Logger) (*FilterSpec, error) {
	trimmed := strings.TrimSpace(raw)
	columnName, rest, ok := splitFirstWord(trimmed)
	if !ok {
		return nil, newErr(KindParsingError, "malformed filter %q: missing operator/value", raw)
	}

	op, valueStr, err := parseOperator(rest)
	if err != nil {
		return nil, wrapErr(KindParsingError, err, "malformed filter %q", raw)
	}

	value, err := parseLiteral(valueStr)
	if err != nil {
		return nil, wrapErr(KindParsingError, err, "malformed filter %q", raw)
	}

	if err := checkOperatorValueAgreement(op, value); err != nil {
		return nil, wrapErr(KindParsingError, err, "malformed filter %q", raw)
	}

	col, err := catalog.GetColumnByUniqueName(columnName)
	if err != nil {
		return nil, err
	}

	spec := &FilterSpec{Raw: raw, Mode: mode, Column: col, Op: op, Value: value}

	if op == OpIs {
		if _, isNull := value.(nullValue); isNull {
			return rewriteExclusiveNull(spec, logger)
		}
	}

	return spec, nil
}

// splitFirstWord returns the first whitespace-delimited token and the
// (left-trimmed) remainder of s.
func splitFirstWord(s string) (word, rest string, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", false
	}
	idx := strings.IndexFunc(s, func(r rune) bool { return r == ' ' || r == '\t' })
	if idx < 0 {
		return s, "", true
	}
	return s[:idx], strings.TrimSpace(s[idx+1:]), true
}

// parseOperator matches the ordered operator set, recognizing the two-token
// forms "is not", "not in", "not like" (spec §4.3).
func parseOperator(rest string) (Operator, string, error) {
	w1, r1, ok := splitFirstWord(rest)
	if !ok {
		return "", "", fmt.Errorf("missing operator")
	}

	switch w1 {
	case "!=":
		return OpNE, r1, nil
	case "<>":
		return OpNE2, r1, nil
	case "<=":
		return OpLE, r1, nil
	case ">=":
		return OpGE, r1, nil
	case "=":
		return OpEQ, r1, nil
	case "<":
		return OpLT, r1, nil
	case ">":
		return OpGT, r1, nil
	}

	lw1 := strings.ToLower(w1)
	switch lw1 {
	case "is":
		w2, r2, ok := splitFirstWord(r1)
		if ok && strings.ToLower(w2) == "not" {
			return OpIsNot, r2, nil
		}
		return OpIs, r1, nil
	case "in":
		return OpIn, r1, nil
	case "like":
		return OpLike, r1, nil
	case "not":
		w2, r2, ok := splitFirstWord(r1)
		if !ok {
			return "", "", fmt.Errorf("dangling 'not' operator")
		}
		switch strings.ToLower(w2) {
		case "in":
			return OpNotIn, r2, nil
		case "like":
			return OpNotLike, r2, nil
		default:
			return "", "", fmt.Errorf("unrecognized operator starting with 'not %s'", w2)
		}
	}

	return "", "", fmt.Errorf("unrecognized operator %q", w1)
}

// parseLiteral parses VALUE as a safe literal (spec §4.3): integers, floats,
// quoted strings, lists/tuples/sets of the above; unparseable remainder is a
// bare string; "null"/"true"/"false" (any case) become sentinels; "*" in a
// string is rewritten to "%".
func parseLiteral(s string) (any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty value")
	}

	if isBracketed(s) {
		return parseListLiteral(s)
	}

	return parseScalarLiteral(s)
}

func isBracketed(s string) bool {
	if len(s) < 2 {
		return false
	}
	first, last := s[0], s[len(s)-1]
	return (first == '[' && last == ']') || (first == '(' && last == ')') || (first == '{' && last == '}')
}

func parseListLiteral(s string) (any, error) {
	inner := s[1 : len(s)-1]
	if s[0] == '{' && strings.Contains(inner, ":") {
		return nil, fmt.Errorf("dict literals are not permitted")
	}
	inner = strings.TrimSpace(inner)
	if inner == "" {
		return []any{}, nil
	}
	parts := splitTopLevelCommas(inner)
	values := make([]any, 0, len(parts))
	for _, p := range parts {
		v, err := parseScalarLiteral(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// splitTopLevelCommas splits on commas not inside a quoted string.
func splitTopLevelCommas(s string) []string {
	var parts []string
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == ',':
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func parseScalarLiteral(s string) (any, error) {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '\'' && s[len(s)-1] == '\'' || s[0] == '"' && s[len(s)-1] == '"') {
		return rewriteWildcard(s[1 : len(s)-1]), nil
	}

	switch strings.ToLower(s) {
	case "null":
		return sqlNull, nil
	case "true":
		return true, nil
	case "false":
		return false, nil
	}

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}

	// Unparseable remainder is treated as a bare string (spec §4.3).
	return rewriteWildcard(s), nil
}

func rewriteWildcard(s string) string {
	return strings.ReplaceAll(s, "*", "%")
}

// checkOperatorValueAgreement enforces the operator/value shape rules
// (spec §4.3): in/not in require a list; every other operator forbids one;
// is/is not require null|true|false.
func checkOperatorValueAgreement(op Operator, value any) error {
	_, isList := value.([]any)
	switch op {
	case OpIn, OpNotIn:
		if !isList {
			return fmt.Errorf("operator %q requires a list value", op)
		}
	case OpIs, OpIsNot:
		if isList {
			return fmt.Errorf("operator %q forbids a list value", op)
		}
		switch value.(type) {
		case nullValue, bool:
		default:
			return fmt.Errorf("operator %q requires null, true, or false", op)
		}
	default:
		if isList {
			return fmt.Errorf("operator %q forbids a list value", op)
		}
	}
	return nil
}

// rewriteExclusiveNull implements the exclusive-null rewrite rules
// (spec §4.3).
func rewriteExclusiveNull(spec *FilterSpec, logger zerolog.Logger) (*FilterSpec, error) {
	col := spec.Column

	if col.ParentTable.Name == "project" {
		return nil, newErr(KindRelationshipError, "exclusive-null filters are not permitted on the %q table", "project")
	}

	if exclusiveNullSpecialColumns[col.Name] {
		twin := col.NullTwin
		if twin == nil {
			return nil, newErr(KindRelationshipError, "column %q has no sentinel existence column to retarget to", col.UniqueName)
		}
		spec.Column = twin
		spec.Op = OpIs
		spec.Value = true
		spec.ExclusiveNull = true
		return spec, nil
	}

	if col.NullTwin != nil {
		spec.Column = col.NullTwin
		spec.Op = OpIs
		spec.Value = true
		spec.ExclusiveNull = true
		return spec, nil
	}

	logger.Warn().Str("column", col.UniqueName).Msg("is null filter has no null twin; keeping literal IS NULL")
	spec.ExclusiveNull = true
	return spec, nil
}

// sqlOperatorText maps non-string, non-IS operators to their SQL spelling.
var sqlOperatorText = map[Operator]string{
	OpEQ: "=", OpNE: "!=", OpNE2: "<>", OpLE: "<=", OpGE: ">=", OpLT: "<", OpGT: ">",
}

// filterExpr renders one resolved FilterSpec as a predicate Expr against the
// given table alias, applying the case-insensitive/null-safe wrapping rule
// for string-comparison operators (spec §4.3).
func filterExpr(f *FilterSpec, tableAlias string) Expr {
	left := Ident{Table: tableAlias, Column: f.Column.Name}

	switch f.Op {
	case OpIs, OpIsNot:
		opText := "IS"
		if f.Op == OpIsNot {
			opText = "IS NOT"
		}
		return BinOp{Left: left, Op: opText, Right: Raw(literalKeyword(f.Value))}

	case OpIn, OpNotIn:
		values := f.Value.([]any)
		var leftExpr Expr = left
		if stringOperators[f.Op] {
			leftExpr = CaseInsensitive{Expr: left}
			values = upperStrings(values)
		}
		return InList{Left: leftExpr, Values: values, Not: f.Op == OpNotIn}

	case OpLike, OpNotLike:
		opText := "LIKE"
		if f.Op == OpNotLike {
			opText = "NOT LIKE"
		}
		return BinOp{Left: CaseInsensitive{Expr: left}, Op: opText, Right: Lit{Value: upperIfString(f.Value)}}

	default:
		var leftExpr Expr = left
		val := f.Value
		if stringOperators[f.Op] {
			leftExpr = CaseInsensitive{Expr: left}
			val = upperIfString(val)
		}
		return BinOp{Left: leftExpr, Op: sqlOperatorText[f.Op], Right: Lit{Value: val}}
	}
}

func literalKeyword(v any) string {
	if _, ok := v.(nullValue); ok {
		return "NULL"
	}
	if b, ok := v.(bool); ok {
		if b {
			return "TRUE"
		}
		return "FALSE"
	}
	return "NULL"
}

func upperIfString(v any) any {
	if s, ok := v.(string); ok {
		return strings.ToUpper(s)
	}
	return v
}

func upperStrings(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = upperIfString(v)
	}
	return out
}
