package client

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/dan-strohschein/querykit/mapper"
)

// maxLimit stands in for "no limit" when only an offset is given.
const maxLimit = math.MaxInt64

var comparisonOps = map[string]bool{
	"=": true, "!=": true, "<>": true,
	"<": true, "<=": true, ">": true, ">=": true,
	"LIKE": true, "NOT LIKE": true,
}

type predicate struct {
	or       bool
	fragment string
	params   []interface{}
}

// queryIntent is everything accumulated between terminal calls.
type queryIntent struct {
	columns    []string
	predicates []predicate
	joins      []string
	groupBy    []string
	having     []predicate
	orderBy    []string
	limit      int
	offset     int
	hasLimit   bool
	hasOffset  bool
	execOpts   []ExecOption
	err        error
}

func (q queryIntent) clone() queryIntent {
	out := q
	out.columns = append([]string(nil), q.columns...)
	out.predicates = append([]predicate(nil), q.predicates...)
	out.joins = append([]string(nil), q.joins...)
	out.groupBy = append([]string(nil), q.groupBy...)
	out.having = append([]predicate(nil), q.having...)
	out.orderBy = append([]string(nil), q.orderBy...)
	out.execOpts = append([]ExecOption(nil), q.execOpts...)
	return out
}

// QueryBuilder accumulates a SELECT and compiles it to one Statement.
//
// Every terminal call (Get, First, Count, Paginate) resets the accumulated
// clauses, whatever its outcome. The table survives the reset, so a second
// Get without rebuilding runs "SELECT * FROM table". Use Clone to branch a
// shared base query. A builder must not be used from several goroutines.
type QueryBuilder struct {
	client *Client
	table  string
	intent queryIntent
}

// Table starts a builder for table.
func (c *Client) Table(name string) *QueryBuilder {
	return c.Builder().From(name)
}

// Builder returns a builder with no table; call From before a terminal call.
func (c *Client) Builder() *QueryBuilder {
	return &QueryBuilder{client: c}
}

// From sets the table.
func (b *QueryBuilder) From(table string) *QueryBuilder {
	if err := validateIdentifier("table", table); err != nil {
		b.setErr(err)
		return b
	}
	b.table = table
	return b
}

func (b *QueryBuilder) setErr(err error) {
	if b.intent.err == nil {
		b.intent.err = err
	}
}

// Select sets the column list. Columns are emitted verbatim so expressions
// and aliases are allowed; never pass untrusted input.
func (b *QueryBuilder) Select(columns ...string) *QueryBuilder {
	b.intent.columns = append(b.intent.columns[:0:0], columns...)
	return b
}

func (b *QueryBuilder) addPredicate(or bool, fragment string, params ...interface{}) *QueryBuilder {
	b.intent.predicates = append(b.intent.predicates, predicate{or: or, fragment: fragment, params: params})
	return b
}

func (b *QueryBuilder) comparison(or bool, column, op string, value interface{}) *QueryBuilder {
	if err := validateIdentifier("column", column); err != nil {
		b.setErr(err)
		return b
	}
	op = strings.ToUpper(strings.TrimSpace(op))
	if !comparisonOps[op] {
		b.setErr(newValidationError("E_INVALID_OPERATOR", "operator", "unsupported operator %q", op))
		return b
	}
	if value == nil {
		switch op {
		case "=":
			return b.addPredicate(or, column+" IS NULL")
		case "!=", "<>":
			return b.addPredicate(or, column+" IS NOT NULL")
		}
	}
	return b.addPredicate(or, column+" "+op+" ?", value)
}

// Where adds "column op ?" joined with AND. A nil value with = or != becomes
// IS NULL or IS NOT NULL.
func (b *QueryBuilder) Where(column, op string, value interface{}) *QueryBuilder {
	return b.comparison(false, column, op, value)
}

// OrWhere adds "column op ?" joined with OR. When it is the first predicate
// there is nothing to join, so it is emitted as a plain predicate.
func (b *QueryBuilder) OrWhere(column, op string, value interface{}) *QueryBuilder {
	return b.comparison(true, column, op, value)
}

func (b *QueryBuilder) in(or, not bool, column string, values []interface{}) *QueryBuilder {
	if err := validateIdentifier("column", column); err != nil {
		b.setErr(err)
		return b
	}
	values = flattenValues(values)
	if len(values) == 0 {
		b.setErr(newValidationError("E_EMPTY_IN_LIST", column, "IN list for %s is empty", column))
		return b
	}
	kw := " IN ("
	if not {
		kw = " NOT IN ("
	}
	return b.addPredicate(or, column+kw+placeholders(len(values))+")", values...)
}

// WhereIn adds "column IN (?, ...)". A single slice argument is expanded.
func (b *QueryBuilder) WhereIn(column string, values ...interface{}) *QueryBuilder {
	return b.in(false, false, column, values)
}

// OrWhereIn is WhereIn joined with OR.
func (b *QueryBuilder) OrWhereIn(column string, values ...interface{}) *QueryBuilder {
	return b.in(true, false, column, values)
}

// WhereNotIn adds "column NOT IN (?, ...)".
func (b *QueryBuilder) WhereNotIn(column string, values ...interface{}) *QueryBuilder {
	return b.in(false, true, column, values)
}

func (b *QueryBuilder) between(or bool, column string, low, high interface{}) *QueryBuilder {
	if err := validateIdentifier("column", column); err != nil {
		b.setErr(err)
		return b
	}
	return b.addPredicate(or, column+" BETWEEN ? AND ?", low, high)
}

// WhereBetween adds "column BETWEEN ? AND ?".
func (b *QueryBuilder) WhereBetween(column string, low, high interface{}) *QueryBuilder {
	return b.between(false, column, low, high)
}

// OrWhereBetween is WhereBetween joined with OR.
func (b *QueryBuilder) OrWhereBetween(column string, low, high interface{}) *QueryBuilder {
	return b.between(true, column, low, high)
}

func (b *QueryBuilder) null(or, not bool, column string) *QueryBuilder {
	if err := validateIdentifier("column", column); err != nil {
		b.setErr(err)
		return b
	}
	if not {
		return b.addPredicate(or, column+" IS NOT NULL")
	}
	return b.addPredicate(or, column+" IS NULL")
}

// WhereNull adds "column IS NULL".
func (b *QueryBuilder) WhereNull(column string) *QueryBuilder {
	return b.null(false, false, column)
}

// WhereNotNull adds "column IS NOT NULL".
func (b *QueryBuilder) WhereNotNull(column string) *QueryBuilder {
	return b.null(false, true, column)
}

// OrWhereNull is WhereNull joined with OR.
func (b *QueryBuilder) OrWhereNull(column string) *QueryBuilder {
	return b.null(true, false, column)
}

// WhereLike adds "column LIKE ?".
func (b *QueryBuilder) WhereLike(column string, pattern string) *QueryBuilder {
	return b.comparison(false, column, "LIKE", pattern)
}

// OrWhereLike is WhereLike joined with OR.
func (b *QueryBuilder) OrWhereLike(column string, pattern string) *QueryBuilder {
	return b.comparison(true, column, "LIKE", pattern)
}

func (b *QueryBuilder) raw(or bool, fragment string, params []interface{}) *QueryBuilder {
	if strings.TrimSpace(fragment) == "" {
		b.setErr(newValidationError("E_EMPTY_PREDICATE", "where", "raw predicate is empty"))
		return b
	}
	if n := CountPlaceholders(fragment); n != len(params) {
		b.setErr(newValidationError("E_PARAM_COUNT_MISMATCH", "where",
			"raw predicate has %d placeholders but %d params", n, len(params)))
		return b
	}
	return b.addPredicate(or, "("+fragment+")", params...)
}

// WhereRaw adds a raw predicate with its own placeholders. It is wrapped in
// parentheses so an OR inside it cannot bind to neighbouring predicates.
func (b *QueryBuilder) WhereRaw(fragment string, params ...interface{}) *QueryBuilder {
	return b.raw(false, fragment, params)
}

// OrWhereRaw is WhereRaw joined with OR.
func (b *QueryBuilder) OrWhereRaw(fragment string, params ...interface{}) *QueryBuilder {
	return b.raw(true, fragment, params)
}

func (b *QueryBuilder) join(kind, table, left, op, right string) *QueryBuilder {
	for _, id := range []struct{ kind, name string }{{"table", table}, {"column", left}, {"column", right}} {
		if err := validateIdentifier(id.kind, id.name); err != nil {
			b.setErr(err)
			return b
		}
	}
	if op != "=" && op != "!=" && op != "<>" && op != "<" && op != "<=" && op != ">" && op != ">=" {
		b.setErr(newValidationError("E_INVALID_OPERATOR", "operator", "unsupported join operator %q", op))
		return b
	}
	b.intent.joins = append(b.intent.joins, fmt.Sprintf("%s JOIN %s ON %s %s %s", kind, table, left, op, right))
	return b
}

// Join adds an INNER JOIN.
func (b *QueryBuilder) Join(table, left, op, right string) *QueryBuilder {
	return b.join("INNER", table, left, op, right)
}

// InnerJoin is an alias of Join.
func (b *QueryBuilder) InnerJoin(table, left, op, right string) *QueryBuilder {
	return b.join("INNER", table, left, op, right)
}

// LeftJoin adds a LEFT JOIN.
func (b *QueryBuilder) LeftJoin(table, left, op, right string) *QueryBuilder {
	return b.join("LEFT", table, left, op, right)
}

// RightJoin adds a RIGHT JOIN.
func (b *QueryBuilder) RightJoin(table, left, op, right string) *QueryBuilder {
	return b.join("RIGHT", table, left, op, right)
}

// CrossJoin adds a CROSS JOIN.
func (b *QueryBuilder) CrossJoin(table string) *QueryBuilder {
	if err := validateIdentifier("table", table); err != nil {
		b.setErr(err)
		return b
	}
	b.intent.joins = append(b.intent.joins, "CROSS JOIN "+table)
	return b
}

// GroupBy adds grouping columns.
func (b *QueryBuilder) GroupBy(columns ...string) *QueryBuilder {
	for _, col := range columns {
		if err := validateIdentifier("column", col); err != nil {
			b.setErr(err)
			return b
		}
	}
	b.intent.groupBy = append(b.intent.groupBy, columns...)
	return b
}

// Having adds a raw HAVING condition joined with AND.
func (b *QueryBuilder) Having(fragment string, params ...interface{}) *QueryBuilder {
	if n := CountPlaceholders(fragment); n != len(params) {
		b.setErr(newValidationError("E_PARAM_COUNT_MISMATCH", "having",
			"having clause has %d placeholders but %d params", n, len(params)))
		return b
	}
	b.intent.having = append(b.intent.having, predicate{fragment: fragment, params: params})
	return b
}

// OrderBy adds an ORDER BY term. direction is ASC or DESC, case-insensitive.
func (b *QueryBuilder) OrderBy(column, direction string) *QueryBuilder {
	if err := validateIdentifier("column", column); err != nil {
		b.setErr(err)
		return b
	}
	dir := strings.ToUpper(strings.TrimSpace(direction))
	if dir == "" {
		dir = "ASC"
	}
	if dir != "ASC" && dir != "DESC" {
		b.setErr(newValidationError("E_INVALID_DIRECTION", "direction", "order direction must be ASC or DESC, got %q", direction))
		return b
	}
	b.intent.orderBy = append(b.intent.orderBy, column+" "+dir)
	return b
}

// Limit caps the number of rows.
func (b *QueryBuilder) Limit(n int) *QueryBuilder {
	if n < 0 {
		b.setErr(newValidationError("E_INVALID_LIMIT", "limit", "limit must not be negative, got %d", n))
		return b
	}
	b.intent.limit, b.intent.hasLimit = n, true
	return b
}

// Offset skips rows.
func (b *QueryBuilder) Offset(n int) *QueryBuilder {
	if n < 0 {
		b.setErr(newValidationError("E_INVALID_OFFSET", "offset", "offset must not be negative, got %d", n))
		return b
	}
	b.intent.offset, b.intent.hasOffset = n, true
	return b
}

// NoCache bypasses the result cache for the next terminal call.
func (b *QueryBuilder) NoCache() *QueryBuilder {
	b.intent.execOpts = append(b.intent.execOpts, WithoutCache())
	return b
}

// CacheTTL overrides the cache time-to-live for the next terminal call.
func (b *QueryBuilder) CacheTTL(ttl time.Duration) *QueryBuilder {
	b.intent.execOpts = append(b.intent.execOpts, WithTTL(ttl))
	return b
}

// Clone returns an independent builder with copies of every clause list.
func (b *QueryBuilder) Clone() *QueryBuilder {
	return &QueryBuilder{
		client: b.client,
		table:  b.table,
		intent: b.intent.clone(),
	}
}

// ToSQL compiles the current intent without executing or resetting it.
func (b *QueryBuilder) ToSQL() (Statement, error) {
	return b.compile(b.intent, false)
}

func (b *QueryBuilder) reset() {
	b.intent = queryIntent{}
}

// compile renders q. countOnly replaces the column list with COUNT(*) and
// drops ordering and paging.
func (b *QueryBuilder) compile(q queryIntent, countOnly bool) (Statement, error) {
	if q.err != nil {
		return Statement{}, q.err
	}
	if b.table == "" {
		return Statement{}, newValidationError("E_MISSING_TABLE", "table", "no table set on query builder")
	}

	var sb strings.Builder
	var params []interface{}

	writeBody := func(columns string) {
		sb.WriteString("SELECT ")
		sb.WriteString(columns)
		sb.WriteString(" FROM ")
		sb.WriteString(b.table)
		for _, j := range q.joins {
			sb.WriteByte(' ')
			sb.WriteString(j)
		}
		if len(q.predicates) > 0 {
			sb.WriteString(" WHERE ")
			for i, p := range q.predicates {
				if i > 0 {
					if p.or {
						sb.WriteString(" OR ")
					} else {
						sb.WriteString(" AND ")
					}
				}
				sb.WriteString(p.fragment)
				params = append(params, p.params...)
			}
		}
		if len(q.groupBy) > 0 {
			sb.WriteString(" GROUP BY ")
			sb.WriteString(strings.Join(q.groupBy, ", "))
		}
		if len(q.having) > 0 {
			sb.WriteString(" HAVING ")
			for i, h := range q.having {
				if i > 0 {
					sb.WriteString(" AND ")
				}
				sb.WriteString(h.fragment)
				params = append(params, h.params...)
			}
		}
	}

	if countOnly {
		if len(q.groupBy) > 0 {
			sb.WriteString("SELECT COUNT(*) AS aggregate FROM (")
			writeBody(strings.Join(q.groupBy, ", "))
			sb.WriteString(") AS grouped")
		} else {
			writeBody("COUNT(*) AS aggregate")
		}
		return Statement{Text: sb.String(), Params: params}, nil
	}

	columns := "*"
	if len(q.columns) > 0 {
		columns = strings.Join(q.columns, ", ")
	}
	writeBody(columns)

	if len(q.orderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(q.orderBy, ", "))
	}
	switch {
	case q.hasLimit:
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(q.limit))
	case q.hasOffset:
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.FormatInt(maxLimit, 10))
	}
	if q.hasOffset {
		sb.WriteString(" OFFSET ")
		sb.WriteString(strconv.Itoa(q.offset))
	}

	return Statement{Text: sb.String(), Params: params}, nil
}

// Get executes the query and returns every row, then resets the builder.
func (b *QueryBuilder) Get(ctx context.Context) ([]Row, error) {
	q := b.intent
	b.reset()
	return b.get(ctx, q)
}

func (b *QueryBuilder) get(ctx context.Context, q queryIntent) ([]Row, error) {
	stmt, err := b.compile(q, false)
	if err != nil {
		return nil, err
	}
	rs, err := b.client.Execute(ctx, stmt, q.execOpts...)
	if err != nil {
		return nil, err
	}
	return rs.Rows, nil
}

// First executes the query with LIMIT 1. It returns a nil Row and a nil
// error when nothing matches.
func (b *QueryBuilder) First(ctx context.Context) (Row, error) {
	q := b.intent
	b.reset()

	q.limit, q.hasLimit = 1, true
	rows, err := b.get(ctx, q)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// Count returns the number of matching rows, or of groups when GroupBy is set.
func (b *QueryBuilder) Count(ctx context.Context) (int64, error) {
	q := b.intent
	b.reset()
	return b.count(ctx, q)
}

func (b *QueryBuilder) count(ctx context.Context, q queryIntent) (int64, error) {
	stmt, err := b.compile(q, true)
	if err != nil {
		return 0, err
	}
	rs, err := b.client.Execute(ctx, stmt, q.execOpts...)
	if err != nil {
		return 0, err
	}
	if len(rs.Rows) == 0 {
		return 0, nil
	}
	return mapper.ToInt64(rs.Rows[0]["aggregate"])
}

// Pagination describes one page of a filtered result.
type Pagination struct {
	CurrentPage int   `json:"current_page"`
	PerPage     int   `json:"per_page"`
	TotalItems  int64 `json:"total_items"`
	TotalPages  int   `json:"total_pages"`
	HasNextPage bool  `json:"has_next_page"`
	HasPrevPage bool  `json:"has_prev_page"`
}

// Page is the result of Paginate.
type Page struct {
	Rows       []Row      `json:"rows"`
	Pagination Pagination `json:"pagination"`
}

// Paginate counts every matching row, ignoring any limit and offset, then
// fetches page (1-based) of perPage rows with the same filter.
func (b *QueryBuilder) Paginate(ctx context.Context, page, perPage int) (*Page, error) {
	q := b.intent
	b.reset()

	if page < 1 {
		return nil, newValidationError("E_INVALID_PAGE", "page", "page must be at least 1, got %d", page)
	}
	if perPage < 1 {
		return nil, newValidationError("E_INVALID_PAGE", "perPage", "perPage must be at least 1, got %d", perPage)
	}
	if page-1 > math.MaxInt/perPage {
		return nil, newValidationError("E_INVALID_PAGE", "page", "page %d with perPage %d overflows the offset", page, perPage)
	}

	total, err := b.count(ctx, q)
	if err != nil {
		return nil, err
	}

	q.limit, q.hasLimit = perPage, true
	q.offset, q.hasOffset = (page-1)*perPage, true
	rows, err := b.get(ctx, q)
	if err != nil {
		return nil, err
	}

	totalPages := int((total + int64(perPage) - 1) / int64(perPage))
	return &Page{
		Rows: rows,
		Pagination: Pagination{
			CurrentPage: page,
			PerPage:     perPage,
			TotalItems:  total,
			TotalPages:  totalPages,
			HasNextPage: page < totalPages,
			HasPrevPage: page > 1,
		},
	}, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// flattenValues expands a single slice argument into its elements so that
// WhereIn("id", ids) and WhereIn("id", 1, 2, 3) behave the same.
func flattenValues(values []interface{}) []interface{} {
	if len(values) != 1 || values[0] == nil {
		return values
	}
	if _, isBytes := values[0].([]byte); isBytes {
		return values
	}
	rv := reflect.ValueOf(values[0])
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return values
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}
