package client

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// withTimestamps returns a copy of data with the automatic timestamp
// columns filled when TimestampsEnabled. Values already present win.
func (c *Client) withTimestamps(data Row, insert bool) Row {
	out := make(Row, len(data)+2)
	for k, v := range data {
		out[k] = v
	}
	if !c.opts.TimestampsEnabled {
		return out
	}

	now := c.opts.Now().UTC()
	if insert {
		if _, ok := out[c.opts.CreatedAtColumn]; !ok {
			out[c.opts.CreatedAtColumn] = now
		}
		if _, ok := out[c.opts.UpdatedAtColumn]; !ok {
			out[c.opts.UpdatedAtColumn] = now
		}
		return out
	}
	out[c.opts.UpdatedAtColumn] = now
	return out
}

// mutate wraps a write with the beforeMutate and afterMutate hooks. The
// beforeMutate hooks may rewrite hc.Data before build renders the statement.
func (c *Client) mutate(ctx context.Context, table, op string, data Row, build func(data Row) (Statement, error)) (*ResultSet, error) {
	if err := validateIdentifier("table", table); err != nil {
		return nil, err
	}

	hc := &HookContext{
		Stage:     StageBeforeMutate,
		Table:     table,
		Operation: op,
		Data:      data,
		IssuedAt:  c.opts.Now(),
		TraceID:   uuid.NewString(),
		Metadata:  make(map[string]interface{}),
	}
	if err := c.runHooks(ctx, hc); err != nil {
		return nil, &QueryExecutionError{
			Code:      "E_HOOK_ABORTED",
			Message:   "beforeMutate hook aborted " + op,
			TraceID:   hc.TraceID,
			Details:   map[string]interface{}{"table": table, "operation": op},
			Cause:     err,
			Timestamp: time.Now(),
		}
	}

	stmt, err := build(hc.Data)
	if err != nil {
		return nil, err
	}
	rs, err := c.Execute(ctx, stmt, WithoutCache())
	if err != nil {
		return nil, err
	}

	hc.Stage = StageAfterMutate
	hc.Statement = stmt
	hc.Result = rs
	if err := c.runHooks(ctx, hc); err != nil {
		return rs, &QueryExecutionError{
			Code:      "E_HOOK_ABORTED",
			Message:   "afterMutate hook failed after " + op,
			Query:     stmt.Text,
			Params:    stmt.Params,
			TraceID:   hc.TraceID,
			Cause:     err,
			Timestamp: time.Now(),
		}
	}
	return rs, nil
}

// Insert inserts one row. Automatic timestamps apply when enabled.
func (c *Client) Insert(ctx context.Context, table string, data Row) (*ResultSet, error) {
	if len(data) == 0 {
		return nil, newValidationError("E_MISSING_FIELDS", "data", "insert into %s has no columns", table)
	}
	return c.mutate(ctx, table, "insert", data, func(data Row) (Statement, error) {
		row := c.withTimestamps(data, true)
		columns := sortedKeys(row)
		for _, col := range columns {
			if err := validateIdentifier("column", col); err != nil {
				return Statement{}, err
			}
		}
		return buildInsert(table, columns, []Row{row}), nil
	})
}

// Upsert inserts data or, on a duplicate key, updates updateColumns from the
// inserted values. Uses MySQL ON DUPLICATE KEY UPDATE syntax. Without
// updateColumns every column is updated except the automatic created_at
// column, which keeps the original row's value.
func (c *Client) Upsert(ctx context.Context, table string, data Row, updateColumns ...string) (*ResultSet, error) {
	if len(data) == 0 {
		return nil, newValidationError("E_MISSING_FIELDS", "data", "upsert into %s has no columns", table)
	}
	return c.mutate(ctx, table, "upsert", data, func(data Row) (Statement, error) {
		row := c.withTimestamps(data, true)
		columns := sortedKeys(row)
		for _, col := range columns {
			if err := validateIdentifier("column", col); err != nil {
				return Statement{}, err
			}
		}
		update := updateColumns
		if len(update) == 0 {
			for _, col := range columns {
				if c.opts.TimestampsEnabled && col == c.opts.CreatedAtColumn {
					continue
				}
				update = append(update, col)
			}
		}
		sets := make([]string, len(update))
		for i, col := range update {
			if err := validateIdentifier("column", col); err != nil {
				return Statement{}, err
			}
			sets[i] = col + " = VALUES(" + col + ")"
		}

		stmt := buildInsert(table, columns, []Row{row})
		stmt.Text += " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
		return stmt, nil
	})
}

// Update sets data on every row matching where. An empty where is refused
// so a whole table is never updated by accident.
func (c *Client) Update(ctx context.Context, table string, data Row, where Row) (*ResultSet, error) {
	if len(data) == 0 {
		return nil, newValidationError("E_MISSING_FIELDS", "data", "update of %s has no columns", table)
	}
	if len(where) == 0 {
		return nil, newValidationError("E_MISSING_WHERE", "where", "update of %s requires a where clause", table)
	}
	return c.mutate(ctx, table, "update", data, func(data Row) (Statement, error) {
		row := c.withTimestamps(data, false)
		columns := sortedKeys(row)

		sets := make([]string, len(columns))
		params := make([]interface{}, 0, len(columns)+len(where))
		for i, col := range columns {
			if err := validateIdentifier("column", col); err != nil {
				return Statement{}, err
			}
			sets[i] = col + " = ?"
			params = append(params, row[col])
		}

		cond, condParams, err := whereEquals(where)
		if err != nil {
			return Statement{}, err
		}
		return Statement{
			Text:   "UPDATE " + table + " SET " + strings.Join(sets, ", ") + " WHERE " + cond,
			Params: append(params, condParams...),
		}, nil
	})
}

// Delete removes every row matching where. An empty where is refused.
func (c *Client) Delete(ctx context.Context, table string, where Row) (*ResultSet, error) {
	if len(where) == 0 {
		return nil, newValidationError("E_MISSING_WHERE", "where", "delete from %s requires a where clause", table)
	}
	return c.mutate(ctx, table, "delete", where, func(data Row) (Statement, error) {
		cond, params, err := whereEquals(data)
		if err != nil {
			return Statement{}, err
		}
		return Statement{Text: "DELETE FROM " + table + " WHERE " + cond, Params: params}, nil
	})
}

// FindByID returns the row whose primary key equals id, or nil.
func (c *Client) FindByID(ctx context.Context, table string, id interface{}) (Row, error) {
	return c.Table(table).Where(c.opts.PrimaryKey, "=", id).First(ctx)
}

// Exists reports whether any row matches where.
func (c *Client) Exists(ctx context.Context, table string, where Row) (bool, error) {
	b := c.Table(table).Select("1")
	for _, col := range sortedKeys(where) {
		b.Where(col, "=", where[col])
	}
	row, err := b.First(ctx)
	if err != nil {
		return false, err
	}
	return row != nil, nil
}

// whereEquals renders "a = ? AND b IS NULL" for where, in sorted key order.
func whereEquals(where Row) (string, []interface{}, error) {
	keys := sortedKeys(where)
	parts := make([]string, len(keys))
	params := make([]interface{}, 0, len(keys))
	for i, col := range keys {
		if err := validateIdentifier("column", col); err != nil {
			return "", nil, err
		}
		if where[col] == nil {
			parts[i] = col + " IS NULL"
			continue
		}
		parts[i] = col + " = ?"
		params = append(params, where[col])
	}
	return strings.Join(parts, " AND "), params, nil
}
