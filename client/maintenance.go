package client

import (
	"context"
	"strings"
)

// maintain runs a DDL statement between a before/after maintenance event
// pair. DDL is never cached.
func (c *Client) maintain(ctx context.Context, op, object string, stmt Statement) (*ResultSet, error) {
	c.events.emit(MaintenanceEvent{Kind: TopicMaintenanceBefore, Operation: op, Object: object, Statement: stmt})

	rs, err := c.Execute(ctx, stmt, WithoutCache())

	c.events.emit(MaintenanceEvent{Kind: TopicMaintenanceAfter, Operation: op, Object: object, Statement: stmt, Err: err})
	if err != nil {
		return nil, err
	}
	c.logger.Info("maintenance completed", String("operation", op), String("object", object))
	return rs, nil
}

func validateIdentifiers(kind string, names ...string) error {
	if len(names) == 0 {
		return newValidationError("E_MISSING_FIELDS", kind, "at least one %s is required", kind)
	}
	for _, n := range names {
		if err := validateIdentifier(kind, n); err != nil {
			return err
		}
	}
	return nil
}

// CreateIndex creates an index on table over columns.
func (c *Client) CreateIndex(ctx context.Context, table, name string, unique bool, columns ...string) error {
	if err := validateIdentifier("table", table); err != nil {
		return err
	}
	if err := validateIdentifier("index", name); err != nil {
		return err
	}
	if err := validateIdentifiers("column", columns...); err != nil {
		return err
	}

	kw := "CREATE INDEX "
	if unique {
		kw = "CREATE UNIQUE INDEX "
	}
	text := kw + name + " ON " + table + " (" + strings.Join(columns, ", ") + ")"
	_, err := c.maintain(ctx, "create_index", name, NewStatement(text))
	return err
}

// DropIndex drops an index. Uses MySQL "DROP INDEX name ON table" syntax.
func (c *Client) DropIndex(ctx context.Context, table, name string) error {
	if err := validateIdentifier("table", table); err != nil {
		return err
	}
	if err := validateIdentifier("index", name); err != nil {
		return err
	}
	_, err := c.maintain(ctx, "drop_index", name, NewStatement("DROP INDEX "+name+" ON "+table))
	return err
}

// CreateProcedure creates a stored procedure. params is the parameter list
// text and body the procedure body, both passed through unchanged. A '?' in
// the body is sent as-is and never counted as a placeholder.
func (c *Client) CreateProcedure(ctx context.Context, name, params, body string) error {
	if err := validateIdentifier("procedure", name); err != nil {
		return err
	}
	if strings.TrimSpace(body) == "" {
		return newValidationError("E_EMPTY_STATEMENT", "body", "procedure %s has an empty body", name)
	}
	text := "CREATE PROCEDURE " + name + "(" + params + ") BEGIN " + body + " END"
	_, err := c.maintain(ctx, "create_procedure", name, rawStatement(text))
	return err
}

// CallProcedure calls a stored procedure and returns its first result set.
func (c *Client) CallProcedure(ctx context.Context, name string, args ...interface{}) (*ResultSet, error) {
	if err := validateIdentifier("procedure", name); err != nil {
		return nil, err
	}
	text := "CALL " + name + "(" + placeholders(len(args)) + ")"
	return c.maintain(ctx, "call_procedure", name, NewStatement(text, args...))
}

// DropProcedure drops a stored procedure if it exists.
func (c *Client) DropProcedure(ctx context.Context, name string) error {
	if err := validateIdentifier("procedure", name); err != nil {
		return err
	}
	_, err := c.maintain(ctx, "drop_procedure", name, NewStatement("DROP PROCEDURE IF EXISTS "+name))
	return err
}

// TruncateTable removes every row of table.
func (c *Client) TruncateTable(ctx context.Context, table string) error {
	if err := validateIdentifier("table", table); err != nil {
		return err
	}
	_, err := c.maintain(ctx, "truncate_table", table, NewStatement("TRUNCATE TABLE "+table))
	return err
}

// DropTable drops table if it exists.
func (c *Client) DropTable(ctx context.Context, table string) error {
	if err := validateIdentifier("table", table); err != nil {
		return err
	}
	_, err := c.maintain(ctx, "drop_table", table, NewStatement("DROP TABLE IF EXISTS "+table))
	return err
}
