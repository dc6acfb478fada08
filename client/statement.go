package client

import (
	"regexp"
	"strings"
)

// Statement is parameterized SQL text plus its positional argument vector.
// The number of '?' placeholders in Text always equals len(Params).
type Statement struct {
	Text   string
	Params []interface{}
	// raw marks parameterless pass-through text, such as a procedure body,
	// whose '?' characters are not placeholders.
	raw bool
}

// NewStatement creates a Statement.
func NewStatement(text string, params ...interface{}) Statement {
	return Statement{Text: text, Params: params}
}

// Row is a single result row keyed by column name.
type Row map[string]interface{}

// ResultSet is what a statement execution yields. Row-returning statements
// fill Columns and Rows; mutations fill RowsAffected and LastInsertID.
type ResultSet struct {
	Columns      []string
	Rows         []Row
	RowsAffected int64
	LastInsertID int64
}

// RowCount returns the number of rows for reads, or rows affected for writes.
func (r *ResultSet) RowCount() int64 {
	if r == nil {
		return 0
	}
	if r.Rows != nil {
		return int64(len(r.Rows))
	}
	return r.RowsAffected
}

// CommandKind categorizes a statement for caching and event purposes.
type CommandKind string

const (
	KindQuery    CommandKind = "query"
	KindMutation CommandKind = "mutation"
	KindSchema   CommandKind = "schema"
	KindOther    CommandKind = "other"
)

// InferCommandKind determines the kind of statement from its leading keyword.
func InferCommandKind(text string) CommandKind {
	switch strings.ToUpper(firstKeyword(text)) {
	case "SELECT", "SHOW", "WITH", "PRAGMA", "EXPLAIN", "DESCRIBE", "DESC":
		return KindQuery
	case "INSERT", "UPDATE", "DELETE", "REPLACE", "MERGE", "UPSERT":
		return KindMutation
	case "CREATE", "DROP", "ALTER", "TRUNCATE", "RENAME", "OPTIMIZE", "ANALYZE":
		return KindSchema
	default:
		return KindOther
	}
}

// returnsRows reports whether a statement must be run as a query.
// CALL is included since stored procedures may produce result sets.
func returnsRows(text string) bool {
	if InferCommandKind(text) == KindQuery {
		return true
	}
	return strings.EqualFold(firstKeyword(text), "CALL")
}

func firstKeyword(text string) string {
	text = strings.TrimLeft(text, " \t\r\n(")
	end := strings.IndexFunc(text, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '(' || r == ';'
	})
	if end < 0 {
		return text
	}
	return text[:end]
}

// CountPlaceholders counts positional '?' markers outside quoted strings,
// quoted identifiers and comments.
func CountPlaceholders(text string) int {
	count := 0
	var quote byte
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if quote != 0 {
			if ch == '\\' && quote != '`' {
				i++
				continue
			}
			if ch == quote {
				quote = 0
			}
			continue
		}
		switch {
		case ch == '\'' || ch == '"' || ch == '`':
			quote = ch
		case ch == '-' && i+1 < len(text) && text[i+1] == '-':
			for i < len(text) && text[i] != '\n' {
				i++
			}
		case ch == '/' && i+1 < len(text) && text[i+1] == '*':
			end := strings.Index(text[i+2:], "*/")
			if end < 0 {
				return count
			}
			i += end + 3
		case ch == '?':
			count++
		}
	}
	return count
}

// rawStatement creates a parameterless statement exempt from placeholder
// counting.
func rawStatement(text string) Statement {
	return Statement{Text: text, raw: true}
}

// validate checks the placeholder/parameter invariant.
func (s Statement) validate() error {
	if strings.TrimSpace(s.Text) == "" {
		return newValidationError("E_EMPTY_STATEMENT", "text", "statement text is empty")
	}
	if s.raw && len(s.Params) == 0 {
		return nil
	}
	if n := CountPlaceholders(s.Text); n != len(s.Params) {
		return &ValidationError{
			Code:    "E_PARAM_COUNT_MISMATCH",
			Field:   "params",
			Message: "parameter count does not match placeholders",
			Details: map[string]interface{}{
				"expected": n,
				"actual":   len(s.Params),
				"query":    s.Text,
			},
		}
	}
	return nil
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// validateIdentifier rejects names that are not plain (optionally qualified)
// identifiers, since they are interpolated into SQL text.
func validateIdentifier(kind, name string) error {
	if !identifierPattern.MatchString(name) {
		return newValidationError("E_INVALID_IDENTIFIER", kind, "invalid %s name %q", kind, name)
	}
	return nil
}
