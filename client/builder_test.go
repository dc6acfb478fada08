package client

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_ToSQL(t *testing.T) {
	c := newQuietClient(Options{})

	tests := []struct {
		name   string
		build  func() *QueryBuilder
		sql    string
		params []interface{}
	}{
		{
			name:  "select all",
			build: func() *QueryBuilder { return c.Table("users") },
			sql:   "SELECT * FROM users",
		},
		{
			name: "where and order",
			build: func() *QueryBuilder {
				return c.Table("users").Select("id", "name").Where("age", ">", 21).OrderBy("name", "desc").Limit(10)
			},
			sql:    "SELECT id, name FROM users WHERE age > ? ORDER BY name DESC LIMIT 10",
			params: []interface{}{21},
		},
		{
			name: "and or",
			build: func() *QueryBuilder {
				return c.Table("users").Where("status", "=", "active").OrWhere("role", "=", "admin").Where("age", "<=", 65)
			},
			sql:    "SELECT * FROM users WHERE status = ? OR role = ? AND age <= ?",
			params: []interface{}{"active", "admin", 65},
		},
		{
			name:   "leading or is a plain predicate",
			build:  func() *QueryBuilder { return c.Table("users").OrWhere("id", "=", 1) },
			sql:    "SELECT * FROM users WHERE id = ?",
			params: []interface{}{1},
		},
		{
			name:   "in with slice",
			build:  func() *QueryBuilder { return c.Table("users").WhereIn("id", []int{1, 2, 3}) },
			sql:    "SELECT * FROM users WHERE id IN (?, ?, ?)",
			params: []interface{}{1, 2, 3},
		},
		{
			name:   "not in",
			build:  func() *QueryBuilder { return c.Table("users").WhereNotIn("id", 4, 5) },
			sql:    "SELECT * FROM users WHERE id NOT IN (?, ?)",
			params: []interface{}{4, 5},
		},
		{
			name:  "nulls",
			build: func() *QueryBuilder { return c.Table("users").Where("deleted_at", "=", nil).WhereNotNull("email").OrWhereNull("phone") },
			sql:   "SELECT * FROM users WHERE deleted_at IS NULL AND email IS NOT NULL OR phone IS NULL",
		},
		{
			name:   "between and like",
			build:  func() *QueryBuilder { return c.Table("users").WhereBetween("age", 18, 30).WhereLike("name", "A%") },
			sql:    "SELECT * FROM users WHERE age BETWEEN ? AND ? AND name LIKE ?",
			params: []interface{}{18, 30, "A%"},
		},
		{
			name:   "raw is parenthesized",
			build:  func() *QueryBuilder { return c.Table("users").Where("a", "=", 1).WhereRaw("b = ? OR c = ?", 2, 3) },
			sql:    "SELECT * FROM users WHERE a = ? AND (b = ? OR c = ?)",
			params: []interface{}{1, 2, 3},
		},
		{
			name: "joins",
			build: func() *QueryBuilder {
				return c.Table("users").Select("users.id", "posts.title").
					Join("posts", "posts.user_id", "=", "users.id").
					LeftJoin("profiles", "profiles.user_id", "=", "users.id")
			},
			sql: "SELECT users.id, posts.title FROM users INNER JOIN posts ON posts.user_id = users.id LEFT JOIN profiles ON profiles.user_id = users.id",
		},
		{
			name: "group and having",
			build: func() *QueryBuilder {
				return c.Table("orders").Select("user_id", "COUNT(*) AS n").GroupBy("user_id").Having("COUNT(*) > ?", 2)
			},
			sql:    "SELECT user_id, COUNT(*) AS n FROM orders GROUP BY user_id HAVING COUNT(*) > ?",
			params: []interface{}{2},
		},
		{
			name:  "offset without limit",
			build: func() *QueryBuilder { return c.Table("users").Offset(5) },
			sql:   "SELECT * FROM users LIMIT 9223372036854775807 OFFSET 5",
		},
		{
			name:  "limit and offset",
			build: func() *QueryBuilder { return c.Table("users").Limit(10).Offset(20) },
			sql:   "SELECT * FROM users LIMIT 10 OFFSET 20",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt, err := tt.build().ToSQL()
			require.NoError(t, err)
			assert.Equal(t, tt.sql, stmt.Text)
			assert.Equal(t, tt.params, stmt.Params)
		})
	}
}

func TestBuilder_Errors(t *testing.T) {
	c := newQuietClient(Options{})

	tests := []struct {
		name  string
		build func() *QueryBuilder
		code  string
	}{
		{"empty in", func() *QueryBuilder { return c.Table("users").WhereIn("id") }, "E_EMPTY_IN_LIST"},
		{"empty in slice", func() *QueryBuilder { return c.Table("users").WhereIn("id", []int{}) }, "E_EMPTY_IN_LIST"},
		{"bad operator", func() *QueryBuilder { return c.Table("users").Where("id", "==", 1) }, "E_INVALID_OPERATOR"},
		{"bad column", func() *QueryBuilder { return c.Table("users").Where("id; DROP", "=", 1) }, "E_INVALID_IDENTIFIER"},
		{"bad table", func() *QueryBuilder { return c.Table("users x") }, "E_INVALID_IDENTIFIER"},
		{"no table", func() *QueryBuilder { return c.Builder().Where("id", "=", 1) }, "E_MISSING_TABLE"},
		{"bad direction", func() *QueryBuilder { return c.Table("users").OrderBy("id", "sideways") }, "E_INVALID_DIRECTION"},
		{"negative limit", func() *QueryBuilder { return c.Table("users").Limit(-1) }, "E_INVALID_LIMIT"},
		{"negative offset", func() *QueryBuilder { return c.Table("users").Offset(-1) }, "E_INVALID_OFFSET"},
		{"raw mismatch", func() *QueryBuilder { return c.Table("users").WhereRaw("a = ? AND b = ?", 1) }, "E_PARAM_COUNT_MISMATCH"},
		{"having mismatch", func() *QueryBuilder { return c.Table("users").Having("COUNT(*) > ?") }, "E_PARAM_COUNT_MISMATCH"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build().ToSQL()
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.code, ve.Code)
		})
	}
}

func TestBuilder_FirstErrorWins(t *testing.T) {
	c := newQuietClient(Options{})
	_, err := c.Table("users").Limit(-1).Where("id", "??", 1).ToSQL()
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "E_INVALID_LIMIT", ve.Code)
}

func TestBuilder_Clone(t *testing.T) {
	c := newQuietClient(Options{})
	base := c.Table("users").Where("active", "=", true)

	admins := base.Clone().Where("role", "=", "admin")
	guests := base.Clone().Where("role", "=", "guest")

	a, err := admins.ToSQL()
	require.NoError(t, err)
	g, err := guests.ToSQL()
	require.NoError(t, err)
	b, err := base.ToSQL()
	require.NoError(t, err)

	assert.Equal(t, []interface{}{true, "admin"}, a.Params)
	assert.Equal(t, []interface{}{true, "guest"}, g.Params)
	assert.Equal(t, "SELECT * FROM users WHERE active = ?", b.Text)
}

func TestBuilder_CountSQL(t *testing.T) {
	c := newQuietClient(Options{})

	b := c.Table("users").Where("age", ">", 18).OrderBy("id", "asc").Limit(5)
	stmt, err := b.compile(b.intent, true)
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) AS aggregate FROM users WHERE age > ?", stmt.Text)

	g := c.Table("orders").GroupBy("user_id")
	stmt, err = g.compile(g.intent, true)
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) AS aggregate FROM (SELECT user_id FROM orders GROUP BY user_id) AS grouped", stmt.Text)
}

// Any sequence of builder calls compiles to text whose placeholder count
// equals its parameter count.
func TestBuilder_PlaceholderCountMatchesParams(t *testing.T) {
	c := newQuietClient(Options{})
	rng := rand.New(rand.NewSource(42))

	steps := []func(b *QueryBuilder){
		func(b *QueryBuilder) { b.Where("a", "=", rng.Intn(100)) },
		func(b *QueryBuilder) { b.OrWhere("b", "<>", "x") },
		func(b *QueryBuilder) { b.Where("c", "=", nil) },
		func(b *QueryBuilder) {
			vals := make([]interface{}, 1+rng.Intn(5))
			for i := range vals {
				vals[i] = i
			}
			b.WhereIn("d", vals...)
		},
		func(b *QueryBuilder) { b.OrWhereIn("e", []string{"p", "q"}) },
		func(b *QueryBuilder) { b.WhereBetween("f", 1, 9) },
		func(b *QueryBuilder) { b.WhereLike("g", "%?%") },
		func(b *QueryBuilder) { b.WhereRaw("h = ? OR h = '?'", 1) },
		func(b *QueryBuilder) { b.WhereNotNull("i") },
		func(b *QueryBuilder) { b.GroupBy("j") },
		func(b *QueryBuilder) { b.Having("COUNT(*) > ?", 1) },
		func(b *QueryBuilder) { b.OrderBy("k", "desc") },
		func(b *QueryBuilder) { b.Limit(rng.Intn(50)) },
		func(b *QueryBuilder) { b.Offset(rng.Intn(50)) },
	}

	for i := 0; i < 500; i++ {
		b := c.Table("t")
		for n := rng.Intn(12); n > 0; n-- {
			steps[rng.Intn(len(steps))](b)
		}
		stmt, err := b.ToSQL()
		require.NoError(t, err)
		require.Equal(t, len(stmt.Params), CountPlaceholders(stmt.Text), stmt.Text)
		require.NoError(t, stmt.validate())
	}
}

func TestFlattenValues(t *testing.T) {
	assert.Equal(t, []interface{}{1, 2}, flattenValues([]interface{}{[]int{1, 2}}))
	assert.Equal(t, []interface{}{[]byte("ab")}, flattenValues([]interface{}{[]byte("ab")}))
	assert.Equal(t, []interface{}{1, 2}, flattenValues([]interface{}{1, 2}))
	assert.Equal(t, []interface{}{nil}, flattenValues([]interface{}{nil}))
}
