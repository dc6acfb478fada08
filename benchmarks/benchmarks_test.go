package benchmarks

import (
	"context"
	"fmt"
	"testing"

	"github.com/dan-strohschein/querykit/client"
	"github.com/dan-strohschein/querykit/mapper"
	"github.com/dan-strohschein/querykit/testutil"
)

// BenchmarkBuilderCompile measures SQL generation for a typical query.
func BenchmarkBuilderCompile(b *testing.B) {
	c := client.NewClient(&client.Options{Logger: client.NewNoopLogger()})
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_, err := c.Table("users").
			Select("id", "name").
			Where("age", ">", 21).
			WhereIn("status", "active", "pending").
			OrderBy("name", "asc").
			Limit(20).
			ToSQL()
		if err != nil {
			b.Fatalf("ToSQL failed: %v", err)
		}
	}
}

// BenchmarkCacheHit measures a cached read through the full Execute path.
func BenchmarkCacheHit(b *testing.B) {
	mock := testutil.NewMockDriver()
	mock.ExpectQuery("FROM users").WillReturnRows(client.Row{"id": int64(1)})
	c := testutil.NewMockClient(b, mock, func(o *client.Options) { o.CacheEnabled = true })

	ctx := context.Background()
	stmt := client.NewStatement("SELECT * FROM users WHERE id = ?", 1)
	if _, err := c.Execute(ctx, stmt); err != nil {
		b.Fatalf("warmup failed: %v", err)
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := c.Execute(ctx, stmt); err != nil {
			b.Fatalf("Execute failed: %v", err)
		}
	}
}

// BenchmarkExecuteWithHooks measures the uncached pipeline with hooks attached.
func BenchmarkExecuteWithHooks(b *testing.B) {
	mock := testutil.NewMockDriver()
	c := testutil.NewMockClient(b, mock)
	if err := client.NewMetricsHook().Register(c); err != nil {
		b.Fatal(err)
	}

	ctx := context.Background()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := c.Exec(ctx, "UPDATE users SET name = ? WHERE id = ?", "x", i); err != nil {
			b.Fatalf("Exec failed: %v", err)
		}
	}
}

// BenchmarkBatchInsertSQLite measures chunked inserts against SQLite.
func BenchmarkBatchInsertSQLite(b *testing.B) {
	for _, size := range []int{100, 1000} {
		b.Run(fmt.Sprintf("chunk=%d", size), func(b *testing.B) {
			c := testutil.NewSQLiteClient(b)
			testutil.CreateTable(b, c, "users", testutil.UsersTable...)
			ctx := context.Background()

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				b.StopTimer()
				rows := testutil.BuildUsers(2000)
				b.StartTimer()
				if _, err := c.BatchInsert(ctx, "users", rows, size); err != nil {
					b.Fatalf("BatchInsert failed: %v", err)
				}
			}
		})
	}
}

// BenchmarkDecode measures struct decoding of result rows.
func BenchmarkDecode(b *testing.B) {
	type user struct {
		ID     int64  `db:"id"`
		Name   string `db:"name"`
		Age    int    `db:"age"`
		Active bool   `db:"active"`
	}
	row := map[string]interface{}{"id": int64(7), "name": []byte("Alice"), "age": int64(30), "active": int64(1)}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := mapper.Decode[user](row); err != nil {
			b.Fatalf("Decode failed: %v", err)
		}
	}
}
