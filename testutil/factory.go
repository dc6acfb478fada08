package testutil

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dan-strohschein/querykit/client"
)

// Option is a function that modifies a row before it is returned.
type Option func(client.Row)

// WithField sets a specific field value.
func WithField(name string, value interface{}) Option {
	return func(r client.Row) {
		r[name] = value
	}
}

// WithFields sets multiple field values.
func WithFields(fields client.Row) Option {
	return func(r client.Row) {
		for k, v := range fields {
			r[k] = v
		}
	}
}

// WithoutField removes a field.
func WithoutField(name string) Option {
	return func(r client.Row) {
		delete(r, name)
	}
}

// RowFactory builds rows from defaults. A default that is a func() T with T
// one of int, int64, string, bool or time.Time is called for every row.
type RowFactory struct {
	defaults client.Row
}

// NewRowFactory creates a factory with the given defaults.
func NewRowFactory(defaults client.Row) *RowFactory {
	return &RowFactory{defaults: defaults}
}

// Build creates a single row with optional overrides.
func (f *RowFactory) Build(options ...Option) client.Row {
	row := make(client.Row, len(f.defaults))
	for k, v := range f.defaults {
		row[k] = resolve(v)
	}
	for _, opt := range options {
		opt(row)
	}
	return row
}

// BuildList creates count rows.
func (f *RowFactory) BuildList(count int, options ...Option) []client.Row {
	rows := make([]client.Row, count)
	for i := range rows {
		rows[i] = f.Build(options...)
	}
	return rows
}

func resolve(v interface{}) interface{} {
	switch fn := v.(type) {
	case func() int:
		return fn()
	case func() int64:
		return fn()
	case func() string:
		return fn()
	case func() bool:
		return fn()
	case func() time.Time:
		return fn()
	default:
		return v
	}
}

// Sequence generators for unique values

var (
	emailSequence    uint64
	usernameSequence uint64
	idSequence       uint64
)

// SequenceEmail generates unique email addresses.
func SequenceEmail() string {
	n := atomic.AddUint64(&emailSequence, 1)
	return fmt.Sprintf("user%d@example.com", n)
}

// SequenceUsername generates unique usernames.
func SequenceUsername() string {
	n := atomic.AddUint64(&usernameSequence, 1)
	return fmt.Sprintf("user%d", n)
}

// SequenceID generates unique IDs.
func SequenceID() int64 {
	return int64(atomic.AddUint64(&idSequence, 1))
}

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// RandomString generates a random string of the specified length.
func RandomString(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	rngMu.Lock()
	defer rngMu.Unlock()
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rng.Intn(len(charset))]
	}
	return string(b)
}

// RandomInt generates a random integer between min and max (inclusive).
func RandomInt(min, max int) int {
	rngMu.Lock()
	defer rngMu.Unlock()
	return min + rng.Intn(max-min+1)
}

// NewUserFactory creates rows for a users table with columns
// email, username, name, age and active.
func NewUserFactory() *RowFactory {
	return NewRowFactory(client.Row{
		"email":    SequenceEmail,
		"username": SequenceUsername,
		"name":     "Test User",
		"age":      func() int { return RandomInt(18, 80) },
		"active":   true,
	})
}

// UsersTable is the DDL matching NewUserFactory rows.
var UsersTable = []string{
	"id INTEGER PRIMARY KEY AUTOINCREMENT",
	"email TEXT NOT NULL UNIQUE",
	"username TEXT NOT NULL",
	"name TEXT",
	"age INTEGER",
	"active BOOLEAN",
	"created_at DATETIME",
	"updated_at DATETIME",
}

// NewPostFactory creates rows for a posts table.
func NewPostFactory() *RowFactory {
	return NewRowFactory(client.Row{
		"title":     func() string { return "Test Post " + RandomString(5) },
		"content":   func() string { return "This is test content. " + RandomString(50) },
		"author_id": SequenceID,
		"published": true,
		"views":     func() int { return RandomInt(0, 1000) },
	})
}

// BuildUsers is a shorthand for NewUserFactory().BuildList.
func BuildUsers(count int, options ...Option) []client.Row {
	return NewUserFactory().BuildList(count, options...)
}
