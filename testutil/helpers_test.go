package testutil_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-strohschein/querykit/testutil"
)

func TestUniqueName(t *testing.T) {
	name1 := testutil.UniqueName("test")
	name2 := testutil.UniqueName("test")
	if name1 == name2 {
		t.Error("expected unique names")
	}
}

func TestWithTimeout(t *testing.T) {
	ctx, _ := testutil.WithTimeout(t, 100*time.Millisecond)
	select {
	case <-ctx.Done():
		t.Fatal("context canceled too early")
	default:
	}
}

func TestFakeClock(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := testutil.NewFakeClock(start)
	assert.True(t, clock.Now().Equal(start))

	clock.Advance(90 * time.Second)
	assert.Equal(t, 90*time.Second, clock.Now().Sub(start))
}

func TestWaitFor(t *testing.T) {
	calls := 0
	ok := testutil.WaitFor(t, time.Second, time.Millisecond, func() bool {
		calls++
		return calls >= 3
	})
	assert.True(t, ok)
	assert.Equal(t, 3, calls)
}

func TestNewSQLiteClient(t *testing.T) {
	c := testutil.NewSQLiteClient(t)
	testutil.CreateTable(t, c, "users", testutil.UsersTable...)
	testutil.InsertRows(t, c, "users", testutil.BuildUsers(3))

	n, err := c.Table("users").Count(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
