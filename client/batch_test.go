package client_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-strohschein/querykit/client"
	"github.com/dan-strohschein/querykit/testutil"
)

func numbered(n int) []client.Row {
	rows := make([]client.Row, n)
	for i := range rows {
		rows[i] = client.Row{"n": i, "label": "item"}
	}
	return rows
}

func TestBatchInsert_ChunksAndProgress(t *testing.T) {
	mock := testutil.NewMockDriver()
	c := testutil.NewMockClient(t, mock)

	var progress []client.BatchProgress
	c.Subscribe(func(e client.Event) { progress = append(progress, e.(client.BatchProgress)) }, client.TopicBatchProgress)

	res, err := c.BatchInsert(context.Background(), "items", numbered(5000), 1000)
	require.NoError(t, err)
	assert.Equal(t, 5000, res.TotalInserted)
	assert.Equal(t, 5, res.TotalBatches)

	calls := mock.Calls()
	require.Len(t, calls, 5)
	for _, call := range calls {
		assert.True(t, strings.HasPrefix(call.Text, "INSERT INTO items (label, n) VALUES (?, ?), (?, ?)"))
		assert.Len(t, call.Params, 2000)
	}
	assert.Equal(t, []interface{}{"item", 0, "item", 1}, calls[0].Params[:4])

	require.Len(t, progress, 5)
	for i, p := range progress {
		assert.Equal(t, i+1, p.CurrentChunk)
		assert.Equal(t, 5, p.TotalChunks)
		assert.Equal(t, (i+1)*1000, p.ItemsProcessed)
		assert.Equal(t, 5000, p.TotalItems)
	}
	assert.InDelta(t, 100.0, progress[4].Percentage, 0.001)
}

func TestBatchInsert_LastChunkShorter(t *testing.T) {
	mock := testutil.NewMockDriver()
	c := testutil.NewMockClient(t, mock)

	res, err := c.BatchInsert(context.Background(), "items", numbered(25), 10)
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalBatches)

	calls := mock.Calls()
	require.Len(t, calls, 3)
	assert.Len(t, calls[2].Params, 10)
}

func TestBatchInsert_Validation(t *testing.T) {
	tests := []struct {
		name      string
		table     string
		items     []client.Row
		chunkSize int
		wantCode  string
	}{
		{"empty", "items", nil, 10, "E_EMPTY_BATCH"},
		{"zero chunk", "items", numbered(1), 0, "E_INVALID_CHUNK_SIZE"},
		{"bad table", "items; DROP", numbered(1), 10, "E_INVALID_IDENTIFIER"},
		{"no columns", "items", []client.Row{{}}, 10, "E_MISSING_FIELDS"},
		{
			"missing column", "items",
			[]client.Row{{"a": 1, "b": 2}, {"a": 1}}, 10, "E_MISSING_FIELDS",
		},
		{
			"extra column", "items",
			[]client.Row{{"a": 1}, {"a": 1, "b": 2}}, 10, "E_UNEXPECTED_FIELDS",
		},
		{
			"bad column", "items",
			[]client.Row{{"a b": 1}}, 10, "E_INVALID_IDENTIFIER",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockDriver()
			c := testutil.NewMockClient(t, mock)

			_, err := c.BatchInsert(context.Background(), tt.table, tt.items, tt.chunkSize)
			var ve *client.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.wantCode, ve.Code)
			assert.Empty(t, mock.Calls())
		})
	}
}

func TestBatchInsert_FailureReturnsPartialResult(t *testing.T) {
	mock := testutil.NewMockDriver()
	boom := errors.New("disk full")
	var n atomic.Int32
	mock.ExpectExec("INSERT INTO items").WillRespond(func(string, []interface{}) (*client.ResultSet, error) {
		if n.Add(1) == 3 {
			return nil, boom
		}
		return &client.ResultSet{RowsAffected: 10}, nil
	})
	c := testutil.NewMockClient(t, mock)

	res, err := c.BatchInsert(context.Background(), "items", numbered(50), 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "chunk 3 of 5")
	require.NotNil(t, res)
	assert.Equal(t, 20, res.TotalInserted)
	assert.Equal(t, 2, res.TotalBatches)
	assert.Equal(t, 3, mock.CallCount("INSERT INTO items"), "no chunk after the failing one is sent")
}

func TestBatchInsert_Timestamps(t *testing.T) {
	clock := testutil.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	mock := testutil.NewMockDriver()
	c := testutil.NewMockClient(t, mock, func(o *client.Options) {
		o.TimestampsEnabled = true
		o.Now = clock.Now
	})

	_, err := c.BatchInsert(context.Background(), "items", []client.Row{{"a": 1}}, 10)
	require.NoError(t, err)

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "INSERT INTO items (a, created_at, updated_at) VALUES (?, ?, ?)", calls[0].Text)
	assert.Equal(t, clock.Now(), calls[0].Params[1])
	assert.Equal(t, clock.Now(), calls[0].Params[2])
}

func TestBatchInsert_SQLite(t *testing.T) {
	c := testutil.NewSQLiteClient(t)
	testutil.CreateTable(t, c, "users", testutil.UsersTable...)

	res, err := c.BatchInsert(context.Background(), "users", testutil.BuildUsers(250), 100)
	require.NoError(t, err)
	assert.Equal(t, 250, res.TotalInserted)
	assert.Equal(t, 3, res.TotalBatches)

	n, err := c.Table("users").Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(250), n)
}

func TestBatchProcess_OrderedResults(t *testing.T) {
	items := make([]int, 95)
	for i := range items {
		items[i] = i
	}

	var progress []client.BatchProgress
	sums, err := client.BatchProcess(context.Background(), nil, items,
		func(_ context.Context, chunk []int, _ int) (int, error) {
			sum := 0
			for _, v := range chunk {
				sum += v
			}
			return sum, nil
		},
		client.BatchOptions{
			ChunkSize:   10,
			Concurrency: 3,
			OnProgress:  func(p client.BatchProgress) { progress = append(progress, p) },
		})
	require.NoError(t, err)

	require.Len(t, sums, 10)
	assert.Equal(t, 45, sums[0])
	assert.Equal(t, 90+91+92+93+94, sums[9])

	// 10 chunks in windows of 3: 3, 6, 9, 10.
	require.Len(t, progress, 4)
	assert.Equal(t, 3, progress[0].CurrentChunk)
	assert.Equal(t, 30, progress[0].ItemsProcessed)
	assert.Equal(t, 10, progress[3].CurrentChunk)
	assert.Equal(t, 95, progress[3].ItemsProcessed)
	assert.InDelta(t, 100.0, progress[3].Percentage, 0.001)
}

func TestBatchProcess_ConcurrencyBound(t *testing.T) {
	items := make([]int, 40)
	var inFlight, peak atomic.Int32

	_, err := client.BatchProcess(context.Background(), nil, items,
		func(context.Context, []int, int) (struct{}, error) {
			cur := inFlight.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return struct{}{}, nil
		},
		client.BatchOptions{ChunkSize: 5, Concurrency: 4})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(4))
}

func TestBatchProcess_ErrorStopsScheduling(t *testing.T) {
	items := make([]int, 50)
	boom := errors.New("processor failed")

	var mu sync.Mutex
	seen := map[int]bool{}
	results, err := client.BatchProcess(context.Background(), nil, items,
		func(_ context.Context, _ []int, index int) (int, error) {
			mu.Lock()
			seen[index] = true
			mu.Unlock()
			if index == 2 {
				return 0, boom
			}
			return index, nil
		},
		client.BatchOptions{ChunkSize: 10, Concurrency: 2})

	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "chunk 2")
	assert.Equal(t, []int{0, 1}, results, "only completed windows are returned")
	assert.False(t, seen[4], "later windows never start")
}

func TestBatchProcess_Validation(t *testing.T) {
	noop := func(context.Context, []int, int) (int, error) { return 0, nil }

	_, err := client.BatchProcess(context.Background(), nil, []int{}, noop, client.BatchOptions{})
	var ve *client.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "E_EMPTY_BATCH", ve.Code)

	_, err = client.BatchProcess[int, int](context.Background(), nil, []int{1}, nil, client.BatchOptions{})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "E_NIL_PROCESSOR", ve.Code)
}

func TestBatchProcess_EmitsEvents(t *testing.T) {
	c := testutil.NewMockClient(t, testutil.NewMockDriver())
	var events int
	c.Subscribe(func(client.Event) { events++ }, client.TopicBatchProgress)

	_, err := client.BatchProcess(context.Background(), c, make([]int, 30),
		func(context.Context, []int, int) (int, error) { return 0, nil },
		client.BatchOptions{ChunkSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, events)
}

func TestBatchProcess_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := client.BatchProcess(ctx, nil, make([]int, 10),
		func(context.Context, []int, int) (int, error) { return 1, nil },
		client.BatchOptions{ChunkSize: 5})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}
