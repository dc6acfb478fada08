package client

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// BatchInsertResult aggregates a BatchInsert run. On failure it holds the
// counts of the chunks that completed before the failing one.
type BatchInsertResult struct {
	TotalInserted int
	TotalBatches  int
}

// BatchInsert inserts items into table with one multi-row INSERT per chunk
// of chunkSize rows. Chunks run strictly one after another and a
// TopicBatchProgress event follows each chunk.
//
// Every item must carry exactly the columns of the first item. Input
// problems are reported as *ValidationError before any statement is sent.
func (c *Client) BatchInsert(ctx context.Context, table string, items []Row, chunkSize int) (*BatchInsertResult, error) {
	if err := validateIdentifier("table", table); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, newValidationError("E_EMPTY_BATCH", "items", "batch insert into %s has no items", table)
	}
	if chunkSize <= 0 {
		return nil, newValidationError("E_INVALID_CHUNK_SIZE", "chunkSize", "chunk size must be positive, got %d", chunkSize)
	}

	rows := make([]Row, len(items))
	for i, item := range items {
		rows[i] = c.withTimestamps(item, true)
	}

	columns, err := batchColumns(rows)
	if err != nil {
		return nil, err
	}

	chunks := chunk(rows, chunkSize)
	result := &BatchInsertResult{}
	c.logger.Debug("batch insert started",
		String("table", table),
		Int("items", len(rows)),
		Int("chunks", len(chunks)))

	for i, part := range chunks {
		stmt := buildInsert(table, columns, part)
		if _, err := c.Execute(ctx, stmt, WithoutCache()); err != nil {
			return result, fmt.Errorf("batch insert chunk %d of %d: %w", i+1, len(chunks), err)
		}

		result.TotalInserted += len(part)
		result.TotalBatches++
		c.events.emit(BatchProgress{
			CurrentChunk:   i + 1,
			TotalChunks:    len(chunks),
			ItemsProcessed: result.TotalInserted,
			TotalItems:     len(rows),
			Percentage:     percentage(result.TotalInserted, len(rows)),
		})
	}

	return result, nil
}

// batchColumns returns the sorted column set of rows[0] and checks every
// other row against it.
func batchColumns(rows []Row) ([]string, error) {
	columns := sortedKeys(rows[0])
	if len(columns) == 0 {
		return nil, newValidationError("E_MISSING_FIELDS", "items", "item 0 has no columns")
	}
	for _, col := range columns {
		if err := validateIdentifier("column", col); err != nil {
			return nil, err
		}
	}

	for i, row := range rows[1:] {
		for _, col := range columns {
			if _, ok := row[col]; !ok {
				return nil, &ValidationError{
					Code:    "E_MISSING_FIELDS",
					Field:   col,
					Message: fmt.Sprintf("item %d is missing column %q", i+1, col),
					Details: map[string]interface{}{"index": i + 1, "expected": columns},
				}
			}
		}
		if len(row) != len(columns) {
			return nil, &ValidationError{
				Code:    "E_UNEXPECTED_FIELDS",
				Field:   "items",
				Message: fmt.Sprintf("item %d has columns not present in item 0", i+1),
				Details: map[string]interface{}{"index": i + 1, "expected": columns},
			}
		}
	}
	return columns, nil
}

func buildInsert(table string, columns []string, rows []Row) Statement {
	var sb strings.Builder
	params := make([]interface{}, 0, len(columns)*len(rows))

	sb.WriteString("INSERT INTO ")
	sb.WriteString(table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(columns, ", "))
	sb.WriteString(") VALUES ")

	group := "(" + placeholders(len(columns)) + ")"
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(group)
		for _, col := range columns {
			params = append(params, row[col])
		}
	}
	return Statement{Text: sb.String(), Params: params}
}

// BatchOptions configures BatchProcess.
type BatchOptions struct {
	// ChunkSize is the number of items per chunk. Default: 100
	ChunkSize int
	// Concurrency is the number of chunks in flight at once. Default: 1
	Concurrency int
	// OnProgress is called after each window of chunks completes.
	OnProgress func(BatchProgress)
}

// BatchProcess splits items into chunks and runs fn over them in windows of
// at most Concurrency chunks. Progress is reported once per window, with the
// percentage measured in items. The first failing chunk cancels its window
// and stops scheduling; results of the completed windows are returned with
// the error. Results are in chunk order.
//
// c may be nil, in which case no events are emitted.
func BatchProcess[T, R any](ctx context.Context, c *Client, items []T, fn func(ctx context.Context, chunk []T, index int) (R, error), opts BatchOptions) ([]R, error) {
	if len(items) == 0 {
		return nil, newValidationError("E_EMPTY_BATCH", "items", "batch process has no items")
	}
	if fn == nil {
		return nil, newValidationError("E_NIL_PROCESSOR", "fn", "batch process has no processor")
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 100
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	chunks := chunk(items, opts.ChunkSize)
	results := make([]R, len(chunks))
	processed := 0

	for start := 0; start < len(chunks); start += opts.Concurrency {
		if err := ctx.Err(); err != nil {
			return results[:start], err
		}
		end := min(start+opts.Concurrency, len(chunks))

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				r, err := fn(gctx, chunks[i], i)
				if err != nil {
					return fmt.Errorf("chunk %d: %w", i, err)
				}
				results[i] = r
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			if c != nil {
				c.logger.Error("batch process aborted", Int("window_start", start), Error("error", err))
			}
			return results[:start], err
		}

		for i := start; i < end; i++ {
			processed += len(chunks[i])
		}
		progress := BatchProgress{
			CurrentChunk:   end,
			TotalChunks:    len(chunks),
			ItemsProcessed: processed,
			TotalItems:     len(items),
			Percentage:     percentage(processed, len(items)),
		}
		if c != nil {
			c.events.emit(progress)
		}
		if opts.OnProgress != nil {
			opts.OnProgress(progress)
		}
	}

	return results, nil
}

// chunk splits items into consecutive slices of size n; the last may be shorter.
func chunk[T any](items []T, n int) [][]T {
	out := make([][]T, 0, (len(items)+n-1)/n)
	for i := 0; i < len(items); i += n {
		out = append(out, items[i:min(i+n, len(items))])
	}
	return out
}

func percentage(done, total int) float64 {
	if total == 0 {
		return 100
	}
	return float64(done) * 100 / float64(total)
}

func sortedKeys(r Row) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
