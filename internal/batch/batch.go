// Package batch pages through a data source in fixed-size slices.
package batch

import (
	"context"
	"fmt"
)

// DefaultSize bounds memory and pool contention per dispatch.
const DefaultSize = 400

// FetchFunc reads one page from the backing store. It is called with
// offset advancing by limit until it returns an empty slice. Each call is a
// fresh read, so concurrent writers that only append rows with larger keys
// are tolerated.
type FetchFunc[T any] func(ctx context.Context, offset, limit int) ([]T, error)

// HandleFunc consumes one fetched page.
type HandleFunc[T any] func(ctx context.Context, items []T) error

// Process drains the source page by page until exhaustion.
func Process[T any](ctx context.Context, size int, fetch FetchFunc[T], handle HandleFunc[T]) error {
	if size <= 0 {
		size = DefaultSize
	}
	for offset := 0; ; offset += size {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("batch canceled: %w", err)
		}
		items, err := fetch(ctx, offset, size)
		if err != nil {
			return fmt.Errorf("fetch batch at offset %d: %w", offset, err)
		}
		if len(items) == 0 {
			return nil
		}
		if err := handle(ctx, items); err != nil {
			return fmt.Errorf("handle batch at offset %d: %w", offset, err)
		}
	}
}

// KeysetFetchFunc reads one page of rows whose key is greater than after,
// in ascending key order.
type KeysetFetchFunc[T any] func(ctx context.Context, after int64, limit int) ([]T, error)

// ProcessKeyset drains the source by ascending key instead of offset. Use
// it when the handler removes rows from the result set: with offsets the
// remaining rows would shift below the cursor and a stripe of them would be
// skipped; a key cursor never moves past an unseen row.
func ProcessKeyset[T any](ctx context.Context, size int, fetch KeysetFetchFunc[T], key func(T) int64, handle HandleFunc[T]) error {
	if size <= 0 {
		size = DefaultSize
	}
	var after int64
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("batch canceled: %w", err)
		}
		items, err := fetch(ctx, after, size)
		if err != nil {
			return fmt.Errorf("fetch batch after id %d: %w", after, err)
		}
		if len(items) == 0 {
			return nil
		}
		after = key(items[len(items)-1])
		if err := handle(ctx, items); err != nil {
			return fmt.Errorf("handle batch through id %d: %w", after, err)
		}
	}
}
