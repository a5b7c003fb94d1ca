// Package fanout runs independent operations concurrently in bounded
// chunks and collects a result or an error for every one of them.
//
// A chunk is started in full and then waited on; the next chunk starts
// only after every operation in the previous one has returned. One
// failure never cancels its siblings.
package fanout

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultChunkSize bounds in-flight operations when callers pass <= 0.
const DefaultChunkSize = 30

// Result is the settled outcome of one operation.
type Result[T, R any] struct {
	Input T
	Value R
	Err   error
}

// OK reports whether the operation succeeded.
func (r Result[T, R]) OK() bool {
	return r.Err == nil
}

// Chunks splits items into consecutive groups of at most size.
func Chunks[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}

// Settle applies fn to every item, chunkSize at a time, and returns one
// Result per item in input order.
//
// The group is created without a derived context, so a failing operation
// does not cancel the rest. Cancelling ctx is the only way to stop work
// early; items of chunks not yet started then settle with ctx.Err().
func Settle[T, R any](ctx context.Context, items []T, chunkSize int, fn func(context.Context, T) (R, error)) []Result[T, R] {
	results := make([]Result[T, R], len(items))
	offset := 0
	for _, chunk := range Chunks(items, chunkSize) {
		if err := ctx.Err(); err != nil {
			for i, item := range chunk {
				results[offset+i] = Result[T, R]{Input: item, Err: err}
			}
			offset += len(chunk)
			continue
		}

		var g errgroup.Group
		for i, item := range chunk {
			slot := &results[offset+i]
			g.Go(func() error {
				value, err := fn(ctx, item)
				*slot = Result[T, R]{Input: item, Value: value, Err: err}
				return nil
			})
		}
		_ = g.Wait()
		offset += len(chunk)
	}
	return results
}

// Successes returns the values of successful results, in input order.
func Successes[T, R any](results []Result[T, R]) []R {
	var out []R
	for _, r := range results {
		if r.OK() {
			out = append(out, r.Value)
		}
	}
	return out
}
