// Package dispatch executes a batch of independent work items across a
// bounded set of goroutines.
package dispatch

import (
	"context"
	"sync"
)

// Defaults for pool sizing.
const (
	DefaultThreads = 8
	// DefaultMinItemsPerThread is the load threshold below which spawning
	// workers costs more than it saves; small batches run inline.
	DefaultMinItemsPerThread = 5
)

// Config controls pool sizing and the inline-execution threshold.
type Config struct {
	Threads           int
	MinItemsPerThread int
}

func (c Config) withDefaults() Config {
	if c.Threads <= 0 {
		c.Threads = DefaultThreads
	}
	if c.MinItemsPerThread <= 0 {
		c.MinItemsPerThread = DefaultMinItemsPerThread
	}
	return c
}

// singleThreaded reports whether the batch is too small to justify workers.
func singleThreaded(n int, cfg Config) bool {
	return n/cfg.Threads < cfg.MinItemsPerThread
}

// Run processes every item exactly once and returns after all of them have
// been handled (join semantics). Processing order across workers is
// unspecified. The process function is responsible for catching and
// classifying its own failures; the pool neither retries nor aborts.
func Run[T any](ctx context.Context, cfg Config, items []T, process func(ctx context.Context, item T)) {
	if len(items) == 0 {
		return
	}
	cfg = cfg.withDefaults()

	if singleThreaded(len(items), cfg) {
		for _, item := range items {
			process(ctx, item)
		}
		return
	}

	queue := make(chan T, len(items))
	for _, item := range items {
		queue <- item
	}
	close(queue)

	var wg sync.WaitGroup
	wg.Add(cfg.Threads)
	for i := 0; i < cfg.Threads; i++ {
		go func() {
			defer wg.Done()
			// pop-if-nonempty, else stop: the channel is pre-filled
			// and closed, so range drains and exits.
			for item := range queue {
				process(ctx, item)
			}
		}()
	}
	wg.Wait()
}
