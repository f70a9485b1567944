// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package segment

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/semaphore"
)

// Result is the outcome of one pooled Open.
type Result struct {
	Data    []byte
	Outcome Outcome
	Fault   error
	Took    time.Duration
}

// Pool runs Open on a bounded number of background workers so decryption
// stays off latency-sensitive goroutines.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool returns a pool allowing workers concurrent decodes. Zero or less
// selects GOMAXPROCS.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{sem: semaphore.NewWeighted(int64(workers))}
}

// Open decodes buf on a worker. It returns early with ctx.Err() when the
// caller goes away; the worker itself always finishes in time linear in
// len(buf) and its result is discarded.
func (p *Pool) Open(ctx context.Context, buf []byte) (Result, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return Result{}, err
	}

	done := make(chan Result, 1)
	go func() {
		defer p.sem.Release(1)
		start := time.Now()
		out, outcome, fault := Open(buf)
		done <- Result{Data: out, Outcome: outcome, Fault: fault, Took: time.Since(start)}
	}()

	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
