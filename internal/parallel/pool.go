// Package parallel runs data-parallel loops over index ranges with a
// barrier at the end of each loop.
package parallel

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// minChunk is the smallest range handed to a goroutine; shorter loops run
// inline.
const minChunk = 64

// Pool runs loops on up to Workers goroutines.
type Pool struct {
	workers int
}

// New returns a pool with the given worker count. Non-positive values
// select GOMAXPROCS.
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{workers: workers}
}

// Serial is a single-worker pool.
var Serial = &Pool{workers: 1}

// Workers returns the maximum number of concurrent goroutines. Per-worker
// scratch buffers passed to ForWorker must have at least this many slots.
func (p *Pool) Workers() int {
	if p == nil {
		return 1
	}
	return p.workers
}

// For splits [0, n) into contiguous chunks and calls fn(lo, hi) for each,
// returning once every chunk has finished.
func (p *Pool) For(n int, fn func(lo, hi int)) {
	p.ForWorker(n, func(_, lo, hi int) { fn(lo, hi) })
}

// ForWorker is like For but also passes the chunk's worker slot in
// [0, Workers()). No two concurrently running chunks share a slot, so fn
// may write to per-slot buffers without locking.
func (p *Pool) ForWorker(n int, fn func(worker, lo, hi int)) {
	if n <= 0 {
		return
	}
	chunks := p.chunks(n)
	if chunks == 1 {
		fn(0, 0, n)
		return
	}

	var g errgroup.Group
	g.SetLimit(chunks)
	size := (n + chunks - 1) / chunks
	for w := 0; w < chunks; w++ {
		lo := w * size
		if lo >= n {
			break
		}
		hi := min(lo+size, n)
		g.Go(func() error {
			fn(w, lo, hi)
			return nil
		})
	}
	_ = g.Wait()
}

// ForErr runs fn over [0, n) in chunks and returns the first error. The
// remaining chunks still run to completion.
func (p *Pool) ForErr(n int, fn func(lo, hi int) error) error {
	if n <= 0 {
		return nil
	}
	chunks := p.chunks(n)
	if chunks == 1 {
		return fn(0, n)
	}
	var g errgroup.Group
	g.SetLimit(chunks)
	size := (n + chunks - 1) / chunks
	for lo := 0; lo < n; lo += size {
		hi := min(lo+size, n)
		g.Go(func() error { return fn(lo, hi) })
	}
	return g.Wait()
}

func (p *Pool) chunks(n int) int {
	w := p.Workers()
	if w <= 1 || n < 2*minChunk {
		return 1
	}
	return min(w, (n+minChunk-1)/minChunk)
}
