// Package bufpool hands out transfer buffers against a fixed memory budget.
//
// Each relay request needs a staging buffer for its ring. On a constrained
// host the sum of those buffers is capped; when the budget is spent, Acquire
// fails immediately with ErrExhausted instead of queueing the request.
package bufpool

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrExhausted is returned when the budget cannot cover a request.
var ErrExhausted = errors.New("bufpool: memory budget exhausted")

// Pool tracks outstanding buffer bytes against a budget.
type Pool struct {
	total int64
	sem   *semaphore.Weighted
	free  sync.Map // int -> *sync.Pool, keyed by buffer size
}

// New returns a pool with a budget of total bytes.
func New(total int64) (*Pool, error) {
	if total <= 0 {
		return nil, fmt.Errorf("bufpool: budget must be positive, got %d", total)
	}
	return &Pool{total: total, sem: semaphore.NewWeighted(total)}, nil
}

// Budget returns the configured budget in bytes.
func (p *Pool) Budget() int64 { return p.total }

// Acquire reserves size bytes and returns a buffer of exactly that length.
// It never blocks.
func (p *Pool) Acquire(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("bufpool: invalid size %d", size)
	}
	if int64(size) > p.total || !p.sem.TryAcquire(int64(size)) {
		return nil, ErrExhausted
	}

	sp, _ := p.free.LoadOrStore(size, &sync.Pool{})
	var b []byte
	if v := sp.(*sync.Pool).Get(); v != nil {
		b = *(v.(*[]byte))
	} else {
		b = make([]byte, size)
	}
	return &Buffer{pool: p, B: b}, nil
}

// Buffer is a leased byte slice. B must not be used after Release.
type Buffer struct {
	B    []byte
	pool *Pool
	once sync.Once
}

// Release returns the bytes to the budget. Calling it more than once is a no-op.
func (b *Buffer) Release() {
	if b == nil {
		return
	}
	b.once.Do(func() {
		size := len(b.B)
		if sp, ok := b.pool.free.Load(size); ok {
			buf := b.B
			sp.(*sync.Pool).Put(&buf)
		}
		b.B = nil
		b.pool.sem.Release(int64(size))
	})
}
