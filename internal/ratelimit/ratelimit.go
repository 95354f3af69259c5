// Package ratelimit paces byte streams with a token bucket.
//
// The relay uses it to cap the bandwidth of a single download and the
// bundled FTP server uses it for per-session and global transfer limits.
// All waits observe a context so a cancelled request stops sleeping at once.
package ratelimit

import (
	"context"
	"io"
	"sync"
	"time"
)

// maxWait bounds a single sleep so callers stay responsive to large requests.
const maxWait = time.Second

// Limiter is a token bucket measured in bytes. A nil *Limiter never waits.
type Limiter struct {
	mu     sync.Mutex
	rate   float64 // bytes per second
	burst  float64
	tokens float64
	last   time.Time
}

// New returns a limiter allowing bytesPerSecond with a burst of one second
// worth of data. A non-positive rate means unlimited and returns nil.
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	rate := float64(bytesPerSecond)
	return &Limiter{
		rate:   rate,
		burst:  rate,
		tokens: rate,
		last:   time.Now(),
	}
}

// Rate returns the configured rate in bytes per second, 0 for a nil limiter.
func (l *Limiter) Rate() int64 {
	if l == nil {
		return 0
	}
	return int64(l.rate)
}

// refill must be called with mu held.
func (l *Limiter) refill(now time.Time) {
	l.tokens += now.Sub(l.last).Seconds() * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.last = now
}

// reserve takes n tokens if available and otherwise reports how long to
// wait before trying again.
func (l *Limiter) reserve(n int) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill(time.Now())
	need := float64(n)
	if l.tokens >= need {
		l.tokens -= need
		return 0
	}
	wait := time.Duration((need - l.tokens) / l.rate * float64(time.Second))
	return min(wait, maxWait)
}

// Wait blocks until n bytes may pass or ctx is done.
//
// Requests larger than the burst are granted after at most one maxWait sleep
// with the bucket drained, so the long-run rate still holds.
func (l *Limiter) Wait(ctx context.Context, n int) error {
	if l == nil || n <= 0 {
		return nil
	}
	wait := l.reserve(n)
	if wait == 0 {
		return nil
	}

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}

	l.mu.Lock()
	l.refill(time.Now())
	if need := float64(n); l.tokens >= need {
		l.tokens -= need
	} else {
		l.tokens = 0
	}
	l.mu.Unlock()
	return nil
}

const (
	readChunk  = 8 * 1024
	writeChunk = 64 * 1024
)

type reader struct {
	ctx context.Context
	r   io.Reader
	l   *Limiter
}

// NewReader returns r paced by l. A nil limiter returns r unchanged.
func NewReader(ctx context.Context, r io.Reader, l *Limiter) io.Reader {
	if l == nil {
		return r
	}
	return &reader{ctx: ctx, r: r, l: l}
}

func (r *reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(p) > readChunk {
		p = p[:readChunk]
	}
	if err := r.l.Wait(r.ctx, len(p)); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

type writer struct {
	ctx context.Context
	w   io.Writer
	l   *Limiter
}

// NewWriter returns w paced by l. A nil limiter returns w unchanged.
func NewWriter(ctx context.Context, w io.Writer, l *Limiter) io.Writer {
	if l == nil {
		return w
	}
	return &writer{ctx: ctx, w: w, l: l}
}

func (w *writer) Write(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		chunk := min(len(p)-total, writeChunk)
		if err := w.l.Wait(w.ctx, chunk); err != nil {
			return total, err
		}
		n, err := w.w.Write(p[total : total+chunk])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
