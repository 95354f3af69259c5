// Package watchdog is a software task watchdog.
//
// Long-running work registers a task, resets it while making progress and
// deletes it when done. A monitor goroutine reports tasks that have not been
// reset within the timeout. Registration is idempotent so nested callers can
// each try to Add and only the one that succeeded is expected to Delete.
package watchdog

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Option configures a Watchdog.
type Option func(*Watchdog)

// WithLogger sets the logger used to report expired tasks.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watchdog) { w.logger = l }
}

// WithOnExpire registers a callback invoked from Run for every expired task.
func WithOnExpire(fn func(task string)) Option {
	return func(w *Watchdog) { w.onExpire = fn }
}

// WithCheckInterval sets how often Run scans for expired tasks.
// The default is a quarter of the timeout.
func WithCheckInterval(d time.Duration) Option {
	return func(w *Watchdog) { w.interval = d }
}

// Watchdog tracks the last reset time of registered tasks.
type Watchdog struct {
	timeout  time.Duration
	interval time.Duration
	logger   *slog.Logger
	onExpire func(string)
	now      func() time.Time

	mu    sync.Mutex
	tasks map[string]time.Time
}

// New returns a watchdog whose tasks expire after timeout without a Reset.
func New(timeout time.Duration, opts ...Option) *Watchdog {
	w := &Watchdog{
		timeout: timeout,
		logger:  slog.Default(),
		now:     time.Now,
		tasks:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.interval <= 0 {
		w.interval = max(timeout/4, 10*time.Millisecond)
	}
	return w
}

// Timeout returns the configured expiry.
func (w *Watchdog) Timeout() time.Duration {
	if w == nil {
		return 0
	}
	return w.timeout
}

// Add registers task. It reports false, leaving the existing registration
// untouched, when the task is already registered.
func (w *Watchdog) Add(task string) bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.tasks[task]; ok {
		return false
	}
	w.tasks[task] = w.now()
	return true
}

// Delete unregisters task. Unknown tasks are ignored.
func (w *Watchdog) Delete(task string) {
	if w == nil {
		return
	}
	w.mu.Lock()
	delete(w.tasks, task)
	w.mu.Unlock()
}

// Reset marks task as alive. It reports false for unregistered tasks.
func (w *Watchdog) Reset(task string) bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.tasks[task]; !ok {
		return false
	}
	w.tasks[task] = w.now()
	return true
}

// Registered reports whether task is currently registered.
func (w *Watchdog) Registered(task string) bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.tasks[task]
	return ok
}

// Expired returns the sorted names of tasks not reset within the timeout.
func (w *Watchdog) Expired() []string {
	if w == nil {
		return nil
	}
	now := w.now()
	w.mu.Lock()
	var out []string
	for task, last := range w.tasks {
		if now.Sub(last) > w.timeout {
			out = append(out, task)
		}
	}
	w.mu.Unlock()
	slices.Sort(out)
	return out
}

// Run scans for expired tasks until ctx is done. Each expiry is reported
// once; the task's timer restarts so a stuck task is reported again only
// after another full timeout.
func (w *Watchdog) Run(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, task := range w.Expired() {
				w.logger.Warn("watchdog_expired", "task", task, "timeout", w.timeout)
				w.Reset(task)
				if w.onExpire != nil {
					w.onExpire(task)
				}
			}
		}
	}
}

// Feeder resets one task from inside a transfer loop, either after a number
// of bytes or after an elapsed interval, whichever comes first.
type Feeder struct {
	w         *Watchdog
	task      string
	everyByte int64
	every     time.Duration

	pending int64
	last    time.Time
}

// NewFeeder returns a Feeder for task. A zero everyBytes disables the byte
// trigger; a zero every defaults to half the watchdog timeout.
func (w *Watchdog) NewFeeder(task string, everyBytes int64, every time.Duration) *Feeder {
	if every <= 0 && w != nil {
		every = w.timeout / 2
	}
	f := &Feeder{w: w, task: task, everyByte: everyBytes, every: every}
	if w != nil {
		f.last = w.now()
	}
	return f
}

// Feed accounts n transferred bytes and resets the task when due.
// It reports whether a reset happened.
func (f *Feeder) Feed(n int) bool {
	if f == nil || f.w == nil {
		return false
	}
	f.pending += int64(n)
	now := f.w.now()
	due := (f.everyByte > 0 && f.pending >= f.everyByte) ||
		(f.every > 0 && now.Sub(f.last) >= f.every)
	if !due {
		return false
	}
	f.pending = 0
	f.last = now
	f.w.Reset(f.task)
	return true
}
