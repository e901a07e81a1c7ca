// ABOUTME: Time-windowed, size-bounded set of seen keys with insertion-order eviction
// ABOUTME: Expired keys are swept lazily on insert; no background goroutine

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type seenKey struct {
	key    string
	seenAt time.Time
}

// Window tracks keys seen within the last ttl, holding at most maxSize.
type Window struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	order   *list.List // oldest at front
	index   map[string]*list.Element
	now     func() time.Time
}

// Option configures a Window.
type Option func(*Window)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Window) { w.now = now }
}

// New creates a Window. A non-positive maxSize means 1024.
func New(ttl time.Duration, maxSize int, opts ...Option) *Window {
	if maxSize <= 0 {
		maxSize = 1024
	}
	w := &Window{
		ttl:     ttl,
		maxSize: maxSize,
		order:   list.New(),
		index:   make(map[string]*list.Element),
		now:     time.Now,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// First records key and reports whether this is its first sighting within
// the window. The empty key is never deduplicated.
func (w *Window) First(key string) bool {
	if key == "" {
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.sweepLocked(now)

	if _, ok := w.index[key]; ok {
		return false
	}
	for w.order.Len() >= w.maxSize {
		w.removeLocked(w.order.Front())
	}
	w.index[key] = w.order.PushBack(seenKey{key: key, seenAt: now})
	return true
}

// Len returns how many keys are currently remembered.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sweepLocked(w.now())
	return w.order.Len()
}

// sweepLocked drops expired keys from the front. Keys are inserted in time
// order, so the first unexpired key ends the sweep.
func (w *Window) sweepLocked(now time.Time) {
	for e := w.order.Front(); e != nil; e = w.order.Front() {
		if now.Sub(e.Value.(seenKey).seenAt) < w.ttl {
			return
		}
		w.removeLocked(e)
	}
}

func (w *Window) removeLocked(e *list.Element) {
	w.order.Remove(e)
	delete(w.index, e.Value.(seenKey).key)
}
