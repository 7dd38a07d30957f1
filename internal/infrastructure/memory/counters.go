package memory

import (
	"context"
	"sync"
	"time"

	"github.com/go-trustgate/internal/pkg/clock"
)

type window struct {
	count int64
	end   time.Time
}

// CounterTable is a process-local fixed-window counter table. It backs the
// rate limiter when the shared store cannot be reached.
type CounterTable struct {
	mu      sync.Mutex
	clock   clock.Clock
	windows map[string]*window
}

func NewCounterTable(c clock.Clock) *CounterTable {
	if c == nil {
		c = clock.System
	}
	return &CounterTable{clock: c, windows: make(map[string]*window)}
}

// Increment adds one to key's counter and returns the new value. The first
// call in a window starts it; later calls never move the window end.
func (t *CounterTable) Increment(key string, ttl time.Duration) int64 {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.windows[key]
	if !ok || !now.Before(w.end) {
		t.windows[key] = &window{count: 1, end: now.Add(ttl)}
		return 1
	}
	w.count++
	return w.count
}

// Sweep drops every window that has ended and reports how many were removed.
func (t *CounterTable) Sweep() int {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for k, w := range t.windows {
		if !now.Before(w.end) {
			delete(t.windows, k)
			n++
		}
	}
	return n
}

func (t *CounterTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.windows)
}

// Run sweeps on every tick until ctx is done.
func (t *CounterTable) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}
