package memory

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/go-trustgate/internal/pkg/clock"
)

type expiry struct {
	key string
	at  time.Time
}

// expiryQueue is a min-heap ordered by expiry instant.
type expiryQueue []expiry

func (q expiryQueue) Len() int           { return len(q) }
func (q expiryQueue) Less(i, j int) bool { return q[i].at.Before(q[j].at) }
func (q expiryQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *expiryQueue) Push(x any)        { *q = append(*q, x.(expiry)) }
func (q *expiryQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}

// compactSlack is how many stale queue items are tolerated beyond the live
// entries before the queue is rebuilt.
const compactSlack = 64

// MarkerTable is a process-local set of keys with individual expiry instants.
//
// Every Set pushes the key's expiry onto a time-ordered queue; Run wakes at the
// earliest queued instant and evicts what is due. Has never trusts eviction
// alone: an entry read past its expiry is reported absent and removed on the spot.
//
// Overwritten and deleted keys leave their old queue items behind. Once those
// outnumber the live entries the queue is rebuilt from the entries.
type MarkerTable struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]time.Time
	queue   expiryQueue
	wake    chan struct{}
}

func NewMarkerTable(c clock.Clock) *MarkerTable {
	if c == nil {
		c = clock.System
	}
	return &MarkerTable{
		clock:   c,
		entries: make(map[string]time.Time),
		wake:    make(chan struct{}, 1),
	}
}

func (t *MarkerTable) Set(key string, ttl time.Duration) {
	at := t.clock.Now().Add(ttl)

	t.mu.Lock()
	t.entries[key] = at
	heap.Push(&t.queue, expiry{key: key, at: at})
	t.compactLocked()
	earliest := t.queue[0].at.Equal(at)
	t.mu.Unlock()

	if earliest {
		select {
		case t.wake <- struct{}{}:
		default:
		}
	}
}

func (t *MarkerTable) Has(key string) bool {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.entries[key]
	if !ok {
		return false
	}
	if !now.Before(at) {
		delete(t.entries, key)
		return false
	}
	return true
}

func (t *MarkerTable) Delete(key string) {
	t.mu.Lock()
	delete(t.entries, key)
	t.compactLocked()
	t.mu.Unlock()
}

func (t *MarkerTable) compactLocked() {
	if t.queue.Len() <= 2*len(t.entries)+compactSlack {
		return
	}
	q := make(expiryQueue, 0, len(t.entries))
	for k, at := range t.entries {
		q = append(q, expiry{key: k, at: at})
	}
	heap.Init(&q)
	t.queue = q
}

// Sweep evicts every entry whose expiry has passed and returns the count.
// Queue items left behind by an overwritten Set are discarded without
// touching the newer entry.
func (t *MarkerTable) Sweep() int {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for t.queue.Len() > 0 && !now.Before(t.queue[0].at) {
		it := heap.Pop(&t.queue).(expiry)
		if at, ok := t.entries[it.key]; ok && at.Equal(it.at) {
			delete(t.entries, it.key)
			n++
		}
	}
	return n
}

func (t *MarkerTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// next returns how long until the earliest queued expiry, or false if the
// queue is empty.
func (t *MarkerTable) next() (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.queue.Len() == 0 {
		return 0, false
	}
	return t.queue[0].at.Sub(t.clock.Now()), true
}

// Run evicts entries at their expiry instants until ctx is done.
func (t *MarkerTable) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		t.Sweep()
		wait, ok := t.next()
		if !ok {
			wait = time.Hour
		}
		if wait < 0 {
			wait = 0
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-t.wake:
		case <-timer.C:
		}
	}
}
