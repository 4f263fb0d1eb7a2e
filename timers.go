package main

import (
	"sync"
	"time"
)

// evictionTable holds the pending delayed-removal timers, keyed by the
// connection identity at disconnect time. Scheduling for an identity that
// already has a pending eviction replaces it, so rapid reconnect/disconnect
// cycles never stack duplicate evictions for one seat.
//
// The race between a rejoin cancelling a timer and the timer firing resolves
// to at most one outcome: a fired timer must still own its table entry
// before its callback runs, and cancellation removes the entry first.
type evictionTable struct {
	mu      sync.Mutex
	pending map[string]*time.Timer
}

func newEvictionTable() *evictionTable {
	return &evictionTable{
		pending: make(map[string]*time.Timer),
	}
}

func (t *evictionTable) schedule(id string, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.pending[id]; ok {
		old.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		current, ok := t.pending[id]
		if !ok || current != timer {
			t.mu.Unlock()
			return
		}
		delete(t.pending, id)
		t.mu.Unlock()

		fn()
	})

	t.pending[id] = timer
}

// cancel stops and removes the pending eviction for id, reporting whether
// one existed.
func (t *evictionTable) cancel(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	timer, ok := t.pending[id]
	if !ok {
		return false
	}

	timer.Stop()
	delete(t.pending, id)

	return true
}

func (t *evictionTable) pendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.pending)
}
