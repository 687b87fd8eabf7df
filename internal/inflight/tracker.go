// Package inflight tracks items whose optimistic mutation has not yet
// been confirmed by the remote store.
package inflight

import (
	"sort"
	"sync"
	"time"

	"cadence/api/internal/clock"
)

// DefaultTTL bounds how long an entry survives if the code path that
// clears it never runs.
const DefaultTTL = 500 * time.Millisecond

type entry struct {
	expiresAt  time.Time
	generation uint64
	timer      *clock.Timer
}

// Tracker is the arbiter between the mutation pipeline and the remote
// listener: while an item is in flight, snapshot merges leave it alone.
type Tracker struct {
	clock clock.Clock
	ttl   time.Duration

	mu         sync.Mutex
	entries    map[string]*entry
	generation uint64
	observers  []func()
}

func New(clk clock.Clock, ttl time.Duration) *Tracker {
	if clk == nil {
		clk = clock.Real()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		clock:   clk,
		ttl:     ttl,
		entries: make(map[string]*entry),
	}
}

// Mark adds itemID or refreshes its expiry.
func (t *Tracker) Mark(itemID string) {
	t.mu.Lock()
	t.generation++
	generation := t.generation
	previous := t.entries[itemID]
	t.entries[itemID] = &entry{
		expiresAt:  t.clock.Now().Add(t.ttl),
		generation: generation,
	}
	t.mu.Unlock()

	if previous != nil {
		previous.timer.Stop()
	}
	timer := t.clock.AfterFunc(t.ttl, func() { t.expire(itemID, generation) })

	t.mu.Lock()
	if current, ok := t.entries[itemID]; ok && current.generation == generation {
		current.timer = timer
	} else {
		timer.Stop()
	}
	t.mu.Unlock()

	if previous == nil {
		t.notify()
	}
}

// Clear removes itemID. Clearing an unknown id is a no-op.
func (t *Tracker) Clear(itemID string) {
	t.mu.Lock()
	current, ok := t.entries[itemID]
	if ok {
		delete(t.entries, itemID)
	}
	t.mu.Unlock()

	if !ok {
		return
	}
	current.timer.Stop()
	t.notify()
}

func (t *Tracker) expire(itemID string, generation uint64) {
	t.mu.Lock()
	current, ok := t.entries[itemID]
	if !ok || current.generation != generation {
		t.mu.Unlock()
		return
	}
	delete(t.entries, itemID)
	t.mu.Unlock()
	t.notify()
}

// IsInFlight reports whether itemID has a live entry. An entry past its
// deadline counts as released even if its timer has not run yet.
func (t *Tracker) IsInFlight(itemID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	current, ok := t.entries[itemID]
	if !ok {
		return false
	}
	return t.clock.Now().Before(current.expiresAt)
}

// Any reports whether at least one item is in flight.
func (t *Tracker) Any() bool {
	return len(t.IDs()) > 0
}

// IDs returns the live in-flight ids, sorted.
func (t *Tracker) IDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	ids := make([]string, 0, len(t.entries))
	for id, current := range t.entries {
		if now.Before(current.expiresAt) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (t *Tracker) Len() int {
	return len(t.IDs())
}

// OnChange registers fn to run after an entry is added or removed. fn
// runs outside the tracker lock and may call back into the tracker.
func (t *Tracker) OnChange(fn func()) {
	t.mu.Lock()
	t.observers = append(t.observers, fn)
	t.mu.Unlock()
}

func (t *Tracker) notify() {
	t.mu.Lock()
	observers := append([]func(){}, t.observers...)
	t.mu.Unlock()
	for _, fn := range observers {
		fn()
	}
}
