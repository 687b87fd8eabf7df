// Package state holds the single mutable item collection of a board.
// Only the mutation pipeline and the remote listener write to it.
package state

import (
	"errors"
	"sync"

	"cadence/api/internal/item"
	"cadence/api/internal/slots"
)

// Source tags the writer of a change.
type Source string

const (
	SourceLocal    Source = "local"
	SourceRemote   Source = "remote"
	SourceRollback Source = "rollback"
)

var (
	ErrNotFound = errors.New("item not found")
	ErrExists   = errors.New("item already exists")
)

// Change is delivered to watchers after every committed mutation.
type Change struct {
	Version uint64
	IDs     []string
	Source  Source
}

// MergeStats summarises one snapshot merge.
type MergeStats struct {
	Applied int
	Skipped int
	Removed int
}

// Store is the local, insertion-ordered item collection.
type Store struct {
	mu       sync.RWMutex
	items    map[string]item.Item
	order    []string
	version  uint64
	index    slots.Index
	indexVer uint64
	indexed  bool

	watchMu  sync.Mutex
	watchers map[int]func(Change)
	nextID   int
}

func New() *Store {
	return &Store{
		items:    make(map[string]item.Item),
		watchers: make(map[int]func(Change)),
	}
}

func (s *Store) Get(id string) (item.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if !ok {
		return item.Item{}, false
	}
	return it.Clone(), true
}

// Items returns a copy of every item in insertion order.
func (s *Store) Items() []item.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.itemsLocked()
}

func (s *Store) itemsLocked() []item.Item {
	out := make([]item.Item, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id].Clone())
	}
	return out
}

func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Slots returns the slot index for the current version.
func (s *Store) Slots() slots.Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slotsLocked()
}

func (s *Store) slotsLocked() slots.Index {
	if !s.indexed || s.indexVer != s.version {
		s.index = slots.Build(s.itemsLocked())
		s.indexVer = s.version
		s.indexed = true
	}
	return s.index
}

// Apply atomically replaces item id with fn's result. fn sees the
// current item and slot index; returning an error aborts the change.
// Returning the current item unchanged is treated as a no-op.
func (s *Store) Apply(id string, source Source, fn func(current item.Item, index slots.Index) (item.Item, error)) (prev, next item.Item, err error) {
	s.mu.Lock()
	current, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return item.Item{}, item.Item{}, ErrNotFound
	}
	next, err = fn(current.Clone(), s.slotsLocked())
	if err != nil {
		s.mu.Unlock()
		return current, current, err
	}
	next.ID = id
	next = next.Normalized()
	if equal(current, next) {
		s.mu.Unlock()
		return current, current, nil
	}
	s.items[id] = next
	s.version++
	change := Change{Version: s.version, IDs: []string{id}, Source: source}
	s.mu.Unlock()

	s.emit(change)
	return current, next, nil
}

// Insert adds a new item. check may veto it against the current index.
func (s *Store) Insert(it item.Item, source Source, check func(index slots.Index) error) error {
	it = it.Normalized()
	s.mu.Lock()
	if _, exists := s.items[it.ID]; exists {
		s.mu.Unlock()
		return ErrExists
	}
	if check != nil {
		if err := check(s.slotsLocked()); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.items[it.ID] = it
	s.order = append(s.order, it.ID)
	s.version++
	change := Change{Version: s.version, IDs: []string{it.ID}, Source: source}
	s.mu.Unlock()

	s.emit(change)
	return nil
}

// Delete removes id. It reports whether the item existed.
func (s *Store) Delete(id string, source Source) bool {
	s.mu.Lock()
	if _, ok := s.items[id]; !ok {
		s.mu.Unlock()
		return false
	}
	s.deleteLocked(id)
	s.version++
	change := Change{Version: s.version, IDs: []string{id}, Source: source}
	s.mu.Unlock()

	s.emit(change)
	return true
}

func (s *Store) deleteLocked(id string) {
	delete(s.items, id)
	for i, candidate := range s.order {
		if candidate == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Merge reconciles the store with a full remote partition. Items for
// which skip returns true keep their local value and are neither
// replaced nor removed.
func (s *Store) Merge(remote []item.Item, skip func(id string) bool) MergeStats {
	if skip == nil {
		skip = func(string) bool { return false }
	}
	var stats MergeStats
	var changed []string

	s.mu.Lock()
	seen := make(map[string]struct{}, len(remote))
	for _, incoming := range remote {
		seen[incoming.ID] = struct{}{}
		if skip(incoming.ID) {
			stats.Skipped++
			continue
		}
		incoming = incoming.Normalized()
		current, exists := s.items[incoming.ID]
		if exists && equal(current, incoming) {
			continue
		}
		if !exists {
			s.order = append(s.order, incoming.ID)
		}
		s.items[incoming.ID] = incoming
		stats.Applied++
		changed = append(changed, incoming.ID)
	}
	for _, id := range append([]string(nil), s.order...) {
		if _, ok := seen[id]; ok {
			continue
		}
		if skip(id) {
			stats.Skipped++
			continue
		}
		s.deleteLocked(id)
		stats.Removed++
		changed = append(changed, id)
	}
	var change Change
	if len(changed) > 0 {
		s.version++
		change = Change{Version: s.version, IDs: changed, Source: SourceRemote}
	}
	s.mu.Unlock()

	if len(changed) > 0 {
		s.emit(change)
	}
	return stats
}

// Watch registers fn for every change. The returned func unregisters it.
func (s *Store) Watch(fn func(Change)) func() {
	s.watchMu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.watchMu.Unlock()
	return func() {
		s.watchMu.Lock()
		delete(s.watchers, id)
		s.watchMu.Unlock()
	}
}

func (s *Store) emit(change Change) {
	s.watchMu.Lock()
	fns := make([]func(Change), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.watchMu.Unlock()
	for _, fn := range fns {
		fn(change)
	}
}

func equal(a, b item.Item) bool {
	if a.ID != b.ID || a.URL != b.URL || a.Title != b.Title || a.Label != b.Label ||
		a.Caption != b.Caption || a.ContentType != b.ContentType || a.Location != b.Location ||
		!a.LastMoved.Equal(b.LastMoved) || !a.UploadedAt.Equal(b.UploadedAt) ||
		len(a.Comments) != len(b.Comments) || len(a.Attachments) != len(b.Attachments) {
		return false
	}
	for i := range a.Comments {
		ca, cb := a.Comments[i], b.Comments[i]
		if ca.ID != cb.ID || ca.Author != cb.Author || ca.Text != cb.Text || !ca.CreatedAt.Equal(cb.CreatedAt) {
			return false
		}
	}
	for i := range a.Attachments {
		if a.Attachments[i] != b.Attachments[i] {
			return false
		}
	}
	return true
}
