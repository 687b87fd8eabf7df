package remote

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

type memoryDoc struct {
	partitions map[string]Entries
	versions   map[string]int64
	fields     map[string]any
}

// MemoryStore is an in-process DocumentStore. It backs single-node
// development setups and tests.
type MemoryStore struct {
	mu     sync.Mutex
	docs   map[string]*memoryDoc
	subs   map[string]map[int]chan struct{}
	nextID int
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]*memoryDoc),
		subs: make(map[string]map[int]chan struct{}),
	}
}

func (m *MemoryStore) docLocked(name string) *memoryDoc {
	doc, ok := m.docs[name]
	if !ok {
		doc = &memoryDoc{
			partitions: make(map[string]Entries),
			versions:   make(map[string]int64),
			fields:     make(map[string]any),
		}
		m.docs[name] = doc
	}
	return doc
}

func (m *MemoryStore) Read(ctx context.Context, path Path) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Snapshot{}, ErrClosed
	}
	return m.snapshotLocked(path), nil
}

func (m *MemoryStore) snapshotLocked(path Path) Snapshot {
	doc := m.docLocked(path.Document())
	return Snapshot{
		Path:    path,
		Entries: doc.partitions[path.Field()].Clone(),
		Version: doc.versions[path.Field()],
		ReadAt:  time.Now(),
	}
}

func (m *MemoryStore) Write(ctx context.Context, path Path, entries Entries) error {
	return m.Update(ctx, path, func(Entries) (Entries, error) { return entries, nil })
}

// Update runs fn under the store lock, so it never conflicts.
func (m *MemoryStore) Update(ctx context.Context, path Path, fn func(Entries) (Entries, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	doc := m.docLocked(path.Document())
	next, err := fn(doc.partitions[path.Field()].Clone())
	if err != nil {
		m.mu.Unlock()
		return err
	}
	doc.partitions[path.Field()] = next.Clone()
	doc.versions[path.Field()]++
	m.mu.Unlock()

	m.publish(path.Document(), path.Field())
	return nil
}

func (m *MemoryStore) UpdateFields(ctx context.Context, document string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	doc := m.docLocked(document)
	for field, value := range fields {
		if strings.HasPrefix(field, "imageMetadata.") {
			m.mu.Unlock()
			return fmt.Errorf("remote: %s is a partition, not a scalar field", field)
		}
		doc.fields[field] = value
	}
	m.mu.Unlock()

	for field := range fields {
		m.publish(document, field)
	}
	return nil
}

// Field returns a scalar field previously set with UpdateFields.
func (m *MemoryStore) Field(document, field string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.docLocked(document).fields[field]
	return value, ok
}

func (m *MemoryStore) Subscribe(ctx context.Context, path Path) (<-chan Snapshot, error) {
	key := path.Document() + "#" + path.Field()
	notify := make(chan struct{}, 1)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if m.subs[key] == nil {
		m.subs[key] = make(map[int]chan struct{})
	}
	id := m.nextID
	m.nextID++
	m.subs[key][id] = notify
	initial := m.snapshotLocked(path)
	m.mu.Unlock()

	out := make(chan Snapshot)
	go func() {
		defer close(out)
		defer func() {
			m.mu.Lock()
			delete(m.subs[key], id)
			m.mu.Unlock()
		}()

		select {
		case out <- initial:
		case <-ctx.Done():
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-notify:
				if !ok {
					return
				}
				snap, err := m.Read(ctx, path)
				if err != nil {
					return
				}
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (m *MemoryStore) publish(document, field string) {
	key := document + "#" + field
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, notify := range m.subs[key] {
		select {
		case notify <- struct{}{}:
		default:
			// A notification is already pending; the subscriber re-reads
			// the latest state anyway.
		}
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return ctx.Err()
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, subs := range m.subs {
		for id, notify := range subs {
			close(notify)
			delete(subs, id)
		}
	}
	return nil
}
