// Package pipeline applies item mutations optimistically: the local
// store changes at once, the partition write happens in the background,
// and a failed write rolls the local change back.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cadence/api/internal/clock"
	cerrors "cadence/api/internal/errors"
	"cadence/api/internal/inflight"
	"cadence/api/internal/item"
	"cadence/api/internal/remote"
	"cadence/api/internal/slots"
	"cadence/api/internal/state"
)

const (
	DefaultMaxAttempts    = 3
	DefaultBaseBackoff    = 200 * time.Millisecond
	DefaultMaxBackoff     = 2 * time.Second
	DefaultAttemptTimeout = 5 * time.Second
	sideEffectTimeout     = 10 * time.Second
)

var ErrClosed = errors.New("pipeline: closed")

var (
	errNoop       = errors.New("already at target")
	errSuperseded = errors.New("superseded by a newer mutation")
)

type Config struct {
	Path     remote.Path
	Capacity int

	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration
	// BatchWindow coalesces mutations submitted within the window into a
	// single partition write. Zero writes every mutation immediately.
	BatchWindow time.Duration

	// Actor is recorded on activity entries.
	Actor    string
	Recorder Recorder
	Notifier Notifier
	Clock    clock.Clock
	Logger   *slog.Logger
}

type kind int

const (
	kindMove kind = iota
	kindAdd
)

type mutation struct {
	kind    kind
	ctx     context.Context
	itemID  string
	prev    item.Item
	next    item.Item
	pending *Pending
}

type Pipeline struct {
	store   *state.Store
	tracker *inflight.Tracker
	remote  remote.DocumentStore
	cfg     Config

	mu       sync.Mutex
	batch    []*mutation
	timer    *clock.Timer
	batchGen uint64
	active   map[string]int
	closed   bool

	writes  sync.WaitGroup
	effects sync.WaitGroup
}

func New(store *state.Store, tracker *inflight.Tracker, docs remote.DocumentStore, cfg Config) *Pipeline {
	if cfg.Capacity <= 0 {
		cfg.Capacity = slots.DefaultCapacity
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultBaseBackoff
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = DefaultMaxBackoff
		if cfg.MaxBackoff < cfg.BaseBackoff {
			cfg.MaxBackoff = cfg.BaseBackoff
		}
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = nopNotifier{}
	}
	return &Pipeline{
		store:   store,
		tracker: tracker,
		remote:  docs,
		cfg:     cfg,
		active:  make(map[string]int),
	}
}

func (p *Pipeline) Capacity() int { return p.cfg.Capacity }

// Move relocates itemID to target. Validation failures return an error
// and leave every store untouched; otherwise the local store already
// shows the item at target and the returned Pending settles once the
// partition write succeeds or the move is rolled back. The write does
// not observe ctx cancellation.
func (p *Pipeline) Move(ctx context.Context, itemID string, target item.Location) (*Pending, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}
	if !target.Valid() {
		return nil, cerrors.NewInvalidTarget(string(target))
	}
	current, ok := p.store.Get(itemID)
	if !ok {
		return nil, cerrors.NewItemNotFound(itemID)
	}
	if current.Location == target {
		return resolvedPending(itemID), nil
	}
	if !target.IsPool() && !p.store.Slots().HasRoom(target, itemID, p.cfg.Capacity) {
		return nil, p.slotFull(target)
	}

	// Marked before the local write so a concurrent snapshot merge can
	// never revert the optimistic value.
	p.acquire(itemID)
	prev, next, err := p.store.Apply(itemID, state.SourceLocal, func(cur item.Item, index slots.Index) (item.Item, error) {
		if cur.Location == target {
			return cur, errNoop
		}
		if !target.IsPool() && !index.HasRoom(target, itemID, p.cfg.Capacity) {
			return cur, cerrors.NewSlotFull(string(target), p.cfg.Capacity)
		}
		cur.Location = target
		cur.LastMoved = p.cfg.Clock.Now()
		return cur, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, errNoop):
		p.release(itemID)
		return resolvedPending(itemID), nil
	case errors.Is(err, state.ErrNotFound):
		p.release(itemID)
		return nil, cerrors.NewItemNotFound(itemID)
	default:
		p.release(itemID)
		if se, ok := cerrors.As(err); ok && se.Code == cerrors.ErrSlotFull {
			p.cfg.Notifier.Toast(ToastWarning, se.Message)
		}
		return nil, err
	}

	m := &mutation{
		kind:    kindMove,
		ctx:     context.WithoutCancel(ctx),
		itemID:  itemID,
		prev:    prev,
		next:    next,
		pending: newPending(itemID),
	}
	p.submit(m)
	return m.pending, nil
}

// Add creates it with the same optimistic semantics as Move. A failed
// write deletes the item again.
func (p *Pipeline) Add(ctx context.Context, it item.Item) (*Pending, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}
	if it.ID == "" || it.URL == "" || it.Title == "" {
		return nil, cerrors.NewInvalidRequest("item requires id, url and title")
	}
	if it.Location != "" && !it.Location.Valid() {
		return nil, cerrors.NewInvalidTarget(string(it.Location))
	}
	now := p.cfg.Clock.Now()
	if it.UploadedAt.IsZero() {
		it.UploadedAt = now
	}
	if it.LastMoved.IsZero() {
		it.LastMoved = now
	}
	it = it.Normalized()

	p.acquire(it.ID)
	err := p.store.Insert(it, state.SourceLocal, func(index slots.Index) error {
		if it.Location.IsPool() || index.HasRoom(it.Location, it.ID, p.cfg.Capacity) {
			return nil
		}
		return cerrors.NewSlotFull(string(it.Location), p.cfg.Capacity)
	})
	if err != nil {
		p.release(it.ID)
		if errors.Is(err, state.ErrExists) {
			return nil, cerrors.NewInvalidRequest(fmt.Sprintf("item %s already exists", it.ID))
		}
		if se, ok := cerrors.As(err); ok && se.Code == cerrors.ErrSlotFull {
			p.cfg.Notifier.Toast(ToastWarning, se.Message)
		}
		return nil, err
	}

	m := &mutation{
		kind:    kindAdd,
		ctx:     context.WithoutCancel(ctx),
		itemID:  it.ID,
		next:    it,
		pending: newPending(it.ID),
	}
	p.submit(m)
	return m.pending, nil
}

// Close writes any batched mutations and waits for every outstanding
// write and side effect.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	batch := p.takeBatchLocked()
	if len(batch) > 0 {
		p.writes.Add(1)
		go p.persist(batch)
	}
	p.mu.Unlock()

	p.writes.Wait()
	p.effects.Wait()
	return nil
}

func (p *Pipeline) checkOpen() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return nil
}

func (p *Pipeline) slotFull(target item.Location) error {
	err := cerrors.NewSlotFull(string(target), p.cfg.Capacity)
	p.cfg.Notifier.Toast(ToastWarning, err.Message)
	return err
}

func (p *Pipeline) submit(m *mutation) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cfg.BatchWindow <= 0 || p.closed {
		p.writes.Add(1)
		go p.persist([]*mutation{m})
		return
	}
	p.batch = append(p.batch, m)
	if len(p.batch) > 1 {
		return
	}
	p.batchGen++
	generation := p.batchGen
	p.timer = p.cfg.Clock.AfterFunc(p.cfg.BatchWindow, func() { p.flush(generation) })
}

func (p *Pipeline) flush(generation uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if generation != p.batchGen || p.closed {
		return
	}
	batch := p.takeBatchLocked()
	if len(batch) == 0 {
		return
	}
	p.writes.Add(1)
	go p.persist(batch)
}

func (p *Pipeline) takeBatchLocked() []*mutation {
	batch := p.batch
	p.batch = nil
	p.batchGen++
	p.timer.Stop()
	p.timer = nil
	return batch
}

// acquire marks itemID in flight. Overlapping mutations of one item
// share the entry, which is cleared when the last of them settles.
func (p *Pipeline) acquire(itemID string) {
	p.mu.Lock()
	p.active[itemID]++
	p.mu.Unlock()
	p.tracker.Mark(itemID)
}

func (p *Pipeline) release(itemID string) {
	p.mu.Lock()
	p.active[itemID]--
	last := p.active[itemID] <= 0
	if last {
		delete(p.active, itemID)
	}
	p.mu.Unlock()
	if last {
		p.tracker.Clear(itemID)
	}
}
