// Package gesture turns native drag-and-drop and touch long-press
// input into drop commits. It owns at most one session at a time and
// never mutates item state itself; commits go to the Host.
package gesture

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cadence/api/internal/clock"
	"cadence/api/internal/item"
)

const (
	LongPressDelay = 500 * time.Millisecond
	// MoveThreshold is how far, in pixels, a finger may travel before
	// the long press fires without the touch becoming a scroll.
	MoveThreshold = 10.0
	FrameInterval = 16 * time.Millisecond
)

type Phase int

const (
	Idle Phase = iota
	Armed
	Dragging
	Committed
	Cancelled
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Dragging:
		return "dragging"
	case Committed:
		return "committed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

type Modality string

const (
	Native Modality = "native"
	Touch  Modality = "touch"
)

type Point struct {
	X, Y float64
}

// Drop is a committed gesture.
type Drop struct {
	ItemID   string
	Origin   item.Location
	Target   item.Location
	Modality Modality
}

// Host receives the outcome of gestures. Calls are made without any
// recognizer lock held.
type Host interface {
	// CanAccept reports whether itemID may be dropped on target. Slots
	// without room return false and are never highlighted.
	CanAccept(target item.Location, itemID string) bool
	Commit(drop Drop)
	Tap(itemID string)
	Haptic()
}

// State is the observable part of the session.
type State struct {
	Phase          Phase
	Modality       Modality
	DraggedItemID  string
	Origin         item.Location
	HoveredSlotKey item.Location
}

type session struct {
	generation uint64
	modality   Modality
	itemID     string
	origin     item.Location
	phase      Phase
	hovered    item.Location

	start    Point
	latest   Point
	scrolled bool

	longPress *clock.Timer
	frame     *clock.Timer
}

func (s *session) stopTimers() {
	s.longPress.Stop()
	s.frame.Stop()
	s.longPress = nil
	s.frame = nil
}

type Recognizer struct {
	host   Host
	hit    HitTester
	clock  clock.Clock
	logger *slog.Logger

	mu         sync.Mutex
	session    *session
	generation uint64
	observers  []func(State)
}

type Option func(*Recognizer)

func WithClock(c clock.Clock) Option { return func(r *Recognizer) { r.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(r *Recognizer) { r.logger = l } }

// WithHitTester sets the hit tester used to resolve touch positions.
func WithHitTester(h HitTester) Option { return func(r *Recognizer) { r.hit = h } }

func New(host Host, opts ...Option) *Recognizer {
	r := &Recognizer{host: host}
	for _, opt := range opts {
		opt(r)
	}
	if r.clock == nil {
		r.clock = clock.Real()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// SetHitTester replaces the hit tester, e.g. after a layout change.
func (r *Recognizer) SetHitTester(h HitTester) {
	r.mu.Lock()
	r.hit = h
	r.mu.Unlock()
}

func (r *Recognizer) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateLocked()
}

func (r *Recognizer) stateLocked() State {
	s := r.session
	if s == nil {
		return State{Phase: Idle}
	}
	st := State{Phase: s.phase, Modality: s.modality, Origin: s.origin, HoveredSlotKey: s.hovered}
	if s.phase != Idle {
		st.DraggedItemID = s.itemID
	}
	return st
}

// OnChange registers fn for every state transition.
func (r *Recognizer) OnChange(fn func(State)) {
	r.mu.Lock()
	r.observers = append(r.observers, fn)
	r.mu.Unlock()
}

func (r *Recognizer) emit(states ...State) {
	r.mu.Lock()
	observers := append([]func(State){}, r.observers...)
	r.mu.Unlock()
	for _, st := range states {
		for _, fn := range observers {
			fn(st)
		}
	}
}

// begin tears down any current session and installs a new one.
func (r *Recognizer) beginLocked(modality Modality, itemID string, origin item.Location) *session {
	r.teardownLocked()
	r.generation++
	r.session = &session{
		generation: r.generation,
		modality:   modality,
		itemID:     itemID,
		origin:     origin,
	}
	return r.session
}

// teardownLocked ends the current session. Timers are stopped and any
// callback already in flight finds a stale generation.
func (r *Recognizer) teardownLocked() {
	if r.session == nil {
		return
	}
	r.session.stopTimers()
	r.session = nil
	r.generation++
}

// current returns the session if it is still the one identified by
// generation.
func (r *Recognizer) currentLocked(generation uint64) *session {
	if r.session == nil || r.session.generation != generation {
		return nil
	}
	return r.session
}

// Cancel abandons the current session without side effects.
func (r *Recognizer) Cancel() {
	r.mu.Lock()
	if r.session == nil {
		r.mu.Unlock()
		return
	}
	final := r.stateLocked()
	final.Phase = Cancelled
	r.teardownLocked()
	r.mu.Unlock()
	r.emit(final, State{Phase: Idle})
}

// commit ends the session identified by generation and hands the drop
// to the host.
func (r *Recognizer) commit(generation uint64, target item.Location) bool {
	r.mu.Lock()
	s := r.currentLocked(generation)
	if s == nil {
		r.mu.Unlock()
		return false
	}
	drop := Drop{ItemID: s.itemID, Origin: s.origin, Target: target, Modality: s.modality}
	final := r.stateLocked()
	final.Phase = Committed
	final.DraggedItemID = s.itemID
	final.HoveredSlotKey = target
	r.teardownLocked()
	r.mu.Unlock()

	r.emit(final, State{Phase: Idle})
	r.host.Commit(drop)
	return true
}

func (r *Recognizer) accepts(target item.Location, itemID string) bool {
	if itemID == "" || !target.Valid() {
		return false
	}
	return r.host.CanAccept(target, itemID)
}
