package gesture

import (
	"math"

	"cadence/api/internal/item"
)

// TouchStart begins a touch on itemID. The session arms once the finger
// has been held for LongPressDelay without moving past MoveThreshold.
func (r *Recognizer) TouchStart(itemID string, origin item.Location, at Point) {
	if itemID == "" {
		return
	}
	r.mu.Lock()
	s := r.beginLocked(Touch, itemID, origin)
	s.start, s.latest = at, at
	generation := s.generation
	r.mu.Unlock()

	timer := r.clock.AfterFunc(LongPressDelay, func() { r.arm(generation) })

	r.mu.Lock()
	if s := r.currentLocked(generation); s != nil && s.phase == Idle {
		s.longPress = timer
	} else {
		timer.Stop()
	}
	r.mu.Unlock()
}

func (r *Recognizer) arm(generation uint64) {
	r.mu.Lock()
	s := r.currentLocked(generation)
	if s == nil || s.phase != Idle || s.scrolled {
		r.mu.Unlock()
		return
	}
	s.phase = Armed
	s.longPress = nil
	st := r.stateLocked()
	r.mu.Unlock()

	r.host.Haptic()
	r.emit(st)
}

// TouchMove tracks the finger. It reports whether the host must prevent
// the page from scrolling, which is the case once the session is armed.
func (r *Recognizer) TouchMove(at Point) bool {
	r.mu.Lock()
	s := r.session
	if s == nil || s.modality != Touch {
		r.mu.Unlock()
		return false
	}
	s.latest = at

	if s.phase == Idle {
		if !s.scrolled && distance(s.start, at) > MoveThreshold {
			s.scrolled = true
			s.longPress.Stop()
			s.longPress = nil
		}
		r.mu.Unlock()
		return false
	}

	var st *State
	if s.phase == Armed {
		s.phase = Dragging
		current := r.stateLocked()
		st = &current
	}
	schedule := s.frame == nil
	generation := s.generation
	r.mu.Unlock()

	if st != nil {
		r.emit(*st)
	}
	if schedule {
		timer := r.clock.AfterFunc(FrameInterval, func() { r.onFrame(generation) })
		r.mu.Lock()
		if s := r.currentLocked(generation); s != nil && s.frame == nil {
			s.frame = timer
		} else {
			timer.Stop()
		}
		r.mu.Unlock()
	}
	return true
}

// onFrame applies the latest touch position, at most once per frame.
func (r *Recognizer) onFrame(generation uint64) {
	r.mu.Lock()
	s := r.currentLocked(generation)
	if s == nil {
		r.mu.Unlock()
		return
	}
	s.frame = nil
	at, itemID, hit := s.latest, s.itemID, r.hit
	r.mu.Unlock()

	hovered := item.Location("")
	if target, ok := SlotAt(hit, at); ok && r.accepts(target, itemID) {
		hovered = target
	}
	r.setHovered(generation, hovered)
}

// TouchEnd lifts the finger. An armed session commits over an accepting
// slot; an unarmed touch that never scrolled is a tap.
func (r *Recognizer) TouchEnd(at Point) {
	r.mu.Lock()
	s := r.session
	if s == nil || s.modality != Touch {
		r.mu.Unlock()
		return
	}
	s.latest = at
	phase, scrolled := s.phase, s.scrolled
	itemID, generation, hit := s.itemID, s.generation, r.hit
	r.mu.Unlock()

	if phase == Idle {
		if scrolled {
			r.Cancel()
			return
		}
		r.mu.Lock()
		if r.currentLocked(generation) == nil {
			r.mu.Unlock()
			return
		}
		r.teardownLocked()
		r.mu.Unlock()
		r.host.Tap(itemID)
		return
	}

	target, ok := SlotAt(hit, at)
	if !ok || !r.accepts(target, itemID) {
		r.Cancel()
		return
	}
	r.commit(generation, target)
}

// TouchCancel is the platform aborting the touch.
func (r *Recognizer) TouchCancel() {
	r.mu.Lock()
	touch := r.session != nil && r.session.modality == Touch
	r.mu.Unlock()
	if touch {
		r.Cancel()
	}
}

func distance(a, b Point) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}
