package gesture

import (
	"log/slog"

	"cadence/api/internal/item"
)

// DragStart begins a native drag of itemID and writes the drag
// payloads to transfer.
func (r *Recognizer) DragStart(itemID string, origin item.Location, transfer Transfer) {
	if itemID == "" {
		return
	}
	if transfer != nil {
		transfer.SetData(MIMEItem, itemID)
		transfer.SetData(MIMEText, itemID)
		transfer.SetData(MIMEOrigin, string(origin))
	}

	r.mu.Lock()
	s := r.beginLocked(Native, itemID, origin)
	s.phase = Dragging
	st := r.stateLocked()
	r.mu.Unlock()
	r.emit(st)
}

// DragOver reports whether target accepts the dragged item and updates
// the hovered slot accordingly.
func (r *Recognizer) DragOver(target item.Location) bool {
	r.mu.Lock()
	s := r.session
	if s == nil || s.modality != Native {
		r.mu.Unlock()
		return false
	}
	generation, itemID := s.generation, s.itemID
	r.mu.Unlock()

	ok := r.accepts(target, itemID)
	hovered := target
	if !ok {
		hovered = ""
	}
	r.setHovered(generation, hovered)
	return ok
}

// DragLeave clears the hover highlight if it belongs to target.
func (r *Recognizer) DragLeave(target item.Location) {
	r.mu.Lock()
	s := r.session
	if s == nil || s.hovered != target {
		r.mu.Unlock()
		return
	}
	generation := s.generation
	r.mu.Unlock()
	r.setHovered(generation, "")
}

// Drop commits the drag onto target. The item id comes from transfer,
// so drags started in another window are honoured. It reports whether
// the drop was committed; a rejected drop has no effect.
func (r *Recognizer) Drop(target item.Location, transfer Transfer) bool {
	itemID := DecodeItemID(transfer)
	origin := item.Location("")
	if transfer != nil {
		origin = item.Location(transfer.GetData(MIMEOrigin))
	}

	r.mu.Lock()
	if itemID == "" && r.session != nil && r.session.modality == Native {
		itemID = r.session.itemID
	}
	if itemID == "" {
		r.mu.Unlock()
		r.logger.Debug("drop without a decodable item id", slog.String("target", string(target)))
		r.Cancel()
		return false
	}
	s := r.session
	if s == nil || s.modality != Native || s.itemID != itemID {
		s = r.beginLocked(Native, itemID, origin)
		s.phase = Dragging
	}
	if !origin.Valid() {
		origin = s.origin
	}
	s.origin = origin
	generation := s.generation
	r.mu.Unlock()

	if !r.accepts(target, itemID) {
		r.logger.Debug("drop rejected",
			slog.String("item_id", itemID),
			slog.String("target", string(target)))
		r.Cancel()
		return false
	}
	return r.commit(generation, target)
}

// DragEnd finishes a native drag that was not dropped on a target.
func (r *Recognizer) DragEnd() {
	r.mu.Lock()
	native := r.session != nil && r.session.modality == Native
	r.mu.Unlock()
	if native {
		r.Cancel()
	}
}

func (r *Recognizer) setHovered(generation uint64, hovered item.Location) {
	r.mu.Lock()
	s := r.currentLocked(generation)
	if s == nil || s.hovered == hovered {
		r.mu.Unlock()
		return
	}
	s.hovered = hovered
	st := r.stateLocked()
	r.mu.Unlock()
	r.emit(st)
}
