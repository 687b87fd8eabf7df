package board

import (
	"cadence/api/internal/item"
)

// SlotView is one populated calendar day.
type SlotView struct {
	Key   item.Location `json:"key"`
	Items []item.Item   `json:"items"`
	Full  bool          `json:"full"`
}

// View is everything a UI needs to render the board.
type View struct {
	ProjectID      string        `json:"projectId"`
	Instance       item.Instance `json:"instance"`
	Surface        Surface       `json:"surface"`
	Capacity       int           `json:"capacity"`
	Version        uint64        `json:"version"`
	Slots          []SlotView    `json:"slots"`
	Pool           []item.Item   `json:"pool"`
	CardsInTransit []string      `json:"cardsInTransit"`
	DraggedItemID  string        `json:"draggedItemId,omitempty"`
	HoveredSlotKey item.Location `json:"hoveredSlotKey,omitempty"`
	Gesture        string        `json:"gesture"`
}

func (b *Board) View() View {
	items := b.store.Items()
	index := b.store.Slots()
	gs := b.recognizer.State()

	v := View{
		ProjectID:      b.opts.Path.ProjectID,
		Instance:       b.opts.Path.Instance,
		Surface:        b.opts.Surface,
		Capacity:       b.capacity,
		Version:        b.store.Version(),
		Slots:          []SlotView{},
		Pool:           []item.Item{},
		CardsInTransit: b.tracker.IDs(),
		DraggedItemID:  gs.DraggedItemID,
		HoveredSlotKey: gs.HoveredSlotKey,
		Gesture:        gs.Phase.String(),
	}
	for _, key := range index.Keys() {
		list := index.Items(key)
		v.Slots = append(v.Slots, SlotView{Key: key, Items: list, Full: len(list) >= b.capacity})
	}
	for _, it := range items {
		if it.Location.IsPool() {
			v.Pool = append(v.Pool, it)
		}
	}
	return v
}

// Watch calls fn with a fresh View after every change to items, the
// in-flight set or the gesture session. The returned func unregisters
// fn.
func (b *Board) Watch(fn func(View)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.watchers[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.watchers, id)
		b.mu.Unlock()
	}
}

func (b *Board) publish() {
	b.mu.Lock()
	if len(b.watchers) == 0 {
		b.mu.Unlock()
		return
	}
	fns := make([]func(View), 0, len(b.watchers))
	for _, fn := range b.watchers {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	v := b.View()
	for _, fn := range fns {
		fn(v)
	}
}
