// Package slots derives the calendar slot view from the flat item
// collection and answers capacity questions about it.
package slots

import (
	"sort"

	"cadence/api/internal/item"
)

const (
	// DefaultCapacity is the per-day limit of the desktop calendar.
	DefaultCapacity = 3
	// MobileCapacity is the per-day limit of the mobile calendar.
	MobileCapacity = 4
)

// Index maps slot keys to the items occupying them. It is a pure
// function of the item collection and is rebuilt on every change.
type Index struct {
	bySlot map[item.Location][]item.Item
}

// Build derives the index. Pool items are excluded; items within a slot
// are ordered by the time they were moved there.
func Build(items []item.Item) Index {
	bySlot := make(map[item.Location][]item.Item)
	for _, it := range items {
		if !it.Scheduled() {
			continue
		}
		bySlot[it.Location] = append(bySlot[it.Location], it)
	}
	for key := range bySlot {
		list := bySlot[key]
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].LastMoved.Before(list[j].LastMoved)
		})
	}
	return Index{bySlot: bySlot}
}

// Items returns a copy of the ordered items in key.
func (x Index) Items(key item.Location) []item.Item {
	list := x.bySlot[key]
	out := make([]item.Item, len(list))
	copy(out, list)
	return out
}

func (x Index) Count(key item.Location) int {
	return len(x.bySlot[key])
}

// CountExcluding counts the items in key other than itemID, so an item
// already in the slot does not count against itself.
func (x Index) CountExcluding(key item.Location, itemID string) int {
	count := 0
	for _, it := range x.bySlot[key] {
		if it.ID != itemID {
			count++
		}
	}
	return count
}

// HasRoom reports whether itemID may be placed in key. The pool is
// unbounded.
func (x Index) HasRoom(key item.Location, itemID string, capacity int) bool {
	if key.IsPool() {
		return true
	}
	return x.CountExcluding(key, itemID) < capacity
}

// Keys returns the occupied slot keys in calendar order.
func (x Index) Keys() []item.Location {
	keys := make([]item.Location, 0, len(x.bySlot))
	for key := range x.bySlot {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, _ := keys[i].Date()
		b, _ := keys[j].Date()
		return a.Before(b)
	})
	return keys
}

// Snapshot returns the whole index as a plain map for rendering.
func (x Index) Snapshot() map[item.Location][]item.Item {
	out := make(map[item.Location][]item.Item, len(x.bySlot))
	for key := range x.bySlot {
		out[key] = x.Items(key)
	}
	return out
}

// Pool returns the unscheduled items in input order.
func Pool(items []item.Item) []item.Item {
	out := make([]item.Item, 0)
	for _, it := range items {
		if it.Location.IsPool() {
			out = append(out, it)
		}
	}
	return out
}
