package gesture

import "cadence/api/internal/item"

// SlotKeyAttr marks an element as a drop target. Its value is a slot key
// or "pool".
const SlotKeyAttr = "data-slot-key"

const maxAncestors = 64

// Element is a node of the rendered surface.
type Element interface {
	Attr(name string) (string, bool)
	Parent() Element
}

// HitTester finds the topmost element at a point.
type HitTester interface {
	ElementAt(p Point) Element
}

// SlotAt resolves the drop target under p by walking from the hit
// element up to the first ancestor carrying SlotKeyAttr.
func SlotAt(h HitTester, p Point) (item.Location, bool) {
	if h == nil {
		return "", false
	}
	depth := 0
	for el := h.ElementAt(p); el != nil && depth < maxAncestors; el = el.Parent() {
		depth++
		value, ok := el.Attr(SlotKeyAttr)
		if !ok {
			continue
		}
		loc, err := item.ParseLocation(value)
		if err != nil {
			return "", false
		}
		return loc, true
	}
	return "", false
}

type Rect struct {
	X, Y, W, H float64
}

func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X < r.X+r.W && p.Y >= r.Y && p.Y < r.Y+r.H
}

// Region is one rectangle of a Layout. Later regions paint over earlier
// ones.
type Region struct {
	ID     string            `json:"id"`
	Parent string            `json:"parent,omitempty"`
	Rect   Rect              `json:"rect"`
	Attrs  map[string]string `json:"attrs,omitempty"`
}

// Layout is a HitTester over client-reported rectangles.
type Layout struct {
	regions []Region
	byID    map[string]int
}

func NewLayout(regions []Region) *Layout {
	l := &Layout{
		regions: append([]Region(nil), regions...),
		byID:    make(map[string]int, len(regions)),
	}
	for i, r := range l.regions {
		l.byID[r.ID] = i
	}
	return l
}

func (l *Layout) ElementAt(p Point) Element {
	for i := len(l.regions) - 1; i >= 0; i-- {
		if l.regions[i].Rect.Contains(p) {
			return layoutElement{layout: l, index: i}
		}
	}
	return nil
}

type layoutElement struct {
	layout *Layout
	index  int
}

func (e layoutElement) Attr(name string) (string, bool) {
	value, ok := e.layout.regions[e.index].Attrs[name]
	return value, ok
}

func (e layoutElement) Parent() Element {
	parent := e.layout.regions[e.index].Parent
	if parent == "" {
		return nil
	}
	i, ok := e.layout.byID[parent]
	if !ok || i == e.index {
		return nil
	}
	return layoutElement{layout: e.layout, index: i}
}
