package gesture

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cadence/api/internal/clock"
	"cadence/api/internal/item"
)

var (
	epoch    = time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC)
	valentin = item.SlotKey(2024, 2, 14)
	ides     = item.SlotKey(2024, 2, 15)
)

type fakeHost struct {
	mu      sync.Mutex
	full    map[item.Location]bool
	commits []Drop
	taps    []string
	haptics int
}

func newFakeHost() *fakeHost {
	return &fakeHost{full: make(map[item.Location]bool)}
}

func (h *fakeHost) CanAccept(target item.Location, _ string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.full[target]
}

func (h *fakeHost) Commit(drop Drop) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commits = append(h.commits, drop)
}

func (h *fakeHost) Tap(itemID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.taps = append(h.taps, itemID)
}

func (h *fakeHost) Haptic() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.haptics++
}

// calendar lays out two day cells with a card inside the first one and
// the pool below them.
func calendar() *Layout {
	return NewLayout([]Region{
		{ID: "grid", Rect: Rect{X: 0, Y: 0, W: 200, H: 100}},
		{ID: "day14", Parent: "grid", Rect: Rect{X: 0, Y: 0, W: 100, H: 100}, Attrs: map[string]string{SlotKeyAttr: string(valentin)}},
		{ID: "day15", Parent: "grid", Rect: Rect{X: 100, Y: 0, W: 100, H: 100}, Attrs: map[string]string{SlotKeyAttr: string(ides)}},
		{ID: "card", Parent: "day14", Rect: Rect{X: 10, Y: 10, W: 80, H: 30}},
		{ID: "pool", Rect: Rect{X: 0, Y: 120, W: 200, H: 80}, Attrs: map[string]string{SlotKeyAttr: "pool"}},
	})
}

func newRecognizer(host *fakeHost) (*Recognizer, *clock.FakeClock) {
	c := clock.Fake(epoch)
	return New(host, WithClock(c), WithHitTester(calendar())), c
}

func TestNativeDragCommits(t *testing.T) {
	host := newFakeHost()
	r, _ := newRecognizer(host)
	transfer := MapTransfer{}

	r.DragStart("x", item.Pool, transfer)
	assert.Equal(t, "x", transfer.GetData(MIMEItem))
	assert.Equal(t, "x", transfer.GetData(MIMEText))
	assert.Equal(t, "pool", transfer.GetData(MIMEOrigin))

	st := r.State()
	assert.Equal(t, Dragging, st.Phase)
	assert.Equal(t, "x", st.DraggedItemID)

	assert.True(t, r.DragOver(valentin))
	assert.Equal(t, valentin, r.State().HoveredSlotKey)

	assert.True(t, r.Drop(valentin, transfer))
	require.Len(t, host.commits, 1)
	assert.Equal(t, Drop{ItemID: "x", Origin: item.Pool, Target: valentin, Modality: Native}, host.commits[0])
	assert.Equal(t, State{Phase: Idle}, r.State())
}

func TestNativeDragOverFullSlotIsNotHighlighted(t *testing.T) {
	host := newFakeHost()
	host.full[valentin] = true
	r, _ := newRecognizer(host)
	transfer := MapTransfer{}

	r.DragStart("x", item.Pool, transfer)
	assert.True(t, r.DragOver(ides))
	assert.False(t, r.DragOver(valentin))
	assert.Equal(t, item.Location(""), r.State().HoveredSlotKey)

	assert.False(t, r.Drop(valentin, transfer))
	assert.Empty(t, host.commits)
	assert.Equal(t, Idle, r.State().Phase)
}

func TestNativeDropWithUndecodablePayloadIsIgnored(t *testing.T) {
	host := newFakeHost()
	r, _ := newRecognizer(host)

	assert.False(t, r.Drop(valentin, MapTransfer{"text/html": "<b>hello world</b>"}))
	assert.False(t, r.Drop(item.Location("2024-13-1"), MapTransfer{MIMEItem: "x"}))
	assert.Empty(t, host.commits)
}

func TestNativeDropFromAnotherWindow(t *testing.T) {
	host := newFakeHost()
	r, _ := newRecognizer(host)

	ok := r.Drop(ides, MapTransfer{"text/uri-list": "https://app.example/cards?id=x-42"})
	require.True(t, ok)
	assert.Equal(t, "x-42", host.commits[0].ItemID)
}

func TestDragLeaveAndEnd(t *testing.T) {
	host := newFakeHost()
	r, _ := newRecognizer(host)

	var phases []Phase
	r.OnChange(func(st State) { phases = append(phases, st.Phase) })

	r.DragStart("x", valentin, MapTransfer{})
	r.DragOver(ides)
	r.DragLeave(valentin)
	assert.Equal(t, ides, r.State().HoveredSlotKey, "leaving another slot keeps the highlight")
	r.DragLeave(ides)
	assert.Equal(t, item.Location(""), r.State().HoveredSlotKey)

	r.DragEnd()
	assert.Equal(t, Idle, r.State().Phase)
	assert.Equal(t, []Phase{Dragging, Dragging, Dragging, Cancelled, Idle}, phases)
	assert.Empty(t, host.commits)
}

func TestNewSessionTearsDownPrevious(t *testing.T) {
	host := newFakeHost()
	r, c := newRecognizer(host)

	r.TouchStart("x", valentin, Point{X: 20, Y: 20})
	assert.Equal(t, 1, c.Pending())

	r.DragStart("y", item.Pool, MapTransfer{})
	assert.Equal(t, 0, c.Pending(), "long-press timer leaked across sessions")

	c.Advance(LongPressDelay)
	assert.Equal(t, 0, host.haptics)
	assert.Equal(t, "y", r.State().DraggedItemID)
}

func TestEscapeCancels(t *testing.T) {
	host := newFakeHost()
	r, c := newRecognizer(host)

	r.TouchStart("x", valentin, Point{X: 20, Y: 20})
	c.Advance(LongPressDelay)
	r.TouchMove(Point{X: 150, Y: 50})
	r.Cancel()

	assert.Equal(t, 0, c.Pending())
	r.TouchEnd(Point{X: 150, Y: 50})
	assert.Empty(t, host.commits)
	assert.Empty(t, host.taps)
}
