package slots

import (
	"testing"
	"time"

	"cadence/api/internal/item"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func card(id string, loc item.Location, movedOffset time.Duration) item.Item {
	return item.Item{ID: id, URL: "https://cdn/" + id, Title: id, Location: loc, LastMoved: base.Add(movedOffset)}
}

func TestBuildExcludesPoolAndOrdersByMoveTime(t *testing.T) {
	key := item.SlotKey(2024, 2, 14)
	idx := Build([]item.Item{
		card("z", key, 3*time.Minute),
		card("p", item.Pool, 0),
		card("x", key, time.Minute),
		card("y", key, 2*time.Minute),
	})

	got := idx.Items(key)
	if len(got) != 3 {
		t.Fatalf("expected 3 items, got %d", len(got))
	}
	for i, want := range []string{"x", "y", "z"} {
		if got[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, got[i].ID)
		}
	}
	if idx.Count(item.Pool) != 0 {
		t.Fatal("pool must not be indexed as a slot")
	}
}

func TestCountExcludingSelf(t *testing.T) {
	key := item.SlotKey(2024, 2, 14)
	idx := Build([]item.Item{
		card("x", key, 0),
		card("y", key, time.Second),
		card("z", key, 2*time.Second),
	})
	if idx.HasRoom(key, "w", DefaultCapacity) {
		t.Fatal("full slot must reject a fourth item")
	}
	if !idx.HasRoom(key, "x", DefaultCapacity) {
		t.Fatal("an item already in the slot must not count against itself")
	}
	if idx.CountExcluding(key, "x") != 2 {
		t.Fatalf("expected 2, got %d", idx.CountExcluding(key, "x"))
	}
	if !idx.HasRoom(item.Pool, "w", DefaultCapacity) {
		t.Fatal("pool has no capacity limit")
	}
	if !idx.HasRoom(key, "w", MobileCapacity) {
		t.Fatal("mobile capacity allows a fourth item")
	}
}

func TestItemsReturnsCopy(t *testing.T) {
	key := item.SlotKey(2024, 2, 14)
	idx := Build([]item.Item{card("x", key, 0)})
	list := idx.Items(key)
	list[0].ID = "mutated"
	if idx.Items(key)[0].ID != "x" {
		t.Fatal("index storage leaked to caller")
	}
}

func TestKeysInCalendarOrder(t *testing.T) {
	idx := Build([]item.Item{
		card("a", item.SlotKey(2024, 10, 2), 0),
		card("b", item.SlotKey(2024, 1, 20), 0),
		card("c", item.SlotKey(2024, 1, 3), 0),
	})
	keys := idx.Keys()
	want := []item.Location{"2024-1-3", "2024-1-20", "2024-10-2"}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys out of order: %v", keys)
		}
	}
}

func TestPool(t *testing.T) {
	pool := Pool([]item.Item{card("a", item.Pool, 0), card("b", item.SlotKey(2024, 0, 1), 0)})
	if len(pool) != 1 || pool[0].ID != "a" {
		t.Fatalf("unexpected pool %v", pool)
	}
}
