package util

import (
	"strings"
	"testing"
	"time"
)

func TestNewIDPrefix(t *testing.T) {
	id := NewID("req")
	if !strings.HasPrefix(id, "req_") {
		t.Fatalf("expected req_ prefix, got %s", id)
	}
	if NewID("") == NewID("") {
		t.Fatal("ids must be unique")
	}
}

func TestSortableIDsOrderByTime(t *testing.T) {
	earlier := NewSortableID(time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC))
	later := NewSortableID(time.Date(2024, 3, 14, 9, 0, 1, 0, time.UTC))
	if len(earlier) != 26 {
		t.Fatalf("unexpected ulid length %d", len(earlier))
	}
	if earlier >= later {
		t.Fatalf("expected %s < %s", earlier, later)
	}
}
