package app

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"cadence/api/internal/gesture"
	"cadence/api/internal/item"
)

func dialLive(t *testing.T, env *testEnv, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(env.handler)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/projects/p1/instagram/live" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(ServerMessage) bool) ServerMessage {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var msg ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if match(msg) {
			return msg
		}
	}
}

func slotHas(msg ServerMessage, key item.Location, id string) bool {
	if msg.Type != "view" || msg.View == nil {
		return false
	}
	for _, s := range msg.View.Slots {
		if s.Key != key {
			continue
		}
		for _, it := range s.Items {
			if it.ID == id {
				return true
			}
		}
	}
	return false
}

func TestLiveMobileBoardHoldsFour(t *testing.T) {
	env := newTestEnv(t,
		card("a", item.Pool),
		card("b", item.Location(slot)), card("c", item.Location(slot)), card("d", item.Location(slot)))
	conn := dialLive(t, env, "?surface=mobile&actor=sam")

	first := readUntil(t, conn, func(m ServerMessage) bool { return m.Type == "view" })
	if first.View.Capacity != 4 || first.View.Surface != "mobile" {
		t.Fatalf("unexpected view %+v", first.View)
	}

	if err := conn.WriteJSON(ClientMessage{Type: "move", ItemID: "a", Target: item.Location(slot)}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, conn, func(m ServerMessage) bool { return slotHas(m, item.Location(slot), "a") })
}

func TestLiveNativeDragCommits(t *testing.T) {
	env := newTestEnv(t, card("a", item.Pool))
	conn := dialLive(t, env, "")
	readUntil(t, conn, func(m ServerMessage) bool { return m.Type == "view" })

	target := item.Location(slot)
	for _, msg := range []ClientMessage{
		{Type: "dragStart", ItemID: "a", Origin: item.Pool, Transfer: gesture.MapTransfer{}},
		{Type: "dragOver", Target: target},
		{Type: "drop", Target: target, Transfer: gesture.MapTransfer{"text/plain": "a"}},
		{Type: "dragEnd"},
	} {
		if err := conn.WriteJSON(msg); err != nil {
			t.Fatalf("write %s: %v", msg.Type, err)
		}
	}
	readUntil(t, conn, func(m ServerMessage) bool { return slotHas(m, target, "a") })
}

func TestLiveToastsSlotFull(t *testing.T) {
	env := newTestEnv(t,
		card("a", item.Pool),
		card("b", item.Location(slot)), card("c", item.Location(slot)), card("d", item.Location(slot)))
	conn := dialLive(t, env, "?surface=desktop")
	readUntil(t, conn, func(m ServerMessage) bool { return m.Type == "view" })

	if err := conn.WriteJSON(ClientMessage{Type: "move", ItemID: "a", Target: item.Location(slot)}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readUntil(t, conn, func(m ServerMessage) bool { return m.Type == "toast" || m.Type == "error" })
	if msg.Type == "toast" {
		if msg.Toast.Level != "warning" || !strings.Contains(msg.Toast.Message, "maximum of 3") {
			t.Fatalf("unexpected toast %+v", msg.Toast)
		}
		return
	}
	if !strings.Contains(msg.Error, "maximum of 3") {
		t.Fatalf("unexpected error %q", msg.Error)
	}
}

func TestLiveRejectsUnknownMessage(t *testing.T) {
	env := newTestEnv(t)
	conn := dialLive(t, env, "")
	readUntil(t, conn, func(m ServerMessage) bool { return m.Type == "view" })

	if err := conn.WriteJSON(ClientMessage{Type: "teleport"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readUntil(t, conn, func(m ServerMessage) bool { return m.Type == "error" })
	if !strings.Contains(msg.Error, "teleport") {
		t.Fatalf("unexpected error %q", msg.Error)
	}
}

func TestLiveRejectsUnknownSurface(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "GET", "/api/projects/p1/instagram/live?surface=watch", nil)
	if rec.Code != 400 {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
