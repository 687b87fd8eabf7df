package app

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"cadence/api/internal/board"
	"cadence/api/internal/gesture"
	"cadence/api/internal/item"
	"cadence/api/internal/notify"
	"cadence/api/internal/remote"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

// ClientMessage is an event sent by a live viewer. Locations are slot
// keys or "pool"; points are viewport coordinates.
type ClientMessage struct {
	Type     string              `json:"type"`
	ItemID   string              `json:"itemId,omitempty"`
	Origin   item.Location       `json:"origin,omitempty"`
	Target   item.Location       `json:"target,omitempty"`
	Point    *gesture.Point      `json:"point,omitempty"`
	Transfer gesture.MapTransfer `json:"transfer,omitempty"`
	Regions  []gesture.Region    `json:"regions,omitempty"`
	Label    string              `json:"label,omitempty"`
}

// ServerMessage is pushed to a live viewer.
type ServerMessage struct {
	Type   string        `json:"type"`
	View   *board.View   `json:"view,omitempty"`
	Toast  *notify.Toast `json:"toast,omitempty"`
	ItemID string        `json:"itemId,omitempty"`
	Error  string        `json:"error,omitempty"`
}

func (s *HTTPServer) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return s.corsOrigin == "*" || origin == "" || strings.EqualFold(origin, s.corsOrigin)
		},
	}
}

func (s *HTTPServer) handleLive(w http.ResponseWriter, r *http.Request, path remote.Path) {
	surface, err := board.ParseSurface(r.URL.Query().Get("surface"))
	if err != nil {
		s.fail(w, err)
		return
	}
	actor := strings.TrimSpace(r.URL.Query().Get("actor"))

	events := make(chan ServerMessage, 16)
	emit := func(msg ServerMessage) {
		select {
		case events <- msg:
		default:
		}
	}
	b, hub, err := s.service.OpenLive(r.Context(), path, surface, actor, LiveHooks{
		OnTap:    func(itemID string) { emit(ServerMessage{Type: "tap", ItemID: itemID}) },
		OnHaptic: func() { emit(ServerMessage{Type: "haptic"}) },
	})
	if err != nil {
		s.fail(w, err)
		return
	}

	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		_ = b.Close()
		log.Printf("live %s: upgrade failed: %v", path, err)
		return
	}

	session := newLiveSession(conn, b, hub, events)
	session.serve(s.service.ctx)
}

// liveSession pumps one websocket connection. A single goroutine writes
// to the connection.
type liveSession struct {
	conn   *websocket.Conn
	board  *board.Board
	hub    *notify.Hub
	events chan ServerMessage

	mu      sync.Mutex
	latest  board.View
	changed chan struct{}
}

func newLiveSession(conn *websocket.Conn, b *board.Board, hub *notify.Hub, events chan ServerMessage) *liveSession {
	return &liveSession{
		conn:    conn,
		board:   b,
		hub:     hub,
		events:  events,
		changed: make(chan struct{}, 1),
	}
}

func (l *liveSession) serve(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	toasts, unsubscribe := l.hub.Subscribe(16)
	unwatch := l.board.Watch(l.offer)
	l.offer(l.board.View())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := l.board.Run(ctx); err != nil {
			log.Printf("live %s: listener stopped: %v", l.board.Path(), err)
		}
	}()
	go func() {
		defer wg.Done()
		l.writeLoop(ctx, toasts)
		cancel()
		_ = l.conn.Close()
	}()

	l.readLoop(ctx)
	cancel()
	l.board.Gesture().Cancel()
	unwatch()
	wg.Wait()
	unsubscribe()
	_ = l.conn.Close()
	if err := l.board.Close(); err != nil {
		log.Printf("live %s: close: %v", l.board.Path(), err)
	}
}

// offer keeps only the newest view; the writer sends whatever is latest.
func (l *liveSession) offer(v board.View) {
	l.mu.Lock()
	l.latest = v
	l.mu.Unlock()
	select {
	case l.changed <- struct{}{}:
	default:
	}
}

func (l *liveSession) writeLoop(ctx context.Context, toasts <-chan notify.Toast) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		var msg ServerMessage
		select {
		case <-ctx.Done():
			_ = l.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case <-ticker.C:
			if err := l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
			continue
		case <-l.changed:
			l.mu.Lock()
			v := l.latest
			l.mu.Unlock()
			msg = ServerMessage{Type: "view", View: &v}
		case toast, ok := <-toasts:
			if !ok {
				return
			}
			msg = ServerMessage{Type: "toast", Toast: &toast}
		case msg = <-l.events:
		}
		_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := l.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (l *liveSession) readLoop(ctx context.Context) {
	l.conn.SetReadLimit(maxMessageSize)
	_ = l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error {
		return l.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var msg ClientMessage
		if err := l.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("live %s: read: %v", l.board.Path(), err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		if errMsg := l.dispatch(ctx, msg); errMsg != "" {
			select {
			case l.events <- ServerMessage{Type: "error", Error: errMsg}:
			default:
			}
		}
	}
}

// dispatch routes a client event to the gesture recognizer or board.
func (l *liveSession) dispatch(ctx context.Context, msg ClientMessage) string {
	g := l.board.Gesture()
	switch msg.Type {
	case "layout":
		g.SetHitTester(gesture.NewLayout(msg.Regions))
	case "dragStart":
		transfer := msg.Transfer
		if transfer == nil {
			transfer = gesture.MapTransfer{}
		}
		g.DragStart(msg.ItemID, msg.Origin, transfer)
	case "dragOver":
		g.DragOver(msg.Target)
	case "dragLeave":
		g.DragLeave(msg.Target)
	case "drop":
		g.Drop(msg.Target, msg.Transfer)
	case "dragEnd":
		g.DragEnd()
	case "touchStart":
		if msg.Point == nil {
			return "touchStart requires a point"
		}
		g.TouchStart(msg.ItemID, msg.Origin, *msg.Point)
	case "touchMove":
		if msg.Point == nil {
			return "touchMove requires a point"
		}
		g.TouchMove(*msg.Point)
	case "touchEnd":
		if msg.Point == nil {
			return "touchEnd requires a point"
		}
		g.TouchEnd(*msg.Point)
	case "touchCancel":
		g.TouchCancel()
	case "cancel":
		g.Cancel()
	case "move":
		if _, err := l.board.Move(ctx, msg.ItemID, msg.Target); err != nil {
			_, _, message, _ := mapError(err)
			return message
		}
	case "status":
		if err := l.board.SetStatus(ctx, msg.Label); err != nil {
			_, _, message, _ := mapError(err)
			return message
		}
	default:
		encoded, _ := json.Marshal(msg.Type)
		return "unknown message type " + string(encoded)
	}
	return ""
}
