package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cadence/api/internal/blob"
	"cadence/api/internal/board"
	"cadence/api/internal/config"
	"cadence/api/internal/item"
	"cadence/api/internal/remote"
	"cadence/api/internal/store"
)

var testPath = remote.Path{ProjectID: "p1", Instance: item.Instagram}

const slot = "2024-2-14"

type testEnv struct {
	service  *Service
	handler  http.Handler
	docs     *remote.MemoryStore
	activity *store.MemoryActivityLog
}

func newTestEnv(t *testing.T, seed ...item.Item) *testEnv {
	t.Helper()
	docs := remote.NewMemoryStore()
	if len(seed) > 0 {
		entries := remote.Entries{}
		for _, it := range seed {
			raw, err := remote.EncodeItem(it)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			entries[it.ID] = raw
		}
		if err := docs.Write(context.Background(), testPath, entries); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	files := blob.NewMemoryStore("/api/blobs")
	activity := store.NewMemoryActivityLog(0)
	svc := New(config.Config{BaseBackoff: time.Millisecond}, Dependencies{
		Docs:     docs,
		Activity: activity,
		Blobs:    files,
		Files:    files,
	})
	t.Cleanup(func() {
		_ = svc.Close()
		_ = docs.Close()
	})
	return &testEnv{service: svc, handler: NewHTTPServer(svc, "*").Handler(), docs: docs, activity: activity}
}

func card(id string, loc item.Location) item.Item {
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return item.Item{ID: id, URL: "https://cdn.example.com/" + id, Title: "Card " + id, Location: loc, UploadedAt: at, LastMoved: at}
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), target); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	decode(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok=true, got %v", body)
	}
}

func TestReadyEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/ready", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		OK     bool             `json:"ok"`
		Status string           `json:"status"`
		Checks map[string]Check `json:"checks"`
	}
	decode(t, rec, &body)
	if !body.OK || body.Status != "ready" || body.Checks["documents"].Status != "ok" {
		t.Fatalf("unexpected ready body %+v", body)
	}
	if body.Checks["search"].Status != "fallback" {
		t.Fatalf("expected search fallback, got %+v", body.Checks["search"])
	}

	_ = env.docs.Close()
	rec = env.do(t, http.MethodGet, "/api/ready", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with closed store, got %d", rec.Code)
	}
}

func TestOptionsAndCORSHeaders(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodOptions, "/api/projects/p1/instagram/moves", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS origin header")
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	for _, target := range []string{"/api/nope", "/api/projects/p1/instagram/unknown", "/api/projects/p1"} {
		if rec := env.do(t, http.MethodGet, target, nil); rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", target, rec.Code)
		}
	}
}

func TestBoardView(t *testing.T) {
	env := newTestEnv(t, card("a", item.Pool), card("b", item.Location(slot)))
	rec := env.do(t, http.MethodGet, "/api/projects/p1/instagram/board", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var view board.View
	decode(t, rec, &view)
	if view.Capacity != 3 || view.Surface != board.SurfaceDesktop {
		t.Fatalf("unexpected surface/capacity %s/%d", view.Surface, view.Capacity)
	}
	if len(view.Pool) != 1 || view.Pool[0].ID != "a" {
		t.Fatalf("unexpected pool %+v", view.Pool)
	}
	if len(view.Slots) != 1 || view.Slots[0].Key != item.Location(slot) || view.Slots[0].Items[0].ID != "b" {
		t.Fatalf("unexpected slots %+v", view.Slots)
	}
}

func TestInvalidInstance(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/projects/p1/myspace/board", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body map[string]any
	decode(t, rec, &body)
	if body["code"] != "INVALID_INSTANCE" {
		t.Fatalf("unexpected code %v", body["code"])
	}
}

func TestMoveWaitPersists(t *testing.T) {
	env := newTestEnv(t, card("a", item.Pool))
	rec := env.do(t, http.MethodPost, "/api/projects/p1/instagram/moves?wait=1", map[string]any{
		"itemId": "a",
		"target": map[string]int{"year": 2024, "month": 2, "day": 14},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result MoveResult
	decode(t, rec, &result)
	if !result.Confirmed || result.Item.Location != item.Location(slot) {
		t.Fatalf("unexpected result %+v", result)
	}

	snap, err := env.docs.Read(context.Background(), testPath)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var stored item.Item
	if err := json.Unmarshal(snap.Entries["a"], &stored); err != nil {
		t.Fatalf("decode stored: %v", err)
	}
	if stored.Location != item.Location(slot) {
		t.Fatalf("remote location = %q", stored.Location)
	}

	eventually(t, func() bool {
		entries, _ := env.activity.ListActivity(context.Background(), "p1", "instagram", 10)
		return len(entries) == 1 && entries[0].ToLocation == slot && entries[0].Actor == "api"
	})
	rec = env.do(t, http.MethodGet, "/api/projects/p1/instagram/activity?limit=5", nil)
	var body struct {
		Activity []store.Activity `json:"activity"`
	}
	decode(t, rec, &body)
	if len(body.Activity) != 1 || body.Activity[0].ItemID != "a" {
		t.Fatalf("unexpected activity %+v", body.Activity)
	}
}

func TestMoveWithoutWaitIsAccepted(t *testing.T) {
	env := newTestEnv(t, card("a", item.Location(slot)))
	rec := env.do(t, http.MethodPost, "/api/projects/p1/instagram/moves", map[string]any{"itemId": "a", "target": "pool"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var result MoveResult
	decode(t, rec, &result)
	if result.Item.Location != item.Pool {
		t.Fatalf("optimistic location = %q", result.Item.Location)
	}

	rec = env.do(t, http.MethodPost, "/api/projects/p1/instagram/moves", map[string]any{"itemId": "a", "target": "pool"})
	decode(t, rec, &result)
	if rec.Code != http.StatusOK || !result.NoOp {
		t.Fatalf("repeat move should be a confirmed no-op, got %d %+v", rec.Code, result)
	}
}

func TestMoveErrors(t *testing.T) {
	env := newTestEnv(t,
		card("a", item.Pool),
		card("b", item.Location(slot)), card("c", item.Location(slot)), card("d", item.Location(slot)))

	tests := []struct {
		name   string
		body   map[string]any
		status int
		code   string
	}{
		{name: "slot full", body: map[string]any{"itemId": "a", "target": slot}, status: http.StatusConflict, code: "SLOT_FULL"},
		{name: "unknown item", body: map[string]any{"itemId": "zz", "target": "pool"}, status: http.StatusNotFound, code: "ITEM_NOT_FOUND"},
		{name: "bad key", body: map[string]any{"itemId": "a", "target": "2024-1-30"}, status: http.StatusBadRequest, code: "INVALID_TARGET"},
		{name: "partial object", body: map[string]any{"itemId": "a", "target": map[string]int{"year": 2024}}, status: http.StatusBadRequest, code: "INVALID_TARGET"},
		{name: "missing item", body: map[string]any{"target": "pool"}, status: http.StatusBadRequest, code: "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/projects/p1/instagram/moves", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			var body map[string]any
			decode(t, rec, &body)
			if body["code"] != tt.code {
				t.Fatalf("expected code %s, got %v", tt.code, body["code"])
			}
		})
	}

	rec := env.do(t, http.MethodPost, "/api/projects/p1/instagram/moves", map[string]any{"itemId": "a", "target": slot})
	var body map[string]any
	decode(t, rec, &body)
	if !strings.Contains(body["error"].(string), "maximum of 3") {
		t.Fatalf("slot full message %v", body["error"])
	}
}

func TestSetStatus(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPut, "/api/projects/p1/fbig/status", map[string]string{"label": " Approved "})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	value, ok := env.docs.Field("project/p1", "status.fbig")
	if !ok || value != "Approved" {
		t.Fatalf("status field = %v (%v)", value, ok)
	}

	rec = env.do(t, http.MethodPut, "/api/projects/p1/fbig/status", map[string]string{"label": ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty label, got %d", rec.Code)
	}
}

func TestUploadAndServeBlob(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	_ = form.WriteField("title", "Launch teaser")
	_ = form.WriteField("caption", "Coming soon")
	_ = form.WriteField("location", slot)
	part, err := form.CreateFormFile("file", "teaser.png")
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	_, _ = part.Write([]byte("png-bytes"))
	_ = form.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/projects/p1/instagram/items?wait=1", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var result MoveResult
	decode(t, rec, &result)
	if result.Item.Title != "Launch teaser" || result.Item.Location != item.Location(slot) {
		t.Fatalf("unexpected item %+v", result.Item)
	}
	if !strings.HasPrefix(result.Item.URL, "/api/blobs/p1/instagram/") {
		t.Fatalf("unexpected url %q", result.Item.URL)
	}

	blobRec := env.do(t, http.MethodGet, result.Item.URL, nil)
	if blobRec.Code != http.StatusOK || blobRec.Body.String() != "png-bytes" {
		t.Fatalf("blob fetch %d %q", blobRec.Code, blobRec.Body.String())
	}
	if rec := env.do(t, http.MethodGet, "/api/blobs/missing", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing blob, got %d", rec.Code)
	}

	searchRec := env.do(t, http.MethodGet, "/api/projects/p1/instagram/search?q=teaser", nil)
	var resp struct {
		Total   int `json:"total"`
		Results []struct {
			ID string `json:"id"`
		} `json:"results"`
	}
	decode(t, searchRec, &resp)
	if resp.Total != 1 || resp.Results[0].ID != result.Item.ID {
		t.Fatalf("unexpected search response %+v", resp)
	}
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		raw  string
		want item.Location
		ok   bool
	}{
		{raw: `"pool"`, want: item.Pool, ok: true},
		{raw: `"2024-0-31"`, want: "2024-0-31", ok: true},
		{raw: `{"year":2024,"month":11,"day":31}`, want: "2024-11-31", ok: true},
		{raw: `{"year":2024,"month":0,"day":1}`, want: "2024-0-1", ok: true},
		{raw: `{"year":2023,"month":1,"day":29}`},
		{raw: `{"year":2024,"month":12,"day":1}`},
		{raw: `"2024-01-05"`},
		{raw: `42`},
		{raw: `null`},
		{raw: ``},
	}
	for _, tt := range tests {
		got, err := parseTarget(json.RawMessage(tt.raw))
		if tt.ok && (err != nil || got != tt.want) {
			t.Errorf("parseTarget(%s) = %q, %v; want %q", tt.raw, got, err, tt.want)
		}
		if !tt.ok && err == nil {
			t.Errorf("parseTarget(%s) = %q; want error", tt.raw, got)
		}
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "domain", err: domainError(418, "TEAPOT", "short and stout", nil), status: 418, code: "TEAPOT"},
		{name: "closed", err: remote.ErrClosed, status: http.StatusServiceUnavailable, code: "UNAVAILABLE"},
		{name: "deadline", err: context.DeadlineExceeded, status: http.StatusGatewayTimeout, code: "TIMEOUT"},
		{name: "unknown", err: io.ErrUnexpectedEOF, status: http.StatusInternalServerError, code: "SERVER_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, _, _ := mapError(tt.err)
			if status != tt.status || code != tt.code {
				t.Fatalf("mapError = %d %s, want %d %s", status, code, tt.status, tt.code)
			}
		})
	}
}

func TestServiceClosedRejectsBoards(t *testing.T) {
	env := newTestEnv(t)
	if err := env.service.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	rec := env.do(t, http.MethodGet, "/api/projects/p1/instagram/board", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after close, got %d", rec.Code)
	}
}
