package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cadence/api/internal/blob"
	"cadence/api/internal/board"
	cerrors "cadence/api/internal/errors"
	"cadence/api/internal/item"
	"cadence/api/internal/remote"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		checks, ok := s.service.Ready(ctx)
		status := "ready"
		statusCode := http.StatusOK
		if !ok {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     ok,
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/blobs/") {
		s.handleBlob(w, r, strings.TrimPrefix(r.URL.Path, "/api/blobs/"))
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) == 5 && parts[0] == "api" && parts[1] == "projects" {
		path, err := ParsePath(parts[2], parts[3])
		if err != nil {
			s.fail(w, err)
			return
		}
		s.handleProject(w, r, path, parts[4])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleProject(w http.ResponseWriter, r *http.Request, path remote.Path, resource string) {
	switch {
	case resource == "board" && r.Method == http.MethodGet:
		view, err := s.service.View(r.Context(), path)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)

	case resource == "moves" && r.Method == http.MethodPost:
		var body struct {
			ItemID string          `json:"itemId"`
			Target json.RawMessage `json:"target"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, string(cerrors.ErrInvalidRequest), err.Error(), nil)
			return
		}
		if strings.TrimSpace(body.ItemID) == "" {
			writeError(w, http.StatusBadRequest, string(cerrors.ErrInvalidRequest), "itemId is required", nil)
			return
		}
		target, err := parseTarget(body.Target)
		if err != nil {
			s.fail(w, err)
			return
		}
		result, err := s.service.Move(r.Context(), path, body.ItemID, target, wantsWait(r))
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, moveStatus(result), result)

	case resource == "items" && r.Method == http.MethodPost:
		s.handleUpload(w, r, path)

	case resource == "status" && r.Method == http.MethodPut:
		var body struct {
			Label string `json:"label"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, string(cerrors.ErrInvalidRequest), err.Error(), nil)
			return
		}
		if err := s.service.SetStatus(r.Context(), path, body.Label); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "label": strings.TrimSpace(body.Label)})

	case resource == "search" && r.Method == http.MethodGet:
		query := r.URL.Query()
		resp, err := s.service.Search(r.Context(), path, query.Get("q"), queryInt(query.Get("limit")), queryInt(query.Get("offset")))
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)

	case resource == "activity" && r.Method == http.MethodGet:
		entries, err := s.service.Activity(r.Context(), path, queryInt(r.URL.Query().Get("limit")))
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"activity": entries})

	case resource == "live" && r.Method == http.MethodGet:
		s.handleLive(w, r, path)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request, path remote.Path) {
	r.Body = http.MaxBytesReader(w, r.Body, blob.MaxUploadSize+(1<<20))
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, http.StatusBadRequest, string(cerrors.ErrInvalidRequest), "invalid multipart body", nil)
		return
	}
	defer r.MultipartForm.RemoveAll()

	up := board.Upload{
		URL:     r.FormValue("url"),
		Title:   r.FormValue("title"),
		Caption: r.FormValue("caption"),
		Label:   r.FormValue("label"),
	}
	if raw := strings.TrimSpace(r.FormValue("location")); raw != "" {
		loc, err := item.ParseLocation(raw)
		if err != nil {
			s.fail(w, cerrors.NewInvalidTarget(raw))
			return
		}
		up.Location = loc
	}
	file, header, err := r.FormFile("file")
	if err == nil {
		defer file.Close()
		up.Name = header.Filename
		up.Size = header.Size
		up.ContentType = header.Header.Get("Content-Type")
		up.Body = file
	} else if !errors.Is(err, http.ErrMissingFile) {
		writeError(w, http.StatusBadRequest, string(cerrors.ErrInvalidRequest), "invalid file part", nil)
		return
	}

	result, err := s.service.AddItem(r.Context(), path, up, wantsWait(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	status := http.StatusAccepted
	if result.Confirmed {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

func (s *HTTPServer) handleBlob(w http.ResponseWriter, r *http.Request, key string) {
	obj, ok := s.service.Blob(key)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(obj.Data)
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Printf("request failed: %v", err)
	}
	writeError(w, status, code, message, details)
}

// parseTarget accepts "pool", a slot key string, or {year, month, day}
// with a zero-indexed month.
func parseTarget(raw json.RawMessage) (item.Location, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", cerrors.NewInvalidTarget("")
	}
	var key string
	if err := json.Unmarshal(raw, &key); err == nil {
		loc, err := item.ParseLocation(key)
		if err != nil {
			return "", cerrors.NewInvalidTarget(key)
		}
		return loc, nil
	}
	var day struct {
		Year  *int `json:"year"`
		Month *int `json:"month"`
		Day   *int `json:"day"`
	}
	if err := json.Unmarshal(raw, &day); err != nil || day.Year == nil || day.Month == nil || day.Day == nil {
		return "", cerrors.NewInvalidTarget(string(raw))
	}
	loc := item.SlotKey(*day.Year, *day.Month, *day.Day)
	if !loc.Valid() {
		return "", cerrors.NewInvalidTarget(string(loc))
	}
	return loc, nil
}

func moveStatus(result MoveResult) int {
	if result.Confirmed {
		return http.StatusOK
	}
	return http.StatusAccepted
}

func wantsWait(r *http.Request) bool {
	switch strings.ToLower(r.URL.Query().Get("wait")) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func queryInt(value string) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

// RequestID returns the id assigned to the request by the middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
