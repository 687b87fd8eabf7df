package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"strings"
	"sync"
	"time"

	"cadence/api/internal/blob"
	"cadence/api/internal/board"
	"cadence/api/internal/clock"
	"cadence/api/internal/config"
	cerrors "cadence/api/internal/errors"
	"cadence/api/internal/item"
	"cadence/api/internal/notify"
	"cadence/api/internal/pipeline"
	"cadence/api/internal/remote"
	"cadence/api/internal/search"
	"cadence/api/internal/store"
)

const loadTimeout = 10 * time.Second

// Dependencies are the external systems the service is wired to. Only
// Docs is required.
type Dependencies struct {
	Docs     remote.DocumentStore
	Activity store.ActivityStore
	// Database is pinged by the readiness check when set.
	Database *sql.DB
	Blobs    board.Uploader
	// Files serves in-process uploads when no object store is configured.
	Files  *blob.MemoryStore
	Search *search.Service
	Notify *notify.Service
	Clock  clock.Clock
	Logger *slog.Logger
}

// Service owns one headless board per partition for the REST surface
// and opens a private board for every live connection.
type Service struct {
	cfg  config.Config
	deps Dependencies

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	boards map[remote.Path]*board.Board
	closed bool
}

func New(cfg config.Config, deps Dependencies) *Service {
	if deps.Activity == nil {
		deps.Activity = store.NewMemoryActivityLog(0)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Search == nil {
		deps.Search = search.NewService(nil)
	}
	if deps.Notify == nil {
		deps.Notify = notify.NewService(nil, nil, nil, deps.Logger)
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:    cfg,
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		boards: make(map[remote.Path]*board.Board),
	}
}

// ParsePath validates the partition named in a request.
func ParsePath(projectID, instance string) (remote.Path, error) {
	inst, err := item.ParseInstance(instance)
	if err != nil {
		return remote.Path{}, domainError(400, "INVALID_INSTANCE", err.Error(), map[string]any{"instance": instance})
	}
	path := remote.Path{ProjectID: projectID, Instance: inst}
	if err := path.Validate(); err != nil {
		return remote.Path{}, cerrors.NewInvalidRequest(err.Error())
	}
	return path, nil
}

func (s *Service) boardOptions(path remote.Path, surface board.Surface, actor string, notifier pipeline.Notifier) board.Options {
	capacity := s.cfg.DesktopCapacity
	if surface == board.SurfaceMobile {
		capacity = s.cfg.MobileCapacity
	}
	return board.Options{
		Path:        path,
		Surface:     surface,
		Capacity:    capacity,
		Docs:        s.deps.Docs,
		Blobs:       s.deps.Blobs,
		Recorder:    activityRecorder{log: s.deps.Activity},
		Notifier:    notifier,
		Actor:       actor,
		Debounce:    s.cfg.Debounce,
		MaxWait:     s.cfg.MaxWait,
		InFlightTTL: s.cfg.InFlightTTL,
		BatchWindow: s.cfg.BatchWindow,
		MaxAttempts: s.cfg.MaxAttempts,
		BaseBackoff: s.cfg.BaseBackoff,
		Clock:       s.deps.Clock,
		Logger:      s.deps.Logger,
	}
}

// Board returns the shared board of a partition, loading it and
// starting its listener on first use.
func (s *Service) Board(ctx context.Context, path remote.Path) (*board.Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, remote.ErrClosed
	}
	if b, ok := s.boards[path]; ok {
		return b, nil
	}

	b, err := board.New(s.boardOptions(path, board.SurfaceDesktop, "api", s.deps.Notify))
	if err != nil {
		return nil, err
	}
	loadCtx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()
	if err := b.Load(loadCtx); err != nil {
		return nil, err
	}

	var lastVersion uint64
	var indexMu sync.Mutex
	b.Watch(func(v board.View) {
		indexMu.Lock()
		defer indexMu.Unlock()
		if v.Version == lastVersion {
			return
		}
		lastVersion = v.Version
		s.deps.Search.Sync(v.ProjectID, v.Instance, viewItems(v))
	})
	s.deps.Search.Sync(path.ProjectID, path.Instance, b.Items())

	s.boards[path] = b
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := b.Run(s.ctx); err != nil {
			log.Printf("board %s stopped: %v", path, err)
		}
	}()
	return b, nil
}

func viewItems(v board.View) []item.Item {
	items := append([]item.Item(nil), v.Pool...)
	for _, slot := range v.Slots {
		items = append(items, slot.Items...)
	}
	return items
}

// LiveHooks receive gesture feedback for a live viewer.
type LiveHooks struct {
	OnTap    func(itemID string)
	OnHaptic func()
}

// OpenLive creates a private board for one viewer. Toasts go to the
// returned hub only. The caller runs and closes the board.
func (s *Service) OpenLive(ctx context.Context, path remote.Path, surface board.Surface, actor string, hooks LiveHooks) (*board.Board, *notify.Hub, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, nil, remote.ErrClosed
	}

	hub := notify.NewHub()
	opts := s.boardOptions(path, surface, actor, s.deps.Notify.Scoped(hub))
	opts.OnTap = hooks.OnTap
	opts.OnHaptic = hooks.OnHaptic
	b, err := board.New(opts)
	if err != nil {
		return nil, nil, err
	}
	loadCtx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()
	if err := b.Load(loadCtx); err != nil {
		return nil, nil, err
	}
	return b, hub, nil
}

func (s *Service) View(ctx context.Context, path remote.Path) (board.View, error) {
	b, err := s.Board(ctx, path)
	if err != nil {
		return board.View{}, err
	}
	return b.View(), nil
}

// MoveResult reports the optimistic outcome of a move.
type MoveResult struct {
	Item      item.Item `json:"item"`
	NoOp      bool      `json:"noop"`
	Confirmed bool      `json:"confirmed"`
}

// Move schedules an item. With wait set it blocks until the write is
// persisted or rolled back.
func (s *Service) Move(ctx context.Context, path remote.Path, itemID string, target item.Location, wait bool) (MoveResult, error) {
	b, err := s.Board(ctx, path)
	if err != nil {
		return MoveResult{}, err
	}
	pending, err := b.Move(ctx, itemID, target)
	if err != nil {
		return MoveResult{}, err
	}
	return s.settle(ctx, b, pending, wait)
}

func (s *Service) settle(ctx context.Context, b *board.Board, pending *pipeline.Pending, wait bool) (MoveResult, error) {
	confirmed := pending.NoOp()
	if wait && !confirmed {
		if err := pending.Wait(ctx); err != nil {
			return MoveResult{}, err
		}
		confirmed = true
	}
	it, _ := b.Item(pending.ItemID)
	return MoveResult{Item: it, NoOp: pending.NoOp(), Confirmed: confirmed}, nil
}

// AddItem uploads media and creates a card in the partition.
func (s *Service) AddItem(ctx context.Context, path remote.Path, up board.Upload, wait bool) (MoveResult, error) {
	b, err := s.Board(ctx, path)
	if err != nil {
		return MoveResult{}, err
	}
	_, pending, err := b.AddItem(ctx, up)
	if err != nil {
		return MoveResult{}, err
	}
	return s.settle(ctx, b, pending, wait)
}

func (s *Service) SetStatus(ctx context.Context, path remote.Path, label string) error {
	b, err := s.Board(ctx, path)
	if err != nil {
		return err
	}
	return b.SetStatus(ctx, label)
}

func (s *Service) Search(ctx context.Context, path remote.Path, text string, limit, offset int) (search.Response, error) {
	b, err := s.Board(ctx, path)
	if err != nil {
		return search.Response{}, err
	}
	q := search.Query{
		ProjectID: path.ProjectID,
		Instance:  path.Instance,
		Text:      strings.TrimSpace(text),
		Limit:     limit,
		Offset:    offset,
	}
	return s.deps.Search.Search(q, b.Items), nil
}

func (s *Service) Activity(ctx context.Context, path remote.Path, limit int) ([]store.Activity, error) {
	return s.deps.Activity.ListActivity(ctx, path.ProjectID, string(path.Instance), limit)
}

// Blob returns an in-process upload.
func (s *Service) Blob(key string) (blob.Object, bool) {
	if s.deps.Files == nil {
		return blob.Object{}, false
	}
	return s.deps.Files.Get(key)
}

// Check is the outcome of one readiness probe.
type Check struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Ready probes the document store and, when configured, the database
// and search index.
func (s *Service) Ready(ctx context.Context) (map[string]Check, bool) {
	checks := map[string]Check{}
	ok := true
	record := func(name string, err error) {
		if err != nil {
			ok = false
			checks[name] = Check{Status: "error", Error: err.Error()}
			return
		}
		checks[name] = Check{Status: "ok"}
	}
	record("documents", s.deps.Docs.Ping(ctx))
	if s.deps.Database != nil {
		record("database", s.deps.Database.PingContext(ctx))
	}
	if s.deps.Search.Healthy() {
		checks["search"] = Check{Status: "ok"}
	} else {
		checks["search"] = Check{Status: "fallback"}
	}
	return checks, ok
}

// Close stops every shared board and waits for outstanding writes.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	boards := make([]*board.Board, 0, len(s.boards))
	for _, b := range s.boards {
		boards = append(boards, b)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	var firstErr error
	for _, b := range boards {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close board %s: %w", b.Path(), err)
		}
	}
	return firstErr
}

// activityRecorder writes committed mutations to the activity log.
type activityRecorder struct {
	log store.ActivityStore
}

func (r activityRecorder) Record(ctx context.Context, event pipeline.Event) error {
	return r.log.RecordActivity(ctx, store.Activity{
		ProjectID:    event.Path.ProjectID,
		Instance:     string(event.Path.Instance),
		ItemID:       event.ItemID,
		Action:       string(event.Action),
		FromLocation: string(event.From),
		ToLocation:   string(event.To),
		Actor:        event.Actor,
		CreatedAt:    event.At,
	})
}
