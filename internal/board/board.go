// Package board wires one viewer's reconciliation layer: the local
// store, in-flight tracker, mutation pipeline, remote listener and
// gesture recognizer for a single partition.
package board

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cadence/api/internal/clock"
	cerrors "cadence/api/internal/errors"
	"cadence/api/internal/gesture"
	"cadence/api/internal/inflight"
	"cadence/api/internal/item"
	"cadence/api/internal/listener"
	"cadence/api/internal/pipeline"
	"cadence/api/internal/remote"
	"cadence/api/internal/slots"
	"cadence/api/internal/state"
)

// Surface selects the slot capacity and the snapshot merge policy.
type Surface string

const (
	SurfaceDesktop Surface = "desktop"
	SurfaceMobile  Surface = "mobile"
)

func ParseSurface(s string) (Surface, error) {
	switch Surface(strings.ToLower(strings.TrimSpace(s))) {
	case "", SurfaceDesktop:
		return SurfaceDesktop, nil
	case SurfaceMobile:
		return SurfaceMobile, nil
	default:
		return "", cerrors.NewInvalidRequest(fmt.Sprintf("unknown surface %q", s))
	}
}

func (s Surface) Capacity() int {
	if s == SurfaceMobile {
		return slots.MobileCapacity
	}
	return slots.DefaultCapacity
}

func (s Surface) Policy() listener.Policy {
	if s == SurfaceMobile {
		return listener.ExcludeInFlight
	}
	return listener.SkipWhileInFlight
}

// Uploader stores item media.
type Uploader interface {
	Upload(ctx context.Context, folder, name string, body io.Reader, size int64, contentType string) (string, error)
}

type Options struct {
	Path    remote.Path
	Surface Surface
	// Capacity overrides the surface capacity when positive.
	Capacity int
	Docs     remote.DocumentStore
	Blobs    Uploader

	Recorder pipeline.Recorder
	Notifier pipeline.Notifier
	Actor    string

	Debounce    time.Duration
	MaxWait     time.Duration
	InFlightTTL time.Duration
	BatchWindow time.Duration
	MaxAttempts int
	BaseBackoff time.Duration

	HitTester gesture.HitTester
	OnTap     func(itemID string)
	OnHaptic  func()

	Clock  clock.Clock
	Logger *slog.Logger
	NewID  func() string
}

type Board struct {
	opts       Options
	capacity   int
	logger     *slog.Logger
	store      *state.Store
	tracker    *inflight.Tracker
	pipeline   *pipeline.Pipeline
	listener   *listener.Listener
	recognizer *gesture.Recognizer

	mu       sync.Mutex
	watchers map[int]func(View)
	nextID   int
}

func New(opts Options) (*Board, error) {
	if err := opts.Path.Validate(); err != nil {
		return nil, cerrors.NewInvalidRequest(err.Error())
	}
	if opts.Docs == nil {
		return nil, fmt.Errorf("board: document store is required")
	}
	if opts.Surface == "" {
		opts.Surface = SurfaceDesktop
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = opts.Surface.Capacity()
	}
	logger := opts.Logger.With(
		slog.String("path", opts.Path.String()),
		slog.String("surface", string(opts.Surface)))

	b := &Board{
		opts:     opts,
		capacity: capacity,
		logger:   logger,
		store:    state.New(),
		watchers: make(map[int]func(View)),
	}
	b.tracker = inflight.New(opts.Clock, opts.InFlightTTL)
	b.pipeline = pipeline.New(b.store, b.tracker, opts.Docs, pipeline.Config{
		Path:        opts.Path,
		Capacity:    capacity,
		MaxAttempts: opts.MaxAttempts,
		BaseBackoff: opts.BaseBackoff,
		BatchWindow: opts.BatchWindow,
		Actor:       opts.Actor,
		Recorder:    opts.Recorder,
		Notifier:    opts.Notifier,
		Clock:       opts.Clock,
		Logger:      logger,
	})
	b.listener = listener.New(opts.Docs, opts.Path, b.store, b.tracker, listener.Config{
		Debounce: opts.Debounce,
		MaxWait:  opts.MaxWait,
		Policy:   opts.Surface.Policy(),
		Clock:    opts.Clock,
		Logger:   logger,
		OnMerge:  b.onMerge,
	})
	b.recognizer = gesture.New(b,
		gesture.WithClock(opts.Clock),
		gesture.WithLogger(logger),
		gesture.WithHitTester(opts.HitTester))

	b.store.Watch(func(state.Change) { b.publish() })
	b.tracker.OnChange(b.publish)
	b.recognizer.OnChange(func(gesture.State) { b.publish() })
	return b, nil
}

func (b *Board) Path() remote.Path { return b.opts.Path }

func (b *Board) Surface() Surface { return b.opts.Surface }

func (b *Board) Capacity() int { return b.capacity }

// Load reads the partition once and merges it, so the board is usable
// before Run delivers its first debounced snapshot.
func (b *Board) Load(ctx context.Context) error {
	snap, err := b.opts.Docs.Read(ctx, b.opts.Path)
	if err != nil {
		return fmt.Errorf("load %s: %w", b.opts.Path, err)
	}
	b.listener.Apply(snap)
	return nil
}

// Run keeps the board in sync with the remote partition until ctx is
// cancelled.
func (b *Board) Run(ctx context.Context) error {
	return b.listener.Run(ctx)
}

// Close waits for outstanding writes.
func (b *Board) Close() error {
	return b.pipeline.Close()
}

// OnDrop moves itemID to the given day. month is zero-indexed.
func (b *Board) OnDrop(ctx context.Context, day, month, year int, itemID string) (*pipeline.Pending, error) {
	return b.Move(ctx, itemID, item.SlotKey(year, month, day))
}

// OnPoolDrop moves itemID back to the pool.
func (b *Board) OnPoolDrop(ctx context.Context, itemID string) (*pipeline.Pending, error) {
	return b.Move(ctx, itemID, item.Pool)
}

func (b *Board) Move(ctx context.Context, itemID string, target item.Location) (*pipeline.Pending, error) {
	return b.pipeline.Move(ctx, itemID, target)
}

func (b *Board) Item(id string) (item.Item, bool) { return b.store.Get(id) }

func (b *Board) Items() []item.Item { return b.store.Items() }

// Slot returns the items scheduled on key in drop order.
func (b *Board) Slot(key item.Location) []item.Item {
	return b.store.Slots().Items(key)
}

func (b *Board) Pool() []item.Item {
	return slots.Pool(b.store.Items())
}

// CardsInTransit lists the items whose move is not yet confirmed.
func (b *Board) CardsInTransit() []string { return b.tracker.IDs() }

func (b *Board) DraggedItemID() string { return b.recognizer.State().DraggedItemID }

func (b *Board) HoveredSlotKey() item.Location { return b.recognizer.State().HoveredSlotKey }

func (b *Board) Gesture() *gesture.Recognizer { return b.recognizer }

// SetStatus writes the partition's status label. It is a single scalar
// field update and never touches the item map.
func (b *Board) SetStatus(ctx context.Context, label string) error {
	label = strings.TrimSpace(label)
	if label == "" {
		return cerrors.NewInvalidRequest("status label is required")
	}
	err := b.opts.Docs.UpdateFields(ctx, b.opts.Path.Document(), map[string]any{
		b.opts.Path.StatusField(): label,
	})
	if err != nil {
		return fmt.Errorf("set status of %s: %w", b.opts.Path, err)
	}
	return nil
}

// CanAccept implements gesture.Host.
func (b *Board) CanAccept(target item.Location, itemID string) bool {
	if _, ok := b.store.Get(itemID); !ok {
		return false
	}
	if target.IsPool() {
		return true
	}
	return b.store.Slots().HasRoom(target, itemID, b.capacity)
}

// Commit implements gesture.Host. Failed drops are logged and otherwise
// ignored; the pipeline raises its own toasts.
func (b *Board) Commit(drop gesture.Drop) {
	if _, err := b.Move(context.Background(), drop.ItemID, drop.Target); err != nil {
		b.logger.Info("drop not applied",
			slog.String("item_id", drop.ItemID),
			slog.String("target", string(drop.Target)),
			slog.String("modality", string(drop.Modality)),
			slog.Any("error", err))
	}
}

func (b *Board) Tap(itemID string) {
	if b.opts.OnTap != nil {
		b.opts.OnTap(itemID)
	}
}

func (b *Board) Haptic() {
	if b.opts.OnHaptic != nil {
		b.opts.OnHaptic()
	}
}

func (b *Board) onMerge(result listener.MergeResult) {
	if result.Deferred {
		b.logger.Debug("snapshot deferred while items are in flight", slog.Int64("version", result.Version))
		return
	}
	if result.Applied+result.Removed > 0 || result.Dropped > 0 {
		b.logger.Debug("snapshot merged",
			slog.Int64("version", result.Version),
			slog.Int("applied", result.Applied),
			slog.Int("removed", result.Removed),
			slog.Int("skipped", result.Skipped),
			slog.Int("dropped", result.Dropped))
	}
}
