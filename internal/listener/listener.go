// Package listener applies remote partition snapshots to the local item
// store. Bursts of snapshots are debounced into a single merge, and the
// in-flight tracker decides which local items a merge may touch.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cadence/api/internal/clock"
	"cadence/api/internal/item"
	"cadence/api/internal/remote"
	"cadence/api/internal/state"
)

const (
	DefaultDebounce = 200 * time.Millisecond
	DefaultMaxWait  = time.Second
)

// Policy decides how a snapshot interacts with in-flight items.
type Policy int

const (
	// SkipWhileInFlight defers the whole merge while any item is in
	// flight and applies the latest deferred snapshot once the tracker
	// drains.
	SkipWhileInFlight Policy = iota
	// ExcludeInFlight merges immediately but leaves in-flight items at
	// their local value.
	ExcludeInFlight
)

func (p Policy) String() string {
	switch p {
	case SkipWhileInFlight:
		return "skip-while-in-flight"
	case ExcludeInFlight:
		return "exclude-in-flight"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Merger is the write side of the local store.
type Merger interface {
	Merge(remote []item.Item, skip func(id string) bool) state.MergeStats
}

// Tracker is the read side of the in-flight tracker.
type Tracker interface {
	IsInFlight(itemID string) bool
	Any() bool
	OnChange(fn func())
}

// MergeResult describes one debounced snapshot.
type MergeResult struct {
	Version  int64
	Applied  int
	Skipped  int
	Removed  int
	Dropped  int
	Deferred bool
}

type Config struct {
	Debounce time.Duration
	MaxWait  time.Duration
	Policy   Policy
	Clock    clock.Clock
	Logger   *slog.Logger
	OnMerge  func(MergeResult)
}

type Listener struct {
	source  remote.DocumentStore
	path    remote.Path
	merger  Merger
	tracker Tracker
	cfg     Config

	mu           sync.Mutex
	pending      *remote.Snapshot
	firstPending time.Time
	timer        *clock.Timer
	generation   uint64
	deferred     *remote.Snapshot
	lastVersion  int64
}

func New(source remote.DocumentStore, path remote.Path, merger Merger, tracker Tracker, cfg Config) *Listener {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.MaxWait < cfg.Debounce {
		cfg.MaxWait = DefaultMaxWait
		if cfg.MaxWait < cfg.Debounce {
			cfg.MaxWait = cfg.Debounce
		}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	l := &Listener{
		source:  source,
		path:    path,
		merger:  merger,
		tracker: tracker,
		cfg:     cfg,
	}
	tracker.OnChange(l.onTrackerChange)
	return l
}

func (l *Listener) Policy() Policy { return l.cfg.Policy }

// Run subscribes to the partition and feeds every snapshot through
// Offer until ctx is cancelled or the subscription ends. A snapshot
// still waiting in the debounce window is flushed on return.
func (l *Listener) Run(ctx context.Context) error {
	snapshots, err := l.source.Subscribe(ctx, l.path)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", l.path, err)
	}
	l.cfg.Logger.Info("listening for snapshots",
		slog.String("path", l.path.String()),
		slog.String("policy", l.cfg.Policy.String()))

	for snap := range snapshots {
		l.Offer(snap)
	}
	l.Flush()

	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Offer queues snap, replacing any snapshot still waiting. The merge
// runs once no newer snapshot has arrived for the debounce interval, or
// once the first queued snapshot has waited MaxWait.
func (l *Listener) Offer(snap remote.Snapshot) {
	l.mu.Lock()
	now := l.cfg.Clock.Now()
	if l.pending == nil {
		l.firstPending = now
	}
	l.pending = &snap
	l.timer.Stop()
	l.generation++
	generation := l.generation

	wait := l.cfg.Debounce
	if deadline := l.firstPending.Add(l.cfg.MaxWait); now.Add(wait).After(deadline) {
		wait = deadline.Sub(now)
	}
	l.mu.Unlock()

	timer := l.cfg.Clock.AfterFunc(wait, func() { l.fire(generation) })

	l.mu.Lock()
	if l.generation == generation && l.pending != nil {
		l.timer = timer
	}
	l.mu.Unlock()
}

// Apply merges snap immediately, bypassing the debounce window. It
// applies the same stale-version, malformed-entry and in-flight rules
// as a debounced merge.
func (l *Listener) Apply(snap remote.Snapshot) {
	l.merge(snap)
}

// Flush merges the waiting snapshot now, if there is one.
func (l *Listener) Flush() {
	l.mu.Lock()
	l.generation++
	l.timer.Stop()
	l.timer = nil
	snap := l.pending
	l.pending = nil
	l.mu.Unlock()

	if snap != nil {
		l.merge(*snap)
	}
}

func (l *Listener) fire(generation uint64) {
	l.mu.Lock()
	if generation != l.generation || l.pending == nil {
		l.mu.Unlock()
		return
	}
	snap := *l.pending
	l.pending = nil
	l.timer = nil
	l.mu.Unlock()

	l.merge(snap)
}

func (l *Listener) merge(snap remote.Snapshot) {
	l.mu.Lock()
	if snap.Version > 0 && snap.Version < l.lastVersion {
		l.mu.Unlock()
		l.cfg.Logger.Debug("ignoring stale snapshot",
			slog.String("path", l.path.String()),
			slog.Int64("version", snap.Version),
			slog.Int64("last_version", l.lastVersion))
		return
	}
	l.mu.Unlock()

	if l.cfg.Policy == SkipWhileInFlight && l.tracker.Any() {
		l.mu.Lock()
		l.deferred = &snap
		l.mu.Unlock()
		l.report(MergeResult{Version: snap.Version, Deferred: true})
		// The tracker may have drained between the check and the store.
		if !l.tracker.Any() {
			l.applyDeferred()
		}
		return
	}

	l.mu.Lock()
	l.deferred = nil
	l.mu.Unlock()
	l.apply(snap)
}

func (l *Listener) apply(snap remote.Snapshot) {
	items, problems := Normalize(snap.Entries, l.cfg.Clock.Now())
	for _, problem := range problems {
		l.cfg.Logger.Warn("dropping malformed snapshot entry",
			slog.String("path", l.path.String()),
			slog.Any("error", problem))
	}

	// In-flight items are skipped under both policies: under
	// SkipWhileInFlight this only matters for a move that started after
	// the drain check.
	stats := l.merger.Merge(items, l.tracker.IsInFlight)

	l.mu.Lock()
	if snap.Version > l.lastVersion {
		l.lastVersion = snap.Version
	}
	l.mu.Unlock()

	l.report(MergeResult{
		Version: snap.Version,
		Applied: stats.Applied,
		Skipped: stats.Skipped,
		Removed: stats.Removed,
		Dropped: len(problems),
	})
}

// applyDeferred merges the snapshot held back while items were in
// flight. A snapshot waiting in the debounce window arrived later and
// may carry the drained writes, so it wins and the deferred one is
// dropped.
func (l *Listener) applyDeferred() {
	l.mu.Lock()
	snap := l.deferred
	l.deferred = nil
	superseded := l.pending != nil && (l.pending.Version == 0 || l.pending.Version >= snap.Version)
	l.mu.Unlock()
	if snap == nil {
		return
	}
	if superseded {
		l.cfg.Logger.Debug("dropping deferred snapshot for a newer pending one",
			slog.String("path", l.path.String()),
			slog.Int64("version", snap.Version))
		return
	}
	l.apply(*snap)
}

func (l *Listener) onTrackerChange() {
	if l.cfg.Policy != SkipWhileInFlight || l.tracker.Any() {
		return
	}
	l.applyDeferred()
}

func (l *Listener) report(result MergeResult) {
	if l.cfg.OnMerge != nil {
		l.cfg.OnMerge(result)
	}
}
