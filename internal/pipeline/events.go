package pipeline

import (
	"context"
	"time"

	"cadence/api/internal/item"
	"cadence/api/internal/remote"
)

type Action string

const (
	ActionMove Action = "move"
	ActionAdd  Action = "add"
)

// Event describes a committed mutation.
type Event struct {
	Action Action
	Path   remote.Path
	ItemID string
	Title  string
	From   item.Location
	To     item.Location
	Actor  string
	At     time.Time
}

// Toast levels.
const (
	ToastInfo    = "info"
	ToastWarning = "warning"
	ToastError   = "error"
)

// Recorder appends to the activity log.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// Notifier surfaces transient messages to the user and sends
// collaboration notices. Neither may block a mutation.
type Notifier interface {
	Toast(level, message string)
	Notify(ctx context.Context, event Event) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, event Event) error

func (f RecorderFunc) Record(ctx context.Context, event Event) error { return f(ctx, event) }

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, Event) error { return nil }

type nopNotifier struct{}

func (nopNotifier) Toast(string, string) {}

func (nopNotifier) Notify(context.Context, Event) error { return nil }
