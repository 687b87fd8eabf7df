package pipeline

import (
	"context"
	"sync"
)

// Pending is the eventual outcome of one optimistic mutation. The local
// store already reflects the mutation when Pending is returned.
type Pending struct {
	ItemID string

	noop bool
	once sync.Once
	done chan struct{}
	err  error
}

func newPending(itemID string) *Pending {
	return &Pending{ItemID: itemID, done: make(chan struct{})}
}

func resolvedPending(itemID string) *Pending {
	p := newPending(itemID)
	p.noop = true
	p.resolve(nil)
	return p
}

func (p *Pending) resolve(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Done is closed once the mutation is persisted or rolled back.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Err returns the outcome. It is nil until Done is closed.
func (p *Pending) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// NoOp reports whether the mutation was skipped because the item was
// already at its target.
func (p *Pending) NoOp() bool { return p.noop }

// Wait blocks until the mutation settles or ctx is done. Cancelling ctx
// abandons the wait, not the mutation.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
