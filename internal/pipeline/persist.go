package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cerrors "cadence/api/internal/errors"
	"cadence/api/internal/item"
	"cadence/api/internal/remote"
	"cadence/api/internal/slots"
	"cadence/api/internal/state"
)

// persist writes one batch and settles every mutation in it. Mutations
// of the same item are coalesced: the last one decides the written
// value, the first one holds the value to roll back to.
func (p *Pipeline) persist(batch []*mutation) {
	defer p.writes.Done()

	ctx := batch[0].ctx
	order := make([]string, 0, len(batch))
	first := make(map[string]*mutation, len(batch))
	last := make(map[string]*mutation, len(batch))
	for _, m := range batch {
		if _, ok := first[m.itemID]; !ok {
			first[m.itemID] = m
			order = append(order, m.itemID)
		}
		last[m.itemID] = m
	}

	err := p.writeWithRetry(ctx, order, last)
	displaced := make(map[string]bool)
	if err != nil {
		for _, id := range order {
			displaced[id] = p.rollback(first[id], last[id])
		}
	}

	for _, m := range batch {
		p.release(m.itemID)
	}

	if err != nil {
		for _, id := range order {
			failure := cerrors.NewPersistenceFailure(id, p.cfg.MaxAttempts, err)
			p.cfg.Logger.Error("mutation rolled back",
				slog.String("path", p.cfg.Path.String()),
				slog.String("item_id", id),
				slog.Int("attempts", p.cfg.MaxAttempts),
				slog.Any("error", err))
			message := fmt.Sprintf("Could not save %q, change reverted", last[id].next.Title)
			if displaced[id] {
				message = fmt.Sprintf("Could not save %q and its slot is full, moved to the pool", last[id].next.Title)
			}
			p.cfg.Notifier.Toast(ToastError, message)
			for _, m := range batch {
				if m.itemID == id {
					m.pending.resolve(failure)
				}
			}
		}
		return
	}

	for _, m := range batch {
		p.afterCommit(m)
		m.pending.resolve(nil)
	}
}

func (p *Pipeline) writeWithRetry(ctx context.Context, order []string, last map[string]*mutation) error {
	var err error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		for _, id := range order {
			p.tracker.Mark(id)
		}
		err = p.write(ctx, order, last)
		if err == nil {
			return nil
		}
		p.cfg.Logger.Warn("partition write failed",
			slog.String("path", p.cfg.Path.String()),
			slog.Int("attempt", attempt),
			slog.Int("items", len(order)),
			slog.Any("error", err))
		if attempt == p.cfg.MaxAttempts {
			break
		}
		select {
		case <-p.cfg.Clock.After(p.backoff(attempt)):
		case <-ctx.Done():
			return err
		}
	}
	return err
}

func (p *Pipeline) write(ctx context.Context, order []string, last map[string]*mutation) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.AttemptTimeout)
	defer cancel()

	payloads := make(map[string][]byte, len(order))
	for _, id := range order {
		raw, err := remote.EncodeItem(last[id].next)
		if err != nil {
			return err
		}
		payloads[id] = raw
	}
	return p.remote.Update(ctx, p.cfg.Path, func(current remote.Entries) (remote.Entries, error) {
		for id, raw := range payloads {
			current[id] = raw
		}
		return current, nil
	})
}

// backoff returns the delay after the given failed attempt.
func (p *Pipeline) backoff(attempt int) time.Duration {
	d := p.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.cfg.MaxBackoff {
			return p.cfg.MaxBackoff
		}
	}
	return d
}

// rollback restores the pre-mutation value unless a newer local
// mutation has replaced the one that failed. A slot that filled up
// since the move cannot take the item back; it goes to the pool and
// rollback reports true.
func (p *Pipeline) rollback(first, last *mutation) bool {
	if first.kind == kindAdd {
		_, _, err := p.store.Apply(first.itemID, state.SourceRollback, func(cur item.Item, _ slots.Index) (item.Item, error) {
			if !sameMutation(cur, last.next) {
				return cur, errSuperseded
			}
			return cur, nil
		})
		if err == nil {
			p.store.Delete(first.itemID, state.SourceRollback)
		}
		return false
	}

	displaced := false
	_, _, err := p.store.Apply(first.itemID, state.SourceRollback, func(cur item.Item, index slots.Index) (item.Item, error) {
		if !sameMutation(cur, last.next) {
			return cur, errSuperseded
		}
		restored := cur
		restored.Location = first.prev.Location
		restored.LastMoved = first.prev.LastMoved
		if !index.HasRoom(restored.Location, first.itemID, p.cfg.Capacity) {
			displaced = true
			restored.Location = item.Pool
		}
		return restored, nil
	})
	if err != nil {
		p.cfg.Logger.Info("skipping rollback",
			slog.String("item_id", first.itemID),
			slog.Any("reason", err))
		return false
	}
	if displaced {
		p.cfg.Logger.Warn("rollback target full, item moved to pool",
			slog.String("item_id", first.itemID),
			slog.String("slot", string(first.prev.Location)))
	}
	return displaced
}

func sameMutation(cur, next item.Item) bool {
	return cur.Location == next.Location && cur.LastMoved.Equal(next.LastMoved)
}

func (p *Pipeline) afterCommit(m *mutation) {
	event := Event{
		Action: ActionMove,
		Path:   p.cfg.Path,
		ItemID: m.itemID,
		Title:  m.next.Title,
		From:   m.prev.Location,
		To:     m.next.Location,
		Actor:  p.cfg.Actor,
		At:     m.next.LastMoved,
	}
	if m.kind == kindAdd {
		event.Action = ActionAdd
		event.From = ""
	}

	p.effects.Add(1)
	go func() {
		defer p.effects.Done()
		ctx, cancel := context.WithTimeout(m.ctx, sideEffectTimeout)
		defer cancel()
		if err := p.cfg.Recorder.Record(ctx, event); err != nil {
			p.cfg.Logger.Error("activity log write failed",
				slog.String("item_id", event.ItemID),
				slog.Any("error", err))
		}
	}()

	if event.Action == ActionMove && !event.To.IsPool() {
		p.effects.Add(1)
		go func() {
			defer p.effects.Done()
			ctx, cancel := context.WithTimeout(m.ctx, sideEffectTimeout)
			defer cancel()
			if err := p.cfg.Notifier.Notify(ctx, event); err != nil {
				p.cfg.Logger.Error("collaboration notice failed",
					slog.String("item_id", event.ItemID),
					slog.Any("error", err))
			}
		}()
	}
}
