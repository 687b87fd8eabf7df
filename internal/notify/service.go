// Package notify surfaces pipeline outcomes: transient toasts for the
// user who acted and collaboration emails for everyone else.
package notify

import (
	"context"
	"log/slog"

	"cadence/api/internal/pipeline"
)

// Service implements pipeline.Notifier.
type Service struct {
	hub        *Hub
	mailer     *Mailer
	recipients func(projectID string) []string
	logger     *slog.Logger
}

// NewService builds a notifier. mailer may be nil or unconfigured, in
// which case collaboration notices are skipped.
func NewService(hub *Hub, mailer *Mailer, recipients func(projectID string) []string, logger *slog.Logger) *Service {
	if hub == nil {
		hub = NewHub()
	}
	if recipients == nil {
		recipients = func(string) []string { return nil }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{hub: hub, mailer: mailer, recipients: recipients, logger: logger}
}

func (s *Service) Hub() *Hub { return s.hub }

func (s *Service) Toast(level, message string) {
	s.hub.Publish(Toast{Level: level, Message: message})
}

func (s *Service) Notify(ctx context.Context, event pipeline.Event) error {
	if !s.mailer.IsConfigured() {
		return nil
	}
	to := s.recipients(event.Path.ProjectID)
	if len(to) == 0 {
		return nil
	}
	day, ok := event.To.Date()
	if !ok {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	notice := MoveNotice{
		ProjectID: event.Path.ProjectID,
		Instance:  event.Path.Instance.DisplayName(),
		ItemTitle: event.Title,
		Day:       dayLabel(day),
		Actor:     event.Actor,
	}
	s.logger.Debug("sending collaboration notice",
		slog.String("item_id", event.ItemID),
		slog.Int("recipients", len(to)))
	return s.mailer.SendMoveNotice(to, notice)
}

// Scoped returns a notifier whose toasts go to hub while notices still
// use the shared mailer, so each viewer only sees their own toasts.
func (s *Service) Scoped(hub *Hub) *Service {
	return &Service{hub: hub, mailer: s.mailer, recipients: s.recipients, logger: s.logger}
}
