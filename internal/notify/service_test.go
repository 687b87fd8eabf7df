package notify

import (
	"context"
	"strings"
	"testing"
	"time"

	"cadence/api/internal/item"
	"cadence/api/internal/pipeline"
	"cadence/api/internal/remote"
)

func receiveToast(t *testing.T, ch <-chan Toast) Toast {
	t.Helper()
	select {
	case toast := <-ch:
		return toast
	case <-time.After(time.Second):
		t.Fatal("no toast received")
		return Toast{}
	}
}

func TestHubFansOutToSubscribers(t *testing.T) {
	hub := NewHub()
	a, cancelA := hub.Subscribe(1)
	b, cancelB := hub.Subscribe(1)
	defer cancelB()

	hub.Publish(Toast{Level: pipeline.ToastWarning, Message: "full"})
	if got := receiveToast(t, a); got.Message != "full" || got.At.IsZero() {
		t.Fatalf("a got %+v", got)
	}
	if got := receiveToast(t, b); got.Level != pipeline.ToastWarning {
		t.Fatalf("b got %+v", got)
	}

	cancelA()
	cancelA()
	if _, ok := <-a; ok {
		t.Fatal("cancelled subscription still open")
	}
	hub.Publish(Toast{Message: "after"})
	if got := receiveToast(t, b); got.Message != "after" {
		t.Fatalf("b got %+v", got)
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe(1)
	defer cancel()

	hub.Publish(Toast{Message: "one"})
	hub.Publish(Toast{Message: "two"})
	if got := receiveToast(t, ch); got.Message != "one" {
		t.Fatalf("got %+v", got)
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected toast %+v", extra)
	default:
	}
}

func moveEvent() pipeline.Event {
	return pipeline.Event{
		Action: pipeline.ActionMove,
		Path:   remote.Path{ProjectID: "p1", Instance: item.Instagram},
		ItemID: "a",
		Title:  "Teaser",
		From:   item.Pool,
		To:     item.SlotKey(2024, 2, 14),
		Actor:  "sam",
	}
}

func TestServiceNotifySendsToProjectRecipients(t *testing.T) {
	m, sent := captureMailer(MailConfig{Host: "smtp.example.com", Port: "25", From: "noreply@example.com"})
	svc := NewService(nil, m, func(projectID string) []string {
		if projectID == "p1" {
			return []string{"team@example.com"}
		}
		return nil
	}, nil)

	if err := svc.Notify(context.Background(), moveEvent()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(*sent) != 1 {
		t.Fatalf("sent %d, want 1", len(*sent))
	}
	if !strings.Contains((*sent)[0].msg, "Thu 14 Mar 2024") {
		t.Error("notice should name the scheduled day")
	}
}

func TestServiceNotifySkipsWithoutMailerOrRecipients(t *testing.T) {
	svc := NewService(nil, nil, nil, nil)
	if err := svc.Notify(context.Background(), moveEvent()); err != nil {
		t.Fatalf("Notify without mailer: %v", err)
	}

	m, sent := captureMailer(MailConfig{Host: "smtp.example.com", Port: "25", From: "noreply@example.com"})
	svc = NewService(nil, m, nil, nil)
	if err := svc.Notify(context.Background(), moveEvent()); err != nil {
		t.Fatalf("Notify without recipients: %v", err)
	}
	event := moveEvent()
	event.To = item.Pool
	svc = NewService(nil, m, func(string) []string { return []string{"x@example.com"} }, nil)
	if err := svc.Notify(context.Background(), event); err != nil {
		t.Fatalf("Notify to pool: %v", err)
	}
	if len(*sent) != 0 {
		t.Fatalf("sent %d, want 0", len(*sent))
	}
}

func TestScopedServiceToastsToOwnHub(t *testing.T) {
	shared := NewService(nil, nil, nil, nil)
	own := NewHub()
	scoped := shared.Scoped(own)

	sharedCh, cancelShared := shared.Hub().Subscribe(1)
	defer cancelShared()
	ownCh, cancelOwn := own.Subscribe(1)
	defer cancelOwn()

	var _ pipeline.Notifier = scoped
	scoped.Toast(pipeline.ToastError, "rolled back")
	if got := receiveToast(t, ownCh); got.Message != "rolled back" {
		t.Fatalf("got %+v", got)
	}
	select {
	case toast := <-sharedCh:
		t.Fatalf("shared hub received %+v", toast)
	default:
	}
}
