package fanout

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
)

// recordingSubscriber captures delivered events
type recordingSubscriber struct {
	mu     sync.Mutex
	events []interface{}
	fail   bool
}

func (r *recordingSubscriber) Deliver(event interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fail {
		return errors.New("subscriber broken")
	}
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSubscriber) Events() []interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]interface{}(nil), r.events...)
}

func createTestHub() *Hub {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewHub(logger)
}

func TestPublishReachesSessionSubscribers(t *testing.T) {
	hub := createTestHub()

	subA := &recordingSubscriber{}
	subB := &recordingSubscriber{}
	hub.Subscribe("sess-1", "a", subA)
	hub.Subscribe("sess-1", "b", subB)

	hub.Publish("sess-1", "event-1")

	if len(subA.Events()) != 1 || len(subB.Events()) != 1 {
		t.Errorf("Expected both subscribers to receive the event, got %d and %d",
			len(subA.Events()), len(subB.Events()))
	}
}

func TestPublishIsScopedToSession(t *testing.T) {
	hub := createTestHub()

	subA := &recordingSubscriber{}
	subB := &recordingSubscriber{}
	hub.Subscribe("sess-1", "a", subA)
	hub.Subscribe("sess-2", "b", subB)

	hub.Publish("sess-1", "event-1")

	if len(subA.Events()) != 1 {
		t.Errorf("Expected sess-1 subscriber to receive event, got %d", len(subA.Events()))
	}
	if len(subB.Events()) != 0 {
		t.Errorf("Expected sess-2 subscriber to receive nothing, got %d", len(subB.Events()))
	}
}

func TestPublishOrderPreserved(t *testing.T) {
	hub := createTestHub()

	sub := &recordingSubscriber{}
	hub.Subscribe("sess-1", "a", sub)

	for i := 0; i < 10; i++ {
		hub.Publish("sess-1", i)
	}

	events := sub.Events()
	if len(events) != 10 {
		t.Fatalf("Expected 10 events, got %d", len(events))
	}
	for i, e := range events {
		if e != i {
			t.Errorf("Event %d out of order: got %v", i, e)
		}
	}
}

func TestFailingSubscriberDoesNotBlockOthers(t *testing.T) {
	hub := createTestHub()

	broken := &recordingSubscriber{fail: true}
	healthy := &recordingSubscriber{}
	hub.Subscribe("sess-1", "broken", broken)
	hub.Subscribe("sess-1", "healthy", healthy)

	hub.Publish("sess-1", "event-1")

	if len(healthy.Events()) != 1 {
		t.Errorf("Expected healthy subscriber to receive event, got %d", len(healthy.Events()))
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := createTestHub()

	sub := &recordingSubscriber{}
	hub.Subscribe("sess-1", "a", sub)
	hub.Unsubscribe("sess-1", "a")

	hub.Publish("sess-1", "event-1")

	if len(sub.Events()) != 0 {
		t.Errorf("Expected no events after unsubscribe, got %d", len(sub.Events()))
	}
	if hub.SubscriberCount("sess-1") != 0 {
		t.Errorf("Expected empty subscriber set, got %d", hub.SubscriberCount("sess-1"))
	}
}

func TestUnsubscribeAllRemovesFromEverySession(t *testing.T) {
	hub := createTestHub()

	sub := &recordingSubscriber{}
	hub.Subscribe("sess-1", "a", sub)
	hub.Subscribe("sess-2", "a", sub)

	hub.UnsubscribeAll("a")

	hub.Publish("sess-1", "x")
	hub.Publish("sess-2", "y")

	if len(sub.Events()) != 0 {
		t.Errorf("Expected no events after UnsubscribeAll, got %d", len(sub.Events()))
	}
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	hub := createTestHub()
	hub.Publish("sess-none", "event")
}
