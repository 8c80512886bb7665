package fanout

import (
	"log/slog"
	"sync"
)

// Subscriber receives events for one session. Deliver must be safe for
// concurrent use; failing subscribers only lose their own events. Delivery
// is synchronous, so a slow subscriber delays the ones after it.
type Subscriber interface {
	Deliver(event interface{}) error
}

// Hub routes pipeline events to the subscribers of each session. Delivery
// is best-effort per subscriber and ordered per session: the pipeline
// publishes chunk updates in the order they are persisted, and the hub
// delivers synchronously in publish order.
type Hub struct {
	subs   map[string]map[string]Subscriber // sessionID -> subscriberID -> subscriber
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewHub creates an event hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]map[string]Subscriber),
		logger: logger,
	}
}

// Subscribe registers interest in a session's events
func (h *Hub) Subscribe(sessionID, subscriberID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[string]Subscriber)
	}
	h.subs[sessionID][subscriberID] = sub
}

// Unsubscribe removes one subscriber from one session
func (h *Hub) Unsubscribe(sessionID, subscriberID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sessionSubs, ok := h.subs[sessionID]; ok {
		delete(sessionSubs, subscriberID)
		if len(sessionSubs) == 0 {
			delete(h.subs, sessionID)
		}
	}
}

// UnsubscribeAll removes a subscriber from every session; called when a
// client connection closes.
func (h *Hub) UnsubscribeAll(subscriberID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sessionID, sessionSubs := range h.subs {
		delete(sessionSubs, subscriberID)
		if len(sessionSubs) == 0 {
			delete(h.subs, sessionID)
		}
	}
}

// Publish delivers an event to every current subscriber of the session.
// Subscriber errors are logged and do not block the pipeline or other
// subscribers.
func (h *Hub) Publish(sessionID string, event interface{}) {
	h.mu.RLock()
	sessionSubs := h.subs[sessionID]
	targets := make([]deliveryTarget, 0, len(sessionSubs))
	for id, sub := range sessionSubs {
		targets = append(targets, deliveryTarget{id: id, sub: sub})
	}
	h.mu.RUnlock()

	for _, t := range targets {
		if err := t.sub.Deliver(event); err != nil {
			h.logger.Warn("Event delivery failed",
				slog.String("session_id", sessionID),
				slog.String("subscriber_id", t.id),
				slog.String("error", err.Error()),
			)
		}
	}
}

// SubscriberCount returns the number of subscribers for a session
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

type deliveryTarget struct {
	id  string
	sub Subscriber
}
