package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/forgo/somi/api/internal/model"
)

// HeartbeatEvent keeps idle streams open through proxies
const HeartbeatEvent = "heartbeat"

// DefaultHeartbeatInterval is how often idle subscribers get a heartbeat
const DefaultHeartbeatInterval = 30 * time.Second

// FeedEvent is one server-sent event
type FeedEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Format returns the SSE formatted string
func (e *FeedEvent) Format() string {
	data, _ := json.Marshal(e.Data)
	return "event: " + e.Type + "\ndata: " + string(data) + "\n\n"
}

// Subscriber represents a connected SSE client
type Subscriber struct {
	ID     string
	Topic  string
	Events chan *FeedEvent
	Done   chan struct{}
}

// EventHub fans lifecycle events out to live subscribers. Pod streams are
// keyed by pod ID; account streams receive every event naming the account.
// Slow subscribers drop events rather than block the emitting operation.
type EventHub struct {
	mu              sync.RWMutex
	podSubscribers  map[string]map[string]*Subscriber // podID -> subscriberID -> subscriber
	userSubscribers map[string]map[string]*Subscriber // account -> subscriberID -> subscriber
	heartbeat       *time.Ticker
	done            chan struct{}
	closeOnce       sync.Once
}

// NewEventHub creates a new event hub. interval <= 0 uses DefaultHeartbeatInterval.
func NewEventHub(interval time.Duration) *EventHub {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	hub := &EventHub{
		podSubscribers:  make(map[string]map[string]*Subscriber),
		userSubscribers: make(map[string]map[string]*Subscriber),
		heartbeat:       time.NewTicker(interval),
		done:            make(chan struct{}),
	}
	go hub.sendHeartbeats()
	return hub
}

// SubscribePod adds a subscriber for one pod's lifecycle
func (h *EventHub) SubscribePod(podID, subscriberID string) *Subscriber {
	return h.subscribe(h.podSubscribers, podID, subscriberID)
}

// UnsubscribePod removes a pod subscriber
func (h *EventHub) UnsubscribePod(podID, subscriberID string) {
	h.unsubscribe(h.podSubscribers, podID, subscriberID)
}

// SubscribeUser adds a subscriber for everything that touches an account
func (h *EventHub) SubscribeUser(account, subscriberID string) *Subscriber {
	return h.subscribe(h.userSubscribers, account, subscriberID)
}

// UnsubscribeUser removes an account subscriber
func (h *EventHub) UnsubscribeUser(account, subscriberID string) {
	h.unsubscribe(h.userSubscribers, account, subscriberID)
}

func (h *EventHub) subscribe(index map[string]map[string]*Subscriber, topic, subscriberID string) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &Subscriber{
		ID:     subscriberID,
		Topic:  topic,
		Events: make(chan *FeedEvent, 100),
		Done:   make(chan struct{}),
	}
	select {
	case <-h.done:
		// Hub closed: hand back a finished subscriber
		close(sub.Done)
		close(sub.Events)
		return sub
	default:
	}

	if index[topic] == nil {
		index[topic] = make(map[string]*Subscriber)
	}
	index[topic][subscriberID] = sub
	return sub
}

func (h *EventHub) unsubscribe(index map[string]map[string]*Subscriber, topic, subscriberID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := index[topic]; ok {
		if sub, ok := subs[subscriberID]; ok {
			close(sub.Done)
			close(sub.Events)
			delete(subs, subscriberID)
		}
		if len(subs) == 0 {
			delete(index, topic)
		}
	}
}

// eventRoute holds the payload fields used for routing
type eventRoute struct {
	PodID   string          `json:"pod_id"`
	User    string          `json:"user"`
	Creator string          `json:"creator"`
	Kind    model.ClaimKind `json:"kind"`
	RefID   string          `json:"ref_id"`
}

// Append publishes events to their pod and account subscribers. It never
// fails, so it can follow the journal in a TeeSink.
func (h *EventHub) Append(_ context.Context, events ...model.Event) error {
	for _, evt := range events {
		h.Publish(evt)
	}
	return nil
}

// Publish routes one lifecycle event
func (h *EventHub) Publish(evt model.Event) {
	var route eventRoute
	if err := json.Unmarshal(evt.Payload, &route); err != nil {
		return
	}
	podID := route.PodID
	if podID == "" && route.Kind == model.ClaimKindPod {
		podID = route.RefID
	}

	feed := &FeedEvent{Type: string(evt.Type), Data: evt}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if podID != "" {
		deliver(h.podSubscribers[podID], feed)
	}
	for _, account := range []string{route.User, route.Creator} {
		if account != "" {
			deliver(h.userSubscribers[account], feed)
		}
	}
}

// Notify sends a feed event straight to an account's streams
func (h *EventHub) Notify(account string, event *FeedEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	deliver(h.userSubscribers[account], event)
}

func deliver(subs map[string]*Subscriber, event *FeedEvent) {
	for _, sub := range subs {
		select {
		case sub.Events <- event:
		default:
			// Buffer full, skip this subscriber
		}
	}
}

// sendHeartbeats sends periodic heartbeats to all subscribers
func (h *EventHub) sendHeartbeats() {
	for {
		select {
		case <-h.heartbeat.C:
			event := &FeedEvent{
				Type: HeartbeatEvent,
				Data: map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				},
			}
			h.mu.RLock()
			for _, subs := range h.podSubscribers {
				deliver(subs, event)
			}
			for _, subs := range h.userSubscribers {
				deliver(subs, event)
			}
			h.mu.RUnlock()
		case <-h.done:
			return
		}
	}
}

// Close stops the hub and ends every stream
func (h *EventHub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		h.heartbeat.Stop()

		h.mu.Lock()
		defer h.mu.Unlock()

		for _, index := range []map[string]map[string]*Subscriber{h.podSubscribers, h.userSubscribers} {
			for topic, subs := range index {
				for _, sub := range subs {
					close(sub.Done)
					close(sub.Events)
				}
				delete(index, topic)
			}
		}
	})
}

// SubscriberCount returns the number of live subscribers of a pod
func (h *EventHub) SubscriberCount(podID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.podSubscribers[podID])
}
