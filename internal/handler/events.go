package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/forgo/somi/api/internal/middleware"
	"github.com/forgo/somi/api/internal/model"
	"github.com/forgo/somi/api/internal/service"
	"github.com/google/uuid"
)

// PodFinder resolves a pod before a stream is opened on it
type PodFinder interface {
	GetPod(ctx context.Context, podID string) (*model.PodView, error)
}

// EventsHandler streams lifecycle events over SSE
type EventsHandler struct {
	eventHub *service.EventHub
	pods     PodFinder
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(eventHub *service.EventHub, pods PodFinder) *EventsHandler {
	return &EventsHandler{
		eventHub: eventHub,
		pods:     pods,
	}
}

// StreamPod handles GET /v1/pods/{podId}/events
func (h *EventsHandler) StreamPod(w http.ResponseWriter, r *http.Request) {
	podID, ok := pathPodID(w, r)
	if !ok {
		return
	}
	if _, err := h.pods.GetPod(r.Context(), podID); err != nil {
		WriteError(w, MapServiceErrorWithContext(err, "stream pod"))
		return
	}

	subscriberID := uuid.New().String()
	sub := h.eventHub.SubscribePod(podID, subscriberID)
	defer h.eventHub.UnsubscribePod(podID, subscriberID)

	h.stream(w, r, sub)
}

// StreamAccount handles GET /v1/accounts/me/events
func (h *EventsHandler) StreamAccount(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == "" {
		WriteError(w, model.NewUnauthorizedError("authentication required"))
		return
	}

	subscriberID := uuid.New().String()
	sub := h.eventHub.SubscribeUser(account, subscriberID)
	defer h.eventHub.UnsubscribeUser(account, subscriberID)

	h.stream(w, r, sub)
}

func (h *EventsHandler) stream(w http.ResponseWriter, r *http.Request, sub *service.Subscriber) {
	// Check if the client supports SSE
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, model.NewInternalError("streaming not supported"))
		return
	}

	// Streams outlive the server write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	fmt.Fprintf(w, "event: connected\ndata: {\"subscriber_id\":\"%s\"}\n\n", sub.ID)
	flusher.Flush()

	for {
		select {
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			fmt.Fprint(w, event.Format())
			flusher.Flush()

		case <-sub.Done:
			return

		case <-r.Context().Done():
			// Client disconnected
			return
		}
	}
}
