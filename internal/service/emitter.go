package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/forgo/somi/api/internal/model"
	"github.com/google/uuid"
)

// EventSink receives the events emitted by state transitions, in order
type EventSink interface {
	Append(ctx context.Context, events ...model.Event) error
}

// EventSinkFunc adapts a function to EventSink
type EventSinkFunc func(ctx context.Context, events ...model.Event) error

// Append calls f
func (f EventSinkFunc) Append(ctx context.Context, events ...model.Event) error {
	return f(ctx, events...)
}

// TeeSink writes to primary and then, best-effort, to each follower. Only a
// primary failure is reported; followers see events the primary accepted.
func TeeSink(primary EventSink, followers ...EventSink) EventSink {
	return EventSinkFunc(func(ctx context.Context, events ...model.Event) error {
		if err := primary.Append(ctx, events...); err != nil {
			return err
		}
		for _, f := range followers {
			if err := f.Append(ctx, events...); err != nil {
				slog.Debug("event follower append failed",
					slog.Int("events", len(events)),
					slog.String("error", err.Error()),
				)
			}
		}
		return nil
	})
}

// operation collects the events of one state transition. Keys are
// "<operationID>-<index>" so a redelivered batch keeps its identity.
type operation struct {
	id     string
	at     time.Time
	events []model.Event
	claim  *model.ClaimRecord // staged with the events when set
	err    error
}

func newOperation(at time.Time) *operation {
	return &operation{id: uuid.New().String(), at: at}
}

func (o *operation) emit(eventType model.EventType, payload any) {
	if o.err != nil {
		return
	}
	evt, err := model.NewEvent(model.EventKey(o.id, len(o.events)), eventType, o.at, payload)
	if err != nil {
		o.err = err
		return
	}
	o.events = append(o.events, evt)
}

// outbox returns the collected events, with an optional claim record, for
// writing in the same transaction as the entity change
func (o *operation) outbox(claim *model.ClaimRecord) (*model.Outbox, error) {
	if o.err != nil {
		return nil, fmt.Errorf("build events: %w", o.err)
	}
	return &model.Outbox{Events: o.events, Claim: claim}, nil
}

// publish hands the collected events to the sink once the entity change is
// stored. The append outlives a cancelled request; when it still fails the
// events wait in the outbox for the relay. A nil sink discards them.
func (o *operation) publish(ctx context.Context, sink EventSink) error {
	if sink == nil || len(o.events) == 0 {
		return nil
	}
	if err := sink.Append(context.WithoutCancel(ctx), o.events...); err != nil {
		return fmt.Errorf("publish events: %w", err)
	}
	return nil
}
