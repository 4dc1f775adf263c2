package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnknownEventType is returned when an event type has no fold rule
var ErrUnknownEventType = errors.New("unknown event type")

// EventType names a state change as "domain.action"
type EventType string

const (
	EventDeposited           EventType = "position.deposited"
	EventPodCreated          EventType = "pod.created"
	EventPodJoined           EventType = "pod.joined"
	EventPodActivated        EventType = "pod.activated"
	EventPodClosedForJoining EventType = "pod.closed_for_joining"
	EventEarlyExit           EventType = "pod.early_exit"
	EventClaimed             EventType = "claim.settled"
	EventPodCancelled        EventType = "pod.cancelled"
	EventRefunded            EventType = "pod.refunded"
)

// Known reports whether the aggregator has a fold rule for t
func (t EventType) Known() bool {
	switch t {
	case EventDeposited, EventPodCreated, EventPodJoined, EventPodActivated,
		EventPodClosedForJoining, EventEarlyExit, EventClaimed, EventPodCancelled, EventRefunded:
		return true
	}
	return false
}

// Event is one entry of the append-only event stream. Key uniquely
// identifies the event across redeliveries; Seq is assigned by the journal.
type Event struct {
	Key        string          `json:"key"`
	Seq        uint64          `json:"seq,omitempty"`
	Type       EventType       `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
	Hash       string          `json:"hash,omitempty"`
}

// EventKey builds the key of the index-th event emitted by one operation.
// Keys follow the txHash-logIndex shape of indexed chain logs.
func EventKey(operationID string, index int) string {
	return fmt.Sprintf("%s-%d", operationID, index)
}

// NewEvent encodes a typed payload into an event
func NewEvent(key string, eventType EventType, at time.Time, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		Key:        key,
		Type:       eventType,
		OccurredAt: at.UTC(),
		Payload:    data,
	}, nil
}

// Decode unmarshals the payload into v
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has no payload", e.Key)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// DepositedPayload records a new solo position
type DepositedPayload struct {
	PositionID string          `json:"position_id"`
	User       string          `json:"user"`
	Plan       PlanKind        `json:"plan"`
	Amount     decimal.Decimal `json:"amount"`
	StartTime  time.Time       `json:"start_time"`
	Term       int64           `json:"term"`
	AprBps     int64           `json:"apr_bps"`
	ReceiptID  string          `json:"receipt_id"`
}

// PodCreatedPayload records a new pod
type PodCreatedPayload struct {
	PodID              string          `json:"pod_id"`
	Creator            string          `json:"creator"`
	Plan               PlanKind        `json:"plan"`
	ContributionAmount decimal.Decimal `json:"contribution_amount"`
	Visibility         Visibility      `json:"visibility"`
	Term               int64           `json:"term"`
}

// PodJoinedPayload records a member deposit into a pod
type PodJoinedPayload struct {
	PodID     string          `json:"pod_id"`
	User      string          `json:"user"`
	Amount    decimal.Decimal `json:"amount"`
	ReceiptID string          `json:"receipt_id"`
}

// PodActivatedPayload records the start of pod accrual
type PodActivatedPayload struct {
	PodID        string     `json:"pod_id"`
	StartTime    time.Time  `json:"start_time"`
	MaturityTime *time.Time `json:"maturity_time,omitempty"`
	AprBps       int64      `json:"apr_bps"`
}

// PodClosedForJoiningPayload records that a pod stopped accepting members
type PodClosedForJoiningPayload struct {
	PodID string `json:"pod_id"`
}

// EarlyExitPayload records a member leaving a fixed-term pod before maturity
type EarlyExitPayload struct {
	PodID   string          `json:"pod_id"`
	User    string          `json:"user"`
	Refund  decimal.Decimal `json:"refund"`
	Penalty decimal.Decimal `json:"penalty"`
}

// ClaimedPayload records a settled claim. RefID is the position ID for solo
// claims and the pod ID for pod claims.
type ClaimedPayload struct {
	User         string           `json:"user"`
	Kind         ClaimKind        `json:"kind"`
	RefID        string           `json:"ref_id"`
	Principal    decimal.Decimal  `json:"principal"`
	Interest     decimal.Decimal  `json:"interest"`
	PenaltyShare *decimal.Decimal `json:"penalty_share,omitempty"`
}

// PodCancelledPayload records a pod cancellation
type PodCancelledPayload struct {
	PodID string `json:"pod_id"`
}

// RefundedPayload records principal returned by a cancellation
type RefundedPayload struct {
	PodID     string          `json:"pod_id"`
	User      string          `json:"user"`
	Principal decimal.Decimal `json:"principal"`
}
