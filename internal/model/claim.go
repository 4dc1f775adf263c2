package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ClaimKind tells which kind of stake a claim settled
type ClaimKind string

const (
	ClaimKindSolo ClaimKind = "solo"
	ClaimKindPod  ClaimKind = "pod"
)

// ClaimRecord is the audit record of a settled claim. RefID is the position
// ID for solo claims and the pod ID for pod claims.
type ClaimRecord struct {
	ID           string           `json:"id"`
	User         string           `json:"user"`
	Kind         ClaimKind        `json:"kind"`
	RefID        string           `json:"ref_id"`
	Principal    decimal.Decimal  `json:"principal"`
	Interest     decimal.Decimal  `json:"interest"`
	PenaltyShare *decimal.Decimal `json:"penalty_share,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
}

// Total returns principal + interest + penalty share
func (c *ClaimRecord) Total() decimal.Decimal {
	total := c.Principal.Add(c.Interest)
	if c.PenaltyShare != nil {
		total = total.Add(*c.PenaltyShare)
	}
	return total
}

// Outbox is written in the same transaction as an entity change: the
// events that describe the change and, for settlements, the claim record.
// Staged events stay in the outbox until the journal has recorded them.
type Outbox struct {
	Events []Event
	Claim  *ClaimRecord
}

// EventKeys returns the keys of the staged events
func (o *Outbox) EventKeys() []string {
	if o == nil {
		return nil
	}
	keys := make([]string, 0, len(o.Events))
	for _, e := range o.Events {
		keys = append(keys, e.Key)
	}
	return keys
}
