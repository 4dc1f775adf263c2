package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/forgo/somi/api/internal/database"
	"github.com/forgo/somi/api/internal/model"
)

// statement is one query of a transaction with its own variables
type statement struct {
	query string
	vars  map[string]interface{}
}

// outboxStatements stages the events of a state change, and the claim
// record it settles, in the transaction that writes the entity. Nothing is
// staged for a nil outbox.
func outboxStatements(out *model.Outbox) []statement {
	if out == nil {
		return nil
	}
	stmts := make([]statement, 0, len(out.Events)+1)
	if out.Claim != nil {
		stmts = append(stmts, claimStatement(out.Claim))
	}
	for i, evt := range out.Events {
		stmts = append(stmts, statement{
			query: `CREATE event_outbox SET event_key = $event_key, event_type = $event_type, occurred_at = $occurred_at, payload = $payload, idx = $idx, staged_at = time::now()`,
			vars: map[string]interface{}{
				"event_key":   evt.Key,
				"event_type":  string(evt.Type),
				"occurred_at": evt.OccurredAt,
				"payload":     string(evt.Payload),
				"idx":         i,
			},
		})
	}
	return stmts
}

// claimStatement creates the audit record of a settled claim
func claimStatement(claim *model.ClaimRecord) statement {
	setClause := `claim_id = $claim_id, user = $user, kind = $kind, ref_id = $ref_id, principal = $principal, interest = $interest, timestamp = $timestamp`
	vars := map[string]interface{}{
		"claim_id":  claim.ID,
		"user":      claim.User,
		"kind":      string(claim.Kind),
		"ref_id":    claim.RefID,
		"principal": amount(claim.Principal),
		"interest":  amount(claim.Interest),
		"timestamp": claim.Timestamp,
	}
	if claim.PenaltyShare != nil {
		setClause += ", penalty_share = $penalty_share"
		vars["penalty_share"] = amount(*claim.PenaltyShare)
	}
	return statement{query: `CREATE type::thing("claim_record", $claim_id) SET ` + setClause, vars: vars}
}

// OutboxRepository reads and clears events staged with entity writes
type OutboxRepository struct {
	db database.Database
}

// NewOutboxRepository creates a new outbox repository
func NewOutboxRepository(db database.Database) *OutboxRepository {
	return &OutboxRepository{db: db}
}

type outboxRow struct {
	Key        string    `json:"event_key"`
	Type       string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    string    `json:"payload"`
}

// ListPending returns up to limit staged events, oldest first
func (r *OutboxRepository) ListPending(ctx context.Context, limit int) ([]model.Event, error) {
	query := `
		SELECT * FROM event_outbox
		ORDER BY staged_at ASC, idx ASC
		LIMIT $limit
	`
	result, err := r.db.Query(ctx, query, map[string]interface{}{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("failed to list outbox: %w", err)
	}
	rows := decodeRecords[outboxRow](extractQueryResults(result), "")
	events := make([]model.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, model.Event{
			Key:        row.Key,
			Type:       model.EventType(row.Type),
			OccurredAt: row.OccurredAt,
			Payload:    []byte(row.Payload),
		})
	}
	return events, nil
}

// Remove deletes relayed events by key
func (r *OutboxRepository) Remove(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	query := `DELETE event_outbox WHERE event_key IN $keys`
	if _, err := r.db.Query(ctx, query, map[string]interface{}{"keys": keys}); err != nil {
		return fmt.Errorf("failed to remove outbox events: %w", err)
	}
	return nil
}
