package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/forgo/somi/api/internal/database"
	"github.com/forgo/somi/api/internal/model"
)

// PositionRepository handles solo position data access
type PositionRepository struct {
	db database.Database
}

// NewPositionRepository creates a new position repository
func NewPositionRepository(db database.Database) *PositionRepository {
	return &PositionRepository{db: db}
}

// CreatePosition stores a new position at version 1 together with its
// outbox
func (r *PositionRepository) CreatePosition(ctx context.Context, position *model.Position, out *model.Outbox) error {
	query := `
		CREATE type::thing("position", $position_id) CONTENT {
			position_id: $position_id,
			owner: $owner,
			plan: $plan,
			custom_days: $custom_days,
			principal: $principal,
			start_time: $start_time,
			term: $term,
			apr_bps: $apr_bps,
			closed: false,
			receipt_id: $receipt_id,
			version: 1
		}
	`
	vars := map[string]interface{}{
		"position_id": position.ID,
		"owner":       position.Owner,
		"plan":        position.PlanKind.String(),
		"custom_days": position.CustomDays,
		"principal":   amount(position.Principal),
		"start_time":  position.StartTime,
		"term":        position.Term,
		"apr_bps":     position.AprBps,
		"receipt_id":  position.ReceiptID,
	}

	batch := database.NewAtomicBatch().Add(query, vars)
	for _, st := range outboxStatements(out) {
		batch.Add(st.query, st.vars)
	}
	if err := batch.Execute(ctx, r.db); err != nil {
		if isUniqueConstraintError(err) {
			return database.ErrDuplicate
		}
		return fmt.Errorf("failed to create position: %w", err)
	}
	position.Version = 1
	return nil
}

// GetPosition retrieves a position by ID
func (r *PositionRepository) GetPosition(ctx context.Context, positionID string) (*model.Position, error) {
	query := `SELECT * FROM type::thing("position", $position_id)`
	result, err := r.db.QueryOne(ctx, query, map[string]interface{}{"position_id": positionID})
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get position: %w", err)
	}

	data, ok := unwrapRecord(result)
	if !ok {
		return nil, nil
	}
	return decodeRecord[model.Position](data, "position_id")
}

// UpdatePosition writes the mutable fields of a position and its outbox in
// one transaction. A stored version other than position.Version aborts the
// write with database.ErrStaleVersion.
func (r *PositionRepository) UpdatePosition(ctx context.Context, position *model.Position, out *model.Outbox) error {
	tb := database.NewTxBuilder()
	tb.Add(`LET $current = (SELECT VALUE version FROM type::thing("position", $position_id))[0]`, map[string]interface{}{
		"position_id": position.ID,
	})
	tb.AddRaw(fmt.Sprintf(`IF $current != %d { THROW "%s" }`, position.Version, database.ErrStaleVersion.Error()))

	// $is_closed keeps clear of $closed_at when the builder namespaces vars
	setClause := "closed = $is_closed, version = version + 1"
	vars := map[string]interface{}{
		"position_id": position.ID,
		"is_closed":   position.Closed,
	}
	if position.ClosedAt != nil {
		setClause += ", closed_at = $closed_at"
		vars["closed_at"] = *position.ClosedAt
	}
	tb.Add(`UPDATE type::thing("position", $position_id) SET `+setClause, vars)
	for _, st := range outboxStatements(out) {
		tb.Add(st.query, st.vars)
	}

	if _, err := database.ExecuteTransaction(ctx, r.db, tb); err != nil {
		if isStaleVersionError(err) {
			return database.ErrStaleVersion
		}
		if isUniqueConstraintError(err) {
			return database.ErrDuplicate
		}
		return fmt.Errorf("failed to update position: %w", err)
	}
	position.Version++
	return nil
}

// ListPositionsByOwner returns an owner's positions, newest first
func (r *PositionRepository) ListPositionsByOwner(ctx context.Context, owner string, offset, limit int) ([]*model.Position, error) {
	query := `
		SELECT * FROM position
		WHERE owner = $owner
		ORDER BY start_time DESC
		LIMIT $limit START $offset
	`
	result, err := r.db.Query(ctx, query, map[string]interface{}{
		"owner":  owner,
		"limit":  limit,
		"offset": offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	return decodeRecords[model.Position](extractQueryResults(result), "position_id"), nil
}

// ListOpenTermPositions returns unclaimed fixed-term positions, oldest first
func (r *PositionRepository) ListOpenTermPositions(ctx context.Context, limit int) ([]*model.Position, error) {
	query := `
		SELECT * FROM position
		WHERE closed = false AND term > 0
		ORDER BY start_time ASC
		LIMIT $limit
	`
	result, err := r.db.Query(ctx, query, map[string]interface{}{
		"limit": limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list open term positions: %w", err)
	}
	return decodeRecords[model.Position](extractQueryResults(result), "position_id"), nil
}
