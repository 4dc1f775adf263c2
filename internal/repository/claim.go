package repository

import (
	"context"
	"fmt"

	"github.com/forgo/somi/api/internal/database"
	"github.com/forgo/somi/api/internal/model"
)

// ClaimRepository reads claim audit records. Records are written with the
// settling entity, see outboxStatements.
type ClaimRepository struct {
	db database.Database
}

// NewClaimRepository creates a new claim repository
func NewClaimRepository(db database.Database) *ClaimRepository {
	return &ClaimRepository{db: db}
}

// ListClaimsByUser returns a user's claims, newest first
func (r *ClaimRepository) ListClaimsByUser(ctx context.Context, user string, limit int) ([]*model.ClaimRecord, error) {
	query := `
		SELECT * FROM claim_record
		WHERE user = $user
		ORDER BY timestamp DESC
		LIMIT $limit
	`
	result, err := r.db.Query(ctx, query, map[string]interface{}{
		"user":  user,
		"limit": limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	return decodeRecords[model.ClaimRecord](extractQueryResults(result), "claim_id"), nil
}
