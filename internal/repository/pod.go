package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/forgo/somi/api/internal/database"
	"github.com/forgo/somi/api/internal/model"
)

// PodRepository handles pod and membership data access
type PodRepository struct {
	db database.Database
}

// NewPodRepository creates a new pod repository
func NewPodRepository(db database.Database) *PodRepository {
	return &PodRepository{db: db}
}

// CreatePod stores a new pod, its creator's membership and the outbox
// atomically
func (r *PodRepository) CreatePod(ctx context.Context, pod *model.Pod, creator *model.Membership, out *model.Outbox) error {
	podSet, podVars := podSetClause(pod)
	podVars["pod_id"] = pod.ID
	podVars["created_at"] = pod.CreatedAt
	podVars["plan"] = pod.PlanKind.String()
	podVars["custom_days"] = pod.CustomDays
	podVars["contribution_amount"] = amount(pod.ContributionAmount)
	podVars["term"] = pod.Term
	podVars["creator"] = pod.Creator

	memberSet, memberVars := membershipSetClause(creator)
	memberVars["membership_id"] = creator.ID
	memberVars["pod_ref"] = creator.PodID
	memberVars["user"] = creator.User
	memberVars["deposit"] = amount(creator.Deposit)
	memberVars["joined_at"] = creator.JoinedAt
	memberVars["receipt_id"] = creator.ReceiptID

	batch := database.NewAtomicBatch()
	batch.Add(
		`CREATE type::thing("pod", $pod_id) SET pod_id = $pod_id, creator = $creator, plan = $plan, custom_days = $custom_days, contribution_amount = $contribution_amount, term = $term, created_at = $created_at, version = 1, `+podSet,
		podVars,
	)
	batch.Add(
		`CREATE type::thing("pod_membership", $membership_id) SET membership_id = $membership_id, pod_id = $pod_ref, user = $user, deposit = $deposit, joined_at = $joined_at, receipt_id = $receipt_id, version = 1, `+memberSet,
		memberVars,
	)
	for _, st := range outboxStatements(out) {
		batch.Add(st.query, st.vars)
	}
	if err := batch.Execute(ctx, r.db); err != nil {
		if isUniqueConstraintError(err) {
			return database.ErrDuplicate
		}
		return fmt.Errorf("failed to create pod: %w", err)
	}

	pod.Version = 1
	creator.Version = 1
	return nil
}

// GetPod retrieves a pod by ID
func (r *PodRepository) GetPod(ctx context.Context, podID string) (*model.Pod, error) {
	query := `SELECT * FROM type::thing("pod", $pod_id)`
	result, err := r.db.QueryOne(ctx, query, map[string]interface{}{"pod_id": podID})
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get pod: %w", err)
	}

	data, ok := unwrapRecord(result)
	if !ok {
		return nil, nil
	}
	return decodeRecord[model.Pod](data, "pod_id")
}

// GetMembership retrieves a user's membership in a pod
func (r *PodRepository) GetMembership(ctx context.Context, podID, user string) (*model.Membership, error) {
	query := `SELECT * FROM pod_membership WHERE pod_id = $pod_id AND user = $user LIMIT 1`
	result, err := r.db.QueryOne(ctx, query, map[string]interface{}{
		"pod_id": podID,
		"user":   user,
	})
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}

	data, ok := unwrapRecord(result)
	if !ok {
		return nil, nil
	}
	return decodeRecord[model.Membership](data, "membership_id")
}

// ListMemberships returns every membership of a pod in join order
func (r *PodRepository) ListMemberships(ctx context.Context, podID string) ([]*model.Membership, error) {
	query := `SELECT * FROM pod_membership WHERE pod_id = $pod_id ORDER BY joined_at ASC`
	result, err := r.db.Query(ctx, query, map[string]interface{}{"pod_id": podID})
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	return decodeRecords[model.Membership](extractQueryResults(result), "membership_id"), nil
}

// SavePodState writes the pod, the outbox and the given memberships in one
// transaction. The pod version is checked inside the transaction; a
// mismatch aborts the whole write with database.ErrStaleVersion.
func (r *PodRepository) SavePodState(ctx context.Context, pod *model.Pod, out *model.Outbox, memberships ...*model.Membership) error {
	tb := database.NewTxBuilder()
	tb.Add(`LET $current = (SELECT VALUE version FROM type::thing("pod", $pod_id))[0]`, map[string]interface{}{
		"pod_id": pod.ID,
	})
	tb.AddRaw(fmt.Sprintf(`IF $current != %d { THROW "%s" }`, pod.Version, database.ErrStaleVersion.Error()))

	podSet, podVars := podSetClause(pod)
	podVars["pod_id"] = pod.ID
	tb.Add(`UPDATE type::thing("pod", $pod_id) SET version = version + 1, `+podSet, podVars)

	for _, m := range memberships {
		memberSet, memberVars := membershipSetClause(m)
		memberVars["membership_id"] = m.ID
		memberVars["pod_ref"] = m.PodID
		memberVars["user"] = m.User
		memberVars["deposit"] = amount(m.Deposit)
		memberVars["joined_at"] = m.JoinedAt
		memberVars["receipt_id"] = m.ReceiptID
		memberVars["next_version"] = m.Version + 1
		tb.Add(
			`UPSERT type::thing("pod_membership", $membership_id) SET membership_id = $membership_id, pod_id = $pod_ref, user = $user, deposit = $deposit, joined_at = $joined_at, receipt_id = $receipt_id, version = $next_version, `+memberSet,
			memberVars,
		)
	}
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
		return fmt.Errorf("failed to save pod state: %w", err)
	}

	pod.Version++
	for _, m := range memberships {
		m.Version++
	}
	return nil
}

// ListPublicPods returns public pods that still accept members, newest first
func (r *PodRepository) ListPublicPods(ctx context.Context, limit int) ([]*model.Pod, error) {
	query := `
		SELECT * FROM pod
		WHERE visibility = "public" AND cancelled = false AND closed_for_joining = false
		ORDER BY created_at DESC
		LIMIT $limit
	`
	result, err := r.db.Query(ctx, query, map[string]interface{}{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("failed to list public pods: %w", err)
	}
	return decodeRecords[model.Pod](extractQueryResults(result), "pod_id"), nil
}

// ListPodsByMember returns the pods a user has joined
func (r *PodRepository) ListPodsByMember(ctx context.Context, user string) ([]*model.Pod, error) {
	query := `
		SELECT * FROM pod
		WHERE pod_id IN (SELECT VALUE pod_id FROM pod_membership WHERE user = $user)
		ORDER BY created_at DESC
	`
	result, err := r.db.Query(ctx, query, map[string]interface{}{"user": user})
	if err != nil {
		return nil, fmt.Errorf("failed to list member pods: %w", err)
	}
	return decodeRecords[model.Pod](extractQueryResults(result), "pod_id"), nil
}

// podSetClause builds the SET clause for the mutable pod fields. Optional
// datetimes are only written when present so SurrealDB keeps NONE.
func podSetClause(pod *model.Pod) (string, map[string]interface{}) {
	setClause := `name = $name, description = $description, visibility = $visibility, activated = $activated, cancelled = $cancelled, closed_for_joining = $closed_for_joining, members_joined = $members_joined, active_members = $active_members, total_deposited = $total_deposited, penalty_pool = $penalty_pool, apr_bps = $apr_bps`
	vars := map[string]interface{}{
		"name":               pod.Name,
		"description":        pod.Description,
		"visibility":         string(pod.Visibility),
		"activated":          pod.Activated,
		"cancelled":          pod.Cancelled,
		"closed_for_joining": pod.ClosedForJoining,
		"members_joined":     pod.MembersJoined,
		"active_members":     pod.ActiveMembers,
		"total_deposited":    amount(pod.TotalDeposited),
		"penalty_pool":       amount(pod.PenaltyPool),
		"apr_bps":            pod.AprBps,
	}
	if pod.StartTime != nil {
		setClause += ", start_time = $start_time"
		vars["start_time"] = *pod.StartTime
	}
	if pod.MaturityTime != nil {
		setClause += ", maturity_time = $maturity_time"
		vars["maturity_time"] = *pod.MaturityTime
	}
	return setClause, vars
}

// membershipSetClause builds the SET clause for the mutable membership fields
func membershipSetClause(m *model.Membership) (string, map[string]interface{}) {
	setClause := `exit_kind = $exit_kind`
	vars := map[string]interface{}{
		"exit_kind": string(m.ExitKind),
	}
	if m.ExitedAt != nil {
		setClause += ", exited_at = $exited_at"
		vars["exited_at"] = *m.ExitedAt
	}
	return setClause, vars
}
