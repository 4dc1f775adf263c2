// Package fixtures provides test data factories for e2e testing.
//
// Each factory method creates entities with sensible defaults while allowing
// customization via option functions. Factories handle database insertion
// and return fully populated models.
//
// Usage:
//
//	f := fixtures.New(tdb.DB)
//	position := f.CreatePosition(t)
//	pod := f.CreatePod(t, "alice")
//	f.JoinPod(t, pod, "bob")
package fixtures

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/forgo/somi/api/internal/database"
	"github.com/forgo/somi/api/internal/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Factory creates test entities in the database
type Factory struct {
	db database.Database
}

// New creates a new fixture factory
func New(db database.Database) *Factory {
	return &Factory{db: db}
}

// randomID generates a random hex ID
func randomID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// ctx returns a context with timeout
func ctx() context.Context {
	c, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	// Store cancel to prevent leak warning
	_ = cancel
	return c
}

// RandomUser returns a unique user identifier
func RandomUser() string {
	return fmt.Sprintf("user_%s", randomID())
}

// ============================================================================
// Position Fixtures
// ============================================================================

// PositionOpts customizes position creation
type PositionOpts struct {
	Owner     string
	Plan      model.PlanKind
	Principal decimal.Decimal
	StartTime time.Time
}

// WithPlan sets the position plan
func WithPlan(kind model.PlanKind) func(*PositionOpts) {
	return func(o *PositionOpts) {
		o.Plan = kind
	}
}

// WithOwner sets the position owner
func WithOwner(owner string) func(*PositionOpts) {
	return func(o *PositionOpts) {
		o.Owner = owner
	}
}

// CreatePosition creates an open solo position with optional customizations
func (f *Factory) CreatePosition(t *testing.T, opts ...func(*PositionOpts)) *model.Position {
	t.Helper()

	o := &PositionOpts{
		Owner:     RandomUser(),
		Plan:      model.PlanFlex,
		Principal: decimal.NewFromInt(1000),
		StartTime: time.Now().UTC().Truncate(time.Second),
	}
	for _, fn := range opts {
		fn(o)
	}

	rate, err := o.Plan.Rate(model.AudienceSolo)
	if err != nil {
		t.Fatalf("fixtures: %v", err)
	}
	position := &model.Position{
		ID:        uuid.New().String(),
		Owner:     o.Owner,
		PlanKind:  o.Plan,
		Principal: o.Principal,
		StartTime: o.StartTime,
		Term:      o.Plan.TermSeconds(),
		AprBps:    rate,
		ReceiptID: uuid.New().String(),
		Version:   1,
	}

	query := `
		CREATE type::thing("position", $position_id) CONTENT {
			position_id: $position_id,
			owner: $owner,
			plan: $plan,
			custom_days: 0,
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
		"principal":   position.Principal.String(),
		"start_time":  position.StartTime,
		"term":        position.Term,
		"apr_bps":     position.AprBps,
		"receipt_id":  position.ReceiptID,
	}
	if _, err := f.db.Query(ctx(), query, vars); err != nil {
		t.Fatalf("fixtures: failed to create position: %v", err)
	}
	return position
}

// ============================================================================
// Pod Fixtures
// ============================================================================

// PodOpts customizes pod creation
type PodOpts struct {
	Name         string
	Visibility   model.Visibility
	Plan         model.PlanKind
	Contribution decimal.Decimal
}

// WithVisibility sets the pod visibility
func WithVisibility(v model.Visibility) func(*PodOpts) {
	return func(o *PodOpts) {
		o.Visibility = v
	}
}

// WithPodPlan sets the pod plan
func WithPodPlan(kind model.PlanKind) func(*PodOpts) {
	return func(o *PodOpts) {
		o.Plan = kind
	}
}

// CreatePod creates a filling pod with the creator as its first member
func (f *Factory) CreatePod(t *testing.T, creator string, opts ...func(*PodOpts)) *model.Pod {
	t.Helper()

	o := &PodOpts{
		Name:         fmt.Sprintf("Pod %s", randomID()),
		Visibility:   model.VisibilityPublic,
		Plan:         model.PlanFixed6M,
		Contribution: decimal.NewFromInt(100),
	}
	for _, fn := range opts {
		fn(o)
	}

	rate, err := o.Plan.Rate(model.AudiencePod)
	if err != nil {
		t.Fatalf("fixtures: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Second)
	pod := &model.Pod{
		ID:                 uuid.New().String(),
		Creator:            creator,
		Name:               o.Name,
		Visibility:         o.Visibility,
		PlanKind:           o.Plan,
		ContributionAmount: o.Contribution,
		AprBps:             rate,
		Term:               o.Plan.TermSeconds(),
		MembersJoined:      1,
		ActiveMembers:      1,
		TotalDeposited:     o.Contribution,
		PenaltyPool:        decimal.Zero,
		CreatedAt:          now,
		Version:            1,
	}

	query := `
		CREATE type::thing("pod", $pod_id) CONTENT {
			pod_id: $pod_id,
			creator: $creator,
			name: $name,
			description: "",
			visibility: $visibility,
			plan: $plan,
			custom_days: 0,
			contribution_amount: $contribution,
			apr_bps: $apr_bps,
			term: $term,
			activated: false,
			cancelled: false,
			closed_for_joining: false,
			members_joined: 1,
			active_members: 1,
			total_deposited: $contribution,
			penalty_pool: "0",
			created_at: $created_at,
			version: 1
		}
	`
	vars := map[string]interface{}{
		"pod_id":       pod.ID,
		"creator":      creator,
		"name":         pod.Name,
		"visibility":   string(pod.Visibility),
		"plan":         pod.PlanKind.String(),
		"contribution": pod.ContributionAmount.String(),
		"apr_bps":      pod.AprBps,
		"term":         pod.Term,
		"created_at":   now,
	}
	if _, err := f.db.Query(ctx(), query, vars); err != nil {
		t.Fatalf("fixtures: failed to create pod: %v", err)
	}

	f.insertMembership(t, pod, creator, now)
	return pod
}

// JoinPod adds a member row and bumps the pod counters
func (f *Factory) JoinPod(t *testing.T, pod *model.Pod, user string) *model.Membership {
	t.Helper()

	m := f.insertMembership(t, pod, user, time.Now().UTC().Truncate(time.Second))
	pod.MembersJoined++
	pod.ActiveMembers++
	pod.TotalDeposited = pod.TotalDeposited.Add(pod.ContributionAmount)

	query := `
		UPDATE type::thing("pod", $pod_id) SET
			members_joined = $members_joined,
			active_members = $active_members,
			total_deposited = $total_deposited,
			version += 1
	`
	vars := map[string]interface{}{
		"pod_id":          pod.ID,
		"members_joined":  pod.MembersJoined,
		"active_members":  pod.ActiveMembers,
		"total_deposited": pod.TotalDeposited.String(),
	}
	if _, err := f.db.Query(ctx(), query, vars); err != nil {
		t.Fatalf("fixtures: failed to update pod counters: %v", err)
	}
	pod.Version++
	return m
}

func (f *Factory) insertMembership(t *testing.T, pod *model.Pod, user string, at time.Time) *model.Membership {
	t.Helper()

	m := &model.Membership{
		ID:        uuid.New().String(),
		PodID:     pod.ID,
		User:      user,
		Deposit:   pod.ContributionAmount,
		JoinedAt:  at,
		ReceiptID: uuid.New().String(),
		Version:   1,
	}
	query := `
		CREATE type::thing("pod_membership", $membership_id) CONTENT {
			membership_id: $membership_id,
			pod_id: $pod_id,
			user: $user,
			deposit: $deposit,
			joined_at: $joined_at,
			exit_kind: "",
			receipt_id: $receipt_id,
			version: 1
		}
	`
	vars := map[string]interface{}{
		"membership_id": m.ID,
		"pod_id":        pod.ID,
		"user":          user,
		"deposit":       m.Deposit.String(),
		"joined_at":     at,
		"receipt_id":    m.ReceiptID,
	}
	if _, err := f.db.Query(ctx(), query, vars); err != nil {
		t.Fatalf("fixtures: failed to create membership: %v", err)
	}
	return m
}
