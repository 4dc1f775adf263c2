package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Totals are the protocol-wide aggregates folded from the event stream
type Totals struct {
	TotalLocked     decimal.Decimal `json:"total_locked"`
	TotalActivePods int64           `json:"total_active_pods"`
	TotalClaims     int64           `json:"total_claims"`
	TotalDepositors int64           `json:"total_depositors"`
	LastSeq         uint64          `json:"last_seq"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// PositionProjection is the aggregator's view of a solo position
type PositionProjection struct {
	ID        string          `json:"id"`
	User      string          `json:"user"`
	Plan      PlanKind        `json:"plan"`
	Principal decimal.Decimal `json:"principal"`
	StartTime time.Time       `json:"start_time"`
	Claimed   bool            `json:"claimed"`
}

// MemberProjection is the aggregator's view of a pod membership
type MemberProjection struct {
	User     string          `json:"user"`
	Deposit  decimal.Decimal `json:"deposit"`
	JoinedAt time.Time       `json:"joined_at"`
	ExitedAt *time.Time      `json:"exited_at,omitempty"`
	ExitKind ExitKind        `json:"exit_kind,omitempty"`
}

// PodProjection is the aggregator's view of a pod
type PodProjection struct {
	ID               string                       `json:"id"`
	Creator          string                       `json:"creator"`
	Plan             PlanKind                     `json:"plan"`
	Contribution     decimal.Decimal              `json:"contribution"`
	Activated        bool                         `json:"activated"`
	Cancelled        bool                         `json:"cancelled"`
	ClosedForJoining bool                         `json:"closed_for_joining"`
	CountedActive    bool                         `json:"counted_active"`
	StartTime        *time.Time                   `json:"start_time,omitempty"`
	MaturityTime     *time.Time                   `json:"maturity_time,omitempty"`
	AprBps           int64                        `json:"apr_bps"`
	MembersJoined    int                          `json:"members_joined"`
	ActiveMembers    int                          `json:"active_members"`
	TotalDeposited   decimal.Decimal              `json:"total_deposited"`
	PenaltyPool      decimal.Decimal              `json:"penalty_pool"`
	Members          map[string]*MemberProjection `json:"members"`
}

// PenaltySnapshotReason tells which event moved the penalty pool
type PenaltySnapshotReason string

const (
	SnapshotEarlyExit PenaltySnapshotReason = "early_exit"
	SnapshotClaim     PenaltySnapshotReason = "claim"
)

// PenaltyPoolSnapshot records the penalty pool value after it changed
type PenaltyPoolSnapshot struct {
	ID        string                `json:"id"`
	PodID     string                `json:"pod_id"`
	Value     decimal.Decimal       `json:"value"`
	Reason    PenaltySnapshotReason `json:"reason"`
	Timestamp time.Time             `json:"timestamp"`
}

// ProjectionState is the full aggregator state. Applied holds the keys of
// every folded event and is persisted apart from the rest of the state.
type ProjectionState struct {
	Totals    Totals                         `json:"totals"`
	Positions map[string]*PositionProjection `json:"positions"`
	Pods      map[string]*PodProjection      `json:"pods"`
	Deferred  []Event                        `json:"deferred,omitempty"`
	Applied   map[string]uint64              `json:"-"`
}

// NewProjectionState returns an empty state
func NewProjectionState() *ProjectionState {
	return &ProjectionState{
		Totals:    Totals{TotalLocked: decimal.Zero},
		Positions: make(map[string]*PositionProjection),
		Pods:      make(map[string]*PodProjection),
		Applied:   make(map[string]uint64),
	}
}

// ProjectionCommit is what one applyEvent call persists in a single write.
// Only the positions and pods named in ChangedPositions and ChangedPods are
// rewritten; the rest of State is already stored.
type ProjectionCommit struct {
	State            *ProjectionState
	Applied          map[string]uint64
	ChangedPositions map[string]struct{}
	ChangedPods      map[string]struct{}
	Claims           []ClaimRecord
	Snapshots        []PenaltyPoolSnapshot
}

// TouchPosition marks a position projection for writing
func (c *ProjectionCommit) TouchPosition(id string) {
	if c.ChangedPositions == nil {
		c.ChangedPositions = make(map[string]struct{})
	}
	c.ChangedPositions[id] = struct{}{}
}

// TouchPod marks a pod projection for writing
func (c *ProjectionCommit) TouchPod(id string) {
	if c.ChangedPods == nil {
		c.ChangedPods = make(map[string]struct{})
	}
	c.ChangedPods[id] = struct{}{}
}

// Simulation previews the return of a plan for a given principal
type Simulation struct {
	Plan          PlanKind        `json:"plan"`
	Audience      Audience        `json:"audience"`
	AprBps        int64           `json:"apr_bps"`
	DurationDays  int             `json:"duration_days"`
	Principal     decimal.Decimal `json:"principal"`
	TotalInterest decimal.Decimal `json:"total_interest"`
	DailyInterest decimal.Decimal `json:"daily_interest"`
	Payout        decimal.Decimal `json:"payout"`
}
