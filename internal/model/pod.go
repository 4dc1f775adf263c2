package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Pod sizing and metadata limits
const (
	MaxPodMembers           = 5
	MinPodActivationMembers = 3
	MaxPodNameLength        = 64
	MaxPodDescLength        = 280
)

// ErrPodInvariant is wrapped by CheckInvariants failures
var ErrPodInvariant = errors.New("pod invariant violated")

// Visibility controls whether a pod is listed publicly
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Valid reports whether the visibility is known
func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// Pod is a group savings pool of up to five members with equal contributions
type Pod struct {
	ID                 string          `json:"id"`
	Creator            string          `json:"creator"`
	Name               string          `json:"name"`
	Description        string          `json:"description,omitempty"`
	Visibility         Visibility      `json:"visibility"`
	PlanKind           PlanKind        `json:"plan"`
	CustomDays         int             `json:"custom_days,omitempty"`
	ContributionAmount decimal.Decimal `json:"contribution_amount"`
	AprBps             int64           `json:"apr_bps"`
	Term               int64           `json:"term"` // seconds, 0 for flexible plans
	Activated          bool            `json:"activated"`
	Cancelled          bool            `json:"cancelled"`
	ClosedForJoining   bool            `json:"closed_for_joining"`
	StartTime          *time.Time      `json:"start_time,omitempty"`
	MaturityTime       *time.Time      `json:"maturity_time,omitempty"`
	MembersJoined      int             `json:"members_joined"`
	ActiveMembers      int             `json:"active_members"`
	TotalDeposited     decimal.Decimal `json:"total_deposited"`
	PenaltyPool        decimal.Decimal `json:"penalty_pool"`
	CreatedAt          time.Time       `json:"created_at"`
	Version            int             `json:"version"`
}

// PodStatus is the derived lifecycle label of a pod
type PodStatus string

const (
	PodStatusFilling   PodStatus = "filling"
	PodStatusFull      PodStatus = "full"
	PodStatusClosed    PodStatus = "closed"
	PodStatusActive    PodStatus = "active"
	PodStatusMatured   PodStatus = "matured"
	PodStatusCancelled PodStatus = "cancelled"
	PodStatusCompleted PodStatus = "completed"
)

// IsFixedTerm reports whether members are locked until maturity
func (p *Pod) IsFixedTerm() bool {
	return p.Term > 0
}

// IsMatured reports whether a fixed-term pod has reached maturity
func (p *Pod) IsMatured(now time.Time) bool {
	return p.Activated && p.MaturityTime != nil && !now.Before(*p.MaturityTime)
}

// AccrualWindow returns when a member's deposit starts earning and, on a
// fixed-term pod, how many seconds it earns until the shared maturity. A
// member who joined after activation earns from their own join time. ok is
// false while the pod has not activated.
func (p *Pod) AccrualWindow(m *Membership) (start time.Time, term int64, ok bool) {
	if !p.Activated || p.StartTime == nil {
		return time.Time{}, 0, false
	}
	start = *p.StartTime
	if m.JoinedAt.After(start) {
		start = m.JoinedAt
	}
	if p.IsFixedTerm() && p.MaturityTime != nil {
		term = p.MaturityTime.Unix() - start.Unix()
		if term < 0 {
			term = 0
		}
	}
	return start, term, true
}

// IsJoinable reports whether new members may join
func (p *Pod) IsJoinable() bool {
	return !p.Cancelled && !p.ClosedForJoining && p.MembersJoined < MaxPodMembers
}

// StatusAt is the single place the pod status is computed
func (p *Pod) StatusAt(now time.Time) PodStatus {
	switch {
	case p.Cancelled:
		return PodStatusCancelled
	case p.Activated && p.ActiveMembers == 0:
		return PodStatusCompleted
	case p.IsMatured(now):
		return PodStatusMatured
	case p.Activated:
		return PodStatusActive
	case p.MembersJoined >= MaxPodMembers:
		return PodStatusFull
	case p.ClosedForJoining:
		return PodStatusClosed
	}
	return PodStatusFilling
}

// CheckInvariants validates the counters and flags that every persisted
// pod state must satisfy.
func (p *Pod) CheckInvariants() error {
	switch {
	case p.MembersJoined < 1 || p.MembersJoined > MaxPodMembers:
		return fmt.Errorf("%w: members joined %d out of range", ErrPodInvariant, p.MembersJoined)
	case p.ActiveMembers < 0 || p.ActiveMembers > p.MembersJoined:
		return fmt.Errorf("%w: active members %d of %d", ErrPodInvariant, p.ActiveMembers, p.MembersJoined)
	case p.PenaltyPool.IsNegative():
		return fmt.Errorf("%w: negative penalty pool", ErrPodInvariant)
	case p.TotalDeposited.IsNegative():
		return fmt.Errorf("%w: negative total deposited", ErrPodInvariant)
	case p.Activated && p.Cancelled:
		return fmt.Errorf("%w: activated pod cannot be cancelled", ErrPodInvariant)
	case p.Activated && p.StartTime == nil:
		return fmt.Errorf("%w: activated pod has no start time", ErrPodInvariant)
	case p.Activated && p.MembersJoined < MinPodActivationMembers:
		return fmt.Errorf("%w: activated with %d members", ErrPodInvariant, p.MembersJoined)
	case p.MembersJoined == MaxPodMembers && !p.ClosedForJoining:
		return fmt.Errorf("%w: full pod still open for joining", ErrPodInvariant)
	}
	return nil
}

// ExitKind records how a membership ended
type ExitKind string

const (
	ExitKindEarly    ExitKind = "early_exit"
	ExitKindClaimed  ExitKind = "claimed"
	ExitKindRefunded ExitKind = "refunded"
)

// Membership is one member's stake in a pod
type Membership struct {
	ID        string          `json:"id"`
	PodID     string          `json:"pod_id"`
	User      string          `json:"user"`
	Deposit   decimal.Decimal `json:"deposit"`
	JoinedAt  time.Time       `json:"joined_at"`
	ExitedAt  *time.Time      `json:"exited_at,omitempty"`
	ExitKind  ExitKind        `json:"exit_kind,omitempty"`
	ReceiptID string          `json:"receipt_id"`
	Version   int             `json:"version"`
}

// Active reports whether the member still has funds in the pod
func (m *Membership) Active() bool {
	return m.ExitedAt == nil
}

// PodView adds derived fields for API responses
type PodView struct {
	*Pod
	Status   PodStatus `json:"status"`
	Joinable bool      `json:"joinable"`
}

// PodMemberCount reports the membership counters of a pod
type PodMemberCount struct {
	PodID         string `json:"pod_id"`
	MembersJoined int    `json:"members_joined"`
	ActiveMembers int    `json:"active_members"`
	MaxMembers    int    `json:"max_members"`
}

// LeaveResult is the settlement of a member leaving an active pod
type LeaveResult struct {
	PodID            string          `json:"pod_id"`
	Refund           decimal.Decimal `json:"refund"`
	Interest         decimal.Decimal `json:"interest"`
	PenaltyForfeited decimal.Decimal `json:"penalty_forfeited"`
	ExitedAt         time.Time       `json:"exited_at"`
}

// PodClaim is the settlement of a member claiming their pod share
type PodClaim struct {
	PodID        string          `json:"pod_id"`
	Principal    decimal.Decimal `json:"principal"`
	Interest     decimal.Decimal `json:"interest"`
	PenaltyShare decimal.Decimal `json:"penalty_share"`
	ClaimedAt    time.Time       `json:"claimed_at"`
}

// Refund is the principal returned to a member when a pod is cancelled
type Refund struct {
	User      string          `json:"user"`
	Principal decimal.Decimal `json:"principal"`
}

// CreatePodRequest creates a pod; the creator joins with the contribution
type CreatePodRequest struct {
	Name               string          `json:"name"`
	Description        string          `json:"description,omitempty"`
	Visibility         Visibility      `json:"visibility,omitempty"`
	Plan               PlanKind        `json:"plan"`
	CustomDays         int             `json:"custom_days,omitempty"`
	ContributionAmount decimal.Decimal `json:"contribution_amount"`
}

// Validate validates the create pod request
func (r *CreatePodRequest) Validate() []FieldError {
	var errors []FieldError

	if r.Name == "" {
		errors = append(errors, FieldError{Field: "name", Message: "name is required"})
	} else if len(r.Name) > MaxPodNameLength {
		errors = append(errors, FieldError{Field: "name", Message: "name must be 64 characters or less"})
	}
	if len(r.Description) > MaxPodDescLength {
		errors = append(errors, FieldError{Field: "description", Message: "description must be 280 characters or less"})
	}
	if r.Visibility != "" && !r.Visibility.Valid() {
		errors = append(errors, FieldError{Field: "visibility", Message: "visibility must be 'public' or 'private'"})
	}
	if !r.Plan.Valid() {
		errors = append(errors, FieldError{Field: "plan", Message: "plan must be one of flex, custom, 6m, 1y, 2y"})
	}
	if r.Plan == PlanCustomDays {
		if err := ValidateCustomDays(r.CustomDays); err != nil {
			errors = append(errors, FieldError{Field: "custom_days", Message: err.Error()})
		}
	}
	if !r.ContributionAmount.IsPositive() {
		errors = append(errors, FieldError{Field: "contribution_amount", Message: "contribution_amount must be greater than zero"})
	}

	return errors
}

// JoinPodRequest joins a pod with exactly the contribution amount
type JoinPodRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// Validate validates the join request
func (r *JoinPodRequest) Validate() []FieldError {
	if !r.Amount.IsPositive() {
		return []FieldError{{Field: "amount", Message: "amount must be greater than zero"}}
	}
	return nil
}

// UpdatePodRequest changes pod metadata; nil fields are left untouched
type UpdatePodRequest struct {
	Name        *string     `json:"name,omitempty"`
	Description *string     `json:"description,omitempty"`
	Visibility  *Visibility `json:"visibility,omitempty"`
}

// Validate validates the update request
func (r *UpdatePodRequest) Validate() []FieldError {
	var errors []FieldError

	if r.Name != nil {
		if *r.Name == "" {
			errors = append(errors, FieldError{Field: "name", Message: "name cannot be empty"})
		} else if len(*r.Name) > MaxPodNameLength {
			errors = append(errors, FieldError{Field: "name", Message: "name must be 64 characters or less"})
		}
	}
	if r.Description != nil && len(*r.Description) > MaxPodDescLength {
		errors = append(errors, FieldError{Field: "description", Message: "description must be 280 characters or less"})
	}
	if r.Visibility != nil && !r.Visibility.Valid() {
		errors = append(errors, FieldError{Field: "visibility", Message: "visibility must be 'public' or 'private'"})
	}

	return errors
}
