package service

import (
	"errors"

	"github.com/forgo/somi/api/internal/model"
)

// Centralized service layer errors.
// All errors returned by service methods are defined here for consistency
// and to make error handling in handlers predictable.

// ===== Accrual Errors =====
var (
	ErrNegativePrincipal   = errors.New("principal must not be negative")
	ErrAPROutOfBounds      = errors.New("apr must be between 0 and 50000 basis points")
	ErrNegativeElapsed     = errors.New("elapsed time must not be negative")
	ErrInvalidAccrualSetup = errors.New("seconds per year must be positive")
)

// ===== Plan Errors =====
var (
	ErrInvalidPlan       = model.ErrUnknownPlanKind
	ErrInvalidCustomDays = model.ErrCustomDaysOutOfRange
	ErrInvalidAmount     = errors.New("amount must be greater than zero")
	ErrOwnerRequired     = errors.New("owner is required")
)

// ===== Position Errors =====
var (
	ErrPositionNotFound = errors.New("position not found")
	ErrNotPositionOwner = errors.New("not the owner of this position")
	ErrPositionClosed   = errors.New("position already closed")
)

// ===== Pod Errors =====
var (
	ErrPodNotFound            = errors.New("pod not found")
	ErrPodNameRequired        = errors.New("pod name is required")
	ErrPodNameTooLong         = errors.New("pod name exceeds maximum length")
	ErrPodDescTooLong         = errors.New("pod description exceeds maximum length")
	ErrInvalidVisibility      = errors.New("visibility must be public or private")
	ErrNotPodCreator          = errors.New("only the pod creator can perform this action")
	ErrNotPodMember           = errors.New("not a member of this pod")
	ErrAlreadyPodMember       = errors.New("already a member of this pod")
	ErrPodFull                = errors.New("pod is full")
	ErrPodClosedForJoining    = errors.New("pod is closed for joining")
	ErrPodCancelled           = errors.New("pod has been cancelled")
	ErrPodAlreadyActive       = errors.New("pod is already active")
	ErrPodNotActive           = errors.New("pod is not active")
	ErrPodNotMatured          = errors.New("pod has not reached maturity")
	ErrPodMatured             = errors.New("pod has matured, claim instead of leaving")
	ErrContributionMismatch   = errors.New("amount must equal the pod contribution")
	ErrNotEnoughMembers       = errors.New("pod needs at least 3 members")
	ErrMembershipClosed       = errors.New("membership already settled")
	ErrInvalidActivationRules = errors.New("activation threshold must be between 3 and 5")
)

// ===== Batch Errors =====
var (
	ErrEmptyBatch       = errors.New("batch has no items")
	ErrBatchTooLarge    = errors.New("batch exceeds 50 items")
	ErrInvalidBatchItem = errors.New("batch item must reference a position or a pod")
)

// ===== Aggregator Errors =====
var (
	ErrEventKeyRequired      = errors.New("event key is required")
	ErrEntityNotMaterialized = errors.New("referenced entity has not been created yet")
	ErrEventConflict         = errors.New("event conflicts with projected state")
)

// ===== Consistency Errors =====
var (
	ErrConcurrentModification = errors.New("entity was modified concurrently, retry")
	ErrInvariantViolation     = errors.New("state invariant violated")
)
