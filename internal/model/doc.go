// Package model defines the domain entities of the savings engine.
//
// The model package contains the struct definitions shared by every layer:
// plans, positions, pods and memberships, claims, journal events and the
// aggregated totals, plus their request types and error definitions.
//
// # Domain Entities
//
//   - Plan: catalog entry with a term and separate solo and pod APRs
//   - Position: a solo deposit that accrues simple interest until claimed
//   - Pod: a group savings pool with a fixed contribution per member
//   - Membership: one account's stake in a pod
//   - Claim: a settled payout of principal and interest
//   - Event: one journaled state transition with a unique key
//   - Totals: the protocol-wide figures folded from the journal
//
// # Derived State
//
// Status labels are never stored. Position.StatusAt and Pod.StatusAt derive
// them from the stored fields and a clock reading so they cannot drift.
//
// # Amounts
//
// Token amounts are shopspring/decimal values and serialize as JSON strings:
//
//	type DepositRequest struct {
//	    Plan       PlanKind        `json:"plan"`
//	    CustomDays int             `json:"custom_days,omitempty"`
//	    Amount     decimal.Decimal `json:"amount"`
//	}
//
// # Error Types
//
// RFC 9457 Problem Details errors are defined in errors.go.
package model
