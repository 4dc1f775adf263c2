package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is a solo savings position
type Position struct {
	ID         string          `json:"id"`
	Owner      string          `json:"owner"`
	PlanKind   PlanKind        `json:"plan"`
	CustomDays int             `json:"custom_days,omitempty"`
	Principal  decimal.Decimal `json:"principal"`
	StartTime  time.Time       `json:"start_time"`
	Term       int64           `json:"term"` // seconds, 0 for flexible plans
	AprBps     int64           `json:"apr_bps"`
	Closed     bool            `json:"closed"`
	ClosedAt   *time.Time      `json:"closed_at,omitempty"`
	ReceiptID  string          `json:"receipt_id"`
	Version    int             `json:"version"`
}

// PositionStatus is derived from the position fields and the clock
type PositionStatus string

const (
	PositionStatusOpen      PositionStatus = "open"
	PositionStatusClaimable PositionStatus = "claimable"
	PositionStatusClosed    PositionStatus = "closed"
)

// ReceiptTier is the display tier of a receipt
type ReceiptTier string

const (
	ReceiptTierBronze ReceiptTier = "bronze"
	ReceiptTierSilver ReceiptTier = "silver"
	ReceiptTierGold   ReceiptTier = "gold"
)

// MaturityTime returns start+term, or nil for flexible positions
func (p *Position) MaturityTime() *time.Time {
	if p.Term <= 0 {
		return nil
	}
	m := p.StartTime.Add(time.Duration(p.Term) * time.Second)
	return &m
}

// IsMatured reports whether a fixed-term position has reached maturity.
// Flexible positions are always considered matured.
func (p *Position) IsMatured(now time.Time) bool {
	m := p.MaturityTime()
	return m == nil || !now.Before(*m)
}

// StatusAt is the single place the position status is computed
func (p *Position) StatusAt(now time.Time) PositionStatus {
	if p.Closed {
		return PositionStatusClosed
	}
	if p.IsMatured(now) {
		return PositionStatusClaimable
	}
	return PositionStatusOpen
}

// TierAt returns the receipt tier: gold once closed, silver past half the
// term, bronze otherwise. Flexible positions stay bronze until closed.
func (p *Position) TierAt(now time.Time) ReceiptTier {
	if p.Closed {
		return ReceiptTierGold
	}
	if p.Term > 0 && now.Unix()-p.StartTime.Unix() >= p.Term/2 {
		return ReceiptTierSilver
	}
	return ReceiptTierBronze
}

// PositionView adds derived fields for API responses
type PositionView struct {
	*Position
	Status       PositionStatus  `json:"status"`
	Tier         ReceiptTier     `json:"tier"`
	MaturityTime *time.Time      `json:"maturity_time,omitempty"`
	Accrued      decimal.Decimal `json:"accrued"`
}

// PositionClaim is the settlement of a solo position
type PositionClaim struct {
	PositionID string          `json:"position_id"`
	Principal  decimal.Decimal `json:"principal"`
	Interest   decimal.Decimal `json:"interest"`
	Forfeited  decimal.Decimal `json:"forfeited"`
	Early      bool            `json:"early"`
	ClaimedAt  time.Time       `json:"claimed_at"`
}

// DepositRequest opens a solo position
type DepositRequest struct {
	Plan       PlanKind        `json:"plan"`
	CustomDays int             `json:"custom_days,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
}

// Validate validates the deposit request
func (r *DepositRequest) Validate() []FieldError {
	var errors []FieldError

	if !r.Plan.Valid() {
		errors = append(errors, FieldError{Field: "plan", Message: "plan must be one of flex, custom, 6m, 1y, 2y"})
	}
	if r.Plan == PlanCustomDays {
		if err := ValidateCustomDays(r.CustomDays); err != nil {
			errors = append(errors, FieldError{Field: "custom_days", Message: err.Error()})
		}
	}
	if !r.Amount.IsPositive() {
		errors = append(errors, FieldError{Field: "amount", Message: "amount must be greater than zero"})
	}

	return errors
}
