package model

import (
	"errors"
	"fmt"
	"strings"
)

// Time and rate units shared by the accrual math
const (
	SecondsPerDay  int64 = 86400
	DaysPerYear    int64 = 365
	SecondsPerYear int64 = SecondsPerDay * DaysPerYear
	BasisPoints    int64 = 10000
	MaxAprBps      int64 = 50000
)

// Custom-days plan bounds
const (
	MinCustomDays = 1
	MaxCustomDays = 150
)

var (
	ErrUnknownPlanKind      = errors.New("unknown plan kind")
	ErrUnknownAudience      = errors.New("unknown audience")
	ErrCustomDaysOutOfRange = errors.New("custom days must be between 1 and 150")
)

// PlanKind identifies a savings plan. The ordinal values match the on-chain
// plan indices so indexed events decode without a lookup table.
type PlanKind int

const (
	PlanFlex PlanKind = iota
	PlanCustomDays
	PlanFixed6M
	PlanFixed1Y
	PlanFixed2Y
)

// AllPlanKinds lists every plan in catalog order
var AllPlanKinds = []PlanKind{PlanFlex, PlanCustomDays, PlanFixed6M, PlanFixed1Y, PlanFixed2Y}

// Audience distinguishes solo positions from pod memberships
type Audience string

const (
	AudienceSolo Audience = "solo"
	AudiencePod  Audience = "pod"
)

// Plan is one row of the catalog
type Plan struct {
	Kind         PlanKind `json:"kind"`
	Label        string   `json:"label"`
	SoloAprBps   int64    `json:"solo_apr_bps"`
	PodAprBps    int64    `json:"pod_apr_bps"`
	DurationDays int      `json:"duration_days"` // 0 for flexible plans
}

// PlanFor returns the catalog row for a plan kind. Every other plan lookup
// goes through this switch, so adding a kind means touching one place.
func PlanFor(kind PlanKind) (Plan, error) {
	switch kind {
	case PlanFlex:
		return Plan{Kind: kind, Label: "flex", SoloAprBps: 1000, PodAprBps: 1200}, nil
	case PlanCustomDays:
		return Plan{Kind: kind, Label: "custom", SoloAprBps: 1200, PodAprBps: 1500}, nil
	case PlanFixed6M:
		return Plan{Kind: kind, Label: "6m", SoloAprBps: 1800, PodAprBps: 2000, DurationDays: 180}, nil
	case PlanFixed1Y:
		return Plan{Kind: kind, Label: "1y", SoloAprBps: 2000, PodAprBps: 2500, DurationDays: 365}, nil
	case PlanFixed2Y:
		return Plan{Kind: kind, Label: "2y", SoloAprBps: 3000, PodAprBps: 5000, DurationDays: 730}, nil
	}
	return Plan{}, fmt.Errorf("%w: %d", ErrUnknownPlanKind, int(kind))
}

// Catalog returns all plans in catalog order
func Catalog() []Plan {
	plans := make([]Plan, 0, len(AllPlanKinds))
	for _, k := range AllPlanKinds {
		p, _ := PlanFor(k)
		plans = append(plans, p)
	}
	return plans
}

// Valid reports whether the kind is in the catalog
func (k PlanKind) Valid() bool {
	_, err := PlanFor(k)
	return err == nil
}

// Rate returns the APR in basis points for the given audience
func (k PlanKind) Rate(audience Audience) (int64, error) {
	p, err := PlanFor(k)
	if err != nil {
		return 0, err
	}
	switch audience {
	case AudienceSolo:
		return p.SoloAprBps, nil
	case AudiencePod:
		return p.PodAprBps, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAudience, audience)
}

// DurationDays returns the lock length in days. Flex returns 0. CustomDays
// validates and echoes customDays; the value is informational only and
// never shortens or extends accrual.
func (k PlanKind) DurationDays(customDays int) (int, error) {
	p, err := PlanFor(k)
	if err != nil {
		return 0, err
	}
	if k == PlanCustomDays {
		if err := ValidateCustomDays(customDays); err != nil {
			return 0, err
		}
		return customDays, nil
	}
	return p.DurationDays, nil
}

// TermSeconds returns the enforced lock term. Zero means flexible accrual.
func (k PlanKind) TermSeconds() int64 {
	p, err := PlanFor(k)
	if err != nil {
		return 0
	}
	return int64(p.DurationDays) * SecondsPerDay
}

// IsFixedTerm reports whether the plan locks funds until maturity
func (k PlanKind) IsFixedTerm() bool {
	return k.TermSeconds() > 0
}

// String returns the short label used on the wire
func (k PlanKind) String() string {
	p, err := PlanFor(k)
	if err != nil {
		return fmt.Sprintf("plan(%d)", int(k))
	}
	return p.Label
}

// MarshalText encodes the plan as its label
func (k PlanKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPlanKind, int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes a plan label
func (k *PlanKind) UnmarshalText(text []byte) error {
	parsed, err := ParsePlanKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParsePlanKind accepts a label ("flex", "custom", "6m", "1y", "2y") or a
// catalog ordinal ("0".."4").
func ParsePlanKind(s string) (PlanKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, k := range AllPlanKinds {
		if s == k.String() || s == fmt.Sprintf("%d", int(k)) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPlanKind, s)
}

// ValidateCustomDays checks the custom-days plan bounds
func ValidateCustomDays(days int) error {
	if days < MinCustomDays || days > MaxCustomDays {
		return ErrCustomDaysOutOfRange
	}
	return nil
}
