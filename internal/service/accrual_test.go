package service

import (
	"errors"
	"testing"
	"time"

	"github.com/forgo/somi/api/internal/model"
	"github.com/shopspring/decimal"
)

const day = int64(86400)

func TestAccrue_FlexThirtyDays(t *testing.T) {
	t.Parallel()
	calc := DefaultCalculator()

	got, err := calc.Accrue(decimal.NewFromInt(1000), 1000, 30*day)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := decimal.RequireFromString("8.219178082191780821")
	if !got.Equal(want) {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestAccrue_ZeroInputs(t *testing.T) {
	t.Parallel()
	calc := DefaultCalculator()

	cases := []struct {
		name      string
		principal decimal.Decimal
		apr       int64
		elapsed   int64
	}{
		{"zero principal", decimal.Zero, 1000, day},
		{"zero apr", decimal.NewFromInt(100), 0, day},
		{"zero elapsed", decimal.NewFromInt(100), 1000, 0},
	}
	for _, tc := range cases {
		got, err := calc.Accrue(tc.principal, tc.apr, tc.elapsed)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if !got.IsZero() {
			t.Errorf("%s: expected 0, got %s", tc.name, got)
		}
	}
}

func TestAccrue_Bounds(t *testing.T) {
	t.Parallel()
	calc := DefaultCalculator()

	if _, err := calc.Accrue(decimal.NewFromInt(-1), 1000, day); !errors.Is(err, ErrNegativePrincipal) {
		t.Errorf("expected ErrNegativePrincipal, got %v", err)
	}
	if _, err := calc.Accrue(decimal.NewFromInt(1), -1, day); !errors.Is(err, ErrAPROutOfBounds) {
		t.Errorf("expected ErrAPROutOfBounds for negative apr, got %v", err)
	}
	if _, err := calc.Accrue(decimal.NewFromInt(1), model.MaxAprBps+1, day); !errors.Is(err, ErrAPROutOfBounds) {
		t.Errorf("expected ErrAPROutOfBounds above ceiling, got %v", err)
	}
	if _, err := calc.Accrue(decimal.NewFromInt(1), model.MaxAprBps, day); err != nil {
		t.Errorf("apr at ceiling should be accepted, got %v", err)
	}
	if _, err := calc.Accrue(decimal.NewFromInt(1), 1000, -1); !errors.Is(err, ErrNegativeElapsed) {
		t.Errorf("expected ErrNegativeElapsed, got %v", err)
	}

	broken := &Calculator{SecondsPerYear: 0, MaxAprBps: model.MaxAprBps, Scale: AmountScale}
	if _, err := broken.Accrue(decimal.NewFromInt(1), 1000, day); !errors.Is(err, ErrInvalidAccrualSetup) {
		t.Errorf("expected ErrInvalidAccrualSetup, got %v", err)
	}
}

func TestAccrue_LinearInTime(t *testing.T) {
	t.Parallel()
	calc := DefaultCalculator()
	principal := decimal.NewFromInt(100)

	half, _ := calc.Accrue(principal, 2000, 90*day)
	full, _ := calc.Accrue(principal, 2000, 180*day)

	if !half.Equal(decimal.RequireFromString("4.931506849315068493")) {
		t.Errorf("unexpected 90-day interest %s", half)
	}
	if !full.Equal(decimal.RequireFromString("9.863013698630136986")) {
		t.Errorf("unexpected 180-day interest %s", full)
	}
	// Truncation can lose at most one unit of the last digit.
	diff := full.Sub(half.Mul(decimal.NewFromInt(2))).Abs()
	if diff.GreaterThan(decimal.New(1, -AmountScale)) {
		t.Errorf("accrual not linear: diff %s", diff)
	}
}

func TestAccrue_TruncatesTowardZero(t *testing.T) {
	t.Parallel()
	calc := DefaultCalculator()

	got, err := calc.Accrue(decimal.NewFromInt(1), 1, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(decimal.RequireFromString("0.000000000003170979")) {
		t.Errorf("expected truncated value, got %s", got)
	}
}

func TestClaimable_FixedTermAllOrNothing(t *testing.T) {
	t.Parallel()
	calc := DefaultCalculator()
	principal := decimal.NewFromInt(1000)
	term := model.PlanFixed6M.TermSeconds()
	start := testEpoch

	before, err := calc.Claimable(principal, 1800, start, term, start.Add(time.Duration(term-1)*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !before.IsZero() {
		t.Errorf("expected 0 before maturity, got %s", before)
	}

	want := decimal.RequireFromString("88.767123287671232876")
	atMaturity, _ := calc.Claimable(principal, 1800, start, term, start.Add(time.Duration(term)*time.Second))
	if !atMaturity.Equal(want) {
		t.Errorf("expected %s at maturity, got %s", want, atMaturity)
	}

	later, _ := calc.Claimable(principal, 1800, start, term, start.Add(time.Duration(term)*time.Second).Add(30*24*time.Hour))
	if !later.Equal(want) {
		t.Errorf("claimable must not grow past maturity, got %s", later)
	}

	preview, _ := calc.Preview(principal, 1800, start, start.Add(time.Duration(term)*time.Second).Add(30*24*time.Hour))
	if !preview.GreaterThan(want) {
		t.Errorf("preview should keep growing past maturity, got %s", preview)
	}
}

func TestClaimable_FlexIsContinuous(t *testing.T) {
	t.Parallel()
	calc := DefaultCalculator()

	got, err := calc.Claimable(decimal.NewFromInt(1000), 1000, testEpoch, 0, testEpoch.Add(30*24*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(decimal.RequireFromString("8.219178082191780821")) {
		t.Errorf("unexpected flex claimable %s", got)
	}
}

func TestClaimable_NegativeElapsed(t *testing.T) {
	t.Parallel()
	calc := DefaultCalculator()

	_, err := calc.Claimable(decimal.NewFromInt(1), 1000, testEpoch, day, testEpoch.Add(-time.Second))
	if !errors.Is(err, ErrNegativeElapsed) {
		t.Errorf("expected ErrNegativeElapsed, got %v", err)
	}
}

func TestSimulate(t *testing.T) {
	t.Parallel()
	calc := DefaultCalculator()

	sim, err := calc.Simulate(model.AudiencePod, model.PlanFixed2Y, 0, decimal.NewFromInt(1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sim.AprBps != 5000 || sim.DurationDays != 730 {
		t.Errorf("unexpected plan data: %+v", sim)
	}
	if !sim.TotalInterest.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected 1000 interest, got %s", sim.TotalInterest)
	}
	if !sim.Payout.Equal(decimal.NewFromInt(2000)) {
		t.Errorf("expected 2000 payout, got %s", sim.Payout)
	}

	flex, err := calc.Simulate(model.AudienceSolo, model.PlanFlex, 0, decimal.NewFromInt(1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flex.DurationDays != 365 || !flex.TotalInterest.Equal(decimal.NewFromInt(100)) {
		t.Errorf("unexpected flex simulation: %+v", flex)
	}

	custom, err := calc.Simulate(model.AudienceSolo, model.PlanCustomDays, 30, decimal.NewFromInt(1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if custom.DurationDays != 30 {
		t.Errorf("expected 30-day horizon, got %d", custom.DurationDays)
	}

	if _, err := calc.Simulate(model.AudienceSolo, model.PlanCustomDays, 151, decimal.NewFromInt(1)); !errors.Is(err, model.ErrCustomDaysOutOfRange) {
		t.Errorf("expected custom days error, got %v", err)
	}
	if _, err := calc.Simulate(model.AudienceSolo, model.PlanFlex, 0, decimal.Zero); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestPenaltyShare(t *testing.T) {
	t.Parallel()
	calc := DefaultCalculator()
	pool := decimal.NewFromInt(10)

	third := calc.PenaltyShare(pool, decimal.NewFromInt(100), decimal.NewFromInt(300))
	if !third.Equal(decimal.RequireFromString("3.333333333333333333")) {
		t.Errorf("unexpected share %s", third)
	}
	last := calc.PenaltyShare(pool, decimal.NewFromInt(100), decimal.NewFromInt(100))
	if !last.Equal(pool) {
		t.Errorf("last claimer should take the whole pool, got %s", last)
	}
	if got := calc.PenaltyShare(decimal.Zero, decimal.NewFromInt(1), decimal.NewFromInt(2)); !got.IsZero() {
		t.Errorf("empty pool should share 0, got %s", got)
	}
}
