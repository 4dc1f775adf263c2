package service

import (
	"time"

	"github.com/forgo/somi/api/internal/model"
	"github.com/shopspring/decimal"
)

// AmountScale is the number of fractional digits kept on token amounts.
// Results are truncated toward zero so the protocol never over-pays.
const AmountScale int32 = 18

// Calculator computes simple annualized interest with exact decimal math
type Calculator struct {
	SecondsPerYear int64
	MaxAprBps      int64
	Scale          int32
}

// DefaultCalculator uses a 365-day year and a 500% APR ceiling
func DefaultCalculator() *Calculator {
	return &Calculator{
		SecondsPerYear: model.SecondsPerYear,
		MaxAprBps:      model.MaxAprBps,
		Scale:          AmountScale,
	}
}

func calculatorOrDefault(c *Calculator) *Calculator {
	if c == nil {
		return DefaultCalculator()
	}
	return c
}

// Accrue returns principal * aprBps / 10000 * elapsed / secondsPerYear
func (c *Calculator) Accrue(principal decimal.Decimal, aprBps, elapsedSeconds int64) (decimal.Decimal, error) {
	if c.SecondsPerYear <= 0 {
		return decimal.Zero, ErrInvalidAccrualSetup
	}
	if principal.IsNegative() {
		return decimal.Zero, ErrNegativePrincipal
	}
	if aprBps < 0 || aprBps > c.MaxAprBps {
		return decimal.Zero, ErrAPROutOfBounds
	}
	if elapsedSeconds < 0 {
		return decimal.Zero, ErrNegativeElapsed
	}
	if principal.IsZero() || aprBps == 0 || elapsedSeconds == 0 {
		return decimal.Zero, nil
	}

	num := principal.Mul(decimal.NewFromInt(aprBps)).Mul(decimal.NewFromInt(elapsedSeconds))
	den := decimal.NewFromInt(model.BasisPoints).Mul(decimal.NewFromInt(c.SecondsPerYear))
	q, _ := num.QuoRem(den, c.Scale)
	return q, nil
}

// Preview projects interest at asOf without capping at the term. Fixed-term
// previews keep growing past maturity even though the claimable amount
// does not.
func (c *Calculator) Preview(principal decimal.Decimal, aprBps int64, start, asOf time.Time) (decimal.Decimal, error) {
	return c.Accrue(principal, aprBps, elapsedSeconds(start, asOf))
}

// Claimable returns the interest that can be paid out at now. Flexible
// accrual is continuous. Fixed terms pay nothing before maturity and
// exactly the full-term interest from maturity on.
func (c *Calculator) Claimable(principal decimal.Decimal, aprBps int64, start time.Time, term int64, now time.Time) (decimal.Decimal, error) {
	elapsed := elapsedSeconds(start, now)
	if term <= 0 {
		return c.Accrue(principal, aprBps, elapsed)
	}
	if elapsed < 0 {
		return decimal.Zero, ErrNegativeElapsed
	}
	if elapsed < term {
		return decimal.Zero, nil
	}
	return c.Accrue(principal, aprBps, term)
}

// DailyInterest divides a total over days, truncated to the amount scale
func (c *Calculator) DailyInterest(total decimal.Decimal, days int) decimal.Decimal {
	if days <= 0 {
		return decimal.Zero
	}
	q, _ := total.QuoRem(decimal.NewFromInt(int64(days)), c.Scale)
	return q
}

// Simulate previews the full-term return of a plan. Flexible and custom
// plans are projected over one year, or over customDays when given.
func (c *Calculator) Simulate(audience model.Audience, kind model.PlanKind, customDays int, principal decimal.Decimal) (*model.Simulation, error) {
	if !principal.IsPositive() {
		return nil, ErrInvalidAmount
	}
	rate, err := kind.Rate(audience)
	if err != nil {
		return nil, err
	}
	days, err := kind.DurationDays(customDays)
	if err != nil {
		return nil, err
	}
	horizon := days
	if horizon == 0 {
		horizon = int(model.DaysPerYear)
	}

	total, err := c.Accrue(principal, rate, int64(horizon)*model.SecondsPerDay)
	if err != nil {
		return nil, err
	}

	return &model.Simulation{
		Plan:          kind,
		Audience:      audience,
		AprBps:        rate,
		DurationDays:  horizon,
		Principal:     principal,
		TotalInterest: total,
		DailyInterest: c.DailyInterest(total, horizon),
		Payout:        principal.Add(total),
	}, nil
}

// elapsedSeconds counts whole wall-clock seconds between two instants
func elapsedSeconds(start, now time.Time) int64 {
	return now.Unix() - start.Unix()
}
