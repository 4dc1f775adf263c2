package service

import (
	"time"

	"github.com/forgo/somi/api/internal/model"
	"github.com/shopspring/decimal"
)

// EarlyExitPenalty is the interest a member forfeits by leaving a
// fixed-term pod before maturity: what their deposit accrued since it
// started earning.
func (c *Calculator) EarlyExitPenalty(pod *model.Pod, member *model.Membership, now time.Time) (decimal.Decimal, error) {
	start, _, ok := pod.AccrualWindow(member)
	if !ok || !now.After(start) {
		return decimal.Zero, nil
	}
	return c.Preview(member.Deposit, pod.AprBps, start, now)
}

// PenaltyShare returns a claimer's cut of the penalty pool, pro-rata to
// their contribution among the members still holding funds. The remaining
// claimer (contribution equal to the active total) receives the whole
// remainder, so rounding dust never strands in the pool.
func (c *Calculator) PenaltyShare(pool, contribution, totalActiveContribution decimal.Decimal) decimal.Decimal {
	if !pool.IsPositive() || !contribution.IsPositive() || !totalActiveContribution.IsPositive() {
		return decimal.Zero
	}
	if contribution.GreaterThanOrEqual(totalActiveContribution) {
		return pool
	}
	share, _ := pool.Mul(contribution).QuoRem(totalActiveContribution, c.Scale)
	if share.GreaterThan(pool) {
		return pool
	}
	return share
}

// activeContribution sums the deposits of members that have not exited
func activeContribution(members []*model.Membership) decimal.Decimal {
	total := decimal.Zero
	for _, m := range members {
		if m.Active() {
			total = total.Add(m.Deposit)
		}
	}
	return total
}
