// Package rollover carries unused (or overspent) budget allowance into the
// next period.
package rollover

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
)

const (
	// PolicyCarry carries leftover as is, including a negative deficit.
	PolicyCarry Policy = "carry"
	// PolicyFloor never carries less than zero.
	PolicyFloor Policy = "floor"

	DefaultPolicy = PolicyCarry
)

type (
	Policy string

	// Ledger answers whether a budget period was already rolled over.
	Ledger interface {
		RolledOver(budgetID string, periodEnd time.Time) bool
	}

	// Calculator applies one policy to every period length.
	Calculator struct {
		Policy Policy
	}
)

// ParsePolicy accepts "carry" or "floor"; empty selects the default.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "":
		return DefaultPolicy, nil
	case PolicyCarry, PolicyFloor:
		return Policy(s), nil
	default:
		return "", fmt.Errorf("%w: unknown rollover policy %q", core.ErrInvalidInput, s)
	}
}

// ApplyRollover computes the next period's rollover under the default policy.
func ApplyRollover(b core.Budget, periodSpend decimal.Decimal) (decimal.Decimal, error) {
	return Calculator{Policy: DefaultPolicy}.Apply(b, periodSpend)
}

// Apply returns limit + rolloverIn - spend, clamped according to the policy.
func (c Calculator) Apply(b core.Budget, periodSpend decimal.Decimal) (decimal.Decimal, error) {
	if err := core.ValidateNonNegative("limit", b.Limit); err != nil {
		return decimal.Zero, err
	}
	if err := core.ValidateNonNegative("period_spend", periodSpend); err != nil {
		return decimal.Zero, err
	}
	available := b.Limit.Add(b.RolloverAmount)
	leftover := available.Sub(periodSpend)

	switch c.policy() {
	case PolicyFloor:
		if leftover.IsNegative() {
			return decimal.Zero, nil
		}
		return leftover, nil
	case PolicyCarry:
		return leftover, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: unknown rollover policy %q", core.ErrInvalidInput, c.Policy)
	}
}

func (c Calculator) policy() Policy {
	if c.Policy == "" {
		return DefaultPolicy
	}
	return c.Policy
}

// Transition closes the budget's period once asOf reaches its EndDate and
// returns the next period with the carried amount. It does nothing when the
// period is still running or the ledger already holds this period.
func (c Calculator) Transition(b core.Budget, periodSpend decimal.Decimal, asOf time.Time, ledger Ledger) (core.Budget, bool, error) {
	if err := b.Validate(); err != nil {
		return b, false, err
	}
	if asOf.Before(b.EndDate) {
		return b, false, nil
	}
	if ledger != nil && ledger.RolledOver(b.ID, b.EndDate) {
		return b, false, nil
	}

	carried, err := c.Apply(b, periodSpend)
	if err != nil {
		return b, false, err
	}
	end, err := b.Period.End(b.EndDate)
	if err != nil {
		return b, false, err
	}

	next := b
	next.StartDate = b.EndDate
	next.EndDate = end
	next.RolloverAmount = carried
	next.Spent = decimal.Zero
	return next, true, nil
}

// EndDate derives a budget period's end from its start.
func EndDate(start time.Time, p core.BudgetPeriod) (time.Time, error) {
	return p.End(start)
}
