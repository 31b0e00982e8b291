// Package amortize simulates month-by-month debt paydown under a fixed
// minimum payment. It is a read-only projection: the debt is never modified.
package amortize

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/period"
)

const (
	// MaxMonths caps every simulation at 30 years.
	MaxMonths = 360

	// SampleEvery is the timeline sampling interval in months.
	SampleEvery = 6
)

const (
	ReasonPaymentBelowInterest Reason = "payment_below_interest"
	ReasonHorizonCap           Reason = "horizon_cap"
)

var (
	hundred = decimal.NewFromInt(100)
	twelve  = decimal.NewFromInt(12)
)

type (
	Reason string

	Point struct {
		MonthIndex         int
		Balance            decimal.Decimal
		CumulativeInterest decimal.Decimal
	}

	// Projection is the payoff summary. When NonConvergent is set the debt
	// is not paid off within MaxMonths at this payment and Reason says why;
	// Months then counts the simulated months only.
	Projection struct {
		Months        int
		TotalInterest decimal.Decimal
		TotalPaid     decimal.Decimal
		Timeline      []Point
		NonConvergent bool
		Reason        Reason
	}
)

// MonthlyRate converts an annual percentage to a monthly fraction.
func MonthlyRate(annualRatePct decimal.Decimal) decimal.Decimal {
	return annualRatePct.Div(hundred).Div(twelve)
}

// step applies one month and returns the principal and interest portions.
func step(balance, monthlyRate, payment decimal.Decimal) (principal, interest decimal.Decimal) {
	interest = balance.Mul(monthlyRate)
	principal = decimal.Min(payment.Sub(interest), balance)
	if principal.IsNegative() {
		principal = decimal.Zero
	}
	return principal, interest
}

func validate(balance, annualRatePct, minimumPayment decimal.Decimal) error {
	if err := core.ValidateNonNegative("balance", balance); err != nil {
		return err
	}
	if err := core.ValidateNonNegative("interest_rate", annualRatePct); err != nil {
		return err
	}
	return core.ValidateNonNegative("minimum_payment", minimumPayment)
}

// SimulatePayoff projects the paydown of balance at annualRatePct with a
// fixed minimumPayment. If the payment does not cover a month's interest the
// simulation stops at once and reports ReasonPaymentBelowInterest instead of
// running to the cap with a growing balance.
func SimulatePayoff(balance, annualRatePct, minimumPayment decimal.Decimal) (Projection, error) {
	if err := validate(balance, annualRatePct, minimumPayment); err != nil {
		return Projection{}, err
	}

	rate := MonthlyRate(annualRatePct)
	p := Projection{TotalInterest: decimal.Zero, TotalPaid: decimal.Zero}
	for month := 1; balance.IsPositive(); month++ {
		if month > MaxMonths {
			p.NonConvergent = true
			p.Reason = ReasonHorizonCap
			break
		}
		principal, interest := step(balance, rate, minimumPayment)
		if !principal.IsPositive() {
			p.NonConvergent = true
			p.Reason = ReasonPaymentBelowInterest
			break
		}
		balance = balance.Sub(principal)
		p.TotalInterest = p.TotalInterest.Add(interest)
		p.TotalPaid = p.TotalPaid.Add(principal).Add(interest)
		p.Months = month

		if month%SampleEvery == 0 || !balance.IsPositive() {
			p.Timeline = append(p.Timeline, Point{
				MonthIndex:         month,
				Balance:            balance,
				CumulativeInterest: p.TotalInterest,
			})
		}
	}
	// The last simulated month is always on the timeline.
	if n := len(p.Timeline); p.Months > 0 && (n == 0 || p.Timeline[n-1].MonthIndex != p.Months) {
		p.Timeline = append(p.Timeline, Point{
			MonthIndex:         p.Months,
			Balance:            balance,
			CumulativeInterest: p.TotalInterest,
		})
	}
	return p, nil
}

// MonthlyPayments returns the cash paid in each of the next n months. Months
// after payoff pay zero; a non-amortizing debt pays the full minimum every
// month because its balance never clears.
func MonthlyPayments(balance, annualRatePct, minimumPayment decimal.Decimal, n int) ([]decimal.Decimal, error) {
	if err := validate(balance, annualRatePct, minimumPayment); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: negative month count %d", core.ErrInvalidInput, n)
	}

	rate := MonthlyRate(annualRatePct)
	out := make([]decimal.Decimal, n)
	for i := range out {
		if !balance.IsPositive() {
			out[i] = decimal.Zero
			continue
		}
		principal, interest := step(balance, rate, minimumPayment)
		if !principal.IsPositive() {
			out[i] = minimumPayment
			continue
		}
		balance = balance.Sub(principal)
		out[i] = principal.Add(interest)
	}
	return out, nil
}

// PayoffDate returns the month in which the projection reaches zero, counted
// from asOf. ok is false for non-convergent projections.
func PayoffDate(asOf time.Time, p Projection) (time.Time, bool) {
	if p.NonConvergent {
		return time.Time{}, false
	}
	return period.AddMonths(asOf, p.Months), true
}

// ProjectDebt simulates a debt snapshot. Paid-off debts project to zero.
func ProjectDebt(d core.Debt) (Projection, error) {
	if err := d.Validate(); err != nil {
		return Projection{}, err
	}
	if d.Status == core.DebtPaidOff {
		return Projection{TotalInterest: decimal.Zero, TotalPaid: decimal.Zero}, nil
	}
	return SimulatePayoff(d.CurrentBalance, d.InterestRate, d.MinimumPayment)
}
