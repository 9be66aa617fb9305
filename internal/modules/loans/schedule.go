package loans

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbarbosa/fincore/internal/utils"
)

// ScheduleRow is one computed line of an amortization schedule
type ScheduleRow struct {
	Seq          int
	DueOn        time.Time
	Principal    decimal.Decimal
	Interest     decimal.Decimal
	TotalDue     decimal.Decimal
	BalanceAfter decimal.Decimal
}

// monthlyRate converts a percentage annual rate to a monthly fraction:
// 12 (% per year) becomes 0.01 per month.
func monthlyRate(annualRate decimal.Decimal) decimal.Decimal {
	return annualRate.Div(decimal.NewFromInt(1200))
}

// BuildSchedule computes a full amortization schedule. Interest is rounded
// to cents per period; the final row retires the exact remaining balance so
// principal portions always sum to the principal. MethodOther has no
// formula and must be imported instead.
func BuildSchedule(principal, annualRate decimal.Decimal, termMonths int, method Method, firstDue time.Time) ([]ScheduleRow, error) {
	if !principal.IsPositive() {
		return nil, fmt.Errorf("principal must be positive")
	}
	if termMonths < 1 {
		return nil, fmt.Errorf("term must be at least one month")
	}
	if annualRate.IsNegative() {
		return nil, fmt.Errorf("annual rate cannot be negative")
	}

	r := monthlyRate(annualRate)

	switch method {
	case MethodSAC:
		base := principal.Div(decimal.NewFromInt(int64(termMonths))).Round(2)
		return buildRows(principal, r, termMonths, firstDue, func(seq int, balance decimal.Decimal) decimal.Decimal {
			if seq == termMonths {
				return balance
			}
			return base
		}), nil

	case MethodPrice:
		payment := pricePayment(principal, r, termMonths)
		return buildRows(principal, r, termMonths, firstDue, func(seq int, balance decimal.Decimal) decimal.Decimal {
			if seq == termMonths {
				return balance
			}
			return payment.Sub(balance.Mul(r).Round(2))
		}), nil

	case MethodOther:
		return nil, fmt.Errorf("loans with method Other use an imported schedule")

	default:
		return nil, fmt.Errorf("unknown amortization method %q", method)
	}
}

// pricePayment computes the constant payment A = P·r·(1+r)^n / ((1+r)^n − 1),
// falling back to P/n at zero interest.
func pricePayment(principal, r decimal.Decimal, n int) decimal.Decimal {
	nDec := decimal.NewFromInt(int64(n))
	if r.IsZero() {
		return principal.Div(nDec).Round(2)
	}
	compound := decimal.NewFromInt(1).Add(r).Pow(nDec)
	return principal.Mul(r).Mul(compound).Div(compound.Sub(decimal.NewFromInt(1))).Round(2)
}

// buildRows walks the balance down month by month. principalFor decides the
// principal portion of each row given the balance entering the period.
func buildRows(principal, r decimal.Decimal, n int, firstDue time.Time, principalFor func(seq int, balance decimal.Decimal) decimal.Decimal) []ScheduleRow {
	rows := make([]ScheduleRow, 0, n)
	balance := principal
	for seq := 1; seq <= n; seq++ {
		interest := balance.Mul(r).Round(2)
		p := principalFor(seq, balance)
		balance = balance.Sub(p)
		rows = append(rows, ScheduleRow{
			Seq:          seq,
			DueOn:        utils.AddMonths(firstDue, seq-1),
			Principal:    p,
			Interest:     interest,
			TotalDue:     p.Add(interest),
			BalanceAfter: balance,
		})
	}
	return rows
}
