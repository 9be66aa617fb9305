package cards

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbarbosa/fincore/internal/utils"
)

// InstallmentDraft is one line of a generated schedule, before persistence
type InstallmentDraft struct {
	Seq    int
	DueOn  time.Time
	Amount decimal.Decimal
}

// GenerateSchedule splits a total into n monthly installments. Each
// installment is total/n rounded half-up to cents; the final installment
// absorbs the rounding remainder so the schedule sums to the total exactly.
// Due dates advance month by month from firstDue, with the day of month
// clamped to shorter months.
func GenerateSchedule(total decimal.Decimal, n int, firstDue time.Time) ([]InstallmentDraft, error) {
	if n < 1 {
		return nil, fmt.Errorf("installment count must be at least 1")
	}
	if total.IsZero() {
		return nil, fmt.Errorf("total amount cannot be zero")
	}

	// decimal's Round is half away from zero, which matches half-up for the
	// positive case and mirrors it for reversal (negative) totals
	per := total.Div(decimal.NewFromInt(int64(n))).Round(2)

	drafts := make([]InstallmentDraft, 0, n)
	running := decimal.Zero
	for i := 1; i <= n; i++ {
		amount := per
		if i == n {
			amount = total.Sub(running)
		}
		drafts = append(drafts, InstallmentDraft{
			Seq:    i,
			DueOn:  utils.AddMonths(firstDue, i-1),
			Amount: amount,
		})
		running = running.Add(amount)
	}

	return drafts, nil
}
