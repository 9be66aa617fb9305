// Package bills manages recurring obligations (rent, utilities, salaries
// received) and their monthly forecast movements.
package bills

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Nature distinguishes money owed from money expected
type Nature string

const (
	NatureExpense Nature = "Expense"
	NatureIncome  Nature = "Income"
)

// Movement statuses
const (
	StatusPending  = "Pending"
	StatusRealized = "Realized"
)

// Bill is a recurring obligation template
type Bill struct {
	ID             int64           `json:"id"`
	OwnerID        int64           `json:"owner_id"`
	Name           string          `json:"name"`
	Nature         Nature          `json:"nature"`
	ExpectedAmount decimal.Decimal `json:"expected_amount"`
	DueDay         int             `json:"due_day"`
	Active         bool            `json:"active"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Validate checks structural fields before persistence
func (b *Bill) Validate() error {
	if b.OwnerID <= 0 {
		return fmt.Errorf("owner is required")
	}
	if b.Name == "" {
		return fmt.Errorf("name is required")
	}
	if b.Nature != NatureExpense && b.Nature != NatureIncome {
		return fmt.Errorf("nature must be Expense or Income")
	}
	if !b.ExpectedAmount.IsPositive() {
		return fmt.Errorf("expected amount must be positive")
	}
	if b.DueDay < 1 || b.DueDay > 31 {
		return fmt.Errorf("due day must be between 1 and 31")
	}
	return nil
}

// Movement is one month's instance of a bill. The expected amount is frozen
// at forecast time; the realized amount is filled by reconciliation.
type Movement struct {
	ID             int64            `json:"id"`
	BillID         int64            `json:"bill_id"`
	Period         string           `json:"period"`
	DueOn          time.Time        `json:"due_on"`
	ExpectedAmount decimal.Decimal  `json:"expected_amount"`
	RealizedAmount *decimal.Decimal `json:"realized_amount,omitempty"`
	Status         string           `json:"status"`
	PaidOn         *time.Time       `json:"paid_on,omitempty"`
	PostingID      *int64           `json:"posting_id,omitempty"`
}

// ForecastStats summarizes one forecast generation run
type ForecastStats struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}
