// Package loans manages financed debts, their amortization schedules and
// extra principal payments.
package loans

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Method identifies how a loan's schedule is computed
type Method string

const (
	// MethodSAC amortizes constant principal; payments shrink over time
	MethodSAC Method = "SAC"
	// MethodPrice amortizes with constant payments (French system)
	MethodPrice Method = "Price"
	// MethodOther marks loans whose schedule is imported, not computed
	MethodOther Method = "Other"
)

// Installment statuses
const (
	StatusPending   = "Pending"
	StatusOverdue   = "Overdue"
	StatusPaid      = "Paid"
	StatusAmortized = "Amortized"
)

// Loan is one financed debt
type Loan struct {
	ID                 int64           `json:"id"`
	PublicID           string          `json:"public_id"`
	OwnerID            int64           `json:"owner_id"`
	AccountID          *int64          `json:"account_id,omitempty"`
	Name               string          `json:"name"`
	Description        string          `json:"description,omitempty"`
	Principal          decimal.Decimal `json:"principal"`
	OutstandingBalance decimal.Decimal `json:"outstanding_balance"`
	AnnualRate         decimal.Decimal `json:"annual_rate"`
	StartOn            time.Time       `json:"start_on"`
	TermMonths         int             `json:"term_months"`
	Method             Method          `json:"method"`
	CreatedAt          time.Time       `json:"created_at"`
}

// Validate checks structural fields before persistence
func (l *Loan) Validate() error {
	if l.OwnerID <= 0 {
		return fmt.Errorf("owner is required")
	}
	if l.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !l.Principal.IsPositive() {
		return fmt.Errorf("principal must be positive")
	}
	if l.AnnualRate.IsNegative() {
		return fmt.Errorf("annual rate cannot be negative")
	}
	if l.TermMonths < 1 {
		return fmt.Errorf("term must be at least one month")
	}
	switch l.Method {
	case MethodSAC, MethodPrice, MethodOther:
	default:
		return fmt.Errorf("method must be SAC, Price or Other")
	}
	return nil
}

// Installment is one row of a loan's schedule. Beyond principal and
// interest it carries the charge breakdown found on bank statements:
// insurances, fees, penalties, arrears and contractual adjustments.
type Installment struct {
	ID                int64           `json:"id"`
	LoanID            int64           `json:"loan_id"`
	Seq               int             `json:"seq"`
	DueOn             time.Time       `json:"due_on"`
	Principal         decimal.Decimal `json:"principal"`
	Interest          decimal.Decimal `json:"interest"`
	InsuranceLife     decimal.Decimal `json:"insurance_life"`
	InsuranceProperty decimal.Decimal `json:"insurance_property"`
	InsuranceOther    decimal.Decimal `json:"insurance_other"`
	Fees              decimal.Decimal `json:"fees"`
	Penalty           decimal.Decimal `json:"penalty"`
	Arrears           decimal.Decimal `json:"arrears"`
	Adjustments       decimal.Decimal `json:"adjustments"`
	TotalDue          decimal.Decimal `json:"total_due"`
	BalanceAfter      decimal.Decimal `json:"balance_after"`
	Paid              bool            `json:"paid"`
	PaidOn            *time.Time      `json:"paid_on,omitempty"`
	AmountPaid        *decimal.Decimal `json:"amount_paid,omitempty"`
	Status            string          `json:"status"`
	Notes             string          `json:"notes,omitempty"`
	PostingID         *int64          `json:"posting_id,omitempty"`
}

// ChargesTotal sums every component of the installment
func (i *Installment) ChargesTotal() decimal.Decimal {
	return i.Principal.
		Add(i.Interest).
		Add(i.InsuranceLife).
		Add(i.InsuranceProperty).
		Add(i.InsuranceOther).
		Add(i.Fees).
		Add(i.Penalty).
		Add(i.Arrears).
		Add(i.Adjustments)
}

// DeriveStatus classifies an installment row against a reference date.
// Past-due rows are Paid or Overdue; future rows settled ahead of schedule
// count as Amortized.
func DeriveStatus(paid bool, dueOn, today time.Time) string {
	if dueOn.Before(today) {
		if paid {
			return StatusPaid
		}
		return StatusOverdue
	}
	if paid {
		return StatusAmortized
	}
	return StatusPending
}
