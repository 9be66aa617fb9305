// Package payroll manages salary sheets: itemized earnings, deductions and
// benefits for a reference month, received as up to two account credits.
package payroll

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ItemKind classifies a payroll item
type ItemKind string

const (
	ItemSalary    ItemKind = "Salary"
	ItemBenefit   ItemKind = "Benefit"
	ItemFGTS      ItemKind = "FGTS"
	ItemDeduction ItemKind = "Deduction"
)

// SheetKind distinguishes the regular monthly sheet from extras
type SheetKind string

const (
	SheetMonthly  SheetKind = "Monthly"
	SheetBonus    SheetKind = "Bonus"
	SheetVacation SheetKind = "Vacation"
)

// Sheet statuses
const (
	StatusPending           = "Pending"
	StatusPartiallyReceived = "PartiallyReceived"
	StatusReceived          = "Received"
)

// Item is a reusable payroll line definition (base salary, meal voucher,
// income tax withholding, ...)
type Item struct {
	ID      int64    `json:"id"`
	OwnerID int64    `json:"owner_id"`
	Name    string   `json:"name"`
	Kind    ItemKind `json:"kind"`
}

// Validate checks structural fields before persistence
func (i *Item) Validate() error {
	if i.OwnerID <= 0 {
		return fmt.Errorf("owner is required")
	}
	if i.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch i.Kind {
	case ItemSalary, ItemBenefit, ItemFGTS, ItemDeduction:
	default:
		return fmt.Errorf("kind must be Salary, Benefit, FGTS or Deduction")
	}
	return nil
}

// Sheet is one month's payroll. The salary leg (earnings minus deductions)
// and the benefit leg land as separate credits, tracked by their posting
// references. FGTS items are informational: the employer deposits them to a
// restricted fund, so no posting is generated.
type Sheet struct {
	ID               int64     `json:"id"`
	OwnerID          int64     `json:"owner_id"`
	ReferenceMonth   string    `json:"reference_month"`
	Kind             SheetKind `json:"kind"`
	ReceiveOn        time.Time `json:"receive_on"`
	SalaryPostingID  *int64    `json:"salary_posting_id,omitempty"`
	BenefitPostingID *int64    `json:"benefit_posting_id,omitempty"`
	Status           string    `json:"status"`
	Items            []SheetLine `json:"items,omitempty"`
}

// SheetLine is one item's amount on a sheet
type SheetLine struct {
	ID     int64           `json:"id"`
	SheetID int64          `json:"sheet_id"`
	ItemID int64           `json:"item_id"`
	Name   string          `json:"name"`
	Kind   ItemKind        `json:"kind"`
	Amount decimal.Decimal `json:"amount"`
}

// SalaryTotal is the net amount of the salary leg: earnings minus
// deductions, excluding benefits and FGTS.
func (s *Sheet) SalaryTotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range s.Items {
		switch line.Kind {
		case ItemSalary:
			total = total.Add(line.Amount)
		case ItemDeduction:
			total = total.Sub(line.Amount)
		}
	}
	return total
}

// BenefitTotal is the amount of the benefit leg
func (s *Sheet) BenefitTotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range s.Items {
		if line.Kind == ItemBenefit {
			total = total.Add(line.Amount)
		}
	}
	return total
}

// FGTSTotal is the informational employer fund deposit for the month
func (s *Sheet) FGTSTotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range s.Items {
		if line.Kind == ItemFGTS {
			total = total.Add(line.Amount)
		}
	}
	return total
}
