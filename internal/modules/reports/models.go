// Package reports assembles read-only monthly views over obligations and
// accounts. Nothing here mutates state.
package reports

import (
	"time"

	"github.com/shopspring/decimal"
)

// Obligation source kinds appearing in monthly views
const (
	KindInvoice        = "Invoice"
	KindLoan           = "LoanInstallment"
	KindBill           = "Bill"
	KindPayrollSalary  = "PayrollSalary"
	KindPayrollBenefit = "PayrollBenefit"
)

// Payable is one expected outflow in a month
type Payable struct {
	Kind        string          `json:"kind"`
	RefID       int64           `json:"ref_id"`
	Description string          `json:"description"`
	DueOn       time.Time       `json:"due_on"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	// Drift flags settled invoices whose frozen total no longer matches
	// the installments behind them
	Drift bool `json:"drift,omitempty"`
}

// Receivable is one expected inflow in a month
type Receivable struct {
	Kind        string          `json:"kind"`
	RefID       int64           `json:"ref_id"`
	Description string          `json:"description"`
	DueOn       time.Time       `json:"due_on"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
}

// MonthSummary totals a month's obligations
type MonthSummary struct {
	Month       string          `json:"month"`
	Payable     decimal.Decimal `json:"payable"`
	Receivable  decimal.Decimal `json:"receivable"`
	NetExpected decimal.Decimal `json:"net_expected"`
}

// AccountKPI is the per-account monthly activity snapshot
type AccountKPI struct {
	AccountID      int64           `json:"account_id"`
	Label          string          `json:"label"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	AvailableFunds decimal.Decimal `json:"available_funds"`
	Inflow         decimal.Decimal `json:"inflow"`
	Outflow        decimal.Decimal `json:"outflow"`
	PostingCount   int             `json:"posting_count"`
}
