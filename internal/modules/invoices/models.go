// Package invoices aggregates card installments into monthly invoices and
// tracks their payment lifecycle.
package invoices

import (
	"time"

	"github.com/shopspring/decimal"
)

// Invoice statuses. Paid and PartiallyPaid invoices are settled: their
// totals are frozen and the months they cover reject schedule changes.
const (
	StatusPending       = "Pending"
	StatusOverdue       = "Overdue"
	StatusPartiallyPaid = "PartiallyPaid"
	StatusPaid          = "Paid"
)

// Invoice is the monthly aggregation of a card's installments
type Invoice struct {
	ID             int64           `json:"id"`
	OwnerID        int64           `json:"owner_id"`
	CardID         int64           `json:"card_id"`
	ReferenceMonth string          `json:"reference_month"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	ClosingOn      time.Time       `json:"closing_on"`
	DueOn          time.Time       `json:"due_on"`
	Status         string          `json:"status"`
	PaidOn         *time.Time      `json:"paid_on,omitempty"`
	PostingID      *int64          `json:"posting_id,omitempty"`
}

// Settled reports whether the invoice total is frozen
func (i *Invoice) Settled() bool {
	return i.Status == StatusPaid || i.Status == StatusPartiallyPaid
}

// Drift describes a settled invoice whose stored total no longer matches
// the sum of the installments falling in its reference month.
type Drift struct {
	InvoiceID      int64           `json:"invoice_id"`
	CardID         int64           `json:"card_id"`
	ReferenceMonth string          `json:"reference_month"`
	StoredTotal    decimal.Decimal `json:"stored_total"`
	ComputedTotal  decimal.Decimal `json:"computed_total"`
}

// SyncStats summarizes one sync run
type SyncStats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Frozen  int `json:"frozen"`
}
