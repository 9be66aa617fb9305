// Package ledger implements the posting engine: the single writer of account
// balances. Simple postings, symmetric transfers and reversals all go through
// it, serialized under one lock and applied in one transaction each.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbarbosa/fincore/internal/modules/transactiontypes"
)

// Posting is one ledger row. Amount is always positive; the transaction
// type's polarity decides the direction. Transfer legs point at each other
// through LinkedPostingID.
type Posting struct {
	ID              int64           `json:"id"`
	OwnerID         int64           `json:"owner_id"`
	AccountID       int64           `json:"account_id"`
	TypeID          int64           `json:"type_id"`
	PostedOn        time.Time       `json:"posted_on"`
	Amount          decimal.Decimal `json:"amount"`
	Note            string          `json:"note,omitempty"`
	LinkedPostingID *int64          `json:"linked_posting_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`

	// Denormalized from transaction_types on read
	TypeName string                   `json:"type_name"`
	Polarity transactiontypes.Polarity `json:"polarity"`
}

// SignedAmount returns the amount with the polarity's sign applied:
// positive for credits, negative for debits.
func (p *Posting) SignedAmount() decimal.Decimal {
	if p.Polarity == transactiontypes.Debit {
		return p.Amount.Neg()
	}
	return p.Amount
}

// EntryKind tags the two shapes a ledger entry can take
type EntryKind string

const (
	EntrySimple   EntryKind = "simple"
	EntryTransfer EntryKind = "transfer"
)

// Entry is the domain view over raw postings: either a standalone posting or
// a linked debit/credit pair forming a transfer.
type Entry struct {
	Kind      EntryKind `json:"kind"`
	Posting   *Posting  `json:"posting,omitempty"`
	DebitLeg  *Posting  `json:"debit_leg,omitempty"`
	CreditLeg *Posting  `json:"credit_leg,omitempty"`
}

// Transfer is the result of posting a transfer: both legs, already linked.
type Transfer struct {
	DebitLeg  *Posting `json:"debit_leg"`
	CreditLeg *Posting `json:"credit_leg"`
}
