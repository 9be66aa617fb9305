// Package transactiontypes maintains the per-owner registry of posting types.
// Every posting names a type, and the type's polarity decides whether the
// amount debits or credits the account.
package transactiontypes

import (
	"fmt"
	"time"
)

// Polarity is the direction a transaction type moves money
type Polarity string

const (
	Debit  Polarity = "Debit"
	Credit Polarity = "Credit"
)

// TransactionType represents a named posting type. The (owner, name, polarity)
// triple is unique, so "TRANSFERÊNCIA" can exist once as Debit and once as
// Credit for the two legs of a transfer.
type TransactionType struct {
	ID        int64     `json:"id"`
	OwnerID   int64     `json:"owner_id"`
	Name      string    `json:"name"`
	Polarity  Polarity  `json:"polarity"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks structural fields before persistence
func (t *TransactionType) Validate() error {
	if t.OwnerID <= 0 {
		return fmt.Errorf("owner is required")
	}
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	if t.Polarity != Debit && t.Polarity != Credit {
		return fmt.Errorf("invalid polarity %q", t.Polarity)
	}
	return nil
}

// SignedDirection returns +1 for credits and -1 for debits
func (t *TransactionType) SignedDirection() int {
	if t.Polarity == Credit {
		return 1
	}
	return -1
}
