// Package cards manages credit cards, installment purchases and the
// generated installment schedules that invoices later aggregate.
package cards

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Card represents a credit card (or store card) that purchases run on
type Card struct {
	ID         int64            `json:"id"`
	OwnerID    int64            `json:"owner_id"`
	Name       string           `json:"name"`
	Kind       string           `json:"kind"`
	LastDigits string           `json:"last_digits,omitempty"`
	TotalLimit *decimal.Decimal `json:"total_limit,omitempty"`
	ClosingDay int              `json:"closing_day"`
	DueDay     int              `json:"due_day"`
	Active     bool             `json:"active"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Validate checks structural fields before persistence
func (c *Card) Validate() error {
	if c.OwnerID <= 0 {
		return fmt.Errorf("owner is required")
	}
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.ClosingDay < 1 || c.ClosingDay > 31 {
		return fmt.Errorf("closing day must be between 1 and 31")
	}
	if c.DueDay < 1 || c.DueDay > 31 {
		return fmt.Errorf("due day must be between 1 and 31")
	}
	return nil
}

// GroupKind distinguishes ordinary purchase groups from reversal groups
type GroupKind string

const (
	GroupPurchase GroupKind = "Purchase"
	GroupReversal GroupKind = "Reversal"
)

// PurchaseGroup labels purchases. A Reversal group flips the sign of every
// purchase total filed under it, modelling refunds as negative installments.
type PurchaseGroup struct {
	ID      int64     `json:"id"`
	OwnerID int64     `json:"owner_id"`
	Name    string    `json:"name"`
	Kind    GroupKind `json:"kind"`
}

// Purchase is one installment purchase on a card
type Purchase struct {
	ID               int64           `json:"id"`
	PublicID         string          `json:"public_id"`
	OwnerID          int64           `json:"owner_id"`
	CardID           int64           `json:"card_id"`
	GroupID          *int64          `json:"group_id,omitempty"`
	PurchasedOn      time.Time       `json:"purchased_on"`
	Description      string          `json:"description"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	FirstDueOn       time.Time       `json:"first_due_on"`
	InstallmentCount int             `json:"installment_count"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Installment is one slice of a purchase, due in a specific month
type Installment struct {
	ID         int64           `json:"id"`
	PurchaseID int64           `json:"purchase_id"`
	Seq        int             `json:"seq"`
	DueOn      time.Time       `json:"due_on"`
	Amount     decimal.Decimal `json:"amount"`
	Paid       bool            `json:"paid"`
	PaidOn     *time.Time      `json:"paid_on,omitempty"`
}
