// Package accounts manages bank accounts and their running balances.
package accounts

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AccountType classifies an account
type AccountType string

const (
	TypeChecking   AccountType = "Checking"
	TypeSavings    AccountType = "Savings"
	TypeDigital    AccountType = "Digital"
	TypeInvestment AccountType = "Investment"
	TypeJar        AccountType = "Jar"
	TypeCash       AccountType = "Cash"
	TypeBenefit    AccountType = "Benefit"
	TypeFGTS       AccountType = "FGTS"
)

// ValidTypes lists every accepted account type
var ValidTypes = []AccountType{
	TypeChecking, TypeSavings, TypeDigital, TypeInvestment,
	TypeJar, TypeCash, TypeBenefit, TypeFGTS,
}

// Account represents a bank account. CurrentBalance is owned by the posting
// engine; nothing else mutates it.
type Account struct {
	ID             int64            `json:"id"`
	OwnerID        int64            `json:"owner_id"`
	BankName       string           `json:"bank_name"`
	Branch         string           `json:"branch"`
	Number         string           `json:"number"`
	Type           AccountType      `json:"type"`
	InitialBalance decimal.Decimal  `json:"initial_balance"`
	CurrentBalance decimal.Decimal  `json:"current_balance"`
	CreditLimit    *decimal.Decimal `json:"credit_limit,omitempty"`
	Active         bool             `json:"active"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// SupportsCreditLimit reports whether this account type can carry an overdraft limit
func (a *Account) SupportsCreditLimit() bool {
	return a.Type == TypeChecking || a.Type == TypeDigital
}

// AvailableFunds returns the spendable amount: current balance plus the
// credit limit on accounts that support one
func (a *Account) AvailableFunds() decimal.Decimal {
	if a.SupportsCreditLimit() && a.CreditLimit != nil {
		return a.CurrentBalance.Add(*a.CreditLimit)
	}
	return a.CurrentBalance
}

// Label returns a short human identifier like "Itaú (0001-12345)"
func (a *Account) Label() string {
	return fmt.Sprintf("%s (%s-%s)", a.BankName, a.Branch, a.Number)
}

// Validate checks structural fields before persistence
func (a *Account) Validate() error {
	if a.OwnerID <= 0 {
		return fmt.Errorf("owner is required")
	}
	if a.BankName == "" || a.Branch == "" || a.Number == "" {
		return fmt.Errorf("bank name, branch and number are required")
	}
	valid := false
	for _, t := range ValidTypes {
		if a.Type == t {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid account type %q", a.Type)
	}
	if a.CreditLimit != nil && !a.SupportsCreditLimit() {
		return fmt.Errorf("account type %q cannot have a credit limit", a.Type)
	}
	if a.CreditLimit != nil && a.CreditLimit.IsNegative() {
		return fmt.Errorf("credit limit cannot be negative")
	}
	return nil
}
