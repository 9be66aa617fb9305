// Package domain holds shared types and business-rule errors used across modules.
package domain

import "errors"

// Business-rule errors. Services map these to user-facing failure messages;
// anything else bubbling out of a repository is treated as a system fault.
var (
	// ErrAccountNotFound is returned when an account lookup finds no row
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountInactive is returned when posting against a deactivated account
	ErrAccountInactive = errors.New("account is inactive")

	// ErrInvalidAmount is returned when a posting amount is zero or negative
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientFunds is returned when a debit would exceed the
	// account balance plus its credit limit
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrCounterpartMissing is returned when a transfer cannot resolve the
	// credit-side transaction type matching the debit type's name
	ErrCounterpartMissing = errors.New("credit counterpart transaction type not found")

	// ErrPostingNotFound is returned when a posting lookup finds no row
	ErrPostingNotFound = errors.New("posting not found")

	// ErrPostingLinkedToObligation is returned when reversing a posting that
	// an invoice, loan installment, bill movement or payroll sheet references
	ErrPostingLinkedToObligation = errors.New("posting is linked to an obligation")

	// ErrLaterPostingsExist is returned when reversing a posting that is not
	// the newest on its account
	ErrLaterPostingsExist = errors.New("later postings exist on this account")

	// ErrNoLinkedPosting is returned when reversing an obligation payment
	// that has no bank posting attached
	ErrNoLinkedPosting = errors.New("obligation has no linked posting")

	// ErrDuplicateObligationPeriod is returned when generating a movement
	// for a period that already has one
	ErrDuplicateObligationPeriod = errors.New("obligation already exists for this period")
)
