// Package reconciliation turns obligations into ledger postings and back.
// It is the only writer that links invoices, loan installments, bill
// movements and payroll sheets to the ledger, and the only one allowed to
// unlink them again.
package reconciliation

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mbarbosa/fincore/internal/domain"
	"github.com/mbarbosa/fincore/internal/modules/bills"
	"github.com/mbarbosa/fincore/internal/modules/cards"
	"github.com/mbarbosa/fincore/internal/modules/invoices"
	"github.com/mbarbosa/fincore/internal/modules/ledger"
	"github.com/mbarbosa/fincore/internal/modules/loans"
	"github.com/mbarbosa/fincore/internal/modules/payroll"
	"github.com/mbarbosa/fincore/internal/modules/transactiontypes"
)

// Reconciliation posts under fixed, user-owned transaction types. They must
// exist in the registry before any payment or receipt can be recorded.
const (
	TypePayment = "PAGAMENTO"
	TypeReceipt = "RECEBIMENTO"
)

// Service orchestrates obligation settlement
type Service struct {
	engine      *ledger.Engine
	types       *transactiontypes.Registry
	ledgerRepo  *ledger.Repository
	billRepo    *bills.Repository
	loanRepo    *loans.Repository
	invoiceRepo *invoices.Repository
	cardRepo    *cards.Repository
	payrollRepo *payroll.Repository
	payrollSvc  *payroll.Service
	log         zerolog.Logger
}

// NewService creates a new reconciliation service
func NewService(
	engine *ledger.Engine,
	types *transactiontypes.Registry,
	ledgerRepo *ledger.Repository,
	billRepo *bills.Repository,
	loanRepo *loans.Repository,
	invoiceRepo *invoices.Repository,
	cardRepo *cards.Repository,
	payrollRepo *payroll.Repository,
	payrollSvc *payroll.Service,
	log zerolog.Logger,
) *Service {
	return &Service{
		engine:      engine,
		types:       types,
		ledgerRepo:  ledgerRepo,
		billRepo:    billRepo,
		loanRepo:    loanRepo,
		invoiceRepo: invoiceRepo,
		cardRepo:    cardRepo,
		payrollRepo: payrollRepo,
		payrollSvc:  payrollSvc,
		log:         log.With().Str("service", "reconciliation").Logger(),
	}
}

// PaymentInput settles an expense obligation from an account
type PaymentInput struct {
	OwnerID   int64
	AccountID int64
	Ref       domain.ObligationRef
	Amount    decimal.Decimal
	Date      time.Time
}

// ReceiptInput realizes an income obligation into an account
type ReceiptInput struct {
	OwnerID   int64
	AccountID int64
	Ref       domain.ObligationRef
	Amount    decimal.Decimal
	Date      time.Time
}

// ReversalInput identifies the obligation whose settlement to undo
type ReversalInput struct {
	OwnerID int64
	Ref     domain.ObligationRef
}

// RegisterPayment debits the account and marks the obligation settled, both
// in one transaction. Valid targets are invoices, loan installments and
// expense bill movements.
func (s *Service) RegisterPayment(in PaymentInput) (*domain.Result, error) {
	paymentType, err := s.types.FindByName(in.OwnerID, TypePayment, transactiontypes.Debit)
	if err != nil {
		return nil, err
	}
	if paymentType == nil {
		return domain.Fail(fmt.Sprintf("transaction type %q (debit) is not registered", TypePayment)), nil
	}
	if !in.Amount.IsPositive() {
		return domain.Fail("payment amount must be positive"), nil
	}

	switch in.Ref.Kind {
	case domain.ObligationInvoice:
		return s.payInvoice(in, paymentType.ID)
	case domain.ObligationLoanInstallment:
		return s.payLoanInstallment(in, paymentType.ID)
	case domain.ObligationBill:
		return s.payBillMovement(in, paymentType.ID)
	default:
		return domain.Fail(fmt.Sprintf("obligations of kind %q cannot receive payments", in.Ref.Kind)), nil
	}
}

func (s *Service) payInvoice(in PaymentInput, typeID int64) (*domain.Result, error) {
	inv, err := s.invoiceRepo.GetByID(in.Ref.ID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return domain.Fail("invoice not found"), nil
	}
	if inv.OwnerID != in.OwnerID {
		return domain.Fail("invoice belongs to another owner"), nil
	}
	if inv.Status == invoices.StatusPaid {
		return domain.Fail("invoice is already paid"), nil
	}

	// Partial payments accumulate until they reach the invoice total
	paid := inv.PaidAmount.Add(in.Amount)
	status := invoices.StatusPartiallyPaid
	if paid.GreaterThanOrEqual(inv.TotalAmount) {
		status = invoices.StatusPaid
	}

	err = s.engine.RunLocked(func(tx *sql.Tx) error {
		p, err := s.engine.PostSimpleTx(tx, ledger.SimpleInput{
			OwnerID:   in.OwnerID,
			AccountID: in.AccountID,
			TypeID:    typeID,
			Date:      in.Date,
			Amount:    in.Amount,
			Note:      fmt.Sprintf("Invoice %s", inv.ReferenceMonth),
		})
		if err != nil {
			return err
		}
		if err := s.invoiceRepo.SetPaymentTx(tx, inv.ID, paid, status, in.Date, p.ID); err != nil {
			return err
		}
		// Every payment cascades to the installments the invoice covers,
		// even a partial one: the invoice is settled as a unit, not
		// installment by installment.
		return s.cardRepo.MarkMonthPaidTx(tx, inv.CardID, inv.ReferenceMonth, in.Date)
	})
	if err != nil {
		return s.settlementFailure(err)
	}

	s.log.Info().Int64("invoice_id", inv.ID).Str("amount", in.Amount.String()).Str("status", string(status)).Msg("invoice paid")
	return domain.Ok("invoice paid"), nil
}

func (s *Service) payLoanInstallment(in PaymentInput, typeID int64) (*domain.Result, error) {
	inst, err := s.loanRepo.GetInstallment(in.Ref.ID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return domain.Fail("loan installment not found"), nil
	}
	if inst.Paid {
		return domain.Fail("installment is already paid"), nil
	}
	loan, err := s.loanRepo.GetByID(inst.LoanID)
	if err != nil {
		return nil, err
	}
	if loan == nil || loan.OwnerID != in.OwnerID {
		return domain.Fail("loan belongs to another owner"), nil
	}

	err = s.engine.RunLocked(func(tx *sql.Tx) error {
		p, err := s.engine.PostSimpleTx(tx, ledger.SimpleInput{
			OwnerID:   in.OwnerID,
			AccountID: in.AccountID,
			TypeID:    typeID,
			Date:      in.Date,
			Amount:    in.Amount,
			Note:      fmt.Sprintf("%s installment %d/%d", loan.Name, inst.Seq, loan.TermMonths),
		})
		if err != nil {
			return err
		}
		if err := s.loanRepo.SetInstallmentPaymentTx(tx, inst.ID, in.Amount, in.Date, p.ID); err != nil {
			return err
		}
		remaining, err := s.loanRepo.SumUnpaidPrincipalTx(tx, loan.ID)
		if err != nil {
			return err
		}
		return s.loanRepo.UpdateOutstandingTx(tx, loan.ID, remaining)
	})
	if err != nil {
		return s.settlementFailure(err)
	}

	s.log.Info().Int64("loan_id", loan.ID).Int("seq", inst.Seq).Str("amount", in.Amount.String()).Msg("loan installment paid")
	return domain.Ok("installment paid"), nil
}

func (s *Service) payBillMovement(in PaymentInput, typeID int64) (*domain.Result, error) {
	m, bill, res, err := s.movementForOwner(in.Ref.ID, in.OwnerID)
	if res != nil || err != nil {
		return res, err
	}
	if bill.Nature != bills.NatureExpense {
		return domain.Fail("income movements are settled as receipts, not payments"), nil
	}
	if m.Status != bills.StatusPending {
		return domain.Fail("movement is already settled"), nil
	}

	err = s.engine.RunLocked(func(tx *sql.Tx) error {
		p, err := s.engine.PostSimpleTx(tx, ledger.SimpleInput{
			OwnerID:   in.OwnerID,
			AccountID: in.AccountID,
			TypeID:    typeID,
			Date:      in.Date,
			Amount:    in.Amount,
			Note:      fmt.Sprintf("%s %s", bill.Name, m.Period),
		})
		if err != nil {
			return err
		}
		return s.billRepo.SetRealizedTx(tx, m.ID, in.Amount, in.Date, p.ID)
	})
	if err != nil {
		return s.settlementFailure(err)
	}

	s.log.Info().Int64("movement_id", m.ID).Str("amount", in.Amount.String()).Msg("bill paid")
	return domain.Ok("bill paid"), nil
}

// RegisterReceipt credits the account and marks the obligation realized.
// Valid targets are income bill movements and payroll sheet legs; the
// payroll amount always comes from the sheet itself.
func (s *Service) RegisterReceipt(in ReceiptInput) (*domain.Result, error) {
	receiptType, err := s.types.FindByName(in.OwnerID, TypeReceipt, transactiontypes.Credit)
	if err != nil {
		return nil, err
	}
	if receiptType == nil {
		return domain.Fail(fmt.Sprintf("transaction type %q (credit) is not registered", TypeReceipt)), nil
	}

	switch in.Ref.Kind {
	case domain.ObligationBill:
		return s.receiveBillMovement(in, receiptType.ID)
	case domain.ObligationPayroll:
		return s.receivePayrollLeg(in, receiptType.ID)
	default:
		return domain.Fail(fmt.Sprintf("obligations of kind %q cannot be received", in.Ref.Kind)), nil
	}
}

func (s *Service) receiveBillMovement(in ReceiptInput, typeID int64) (*domain.Result, error) {
	if !in.Amount.IsPositive() {
		return domain.Fail("receipt amount must be positive"), nil
	}
	m, bill, res, err := s.movementForOwner(in.Ref.ID, in.OwnerID)
	if res != nil || err != nil {
		return res, err
	}
	if bill.Nature != bills.NatureIncome {
		return domain.Fail("expense movements are settled as payments, not receipts"), nil
	}
	if m.Status != bills.StatusPending {
		return domain.Fail("movement is already settled"), nil
	}

	err = s.engine.RunLocked(func(tx *sql.Tx) error {
		p, err := s.engine.PostSimpleTx(tx, ledger.SimpleInput{
			OwnerID:   in.OwnerID,
			AccountID: in.AccountID,
			TypeID:    typeID,
			Date:      in.Date,
			Amount:    in.Amount,
			Note:      fmt.Sprintf("%s %s", bill.Name, m.Period),
		})
		if err != nil {
			return err
		}
		return s.billRepo.SetRealizedTx(tx, m.ID, in.Amount, in.Date, p.ID)
	})
	if err != nil {
		return s.settlementFailure(err)
	}

	s.log.Info().Int64("movement_id", m.ID).Str("amount", in.Amount.String()).Msg("bill received")
	return domain.Ok("bill received"), nil
}

func (s *Service) receivePayrollLeg(in ReceiptInput, typeID int64) (*domain.Result, error) {
	sheet, err := s.payrollRepo.GetSheet(in.Ref.ID)
	if err != nil {
		return nil, err
	}
	if sheet == nil {
		return domain.Fail("payroll sheet not found"), nil
	}
	if sheet.OwnerID != in.OwnerID {
		return domain.Fail("payroll sheet belongs to another owner"), nil
	}

	var amount decimal.Decimal
	var column string
	switch in.Ref.Leg {
	case domain.LegSalary:
		if sheet.SalaryPostingID != nil {
			return domain.Fail("salary leg is already received"), nil
		}
		amount = sheet.SalaryTotal()
		column = "salary_posting_id"
	case domain.LegBenefit:
		if sheet.BenefitPostingID != nil {
			return domain.Fail("benefit leg is already received"), nil
		}
		amount = sheet.BenefitTotal()
		column = "benefit_posting_id"
	default:
		return domain.Fail("payroll receipts need a salary or benefit leg"), nil
	}
	if !amount.IsPositive() {
		return domain.Fail("the sheet has no amount on this leg"), nil
	}

	err = s.engine.RunLocked(func(tx *sql.Tx) error {
		p, err := s.engine.PostSimpleTx(tx, ledger.SimpleInput{
			OwnerID:   in.OwnerID,
			AccountID: in.AccountID,
			TypeID:    typeID,
			Date:      in.Date,
			Amount:    amount,
			Note:      fmt.Sprintf("Payroll %s %s", sheet.ReferenceMonth, in.Ref.Leg),
		})
		if err != nil {
			return err
		}
		if err := s.payrollRepo.SetLegPostingTx(tx, sheet.ID, column, p.ID); err != nil {
			return err
		}
		return s.payrollSvc.RefreshStatusTx(tx, sheet.ID)
	})
	if err != nil {
		return s.settlementFailure(err)
	}

	s.log.Info().Int64("sheet_id", sheet.ID).Str("leg", string(in.Ref.Leg)).Str("amount", amount.String()).Msg("payroll received")
	return domain.Ok("payroll received"), nil
}

// ReversePayment removes the posting behind a settled expense obligation
// and reopens it. The obligation link is cleared in the same transaction
// before the ledger reversal so the engine's obligation guard passes; the
// usual newest-first ordering rule still applies.
func (s *Service) ReversePayment(in ReversalInput) (*domain.Result, error) {
	switch in.Ref.Kind {
	case domain.ObligationInvoice:
		return s.reverseInvoice(in)
	case domain.ObligationLoanInstallment:
		return s.reverseLoanInstallment(in)
	case domain.ObligationBill:
		return s.reverseBillMovement(in, bills.NatureExpense)
	default:
		return domain.Fail(fmt.Sprintf("obligations of kind %q have no payment to reverse", in.Ref.Kind)), nil
	}
}

func (s *Service) reverseInvoice(in ReversalInput) (*domain.Result, error) {
	inv, err := s.invoiceRepo.GetByID(in.Ref.ID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return domain.Fail("invoice not found"), nil
	}
	if inv.OwnerID != in.OwnerID {
		return domain.Fail("invoice belongs to another owner"), nil
	}
	if inv.PostingID == nil {
		return s.reversalFailure(domain.ErrNoLinkedPosting)
	}

	postingID := *inv.PostingID
	err = s.engine.RunLocked(func(tx *sql.Tx) error {
		if err := s.invoiceRepo.ClearPaymentTx(tx, inv.ID); err != nil {
			return err
		}
		// Reopening the month clears the paid flag on every installment the
		// invoice covered. Installments paid by other means in the same
		// month are reopened too and need re-marking.
		if err := s.cardRepo.UnmarkMonthPaidTx(tx, inv.CardID, inv.ReferenceMonth); err != nil {
			return err
		}
		return s.engine.ReverseTx(tx, in.OwnerID, postingID)
	})
	if err != nil {
		return s.reversalFailure(err)
	}

	s.log.Info().Int64("invoice_id", inv.ID).Msg("invoice payment reversed")
	return domain.Ok("invoice payment reversed"), nil
}

func (s *Service) reverseLoanInstallment(in ReversalInput) (*domain.Result, error) {
	inst, err := s.loanRepo.GetInstallment(in.Ref.ID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return domain.Fail("loan installment not found"), nil
	}
	if inst.PostingID == nil {
		return s.reversalFailure(domain.ErrNoLinkedPosting)
	}
	loan, err := s.loanRepo.GetByID(inst.LoanID)
	if err != nil {
		return nil, err
	}
	if loan == nil || loan.OwnerID != in.OwnerID {
		return domain.Fail("loan belongs to another owner"), nil
	}

	postingID := *inst.PostingID
	err = s.engine.RunLocked(func(tx *sql.Tx) error {
		if err := s.loanRepo.ClearInstallmentPaymentTx(tx, inst.ID); err != nil {
			return err
		}
		remaining, err := s.loanRepo.SumUnpaidPrincipalTx(tx, loan.ID)
		if err != nil {
			return err
		}
		if err := s.loanRepo.UpdateOutstandingTx(tx, loan.ID, remaining); err != nil {
			return err
		}
		return s.engine.ReverseTx(tx, in.OwnerID, postingID)
	})
	if err != nil {
		return s.reversalFailure(err)
	}

	s.log.Info().Int64("loan_id", loan.ID).Int("seq", inst.Seq).Msg("installment payment reversed")
	return domain.Ok("installment payment reversed"), nil
}

func (s *Service) reverseBillMovement(in ReversalInput, nature bills.Nature) (*domain.Result, error) {
	m, bill, res, err := s.movementForOwner(in.Ref.ID, in.OwnerID)
	if res != nil || err != nil {
		return res, err
	}
	if bill.Nature != nature {
		return domain.Fail("movement nature does not match the reversal kind"), nil
	}
	if m.PostingID == nil {
		return s.reversalFailure(domain.ErrNoLinkedPosting)
	}

	postingID := *m.PostingID
	err = s.engine.RunLocked(func(tx *sql.Tx) error {
		if err := s.billRepo.ClearRealizedTx(tx, m.ID); err != nil {
			return err
		}
		return s.engine.ReverseTx(tx, in.OwnerID, postingID)
	})
	if err != nil {
		return s.reversalFailure(err)
	}

	s.log.Info().Int64("movement_id", m.ID).Msg("bill settlement reversed")
	return domain.Ok("bill settlement reversed"), nil
}

// ReverseReceipt undoes an income settlement. Unlike payments, removing a
// credit can leave the account unable to cover the debits that followed, so
// the reversal is first simulated against the account history.
func (s *Service) ReverseReceipt(in ReversalInput) (*domain.Result, error) {
	var postingID int64
	switch in.Ref.Kind {
	case domain.ObligationBill:
		m, bill, res, err := s.movementForOwner(in.Ref.ID, in.OwnerID)
		if res != nil || err != nil {
			return res, err
		}
		if bill.Nature != bills.NatureIncome {
			return domain.Fail("expense settlements are reversed as payments"), nil
		}
		if m.PostingID == nil {
			return s.reversalFailure(domain.ErrNoLinkedPosting)
		}
		postingID = *m.PostingID

	case domain.ObligationPayroll:
		sheet, err := s.payrollRepo.GetSheet(in.Ref.ID)
		if err != nil {
			return nil, err
		}
		if sheet == nil || sheet.OwnerID != in.OwnerID {
			return domain.Fail("payroll sheet not found"), nil
		}
		switch in.Ref.Leg {
		case domain.LegSalary:
			if sheet.SalaryPostingID == nil {
				return domain.Fail("salary leg is not received"), nil
			}
			postingID = *sheet.SalaryPostingID
		case domain.LegBenefit:
			if sheet.BenefitPostingID == nil {
				return domain.Fail("benefit leg is not received"), nil
			}
			postingID = *sheet.BenefitPostingID
		default:
			return domain.Fail("payroll reversals need a salary or benefit leg"), nil
		}

	default:
		return domain.Fail(fmt.Sprintf("obligations of kind %q have no receipt to reverse", in.Ref.Kind)), nil
	}

	posting, err := s.ledgerRepo.GetByID(postingID)
	if err != nil {
		return nil, err
	}
	if posting == nil {
		return domain.Fail("the linked posting no longer exists"), nil
	}
	safe, err := s.engine.SimulateReversalSafety(posting.AccountID, postingID)
	if err != nil {
		return nil, err
	}
	if !safe {
		return domain.Fail("later postings depend on these funds; reverse them first"), nil
	}

	err = s.engine.RunLocked(func(tx *sql.Tx) error {
		switch in.Ref.Kind {
		case domain.ObligationBill:
			if err := s.billRepo.ClearRealizedTx(tx, in.Ref.ID); err != nil {
				return err
			}
		case domain.ObligationPayroll:
			column := "salary_posting_id"
			if in.Ref.Leg == domain.LegBenefit {
				column = "benefit_posting_id"
			}
			if err := s.payrollRepo.ClearLegPostingTx(tx, in.Ref.ID, column); err != nil {
				return err
			}
			if err := s.payrollSvc.RefreshStatusTx(tx, in.Ref.ID); err != nil {
				return err
			}
		}
		return s.engine.ReverseTx(tx, in.OwnerID, postingID)
	})
	if err != nil {
		return s.reversalFailure(err)
	}

	s.log.Info().Int64("posting_id", postingID).Str("kind", string(in.Ref.Kind)).Msg("receipt reversed")
	return domain.Ok("receipt reversed"), nil
}

func (s *Service) movementForOwner(movementID, ownerID int64) (*bills.Movement, *bills.Bill, *domain.Result, error) {
	m, err := s.billRepo.GetMovement(movementID)
	if err != nil {
		return nil, nil, nil, err
	}
	if m == nil {
		return nil, nil, domain.Fail("bill movement not found"), nil
	}
	bill, err := s.billRepo.GetByID(m.BillID)
	if err != nil {
		return nil, nil, nil, err
	}
	if bill == nil || bill.OwnerID != ownerID {
		return nil, nil, domain.Fail("bill belongs to another owner"), nil
	}
	return m, bill, nil, nil
}

// settlementFailure maps the engine's affordability and validation errors to
// user facing results; anything else is a real failure.
func (s *Service) settlementFailure(err error) (*domain.Result, error) {
	switch {
	case errors.Is(err, domain.ErrInsufficientFunds):
		return domain.Fail("insufficient funds on the account"), nil
	case errors.Is(err, domain.ErrAccountNotFound):
		return domain.Fail("account not found"), nil
	case errors.Is(err, domain.ErrAccountInactive):
		return domain.Fail("account is inactive"), nil
	case errors.Is(err, domain.ErrInvalidAmount):
		return domain.Fail("amount must be positive"), nil
	default:
		return nil, err
	}
}

// reversalFailure maps the engine's ordering and linkage errors to user
// facing results; anything else is a real failure.
func (s *Service) reversalFailure(err error) (*domain.Result, error) {
	switch {
	case errors.Is(err, domain.ErrNoLinkedPosting):
		return domain.Fail("the obligation has no linked posting to reverse"), nil
	case errors.Is(err, domain.ErrLaterPostingsExist):
		return domain.Fail("newer postings exist on the account; reverse them first"), nil
	case errors.Is(err, domain.ErrPostingNotFound):
		return domain.Fail("the linked posting no longer exists"), nil
	default:
		return nil, err
	}
}
