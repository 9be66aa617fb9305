package reconciliation

import (
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/mbarbosa/fincore/internal/database"
	"github.com/mbarbosa/fincore/internal/domain"
	"github.com/mbarbosa/fincore/internal/modules/accounts"
	"github.com/mbarbosa/fincore/internal/modules/bills"
	"github.com/mbarbosa/fincore/internal/modules/cards"
	"github.com/mbarbosa/fincore/internal/modules/invoices"
	"github.com/mbarbosa/fincore/internal/modules/ledger"
	"github.com/mbarbosa/fincore/internal/modules/loans"
	"github.com/mbarbosa/fincore/internal/modules/payroll"
	"github.com/mbarbosa/fincore/internal/modules/transactiontypes"
)

const testOwner = int64(1)

type fixture struct {
	db       *sql.DB
	svc      *Service
	engine   *ledger.Engine
	accounts *accounts.Repository
	types    *transactiontypes.Registry
	cardSvc  *cards.Service
	cardRepo *cards.Repository
	invSvc   *invoices.Service
	invRepo  *invoices.Repository
	loanSvc  *loans.Service
	loanRepo *loans.Repository
	billSvc  *bills.Service
	billRepo *bills.Repository
	paySvc   *payroll.Service
	payRepo  *payroll.Repository
}

func setup(t *testing.T) *fixture {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	require.NoError(t, err)
	_, err = db.Exec(database.Schema)
	require.NoError(t, err)

	log := zerolog.Nop()
	accountRepo := accounts.NewRepository(db, log)
	typeRepo := transactiontypes.NewRepository(db, log)
	registry := transactiontypes.NewRegistry(typeRepo, log)
	ledgerRepo := ledger.NewRepository(db, log)
	engine := ledger.NewEngine(db, ledgerRepo, accountRepo, registry, log)
	cardRepo := cards.NewRepository(db, log)
	cardSvc := cards.NewService(db, cardRepo, log)
	invRepo := invoices.NewRepository(db, log)
	invSvc := invoices.NewService(invRepo, cardRepo, log)
	loanRepo := loans.NewRepository(db, log)
	loanSvc := loans.NewService(db, loanRepo, engine, registry, log)
	billRepo := bills.NewRepository(db, log)
	billSvc := bills.NewService(billRepo, log)
	payRepo := payroll.NewRepository(db, log)
	paySvc := payroll.NewService(db, payRepo, log)

	svc := NewService(engine, registry, ledgerRepo, billRepo, loanRepo, invRepo, cardRepo, payRepo, paySvc, log)

	f := &fixture{
		db: db, svc: svc, engine: engine,
		accounts: accountRepo, types: registry,
		cardSvc: cardSvc, cardRepo: cardRepo,
		invSvc: invSvc, invRepo: invRepo,
		loanSvc: loanSvc, loanRepo: loanRepo,
		billSvc: billSvc, billRepo: billRepo,
		paySvc: paySvc, payRepo: payRepo,
	}

	// Reconciliation posts under these named types
	res, _, err := registry.Create(testOwner, TypePayment, transactiontypes.Debit)
	require.NoError(t, err)
	require.True(t, res.Success)
	res, _, err = registry.Create(testOwner, TypeReceipt, transactiontypes.Credit)
	require.NoError(t, err)
	require.True(t, res.Success)

	return f
}

func (f *fixture) account(t *testing.T, number, balance string) *accounts.Account {
	t.Helper()
	bal := decimal.RequireFromString(balance)
	a, err := f.accounts.Create(accounts.Account{
		OwnerID:        testOwner,
		BankName:       "Banco Teste",
		Branch:         "0001",
		Number:         number,
		Type:           accounts.TypeChecking,
		InitialBalance: bal,
		CurrentBalance: bal,
		Active:         true,
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) balance(t *testing.T, accountID int64) string {
	t.Helper()
	a, err := f.accounts.GetByID(accountID)
	require.NoError(t, err)
	return a.CurrentBalance.StringFixed(2)
}

func (f *fixture) invoice(t *testing.T) (*cards.Card, *invoices.Invoice) {
	t.Helper()
	res, card, err := f.cardSvc.CreateCard(cards.Card{
		OwnerID: testOwner, Name: "Visa", Kind: "credit",
		ClosingDay: 28, DueDay: 5, Active: true,
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	res, _, err = f.cardSvc.AddPurchase(cards.PurchaseInput{
		OwnerID: testOwner, CardID: card.ID,
		PurchasedOn: day("2025-03-10"), Description: "Mercado",
		TotalAmount: decimal.RequireFromString("300.00"),
		FirstDueOn:  day("2025-04-05"), InstallmentCount: 3,
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	_, err = f.invSvc.SyncCard(card.ID)
	require.NoError(t, err)
	inv, err := f.invRepo.GetByCardMonth(card.ID, "2025-04")
	require.NoError(t, err)
	require.NotNil(t, inv)
	return card, inv
}

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d.UTC()
}

func TestPayInvoiceFullyCascades(t *testing.T) {
	f := setup(t)
	acct := f.account(t, "11111-1", "1000.00")
	card, inv := f.invoice(t)

	res, err := f.svc.RegisterPayment(PaymentInput{
		OwnerID:   testOwner,
		AccountID: acct.ID,
		Ref:       domain.ObligationRef{Kind: domain.ObligationInvoice, ID: inv.ID},
		Amount:    inv.TotalAmount,
		Date:      day("2025-04-05"),
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	assert.Equal(t, "900.00", f.balance(t, acct.ID))

	paid, err := f.invRepo.GetByID(inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoices.StatusPaid, paid.Status)
	require.NotNil(t, paid.PostingID)

	// The April installment is now marked paid; May and June are not
	var paidCount, unpaidCount int
	err = f.db.QueryRow(`
		SELECT SUM(paid), COUNT(*) - SUM(paid) FROM installments
		WHERE purchase_id IN (SELECT id FROM purchases WHERE card_id = ?)
	`, card.ID).Scan(&paidCount, &unpaidCount)
	require.NoError(t, err)
	assert.Equal(t, 1, paidCount)
	assert.Equal(t, 2, unpaidCount)
}

func TestPayInvoicePartialPaymentsAccumulate(t *testing.T) {
	f := setup(t)
	acct := f.account(t, "11111-2", "1000.00")
	card, inv := f.invoice(t)

	res, err := f.svc.RegisterPayment(PaymentInput{
		OwnerID:   testOwner,
		AccountID: acct.ID,
		Ref:       domain.ObligationRef{Kind: domain.ObligationInvoice, ID: inv.ID},
		Amount:    decimal.RequireFromString("40.00"),
		Date:      day("2025-04-05"),
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	partial, err := f.invRepo.GetByID(inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoices.StatusPartiallyPaid, partial.Status)
	assert.Equal(t, "40.00", partial.PaidAmount.StringFixed(2))

	// Even a partial payment settles the covered installments
	var paidCount int
	err = f.db.QueryRow(`
		SELECT COUNT(*) FROM installments
		WHERE paid = 1 AND purchase_id IN (SELECT id FROM purchases WHERE card_id = ?)
	`, card.ID).Scan(&paidCount)
	require.NoError(t, err)
	assert.Equal(t, 1, paidCount)

	// The second payment tops the running total up to the invoice amount
	res, err = f.svc.RegisterPayment(PaymentInput{
		OwnerID:   testOwner,
		AccountID: acct.ID,
		Ref:       domain.ObligationRef{Kind: domain.ObligationInvoice, ID: inv.ID},
		Amount:    decimal.RequireFromString("60.00"),
		Date:      day("2025-04-06"),
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	settled, err := f.invRepo.GetByID(inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoices.StatusPaid, settled.Status)
	assert.Equal(t, "100.00", settled.PaidAmount.StringFixed(2))
	assert.Equal(t, "900.00", f.balance(t, acct.ID))

	// A fully paid invoice cannot be paid again
	res, err = f.svc.RegisterPayment(PaymentInput{
		OwnerID:   testOwner,
		AccountID: acct.ID,
		Ref:       domain.ObligationRef{Kind: domain.ObligationInvoice, ID: inv.ID},
		Amount:    decimal.RequireFromString("10.00"),
		Date:      day("2025-04-07"),
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestPaymentInsufficientFundsIsAFailureResult(t *testing.T) {
	f := setup(t)
	acct := f.account(t, "11112-3", "100.00")
	m := newExpenseMovement(t, f)

	res, err := f.svc.RegisterPayment(PaymentInput{
		OwnerID:   testOwner,
		AccountID: acct.ID,
		Ref:       domain.ObligationRef{Kind: domain.ObligationBill, ID: m.ID},
		Amount:    decimal.RequireFromString("850.00"),
		Date:      day("2025-04-10"),
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "insufficient funds")

	// Nothing moved
	assert.Equal(t, "100.00", f.balance(t, acct.ID))
	got, err := f.billRepo.GetMovement(m.ID)
	require.NoError(t, err)
	assert.Equal(t, bills.StatusPending, got.Status)
}

func TestPayLoanInstallmentRecomputesOutstanding(t *testing.T) {
	f := setup(t)
	acct := f.account(t, "11111-3", "2000.00")

	res, loan, err := f.loanSvc.Create(loans.CreateInput{
		OwnerID:    testOwner,
		Name:       "Financiamento",
		Principal:  decimal.RequireFromString("1000.00"),
		AnnualRate: decimal.RequireFromString("12"),
		StartOn:    day("2025-03-01"),
		FirstDueOn: day("2025-04-10"),
		TermMonths: 2,
		Method:     loans.MethodSAC,
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	schedule, err := f.loanRepo.ListInstallments(loan.ID)
	require.NoError(t, err)

	res, err = f.svc.RegisterPayment(PaymentInput{
		OwnerID:   testOwner,
		AccountID: acct.ID,
		Ref:       domain.ObligationRef{Kind: domain.ObligationLoanInstallment, ID: schedule[0].ID},
		Amount:    schedule[0].TotalDue,
		Date:      day("2025-04-10"),
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	assert.Equal(t, "1490.00", f.balance(t, acct.ID))

	updated, err := f.loanRepo.GetByID(loan.ID)
	require.NoError(t, err)
	assert.Equal(t, "500.00", updated.OutstandingBalance.StringFixed(2))
}

func newExpenseMovement(t *testing.T, f *fixture) *bills.Movement {
	t.Helper()
	res, b, err := f.billSvc.Create(bills.Bill{
		OwnerID: testOwner, Name: "Aluguel", Nature: bills.NatureExpense,
		ExpectedAmount: decimal.RequireFromString("850.00"), DueDay: 10, Active: true,
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	_, err = f.billSvc.GenerateForecasts(testOwner, "2025-04", 1)
	require.NoError(t, err)
	movements, err := f.billRepo.ListMovements(b.ID)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	return &movements[0]
}

func TestPayBillMovement(t *testing.T) {
	f := setup(t)
	acct := f.account(t, "11111-4", "1000.00")
	m := newExpenseMovement(t, f)

	// Realized amount may differ from the forecast
	res, err := f.svc.RegisterPayment(PaymentInput{
		OwnerID:   testOwner,
		AccountID: acct.ID,
		Ref:       domain.ObligationRef{Kind: domain.ObligationBill, ID: m.ID},
		Amount:    decimal.RequireFromString("862.50"),
		Date:      day("2025-04-10"),
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	assert.Equal(t, "137.50", f.balance(t, acct.ID))

	got, err := f.billRepo.GetMovement(m.ID)
	require.NoError(t, err)
	assert.Equal(t, bills.StatusRealized, got.Status)
	require.NotNil(t, got.RealizedAmount)
	assert.Equal(t, "862.50", got.RealizedAmount.StringFixed(2))
	require.NotNil(t, got.PostingID)

	// Double settlement is refused
	res, err = f.svc.RegisterPayment(PaymentInput{
		OwnerID:   testOwner,
		AccountID: acct.ID,
		Ref:       domain.ObligationRef{Kind: domain.ObligationBill, ID: m.ID},
		Amount:    decimal.RequireFromString("862.50"),
		Date:      day("2025-04-11"),
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestPaymentRequiresNamedType(t *testing.T) {
	f := setup(t)
	acct := f.account(t, "11111-5", "1000.00")
	m := newExpenseMovement(t, f)

	// A different owner without the named types gets a clean failure
	res, err := f.svc.RegisterPayment(PaymentInput{
		OwnerID:   99,
		AccountID: acct.ID,
		Ref:       domain.ObligationRef{Kind: domain.ObligationBill, ID: m.ID},
		Amount:    decimal.RequireFromString("850.00"),
		Date:      day("2025-04-10"),
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, TypePayment)
}

func payrollSheet(t *testing.T, f *fixture) *payroll.Sheet {
	t.Helper()
	res, salary, err := f.paySvc.CreateItem(payroll.Item{OwnerID: testOwner, Name: "Salário", Kind: payroll.ItemSalary})
	require.NoError(t, err)
	require.True(t, res.Success)
	res, tax, err := f.paySvc.CreateItem(payroll.Item{OwnerID: testOwner, Name: "IRRF", Kind: payroll.ItemDeduction})
	require.NoError(t, err)
	require.True(t, res.Success)
	res, meal, err := f.paySvc.CreateItem(payroll.Item{OwnerID: testOwner, Name: "VR", Kind: payroll.ItemBenefit})
	require.NoError(t, err)
	require.True(t, res.Success)

	res, sheet, err := f.paySvc.CreateSheet(payroll.SheetInput{
		OwnerID:        testOwner,
		ReferenceMonth: "2025-03",
		Kind:           payroll.SheetMonthly,
		Lines: []payroll.LineInput{
			{ItemID: salary.ID, Amount: decimal.RequireFromString("5000.00")},
			{ItemID: tax.ID, Amount: decimal.RequireFromString("750.00")},
			{ItemID: meal.ID, Amount: decimal.RequireFromString("600.00")},
		},
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	return sheet
}

func TestReceivePayrollLegs(t *testing.T) {
	f := setup(t)
	checking := f.account(t, "11111-6", "100.00")
	benefits := f.account(t, "11111-7", "0.00")
	sheet := payrollSheet(t, f)

	res, err := f.svc.RegisterReceipt(ReceiptInput{
		OwnerID:   testOwner,
		AccountID: checking.ID,
		Ref:       domain.ObligationRef{Kind: domain.ObligationPayroll, ID: sheet.ID, Leg: domain.LegSalary},
		Date:      day("2025-04-04"),
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	// The net salary, not the gross, lands on the account
	assert.Equal(t, "4350.00", f.balance(t, checking.ID))

	got, err := f.payRepo.GetSheet(sheet.ID)
	require.NoError(t, err)
	assert.Equal(t, payroll.StatusPartiallyReceived, got.Status)

	res, err = f.svc.RegisterReceipt(ReceiptInput{
		OwnerID:   testOwner,
		AccountID: benefits.ID,
		Ref:       domain.ObligationRef{Kind: domain.ObligationPayroll, ID: sheet.ID, Leg: domain.LegBenefit},
		Date:      day("2025-04-04"),
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	assert.Equal(t, "600.00", f.balance(t, benefits.ID))
	got, err = f.payRepo.GetSheet(sheet.ID)
	require.NoError(t, err)
	assert.Equal(t, payroll.StatusReceived, got.Status)

	// A received leg cannot be received twice
	res, err = f.svc.RegisterReceipt(ReceiptInput{
		OwnerID:   testOwner,
		AccountID: checking.ID,
		Ref:       domain.ObligationRef{Kind: domain.ObligationPayroll, ID: sheet.ID, Leg: domain.LegSalary},
		Date:      day("2025-04-05"),
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestLinkedPostingCannotBeReversedDirectly(t *testing.T) {
	f := setup(t)
	acct := f.account(t, "11111-8", "1000.00")
	m := newExpenseMovement(t, f)

	res, err := f.svc.RegisterPayment(PaymentInput{
		OwnerID:   testOwner,
		AccountID: acct.ID,
		Ref:       domain.ObligationRef{Kind: domain.ObligationBill, ID: m.ID},
		Amount:    decimal.RequireFromString("850.00"),
		Date:      day("2025-04-10"),
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	got, err := f.billRepo.GetMovement(m.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PostingID)

	err = f.engine.Reverse(testOwner, *got.PostingID)
	assert.ErrorIs(t, err, domain.ErrPostingLinkedToObligation)
}

func TestReversePaymentRestoresEverything(t *testing.T) {
	f := setup(t)
	acct := f.account(t, "11111-9", "1000.00")
	m := newExpenseMovement(t, f)

	res, err := f.svc.RegisterPayment(PaymentInput{
		OwnerID:   testOwner,
		AccountID: acct.ID,
		Ref:       domain.ObligationRef{Kind: domain.ObligationBill, ID: m.ID},
		Amount:    decimal.RequireFromString("850.00"),
		Date:      day("2025-04-10"),
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	res, err = f.svc.ReversePayment(ReversalInput{
		OwnerID: testOwner,
		Ref:     domain.ObligationRef{Kind: domain.ObligationBill, ID: m.ID},
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	assert.Equal(t, "1000.00", f.balance(t, acct.ID))

	got, err := f.billRepo.GetMovement(m.ID)
	require.NoError(t, err)
	assert.Equal(t, bills.StatusPending, got.Status)
	assert.Nil(t, got.PostingID)
	assert.Nil(t, got.RealizedAmount)
}

func TestReverseUnpaidObligationFails(t *testing.T) {
	f := setup(t)
	_, inv := f.invoice(t)

	res, err := f.svc.ReversePayment(ReversalInput{
		OwnerID: testOwner,
		Ref:     domain.ObligationRef{Kind: domain.ObligationInvoice, ID: inv.ID},
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "no linked posting")
}

func TestReverseInvoicePaymentReopensInstallments(t *testing.T) {
	f := setup(t)
	acct := f.account(t, "11112-0", "1000.00")
	card, inv := f.invoice(t)

	res, err := f.svc.RegisterPayment(PaymentInput{
		OwnerID:   testOwner,
		AccountID: acct.ID,
		Ref:       domain.ObligationRef{Kind: domain.ObligationInvoice, ID: inv.ID},
		Amount:    inv.TotalAmount,
		Date:      day("2025-04-05"),
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	res, err = f.svc.ReversePayment(ReversalInput{
		OwnerID: testOwner,
		Ref:     domain.ObligationRef{Kind: domain.ObligationInvoice, ID: inv.ID},
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	assert.Equal(t, "1000.00", f.balance(t, acct.ID))

	reopened, err := f.invRepo.GetByID(inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoices.StatusPending, reopened.Status)
	assert.Nil(t, reopened.PostingID)

	var paidCount int
	err = f.db.QueryRow(`
		SELECT COUNT(*) FROM installments
		WHERE paid = 1 AND purchase_id IN (SELECT id FROM purchases WHERE card_id = ?)
	`, card.ID).Scan(&paidCount)
	require.NoError(t, err)
	assert.Zero(t, paidCount)
}

func TestReverseLoanPaymentRestoresOutstanding(t *testing.T) {
	f := setup(t)
	acct := f.account(t, "11112-1", "2000.00")

	res, loan, err := f.loanSvc.Create(loans.CreateInput{
		OwnerID:    testOwner,
		Name:       "Consignado",
		Principal:  decimal.RequireFromString("1000.00"),
		AnnualRate: decimal.RequireFromString("12"),
		StartOn:    day("2025-03-01"),
		FirstDueOn: day("2025-04-10"),
		TermMonths: 2,
		Method:     loans.MethodSAC,
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	schedule, err := f.loanRepo.ListInstallments(loan.ID)
	require.NoError(t, err)

	res, err = f.svc.RegisterPayment(PaymentInput{
		OwnerID:   testOwner,
		AccountID: acct.ID,
		Ref:       domain.ObligationRef{Kind: domain.ObligationLoanInstallment, ID: schedule[0].ID},
		Amount:    schedule[0].TotalDue,
		Date:      day("2025-04-10"),
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	res, err = f.svc.ReversePayment(ReversalInput{
		OwnerID: testOwner,
		Ref:     domain.ObligationRef{Kind: domain.ObligationLoanInstallment, ID: schedule[0].ID},
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	assert.Equal(t, "2000.00", f.balance(t, acct.ID))
	updated, err := f.loanRepo.GetByID(loan.ID)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", updated.OutstandingBalance.StringFixed(2))

	inst, err := f.loanRepo.GetInstallment(schedule[0].ID)
	require.NoError(t, err)
	assert.False(t, inst.Paid)
	assert.Nil(t, inst.PostingID)
}

func TestReverseReceiptBlockedWhenFundsSpent(t *testing.T) {
	f := setup(t)
	acct := f.account(t, "11112-2", "0.00")
	sheet := payrollSheet(t, f)

	res, err := f.svc.RegisterReceipt(ReceiptInput{
		OwnerID:   testOwner,
		AccountID: acct.ID,
		Ref:       domain.ObligationRef{Kind: domain.ObligationPayroll, ID: sheet.ID, Leg: domain.LegSalary},
		Date:      day("2025-04-04"),
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	// Spend most of the received salary
	m := newExpenseMovement(t, f)
	res, err = f.svc.RegisterPayment(PaymentInput{
		OwnerID:   testOwner,
		AccountID: acct.ID,
		Ref:       domain.ObligationRef{Kind: domain.ObligationBill, ID: m.ID},
		Amount:    decimal.RequireFromString("4000.00"),
		Date:      day("2025-04-10"),
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	// Without the salary credit the later debit would not have been funded
	res, err = f.svc.ReverseReceipt(ReversalInput{
		OwnerID: testOwner,
		Ref:     domain.ObligationRef{Kind: domain.ObligationPayroll, ID: sheet.ID, Leg: domain.LegSalary},
	})
	require.NoError(t, err)
	assert.False(t, res.Success)

	// Undo the spend; the receipt reversal becomes safe, and the sheet
	// goes back to pending
	res, err = f.svc.ReversePayment(ReversalInput{
		OwnerID: testOwner,
		Ref:     domain.ObligationRef{Kind: domain.ObligationBill, ID: m.ID},
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	res, err = f.svc.ReverseReceipt(ReversalInput{
		OwnerID: testOwner,
		Ref:     domain.ObligationRef{Kind: domain.ObligationPayroll, ID: sheet.ID, Leg: domain.LegSalary},
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	assert.Equal(t, "0.00", f.balance(t, acct.ID))
	got, err := f.payRepo.GetSheet(sheet.ID)
	require.NoError(t, err)
	assert.Equal(t, payroll.StatusPending, got.Status)
	assert.Nil(t, got.SalaryPostingID)
}
