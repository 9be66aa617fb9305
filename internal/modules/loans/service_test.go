package loans

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
	"github.com/mbarbosa/fincore/internal/modules/accounts"
	"github.com/mbarbosa/fincore/internal/modules/ledger"
	"github.com/mbarbosa/fincore/internal/modules/transactiontypes"
	"github.com/mbarbosa/fincore/internal/utils"
)

const testOwner = int64(1)

type fixture struct {
	db       *sql.DB
	svc      *Service
	repo     *Repository
	accounts *accounts.Repository
	types    *transactiontypes.Registry
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
	engine := ledger.NewEngine(db, ledger.NewRepository(db, log), accountRepo, registry, log)
	repo := NewRepository(db, log)

	return &fixture{
		db:       db,
		svc:      NewService(db, repo, engine, registry, log),
		repo:     repo,
		accounts: accountRepo,
		types:    registry,
	}
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

func (f *fixture) amortizationType(t *testing.T) {
	t.Helper()
	res, _, err := f.types.Create(testOwner, TypeAmortization, transactiontypes.Debit)
	require.NoError(t, err)
	require.True(t, res.Success)
}

func (f *fixture) loan(t *testing.T, principal string, rate string, term int, method Method) *Loan {
	t.Helper()
	res, l, err := f.svc.Create(CreateInput{
		OwnerID:    testOwner,
		Name:       "Financiamento " + string(method) + principal,
		Principal:  decimal.RequireFromString(principal),
		AnnualRate: decimal.RequireFromString(rate),
		StartOn:    day("2025-03-01"),
		FirstDueOn: day("2025-04-10"),
		TermMonths: term,
		Method:     method,
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	return l
}

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d.UTC()
}

func TestCreateStoresComputedSchedule(t *testing.T) {
	f := setup(t)
	l := f.loan(t, "1000.00", "12", 2, MethodSAC)

	installments, err := f.repo.ListInstallments(l.ID)
	require.NoError(t, err)
	require.Len(t, installments, 2)
	assert.Equal(t, "510.00", installments[0].TotalDue.StringFixed(2))
	assert.Equal(t, "505.00", installments[1].TotalDue.StringFixed(2))
	assert.Equal(t, StatusPending, installments[0].Status)
	assert.Equal(t, "1000.00", l.OutstandingBalance.StringFixed(2))
}

func TestCreateOtherStartsWithoutSchedule(t *testing.T) {
	f := setup(t)
	l := f.loan(t, "5000.00", "10", 3, MethodOther)

	installments, err := f.repo.ListInstallments(l.ID)
	require.NoError(t, err)
	assert.Empty(t, installments)
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	f := setup(t)
	f.loan(t, "1000.00", "12", 2, MethodSAC)

	res, _, err := f.svc.Create(CreateInput{
		OwnerID:    testOwner,
		Name:       "Financiamento SAC1000.00",
		Principal:  decimal.RequireFromString("2000.00"),
		AnnualRate: decimal.RequireFromString("12"),
		StartOn:    day("2025-03-01"),
		FirstDueOn: day("2025-04-10"),
		TermMonths: 4,
		Method:     MethodSAC,
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func importRows(t *testing.T, term int) []Installment {
	t.Helper()
	rows := make([]Installment, 0, term)
	balance := decimal.RequireFromString("3000.00")
	per := balance.Div(decimal.NewFromInt(int64(term))).Round(2)
	for i := 1; i <= term; i++ {
		p := per
		if i == term {
			p = balance
		}
		balance = balance.Sub(p)
		rows = append(rows, Installment{
			Seq:           i,
			DueOn:         day("2025-04-10").AddDate(0, i-1, 0),
			Principal:     p,
			Interest:      decimal.RequireFromString("25.00"),
			InsuranceLife: decimal.RequireFromString("3.50"),
			Fees:          decimal.RequireFromString("2.00"),
			TotalDue:      p.Add(decimal.RequireFromString("30.50")),
			BalanceAfter:  balance,
		})
	}
	return rows
}

func TestImportInstallments(t *testing.T) {
	f := setup(t)
	l := f.loan(t, "3000.00", "10", 3, MethodOther)

	res, err := f.svc.ImportInstallments(l.ID, importRows(t, 3))
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	installments, err := f.repo.ListInstallments(l.ID)
	require.NoError(t, err)
	require.Len(t, installments, 3)
	assert.Equal(t, "1030.50", installments[0].TotalDue.StringFixed(2))
	assert.Equal(t, "3.50", installments[0].InsuranceLife.StringFixed(2))

	updated, err := f.repo.GetByID(l.ID)
	require.NoError(t, err)
	assert.Equal(t, "3000.00", updated.OutstandingBalance.StringFixed(2))
}

func TestImportDerivesStatuses(t *testing.T) {
	f := setup(t)
	l := f.loan(t, "3000.00", "10", 3, MethodOther)

	// A settled past row, an open past row, and a row settled ahead of time
	today := utils.Today()
	rows := importRows(t, 3)
	rows[0].DueOn = today.AddDate(0, -2, 0)
	rows[0].Paid = true
	rows[1].DueOn = today.AddDate(0, -1, 0)
	rows[2].DueOn = today.AddDate(0, 1, 0)
	rows[2].Paid = true

	res, err := f.svc.ImportInstallments(l.ID, rows)
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	installments, err := f.repo.ListInstallments(l.ID)
	require.NoError(t, err)
	require.Len(t, installments, 3)
	assert.Equal(t, StatusPaid, installments[0].Status)
	assert.Equal(t, StatusOverdue, installments[1].Status)
	assert.Equal(t, StatusAmortized, installments[2].Status)

	// Only rows actually paid on schedule stop owing principal
	updated, err := f.repo.GetByID(l.ID)
	require.NoError(t, err)
	assert.Equal(t, "2000.00", updated.OutstandingBalance.StringFixed(2))
}

func TestImportRejectsWrongRowCount(t *testing.T) {
	f := setup(t)
	l := f.loan(t, "3000.00", "10", 4, MethodOther)

	res, err := f.svc.ImportInstallments(l.ID, importRows(t, 3))
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestImportRejectsInconsistentTotal(t *testing.T) {
	f := setup(t)
	l := f.loan(t, "3000.00", "10", 3, MethodOther)

	rows := importRows(t, 3)
	rows[1].TotalDue = rows[1].TotalDue.Add(decimal.RequireFromString("0.01"))
	res, err := f.svc.ImportInstallments(l.ID, rows)
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestAmortizeMarksSelectedInstallments(t *testing.T) {
	f := setup(t)
	l := f.loan(t, "1200.00", "0", 12, MethodSAC)
	acct := f.account(t, "12345-6", "5000.00")
	f.amortizationType(t)

	schedule, err := f.repo.ListInstallments(l.ID)
	require.NoError(t, err)

	// Pay the last two months off early
	res, err := f.svc.Amortize(AmortizeInput{
		OwnerID:        testOwner,
		LoanID:         l.ID,
		InstallmentIDs: []int64{schedule[10].ID, schedule[11].ID},
		AccountID:      acct.ID,
		Amount:         decimal.RequireFromString("250.00"),
		Date:           day("2025-04-01"),
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	// One debit for the full amount
	a, err := f.accounts.GetByID(acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "4750.00", a.CurrentBalance.StringFixed(2))

	// Each selected row carries an even share and a zeroed balance
	installments, err := f.repo.ListInstallments(l.ID)
	require.NoError(t, err)
	require.Len(t, installments, 12)
	for _, inst := range installments[10:] {
		assert.Equal(t, StatusAmortized, inst.Status)
		assert.True(t, inst.Paid)
		require.NotNil(t, inst.AmountPaid)
		assert.Equal(t, "125.00", inst.AmountPaid.StringFixed(2))
		assert.True(t, inst.BalanceAfter.IsZero())
		assert.NotNil(t, inst.PostingID)
	}
	assert.Equal(t, StatusPending, installments[0].Status)

	// Outstanding drops by the settled principal
	updated, err := f.repo.GetByID(l.ID)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", updated.OutstandingBalance.StringFixed(2))
}

func TestAmortizeShareRoundsDown(t *testing.T) {
	f := setup(t)
	l := f.loan(t, "1200.00", "0", 12, MethodSAC)
	acct := f.account(t, "12345-7", "5000.00")
	f.amortizationType(t)

	schedule, err := f.repo.ListInstallments(l.ID)
	require.NoError(t, err)

	res, err := f.svc.Amortize(AmortizeInput{
		OwnerID:        testOwner,
		LoanID:         l.ID,
		InstallmentIDs: []int64{schedule[9].ID, schedule[10].ID, schedule[11].ID},
		AccountID:      acct.ID,
		Amount:         decimal.RequireFromString("100.00"),
		Date:           day("2025-04-01"),
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	installments, err := f.repo.ListInstallments(l.ID)
	require.NoError(t, err)
	for _, inst := range installments[9:] {
		require.NotNil(t, inst.AmountPaid)
		assert.Equal(t, "33.33", inst.AmountPaid.StringFixed(2))
	}

	// The account still pays the exact amount, not the rounded shares
	a, err := f.accounts.GetByID(acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "4900.00", a.CurrentBalance.StringFixed(2))
}

func TestAmortizeRequiresNamedType(t *testing.T) {
	f := setup(t)
	l := f.loan(t, "1200.00", "0", 12, MethodSAC)
	acct := f.account(t, "12345-8", "5000.00")

	schedule, err := f.repo.ListInstallments(l.ID)
	require.NoError(t, err)

	res, err := f.svc.Amortize(AmortizeInput{
		OwnerID:        testOwner,
		LoanID:         l.ID,
		InstallmentIDs: []int64{schedule[11].ID},
		AccountID:      acct.ID,
		Amount:         decimal.RequireFromString("100.00"),
		Date:           day("2025-04-01"),
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, TypeAmortization)
}

func TestAmortizeRejectsSettledInstallment(t *testing.T) {
	f := setup(t)
	l := f.loan(t, "1200.00", "0", 12, MethodSAC)
	acct := f.account(t, "12345-9", "5000.00")
	f.amortizationType(t)

	schedule, err := f.repo.ListInstallments(l.ID)
	require.NoError(t, err)
	_, err = f.db.Exec("UPDATE loan_installments SET paid = 1, status = 'Paid' WHERE id = ?", schedule[0].ID)
	require.NoError(t, err)

	res, err := f.svc.Amortize(AmortizeInput{
		OwnerID:        testOwner,
		LoanID:         l.ID,
		InstallmentIDs: []int64{schedule[0].ID, schedule[1].ID},
		AccountID:      acct.ID,
		Amount:         decimal.RequireFromString("200.00"),
		Date:           day("2025-04-01"),
	})
	require.NoError(t, err)
	assert.False(t, res.Success)

	// Nothing was posted
	a, err := f.accounts.GetByID(acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "5000.00", a.CurrentBalance.StringFixed(2))
}

func TestAmortizeInsufficientFundsIsAFailureResult(t *testing.T) {
	f := setup(t)
	l := f.loan(t, "1200.00", "0", 12, MethodSAC)
	acct := f.account(t, "12346-0", "50.00")
	f.amortizationType(t)

	schedule, err := f.repo.ListInstallments(l.ID)
	require.NoError(t, err)

	res, err := f.svc.Amortize(AmortizeInput{
		OwnerID:        testOwner,
		LoanID:         l.ID,
		InstallmentIDs: []int64{schedule[11].ID},
		AccountID:      acct.ID,
		Amount:         decimal.RequireFromString("100.00"),
		Date:           day("2025-04-01"),
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "insufficient funds")
}

func TestDeleteGuardsReconciledLoans(t *testing.T) {
	f := setup(t)
	l := f.loan(t, "1000.00", "12", 2, MethodSAC)

	_, err := f.db.Exec("UPDATE loan_installments SET paid = 1, status = 'Paid' WHERE loan_id = ? AND seq = 1", l.ID)
	require.NoError(t, err)

	res, err := f.svc.Delete(l.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
}
