package accounts_test

import (
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/mbarbosa/fincore/internal/database"
	"github.com/mbarbosa/fincore/internal/modules/accounts"
	"github.com/mbarbosa/fincore/internal/modules/ledger"
)

func setupService(t *testing.T) (*sql.DB, *accounts.Service) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	require.NoError(t, err)
	_, err = db.Exec(database.Schema)
	require.NoError(t, err)

	repo := accounts.NewRepository(db, zerolog.Nop())
	ledgerRepo := ledger.NewRepository(db, zerolog.Nop())
	return db, accounts.NewService(repo, ledgerRepo, zerolog.Nop())
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCreateAccount(t *testing.T) {
	_, svc := setupService(t)

	limit := dec("500.00")
	res, a, err := svc.Create(accounts.CreateInput{
		OwnerID:        1,
		BankName:       "Banco do Brasil",
		Branch:         "1234",
		Number:         "56789-0",
		Type:           accounts.TypeChecking,
		InitialBalance: dec("1500.00"),
		CreditLimit:    &limit,
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	require.NotNil(t, a)

	assert.Equal(t, "1500.00", a.CurrentBalance.StringFixed(2))
	assert.Equal(t, a.InitialBalance.String(), a.CurrentBalance.String())
	assert.True(t, a.Active)
	assert.Equal(t, "2000.00", a.AvailableFunds().StringFixed(2))
}

func TestCreateAccountRejectsDuplicate(t *testing.T) {
	_, svc := setupService(t)

	in := accounts.CreateInput{
		OwnerID:  1,
		BankName: "Nubank",
		Branch:   "0001",
		Number:   "111-2",
		Type:     accounts.TypeDigital,
	}
	res, _, err := svc.Create(in)
	require.NoError(t, err)
	require.True(t, res.Success)

	res, _, err = svc.Create(in)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "already exists")

	// Same coordinates under a different type is a distinct account
	in.Type = accounts.TypeSavings
	res, _, err = svc.Create(in)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestCreateAccountValidation(t *testing.T) {
	_, svc := setupService(t)

	res, _, err := svc.Create(accounts.CreateInput{OwnerID: 1, BankName: "X", Branch: "1", Number: "2", Type: "Checking Plus"})
	require.NoError(t, err)
	assert.False(t, res.Success)

	// Credit limits only make sense on checking and digital accounts
	limit := dec("100")
	res, _, err = svc.Create(accounts.CreateInput{
		OwnerID: 1, BankName: "X", Branch: "1", Number: "3",
		Type: accounts.TypeSavings, CreditLimit: &limit,
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "credit limit")
}

func TestUpdateAccount(t *testing.T) {
	_, svc := setupService(t)

	res, a, err := svc.Create(accounts.CreateInput{
		OwnerID: 1, BankName: "Itaú", Branch: "4321", Number: "99-1", Type: accounts.TypeChecking,
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	limit := dec("750.00")
	res, err = svc.Update(a.ID, accounts.UpdateInput{CreditLimit: &limit, Active: true})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	got, err := svc.Get(a.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CreditLimit)
	assert.Equal(t, "750.00", got.CreditLimit.StringFixed(2))
}

func TestDeactivateRequiresZeroBalance(t *testing.T) {
	_, svc := setupService(t)

	res, a, err := svc.Create(accounts.CreateInput{
		OwnerID: 1, BankName: "Caixa", Branch: "0001", Number: "7-7",
		Type: accounts.TypeSavings, InitialBalance: dec("10.00"),
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	res, err = svc.Update(a.ID, accounts.UpdateInput{Active: false})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "not zero")
}

func TestDeleteAccountGuards(t *testing.T) {
	db, svc := setupService(t)

	res, a, err := svc.Create(accounts.CreateInput{
		OwnerID: 1, BankName: "Inter", Branch: "0001", Number: "8-8", Type: accounts.TypeDigital,
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	_, err = db.Exec("INSERT INTO transaction_types (owner_id, name, polarity, created_at) VALUES (1, 'PAGAMENTO', 'Debit', 0)")
	require.NoError(t, err)
	_, err = db.Exec(
		"INSERT INTO postings (owner_id, account_id, type_id, posted_on, amount, created_at) VALUES (1, ?, 1, '2025-01-10', '0', 0)",
		a.ID,
	)
	require.NoError(t, err)

	res, err = svc.Delete(a.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "postings")

	_, err = db.Exec("DELETE FROM postings")
	require.NoError(t, err)

	res, err = svc.Delete(a.ID)
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	got, err := svc.Get(a.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeleteUnknownAccount(t *testing.T) {
	_, svc := setupService(t)

	res, err := svc.Delete(9999)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "not found")
}
