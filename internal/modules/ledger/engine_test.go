package ledger

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
	"github.com/mbarbosa/fincore/internal/modules/transactiontypes"
)

const testOwner = int64(1)

type fixture struct {
	db       *sql.DB
	engine   *Engine
	accounts *accounts.Repository
	types    *transactiontypes.Registry
}

func setupEngine(t *testing.T) *fixture {
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
	ledgerRepo := NewRepository(db, log)
	engine := NewEngine(db, ledgerRepo, accountRepo, registry, log)

	return &fixture{db: db, engine: engine, accounts: accountRepo, types: registry}
}

func (f *fixture) account(t *testing.T, balance string, limit *decimal.Decimal) *accounts.Account {
	t.Helper()
	bal := decimal.RequireFromString(balance)
	a, err := f.accounts.Create(accounts.Account{
		OwnerID:        testOwner,
		BankName:       "Banco Teste",
		Branch:         "0001",
		Number:         time.Now().Format("150405.000000000"),
		Type:           accounts.TypeChecking,
		InitialBalance: bal,
		CurrentBalance: bal,
		CreditLimit:    limit,
		Active:         true,
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) txType(t *testing.T, name string, polarity transactiontypes.Polarity) *transactiontypes.TransactionType {
	t.Helper()
	res, tt, err := f.types.Create(testOwner, name, polarity)
	require.NoError(t, err)
	require.True(t, res.Success)
	return tt
}

func (f *fixture) balance(t *testing.T, accountID int64) decimal.Decimal {
	t.Helper()
	a, err := f.accounts.GetByID(accountID)
	require.NoError(t, err)
	require.NotNil(t, a)
	return a.CurrentBalance
}

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d.UTC()
}

func TestPostSimple_DebitMovesBalanceDown(t *testing.T) {
	f := setupEngine(t)
	acct := f.account(t, "1000.00", nil)
	debit := f.txType(t, "PAGAMENTO", transactiontypes.Debit)

	p, err := f.engine.PostSimple(SimpleInput{
		OwnerID: testOwner, AccountID: acct.ID, TypeID: debit.ID,
		Date: day("2025-03-10"), Amount: decimal.RequireFromString("150.25"),
	})
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.Equal(t, "849.75", f.balance(t, acct.ID).StringFixed(2))
	assert.Equal(t, transactiontypes.Debit, p.Polarity)
}

func TestPostSimple_ReverseRestoresExactBalance(t *testing.T) {
	f := setupEngine(t)
	acct := f.account(t, "1000.00", nil)
	debit := f.txType(t, "PAGAMENTO", transactiontypes.Debit)

	p, err := f.engine.PostSimple(SimpleInput{
		OwnerID: testOwner, AccountID: acct.ID, TypeID: debit.ID,
		Date: day("2025-03-10"), Amount: decimal.RequireFromString("150.25"),
	})
	require.NoError(t, err)

	require.NoError(t, f.engine.Reverse(testOwner, p.ID))

	assert.Equal(t, "1000.00", f.balance(t, acct.ID).StringFixed(2))
	gone, err := f.engine.repo.GetByID(p.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestPostSimple_InsufficientFunds(t *testing.T) {
	f := setupEngine(t)
	acct := f.account(t, "100.00", nil)
	debit := f.txType(t, "PAGAMENTO", transactiontypes.Debit)

	_, err := f.engine.PostSimple(SimpleInput{
		OwnerID: testOwner, AccountID: acct.ID, TypeID: debit.ID,
		Date: day("2025-03-10"), Amount: decimal.RequireFromString("100.01"),
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, "100.00", f.balance(t, acct.ID).StringFixed(2))
}

func TestPostSimple_CreditLimitExtendsAffordability(t *testing.T) {
	f := setupEngine(t)
	limit := decimal.RequireFromString("500.00")
	acct := f.account(t, "100.00", &limit)
	debit := f.txType(t, "PAGAMENTO", transactiontypes.Debit)

	_, err := f.engine.PostSimple(SimpleInput{
		OwnerID: testOwner, AccountID: acct.ID, TypeID: debit.ID,
		Date: day("2025-03-10"), Amount: decimal.RequireFromString("600.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, "-500.00", f.balance(t, acct.ID).StringFixed(2))

	// One cent past the limit fails
	_, err = f.engine.PostSimple(SimpleInput{
		OwnerID: testOwner, AccountID: acct.ID, TypeID: debit.ID,
		Date: day("2025-03-11"), Amount: decimal.RequireFromString("0.01"),
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestPostSimple_RejectsNonPositiveAmount(t *testing.T) {
	f := setupEngine(t)
	acct := f.account(t, "100.00", nil)
	credit := f.txType(t, "DEPÓSITO", transactiontypes.Credit)

	_, err := f.engine.PostSimple(SimpleInput{
		OwnerID: testOwner, AccountID: acct.ID, TypeID: credit.ID,
		Date: day("2025-03-10"), Amount: decimal.Zero,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.engine.PostSimple(SimpleInput{
		OwnerID: testOwner, AccountID: acct.ID, TypeID: credit.ID,
		Date: day("2025-03-10"), Amount: decimal.RequireFromString("-5"),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestPostTransfer_ConservesTotalAndLinksLegs(t *testing.T) {
	f := setupEngine(t)
	source := f.account(t, "800.00", nil)
	dest := f.account(t, "200.00", nil)
	f.txType(t, "TRANSFERÊNCIA", transactiontypes.Credit)
	debit := f.txType(t, "TRANSFERÊNCIA", transactiontypes.Debit)

	tr, err := f.engine.PostTransfer(TransferInput{
		OwnerID: testOwner, SourceID: source.ID, DestinationID: dest.ID,
		DebitTypeID: debit.ID, Date: day("2025-04-01"),
		Amount: decimal.RequireFromString("300.00"),
	})
	require.NoError(t, err)

	assert.Equal(t, "500.00", f.balance(t, source.ID).StringFixed(2))
	assert.Equal(t, "500.00", f.balance(t, dest.ID).StringFixed(2))

	// Symmetric link
	require.NotNil(t, tr.DebitLeg.LinkedPostingID)
	require.NotNil(t, tr.CreditLeg.LinkedPostingID)
	assert.Equal(t, tr.CreditLeg.ID, *tr.DebitLeg.LinkedPostingID)
	assert.Equal(t, tr.DebitLeg.ID, *tr.CreditLeg.LinkedPostingID)

	// Default note synthesis
	assert.Contains(t, tr.DebitLeg.Note, "TRANSFERÊNCIA to")
	assert.Contains(t, tr.CreditLeg.Note, "TRANSFERÊNCIA from")
}

func TestPostTransfer_MissingCounterpartLeavesNothingBehind(t *testing.T) {
	f := setupEngine(t)
	source := f.account(t, "800.00", nil)
	dest := f.account(t, "200.00", nil)
	debit := f.txType(t, "TRANSFERÊNCIA", transactiontypes.Debit)
	// No Credit twin registered

	_, err := f.engine.PostTransfer(TransferInput{
		OwnerID: testOwner, SourceID: source.ID, DestinationID: dest.ID,
		DebitTypeID: debit.ID, Date: day("2025-04-01"),
		Amount: decimal.RequireFromString("300.00"),
	})
	assert.ErrorIs(t, err, domain.ErrCounterpartMissing)

	// Atomicity: no leg written, no balance moved
	assert.Equal(t, "800.00", f.balance(t, source.ID).StringFixed(2))
	assert.Equal(t, "200.00", f.balance(t, dest.ID).StringFixed(2))

	var count int
	require.NoError(t, f.db.QueryRow("SELECT COUNT(*) FROM postings").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestReverse_TransferRemovesBothLegs(t *testing.T) {
	f := setupEngine(t)
	source := f.account(t, "800.00", nil)
	dest := f.account(t, "200.00", nil)
	f.txType(t, "TRANSFERÊNCIA", transactiontypes.Credit)
	debit := f.txType(t, "TRANSFERÊNCIA", transactiontypes.Debit)

	tr, err := f.engine.PostTransfer(TransferInput{
		OwnerID: testOwner, SourceID: source.ID, DestinationID: dest.ID,
		DebitTypeID: debit.ID, Date: day("2025-04-01"),
		Amount: decimal.RequireFromString("300.00"),
	})
	require.NoError(t, err)

	// Reversing the credit leg takes the whole pair out
	require.NoError(t, f.engine.Reverse(testOwner, tr.CreditLeg.ID))

	assert.Equal(t, "800.00", f.balance(t, source.ID).StringFixed(2))
	assert.Equal(t, "200.00", f.balance(t, dest.ID).StringFixed(2))

	var count int
	require.NoError(t, f.db.QueryRow("SELECT COUNT(*) FROM postings").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestReverse_LaterPostingsBlockReversal(t *testing.T) {
	f := setupEngine(t)
	acct := f.account(t, "1000.00", nil)
	debit := f.txType(t, "PAGAMENTO", transactiontypes.Debit)

	first, err := f.engine.PostSimple(SimpleInput{
		OwnerID: testOwner, AccountID: acct.ID, TypeID: debit.ID,
		Date: day("2025-03-10"), Amount: decimal.RequireFromString("100.00"),
	})
	require.NoError(t, err)

	second, err := f.engine.PostSimple(SimpleInput{
		OwnerID: testOwner, AccountID: acct.ID, TypeID: debit.ID,
		Date: day("2025-03-11"), Amount: decimal.RequireFromString("50.00"),
	})
	require.NoError(t, err)

	err = f.engine.Reverse(testOwner, first.ID)
	assert.ErrorIs(t, err, domain.ErrLaterPostingsExist)

	// Newest first works, then the older one becomes reversible
	require.NoError(t, f.engine.Reverse(testOwner, second.ID))
	require.NoError(t, f.engine.Reverse(testOwner, first.ID))
	assert.Equal(t, "1000.00", f.balance(t, acct.ID).StringFixed(2))
}

func TestReverse_SameDayOrderedByInsertion(t *testing.T) {
	f := setupEngine(t)
	acct := f.account(t, "1000.00", nil)
	debit := f.txType(t, "PAGAMENTO", transactiontypes.Debit)

	first, err := f.engine.PostSimple(SimpleInput{
		OwnerID: testOwner, AccountID: acct.ID, TypeID: debit.ID,
		Date: day("2025-03-10"), Amount: decimal.RequireFromString("100.00"),
	})
	require.NoError(t, err)

	_, err = f.engine.PostSimple(SimpleInput{
		OwnerID: testOwner, AccountID: acct.ID, TypeID: debit.ID,
		Date: day("2025-03-10"), Amount: decimal.RequireFromString("50.00"),
	})
	require.NoError(t, err)

	err = f.engine.Reverse(testOwner, first.ID)
	assert.ErrorIs(t, err, domain.ErrLaterPostingsExist)
}

func TestReverse_ObligationLinkBlocksReversal(t *testing.T) {
	f := setupEngine(t)
	acct := f.account(t, "1000.00", nil)
	debit := f.txType(t, "PAGAMENTO", transactiontypes.Debit)

	p, err := f.engine.PostSimple(SimpleInput{
		OwnerID: testOwner, AccountID: acct.ID, TypeID: debit.ID,
		Date: day("2025-03-10"), Amount: decimal.RequireFromString("100.00"),
	})
	require.NoError(t, err)

	// A bill movement claims the posting
	_, err = f.db.Exec(`INSERT INTO bills (owner_id, name, nature, expected_amount, due_day, active, created_at)
		VALUES (1, 'Energia', 'Expense', '100.00', 10, 1, 0)`)
	require.NoError(t, err)
	_, err = f.db.Exec(`INSERT INTO bill_movements (bill_id, period, due_on, expected_amount, status, posting_id)
		VALUES (1, '2025-03', '2025-03-10', '100.00', 'Paid', ?)`, p.ID)
	require.NoError(t, err)

	err = f.engine.Reverse(testOwner, p.ID)
	assert.ErrorIs(t, err, domain.ErrPostingLinkedToObligation)
	assert.Equal(t, "900.00", f.balance(t, acct.ID).StringFixed(2))
}

func TestSimulateReversalSafety(t *testing.T) {
	f := setupEngine(t)
	acct := f.account(t, "0.00", nil)
	credit := f.txType(t, "RECEBIMENTO", transactiontypes.Credit)
	debit := f.txType(t, "PAGAMENTO", transactiontypes.Debit)

	receipt, err := f.engine.PostSimple(SimpleInput{
		OwnerID: testOwner, AccountID: acct.ID, TypeID: credit.ID,
		Date: day("2025-05-01"), Amount: decimal.RequireFromString("500.00"),
	})
	require.NoError(t, err)

	_, err = f.engine.PostSimple(SimpleInput{
		OwnerID: testOwner, AccountID: acct.ID, TypeID: debit.ID,
		Date: day("2025-05-05"), Amount: decimal.RequireFromString("400.00"),
	})
	require.NoError(t, err)

	// Removing the receipt would leave the payment unfunded
	safe, err := f.engine.SimulateReversalSafety(acct.ID, receipt.ID)
	require.NoError(t, err)
	assert.False(t, safe)

	// A small receipt is safe to remove
	small, err := f.engine.PostSimple(SimpleInput{
		OwnerID: testOwner, AccountID: acct.ID, TypeID: credit.ID,
		Date: day("2025-05-10"), Amount: decimal.RequireFromString("50.00"),
	})
	require.NoError(t, err)

	safe, err = f.engine.SimulateReversalSafety(acct.ID, small.ID)
	require.NoError(t, err)
	assert.True(t, safe)
}

func TestRunLocked_ComposesPostingsOnSingleConnection(t *testing.T) {
	// The fixture pool has exactly one connection, so every read inside
	// RunLocked has to go through the open transaction. A pooled read here
	// would block forever waiting for the connection the transaction holds.
	f := setupEngine(t)
	acct := f.account(t, "1000.00", nil)
	other := f.account(t, "0.00", nil)
	debit := f.txType(t, "PAGAMENTO", transactiontypes.Debit)
	f.txType(t, "TRANSFERÊNCIA", transactiontypes.Credit)
	transfer := f.txType(t, "TRANSFERÊNCIA", transactiontypes.Debit)

	err := f.engine.RunLocked(func(tx *sql.Tx) error {
		if _, err := f.engine.PostSimpleTx(tx, SimpleInput{
			OwnerID: testOwner, AccountID: acct.ID, TypeID: debit.ID,
			Date: day("2025-06-01"), Amount: decimal.RequireFromString("100.00"),
		}); err != nil {
			return err
		}
		_, err := f.engine.postTransferTx(tx, TransferInput{
			OwnerID: testOwner, SourceID: acct.ID, DestinationID: other.ID,
			DebitTypeID: transfer.ID, Date: day("2025-06-02"),
			Amount: decimal.RequireFromString("200.00"),
		})
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, "700.00", f.balance(t, acct.ID).StringFixed(2))
	assert.Equal(t, "200.00", f.balance(t, other.ID).StringFixed(2))
}

func TestEntries_FoldsTransferPairs(t *testing.T) {
	f := setupEngine(t)
	source := f.account(t, "800.00", nil)
	dest := f.account(t, "200.00", nil)
	f.txType(t, "TRANSFERÊNCIA", transactiontypes.Credit)
	debit := f.txType(t, "TRANSFERÊNCIA", transactiontypes.Debit)
	payment := f.txType(t, "PAGAMENTO", transactiontypes.Debit)

	_, err := f.engine.PostTransfer(TransferInput{
		OwnerID: testOwner, SourceID: source.ID, DestinationID: dest.ID,
		DebitTypeID: debit.ID, Date: day("2025-04-01"),
		Amount: decimal.RequireFromString("300.00"),
	})
	require.NoError(t, err)

	_, err = f.engine.PostSimple(SimpleInput{
		OwnerID: testOwner, AccountID: source.ID, TypeID: payment.ID,
		Date: day("2025-04-02"), Amount: decimal.RequireFromString("10.00"),
	})
	require.NoError(t, err)

	entries, err := f.engine.Entries(testOwner, "2025-04")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, EntryTransfer, entries[0].Kind)
	require.NotNil(t, entries[0].DebitLeg)
	require.NotNil(t, entries[0].CreditLeg)
	assert.Equal(t, EntrySimple, entries[1].Kind)
}
