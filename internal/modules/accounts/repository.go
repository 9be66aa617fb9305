package accounts

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// accountsColumns is the list of columns for the accounts table
// Used to avoid SELECT * which can break when schema changes
// Column order must match the scan helpers below
const accountsColumns = `id, owner_id, bank_name, branch, number, type, initial_balance, current_balance, credit_limit, active, created_at, updated_at`

// Repository handles account database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new account repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "accounts").Logger(),
	}
}

// Create inserts a new account and returns it with the assigned ID
func (r *Repository) Create(a Account) (*Account, error) {
	now := time.Now().Unix()

	var limit sql.NullString
	if a.CreditLimit != nil {
		limit = sql.NullString{String: a.CreditLimit.String(), Valid: true}
	}

	res, err := r.db.Exec(`
		INSERT INTO accounts
		(owner_id, bank_name, branch, number, type, initial_balance, current_balance, credit_limit, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.OwnerID, a.BankName, a.Branch, a.Number, string(a.Type),
		a.InitialBalance.String(), a.CurrentBalance.String(), limit,
		boolToInt(a.Active), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get account id: %w", err)
	}

	r.log.Info().Int64("account_id", id).Str("bank", a.BankName).Msg("Account created")
	return r.GetByID(id)
}

// GetByID retrieves an account by ID. Returns nil when not found.
func (r *Repository) GetByID(id int64) (*Account, error) {
	return getByID(r.db, id)
}

// GetByIDTx is the in-transaction variant of GetByID. Posting code must use
// this one: a pooled read while a write transaction holds the sole connection
// would block forever on a single-connection pool.
func (r *Repository) GetByIDTx(tx *sql.Tx, id int64) (*Account, error) {
	return getByID(tx, id)
}

type querier interface {
	QueryRow(query string, args ...interface{}) *sql.Row
}

func getByID(q querier, id int64) (*Account, error) {
	row := q.QueryRow("SELECT "+accountsColumns+" FROM accounts WHERE id = ?", id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// ListByOwner retrieves all accounts for an owner, active first
func (r *Repository) ListByOwner(ownerID int64) ([]Account, error) {
	rows, err := r.db.Query(`
		SELECT `+accountsColumns+` FROM accounts
		WHERE owner_id = ?
		ORDER BY active DESC, bank_name, number
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		a, err := scanAccountFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}

// ExistsDuplicate checks the (owner, bank, branch, number, type) uniqueness rule
func (r *Repository) ExistsDuplicate(ownerID int64, bank, branch, number string, accType AccountType) (bool, error) {
	var exists int
	err := r.db.QueryRow(`
		SELECT 1 FROM accounts
		WHERE owner_id = ? AND bank_name = ? AND branch = ? AND number = ? AND type = ?
		LIMIT 1
	`, ownerID, bank, branch, number, string(accType)).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check account duplicate: %w", err)
	}
	return true, nil
}

// UpdateSettings updates the mutable fields of an account (credit limit and active flag)
func (r *Repository) UpdateSettings(id int64, creditLimit *decimal.Decimal, active bool) error {
	var limit sql.NullString
	if creditLimit != nil {
		limit = sql.NullString{String: creditLimit.String(), Valid: true}
	}

	_, err := r.db.Exec(`
		UPDATE accounts SET credit_limit = ?, active = ?, updated_at = ?
		WHERE id = ?
	`, limit, boolToInt(active), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	return nil
}

// Delete removes an account row. Callers enforce the no-postings rule first.
func (r *Repository) Delete(id int64) error {
	if _, err := r.db.Exec("DELETE FROM accounts WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}

// AdjustBalanceTx applies a signed delta to an account's current balance
// within an existing transaction. Only the posting engine calls this.
func (r *Repository) AdjustBalanceTx(tx *sql.Tx, id int64, delta decimal.Decimal) error {
	var balanceStr string
	err := tx.QueryRow("SELECT current_balance FROM accounts WHERE id = ?", id).Scan(&balanceStr)
	if err != nil {
		return fmt.Errorf("failed to read balance for adjustment: %w", err)
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return fmt.Errorf("corrupt balance on account %d: %w", id, err)
	}

	newBalance := balance.Add(delta)
	_, err = tx.Exec("UPDATE accounts SET current_balance = ?, updated_at = ? WHERE id = ?",
		newBalance.String(), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to adjust balance: %w", err)
	}

	return nil
}

// Helper functions

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row *sql.Row) (*Account, error)       { return scanAccountRow(row) }
func scanAccountFromRows(rows *sql.Rows) (*Account, error) { return scanAccountRow(rows) }

func scanAccountRow(row rowScanner) (*Account, error) {
	var a Account
	var accType, initial, current string
	var limit sql.NullString
	var active int
	var createdAt, updatedAt int64

	err := row.Scan(
		&a.ID, &a.OwnerID, &a.BankName, &a.Branch, &a.Number, &accType,
		&initial, &current, &limit, &active, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Type = AccountType(accType)
	a.Active = active != 0
	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	a.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	if a.InitialBalance, err = decimal.NewFromString(initial); err != nil {
		return nil, fmt.Errorf("corrupt initial balance: %w", err)
	}
	if a.CurrentBalance, err = decimal.NewFromString(current); err != nil {
		return nil, fmt.Errorf("corrupt current balance: %w", err)
	}
	if limit.Valid {
		l, err := decimal.NewFromString(limit.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt credit limit: %w", err)
		}
		a.CreditLimit = &l
	}

	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
