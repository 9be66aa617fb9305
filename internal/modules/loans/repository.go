package loans

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mbarbosa/fincore/internal/utils"
)

const loansColumns = `id, public_id, owner_id, account_id, name, description, principal, outstanding_balance, annual_rate, start_on, term_months, method, created_at`

const loanInstallmentsColumns = `id, loan_id, seq, due_on, principal, interest, insurance_life, insurance_property, insurance_other, fees, penalty, arrears, adjustments, total_due, balance_after, paid, paid_on, amount_paid, status, notes, posting_id`

// Repository handles loan database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new loans repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "loans").Logger(),
	}
}

type queryer interface {
	QueryRow(query string, args ...interface{}) *sql.Row
	Query(query string, args ...interface{}) (*sql.Rows, error)
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// CreateTx inserts a loan within a transaction
func (r *Repository) CreateTx(tx *sql.Tx, l Loan) (int64, error) {
	var account sql.NullInt64
	if l.AccountID != nil {
		account = sql.NullInt64{Int64: *l.AccountID, Valid: true}
	}
	var desc sql.NullString
	if l.Description != "" {
		desc = sql.NullString{String: l.Description, Valid: true}
	}

	res, err := tx.Exec(`
		INSERT INTO loans
		(public_id, owner_id, account_id, name, description, principal, outstanding_balance, annual_rate, start_on, term_months, method, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, l.PublicID, l.OwnerID, account, l.Name, desc, l.Principal.String(), l.OutstandingBalance.String(),
		l.AnnualRate.String(), utils.FormatDate(l.StartOn), l.TermMonths, string(l.Method), time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to create loan: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get loan id: %w", err)
	}
	return id, nil
}

// GetByID retrieves a loan by ID. Returns nil when not found.
func (r *Repository) GetByID(id int64) (*Loan, error) {
	return r.getLoan(r.db, "id", id)
}

// GetByIDTx retrieves a loan by ID within a transaction
func (r *Repository) GetByIDTx(tx *sql.Tx, id int64) (*Loan, error) {
	return r.getLoan(tx, "id", id)
}

// GetByPublicID retrieves a loan by its UUID. Returns nil when not found.
func (r *Repository) GetByPublicID(publicID string) (*Loan, error) {
	return r.getLoan(r.db, "public_id", publicID)
}

func (r *Repository) getLoan(q queryer, column string, value interface{}) (*Loan, error) {
	row := q.QueryRow("SELECT "+loansColumns+" FROM loans WHERE "+column+" = ?", value)
	l, err := scanLoan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return l, nil
}

// ExistsName checks for a name collision within an owner's loans
func (r *Repository) ExistsName(ownerID int64, name string) (bool, error) {
	var exists int
	err := r.db.QueryRow("SELECT 1 FROM loans WHERE owner_id = ? AND name = ? LIMIT 1", ownerID, name).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check loan name: %w", err)
	}
	return true, nil
}

// ListByOwner retrieves all loans of an owner
func (r *Repository) ListByOwner(ownerID int64) ([]Loan, error) {
	rows, err := r.db.Query("SELECT "+loansColumns+" FROM loans WHERE owner_id = ? ORDER BY name", ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	defer rows.Close()

	var loans []Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan: %w", err)
		}
		loans = append(loans, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating loans: %w", err)
	}
	return loans, nil
}

// UpdateOutstandingTx rewrites a loan's outstanding balance in a transaction
func (r *Repository) UpdateOutstandingTx(tx *sql.Tx, id int64, balance decimal.Decimal) error {
	if _, err := tx.Exec("UPDATE loans SET outstanding_balance = ? WHERE id = ?", balance.String(), id); err != nil {
		return fmt.Errorf("failed to update outstanding balance: %w", err)
	}
	return nil
}

// Delete removes a loan; installments cascade
func (r *Repository) Delete(id int64) error {
	if _, err := r.db.Exec("DELETE FROM loans WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete loan: %w", err)
	}
	return nil
}

// InsertInstallmentTx inserts one schedule row within a transaction
func (r *Repository) InsertInstallmentTx(tx *sql.Tx, inst Installment) error {
	var paidOn, notes sql.NullString
	if inst.PaidOn != nil {
		paidOn = sql.NullString{String: utils.FormatDate(*inst.PaidOn), Valid: true}
	}
	if inst.Notes != "" {
		notes = sql.NullString{String: inst.Notes, Valid: true}
	}
	var amountPaid sql.NullString
	if inst.AmountPaid != nil {
		amountPaid = sql.NullString{String: inst.AmountPaid.String(), Valid: true}
	}

	_, err := tx.Exec(`
		INSERT INTO loan_installments
		(loan_id, seq, due_on, principal, interest, insurance_life, insurance_property, insurance_other,
		 fees, penalty, arrears, adjustments, total_due, balance_after, paid, paid_on, amount_paid, status, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, inst.LoanID, inst.Seq, utils.FormatDate(inst.DueOn),
		inst.Principal.String(), inst.Interest.String(),
		inst.InsuranceLife.String(), inst.InsuranceProperty.String(), inst.InsuranceOther.String(),
		inst.Fees.String(), inst.Penalty.String(), inst.Arrears.String(), inst.Adjustments.String(),
		inst.TotalDue.String(), inst.BalanceAfter.String(),
		boolToInt(inst.Paid), paidOn, amountPaid, inst.Status, notes)
	if err != nil {
		return fmt.Errorf("failed to insert loan installment: %w", err)
	}
	return nil
}

// DeleteInstallmentsTx removes every installment of a loan
func (r *Repository) DeleteInstallmentsTx(tx *sql.Tx, loanID int64) error {
	if _, err := tx.Exec("DELETE FROM loan_installments WHERE loan_id = ?", loanID); err != nil {
		return fmt.Errorf("failed to delete loan installments: %w", err)
	}
	return nil
}

// ListInstallments retrieves a loan's schedule in sequence order
func (r *Repository) ListInstallments(loanID int64) ([]Installment, error) {
	return r.listInstallments(r.db, loanID)
}

// ListInstallmentsTx retrieves a loan's schedule within a transaction
func (r *Repository) ListInstallmentsTx(tx *sql.Tx, loanID int64) ([]Installment, error) {
	return r.listInstallments(tx, loanID)
}

func (r *Repository) listInstallments(q queryer, loanID int64) ([]Installment, error) {
	rows, err := q.Query("SELECT "+loanInstallmentsColumns+" FROM loan_installments WHERE loan_id = ? ORDER BY seq", loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to list loan installments: %w", err)
	}
	defer rows.Close()

	var installments []Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan installment: %w", err)
		}
		installments = append(installments, *inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating loan installments: %w", err)
	}
	return installments, nil
}

// GetInstallment retrieves one schedule row by ID. Returns nil when not found.
func (r *Repository) GetInstallment(id int64) (*Installment, error) {
	row := r.db.QueryRow("SELECT "+loanInstallmentsColumns+" FROM loan_installments WHERE id = ?", id)
	inst, err := scanInstallment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get loan installment: %w", err)
	}
	return inst, nil
}

// AnyInstallmentPaid checks whether a loan has at least one paid installment
func (r *Repository) AnyInstallmentPaid(loanID int64) (bool, error) {
	var exists int
	err := r.db.QueryRow("SELECT 1 FROM loan_installments WHERE loan_id = ? AND paid = 1 LIMIT 1", loanID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check paid installments: %w", err)
	}
	return true, nil
}

// ListInstallmentsByIDsTx retrieves specific schedule rows of a loan, in
// sequence order. Rows belonging to other loans are silently excluded.
func (r *Repository) ListInstallmentsByIDsTx(tx *sql.Tx, loanID int64, ids []int64) ([]Installment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := ""
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, loanID)
	for i, id := range ids {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, id)
	}

	rows, err := tx.Query("SELECT "+loanInstallmentsColumns+" FROM loan_installments WHERE loan_id = ? AND id IN ("+placeholders+") ORDER BY seq", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list loan installments: %w", err)
	}
	defer rows.Close()

	var installments []Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan installment: %w", err)
		}
		installments = append(installments, *inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating loan installments: %w", err)
	}
	return installments, nil
}

// SumUnpaidPrincipalTx sums the principal still owed across rows that remain
// open, Pending or Overdue. Paid and Amortized rows no longer owe anything.
func (r *Repository) SumUnpaidPrincipalTx(tx *sql.Tx, loanID int64) (decimal.Decimal, error) {
	rows, err := tx.Query("SELECT principal FROM loan_installments WHERE loan_id = ? AND status IN ('Pending', 'Overdue')", loanID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum unpaid principal: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var principal string
		if err := rows.Scan(&principal); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan principal: %w", err)
		}
		d, err := decimal.NewFromString(principal)
		if err != nil {
			return decimal.Zero, fmt.Errorf("corrupt principal: %w", err)
		}
		total = total.Add(d)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("error iterating principals: %w", err)
	}
	return total, nil
}

// SetInstallmentPaymentTx records a payment against a schedule row
func (r *Repository) SetInstallmentPaymentTx(tx *sql.Tx, id int64, amountPaid decimal.Decimal, paidOn time.Time, postingID int64) error {
	_, err := tx.Exec(`
		UPDATE loan_installments
		SET paid = 1, paid_on = ?, amount_paid = ?, status = 'Paid', posting_id = ?
		WHERE id = ?
	`, utils.FormatDate(paidOn), amountPaid.String(), postingID, id)
	if err != nil {
		return fmt.Errorf("failed to record installment payment: %w", err)
	}
	return nil
}

// MarkAmortizedTx settles a schedule row ahead of time: its share of the
// extra payment, the posting that funded it, and a zeroed balance snapshot.
func (r *Repository) MarkAmortizedTx(tx *sql.Tx, id int64, share decimal.Decimal, paidOn time.Time, postingID int64, notes string) error {
	_, err := tx.Exec(`
		UPDATE loan_installments
		SET paid = 1, paid_on = ?, amount_paid = ?, balance_after = '0', status = 'Amortized', posting_id = ?, notes = ?
		WHERE id = ?
	`, utils.FormatDate(paidOn), share.String(), postingID, notes, id)
	if err != nil {
		return fmt.Errorf("failed to mark installment amortized: %w", err)
	}
	return nil
}

// ClearInstallmentPaymentTx undoes a recorded payment on a schedule row
func (r *Repository) ClearInstallmentPaymentTx(tx *sql.Tx, id int64) error {
	_, err := tx.Exec(`
		UPDATE loan_installments
		SET paid = 0, paid_on = NULL, amount_paid = NULL, status = 'Pending', posting_id = NULL
		WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to clear installment payment: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLoan(row rowScanner) (*Loan, error) {
	var l Loan
	var account sql.NullInt64
	var desc sql.NullString
	var principal, outstanding, rate, startOn, method string
	var createdAt int64

	err := row.Scan(&l.ID, &l.PublicID, &l.OwnerID, &account, &l.Name, &desc,
		&principal, &outstanding, &rate, &startOn, &l.TermMonths, &method, &createdAt)
	if err != nil {
		return nil, err
	}

	if account.Valid {
		l.AccountID = &account.Int64
	}
	if desc.Valid {
		l.Description = desc.String
	}
	if l.Principal, err = decimal.NewFromString(principal); err != nil {
		return nil, fmt.Errorf("corrupt loan principal: %w", err)
	}
	if l.OutstandingBalance, err = decimal.NewFromString(outstanding); err != nil {
		return nil, fmt.Errorf("corrupt outstanding balance: %w", err)
	}
	if l.AnnualRate, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("corrupt annual rate: %w", err)
	}
	if l.StartOn, err = utils.ParseDate(startOn); err != nil {
		return nil, fmt.Errorf("corrupt loan start date: %w", err)
	}
	l.Method = Method(method)
	l.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &l, nil
}

func scanInstallment(row rowScanner) (*Installment, error) {
	var inst Installment
	var dueOn string
	var money [11]string
	var paid int
	var paidOn, amountPaid, notes sql.NullString
	var postingID sql.NullInt64

	err := row.Scan(&inst.ID, &inst.LoanID, &inst.Seq, &dueOn,
		&money[0], &money[1], &money[2], &money[3], &money[4], &money[5],
		&money[6], &money[7], &money[8], &money[9], &money[10],
		&paid, &paidOn, &amountPaid, &inst.Status, &notes, &postingID)
	if err != nil {
		return nil, err
	}

	if inst.DueOn, err = utils.ParseDate(dueOn); err != nil {
		return nil, fmt.Errorf("corrupt installment due date: %w", err)
	}

	targets := []*decimal.Decimal{
		&inst.Principal, &inst.Interest,
		&inst.InsuranceLife, &inst.InsuranceProperty, &inst.InsuranceOther,
		&inst.Fees, &inst.Penalty, &inst.Arrears, &inst.Adjustments,
		&inst.TotalDue, &inst.BalanceAfter,
	}
	for i, target := range targets {
		if *target, err = decimal.NewFromString(money[i]); err != nil {
			return nil, fmt.Errorf("corrupt installment amount: %w", err)
		}
	}

	inst.Paid = paid != 0
	if paidOn.Valid {
		p, err := utils.ParseDate(paidOn.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt installment paid date: %w", err)
		}
		inst.PaidOn = &p
	}
	if amountPaid.Valid {
		a, err := decimal.NewFromString(amountPaid.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt amount paid: %w", err)
		}
		inst.AmountPaid = &a
	}
	if notes.Valid {
		inst.Notes = notes.String
	}
	if postingID.Valid {
		inst.PostingID = &postingID.Int64
	}
	return &inst, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
