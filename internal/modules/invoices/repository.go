package invoices

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mbarbosa/fincore/internal/utils"
)

const invoicesColumns = `id, owner_id, card_id, reference_month, total_amount, paid_amount, closing_on, due_on, status, paid_on, posting_id`

// Repository handles invoice database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new invoices repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "invoices").Logger(),
	}
}

// MonthTotal is the installment sum for one card's reference month
type MonthTotal struct {
	Month string
	Total decimal.Decimal
}

// InstallmentTotals sums a card's installment amounts grouped by due month.
// Summing happens in Go because SQLite's SUM over the decimal TEXT column
// goes through floats and loses exactness.
func (r *Repository) InstallmentTotals(cardID int64) ([]MonthTotal, error) {
	rows, err := r.db.Query(`
		SELECT substr(i.due_on, 1, 7) AS month, i.amount
		FROM installments i
		JOIN purchases p ON p.id = i.purchase_id
		WHERE p.card_id = ?
		ORDER BY month
	`, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate installments: %w", err)
	}
	return sumByMonth(rows)
}

// OpenMonthTotals is InstallmentTotals restricted to months that still carry
// at least one unpaid installment. Each selected month sums ALL of its
// installments, paid included; fully-settled months are skipped entirely.
func (r *Repository) OpenMonthTotals(cardID int64) ([]MonthTotal, error) {
	rows, err := r.db.Query(`
		SELECT substr(i.due_on, 1, 7) AS month, i.amount
		FROM installments i
		JOIN purchases p ON p.id = i.purchase_id
		WHERE p.card_id = ?
		  AND substr(i.due_on, 1, 7) IN (
			SELECT substr(u.due_on, 1, 7)
			FROM installments u
			JOIN purchases up ON up.id = u.purchase_id
			WHERE up.card_id = ? AND u.paid = 0
		  )
		ORDER BY month
	`, cardID, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate open months: %w", err)
	}
	return sumByMonth(rows)
}

func sumByMonth(rows *sql.Rows) ([]MonthTotal, error) {
	defer rows.Close()

	var totals []MonthTotal
	for rows.Next() {
		var month, amount string
		if err := rows.Scan(&month, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan installment: %w", err)
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("corrupt installment amount: %w", err)
		}
		if n := len(totals); n > 0 && totals[n-1].Month == month {
			totals[n-1].Total = totals[n-1].Total.Add(d)
		} else {
			totals = append(totals, MonthTotal{Month: month, Total: d})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating installments: %w", err)
	}
	return totals, nil
}

// Create inserts a new invoice
func (r *Repository) Create(inv Invoice) (*Invoice, error) {
	res, err := r.db.Exec(`
		INSERT INTO invoices (owner_id, card_id, reference_month, total_amount, paid_amount, closing_on, due_on, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, inv.OwnerID, inv.CardID, inv.ReferenceMonth, inv.TotalAmount.String(), inv.PaidAmount.String(),
		utils.FormatDate(inv.ClosingOn), utils.FormatDate(inv.DueOn), inv.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to create invoice: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice id: %w", err)
	}
	return r.GetByID(id)
}

// UpdateOpenTotals rewrites the total and dates of an unsettled invoice
func (r *Repository) UpdateOpenTotals(id int64, total decimal.Decimal, closingOn, dueOn time.Time) error {
	_, err := r.db.Exec(`
		UPDATE invoices SET total_amount = ?, closing_on = ?, due_on = ?
		WHERE id = ? AND status NOT IN ('Paid', 'PartiallyPaid')
	`, total.String(), utils.FormatDate(closingOn), utils.FormatDate(dueOn), id)
	if err != nil {
		return fmt.Errorf("failed to update invoice totals: %w", err)
	}
	return nil
}

// GetByID retrieves an invoice by ID. Returns nil when not found.
func (r *Repository) GetByID(id int64) (*Invoice, error) {
	row := r.db.QueryRow("SELECT "+invoicesColumns+" FROM invoices WHERE id = ?", id)
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return inv, nil
}

// GetByCardMonth retrieves the invoice for a card and reference month.
// Returns nil when not found.
func (r *Repository) GetByCardMonth(cardID int64, monthKey string) (*Invoice, error) {
	row := r.db.QueryRow("SELECT "+invoicesColumns+" FROM invoices WHERE card_id = ? AND reference_month = ?", cardID, monthKey)
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return inv, nil
}

// ListByOwner retrieves an owner's invoices, optionally filtered to one month
func (r *Repository) ListByOwner(ownerID int64, monthKey string) ([]Invoice, error) {
	query := "SELECT " + invoicesColumns + " FROM invoices WHERE owner_id = ?"
	args := []interface{}{ownerID}
	if monthKey != "" {
		query += " AND reference_month = ?"
		args = append(args, monthKey)
	}
	query += " ORDER BY reference_month, card_id"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invoices: %w", err)
	}
	return invoices, nil
}

// ListSettledByCard retrieves a card's settled invoices
func (r *Repository) ListSettledByCard(cardID int64) ([]Invoice, error) {
	rows, err := r.db.Query("SELECT "+invoicesColumns+" FROM invoices WHERE card_id = ? AND status IN ('Paid', 'PartiallyPaid') ORDER BY reference_month", cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list settled invoices: %w", err)
	}
	defer rows.Close()

	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invoices: %w", err)
	}
	return invoices, nil
}

// Delete removes an invoice row
func (r *Repository) Delete(id int64) error {
	if _, err := r.db.Exec("DELETE FROM invoices WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete invoice: %w", err)
	}
	return nil
}

// MarkOverdue flips Pending invoices past their due date to Overdue and
// returns how many rows changed.
func (r *Repository) MarkOverdue(today time.Time) (int64, error) {
	res, err := r.db.Exec(`
		UPDATE invoices SET status = 'Overdue'
		WHERE status = 'Pending' AND due_on < ?
	`, utils.FormatDate(today))
	if err != nil {
		return 0, fmt.Errorf("failed to mark overdue invoices: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count overdue invoices: %w", err)
	}
	return n, nil
}

// SetPaymentTx records a payment against an invoice within a transaction
func (r *Repository) SetPaymentTx(tx *sql.Tx, id int64, paidAmount decimal.Decimal, status string, paidOn time.Time, postingID int64) error {
	_, err := tx.Exec(`
		UPDATE invoices SET paid_amount = ?, status = ?, paid_on = ?, posting_id = ?
		WHERE id = ?
	`, paidAmount.String(), status, utils.FormatDate(paidOn), postingID, id)
	if err != nil {
		return fmt.Errorf("failed to record invoice payment: %w", err)
	}
	return nil
}

// ClearPaymentTx undoes a recorded payment within a transaction. The status
// falls back to Pending; the next overdue pass re-flags it if needed.
func (r *Repository) ClearPaymentTx(tx *sql.Tx, id int64) error {
	_, err := tx.Exec(`
		UPDATE invoices SET paid_amount = '0', status = 'Pending', paid_on = NULL, posting_id = NULL
		WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to clear invoice payment: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInvoice(row rowScanner) (*Invoice, error) {
	var inv Invoice
	var total, paid, closingOn, dueOn string
	var paidOn sql.NullString
	var postingID sql.NullInt64

	err := row.Scan(&inv.ID, &inv.OwnerID, &inv.CardID, &inv.ReferenceMonth,
		&total, &paid, &closingOn, &dueOn, &inv.Status, &paidOn, &postingID)
	if err != nil {
		return nil, err
	}

	if inv.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("corrupt invoice total: %w", err)
	}
	if inv.PaidAmount, err = decimal.NewFromString(paid); err != nil {
		return nil, fmt.Errorf("corrupt invoice paid amount: %w", err)
	}
	if inv.ClosingOn, err = utils.ParseDate(closingOn); err != nil {
		return nil, fmt.Errorf("corrupt invoice closing date: %w", err)
	}
	if inv.DueOn, err = utils.ParseDate(dueOn); err != nil {
		return nil, fmt.Errorf("corrupt invoice due date: %w", err)
	}
	if paidOn.Valid {
		p, err := utils.ParseDate(paidOn.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt invoice paid date: %w", err)
		}
		inv.PaidOn = &p
	}
	if postingID.Valid {
		inv.PostingID = &postingID.Int64
	}
	return &inv, nil
}
