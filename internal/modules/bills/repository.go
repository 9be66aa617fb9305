package bills

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mbarbosa/fincore/internal/domain"
	"github.com/mbarbosa/fincore/internal/utils"
)

const billsColumns = `id, owner_id, name, nature, expected_amount, due_day, active, created_at`

const movementsColumns = `id, bill_id, period, due_on, expected_amount, realized_amount, status, paid_on, posting_id`

// Repository handles bill database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new bills repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "bills").Logger(),
	}
}

// Create inserts a new bill
func (r *Repository) Create(b Bill) (*Bill, error) {
	res, err := r.db.Exec(`
		INSERT INTO bills (owner_id, name, nature, expected_amount, due_day, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, b.OwnerID, b.Name, string(b.Nature), b.ExpectedAmount.String(), b.DueDay, boolToInt(b.Active), time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to create bill: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get bill id: %w", err)
	}
	return r.GetByID(id)
}

// GetByID retrieves a bill by ID. Returns nil when not found.
func (r *Repository) GetByID(id int64) (*Bill, error) {
	row := r.db.QueryRow("SELECT "+billsColumns+" FROM bills WHERE id = ?", id)
	b, err := scanBill(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bill: %w", err)
	}
	return b, nil
}

// ExistsDuplicate checks for a name collision within an owner and nature
func (r *Repository) ExistsDuplicate(ownerID int64, name string, nature Nature) (bool, error) {
	var exists int
	err := r.db.QueryRow("SELECT 1 FROM bills WHERE owner_id = ? AND name = ? AND nature = ? LIMIT 1",
		ownerID, name, string(nature)).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check duplicate bill: %w", err)
	}
	return true, nil
}

// ListByOwner retrieves an owner's bills
func (r *Repository) ListByOwner(ownerID int64, activeOnly bool) ([]Bill, error) {
	query := "SELECT " + billsColumns + " FROM bills WHERE owner_id = ?"
	if activeOnly {
		query += " AND active = 1"
	}
	query += " ORDER BY nature, name"

	rows, err := r.db.Query(query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bills: %w", err)
	}
	defer rows.Close()

	var bills []Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bill: %w", err)
		}
		bills = append(bills, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bills: %w", err)
	}
	return bills, nil
}

// Update rewrites a bill's mutable fields
func (r *Repository) Update(b Bill) error {
	_, err := r.db.Exec(`
		UPDATE bills SET expected_amount = ?, due_day = ?, active = ? WHERE id = ?
	`, b.ExpectedAmount.String(), b.DueDay, boolToInt(b.Active), b.ID)
	if err != nil {
		return fmt.Errorf("failed to update bill: %w", err)
	}
	return nil
}

// Delete removes a bill; its movements cascade
func (r *Repository) Delete(id int64) error {
	if _, err := r.db.Exec("DELETE FROM bills WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete bill: %w", err)
	}
	return nil
}

// HasRealizedMovement checks whether any movement of a bill was reconciled
func (r *Repository) HasRealizedMovement(billID int64) (bool, error) {
	var exists int
	err := r.db.QueryRow("SELECT 1 FROM bill_movements WHERE bill_id = ? AND status = 'Realized' LIMIT 1", billID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check realized movements: %w", err)
	}
	return true, nil
}

// CreateMovement inserts a forecast movement. Returns
// domain.ErrDuplicateObligationPeriod when the bill already has a movement
// for the period.
func (r *Repository) CreateMovement(m Movement) (*Movement, error) {
	var exists int
	err := r.db.QueryRow("SELECT 1 FROM bill_movements WHERE bill_id = ? AND period = ? LIMIT 1",
		m.BillID, m.Period).Scan(&exists)
	if err == nil {
		return nil, domain.ErrDuplicateObligationPeriod
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to check movement period: %w", err)
	}

	res, err := r.db.Exec(`
		INSERT INTO bill_movements (bill_id, period, due_on, expected_amount, status)
		VALUES (?, ?, ?, ?, ?)
	`, m.BillID, m.Period, utils.FormatDate(m.DueOn), m.ExpectedAmount.String(), StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to create movement: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get movement id: %w", err)
	}
	return r.GetMovement(id)
}

// GetMovement retrieves a movement by ID. Returns nil when not found.
func (r *Repository) GetMovement(id int64) (*Movement, error) {
	row := r.db.QueryRow("SELECT "+movementsColumns+" FROM bill_movements WHERE id = ?", id)
	m, err := scanMovement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get movement: %w", err)
	}
	return m, nil
}

// ListMovements retrieves a bill's movements ordered by period
func (r *Repository) ListMovements(billID int64) ([]Movement, error) {
	return r.queryMovements("SELECT "+movementsColumns+" FROM bill_movements WHERE bill_id = ? ORDER BY period", billID)
}

// ListMovementsByPeriod retrieves an owner's movements for one period
func (r *Repository) ListMovementsByPeriod(ownerID int64, period string) ([]Movement, error) {
	return r.queryMovements(`
		SELECT `+movementsColumns+` FROM bill_movements
		WHERE period = ? AND bill_id IN (SELECT id FROM bills WHERE owner_id = ?)
		ORDER BY due_on
	`, period, ownerID)
}

func (r *Repository) queryMovements(query string, args ...interface{}) ([]Movement, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list movements: %w", err)
	}
	defer rows.Close()

	var movements []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		movements = append(movements, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating movements: %w", err)
	}
	return movements, nil
}

// DeleteMovement removes a pending movement
func (r *Repository) DeleteMovement(id int64) error {
	if _, err := r.db.Exec("DELETE FROM bill_movements WHERE id = ? AND status = 'Pending'", id); err != nil {
		return fmt.Errorf("failed to delete movement: %w", err)
	}
	return nil
}

// SetRealizedTx records the reconciled amount on a movement
func (r *Repository) SetRealizedTx(tx *sql.Tx, id int64, amount decimal.Decimal, paidOn time.Time, postingID int64) error {
	_, err := tx.Exec(`
		UPDATE bill_movements SET realized_amount = ?, status = 'Realized', paid_on = ?, posting_id = ?
		WHERE id = ?
	`, amount.String(), utils.FormatDate(paidOn), postingID, id)
	if err != nil {
		return fmt.Errorf("failed to realize movement: %w", err)
	}
	return nil
}

// ClearRealizedTx undoes a reconciled movement
func (r *Repository) ClearRealizedTx(tx *sql.Tx, id int64) error {
	_, err := tx.Exec(`
		UPDATE bill_movements SET realized_amount = NULL, status = 'Pending', paid_on = NULL, posting_id = NULL
		WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to clear realized movement: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBill(row rowScanner) (*Bill, error) {
	var b Bill
	var nature, expected string
	var active int
	var createdAt int64

	err := row.Scan(&b.ID, &b.OwnerID, &b.Name, &nature, &expected, &b.DueDay, &active, &createdAt)
	if err != nil {
		return nil, err
	}

	b.Nature = Nature(nature)
	if b.ExpectedAmount, err = decimal.NewFromString(expected); err != nil {
		return nil, fmt.Errorf("corrupt expected amount: %w", err)
	}
	b.Active = active != 0
	b.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &b, nil
}

func scanMovement(row rowScanner) (*Movement, error) {
	var m Movement
	var dueOn, expected string
	var realized, paidOn sql.NullString
	var postingID sql.NullInt64

	err := row.Scan(&m.ID, &m.BillID, &m.Period, &dueOn, &expected, &realized, &m.Status, &paidOn, &postingID)
	if err != nil {
		return nil, err
	}

	if m.DueOn, err = utils.ParseDate(dueOn); err != nil {
		return nil, fmt.Errorf("corrupt movement due date: %w", err)
	}
	if m.ExpectedAmount, err = decimal.NewFromString(expected); err != nil {
		return nil, fmt.Errorf("corrupt expected amount: %w", err)
	}
	if realized.Valid {
		d, err := decimal.NewFromString(realized.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt realized amount: %w", err)
		}
		m.RealizedAmount = &d
	}
	if paidOn.Valid {
		p, err := utils.ParseDate(paidOn.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt movement paid date: %w", err)
		}
		m.PaidOn = &p
	}
	if postingID.Valid {
		m.PostingID = &postingID.Int64
	}
	return &m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
