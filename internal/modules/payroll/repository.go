package payroll

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mbarbosa/fincore/internal/utils"
)

const sheetsColumns = `id, owner_id, reference_month, kind, receive_on, salary_posting_id, benefit_posting_id, status`

// Repository handles payroll database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new payroll repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "payroll").Logger(),
	}
}

type queryer interface {
	QueryRow(query string, args ...interface{}) *sql.Row
	Query(query string, args ...interface{}) (*sql.Rows, error)
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// CreateItem inserts a payroll item definition
func (r *Repository) CreateItem(item Item) (*Item, error) {
	res, err := r.db.Exec(`
		INSERT INTO payroll_items (owner_id, name, kind) VALUES (?, ?, ?)
	`, item.OwnerID, item.Name, string(item.Kind))
	if err != nil {
		return nil, fmt.Errorf("failed to create payroll item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get item id: %w", err)
	}
	item.ID = id
	return &item, nil
}

// GetItem retrieves an item by ID. Returns nil when not found.
func (r *Repository) GetItem(id int64) (*Item, error) {
	var item Item
	var kind string
	err := r.db.QueryRow("SELECT id, owner_id, name, kind FROM payroll_items WHERE id = ?", id).
		Scan(&item.ID, &item.OwnerID, &item.Name, &kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payroll item: %w", err)
	}
	item.Kind = ItemKind(kind)
	return &item, nil
}

// ListItems retrieves an owner's payroll items
func (r *Repository) ListItems(ownerID int64) ([]Item, error) {
	rows, err := r.db.Query("SELECT id, owner_id, name, kind FROM payroll_items WHERE owner_id = ? ORDER BY kind, name", ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payroll items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		var kind string
		if err := rows.Scan(&item.ID, &item.OwnerID, &item.Name, &kind); err != nil {
			return nil, fmt.Errorf("failed to scan payroll item: %w", err)
		}
		item.Kind = ItemKind(kind)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payroll items: %w", err)
	}
	return items, nil
}

// CreateSheetTx inserts a sheet within a transaction
func (r *Repository) CreateSheetTx(tx *sql.Tx, s Sheet) (int64, error) {
	res, err := tx.Exec(`
		INSERT INTO payroll_sheets (owner_id, reference_month, kind, receive_on, status)
		VALUES (?, ?, ?, ?, ?)
	`, s.OwnerID, s.ReferenceMonth, string(s.Kind), utils.FormatDate(s.ReceiveOn), StatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to create payroll sheet: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get sheet id: %w", err)
	}
	return id, nil
}

// InsertSheetLineTx inserts one item amount of a sheet
func (r *Repository) InsertSheetLineTx(tx *sql.Tx, sheetID, itemID int64, amount decimal.Decimal) error {
	_, err := tx.Exec(`
		INSERT INTO payroll_sheet_items (sheet_id, item_id, amount) VALUES (?, ?, ?)
	`, sheetID, itemID, amount.String())
	if err != nil {
		return fmt.Errorf("failed to insert sheet item: %w", err)
	}
	return nil
}

// GetSheet retrieves a sheet with its lines. Returns nil when not found.
func (r *Repository) GetSheet(id int64) (*Sheet, error) {
	return r.getSheet(r.db, id)
}

// GetSheetTx retrieves a sheet with its lines within a transaction
func (r *Repository) GetSheetTx(tx *sql.Tx, id int64) (*Sheet, error) {
	return r.getSheet(tx, id)
}

func (r *Repository) getSheet(q queryer, id int64) (*Sheet, error) {
	row := q.QueryRow("SELECT "+sheetsColumns+" FROM payroll_sheets WHERE id = ?", id)
	s, err := scanSheet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payroll sheet: %w", err)
	}

	lines, err := r.sheetLines(q, id)
	if err != nil {
		return nil, err
	}
	s.Items = lines
	return s, nil
}

func (r *Repository) sheetLines(q queryer, sheetID int64) ([]SheetLine, error) {
	rows, err := q.Query(`
		SELECT si.id, si.sheet_id, si.item_id, i.name, i.kind, si.amount
		FROM payroll_sheet_items si
		JOIN payroll_items i ON i.id = si.item_id
		WHERE si.sheet_id = ?
		ORDER BY i.kind, i.name
	`, sheetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sheet items: %w", err)
	}
	defer rows.Close()

	var lines []SheetLine
	for rows.Next() {
		var line SheetLine
		var kind, amount string
		if err := rows.Scan(&line.ID, &line.SheetID, &line.ItemID, &line.Name, &kind, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan sheet item: %w", err)
		}
		line.Kind = ItemKind(kind)
		if line.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("corrupt sheet item amount: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sheet items: %w", err)
	}
	return lines, nil
}

// ExistsSheet checks for a sheet collision on owner, month and kind
func (r *Repository) ExistsSheet(ownerID int64, month string, kind SheetKind) (bool, error) {
	var exists int
	err := r.db.QueryRow("SELECT 1 FROM payroll_sheets WHERE owner_id = ? AND reference_month = ? AND kind = ? LIMIT 1",
		ownerID, month, string(kind)).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check sheet: %w", err)
	}
	return true, nil
}

// ListSheets retrieves an owner's sheets, newest month first
func (r *Repository) ListSheets(ownerID int64) ([]Sheet, error) {
	rows, err := r.db.Query("SELECT "+sheetsColumns+" FROM payroll_sheets WHERE owner_id = ? ORDER BY reference_month DESC, kind", ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payroll sheets: %w", err)
	}
	defer rows.Close()

	var sheets []Sheet
	for rows.Next() {
		s, err := scanSheet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payroll sheet: %w", err)
		}
		sheets = append(sheets, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payroll sheets: %w", err)
	}
	return sheets, nil
}

// DeleteSheet removes a sheet; its lines cascade
func (r *Repository) DeleteSheet(id int64) error {
	if _, err := r.db.Exec("DELETE FROM payroll_sheets WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete payroll sheet: %w", err)
	}
	return nil
}

// SetLegPostingTx records a received leg and refreshes the sheet status.
// benefitExpected tells whether the sheet has a benefit leg at all.
func (r *Repository) SetLegPostingTx(tx *sql.Tx, sheetID int64, column string, postingID int64) error {
	if column != "salary_posting_id" && column != "benefit_posting_id" {
		return fmt.Errorf("invalid leg column %q", column)
	}
	_, err := tx.Exec("UPDATE payroll_sheets SET "+column+" = ? WHERE id = ?", postingID, sheetID)
	if err != nil {
		return fmt.Errorf("failed to set leg posting: %w", err)
	}
	return nil
}

// ClearLegPostingTx clears a received leg
func (r *Repository) ClearLegPostingTx(tx *sql.Tx, sheetID int64, column string) error {
	if column != "salary_posting_id" && column != "benefit_posting_id" {
		return fmt.Errorf("invalid leg column %q", column)
	}
	_, err := tx.Exec("UPDATE payroll_sheets SET "+column+" = NULL WHERE id = ?", sheetID)
	if err != nil {
		return fmt.Errorf("failed to clear leg posting: %w", err)
	}
	return nil
}

// SetStatusTx rewrites a sheet's status
func (r *Repository) SetStatusTx(tx *sql.Tx, sheetID int64, status string) error {
	if _, err := tx.Exec("UPDATE payroll_sheets SET status = ? WHERE id = ?", status, sheetID); err != nil {
		return fmt.Errorf("failed to set sheet status: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSheet(row rowScanner) (*Sheet, error) {
	var s Sheet
	var kind, receiveOn string
	var salary, benefit sql.NullInt64

	err := row.Scan(&s.ID, &s.OwnerID, &s.ReferenceMonth, &kind, &receiveOn, &salary, &benefit, &s.Status)
	if err != nil {
		return nil, err
	}

	s.Kind = SheetKind(kind)
	if s.ReceiveOn, err = utils.ParseDate(receiveOn); err != nil {
		return nil, fmt.Errorf("corrupt receive date: %w", err)
	}
	if salary.Valid {
		s.SalaryPostingID = &salary.Int64
	}
	if benefit.Valid {
		s.BenefitPostingID = &benefit.Int64
	}
	return &s, nil
}
