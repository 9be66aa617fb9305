package cards

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mbarbosa/fincore/internal/utils"
)

const cardsColumns = `id, owner_id, name, kind, last_digits, total_limit, closing_day, due_day, active, created_at`

const purchasesColumns = `id, public_id, owner_id, card_id, group_id, purchased_on, description, total_amount, first_due_on, installment_count, created_at`

const installmentsColumns = `id, purchase_id, seq, due_on, amount, paid, paid_on`

// Repository handles card, purchase and installment database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new cards repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "cards").Logger(),
	}
}

// CreateCard inserts a new card
func (r *Repository) CreateCard(c Card) (*Card, error) {
	var limit sql.NullString
	if c.TotalLimit != nil {
		limit = sql.NullString{String: c.TotalLimit.String(), Valid: true}
	}

	res, err := r.db.Exec(`
		INSERT INTO cards (owner_id, name, kind, last_digits, total_limit, closing_day, due_day, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.OwnerID, c.Name, c.Kind, c.LastDigits, limit, c.ClosingDay, c.DueDay, boolToInt(c.Active), time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to create card: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get card id: %w", err)
	}
	return r.GetCard(id)
}

// GetCard retrieves a card by ID. Returns nil when not found.
func (r *Repository) GetCard(id int64) (*Card, error) {
	row := r.db.QueryRow("SELECT "+cardsColumns+" FROM cards WHERE id = ?", id)
	c, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get card: %w", err)
	}
	return c, nil
}

// ListCards retrieves all cards for an owner
func (r *Repository) ListCards(ownerID int64) ([]Card, error) {
	rows, err := r.db.Query("SELECT "+cardsColumns+" FROM cards WHERE owner_id = ? ORDER BY active DESC, name", ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	defer rows.Close()

	var cards []Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		cards = append(cards, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cards: %w", err)
	}
	return cards, nil
}

// ActiveCardOwners returns every owner that has at least one active card.
// Used by the invoice sync job to know whose invoices to refresh.
func (r *Repository) ActiveCardOwners() ([]int64, error) {
	rows, err := r.db.Query("SELECT DISTINCT owner_id FROM cards WHERE active = 1")
	if err != nil {
		return nil, fmt.Errorf("failed to list card owners: %w", err)
	}
	defer rows.Close()

	var owners []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan owner: %w", err)
		}
		owners = append(owners, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating owners: %w", err)
	}
	return owners, nil
}

// CountPurchasesByCard returns how many purchases reference a card
func (r *Repository) CountPurchasesByCard(cardID int64) (int, error) {
	var count int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM purchases WHERE card_id = ?", cardID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count purchases: %w", err)
	}
	return count, nil
}

// DeleteCard removes a card row
func (r *Repository) DeleteCard(id int64) error {
	if _, err := r.db.Exec("DELETE FROM cards WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete card: %w", err)
	}
	return nil
}

// CreateGroup inserts a purchase group
func (r *Repository) CreateGroup(g PurchaseGroup) (*PurchaseGroup, error) {
	res, err := r.db.Exec(`
		INSERT INTO purchase_groups (owner_id, name, kind) VALUES (?, ?, ?)
	`, g.OwnerID, g.Name, string(g.Kind))
	if err != nil {
		return nil, fmt.Errorf("failed to create purchase group: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get group id: %w", err)
	}
	g.ID = id
	return &g, nil
}

// GetGroup retrieves a purchase group by ID. Returns nil when not found.
func (r *Repository) GetGroup(id int64) (*PurchaseGroup, error) {
	var g PurchaseGroup
	var kind string
	err := r.db.QueryRow("SELECT id, owner_id, name, kind FROM purchase_groups WHERE id = ?", id).
		Scan(&g.ID, &g.OwnerID, &g.Name, &kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase group: %w", err)
	}
	g.Kind = GroupKind(kind)
	return &g, nil
}

// InsertPurchaseTx inserts a purchase within an existing transaction
func (r *Repository) InsertPurchaseTx(tx *sql.Tx, p Purchase) (int64, error) {
	var group sql.NullInt64
	if p.GroupID != nil {
		group = sql.NullInt64{Int64: *p.GroupID, Valid: true}
	}

	res, err := tx.Exec(`
		INSERT INTO purchases
		(public_id, owner_id, card_id, group_id, purchased_on, description, total_amount, first_due_on, installment_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.PublicID, p.OwnerID, p.CardID, group, utils.FormatDate(p.PurchasedOn), p.Description,
		p.TotalAmount.String(), utils.FormatDate(p.FirstDueOn), p.InstallmentCount, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to insert purchase: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get purchase id: %w", err)
	}
	return id, nil
}

// UpdatePurchaseTx rewrites the editable purchase fields within a transaction
func (r *Repository) UpdatePurchaseTx(tx *sql.Tx, p Purchase) error {
	_, err := tx.Exec(`
		UPDATE purchases
		SET purchased_on = ?, description = ?, total_amount = ?, first_due_on = ?, installment_count = ?
		WHERE id = ?
	`, utils.FormatDate(p.PurchasedOn), p.Description, p.TotalAmount.String(),
		utils.FormatDate(p.FirstDueOn), p.InstallmentCount, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update purchase: %w", err)
	}
	return nil
}

// InsertInstallmentTx inserts one installment within an existing transaction
func (r *Repository) InsertInstallmentTx(tx *sql.Tx, purchaseID int64, d InstallmentDraft) error {
	_, err := tx.Exec(`
		INSERT INTO installments (purchase_id, seq, due_on, amount) VALUES (?, ?, ?, ?)
	`, purchaseID, d.Seq, utils.FormatDate(d.DueOn), d.Amount.String())
	if err != nil {
		return fmt.Errorf("failed to insert installment: %w", err)
	}
	return nil
}

// DeleteInstallmentsTx removes every installment of a purchase (for regeneration)
func (r *Repository) DeleteInstallmentsTx(tx *sql.Tx, purchaseID int64) error {
	if _, err := tx.Exec("DELETE FROM installments WHERE purchase_id = ?", purchaseID); err != nil {
		return fmt.Errorf("failed to delete installments: %w", err)
	}
	return nil
}

// GetPurchase retrieves a purchase by ID. Returns nil when not found.
func (r *Repository) GetPurchase(id int64) (*Purchase, error) {
	row := r.db.QueryRow("SELECT "+purchasesColumns+" FROM purchases WHERE id = ?", id)
	p, err := scanPurchase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase: %w", err)
	}
	return p, nil
}

// GetPurchaseByPublicID retrieves a purchase by its UUID. Returns nil when not found.
func (r *Repository) GetPurchaseByPublicID(publicID string) (*Purchase, error) {
	row := r.db.QueryRow("SELECT "+purchasesColumns+" FROM purchases WHERE public_id = ?", publicID)
	p, err := scanPurchase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase: %w", err)
	}
	return p, nil
}

// ListPurchasesByCard retrieves all purchases on a card, newest first
func (r *Repository) ListPurchasesByCard(cardID int64) ([]Purchase, error) {
	rows, err := r.db.Query("SELECT "+purchasesColumns+" FROM purchases WHERE card_id = ? ORDER BY purchased_on DESC, id DESC", cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	defer rows.Close()

	var purchases []Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		purchases = append(purchases, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating purchases: %w", err)
	}
	return purchases, nil
}

// DeletePurchaseTx removes a purchase; installments cascade via foreign key
func (r *Repository) DeletePurchaseTx(tx *sql.Tx, id int64) error {
	if _, err := tx.Exec("DELETE FROM purchases WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete purchase: %w", err)
	}
	return nil
}

// ListInstallments retrieves a purchase's installments in sequence order
func (r *Repository) ListInstallments(purchaseID int64) ([]Installment, error) {
	rows, err := r.db.Query("SELECT "+installmentsColumns+" FROM installments WHERE purchase_id = ? ORDER BY seq", purchaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list installments: %w", err)
	}
	defer rows.Close()

	var installments []Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan installment: %w", err)
		}
		installments = append(installments, *inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating installments: %w", err)
	}
	return installments, nil
}

// AnyInstallmentPaid checks whether a purchase has at least one paid installment
func (r *Repository) AnyInstallmentPaid(purchaseID int64) (bool, error) {
	var exists int
	err := r.db.QueryRow("SELECT 1 FROM installments WHERE purchase_id = ? AND paid = 1 LIMIT 1", purchaseID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check paid installments: %w", err)
	}
	return true, nil
}

// SettledInvoiceExists checks whether the invoice for a card and reference
// month is already Paid or PartiallyPaid. Settled invoices freeze the months
// they cover.
func (r *Repository) SettledInvoiceExists(cardID int64, monthKey string) (bool, error) {
	var exists int
	err := r.db.QueryRow(`
		SELECT 1 FROM invoices
		WHERE card_id = ? AND reference_month = ? AND status IN ('Paid', 'PartiallyPaid')
		LIMIT 1
	`, cardID, monthKey).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check settled invoice: %w", err)
	}
	return true, nil
}

// InvoiceExists checks whether any invoice, in any status, covers a card's
// reference month.
func (r *Repository) InvoiceExists(cardID int64, monthKey string) (bool, error) {
	var exists int
	err := r.db.QueryRow(`
		SELECT 1 FROM invoices
		WHERE card_id = ? AND reference_month = ?
		LIMIT 1
	`, cardID, monthKey).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check invoice existence: %w", err)
	}
	return true, nil
}

// MarkMonthPaidTx marks every unpaid installment due in a card's reference
// month as paid. Called whenever a payment lands on the month's invoice.
func (r *Repository) MarkMonthPaidTx(tx *sql.Tx, cardID int64, monthKey string, paidOn time.Time) error {
	_, err := tx.Exec(`
		UPDATE installments SET paid = 1, paid_on = ?
		WHERE paid = 0
		  AND substr(due_on, 1, 7) = ?
		  AND purchase_id IN (SELECT id FROM purchases WHERE card_id = ?)
	`, utils.FormatDate(paidOn), monthKey, cardID)
	if err != nil {
		return fmt.Errorf("failed to mark month installments paid: %w", err)
	}
	return nil
}

// UnmarkMonthPaidTx clears the paid flag for a card's reference month.
// Called when the month's invoice payment is reversed.
func (r *Repository) UnmarkMonthPaidTx(tx *sql.Tx, cardID int64, monthKey string) error {
	_, err := tx.Exec(`
		UPDATE installments SET paid = 0, paid_on = NULL
		WHERE substr(due_on, 1, 7) = ?
		  AND purchase_id IN (SELECT id FROM purchases WHERE card_id = ?)
	`, monthKey, cardID)
	if err != nil {
		return fmt.Errorf("failed to unmark month installments: %w", err)
	}
	return nil
}

// Scan helpers

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCard(row rowScanner) (*Card, error) {
	var c Card
	var lastDigits, limit sql.NullString
	var active int
	var createdAt int64

	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Kind, &lastDigits, &limit,
		&c.ClosingDay, &c.DueDay, &active, &createdAt)
	if err != nil {
		return nil, err
	}

	if lastDigits.Valid {
		c.LastDigits = lastDigits.String
	}
	if limit.Valid {
		l, err := decimal.NewFromString(limit.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt card limit: %w", err)
		}
		c.TotalLimit = &l
	}
	c.Active = active != 0
	c.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &c, nil
}

func scanPurchase(row rowScanner) (*Purchase, error) {
	var p Purchase
	var group sql.NullInt64
	var purchasedOn, total, firstDue string
	var createdAt int64

	err := row.Scan(&p.ID, &p.PublicID, &p.OwnerID, &p.CardID, &group,
		&purchasedOn, &p.Description, &total, &firstDue, &p.InstallmentCount, &createdAt)
	if err != nil {
		return nil, err
	}

	if group.Valid {
		p.GroupID = &group.Int64
	}
	if p.PurchasedOn, err = utils.ParseDate(purchasedOn); err != nil {
		return nil, fmt.Errorf("corrupt purchase date: %w", err)
	}
	if p.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("corrupt purchase total: %w", err)
	}
	if p.FirstDueOn, err = utils.ParseDate(firstDue); err != nil {
		return nil, fmt.Errorf("corrupt first due date: %w", err)
	}
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &p, nil
}

func scanInstallment(row rowScanner) (*Installment, error) {
	var inst Installment
	var dueOn, amount string
	var paid int
	var paidOn sql.NullString

	err := row.Scan(&inst.ID, &inst.PurchaseID, &inst.Seq, &dueOn, &amount, &paid, &paidOn)
	if err != nil {
		return nil, err
	}

	if inst.DueOn, err = utils.ParseDate(dueOn); err != nil {
		return nil, fmt.Errorf("corrupt installment due date: %w", err)
	}
	if inst.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("corrupt installment amount: %w", err)
	}
	inst.Paid = paid != 0
	if paidOn.Valid {
		p, err := utils.ParseDate(paidOn.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt installment paid date: %w", err)
		}
		inst.PaidOn = &p
	}
	return &inst, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
