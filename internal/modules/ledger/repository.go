package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mbarbosa/fincore/internal/modules/transactiontypes"
	"github.com/mbarbosa/fincore/internal/utils"
)

// postingsColumns is the list of columns for posting reads. Joined against
// transaction_types so every Posting carries its type name and polarity.
// Column order must match scanPosting.
const postingsColumns = `p.id, p.owner_id, p.account_id, p.type_id, p.posted_on, p.amount, p.note, p.linked_posting_id, p.created_at, t.name, t.polarity`

const postingsFrom = ` FROM postings p JOIN transaction_types t ON t.id = p.type_id `

// Repository handles posting database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new posting repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "ledger").Logger(),
	}
}

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// InsertTx inserts a posting within an existing transaction and returns its ID
func (r *Repository) InsertTx(tx *sql.Tx, p Posting) (int64, error) {
	var note sql.NullString
	if p.Note != "" {
		note = sql.NullString{String: p.Note, Valid: true}
	}

	res, err := tx.Exec(`
		INSERT INTO postings (owner_id, account_id, type_id, posted_on, amount, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.OwnerID, p.AccountID, p.TypeID, utils.FormatDate(p.PostedOn), p.Amount.String(), note, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to insert posting: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get posting id: %w", err)
	}
	return id, nil
}

// LinkPairTx makes two postings point at each other as transfer legs
func (r *Repository) LinkPairTx(tx *sql.Tx, a, b int64) error {
	if _, err := tx.Exec("UPDATE postings SET linked_posting_id = ? WHERE id = ?", b, a); err != nil {
		return fmt.Errorf("failed to link posting %d: %w", a, err)
	}
	if _, err := tx.Exec("UPDATE postings SET linked_posting_id = ? WHERE id = ?", a, b); err != nil {
		return fmt.Errorf("failed to link posting %d: %w", b, err)
	}
	return nil
}

// ClearLinkTx breaks the symmetric link of a transfer pair
func (r *Repository) ClearLinkTx(tx *sql.Tx, a, b int64) error {
	if _, err := tx.Exec("UPDATE postings SET linked_posting_id = NULL WHERE id IN (?, ?)", a, b); err != nil {
		return fmt.Errorf("failed to clear posting link: %w", err)
	}
	return nil
}

// DeleteTx removes a posting row within an existing transaction
func (r *Repository) DeleteTx(tx *sql.Tx, id int64) error {
	if _, err := tx.Exec("DELETE FROM postings WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete posting: %w", err)
	}
	return nil
}

// GetByID retrieves a posting by ID. Returns nil when not found.
func (r *Repository) GetByID(id int64) (*Posting, error) {
	return r.getByID(r.db, id)
}

// GetByIDTx retrieves a posting within an existing transaction
func (r *Repository) GetByIDTx(tx *sql.Tx, id int64) (*Posting, error) {
	return r.getByID(tx, id)
}

func (r *Repository) getByID(q queryer, id int64) (*Posting, error) {
	row := q.QueryRow("SELECT "+postingsColumns+postingsFrom+"WHERE p.id = ?", id)
	p, err := scanPosting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get posting: %w", err)
	}
	return p, nil
}

// HasLaterPostingTx checks whether any posting on the account is newer than
// the given (posted_on, id) pair. Insertion order breaks date ties.
func (r *Repository) HasLaterPostingTx(tx *sql.Tx, accountID int64, postedOn time.Time, id int64) (bool, error) {
	day := utils.FormatDate(postedOn)

	var exists int
	err := tx.QueryRow(`
		SELECT 1 FROM postings
		WHERE account_id = ?
		  AND (posted_on > ? OR (posted_on = ? AND id > ?))
		LIMIT 1
	`, accountID, day, day, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check for later postings: %w", err)
	}
	return true, nil
}

// IsReferencedByObligationTx checks whether any obligation record points at
// the posting. All obligation tables live in the same database, so one query
// covers invoices, loan installments, bill movements and payroll sheets.
func (r *Repository) IsReferencedByObligationTx(tx *sql.Tx, id int64) (bool, error) {
	var exists int
	err := tx.QueryRow(`
		SELECT 1 FROM (
			SELECT posting_id FROM invoices WHERE posting_id = ?
			UNION ALL
			SELECT posting_id FROM loan_installments WHERE posting_id = ?
			UNION ALL
			SELECT posting_id FROM bill_movements WHERE posting_id = ?
			UNION ALL
			SELECT salary_posting_id FROM payroll_sheets WHERE salary_posting_id = ?
			UNION ALL
			SELECT benefit_posting_id FROM payroll_sheets WHERE benefit_posting_id = ?
		) LIMIT 1
	`, id, id, id, id, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check obligation references: %w", err)
	}
	return true, nil
}

// CountByAccount returns how many postings reference an account
func (r *Repository) CountByAccount(accountID int64) (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM postings WHERE account_id = ?", accountID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count postings: %w", err)
	}
	return count, nil
}

// ListByAccount retrieves postings for an account within an optional date
// range, oldest first. Zero time values mean unbounded.
func (r *Repository) ListByAccount(accountID int64, from, to time.Time) ([]Posting, error) {
	query := "SELECT " + postingsColumns + postingsFrom + "WHERE p.account_id = ?"
	args := []interface{}{accountID}

	if !from.IsZero() {
		query += " AND p.posted_on >= ?"
		args = append(args, utils.FormatDate(from))
	}
	if !to.IsZero() {
		query += " AND p.posted_on <= ?"
		args = append(args, utils.FormatDate(to))
	}
	query += " ORDER BY p.posted_on ASC, p.id ASC"

	return r.queryPostings(query, args...)
}

// ListByOwnerMonth retrieves an owner's postings for a reference month,
// oldest first
func (r *Repository) ListByOwnerMonth(ownerID int64, monthKey string) ([]Posting, error) {
	query := "SELECT " + postingsColumns + postingsFrom +
		"WHERE p.owner_id = ? AND substr(p.posted_on, 1, 7) = ? ORDER BY p.posted_on ASC, p.id ASC"
	return r.queryPostings(query, ownerID, monthKey)
}

func (r *Repository) queryPostings(query string, args ...interface{}) ([]Posting, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query postings: %w", err)
	}
	defer rows.Close()

	var postings []Posting
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan posting: %w", err)
		}
		postings = append(postings, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating postings: %w", err)
	}

	return postings, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosting(row rowScanner) (*Posting, error) {
	var p Posting
	var postedOn, amount, polarity string
	var note sql.NullString
	var linked sql.NullInt64
	var createdAt int64

	err := row.Scan(
		&p.ID, &p.OwnerID, &p.AccountID, &p.TypeID, &postedOn, &amount,
		&note, &linked, &createdAt, &p.TypeName, &polarity,
	)
	if err != nil {
		return nil, err
	}

	if p.PostedOn, err = utils.ParseDate(postedOn); err != nil {
		return nil, fmt.Errorf("corrupt posting date: %w", err)
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("corrupt posting amount: %w", err)
	}
	if note.Valid {
		p.Note = note.String
	}
	if linked.Valid {
		p.LinkedPostingID = &linked.Int64
	}
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.Polarity = transactiontypes.Polarity(polarity)

	return &p, nil
}
