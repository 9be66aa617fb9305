package transactiontypes

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const typesColumns = `id, owner_id, name, polarity, created_at`

// Repository handles transaction type database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new transaction type repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "transaction_types").Logger(),
	}
}

// Create inserts a new transaction type
func (r *Repository) Create(t TransactionType) (*TransactionType, error) {
	res, err := r.db.Exec(`
		INSERT INTO transaction_types (owner_id, name, polarity, created_at)
		VALUES (?, ?, ?, ?)
	`, t.OwnerID, t.Name, string(t.Polarity), time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction type: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction type id: %w", err)
	}
	return r.GetByID(id)
}

// GetByID retrieves a transaction type by ID. Returns nil when not found.
func (r *Repository) GetByID(id int64) (*TransactionType, error) {
	return getByID(r.db, id)
}

// GetByIDTx is the in-transaction variant of GetByID, for callers that are
// already holding the write transaction.
func (r *Repository) GetByIDTx(tx *sql.Tx, id int64) (*TransactionType, error) {
	return getByID(tx, id)
}

// FindByName retrieves a type by its (owner, name, polarity) key. Returns nil when not found.
func (r *Repository) FindByName(ownerID int64, name string, polarity Polarity) (*TransactionType, error) {
	return findByName(r.db, ownerID, name, polarity)
}

// FindByNameTx is the in-transaction variant of FindByName.
func (r *Repository) FindByNameTx(tx *sql.Tx, ownerID int64, name string, polarity Polarity) (*TransactionType, error) {
	return findByName(tx, ownerID, name, polarity)
}

type querier interface {
	QueryRow(query string, args ...interface{}) *sql.Row
}

func getByID(q querier, id int64) (*TransactionType, error) {
	row := q.QueryRow("SELECT "+typesColumns+" FROM transaction_types WHERE id = ?", id)
	t, err := scanType(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction type: %w", err)
	}
	return t, nil
}

func findByName(q querier, ownerID int64, name string, polarity Polarity) (*TransactionType, error) {
	row := q.QueryRow(`
		SELECT `+typesColumns+` FROM transaction_types
		WHERE owner_id = ? AND name = ? AND polarity = ?
	`, ownerID, name, string(polarity))
	t, err := scanType(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find transaction type: %w", err)
	}
	return t, nil
}

// ListByOwner retrieves all types for an owner
func (r *Repository) ListByOwner(ownerID int64) ([]TransactionType, error) {
	rows, err := r.db.Query(`
		SELECT `+typesColumns+` FROM transaction_types
		WHERE owner_id = ?
		ORDER BY name, polarity
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transaction types: %w", err)
	}
	defer rows.Close()

	var types []TransactionType
	for rows.Next() {
		t, err := scanType(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction type: %w", err)
		}
		types = append(types, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transaction types: %w", err)
	}

	return types, nil
}

// CountPostings returns how many ledger postings reference a type
func (r *Repository) CountPostings(typeID int64) (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM postings WHERE type_id = ?", typeID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count postings for type: %w", err)
	}
	return count, nil
}

// Rename changes the name of a type
func (r *Repository) Rename(id int64, name string) error {
	if _, err := r.db.Exec("UPDATE transaction_types SET name = ? WHERE id = ?", name, id); err != nil {
		return fmt.Errorf("failed to rename transaction type: %w", err)
	}
	return nil
}

// Delete removes a transaction type row
func (r *Repository) Delete(id int64) error {
	if _, err := r.db.Exec("DELETE FROM transaction_types WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete transaction type: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanType(row rowScanner) (*TransactionType, error) {
	var t TransactionType
	var polarity string
	var createdAt int64

	if err := row.Scan(&t.ID, &t.OwnerID, &t.Name, &polarity, &createdAt); err != nil {
		return nil, err
	}

	t.Polarity = Polarity(polarity)
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &t, nil
}
