package transactiontypes

import (
	"database/sql"

	"github.com/rs/zerolog"

	"github.com/mbarbosa/fincore/internal/domain"
)

// RepositoryInterface defines the persistence surface the registry needs
type RepositoryInterface interface {
	Create(t TransactionType) (*TransactionType, error)
	GetByID(id int64) (*TransactionType, error)
	GetByIDTx(tx *sql.Tx, id int64) (*TransactionType, error)
	FindByName(ownerID int64, name string, polarity Polarity) (*TransactionType, error)
	FindByNameTx(tx *sql.Tx, ownerID int64, name string, polarity Polarity) (*TransactionType, error)
	ListByOwner(ownerID int64) ([]TransactionType, error)
	CountPostings(typeID int64) (int, error)
	Rename(id int64, name string) error
	Delete(id int64) error
}

// Compile-time check that Repository implements RepositoryInterface
var _ RepositoryInterface = (*Repository)(nil)

// Registry resolves and manages transaction types
type Registry struct {
	repo RepositoryInterface
	log  zerolog.Logger
}

// NewRegistry creates a new transaction type registry
func NewRegistry(repo RepositoryInterface, log zerolog.Logger) *Registry {
	return &Registry{
		repo: repo,
		log:  log.With().Str("service", "transaction_types").Logger(),
	}
}

// Create registers a new type. Fails when the (owner, name, polarity) triple
// already exists.
func (g *Registry) Create(ownerID int64, name string, polarity Polarity) (*domain.Result, *TransactionType, error) {
	t := TransactionType{OwnerID: ownerID, Name: name, Polarity: polarity}
	if err := t.Validate(); err != nil {
		return domain.Fail(err.Error()), nil, nil
	}

	existing, err := g.repo.FindByName(ownerID, name, polarity)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		return domain.Fail("transaction type already exists"), nil, nil
	}

	created, err := g.repo.Create(t)
	if err != nil {
		return nil, nil, err
	}
	return domain.Ok("transaction type created"), created, nil
}

// Resolve returns the type for an ID, or nil when unknown
func (g *Registry) Resolve(id int64) (*TransactionType, error) {
	return g.repo.GetByID(id)
}

// ResolveTx is the in-transaction variant of Resolve
func (g *Registry) ResolveTx(tx *sql.Tx, id int64) (*TransactionType, error) {
	return g.repo.GetByIDTx(tx, id)
}

// FindByName looks a type up by its natural key
func (g *Registry) FindByName(ownerID int64, name string, polarity Polarity) (*TransactionType, error) {
	return g.repo.FindByName(ownerID, name, polarity)
}

// FindCreditCounterpart resolves the Credit-polarity twin of a type name.
// Transfers require both sides to be registered up front; a missing
// counterpart is a hard failure, never an auto-create.
func (g *Registry) FindCreditCounterpart(ownerID int64, name string) (*TransactionType, error) {
	t, err := g.repo.FindByName(ownerID, name, Credit)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, domain.ErrCounterpartMissing
	}
	return t, nil
}

// FindCreditCounterpartTx is the in-transaction variant of FindCreditCounterpart
func (g *Registry) FindCreditCounterpartTx(tx *sql.Tx, ownerID int64, name string) (*TransactionType, error) {
	t, err := g.repo.FindByNameTx(tx, ownerID, name, Credit)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, domain.ErrCounterpartMissing
	}
	return t, nil
}

// List retrieves all types for an owner
func (g *Registry) List(ownerID int64) ([]TransactionType, error) {
	return g.repo.ListByOwner(ownerID)
}

// Rename changes a type's name, keeping its polarity. Fails when the new
// name collides with an existing type of the same polarity.
func (g *Registry) Rename(id int64, name string) (*domain.Result, error) {
	t, err := g.repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return domain.Fail("transaction type not found"), nil
	}
	if name == "" {
		return domain.Fail("name is required"), nil
	}

	existing, err := g.repo.FindByName(t.OwnerID, name, t.Polarity)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.ID != id {
		return domain.Fail("a transaction type with that name already exists"), nil
	}

	if err := g.repo.Rename(id, name); err != nil {
		return nil, err
	}
	return domain.Ok("transaction type renamed"), nil
}

// Delete removes a type. Forbidden while postings reference it.
func (g *Registry) Delete(id int64) (*domain.Result, error) {
	t, err := g.repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return domain.Fail("transaction type not found"), nil
	}

	count, err := g.repo.CountPostings(id)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return domain.Fail("transaction type cannot be deleted while postings reference it"), nil
	}

	if err := g.repo.Delete(id); err != nil {
		return nil, err
	}
	return domain.Ok("transaction type deleted"), nil
}
