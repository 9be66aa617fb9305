package accounts

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mbarbosa/fincore/internal/domain"
)

// RepositoryInterface defines the persistence surface the service needs
type RepositoryInterface interface {
	Create(a Account) (*Account, error)
	GetByID(id int64) (*Account, error)
	ListByOwner(ownerID int64) ([]Account, error)
	ExistsDuplicate(ownerID int64, bank, branch, number string, accType AccountType) (bool, error)
	UpdateSettings(id int64, creditLimit *decimal.Decimal, active bool) error
	Delete(id int64) error
}

// Compile-time check that Repository implements RepositoryInterface
var _ RepositoryInterface = (*Repository)(nil)

// PostingCounter reports how many ledger postings reference an account.
// Implemented by the ledger repository; declared here to avoid a dependency
// on the ledger module.
type PostingCounter interface {
	CountByAccount(accountID int64) (int, error)
}

// Service handles account business logic
type Service struct {
	repo     RepositoryInterface
	postings PostingCounter
	log      zerolog.Logger
}

// NewService creates a new account service
func NewService(repo RepositoryInterface, postings PostingCounter, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		postings: postings,
		log:      log.With().Str("service", "accounts").Logger(),
	}
}

// CreateInput carries the fields for opening an account
type CreateInput struct {
	OwnerID        int64
	BankName       string
	Branch         string
	Number         string
	Type           AccountType
	InitialBalance decimal.Decimal
	CreditLimit    *decimal.Decimal
}

// Create opens a new account. The current balance starts at the initial balance.
func (s *Service) Create(in CreateInput) (*domain.Result, *Account, error) {
	a := Account{
		OwnerID:        in.OwnerID,
		BankName:       in.BankName,
		Branch:         in.Branch,
		Number:         in.Number,
		Type:           in.Type,
		InitialBalance: in.InitialBalance,
		CurrentBalance: in.InitialBalance,
		CreditLimit:    in.CreditLimit,
		Active:         true,
	}

	if err := a.Validate(); err != nil {
		return domain.Fail(err.Error()), nil, nil
	}

	dup, err := s.repo.ExistsDuplicate(in.OwnerID, in.BankName, in.Branch, in.Number, in.Type)
	if err != nil {
		return nil, nil, err
	}
	if dup {
		return domain.Fail("an account with the same bank, branch, number and type already exists"), nil, nil
	}

	created, err := s.repo.Create(a)
	if err != nil {
		return nil, nil, err
	}

	return domain.Ok("account created"), created, nil
}

// UpdateInput carries the mutable account settings
type UpdateInput struct {
	CreditLimit *decimal.Decimal
	Active      bool
}

// Update changes the credit limit and active flag. Deactivation requires the
// current balance to be exactly zero so no money is stranded.
func (s *Service) Update(id int64, in UpdateInput) (*domain.Result, error) {
	a, err := s.repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return domain.Fail("account not found"), nil
	}

	if in.CreditLimit != nil && !a.SupportsCreditLimit() {
		return domain.Fail(fmt.Sprintf("account type %q cannot have a credit limit", a.Type)), nil
	}
	if in.CreditLimit != nil && in.CreditLimit.IsNegative() {
		return domain.Fail("credit limit cannot be negative"), nil
	}

	if a.Active && !in.Active && !a.CurrentBalance.IsZero() {
		return domain.Fail("account cannot be deactivated while its balance is not zero"), nil
	}

	if err := s.repo.UpdateSettings(id, in.CreditLimit, in.Active); err != nil {
		return nil, err
	}

	return domain.Ok("account updated"), nil
}

// Delete removes an account. Forbidden while postings reference it or the
// balance is nonzero.
func (s *Service) Delete(id int64) (*domain.Result, error) {
	a, err := s.repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return domain.Fail("account not found"), nil
	}

	if !a.CurrentBalance.IsZero() {
		return domain.Fail("account cannot be deleted while its balance is not zero"), nil
	}

	count, err := s.postings.CountByAccount(id)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return domain.Fail("account cannot be deleted while ledger postings reference it"), nil
	}

	if err := s.repo.Delete(id); err != nil {
		return nil, err
	}

	s.log.Info().Int64("account_id", id).Msg("Account deleted")
	return domain.Ok("account deleted"), nil
}

// Get retrieves a single account
func (s *Service) Get(id int64) (*Account, error) {
	return s.repo.GetByID(id)
}

// List retrieves all accounts for an owner
func (s *Service) List(ownerID int64) ([]Account, error) {
	return s.repo.ListByOwner(ownerID)
}
