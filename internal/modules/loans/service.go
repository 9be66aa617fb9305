package loans

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mbarbosa/fincore/internal/database"
	"github.com/mbarbosa/fincore/internal/domain"
	"github.com/mbarbosa/fincore/internal/modules/ledger"
	"github.com/mbarbosa/fincore/internal/modules/transactiontypes"
	"github.com/mbarbosa/fincore/internal/utils"
)

// TypeAmortization is the named debit type extra principal payments post
// under. It must be registered before a loan can be amortized.
const TypeAmortization = "AMORTIZAÇÃO"

// Poster is what the service needs from the posting engine
type Poster interface {
	RunLocked(fn func(tx *sql.Tx) error) error
	PostSimpleTx(tx *sql.Tx, in ledger.SimpleInput) (*ledger.Posting, error)
}

var _ Poster = (*ledger.Engine)(nil)

// TypeFinder resolves named transaction types
type TypeFinder interface {
	FindByName(ownerID int64, name string, polarity transactiontypes.Polarity) (*transactiontypes.TransactionType, error)
}

var _ TypeFinder = (*transactiontypes.Registry)(nil)

// Service manages loans, their schedules and extra payments
type Service struct {
	db     *sql.DB
	repo   *Repository
	poster Poster
	types  TypeFinder
	log    zerolog.Logger
}

// NewService creates a new loans service
func NewService(db *sql.DB, repo *Repository, poster Poster, types TypeFinder, log zerolog.Logger) *Service {
	return &Service{
		db:     db,
		repo:   repo,
		poster: poster,
		types:  types,
		log:    log.With().Str("service", "loans").Logger(),
	}
}

// CreateInput carries the fields to register a loan
type CreateInput struct {
	OwnerID     int64
	AccountID   *int64
	Name        string
	Description string
	Principal   decimal.Decimal
	AnnualRate  decimal.Decimal
	StartOn     time.Time
	FirstDueOn  time.Time
	TermMonths  int
	Method      Method
}

// Create registers a loan. SAC and Price loans get their full schedule
// computed and stored; Other loans start empty and expect an import.
func (s *Service) Create(in CreateInput) (*domain.Result, *Loan, error) {
	l := Loan{
		PublicID:           uuid.NewString(),
		OwnerID:            in.OwnerID,
		AccountID:          in.AccountID,
		Name:               in.Name,
		Description:        in.Description,
		Principal:          in.Principal,
		OutstandingBalance: in.Principal,
		AnnualRate:         in.AnnualRate,
		StartOn:            in.StartOn,
		TermMonths:         in.TermMonths,
		Method:             in.Method,
	}
	if err := l.Validate(); err != nil {
		return domain.Fail(err.Error()), nil, nil
	}

	exists, err := s.repo.ExistsName(in.OwnerID, in.Name)
	if err != nil {
		return nil, nil, err
	}
	if exists {
		return domain.Fail(fmt.Sprintf("loan %q already exists", in.Name)), nil, nil
	}

	var rows []ScheduleRow
	if in.Method != MethodOther {
		rows, err = BuildSchedule(in.Principal, in.AnnualRate, in.TermMonths, in.Method, in.FirstDueOn)
		if err != nil {
			return domain.Fail(err.Error()), nil, nil
		}
	}

	err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
		id, err := s.repo.CreateTx(tx, l)
		if err != nil {
			return err
		}
		l.ID = id
		for _, row := range rows {
			if err := s.repo.InsertInstallmentTx(tx, scheduleRowToInstallment(id, row)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.Info().
		Int64("loan_id", l.ID).
		Str("method", string(l.Method)).
		Str("principal", l.Principal.String()).
		Msg("loan created")
	return domain.Ok("loan created"), &l, nil
}

func scheduleRowToInstallment(loanID int64, row ScheduleRow) Installment {
	return Installment{
		LoanID:            loanID,
		Seq:               row.Seq,
		DueOn:             row.DueOn,
		Principal:         row.Principal,
		Interest:          row.Interest,
		InsuranceLife:     decimal.Zero,
		InsuranceProperty: decimal.Zero,
		InsuranceOther:    decimal.Zero,
		Fees:              decimal.Zero,
		Penalty:           decimal.Zero,
		Arrears:           decimal.Zero,
		Adjustments:       decimal.Zero,
		TotalDue:          row.TotalDue,
		BalanceAfter:      row.BalanceAfter,
		Status:            StatusPending,
	}
}

// ImportInstallments replaces a loan's schedule with externally sourced
// rows, typically transcribed from a bank statement. The row count must
// match the loan's term and every row's total must equal the sum of its
// charge components. Refused once a payment has been reconciled.
func (s *Service) ImportInstallments(loanID int64, rows []Installment) (*domain.Result, error) {
	loan, err := s.repo.GetByID(loanID)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return domain.Fail("loan not found"), nil
	}
	if len(rows) != loan.TermMonths {
		return domain.Fail(fmt.Sprintf("expected %d installments, got %d", loan.TermMonths, len(rows))), nil
	}

	paid, err := s.repo.AnyInstallmentPaid(loanID)
	if err != nil {
		return nil, err
	}
	if paid {
		return domain.Fail("loan has reconciled payments; reverse them before importing"), nil
	}

	for i, row := range rows {
		if row.Seq != i+1 {
			return domain.Fail(fmt.Sprintf("installment %d has sequence %d; rows must be ordered 1..%d", i+1, row.Seq, loan.TermMonths)), nil
		}
		if !row.TotalDue.Equal(row.ChargesTotal()) {
			return domain.Fail(fmt.Sprintf("installment %d total %s does not match its components (%s)", row.Seq, row.TotalDue, row.ChargesTotal())), nil
		}
	}

	// Statements carry only the paid flag; the status is derived from it
	// and each row's position relative to today. Everything not yet Paid
	// still owes its principal.
	today := utils.Today()
	outstanding := decimal.Zero
	for i := range rows {
		rows[i].Status = DeriveStatus(rows[i].Paid, rows[i].DueOn, today)
		if rows[i].Status != StatusPaid {
			outstanding = outstanding.Add(rows[i].Principal)
		}
	}

	err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
		if err := s.repo.DeleteInstallmentsTx(tx, loanID); err != nil {
			return err
		}
		for _, row := range rows {
			row.LoanID = loanID
			if err := s.repo.InsertInstallmentTx(tx, row); err != nil {
				return err
			}
		}
		return s.repo.UpdateOutstandingTx(tx, loanID, outstanding)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Int64("loan_id", loanID).Int("rows", len(rows)).Msg("schedule imported")
	return domain.Ok("schedule imported"), nil
}

// AmortizeInput carries the fields for an extra principal payment
type AmortizeInput struct {
	OwnerID        int64
	LoanID         int64
	InstallmentIDs []int64
	AccountID      int64
	Amount         decimal.Decimal
	Date           time.Time
}

// Amortize posts one extra payment and settles the selected installments
// ahead of schedule. The amount is split evenly across them, rounded down to
// cents; each gets its share, a zeroed balance snapshot and the Amortized
// status. The posting and the markings commit atomically.
func (s *Service) Amortize(in AmortizeInput) (*domain.Result, error) {
	loan, err := s.repo.GetByID(in.LoanID)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return domain.Fail("loan not found"), nil
	}
	if loan.OwnerID != in.OwnerID {
		return domain.Fail("loan belongs to another owner"), nil
	}
	if !in.Amount.IsPositive() {
		return domain.Fail("amortization amount must be positive"), nil
	}
	if len(in.InstallmentIDs) == 0 {
		return domain.Fail("select at least one installment to amortize"), nil
	}

	amortType, err := s.types.FindByName(in.OwnerID, TypeAmortization, transactiontypes.Debit)
	if err != nil {
		return nil, err
	}
	if amortType == nil {
		return domain.Fail(fmt.Sprintf("transaction type %q (debit) is not registered", TypeAmortization)), nil
	}

	share := in.Amount.Div(decimal.NewFromInt(int64(len(in.InstallmentIDs)))).RoundDown(2)
	notes := fmt.Sprintf("Amortized on %s", utils.FormatDate(in.Date))

	var failure *domain.Result
	err = s.poster.RunLocked(func(tx *sql.Tx) error {
		selected, err := s.repo.ListInstallmentsByIDsTx(tx, in.LoanID, in.InstallmentIDs)
		if err != nil {
			return err
		}
		if len(selected) != len(in.InstallmentIDs) {
			failure = domain.Fail("one or more installments do not belong to this loan")
			return domain.ErrInvalidAmount
		}
		for _, inst := range selected {
			if inst.Paid {
				failure = domain.Fail(fmt.Sprintf("installment %d is already settled", inst.Seq))
				return domain.ErrInvalidAmount
			}
		}

		p, err := s.poster.PostSimpleTx(tx, ledger.SimpleInput{
			OwnerID:   in.OwnerID,
			AccountID: in.AccountID,
			TypeID:    amortType.ID,
			Date:      in.Date,
			Amount:    in.Amount,
			Note:      fmt.Sprintf("Amortization of %s", loan.Name),
		})
		if err != nil {
			return err
		}

		for _, inst := range selected {
			if err := s.repo.MarkAmortizedTx(tx, inst.ID, share, in.Date, p.ID, notes); err != nil {
				return err
			}
		}

		remaining, err := s.repo.SumUnpaidPrincipalTx(tx, in.LoanID)
		if err != nil {
			return err
		}
		return s.repo.UpdateOutstandingTx(tx, in.LoanID, remaining)
	})
	if failure != nil {
		return failure, nil
	}
	if err != nil {
		return s.postingFailure(err)
	}

	s.log.Info().
		Int64("loan_id", in.LoanID).
		Str("amount", in.Amount.String()).
		Int("installments", len(in.InstallmentIDs)).
		Msg("loan amortized")
	return domain.Ok("loan amortized"), nil
}

// postingFailure maps the engine's affordability and validation errors to
// user facing results; anything else is a real failure.
func (s *Service) postingFailure(err error) (*domain.Result, error) {
	switch {
	case errors.Is(err, domain.ErrInsufficientFunds):
		return domain.Fail("insufficient funds on the account"), nil
	case errors.Is(err, domain.ErrAccountNotFound):
		return domain.Fail("account not found"), nil
	case errors.Is(err, domain.ErrAccountInactive):
		return domain.Fail("account is inactive"), nil
	default:
		return nil, err
	}
}

// Get returns a loan by ID
func (s *Service) Get(id int64) (*Loan, error) {
	return s.repo.GetByID(id)
}

// GetByPublicID returns a loan by its UUID
func (s *Service) GetByPublicID(publicID string) (*Loan, error) {
	return s.repo.GetByPublicID(publicID)
}

// List returns an owner's loans
func (s *Service) List(ownerID int64) ([]Loan, error) {
	return s.repo.ListByOwner(ownerID)
}

// Schedule returns a loan's installments in order
func (s *Service) Schedule(loanID int64) ([]Installment, error) {
	return s.repo.ListInstallments(loanID)
}

// Delete removes a loan that has no reconciled payments
func (s *Service) Delete(id int64) (*domain.Result, error) {
	loan, err := s.repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return domain.Fail("loan not found"), nil
	}

	paid, err := s.repo.AnyInstallmentPaid(id)
	if err != nil {
		return nil, err
	}
	if paid {
		return domain.Fail("loan has reconciled payments and cannot be deleted"), nil
	}

	if err := s.repo.Delete(id); err != nil {
		return nil, err
	}
	return domain.Ok("loan deleted"), nil
}
