package bills

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mbarbosa/fincore/internal/domain"
	"github.com/mbarbosa/fincore/internal/utils"
)

// Service manages bills and their forecast movements
type Service struct {
	repo *Repository
	log  zerolog.Logger
}

// NewService creates a new bills service
func NewService(repo *Repository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With().Str("service", "bills").Logger(),
	}
}

// Create registers a recurring bill
func (s *Service) Create(b Bill) (*domain.Result, *Bill, error) {
	if err := b.Validate(); err != nil {
		return domain.Fail(err.Error()), nil, nil
	}
	dup, err := s.repo.ExistsDuplicate(b.OwnerID, b.Name, b.Nature)
	if err != nil {
		return nil, nil, err
	}
	if dup {
		return domain.Fail(fmt.Sprintf("bill %q already exists", b.Name)), nil, nil
	}

	created, err := s.repo.Create(b)
	if err != nil {
		return nil, nil, err
	}
	s.log.Info().Int64("bill_id", created.ID).Str("name", created.Name).Msg("bill created")
	return domain.Ok("bill created"), created, nil
}

// UpdateInput carries the mutable bill fields
type UpdateInput struct {
	ExpectedAmount decimal.Decimal
	DueDay         int
	Active         bool
}

// Update rewrites a bill's expected amount, due day and active flag.
// Existing movements keep the expected amount they were forecast with.
func (s *Service) Update(id int64, in UpdateInput) (*domain.Result, error) {
	b, err := s.repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return domain.Fail("bill not found"), nil
	}

	b.ExpectedAmount = in.ExpectedAmount
	b.DueDay = in.DueDay
	b.Active = in.Active
	if err := b.Validate(); err != nil {
		return domain.Fail(err.Error()), nil
	}
	if err := s.repo.Update(*b); err != nil {
		return nil, err
	}
	return domain.Ok("bill updated"), nil
}

// Delete removes a bill that was never reconciled
func (s *Service) Delete(id int64) (*domain.Result, error) {
	b, err := s.repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return domain.Fail("bill not found"), nil
	}

	realized, err := s.repo.HasRealizedMovement(id)
	if err != nil {
		return nil, err
	}
	if realized {
		return domain.Fail("bill has reconciled movements and cannot be deleted"), nil
	}

	if err := s.repo.Delete(id); err != nil {
		return nil, err
	}
	return domain.Ok("bill deleted"), nil
}

// Get returns a bill by ID
func (s *Service) Get(id int64) (*Bill, error) {
	return s.repo.GetByID(id)
}

// List returns an owner's bills
func (s *Service) List(ownerID int64, activeOnly bool) ([]Bill, error) {
	return s.repo.ListByOwner(ownerID, activeOnly)
}

// Movements returns a bill's movements
func (s *Service) Movements(billID int64) ([]Movement, error) {
	return s.repo.ListMovements(billID)
}

// MovementsByPeriod returns an owner's movements for one period
func (s *Service) MovementsByPeriod(ownerID int64, period string) ([]Movement, error) {
	return s.repo.ListMovementsByPeriod(ownerID, period)
}

// GenerateForecasts creates pending movements for every active bill of an
// owner, starting at fromPeriod (YYYY-MM) and spanning the given number of
// months. Periods that already have a movement are skipped, so reruns are
// safe and manual adjustments survive.
func (s *Service) GenerateForecasts(ownerID int64, fromPeriod string, months int) (*ForecastStats, error) {
	if months < 1 {
		return nil, fmt.Errorf("months must be at least 1")
	}
	year, month, err := utils.ParseMonthKey(fromPeriod)
	if err != nil {
		return nil, err
	}

	active, err := s.repo.ListByOwner(ownerID, true)
	if err != nil {
		return nil, err
	}

	stats := &ForecastStats{}
	for _, b := range active {
		for i := 0; i < months; i++ {
			due := utils.ClampDayOfMonth(year, month, b.DueDay)
			due = utils.AddMonths(due, i)
			// Re-clamp in case the original due day fits the later month
			due = utils.ClampDayOfMonth(due.Year(), due.Month(), b.DueDay)

			_, err := s.repo.CreateMovement(Movement{
				BillID:         b.ID,
				Period:         utils.MonthKey(due),
				DueOn:          due,
				ExpectedAmount: b.ExpectedAmount,
			})
			if errors.Is(err, domain.ErrDuplicateObligationPeriod) {
				stats.Skipped++
				continue
			}
			if err != nil {
				return nil, err
			}
			stats.Created++
		}
	}

	s.log.Info().
		Int64("owner_id", ownerID).
		Str("from", fromPeriod).
		Int("months", months).
		Int("created", stats.Created).
		Int("skipped", stats.Skipped).
		Msg("forecasts generated")
	return stats, nil
}

// DeleteMovement removes a pending movement (e.g. a one-off exemption)
func (s *Service) DeleteMovement(id int64) (*domain.Result, error) {
	m, err := s.repo.GetMovement(id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return domain.Fail("movement not found"), nil
	}
	if m.Status != StatusPending {
		return domain.Fail("movement is reconciled; reverse it first"), nil
	}
	if err := s.repo.DeleteMovement(id); err != nil {
		return nil, err
	}
	return domain.Ok("movement deleted"), nil
}
