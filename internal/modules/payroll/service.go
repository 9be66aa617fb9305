package payroll

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mbarbosa/fincore/internal/database"
	"github.com/mbarbosa/fincore/internal/domain"
	"github.com/mbarbosa/fincore/internal/utils"
)

// Service manages payroll items and sheets
type Service struct {
	db   *sql.DB
	repo *Repository
	log  zerolog.Logger
}

// NewService creates a new payroll service
func NewService(db *sql.DB, repo *Repository, log zerolog.Logger) *Service {
	return &Service{
		db:   db,
		repo: repo,
		log:  log.With().Str("service", "payroll").Logger(),
	}
}

// CreateItem registers a payroll item definition
func (s *Service) CreateItem(item Item) (*domain.Result, *Item, error) {
	if err := item.Validate(); err != nil {
		return domain.Fail(err.Error()), nil, nil
	}
	created, err := s.repo.CreateItem(item)
	if err != nil {
		return nil, nil, err
	}
	return domain.Ok("item created"), created, nil
}

// ListItems returns an owner's payroll items
func (s *Service) ListItems(ownerID int64) ([]Item, error) {
	return s.repo.ListItems(ownerID)
}

// LineInput pairs an item with its amount on a sheet
type LineInput struct {
	ItemID int64
	Amount decimal.Decimal
}

// SheetInput carries the fields to file a payroll sheet
type SheetInput struct {
	OwnerID        int64
	ReferenceMonth string
	Kind           SheetKind
	ReceiveOn      *time.Time
	Lines          []LineInput
}

// CreateSheet files a payroll sheet with its item amounts. When no receive
// date is given it defaults to the fifth business day of the month after
// the reference month, the usual Brazilian payday.
func (s *Service) CreateSheet(in SheetInput) (*domain.Result, *Sheet, error) {
	year, month, err := utils.ParseMonthKey(in.ReferenceMonth)
	if err != nil {
		return domain.Fail(err.Error()), nil, nil
	}
	switch in.Kind {
	case SheetMonthly, SheetBonus, SheetVacation:
	default:
		return domain.Fail("sheet kind must be Monthly, Bonus or Vacation"), nil, nil
	}
	if len(in.Lines) == 0 {
		return domain.Fail("sheet needs at least one item"), nil, nil
	}

	exists, err := s.repo.ExistsSheet(in.OwnerID, in.ReferenceMonth, in.Kind)
	if err != nil {
		return nil, nil, err
	}
	if exists {
		return domain.Fail(fmt.Sprintf("a %s sheet for %s already exists", in.Kind, in.ReferenceMonth)), nil, nil
	}

	sheet := Sheet{
		OwnerID:        in.OwnerID,
		ReferenceMonth: in.ReferenceMonth,
		Kind:           in.Kind,
		Status:         StatusPending,
	}
	if in.ReceiveOn != nil {
		sheet.ReceiveOn = *in.ReceiveOn
	} else {
		next := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
		sheet.ReceiveOn = utils.FifthBusinessDay(next.Year(), next.Month())
	}

	for _, line := range in.Lines {
		item, err := s.repo.GetItem(line.ItemID)
		if err != nil {
			return nil, nil, err
		}
		if item == nil {
			return domain.Fail(fmt.Sprintf("payroll item %d not found", line.ItemID)), nil, nil
		}
		if item.OwnerID != in.OwnerID {
			return domain.Fail(fmt.Sprintf("payroll item %q belongs to another owner", item.Name)), nil, nil
		}
		if !line.Amount.IsPositive() {
			return domain.Fail(fmt.Sprintf("amount for %q must be positive", item.Name)), nil, nil
		}
		sheet.Items = append(sheet.Items, SheetLine{
			ItemID: item.ID,
			Name:   item.Name,
			Kind:   item.Kind,
			Amount: line.Amount,
		})
	}

	if !sheet.SalaryTotal().IsPositive() {
		return domain.Fail("deductions exceed earnings; the salary leg must be positive"), nil, nil
	}

	err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
		id, err := s.repo.CreateSheetTx(tx, sheet)
		if err != nil {
			return err
		}
		sheet.ID = id
		for _, line := range sheet.Items {
			if err := s.repo.InsertSheetLineTx(tx, id, line.ItemID, line.Amount); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.Info().
		Int64("sheet_id", sheet.ID).
		Str("month", in.ReferenceMonth).
		Str("net", sheet.SalaryTotal().String()).
		Msg("payroll sheet filed")
	return domain.Ok("sheet filed"), &sheet, nil
}

// GetSheet returns a sheet with its lines
func (s *Service) GetSheet(id int64) (*Sheet, error) {
	return s.repo.GetSheet(id)
}

// ListSheets returns an owner's sheets
func (s *Service) ListSheets(ownerID int64) ([]Sheet, error) {
	return s.repo.ListSheets(ownerID)
}

// DeleteSheet removes a sheet that was never reconciled
func (s *Service) DeleteSheet(id int64) (*domain.Result, error) {
	sheet, err := s.repo.GetSheet(id)
	if err != nil {
		return nil, err
	}
	if sheet == nil {
		return domain.Fail("sheet not found"), nil
	}
	if sheet.SalaryPostingID != nil || sheet.BenefitPostingID != nil {
		return domain.Fail("sheet has reconciled receipts; reverse them first"), nil
	}
	if err := s.repo.DeleteSheet(id); err != nil {
		return nil, err
	}
	return domain.Ok("sheet deleted"), nil
}

// RefreshStatusTx recomputes a sheet's status from its received legs. A
// sheet without benefit items only ever needs its salary leg.
func (s *Service) RefreshStatusTx(tx *sql.Tx, sheetID int64) error {
	sheet, err := s.repo.GetSheetTx(tx, sheetID)
	if err != nil {
		return err
	}
	if sheet == nil {
		return fmt.Errorf("payroll sheet %d not found", sheetID)
	}

	hasBenefit := sheet.BenefitTotal().IsPositive()
	salaryIn := sheet.SalaryPostingID != nil
	benefitIn := sheet.BenefitPostingID != nil

	status := StatusPending
	switch {
	case salaryIn && (!hasBenefit || benefitIn):
		status = StatusReceived
	case salaryIn || benefitIn:
		status = StatusPartiallyReceived
	}
	return s.repo.SetStatusTx(tx, sheetID, status)
}
