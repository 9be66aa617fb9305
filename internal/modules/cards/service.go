package cards

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mbarbosa/fincore/internal/database"
	"github.com/mbarbosa/fincore/internal/domain"
	"github.com/mbarbosa/fincore/internal/utils"
)

// RepositoryInterface defines what the service needs from the repository
type RepositoryInterface interface {
	CreateCard(c Card) (*Card, error)
	GetCard(id int64) (*Card, error)
	ListCards(ownerID int64) ([]Card, error)
	CountPurchasesByCard(cardID int64) (int, error)
	DeleteCard(id int64) error
	CreateGroup(g PurchaseGroup) (*PurchaseGroup, error)
	GetGroup(id int64) (*PurchaseGroup, error)
	InsertPurchaseTx(tx *sql.Tx, p Purchase) (int64, error)
	UpdatePurchaseTx(tx *sql.Tx, p Purchase) error
	InsertInstallmentTx(tx *sql.Tx, purchaseID int64, d InstallmentDraft) error
	DeleteInstallmentsTx(tx *sql.Tx, purchaseID int64) error
	GetPurchase(id int64) (*Purchase, error)
	GetPurchaseByPublicID(publicID string) (*Purchase, error)
	ListPurchasesByCard(cardID int64) ([]Purchase, error)
	DeletePurchaseTx(tx *sql.Tx, id int64) error
	ListInstallments(purchaseID int64) ([]Installment, error)
	AnyInstallmentPaid(purchaseID int64) (bool, error)
	SettledInvoiceExists(cardID int64, monthKey string) (bool, error)
	InvoiceExists(cardID int64, monthKey string) (bool, error)
}

// Compile-time check
var _ RepositoryInterface = (*Repository)(nil)

// Service manages cards and installment purchases
type Service struct {
	db   *sql.DB
	repo RepositoryInterface
	log  zerolog.Logger
}

// NewService creates a new cards service
func NewService(db *sql.DB, repo RepositoryInterface, log zerolog.Logger) *Service {
	return &Service{
		db:   db,
		repo: repo,
		log:  log.With().Str("service", "cards").Logger(),
	}
}

// CreateCard registers a new card after validation
func (s *Service) CreateCard(c Card) (*domain.Result, *Card, error) {
	if err := c.Validate(); err != nil {
		return domain.Fail(err.Error()), nil, nil
	}
	created, err := s.repo.CreateCard(c)
	if err != nil {
		return nil, nil, err
	}
	s.log.Info().Int64("card_id", created.ID).Str("name", created.Name).Msg("card created")
	return domain.Ok("card created"), created, nil
}

// GetCard returns a card by ID
func (s *Service) GetCard(id int64) (*Card, error) {
	return s.repo.GetCard(id)
}

// ListCards returns an owner's cards
func (s *Service) ListCards(ownerID int64) ([]Card, error) {
	return s.repo.ListCards(ownerID)
}

// DeleteCard removes a card that has no purchases
func (s *Service) DeleteCard(id int64) (*domain.Result, error) {
	card, err := s.repo.GetCard(id)
	if err != nil {
		return nil, err
	}
	if card == nil {
		return domain.Fail("card not found"), nil
	}

	count, err := s.repo.CountPurchasesByCard(id)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return domain.Fail(fmt.Sprintf("card has %d purchases and cannot be deleted", count)), nil
	}

	if err := s.repo.DeleteCard(id); err != nil {
		return nil, err
	}
	return domain.Ok("card deleted"), nil
}

// CreateGroup registers a purchase group
func (s *Service) CreateGroup(g PurchaseGroup) (*domain.Result, *PurchaseGroup, error) {
	if g.Name == "" {
		return domain.Fail("group name is required"), nil, nil
	}
	if g.Kind != GroupPurchase && g.Kind != GroupReversal {
		return domain.Fail("group kind must be Purchase or Reversal"), nil, nil
	}
	created, err := s.repo.CreateGroup(g)
	if err != nil {
		return nil, nil, err
	}
	return domain.Ok("group created"), created, nil
}

// PurchaseInput carries the fields needed to file a purchase
type PurchaseInput struct {
	OwnerID          int64
	CardID           int64
	GroupID          *int64
	PurchasedOn      time.Time
	Description      string
	TotalAmount      decimal.Decimal
	FirstDueOn       time.Time
	InstallmentCount int
}

// AddPurchase files a purchase and generates its installment schedule
// atomically. Purchases filed under a Reversal group have their total
// negated, producing negative installments that offset invoice totals.
func (s *Service) AddPurchase(in PurchaseInput) (*domain.Result, *Purchase, error) {
	card, err := s.repo.GetCard(in.CardID)
	if err != nil {
		return nil, nil, err
	}
	if card == nil {
		return domain.Fail("card not found"), nil, nil
	}
	if card.OwnerID != in.OwnerID {
		return domain.Fail("card belongs to another owner"), nil, nil
	}
	if !card.Active {
		return domain.Fail("card is inactive"), nil, nil
	}
	if in.Description == "" {
		return domain.Fail("description is required"), nil, nil
	}
	if in.TotalAmount.Sign() <= 0 {
		return domain.Fail("total amount must be positive"), nil, nil
	}

	total := in.TotalAmount
	if in.GroupID != nil {
		group, err := s.repo.GetGroup(*in.GroupID)
		if err != nil {
			return nil, nil, err
		}
		if group == nil {
			return domain.Fail("purchase group not found"), nil, nil
		}
		if group.OwnerID != in.OwnerID {
			return domain.Fail("purchase group belongs to another owner"), nil, nil
		}
		if group.Kind == GroupReversal {
			total = total.Neg()
		}
	}

	drafts, err := GenerateSchedule(total, in.InstallmentCount, in.FirstDueOn)
	if err != nil {
		return domain.Fail(err.Error()), nil, nil
	}

	// No installment may land in a month whose invoice is already settled
	if res, err := s.checkInvoiceMonths(in.CardID, drafts); err != nil || res != nil {
		return res, nil, err
	}

	p := Purchase{
		PublicID:         uuid.NewString(),
		OwnerID:          in.OwnerID,
		CardID:           in.CardID,
		GroupID:          in.GroupID,
		PurchasedOn:      in.PurchasedOn,
		Description:      in.Description,
		TotalAmount:      total,
		FirstDueOn:       in.FirstDueOn,
		InstallmentCount: in.InstallmentCount,
	}

	err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
		id, err := s.repo.InsertPurchaseTx(tx, p)
		if err != nil {
			return err
		}
		p.ID = id
		for _, d := range drafts {
			if err := s.repo.InsertInstallmentTx(tx, id, d); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.Info().
		Int64("purchase_id", p.ID).
		Str("total", total.String()).
		Int("installments", in.InstallmentCount).
		Msg("purchase filed")
	return domain.Ok("purchase filed"), &p, nil
}

// EditPurchase rewrites a purchase and regenerates its whole schedule.
// Refused once any installment is paid, when any currently covered month
// already has an invoice, or when a new month is frozen by a settled invoice.
func (s *Service) EditPurchase(id int64, in PurchaseInput) (*domain.Result, error) {
	p, err := s.repo.GetPurchase(id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return domain.Fail("purchase not found"), nil
	}

	paid, err := s.repo.AnyInstallmentPaid(id)
	if err != nil {
		return nil, err
	}
	if paid {
		return domain.Fail("purchase has paid installments and cannot be edited"), nil
	}

	if in.Description == "" {
		return domain.Fail("description is required"), nil
	}
	if in.TotalAmount.Sign() <= 0 {
		return domain.Fail("total amount must be positive"), nil
	}

	total := in.TotalAmount
	if p.GroupID != nil {
		group, err := s.repo.GetGroup(*p.GroupID)
		if err != nil {
			return nil, err
		}
		if group != nil && group.Kind == GroupReversal {
			total = total.Neg()
		}
	}

	drafts, err := GenerateSchedule(total, in.InstallmentCount, in.FirstDueOn)
	if err != nil {
		return domain.Fail(err.Error()), nil
	}

	if res, err := s.checkExistingMonths(p); err != nil || res != nil {
		return res, err
	}
	if res, err := s.checkInvoiceMonths(p.CardID, drafts); err != nil || res != nil {
		return res, err
	}

	updated := *p
	updated.PurchasedOn = in.PurchasedOn
	updated.Description = in.Description
	updated.TotalAmount = total
	updated.FirstDueOn = in.FirstDueOn
	updated.InstallmentCount = in.InstallmentCount

	err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
		if err := s.repo.UpdatePurchaseTx(tx, updated); err != nil {
			return err
		}
		if err := s.repo.DeleteInstallmentsTx(tx, id); err != nil {
			return err
		}
		for _, d := range drafts {
			if err := s.repo.InsertInstallmentTx(tx, id, d); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Int64("purchase_id", id).Msg("purchase edited")
	return domain.Ok("purchase edited"), nil
}

// DeletePurchase removes a purchase and its installments. Refused while any
// installment is paid or any covered month already has an invoice.
func (s *Service) DeletePurchase(id int64) (*domain.Result, error) {
	p, err := s.repo.GetPurchase(id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return domain.Fail("purchase not found"), nil
	}

	paid, err := s.repo.AnyInstallmentPaid(id)
	if err != nil {
		return nil, err
	}
	if paid {
		return domain.Fail("purchase has paid installments and cannot be deleted"), nil
	}

	if res, err := s.checkExistingMonths(p); err != nil || res != nil {
		return res, err
	}

	err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
		if err := s.repo.DeleteInstallmentsTx(tx, id); err != nil {
			return err
		}
		return s.repo.DeletePurchaseTx(tx, id)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Int64("purchase_id", id).Msg("purchase deleted")
	return domain.Ok("purchase deleted"), nil
}

// GetPurchase returns a purchase with its installments
func (s *Service) GetPurchase(id int64) (*Purchase, []Installment, error) {
	p, err := s.repo.GetPurchase(id)
	if err != nil || p == nil {
		return p, nil, err
	}
	installments, err := s.repo.ListInstallments(p.ID)
	if err != nil {
		return nil, nil, err
	}
	return p, installments, nil
}

// ListPurchases returns all purchases on a card
func (s *Service) ListPurchases(cardID int64) ([]Purchase, error) {
	return s.repo.ListPurchasesByCard(cardID)
}

func (s *Service) checkInvoiceMonths(cardID int64, drafts []InstallmentDraft) (*domain.Result, error) {
	seen := make(map[string]bool)
	for _, d := range drafts {
		month := utils.MonthKey(d.DueOn)
		if seen[month] {
			continue
		}
		seen[month] = true
		settled, err := s.repo.SettledInvoiceExists(cardID, month)
		if err != nil {
			return nil, err
		}
		if settled {
			return domain.Fail(fmt.Sprintf("invoice for %s is already settled", month)), nil
		}
	}
	return nil, nil
}

// checkExistingMonths guards removal of installments already on the books.
// Any invoice over a covered month, settled or not, has been generated from
// those installments and would silently drift if they vanished.
func (s *Service) checkExistingMonths(p *Purchase) (*domain.Result, error) {
	installments, err := s.repo.ListInstallments(p.ID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, inst := range installments {
		month := utils.MonthKey(inst.DueOn)
		if seen[month] {
			continue
		}
		seen[month] = true
		exists, err := s.repo.InvoiceExists(p.CardID, month)
		if err != nil {
			return nil, err
		}
		if exists {
			return domain.Fail(fmt.Sprintf("an invoice already exists for %s; delete it first", month)), nil
		}
	}
	return nil, nil
}
