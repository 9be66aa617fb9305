package invoices

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mbarbosa/fincore/internal/domain"
	"github.com/mbarbosa/fincore/internal/modules/cards"
	"github.com/mbarbosa/fincore/internal/utils"
)

// CardSource is what the service needs from the cards module
type CardSource interface {
	GetCard(id int64) (*cards.Card, error)
	ListCards(ownerID int64) ([]cards.Card, error)
	ActiveCardOwners() ([]int64, error)
}

var _ CardSource = (*cards.Repository)(nil)

// RepositoryInterface defines what the service needs from the repository
type RepositoryInterface interface {
	InstallmentTotals(cardID int64) ([]MonthTotal, error)
	OpenMonthTotals(cardID int64) ([]MonthTotal, error)
	Create(inv Invoice) (*Invoice, error)
	UpdateOpenTotals(id int64, total decimal.Decimal, closingOn, dueOn time.Time) error
	GetByID(id int64) (*Invoice, error)
	GetByCardMonth(cardID int64, monthKey string) (*Invoice, error)
	ListByOwner(ownerID int64, monthKey string) ([]Invoice, error)
	ListSettledByCard(cardID int64) ([]Invoice, error)
	Delete(id int64) error
	MarkOverdue(today time.Time) (int64, error)
}

var _ RepositoryInterface = (*Repository)(nil)

// Service derives and maintains invoices from installment schedules
type Service struct {
	repo     RepositoryInterface
	cardRepo CardSource
	log      zerolog.Logger
}

// NewService creates a new invoices service
func NewService(repo RepositoryInterface, cardRepo CardSource, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		cardRepo: cardRepo,
		log:      log.With().Str("service", "invoices").Logger(),
	}
}

// InvoiceDates derives the closing and due dates of a card's invoice for a
// reference month. The due date falls in the reference month on the card's
// due day. The closing date uses the card's closing day; when the statement
// closes on or after the due day it belongs to the previous month.
func InvoiceDates(card *cards.Card, monthKey string) (closing, due time.Time, err error) {
	year, month, err := utils.ParseMonthKey(monthKey)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	due = utils.ClampDayOfMonth(year, month, card.DueDay)
	if card.ClosingDay >= card.DueDay {
		prev := utils.AddMonths(due, -1)
		closing = utils.ClampDayOfMonth(prev.Year(), prev.Month(), card.ClosingDay)
	} else {
		closing = utils.ClampDayOfMonth(year, month, card.ClosingDay)
	}
	return closing, due, nil
}

// SyncCard rebuilds a card's invoices from its installment schedule. Only
// months that still carry an unpaid installment are considered; fully-settled
// months never gain an invoice after the fact. Existing unsettled invoices
// are updated in place; settled invoices are left untouched. The operation
// is idempotent.
func (s *Service) SyncCard(cardID int64) (*SyncStats, error) {
	card, err := s.cardRepo.GetCard(cardID)
	if err != nil {
		return nil, err
	}
	if card == nil {
		return nil, fmt.Errorf("card %d not found", cardID)
	}

	totals, err := s.repo.OpenMonthTotals(cardID)
	if err != nil {
		return nil, err
	}

	stats := &SyncStats{}
	for _, mt := range totals {
		closing, due, err := InvoiceDates(card, mt.Month)
		if err != nil {
			return nil, err
		}

		existing, err := s.repo.GetByCardMonth(cardID, mt.Month)
		if err != nil {
			return nil, err
		}

		switch {
		case existing == nil:
			_, err = s.repo.Create(Invoice{
				OwnerID:        card.OwnerID,
				CardID:         cardID,
				ReferenceMonth: mt.Month,
				TotalAmount:    mt.Total,
				PaidAmount:     decimal.Zero,
				ClosingOn:      closing,
				DueOn:          due,
				Status:         StatusPending,
			})
			if err != nil {
				return nil, err
			}
			stats.Created++
		case existing.Settled():
			stats.Frozen++
		case !existing.TotalAmount.Equal(mt.Total) || !existing.ClosingOn.Equal(closing) || !existing.DueOn.Equal(due):
			if err := s.repo.UpdateOpenTotals(existing.ID, mt.Total, closing, due); err != nil {
				return nil, err
			}
			stats.Updated++
		}
	}

	s.log.Debug().
		Int64("card_id", cardID).
		Int("created", stats.Created).
		Int("updated", stats.Updated).
		Int("frozen", stats.Frozen).
		Msg("invoices synced")
	return stats, nil
}

// SyncOwner syncs every card of an owner
func (s *Service) SyncOwner(ownerID int64) (*SyncStats, error) {
	cardList, err := s.cardRepo.ListCards(ownerID)
	if err != nil {
		return nil, err
	}

	agg := &SyncStats{}
	for _, c := range cardList {
		stats, err := s.SyncCard(c.ID)
		if err != nil {
			return nil, err
		}
		agg.Created += stats.Created
		agg.Updated += stats.Updated
		agg.Frozen += stats.Frozen
	}
	return agg, nil
}

// SyncAll syncs invoices for every owner with an active card. Used by the
// nightly scheduler job.
func (s *Service) SyncAll() (*SyncStats, error) {
	owners, err := s.cardRepo.ActiveCardOwners()
	if err != nil {
		return nil, err
	}

	agg := &SyncStats{}
	for _, ownerID := range owners {
		stats, err := s.SyncOwner(ownerID)
		if err != nil {
			return nil, err
		}
		agg.Created += stats.Created
		agg.Updated += stats.Updated
		agg.Frozen += stats.Frozen
	}
	return agg, nil
}

// DetectDrift reports settled invoices of a card whose frozen totals no
// longer match the current installment schedule. Drift means the schedule
// was changed out-of-band after settlement and needs manual review.
func (s *Service) DetectDrift(cardID int64) ([]Drift, error) {
	settled, err := s.repo.ListSettledByCard(cardID)
	if err != nil {
		return nil, err
	}
	if len(settled) == 0 {
		return nil, nil
	}

	totals, err := s.repo.InstallmentTotals(cardID)
	if err != nil {
		return nil, err
	}
	byMonth := make(map[string]decimal.Decimal, len(totals))
	for _, mt := range totals {
		byMonth[mt.Month] = mt.Total
	}

	var drifts []Drift
	for _, inv := range settled {
		computed := byMonth[inv.ReferenceMonth]
		if !inv.TotalAmount.Equal(computed) {
			drifts = append(drifts, Drift{
				InvoiceID:      inv.ID,
				CardID:         cardID,
				ReferenceMonth: inv.ReferenceMonth,
				StoredTotal:    inv.TotalAmount,
				ComputedTotal:  computed,
			})
		}
	}
	return drifts, nil
}

// Get returns an invoice by ID
func (s *Service) Get(id int64) (*Invoice, error) {
	return s.repo.GetByID(id)
}

// List returns an owner's invoices, optionally for one reference month
func (s *Service) List(ownerID int64, monthKey string) ([]Invoice, error) {
	return s.repo.ListByOwner(ownerID, monthKey)
}

// Delete removes an unsettled invoice. Settled invoices carry payment
// history and must be reversed through reconciliation first.
func (s *Service) Delete(id int64) (*domain.Result, error) {
	inv, err := s.repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return domain.Fail("invoice not found"), nil
	}
	if inv.Settled() {
		return domain.Fail("invoice is settled; reverse its payment first"), nil
	}
	if err := s.repo.Delete(id); err != nil {
		return nil, err
	}
	return domain.Ok("invoice deleted"), nil
}

// MarkOverdue flips pending invoices past due to Overdue
func (s *Service) MarkOverdue(today time.Time) (int64, error) {
	n, err := s.repo.MarkOverdue(today)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info().Int64("count", n).Msg("invoices marked overdue")
	}
	return n, nil
}
