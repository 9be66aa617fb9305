package scheduler

import (
	"github.com/rs/zerolog"

	"github.com/mbarbosa/fincore/internal/modules/invoices"
	"github.com/mbarbosa/fincore/internal/utils"
)

// InvoiceSyncJob regenerates open card invoices from their installments.
// Settled invoices are never touched; the sync only creates missing months
// and refreshes totals on open ones.
type InvoiceSyncJob struct {
	log      zerolog.Logger
	invoices *invoices.Service
}

// NewInvoiceSyncJob creates a new invoice sync job
func NewInvoiceSyncJob(invoiceSvc *invoices.Service, log zerolog.Logger) *InvoiceSyncJob {
	return &InvoiceSyncJob{
		log:      log.With().Str("job", "invoice_sync").Logger(),
		invoices: invoiceSvc,
	}
}

// Name returns the job name
func (j *InvoiceSyncJob) Name() string {
	return "invoice_sync"
}

// Run executes the sync across every owner with active cards
func (j *InvoiceSyncJob) Run() error {
	timer := utils.NewTimer("invoice_sync", j.log)
	defer timer.Stop()

	stats, err := j.invoices.SyncAll()
	if err != nil {
		return err
	}

	j.log.Info().
		Int("created", stats.Created).
		Int("updated", stats.Updated).
		Int("frozen", stats.Frozen).
		Msg("Invoice sync completed")

	return nil
}
