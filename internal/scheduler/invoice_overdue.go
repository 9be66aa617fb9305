package scheduler

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/mbarbosa/fincore/internal/modules/invoices"
)

// InvoiceOverdueJob flips pending invoices past their due date to Overdue
type InvoiceOverdueJob struct {
	log      zerolog.Logger
	invoices *invoices.Service
}

// NewInvoiceOverdueJob creates a new overdue marker job
func NewInvoiceOverdueJob(invoiceSvc *invoices.Service, log zerolog.Logger) *InvoiceOverdueJob {
	return &InvoiceOverdueJob{
		log:      log.With().Str("job", "invoice_overdue").Logger(),
		invoices: invoiceSvc,
	}
}

// Name returns the job name
func (j *InvoiceOverdueJob) Name() string {
	return "invoice_overdue"
}

// Run marks every pending invoice whose due date has passed
func (j *InvoiceOverdueJob) Run() error {
	n, err := j.invoices.MarkOverdue(time.Now())
	if err != nil {
		return err
	}

	if n > 0 {
		j.log.Info().Int64("marked", n).Msg("Invoices marked overdue")
	}

	return nil
}
