package reports

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mbarbosa/fincore/internal/modules/accounts"
	"github.com/mbarbosa/fincore/internal/utils"
)

// Service runs the read-only monthly report queries
type Service struct {
	db       *sql.DB
	accounts *accounts.Repository
	log      zerolog.Logger
}

// NewService creates a new reports service
func NewService(db *sql.DB, accountRepo *accounts.Repository, log zerolog.Logger) *Service {
	return &Service{
		db:       db,
		accounts: accountRepo,
		log:      log.With().Str("service", "reports").Logger(),
	}
}

// PayablesByMonth lists every expected outflow due in a reference month:
// card invoices, loan installments and expense bill movements, sorted by
// due date.
func (s *Service) PayablesByMonth(ownerID int64, monthKey string) ([]Payable, error) {
	if _, _, err := utils.ParseMonthKey(monthKey); err != nil {
		return nil, err
	}

	var payables []Payable

	// Invoices, with the recomputed installment total for drift detection
	rows, err := s.db.Query(`
		SELECT i.id, c.name, i.due_on, i.total_amount, i.status,
		       (SELECT COALESCE(GROUP_CONCAT(inst.amount), '')
		        FROM installments inst
		        JOIN purchases p ON p.id = inst.purchase_id
		        WHERE p.card_id = i.card_id AND substr(inst.due_on, 1, 7) = i.reference_month)
		FROM invoices i
		JOIN cards c ON c.id = i.card_id
		WHERE i.owner_id = ? AND i.reference_month = ?
	`, ownerID, monthKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	invoicePayables, err := scanInvoicePayables(rows)
	if err != nil {
		return nil, err
	}
	payables = append(payables, invoicePayables...)

	// Loan installments
	rows, err = s.db.Query(`
		SELECT li.id, l.name || ' ' || li.seq || '/' || l.term_months, li.due_on, li.total_due, li.status
		FROM loan_installments li
		JOIN loans l ON l.id = li.loan_id
		WHERE l.owner_id = ? AND substr(li.due_on, 1, 7) = ?
	`, ownerID, monthKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query loan installments: %w", err)
	}
	loanPayables, err := scanSimplePayables(rows, KindLoan)
	if err != nil {
		return nil, err
	}
	payables = append(payables, loanPayables...)

	// Expense bill movements; realized ones show the realized amount
	rows, err = s.db.Query(`
		SELECT m.id, b.name, m.due_on, COALESCE(m.realized_amount, m.expected_amount), m.status
		FROM bill_movements m
		JOIN bills b ON b.id = m.bill_id
		WHERE b.owner_id = ? AND b.nature = 'Expense' AND m.period = ?
	`, ownerID, monthKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query bill movements: %w", err)
	}
	billPayables, err := scanSimplePayables(rows, KindBill)
	if err != nil {
		return nil, err
	}
	payables = append(payables, billPayables...)

	sort.SliceStable(payables, func(i, j int) bool {
		return payables[i].DueOn.Before(payables[j].DueOn)
	})
	return payables, nil
}

// ReceivablesByMonth lists every expected inflow for a reference month:
// income bill movements and payroll sheet legs.
func (s *Service) ReceivablesByMonth(ownerID int64, monthKey string) ([]Receivable, error) {
	if _, _, err := utils.ParseMonthKey(monthKey); err != nil {
		return nil, err
	}

	var receivables []Receivable

	rows, err := s.db.Query(`
		SELECT m.id, b.name, m.due_on, COALESCE(m.realized_amount, m.expected_amount), m.status
		FROM bill_movements m
		JOIN bills b ON b.id = m.bill_id
		WHERE b.owner_id = ? AND b.nature = 'Income' AND m.period = ?
	`, ownerID, monthKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query income movements: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r Receivable
		var dueOn, amount string
		if err := rows.Scan(&r.RefID, &r.Description, &dueOn, &amount, &r.Status); err != nil {
			return nil, fmt.Errorf("failed to scan income movement: %w", err)
		}
		r.Kind = KindBill
		if r.DueOn, err = utils.ParseDate(dueOn); err != nil {
			return nil, err
		}
		if r.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("corrupt movement amount: %w", err)
		}
		receivables = append(receivables, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating income movements: %w", err)
	}

	// Payroll sheets received in the month, split into their legs
	sheetRows, err := s.db.Query(`
		SELECT s.id, s.reference_month, s.kind, s.receive_on, s.status,
		       s.salary_posting_id IS NOT NULL, s.benefit_posting_id IS NOT NULL,
		       (SELECT COALESCE(GROUP_CONCAT(i.kind || ':' || si.amount), '')
		        FROM payroll_sheet_items si JOIN payroll_items i ON i.id = si.item_id
		        WHERE si.sheet_id = s.id)
		FROM payroll_sheets s
		WHERE s.owner_id = ? AND substr(s.receive_on, 1, 7) = ?
	`, ownerID, monthKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query payroll sheets: %w", err)
	}
	payrollReceivables, err := scanPayrollReceivables(sheetRows)
	if err != nil {
		return nil, err
	}
	receivables = append(receivables, payrollReceivables...)

	sort.SliceStable(receivables, func(i, j int) bool {
		return receivables[i].DueOn.Before(receivables[j].DueOn)
	})
	return receivables, nil
}

// Summary totals a month's payables and receivables
func (s *Service) Summary(ownerID int64, monthKey string) (*MonthSummary, error) {
	payables, err := s.PayablesByMonth(ownerID, monthKey)
	if err != nil {
		return nil, err
	}
	receivables, err := s.ReceivablesByMonth(ownerID, monthKey)
	if err != nil {
		return nil, err
	}

	sum := &MonthSummary{Month: monthKey, Payable: decimal.Zero, Receivable: decimal.Zero}
	for _, p := range payables {
		sum.Payable = sum.Payable.Add(p.Amount)
	}
	for _, r := range receivables {
		sum.Receivable = sum.Receivable.Add(r.Amount)
	}
	sum.NetExpected = sum.Receivable.Sub(sum.Payable)
	return sum, nil
}

// AccountKPIs snapshots every account of an owner with its activity for
// one month.
func (s *Service) AccountKPIs(ownerID int64, monthKey string) ([]AccountKPI, error) {
	if _, _, err := utils.ParseMonthKey(monthKey); err != nil {
		return nil, err
	}

	accts, err := s.accounts.ListByOwner(ownerID)
	if err != nil {
		return nil, err
	}

	kpis := make([]AccountKPI, 0, len(accts))
	for _, a := range accts {
		kpi := AccountKPI{
			AccountID:      a.ID,
			Label:          a.Label(),
			CurrentBalance: a.CurrentBalance,
			AvailableFunds: a.AvailableFunds(),
			Inflow:         decimal.Zero,
			Outflow:        decimal.Zero,
		}

		rows, err := s.db.Query(`
			SELECT t.polarity, p.amount
			FROM postings p
			JOIN transaction_types t ON t.id = p.type_id
			WHERE p.account_id = ? AND substr(p.posted_on, 1, 7) = ?
		`, a.ID, monthKey)
		if err != nil {
			return nil, fmt.Errorf("failed to query account activity: %w", err)
		}
		for rows.Next() {
			var polarity, amount string
			if err := rows.Scan(&polarity, &amount); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan posting: %w", err)
			}
			d, err := decimal.NewFromString(amount)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("corrupt posting amount: %w", err)
			}
			if polarity == "Credit" {
				kpi.Inflow = kpi.Inflow.Add(d)
			} else {
				kpi.Outflow = kpi.Outflow.Add(d)
			}
			kpi.PostingCount++
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("error iterating postings: %w", err)
		}
		rows.Close()

		kpis = append(kpis, kpi)
	}
	return kpis, nil
}

func scanInvoicePayables(rows *sql.Rows) ([]Payable, error) {
	defer rows.Close()

	var payables []Payable
	for rows.Next() {
		var p Payable
		var dueOn, total, amounts string
		if err := rows.Scan(&p.RefID, &p.Description, &dueOn, &total, &p.Status, &amounts); err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		p.Kind = KindInvoice

		var err error
		if p.DueOn, err = utils.ParseDate(dueOn); err != nil {
			return nil, err
		}
		if p.Amount, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("corrupt invoice total: %w", err)
		}

		computed, err := sumConcat(amounts)
		if err != nil {
			return nil, err
		}
		p.Drift = !p.Amount.Equal(computed)
		payables = append(payables, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invoices: %w", err)
	}
	return payables, nil
}

func scanSimplePayables(rows *sql.Rows, kind string) ([]Payable, error) {
	defer rows.Close()

	var payables []Payable
	for rows.Next() {
		var p Payable
		var dueOn, amount string
		if err := rows.Scan(&p.RefID, &p.Description, &dueOn, &amount, &p.Status); err != nil {
			return nil, fmt.Errorf("failed to scan payable: %w", err)
		}
		p.Kind = kind

		var err error
		if p.DueOn, err = utils.ParseDate(dueOn); err != nil {
			return nil, err
		}
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("corrupt payable amount: %w", err)
		}
		payables = append(payables, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payables: %w", err)
	}
	return payables, nil
}

func scanPayrollReceivables(rows *sql.Rows) ([]Receivable, error) {
	defer rows.Close()

	var receivables []Receivable
	for rows.Next() {
		var sheetID int64
		var month, kind, receiveOn, status, lines string
		var salaryIn, benefitIn bool
		if err := rows.Scan(&sheetID, &month, &kind, &receiveOn, &status, &salaryIn, &benefitIn, &lines); err != nil {
			return nil, fmt.Errorf("failed to scan payroll sheet: %w", err)
		}

		due, err := utils.ParseDate(receiveOn)
		if err != nil {
			return nil, err
		}
		salary, benefit, err := splitPayrollLegs(lines)
		if err != nil {
			return nil, err
		}

		if salary.IsPositive() {
			legStatus := "Pending"
			if salaryIn {
				legStatus = "Received"
			}
			receivables = append(receivables, Receivable{
				Kind:        KindPayrollSalary,
				RefID:       sheetID,
				Description: fmt.Sprintf("%s payroll %s", kind, month),
				DueOn:       due,
				Amount:      salary,
				Status:      legStatus,
			})
		}
		if benefit.IsPositive() {
			legStatus := "Pending"
			if benefitIn {
				legStatus = "Received"
			}
			receivables = append(receivables, Receivable{
				Kind:        KindPayrollBenefit,
				RefID:       sheetID,
				Description: fmt.Sprintf("%s benefits %s", kind, month),
				DueOn:       due,
				Amount:      benefit,
				Status:      legStatus,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payroll sheets: %w", err)
	}
	return receivables, nil
}

// sumConcat folds a GROUP_CONCAT of decimal amounts in Go. SQLite's SUM
// would round-trip through floats and lose exactness.
func sumConcat(concatenated string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, v := range utils.ParseCSV(concatenated) {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, fmt.Errorf("corrupt amount in aggregate: %w", err)
		}
		total = total.Add(d)
	}
	return total, nil
}

// splitPayrollLegs folds "Kind:amount" pairs into the salary-leg net and
// the benefit-leg total.
func splitPayrollLegs(lines string) (salary, benefit decimal.Decimal, err error) {
	salary, benefit = decimal.Zero, decimal.Zero
	for _, pair := range utils.ParseCSV(lines) {
		kind, value, found := strings.Cut(pair, ":")
		if !found {
			return decimal.Zero, decimal.Zero, fmt.Errorf("malformed payroll line %q", pair)
		}
		amount, err := decimal.NewFromString(value)
		if err != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("corrupt payroll amount: %w", err)
		}
		switch kind {
		case "Salary":
			salary = salary.Add(amount)
		case "Deduction":
			salary = salary.Sub(amount)
		case "Benefit":
			benefit = benefit.Add(amount)
		}
	}
	return salary, benefit, nil
}
