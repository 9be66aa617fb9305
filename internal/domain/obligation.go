package domain

// ObligationKind identifies which kind of payable or receivable a
// reconciliation operation targets.
type ObligationKind string

const (
	ObligationBill            ObligationKind = "bill"
	ObligationLoanInstallment ObligationKind = "loan_installment"
	ObligationInvoice         ObligationKind = "invoice"
	ObligationPayroll         ObligationKind = "payroll"
)

// PayrollLeg distinguishes the salary and benefit deposits of a payroll sheet.
// Only meaningful when the obligation kind is ObligationPayroll.
type PayrollLeg string

const (
	LegSalary  PayrollLeg = "salary"
	LegBenefit PayrollLeg = "benefit"
)

// ObligationRef points at a single obligation instance.
type ObligationRef struct {
	Kind ObligationKind
	ID   int64
	Leg  PayrollLeg
}
