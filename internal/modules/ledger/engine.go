package ledger

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mbarbosa/fincore/internal/database"
	"github.com/mbarbosa/fincore/internal/domain"
	"github.com/mbarbosa/fincore/internal/modules/accounts"
	"github.com/mbarbosa/fincore/internal/modules/transactiontypes"
)

// AccountStore defines the account operations the engine needs. The *Tx
// reads matter: the engine runs on a single write transaction, and a pooled
// read issued while that transaction holds the only connection deadlocks.
type AccountStore interface {
	GetByID(id int64) (*accounts.Account, error)
	GetByIDTx(tx *sql.Tx, id int64) (*accounts.Account, error)
	AdjustBalanceTx(tx *sql.Tx, id int64, delta decimal.Decimal) error
}

// TypeResolver defines the registry operations the engine needs
type TypeResolver interface {
	ResolveTx(tx *sql.Tx, id int64) (*transactiontypes.TransactionType, error)
	FindCreditCounterpartTx(tx *sql.Tx, ownerID int64, name string) (*transactiontypes.TransactionType, error)
}

// RepositoryInterface defines the persistence surface the engine needs
type RepositoryInterface interface {
	InsertTx(tx *sql.Tx, p Posting) (int64, error)
	LinkPairTx(tx *sql.Tx, a, b int64) error
	ClearLinkTx(tx *sql.Tx, a, b int64) error
	DeleteTx(tx *sql.Tx, id int64) error
	GetByID(id int64) (*Posting, error)
	GetByIDTx(tx *sql.Tx, id int64) (*Posting, error)
	HasLaterPostingTx(tx *sql.Tx, accountID int64, postedOn time.Time, id int64) (bool, error)
	IsReferencedByObligationTx(tx *sql.Tx, id int64) (bool, error)
	CountByAccount(accountID int64) (int, error)
	ListByAccount(accountID int64, from, to time.Time) ([]Posting, error)
	ListByOwnerMonth(ownerID int64, monthKey string) ([]Posting, error)
}

// Compile-time check that Repository implements RepositoryInterface
var _ RepositoryInterface = (*Repository)(nil)

// Engine is the posting engine. All balance-mutating operations are
// serialized through its mutex, so a concurrent double-spend against the
// same account cannot slip past the affordability check.
type Engine struct {
	mu       sync.Mutex
	db       *sql.DB
	repo     RepositoryInterface
	accounts AccountStore
	types    TypeResolver
	log      zerolog.Logger
}

// NewEngine creates a new posting engine
func NewEngine(db *sql.DB, repo RepositoryInterface, accountStore AccountStore, types TypeResolver, log zerolog.Logger) *Engine {
	return &Engine{
		db:       db,
		repo:     repo,
		accounts: accountStore,
		types:    types,
		log:      log.With().Str("service", "ledger").Logger(),
	}
}

// SimpleInput carries the fields for a standalone posting
type SimpleInput struct {
	OwnerID   int64
	AccountID int64
	TypeID    int64
	Date      time.Time
	Amount    decimal.Decimal
	Note      string
}

// TransferInput carries the fields for a transfer between two accounts
type TransferInput struct {
	OwnerID       int64
	SourceID      int64
	DestinationID int64
	DebitTypeID   int64
	Date          time.Time
	Amount        decimal.Decimal
	Note          string
}

// RunLocked runs fn inside the posting lock and a single transaction.
// Orchestrators (payments, amortizations) use it to combine *Tx engine calls
// with their own obligation updates atomically.
func (e *Engine) RunLocked(fn func(tx *sql.Tx) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return database.WithTransaction(e.db, fn)
}

// PostSimple appends a standalone posting and moves the account balance in
// the same transaction.
func (e *Engine) PostSimple(in SimpleInput) (*Posting, error) {
	var p *Posting
	err := e.RunLocked(func(tx *sql.Tx) error {
		var err error
		p, err = e.PostSimpleTx(tx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// PostSimpleTx is the transactional core of PostSimple. The caller must hold
// the posting lock (see RunLocked).
func (e *Engine) PostSimpleTx(tx *sql.Tx, in SimpleInput) (*Posting, error) {
	if !in.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	acct, err := e.accounts.GetByIDTx(tx, in.AccountID)
	if err != nil {
		return nil, err
	}
	if acct == nil || acct.OwnerID != in.OwnerID {
		return nil, domain.ErrAccountNotFound
	}
	if !acct.Active {
		return nil, domain.ErrAccountInactive
	}

	tt, err := e.types.ResolveTx(tx, in.TypeID)
	if err != nil {
		return nil, err
	}
	if tt == nil || tt.OwnerID != in.OwnerID {
		return nil, fmt.Errorf("transaction type %d not found", in.TypeID)
	}

	if tt.Polarity == transactiontypes.Debit && in.Amount.GreaterThan(acct.AvailableFunds()) {
		return nil, domain.ErrInsufficientFunds
	}

	id, err := e.repo.InsertTx(tx, Posting{
		OwnerID:   in.OwnerID,
		AccountID: in.AccountID,
		TypeID:    in.TypeID,
		PostedOn:  in.Date,
		Amount:    in.Amount,
		Note:      in.Note,
	})
	if err != nil {
		return nil, err
	}

	delta := in.Amount
	if tt.Polarity == transactiontypes.Debit {
		delta = delta.Neg()
	}
	if err := e.accounts.AdjustBalanceTx(tx, in.AccountID, delta); err != nil {
		return nil, err
	}

	e.log.Info().
		Int64("posting_id", id).
		Int64("account_id", in.AccountID).
		Str("type", tt.Name).
		Str("amount", in.Amount.StringFixed(2)).
		Msg("Posting created")

	p, err := e.repo.GetByIDTx(tx, id)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// PostTransfer moves money between two accounts as a linked debit/credit
// pair. Both legs, their symmetric link and both balance changes commit
// together or not at all.
func (e *Engine) PostTransfer(in TransferInput) (*Transfer, error) {
	var out *Transfer
	err := e.RunLocked(func(tx *sql.Tx) error {
		var err error
		out, err = e.postTransferTx(tx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) postTransferTx(tx *sql.Tx, in TransferInput) (*Transfer, error) {
	if !in.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	if in.SourceID == in.DestinationID {
		return nil, fmt.Errorf("source and destination accounts must differ")
	}

	source, err := e.accounts.GetByIDTx(tx, in.SourceID)
	if err != nil {
		return nil, err
	}
	if source == nil || source.OwnerID != in.OwnerID {
		return nil, domain.ErrAccountNotFound
	}
	dest, err := e.accounts.GetByIDTx(tx, in.DestinationID)
	if err != nil {
		return nil, err
	}
	if dest == nil || dest.OwnerID != in.OwnerID {
		return nil, domain.ErrAccountNotFound
	}
	if !source.Active || !dest.Active {
		return nil, domain.ErrAccountInactive
	}

	debitType, err := e.types.ResolveTx(tx, in.DebitTypeID)
	if err != nil {
		return nil, err
	}
	if debitType == nil || debitType.OwnerID != in.OwnerID {
		return nil, fmt.Errorf("transaction type %d not found", in.DebitTypeID)
	}
	if debitType.Polarity != transactiontypes.Debit {
		return nil, fmt.Errorf("transfer debit type %q must have Debit polarity", debitType.Name)
	}

	// Hard requirement: the credit twin must already be registered
	creditType, err := e.types.FindCreditCounterpartTx(tx, in.OwnerID, debitType.Name)
	if err != nil {
		return nil, err
	}

	if in.Amount.GreaterThan(source.AvailableFunds()) {
		return nil, domain.ErrInsufficientFunds
	}

	debitNote := in.Note
	creditNote := in.Note
	if in.Note == "" {
		debitNote = fmt.Sprintf("%s to %s", debitType.Name, dest.Label())
		creditNote = fmt.Sprintf("%s from %s", creditType.Name, source.Label())
	}

	// Phase one: insert both legs
	debitID, err := e.repo.InsertTx(tx, Posting{
		OwnerID: in.OwnerID, AccountID: in.SourceID, TypeID: debitType.ID,
		PostedOn: in.Date, Amount: in.Amount, Note: debitNote,
	})
	if err != nil {
		return nil, err
	}
	creditID, err := e.repo.InsertTx(tx, Posting{
		OwnerID: in.OwnerID, AccountID: in.DestinationID, TypeID: creditType.ID,
		PostedOn: in.Date, Amount: in.Amount, Note: creditNote,
	})
	if err != nil {
		return nil, err
	}

	// Phase two: symmetric link
	if err := e.repo.LinkPairTx(tx, debitID, creditID); err != nil {
		return nil, err
	}

	if err := e.accounts.AdjustBalanceTx(tx, in.SourceID, in.Amount.Neg()); err != nil {
		return nil, err
	}
	if err := e.accounts.AdjustBalanceTx(tx, in.DestinationID, in.Amount); err != nil {
		return nil, err
	}

	e.log.Info().
		Int64("debit_posting_id", debitID).
		Int64("credit_posting_id", creditID).
		Str("amount", in.Amount.StringFixed(2)).
		Msg("Transfer posted")

	debitLeg, err := e.repo.GetByIDTx(tx, debitID)
	if err != nil {
		return nil, err
	}
	creditLeg, err := e.repo.GetByIDTx(tx, creditID)
	if err != nil {
		return nil, err
	}
	return &Transfer{DebitLeg: debitLeg, CreditLeg: creditLeg}, nil
}

// Reverse undoes a posting: restores the balance and deletes the row. For a
// transfer leg the whole pair is reversed. Preconditions: the posting must
// not be referenced by an obligation, and it must be the newest posting on
// its account (both accounts for a transfer).
func (e *Engine) Reverse(ownerID, postingID int64) error {
	return e.RunLocked(func(tx *sql.Tx) error {
		return e.ReverseTx(tx, ownerID, postingID)
	})
}

// ReverseTx is the transactional core of Reverse. The caller must hold the
// posting lock (see RunLocked). Reconciliation clears the obligation link in
// the same transaction before calling this.
func (e *Engine) ReverseTx(tx *sql.Tx, ownerID, postingID int64) error {
	p, err := e.repo.GetByIDTx(tx, postingID)
	if err != nil {
		return err
	}
	if p == nil || p.OwnerID != ownerID {
		return domain.ErrPostingNotFound
	}

	referenced, err := e.repo.IsReferencedByObligationTx(tx, p.ID)
	if err != nil {
		return err
	}
	if referenced {
		return domain.ErrPostingLinkedToObligation
	}

	later, err := e.repo.HasLaterPostingTx(tx, p.AccountID, p.PostedOn, p.ID)
	if err != nil {
		return err
	}
	if later {
		return domain.ErrLaterPostingsExist
	}

	if p.LinkedPostingID == nil {
		if err := e.accounts.AdjustBalanceTx(tx, p.AccountID, p.SignedAmount().Neg()); err != nil {
			return err
		}
		if err := e.repo.DeleteTx(tx, p.ID); err != nil {
			return err
		}
		e.log.Info().Int64("posting_id", p.ID).Msg("Posting reversed")
		return nil
	}

	// Transfer pair: both legs come out together
	q, err := e.repo.GetByIDTx(tx, *p.LinkedPostingID)
	if err != nil {
		return err
	}
	if q == nil {
		return fmt.Errorf("transfer leg %d is missing its counterpart", p.ID)
	}

	referenced, err = e.repo.IsReferencedByObligationTx(tx, q.ID)
	if err != nil {
		return err
	}
	if referenced {
		return domain.ErrPostingLinkedToObligation
	}

	later, err = e.repo.HasLaterPostingTx(tx, q.AccountID, q.PostedOn, q.ID)
	if err != nil {
		return err
	}
	if later {
		return domain.ErrLaterPostingsExist
	}

	// Break the symmetric link before touching balances so a partial failure
	// can never leave a half-reversed pair that still looks like a transfer
	if err := e.repo.ClearLinkTx(tx, p.ID, q.ID); err != nil {
		return err
	}

	if err := e.accounts.AdjustBalanceTx(tx, p.AccountID, p.SignedAmount().Neg()); err != nil {
		return err
	}
	if err := e.accounts.AdjustBalanceTx(tx, q.AccountID, q.SignedAmount().Neg()); err != nil {
		return err
	}

	if err := e.repo.DeleteTx(tx, q.ID); err != nil {
		return err
	}
	if err := e.repo.DeleteTx(tx, p.ID); err != nil {
		return err
	}

	e.log.Info().
		Int64("posting_id", p.ID).
		Int64("linked_posting_id", q.ID).
		Msg("Transfer reversed")
	return nil
}

// SimulateReversalSafety replays the account's history without the given
// posting and reports whether every intermediate balance stays above the
// overdraft floor. Used before reversing a receipt that later spending may
// already depend on.
func (e *Engine) SimulateReversalSafety(accountID, excludeID int64) (bool, error) {
	acct, err := e.accounts.GetByID(accountID)
	if err != nil {
		return false, err
	}
	if acct == nil {
		return false, domain.ErrAccountNotFound
	}

	floor := decimal.Zero
	if acct.SupportsCreditLimit() && acct.CreditLimit != nil {
		floor = acct.CreditLimit.Neg()
	}

	history, err := e.repo.ListByAccount(accountID, time.Time{}, time.Time{})
	if err != nil {
		return false, err
	}

	running := acct.InitialBalance
	for _, p := range history {
		if p.ID == excludeID {
			continue
		}
		running = running.Add(p.SignedAmount())
		if running.LessThan(floor) {
			return false, nil
		}
	}
	return true, nil
}

// Statement returns an account's postings in a date range, oldest first
func (e *Engine) Statement(ownerID, accountID int64, from, to time.Time) ([]Posting, error) {
	acct, err := e.accounts.GetByID(accountID)
	if err != nil {
		return nil, err
	}
	if acct == nil || acct.OwnerID != ownerID {
		return nil, domain.ErrAccountNotFound
	}
	return e.repo.ListByAccount(accountID, from, to)
}

// Entries folds an owner's monthly postings into the domain view: transfers
// appear once as a debit/credit pair, everything else as a simple entry.
func (e *Engine) Entries(ownerID int64, monthKey string) ([]Entry, error) {
	postings, err := e.repo.ListByOwnerMonth(ownerID, monthKey)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*Posting, len(postings))
	for i := range postings {
		byID[postings[i].ID] = &postings[i]
	}

	var entries []Entry
	for i := range postings {
		p := &postings[i]
		if p.LinkedPostingID == nil {
			entries = append(entries, Entry{Kind: EntrySimple, Posting: p})
			continue
		}
		// Emit each pair once, anchored on the debit leg
		if p.Polarity != transactiontypes.Debit {
			continue
		}
		credit := byID[*p.LinkedPostingID]
		if credit == nil {
			// Counterpart outside the month window; fall back to a lookup
			credit, err = e.repo.GetByID(*p.LinkedPostingID)
			if err != nil {
				return nil, err
			}
		}
		entries = append(entries, Entry{Kind: EntryTransfer, DebitLeg: p, CreditLeg: credit})
	}
	return entries, nil
}

// CountByAccount reports how many postings reference an account. Satisfies
// accounts.PostingCounter for the account-deletion guard.
func (e *Engine) CountByAccount(accountID int64) (int, error) {
	return e.repo.CountByAccount(accountID)
}
