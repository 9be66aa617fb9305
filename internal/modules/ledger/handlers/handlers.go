// Package handlers provides HTTP handlers for ledger operations.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mbarbosa/fincore/internal/domain"
	"github.com/mbarbosa/fincore/internal/modules/ledger"
	"github.com/mbarbosa/fincore/internal/utils"
)

// Handler handles ledger HTTP requests
type Handler struct {
	engine *ledger.Engine
	log    zerolog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(engine *ledger.Engine, log zerolog.Logger) *Handler {
	return &Handler{
		engine: engine,
		log:    log.With().Str("handler", "ledger").Logger(),
	}
}

type postingRequest struct {
	OwnerID   int64  `json:"owner_id"`
	AccountID int64  `json:"account_id"`
	TypeID    int64  `json:"type_id"`
	Date      string `json:"date"`
	Amount    string `json:"amount"`
	Note      string `json:"note"`
}

// HandlePostSimple handles POST /api/ledger/postings
func (h *Handler) HandlePostSimple(w http.ResponseWriter, r *http.Request) {
	var req postingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	date, err := utils.ParseDate(req.Date)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	posting, err := h.engine.PostSimple(ledger.SimpleInput{
		OwnerID:   req.OwnerID,
		AccountID: req.AccountID,
		TypeID:    req.TypeID,
		Date:      date,
		Amount:    amount,
		Note:      req.Note,
	})
	if err != nil {
		h.writeDomainError(w, err, "Failed to post")
		return
	}

	h.writeJSON(w, http.StatusCreated, posting)
}

type transferRequest struct {
	OwnerID       int64  `json:"owner_id"`
	SourceID      int64  `json:"source_id"`
	DestinationID int64  `json:"destination_id"`
	DebitTypeID   int64  `json:"debit_type_id"`
	Date          string `json:"date"`
	Amount        string `json:"amount"`
	Note          string `json:"note"`
}

// HandlePostTransfer handles POST /api/ledger/transfers
func (h *Handler) HandlePostTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	date, err := utils.ParseDate(req.Date)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	transfer, err := h.engine.PostTransfer(ledger.TransferInput{
		OwnerID:       req.OwnerID,
		SourceID:      req.SourceID,
		DestinationID: req.DestinationID,
		DebitTypeID:   req.DebitTypeID,
		Date:          date,
		Amount:        amount,
		Note:          req.Note,
	})
	if err != nil {
		h.writeDomainError(w, err, "Failed to post transfer")
		return
	}

	h.writeJSON(w, http.StatusCreated, transfer)
}

// HandleReverse handles POST /api/ledger/postings/{id}/reverse
func (h *Handler) HandleReverse(w http.ResponseWriter, r *http.Request) {
	postingID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid posting id")
		return
	}

	var req struct {
		OwnerID int64 `json:"owner_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.engine.Reverse(req.OwnerID, postingID); err != nil {
		h.writeDomainError(w, err, "Failed to reverse posting")
		return
	}

	h.writeJSON(w, http.StatusOK, domain.Ok("posting reversed"))
}

// HandleEntries handles GET /api/ledger/entries?owner_id=&month=
func (h *Handler) HandleEntries(w http.ResponseWriter, r *http.Request) {
	ownerID, err := queryInt64(r, "owner_id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}
	month := r.URL.Query().Get("month")
	if _, _, err := utils.ParseMonthKey(month); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid month, expected YYYY-MM")
		return
	}

	entries, err := h.engine.Entries(ownerID, month)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list entries")
		h.writeError(w, http.StatusInternalServerError, "failed to list entries")
		return
	}

	h.writeJSON(w, http.StatusOK, entries)
}

// HandleStatement handles GET /api/ledger/statement?owner_id=&account_id=&from=&to=
func (h *Handler) HandleStatement(w http.ResponseWriter, r *http.Request) {
	ownerID, err := queryInt64(r, "owner_id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}
	accountID, err := queryInt64(r, "account_id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}
	from, err := utils.ParseDate(r.URL.Query().Get("from"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid from date, expected YYYY-MM-DD")
		return
	}
	to, err := utils.ParseDate(r.URL.Query().Get("to"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid to date, expected YYYY-MM-DD")
		return
	}
	if to.Before(from) {
		h.writeError(w, http.StatusBadRequest, "to date precedes from date")
		return
	}

	postings, err := h.engine.Statement(ownerID, accountID, from, to)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to build statement")
		h.writeError(w, http.StatusInternalServerError, "failed to build statement")
		return
	}

	h.writeJSON(w, http.StatusOK, postings)
}

func queryInt64(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
}

// writeDomainError maps business-rule errors to client statuses; anything
// else is a system fault.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrPostingNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrAccountInactive),
		errors.Is(err, domain.ErrCounterpartMissing):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrLaterPostingsExist),
		errors.Is(err, domain.ErrPostingLinkedToObligation):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		h.log.Error().Err(err).Msg(logMsg)
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{
		"error": message,
	})
}
