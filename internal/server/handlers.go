package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/mbarbosa/fincore/internal/utils"
)

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":  "healthy",
		"version": "1.0.0",
		"service": "fincore",
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleInvoiceSync handles POST /api/invoices/sync?owner_id=
func (s *Server) handleInvoiceSync(w http.ResponseWriter, r *http.Request) {
	ownerID, err := queryInt64(r, "owner_id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}

	stats, err := s.invoices.SyncOwner(ownerID)
	if err != nil {
		s.log.Error().Err(err).Int64("owner_id", ownerID).Msg("Invoice sync failed")
		s.writeError(w, http.StatusInternalServerError, "invoice sync failed")
		return
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// handlePayables handles GET /api/reports/payables?owner_id=&month=
func (s *Server) handlePayables(w http.ResponseWriter, r *http.Request) {
	ownerID, month, ok := s.reportParams(w, r)
	if !ok {
		return
	}

	payables, err := s.reports.PayablesByMonth(ownerID, month)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to build payables report")
		s.writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}

	s.writeJSON(w, http.StatusOK, payables)
}

// handleReceivables handles GET /api/reports/receivables?owner_id=&month=
func (s *Server) handleReceivables(w http.ResponseWriter, r *http.Request) {
	ownerID, month, ok := s.reportParams(w, r)
	if !ok {
		return
	}

	receivables, err := s.reports.ReceivablesByMonth(ownerID, month)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to build receivables report")
		s.writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}

	s.writeJSON(w, http.StatusOK, receivables)
}

// handleSummary handles GET /api/reports/summary?owner_id=&month=
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	ownerID, month, ok := s.reportParams(w, r)
	if !ok {
		return
	}

	summary, err := s.reports.Summary(ownerID, month)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to build month summary")
		s.writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}

	s.writeJSON(w, http.StatusOK, summary)
}

// handleAccountKPIs handles GET /api/reports/accounts?owner_id=&month=
func (s *Server) handleAccountKPIs(w http.ResponseWriter, r *http.Request) {
	ownerID, month, ok := s.reportParams(w, r)
	if !ok {
		return
	}

	kpis, err := s.reports.AccountKPIs(ownerID, month)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to build account KPIs")
		s.writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}

	s.writeJSON(w, http.StatusOK, kpis)
}

func (s *Server) reportParams(w http.ResponseWriter, r *http.Request) (int64, string, bool) {
	ownerID, err := queryInt64(r, "owner_id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "owner_id is required")
		return 0, "", false
	}
	month := r.URL.Query().Get("month")
	if _, _, err := utils.ParseMonthKey(month); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid month, expected YYYY-MM")
		return 0, "", false
	}
	return ownerID, month, true
}

func queryInt64(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{
		"error": message,
	})
}
