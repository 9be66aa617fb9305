package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbarbosa/fincore/internal/config"
	"github.com/mbarbosa/fincore/internal/database"
	"github.com/mbarbosa/fincore/internal/modules/accounts"
	"github.com/mbarbosa/fincore/internal/modules/cards"
	"github.com/mbarbosa/fincore/internal/modules/invoices"
	"github.com/mbarbosa/fincore/internal/modules/ledger"
	"github.com/mbarbosa/fincore/internal/modules/reports"
	"github.com/mbarbosa/fincore/internal/modules/transactiontypes"
	"github.com/mbarbosa/fincore/internal/scheduler"
)

func setupServer(t *testing.T) *Server {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "finance.db"),
		Profile: database.ProfileLedger,
		Name:    "finance",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	log := zerolog.Nop()
	conn := db.Conn()
	accountRepo := accounts.NewRepository(conn, log)
	registry := transactiontypes.NewRegistry(transactiontypes.NewRepository(conn, log), log)
	engine := ledger.NewEngine(conn, ledger.NewRepository(conn, log), accountRepo, registry, log)
	cardRepo := cards.NewRepository(conn, log)
	invoiceSvc := invoices.NewService(invoices.NewRepository(conn, log), cardRepo, log)
	reportSvc := reports.NewService(conn, accountRepo, log)

	sched := scheduler.New(log)

	return New(Config{
		Port:              0,
		Log:               log,
		DB:                db,
		Config:            &config.Config{Port: 0},
		DevMode:           true,
		Engine:            engine,
		Invoices:          invoiceSvc,
		Reports:           reportSvc,
		Scheduler:         sched,
		InvoiceSyncJob:    scheduler.NewInvoiceSyncJob(invoiceSvc, log),
		InvoiceOverdueJob: scheduler.NewInvoiceOverdueJob(invoiceSvc, log),
	})
}

func (s *Server) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	s := setupServer(t)

	rr := s.get(t, "/health")
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "fincore", body["service"])
}

func TestReportParamValidation(t *testing.T) {
	s := setupServer(t)

	rr := s.get(t, "/api/reports/summary?month=2025-04")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.get(t, "/api/reports/summary?owner_id=1&month=April")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.get(t, "/api/reports/summary?owner_id=1&month=2025-04")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestInvoiceSyncEndpoint(t *testing.T) {
	s := setupServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/invoices/sync?owner_id=1", nil)
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var stats invoices.SyncStats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Zero(t, stats.Created)
}

func TestDatabaseStatsEndpoint(t *testing.T) {
	s := setupServer(t)

	rr := s.get(t, "/api/system/database")
	require.Equal(t, http.StatusOK, rr.Code)

	var body DatabaseStatsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "finance", body.Name)
	assert.True(t, body.Healthy)
}
