package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/atmx/internal/clients/market"
	"github.com/atmx/atmx/internal/database"
	"github.com/atmx/atmx/internal/modules/contracts"
)

type stubMarkets struct {
	created []string
	err     error
}

func (s *stubMarkets) CreateMarket(_ context.Context, contractID string) (market.Market, error) {
	if s.err != nil {
		return market.Market{}, s.err
	}
	s.created = append(s.created, contractID)
	return market.Market{ID: "mkt-1", ContractID: contractID, Status: "open"}, nil
}

func (s *stubMarkets) ListMarkets(_ context.Context) ([]market.Market, error) {
	if s.err != nil {
		return nil, s.err
	}
	markets := make([]market.Market, 0, len(s.created))
	for _, id := range s.created {
		markets = append(markets, market.Market{ID: "mkt-1", ContractID: id, Status: "open"})
	}
	return markets, nil
}

func newTestRouter(t *testing.T, markets MarketCreator) *chi.Mux {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	repo := contracts.NewRepository(db, zerolog.Nop())
	handler := NewHandler(repo, markets, zerolog.Nop())

	router := chi.NewRouter()
	handler.RegisterRoutes(router)
	return router
}

func createBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"h3_cell":      "872a100d2ffffff",
		"metric":       "precipitation",
		"threshold":    25.0,
		"unit":         "mm",
		"window_hours": 24,
		"expiry_utc":   time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339),
		"description":  "heavy rain cover",
	})
	require.NoError(t, err)
	return body
}

func TestCreateContract(t *testing.T) {
	markets := &stubMarkets{}
	router := newTestRouter(t, markets)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/contracts", bytes.NewReader(createBody(t))))

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Contract contracts.Contract `json:"contract"`
		MarketID string             `json:"market_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Contract.ID)
	assert.Equal(t, contracts.MetricPrecipitation, resp.Contract.Metric)
	assert.Equal(t, "mkt-1", resp.MarketID)
	assert.Equal(t, []string{resp.Contract.ID}, markets.created)
}

func TestCreateContractSurvivesMarketFailure(t *testing.T) {
	router := newTestRouter(t, &stubMarkets{err: errors.New("engine down")})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/contracts", bytes.NewReader(createBody(t))))

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp, "contract")
	assert.NotContains(t, resp, "market_id")
}

func TestCreateContractValidation(t *testing.T) {
	router := newTestRouter(t, nil)

	body, _ := json.Marshal(map[string]interface{}{
		"h3_cell":      "",
		"metric":       "precipitation",
		"threshold":    25.0,
		"window_hours": 24,
		"expiry_utc":   time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/contracts", bytes.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAndStatus(t *testing.T) {
	router := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/contracts", bytes.NewReader(createBody(t))))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Contract contracts.Contract `json:"contract"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/contracts/"+created.Contract.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/contracts/"+created.Contract.ID+"/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "active", status["status"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/contracts/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListContracts(t *testing.T) {
	router := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/contracts", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Contracts []contracts.Contract `json:"contracts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Contracts)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/contracts", bytes.NewReader(createBody(t))))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/contracts", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Contracts, 1)
}

func TestListMarketsWithoutEngine(t *testing.T) {
	router := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/markets", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListMarkets(t *testing.T) {
	markets := &stubMarkets{}
	router := newTestRouter(t, markets)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/contracts", bytes.NewReader(createBody(t))))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/markets", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Markets []market.Market `json:"markets"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Markets, 1)
}
