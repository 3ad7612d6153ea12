package market

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateMarket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/markets", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "c-1", body["contract_id"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Market{ID: "m-1", ContractID: "c-1", Status: "open"})
	}))
	defer srv.Close()

	client := New(srv.URL, srv.Client(), zerolog.Nop())
	market, err := client.CreateMarket(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, "m-1", market.ID)
	assert.Equal(t, "c-1", market.ContractID)
}

func TestCreateMarketUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := New(srv.URL, srv.Client(), zerolog.Nop())
	_, err := client.CreateMarket(context.Background(), "c-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestListMarkets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		json.NewEncoder(w).Encode([]Market{
			{ID: "m-1", ContractID: "c-1"},
			{ID: "m-2", ContractID: "c-2"},
		})
	}))
	defer srv.Close()

	client := New(srv.URL, srv.Client(), zerolog.Nop())
	markets, err := client.ListMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 2)
	assert.Equal(t, "m-2", markets[1].ID)
}
