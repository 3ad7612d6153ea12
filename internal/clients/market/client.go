// Package market is the outbound HTTP client for the separate market engine.
// Market creation is best-effort: the settlement core functions fully without
// a market, so callers log failures and move on.
package market

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/atmx/atmx/internal/metrics"
)

// Market is the engine's view of a tradeable market bound to a contract.
type Market struct {
	ID         string `json:"id"`
	ContractID string `json:"contract_id"`
	Status     string `json:"status,omitempty"`
}

// Client talks to the market engine's v1 API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// New creates a market engine client.
func New(baseURL string, httpClient *http.Client, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		log:        log.With().Str("client", "market_engine").Logger(),
	}
}

// CreateMarket opens a market for a contract.
func (c *Client) CreateMarket(ctx context.Context, contractID string) (Market, error) {
	body, err := json.Marshal(map[string]string{"contract_id": contractID})
	if err != nil {
		return Market{}, fmt.Errorf("failed to encode market request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/markets", bytes.NewReader(body))
	if err != nil {
		return Market{}, fmt.Errorf("failed to build market request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.UpstreamFetchErrors.WithLabelValues("market_engine").Inc()
		return Market{}, fmt.Errorf("market creation for contract %s failed: %w", contractID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		metrics.UpstreamFetchErrors.WithLabelValues("market_engine").Inc()
		return Market{}, fmt.Errorf("market creation for contract %s returned status %d", contractID, resp.StatusCode)
	}

	var market Market
	if err := json.NewDecoder(resp.Body).Decode(&market); err != nil {
		return Market{}, fmt.Errorf("failed to decode market response: %w", err)
	}

	c.log.Info().
		Str("market_id", market.ID).
		Str("contract_id", contractID).
		Msg("Market created")

	return market, nil
}

// ListMarkets returns all markets known to the engine.
func (c *Client) ListMarkets(ctx context.Context) ([]Market, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/markets", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build market list request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.UpstreamFetchErrors.WithLabelValues("market_engine").Inc()
		return nil, fmt.Errorf("market list failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.UpstreamFetchErrors.WithLabelValues("market_engine").Inc()
		return nil, fmt.Errorf("market list returned status %d", resp.StatusCode)
	}

	var markets []Market
	if err := json.NewDecoder(resp.Body).Decode(&markets); err != nil {
		return nil, fmt.Errorf("failed to decode market list: %w", err)
	}
	return markets, nil
}
