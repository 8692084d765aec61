package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCoinIDs maps tradable symbols to CoinGecko coin ids.
var DefaultCoinIDs = map[string]string{
	"eth": "ethereum",
	"btc": "bitcoin",
	"sol": "solana",
}

// HTTPSource fetches spot prices from a CoinGecko-compatible
// /simple/price endpoint.
type HTTPSource struct {
	baseURL    string
	apiKey     string
	coinIDs    map[string]string
	httpClient *http.Client
}

// NewHTTPSource creates a source against baseURL. An empty coinIDs uses
// DefaultCoinIDs.
func NewHTTPSource(baseURL, apiKey string, coinIDs map[string]string) *HTTPSource {
	if len(coinIDs) == 0 {
		coinIDs = DefaultCoinIDs
	}
	ids := make(map[string]string, len(coinIDs))
	for asset, id := range coinIDs {
		ids[NormalizeAsset(asset)] = id
	}
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		coinIDs: ids,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// simplePriceResponse is keyed by coin id, then by vs-currency.
type simplePriceResponse map[string]map[string]decimal.Decimal

func (s *HTTPSource) Fetch(ctx context.Context, assets []string) (map[string]decimal.Decimal, error) {
	byCoin := make(map[string]string, len(assets))
	ids := make([]string, 0, len(assets))
	for _, asset := range assets {
		id, ok := s.coinIDs[NormalizeAsset(asset)]
		if !ok {
			continue
		}
		byCoin[id] = NormalizeAsset(asset)
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no coin ids configured for assets %v", assets)
	}

	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/simple/price?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build price request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("price request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price api returned status %d", resp.StatusCode)
	}

	var body simplePriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode price response: %w", err)
	}

	prices := make(map[string]decimal.Decimal, len(body))
	for id, quotes := range body {
		asset, ok := byCoin[id]
		if !ok {
			continue
		}
		if usd, ok := quotes["usd"]; ok {
			prices[asset] = usd
		}
	}
	return prices, nil
}
