package market

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"duel/internal/portfolio"
)

// Quote is an immutable snapshot of per-asset USD prices. A new Quote is
// built on every refresh and swapped in whole.
type Quote struct {
	Prices    map[string]decimal.Decimal `json:"prices"`
	Timestamp time.Time                  `json:"timestamp"`
}

// NewQuote copies prices, dropping non-positive or out-of-range entries and
// lower-casing symbols.
func NewQuote(prices map[string]decimal.Decimal, ts time.Time) Quote {
	clean := make(map[string]decimal.Decimal, len(prices))
	for asset, price := range prices {
		if !portfolio.InRange(price) || !price.IsPositive() {
			continue
		}
		clean[NormalizeAsset(asset)] = price
	}
	return Quote{Prices: clean, Timestamp: ts}
}

// Price returns the price of asset and whether it is quoted.
func (q Quote) Price(asset string) (decimal.Decimal, bool) {
	p, ok := q.Prices[NormalizeAsset(asset)]
	return p, ok
}

// Assets returns the quoted symbols in sorted order.
func (q Quote) Assets() []string {
	assets := make([]string, 0, len(q.Prices))
	for a := range q.Prices {
		assets = append(assets, a)
	}
	sort.Strings(assets)
	return assets
}

// NormalizeAsset canonicalizes an asset symbol.
func NormalizeAsset(asset string) string {
	return strings.ToLower(strings.TrimSpace(asset))
}
