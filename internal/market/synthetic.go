package market

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// SyntheticSource produces prices by a bounded multiplicative random walk
// per asset. Used when no external oracle is configured.
type SyntheticSource struct {
	mu         sync.Mutex
	prices     map[string]decimal.Decimal
	volatility float64 // standard deviation of each step, as a fraction of price
	drift      float64 // mean step, as a fraction of price
	floor      decimal.Decimal
	rng        *rand.Rand
}

// NewSyntheticSource starts the walk from seed prices.
func NewSyntheticSource(seed map[string]decimal.Decimal, volatility float64) *SyntheticSource {
	prices := make(map[string]decimal.Decimal, len(seed))
	for asset, p := range seed {
		prices[NormalizeAsset(asset)] = p
	}
	return &SyntheticSource{
		prices:     prices,
		volatility: volatility,
		floor:      decimal.New(1, -2),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Fetch advances every requested asset one step and returns the new prices.
func (s *SyntheticSource) Fetch(_ context.Context, assets []string) (map[string]decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]decimal.Decimal, len(assets))
	for _, asset := range assets {
		asset = NormalizeAsset(asset)
		price, ok := s.prices[asset]
		if !ok {
			continue
		}
		price = s.step(price)
		s.prices[asset] = price
		out[asset] = price
	}
	return out, nil
}

// step applies price *= 1 + drift + volatility*N(0,1), clamped at the floor
// and rounded to cents.
func (s *SyntheticSource) step(price decimal.Decimal) decimal.Decimal {
	change := s.drift + s.volatility*s.rng.NormFloat64()
	next := price.Mul(decimal.NewFromFloat(1 + change)).Round(2)
	if next.LessThan(s.floor) {
		next = s.floor
	}
	return next
}
