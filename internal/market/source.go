package market

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrUpstream marks a failed fetch from a price source. The Feed absorbs it
// and keeps serving the previous quote.
var ErrUpstream = errors.New("price source unavailable")

// Source fetches the latest USD price for each requested asset.
type Source interface {
	Fetch(ctx context.Context, assets []string) (map[string]decimal.Decimal, error)
}

// StaticSource serves a fixed, mutable price table. Useful for seeding and
// for tests that need to move prices deterministically.
type StaticSource struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	err    error
}

// NewStaticSource returns a source serving a copy of prices.
func NewStaticSource(prices map[string]decimal.Decimal) *StaticSource {
	s := &StaticSource{prices: make(map[string]decimal.Decimal)}
	for asset, p := range prices {
		s.prices[NormalizeAsset(asset)] = p
	}
	return s
}

// Set updates one price.
func (s *StaticSource) Set(asset string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[NormalizeAsset(asset)] = price
}

// Fail makes subsequent fetches return err until called with nil.
func (s *StaticSource) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *StaticSource) Fetch(_ context.Context, assets []string) (map[string]decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]decimal.Decimal, len(assets))
	for _, asset := range assets {
		if p, ok := s.prices[NormalizeAsset(asset)]; ok {
			out[NormalizeAsset(asset)] = p
		}
	}
	return out, nil
}
