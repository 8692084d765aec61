// Package portfolio implements the per-seat cash and holdings ledger used
// inside a duel. A Portfolio is not safe for concurrent use; the owning match
// serializes access to it.
package portfolio

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidTrade        = errors.New("quantity and price must be positive")
	ErrInsufficientCash    = errors.New("insufficient cash for this trade")
	ErrInsufficientHolding = errors.New("insufficient holding for this trade")
)

// MaxQuantityScale bounds the number of fractional digits accepted on a
// quantity. Anything finer is rejected as an invalid trade.
const MaxQuantityScale = 18

// MaxIntegerDigits bounds the magnitude of quantities, prices and stakes.
const MaxIntegerDigits = 30

// Side is the direction of a trade.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// Trade is one executed order in a seat's log. Trades are append-only.
type Trade struct {
	ID        string          `json:"id"`
	Asset     string          `json:"asset"`
	Side      Side            `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Notional  decimal.Decimal `json:"notional"`
	Timestamp time.Time       `json:"timestamp"`
}

// Portfolio holds cash and per-asset quantities. Both are never negative.
type Portfolio struct {
	cash     decimal.Decimal
	holdings map[string]decimal.Decimal
	trades   []Trade
}

// New returns a portfolio funded with cash and no holdings.
func New(cash decimal.Decimal) *Portfolio {
	return &Portfolio{
		cash:     cash,
		holdings: make(map[string]decimal.Decimal),
	}
}

// Cash returns the current cash balance.
func (p *Portfolio) Cash() decimal.Decimal {
	return p.cash
}

// Holding returns the quantity held of asset, zero if none.
func (p *Portfolio) Holding(asset string) decimal.Decimal {
	return p.holdings[asset]
}

// Holdings returns a copy of the non-zero holdings.
func (p *Portfolio) Holdings() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(p.holdings))
	for asset, qty := range p.holdings {
		if !qty.IsZero() {
			out[asset] = qty
		}
	}
	return out
}

// Trades returns a copy of the trade log in execution order.
func (p *Portfolio) Trades() []Trade {
	out := make([]Trade, len(p.trades))
	copy(out, p.trades)
	return out
}

// ApplyBuy debits quantity*price from cash and credits the holding.
// On error nothing is changed.
func (p *Portfolio) ApplyBuy(asset string, quantity, price decimal.Decimal, at time.Time) (Trade, error) {
	if err := checkParams(quantity, price); err != nil {
		return Trade{}, err
	}

	cost := quantity.Mul(price)
	if p.cash.LessThan(cost) {
		return Trade{}, ErrInsufficientCash
	}

	p.cash = p.cash.Sub(cost)
	p.holdings[asset] = p.holdings[asset].Add(quantity)
	return p.record(asset, Buy, quantity, price, cost, at), nil
}

// ApplySell debits the holding and credits quantity*price to cash.
// On error nothing is changed.
func (p *Portfolio) ApplySell(asset string, quantity, price decimal.Decimal, at time.Time) (Trade, error) {
	if err := checkParams(quantity, price); err != nil {
		return Trade{}, err
	}

	held := p.holdings[asset]
	if held.LessThan(quantity) {
		return Trade{}, ErrInsufficientHolding
	}

	proceeds := quantity.Mul(price)
	remaining := held.Sub(quantity)
	if remaining.IsZero() {
		delete(p.holdings, asset)
	} else {
		p.holdings[asset] = remaining
	}
	p.cash = p.cash.Add(proceeds)
	return p.record(asset, Sell, quantity, price, proceeds, at), nil
}

// Apply dispatches to ApplyBuy or ApplySell.
func (p *Portfolio) Apply(side Side, asset string, quantity, price decimal.Decimal, at time.Time) (Trade, error) {
	switch side {
	case Buy:
		return p.ApplyBuy(asset, quantity, price, at)
	case Sell:
		return p.ApplySell(asset, quantity, price, at)
	default:
		return Trade{}, ErrInvalidTrade
	}
}

// ValueAt returns cash plus every holding marked at prices. Assets missing
// from prices contribute zero.
func (p *Portfolio) ValueAt(prices map[string]decimal.Decimal) decimal.Decimal {
	total := p.cash
	for _, asset := range p.sortedAssets() {
		price, ok := prices[asset]
		if !ok {
			continue
		}
		total = total.Add(p.holdings[asset].Mul(price))
	}
	return total
}

func (p *Portfolio) record(asset string, side Side, quantity, price, notional decimal.Decimal, at time.Time) Trade {
	t := Trade{
		ID:        uuid.New().String(),
		Asset:     asset,
		Side:      side,
		Quantity:  quantity,
		Price:     price,
		Notional:  notional,
		Timestamp: at,
	}
	p.trades = append(p.trades, t)
	return t
}

func (p *Portfolio) sortedAssets() []string {
	assets := make([]string, 0, len(p.holdings))
	for asset := range p.holdings {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}

// InRange reports whether d has at most MaxQuantityScale fractional digits
// and at most MaxIntegerDigits integer digits. It reads only the exponent and
// the coefficient length, so it must run before any comparison or arithmetic
// on untrusted input.
func InRange(d decimal.Decimal) bool {
	exp := int(d.Exponent())
	if exp < -MaxQuantityScale {
		return false
	}
	return d.NumDigits()+exp <= MaxIntegerDigits
}

func checkParams(quantity, price decimal.Decimal) error {
	if !InRange(quantity) || !InRange(price) {
		return ErrInvalidTrade
	}
	if !quantity.IsPositive() || !price.IsPositive() {
		return ErrInvalidTrade
	}
	return nil
}
