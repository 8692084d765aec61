package portfolio

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

// drawDecimal draws a positive decimal with up to scale fractional digits.
func drawDecimal(t *rapid.T, label string, scale int32) decimal.Decimal {
	units := rapid.Int64Range(1, 1_000_000_000).Draw(t, label)
	return decimal.New(units, -scale)
}

func TestProperty_BuyArithmetic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cash := drawDecimal(t, "cash", 2)
		qty := drawDecimal(t, "qty", 6)
		price := drawDecimal(t, "price", 2)

		p := New(cash)
		_, err := p.ApplyBuy("eth", qty, price, time.Now())

		cost := qty.Mul(price)
		if cash.LessThan(cost) {
			if err != ErrInsufficientCash {
				t.Fatalf("expected ErrInsufficientCash, got %v", err)
			}
			if !p.Cash().Equal(cash) || !p.Holding("eth").IsZero() {
				t.Fatalf("rejected buy mutated portfolio")
			}
			return
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !p.Cash().Equal(cash.Sub(cost)) {
			t.Fatalf("cash %s != %s - %s", p.Cash(), cash, cost)
		}
		if !p.Holding("eth").Equal(qty) {
			t.Fatalf("holding %s != %s", p.Holding("eth"), qty)
		}
		if p.Cash().IsNegative() {
			t.Fatalf("cash went negative: %s", p.Cash())
		}
	})
}

func TestProperty_SellArithmetic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		held := drawDecimal(t, "held", 4)
		qty := drawDecimal(t, "qty", 4)
		price := drawDecimal(t, "price", 2)

		p := New(held.Mul(price))
		if _, err := p.ApplyBuy("btc", held, price, time.Now()); err != nil {
			t.Fatalf("setup buy failed: %v", err)
		}
		cashBefore := p.Cash()

		_, err := p.ApplySell("btc", qty, price, time.Now())
		if held.LessThan(qty) {
			if err != ErrInsufficientHolding {
				t.Fatalf("expected ErrInsufficientHolding, got %v", err)
			}
			if !p.Holding("btc").Equal(held) || !p.Cash().Equal(cashBefore) {
				t.Fatalf("rejected sell mutated portfolio")
			}
			return
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !p.Holding("btc").Equal(held.Sub(qty)) {
			t.Fatalf("holding %s != %s - %s", p.Holding("btc"), held, qty)
		}
		if !p.Cash().Equal(cashBefore.Add(qty.Mul(price))) {
			t.Fatalf("cash %s not credited", p.Cash())
		}
	})
}

func TestProperty_RoundTripRestoresState(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		qty := drawDecimal(t, "qty", 8)
		price := drawDecimal(t, "price", 2)
		cash := qty.Mul(price).Add(drawDecimal(t, "extra", 2))

		p := New(cash)
		if _, err := p.ApplyBuy("sol", qty, price, time.Now()); err != nil {
			t.Fatalf("buy failed: %v", err)
		}
		if _, err := p.ApplySell("sol", qty, price, time.Now()); err != nil {
			t.Fatalf("sell failed: %v", err)
		}
		if !p.Cash().Equal(cash) {
			t.Fatalf("cash %s != original %s", p.Cash(), cash)
		}
		if !p.Holding("sol").IsZero() {
			t.Fatalf("holding not restored: %s", p.Holding("sol"))
		}
	})
}

func TestProperty_ValueAtMonotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		qty := drawDecimal(t, "qty", 4)
		price := drawDecimal(t, "price", 2)
		bump := drawDecimal(t, "bump", 2)

		p := New(qty.Mul(price))
		if _, err := p.ApplyBuy("eth", qty, price, time.Now()); err != nil {
			t.Fatalf("buy failed: %v", err)
		}

		base := p.ValueAt(map[string]decimal.Decimal{"eth": price})
		higher := p.ValueAt(map[string]decimal.Decimal{"eth": price.Add(bump)})
		if higher.LessThan(base) {
			t.Fatalf("raising price lowered value: %s < %s", higher, base)
		}

		// Holding more of an asset at a fixed price never lowers value.
		more := New(qty.Mul(price).Add(bump))
		more.ApplyBuy("eth", qty, price, time.Now())
		more.cash = p.cash
		more.holdings["eth"] = more.holdings["eth"].Add(bump)
		if more.ValueAt(map[string]decimal.Decimal{"eth": price}).LessThan(base) {
			t.Fatalf("larger holding produced lower value")
		}
	})
}
