package portfolio

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestBuyDebitsCashAndCreditsHolding(t *testing.T) {
	p := New(d("10"))

	trade, err := p.ApplyBuy("eth", d("0.005"), d("2000"), time.Now())
	if err != nil {
		t.Fatalf("ApplyBuy failed: %v", err)
	}

	if !p.Cash().IsZero() {
		t.Errorf("expected cash 0, got %s", p.Cash())
	}
	if !p.Holding("eth").Equal(d("0.005")) {
		t.Errorf("expected eth 0.005, got %s", p.Holding("eth"))
	}
	if !trade.Notional.Equal(d("10")) {
		t.Errorf("expected notional 10, got %s", trade.Notional)
	}
	if trade.Side != Buy || trade.ID == "" {
		t.Errorf("unexpected trade record: %+v", trade)
	}
	if len(p.Trades()) != 1 {
		t.Errorf("expected 1 trade in log, got %d", len(p.Trades()))
	}
}

func TestBuyInsufficientCashLeavesPortfolioUnchanged(t *testing.T) {
	p := New(d("10"))
	if _, err := p.ApplyBuy("eth", d("0.005"), d("2000"), time.Now()); err != nil {
		t.Fatalf("first buy failed: %v", err)
	}

	_, err := p.ApplyBuy("eth", d("0.000001"), d("2000"), time.Now())
	if err != ErrInsufficientCash {
		t.Fatalf("expected ErrInsufficientCash, got %v", err)
	}
	if !p.Cash().IsZero() || !p.Holding("eth").Equal(d("0.005")) {
		t.Errorf("portfolio mutated on rejection: cash=%s eth=%s", p.Cash(), p.Holding("eth"))
	}
	if len(p.Trades()) != 1 {
		t.Errorf("rejected trade must not be logged")
	}
}

func TestSellInsufficientHolding(t *testing.T) {
	p := New(d("10"))

	if _, err := p.ApplySell("btc", d("1"), d("100"), time.Now()); err != ErrInsufficientHolding {
		t.Fatalf("expected ErrInsufficientHolding, got %v", err)
	}
	if !p.Cash().Equal(d("10")) {
		t.Errorf("cash changed on rejection: %s", p.Cash())
	}
}

func TestSellRemovesEmptyHolding(t *testing.T) {
	p := New(d("100"))
	p.ApplyBuy("sol", d("2"), d("25"), time.Now())

	if _, err := p.ApplySell("sol", d("2"), d("30"), time.Now()); err != nil {
		t.Fatalf("ApplySell failed: %v", err)
	}
	if !p.Cash().Equal(d("110")) {
		t.Errorf("expected cash 110, got %s", p.Cash())
	}
	if _, ok := p.Holdings()["sol"]; ok {
		t.Error("expected sol to be removed from holdings")
	}
}

func TestRejectsNonPositiveParameters(t *testing.T) {
	tests := []struct {
		name     string
		quantity string
		price    string
	}{
		{"zero quantity", "0", "10"},
		{"negative quantity", "-1", "10"},
		{"zero price", "1", "0"},
		{"negative price", "1", "-5"},
		{"too fine quantity", "0.0000000000000000001", "10"},
		{"huge quantity exponent", "1e2000000000", "10"},
		{"too many integer digits", "1000000000000000000000000000000", "1"},
		{"huge price", "1", "1e40"},
		{"huge negative exponent on price", "1", "1e-2000000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(d("1000"))
			if _, err := p.ApplyBuy("eth", d(tt.quantity), d(tt.price), time.Now()); err != ErrInvalidTrade {
				t.Errorf("buy: expected ErrInvalidTrade, got %v", err)
			}
			if _, err := p.ApplySell("eth", d(tt.quantity), d(tt.price), time.Now()); err != ErrInvalidTrade {
				t.Errorf("sell: expected ErrInvalidTrade, got %v", err)
			}
			if !p.Cash().Equal(d("1000")) {
				t.Errorf("cash changed: %s", p.Cash())
			}
		})
	}
}

func TestInRange(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"1", true},
		{"0.000000000000000001", true},
		{"0.0000000000000000001", false},
		{"1e29", true},
		{"999999999999999999999999999999", true},
		{"1e30", false},
		{"123.456e27", true},
		{"123.456e28", false},
		{"1e20000000", false},
		{"-1e20000000", false},
	}
	for _, tt := range tests {
		if got := InRange(d(tt.value)); got != tt.want {
			t.Errorf("InRange(%s) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestApplyUnknownSide(t *testing.T) {
	p := New(d("10"))
	if _, err := p.Apply(Side("hold"), "eth", d("1"), d("1"), time.Now()); err != ErrInvalidTrade {
		t.Errorf("expected ErrInvalidTrade, got %v", err)
	}
}

func TestValueAtIgnoresMissingPrices(t *testing.T) {
	p := New(d("100"))
	p.ApplyBuy("eth", d("0.01"), d("2000"), time.Now())
	p.ApplyBuy("btc", d("0.001"), d("50000"), time.Now())

	value := p.ValueAt(map[string]decimal.Decimal{"eth": d("2500")})
	// cash 30, eth 0.01*2500 = 25, btc unpriced
	if !value.Equal(d("55")) {
		t.Errorf("expected 55, got %s", value)
	}

	if v := p.ValueAt(nil); !v.Equal(d("30")) {
		t.Errorf("expected cash-only value 30, got %s", v)
	}
}

func TestSettlementScenarioValues(t *testing.T) {
	a := New(d("10"))
	a.ApplyBuy("eth", d("0.005"), d("2000"), time.Now())
	b := New(d("10"))

	quote := map[string]decimal.Decimal{"eth": d("2500")}
	if v := a.ValueAt(quote); !v.Equal(d("12.5")) {
		t.Errorf("seat A: expected 12.5, got %s", v)
	}
	if v := b.ValueAt(quote); !v.Equal(d("10")) {
		t.Errorf("seat B: expected 10, got %s", v)
	}
}
