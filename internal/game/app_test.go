package game

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duel/internal/config"
	"duel/internal/match"
	"duel/internal/portfolio"
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Price.RefreshInterval = config.Duration{Duration: 50 * time.Millisecond}
	cfg.LogFormat = "console"
	return &cfg
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := testConfig()
	require.NoError(t, cfg.Validate())
	app, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })
	return app
}

func TestAppServesAndShutsDown(t *testing.T) {
	app := newTestApp(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// The feed loop runs while serving.
	seeded := app.Feed().Current().Timestamp
	assert.Eventually(t, func() bool {
		return app.Feed().Current().Timestamp.After(seeded)
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestAppRejectsUnknownPriceSource(t *testing.T) {
	cfg := testConfig()
	cfg.Price.Source = "carrier-pigeon"
	_, err := New(cfg, nil)
	assert.Error(t, err)
}

func TestAppArchivesSettledMatch(t *testing.T) {
	app := newTestApp(t)
	engine := app.Engine()

	snap, err := engine.CreateMatch("alice", decimal.RequireFromString("1"), 60, []string{"eth"})
	require.NoError(t, err)
	_, err = engine.JoinMatch(snap.ID, "bob")
	require.NoError(t, err)
	_, err = engine.ExecuteTrade(snap.ID, "bob", "eth", portfolio.Buy, decimal.RequireFromString("0.0001"))
	require.NoError(t, err)
	require.True(t, engine.Settle(snap.ID))

	rec, err := app.Archive().GetMatch(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.SeatA)
	assert.Equal(t, "bob", rec.SeatB)
	assert.True(t, rec.PrizePool.Equal(decimal.RequireFromString("2")))

	trades, err := app.Archive().GetMatchTrades(snap.ID)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "bob", trades[0].Player)

	for _, player := range []string{"alice", "bob"} {
		r, err := app.Archive().GetPlayerRecord(player)
		require.NoError(t, err)
		assert.Equal(t, 1, r.MatchesPlayed, player)
	}
}

func TestSettlementRecordSkipsUnsettled(t *testing.T) {
	_, _, ok := settlementRecord(match.Snapshot{ID: "m", Status: match.StatusActive})
	assert.False(t, ok)
}

func TestSettlementRecordMergesTrades(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Minute)
	trade := func(id string, offset time.Duration) portfolio.Trade {
		return portfolio.Trade{ID: id, Asset: "eth", Side: portfolio.Buy, Timestamp: start.Add(offset)}
	}

	snap := match.Snapshot{
		ID:        "m",
		Status:    match.StatusCompleted,
		SeatA:     "alice",
		SeatB:     "bob",
		StartedAt: &start,
		EndedAt:   &end,
		Result:    &match.Result{Winner: match.Draw},
		PortfolioA: &match.PortfolioView{Player: "alice", Trades: []portfolio.Trade{
			trade("a1", 1*time.Second), trade("a2", 3*time.Second),
		}},
		PortfolioB: &match.PortfolioView{Player: "bob", Trades: []portfolio.Trade{
			trade("b1", 2*time.Second),
		}},
	}

	rec, trades, ok := settlementRecord(snap)
	require.True(t, ok)
	assert.Equal(t, match.Draw, rec.Winner)
	require.Len(t, trades, 3)
	assert.Equal(t, []string{"a1", "b1", "a2"}, []string{trades[0].ID, trades[1].ID, trades[2].ID})
	assert.Equal(t, "bob", trades[1].Player)
	assert.Equal(t, "m", trades[1].MatchID)
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		l, err := NewLogger("debug", format)
		require.NoError(t, err)
		assert.True(t, l.Core().Enabled(-1))
	}
	_, err := NewLogger("loud", "json")
	assert.Error(t, err)
}
