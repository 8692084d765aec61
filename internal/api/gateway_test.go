package api

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"duel/internal/market"
	"duel/internal/match"
)

const (
	alice = "0x1111111111111111111111111111111111111111"
	bob   = "0x2222222222222222222222222222222222222222"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func setupGateway(t *testing.T, commandLimit int) (*Gateway, *Hub, *match.Engine) {
	t.Helper()
	prices := map[string]decimal.Decimal{"eth": d("2000"), "btc": d("60000")}
	feed := market.NewFeed(market.NewStaticSource(prices), market.NewQuote(prices, time.Now()))
	hub := NewHub(nil)
	engine := match.NewEngine(feed, match.WithNotifier(hub))
	t.Cleanup(engine.Stop)

	limiter := NewRateLimiter(commandLimit, time.Minute)
	t.Cleanup(limiter.Stop)
	return NewGateway(engine, hub, NewAuthenticator(""), limiter, nil), hub, engine
}

func testClient(hub *Hub, remote string) *Client {
	c := newClient(nil, remote)
	hub.add(c)
	return c
}

func recv(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data := <-c.send:
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("bad frame %s: %v", data, err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return Message{}
	}
}

// expect reads until a message of typ arrives, skipping broadcasts.
func expect(t *testing.T, c *Client, typ string) Message {
	t.Helper()
	for i := 0; i < 20; i++ {
		if msg := recv(t, c); msg.Type == typ {
			return msg
		}
	}
	t.Fatalf("no %s message", typ)
	return Message{}
}

func assertNoMessage(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("unexpected message %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func send(g *Gateway, c *Client, frame string) {
	g.handle(c, []byte(frame))
}

func authenticate(t *testing.T, g *Gateway, hub *Hub, player string) *Client {
	t.Helper()
	c := testClient(hub, player+"-conn")
	send(g, c, `{"type":"auth","address":"`+player+`"}`)
	if msg := recv(t, c); msg.Type != MsgAuthenticated || msg.Player != player {
		t.Fatalf("expected authenticated as %s, got %+v", player, msg)
	}
	return c
}

func TestGatewayRejectsBadFrames(t *testing.T) {
	g, hub, _ := setupGateway(t, 0)
	c := authenticate(t, g, hub, alice)

	frames := map[string]string{
		"malformed":     `{"type":`,
		"not an object": `[1,2,3]`,
		"unknown type":  `{"type":"launch_rocket","requestId":"r1"}`,
		"missing type":  `{"matchId":"x"}`,
		"unknown field": `{"type":"get_match","matchId":"x","extra":true}`,
		"missing field": `{"type":"join_match"}`,
		"wrong type":    `{"type":"create_match","durationSeconds":"sixty"}`,
	}
	for name, frame := range frames {
		send(g, c, frame)
		msg := recv(t, c)
		if msg.Type != MsgError || msg.Code != "invalid_command" {
			t.Errorf("%s: expected invalid_command error, got %+v", name, msg)
		}
	}

	// The connection still works.
	send(g, c, `{"type":"ping","requestId":"p1"}`)
	if msg := recv(t, c); msg.Type != MsgPong || msg.RequestID != "p1" {
		t.Errorf("expected pong p1, got %+v", msg)
	}
}

func TestGatewayRequiresAuth(t *testing.T) {
	g, hub, _ := setupGateway(t, 0)
	c := testClient(hub, "anon")

	send(g, c, `{"type":"get_open_matches","requestId":"r1"}`)
	msg := recv(t, c)
	if msg.Code != "not_authenticated" || msg.RequestID != "r1" {
		t.Errorf("expected not_authenticated for r1, got %+v", msg)
	}

	send(g, c, `{"type":"auth","address":"alice"}`)
	if msg := recv(t, c); msg.Code != "invalid_address" {
		t.Errorf("expected invalid_address, got %+v", msg)
	}
	if hub.Players() != 0 {
		t.Errorf("failed auth must not register a player")
	}
}

func TestGatewayAuthOnce(t *testing.T) {
	g, hub, _ := setupGateway(t, 0)
	c := authenticate(t, g, hub, alice)

	send(g, c, `{"type":"auth","address":"`+bob+`"}`)
	if msg := recv(t, c); msg.Code != "already_authenticated" {
		t.Errorf("expected already_authenticated, got %+v", msg)
	}
	if c.Player() != alice {
		t.Errorf("player changed to %s", c.Player())
	}
}

func TestGatewayDuel(t *testing.T) {
	g, hub, engine := setupGateway(t, 0)
	a := authenticate(t, g, hub, alice)
	b := authenticate(t, g, hub, bob)

	send(g, a, `{"type":"create_match","requestId":"c1","stakeAmount":"1","durationSeconds":60,"assets":["ETH"]}`)
	created := expect(t, a, string(match.EventMatchCreated))
	if created.Match == nil || created.Match.SeatA != alice {
		t.Fatalf("unexpected match_created %+v", created)
	}
	id := created.Match.ID
	listing := expect(t, b, string(match.EventOpenMatches))
	if listing.Matches == nil || len(*listing.Matches) != 1 || (*listing.Matches)[0].ID != id {
		t.Fatalf("bob should see the open match, got %+v", listing.Matches)
	}

	send(g, b, `{"type":"join_match","matchId":"`+id+`"}`)
	for _, c := range []*Client{a, b} {
		started := expect(t, c, string(match.EventMatchStarted))
		if started.Match.Status != match.StatusActive || started.Match.SeatB != bob {
			t.Errorf("unexpected match_started %+v", started.Match)
		}
	}

	send(g, a, `{"type":"trade","requestId":"t1","matchId":"`+id+`","asset":"eth","side":"buy","quantity":"0.0002"}`)
	accepted := expect(t, a, MsgTradeAccepted)
	if accepted.RequestID != "t1" || !accepted.Trade.Notional.Equal(d("0.4")) {
		t.Errorf("unexpected trade_accepted %+v", accepted)
	}
	updated := expect(t, b, string(match.EventMatchUpdated))
	if !updated.Match.PortfolioA.Cash.Equal(d("0.6")) {
		t.Errorf("bob should see alice's cash at 0.6, got %s", updated.Match.PortfolioA.Cash)
	}

	send(g, b, `{"type":"trade","requestId":"t2","matchId":"`+id+`","asset":"eth","side":"buy","quantity":"1"}`)
	rejected := expect(t, b, MsgTradeRejected)
	if rejected.Code != "insufficient_funds" || rejected.RequestID != "t2" {
		t.Errorf("expected insufficient_funds for t2, got %+v", rejected)
	}

	send(g, b, `{"type":"get_my_matches","requestId":"m1"}`)
	mine := expect(t, b, MsgMyMatches)
	if mine.Matches == nil || len(*mine.Matches) != 1 {
		t.Errorf("expected one match for bob, got %+v", mine.Matches)
	}

	if !engine.Settle(id) {
		t.Fatal("settle failed")
	}
	ended := expect(t, a, string(match.EventMatchEnded))
	if ended.Match.Winner != match.Draw {
		t.Errorf("no price move means a draw, got %s", ended.Match.Winner)
	}
}

func TestGatewayErrorsCarryRequestID(t *testing.T) {
	g, hub, _ := setupGateway(t, 0)
	a := authenticate(t, g, hub, alice)

	send(g, a, `{"type":"join_match","requestId":"j1","matchId":"nope"}`)
	msg := recv(t, a)
	if msg.Type != MsgError || msg.Code != "match_not_found" || msg.RequestID != "j1" {
		t.Errorf("expected match_not_found for j1, got %+v", msg)
	}

	send(g, a, `{"type":"create_match","requestId":"c1","stakeAmount":"-1","durationSeconds":60}`)
	msg = recv(t, a)
	if msg.Code != "invalid_stake" || msg.RequestID != "c1" {
		t.Errorf("expected invalid_stake for c1, got %+v", msg)
	}
}

func TestGatewayRejectsAbsurdMagnitudes(t *testing.T) {
	g, hub, engine := setupGateway(t, 0)
	a := authenticate(t, g, hub, alice)
	b := authenticate(t, g, hub, bob)

	send(g, a, `{"type":"create_match","requestId":"c1","stakeAmount":"1e2000000000","durationSeconds":60}`)
	if msg := expect(t, a, MsgError); msg.Code != "invalid_stake" || msg.RequestID != "c1" {
		t.Errorf("expected invalid_stake for c1, got %+v", msg)
	}

	created, err := engine.CreateMatch(alice, d("1"), 60, []string{"eth"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.JoinMatch(created.ID, bob); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	send(g, a, `{"type":"trade","requestId":"t1","matchId":"`+created.ID+`","asset":"eth","side":"buy","quantity":"1e2000000000"}`)
	if msg := expect(t, a, MsgTradeRejected); msg.Code != "invalid_trade" || msg.RequestID != "t1" {
		t.Errorf("expected invalid_trade for t1, got %+v", msg)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("rejection took %s", elapsed)
	}

	// The match is still usable by the opponent.
	send(g, b, `{"type":"trade","requestId":"t2","matchId":"`+created.ID+`","asset":"eth","side":"buy","quantity":"0.0001"}`)
	if msg := expect(t, b, MsgTradeAccepted); msg.RequestID != "t2" {
		t.Errorf("expected trade_accepted for t2, got %+v", msg)
	}
}

func TestGatewayCancel(t *testing.T) {
	g, hub, _ := setupGateway(t, 0)
	a := authenticate(t, g, hub, alice)
	b := authenticate(t, g, hub, bob)

	send(g, a, `{"type":"create_match","stakeAmount":"1","durationSeconds":60}`)
	id := expect(t, a, string(match.EventMatchCreated)).Match.ID

	send(g, b, `{"type":"cancel_match","requestId":"x","matchId":"`+id+`"}`)
	if msg := expect(t, b, MsgError); msg.Code != "not_creator" {
		t.Errorf("expected not_creator, got %+v", msg)
	}

	send(g, a, `{"type":"cancel_match","matchId":"`+id+`"}`)
	cancelled := expect(t, a, string(match.EventMatchCancelled))
	if cancelled.Match.Status != match.StatusCancelled {
		t.Errorf("expected cancelled status, got %s", cancelled.Match.Status)
	}

	send(g, a, `{"type":"get_match","requestId":"g1","matchId":"`+id+`"}`)
	if msg := expect(t, a, MsgError); msg.Code != "match_not_found" {
		t.Errorf("cancelled match should be gone, got %+v", msg)
	}
}

func TestGatewayRateLimit(t *testing.T) {
	g, hub, _ := setupGateway(t, 3)
	c := authenticate(t, g, hub, alice)

	// The limit is per player once authenticated.
	for i := 0; i < 3; i++ {
		send(g, c, `{"type":"ping"}`)
		if msg := recv(t, c); msg.Type != MsgPong {
			t.Fatalf("ping %d: expected pong, got %+v", i, msg)
		}
	}

	send(g, c, `{"type":"ping","requestId":"p3"}`)
	msg := recv(t, c)
	if msg.Code != "rate_limited" || msg.RequestID != "p3" {
		t.Errorf("expected rate_limited, got %+v", msg)
	}
}
