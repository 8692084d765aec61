package api

import (
	"testing"

	"duel/internal/match"
)

func TestHubMostRecentConnectionWins(t *testing.T) {
	hub := NewHub(nil)
	first := testClient(hub, "first")
	second := testClient(hub, "second")

	hub.Register(alice, first)
	hub.Register(alice, second)
	hub.SendTo(alice, match.Event{Type: match.EventMatchCreated, Match: &match.Snapshot{ID: "m1"}})

	if msg := recv(t, second); msg.Match == nil || msg.Match.ID != "m1" {
		t.Errorf("latest connection should receive, got %+v", msg)
	}
	assertNoMessage(t, first)

	// Closing the stale connection must not drop the live mapping.
	hub.Unregister(first)
	if !hub.Connected(alice) {
		t.Fatal("alice should still be connected")
	}
	hub.Unregister(second)
	if hub.Connected(alice) {
		t.Fatal("alice should be gone")
	}
}

func TestHubSendToUnknownPlayerIsDropped(t *testing.T) {
	hub := NewHub(nil)
	hub.SendTo(bob, match.Event{Type: match.EventMatchEnded})
}

func TestHubBroadcastSkipsUnauthenticated(t *testing.T) {
	hub := NewHub(nil)
	a := testClient(hub, "a")
	b := testClient(hub, "b")
	anon := testClient(hub, "anon")
	hub.Register(alice, a)
	hub.Register(bob, b)

	hub.Broadcast(match.Event{Type: match.EventOpenMatches})

	for _, c := range []*Client{a, b} {
		msg := recv(t, c)
		if msg.Type != string(match.EventOpenMatches) || msg.Matches == nil || len(*msg.Matches) != 0 {
			t.Errorf("expected empty open_matches listing, got %+v", msg)
		}
	}
	assertNoMessage(t, anon)
}

func TestHubFullBufferDoesNotBlock(t *testing.T) {
	hub := NewHub(nil)
	c := testClient(hub, "slow")
	hub.Register(alice, c)

	for i := 0; i < sendBuffer+10; i++ {
		hub.SendTo(alice, match.Event{Type: match.EventMatchUpdated})
	}
	if len(c.send) != sendBuffer {
		t.Errorf("expected buffer full at %d, got %d", sendBuffer, len(c.send))
	}
}

func TestHubClosedClientDropsMessages(t *testing.T) {
	hub := NewHub(nil)
	c := testClient(hub, "gone")
	hub.Register(alice, c)
	hub.Close()

	hub.SendTo(alice, match.Event{Type: match.EventMatchUpdated})
	if len(c.send) != 0 {
		t.Errorf("closed client should not queue, got %d", len(c.send))
	}
}
