package match

import "duel/internal/portfolio"

// EventType names an outbound match event.
type EventType string

const (
	EventMatchCreated   EventType = "match_created"
	EventMatchStarted   EventType = "match_started"
	EventMatchUpdated   EventType = "match_updated"
	EventMatchEnded     EventType = "match_ended"
	EventMatchCancelled EventType = "match_cancelled"
	EventOpenMatches    EventType = "open_matches"
)

// Event is emitted by the engine. Match is set for single-match events,
// Matches for listings, Trade for the update that follows a trade.
type Event struct {
	Type    EventType
	Match   *Snapshot
	Matches []Snapshot
	Trade   *portfolio.Trade
}

// Notifier delivers events to players. Implementations must not block and
// must not call back into the engine.
type Notifier interface {
	SendTo(player string, ev Event)
	Broadcast(ev Event)
}

type nopNotifier struct{}

func (nopNotifier) SendTo(string, Event) {}
func (nopNotifier) Broadcast(Event)      {}
