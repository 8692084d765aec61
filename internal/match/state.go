// Package match owns the duel lifecycle: creating matches, seating the second
// player, applying trades against the shared price feed, and settling the
// winner when the clock runs out.
package match

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"duel/internal/market"
	"duel/internal/portfolio"
)

// Draw is the winner value recorded when both seats settle at equal value.
const Draw = "draw"

// Status is the lifecycle state of a match.
type Status int

const (
	StatusWaiting   Status = iota // Created, waiting for an opponent
	StatusActive                  // Both seats filled, clock running
	StatusCompleted               // Settled
	StatusCancelled               // Withdrawn by the creator before start
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status as its name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name.
func (s *Status) UnmarshalText(text []byte) error {
	for _, st := range []Status{StatusWaiting, StatusActive, StatusCompleted, StatusCancelled} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown match status %q", text)
}

// NormalizePlayer canonicalizes a player identifier for comparison.
func NormalizePlayer(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Match is one duel. ID, SeatA, Stake, Duration, Assets and CreatedAt never
// change after construction; everything else is guarded by mu.
type Match struct {
	mu sync.RWMutex

	ID        string
	SeatA     string
	Stake     decimal.Decimal
	Duration  time.Duration
	Assets    []string
	CreatedAt time.Time

	status     Status
	seatB      string
	portfolioA *portfolio.Portfolio
	portfolioB *portfolio.Portfolio
	startedAt  time.Time
	endedAt    time.Time
	winner     string
	result     *Result
}

func newMatch(creator string, stake decimal.Decimal, durationSeconds int, assets []string, now time.Time) *Match {
	return &Match{
		ID:         generateMatchID(),
		SeatA:      creator,
		Stake:      stake,
		Duration:   time.Duration(durationSeconds) * time.Second,
		Assets:     assets,
		CreatedAt:  now,
		status:     StatusWaiting,
		portfolioA: portfolio.New(stake),
	}
}

// PrizePool is the sum of both stakes.
func (m *Match) PrizePool() decimal.Decimal {
	return m.Stake.Mul(decimal.NewFromInt(2))
}

// Status returns the current status.
func (m *Match) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Match) tradable(asset string) bool {
	for _, a := range m.Assets {
		if a == asset {
			return true
		}
	}
	return false
}

// portfolioFor returns the seat portfolio of player, nil if unseated.
// Caller holds mu.
func (m *Match) portfolioFor(player string) *portfolio.Portfolio {
	switch player {
	case m.SeatA:
		return m.portfolioA
	case m.seatB:
		if m.seatB == "" {
			return nil
		}
		return m.portfolioB
	default:
		return nil
	}
}

func (m *Match) endsAt() time.Time {
	return m.startedAt.Add(m.Duration)
}

// Result is the outcome of settlement. Both seats are valued against the
// same quote.
type Result struct {
	Winner    string                     `json:"winner"`
	ValueA    decimal.Decimal            `json:"valueA"`
	ValueB    decimal.Decimal            `json:"valueB"`
	Prices    map[string]decimal.Decimal `json:"prices"`
	QuotedAt  time.Time                  `json:"quotedAt"`
	PrizePool decimal.Decimal            `json:"prizePool"`
}

// PortfolioView is a read-only copy of one seat.
type PortfolioView struct {
	Player   string                     `json:"player"`
	Cash     decimal.Decimal            `json:"cash"`
	Holdings map[string]decimal.Decimal `json:"holdings"`
	Trades   []portfolio.Trade          `json:"trades"`
	Value    decimal.Decimal            `json:"value"`
}

// Snapshot is a consistent copy of a match taken under its lock.
type Snapshot struct {
	ID              string          `json:"id"`
	Status          Status          `json:"status"`
	SeatA           string          `json:"seatA"`
	SeatB           string          `json:"seatB,omitempty"`
	StakeAmount     decimal.Decimal `json:"stakeAmount"`
	PrizePool       decimal.Decimal `json:"prizePool"`
	DurationSeconds int             `json:"durationSeconds"`
	Assets          []string        `json:"assets"`
	CreatedAt       time.Time       `json:"createdAt"`
	StartedAt       *time.Time      `json:"startedAt,omitempty"`
	EndsAt          *time.Time      `json:"endsAt,omitempty"`
	EndedAt         *time.Time      `json:"endedAt,omitempty"`
	PortfolioA      *PortfolioView  `json:"portfolioA,omitempty"`
	PortfolioB      *PortfolioView  `json:"portfolioB,omitempty"`
	Winner          string          `json:"winner,omitempty"`
	Result          *Result         `json:"result,omitempty"`
}

// snapshot copies the match. Live portfolios are valued at quote; settled
// ones at the settlement prices. Caller holds mu (read or write).
func (m *Match) snapshot(quote market.Quote) Snapshot {
	s := Snapshot{
		ID:              m.ID,
		Status:          m.status,
		SeatA:           m.SeatA,
		SeatB:           m.seatB,
		StakeAmount:     m.Stake,
		PrizePool:       m.PrizePool(),
		DurationSeconds: int(m.Duration / time.Second),
		Assets:          append([]string(nil), m.Assets...),
		CreatedAt:       m.CreatedAt,
		Winner:          m.winner,
	}

	prices := quote.Prices
	if m.result != nil {
		prices = m.result.Prices
		r := *m.result
		s.Result = &r
	}
	if !m.startedAt.IsZero() {
		started, ends := m.startedAt, m.endsAt()
		s.StartedAt, s.EndsAt = &started, &ends
	}
	if !m.endedAt.IsZero() {
		ended := m.endedAt
		s.EndedAt = &ended
	}
	if m.portfolioA != nil {
		s.PortfolioA = viewOf(m.SeatA, m.portfolioA, prices)
	}
	if m.portfolioB != nil {
		s.PortfolioB = viewOf(m.seatB, m.portfolioB, prices)
	}
	return s
}

func viewOf(player string, p *portfolio.Portfolio, prices map[string]decimal.Decimal) *PortfolioView {
	return &PortfolioView{
		Player:   player,
		Cash:     p.Cash(),
		Holdings: p.Holdings(),
		Trades:   p.Trades(),
		Value:    p.ValueAt(prices),
	}
}

// decideWinner returns the seat with strictly greater value, or Draw.
func decideWinner(seatA, seatB string, valueA, valueB decimal.Decimal) string {
	switch valueA.Cmp(valueB) {
	case 1:
		return seatA
	case -1:
		return seatB
	default:
		return Draw
	}
}

func generateMatchID() string {
	return fmt.Sprintf("duel_%s", uuid.New().String())
}
