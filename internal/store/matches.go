package store

import (
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Draw is the winner value of a tied match.
const Draw = "draw"

// ErrNotFound is returned when a match is not in the archive.
var ErrNotFound = errors.New("not found in archive")

// MatchRecord is a settled match.
type MatchRecord struct {
	ID              string          `json:"id"`
	SeatA           string          `json:"seatA"`
	SeatB           string          `json:"seatB"`
	Stake           decimal.Decimal `json:"stakeAmount"`
	PrizePool       decimal.Decimal `json:"prizePool"`
	DurationSeconds int             `json:"durationSeconds"`
	Assets          []string        `json:"assets"`
	Winner          string          `json:"winner"`
	ValueA          decimal.Decimal `json:"valueA"`
	ValueB          decimal.Decimal `json:"valueB"`
	CreatedAt       time.Time       `json:"createdAt"`
	StartedAt       time.Time       `json:"startedAt"`
	EndedAt         time.Time       `json:"endedAt"`
}

// TradeRecord is one fill from a settled match.
type TradeRecord struct {
	ID         string          `json:"id"`
	MatchID    string          `json:"matchId"`
	Player     string          `json:"player"`
	Asset      string          `json:"asset"`
	Side       string          `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Notional   decimal.Decimal `json:"notional"`
	ExecutedAt time.Time       `json:"executedAt"`
}

// PlayerRecord aggregates a player's settled matches.
type PlayerRecord struct {
	Player        string          `json:"player"`
	MatchesPlayed int             `json:"matchesPlayed"`
	Wins          int             `json:"wins"`
	Draws         int             `json:"draws"`
	Losses        int             `json:"losses"`
	TotalPnL      decimal.Decimal `json:"totalPnl"`
	CurrentStreak int             `json:"currentStreak"`
	BestStreak    int             `json:"bestStreak"`
}

// Totals summarizes the whole archive.
type Totals struct {
	Matches              int             `json:"matches"`
	PrizePoolDistributed decimal.Decimal `json:"prizePoolDistributed"`
	Players              int             `json:"players"`
}

// SaveMatch archives a settled match, its trades, and both players'
// records in one transaction. Saving the same match twice is an error.
func (s *Store) SaveMatch(m MatchRecord, trades []TradeRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin save match")
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO matches (id, seat_a, seat_b, stake, prize_pool, duration_seconds, assets,
			winner, value_a, value_b, created_at, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.SeatA, m.SeatB, m.Stake.String(), m.PrizePool.String(), m.DurationSeconds,
		strings.Join(m.Assets, ","), m.Winner, m.ValueA.String(), m.ValueB.String(),
		m.CreatedAt.UTC(), m.StartedAt.UTC(), m.EndedAt.UTC())
	if err != nil {
		return errors.Wrapf(err, "insert match %s", m.ID)
	}

	for _, t := range trades {
		_, err = tx.Exec(`
			INSERT INTO match_trades (id, match_id, player, asset, side, quantity, price, notional, executed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.ID, m.ID, t.Player, t.Asset, t.Side, t.Quantity.String(), t.Price.String(),
			t.Notional.String(), t.ExecutedAt.UTC())
		if err != nil {
			return errors.Wrapf(err, "insert trade %s", t.ID)
		}
	}

	seats := []struct {
		player string
		value  decimal.Decimal
	}{
		{m.SeatA, m.ValueA},
		{m.SeatB, m.ValueB},
	}
	for _, seat := range seats {
		if err := updatePlayerInTx(tx, seat.player, seat.value.Sub(m.Stake), m.Winner); err != nil {
			return errors.Wrapf(err, "update record for %s", seat.player)
		}
	}

	return errors.Wrap(tx.Commit(), "commit save match")
}

func updatePlayerInTx(tx *sql.Tx, player string, pnl decimal.Decimal, winner string) error {
	var (
		rec      PlayerRecord
		totalPnL string
	)
	err := tx.QueryRow(`
		SELECT player, matches_played, wins, draws, losses, total_pnl, current_streak, best_streak
		FROM player_records WHERE player = ?
	`, player).Scan(&rec.Player, &rec.MatchesPlayed, &rec.Wins, &rec.Draws, &rec.Losses,
		&totalPnL, &rec.CurrentStreak, &rec.BestStreak)
	switch {
	case err == sql.ErrNoRows:
		rec = PlayerRecord{Player: player}
	case err != nil:
		return err
	default:
		if rec.TotalPnL, err = decimal.NewFromString(totalPnL); err != nil {
			return err
		}
	}

	rec.MatchesPlayed++
	rec.TotalPnL = rec.TotalPnL.Add(pnl)
	switch winner {
	case player:
		rec.Wins++
		rec.CurrentStreak++
		if rec.CurrentStreak > rec.BestStreak {
			rec.BestStreak = rec.CurrentStreak
		}
	case Draw:
		rec.Draws++
		rec.CurrentStreak = 0
	default:
		rec.Losses++
		rec.CurrentStreak = 0
	}

	_, err = tx.Exec(`
		INSERT INTO player_records (player, matches_played, wins, draws, losses, total_pnl, current_streak, best_streak, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(player) DO UPDATE SET
			matches_played = excluded.matches_played,
			wins = excluded.wins,
			draws = excluded.draws,
			losses = excluded.losses,
			total_pnl = excluded.total_pnl,
			current_streak = excluded.current_streak,
			best_streak = excluded.best_streak,
			updated_at = CURRENT_TIMESTAMP
	`, rec.Player, rec.MatchesPlayed, rec.Wins, rec.Draws, rec.Losses, rec.TotalPnL.String(),
		rec.CurrentStreak, rec.BestStreak)
	return err
}

const matchColumns = `id, seat_a, seat_b, stake, prize_pool, duration_seconds, assets,
	winner, value_a, value_b, created_at, started_at, ended_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanMatch(row scanner) (MatchRecord, error) {
	var (
		m                                  MatchRecord
		stake, pool, valueA, valueB, assets string
	)
	if err := row.Scan(&m.ID, &m.SeatA, &m.SeatB, &stake, &pool, &m.DurationSeconds, &assets,
		&m.Winner, &valueA, &valueB, &m.CreatedAt, &m.StartedAt, &m.EndedAt); err != nil {
		return m, err
	}
	for dst, raw := range map[*decimal.Decimal]string{
		&m.Stake: stake, &m.PrizePool: pool, &m.ValueA: valueA, &m.ValueB: valueB,
	} {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return m, errors.Wrapf(err, "parse decimal for match %s", m.ID)
		}
		*dst = v
	}
	if assets != "" {
		m.Assets = strings.Split(assets, ",")
	}
	return m, nil
}

// GetMatch returns one archived match.
func (s *Store) GetMatch(id string) (*MatchRecord, error) {
	m, err := scanMatch(s.db.QueryRow(`SELECT `+matchColumns+` FROM matches WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get match %s", id)
	}
	return &m, nil
}

// GetRecentMatches returns the most recently ended matches.
func (s *Store) GetRecentMatches(limit int) ([]MatchRecord, error) {
	rows, err := s.db.Query(`SELECT `+matchColumns+` FROM matches ORDER BY ended_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query recent matches")
	}
	defer rows.Close()
	return collectMatches(rows)
}

// GetPlayerMatches returns a player's archived matches, newest first.
func (s *Store) GetPlayerMatches(player string, limit int) ([]MatchRecord, error) {
	rows, err := s.db.Query(`SELECT `+matchColumns+` FROM matches
		WHERE seat_a = ? OR seat_b = ? ORDER BY ended_at DESC LIMIT ?`, player, player, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query player matches")
	}
	defer rows.Close()
	return collectMatches(rows)
}

func collectMatches(rows *sql.Rows) ([]MatchRecord, error) {
	out := []MatchRecord{}
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMatchTrades returns a match's fills in execution order.
func (s *Store) GetMatchTrades(matchID string) ([]TradeRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, match_id, player, asset, side, quantity, price, notional, executed_at
		FROM match_trades WHERE match_id = ? ORDER BY executed_at ASC, rowid ASC
	`, matchID)
	if err != nil {
		return nil, errors.Wrap(err, "query match trades")
	}
	defer rows.Close()

	out := []TradeRecord{}
	for rows.Next() {
		var (
			t                         TradeRecord
			quantity, price, notional string
		)
		if err := rows.Scan(&t.ID, &t.MatchID, &t.Player, &t.Asset, &t.Side,
			&quantity, &price, &notional, &t.ExecutedAt); err != nil {
			return nil, err
		}
		t.Quantity = decimal.RequireFromString(quantity)
		t.Price = decimal.RequireFromString(price)
		t.Notional = decimal.RequireFromString(notional)
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetPlayerRecord returns a player's aggregate. Unknown players get an empty
// record.
func (s *Store) GetPlayerRecord(player string) (*PlayerRecord, error) {
	var (
		rec      PlayerRecord
		totalPnL string
	)
	err := s.db.QueryRow(`
		SELECT player, matches_played, wins, draws, losses, total_pnl, current_streak, best_streak
		FROM player_records WHERE player = ?
	`, player).Scan(&rec.Player, &rec.MatchesPlayed, &rec.Wins, &rec.Draws, &rec.Losses,
		&totalPnL, &rec.CurrentStreak, &rec.BestStreak)
	if err == sql.ErrNoRows {
		return &PlayerRecord{Player: player}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get record for %s", player)
	}
	if rec.TotalPnL, err = decimal.NewFromString(totalPnL); err != nil {
		return nil, errors.Wrapf(err, "parse pnl for %s", player)
	}
	return &rec, nil
}

// GetLeaderboard ranks players by wins, then draws, then fewest matches.
func (s *Store) GetLeaderboard(limit int) ([]PlayerRecord, error) {
	rows, err := s.db.Query(`
		SELECT player, matches_played, wins, draws, losses, total_pnl, current_streak, best_streak
		FROM player_records
		ORDER BY wins DESC, draws DESC, matches_played ASC, player ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query leaderboard")
	}
	defer rows.Close()

	out := []PlayerRecord{}
	for rows.Next() {
		var (
			rec      PlayerRecord
			totalPnL string
		)
		if err := rows.Scan(&rec.Player, &rec.MatchesPlayed, &rec.Wins, &rec.Draws, &rec.Losses,
			&totalPnL, &rec.CurrentStreak, &rec.BestStreak); err != nil {
			return nil, err
		}
		rec.TotalPnL = decimal.RequireFromString(totalPnL)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetTotals sums the archive. Prize pools are added as decimals in Go since
// SQLite would coerce the TEXT columns to floating point.
func (s *Store) GetTotals() (*Totals, error) {
	rows, err := s.db.Query(`SELECT prize_pool FROM matches`)
	if err != nil {
		return nil, errors.Wrap(err, "query prize pools")
	}
	defer rows.Close()

	totals := &Totals{PrizePoolDistributed: decimal.Zero}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		pool, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, errors.Wrap(err, "parse prize pool")
		}
		totals.Matches++
		totals.PrizePoolDistributed = totals.PrizePoolDistributed.Add(pool)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM player_records`).Scan(&totals.Players); err != nil {
		return nil, errors.Wrap(err, "count players")
	}
	return totals, nil
}
