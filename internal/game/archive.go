package game

import (
	"sort"

	"go.uber.org/zap"

	"duel/internal/match"
	"duel/internal/store"
)

// archiveMatch persists a settled match. It runs on the settlement path
// after the match lock is released; a failed write is logged and the live
// match is unaffected.
func (a *App) archiveMatch(snap match.Snapshot) {
	rec, trades, ok := settlementRecord(snap)
	if !ok {
		a.logger.Warn("skipping archive of unsettled match", zap.String("match_id", snap.ID))
		return
	}
	if err := a.archive.SaveMatch(rec, trades); err != nil {
		a.logger.Error("failed to archive match", zap.String("match_id", snap.ID), zap.Error(err))
		return
	}
	a.logger.Debug("match archived", zap.String("match_id", snap.ID), zap.Int("trades", len(trades)))
}

// settlementRecord converts a completed snapshot into archive rows. Trades
// from both seats are merged in execution order.
func settlementRecord(snap match.Snapshot) (store.MatchRecord, []store.TradeRecord, bool) {
	if snap.Status != match.StatusCompleted || snap.Result == nil ||
		snap.StartedAt == nil || snap.EndedAt == nil {
		return store.MatchRecord{}, nil, false
	}

	rec := store.MatchRecord{
		ID:              snap.ID,
		SeatA:           snap.SeatA,
		SeatB:           snap.SeatB,
		Stake:           snap.StakeAmount,
		PrizePool:       snap.PrizePool,
		DurationSeconds: snap.DurationSeconds,
		Assets:          snap.Assets,
		Winner:          snap.Result.Winner,
		ValueA:          snap.Result.ValueA,
		ValueB:          snap.Result.ValueB,
		CreatedAt:       snap.CreatedAt,
		StartedAt:       *snap.StartedAt,
		EndedAt:         *snap.EndedAt,
	}

	var trades []store.TradeRecord
	for _, view := range []*match.PortfolioView{snap.PortfolioA, snap.PortfolioB} {
		if view == nil {
			continue
		}
		for _, t := range view.Trades {
			trades = append(trades, store.TradeRecord{
				ID:         t.ID,
				MatchID:    snap.ID,
				Player:     view.Player,
				Asset:      t.Asset,
				Side:       string(t.Side),
				Quantity:   t.Quantity,
				Price:      t.Price,
				Notional:   t.Notional,
				ExecutedAt: t.Timestamp,
			})
		}
	}
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].ExecutedAt.Before(trades[j].ExecutedAt)
	})
	return rec, trades, true
}
