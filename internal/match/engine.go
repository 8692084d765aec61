package match

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"duel/internal/market"
	"duel/internal/metrics"
	"duel/internal/portfolio"
)

// PriceSource is the read side of the price feed.
type PriceSource interface {
	Current() market.Quote
}

// Limits bounds what a creator may ask for. Zero values disable a bound.
type Limits struct {
	MinStake           decimal.Decimal
	MaxStake           decimal.Decimal
	MaxDurationSeconds int
	// Assets is the tradable universe. Empty means any asset the feed quotes.
	Assets []string
	// DefaultAssets is used when a creator names none. Empty means the
	// whole universe.
	DefaultAssets []string
}

// Engine is the single writer of match state. Operations on one match are
// serialized by that match's lock; different matches proceed in parallel.
type Engine struct {
	registry *Registry
	prices   PriceSource
	notifier Notifier
	timers   *Timers
	limits   Limits
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.RWMutex
	onEnd []func(Snapshot)

	// listingMu orders open-listing broadcasts: each listing is computed
	// and sent under it, so the last one sent is never older than another.
	listingMu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithLimits(l Limits) Option {
	return func(e *Engine) { e.limits = l }
}

func WithRegistry(r *Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithClock overrides time.Now for timestamps. Settlement timers still run
// on wall-clock durations.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine reading prices from prices.
func NewEngine(prices PriceSource, opts ...Option) *Engine {
	e := &Engine{
		registry: NewRegistry(),
		prices:   prices,
		notifier: nopNotifier{},
		timers:   NewTimers(),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.limits.Assets = normalizeAssets(e.limits.Assets)
	e.limits.DefaultAssets = normalizeAssets(e.limits.DefaultAssets)
	return e
}

// Registry exposes the engine's registry for read-only inspection.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// OnMatchEnd registers fn to run after each settlement, outside any lock.
func (e *Engine) OnMatchEnd(fn func(Snapshot)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEnd = append(e.onEnd, fn)
}

// CreateMatch opens a waiting match with the creator in seat A.
func (e *Engine) CreateMatch(creator string, stake decimal.Decimal, durationSeconds int, assets []string) (Snapshot, error) {
	creator = NormalizePlayer(creator)
	if creator == "" {
		return Snapshot{}, ErrInvalidPlayer
	}
	if err := e.checkStake(stake); err != nil {
		return Snapshot{}, err
	}
	if durationSeconds <= 0 || (e.limits.MaxDurationSeconds > 0 && durationSeconds > e.limits.MaxDurationSeconds) {
		return Snapshot{}, ErrInvalidDuration
	}
	tradable, err := e.resolveAssets(assets)
	if err != nil {
		return Snapshot{}, err
	}

	m := newMatch(creator, stake, durationSeconds, tradable, e.now())

	// Hold the new match's lock across insert so no join can be observed
	// before match_created.
	m.mu.Lock()
	if err := e.registry.insert(m); err != nil {
		m.mu.Unlock()
		return Snapshot{}, err
	}
	snap := m.snapshot(e.prices.Current())
	e.notifier.SendTo(creator, Event{Type: EventMatchCreated, Match: &snap})
	m.mu.Unlock()

	metrics.MatchesCreated.Inc()
	metrics.MatchesOpen.Inc()
	e.logger.Info("match created",
		zap.String("match_id", m.ID),
		zap.String("player", creator),
		zap.String("stake", stake.String()),
		zap.Int("duration_seconds", durationSeconds),
		zap.Strings("assets", tradable))

	e.broadcastOpenMatches()
	return snap, nil
}

// JoinMatch seats joiner in seat B, starts the clock and schedules
// settlement.
func (e *Engine) JoinMatch(id, joiner string) (Snapshot, error) {
	joiner = NormalizePlayer(joiner)
	if joiner == "" {
		return Snapshot{}, ErrInvalidPlayer
	}
	m, ok := e.registry.Get(id)
	if !ok {
		return Snapshot{}, ErrMatchNotFound
	}

	m.mu.Lock()
	switch {
	case m.status == StatusCancelled:
		m.mu.Unlock()
		return Snapshot{}, ErrMatchNotFound
	case m.status != StatusWaiting:
		m.mu.Unlock()
		return Snapshot{}, ErrMatchNotJoinable
	case joiner == m.SeatA:
		m.mu.Unlock()
		return Snapshot{}, ErrSelfJoin
	}
	if err := e.registry.activate(m.ID, joiner); err != nil {
		m.mu.Unlock()
		return Snapshot{}, err
	}

	m.seatB = joiner
	m.portfolioB = portfolio.New(m.Stake)
	m.status = StatusActive
	m.startedAt = e.now()
	e.timers.Schedule(m.ID, m.Duration, func() { e.Settle(id) })

	snap := m.snapshot(e.prices.Current())
	ev := Event{Type: EventMatchStarted, Match: &snap}
	e.notifier.SendTo(m.SeatA, ev)
	e.notifier.SendTo(m.seatB, ev)
	m.mu.Unlock()

	metrics.MatchesOpen.Dec()
	metrics.MatchesActive.Inc()
	e.logger.Info("match started",
		zap.String("match_id", m.ID),
		zap.String("seat_a", m.SeatA),
		zap.String("seat_b", joiner),
		zap.Time("ends_at", *snap.EndsAt))

	e.broadcastOpenMatches()
	return snap, nil
}

// CancelMatch withdraws a waiting match. Only the creator may cancel, and
// only before anyone joins.
func (e *Engine) CancelMatch(id, requester string) error {
	requester = NormalizePlayer(requester)
	m, ok := e.registry.Get(id)
	if !ok {
		return ErrMatchNotFound
	}

	m.mu.Lock()
	switch {
	case m.status == StatusCancelled:
		m.mu.Unlock()
		return ErrMatchNotFound
	case requester != m.SeatA:
		m.mu.Unlock()
		return ErrNotCreator
	case m.status != StatusWaiting:
		m.mu.Unlock()
		return ErrNotCancellable
	}

	m.status = StatusCancelled
	e.timers.Cancel(m.ID)
	e.registry.remove(m.ID, m.SeatA)
	snap := m.snapshot(e.prices.Current())
	e.notifier.SendTo(m.SeatA, Event{Type: EventMatchCancelled, Match: &snap})
	m.mu.Unlock()

	metrics.MatchesCancelled.Inc()
	metrics.MatchesOpen.Dec()
	e.logger.Info("match cancelled", zap.String("match_id", id), zap.String("player", requester))

	e.broadcastOpenMatches()
	return nil
}

// ExecuteTrade fills an order for player at the feed's current price.
func (e *Engine) ExecuteTrade(id, player, asset string, side portfolio.Side, quantity decimal.Decimal) (portfolio.Trade, error) {
	player = NormalizePlayer(player)
	asset = market.NormalizeAsset(asset)
	if !side.Valid() || !portfolio.InRange(quantity) || !quantity.IsPositive() {
		return portfolio.Trade{}, ErrInvalidTrade
	}

	m, ok := e.registry.Get(id)
	if !ok {
		return portfolio.Trade{}, ErrMatchNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != StatusActive {
		return portfolio.Trade{}, ErrMatchNotActive
	}
	now := e.now()
	if !now.Before(m.endsAt()) {
		// Clock ran out; the settlement timer is about to fire.
		return portfolio.Trade{}, ErrMatchNotActive
	}
	pf := m.portfolioFor(player)
	if pf == nil {
		return portfolio.Trade{}, ErrPlayerNotInMatch
	}
	if !m.tradable(asset) {
		return portfolio.Trade{}, ErrUnknownAsset
	}

	quote := e.prices.Current()
	price, ok := quote.Price(asset)
	if !ok {
		return portfolio.Trade{}, ErrPriceUnavailable
	}

	trade, err := pf.Apply(side, asset, quantity, price, now)
	if err != nil {
		metrics.TradesTotal.WithLabelValues(string(side), "rejected").Inc()
		return portfolio.Trade{}, ledgerError(err)
	}
	metrics.TradesTotal.WithLabelValues(string(side), "filled").Inc()

	snap := m.snapshot(quote)
	ev := Event{Type: EventMatchUpdated, Match: &snap, Trade: &trade}
	e.notifier.SendTo(m.SeatA, ev)
	e.notifier.SendTo(m.seatB, ev)

	e.logger.Debug("trade executed",
		zap.String("match_id", m.ID),
		zap.String("player", player),
		zap.String("asset", asset),
		zap.String("side", string(side)),
		zap.String("quantity", quantity.String()),
		zap.String("price", price.String()))
	return trade, nil
}

// Settle values both seats against one quote and completes the match. It
// reports whether this call did the settling; repeated or late calls are
// no-ops.
func (e *Engine) Settle(id string) bool {
	m, ok := e.registry.Get(id)
	if !ok {
		return false
	}

	m.mu.Lock()
	if m.status != StatusActive {
		m.mu.Unlock()
		return false
	}

	quote := e.prices.Current()
	valueA := m.portfolioA.ValueAt(quote.Prices)
	valueB := m.portfolioB.ValueAt(quote.Prices)
	winner := decideWinner(m.SeatA, m.seatB, valueA, valueB)

	prices := make(map[string]decimal.Decimal, len(quote.Prices))
	for asset, p := range quote.Prices {
		prices[asset] = p
	}
	m.result = &Result{
		Winner:    winner,
		ValueA:    valueA,
		ValueB:    valueB,
		Prices:    prices,
		QuotedAt:  quote.Timestamp,
		PrizePool: m.PrizePool(),
	}
	m.winner = winner
	m.status = StatusCompleted
	m.endedAt = e.now()
	e.timers.Cancel(m.ID)
	e.registry.complete(m.ID, m.SeatA, m.seatB)

	snap := m.snapshot(quote)
	ev := Event{Type: EventMatchEnded, Match: &snap}
	e.notifier.SendTo(m.SeatA, ev)
	e.notifier.SendTo(m.seatB, ev)
	m.mu.Unlock()

	outcome := "win"
	if winner == Draw {
		outcome = "draw"
	}
	metrics.MatchesSettled.WithLabelValues(outcome).Inc()
	metrics.MatchesActive.Dec()
	e.logger.Info("match settled",
		zap.String("match_id", id),
		zap.String("winner", winner),
		zap.String("value_a", valueA.String()),
		zap.String("value_b", valueB.String()))

	e.mu.RLock()
	hooks := make([]func(Snapshot), len(e.onEnd))
	copy(hooks, e.onEnd)
	e.mu.RUnlock()
	for _, fn := range hooks {
		fn(snap)
	}
	return true
}

// GetMatch returns a snapshot of one match.
func (e *Engine) GetMatch(id string) (Snapshot, error) {
	m, ok := e.registry.Get(id)
	if !ok {
		return Snapshot{}, ErrMatchNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status == StatusCancelled {
		return Snapshot{}, ErrMatchNotFound
	}
	return m.snapshot(e.prices.Current()), nil
}

// GetOpenMatches lists waiting matches in creation order.
func (e *Engine) GetOpenMatches() []Snapshot {
	return e.snapshots(e.registry.openMatches(), StatusWaiting)
}

// GetActiveMatches lists running matches in creation order.
func (e *Engine) GetActiveMatches() []Snapshot {
	return e.snapshots(e.registry.activeMatches(), StatusActive)
}

// GetMatchesForPlayer lists every retained match the player sits in.
func (e *Engine) GetMatchesForPlayer(player string) []Snapshot {
	return e.snapshots(e.registry.matchesFor(NormalizePlayer(player)), -1)
}

// Stats summarizes the registry.
func (e *Engine) Stats() Stats {
	return e.registry.stats()
}

// snapshots copies each match, skipping any whose status moved away from
// want between listing and locking. want < 0 keeps everything but
// cancelled matches.
func (e *Engine) snapshots(ms []*Match, want Status) []Snapshot {
	quote := e.prices.Current()
	out := make([]Snapshot, 0, len(ms))
	for _, m := range ms {
		m.mu.RLock()
		keep := m.status != StatusCancelled && (want < 0 || m.status == want)
		if keep {
			out = append(out, m.snapshot(quote))
		}
		m.mu.RUnlock()
	}
	return out
}

// broadcastOpenMatches runs after the caller releases the match lock.
func (e *Engine) broadcastOpenMatches() {
	e.listingMu.Lock()
	defer e.listingMu.Unlock()
	e.notifier.Broadcast(Event{Type: EventOpenMatches, Matches: e.GetOpenMatches()})
}

// Sweep drops completed matches that ended before cutoff and returns how
// many were removed.
func (e *Engine) Sweep(cutoff time.Time) int {
	removed := 0
	for _, m := range e.registry.completedMatches() {
		m.mu.RLock()
		expired := m.status == StatusCompleted && m.endedAt.Before(cutoff)
		seatA, seatB := m.SeatA, m.seatB
		m.mu.RUnlock()
		if expired {
			e.registry.remove(m.ID, seatA, seatB)
			removed++
		}
	}
	if removed > 0 {
		e.logger.Debug("swept completed matches", zap.Int("count", removed))
	}
	return removed
}

// RunJanitor sweeps matches older than retention every interval until ctx
// is done.
func (e *Engine) RunJanitor(ctx context.Context, interval, retention time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.Sweep(e.now().Add(-retention))
		case <-ctx.Done():
			return nil
		}
	}
}

// Stop cancels pending settlement timers. Active matches stay active.
func (e *Engine) Stop() {
	e.timers.Stop()
}

func (e *Engine) checkStake(stake decimal.Decimal) error {
	if !portfolio.InRange(stake) || !stake.IsPositive() {
		return ErrInvalidStake
	}
	if e.limits.MinStake.IsPositive() && stake.LessThan(e.limits.MinStake) {
		return ErrInvalidStake
	}
	if e.limits.MaxStake.IsPositive() && stake.GreaterThan(e.limits.MaxStake) {
		return ErrInvalidStake
	}
	return nil
}

// resolveAssets normalizes and deduplicates the requested assets and checks
// them against the universe.
func (e *Engine) resolveAssets(requested []string) ([]string, error) {
	universe := e.limits.Assets
	if len(universe) == 0 {
		universe = e.prices.Current().Assets()
	}
	allowed := make(map[string]bool, len(universe))
	for _, a := range universe {
		allowed[a] = true
	}

	assets := normalizeAssets(requested)
	if len(assets) == 0 {
		assets = e.limits.DefaultAssets
		if len(assets) == 0 {
			assets = universe
		}
	}
	if len(assets) == 0 {
		return nil, ErrInvalidAssets
	}
	for _, a := range assets {
		if !allowed[a] {
			return nil, ErrInvalidAssets
		}
	}
	return append([]string(nil), assets...), nil
}

func normalizeAssets(assets []string) []string {
	seen := make(map[string]bool, len(assets))
	out := make([]string, 0, len(assets))
	for _, a := range assets {
		a = market.NormalizeAsset(a)
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

func ledgerError(err error) error {
	switch {
	case errors.Is(err, portfolio.ErrInsufficientCash):
		return ErrInsufficientFunds
	case errors.Is(err, portfolio.ErrInsufficientHolding):
		return ErrInsufficientHolding
	default:
		return ErrInvalidTrade
	}
}
