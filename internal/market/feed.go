// Package market holds the shared price feed that every match trades and
// settles against.
package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"duel/internal/metrics"
)

const defaultFetchTimeout = 10 * time.Second

// Listener receives each new quote after a successful refresh. Listeners run
// on the refreshing goroutine and must not call Refresh.
type Listener func(Quote)

type subscription struct {
	id int
	fn Listener
}

// Feed holds the latest quote. Reads never block on the network; a failed
// refresh leaves the previous quote in place.
type Feed struct {
	source  Source
	assets  []string
	current atomic.Pointer[Quote]

	// refreshMu serializes refreshes so listeners see quotes in order.
	refreshMu sync.Mutex

	mu        sync.Mutex
	listeners []subscription
	nextID    int

	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time

	stopMu  sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// FeedOption configures a Feed.
type FeedOption func(*Feed)

// WithFeedLogger sets the logger used for refresh failures.
func WithFeedLogger(l *zap.Logger) FeedOption {
	return func(f *Feed) { f.logger = l }
}

// WithFetchTimeout bounds a single source fetch.
func WithFetchTimeout(d time.Duration) FeedOption {
	return func(f *Feed) { f.timeout = d }
}

// WithAssets sets the asset universe requested from the source. Defaults to
// the seed quote's assets.
func WithAssets(assets []string) FeedOption {
	return func(f *Feed) {
		f.assets = make([]string, 0, len(assets))
		for _, a := range assets {
			f.assets = append(f.assets, NormalizeAsset(a))
		}
	}
}

// NewFeed creates a feed that serves seed until the first successful refresh.
func NewFeed(source Source, seed Quote, opts ...FeedOption) *Feed {
	f := &Feed{
		source:  source,
		logger:  zap.NewNop(),
		timeout: defaultFetchTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.assets == nil {
		f.assets = seed.Assets()
	}
	if seed.Timestamp.IsZero() {
		seed.Timestamp = f.now()
	}
	seed = NewQuote(seed.Prices, seed.Timestamp)
	f.current.Store(&seed)
	return f
}

// Current returns the last good quote.
func (f *Feed) Current() Quote {
	return *f.current.Load()
}

// Assets returns the asset universe the feed tracks.
func (f *Feed) Assets() []string {
	out := make([]string, len(f.assets))
	copy(out, f.assets)
	return out
}

// Refresh fetches once from the source. On success the quote is replaced and
// listeners are notified; on failure the error is logged and the previous
// quote is returned unchanged.
func (f *Feed) Refresh(ctx context.Context) Quote {
	f.refreshMu.Lock()
	defer f.refreshMu.Unlock()

	prices, err := f.fetch(ctx)
	if err == nil && len(prices) == 0 {
		err = errors.New("empty price response")
	}
	if err != nil {
		metrics.PriceRefreshes.WithLabelValues("error").Inc()
		f.logger.Warn("price refresh failed, serving stale quote",
			zap.Error(fmt.Errorf("%w: %v", ErrUpstream, err)),
			zap.Time("stale_since", f.Current().Timestamp))
		return f.Current()
	}

	fresh := NewQuote(prices, f.now())
	if len(fresh.Prices) == 0 {
		metrics.PriceRefreshes.WithLabelValues("error").Inc()
		f.logger.Warn("price refresh returned no positive prices")
		return f.Current()
	}

	// Assets the source skipped this round keep their last known price.
	prev := f.Current()
	merged := make(map[string]decimal.Decimal, len(prev.Prices)+len(fresh.Prices))
	for asset, p := range prev.Prices {
		merged[asset] = p
	}
	for asset, p := range fresh.Prices {
		merged[asset] = p
	}
	q := Quote{Prices: merged, Timestamp: fresh.Timestamp}
	f.current.Store(&q)
	metrics.PriceRefreshes.WithLabelValues("ok").Inc()

	for _, sub := range f.snapshotListeners() {
		f.notify(sub, q)
	}
	return q
}

// fetch calls the source with the fetch timeout. A panicking source is
// reported as an error.
func (f *Feed) fetch(ctx context.Context) (prices map[string]decimal.Decimal, err error) {
	fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			prices, err = nil, fmt.Errorf("source panicked: %v", r)
		}
	}()
	return f.source.Fetch(fetchCtx, f.assets)
}

func (f *Feed) notify(sub subscription, q Quote) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PriceRefreshes.WithLabelValues("error").Inc()
			f.logger.Warn("price listener panicked",
				zap.Int("listener", sub.id),
				zap.Any("panic", r))
		}
	}()
	sub.fn(q)
}

// Subscribe registers fn and returns an id for Unsubscribe.
func (f *Feed) Subscribe(fn Listener) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.listeners = append(f.listeners, subscription{id: f.nextID, fn: fn})
	return f.nextID
}

// Unsubscribe removes a listener. Unknown ids are ignored.
func (f *Feed) Unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, sub := range f.listeners {
		if sub.id == id {
			f.listeners = append(f.listeners[:i], f.listeners[i+1:]...)
			return
		}
	}
}

func (f *Feed) snapshotListeners() []subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	subs := make([]subscription, len(f.listeners))
	copy(subs, f.listeners)
	return subs
}

// Run refreshes immediately and then every interval until ctx is done.
func (f *Feed) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	f.Refresh(ctx)
	for {
		select {
		case <-ticker.C:
			f.Refresh(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// Start runs the refresh loop in the background until Stop.
func (f *Feed) Start(interval time.Duration) {
	f.stopMu.Lock()
	defer f.stopMu.Unlock()
	if f.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.stopped = make(chan struct{})
	go func() {
		defer close(f.stopped)
		f.Run(ctx, interval)
	}()
}

// Stop halts a loop started with Start and waits for it to exit.
func (f *Feed) Stop() {
	f.stopMu.Lock()
	cancel, stopped := f.cancel, f.stopped
	f.cancel = nil
	f.stopMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}
