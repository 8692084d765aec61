// Package game assembles the duel server: price feed, match engine,
// settlement archive and the HTTP/WebSocket surface, and runs them until
// shutdown.
package game

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"duel/internal/api"
	"duel/internal/config"
	"duel/internal/market"
	"duel/internal/match"
	"duel/internal/store"
)

// App owns every long-lived component.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	feed    *market.Feed
	engine  *match.Engine
	hub     *api.Hub
	server  *api.Server
	archive *store.Store
	rdb     *redis.Client

	httpServer *http.Server
}

// New wires an App from a validated config. Nothing runs until Run.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}

	source, err := a.priceSource()
	if err != nil {
		return nil, err
	}
	seed, err := cfg.SeedPrices()
	if err != nil {
		return nil, err
	}
	a.feed = market.NewFeed(source, market.NewQuote(seed, time.Now()),
		market.WithAssets(cfg.Match.Assets),
		market.WithFetchTimeout(cfg.Price.FetchTimeout.Duration),
		market.WithFeedLogger(logger.Named("feed")))

	minStake, maxStake, err := cfg.StakeBounds()
	if err != nil {
		return nil, err
	}
	a.hub = api.NewHub(logger.Named("hub"))
	a.engine = match.NewEngine(a.feed,
		match.WithNotifier(a.hub),
		match.WithLogger(logger.Named("match")),
		match.WithLimits(match.Limits{
			MinStake:           minStake,
			MaxStake:           maxStake,
			MaxDurationSeconds: cfg.Match.MaxDurationSeconds,
			Assets:             cfg.Match.Assets,
			DefaultAssets:      cfg.Match.DefaultAssets,
		}))
	a.feed.Subscribe(a.hub.BroadcastPrices)

	if cfg.Store.DSN != "" {
		a.archive, err = store.New(cfg.Store.DSN)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open archive: %w", err)
		}
		a.engine.OnMatchEnd(a.archiveMatch)
	}

	a.server = api.NewServer(a.engine, a.hub, a.feed, a.archive, api.Config{
		CORSOrigins:  cfg.Server.CORSOrigins,
		RateLimit:    cfg.Server.RateLimit,
		RateWindow:   cfg.Server.RateWindow.Duration,
		CommandLimit: cfg.Server.CommandLimit,
		JWTSecret:    cfg.Auth.JWTSecret,
	}, logger.Named("api"))

	a.httpServer = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

func (a *App) priceSource() (market.Source, error) {
	switch strings.ToLower(a.cfg.Price.Source) {
	case "synthetic":
		seed, err := a.cfg.SeedPrices()
		if err != nil {
			return nil, err
		}
		return market.NewSyntheticSource(seed, a.cfg.Price.Volatility), nil
	case "http":
		return market.NewHTTPSource(a.cfg.Price.HTTPBaseURL, a.cfg.Price.APIKey, a.cfg.Price.CoinIDs), nil
	case "redis":
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		return market.NewRedisSource(a.rdb), nil
	default:
		return nil, fmt.Errorf("unknown price source %q", a.cfg.Price.Source)
	}
}

func (a *App) Engine() *match.Engine { return a.engine }
func (a *App) Feed() *market.Feed     { return a.feed }
func (a *App) Archive() *store.Store  { return a.archive }
func (a *App) Handler() http.Handler  { return a.httpServer.Handler }

// Run serves HTTP and drives the feed and the retention janitor until ctx
// is cancelled, then shuts the listener down gracefully.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.feed.Run(ctx, a.cfg.Price.RefreshInterval.Duration)
	})
	g.Go(func() error {
		return a.engine.RunJanitor(ctx, a.cfg.Match.SweepInterval.Duration, a.cfg.Match.CompletedRetention.Duration)
	})
	g.Go(func() error {
		a.logger.Info("duel server listening",
			zap.String("addr", ln.Addr().String()),
			zap.String("price_source", a.cfg.Price.Source),
			zap.Strings("assets", a.cfg.Match.Assets))
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down")
		a.server.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return a.httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Close releases the engine timers, the archive and the Redis client.
// Active matches are not settled.
func (a *App) Close() error {
	var errs []error
	if a.engine != nil {
		a.engine.Stop()
	}
	if a.archive != nil {
		errs = append(errs, a.archive.Close())
	}
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	return errors.Join(errs...)
}
