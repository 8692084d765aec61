package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"duel/internal/match"
	"duel/internal/metrics"
	"duel/internal/store"
)

// Config tunes the HTTP and WebSocket surface.
type Config struct {
	// CORSOrigins empty allows every origin.
	CORSOrigins  []string
	RateLimit    int
	RateWindow   time.Duration
	CommandLimit int
	JWTSecret    string
}

type Server struct {
	engine      *match.Engine
	prices      match.PriceSource
	archive     *store.Store
	hub         *Hub
	gateway     *Gateway
	rateLimiter *RateLimiter
	cmdLimiter  *RateLimiter
	upgrader    websocket.Upgrader
	corsOrigins []string
	logger      *zap.Logger
}

// NewServer builds the HTTP surface around engine. hub must be the engine's
// notifier. archive may be nil, in which case the history routes are not
// mounted.
func NewServer(engine *match.Engine, hub *Hub, prices match.PriceSource, archive *store.Store, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	window := cfg.RateWindow
	if window <= 0 {
		window = time.Minute
	}

	s := &Server{
		engine:      engine,
		prices:      prices,
		archive:     archive,
		hub:         hub,
		rateLimiter: NewRateLimiter(cfg.RateLimit, window),
		cmdLimiter:  NewRateLimiter(cfg.CommandLimit, window),
		corsOrigins: cfg.CORSOrigins,
		logger:      logger,
	}
	s.gateway = NewGateway(engine, hub, NewAuthenticator(cfg.JWTSecret), s.cmdLimiter, logger)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return s.checkCORSOrigin(r.Header.Get("Origin"))
		},
	}
	return s
}

// Hub returns the player hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) checkCORSOrigin(origin string) bool {
	if len(s.corsOrigins) == 0 || origin == "" {
		return true
	}
	for _, allowed := range s.corsOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	allowedOrigins := s.corsOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimiter.Middleware)

		r.Get("/ws", s.handleWebSocket)

		r.Route("/api", func(r chi.Router) {
			r.Get("/matches/open", s.handleOpenMatches)
			r.Get("/matches/active", s.handleActiveMatches)
			r.Get("/matches/{id}", s.handleGetMatch)
			r.Get("/players/{address}/matches", s.handlePlayerMatches)
			r.Get("/stats", s.handleStats)
			r.Get("/prices", s.handlePrices)

			if s.archive != nil {
				r.Get("/history", s.handleHistory)
				r.Get("/history/{id}", s.handleHistoryMatch)
				r.Get("/leaderboard", s.handleLeaderboard)
				r.Get("/players/{address}/record", s.handlePlayerRecord)
			}
		})
	})

	return r
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	s.gateway.Serve(conn, r.RemoteAddr)
}

// Shutdown closes every WebSocket connection and stops the limiters.
// Matches keep running.
func (s *Server) Shutdown() {
	s.hub.Close()
	s.rateLimiter.Stop()
	s.cmdLimiter.Stop()
}

// requestLogger logs one line per request through zap.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Debug("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
