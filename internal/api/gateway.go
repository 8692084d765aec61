package api

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"duel/internal/match"
	"duel/internal/metrics"
)

// Gateway reads commands off player connections, calls the engine, and
// replies to the sender. State pushes to other players come from the engine
// through the Hub.
//
// Create, join and cancel are acknowledged by the engine's own events
// (match_created, match_started, match_cancelled); only failures carry the
// requestId back.
type Gateway struct {
	engine  *match.Engine
	hub     *Hub
	auth    *Authenticator
	limiter *RateLimiter
	logger  *zap.Logger
}

func NewGateway(engine *match.Engine, hub *Hub, auth *Authenticator, limiter *RateLimiter, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if auth == nil {
		auth = NewAuthenticator("")
	}
	if limiter == nil {
		limiter = NewRateLimiter(0, time.Minute)
	}
	return &Gateway{
		engine:  engine,
		hub:     hub,
		auth:    auth,
		limiter: limiter,
		logger:  logger,
	}
}

// Serve runs a connection until it closes. Closing never touches the
// player's matches.
func (g *Gateway) Serve(conn *websocket.Conn, remote string) {
	c := newClient(conn, remote)
	g.hub.add(c)
	go c.writePump()

	defer func() {
		g.hub.Unregister(c)
		c.close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Debug("websocket read error", zap.String("remote", remote), zap.Error(err))
			}
			return
		}
		g.handle(c, data)
	}
}

// handle processes one inbound frame. Nothing a client sends can take the
// gateway down; every failure becomes a reply.
func (g *Gateway) handle(c *Client, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		metrics.CommandsTotal.WithLabelValues("unknown", "invalid").Inc()
		c.reply(errorMessage(MsgError, "", invalidCommand("malformed JSON")))
		return
	}
	if !commandTypes[env.Type] {
		metrics.CommandsTotal.WithLabelValues("unknown", "invalid").Inc()
		c.reply(errorMessage(MsgError, env.RequestID, invalidCommand("unknown command type "+strconv.Quote(env.Type))))
		return
	}

	key := c.player
	if key == "" {
		key = c.remote
	}
	if !g.limiter.Allow(key) {
		metrics.CommandsTotal.WithLabelValues(env.Type, "rate_limited").Inc()
		c.reply(errorMessage(MsgError, env.RequestID, ErrRateLimited))
		return
	}
	if env.Type != CmdAuth && c.player == "" {
		metrics.CommandsTotal.WithLabelValues(env.Type, "unauthenticated").Inc()
		c.reply(errorMessage(MsgError, env.RequestID, ErrNotAuthenticated))
		return
	}

	resp, err := g.dispatch(c, env.Type, data)
	if err != nil {
		metrics.CommandsTotal.WithLabelValues(env.Type, "error").Inc()
		errType := MsgError
		if env.Type == CmdTrade {
			errType = MsgTradeRejected
		}
		if match.KindOf(err) == 0 {
			g.logger.Error("command failed",
				zap.String("type", env.Type),
				zap.String("player", c.player),
				zap.Error(err))
		}
		c.reply(errorMessage(errType, env.RequestID, err))
		return
	}

	metrics.CommandsTotal.WithLabelValues(env.Type, "ok").Inc()
	if resp != nil {
		resp.RequestID = env.RequestID
		c.reply(*resp)
	}
}

func (g *Gateway) dispatch(c *Client, typ string, data []byte) (*Message, error) {
	switch typ {
	case CmdAuth:
		var cmd authCommand
		if err := decodeCommand(data, &cmd); err != nil {
			return nil, err
		}
		if c.player != "" {
			return nil, ErrAlreadyAuthenticated
		}
		player, err := g.auth.Authenticate(cmd.Address, cmd.Token)
		if err != nil {
			return nil, err
		}
		g.hub.Register(player, c)
		g.logger.Info("player authenticated", zap.String("player", player), zap.String("remote", c.remote))
		return &Message{Type: MsgAuthenticated, Player: player}, nil

	case CmdCreateMatch:
		var cmd createMatchCommand
		if err := decodeCommand(data, &cmd); err != nil {
			return nil, err
		}
		_, err := g.engine.CreateMatch(c.player, cmd.StakeAmount, cmd.DurationSeconds, cmd.Assets)
		return nil, err

	case CmdJoinMatch:
		var cmd matchCommand
		if err := decodeCommand(data, &cmd); err != nil {
			return nil, err
		}
		_, err := g.engine.JoinMatch(cmd.MatchID, c.player)
		return nil, err

	case CmdCancelMatch:
		var cmd matchCommand
		if err := decodeCommand(data, &cmd); err != nil {
			return nil, err
		}
		return nil, g.engine.CancelMatch(cmd.MatchID, c.player)

	case CmdTrade:
		var cmd tradeCommand
		if err := decodeCommand(data, &cmd); err != nil {
			return nil, err
		}
		trade, err := g.engine.ExecuteTrade(cmd.MatchID, c.player, cmd.Asset, cmd.Side, cmd.Quantity)
		if err != nil {
			return nil, err
		}
		return &Message{Type: MsgTradeAccepted, Trade: &trade}, nil

	case CmdGetMatch:
		var cmd matchCommand
		if err := decodeCommand(data, &cmd); err != nil {
			return nil, err
		}
		snap, err := g.engine.GetMatch(cmd.MatchID)
		if err != nil {
			return nil, err
		}
		return &Message{Type: MsgMatch, Match: &snap}, nil

	case CmdGetOpenMatches, CmdGetActiveMatches, CmdGetMyMatches, CmdPing:
		var cmd emptyCommand
		if err := decodeCommand(data, &cmd); err != nil {
			return nil, err
		}
		var msg Message
		switch typ {
		case CmdGetOpenMatches:
			msg = listing(string(match.EventOpenMatches), g.engine.GetOpenMatches())
		case CmdGetActiveMatches:
			msg = listing(MsgActiveMatches, g.engine.GetActiveMatches())
		case CmdGetMyMatches:
			msg = listing(MsgMyMatches, g.engine.GetMatchesForPlayer(c.player))
		default:
			msg = Message{Type: MsgPong}
		}
		return &msg, nil
	}
	return nil, invalidCommand("unknown command type " + strconv.Quote(typ))
}
