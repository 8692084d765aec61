package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"duel/internal/market"
	"duel/internal/match"
	"duel/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// Hub maps players to their most recent connection. It implements
// match.Notifier; every send is non-blocking and a full client buffer drops
// the message.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	players map[string]*Client
	logger  *zap.Logger
}

// Client is one WebSocket connection.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	remote string

	// player is set once by the read loop on auth.
	player string
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		players: make(map[string]*Client),
		logger:  logger,
	}
}

func newClient(conn *websocket.Conn, remote string) *Client {
	return &Client{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		remote: remote,
	}
}

// Player returns the authenticated player, empty before auth.
func (c *Client) Player() string {
	return c.player
}

func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Register binds player to c, replacing any earlier connection. The earlier
// connection stays open but is no longer targeted.
func (h *Hub) Register(player string, c *Client) {
	h.mu.Lock()
	c.player = player
	h.players[player] = c
	n := len(h.players)
	h.mu.Unlock()

	metrics.ConnectedPlayers.Set(float64(n))
	h.logger.Debug("player registered", zap.String("player", player), zap.String("remote", c.remote))
}

// Unregister forgets c. The player mapping is only dropped if it still
// points at c.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	if c.player != "" && h.players[c.player] == c {
		delete(h.players, c.player)
	}
	n := len(h.players)
	h.mu.Unlock()

	metrics.ConnectedPlayers.Set(float64(n))
}

// Connected reports whether player has a registered connection.
func (h *Hub) Connected(player string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.players[player]
	return ok
}

// Players returns the number of registered players.
func (h *Hub) Players() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.players)
}

// SendTo delivers ev to player if connected.
func (h *Hub) SendTo(player string, ev match.Event) {
	h.SendMessage(player, eventMessage(ev))
}

// Broadcast delivers ev to every registered player.
func (h *Hub) Broadcast(ev match.Event) {
	h.BroadcastMessage(eventMessage(ev))
}

// BroadcastPrices pushes a refreshed quote to every registered player.
func (h *Hub) BroadcastPrices(q market.Quote) {
	h.BroadcastMessage(Message{Type: MsgPrices, Prices: &q})
}

func (h *Hub) SendMessage(player string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal message", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	h.mu.RLock()
	c, ok := h.players[player]
	h.mu.RUnlock()
	if ok && !c.enqueue(data) {
		h.logger.Warn("dropped message", zap.String("player", player), zap.String("type", msg.Type))
	}
}

func (h *Hub) BroadcastMessage(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal message", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.players {
		c.enqueue(data)
	}
}

// Close shuts every connection down.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.close()
	}
}

// reply sends msg straight to c, authenticated or not.
func (c *Client) reply(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
