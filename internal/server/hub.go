package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"fenrir-perp/internal/eventbus"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wireEvent is the envelope every event is broadcast in, per spec.md §6:
// {type, data}.
type wireEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// clientMessage is the only shape a client may send: subscribe/unsubscribe
// with an optional market filter (empty market means "every market").
type clientMessage struct {
	Action string `json:"action"` // "subscribe" | "unsubscribe"
	Market string `json:"market"`
}

// Hub fans bus events out to every connected websocket client, honoring each
// client's market filter, adapted from the dashboard hub's register/
// unregister/broadcast pattern but driven by the domain event bus instead of
// a fixed snapshot feed.
type Hub struct {
	bus *eventbus.Bus

	mu      sync.RWMutex
	clients map[*wsClient]bool
}

func NewHub(bus *eventbus.Bus) *Hub {
	return &Hub{bus: bus, clients: make(map[*wsClient]bool)}
}

// Run subscribes to the bus and forwards every event to clients whose
// filter admits it, until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	sub := h.bus.Subscribe()
	defer h.bus.Unsubscribe(sub)

	for {
		evt, err := sub.Next(ctx)
		if err != nil {
			return
		}
		if evt.Type == eventbus.Lagged {
			continue
		}
		h.broadcast(evt)
	}
}

func (h *Hub) broadcast(evt eventbus.Event) {
	payload, err := json.Marshal(wireEvent{Type: string(evt.Type), Data: evt.Data})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.admits(evt.Market) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			// Slow client: drop rather than block the broadcaster.
			log.Warn().Msg("websocket client send buffer full, dropping event")
		}
	}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// wsClient wraps one connected websocket with its own market subscription
// set. While allOpen is set (the default on connect) every market is
// admitted; otherwise only the markets in the set are, plus events that
// carry no market.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.Mutex
	markets  map[string]bool
	allOpen  bool
}

func newClient(hub *Hub, conn *websocket.Conn) *wsClient {
	return &wsClient{hub: hub, conn: conn, send: make(chan []byte, 256), markets: make(map[string]bool), allOpen: true}
}

func (c *wsClient) admits(market string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.allOpen || market == "" {
		return true
	}
	return c.markets[market]
}

func (c *wsClient) applySubscribe(market string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if market == "" {
		c.allOpen = true
		return
	}
	c.allOpen = false
	c.markets[market] = true
}

func (c *wsClient) applyUnsubscribe(market string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if market == "" {
		c.markets = make(map[string]bool)
		c.allOpen = false
		return
	}
	delete(c.markets, market)
}

// ServeWS upgrades the request and runs both pumps, returning once the
// connection closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := newClient(h, conn)
	h.register(client)

	done := make(chan struct{})
	go client.writePump(done)
	client.readPump(done)
}

func (c *wsClient) readPump(done chan struct{}) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
		close(done)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Action {
		case "subscribe":
			c.applySubscribe(msg.Market)
		case "unsubscribe":
			c.applyUnsubscribe(msg.Market)
		}
	}
}

func (c *wsClient) writePump(done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
