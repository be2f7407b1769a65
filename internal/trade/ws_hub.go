package trade

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mantic/market-engine/internal/metrics"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsWriteWait  = 10 * time.Second
)

// WSMessage is a JSON message sent to WebSocket clients.
type WSMessage struct {
	Type          string             `json:"type"`
	ContractID    string             `json:"contract_id"`
	Outcome       string             `json:"outcome,omitempty"`
	Amount        float64            `json:"amount,omitempty"`
	Resolution    string             `json:"resolution,omitempty"`
	Probabilities map[string]float64 `json:"probabilities,omitempty"`
}

type wsEvent struct {
	contractID string
	data       []byte
}

// wsClient is one connection. An empty contractID subscribes to every
// contract.
type wsClient struct {
	conn       *websocket.Conn
	contractID string
}

// WSHub manages WebSocket connections and broadcasts messages to connected
// clients when contract probabilities move.
type WSHub struct {
	clients    map[*wsClient]bool
	broadcast  chan wsEvent
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	mu         sync.RWMutex
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan wsEvent, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main event loop and blocks until ctx is cancelled,
// then closes every connection.
func (h *WSHub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		h.mu.Lock()
		for c := range h.clients {
			c.conn.Close()
			delete(h.clients, c)
		}
		h.mu.Unlock()
		metrics.WebSocketClients.Set(0)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Inc()
			slog.Info("ws client connected", "contract", c.contractID, "total", total)

		case c := <-h.unregister:
			h.remove(c)

		case ev := <-h.broadcast:
			var dead []*wsClient
			h.mu.RLock()
			for c := range h.clients {
				if c.contractID != "" && c.contractID != ev.contractID {
					continue
				}
				c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, ev.data); err != nil {
					dead = append(dead, c)
				}
			}
			h.mu.RUnlock()
			for _, c := range dead {
				h.remove(c)
			}
		}
	}
}

func (h *WSHub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.conn.Close()
		metrics.WebSocketClients.Dec()
	}
}

// Broadcast sends a message to all clients subscribed to its contract.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- wsEvent{contractID: msg.ContractID, data: data}:
	default:
		// Drop if buffer full to avoid blocking trade execution.
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
// An optional ?contract_id= narrows the subscription to one contract.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}
	c := &wsClient{conn: conn, contractID: r.URL.Query().Get("contract_id")}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() {
			select {
			case h.unregister <- c:
			case <-h.done:
			}
		}()
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(wsPongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies. WriteControl
	// may run concurrently with the hub's writes.
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-h.done:
				return
			case <-ticker.C:
			}
			h.mu.RLock()
			_, ok := h.clients[c]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}()
}
