package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"geocab/logger"
	"geocab/metrics"
	"geocab/models"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is the envelope pushed to websocket clients.
type Message struct {
	Type string            `json:"type"`
	Data models.TripBooked `json:"data"`
}

// Hub fans committed TripBooked events out to websocket clients. A client
// subscribed to a driver only sees that driver's bookings; a client without
// a driver sees all of them.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan models.TripBooked
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	log        *slog.Logger
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan models.TripBooked, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        logger.L(),
	}
}

// Run is the hub's main loop. It returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Info("ws_client_connected", "driver", c.driver, "clients", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Info("ws_client_disconnected", "driver", c.driver, "clients", n)

		case e := <-h.broadcast:
			h.deliver(e)
		}
	}
}

func (h *Hub) deliver(e models.TripBooked) {
	data, err := json.Marshal(Message{Type: "trip_booked", Data: e})
	if err != nil {
		h.log.Error("ws_marshal_failed", "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.driver.IsZero() && c.driver != e.Driver {
			continue
		}
		select {
		case c.send <- data:
		default:
			// slow client, disconnect
			delete(h.clients, c)
			close(c.send)
			metrics.NotificationsDroppedTotal.Inc()
			h.log.Warn("ws_client_buffer_full", "driver", c.driver)
		}
	}
}

// NotifyTripBooked queues e for delivery without blocking the caller.
func (h *Hub) NotifyTripBooked(e models.TripBooked) {
	select {
	case h.broadcast <- e:
	default:
		metrics.NotificationsDroppedTotal.Inc()
		h.log.Warn("ws_broadcast_queue_full", "event", e.ID)
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Client is one websocket connection.
type Client struct {
	driver models.Address
	conn   *websocket.Conn
	hub    *Hub
	send   chan []byte
}

// ReadPump discards client messages and keeps the read deadline alive.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("ws_read_failed", "err", err)
			}
			return
		}
	}
}

// WritePump sends queued messages and pings, one message per frame.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS upgrades the request and subscribes the connection to the
// driver named by ?driver=, or to every booking when it is absent.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	var driver models.Address
	if q := r.URL.Query().Get("driver"); q != "" {
		var err error
		if driver, err = models.ParseAddress(q); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws_upgrade_failed", "err", err)
		return
	}
	c := &Client{driver: driver, conn: conn, hub: h, send: make(chan []byte, 64)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.WritePump()
	go c.ReadPump()
}
