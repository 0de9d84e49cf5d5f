package httpsrv

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Jinuk93/ur5e-ontology-rag-sub000/pkg/alerts"
	"github.com/Jinuk93/ur5e-ontology-rag-sub000/pkg/notify"
)

// AlertMessage is the envelope fanned out to dashboard clients. Exactly
// one of Toast or Event is set, per Type.
type AlertMessage struct {
	Type      string              `json:"type"` // toast, event
	Toast     *notify.Toast       `json:"toast,omitempty"`
	Event     *alerts.EventChange `json:"event,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// Client represents a connected dashboard WebSocket client.
type Client struct {
	hub  *AlertHub
	conn *websocket.Conn
	send chan []byte
}

// AlertHub manages dashboard WebSocket clients and broadcasts alert
// traffic to them. It implements notify.Sink for toasts and
// alerts.Subscriber for event lifecycle changes.
type AlertHub struct {
	logger     *logrus.Logger
	clients    map[*Client]bool
	broadcast  chan *AlertMessage
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
}

// upgrader configures the dashboard WebSocket connection.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The dashboard is served from a different origin in development.
		return true
	},
}

// NewAlertHub creates an alert fan-out hub.
func NewAlertHub(logger *logrus.Logger) *AlertHub {
	return &AlertHub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *AlertMessage, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run processes hub traffic until the context is cancelled.
func (h *AlertHub) Run(ctx context.Context) {
	h.logger.Info("Starting alert WebSocket hub")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Shutting down alert WebSocket hub")
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
			h.logger.Info("Dashboard client connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mutex.Unlock()
			h.logger.Info("Dashboard client disconnected")

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				h.logger.WithError(err).Error("Failed to marshal alert message")
				continue
			}

			h.mutex.Lock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Deliver broadcasts a toast to all connected clients.
func (h *AlertHub) Deliver(toast notify.Toast) error {
	t := toast
	h.enqueue(&AlertMessage{Type: "toast", Toast: &t, Timestamp: time.Now()})
	return nil
}

// OnEventChange broadcasts an event lifecycle change.
func (h *AlertHub) OnEventChange(change alerts.EventChange) {
	c := change
	h.enqueue(&AlertMessage{Type: "event", Event: &c, Timestamp: time.Now()})
}

// enqueue drops the message when the hub is saturated rather than block
// the watcher's control flow.
func (h *AlertHub) enqueue(message *AlertMessage) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("Alert hub broadcast queue full, dropping message")
	}
}

// ClientCount returns the number of connected dashboard clients.
func (h *AlertHub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// ServeWs upgrades a dashboard request to a WebSocket subscription.
func (h *AlertHub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade connection to WebSocket")
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// writePump pumps messages from the hub to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(60 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames so pings are answered, and unregisters
// on close.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
