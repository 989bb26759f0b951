// Package api provides the HTTP surface of SafeRoam: device ingestion
// endpoints, dashboard REST resources, and the WebSocket broadcast hub.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"saferoam/metrics"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum message size allowed from peer.
	maxMessageSize = 512

	// sendChannelSize bounds each subscriber's queue. A subscriber that
	// falls this far behind is dropped rather than stalling the hub.
	sendChannelSize = 256
)

// BroadcastMessage is the envelope every dashboard notification is
// wrapped in before fanout.
type BroadcastMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// client represents a single dashboard WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub maintains the set of connected dashboard subscribers and fans
// broadcasts out to them. Per-subscriber queues decouple publishers
// from consumers: a publish never blocks on any subscriber, and every
// surviving subscriber observes messages in publish order.
type Hub struct {
	clients map[*client]bool

	broadcast  chan []byte
	register   chan *client
	unregister chan *client

	mu     sync.RWMutex
	logger *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// upgrader configures WebSocket connection upgrades. Origin checks are
// handled by corsMiddleware before the upgrade.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewHub creates a hub. It must be started with Start before use; the
// hub derives its own cancellable context so Stop works even when the
// parent context never cancels.
func NewHub(logger *zap.SugaredLogger, ctx context.Context) *Hub {
	hubCtx, cancel := context.WithCancel(ctx)
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     logger,
		ctx:        hubCtx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Start runs the hub's event loop. Must be called exactly once per Hub
// instance, in its own goroutine.
func (h *Hub) Start() {
	defer close(h.done)

	h.logger.Info("Dashboard hub started")

	for {
		select {
		case <-h.ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				client.conn.Close()
			}
			h.clients = make(map[*client]bool)
			h.mu.Unlock()
			metrics.ConnectedSubscribers.Set(0)
			h.logger.Info("Dashboard hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.ConnectedSubscribers.Set(float64(total))
			h.logger.Debugw("Dashboard subscriber connected", "total_subscribers", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				total := len(h.clients)
				h.mu.Unlock()
				metrics.ConnectedSubscribers.Set(float64(total))
				h.logger.Debugw("Dashboard subscriber disconnected", "total_subscribers", total)
			} else {
				h.mu.Unlock()
			}

		case message := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					// Subscriber's queue is full; drop it so one slow
					// consumer cannot stall everyone else.
					metrics.SubscribersDropped.Inc()
					go func(slow *client) {
						h.unregister <- slow
						slow.conn.Close()
					}(c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish sends a typed notification to all connected subscribers. It
// never blocks the caller for more than a second and never fails the
// operation that triggered it.
func (h *Hub) Publish(eventType string, data interface{}) {
	msg := BroadcastMessage{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
	}

	jsonData, err := json.Marshal(msg)
	if err != nil {
		h.logger.Errorw("Failed to marshal broadcast", "type", eventType, "error", err)
		return
	}
	h.PublishRaw(eventType, jsonData)
}

// PublishRaw enqueues an already-encoded broadcast frame.
func (h *Hub) PublishRaw(eventType string, frame []byte) {
	select {
	case h.broadcast <- frame:
		metrics.BroadcastsSent.WithLabelValues(eventType).Inc()
	case <-time.After(1 * time.Second):
		h.logger.Warnw("Broadcast timeout", "type", eventType)
	}
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop gracefully shuts down the hub and waits for cleanup.
func (h *Hub) Stop() {
	h.cancel()
	<-h.done
}

// readPump discards inbound frames; its only job is detecting
// disconnection and answering pings.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debugw("Subscriber unexpected close", "error", err)
			}
			break
		}
	}
}

// writePump drains the subscriber's queue onto the connection and runs
// the ping heartbeat.
func (c *client) writePump() {
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

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Flush whatever else is already queued into the same frame.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
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

// serveWs upgrades a dashboard connection and starts its pumps.
func serveWs(hub *Hub, logger *zap.SugaredLogger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorw("WebSocket upgrade failed", "error", err)
		return
	}

	client := &client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendChannelSize),
	}
	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}
