// Package stream pushes scan results to websocket subscribers.
package stream

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	applog "github.com/yourusername/edge-scanner/internal/logger"
	"github.com/yourusername/edge-scanner/internal/metrics"
	"github.com/yourusername/edge-scanner/internal/models"
)

var (
	// ErrBroadcastFull is returned by Publish when the broadcast buffer is saturated
	ErrBroadcastFull = errors.New("broadcast buffer full")
	// ErrHubStopped is returned by Publish once Run has exited
	ErrHubStopped = errors.New("stream hub stopped")
)

// LatestFunc returns the most recent scan result, if any
type LatestFunc func() (*models.ScanResult, bool)

// Hub maintains the set of active clients and broadcasts scan results to them.
// All client bookkeeping happens on the Run goroutine.
type Hub struct {
	clients   map[*Client]struct{}
	clientsMu sync.RWMutex

	broadcast  chan *models.ScanResult
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	upgrader websocket.Upgrader
	latest   LatestFunc
	logger   *logrus.Entry

	totalConnections int64
	totalMessages    int64
	metricsMu        sync.Mutex
}

// NewHub creates a hub. An empty allowedOrigins list or "*" accepts any origin.
// latest, when set, seeds every new client with the current result.
func NewHub(allowedOrigins []string, latest LatestFunc, logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = applog.Discard()
	}
	h := &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan *models.ScanResult, 16),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		latest:     latest,
		logger:     logger.WithField("component", "stream"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// Name identifies the hub as a scan result sink
func (h *Hub) Name() string {
	return "websocket"
}

// Publish queues a scan result for broadcast
func (h *Hub) Publish(ctx context.Context, result *models.ScanResult) error {
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}

	select {
	case h.broadcast <- result:
		return nil
	default:
		return ErrBroadcastFull
	}
}

// Run processes registrations and broadcasts until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("Stream hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case c := <-h.register:
			h.registerClient(c)

		case c := <-h.unregister:
			h.unregisterClient(c)

		case result := <-h.broadcast:
			h.broadcastResult(result)
		}
	}
}

// Register adds a client to the hub
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.closeSend()
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// ServeHTTP upgrades the connection and attaches a new client.
// Query parameters strategies, sports and min_ev seed the client's filter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	q := r.URL.Query()
	minEV, _ := strconv.ParseFloat(q.Get("min_ev"), 64)
	filter := filterFromQuery(q.Get("strategies"), q.Get("sports"), minEV)

	c := newClient(uuid.New().String(), conn, h, filter, h.logger)
	h.Register(c)

	go c.WritePump()
	go c.ReadPump()
}

// ClientCount returns the number of active clients
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Stats returns hub counters
func (h *Hub) Stats() map[string]interface{} {
	h.metricsMu.Lock()
	defer h.metricsMu.Unlock()
	return map[string]interface{}{
		"active_clients":    h.ClientCount(),
		"total_connections": h.totalConnections,
		"total_messages":    h.totalMessages,
	}
}

func (h *Hub) registerClient(c *Client) {
	h.clientsMu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.clientsMu.Unlock()

	h.metricsMu.Lock()
	h.totalConnections++
	h.metricsMu.Unlock()

	metrics.UpdateStreamClients(count)
	h.logger.WithFields(logrus.Fields{"client_id": c.ID, "clients": count}).Info("Stream client connected")

	if h.latest == nil {
		return
	}
	if result, ok := h.latest(); ok && result != nil {
		filtered := c.Filter().Apply(result)
		c.TrySend(ServerMessage{Type: MessageTypeScanResult, Payload: filtered, Timestamp: time.Now()})
	}
}

func (h *Hub) unregisterClient(c *Client) {
	h.clientsMu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	count := len(h.clients)
	h.clientsMu.Unlock()

	if !ok {
		return
	}
	c.closeSend()
	metrics.UpdateStreamClients(count)
	h.logger.WithFields(logrus.Fields{"client_id": c.ID, "clients": count}).Info("Stream client disconnected")
}

// broadcastResult sends each client its filtered view; clients that cannot keep up are dropped
func (h *Hub) broadcastResult(result *models.ScanResult) {
	h.clientsMu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clientsMu.RUnlock()

	sent := 0
	var slow []*Client
	now := time.Now()
	for _, c := range clients {
		filtered := c.Filter().Apply(result)
		if c.TrySend(ServerMessage{Type: MessageTypeScanResult, Payload: filtered, Timestamp: now}) {
			sent++
		} else {
			slow = append(slow, c)
		}
	}

	for _, c := range slow {
		h.logger.WithField("client_id", c.ID).Warn("Stream client buffer full, disconnecting")
		h.unregisterClient(c)
	}

	if sent > 0 {
		h.metricsMu.Lock()
		h.totalMessages++
		h.metricsMu.Unlock()
	}
}

func (h *Hub) shutdown() {
	h.clientsMu.Lock()
	clients := h.clients
	h.clients = make(map[*Client]struct{})
	h.clientsMu.Unlock()

	h.logger.WithField("clients", len(clients)).Info("Shutting down stream hub")
	for c := range clients {
		c.closeSend()
	}
	metrics.UpdateStreamClients(0)
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || contains(allowed, "*") {
		return func(r *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || contains(allowed, origin)
	}
}
