package stream

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/edge-scanner/internal/models"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	// Size of the client's send buffer
	sendBufferSize = 64
)

// Message types exchanged with stream clients
const (
	MessageTypeScanResult  = "scan_result"
	MessageTypeSubscribe   = "subscribe"
	MessageTypeUnsubscribe = "unsubscribe"
	MessageTypeHeartbeat   = "heartbeat"
	MessageTypeError       = "error"
)

// ClientMessage is a control message sent by a client
type ClientMessage struct {
	Type    string `json:"type"`
	Payload Filter `json:"payload"`
}

// ServerMessage is pushed to clients
type ServerMessage struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorMessage is the payload of an error message
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Filter narrows the opportunities a client receives. Zero values match everything.
type Filter struct {
	Strategies       []string `json:"strategies,omitempty"`
	Sports           []string `json:"sports,omitempty"`
	MinExpectedValue float64  `json:"minExpectedValue,omitempty"`
}

// Matches reports whether an opportunity passes the filter
func (f Filter) Matches(o *models.Opportunity) bool {
	if len(f.Strategies) > 0 && !contains(f.Strategies, string(o.Type)) {
		return false
	}
	if len(f.Sports) > 0 && !contains(f.Sports, o.Subject.Category) {
		return false
	}
	return o.ExpectedValue >= f.MinExpectedValue
}

// Apply returns a copy of result restricted to matching opportunities.
// The portfolio is left intact so clients see the global selection.
func (f Filter) Apply(result *models.ScanResult) models.ScanResult {
	out := *result
	out.Opportunities = make([]models.Opportunity, 0, len(result.Opportunities))
	for i := range result.Opportunities {
		if f.Matches(&result.Opportunities[i]) {
			out.Opportunities = append(out.Opportunities, result.Opportunities[i])
		}
	}
	return out
}

// Client is a single websocket subscriber
type Client struct {
	ID   string
	conn *websocket.Conn
	send chan []byte

	hub    *Hub
	logger *logrus.Entry

	mu          sync.RWMutex
	filter      Filter
	connectedAt time.Time
	sent        int64
	dropped     int64
	closed      bool
}

func newClient(id string, conn *websocket.Conn, hub *Hub, filter Filter, logger *logrus.Entry) *Client {
	return &Client{
		ID:          id,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		hub:         hub,
		logger:      logger.WithField("client_id", id),
		filter:      filter,
		connectedAt: time.Now(),
	}
}

// Filter returns the client's current subscription filter
func (c *Client) Filter() Filter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter
}

// SetFilter replaces the client's subscription filter
func (c *Client) SetFilter(f Filter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter = f
}

// TrySend queues a message without blocking. It reports false when the
// buffer is full or the client has been closed.
func (c *Client) TrySend(msg ServerMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.WithError(err).Error("Failed to encode stream message")
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}

	select {
	case c.send <- data:
		c.sent++
		return true
	default:
		c.dropped++
		return false
	}
}

// closeSend closes the send buffer once, which makes WritePump say goodbye
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump consumes control messages until the connection closes, then unregisters the client
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).Debug("Stream client closed unexpectedly")
			}
			return
		}
		c.handleClientMessage(msg)
	}
}

// WritePump drains the send buffer and keeps the connection alive with pings
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleClientMessage(msg ClientMessage) {
	switch msg.Type {
	case MessageTypeSubscribe:
		c.SetFilter(msg.Payload)
		c.logger.WithFields(logrus.Fields{
			"strategies": msg.Payload.Strategies,
			"sports":     msg.Payload.Sports,
		}).Debug("Stream client subscribed")
	case MessageTypeUnsubscribe:
		c.SetFilter(Filter{})
	case MessageTypeHeartbeat:
		c.mu.RLock()
		stats := map[string]interface{}{
			"clientId":     c.ID,
			"connectedAt":  c.connectedAt,
			"messagesSent": c.sent,
			"dropped":      c.dropped,
		}
		c.mu.RUnlock()
		c.TrySend(ServerMessage{Type: MessageTypeHeartbeat, Payload: stats, Timestamp: time.Now()})
	default:
		c.TrySend(ServerMessage{
			Type:      MessageTypeError,
			Payload:   ErrorMessage{Code: "unknown_message_type", Message: "unknown message type: " + msg.Type},
			Timestamp: time.Now(),
		})
	}
}

// filterFromQuery reads a filter from ?strategies=a,b&sports=x&min_ev=0.02
func filterFromQuery(strategies, sports string, minEV float64) Filter {
	return Filter{
		Strategies:       splitList(strategies),
		Sports:           splitList(sports),
		MinExpectedValue: minEV,
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
