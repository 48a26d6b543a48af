package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/KevinKickass/OpenMinerCore/internal/auth"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for the first (auth) message
	authWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	// Send channel buffer size
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Clients authenticate with a token, not with cookies
		return true
	},
}

// clientMessage is what clients may send: auth first, then subscribe.
type clientMessage struct {
	Type   string   `json:"type"`
	Token  string   `json:"token,omitempty"`
	Miners []string `json:"miners,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	logger     *zap.Logger
	remoteAddr string

	authenticated bool
	permissions   []auth.Permission

	// Leere Menge = alle Miner
	subMu         sync.RWMutex
	subscriptions map[string]bool
}

// wants reports whether msg passes the client's miner subscription filter.
func (c *Client) wants(msg Message) bool {
	if msg.Miner == "" {
		return true
	}
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions) == 0 || c.subscriptions[msg.Miner]
}

// readPump handles reading messages from the WebSocket connection
func (c *Client) readPump() {
	defer func() {
		if c.authenticated {
			c.hub.remove(c)
		} else {
			// Never registered, the hub does not own the channel
			close(c.send)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(authWait))

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("remote_addr", c.remoteAddr))
			}
			return
		}

		// First message MUST be authentication
		if !c.authenticated {
			if !c.authenticate(msg) {
				return
			}
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) authenticate(msg clientMessage) bool {
	if msg.Type != "auth" {
		c.sendAuthFailed("First message must be authentication")
		return false
	}
	if msg.Token == "" {
		c.sendAuthFailed("Missing token in auth message")
		return false
	}

	permissions, _, err := c.hub.validator.ValidateToken(msg.Token)
	if err != nil {
		c.logger.Warn("WebSocket authentication failed",
			zap.Error(err),
			zap.String("remote_addr", c.remoteAddr))
		c.sendAuthFailed("Invalid or expired token")
		return false
	}

	c.authenticated = true
	c.permissions = permissions

	// Ab jetzt halten Pongs die Verbindung offen
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.sendAuthSuccess(permissions)
	if status, ok := c.hub.currentStatus(); ok {
		c.sendJSON(NewSystemStatusMessage(status))
	}

	c.logger.Info("WebSocket client authenticated",
		zap.String("remote_addr", c.remoteAddr),
		zap.Any("permissions", permissions))

	// Register only after auth
	c.hub.add(c)
	return true
}

func (c *Client) sendAuthSuccess(permissions []auth.Permission) {
	c.sendJSON(map[string]any{
		"type":        "auth_success",
		"timestamp":   time.Now(),
		"permissions": permissions,
	})
}

func (c *Client) sendAuthFailed(reason string) {
	c.sendJSON(map[string]any{
		"type":      "auth_failed",
		"timestamp": time.Now(),
		"reason":    reason,
	})
}

func (c *Client) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("Client send buffer full, message dropped",
			zap.String("remote_addr", c.remoteAddr))
	}
}

func (c *Client) handleMessage(msg clientMessage) {
	switch msg.Type {
	case "subscribe":
		c.subMu.Lock()
		c.subscriptions = make(map[string]bool, len(msg.Miners))
		for _, miner := range msg.Miners {
			c.subscriptions[miner] = true
		}
		c.subMu.Unlock()

		c.sendJSON(map[string]any{
			"type":      "subscribed",
			"timestamp": time.Now(),
			"miners":    msg.Miners,
		})

	default:
		c.logger.Debug("Ignoring client message",
			zap.String("remote_addr", c.remoteAddr),
			zap.String("type", msg.Type))
	}
}

// writePump handles writing messages to the WebSocket connection
func (c *Client) writePump() {
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
				// Send channel closed
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

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

// ServeWs handles WebSocket upgrade requests
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufferSize),
		logger:     hub.logger,
		remoteAddr: conn.RemoteAddr().String(),
	}

	// Start read and write pumps in separate goroutines
	go client.writePump()
	go client.readPump()
}
