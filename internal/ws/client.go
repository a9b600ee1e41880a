package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the maximum time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// pongWait is the maximum time to wait for a pong reply from the peer.
	pongWait = 60 * time.Second
	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize is the maximum inbound message size in bytes.
	maxMessageSize = 4096
)

// Identity carries the optional tenant/user claims presented at connect
// time. Both fields may be empty: such a connection is anonymous and receives
// only global broadcasts.
type Identity struct {
	TenantID string
	UserID   string
}

// controlMessage is the JSON envelope sent by the client after connecting.
// The only supported action is a tenant-room switch.
type controlMessage struct {
	Action   string `json:"action"`    // "switch_tenant"
	TenantID string `json:"tenant_id"` // new tenant, "" leaves all tenant rooms
}

// Client represents a single WebSocket connection.
type Client struct {
	ID       string
	TenantID string
	UserID   string

	mu   sync.RWMutex
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// NewClient creates a Client for a freshly upgraded connection. The caller
// registers it with the hub and starts the pumps.
func NewClient(hub *Hub, conn *websocket.Conn, identity Identity) *Client {
	return &Client{
		ID:       uuid.New().String(),
		TenantID: identity.TenantID,
		UserID:   identity.UserID,
		conn:     conn,
		send:     make(chan []byte, 256),
		hub:      hub,
	}
}

func (c *Client) setTenantID(tenantID string) {
	c.mu.Lock()
	c.TenantID = tenantID
	c.mu.Unlock()
}

// ReadPump pumps control messages from the WebSocket connection to the hub.
// It runs in its own goroutine per client; when it returns, the connection is
// released from every room.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("ws: client %s read error: %v", c.ID, err)
			}
			break
		}

		var cm controlMessage
		if err := json.Unmarshal(msg, &cm); err != nil {
			log.Printf("ws: client %s sent invalid control message: %v", c.ID, err)
			continue
		}

		switch cm.Action {
		case "switch_tenant":
			c.hub.SwitchTenant(c, cm.TenantID)
		default:
			log.Printf("ws: client %s unknown action %q", c.ID, cm.Action)
		}
	}
}

// WritePump pumps messages from the hub's send channel to the WebSocket
// connection. It runs in its own goroutine per client.
func (c *Client) WritePump() {
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
				// Hub closed the channel.
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
		}
	}
}
