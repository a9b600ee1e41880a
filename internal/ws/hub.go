package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/elviskudo/mini-erp/realtime/internal/relay"
)

// pushFrame is the JSON envelope written to clients: a server event name plus
// the opaque payload.
type pushFrame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Hub owns the authoritative mapping from room identifier to the set of
// locally-held connections and mediates all membership changes. Mutation and
// local delivery happen only on the Run loop, so the room index has exactly
// one writer. All operations travel through a single command channel:
// processing order is enqueue order, so a tenant switch can never overtake
// the registration before it, and a delivery can never overtake the switch
// that moved the client out of its room.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]*Client // room ID -> client ID -> client

	commands chan hubCmd
}

type cmdKind int

const (
	cmdRegister cmdKind = iota
	cmdUnregister
	cmdSwitchTenant
	cmdDeliver
)

type hubCmd struct {
	kind     cmdKind
	client   *Client
	tenantID string
	room     string
	data     []byte
}

// NewHub allocates and initialises a Hub. Call Run() in a goroutine to start
// the event loop.
func NewHub() *Hub {
	return &Hub{
		clients:  make(map[string]*Client),
		rooms:    make(map[string]map[string]*Client),
		commands: make(chan hubCmd, 256),
	}
}

// Run is the hub's main event loop. It must be executed in a dedicated
// goroutine.
func (h *Hub) Run() {
	for cmd := range h.commands {
		switch cmd.kind {
		case cmdRegister:
			h.addClient(cmd.client)
		case cmdUnregister:
			h.removeClient(cmd.client)
		case cmdSwitchTenant:
			h.applySwitchTenant(cmd.client, cmd.tenantID)
		case cmdDeliver:
			h.deliverLocal(cmd.room, cmd.data)
		}
	}
}

// Register enqueues a new client for addition to the hub. The client joins
// the global room unconditionally, plus its tenant and user rooms when the
// handshake identity carries them.
func (h *Hub) Register(c *Client) {
	h.commands <- hubCmd{kind: cmdRegister, client: c}
}

// Unregister enqueues a client for removal from the hub. Safe to call more
// than once.
func (h *Hub) Unregister(c *Client) {
	h.commands <- hubCmd{kind: cmdUnregister, client: c}
}

// SwitchTenant enqueues a tenant-room switch for the client. The connection
// leaves every tenant room it holds, then joins tenant:<tenantID> if
// non-empty. Because the switch is a single loop turn, no delivery can
// observe the connection in zero or two tenant rooms.
func (h *Hub) SwitchTenant(c *Client, tenantID string) {
	h.commands <- hubCmd{kind: cmdSwitchTenant, client: c, tenantID: tenantID}
}

// Deliver enqueues a push event for every connection locally registered
// under room.
func (h *Hub) Deliver(room, event string, payload json.RawMessage) {
	data, err := json.Marshal(pushFrame{Event: event, Payload: payload})
	if err != nil {
		log.Printf("ws: failed to marshal push frame: %v", err)
		return
	}
	h.commands <- hubCmd{kind: cmdDeliver, room: room, data: data}
}

// Stats returns a snapshot of the local connection count and per-tenant-room
// membership counts for the health signal.
func (h *Hub) Stats() relay.HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := relay.HubStats{
		Connections: len(h.clients),
		TenantRooms: make(map[string]int),
	}
	for room, members := range h.rooms {
		if relay.IsTenantRoom(room) {
			stats.TenantRooms[room] = len(members)
		}
	}
	return stats
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c.ID] = c
	h.join(c, relay.GlobalRoom)
	if c.TenantID != "" {
		h.join(c, relay.TenantRoom(c.TenantID))
	}
	if c.UserID != "" {
		h.join(c, relay.UserRoom(c.UserID))
	}
	log.Printf("ws: client %s registered (tenant=%q user=%q)", c.ID, c.TenantID, c.UserID)
}

// removeClient releases the client from every room it belongs to. Idempotent:
// a second call for the same client is a no-op, and empty rooms are pruned so
// reconnect churn cannot leak memory.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	delete(h.clients, c.ID)

	for room, members := range h.rooms {
		if _, ok := members[c.ID]; ok {
			h.leave(c, room)
		}
	}

	close(c.send)
	log.Printf("ws: client %s released", c.ID)
}

func (h *Hub) applySwitchTenant(c *Client, tenantID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.ID]; !ok {
		return
	}

	// Leave every tenant room currently held. At most one should exist,
	// but the prefix scan also cleans up any stray membership.
	for room := range h.rooms {
		if relay.IsTenantRoom(room) {
			h.leave(c, room)
		}
	}

	if tenantID != "" {
		h.join(c, relay.TenantRoom(tenantID))
	}
	c.setTenantID(tenantID)
	log.Printf("ws: client %s switched to tenant %q", c.ID, tenantID)
}

// deliverLocal pushes data to every connection in room. A slow consumer has
// the message dropped rather than stalling its siblings; a dead connection is
// reaped by its own pump via the ping/pong deadline.
func (h *Hub) deliverLocal(room string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.rooms[room] {
		select {
		case client.send <- data:
		default:
			log.Printf("ws: client %s send buffer full, dropping message", client.ID)
		}
	}
}

// join and leave must be called with h.mu held.
func (h *Hub) join(c *Client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[c.ID] = c
}

func (h *Hub) leave(c *Client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c.ID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// memberOf reports whether the client currently belongs to room. Exposed for
// hub internals and tests.
func (h *Hub) memberOf(clientID, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][clientID]
	return ok
}
