package ws

import (
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/elviskudo/mini-erp/realtime/internal/auth"
)

// WSHandler upgrades HTTP connections to WebSocket and spawns the read/write
// pumps for the new client.
type WSHandler struct {
	hub        *Hub
	jwtService *auth.JWTService
	upgrader   websocket.Upgrader
}

// NewWSHandler creates a WSHandler. allowedOrigins is a comma-separated list
// of origins permitted to connect; empty means browser origins are not
// checked (non-browser clients send no Origin header either way).
func NewWSHandler(hub *Hub, jwtService *auth.JWTService, allowedOrigins string) *WSHandler {
	var origins []string
	for _, o := range strings.Split(allowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return &WSHandler{
		hub:        hub,
		jwtService: jwtService,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(origins),
		},
	}
}

// RegisterRoutes wires the WebSocket endpoint.
func (h *WSHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws", h.ServeWS).Methods(http.MethodGet)
}

// ServeWS upgrades an HTTP GET /ws request to a WebSocket connection. The
// handshake identity is read from:
//  1. A JWT in the `token` query parameter or `Authorization: Bearer`
//     header, carrying tenant_id/sub claims, or
//  2. Plain `tenant_id` / `user_id` query parameters.
//
// Both sources are optional; a request carrying neither yields an anonymous,
// global-only connection. A presented-but-invalid token is rejected.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identityFrom(r)
	if !ok {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader already wrote the error response.
		return
	}

	client := NewClient(h.hub, conn, identity)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

func (h *WSHandler) identityFrom(r *http.Request) (Identity, bool) {
	token := r.URL.Query().Get("token")
	if token == "" {
		authHeader := r.Header.Get("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			token = parts[1]
		}
	}

	if token != "" {
		claims, err := h.jwtService.ValidateToken(token)
		if err != nil {
			log.Printf("ws: rejecting connection with invalid token: %v", err)
			return Identity{}, false
		}
		return Identity{TenantID: claims.TenantID, UserID: claims.UserID}, true
	}

	return Identity{
		TenantID: r.URL.Query().Get("tenant_id"),
		UserID:   r.URL.Query().Get("user_id"),
	}, true
}

// originChecker validates the Origin header against the configured allow
// list. Requests without an Origin header (same-origin or non-browser
// clients) are always accepted.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if strings.EqualFold(origin, a) {
				return true
			}
		}
		return false
	}
}
