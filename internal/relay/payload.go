package relay

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Room identifiers. Every connection joins GlobalRoom at accept time; tenant
// and user rooms are derived from the handshake identity.
const (
	GlobalRoom       = "global"
	tenantRoomPrefix = "tenant:"
	userRoomPrefix   = "user:"
)

// TenantRoom returns the room identifier for a tenant.
func TenantRoom(tenantID string) string {
	return tenantRoomPrefix + tenantID
}

// UserRoom returns the room identifier for a user.
func UserRoom(userID string) string {
	return userRoomPrefix + userID
}

// IsTenantRoom reports whether room is a tenant room. Used by the hub's
// tenant-switch logic to leave every currently-held tenant room.
func IsTenantRoom(room string) bool {
	return strings.HasPrefix(room, tenantRoomPrefix)
}

// Payload is the unit forwarded to clients. Only the routing fields are
// interpreted by the relay; the rest of the message body rides through
// untouched in raw.
type Payload struct {
	TenantID string `json:"tenant_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Type     string `json:"type,omitempty"`

	raw json.RawMessage
}

// ParsePayload decodes a broker message body. It fails on anything that is
// not a JSON object; callers treat that as a malformed message
// (acknowledge-and-drop, never requeue).
func ParsePayload(body []byte) (Payload, error) {
	if !isJSONObject(body) {
		return Payload{}, fmt.Errorf("parse payload: not a JSON object")
	}
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Payload{}, fmt.Errorf("parse payload: %w", err)
	}
	p.raw = append(json.RawMessage(nil), body...)
	return p, nil
}

// JSON returns the full payload body as originally received. For payloads
// constructed in code (tests, producers) it falls back to marshalling the
// routing fields.
func (p Payload) JSON() json.RawMessage {
	if p.raw != nil {
		return p.raw
	}
	data, err := json.Marshal(p)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

// Room resolves the single delivery target for the payload. Precedence is
// tenant > user > global; exactly one room, never more.
func (p Payload) Room() string {
	switch {
	case p.TenantID != "":
		return TenantRoom(p.TenantID)
	case p.UserID != "":
		return UserRoom(p.UserID)
	default:
		return GlobalRoom
	}
}

func isJSONObject(body []byte) bool {
	for _, b := range body {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}
