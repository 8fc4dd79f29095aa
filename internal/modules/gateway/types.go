package gateway

import (
	"sync"

	pkgredis "github.com/publora/core/internal/pkg/redis"
	socketio "github.com/zishang520/socket.io/v2/socket"
	"go.uber.org/zap"
)

const (
	namespaceWeb    = "/web"
	redisChanEvents = "pl:gateway:events"
)

// Message is the envelope used by hub broadcasts and Redis fan-out.
// Origin identifies the emitting node so a node skips its own messages
// when they come back over Redis.
type Message struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
	Rooms   []string    `json:"rooms,omitempty"`
	Origin  string      `json:"origin,omitempty"`
}

type gatewayPayload struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type clientMeta struct {
	sid  string
	room string
}

// TokenValidator checks a client token and returns the user id.
type TokenValidator func(token string) (string, bool)

// Hub manages the workspace-scoped socket.io namespace and cluster
// fan-out over Redis.
type Hub struct {
	mu sync.RWMutex

	sidRooms  map[string]map[string]bool
	roomCount map[string]int

	broadcast  chan Message
	register   chan clientMeta
	unregister chan clientMeta

	nodeID        string
	rc            *pkgredis.Client
	logger        *zap.Logger
	sio           *socketio.Server
	validateToken TokenValidator
}

// WorkspaceRoom is the room every workspace member joins on connect.
func WorkspaceRoom(workspaceID string) string {
	return "workspace:" + workspaceID
}

// BrandRoom is an opt-in sub-room for brand-level event filtering.
func BrandRoom(workspaceID, brandID string) string {
	return WorkspaceRoom(workspaceID) + ":brand:" + brandID
}
