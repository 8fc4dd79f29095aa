// Package gateway pushes publication lifecycle events to connected
// clients over socket.io, with Redis pub/sub fanning broadcasts out
// across server instances.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	pkgredis "github.com/publora/core/internal/pkg/redis"
	socketio "github.com/zishang520/socket.io/v2/socket"
	"go.uber.org/zap"
)

func NewHub(rc *pkgredis.Client, logger *zap.Logger, validateToken TokenValidator) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		sidRooms:      make(map[string]map[string]bool),
		roomCount:     make(map[string]int),
		broadcast:     make(chan Message, 256),
		register:      make(chan clientMeta, 256),
		unregister:    make(chan clientMeta, 256),
		nodeID:        uuid.New().String(),
		rc:            rc,
		logger:        logger,
		sio:           socketio.NewServer(nil, nil),
		validateToken: validateToken,
	}
	h.registerNamespace()
	return h
}

// Run starts the hub loop and the Redis subscriber, blocking until ctx
// is cancelled.
func (h *Hub) Run(ctx context.Context) {
	go h.subscribeRedis(ctx)

	for {
		select {
		case <-ctx.Done():
			h.sio.Close(nil)
			return

		case c := <-h.register:
			h.trackJoin(c.sid, c.room)

		case c := <-h.unregister:
			h.trackLeave(c.sid, c.room)

		case msg := <-h.broadcast:
			h.deliver(msg)
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := h.rc.Publish(ctx, redisChanEvents, string(data)); err != nil {
				h.logger.Warn("gateway publish failed", zap.Error(err))
			}
		}
	}
}

// Broadcast queues an event for the given rooms on every node.
func (h *Hub) Broadcast(event string, payload interface{}, rooms ...string) {
	select {
	case h.broadcast <- Message{Event: event, Payload: payload, Rooms: rooms, Origin: h.nodeID}:
	default:
		h.logger.Warn("gateway broadcast queue full, dropping event", zap.String("event", event))
	}
}

// PublicationEvent implements the publish module's Notifier port.
// Events land in the workspace room and the brand sub-room.
func (h *Hub) PublicationEvent(workspaceID, brandID, event string, payload interface{}) {
	rooms := []string{WorkspaceRoom(workspaceID)}
	if brandID != "" {
		rooms = append(rooms, BrandRoom(workspaceID, brandID))
	}
	h.Broadcast(event, payload, rooms...)
}

func (h *Hub) deliver(msg Message) {
	ns := h.sio.Of(namespaceWeb, nil)
	envelope := gatewayPayload{Type: msg.Event, Data: msg.Payload}
	if len(msg.Rooms) == 0 {
		ns.Emit("message", envelope)
		return
	}
	for _, room := range msg.Rooms {
		ns.To(socketio.Room(room)).Emit("message", envelope)
	}
}

// subscribeRedis replays broadcasts from other server instances.
func (h *Hub) subscribeRedis(ctx context.Context) {
	pubsub := h.rc.Subscribe(ctx, redisChanEvents)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case redisMsg, ok := <-ch:
			if !ok {
				return
			}
			var msg Message
			if err := json.Unmarshal([]byte(redisMsg.Payload), &msg); err != nil {
				continue
			}
			if msg.Origin == h.nodeID {
				continue
			}
			h.deliver(msg)
		}
	}
}

func (h *Hub) trackJoin(sid, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rooms, ok := h.sidRooms[sid]
	if !ok {
		rooms = make(map[string]bool)
		h.sidRooms[sid] = rooms
	}
	if !rooms[room] {
		rooms[room] = true
		h.roomCount[room]++
	}
}

func (h *Hub) trackLeave(sid, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rooms, ok := h.sidRooms[sid]
	if !ok {
		return
	}
	if room == "" {
		for r := range rooms {
			if h.roomCount[r] > 0 {
				h.roomCount[r]--
			}
		}
		delete(h.sidRooms, sid)
		return
	}
	if rooms[room] {
		delete(rooms, room)
		if h.roomCount[room] > 0 {
			h.roomCount[room]--
		}
	}
}

// ClientCount returns connections in a room, or all when room is "".
func (h *Hub) ClientCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if room == "" {
		return len(h.sidRooms)
	}
	return h.roomCount[room]
}

// Handler returns the socket.io HTTP handler mounted at /socket.io.
func (h *Hub) Handler() http.Handler {
	return h.sio.ServeHandler(nil)
}

func normalizeToken(raw string) string {
	token := strings.TrimSpace(raw)
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		return strings.TrimSpace(token[7:])
	}
	return token
}
