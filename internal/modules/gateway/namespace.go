package gateway

import (
	"encoding/json"
	"strings"

	socketio "github.com/zishang520/socket.io/v2/socket"
	"go.uber.org/zap"
)

type inboundMessage struct {
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

const (
	messageJoinBrand  = "JOIN_BRAND"
	messageLeaveBrand = "LEAVE_BRAND"
)

// registerNamespace wires the /web namespace: clients authenticate with
// a token and workspace id in the handshake query, land in their
// workspace room, and may opt into brand sub-rooms.
func (h *Hub) registerNamespace() {
	ns := h.sio.Of(namespaceWeb, nil)
	_ = ns.On("connection", func(args ...any) {
		client, ok := args[0].(*socketio.Socket)
		if !ok {
			return
		}

		token, workspaceID := handshakeParams(client)
		userID, valid := "", false
		if token != "" && h.validateToken != nil {
			userID, valid = h.validateToken(token)
		}
		if !valid || workspaceID == "" {
			_ = client.Emit("message", gatewayPayload{Type: "AUTH_FAILED", Data: "auth failed"})
			client.Disconnect(true)
			return
		}

		sid := string(client.Id())
		wsRoom := WorkspaceRoom(workspaceID)
		client.Join(socketio.Room(wsRoom))
		h.register <- clientMeta{sid: sid, room: wsRoom}

		h.logger.Debug("gateway client connected",
			zap.String("sid", sid),
			zap.String("workspace_id", workspaceID),
			zap.String("user_id", userID))

		_ = client.Emit("message", gatewayPayload{Type: "GATEWAY_CONNECT", Data: "WebSocket connected"})

		_ = client.On("message", func(eventArgs ...any) {
			msg, ok := parseInbound(eventArgs...)
			if !ok {
				return
			}
			brandID, _ := msg.Payload["brand_id"].(string)
			brandID = strings.TrimSpace(brandID)
			if brandID == "" {
				return
			}
			room := BrandRoom(workspaceID, brandID)

			switch msg.Type {
			case messageJoinBrand:
				client.Join(socketio.Room(room))
				h.register <- clientMeta{sid: sid, room: room}
			case messageLeaveBrand:
				client.Leave(socketio.Room(room))
				h.unregister <- clientMeta{sid: sid, room: room}
			}
		})

		_ = client.On("disconnect", func(_ ...any) {
			h.unregister <- clientMeta{sid: sid}
		})
	})
}

func handshakeParams(client *socketio.Socket) (token, workspaceID string) {
	handshake := client.Handshake()
	if handshake == nil {
		return "", ""
	}
	return normalizeToken(firstQueryValue(handshake.Query, "token")),
		firstQueryValue(handshake.Query, "workspace_id")
}

func firstQueryValue(values map[string][]string, key string) string {
	for k, list := range values {
		if !strings.EqualFold(strings.TrimSpace(k), key) || len(list) == 0 {
			continue
		}
		if v := strings.TrimSpace(list[0]); v != "" {
			return v
		}
	}
	return ""
}

func parseInbound(args ...any) (inboundMessage, bool) {
	if len(args) == 0 || args[0] == nil {
		return inboundMessage{}, false
	}

	var msg inboundMessage
	switch raw := args[0].(type) {
	case map[string]interface{}:
		msg.Type, _ = raw["type"].(string)
		if payload, ok := raw["payload"].(map[string]interface{}); ok {
			msg.Payload = payload
		}
	case string:
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return inboundMessage{}, false
		}
	case []byte:
		if err := json.Unmarshal(raw, &msg); err != nil {
			return inboundMessage{}, false
		}
	default:
		data, err := json.Marshal(raw)
		if err != nil {
			return inboundMessage{}, false
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return inboundMessage{}, false
		}
	}

	msg.Type = strings.TrimSpace(msg.Type)
	if msg.Type == "" {
		return inboundMessage{}, false
	}
	if msg.Payload == nil {
		msg.Payload = map[string]interface{}{}
	}
	return msg, true
}
