package webserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/evantahler/bun-actionhero-sub000/internal/actionerr"
	"github.com/evantahler/bun-actionhero-sub000/internal/connection"
	"github.com/evantahler/bun-actionhero-sub000/internal/pubsub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The CORS origin matrix already governs which origins may read a
	// credentialed HTTP response; the WebSocket handshake carries the
	// same session cookie, so there is nothing additional to gate here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// frameIn is the wire shape of every inbound text frame (spec §4.3
// "WebSocket frame protocol").
type frameIn struct {
	MessageType string         `json:"messageType"`
	Action      string         `json:"action"`
	MessageID   string         `json:"messageId"`
	Params      map[string]any `json:"params"`
	Channel     string         `json:"channel"`
}

// handleWebSocket upgrades the connection, registers a long-lived
// Connection of type "websocket", and runs the frame read loop until the
// socket closes (spec §3 Connection lifecycle: "destroyed ... on
// WebSocket close").
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, connID, peerIP string, respHeader http.Header) {
	wsRaw, err := upgrader.Upgrade(w, r, respHeader)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := connection.New(connection.TypeWebSocket, peerIP, connID)
	conn.RawSocket = wsRaw
	s.conns.Add(conn)

	defer wsRaw.Close()
	defer s.bus.DestroyConnection(context.Background(), conn)

	for {
		_, raw, err := wsRaw.ReadMessage()
		if err != nil {
			return
		}
		s.handleFrame(r.Context(), conn, raw)
	}
}

func (s *Server) handleFrame(ctx context.Context, conn *connection.Connection, raw []byte) {
	var in frameIn
	if err := json.Unmarshal(raw, &in); err != nil {
		_ = conn.WriteJSON(map[string]any{"error": errEnvelope(actionerr.New(actionerr.ActionParamFormatting, "malformed frame"))})
		return
	}

	switch in.MessageType {
	case "action":
		outcome := s.dispatcher.Act(ctx, conn, in.Action, in.Params, "", "")
		if outcome.Err != nil {
			_ = conn.WriteJSON(map[string]any{"messageId": in.MessageID, "error": errEnvelope(outcome.Err)})
			return
		}
		_ = conn.WriteJSON(map[string]any{"messageId": in.MessageID, "response": outcome.Response})

	case "subscribe":
		if err := s.bus.Subscribe(ctx, in.Channel, conn); err != nil {
			_ = conn.WriteJSON(map[string]any{"messageId": in.MessageID, "error": errEnvelope(actionerr.Wrap(err))})
			return
		}
		_ = conn.WriteJSON(map[string]any{"messageId": in.MessageID, "subscribed": map[string]any{"channel": in.Channel}})

	case "unsubscribe":
		s.bus.Unsubscribe(ctx, in.Channel, conn)
		_ = conn.WriteJSON(map[string]any{"messageId": in.MessageID, "unsubscribed": map[string]any{"channel": in.Channel}})

	default:
		_ = conn.WriteJSON(map[string]any{"error": errEnvelope(actionerr.New(actionerr.ConnectionTypeNotFound, "unknown messageType"))})
	}
}

// deliverBroadcast is the pubsub.Bus's ReceiveFunc: every broadcast a
// connection is subscribed to arrives as one {message: ...} frame (spec
// §4.3: "Broadcast payloads received via pub/sub ... are delivered as
// {message: <PubSubMessage>} JSON frames").
func (s *Server) deliverBroadcast(conn *connection.Connection, msg pubsub.Message) {
	if err := conn.WriteJSON(map[string]any{"message": msg}); err != nil {
		s.log.Debug("broadcast delivery failed, connection likely closed", zap.String("id", conn.ID), zap.Error(err))
	}
}

func errEnvelope(e *actionerr.Error) map[string]any {
	out := map[string]any{
		"message":   e.Message,
		"type":      string(e.Kind),
		"timestamp": e.OccurredAt(),
	}
	if e.Key != "" {
		out["key"] = e.Key
		out["value"] = e.Value
	}
	return out
}

