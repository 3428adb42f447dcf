package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ankleBowl/LucyServer/internal/message"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Satellites and wall tablets connect from anywhere on the LAN.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// inboundEvent is one client-to-gateway websocket frame.
type inboundEvent struct {
	Type    string         `json:"type"`
	Message string         `json:"message,omitempty"`
	Tool    string         `json:"tool,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// wsClient implements session.Client over one websocket connection.
// gorilla/websocket allows a single concurrent writer, so every send
// goes through the write mutex.
type wsClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsClient) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsClient) Authenticated() error {
	return c.send(map[string]any{"status": "authenticated"})
}

func (c *wsClient) ToolPending(module, function string, args map[string]any) error {
	return c.send(map[string]any{
		"type": "tool",
		"data": map[string]any{
			"module":   module,
			"function": function,
			"args":     args,
		},
	})
}

func (c *wsClient) Assistant(content string) error {
	return c.send(map[string]any{"type": "assistant", "data": content})
}

func (c *wsClient) End() error {
	return c.send(map[string]any{"type": "end"})
}

func (c *wsClient) ToolMessage(module string, data map[string]any) error {
	return c.send(map[string]any{"type": "tool_message", "tool": module, "data": data})
}

func (c *wsClient) SessionCleared() error {
	return c.send(map[string]any{"status": "session cleared"})
}

// handleWebsocket runs the per-connection event loop. The connection
// closing tears the session down with best-effort persistence.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	log := s.logger.With("user", user)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := &wsClient{conn: conn}

	defer func() {
		s.sessions.Disconnect(user)
		conn.Close()
	}()

	ctx := r.Context()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("websocket closed")
			} else {
				log.Warn("websocket read failed", "error", err)
			}
			return
		}

		var ev inboundEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			log.Warn("malformed event", "error", err)
			continue
		}
		s.handleEvent(ctx, log, user, client, ev)
	}
}

// handleEvent dispatches one inbound event. Runs start on their own
// goroutine so the read loop keeps servicing readiness reports while a
// run is in flight.
func (s *Server) handleEvent(ctx context.Context, log *slog.Logger, user string, client *wsClient, ev inboundEvent) {
	if ev.Type == "auth" {
		s.sessions.Auth(user, client)
		return
	}

	sess, ok := s.sessions.Get(user)
	if !ok {
		log.Warn("event before auth", "type", ev.Type)
		return
	}

	switch ev.Type {
	case "wake_word_detected":
		sess.WakeWordDetected(ctx)
	case "request":
		if ev.Message == "" {
			return
		}
		seeds := []message.Message{message.New(message.KindUser, ev.Message)}
		go sess.Run(context.WithoutCancel(ctx), seeds)
	case "tool_client_message":
		sess.HandleToolMessage(ctx, ev.Tool, ev.Data)
	case "clear":
		s.sessions.Clear(user)
	default:
		log.Warn("unknown event type", "type", ev.Type)
	}
}
