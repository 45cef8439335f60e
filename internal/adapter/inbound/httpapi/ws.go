package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/donbool/tame/internal/service"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is same-origin/token-authenticated, not browser-facing
	// cross-origin; CheckOrigin is permissive like the teacher's own
	// CORS handling for the MCP transport.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteWait = 10 * time.Second
const wsPingInterval = 30 * time.Second

type wsEventBody struct {
	Type  string `json:"type"`
	Entry any    `json:"entry"`
}

// handleWebsocket implements GET /ws/{session_id} (or the global /ws):
// it upgrades the connection, subscribes to the Hub, and forwards every
// published Event as a newline-delimited JSON message until the client
// disconnects or its subscriber queue forces a drop (never a block).
func (h *Handler) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	sessionID := pathParam(r, "session_id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	events, unsubscribe := h.hub.Subscribe(sessionID)
	defer unsubscribe()

	if h.metrics != nil {
		h.metrics.ActiveSubscribers.Inc()
		defer h.metrics.ActiveSubscribers.Dec()
	}

	// Drain client-initiated control/close frames on their own goroutine
	// so the read buffer doesn't fill and stall the connection.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := h.writeEvent(conn, ev); err != nil {
				return
			}
		}
	}
}

func (h *Handler) writeEvent(conn *websocket.Conn, ev service.Event) error {
	body := wsEventBody{Type: string(ev.Kind)}
	switch ev.Kind {
	case service.EventDecision:
		body.Entry = ev.Decision
	case service.EventResult:
		body.Entry = ev.Outcome
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}
