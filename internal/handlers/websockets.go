package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Send/receive timing configuration and message size limits.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1 << 12 // 4 KB

	// events buffered per client before the hub starts dropping
	subscriberBuffer = 32

	wsTypeSnapshot = "snapshot"
)

// Envelope used for WebSocket messages.
type wsEnvelope struct {
	Type  string      `json:"type"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// The kiosk UI is served from the terminal itself.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConnect streams a snapshot followed by status and card events.
func (h *Handler) wsConnect(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream not available"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.log != nil {
			h.log.Errorw("ws_upgrade_failed", "err", err)
		}
		return
	}
	defer func() { _ = conn.Close() }()

	// Subscribe before the snapshot so no card event falls in between.
	sub := h.hub.Subscribe(subscriberBuffer)
	defer h.hub.Unsubscribe(sub)

	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go h.startReader(conn, done)

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	if err := h.sendSnapshot(conn); err != nil {
		if h.log != nil {
			h.log.Infow("ws_write_failed_initial", "err", err)
		}
		return
	}

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if h.log != nil {
					h.log.Infow("ws_ping_failed", "err", err)
				}
				return
			}
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := h.send(conn, wsEnvelope{Type: ev.Type, Data: ev.Data}); err != nil {
				if h.log != nil {
					h.log.Infow("ws_write_failed", "err", err, "type", ev.Type)
				}
				return
			}
		}
	}
}

// startReader drains incoming messages to handle control frames and detect closure.
func (h *Handler) startReader(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if h.log != nil {
				h.log.Debugw("ws_read_closed", "err", err)
			}
			return
		}
	}
}

// sendSnapshot writes the current status and visible cards.
func (h *Handler) sendSnapshot(conn *websocket.Conn) error {
	return h.send(conn, wsEnvelope{Type: wsTypeSnapshot, Data: gin.H{
		"status": h.services.GetStatus(),
		"cards":  h.services.Cards(),
	}})
}

func (h *Handler) send(conn *websocket.Conn, env wsEnvelope) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(env)
}
