package handlers

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/deepfake-detector/internal/services"
	"github.com/yoockh/deepfake-detector/internal/telemetry"
	"github.com/yoockh/deepfake-detector/internal/utils"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

type WSHandler struct {
	progress services.ProgressService
	log      *logrus.Logger
	upgrader websocket.Upgrader
	active   atomic.Int64
}

// NewWSHandler accepts upgrades from allowedOrigin; an empty origin allows any.
func NewWSHandler(progress services.ProgressService, log *logrus.Logger, allowedOrigin string) *WSHandler {
	if log == nil {
		log = logrus.New()
	}
	allowedOrigin = strings.TrimRight(allowedOrigin, "/")
	return &WSHandler{
		progress: progress,
		log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowedOrigin == "" || origin == "" || strings.TrimRight(origin, "/") == allowedOrigin
			},
		},
	}
}

// Active is the number of open listeners across all sessions.
func (h *WSHandler) Active() int64 { return h.active.Load() }

type wsClientMsg struct {
	Type string `json:"type"` // ping|get_state
}

type wsServerMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

func (w *wsConn) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.c.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// SessionWS streams progress of one session. The socket is registered in the
// session's listener set for its lifetime.
func (h *WSHandler) SessionWS(c *gin.Context) {
	const op = "WSHandler.SessionWS"

	sessionID, ok := requireParam(c, op, "session_id")
	if !ok {
		return
	}
	reqCtx := c.Request.Context()

	st, found, err := h.progress.State(reqCtx, sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	if !found {
		writeError(c, utils.E(utils.CodeNotFound, op, "session not found", nil))
		return
	}

	socketID := uuid.NewString()
	log := h.log.WithFields(logrus.Fields{"session_id": sessionID, "socket_id": socketID})

	if err := h.progress.Join(reqCtx, sessionID, socketID); err != nil {
		writeError(c, err)
		return
	}
	// Leave must run even when the request context is already gone.
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.progress.Leave(ctx, sessionID, socketID); err != nil {
			log.WithError(err).Warn("listener not removed")
		}
	}()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote response in most cases
		return
	}
	defer conn.Close()

	h.active.Add(1)
	telemetry.ActiveConnections.Set(float64(h.active.Load()))
	defer func() {
		telemetry.ActiveConnections.Set(float64(h.active.Add(-1)))
	}()

	ctx, cancel := context.WithCancel(reqCtx)
	defer cancel()

	wc := &wsConn{c: conn}
	events, stop, err := h.progress.Subscribe(ctx, sessionID)
	if err != nil {
		_ = wc.writeJSON(wsServerMsg{Type: "error", Code: string(utils.CodeUnavailable), Message: "progress stream unavailable"})
		return
	}
	defer stop()

	st.WebsocketConnections = nil
	if err := wc.writeJSON(wsServerMsg{Type: "state", Data: st}); err != nil {
		return
	}
	log.Debug("listener joined")

	// reader: client commands and pong keepalive
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})

		for {
			_, data, rerr := conn.ReadMessage()
			if rerr != nil {
				return
			}

			var msg wsClientMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				_ = wc.writeJSON(wsServerMsg{Type: "error", Code: string(utils.CodeInvalidArgument), Message: "invalid json"})
				continue
			}

			switch msg.Type {
			case "ping":
				_ = wc.writeJSON(wsServerMsg{Type: "pong"})
			case "get_state":
				cur, found, err := h.progress.State(ctx, sessionID)
				if err != nil || !found {
					_ = wc.writeJSON(wsServerMsg{Type: "error", Code: string(utils.CodeNotFound), Message: "session state unavailable"})
					continue
				}
				cur.WebsocketConnections = nil
				_ = wc.writeJSON(wsServerMsg{Type: "state", Data: cur})
			default:
				_ = wc.writeJSON(wsServerMsg{Type: "error", Code: string(utils.CodeInvalidArgument), Message: "unknown message type"})
			}
		}
	}()

	// writer: Pub/Sub -> WS
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-readDone:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := wc.ping(); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := wc.writeJSON(ev); err != nil {
				return
			}
		}
	}
}
