package api

import (
	"net/http"
	"sync"
	"time"

	"prismbridge/internal/state"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Stream message types
const (
	TypeSnapshot = "snapshot"
	TypeChanged  = "state_changed"
)

const (
	streamBuffer = 64
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// StreamMessage is one frame of the state stream
type StreamMessage struct {
	Type     string         `json:"type"`
	States   []*state.State `json:"states,omitempty"`
	EntityID string         `json:"entity_id,omitempty"`
	OldState *state.State   `json:"old_state,omitempty"`
	NewState *state.State   `json:"new_state,omitempty"`
}

// streamHandler sends a snapshot of every state followed by each change
type streamHandler struct {
	states   StateSource
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func newStreamHandler(states StateSource, logger *zap.Logger) *streamHandler {
	return &streamHandler{
		states: states,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

func (h *streamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	h.track(ws)
	defer h.untrack(ws)

	// Subscribe before the snapshot so no change falls in between
	changes := make(chan StreamMessage, streamBuffer)
	sub := h.states.SubscribeAll(func(entityID string, old, new *state.State) {
		select {
		case changes <- StreamMessage{Type: TypeChanged, EntityID: entityID, OldState: old, NewState: new}:
		default:
			h.logger.Warn("Stream client too slow, dropping change", zap.String("entity_id", entityID))
		}
	})
	defer sub.Unsubscribe()

	if err := h.write(ws, StreamMessage{Type: TypeSnapshot, States: h.states.All()}); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case msg := <-changes:
			if err := h.write(ws, msg); err != nil {
				return
			}
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *streamHandler) write(ws *websocket.Conn, msg StreamMessage) error {
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.WriteJSON(msg); err != nil {
		h.logger.Debug("Stream write failed", zap.Error(err))
		return err
	}
	return nil
}

func (h *streamHandler) track(ws *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[ws] = struct{}{}
}

func (h *streamHandler) untrack(ws *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, ws)
	h.mu.Unlock()
	ws.Close()
}

func (h *streamHandler) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ws := range h.conns {
		ws.Close()
	}
}
