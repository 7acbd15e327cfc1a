package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"heartlen/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const liveWriteTimeout = 200 * time.Millisecond

// LiveHub websocket 实时生命体征推送
type LiveHub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

func NewLiveHub(logger *zap.Logger) *LiveHub {
	return &LiveHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
		conns:  make(map[*websocket.Conn]bool),
	}
}

func (h *LiveHub) add(c *websocket.Conn) {
	h.mu.Lock()
	h.conns[c] = true
	h.mu.Unlock()
}

func (h *LiveHub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

func (h *LiveHub) snapshot() []*websocket.Conn {
	h.mu.Lock()
	clients := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	return clients
}

// Clients 当前连接数
func (h *LiveHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Broadcast 推送一条生命体征，写失败的连接会被移除
func (h *LiveHub) Broadcast(v models.Vitals) error {
	clients := h.snapshot()
	if len(clients) == 0 {
		return nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	for _, c := range clients {
		_ = c.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
		if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
			_ = c.Close()
			h.remove(c)
		}
	}
	return nil
}

// ServeHTTP 升级为 websocket 并保持连接直到对端关闭
func (h *LiveHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}
	h.add(conn)
	defer func() {
		h.remove(conn)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// CloseAll 关闭所有连接
func (h *LiveHub) CloseAll() {
	for _, c := range h.snapshot() {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(liveWriteTimeout))
		_ = c.Close()
		h.remove(c)
	}
}
