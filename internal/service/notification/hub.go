// internal/service/notification/hub.go
package notification

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"caremesh/internal/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool { // 跨域由上游网关控制，这里放开
		return true
	},
}

// Hub 维护所有活跃的 WebSocket 连接并按用户分发消息。
// Key 是 "KIND-ID"（如 PATIENT-42），与券事件里的受益人标识一致。
type Hub struct {
	clients    map[string][]*Client // 同一用户允许多端在线
	register   chan *Client
	unregister chan *Client
	lock       sync.RWMutex
}

// NewHub 创建一个 Hub。
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string][]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run 处理注册与注销，签名满足 bootstrap.AppInfo.Workers。
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case client := <-h.register:
			h.lock.Lock()
			h.clients[client.userKey] = append(h.clients[client.userKey], client)
			h.lock.Unlock()
			logger.Logger.Info().Str("user", client.userKey).Msg("websocket client registered")
		case client := <-h.unregister:
			h.lock.Lock()
			conns := h.clients[client.userKey]
			for i, c := range conns {
				if c == client {
					h.clients[client.userKey] = append(conns[:i], conns[i+1:]...)
					close(c.send)
					break
				}
			}
			if len(h.clients[client.userKey]) == 0 {
				delete(h.clients, client.userKey)
			}
			h.lock.Unlock()
			logger.Logger.Info().Str("user", client.userKey).Msg("websocket client unregistered")
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		}
	}
}

func (h *Hub) closeAll() {
	h.lock.Lock()
	defer h.lock.Unlock()
	for _, conns := range h.clients {
		for _, c := range conns {
			close(c.send)
		}
	}
	h.clients = make(map[string][]*Client)
}

// Push 把消息投给某用户的全部在线连接。不在线时静默丢弃：
// 过期提醒是尽力而为的通知，不做离线补投。
func (h *Hub) Push(userKey string, payload []byte) int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	delivered := 0
	for _, c := range h.clients[userKey] {
		select {
		case c.send <- payload:
			delivered++
		default:
			// 发送缓冲满说明连接已经坏了，交给 writePump 收尾
		}
	}
	return delivered
}

// Client 是一条 WebSocket 连接。
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	userKey string
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// 客户端只发心跳，读到任何错误即断开
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// ServeWS 把 HTTP 请求升级为 WebSocket 并注册到 Hub。
// 用户身份从 query 取（kind + user_id），鉴权在上游网关完成。
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	userID := r.URL.Query().Get("user_id")
	if kind == "" || userID == "" {
		http.Error(w, "kind and user_id are required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		userKey: kind + "-" + userID,
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}
