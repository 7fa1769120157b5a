package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/qtrade/riskcore/internal/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// 控制面只在内网暴露，不做 Origin 校验
	CheckOrigin: func(r *http.Request) bool { return true },
}

// auditHub 审计事件实时广播。慢消费者直接踢掉——审计的持久化保证
// 在落盘链路，WS 流只是跟随性视图。
type auditHub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

type wsClient struct {
	conn *websocket.Conn
	send chan domain.AuditRecord
}

func newAuditHub() *auditHub {
	return &auditHub{clients: make(map[*wsClient]struct{})}
}

// Publish 向所有在线客户端广播一条审计记录（非阻塞）。
func (h *auditHub) publish(rec domain.AuditRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- rec:
		default:
			// 发送缓冲满：踢掉慢消费者
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *auditHub) add(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *auditHub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *auditHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// Publish 把一条审计记录推入 WS 广播（审计落盘链路的 tee 出口）。
func (s *Server) Publish(rec domain.AuditRecord) {
	s.hub.publish(rec)
}

func (s *Server) handleAuditStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		srvLog.Warnf("⚠️ WS 升级失败: %v", err)
		return
	}
	client := &wsClient{conn: conn, send: make(chan domain.AuditRecord, 256)}
	if !s.hub.add(client) {
		_ = conn.Close()
		return
	}
	srvLog.Infof("✅ 审计流客户端接入: %s", conn.RemoteAddr())

	// 读侧只用于感知断开
	go func() {
		defer s.hub.remove(client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		defer conn.Close()
		for rec := range client.send {
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(rec); err != nil {
				s.hub.remove(client)
				return
			}
		}
	}()
}
