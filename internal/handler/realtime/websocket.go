package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/wieesion/backend/internal/service/auth"
	sessionsvc "github.com/zhouzirui/wieesion/backend/internal/service/session"
	"github.com/zhouzirui/wieesion/backend/pkg/utils"
)

const (
	readWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second

	outboundBuffer = 64
	maxFrameBytes  = 32 << 20
)

// WebSocketHandler 把一条 WebSocket 连接桥接到一个会话状态机。
type WebSocketHandler struct {
	deps     sessionsvc.Deps
	upgrader websocket.Upgrader
}

// NewWebSocketHandler 创建会话通道处理器
func NewWebSocketHandler(deps sessionsvc.Deps) *WebSocketHandler {
	return &WebSocketHandler{
		deps: deps,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes 注册 WebSocket 路由
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

// handleWebSocket 校验握手凭证后升级连接。没有凭证的连接先进入未认证状态，
// 凭证无效则在升级前返回 401。
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var principal *auth.Principal
	if token := auth.TokenFromRequest(r); token != "" {
		if h.deps.Auth == nil {
			utils.RespondError(w, http.StatusServiceUnavailable, "authentication unavailable")
			return
		}
		p, err := h.deps.Auth.Verify(token)
		if err != nil {
			log.Printf("[websocket] handshake rejected from %s: %v", r.RemoteAddr, err)
			utils.RespondError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		principal = &p
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(maxFrameBytes)
	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	out := make(chan sessionsvc.Outbound, outboundBuffer)
	inbound := make(chan sessionsvc.Envelope)
	sess := sessionsvc.New(h.deps, principal, out)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(conn, out)
	}()
	go h.readLoop(ctx, conn, inbound)

	log.Printf("[websocket] connection opened from %s authenticated=%t", r.RemoteAddr, principal != nil)
	if err := sess.Run(ctx, inbound); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[websocket] session %s ended: %v", sess.ID(), err)
	}

	// Run 返回后不会再有事件写入 out
	close(out)
	<-writerDone
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

// readLoop 是唯一的读协程，连接出错时关闭 inbound 让会话退出。
// 无法解码的帧交给会话回复 validation_error，连接保持打开。
func (h *WebSocketHandler) readLoop(ctx context.Context, conn *websocket.Conn, inbound chan<- sessionsvc.Envelope) {
	defer close(inbound)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[websocket] read error: %v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readWait))

		var env sessionsvc.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("[websocket] malformed frame (%d bytes): %v", len(data), err)
			env = sessionsvc.InvalidEnvelope(err)
		}

		select {
		case inbound <- env:
		case <-ctx.Done():
			return
		}
	}
}

// writeLoop 是唯一的写协程。写失败后关闭连接，但继续消费 out 直到会话关闭它。
func (h *WebSocketHandler) writeLoop(conn *websocket.Conn, out <-chan sessionsvc.Outbound) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	broken := false
	for {
		select {
		case msg, ok := <-out:
			if !ok {
				return
			}
			if broken {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("[websocket] write %s failed: %v", msg.Type, err)
				broken = true
				conn.Close()
			}
		case <-ticker.C:
			if broken {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				broken = true
				conn.Close()
			}
		}
	}
}
