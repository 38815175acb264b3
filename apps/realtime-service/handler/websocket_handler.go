package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"skillswap/apps/realtime-service/model"
	"skillswap/apps/realtime-service/service"
	"skillswap/pkg/logger"
)

// wsClient 带写锁的WebSocket连接，实现service.ClientConn
// gorilla/websocket 不允许并发写，所有出站写都经过这一把锁
type wsClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// WriteFrame 序列化并写出一个事件帧
func (c *wsClient) WriteFrame(frame *model.WSFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close 关闭底层连接
func (c *wsClient) Close() error {
	return c.conn.Close()
}

// closeWithReason 发送带原因的关闭帧后断开
func (c *wsClient) closeWithReason(code int, reason string) {
	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	c.writeMu.Unlock()
	_ = c.conn.Close()
}

// WSHandler WebSocket网关处理器
type WSHandler struct {
	svc              *service.Service
	log              logger.Logger
	heartbeatTimeout time.Duration
	upgrader         websocket.Upgrader
}

// NewWSHandler 创建WebSocket处理器
func NewWSHandler(svc *service.Service, heartbeatTimeout time.Duration, log logger.Logger) *WSHandler {
	return &WSHandler{
		svc:              svc,
		log:              log,
		heartbeatTimeout: heartbeatTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (ws *WSHandler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1/realtime")
	{
		api.GET("/ws", ws.HandleConnection) // WebSocket长连接
	}
}

// HandleConnection 处理WebSocket连接
// 先升级再认证：认证失败通过关闭帧把原因带给客户端，而不是HTTP错误码
func (ws *WSHandler) HandleConnection(c *gin.Context) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if token == "" {
		token = c.Query("token")
	}

	conn, err := ws.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		ws.log.Error(c.Request.Context(), "WebSocket upgrade failed", logger.F("error", err.Error()))
		return
	}
	client := &wsClient{conn: conn}

	ctx := c.Request.Context()
	identity, err := ws.svc.Authenticate(ctx, token)
	if err != nil {
		ws.log.Warn(ctx, "Handshake rejected", logger.F("error", err.Error()))
		client.closeWithReason(websocket.ClosePolicyViolation, err.Error())
		return
	}

	connection := ws.svc.OnConnect(ctx, client, identity)
	defer func() {
		ws.svc.OnDisconnect(ctx, connection)
		client.Close()
	}()

	ws.readLoop(c, client, connection)
}

// readLoop 入站事件主循环；每次读都续期空闲超时，超时或对端关闭即退出
func (ws *WSHandler) readLoop(c *gin.Context, client *wsClient, connection *model.Connection) {
	ctx := c.Request.Context()
	conn := client.conn

	conn.SetReadDeadline(time.Now().Add(ws.heartbeatTimeout))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(ws.heartbeatTimeout))
		ws.svc.OnInboundEvent(ctx, client, connection, &model.WSFrame{Event: model.EventHeartbeat})
		client.writeMu.Lock()
		defer client.writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteMessage(websocket.PongMessage, []byte(appData))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			ws.log.Info(ctx, "WebSocket connection closed",
				logger.F("userID", connection.Identity.UserID),
				logger.F("connID", connection.ConnID),
				logger.F("error", err.Error()))
			return
		}
		conn.SetReadDeadline(time.Now().Add(ws.heartbeatTimeout))

		var frame model.WSFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			ws.log.Warn(ctx, "Invalid WebSocket frame", logger.F("error", err.Error()))
			continue
		}

		ws.svc.OnInboundEvent(ctx, client, connection, &frame)
	}
}
