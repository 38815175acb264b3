package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"skillswap/apps/realtime-service/dao"
	"skillswap/apps/realtime-service/model"
	"skillswap/pkg/logger"
)

// ClientConn 连接的发送端抽象，由网关实现
type ClientConn interface {
	WriteFrame(frame *model.WSFrame) error
	Close() error
}

// onlineChecker 在线判定接口，由PresenceRegistry实现
type onlineChecker interface {
	IsOnline(userID int64) bool
}

// NotificationRouter 通知路由器，负责把事件派发到目标用户的所有活跃连接
// 派发是至多一次：离线即丢弃，单连接写失败只踢掉该连接，绝不阻塞调用方
type NotificationRouter struct {
	mu    sync.RWMutex
	rooms map[int64]map[string]ClientConn

	presence onlineChecker
	notifDAO dao.NotificationDAO
	log      logger.Logger
}

// NewNotificationRouter 创建通知路由器
func NewNotificationRouter(notifDAO dao.NotificationDAO, log logger.Logger) *NotificationRouter {
	return &NotificationRouter{
		rooms:    make(map[int64]map[string]ClientConn),
		notifDAO: notifDAO,
		log:      log,
	}
}

// BindPresence 绑定在线判定来源
func (n *NotificationRouter) BindPresence(p onlineChecker) {
	n.presence = p
}

// Join 登记一条连接
func (n *NotificationRouter) Join(userID int64, connID string, conn ClientConn) {
	n.mu.Lock()
	defer n.mu.Unlock()

	room, exists := n.rooms[userID]
	if !exists {
		room = make(map[string]ClientConn)
		n.rooms[userID] = room
	}
	room[connID] = conn
}

// Leave 移除一条连接
func (n *NotificationRouter) Leave(userID int64, connID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	room, exists := n.rooms[userID]
	if !exists {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(n.rooms, userID)
	}
}

// SendToIdentity 向目标用户的全部连接派发通知
// 返回是否至少投递到一条连接；目标离线时静默丢弃并返回false
func (n *NotificationRouter) SendToIdentity(ctx context.Context, userID int64, notification *model.Notification) bool {
	if n.presence != nil && !n.presence.IsOnline(userID) {
		return false
	}

	frame, err := marshalFrame(model.EventNotification, notification)
	if err != nil {
		n.log.Error(ctx, "Failed to encode notification",
			logger.F("userID", userID), logger.F("error", err.Error()))
		return false
	}

	delivered := n.writeToUser(ctx, userID, frame)
	if delivered {
		n.archiveAsync(notification, userID)
	}
	return delivered
}

// SendEventToIdentity 向目标用户派发任意事件帧
func (n *NotificationRouter) SendEventToIdentity(ctx context.Context, userID int64, event string, payload interface{}) bool {
	if n.presence != nil && !n.presence.IsOnline(userID) {
		return false
	}

	frame, err := marshalFrame(event, payload)
	if err != nil {
		n.log.Error(ctx, "Failed to encode event",
			logger.F("event", event), logger.F("error", err.Error()))
		return false
	}
	return n.writeToUser(ctx, userID, frame)
}

// BroadcastExcept 向除指定用户外的所有在线用户广播事件
func (n *NotificationRouter) BroadcastExcept(ctx context.Context, exceptUserID int64, event string, payload interface{}) {
	frame, err := marshalFrame(event, payload)
	if err != nil {
		n.log.Error(ctx, "Failed to encode broadcast event",
			logger.F("event", event), logger.F("error", err.Error()))
		return
	}

	type target struct {
		userID int64
		connID string
		conn   ClientConn
	}

	n.mu.RLock()
	targets := make([]target, 0, len(n.rooms))
	for userID, room := range n.rooms {
		if userID == exceptUserID {
			continue
		}
		for connID, conn := range room {
			targets = append(targets, target{userID: userID, connID: connID, conn: conn})
		}
	}
	n.mu.RUnlock()

	for _, t := range targets {
		if err := t.conn.WriteFrame(frame); err != nil {
			n.evict(ctx, t.userID, t.connID, t.conn, err)
		}
	}
}

// SendToConn 向单条连接写入事件帧（握手欢迎、私有查询回复）
func (n *NotificationRouter) SendToConn(ctx context.Context, conn ClientConn, event string, payload interface{}) {
	frame, err := marshalFrame(event, payload)
	if err != nil {
		n.log.Error(ctx, "Failed to encode event",
			logger.F("event", event), logger.F("error", err.Error()))
		return
	}
	if err := conn.WriteFrame(frame); err != nil {
		n.log.Warn(ctx, "Direct write failed", logger.F("error", err.Error()))
	}
}

// writeToUser 向用户的全部连接写入；写失败的连接当场踢掉
func (n *NotificationRouter) writeToUser(ctx context.Context, userID int64, frame *model.WSFrame) bool {
	n.mu.RLock()
	room := n.rooms[userID]
	conns := make(map[string]ClientConn, len(room))
	for connID, conn := range room {
		conns[connID] = conn
	}
	n.mu.RUnlock()

	if len(conns) == 0 {
		return false
	}

	delivered := false
	for connID, conn := range conns {
		if err := conn.WriteFrame(frame); err != nil {
			n.evict(ctx, userID, connID, conn, err)
			continue
		}
		delivered = true
	}
	return delivered
}

// evict 踢掉写失败的连接；在线状态的收尾由网关的断连路径完成
func (n *NotificationRouter) evict(ctx context.Context, userID int64, connID string, conn ClientConn, writeErr error) {
	n.log.Warn(ctx, "Evicting broken connection",
		logger.F("userID", userID),
		logger.F("connID", connID),
		logger.F("error", writeErr.Error()))

	n.Leave(userID, connID)
	_ = conn.Close()
}

// archiveAsync 异步归档已投递的通知，失败只记录日志
func (n *NotificationRouter) archiveAsync(notification *model.Notification, userID int64) {
	if n.notifDAO == nil {
		return
	}

	archived := &model.ArchivedNotification{
		NotificationID: notification.ID,
		UserID:         userID,
		Type:           notification.Type,
		Title:          notification.Title,
		Message:        notification.Message,
		Payload:        notification.Payload,
		Read:           notification.Read,
		CreatedAt:      notification.CreatedAt,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := n.notifDAO.Archive(ctx, archived); err != nil {
			n.log.Warn(ctx, "Failed to archive notification",
				logger.F("notificationID", archived.NotificationID),
				logger.F("error", err.Error()))
		}
	}()
}

// marshalFrame 组装事件帧
func marshalFrame(event string, payload interface{}) (*model.WSFrame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &model.WSFrame{Event: event, Data: data}, nil
}
