package dao

import (
	"context"
	"errors"
	"time"

	"skillswap/apps/realtime-service/model"
)

// ErrUserNotFound 用户不存在
var ErrUserNotFound = errors.New("user not found")

// ErrSessionNotFound 会话记录不存在
var ErrSessionNotFound = errors.New("exchange session not found")

// PresenceDAO 在线状态写穿存储接口
// 存储只是在线状态的缓存，进程内注册表才是运行期的权威数据
type PresenceDAO interface {
	SetOnline(ctx context.Context, userID int64, lastActive time.Time) error
	SetOffline(ctx context.Context, userID int64, lastActive time.Time) error
	Heartbeat(ctx context.Context, userID int64, lastActive time.Time) error
}

// UserDAO 用户查询接口（用户资料归外部用户服务所有）
type UserDAO interface {
	GetUser(ctx context.Context, userID int64) (*model.User, error)
}

// SessionDAO 技能交换会话数据访问接口
type SessionDAO interface {
	CreateSession(ctx context.Context, session *model.ExchangeSession) error
	GetSession(ctx context.Context, sessionID int64) (*model.ExchangeSession, error)
	// UpdateStatusCAS 以当前 status/reschedule_outcome 为前置条件更新状态，
	// 返回是否命中。未命中表示并发写已抢先，调用方按冲突处理。
	UpdateStatusCAS(ctx context.Context, sessionID int64,
		fromStatus, fromOutcome, toStatus, toOutcome string, proposedAt *time.Time) (bool, error)
}

// NotificationDAO 通知归档接口（持久通知存储归外部协作方所有）
type NotificationDAO interface {
	Archive(ctx context.Context, notification *model.ArchivedNotification) error
}
