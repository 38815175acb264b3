package dao

import (
	"context"
	"fmt"
	"time"

	"skillswap/pkg/redis"
)

const (
	onlineUsersKey     = "online_users"
	presenceKeyPattern = "presence:%d"
	presenceTTL        = 2 * time.Hour
)

// presenceDAO Redis在线状态存储实现
type presenceDAO struct {
	redis *redis.RedisClient
}

// NewPresenceDAO 创建在线状态DAO
func NewPresenceDAO(redisClient *redis.RedisClient) PresenceDAO {
	return &presenceDAO{redis: redisClient}
}

// SetOnline 标记用户在线并写入状态hash
func (d *presenceDAO) SetOnline(ctx context.Context, userID int64, lastActive time.Time) error {
	key := fmt.Sprintf(presenceKeyPattern, userID)
	fields := map[string]interface{}{
		"is_online":   true,
		"last_active": lastActive.Unix(),
	}
	if err := d.redis.HMSet(ctx, key, fields); err != nil {
		return err
	}
	_ = d.redis.Expire(ctx, key, presenceTTL)
	return d.redis.SAdd(ctx, onlineUsersKey, userID)
}

// SetOffline 标记用户离线
func (d *presenceDAO) SetOffline(ctx context.Context, userID int64, lastActive time.Time) error {
	key := fmt.Sprintf(presenceKeyPattern, userID)
	fields := map[string]interface{}{
		"is_online":   false,
		"last_active": lastActive.Unix(),
	}
	if err := d.redis.HMSet(ctx, key, fields); err != nil {
		return err
	}
	return d.redis.SRem(ctx, onlineUsersKey, userID)
}

// Heartbeat 刷新最后活跃时间并续期
func (d *presenceDAO) Heartbeat(ctx context.Context, userID int64, lastActive time.Time) error {
	key := fmt.Sprintf(presenceKeyPattern, userID)
	if err := d.redis.HSet(ctx, key, "last_active", lastActive.Unix()); err != nil {
		return err
	}
	return d.redis.Expire(ctx, key, presenceTTL)
}
