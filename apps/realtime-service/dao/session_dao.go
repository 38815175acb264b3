package dao

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"skillswap/apps/realtime-service/model"
	"skillswap/pkg/database"
)

// sessionDAO PostgreSQL会话记录实现
type sessionDAO struct {
	db *database.PostgreSQL
}

// NewSessionDAO 创建会话DAO
func NewSessionDAO(db *database.PostgreSQL) SessionDAO {
	return &sessionDAO{db: db}
}

// CreateSession 创建会话记录
func (d *sessionDAO) CreateSession(ctx context.Context, session *model.ExchangeSession) error {
	return d.db.WithContext(ctx).Create(session).Error
}

// GetSession 查询会话记录
func (d *sessionDAO) GetSession(ctx context.Context, sessionID int64) (*model.ExchangeSession, error) {
	var session model.ExchangeSession
	err := d.db.WithContext(ctx).First(&session, sessionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

// UpdateStatusCAS 乐观并发更新：只有持久化状态仍等于调用方读到的状态时才生效
func (d *sessionDAO) UpdateStatusCAS(ctx context.Context, sessionID int64,
	fromStatus, fromOutcome, toStatus, toOutcome string, proposedAt *time.Time) (bool, error) {

	updates := map[string]interface{}{
		"status":             toStatus,
		"reschedule_outcome": toOutcome,
		"updated_at":         time.Now(),
	}
	if proposedAt != nil {
		updates["proposed_at"] = proposedAt
	}

	result := d.db.WithContext(ctx).
		Model(&model.ExchangeSession{}).
		Where("id = ? AND status = ? AND reschedule_outcome = ?", sessionID, fromStatus, fromOutcome).
		Updates(updates)

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
