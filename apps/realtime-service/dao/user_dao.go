package dao

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"skillswap/apps/realtime-service/model"
	"skillswap/pkg/database"
)

// userDAO PostgreSQL用户查询实现
type userDAO struct {
	db *database.PostgreSQL
}

// NewUserDAO 创建用户DAO
func NewUserDAO(db *database.PostgreSQL) UserDAO {
	return &userDAO{db: db}
}

// GetUser 根据ID查询用户
func (d *userDAO) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	var user model.User
	err := d.db.WithContext(ctx).First(&user, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}
