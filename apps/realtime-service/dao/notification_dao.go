package dao

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"skillswap/apps/realtime-service/model"
	"skillswap/pkg/database"
)

const notificationCollection = "notifications"

// notificationDAO MongoDB通知归档实现
type notificationDAO struct {
	coll *mongo.Collection
}

// NewNotificationDAO 创建通知归档DAO
func NewNotificationDAO(db *database.MongoDB) NotificationDAO {
	return &notificationDAO{coll: db.GetCollection(notificationCollection)}
}

// Archive 归档一条已派发的通知
func (d *notificationDAO) Archive(ctx context.Context, notification *model.ArchivedNotification) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := d.coll.InsertOne(ctx, notification)
	return err
}
