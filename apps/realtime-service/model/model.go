package model

import (
	"encoding/json"
	"time"
)

// 客户端 -> 服务端事件
const (
	EventAssessmentCreated   = "assessment:created"
	EventAssessmentSubmitted = "assessment:submitted"
	EventAssessmentEvaluated = "assessment:evaluated"
	EventGetUsersStatus      = "get:users_status"
	EventHeartbeat           = "user:heartbeat"
)

// 服务端 -> 客户端事件
const (
	EventNotification     = "notification"
	EventUserStatusChange = "user:status_change"
	EventUsersStatus      = "users:status"
)

// 网关侧通知类型（会话相关类型见match包）
const (
	NotifyTypeWelcome    = "welcome"
	NotifyTypeAssessment = "assessment"
)

// Kafka主题
const (
	TopicPresenceChanged   = "realtime.presence_changed"
	TopicSessionTransition = "realtime.session_transition"
)

// Identity 连接绑定的认证用户
type Identity struct {
	UserID      int64  `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// Connection 一条实时连接
type Connection struct {
	ConnID    string    `json:"conn_id"`
	Identity  Identity  `json:"identity"`
	CreatedAt time.Time `json:"created_at"`
}

// PresenceRecord 用户在线状态快照
type PresenceRecord struct {
	UserID     int64     `json:"user_id"`
	IsOnline   bool      `json:"is_online"`
	LastActive time.Time `json:"last_active"`
}

// Notification 一次性通知值对象，派发时创建，不在本服务内持久化
type Notification struct {
	ID        int64                  `json:"id"`
	Type      string                 `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Read      bool                   `json:"read"`
	CreatedAt time.Time              `json:"created_at"`
}

// WSFrame WebSocket事件帧
type WSFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// StatusChangeEvent user:status_change 事件载荷
type StatusChangeEvent struct {
	UserID     int64     `json:"user_id"`
	IsOnline   bool      `json:"is_online"`
	LastActive time.Time `json:"last_active"`
}

// AssessmentEvent assessment:* 事件载荷
type AssessmentEvent struct {
	AssessmentID int64   `json:"assessment_id"`
	TargetIDs    []int64 `json:"target_ids"`
	SkillName    string  `json:"skill_name,omitempty"`
	Comment      string  `json:"comment,omitempty"`
}

// UsersStatusQuery get:users_status 事件载荷
type UsersStatusQuery struct {
	UserIDs []int64 `json:"user_ids"`
}

// UsersStatusReply users:status 回复载荷
type UsersStatusReply struct {
	Users []PresenceRecord `json:"users"`
}

// User 用户记录（外部用户服务拥有，这里只读查询）
type User struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Username  string    `json:"username" gorm:"uniqueIndex;size:64;not null"`
	Nickname  string    `json:"nickname" gorm:"size:64"`
	Avatar    string    `json:"avatar" gorm:"size:255"`
	Status    int       `json:"status" gorm:"default:0"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 表名
func (User) TableName() string {
	return "users"
}

// ExchangeSession 技能交换会话记录
type ExchangeSession struct {
	ID                int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	RequesterID       int64      `json:"requester_id" gorm:"index;not null"`
	RecipientID       int64      `json:"recipient_id" gorm:"index;not null"`
	SkillOffered      string     `json:"skill_offered" gorm:"size:128"`
	SkillWanted       string     `json:"skill_wanted" gorm:"size:128"`
	ScheduledAt       *time.Time `json:"scheduled_at,omitempty"`
	ProposedAt        *time.Time `json:"proposed_at,omitempty"` // 改期提议的新时间
	Status            string     `json:"status" gorm:"size:32;index;not null"`
	RescheduleOutcome string     `json:"reschedule_outcome" gorm:"size:32"`
	Message           string     `json:"message" gorm:"size:512"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TableName 表名
func (ExchangeSession) TableName() string {
	return "exchange_sessions"
}

// ArchivedNotification 通知归档文档（MongoDB，外部通知存储协作方）
type ArchivedNotification struct {
	NotificationID int64                  `bson:"notification_id"`
	UserID         int64                  `bson:"user_id"`
	Type           string                 `bson:"type"`
	Title          string                 `bson:"title"`
	Message        string                 `bson:"message"`
	Payload        map[string]interface{} `bson:"payload,omitempty"`
	Read           bool                   `bson:"read"`
	CreatedAt      time.Time              `bson:"created_at"`
}

// PresenceChangedEvent Kafka在线状态变更事件
type PresenceChangedEvent struct {
	UserID     int64     `json:"user_id"`
	IsOnline   bool      `json:"is_online"`
	LastActive time.Time `json:"last_active"`
	OccurredAt time.Time `json:"occurred_at"`
}

// SessionTransitionEvent Kafka会话状态迁移事件
type SessionTransitionEvent struct {
	SessionID  int64     `json:"session_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Action     string    `json:"action"`
	ActorID    int64     `json:"actor_id"`
	OccurredAt time.Time `json:"occurred_at"`
}
