package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"skillswap/apps/realtime-service/dao"
	"skillswap/apps/realtime-service/match"
	"skillswap/apps/realtime-service/model"
	"skillswap/pkg/auth"
	"skillswap/pkg/kafka"
	"skillswap/pkg/logger"
	"skillswap/pkg/snowflake"
)

// ErrSessionConflict 并发写冲突，调用方应重读后重试
var ErrSessionConflict = errors.New("session was modified concurrently")

// AuthError 握手认证失败，Error文本直接作为关闭原因下发给客户端
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "Authentication error: " + e.Reason
}

// Service 实时服务门面，聚合网关、在线注册表、通知路由和会话状态机
type Service struct {
	userDAO    dao.UserDAO
	sessionDAO dao.SessionDAO

	registry *PresenceRegistry
	router   *NotificationRouter
	kafka    *kafka.Producer
	log      logger.Logger

	jwtSecret string
}

// NewService 创建实时服务
func NewService(
	userDAO dao.UserDAO,
	sessionDAO dao.SessionDAO,
	registry *PresenceRegistry,
	router *NotificationRouter,
	producer *kafka.Producer,
	jwtSecret string,
	log logger.Logger,
) *Service {
	svc := &Service{
		userDAO:    userDAO,
		sessionDAO: sessionDAO,
		registry:   registry,
		router:     router,
		kafka:      producer,
		jwtSecret:  jwtSecret,
		log:        log,
	}

	// 注册表与路由器互相看到对方的最小接口
	router.BindPresence(registry)
	registry.OnStatusChange(func(ctx context.Context, change model.StatusChangeEvent) {
		router.BroadcastExcept(ctx, change.UserID, model.EventUserStatusChange, change)
	})
	return svc
}

// Authenticate 校验握手令牌并解析出连接身份
func (s *Service) Authenticate(ctx context.Context, token string) (*model.Identity, error) {
	if token == "" {
		return nil, &AuthError{Reason: "Token missing"}
	}

	claims, err := auth.ValidateJWT(token, s.jwtSecret)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, &AuthError{Reason: "Token expired"}
		}
		return nil, &AuthError{Reason: "Invalid token"}
	}

	user, err := s.userDAO.GetUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, dao.ErrUserNotFound) {
			return nil, &AuthError{Reason: "User not found"}
		}
		s.log.Error(ctx, "Failed to load user during handshake",
			logger.F("userID", claims.UserID), logger.F("error", err.Error()))
		return nil, &AuthError{Reason: "Invalid token"}
	}

	displayName := user.Nickname
	if displayName == "" {
		displayName = user.Username
	}
	return &model.Identity{UserID: user.ID, DisplayName: displayName}, nil
}

// OnConnect 连接建立：登记路由和在线状态，给新连接发欢迎通知
func (s *Service) OnConnect(ctx context.Context, conn ClientConn, identity *model.Identity) *model.Connection {
	connection := &model.Connection{
		ConnID:    uuid.New().String(),
		Identity:  *identity,
		CreatedAt: time.Now(),
	}

	s.router.Join(identity.UserID, connection.ConnID, conn)
	s.registry.Register(ctx, identity.UserID, connection.ConnID)

	s.log.Info(ctx, "Connection established",
		logger.F("userID", identity.UserID),
		logger.F("connID", connection.ConnID))

	welcome := s.newNotification(model.NotifyTypeWelcome, "Welcome",
		"Connected to SkillSwap realtime service", nil)
	s.router.SendToConn(ctx, conn, model.EventNotification, welcome)

	return connection
}

// OnDisconnect 连接断开：单步注销，离线转换交给注册表的去抖逻辑
func (s *Service) OnDisconnect(ctx context.Context, connection *model.Connection) {
	s.router.Leave(connection.Identity.UserID, connection.ConnID)
	s.registry.Unregister(ctx, connection.Identity.UserID, connection.ConnID)

	s.log.Info(ctx, "Connection closed",
		logger.F("userID", connection.Identity.UserID),
		logger.F("connID", connection.ConnID))
}

// OnInboundEvent 按事件名分发客户端入站帧；未知事件忽略并记录日志
func (s *Service) OnInboundEvent(ctx context.Context, conn ClientConn, connection *model.Connection, frame *model.WSFrame) {
	switch frame.Event {
	case model.EventHeartbeat:
		s.registry.Touch(ctx, connection.Identity.UserID)

	case model.EventGetUsersStatus:
		s.handleUsersStatus(ctx, conn, frame.Data)

	case model.EventAssessmentCreated, model.EventAssessmentSubmitted, model.EventAssessmentEvaluated:
		s.handleAssessmentEvent(ctx, connection.Identity, frame.Event, frame.Data)

	default:
		s.log.Warn(ctx, "Unknown inbound event",
			logger.F("event", frame.Event),
			logger.F("userID", connection.Identity.UserID))
	}
}

// handleUsersStatus 批量在线状态查询，结果只回给发起连接
func (s *Service) handleUsersStatus(ctx context.Context, conn ClientConn, data json.RawMessage) {
	var query model.UsersStatusQuery
	if err := json.Unmarshal(data, &query); err != nil {
		s.log.Warn(ctx, "Malformed users status query", logger.F("error", err.Error()))
		return
	}

	reply := model.UsersStatusReply{Users: s.registry.Snapshot(query.UserIDs)}
	s.router.SendToConn(ctx, conn, model.EventUsersStatus, reply)
}

// handleAssessmentEvent 评价事件转为对目标用户的定向通知
func (s *Service) handleAssessmentEvent(ctx context.Context, actor model.Identity, event string, data json.RawMessage) {
	var payload model.AssessmentEvent
	if err := json.Unmarshal(data, &payload); err != nil {
		s.log.Warn(ctx, "Malformed assessment event",
			logger.F("event", event), logger.F("error", err.Error()))
		return
	}

	var title, message string
	switch event {
	case model.EventAssessmentCreated:
		title = "New assessment"
		message = actor.DisplayName + " created an assessment for you"
	case model.EventAssessmentSubmitted:
		title = "Assessment submitted"
		message = actor.DisplayName + " submitted an assessment"
	case model.EventAssessmentEvaluated:
		title = "Assessment evaluated"
		message = actor.DisplayName + " evaluated your skills"
	}

	for _, targetID := range payload.TargetIDs {
		notification := s.newNotification(model.NotifyTypeAssessment, title, message, map[string]interface{}{
			"assessment_id": payload.AssessmentID,
			"actor_id":      actor.UserID,
			"skill_name":    payload.SkillName,
		})
		s.router.SendToIdentity(ctx, targetID, notification)
	}
}

// OnlineStatus 批量在线状态查询（HTTP侧）
func (s *Service) OnlineStatus(ctx context.Context, userIDs []int64) []model.PresenceRecord {
	return s.registry.Snapshot(userIDs)
}

// CreateSessionRequest 发起技能交换会话的参数
type CreateSessionRequest struct {
	RequesterID  int64      `json:"requester_id"`
	RecipientID  int64      `json:"recipient_id"`
	SkillOffered string     `json:"skill_offered"`
	SkillWanted  string     `json:"skill_wanted"`
	ScheduledAt  *time.Time `json:"scheduled_at,omitempty"`
	Message      string     `json:"message,omitempty"`
}

// CreateSession 发起会话请求，落库为pending并通知接收方
// 被拒绝后的再次提议走这里，生成全新的pending记录
func (s *Service) CreateSession(ctx context.Context, req *CreateSessionRequest) (*model.ExchangeSession, error) {
	if req.RequesterID == req.RecipientID {
		return nil, errors.New("requester and recipient must differ")
	}
	if _, err := s.userDAO.GetUser(ctx, req.RecipientID); err != nil {
		return nil, err
	}

	session := &model.ExchangeSession{
		RequesterID:  req.RequesterID,
		RecipientID:  req.RecipientID,
		SkillOffered: req.SkillOffered,
		SkillWanted:  req.SkillWanted,
		ScheduledAt:  req.ScheduledAt,
		Status:       string(match.StatusPending),
		Message:      req.Message,
	}
	if err := s.sessionDAO.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	notification := s.newNotification(match.NotifyTypeSessionRequest, "New session request",
		"You received a skill exchange request", map[string]interface{}{
			"session_id":   session.ID,
			"requester_id": session.RequesterID,
		})
	s.router.SendToIdentity(ctx, session.RecipientID, notification)

	s.publishTransition(ctx, session.ID, "", session.Status, "create", req.RequesterID)
	return session, nil
}

// GetSession 查询会话
func (s *Service) GetSession(ctx context.Context, sessionID int64) (*model.ExchangeSession, error) {
	return s.sessionDAO.GetSession(ctx, sessionID)
}

// ApplySessionAction 对会话执行状态动作：
// 读当前状态 -> 纯状态机裁决 -> 状态CAS写回 -> 派发通知计划
// CAS未命中说明有并发写入抢先，返回冲突错误，不派发任何通知
func (s *Service) ApplySessionAction(ctx context.Context, sessionID int64, action match.Action, actorID int64, proposedAt *time.Time) (*model.ExchangeSession, error) {
	session, err := s.sessionDAO.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	cur := match.State{
		Status:            match.Status(session.Status),
		RescheduleOutcome: match.RescheduleOutcome(session.RescheduleOutcome),
		RequesterID:       session.RequesterID,
		RecipientID:       session.RecipientID,
	}

	next, plan, err := match.Transition(cur, action, actorID)
	if err != nil {
		return nil, err
	}

	var proposed *time.Time
	if action == match.ActionReschedule {
		proposed = proposedAt
	}
	ok, err := s.sessionDAO.UpdateStatusCAS(ctx, sessionID,
		string(cur.Status), string(cur.RescheduleOutcome),
		string(next.Status), string(next.RescheduleOutcome), proposed)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSessionConflict
	}

	session.Status = string(next.Status)
	session.RescheduleOutcome = string(next.RescheduleOutcome)
	if proposed != nil {
		session.ProposedAt = proposed
	}

	for _, entry := range plan {
		notification := s.newNotification(entry.Type, entry.Title, entry.Message, map[string]interface{}{
			"session_id": sessionID,
			"actor_id":   actorID,
		})
		s.router.SendToIdentity(ctx, entry.UserID, notification)
	}

	s.publishTransition(ctx, sessionID, string(cur.Status), string(next.Status), string(action), actorID)

	s.log.Info(ctx, "Session transition applied",
		logger.F("sessionID", sessionID),
		logger.F("action", string(action)),
		logger.F("from", string(cur.Status)),
		logger.F("to", string(next.Status)))
	return session, nil
}

// newNotification 构造一次性通知
func (s *Service) newNotification(notifyType, title, message string, payload map[string]interface{}) *model.Notification {
	return &model.Notification{
		ID:        snowflake.GenerateID(),
		Type:      notifyType,
		Title:     title,
		Message:   message,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// publishTransition 发布会话迁移事件，失败只记录日志
func (s *Service) publishTransition(ctx context.Context, sessionID int64, from, to, action string, actorID int64) {
	if s.kafka == nil {
		return
	}

	event := model.SessionTransitionEvent{
		SessionID:  sessionID,
		FromStatus: from,
		ToStatus:   to,
		Action:     action,
		ActorID:    actorID,
		OccurredAt: time.Now(),
	}
	value, err := json.Marshal(event)
	if err != nil {
		s.log.Error(ctx, "Failed to marshal session event", logger.F("error", err.Error()))
		return
	}

	key := []byte(strconv.FormatInt(sessionID, 10))
	if err := s.kafka.SendMessage(model.TopicSessionTransition, key, value); err != nil {
		s.log.Error(ctx, "Failed to publish session event", logger.F("error", err.Error()))
	}
}
