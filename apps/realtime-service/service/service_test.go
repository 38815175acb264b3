package service

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"skillswap/apps/realtime-service/dao"
	"skillswap/apps/realtime-service/match"
	"skillswap/apps/realtime-service/model"
	"skillswap/pkg/auth"
	"skillswap/pkg/logger"
	"skillswap/pkg/snowflake"
)

const testJWTSecret = "test-secret"

func TestMain(m *testing.M) {
	if err := snowflake.InitGlobalSnowflake(1); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// fakeUserDAO 内存用户表
type fakeUserDAO struct {
	users map[int64]*model.User
}

func (f *fakeUserDAO) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	if user, ok := f.users[userID]; ok {
		return user, nil
	}
	return nil, dao.ErrUserNotFound
}

// fakeSessionDAO 内存会话表，CAS语义与存储实现一致
type fakeSessionDAO struct {
	mu           sync.Mutex
	sessions     map[int64]*model.ExchangeSession
	nextID       int64
	forceCASMiss bool
}

func newFakeSessionDAO() *fakeSessionDAO {
	return &fakeSessionDAO{sessions: make(map[int64]*model.ExchangeSession), nextID: 1}
}

func (f *fakeSessionDAO) CreateSession(ctx context.Context, session *model.ExchangeSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session.ID = f.nextID
	f.nextID++
	session.CreatedAt = time.Now()
	copied := *session
	f.sessions[session.ID] = &copied
	return nil
}

func (f *fakeSessionDAO) GetSession(ctx context.Context, sessionID int64) (*model.ExchangeSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok {
		return nil, dao.ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

func (f *fakeSessionDAO) UpdateStatusCAS(ctx context.Context, sessionID int64,
	fromStatus, fromOutcome, toStatus, toOutcome string, proposedAt *time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.forceCASMiss {
		return false, nil
	}
	session, ok := f.sessions[sessionID]
	if !ok {
		return false, nil
	}
	if session.Status != fromStatus || session.RescheduleOutcome != fromOutcome {
		return false, nil
	}
	session.Status = toStatus
	session.RescheduleOutcome = toOutcome
	if proposedAt != nil {
		session.ProposedAt = proposedAt
	}
	session.UpdatedAt = time.Now()
	return true, nil
}

type testEnv struct {
	svc        *Service
	registry   *PresenceRegistry
	sessionDAO *fakeSessionDAO
	userDAO    *fakeUserDAO
}

func newTestEnv() *testEnv {
	userDAO := &fakeUserDAO{users: map[int64]*model.User{
		1: {ID: 1, Username: "alice", Nickname: "Alice"},
		2: {ID: 2, Username: "bob"},
	}}
	sessionDAO := newFakeSessionDAO()
	registry := NewPresenceRegistry(testDebounce, &fakePresenceDAO{}, nil, logger.GetLogger())
	router := NewNotificationRouter(&fakeNotificationDAO{}, logger.GetLogger())
	svc := NewService(userDAO, sessionDAO, registry, router, nil, testJWTSecret, logger.GetLogger())
	return &testEnv{svc: svc, registry: registry, sessionDAO: sessionDAO, userDAO: userDAO}
}

// connect 以指定用户建立一条测试连接
func (e *testEnv) connect(t *testing.T, userID int64) (*fakeConn, *model.Connection) {
	t.Helper()
	user, err := e.userDAO.GetUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("测试用户不存在: %d", userID)
	}
	displayName := user.Nickname
	if displayName == "" {
		displayName = user.Username
	}
	conn := &fakeConn{}
	connection := e.svc.OnConnect(context.Background(), conn, &model.Identity{UserID: userID, DisplayName: displayName})
	return conn, connection
}

// notificationsOfType 过滤出指定类型的通知帧
func notificationsOfType(t *testing.T, conn *fakeConn, notifyType string) []model.Notification {
	t.Helper()
	conn.mu.Lock()
	defer conn.mu.Unlock()

	var result []model.Notification
	for _, frame := range conn.frames {
		if frame.Event != model.EventNotification {
			continue
		}
		var notification model.Notification
		if err := json.Unmarshal(frame.Data, &notification); err != nil {
			t.Fatalf("通知帧解析失败: %v", err)
		}
		if notification.Type == notifyType {
			result = append(result, notification)
		}
	}
	return result
}

// TestAuthenticate 测试握手认证的各类失败原因和成功路径
func TestAuthenticate(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	t.Run("缺少token", func(t *testing.T) {
		_, err := env.svc.Authenticate(ctx, "")
		assertAuthReason(t, err, "Authentication error: Token missing")
	})

	t.Run("非法token", func(t *testing.T) {
		_, err := env.svc.Authenticate(ctx, "not-a-jwt")
		assertAuthReason(t, err, "Authentication error: Invalid token")
	})

	t.Run("过期token", func(t *testing.T) {
		token, err := auth.GenerateJWT(1, "alice", testJWTSecret, -time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		_, err = env.svc.Authenticate(ctx, token)
		assertAuthReason(t, err, "Authentication error: Token expired")
	})

	t.Run("用户不存在", func(t *testing.T) {
		token, err := auth.GenerateJWT(999, "ghost", testJWTSecret, time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		_, err = env.svc.Authenticate(ctx, token)
		assertAuthReason(t, err, "Authentication error: User not found")
	})

	t.Run("认证成功", func(t *testing.T) {
		token, err := auth.GenerateJWT(1, "alice", testJWTSecret, time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		identity, err := env.svc.Authenticate(ctx, token)
		if err != nil {
			t.Fatalf("认证失败: %v", err)
		}
		if identity.UserID != 1 || identity.DisplayName != "Alice" {
			t.Errorf("身份不符: %+v", identity)
		}
	})
}

func assertAuthReason(t *testing.T, err error, want string) {
	t.Helper()
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("期望AuthError，实际: %v", err)
	}
	if authErr.Error() != want {
		t.Errorf("关闭原因 = %q, 期望 %q", authErr.Error(), want)
	}
}

// TestConnectLifecycle 测试连接建立收到欢迎通知、断开后去抖离线
func TestConnectLifecycle(t *testing.T) {
	env := newTestEnv()
	conn, connection := env.connect(t, 1)

	if !env.registry.IsOnline(1) {
		t.Fatal("连接建立后应在线")
	}
	if welcome := notificationsOfType(t, conn, model.NotifyTypeWelcome); len(welcome) != 1 {
		t.Errorf("期望1条欢迎通知，实际 %d", len(welcome))
	}

	env.svc.OnDisconnect(context.Background(), connection)
	waitDebounce()

	if env.registry.IsOnline(1) {
		t.Fatal("断开且窗口过后应离线")
	}
}

// TestStatusChangeBroadcast 测试上线动态广播给其他在线用户而不广播给自己
func TestStatusChangeBroadcast(t *testing.T) {
	env := newTestEnv()
	connAlice, _ := env.connect(t, 1)
	connBob, _ := env.connect(t, 2)

	aliceSaw := statusChangesOf(t, connAlice)
	if len(aliceSaw) != 1 || aliceSaw[0].UserID != 2 || !aliceSaw[0].IsOnline {
		t.Errorf("Alice应看到Bob上线: %+v", aliceSaw)
	}
	if bobSaw := statusChangesOf(t, connBob); len(bobSaw) != 0 {
		t.Errorf("Bob不应收到自己的上线广播: %+v", bobSaw)
	}
}

func statusChangesOf(t *testing.T, conn *fakeConn) []model.StatusChangeEvent {
	t.Helper()
	conn.mu.Lock()
	defer conn.mu.Unlock()

	var result []model.StatusChangeEvent
	for _, frame := range conn.frames {
		if frame.Event != model.EventUserStatusChange {
			continue
		}
		var change model.StatusChangeEvent
		if err := json.Unmarshal(frame.Data, &change); err != nil {
			t.Fatalf("状态广播解析失败: %v", err)
		}
		result = append(result, change)
	}
	return result
}

// TestUsersStatusQuery 测试批量在线状态查询只回给发起连接
func TestUsersStatusQuery(t *testing.T) {
	env := newTestEnv()
	connAlice, connectionAlice := env.connect(t, 1)
	connBob, _ := env.connect(t, 2)

	query, _ := json.Marshal(model.UsersStatusQuery{UserIDs: []int64{1, 2, 999}})
	env.svc.OnInboundEvent(context.Background(), connAlice, connectionAlice,
		&model.WSFrame{Event: model.EventGetUsersStatus, Data: query})

	var reply *model.UsersStatusReply
	connAlice.mu.Lock()
	for _, frame := range connAlice.frames {
		if frame.Event == model.EventUsersStatus {
			reply = &model.UsersStatusReply{}
			if err := json.Unmarshal(frame.Data, reply); err != nil {
				connAlice.mu.Unlock()
				t.Fatalf("回复解析失败: %v", err)
			}
		}
	}
	connAlice.mu.Unlock()

	if reply == nil {
		t.Fatal("发起连接应收到users:status回复")
	}
	if len(reply.Users) != 3 {
		t.Fatalf("回复条数 = %d, 期望 3", len(reply.Users))
	}
	if !reply.Users[0].IsOnline || !reply.Users[1].IsOnline || reply.Users[2].IsOnline {
		t.Errorf("在线状态不符: %+v", reply.Users)
	}

	connBob.mu.Lock()
	for _, frame := range connBob.frames {
		if frame.Event == model.EventUsersStatus {
			t.Error("其他连接不应收到查询回复")
		}
	}
	connBob.mu.Unlock()
}

// TestHeartbeatEvent 测试心跳事件刷新活跃时间
func TestHeartbeatEvent(t *testing.T) {
	env := newTestEnv()
	conn, connection := env.connect(t, 1)

	before := env.registry.Snapshot([]int64{1})[0].LastActive
	time.Sleep(5 * time.Millisecond)

	env.svc.OnInboundEvent(context.Background(), conn, connection,
		&model.WSFrame{Event: model.EventHeartbeat})

	after := env.registry.Snapshot([]int64{1})[0].LastActive
	if !after.After(before) {
		t.Error("心跳后lastActive应前移")
	}
}

// TestAssessmentEventFanout 测试评价事件转为对目标用户的定向通知
func TestAssessmentEventFanout(t *testing.T) {
	env := newTestEnv()
	connAlice, connectionAlice := env.connect(t, 1)
	connBob, _ := env.connect(t, 2)

	payload, _ := json.Marshal(model.AssessmentEvent{
		AssessmentID: 42,
		TargetIDs:    []int64{2, 999}, // 999 离线，静默丢弃
		SkillName:    "Go",
	})
	env.svc.OnInboundEvent(context.Background(), connAlice, connectionAlice,
		&model.WSFrame{Event: model.EventAssessmentCreated, Data: payload})

	got := notificationsOfType(t, connBob, model.NotifyTypeAssessment)
	if len(got) != 1 {
		t.Fatalf("Bob应收到1条评价通知，实际 %d", len(got))
	}
	if got[0].Message != "Alice created an assessment for you" {
		t.Errorf("通知内容不符: %q", got[0].Message)
	}
	if len(notificationsOfType(t, connAlice, model.NotifyTypeAssessment)) != 0 {
		t.Error("发起人不应收到评价通知")
	}
}

// TestCreateSession 测试发起会话落库为pending并通知接收人
func TestCreateSession(t *testing.T) {
	env := newTestEnv()
	connBob, _ := env.connect(t, 2)

	session, err := env.svc.CreateSession(context.Background(), &CreateSessionRequest{
		RequesterID:  1,
		RecipientID:  2,
		SkillOffered: "Go",
		SkillWanted:  "Photography",
	})
	if err != nil {
		t.Fatalf("发起会话失败: %v", err)
	}
	if session.ID == 0 || session.Status != string(match.StatusPending) {
		t.Errorf("会话记录不符: %+v", session)
	}

	got := notificationsOfType(t, connBob, match.NotifyTypeSessionRequest)
	if len(got) != 1 {
		t.Fatalf("接收人应收到1条请求通知，实际 %d", len(got))
	}
	if got[0].Payload["session_id"] == nil {
		t.Errorf("通知载荷应携带session_id: %+v", got[0].Payload)
	}
}

// TestCreateSessionValidation 测试发起会话的参数校验
func TestCreateSessionValidation(t *testing.T) {
	env := newTestEnv()

	if _, err := env.svc.CreateSession(context.Background(), &CreateSessionRequest{
		RequesterID: 1, RecipientID: 1,
	}); err == nil {
		t.Error("自己邀请自己应失败")
	}

	if _, err := env.svc.CreateSession(context.Background(), &CreateSessionRequest{
		RequesterID: 1, RecipientID: 999,
	}); !errors.Is(err, dao.ErrUserNotFound) {
		t.Errorf("接收人不存在应返回ErrUserNotFound，实际: %v", err)
	}
}

// TestApplySessionActionAccept 测试接受请求的完整链路：落库+通知发起人
func TestApplySessionActionAccept(t *testing.T) {
	env := newTestEnv()
	connAlice, _ := env.connect(t, 1)

	session, err := env.svc.CreateSession(context.Background(), &CreateSessionRequest{
		RequesterID: 1, RecipientID: 2,
	})
	if err != nil {
		t.Fatal(err)
	}

	updated, err := env.svc.ApplySessionAction(context.Background(), session.ID, match.ActionAccept, 2, nil)
	if err != nil {
		t.Fatalf("接受请求失败: %v", err)
	}
	if updated.Status != string(match.StatusAccepted) {
		t.Errorf("状态 = %q, 期望 accepted", updated.Status)
	}

	stored, _ := env.sessionDAO.GetSession(context.Background(), session.ID)
	if stored.Status != string(match.StatusAccepted) {
		t.Errorf("落库状态 = %q, 期望 accepted", stored.Status)
	}

	if got := notificationsOfType(t, connAlice, match.NotifyTypeSessionAccepted); len(got) != 1 {
		t.Errorf("发起人应收到接受通知，实际 %d 条", len(got))
	}
}

// TestApplySessionActionInvalid 测试非法动作不改状态、不发通知
func TestApplySessionActionInvalid(t *testing.T) {
	env := newTestEnv()
	connAlice, _ := env.connect(t, 1)

	session, err := env.svc.CreateSession(context.Background(), &CreateSessionRequest{
		RequesterID: 1, RecipientID: 2,
	})
	if err != nil {
		t.Fatal(err)
	}

	// 发起人不能接受自己的请求
	_, err = env.svc.ApplySessionAction(context.Background(), session.ID, match.ActionAccept, 1, nil)
	var invalid *match.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("期望InvalidTransitionError，实际: %v", err)
	}

	stored, _ := env.sessionDAO.GetSession(context.Background(), session.ID)
	if stored.Status != string(match.StatusPending) {
		t.Errorf("非法动作不应改状态: %q", stored.Status)
	}
	if got := notificationsOfType(t, connAlice, match.NotifyTypeSessionAccepted); len(got) != 0 {
		t.Error("非法动作不应产生通知")
	}
}

// TestApplySessionActionConflict 测试CAS未命中返回冲突错误
func TestApplySessionActionConflict(t *testing.T) {
	env := newTestEnv()

	session, err := env.svc.CreateSession(context.Background(), &CreateSessionRequest{
		RequesterID: 1, RecipientID: 2,
	})
	if err != nil {
		t.Fatal(err)
	}

	env.sessionDAO.forceCASMiss = true
	_, err = env.svc.ApplySessionAction(context.Background(), session.ID, match.ActionAccept, 2, nil)
	if !errors.Is(err, ErrSessionConflict) {
		t.Errorf("期望ErrSessionConflict，实际: %v", err)
	}
}

// TestRescheduleFlow 测试改期全流程：提议->接受->完成，双方都收到完成通知
func TestRescheduleFlow(t *testing.T) {
	env := newTestEnv()
	connAlice, _ := env.connect(t, 1)
	connBob, _ := env.connect(t, 2)
	ctx := context.Background()

	session, err := env.svc.CreateSession(ctx, &CreateSessionRequest{
		RequesterID: 1, RecipientID: 2,
	})
	if err != nil {
		t.Fatal(err)
	}

	proposedAt := time.Now().Add(48 * time.Hour)
	updated, err := env.svc.ApplySessionAction(ctx, session.ID, match.ActionReschedule, 2, &proposedAt)
	if err != nil {
		t.Fatalf("提议改期失败: %v", err)
	}
	if updated.Status != string(match.StatusRescheduled) || updated.ProposedAt == nil {
		t.Fatalf("改期状态不符: %+v", updated)
	}
	if got := notificationsOfType(t, connAlice, match.NotifyTypeSessionRescheduled); len(got) != 1 {
		t.Errorf("发起人应收到改期提议通知，实际 %d 条", len(got))
	}

	updated, err = env.svc.ApplySessionAction(ctx, session.ID, match.ActionAcceptReschedule, 1, nil)
	if err != nil {
		t.Fatalf("接受改期失败: %v", err)
	}
	if updated.RescheduleOutcome != string(match.RescheduleAccepted) {
		t.Fatalf("改期结果不符: %+v", updated)
	}
	if got := notificationsOfType(t, connBob, match.NotifyTypeRescheduleAccepted); len(got) != 1 {
		t.Errorf("接收人应收到改期接受通知，实际 %d 条", len(got))
	}

	if _, err = env.svc.ApplySessionAction(ctx, session.ID, match.ActionComplete, 2, nil); err != nil {
		t.Fatalf("完成会话失败: %v", err)
	}
	if got := notificationsOfType(t, connAlice, match.NotifyTypeSessionCompleted); len(got) != 1 {
		t.Errorf("发起人应收到完成通知，实际 %d 条", len(got))
	}
	if got := notificationsOfType(t, connBob, match.NotifyTypeSessionCompleted); len(got) != 1 {
		t.Errorf("接收人应收到完成通知，实际 %d 条", len(got))
	}
}
