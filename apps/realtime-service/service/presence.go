package service

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"skillswap/apps/realtime-service/dao"
	"skillswap/apps/realtime-service/model"
	"skillswap/pkg/kafka"
	"skillswap/pkg/logger"
)

// DefaultOfflineDebounce 默认离线去抖窗口
const DefaultOfflineDebounce = 5 * time.Second

// StatusChangeFunc 在线状态变更回调，用于向其他在线用户广播
type StatusChangeFunc func(ctx context.Context, change model.StatusChangeEvent)

// presenceEntry 单个用户的在线状态
type presenceEntry struct {
	conns      map[string]struct{}
	lastActive time.Time
	epoch      uint64      // 单调递增，防止过期的离线定时器覆盖新状态
	timer      *time.Timer // 待生效的离线定时器
}

// PresenceRegistry 在线状态注册表，进程内“谁在线”的唯一权威
// 连接本体归网关所有，这里只持有 userID -> 连接ID集合 的非拥有引用
type PresenceRegistry struct {
	mu      sync.Mutex
	entries map[int64]*presenceEntry

	// announceMu 串行化状态变更的对外公布（写穿+广播+Kafka）
	// 在释放mu之前获取，公布顺序就与裁决顺序一致
	announceMu sync.Mutex

	debounce    time.Duration
	presenceDAO dao.PresenceDAO
	kafka       *kafka.Producer
	log         logger.Logger

	onStatusChange StatusChangeFunc
}

// NewPresenceRegistry 创建在线状态注册表
func NewPresenceRegistry(debounce time.Duration, presenceDAO dao.PresenceDAO, producer *kafka.Producer, log logger.Logger) *PresenceRegistry {
	if debounce <= 0 {
		debounce = DefaultOfflineDebounce
	}
	return &PresenceRegistry{
		entries:     make(map[int64]*presenceEntry),
		debounce:    debounce,
		presenceDAO: presenceDAO,
		kafka:       producer,
		log:         log,
	}
}

// OnStatusChange 设置状态变更回调
func (r *PresenceRegistry) OnStatusChange(fn StatusChangeFunc) {
	r.onStatusChange = fn
}

// Register 登记一条连接；用户从离线转为在线时写穿存储并触发上线广播
func (r *PresenceRegistry) Register(ctx context.Context, userID int64, connID string) {
	now := time.Now()

	r.mu.Lock()
	entry, exists := r.entries[userID]
	if !exists {
		entry = &presenceEntry{conns: make(map[string]struct{})}
		r.entries[userID] = entry
	}

	// 去抖窗口内重连：取消待生效的离线定时器，状态保持在线
	cameOnline := !exists
	if entry.timer != nil {
		entry.timer.Stop()
		entry.timer = nil
	}
	entry.epoch++
	entry.conns[connID] = struct{}{}
	entry.lastActive = now

	if !cameOnline {
		r.mu.Unlock()
		return
	}

	r.announceMu.Lock()
	r.mu.Unlock()
	defer r.announceMu.Unlock()

	// 写穿与广播在注册表锁外进行，存储失败不影响进程内状态
	if err := r.presenceDAO.SetOnline(ctx, userID, now); err != nil {
		r.log.Error(ctx, "Presence write-through failed",
			logger.F("userID", userID), logger.F("error", err.Error()))
	}
	r.notifyStatusChange(ctx, model.StatusChangeEvent{
		UserID:     userID,
		IsOnline:   true,
		LastActive: now,
	})
}

// Unregister 注销一条连接；最后一条连接断开后启动去抖窗口，窗口内无重连才转为离线
func (r *PresenceRegistry) Unregister(ctx context.Context, userID int64, connID string) {
	r.mu.Lock()
	entry, exists := r.entries[userID]
	if !exists {
		r.mu.Unlock()
		return
	}

	// 未登记的连接不触发任何状态变化，尤其不能重置进行中的去抖窗口
	if _, ok := entry.conns[connID]; !ok {
		r.mu.Unlock()
		return
	}

	delete(entry.conns, connID)
	if len(entry.conns) > 0 {
		r.mu.Unlock()
		return
	}

	entry.epoch++
	epoch := entry.epoch
	entry.timer = time.AfterFunc(r.debounce, func() {
		r.offlineExpired(userID, epoch)
	})
	r.mu.Unlock()
}

// offlineExpired 去抖定时器到期；纪元不匹配说明已被新连接取代，直接丢弃
func (r *PresenceRegistry) offlineExpired(userID int64, epoch uint64) {
	r.mu.Lock()
	entry, exists := r.entries[userID]
	if !exists || entry.epoch != epoch || len(entry.conns) > 0 {
		r.mu.Unlock()
		return
	}
	lastActive := entry.lastActive
	delete(r.entries, userID)

	// 持有公布锁再释放注册表锁，窗口内抢进来的Register会排在本次离线公布之后
	r.announceMu.Lock()
	r.mu.Unlock()
	defer r.announceMu.Unlock()

	ctx := context.Background()
	if err := r.presenceDAO.SetOffline(ctx, userID, lastActive); err != nil {
		r.log.Error(ctx, "Presence write-through failed",
			logger.F("userID", userID), logger.F("error", err.Error()))
	}
	r.notifyStatusChange(ctx, model.StatusChangeEvent{
		UserID:     userID,
		IsOnline:   false,
		LastActive: lastActive,
	})
}

// IsOnline 判断用户是否在线；去抖窗口内视为仍在线
func (r *PresenceRegistry) IsOnline(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.entries[userID]
	return exists
}

// Touch 刷新最后活跃时间，不改变在线状态
func (r *PresenceRegistry) Touch(ctx context.Context, userID int64) {
	now := time.Now()

	r.mu.Lock()
	if entry, exists := r.entries[userID]; exists {
		entry.lastActive = now
	}
	r.mu.Unlock()

	if err := r.presenceDAO.Heartbeat(ctx, userID, now); err != nil {
		r.log.Warn(ctx, "Presence heartbeat upsert failed",
			logger.F("userID", userID), logger.F("error", err.Error()))
	}
}

// Snapshot 批量只读查询，无副作用
func (r *PresenceRegistry) Snapshot(userIDs []int64) []model.PresenceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := make([]model.PresenceRecord, 0, len(userIDs))
	for _, userID := range userIDs {
		record := model.PresenceRecord{UserID: userID}
		if entry, exists := r.entries[userID]; exists {
			record.IsOnline = true
			record.LastActive = entry.lastActive
		}
		records = append(records, record)
	}
	return records
}

// Stop 停止所有待生效的离线定时器（进程关闭时调用）
func (r *PresenceRegistry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.entries {
		if entry.timer != nil {
			entry.timer.Stop()
			entry.timer = nil
		}
	}
}

// notifyStatusChange 广播状态变更并发布Kafka事件
func (r *PresenceRegistry) notifyStatusChange(ctx context.Context, change model.StatusChangeEvent) {
	if r.onStatusChange != nil {
		r.onStatusChange(ctx, change)
	}
	r.publishPresenceEvent(ctx, change)
}

// publishPresenceEvent 发布在线状态变更事件，失败只记录日志
func (r *PresenceRegistry) publishPresenceEvent(ctx context.Context, change model.StatusChangeEvent) {
	if r.kafka == nil {
		return
	}

	event := model.PresenceChangedEvent{
		UserID:     change.UserID,
		IsOnline:   change.IsOnline,
		LastActive: change.LastActive,
		OccurredAt: time.Now(),
	}
	value, err := json.Marshal(event)
	if err != nil {
		r.log.Error(ctx, "Failed to marshal presence event", logger.F("error", err.Error()))
		return
	}

	key := []byte(strconv.FormatInt(change.UserID, 10))
	if err := r.kafka.SendMessage(model.TopicPresenceChanged, key, value); err != nil {
		r.log.Error(ctx, "Failed to publish presence event", logger.F("error", err.Error()))
	}
}
