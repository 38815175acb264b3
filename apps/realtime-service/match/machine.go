package match

import "fmt"

// Status 交换会话状态
type Status string

const (
	StatusPending     Status = "pending"
	StatusAccepted    Status = "accepted"
	StatusRejected    Status = "rejected"
	StatusRescheduled Status = "rescheduled"
	StatusCanceled    Status = "canceled"
	StatusCompleted   Status = "completed"
)

// RescheduleOutcome 改期提议的处理结果
// 底层状态保持 rescheduled，处理结果作为子标记记录，所有调用方统一使用该表示
type RescheduleOutcome string

const (
	RescheduleNone     RescheduleOutcome = ""
	RescheduleAccepted RescheduleOutcome = "accepted"
	RescheduleRejected RescheduleOutcome = "rejected"
)

// Action 会话状态动作
type Action string

const (
	ActionAccept           Action = "accept"
	ActionReject           Action = "reject"
	ActionCancel           Action = "cancel"
	ActionReschedule       Action = "reschedule"
	ActionAcceptReschedule Action = "accept_reschedule"
	ActionRejectReschedule Action = "reject_reschedule"
	ActionComplete         Action = "complete"
)

// 通知类型
const (
	NotifyTypeSessionRequest     = "session_request"
	NotifyTypeSessionAccepted    = "session_accepted"
	NotifyTypeSessionRejected    = "session_rejected"
	NotifyTypeSessionRescheduled = "session_rescheduled"
	NotifyTypeRescheduleAccepted = "reschedule_accepted"
	NotifyTypeRescheduleRejected = "reschedule_rejected"
	NotifyTypeSessionCanceled    = "session_canceled"
	NotifyTypeSessionCompleted   = "session_completed"
)

// State 状态机输入：调用方提供持久化的当前状态和参与者
type State struct {
	Status            Status
	RescheduleOutcome RescheduleOutcome
	RequesterID       int64
	RecipientID       int64
}

// PlanEntry 一条通知计划：谁收到什么类型的通知
type PlanEntry struct {
	UserID  int64
	Type    string
	Title   string
	Message string
}

// NotifyPlan 状态迁移产生的有序通知计划，由调用方负责派发
type NotifyPlan []PlanEntry

// InvalidTransitionError 非法状态迁移
type InvalidTransitionError struct {
	From    Status
	Outcome RescheduleOutcome
	Action  Action
	Reason  string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid transition: %s from status %q: %s", e.Action, e.From, e.Reason)
	}
	return fmt.Sprintf("invalid transition: %s from status %q", e.Action, e.From)
}

// IsTerminal 判断状态是否为终态
func (s State) IsTerminal() bool {
	switch s.Status {
	case StatusRejected, StatusCanceled, StatusCompleted:
		return true
	case StatusRescheduled:
		// 改期被拒绝即终态；改期被接受等同 accepted
		return s.RescheduleOutcome == RescheduleRejected
	}
	return false
}

// other 返回actor的对端参与者
func (s State) other(actorID int64) int64 {
	if actorID == s.RequesterID {
		return s.RecipientID
	}
	return s.RequesterID
}

// isParticipant 判断actor是否为会话参与者
func (s State) isParticipant(actorID int64) bool {
	return actorID == s.RequesterID || actorID == s.RecipientID
}

// Transition 纯函数：校验action在当前状态下的合法性并给出下一状态和通知计划。
// 不做任何I/O；对同一条记录的并发写序由调用方通过持久层的状态CAS保证。
func Transition(cur State, action Action, actorID int64) (State, NotifyPlan, error) {
	fail := func(reason string) (State, NotifyPlan, error) {
		return cur, nil, &InvalidTransitionError{
			From:    cur.Status,
			Outcome: cur.RescheduleOutcome,
			Action:  action,
			Reason:  reason,
		}
	}

	if !cur.isParticipant(actorID) {
		return fail("actor is not a participant")
	}
	if cur.IsTerminal() {
		return fail("session already finalized")
	}

	next := cur

	switch action {
	case ActionAccept:
		if cur.Status != StatusPending {
			return fail("")
		}
		if actorID != cur.RecipientID {
			return fail("only the recipient may accept")
		}
		next.Status = StatusAccepted
		return next, NotifyPlan{{
			UserID:  cur.RequesterID,
			Type:    NotifyTypeSessionAccepted,
			Title:   "Session request accepted",
			Message: "Your skill exchange request was accepted",
		}}, nil

	case ActionReject:
		if cur.Status != StatusPending {
			return fail("")
		}
		if actorID != cur.RecipientID {
			return fail("only the recipient may reject")
		}
		next.Status = StatusRejected
		return next, NotifyPlan{{
			UserID:  cur.RequesterID,
			Type:    NotifyTypeSessionRejected,
			Title:   "Session request declined",
			Message: "Your skill exchange request was declined",
		}}, nil

	case ActionReschedule:
		if cur.Status != StatusPending {
			return fail("")
		}
		if actorID != cur.RecipientID {
			return fail("only the recipient may propose a reschedule")
		}
		next.Status = StatusRescheduled
		next.RescheduleOutcome = RescheduleNone
		return next, NotifyPlan{{
			UserID:  cur.RequesterID,
			Type:    NotifyTypeSessionRescheduled,
			Title:   "New time proposed",
			Message: "A new time was proposed for your skill exchange session",
		}}, nil

	case ActionAcceptReschedule:
		if cur.Status != StatusRescheduled || cur.RescheduleOutcome != RescheduleNone {
			return fail("")
		}
		if actorID != cur.RequesterID {
			return fail("only the requester may respond to a reschedule")
		}
		next.RescheduleOutcome = RescheduleAccepted
		return next, NotifyPlan{{
			UserID:  cur.RecipientID,
			Type:    NotifyTypeRescheduleAccepted,
			Title:   "Reschedule accepted",
			Message: "The proposed time was accepted",
		}}, nil

	case ActionRejectReschedule:
		if cur.Status != StatusRescheduled || cur.RescheduleOutcome != RescheduleNone {
			return fail("")
		}
		if actorID != cur.RequesterID {
			return fail("only the requester may respond to a reschedule")
		}
		next.RescheduleOutcome = RescheduleRejected
		return next, NotifyPlan{{
			UserID:  cur.RecipientID,
			Type:    NotifyTypeRescheduleRejected,
			Title:   "Reschedule declined",
			Message: "The proposed time was declined",
		}}, nil

	case ActionCancel:
		if !canCancel(cur) {
			return fail("")
		}
		next.Status = StatusCanceled
		return next, NotifyPlan{{
			UserID:  cur.other(actorID),
			Type:    NotifyTypeSessionCanceled,
			Title:   "Session canceled",
			Message: "Your skill exchange session was canceled",
		}}, nil

	case ActionComplete:
		if !isActive(cur) {
			return fail("")
		}
		next.Status = StatusCompleted
		// 双方都收到反馈邀请
		return next, NotifyPlan{
			{
				UserID:  cur.RequesterID,
				Type:    NotifyTypeSessionCompleted,
				Title:   "Session completed",
				Message: "Your skill exchange session is complete, leave feedback for your partner",
			},
			{
				UserID:  cur.RecipientID,
				Type:    NotifyTypeSessionCompleted,
				Title:   "Session completed",
				Message: "Your skill exchange session is complete, leave feedback for your partner",
			},
		}, nil

	default:
		return fail("unknown action")
	}
}

// isActive 会话是否处于可完成状态：已接受，或改期已被接受
func isActive(s State) bool {
	if s.Status == StatusAccepted {
		return true
	}
	return s.Status == StatusRescheduled && s.RescheduleOutcome == RescheduleAccepted
}

// canCancel pending、accepted 或待处理/已接受的改期均可取消
func canCancel(s State) bool {
	switch s.Status {
	case StatusPending, StatusAccepted:
		return true
	case StatusRescheduled:
		return s.RescheduleOutcome != RescheduleRejected
	}
	return false
}

// ParseAction 解析动作字符串
func ParseAction(s string) (Action, bool) {
	switch Action(s) {
	case ActionAccept, ActionReject, ActionCancel, ActionReschedule,
		ActionAcceptReschedule, ActionRejectReschedule, ActionComplete:
		return Action(s), true
	}
	return "", false
}
