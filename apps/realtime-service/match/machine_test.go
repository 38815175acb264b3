package match

import (
	"errors"
	"testing"
)

const (
	requesterID int64 = 101
	recipientID int64 = 202
	strangerID  int64 = 303
)

func pendingState() State {
	return State{Status: StatusPending, RequesterID: requesterID, RecipientID: recipientID}
}

// TestTransitionTable 测试状态迁移的合法性和目标状态
func TestTransitionTable(t *testing.T) {
	tests := []struct {
		name        string
		state       State
		action      Action
		actorID     int64
		wantStatus  Status
		wantOutcome RescheduleOutcome
		wantErr     bool
	}{
		{"接受待处理请求", pendingState(), ActionAccept, recipientID, StatusAccepted, RescheduleNone, false},
		{"拒绝待处理请求", pendingState(), ActionReject, recipientID, StatusRejected, RescheduleNone, false},
		{"提议改期", pendingState(), ActionReschedule, recipientID, StatusRescheduled, RescheduleNone, false},
		{"发起人不能接受自己的请求", pendingState(), ActionAccept, requesterID, "", "", true},
		{"发起人不能拒绝自己的请求", pendingState(), ActionReject, requesterID, "", "", true},
		{"发起人不能提议改期", pendingState(), ActionReschedule, requesterID, "", "", true},
		{"非参与者不能操作", pendingState(), ActionAccept, strangerID, "", "", true},
		{"待处理不能直接完成", pendingState(), ActionComplete, recipientID, "", "", true},
		{"发起人取消待处理请求", pendingState(), ActionCancel, requesterID, StatusCanceled, RescheduleNone, false},
		{"接收人取消待处理请求", pendingState(), ActionCancel, recipientID, StatusCanceled, RescheduleNone, false},
		{
			"完成已接受的会话",
			State{Status: StatusAccepted, RequesterID: requesterID, RecipientID: recipientID},
			ActionComplete, requesterID, StatusCompleted, RescheduleNone, false,
		},
		{
			"已接受的会话不能再接受",
			State{Status: StatusAccepted, RequesterID: requesterID, RecipientID: recipientID},
			ActionAccept, recipientID, "", "", true,
		},
		{
			"发起人接受改期提议",
			State{Status: StatusRescheduled, RequesterID: requesterID, RecipientID: recipientID},
			ActionAcceptReschedule, requesterID, StatusRescheduled, RescheduleAccepted, false,
		},
		{
			"发起人拒绝改期提议",
			State{Status: StatusRescheduled, RequesterID: requesterID, RecipientID: recipientID},
			ActionRejectReschedule, requesterID, StatusRescheduled, RescheduleRejected, false,
		},
		{
			"接收人不能回应自己的改期提议",
			State{Status: StatusRescheduled, RequesterID: requesterID, RecipientID: recipientID},
			ActionAcceptReschedule, recipientID, "", "", true,
		},
		{
			"改期被接受后可以完成",
			State{Status: StatusRescheduled, RescheduleOutcome: RescheduleAccepted, RequesterID: requesterID, RecipientID: recipientID},
			ActionComplete, recipientID, StatusCompleted, RescheduleAccepted, false,
		},
		{
			"改期被接受后可以取消",
			State{Status: StatusRescheduled, RescheduleOutcome: RescheduleAccepted, RequesterID: requesterID, RecipientID: recipientID},
			ActionCancel, requesterID, StatusCanceled, RescheduleAccepted, false,
		},
		{
			"改期被拒绝即终态",
			State{Status: StatusRescheduled, RescheduleOutcome: RescheduleRejected, RequesterID: requesterID, RecipientID: recipientID},
			ActionCancel, requesterID, "", "", true,
		},
		{
			"已拒绝是终态",
			State{Status: StatusRejected, RequesterID: requesterID, RecipientID: recipientID},
			ActionAccept, recipientID, "", "", true,
		},
		{
			"已取消是终态",
			State{Status: StatusCanceled, RequesterID: requesterID, RecipientID: recipientID},
			ActionComplete, requesterID, "", "", true,
		},
		{
			"已完成是终态",
			State{Status: StatusCompleted, RequesterID: requesterID, RecipientID: recipientID},
			ActionCancel, requesterID, "", "", true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, _, err := Transition(tt.state, tt.action, tt.actorID)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("期望迁移失败，实际成功: %+v", next)
				}
				var invalid *InvalidTransitionError
				if !errors.As(err, &invalid) {
					t.Fatalf("期望InvalidTransitionError，实际: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("迁移失败: %v", err)
			}
			if next.Status != tt.wantStatus {
				t.Errorf("状态 = %q, 期望 %q", next.Status, tt.wantStatus)
			}
			if next.RescheduleOutcome != tt.wantOutcome {
				t.Errorf("改期结果 = %q, 期望 %q", next.RescheduleOutcome, tt.wantOutcome)
			}
		})
	}
}

// TestTransitionNotifyPlan 测试迁移产生的通知计划
func TestTransitionNotifyPlan(t *testing.T) {
	t.Run("接受请求通知发起人", func(t *testing.T) {
		_, plan, err := Transition(pendingState(), ActionAccept, recipientID)
		if err != nil {
			t.Fatal(err)
		}
		if len(plan) != 1 {
			t.Fatalf("期望1条通知，实际%d条", len(plan))
		}
		if plan[0].UserID != requesterID {
			t.Errorf("通知对象 = %d, 期望 %d", plan[0].UserID, requesterID)
		}
		if plan[0].Type != NotifyTypeSessionAccepted {
			t.Errorf("通知类型 = %q, 期望 %q", plan[0].Type, NotifyTypeSessionAccepted)
		}
	})

	t.Run("取消通知对端", func(t *testing.T) {
		_, plan, err := Transition(pendingState(), ActionCancel, requesterID)
		if err != nil {
			t.Fatal(err)
		}
		if len(plan) != 1 || plan[0].UserID != recipientID {
			t.Fatalf("期望只通知接收人，实际: %+v", plan)
		}
		if plan[0].Type != NotifyTypeSessionCanceled {
			t.Errorf("通知类型 = %q, 期望 %q", plan[0].Type, NotifyTypeSessionCanceled)
		}
	})

	t.Run("回应改期通知接收人", func(t *testing.T) {
		state := State{Status: StatusRescheduled, RequesterID: requesterID, RecipientID: recipientID}
		_, plan, err := Transition(state, ActionRejectReschedule, requesterID)
		if err != nil {
			t.Fatal(err)
		}
		if len(plan) != 1 || plan[0].UserID != recipientID {
			t.Fatalf("期望只通知接收人，实际: %+v", plan)
		}
	})

	t.Run("完成通知双方", func(t *testing.T) {
		state := State{Status: StatusAccepted, RequesterID: requesterID, RecipientID: recipientID}
		_, plan, err := Transition(state, ActionComplete, recipientID)
		if err != nil {
			t.Fatal(err)
		}
		if len(plan) != 2 {
			t.Fatalf("期望2条通知，实际%d条", len(plan))
		}
		if plan[0].UserID != requesterID || plan[1].UserID != recipientID {
			t.Errorf("通知顺序错误: %+v", plan)
		}
		for _, entry := range plan {
			if entry.Type != NotifyTypeSessionCompleted {
				t.Errorf("通知类型 = %q, 期望 %q", entry.Type, NotifyTypeSessionCompleted)
			}
		}
	})
}

// TestTransitionFailureKeepsState 测试失败的迁移不改变状态且无通知
func TestTransitionFailureKeepsState(t *testing.T) {
	state := State{Status: StatusAccepted, RequesterID: requesterID, RecipientID: recipientID}
	next, plan, err := Transition(state, ActionAccept, recipientID)
	if err == nil {
		t.Fatal("期望迁移失败")
	}
	if next != state {
		t.Errorf("失败的迁移不应改变状态: %+v", next)
	}
	if len(plan) != 0 {
		t.Errorf("失败的迁移不应产生通知: %+v", plan)
	}
}

// TestTransitionRepeatAction 测试同一动作重复执行第二次必然失败
func TestTransitionRepeatAction(t *testing.T) {
	next, _, err := Transition(pendingState(), ActionAccept, recipientID)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := Transition(next, ActionAccept, recipientID); err == nil {
		t.Error("重复接受应当失败")
	}
}

// TestParseAction 测试动作字符串解析
func TestParseAction(t *testing.T) {
	for _, s := range []string{"accept", "reject", "cancel", "reschedule", "accept_reschedule", "reject_reschedule", "complete"} {
		if _, ok := ParseAction(s); !ok {
			t.Errorf("合法动作 %q 解析失败", s)
		}
	}
	if _, ok := ParseAction("approve"); ok {
		t.Error("非法动作不应解析成功")
	}
}

// TestIsTerminal 测试终态判定
func TestIsTerminal(t *testing.T) {
	terminal := []State{
		{Status: StatusRejected},
		{Status: StatusCanceled},
		{Status: StatusCompleted},
		{Status: StatusRescheduled, RescheduleOutcome: RescheduleRejected},
	}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s/%s 应为终态", s.Status, s.RescheduleOutcome)
		}
	}

	active := []State{
		{Status: StatusPending},
		{Status: StatusAccepted},
		{Status: StatusRescheduled},
		{Status: StatusRescheduled, RescheduleOutcome: RescheduleAccepted},
	}
	for _, s := range active {
		if s.IsTerminal() {
			t.Errorf("%s/%s 不应为终态", s.Status, s.RescheduleOutcome)
		}
	}
}
