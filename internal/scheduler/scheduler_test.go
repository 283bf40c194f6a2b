package scheduler

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/ew384/automaton-core/internal/broker"
)

type fakeCustodian struct {
	calls int32
}

func (f *fakeCustodian) EnsureMessageTab(ctx context.Context, platform, accountID, cookieFile string) (broker.TabID, error) {
	atomic.AddInt32(&f.calls, 1)
	return broker.TabID("tab-" + accountID), nil
}

func newTask(id, platform, accountID string) *Task {
	return &Task{
		ID:                  id,
		Platform:            platform,
		AccountID:           accountID,
		SyncIntervalMinutes: 10,
		Enabled:             true,
	}
}

func TestScheduler_onSuccess_ResetsConsecutiveErrorsAndAccumulatesTotals(t *testing.T) {
	cust := &fakeCustodian{}
	s := New(cust, func(ctx context.Context, platform, accountID string, tabID broker.TabID, opts SyncOptions) SyncResult {
		return SyncResult{Success: true, NewMessages: 3}
	}, Options{})

	task := newTask("t1", "wechat", "acct1")
	task.ConsecutiveErrors = 2
	s.tasks[task.ID] = task
	s.isRunning = true

	s.execute(task)

	if task.ConsecutiveErrors != 0 {
		t.Errorf("ConsecutiveErrors = %d, want 0", task.ConsecutiveErrors)
	}
	if task.TotalMessages != 3 {
		t.Errorf("TotalMessages = %d, want 3", task.TotalMessages)
	}
	if task.Status != StatusPending {
		t.Errorf("Status = %s, want %s", task.Status, StatusPending)
	}
	if task.SyncCount != 1 {
		t.Errorf("SyncCount = %d, want 1", task.SyncCount)
	}
}

func TestScheduler_onFailure_QuarantinesAfterMaxConsecutiveErrors(t *testing.T) {
	cust := &fakeCustodian{}
	s := New(cust, func(ctx context.Context, platform, accountID string, tabID broker.TabID, opts SyncOptions) SyncResult {
		return SyncResult{Success: false}
	}, Options{MaxConsecutiveErrors: 3})

	task := newTask("t1", "wechat", "acct1")
	s.tasks[task.ID] = task
	s.isRunning = true

	s.execute(task)
	if task.Status != StatusPending || !task.Enabled {
		t.Fatalf("after 1st failure: status=%s enabled=%v, want pending/enabled", task.Status, task.Enabled)
	}

	s.execute(task)
	if task.Status != StatusPending || !task.Enabled {
		t.Fatalf("after 2nd failure: status=%s enabled=%v, want pending/enabled", task.Status, task.Enabled)
	}

	s.execute(task)
	if task.Status != StatusError || task.Enabled {
		t.Fatalf("after 3rd failure: status=%s enabled=%v, want error/disabled", task.Status, task.Enabled)
	}
	if task.ConsecutiveErrors != 3 {
		t.Errorf("ConsecutiveErrors = %d, want 3", task.ConsecutiveErrors)
	}
}

func TestScheduler_UpdateTaskCookie_ClearsErrorAndReenables(t *testing.T) {
	cust := &fakeCustodian{}
	s := New(cust, func(ctx context.Context, platform, accountID string, tabID broker.TabID, opts SyncOptions) SyncResult {
		return SyncResult{Success: true}
	}, Options{})

	task := newTask("t1", "wechat", "acct1")
	task.Enabled = false
	task.Status = StatusError
	task.ConsecutiveErrors = 5
	task.LastError = "boom"
	s.tasks[task.ID] = task

	if err := s.UpdateTaskCookie(AccountKey("wechat", "acct1"), "/cookies/new", "operator rotation"); err != nil {
		t.Fatalf("UpdateTaskCookie: %v", err)
	}

	if task.CurrentCookieFile != "/cookies/new" {
		t.Errorf("CurrentCookieFile = %q, want /cookies/new", task.CurrentCookieFile)
	}
	if task.ConsecutiveErrors != 0 || task.LastError != "" {
		t.Errorf("expected error state cleared, got consecutiveErrors=%d lastError=%q", task.ConsecutiveErrors, task.LastError)
	}
	if !task.Enabled || task.Status != StatusPending {
		t.Errorf("expected task re-enabled and pending, got enabled=%v status=%s", task.Enabled, task.Status)
	}
	if task.CookieUpdateCount != 1 {
		t.Errorf("CookieUpdateCount = %d, want 1", task.CookieUpdateCount)
	}
}

func TestScheduler_delayFor_CapsAtMaxDelay(t *testing.T) {
	s := New(&fakeCustodian{}, nil, Options{})
	task := newTask("t1", "wechat", "acct1")
	task.SyncIntervalMinutes = 60
	task.ConsecutiveErrors = 10

	if got := s.delayFor(task); got != maxDelay {
		t.Errorf("delayFor = %s, want cap of %s", got, maxDelay)
	}
}

func TestScheduler_StartStop_DrainsRunningTasks(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	cust := &fakeCustodian{}
	s := New(cust, func(ctx context.Context, platform, accountID string, tabID broker.TabID, opts SyncOptions) SyncResult {
		close(started)
		<-release
		return SyncResult{Success: true}
	}, Options{})

	task := newTask("t1", "wechat", "acct1")
	s.AddTask(task)
	s.Start()

	// Directly trigger one run, mirroring what the master tick would do.
	s.runTask(task.ID)

	<-started
	close(release)
	s.Stop()
}

func TestScheduler_AddThenRemoveTask_LeavesMapSizeUnchangedAndCancelsTimer(t *testing.T) {
	s := New(&fakeCustodian{}, func(ctx context.Context, platform, accountID string, tabID broker.TabID, opts SyncOptions) SyncResult {
		return SyncResult{Success: true}
	}, Options{})

	before := len(s.tasks)

	task := newTask("t1", "wechat", "acct1")
	s.AddTask(task)
	s.Start()
	defer s.Stop()

	if _, ok := s.Task("t1"); !ok {
		t.Fatalf("task t1 not present after AddTask")
	}
	if _, ok := s.timers["t1"]; !ok {
		t.Fatalf("timer for t1 not armed after Start")
	}

	s.RemoveTask("t1")

	if len(s.tasks) != before {
		t.Errorf("len(tasks) = %d, want %d (unchanged by round trip)", len(s.tasks), before)
	}
	if _, ok := s.Task("t1"); ok {
		t.Errorf("task t1 still present after RemoveTask")
	}
	if _, ok := s.timers["t1"]; ok {
		t.Errorf("timer for t1 still present after RemoveTask")
	}
}
