// Package scheduler implements the Sync Scheduler (§4.3): it owns the
// message-sync task set, a 30s master tick, and per-task deferred timers,
// running each enabled task through the Custodian and a caller-supplied
// sync function with bounded concurrency and backoff-then-quarantine on
// repeated failure.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ew384/automaton-core/internal/broker"
)

var tracer = otel.Tracer("automaton/scheduler")

const (
	masterTick             = 30 * time.Second
	defaultMaxConcurrent   = 5
	defaultMaxConsecErrors = 3
	defaultBackoffBase     = 2.0
	maxDelay               = 30 * time.Minute
	stopDrainTimeout       = 30 * time.Second
)

// Status is a Task's lifecycle state.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusError   Status = "error"
	StatusStopped Status = "stopped"
)

// Task is the Scheduler Task record (§3), keyed by ID with a unique
// (Platform, AccountID) pair enforced by the caller at AddTask time.
type Task struct {
	ID                  string
	Platform            string
	AccountID           string
	CurrentCookieFile   string
	LastCookieUpdate    time.Time
	CookieUpdateCount   int
	SyncIntervalMinutes int
	Enabled             bool
	Priority            int // 1-10, display-only in this revision (§4.3)
	Status              Status
	LastSyncAt          time.Time
	NextSyncAt          time.Time
	SyncCount           int
	ErrorCount          int
	ConsecutiveErrors   int
	LastError           string
	TotalMessages       int
	NewMessagesLastSync int
	AvgSyncDurationMs   float64
}

// SyncOptions is passed through to SyncFn; FullSync is always false for
// scheduled runs (§4.3 step 4).
type SyncOptions struct {
	FullSync bool
}

// SyncResult is what a scheduled sync reports back.
type SyncResult struct {
	Success     bool
	NewMessages int
	Err         error
}

// SyncFn performs one sync for a task's already-ensured tab.
type SyncFn func(ctx context.Context, platform, accountID string, tabID broker.TabID, opts SyncOptions) SyncResult

// Custodian is the subset of custodian.Custodian the scheduler depends on.
type Custodian interface {
	EnsureMessageTab(ctx context.Context, platform, accountID, cookieFile string) (broker.TabID, error)
}

// Options configures the scheduler's concurrency and error-budget knobs.
type Options struct {
	MaxConcurrentTasks   int
	MaxConsecutiveErrors int
	BackoffMultiplier    float64
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrentTasks <= 0 {
		o.MaxConcurrentTasks = defaultMaxConcurrent
	}
	if o.MaxConsecutiveErrors <= 0 {
		o.MaxConsecutiveErrors = defaultMaxConsecErrors
	}
	if o.BackoffMultiplier <= 0 {
		o.BackoffMultiplier = defaultBackoffBase
	}
	return o
}

// Scheduler owns the task map exclusively; every mutation goes through its
// mutex (§9 single-writer component-local state).
type Scheduler struct {
	custodian Custodian
	syncFn    SyncFn
	opts      Options
	log       *slog.Logger

	mu          sync.Mutex
	tasks       map[string]*Task
	timers      map[string]*time.Timer
	running     map[string]struct{}
	isRunning   bool
	masterTimer *time.Timer
	wg          sync.WaitGroup
}

// New constructs a Scheduler. syncFn is the dependency-injected sync
// routine (§4.3); it must not block indefinitely — the scheduler has no
// per-call timeout of its own beyond what ctx enforces.
func New(custodian Custodian, syncFn SyncFn, opts Options) *Scheduler {
	return &Scheduler{
		custodian: custodian,
		syncFn:    syncFn,
		opts:      opts.withDefaults(),
		tasks:     make(map[string]*Task),
		timers:    make(map[string]*time.Timer),
		running:   make(map[string]struct{}),
		log:       slog.With("component", "scheduler"),
	}
}

// AddTask registers a task. Duplicate (Platform, AccountID) pairs are the
// caller's responsibility to prevent; AddTask does not check.
func (s *Scheduler) AddTask(t *Task) {
	if t.Status == "" {
		t.Status = StatusPending
	}
	s.mu.Lock()
	s.tasks[t.ID] = t
	running := s.isRunning
	s.mu.Unlock()

	if running && t.Enabled {
		s.armTaskTimer(t.ID, s.delayFor(t))
	}
}

// RemoveTask cancels id's per-task timer, if armed, and deletes it from the
// task set (§5 cancellation flows). A round trip of AddTask then RemoveTask
// leaves the task map size unchanged and leaves no timer behind — it does
// not interrupt a run already in flight for id, which finishes and simply
// finds nothing left to update.
func (s *Scheduler) RemoveTask(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
	delete(s.tasks, id)
}

// Start arms the master tick and schedules every enabled task (§4.3).
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	ids := make([]string, 0, len(s.tasks))
	for id, t := range s.tasks {
		if t.Enabled {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.mu.Lock()
		t := s.tasks[id]
		s.mu.Unlock()
		if t == nil {
			continue
		}
		s.armTaskTimer(id, s.delayFor(t))
	}

	s.armMasterTick()
	s.log.Info("scheduler started", "tasks", len(ids))
}

// Stop cancels every timer, marks the scheduler not-running, and waits up
// to 30s for in-flight runs to drain (§4.3).
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.isRunning = false
	if s.masterTimer != nil {
		s.masterTimer.Stop()
	}
	for _, timer := range s.timers {
		timer.Stop()
	}
	s.timers = make(map[string]*time.Timer)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(stopDrainTimeout):
		s.log.Warn("scheduler stop: running tasks did not drain in time")
	}
}

func (s *Scheduler) armMasterTick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return
	}
	s.masterTimer = time.AfterFunc(masterTick, s.onMasterTick)
}

// onMasterTick runs every due, enabled task that has no run already
// in-flight, gated by maxConcurrentTasks (§4.3 execution step 1), then
// re-arms itself.
func (s *Scheduler) onMasterTick() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	now := time.Now()
	var due []string
	for id, t := range s.tasks {
		if !t.Enabled || t.Status == StatusRunning {
			continue
		}
		if _, inFlight := s.running[id]; inFlight {
			continue
		}
		if !t.NextSyncAt.IsZero() && t.NextSyncAt.After(now) {
			continue
		}
		due = append(due, id)
	}
	s.mu.Unlock()

	for _, id := range due {
		s.mu.Lock()
		atCapacity := len(s.running) >= s.opts.MaxConcurrentTasks
		s.mu.Unlock()
		if atCapacity {
			s.armTaskTimer(id, masterTick)
			continue
		}
		s.runTask(id)
	}

	s.armMasterTick()
}

// armTaskTimer (re)arms the single deferred timer for taskID, replacing
// any existing one (§4.3: "only one timer per task exists at a time").
func (s *Scheduler) armTaskTimer(taskID string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return
	}
	if existing, ok := s.timers[taskID]; ok {
		existing.Stop()
	}
	s.timers[taskID] = time.AfterFunc(delay, func() {
		s.runTask(taskID)
	})
}

// delayFor computes the next-run delay: syncIntervalMinutes scaled by
// backoffMultiplier^consecutiveErrors, capped at 30 minutes (§4.3).
func (s *Scheduler) delayFor(t *Task) time.Duration {
	base := time.Duration(t.SyncIntervalMinutes) * time.Minute
	if base <= 0 {
		base = time.Minute
	}
	factor := math.Pow(s.opts.BackoffMultiplier, float64(t.ConsecutiveErrors))
	delay := time.Duration(float64(base) * factor)
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

func (s *Scheduler) runTask(taskID string) {
	s.mu.Lock()
	t, ok := s.tasks[taskID]
	if !ok || !t.Enabled || !s.isRunning {
		s.mu.Unlock()
		return
	}
	if len(s.running) >= s.opts.MaxConcurrentTasks {
		s.mu.Unlock()
		s.armTaskTimer(taskID, masterTick)
		return
	}
	t.Status = StatusRunning
	s.running[taskID] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(t)
	}()
}

func (s *Scheduler) execute(t *Task) {
	start := time.Now()
	ctx, span := tracer.Start(context.Background(), "scheduler.execute",
		trace.WithAttributes(
			attribute.String("platform", t.Platform),
			attribute.String("account_id", t.AccountID),
		))
	defer span.End()

	defer func() {
		s.mu.Lock()
		delete(s.running, t.ID)
		stillEnabled := t.Enabled
		stillRunning := s.isRunning
		s.mu.Unlock()

		if stillEnabled && stillRunning {
			s.armTaskTimer(t.ID, s.delayFor(t))
		}
	}()

	tabID, err := s.custodian.EnsureMessageTab(ctx, t.Platform, t.AccountID, t.CurrentCookieFile)
	if err != nil {
		span.RecordError(err)
		s.onFailure(t, fmt.Errorf("ensure message tab: %w", err))
		return
	}

	result := s.syncFn(ctx, t.Platform, t.AccountID, tabID, SyncOptions{FullSync: false})
	duration := time.Since(start)
	span.SetAttributes(attribute.Int("new_messages", result.NewMessages))

	if result.Success && result.Err == nil {
		s.onSuccess(t, result, duration)
		return
	}
	if result.Err != nil {
		span.RecordError(result.Err)
		s.onFailure(t, result.Err)
		return
	}
	s.onFailure(t, fmt.Errorf("sync reported failure"))
}

func (s *Scheduler) onSuccess(t *Task, result SyncResult, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.ConsecutiveErrors = 0
	t.LastError = ""
	t.SyncCount++
	t.LastSyncAt = time.Now()
	t.NewMessagesLastSync = result.NewMessages
	t.TotalMessages += result.NewMessages
	t.NextSyncAt = time.Now().Add(s.delayFor(t))
	t.Status = StatusPending

	if t.AvgSyncDurationMs == 0 {
		t.AvgSyncDurationMs = float64(duration.Milliseconds())
	} else {
		t.AvgSyncDurationMs += (float64(duration.Milliseconds()) - t.AvgSyncDurationMs) / float64(t.SyncCount)
	}
}

func (s *Scheduler) onFailure(t *Task, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.ErrorCount++
	t.ConsecutiveErrors++
	t.LastError = err.Error()

	if t.ConsecutiveErrors >= s.opts.MaxConsecutiveErrors {
		t.Status = StatusError
		t.Enabled = false
		s.log.Error("task quarantined after repeated failures",
			"task_id", t.ID, "platform", t.Platform, "account_id", t.AccountID,
			"consecutive_errors", t.ConsecutiveErrors)
		return
	}

	t.Status = StatusPending
	t.NextSyncAt = time.Now().Add(s.delayFor(t))
}

// UpdateTaskCookie implements the §4.3 cookie-rotation path: it replaces
// the task's cookie, clears its error state, and re-arms the timer.
func (s *Scheduler) UpdateTaskCookie(accountKey, newCookieFile, reason string) error {
	s.mu.Lock()
	var t *Task
	for _, candidate := range s.tasks {
		if AccountKey(candidate.Platform, candidate.AccountID) == accountKey {
			t = candidate
			break
		}
	}
	if t == nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: no task for account key %q", accountKey)
	}

	t.CurrentCookieFile = newCookieFile
	t.LastCookieUpdate = time.Now()
	t.CookieUpdateCount++
	t.ConsecutiveErrors = 0
	t.LastError = ""
	t.Enabled = true
	t.Status = StatusPending
	taskID := t.ID
	delay := s.delayFor(t)
	isRunning := s.isRunning
	s.mu.Unlock()

	s.log.Info("task cookie rotated", "account_key", accountKey, "reason", reason)

	if isRunning {
		s.armTaskTimer(taskID, delay)
	}
	return nil
}

// Task returns a copy of the current state for id.
func (s *Scheduler) Task(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Tasks returns a snapshot of every task.
func (s *Scheduler) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	return out
}

// AccountKey mirrors custodian.AccountKey; duplicated here to avoid an
// import cycle between scheduler and custodian over a one-line helper.
func AccountKey(platform, accountID string) string {
	return platform + "_" + accountID
}
