// Package login implements the Login Coordinator (§4.4): an async QR-login
// state machine keyed by userId, with a background completion processor, a
// janitor that reaps old terminal records, and a serial batch-login helper.
package login

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ew384/automaton-core/internal/broker"
	"github.com/ew384/automaton-core/internal/plugin"
)

const (
	janitorInterval     = time.Hour
	recordTTL           = 24 * time.Hour
	batchLoginGap       = time.Second
	batchPollInterval   = 5 * time.Second
	defaultBatchTimeout = 5 * time.Minute
)

// Status is a Login Record's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Record is the Login Record (§3), keyed by UserID.
type Record struct {
	UserID      string
	Platform    string
	Status      Status
	StartedAt   time.Time
	EndedAt     time.Time
	TabID       broker.TabID
	QRCodeURL   string
	CookieFile  string
	AccountInfo plugin.AccountInfo
}

func (r *Record) terminal() bool {
	switch r.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

func (r *Record) reapAnchor() time.Time {
	if !r.EndedAt.IsZero() {
		return r.EndedAt
	}
	return r.StartedAt
}

// Coordinator owns the userId -> Record map exclusively (§9).
type Coordinator struct {
	br       broker.Broker
	registry *plugin.Registry
	log      *slog.Logger

	mu      sync.Mutex
	records map[string]*Record

	stopJanitor chan struct{}
	janitorOnce sync.Once
}

// New constructs a Coordinator and starts its janitor goroutine.
func New(br broker.Broker, registry *plugin.Registry) *Coordinator {
	c := &Coordinator{
		br:          br,
		registry:    registry,
		records:     make(map[string]*Record),
		stopJanitor: make(chan struct{}),
		log:         slog.With("component", "login"),
	}
	go c.runJanitor()
	return c
}

// StartLogin implements §4.4 steps 1-3.
func (c *Coordinator) StartLogin(ctx context.Context, platformName, userID string) (plugin.LoginStartResult, error) {
	c.mu.Lock()
	if existing, ok := c.records[userID]; ok && existing.Status == StatusPending {
		c.mu.Unlock()
		return plugin.LoginStartResult{}, fmt.Errorf("login: a pending login already exists for user %q", userID)
	}
	c.mu.Unlock()

	lp, ok := c.registry.GetLogin(platformName)
	if !ok {
		return plugin.LoginStartResult{}, fmt.Errorf("login: no LOGIN plugin registered for platform %q", platformName)
	}

	result, err := lp.StartLogin(ctx, plugin.LoginStartRequest{Platform: platformName, UserID: userID})
	if err != nil {
		return plugin.LoginStartResult{}, fmt.Errorf("login: startLogin for %s/%s: %w", platformName, userID, err)
	}

	rec := &Record{
		UserID:    userID,
		Platform:  platformName,
		Status:    StatusPending,
		StartedAt: time.Now(),
		TabID:     result.TabID,
		QRCodeURL: result.QRCodeURL,
	}
	c.mu.Lock()
	c.records[userID] = rec
	c.mu.Unlock()

	go c.process(platformName, userID, result.TabID)

	return result, nil
}

// process runs the background completion task (§4.4 step 3): it always
// closes the tab on exit, success, failure, or panic recovery alike.
func (c *Coordinator) process(platformName, userID string, tabID broker.TabID) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("login processor panicked", "user_id", userID, "panic", r)
			c.finish(userID, StatusFailed, plugin.LoginProcessResult{})
		}
		_ = c.br.CloseTab(context.Background(), tabID)
	}()

	processor, ok := c.registry.GetLoginProcessor(platformName)
	if !ok {
		c.log.Error("login: no LOGIN processor registered", "platform", platformName)
		c.finish(userID, StatusFailed, plugin.LoginProcessResult{})
		return
	}

	result, err := processor.Process(context.Background(), plugin.LoginProcessRequest{
		TabID: tabID, UserID: userID, Platform: platformName,
	})
	if err != nil || !result.Success {
		if err != nil {
			c.log.Warn("login processor failed", "user_id", userID, "error", err)
		}
		c.finish(userID, StatusFailed, result)
		return
	}

	c.finish(userID, StatusCompleted, result)
}

func (c *Coordinator) finish(userID string, status Status, result plugin.LoginProcessResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[userID]
	if !ok || rec.Status != StatusPending {
		return // already cancelled, or record vanished
	}
	rec.Status = status
	rec.EndedAt = time.Now()
	rec.CookieFile = result.CookiePath
	rec.AccountInfo = result.AccountInfo
}

// CancelLogin sets the record to cancelled and asks the plugin to cancel
// the in-flight login; the background processor observes the tab closure
// on its own and will not overwrite the cancelled status (§4.4).
func (c *Coordinator) CancelLogin(ctx context.Context, userID string) error {
	c.mu.Lock()
	rec, ok := c.records[userID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("login: no record for user %q", userID)
	}
	if rec.terminal() {
		c.mu.Unlock()
		return nil
	}
	rec.Status = StatusCancelled
	rec.EndedAt = time.Now()
	platformName, tabID := rec.Platform, rec.TabID
	c.mu.Unlock()

	lp, ok := c.registry.GetLogin(platformName)
	if !ok {
		return nil
	}
	if err := lp.CancelLogin(ctx, tabID); err != nil {
		c.log.Warn("login: plugin cancelLogin failed", "user_id", userID, "error", err)
	}
	return nil
}

// Get returns a copy of the record for userID.
func (c *Coordinator) Get(userID string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[userID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// BatchLoginRequest is one (platform, userId) pair submitted to BatchLogin.
type BatchLoginRequest struct {
	Platform string
	UserID   string
}

// BatchLogin implements §4.4's serial batch start: one startLogin call
// every batchLoginGap, failures of individual entries are collected but do
// not abort the batch.
func (c *Coordinator) BatchLogin(ctx context.Context, reqs []BatchLoginRequest) []error {
	errs := make([]error, len(reqs))
	for i, req := range reqs {
		_, err := c.StartLogin(ctx, req.Platform, req.UserID)
		errs[i] = err
		if i < len(reqs)-1 {
			select {
			case <-ctx.Done():
				for j := i + 1; j < len(reqs); j++ {
					errs[j] = ctx.Err()
				}
				return errs
			case <-time.After(batchLoginGap):
			}
		}
	}
	return errs
}

// BatchLoginOutcome partitions a batch's final statuses (§4.4).
type BatchLoginOutcome struct {
	Completed []string
	Pending   []string
	Failed    []string
}

// WaitForBatchLoginComplete polls every batchPollInterval until every
// userID in ids reaches a terminal state, or timeout elapses (default 5
// min when timeout <= 0).
func (c *Coordinator) WaitForBatchLoginComplete(ctx context.Context, ids []string, timeout time.Duration) BatchLoginOutcome {
	if timeout <= 0 {
		timeout = defaultBatchTimeout
	}
	deadline := time.Now().Add(timeout)

	for {
		outcome := c.partition(ids)
		if len(outcome.Pending) == 0 || time.Now().After(deadline) {
			return outcome
		}
		select {
		case <-ctx.Done():
			return outcome
		case <-time.After(batchPollInterval):
		}
	}
}

func (c *Coordinator) partition(ids []string) BatchLoginOutcome {
	var out BatchLoginOutcome
	for _, id := range ids {
		rec, ok := c.Get(id)
		if !ok {
			out.Failed = append(out.Failed, id)
			continue
		}
		switch rec.Status {
		case StatusCompleted:
			out.Completed = append(out.Completed, id)
		case StatusFailed, StatusCancelled:
			out.Failed = append(out.Failed, id)
		default:
			out.Pending = append(out.Pending, id)
		}
	}
	return out
}

// runJanitor deletes terminal records older than recordTTL, every
// janitorInterval, until Close is called (§4.4).
func (c *Coordinator) runJanitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopJanitor:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Coordinator) sweep() {
	cutoff := time.Now().Add(-recordTTL)

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, rec := range c.records {
		if rec.terminal() && rec.reapAnchor().Before(cutoff) {
			delete(c.records, id)
		}
	}
}

// Close stops the janitor goroutine. It does not cancel in-flight logins.
func (c *Coordinator) Close() {
	c.janitorOnce.Do(func() {
		close(c.stopJanitor)
	})
}
