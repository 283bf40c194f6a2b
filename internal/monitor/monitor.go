// Package monitor implements the Monitoring Orchestrator (§4.6): the
// "sync-then-listen" workflow that optionally syncs message history for a
// batch of accounts, then starts event-driven monitoring for each, one at
// a time, mapping plugin failure reasons to stable operator-facing text.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ew384/automaton-core/internal/plugin"
)

const (
	defaultSyncConcurrency = 5
	defaultSyncTimeout     = 30 * time.Second
	startMonitoringGap     = time.Second
)

// reasonMessages maps MonitorResult.Reason codes to stable operator-facing
// text (§4.6).
var reasonMessages = map[string]string{
	plugin.MonitorReasonValidationFailed:    "账号已失效，请重新登录",
	plugin.MonitorReasonAlreadyMonitoring:   "账号已在监听中",
	plugin.MonitorReasonScriptInjectionFail: "监听脚本启动失败，请重试",
}

// Account identifies one target of a start-monitoring request.
type Account struct {
	Platform   string
	AccountID  string
	CookieFile string
}

// StartRequest is the orchestrator's input. An empty Accounts list triggers
// auto-discovery (§4.6).
type StartRequest struct {
	Accounts []Account
	WithSync bool
	Headless bool
	FullSync bool
}

// SyncOutcome is one account's Phase 1 result.
type SyncOutcome struct {
	Account     Account
	NewMessages int
	Err         error
}

// MonitorOutcome is one account's Phase 2 result.
type MonitorOutcome struct {
	Account Account
	Success bool
	Message string // operator-facing, populated only on failure
}

// StartResult aggregates both phases.
type StartResult struct {
	Synced    []SyncOutcome
	Monitored []MonitorOutcome
}

// Options configures Phase 1's bounded concurrency.
type Options struct {
	SyncConcurrency int
	SyncTimeout     time.Duration
}

func (o Options) withDefaults() Options {
	if o.SyncConcurrency <= 0 {
		o.SyncConcurrency = defaultSyncConcurrency
	}
	if o.SyncTimeout <= 0 {
		o.SyncTimeout = defaultSyncTimeout
	}
	return o
}

// Orchestrator drives StartMonitoring requests against the plugin registry.
type Orchestrator struct {
	reg  *plugin.Registry
	opts Options
	log  *slog.Logger
}

// New constructs an Orchestrator.
func New(reg *plugin.Registry, opts Options) *Orchestrator {
	return &Orchestrator{reg: reg, opts: opts.withDefaults(), log: slog.With("component", "monitor")}
}

// Start runs both phases of §4.6 for req.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	accounts := req.Accounts
	if len(accounts) == 0 {
		discovered, err := o.discover(ctx)
		if err != nil {
			return StartResult{}, fmt.Errorf("monitor: auto-discovery failed: %w", err)
		}
		accounts = discovered
	}

	var result StartResult
	if req.WithSync {
		result.Synced = o.syncPhase(ctx, accounts, req.FullSync)
	}
	result.Monitored = o.listenPhase(ctx, accounts, req.Headless)
	return result, nil
}

// discover queries every registered MESSAGE plugin for candidate accounts
// with canMonitor=true (§4.6 auto-discovery).
func (o *Orchestrator) discover(ctx context.Context) ([]Account, error) {
	var accounts []Account
	for _, p := range o.reg.GetByKind(plugin.KindMessage) {
		mp, ok := p.(plugin.MessagePlugin)
		if !ok {
			continue
		}
		candidates, err := mp.ListCandidates(ctx)
		if err != nil {
			o.log.Warn("monitor: ListCandidates failed", "platform", p.Descriptor().Platform, "error", err)
			continue
		}
		for _, c := range candidates {
			if !c.CanMonitor {
				continue
			}
			accounts = append(accounts, Account{Platform: c.Platform, AccountID: c.AccountID, CookieFile: c.CookieFile})
		}
	}
	return accounts, nil
}

// syncPhase groups accounts by platform and invokes syncMessages per group
// with bounded concurrency (§4.6 Phase 1).
func (o *Orchestrator) syncPhase(ctx context.Context, accounts []Account, fullSync bool) []SyncOutcome {
	// The semaphore caps in-flight syncs at SyncConcurrency; the token bucket,
	// sized and refilled at the same rate, paces sync starts, so a burst of
	// requests fans out immediately up to the bound and then paces itself
	// rather than queuing unboundedly (§4.6 "bounded concurrency").
	limiter := rate.NewLimiter(rate.Limit(o.opts.SyncConcurrency), o.opts.SyncConcurrency)
	sem := make(chan struct{}, o.opts.SyncConcurrency)

	results := make([]SyncOutcome, len(accounts))
	var wg sync.WaitGroup

	for i, acc := range accounts {
		i, acc := i, acc
		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := limiter.Wait(ctx); err != nil {
				results[i] = SyncOutcome{Account: acc, Err: err}
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = SyncOutcome{Account: acc, Err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			results[i] = o.syncOne(ctx, acc, fullSync)
		}()
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) syncOne(ctx context.Context, acc Account, fullSync bool) SyncOutcome {
	mp, ok := o.reg.GetMessage(acc.Platform)
	if !ok {
		return SyncOutcome{Account: acc, Err: fmt.Errorf("no MESSAGE plugin registered for platform %q", acc.Platform)}
	}

	syncCtx, cancel := context.WithTimeout(ctx, o.opts.SyncTimeout)
	defer cancel()

	result, err := mp.SyncMessages(syncCtx, plugin.SyncParams{
		Platform:   acc.Platform,
		AccountID:  acc.AccountID,
		CookieFile: acc.CookieFile,
		FullSync:   fullSync,
	})
	if err != nil {
		return SyncOutcome{Account: acc, Err: err}
	}
	if !result.Success {
		return SyncOutcome{Account: acc, Err: fmt.Errorf("sync reported failure")}
	}
	return SyncOutcome{Account: acc, NewMessages: len(result.NewMessages)}
}

// listenPhase starts monitoring for each account serially, 1s apart
// (§4.6 Phase 2).
func (o *Orchestrator) listenPhase(ctx context.Context, accounts []Account, headless bool) []MonitorOutcome {
	out := make([]MonitorOutcome, 0, len(accounts))
	for i, acc := range accounts {
		out = append(out, o.startSingleMonitoring(ctx, acc, headless))
		if i < len(accounts)-1 {
			select {
			case <-ctx.Done():
				return out
			case <-time.After(startMonitoringGap):
			}
		}
	}
	return out
}

func (o *Orchestrator) startSingleMonitoring(ctx context.Context, acc Account, headless bool) MonitorOutcome {
	mp, ok := o.reg.GetMessage(acc.Platform)
	if !ok {
		return MonitorOutcome{Account: acc, Success: false, Message: "平台未注册消息插件"}
	}

	result, err := mp.StartMonitoring(ctx, acc.Platform, acc.AccountID, acc.CookieFile, headless)
	if err != nil {
		return MonitorOutcome{Account: acc, Success: false, Message: err.Error()}
	}
	if result.Success {
		return MonitorOutcome{Account: acc, Success: true}
	}

	msg, ok := reasonMessages[result.Reason]
	if !ok {
		msg = result.Reason
	}
	return MonitorOutcome{Account: acc, Success: false, Message: msg}
}
