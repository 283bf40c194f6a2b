// Package custodian implements the Message Tab Custodian (§4.2): it
// allocates, health-checks, repairs, and retires the long-lived browser
// tabs that back per-account message monitoring.
package custodian

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ew384/automaton-core/internal/broker"
	"github.com/ew384/automaton-core/internal/plugin"
)

const (
	defaultHealthInterval    = 60 * time.Second
	defaultMaxRetries        = 3
	defaultReadinessTimeout  = 30 * time.Second
	defaultProbePollInterval = time.Second
	defaultProbeRetryDelay   = 2 * time.Second
	defaultRepairCooldown    = 5 * time.Second
	defaultProbeTimeout      = 3 * time.Second
)

// Record is the bookkeeping the Custodian keeps for one monitored account
// (§3 Message Tab Record). Only the Custodian mutates it.
type Record struct {
	TabID             broker.TabID
	Platform          string
	AccountID         string
	CookieFile        string
	CreatedAt         time.Time
	LastHealthCheckAt time.Time
	RetryCount        int
}

// AccountKey is the canonical identity the Custodian keys its map by.
func AccountKey(platform, accountID string) string {
	return platform + "_" + accountID
}

// Options configures timing knobs that otherwise default to the values
// named throughout §4.2.
type Options struct {
	HealthInterval    time.Duration
	MaxRetries        int
	ReadinessTimeout  time.Duration
	ProbePollInterval time.Duration
	ProbeRetryDelay   time.Duration
	RepairCooldown    time.Duration
	ProbeTimeout      time.Duration
}

func (o Options) withDefaults() Options {
	if o.HealthInterval <= 0 {
		o.HealthInterval = defaultHealthInterval
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.ReadinessTimeout <= 0 {
		o.ReadinessTimeout = defaultReadinessTimeout
	}
	if o.ProbePollInterval <= 0 {
		o.ProbePollInterval = defaultProbePollInterval
	}
	if o.ProbeRetryDelay <= 0 {
		o.ProbeRetryDelay = defaultProbeRetryDelay
	}
	if o.RepairCooldown <= 0 {
		o.RepairCooldown = defaultRepairCooldown
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = defaultProbeTimeout
	}
	return o
}

// Custodian owns the accountKey -> tab mapping exclusively; every mutation
// goes through its mutex (§9).
type Custodian struct {
	br       broker.Broker
	registry *plugin.Registry
	opts     Options

	mu      sync.Mutex
	records map[string]*Record
	timers  map[string]*time.Timer
	retries map[string]int // survives cleanup/recreate cycles, reset on health success (§8 scenario 5)

	closed bool
	log    *slog.Logger
}

// New constructs a Custodian. br and registry are long-lived collaborators;
// the Custodian never closes br itself.
func New(br broker.Broker, registry *plugin.Registry, opts Options) *Custodian {
	return &Custodian{
		br:       br,
		registry: registry,
		opts:     opts.withDefaults(),
		records:  make(map[string]*Record),
		timers:   make(map[string]*time.Timer),
		retries:  make(map[string]int),
		log:      slog.With("component", "custodian"),
	}
}

// EnsureMessageTab implements §4.2's ensureMessageTab. Idempotent with a
// healthy incumbent: calling it twice in succession returns the same tab.
func (c *Custodian) EnsureMessageTab(ctx context.Context, platform, accountID, cookieFile string) (broker.TabID, error) {
	key := AccountKey(platform, accountID)

	c.mu.Lock()
	rec, ok := c.records[key]
	c.mu.Unlock()

	if ok && c.isHealthy(ctx, rec) {
		return rec.TabID, nil
	}

	if ok {
		c.Cleanup(key)
	}

	return c.createTab(ctx, key, platform, accountID, cookieFile)
}

func (c *Custodian) createTab(ctx context.Context, key, platform, accountID, cookieFile string) (broker.TabID, error) {
	mp, ok := c.registry.GetMessage(platform)
	if !ok {
		return "", fmt.Errorf("custodian: no MESSAGE plugin registered for platform %q", platform)
	}

	tabID, err := c.br.CreateTab(ctx, broker.OwnerMessage, mp.MessageURL())
	if err != nil {
		return "", fmt.Errorf("custodian: create tab for %s: %w", key, err)
	}

	if err := c.awaitReady(ctx, tabID, mp.ReadinessProbe()); err != nil {
		_ = c.br.CloseTab(ctx, tabID)
		return "", fmt.Errorf("custodian: tab for %s never became ready: %w", key, err)
	}

	c.mu.Lock()
	c.records[key] = &Record{
		TabID:             tabID,
		Platform:          platform,
		AccountID:         accountID,
		CookieFile:        cookieFile,
		CreatedAt:         time.Now(),
		LastHealthCheckAt: time.Now(),
		RetryCount:        c.retries[key],
	}
	c.mu.Unlock()

	c.armHealthMonitor(key)
	c.log.Info("message tab ready", "account_key", key, "tab_id", tabID)
	return tabID, nil
}

// awaitReady polls the platform's readiness probe (§4.2): every 1s, on
// probe exceptions retry after 2s, bounded by opts.ReadinessTimeout. An
// empty probe means the tab is ready as soon as it exists.
func (c *Custodian) awaitReady(ctx context.Context, tabID broker.TabID, probe string) error {
	if probe == "" {
		return nil
	}

	deadline := time.Now().Add(c.opts.ReadinessTimeout)
	for time.Now().Before(deadline) {
		val, err := c.br.Eval(ctx, tabID, probe)
		if err == nil {
			if ready, ok := val.(bool); ok && ready {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.opts.ProbePollInterval):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.opts.ProbeRetryDelay):
		}
	}
	return fmt.Errorf("readiness probe did not succeed within %s", c.opts.ReadinessTimeout)
}

// isHealthy implements the §4.2 health predicate.
func (c *Custodian) isHealthy(ctx context.Context, rec *Record) bool {
	if rec == nil {
		return false
	}
	if !c.br.TabExists(rec.TabID) {
		return false
	}
	lock, ok := c.br.Lock(rec.TabID)
	if !ok || lock.Owner != broker.OwnerMessage {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.opts.ProbeTimeout)
	defer cancel()
	if _, err := c.br.Eval(probeCtx, rec.TabID, "1"); err != nil {
		return false
	}

	url, err := c.br.CurrentURL(ctx, rec.TabID)
	if err != nil {
		return false
	}
	return !strings.Contains(url, "login")
}

// Cleanup is idempotent and always stops the monitor timer before
// releasing the tab (§4.2).
func (c *Custodian) Cleanup(accountKey string) {
	c.mu.Lock()
	timer, hasTimer := c.timers[accountKey]
	rec, hasRecord := c.records[accountKey]
	delete(c.timers, accountKey)
	delete(c.records, accountKey)
	c.mu.Unlock()

	if hasTimer {
		timer.Stop()
	}
	if hasRecord {
		_ = c.br.CloseTab(context.Background(), rec.TabID)
	}
}

// armHealthMonitor (re)starts the 60s periodic health check for
// accountKey. Only one timer per account key exists at a time.
func (c *Custodian) armHealthMonitor(accountKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if existing, ok := c.timers[accountKey]; ok {
		existing.Stop()
	}
	c.timers[accountKey] = time.AfterFunc(c.opts.HealthInterval, func() {
		c.runHealthCheck(accountKey)
	})
}

func (c *Custodian) runHealthCheck(accountKey string) {
	c.mu.Lock()
	rec, ok := c.records[accountKey]
	c.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.ProbeTimeout+time.Second)
	defer cancel()

	if c.isHealthy(ctx, rec) {
		c.mu.Lock()
		c.retries[accountKey] = 0
		if r, ok := c.records[accountKey]; ok {
			r.LastHealthCheckAt = time.Now()
			r.RetryCount = 0
		}
		c.mu.Unlock()
		c.armHealthMonitor(accountKey)
		return
	}

	c.mu.Lock()
	c.retries[accountKey]++
	retryCount := c.retries[accountKey]
	c.mu.Unlock()

	c.log.Warn("message tab unhealthy", "account_key", accountKey, "retry_count", retryCount)

	if retryCount > c.opts.MaxRetries {
		c.log.Error("message tab exceeded retry budget, giving up", "account_key", accountKey)
		c.Cleanup(accountKey)
		return
	}

	c.Cleanup(accountKey)
	time.AfterFunc(c.opts.RepairCooldown, func() {
		platform, accountID := splitAccountKey(accountKey, rec)
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.ReadinessTimeout+5*time.Second)
		defer cancel()
		if _, err := c.EnsureMessageTab(ctx, platform, accountID, rec.CookieFile); err != nil {
			c.log.Error("message tab repair failed", "account_key", accountKey, "error", err)
		}
	})
}

func splitAccountKey(_ string, rec *Record) (platform, accountID string) {
	return rec.Platform, rec.AccountID
}

// RetryCount exposes the current retry counter for an account key, mainly
// for tests and operator status endpoints.
func (c *Custodian) RetryCount(accountKey string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries[accountKey]
}

// Lookup returns the current tab ID for an account key, if any.
func (c *Custodian) Lookup(accountKey string) (broker.TabID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[accountKey]
	if !ok {
		return "", false
	}
	return rec.TabID, true
}

// Close stops every health-monitor timer and releases every managed tab;
// used during graceful shutdown (§5 destroy).
func (c *Custodian) Close() {
	c.mu.Lock()
	c.closed = true
	keys := make([]string, 0, len(c.records))
	for k := range c.records {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	for _, k := range keys {
		c.Cleanup(k)
	}
}
