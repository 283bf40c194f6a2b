package custodian

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ew384/automaton-core/internal/broker"
	"github.com/ew384/automaton-core/internal/plugin"
)

type fakeTab struct {
	owner  broker.Owner
	url    string
	closed bool
}

// fakeBroker is a minimal in-memory broker.Broker for custodian tests.
type fakeBroker struct {
	mu      sync.Mutex
	tabs    map[broker.TabID]*fakeTab
	nextID  int
	evalErr error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{tabs: make(map[broker.TabID]*fakeTab)}
}

func (b *fakeBroker) CreateTab(ctx context.Context, owner broker.Owner, url string) (broker.TabID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := broker.TabID(fmt.Sprintf("tab-%d", b.nextID))
	b.tabs[id] = &fakeTab{owner: owner, url: url}
	return id, nil
}

func (b *fakeBroker) CloseTab(ctx context.Context, tabID broker.TabID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.tabs[tabID]; ok {
		t.closed = true
		delete(b.tabs, tabID)
	}
	return nil
}

func (b *fakeBroker) Navigate(ctx context.Context, tabID broker.TabID, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tabs[tabID]
	if !ok {
		return broker.ErrTabNotFound
	}
	t.url = url
	return nil
}

func (b *fakeBroker) CurrentURL(ctx context.Context, tabID broker.TabID) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tabs[tabID]
	if !ok {
		return "", broker.ErrTabNotFound
	}
	return t.url, nil
}

func (b *fakeBroker) Eval(ctx context.Context, tabID broker.TabID, script string) (any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.evalErr != nil {
		return nil, b.evalErr
	}
	if _, ok := b.tabs[tabID]; !ok {
		return nil, broker.ErrTabNotFound
	}
	return true, nil
}

func (b *fakeBroker) WaitURLChange(ctx context.Context, tabID broker.TabID, fromURL string, timeout time.Duration) (string, error) {
	return "", broker.ErrWaitTimeout
}

func (b *fakeBroker) UploadFile(ctx context.Context, tabID broker.TabID, selector, filePath string) error {
	return nil
}

func (b *fakeBroker) Lock(tabID broker.TabID) (broker.Lock, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tabs[tabID]
	if !ok {
		return broker.Lock{}, false
	}
	return broker.Lock{Owner: t.owner}, true
}

func (b *fakeBroker) TabExists(tabID broker.TabID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.tabs[tabID]
	return ok
}

func (b *fakeBroker) steal(tabID broker.TabID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.tabs[tabID]; ok {
		t.owner = broker.OwnerUpload
	}
}

type fakeMessagePlugin struct{ platform string }

func (f *fakeMessagePlugin) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{Kind: plugin.KindMessage, Platform: f.platform}
}
func (f *fakeMessagePlugin) SyncMessages(ctx context.Context, p plugin.SyncParams) (plugin.SyncResult, error) {
	return plugin.SyncResult{Success: true}, nil
}
func (f *fakeMessagePlugin) SendMessage(ctx context.Context, p plugin.SendParams) (plugin.SendResult, error) {
	return plugin.SendResult{Success: true}, nil
}
func (f *fakeMessagePlugin) StartMonitoring(ctx context.Context, platform, accountID, cookieFile string, headless bool) (plugin.MonitorResult, error) {
	return plugin.MonitorResult{Success: true}, nil
}
func (f *fakeMessagePlugin) ListCandidates(ctx context.Context) ([]plugin.CandidateAccount, error) {
	return nil, nil
}
func (f *fakeMessagePlugin) MessageURL() string     { return "https://" + f.platform + ".example/messages" }
func (f *fakeMessagePlugin) ReadinessProbe() string { return "" }

func newTestCustodian(t *testing.T) (*Custodian, *fakeBroker) {
	t.Helper()
	br := newFakeBroker()
	reg := plugin.NewRegistry()
	if err := reg.Register(plugin.KindMessage, "wechat", &fakeMessagePlugin{platform: "wechat"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	return New(br, reg, Options{HealthInterval: time.Hour}), br
}

func TestEnsureMessageTab_IdempotentWhenHealthy(t *testing.T) {
	c, _ := newTestCustodian(t)
	ctx := context.Background()

	first, err := c.EnsureMessageTab(ctx, "wechat", "acct1", "/cookies/acct1")
	if err != nil {
		t.Fatalf("first EnsureMessageTab: %v", err)
	}

	second, err := c.EnsureMessageTab(ctx, "wechat", "acct1", "/cookies/acct1")
	if err != nil {
		t.Fatalf("second EnsureMessageTab: %v", err)
	}

	if first != second {
		t.Errorf("EnsureMessageTab not idempotent: got %s then %s", first, second)
	}
}

func TestEnsureMessageTab_RecreatesWhenLockStolen(t *testing.T) {
	c, br := newTestCustodian(t)
	ctx := context.Background()

	first, err := c.EnsureMessageTab(ctx, "wechat", "acct1", "/cookies/acct1")
	if err != nil {
		t.Fatalf("first EnsureMessageTab: %v", err)
	}

	br.steal(first)

	second, err := c.EnsureMessageTab(ctx, "wechat", "acct1", "/cookies/acct1")
	if err != nil {
		t.Fatalf("second EnsureMessageTab: %v", err)
	}

	if first == second {
		t.Error("expected a new tab after lock was stolen from the incumbent")
	}
	if br.TabExists(first) {
		t.Error("stale tab should have been closed during cleanup")
	}
}

func TestCleanup_IsIdempotent(t *testing.T) {
	c, _ := newTestCustodian(t)
	ctx := context.Background()

	key := AccountKey("wechat", "acct1")
	if _, err := c.EnsureMessageTab(ctx, "wechat", "acct1", "/cookies/acct1"); err != nil {
		t.Fatalf("EnsureMessageTab: %v", err)
	}

	c.Cleanup(key)
	c.Cleanup(key) // must not panic or error on a second call

	if _, ok := c.Lookup(key); ok {
		t.Error("expected no mapping to remain after cleanup")
	}
}

func TestEnsureMessageTab_NoPluginRegistered(t *testing.T) {
	c, _ := newTestCustodian(t)
	if _, err := c.EnsureMessageTab(context.Background(), "douyin", "acct1", "/cookies/acct1"); err == nil {
		t.Error("expected an error when no MESSAGE plugin is registered for the platform")
	}
}
