package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/ew384/automaton-core/internal/plugin"
)

type fakeMessagePlugin struct {
	platform      string
	candidates    []plugin.CandidateAccount
	syncNew       int
	syncErr       error
	monitorResult plugin.MonitorResult
	monitorErr    error
}

func (f *fakeMessagePlugin) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{Kind: plugin.KindMessage, Platform: f.platform}
}
func (f *fakeMessagePlugin) SyncMessages(ctx context.Context, p plugin.SyncParams) (plugin.SyncResult, error) {
	if f.syncErr != nil {
		return plugin.SyncResult{}, f.syncErr
	}
	msgs := make([]plugin.Message, f.syncNew)
	return plugin.SyncResult{Success: true, NewMessages: msgs}, nil
}
func (f *fakeMessagePlugin) SendMessage(ctx context.Context, p plugin.SendParams) (plugin.SendResult, error) {
	return plugin.SendResult{Success: true}, nil
}
func (f *fakeMessagePlugin) StartMonitoring(ctx context.Context, platform, accountID, cookieFile string, headless bool) (plugin.MonitorResult, error) {
	return f.monitorResult, f.monitorErr
}
func (f *fakeMessagePlugin) ListCandidates(ctx context.Context) ([]plugin.CandidateAccount, error) {
	return f.candidates, nil
}
func (f *fakeMessagePlugin) MessageURL() string     { return "https://" + f.platform + "/messages" }
func (f *fakeMessagePlugin) ReadinessProbe() string { return "" }

func TestStart_AutoDiscoveryUsesCanMonitorCandidates(t *testing.T) {
	reg := plugin.NewRegistry()
	mp := &fakeMessagePlugin{
		platform: "wechat",
		candidates: []plugin.CandidateAccount{
			{Platform: "wechat", AccountID: "acct1", CookieFile: "/cookies/acct1", CanMonitor: true},
			{Platform: "wechat", AccountID: "acct2", CookieFile: "/cookies/acct2", CanMonitor: false},
		},
		monitorResult: plugin.MonitorResult{Success: true},
	}
	if err := reg.Register(plugin.KindMessage, "wechat", mp); err != nil {
		t.Fatalf("register: %v", err)
	}

	o := New(reg, Options{})
	result, err := o.Start(context.Background(), StartRequest{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if len(result.Monitored) != 1 {
		t.Fatalf("expected exactly one discovered+monitored account, got %d", len(result.Monitored))
	}
	if result.Monitored[0].Account.AccountID != "acct1" {
		t.Errorf("monitored account = %q, want acct1", result.Monitored[0].Account.AccountID)
	}
}

func TestStart_MapsFailureReasonsToStableMessages(t *testing.T) {
	reg := plugin.NewRegistry()
	mp := &fakeMessagePlugin{
		platform:      "wechat",
		monitorResult: plugin.MonitorResult{Success: false, Reason: plugin.MonitorReasonValidationFailed},
	}
	if err := reg.Register(plugin.KindMessage, "wechat", mp); err != nil {
		t.Fatalf("register: %v", err)
	}

	o := New(reg, Options{})
	result, err := o.Start(context.Background(), StartRequest{
		Accounts: []Account{{Platform: "wechat", AccountID: "acct1", CookieFile: "/cookies/acct1"}},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if len(result.Monitored) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(result.Monitored))
	}
	got := result.Monitored[0]
	if got.Success {
		t.Fatal("expected failure")
	}
	if got.Message != "账号已失效，请重新登录" {
		t.Errorf("Message = %q, want the validation-failed operator message", got.Message)
	}
}

func TestStart_WithSync_AggregatesNewMessageCounts(t *testing.T) {
	reg := plugin.NewRegistry()
	mp := &fakeMessagePlugin{
		platform:      "wechat",
		syncNew:       4,
		monitorResult: plugin.MonitorResult{Success: true},
	}
	if err := reg.Register(plugin.KindMessage, "wechat", mp); err != nil {
		t.Fatalf("register: %v", err)
	}

	o := New(reg, Options{SyncConcurrency: 2, SyncTimeout: time.Second})
	result, err := o.Start(context.Background(), StartRequest{
		WithSync: true,
		Accounts: []Account{
			{Platform: "wechat", AccountID: "acct1", CookieFile: "/cookies/acct1"},
			{Platform: "wechat", AccountID: "acct2", CookieFile: "/cookies/acct2"},
		},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if len(result.Synced) != 2 {
		t.Fatalf("expected 2 sync outcomes, got %d", len(result.Synced))
	}
	for _, s := range result.Synced {
		if s.NewMessages != 4 {
			t.Errorf("NewMessages = %d, want 4", s.NewMessages)
		}
	}
}
