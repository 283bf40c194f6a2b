package login

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ew384/automaton-core/internal/broker"
	"github.com/ew384/automaton-core/internal/plugin"
)

type fakeBroker struct {
	mu     sync.Mutex
	closed map[broker.TabID]bool
}

func newFakeBroker() *fakeBroker { return &fakeBroker{closed: make(map[broker.TabID]bool)} }

func (b *fakeBroker) CreateTab(ctx context.Context, owner broker.Owner, url string) (broker.TabID, error) {
	return "", nil
}
func (b *fakeBroker) CloseTab(ctx context.Context, tabID broker.TabID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed[tabID] = true
	return nil
}
func (b *fakeBroker) Navigate(ctx context.Context, tabID broker.TabID, url string) error { return nil }
func (b *fakeBroker) CurrentURL(ctx context.Context, tabID broker.TabID) (string, error) {
	return "", nil
}
func (b *fakeBroker) Eval(ctx context.Context, tabID broker.TabID, script string) (any, error) {
	return nil, nil
}
func (b *fakeBroker) WaitURLChange(ctx context.Context, tabID broker.TabID, fromURL string, timeout time.Duration) (string, error) {
	return "", nil
}
func (b *fakeBroker) UploadFile(ctx context.Context, tabID broker.TabID, selector, filePath string) error {
	return nil
}
func (b *fakeBroker) Lock(tabID broker.TabID) (broker.Lock, bool) { return broker.Lock{}, false }
func (b *fakeBroker) TabExists(tabID broker.TabID) bool           { return false }

func (b *fakeBroker) wasClosed(tabID broker.TabID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed[tabID]
}

type fakeLoginPlugin struct {
	platform  string
	qrURL     string
	processed chan plugin.LoginProcessResult
	processErr error
	cancelled  chan broker.TabID
}

func newFakeLoginPlugin(platform string) *fakeLoginPlugin {
	return &fakeLoginPlugin{
		platform:  platform,
		qrURL:     "https://example/qr/" + platform,
		processed: make(chan plugin.LoginProcessResult, 1),
		cancelled: make(chan broker.TabID, 1),
	}
}

func (f *fakeLoginPlugin) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{Kind: plugin.KindLogin, Platform: f.platform}
}

func (f *fakeLoginPlugin) StartLogin(ctx context.Context, req plugin.LoginStartRequest) (plugin.LoginStartResult, error) {
	return plugin.LoginStartResult{Success: true, TabID: broker.TabID("tab-" + req.UserID), QRCodeURL: f.qrURL}, nil
}

func (f *fakeLoginPlugin) CancelLogin(ctx context.Context, tabID broker.TabID) error {
	f.cancelled <- tabID
	return nil
}

func (f *fakeLoginPlugin) Process(ctx context.Context, req plugin.LoginProcessRequest) (plugin.LoginProcessResult, error) {
	if f.processErr != nil {
		return plugin.LoginProcessResult{}, f.processErr
	}
	result := <-f.processed
	return result, nil
}

func newTestCoordinator(t *testing.T, plat *fakeLoginPlugin) (*Coordinator, *fakeBroker) {
	t.Helper()
	br := newFakeBroker()
	reg := plugin.NewRegistry()
	if err := reg.Register(plugin.KindLogin, plat.platform, plat); err != nil {
		t.Fatalf("register: %v", err)
	}
	c := New(br, reg)
	t.Cleanup(c.Close)
	return c, br
}

func waitForStatus(t *testing.T, c *Coordinator, userID string, want Status, timeout time.Duration) Record {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if rec, ok := c.Get(userID); ok && rec.Status == want {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status for %q never reached %q", userID, want)
	return Record{}
}

func TestStartLogin_RejectsSecondPendingForSameUser(t *testing.T) {
	plat := newFakeLoginPlugin("wechat")
	c, _ := newTestCoordinator(t, plat)
	ctx := context.Background()

	if _, err := c.StartLogin(ctx, "wechat", "user1"); err != nil {
		t.Fatalf("first StartLogin: %v", err)
	}
	if _, err := c.StartLogin(ctx, "wechat", "user1"); err == nil {
		t.Error("expected second StartLogin for the same pending user to error")
	}

	plat.processed <- plugin.LoginProcessResult{Success: true, CookiePath: "/cookies/user1"}
	waitForStatus(t, c, "user1", StatusCompleted, time.Second)
}

func TestStartLogin_CompletesAndAlwaysClosesTab(t *testing.T) {
	plat := newFakeLoginPlugin("wechat")
	c, br := newTestCoordinator(t, plat)
	ctx := context.Background()

	result, err := c.StartLogin(ctx, "wechat", "user1")
	if err != nil {
		t.Fatalf("StartLogin: %v", err)
	}

	plat.processed <- plugin.LoginProcessResult{
		Success:     true,
		CookiePath:  "/cookies/user1",
		AccountInfo: plugin.AccountInfo{AccountID: "acct1"},
	}

	rec := waitForStatus(t, c, "user1", StatusCompleted, time.Second)
	if rec.CookieFile != "/cookies/user1" {
		t.Errorf("CookieFile = %q, want /cookies/user1", rec.CookieFile)
	}
	if !br.wasClosed(result.TabID) {
		t.Error("expected the tab to be closed after the processor finished")
	}
}

func TestStartLogin_FailureClosesTabAndMarksFailed(t *testing.T) {
	plat := newFakeLoginPlugin("wechat")
	plat.processErr = context.DeadlineExceeded
	c, br := newTestCoordinator(t, plat)
	ctx := context.Background()

	result, err := c.StartLogin(ctx, "wechat", "user1")
	if err != nil {
		t.Fatalf("StartLogin: %v", err)
	}

	waitForStatus(t, c, "user1", StatusFailed, time.Second)
	if !br.wasClosed(result.TabID) {
		t.Error("expected the tab to be closed after the processor errored")
	}
}

func TestCancelLogin_MarksCancelledAndInvokesPlugin(t *testing.T) {
	plat := newFakeLoginPlugin("wechat")
	c, _ := newTestCoordinator(t, plat)
	ctx := context.Background()

	result, err := c.StartLogin(ctx, "wechat", "user1")
	if err != nil {
		t.Fatalf("StartLogin: %v", err)
	}

	if err := c.CancelLogin(ctx, "user1"); err != nil {
		t.Fatalf("CancelLogin: %v", err)
	}

	rec, ok := c.Get("user1")
	if !ok || rec.Status != StatusCancelled {
		t.Fatalf("expected cancelled status, got %+v (ok=%v)", rec, ok)
	}

	select {
	case got := <-plat.cancelled:
		if got != result.TabID {
			t.Errorf("cancelLogin called with tab %q, want %q", got, result.TabID)
		}
	case <-time.After(time.Second):
		t.Error("plugin CancelLogin was never invoked")
	}

	// The background processor finishing afterward must not clobber the
	// already-terminal cancelled status.
	plat.processed <- plugin.LoginProcessResult{Success: true, CookiePath: "/should/not/apply"}
	time.Sleep(50 * time.Millisecond)
	rec, _ = c.Get("user1")
	if rec.Status != StatusCancelled {
		t.Errorf("status changed after cancellation to %q, want it to remain cancelled", rec.Status)
	}
}

func TestWaitForBatchLoginComplete_Partitions(t *testing.T) {
	plat := newFakeLoginPlugin("wechat")
	c, _ := newTestCoordinator(t, plat)
	ctx := context.Background()

	errs := c.BatchLogin(ctx, []BatchLoginRequest{
		{Platform: "wechat", UserID: "u1"},
		{Platform: "wechat", UserID: "u2"},
	})
	for i, err := range errs {
		if err != nil {
			t.Fatalf("BatchLogin[%d]: %v", i, err)
		}
	}

	plat.processed <- plugin.LoginProcessResult{Success: true, CookiePath: "/cookies/u1"}

	outcome := c.WaitForBatchLoginComplete(ctx, []string{"u1", "u2"}, 2*time.Second)
	if len(outcome.Completed) != 1 || outcome.Completed[0] != "u1" {
		t.Errorf("Completed = %v, want [u1]", outcome.Completed)
	}
	if len(outcome.Pending) != 1 || outcome.Pending[0] != "u2" {
		t.Errorf("Pending = %v, want [u2]", outcome.Pending)
	}
}
