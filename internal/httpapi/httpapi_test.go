package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ew384/automaton-core/internal/broker"
	"github.com/ew384/automaton-core/internal/messages"
	"github.com/ew384/automaton-core/internal/monitor"
	"github.com/ew384/automaton-core/internal/plugin"
)

type fakeCustodian struct {
	err     error
	cleaned []string
}

func (f *fakeCustodian) EnsureMessageTab(ctx context.Context, platform, accountID, cookieFile string) (broker.TabID, error) {
	if f.err != nil {
		return "", f.err
	}
	return broker.TabID("tab-" + accountID), nil
}

func (f *fakeCustodian) Cleanup(accountKey string) {
	f.cleaned = append(f.cleaned, accountKey)
}

type fakeMessagePlugin struct {
	platform string
	sync     plugin.SyncResult
	syncErr  error
	sendErr  error
}

func (f *fakeMessagePlugin) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{Kind: plugin.KindMessage, Platform: f.platform}
}
func (f *fakeMessagePlugin) SyncMessages(ctx context.Context, p plugin.SyncParams) (plugin.SyncResult, error) {
	return f.sync, f.syncErr
}
func (f *fakeMessagePlugin) SendMessage(ctx context.Context, p plugin.SendParams) (plugin.SendResult, error) {
	if f.sendErr != nil {
		return plugin.SendResult{}, f.sendErr
	}
	return plugin.SendResult{Success: true}, nil
}
func (f *fakeMessagePlugin) StartMonitoring(ctx context.Context, platform, accountID, cookieFile string, headless bool) (plugin.MonitorResult, error) {
	return plugin.MonitorResult{Success: true}, nil
}
func (f *fakeMessagePlugin) ListCandidates(ctx context.Context) ([]plugin.CandidateAccount, error) {
	return nil, nil
}
func (f *fakeMessagePlugin) MessageURL() string     { return "" }
func (f *fakeMessagePlugin) ReadinessProbe() string { return "" }

type fakeValidatePlugin struct {
	platform string
	valid    bool
	err      error
}

func (f *fakeValidatePlugin) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{Kind: plugin.KindValidate, Platform: f.platform}
}
func (f *fakeValidatePlugin) ValidateCookie(ctx context.Context, cookieFilePath string) (bool, error) {
	return f.valid, f.err
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSyncHandler_Sync_IngestsIntoMessageStore(t *testing.T) {
	reg := plugin.NewRegistry()
	mp := &fakeMessagePlugin{platform: "wechat", sync: plugin.SyncResult{
		Success: true,
		Threads: []plugin.MessageThread{{ThreadID: "t1", AccountID: "acct1", PeerName: "Alice"}},
		NewMessages: []plugin.Message{
			{ThreadID: "t1", MessageID: "m1", Content: "hi"},
		},
	}}
	if err := reg.Register(plugin.KindMessage, "wechat", mp); err != nil {
		t.Fatalf("Register: %v", err)
	}

	store := messages.NewStore()
	h := NewSyncHandler(&fakeCustodian{}, reg, store)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	rec := doJSON(t, mux, "POST", "/sync", syncReq{Platform: "wechat", AccountID: "acct1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	threads := store.Threads("wechat", "acct1", 0, 0)
	if len(threads) != 1 {
		t.Fatalf("expected sync to populate the message store, got %d threads", len(threads))
	}
}

func TestSyncHandler_MissingFields_Returns400(t *testing.T) {
	reg := plugin.NewRegistry()
	h := NewSyncHandler(&fakeCustodian{}, reg, messages.NewStore())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	rec := doJSON(t, mux, "POST", "/sync", syncReq{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSendHandler_Send_ReturnsSuccess(t *testing.T) {
	reg := plugin.NewRegistry()
	mp := &fakeMessagePlugin{platform: "wechat"}
	if err := reg.Register(plugin.KindMessage, "wechat", mp); err != nil {
		t.Fatalf("Register: %v", err)
	}

	h := NewSendHandler(&fakeCustodian{}, reg)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	rec := doJSON(t, mux, "POST", "/send", sendReq{Platform: "wechat", AccountID: "acct1", UserName: "bob", Content: "hello"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !env.Success {
		t.Errorf("envelope.Success = false, body = %s", rec.Body.String())
	}
}

func TestSendHandler_NoCustodianTab_ReportsErrorInBody(t *testing.T) {
	reg := plugin.NewRegistry()
	mp := &fakeMessagePlugin{platform: "wechat"}
	reg.Register(plugin.KindMessage, "wechat", mp)

	h := NewSendHandler(&fakeCustodian{err: context.DeadlineExceeded}, reg)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	rec := doJSON(t, mux, "POST", "/send", sendReq{Platform: "wechat", AccountID: "acct1", UserName: "bob", Content: "hi"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (per-item errors stay in the body)", rec.Code)
	}

	var env envelope
	json.Unmarshal(rec.Body.Bytes(), &env)
	data, _ := env.Data.(map[string]interface{})
	if data["success"] != false {
		t.Errorf("expected per-send failure reported in body, got %+v", data)
	}
}

func TestThreadsHandler_MarkReadThenUnreadCount(t *testing.T) {
	store := messages.NewStore()
	store.IngestSync("wechat", "acct1", plugin.SyncResult{
		Threads:     []plugin.MessageThread{{ThreadID: "t1", AccountID: "acct1", UnreadCount: 2}},
		NewMessages: []plugin.Message{{ThreadID: "t1", MessageID: "m1", Content: "hi"}, {ThreadID: "t1", MessageID: "m2", Content: "yo"}},
	})

	h := NewThreadsHandler(store)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	rec := doJSON(t, mux, "POST", "/messages/mark-read", markReadReq{ThreadID: "t1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest("GET", "/unread-count?platform=wechat&accountId=acct1", nil)
	rec2 := httptest.NewRecorder()
	mux.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusOK {
		t.Fatalf("status = %d", rec2.Code)
	}
	var env envelope
	json.Unmarshal(rec2.Body.Bytes(), &env)
	data, _ := env.Data.(map[string]interface{})
	if data["unreadCount"] != float64(0) {
		t.Errorf("unreadCount = %v, want 0 after marking read", data["unreadCount"])
	}
}

func TestValidateHandler_UnknownPlatformType_ReportsError(t *testing.T) {
	reg := plugin.NewRegistry()
	h := NewValidateHandler(reg)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	rec := doJSON(t, mux, "POST", "/validateAccount", validateReq{Type: 99, CookieFile: "/x.json"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var env legacyEnvelope
	json.Unmarshal(rec.Body.Bytes(), &env)
	data, _ := env.Data.(map[string]interface{})
	if data["error"] == nil || data["error"] == "" {
		t.Errorf("expected error for unknown platform type, got %+v", data)
	}
}

func TestValidateHandler_KnownPlatform_ReturnsValidity(t *testing.T) {
	reg := plugin.NewRegistry()
	reg.Register(plugin.KindValidate, "wechat", &fakeValidatePlugin{platform: "wechat", valid: true})

	h := NewValidateHandler(reg)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	rec := doJSON(t, mux, "POST", "/validateAccount", validateReq{Type: 2, CookieFile: "/x.json"})
	var env legacyEnvelope
	json.Unmarshal(rec.Body.Bytes(), &env)
	data, _ := env.Data.(map[string]interface{})
	if data["valid"] != true {
		t.Errorf("valid = %+v, want true", data)
	}
}

func TestMonitoringHandler_StartThenStatusThenStopAll(t *testing.T) {
	reg := plugin.NewRegistry()
	reg.Register(plugin.KindMessage, "wechat", &fakeMessagePlugin{platform: "wechat"})

	cust := &fakeCustodian{}
	h := NewMonitoringHandler(monitor.New(reg, monitor.Options{}), cust)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	rec := doJSON(t, mux, "POST", "/monitoring/start", startReq{Platform: "wechat", AccountID: "acct1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d, body = %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest("GET", "/monitoring/status", nil)
	rec2 := httptest.NewRecorder()
	mux.ServeHTTP(rec2, req)
	var env envelope
	json.Unmarshal(rec2.Body.Bytes(), &env)
	active, _ := env.Data.([]interface{})
	if len(active) != 1 {
		t.Fatalf("status after start = %+v, want one active account", env.Data)
	}

	rec3 := doJSON(t, mux, "POST", "/monitoring/stop-all", nil)
	var env3 envelope
	json.Unmarshal(rec3.Body.Bytes(), &env3)
	data, _ := env3.Data.(map[string]interface{})
	if data["stopped"] != float64(1) {
		t.Errorf("stop-all stopped = %+v, want 1", data)
	}
	if len(cust.cleaned) != 1 || cust.cleaned[0] != "wechat_acct1" {
		t.Errorf("custodian.Cleanup calls = %+v, want [\"wechat_acct1\"]", cust.cleaned)
	}
}

func TestMonitoringHandler_Stop_CallsCustodianCleanup(t *testing.T) {
	reg := plugin.NewRegistry()
	reg.Register(plugin.KindMessage, "wechat", &fakeMessagePlugin{platform: "wechat"})

	cust := &fakeCustodian{}
	h := NewMonitoringHandler(monitor.New(reg, monitor.Options{}), cust)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	doJSON(t, mux, "POST", "/monitoring/start", startReq{Platform: "wechat", AccountID: "acct1"})

	rec := doJSON(t, mux, "POST", "/monitoring/stop", stopReq{AccountKey: "wechat_acct1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(cust.cleaned) != 1 || cust.cleaned[0] != "wechat_acct1" {
		t.Errorf("custodian.Cleanup calls = %+v, want [\"wechat_acct1\"]", cust.cleaned)
	}
}

func TestAvatarHandler_RejectsDotDot(t *testing.T) {
	h := NewAvatarHandler(t.TempDir())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest("GET", "/avatars/wechat/acct1/..secret", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for path traversal attempt", rec.Code)
	}
}
