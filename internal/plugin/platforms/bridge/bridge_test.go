package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ew384/automaton-core/internal/plugin"
)

// fakeHost is a minimal companion script host: it echoes a canned response
// for every request type a test registers, keyed by frame.Type.
type fakeHost struct {
	upgrader  websocket.Upgrader
	responses map[string]frame
}

func newFakeHost() *httptest.Server {
	h := &fakeHost{responses: make(map[string]frame)}
	return httptest.NewServer(http.HandlerFunc(h.serve))
}

func (h *fakeHost) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var req frame
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		resp, ok := h.responses[req.Type]
		if !ok {
			resp = frame{Type: req.Type}
		}
		resp.ID = req.ID
		conn.WriteJSON(resp)
	}
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestPlugin_SyncMessages_ReturnsHostSnapshot(t *testing.T) {
	h := &fakeHost{responses: make(map[string]frame)}
	srv := httptest.NewServer(http.HandlerFunc(h.serve))
	defer srv.Close()

	payload, _ := json.Marshal(syncPushPayload{
		AccountID: "acct1",
		Threads:   []wireThread{{ThreadID: "t1", PeerName: "Alice", UnreadCount: 2}},
		Messages:  []wireMessage{{ThreadID: "t1", MessageID: "m1", Content: "hi", Kind: "text"}},
	})
	h.responses["sync.request"] = frame{Type: "sync.response", Payload: payload}

	p := New(Config{Platform: "bridge-test", URL: wsURL(srv.URL)})
	defer p.Close()
	waitConnected(t, p)

	result, err := p.SyncMessages(context.Background(), plugin.SyncParams{AccountID: "acct1"})
	if err != nil {
		t.Fatalf("SyncMessages: %v", err)
	}
	if !result.Success {
		t.Fatalf("result not successful: %+v", result)
	}
	if len(result.Threads) != 1 || result.Threads[0].ThreadID != "t1" {
		t.Errorf("threads = %+v, want one thread t1", result.Threads)
	}
	if len(result.NewMessages) != 1 || result.NewMessages[0].Content != "hi" {
		t.Errorf("messages = %+v, want one message 'hi'", result.NewMessages)
	}
}

func TestPlugin_SendMessage_PropagatesHostError(t *testing.T) {
	h := &fakeHost{responses: make(map[string]frame)}
	srv := httptest.NewServer(http.HandlerFunc(h.serve))
	defer srv.Close()

	h.responses["send.request"] = frame{Type: "send.response", Error: "peer not found"}

	p := New(Config{Platform: "bridge-test", URL: wsURL(srv.URL)})
	defer p.Close()
	waitConnected(t, p)

	result, err := p.SendMessage(context.Background(), plugin.SendParams{UserName: "bob", Content: "hey"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if result.Success || result.Error != "peer not found" {
		t.Errorf("result = %+v, want failure with host error", result)
	}
}

func TestPlugin_Request_FailsWhenDisconnected(t *testing.T) {
	p := &Plugin{cfg: Config{Platform: "bridge-test"}, pending: make(map[string]chan frame), inbox: make(map[string]inboxEntry), done: make(chan struct{})}
	defer p.Close()

	result, err := p.SendMessage(context.Background(), plugin.SendParams{UserName: "bob", Content: "hey"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if result.Success || result.Error == "" {
		t.Fatalf("result = %+v, want failure result when not connected", result)
	}
}

func TestPlugin_PushFramesBufferIntoNextSync(t *testing.T) {
	h := &fakeHost{responses: make(map[string]frame)}
	srv := httptest.NewServer(http.HandlerFunc(h.serve))
	defer srv.Close()

	h.responses["sync.request"] = frame{Type: "sync.response"}

	p := New(Config{Platform: "bridge-test", URL: wsURL(srv.URL)})
	defer p.Close()
	waitConnected(t, p)

	payload, _ := json.Marshal(syncPushPayload{
		AccountID: "acct1",
		Messages:  []wireMessage{{ThreadID: "t1", MessageID: "pushed", Content: "pushed message", Kind: "text"}},
	})
	p.handlePush(frame{Type: "message.push", Payload: payload})

	result, err := p.SyncMessages(context.Background(), plugin.SyncParams{AccountID: "acct1"})
	if err != nil {
		t.Fatalf("SyncMessages: %v", err)
	}
	if len(result.NewMessages) != 1 || result.NewMessages[0].MessageID != "pushed" {
		t.Errorf("NewMessages = %+v, want the buffered pushed message", result.NewMessages)
	}
}

func waitConnected(t *testing.T, p *Plugin) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		connected := p.connected
		p.mu.Unlock()
		if connected {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("plugin never connected to fake host")
}
