// Package bridge implements a MESSAGE plugin that proxies platform events
// through a companion script host over a JSON WebSocket, instead of
// driving the DOM directly through the Tab Broker's CDP Eval calls the way
// the in-page script-injection plugins do. It suits a platform whose
// native client already runs inside a persistent host process (a packaged
// desktop client, a browser extension with its own background page) that
// can forward structured events faster and more reliably than re-deriving
// them from the page on every poll.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ew384/automaton-core/internal/plugin"
)

const (
	handshakeTimeout = 10 * time.Second
	requestTimeout   = 15 * time.Second
	minBackoff       = 1 * time.Second
	maxBackoff       = 30 * time.Second
)

// Config points the plugin at one companion script host.
type Config struct {
	Platform string
	URL      string // ws:// or wss:// endpoint the script host listens on
}

// frame is the wire shape exchanged with the script host in both
// directions: a request carries ID+Type+Payload out, its response carries
// the same ID back; unsolicited push frames carry Type with no ID.
type frame struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type syncPushPayload struct {
	AccountID string        `json:"accountId"`
	Threads   []wireThread  `json:"threads,omitempty"`
	Messages  []wireMessage `json:"messages,omitempty"`
}

type wireThread struct {
	ThreadID    string    `json:"threadId"`
	PeerName    string    `json:"peerName"`
	UpdatedAt   time.Time `json:"updatedAt"`
	UnreadCount int       `json:"unreadCount"`
}

type wireMessage struct {
	ThreadID  string    `json:"threadId"`
	MessageID string    `json:"messageId"`
	FromSelf  bool      `json:"fromSelf"`
	Content   string    `json:"content"`
	Kind      string    `json:"kind"`
	SentAt    time.Time `json:"sentAt"`
}

type wireCandidate struct {
	AccountID  string `json:"accountId"`
	CookieFile string `json:"cookieFile"`
	CanMonitor bool   `json:"canMonitor"`
}

type inboxEntry struct {
	threads  []wireThread
	messages []wireMessage
}

// Plugin is a MESSAGE plugin backed by one persistent WebSocket connection
// to a companion script host, reconnected with the WhatsApp channel's
// exponential-backoff loop. Messages the host pushes unsolicited between
// SyncMessages calls are buffered per account and folded into the next
// sync response rather than dropped.
type Plugin struct {
	cfg Config

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool

	pendingMu sync.Mutex
	pending   map[string]chan frame

	inboxMu sync.Mutex
	inbox   map[string]inboxEntry

	done chan struct{}
}

// New starts the background connection loop immediately; the plugin is
// usable right away and simply reports connection errors through
// SyncMessages/SendMessage/StartMonitoring until the host is reachable.
func New(cfg Config) *Plugin {
	p := &Plugin{
		cfg:     cfg,
		pending: make(map[string]chan frame),
		inbox:   make(map[string]inboxEntry),
		done:    make(chan struct{}),
	}
	go p.listenLoop()
	return p
}

func (p *Plugin) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{Kind: plugin.KindMessage, Platform: p.cfg.Platform, DisplayName: p.cfg.Platform + " (bridge)"}
}

// Close stops the reconnect loop and drops the current connection, if any.
func (p *Plugin) Close() {
	close(p.done)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		p.conn.Close()
	}
}

func (p *Plugin) connect() error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.Dial(p.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("bridge: dial %s: %w", p.cfg.URL, err)
	}

	p.mu.Lock()
	p.conn = conn
	p.connected = true
	p.mu.Unlock()
	return nil
}

// listenLoop holds one connection open for the plugin's lifetime,
// reconnecting with jittered exponential backoff on every disconnect —
// the same shape the teacher's WhatsApp channel used for its bridge
// socket, with WhatsApp-specific pairing/session handling dropped.
func (p *Plugin) listenLoop() {
	backoff := minBackoff
	for {
		select {
		case <-p.done:
			return
		default:
		}

		if err := p.connect(); err != nil {
			slog.Warn("bridge: connect failed, retrying", "platform", p.cfg.Platform, "error", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-p.done:
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = minBackoff

		p.readFrames()

		p.mu.Lock()
		p.connected = false
		p.mu.Unlock()
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		next = maxBackoff
	}
	return next + time.Duration(rand.Int63n(int64(next)/4+1))
}

func (p *Plugin) readFrames() {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}

		if f.ID != "" {
			p.pendingMu.Lock()
			ch, ok := p.pending[f.ID]
			p.pendingMu.Unlock()
			if ok {
				select {
				case ch <- f:
				default:
				}
				continue
			}
		}

		p.handlePush(f)
	}
}

func (p *Plugin) handlePush(f frame) {
	switch f.Type {
	case "message.push":
		var payload syncPushPayload
		if err := json.Unmarshal(f.Payload, &payload); err != nil {
			slog.Warn("bridge: malformed push frame", "platform", p.cfg.Platform, "error", err)
			return
		}
		p.inboxMu.Lock()
		e := p.inbox[payload.AccountID]
		e.threads = append(e.threads, payload.Threads...)
		e.messages = append(e.messages, payload.Messages...)
		p.inbox[payload.AccountID] = e
		p.inboxMu.Unlock()
	default:
		slog.Debug("bridge: unhandled push frame", "platform", p.cfg.Platform, "type", f.Type)
	}
}

func (p *Plugin) drainInbox(accountID string) inboxEntry {
	p.inboxMu.Lock()
	defer p.inboxMu.Unlock()
	e := p.inbox[accountID]
	delete(p.inbox, accountID)
	return e
}

// request sends one correlated request frame and waits for its matching
// response, timing out independently of the caller's context so a wedged
// host can't leak goroutines past requestTimeout.
func (p *Plugin) request(ctx context.Context, typ string, payload any) (frame, error) {
	p.mu.Lock()
	conn, connected := p.conn, p.connected
	p.mu.Unlock()
	if !connected || conn == nil {
		return frame{}, fmt.Errorf("bridge: %s not connected", p.cfg.Platform)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return frame{}, fmt.Errorf("bridge: marshal request: %w", err)
	}

	id := uuid.NewString()
	ch := make(chan frame, 1)
	p.pendingMu.Lock()
	p.pending[id] = ch
	p.pendingMu.Unlock()
	defer func() {
		p.pendingMu.Lock()
		delete(p.pending, id)
		p.pendingMu.Unlock()
	}()

	p.mu.Lock()
	err = conn.WriteJSON(frame{ID: id, Type: typ, Payload: raw})
	p.mu.Unlock()
	if err != nil {
		return frame{}, fmt.Errorf("bridge: write request: %w", err)
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		return frame{}, fmt.Errorf("bridge: %s request %q timed out", p.cfg.Platform, typ)
	case <-ctx.Done():
		return frame{}, ctx.Err()
	case <-p.done:
		return frame{}, fmt.Errorf("bridge: plugin closed")
	}
}

func (p *Plugin) SyncMessages(ctx context.Context, params plugin.SyncParams) (plugin.SyncResult, error) {
	start := time.Now()

	reqPayload := struct {
		AccountID  string `json:"accountId"`
		CookieFile string `json:"cookieFile"`
		FullSync   bool   `json:"fullSync"`
	}{params.AccountID, params.CookieFile, params.FullSync}

	resp, err := p.request(ctx, "sync.request", reqPayload)
	if err != nil {
		return plugin.SyncResult{Success: false, Errors: []string{err.Error()}, SyncTime: time.Since(start)}, nil
	}
	if resp.Error != "" {
		return plugin.SyncResult{Success: false, Errors: []string{resp.Error}, SyncTime: time.Since(start)}, nil
	}

	var snapshot syncPushPayload
	if len(resp.Payload) > 0 {
		if err := json.Unmarshal(resp.Payload, &snapshot); err != nil {
			return plugin.SyncResult{Success: false, Errors: []string{"bridge: malformed sync response: " + err.Error()}, SyncTime: time.Since(start)}, nil
		}
	}

	buffered := p.drainInbox(params.AccountID)
	threadsWire := append(append([]wireThread{}, snapshot.Threads...), buffered.threads...)
	messagesWire := append(append([]wireMessage{}, snapshot.Messages...), buffered.messages...)

	threads := toThreads(params.AccountID, threadsWire)
	updated := make([]string, 0, len(threads))
	for _, t := range threads {
		updated = append(updated, t.ThreadID)
	}

	return plugin.SyncResult{
		Success:        true,
		Threads:        threads,
		NewMessages:    toMessages(messagesWire),
		UpdatedThreads: updated,
		SyncTime:       time.Since(start),
	}, nil
}

func (p *Plugin) SendMessage(ctx context.Context, params plugin.SendParams) (plugin.SendResult, error) {
	reqPayload := struct {
		UserName string `json:"userName"`
		Content  string `json:"content"`
		Kind     string `json:"kind"`
	}{params.UserName, params.Content, params.Kind}

	resp, err := p.request(ctx, "send.request", reqPayload)
	if err != nil {
		return plugin.SendResult{Success: false, Error: err.Error()}, nil
	}
	if resp.Error != "" {
		return plugin.SendResult{Success: false, Error: resp.Error}, nil
	}
	return plugin.SendResult{Success: true}, nil
}

func (p *Plugin) StartMonitoring(ctx context.Context, platformName, accountID, cookieFile string, headless bool) (plugin.MonitorResult, error) {
	reqPayload := struct {
		AccountID  string `json:"accountId"`
		CookieFile string `json:"cookieFile"`
		Headless   bool   `json:"headless"`
	}{accountID, cookieFile, headless}

	resp, err := p.request(ctx, "monitor.start", reqPayload)
	if err != nil {
		return plugin.MonitorResult{Success: false, Reason: plugin.MonitorReasonScriptInjectionFail}, nil
	}
	if resp.Error != "" {
		return plugin.MonitorResult{Success: false, Reason: resp.Error}, nil
	}
	return plugin.MonitorResult{Success: true}, nil
}

func (p *Plugin) ListCandidates(ctx context.Context) ([]plugin.CandidateAccount, error) {
	resp, err := p.request(ctx, "candidates.list", struct{}{})
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("bridge: %s: %s", p.cfg.Platform, resp.Error)
	}

	var wireCands []wireCandidate
	if len(resp.Payload) > 0 {
		if err := json.Unmarshal(resp.Payload, &wireCands); err != nil {
			return nil, fmt.Errorf("bridge: malformed candidates response: %w", err)
		}
	}

	out := make([]plugin.CandidateAccount, len(wireCands))
	for i, c := range wireCands {
		out[i] = plugin.CandidateAccount{Platform: p.cfg.Platform, AccountID: c.AccountID, CookieFile: c.CookieFile, CanMonitor: c.CanMonitor}
	}
	return out, nil
}

// MessageURL returns the script host endpoint this plugin proxies through,
// standing in for the platform message-center URL a DOM-driven plugin
// would report.
func (p *Plugin) MessageURL() string { return p.cfg.URL }

// ReadinessProbe is empty: the bridge owns its own connection and does not
// lean on the Custodian's CDP-driven readiness polling of a tab.
func (p *Plugin) ReadinessProbe() string { return "" }

func toThreads(accountID string, ws []wireThread) []plugin.MessageThread {
	out := make([]plugin.MessageThread, len(ws))
	for i, w := range ws {
		out[i] = plugin.MessageThread{ThreadID: w.ThreadID, AccountID: accountID, PeerName: w.PeerName, UpdatedAt: w.UpdatedAt, UnreadCount: w.UnreadCount}
	}
	return out
}

func toMessages(ws []wireMessage) []plugin.Message {
	out := make([]plugin.Message, len(ws))
	for i, w := range ws {
		out[i] = plugin.Message{ThreadID: w.ThreadID, MessageID: w.MessageID, FromSelf: w.FromSelf, Content: w.Content, Kind: w.Kind, SentAt: w.SentAt}
	}
	return out
}
