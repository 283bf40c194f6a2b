// Package bus carries orchestration-domain events from the core components
// (Custodian, Scheduler, Login state machine, Upload Pipeline, Monitoring
// Orchestrator) out to WebSocket clients through the gateway, decoupling
// event producers from the concrete transport.
package bus

// Event names pushed to subscribed WebSocket clients (§6, §4.4, §4.5, §4.6).
const (
	EventMonitoringStatus   = "monitoring.status"
	EventLoginQR            = "login.qr"
	EventLoginCompleted     = "login.completed"
	EventLoginFailed        = "login.failed"
	EventUploadProgress     = "upload.progress"
	EventSyncCompleted      = "sync.completed"
	EventAccountQuarantined = "account.quarantined"
	EventCacheInvalidate    = "cache.invalidate"
)

// Cache invalidation kind constants (§6: account/task/publish-record state
// the gateway's WS clients may be caching client-side).
const (
	CacheKindAccounts      = "accounts"
	CacheKindTasks         = "tasks"
	CacheKindPublishRecord = "publish_record"
)

// Event represents a server-side event broadcast to WebSocket clients.
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// CacheInvalidatePayload signals WS clients to evict stale cached entries.
type CacheInvalidatePayload struct {
	Kind string `json:"kind"` // CacheKind* constants
	Key  string `json:"key"`  // account key, task ID, record ID; empty = invalidate all of Kind
}

// MonitoringStatusPayload accompanies EventMonitoringStatus.
type MonitoringStatusPayload struct {
	Platform  string `json:"platform"`
	AccountID string `json:"accountId"`
	Status    string `json:"status"` // "started" | "stopped" | "failed"
	Message   string `json:"message,omitempty"`
}

// LoginQRPayload accompanies EventLoginQR: the Login Record's scannable QR
// URL for a pending login session (§4.4, §3 Login Record). The Coordinator
// records no expiry of its own — a session simply stays StatusPending until
// the plugin's login flow completes, fails, or the janitor reaps it.
type LoginQRPayload struct {
	UserID    string `json:"userId"`
	Platform  string `json:"platform"`
	QRCodeURL string `json:"qrCodeUrl"`
}

// LoginTerminalPayload accompanies EventLoginCompleted/EventLoginFailed.
type LoginTerminalPayload struct {
	UserID   string `json:"userId"`
	Platform string `json:"platform"`
	Error    string `json:"error,omitempty"`
}

// UploadProgressPayload accompanies EventUploadProgress (§4.5).
type UploadProgressPayload struct {
	RecordID string `json:"recordId"`
	Platform string `json:"platform"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// EventHandler handles one broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast and per-subscriber delivery.
// The gateway's WebSocket layer and the core components that raise events
// both depend on this interface rather than a concrete bus, so either side
// can be exercised independently in tests.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}
