// Package plugin defines the capability-tagged plugin contracts platform
// integrations implement, and the registry that looks them up by
// (kind, platform). Platform integrations themselves — the DOM scripts that
// actually drive xiaohongshu, wechat, douyin, kuaishou, etc. — are black
// boxes behind these contracts; this package only describes the boundary.
package plugin

import (
	"context"
	"time"

	"github.com/ew384/automaton-core/internal/broker"
)

// Kind classifies what a plugin can do. Kinds are registered, in order, at
// startup: Upload, Login, Validate, Message.
type Kind string

const (
	KindUpload   Kind = "UPLOAD"
	KindLogin    Kind = "LOGIN"
	KindValidate Kind = "VALIDATE"
	KindMessage  Kind = "MESSAGE"
)

// RegistrationOrder is the fixed order kinds are registered in at startup.
var RegistrationOrder = []Kind{KindUpload, KindLogin, KindValidate, KindMessage}

// Descriptor is the immutable identity of a registered plugin.
type Descriptor struct {
	Kind        Kind
	Platform    string
	DisplayName string
}

// Plugin is satisfied by every capability-specific plugin interface below.
type Plugin interface {
	Descriptor() Descriptor
}

// AccountInfo is whatever identifying information a plugin can read back
// off a logged-in tab (display name, avatar URL, platform-native ID, ...).
type AccountInfo struct {
	AccountID   string
	DisplayName string
	AvatarURL   string
	Extra       map[string]string
}

// UploadParams carries everything an UploadPlugin needs to drive one upload.
type UploadParams struct {
	AccountName     string
	CookieFile      string
	FilePath        string
	Title           string
	Tags            []string
	Category        string
	PublishAt       *time.Time
	EnableOriginal  bool
	AddToCollection bool
}

// UploadResult is what uploadVideoComplete returns.
type UploadResult struct {
	Success bool
	TabID   broker.TabID
	Error   string
}

// UploadPlugin drives a single-video upload to completion on a tab it owns
// for the duration of the call.
type UploadPlugin interface {
	Plugin
	UploadVideoComplete(ctx context.Context, params UploadParams) (UploadResult, error)
	GetAccountInfo(ctx context.Context, tabID broker.TabID) (AccountInfo, error)
}

// LoginStartRequest/Result model the synchronous half of a QR login.
type LoginStartRequest struct {
	Platform string
	UserID   string
}

type LoginStartResult struct {
	Success   bool
	TabID     broker.TabID
	QRCodeURL string
}

// LoginPlugin begins a login flow and can cancel one in progress.
type LoginPlugin interface {
	Plugin
	StartLogin(ctx context.Context, req LoginStartRequest) (LoginStartResult, error)
	CancelLogin(ctx context.Context, tabID broker.TabID) error
}

// LoginProcessRequest/Result model the asynchronous half: blocking until
// the operator scans the QR code (or it times out).
type LoginProcessRequest struct {
	TabID    broker.TabID
	UserID   string
	Platform string
}

type LoginProcessResult struct {
	Success     bool
	CookiePath  string
	AccountInfo AccountInfo
}

// LoginProcessorPlugin is the slow half of login: Process blocks for as long
// as the QR scan takes. It is a distinct interface from LoginPlugin but is
// not registered separately: Registry.GetLoginProcessor looks it up on the
// value registered under KindLogin, so one plugin value implements both.
type LoginProcessorPlugin interface {
	Plugin
	Process(ctx context.Context, req LoginProcessRequest) (LoginProcessResult, error)
}

// ValidatePlugin checks whether a cookie bundle is still authenticated.
type ValidatePlugin interface {
	Plugin
	ValidateCookie(ctx context.Context, cookieFilePath string) (bool, error)
}

// MessageThread/Message are the shapes syncMessages reports back; the core
// never interprets their contents, only counts and persists them through
// the (external) message store.
type MessageThread struct {
	ThreadID    string
	AccountID   string
	PeerName    string
	UpdatedAt   time.Time
	UnreadCount int
}

type Message struct {
	ThreadID  string
	MessageID string
	FromSelf  bool
	Content   string
	Kind      string // "text" | "image"
	SentAt    time.Time
}

type SyncParams struct {
	Platform   string
	AccountID  string
	CookieFile string
	TabID      broker.TabID
	FullSync   bool
}

type SyncResult struct {
	Success        bool
	Threads        []MessageThread
	NewMessages    []Message
	UpdatedThreads []string
	Errors         []string
	SyncTime       time.Duration
}

type SendParams struct {
	Platform string
	TabID    broker.TabID
	UserName string
	Content  string
	Kind     string // "text" | "image"
}

type SendResult struct {
	Success bool
	Error   string
}

// MonitorResult is what startMonitoring reports. Reason is populated only
// when Success is false, and is one of the stable reason codes the
// Monitoring Orchestrator (§4.6) translates to operator-facing text.
type MonitorResult struct {
	Success bool
	Reason  string
}

const (
	MonitorReasonValidationFailed    = "validation_failed"
	MonitorReasonAlreadyMonitoring   = "already_monitoring"
	MonitorReasonScriptInjectionFail = "script_injection_failed"
)

// CandidateAccount is what the MESSAGE subsystem reports for auto-discovery
// when a batch-start request omits an explicit account list.
type CandidateAccount struct {
	Platform   string
	AccountID  string
	CookieFile string
	CanMonitor bool
}

// MessagePlugin is the capability set message-sync and monitoring lean on.
// ReadinessProbe returns a DOM predicate script the Custodian polls while
// bringing a tab up; an empty string means "always ready" (§4.2).
type MessagePlugin interface {
	Plugin
	SyncMessages(ctx context.Context, params SyncParams) (SyncResult, error)
	SendMessage(ctx context.Context, params SendParams) (SendResult, error)
	StartMonitoring(ctx context.Context, platform, accountID, cookieFile string, headless bool) (MonitorResult, error)
	ListCandidates(ctx context.Context) ([]CandidateAccount, error)
	MessageURL() string
	ReadinessProbe() string
}
