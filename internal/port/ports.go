// Package port declares the outbound capabilities every use-case layer
// depends on. Concrete adapters (SCM, store, queue, blob, notifier, LLM)
// live under internal/adapter and are wired at the binary entrypoints.
package port

import (
	"context"
	"time"

	"github.com/bkyoung/review-orchestrator/internal/domain"
)

// RequestDescriptor is the normalised shape SourceControl.ParseWebhook
// produces from a platform-specific webhook payload.
type RequestDescriptor struct {
	Source           domain.Source
	WebURL           string
	RepoURL          string
	ProjectID        string
	ProjectName      string
	PrivateToken     string
	EventType        domain.EventType
	TargetBranch     string
	CommitID         string
	PreviousCommitID string
	Ref              string
	Username         string
	PRNumber         string
	PRURL            string
	PRTitle          string
	Skip             bool // true when the event kind/action is unsupported
}

// RepoHandle is an opaque, authenticated handle into one repository,
// returned by SourceControl.InitContext.
type RepoHandle interface {
	ProjectName() string
}

// RawRule is one parsed YAML document from a repo's .codereview directory,
// before reserved/DIY field splitting.
type RawRule map[string]any

// SourceControl is the single capability shared by every SCM platform
// adapter (GitHub, GitLab). Compose, don't inherit.
type SourceControl interface {
	ParseWebhook(ctx context.Context, headers map[string]string, body []byte) (RequestDescriptor, error)
	InitContext(ctx context.Context, repoURL, projectID, token string) (RepoHandle, error)
	GetFile(ctx context.Context, handle RepoHandle, path, ref string) ([]byte, bool, error)
	GetInvolvedFiles(ctx context.Context, handle RepoHandle, fromCommit, toCommit string) (map[string]string, error)
	GetProjectFiles(ctx context.Context, handle RepoHandle, commit string, targetGlobs []string) (map[string][]byte, error)
	FormatCommitID(ctx context.Context, handle RepoHandle, branch, commitID string) (string, error)
	GetRules(ctx context.Context, handle RepoHandle, commit, branch string) ([]RawRule, error)
	PostSummaryComment(ctx context.Context, handle RepoHandle, prNumber, reportURL string, findings []domain.ReportEntry) bool
}

// RequestStore persists RequestRecord rows.
type RequestStore interface {
	Create(ctx context.Context, rec domain.RequestRecord) error
	Get(ctx context.Context, commitID, requestID string) (domain.RequestRecord, bool, error)
	// Initialize rewrites the record for the Initializing transition (§4.D step 6).
	Initialize(ctx context.Context, commitID, requestID string, taskTotal int) error
	// IncrementComplete atomically bumps task_complete and sets state Processing.
	IncrementComplete(ctx context.Context, commitID, requestID string) error
	// IncrementFailure atomically bumps task_failure and sets state Processing.
	IncrementFailure(ctx context.Context, commitID, requestID string) error
	// CompleteIfReady performs the conditional terminal transition to Complete,
	// returning applied=false if another writer already completed it.
	CompleteIfReady(ctx context.Context, commitID, requestID, reportKey, reportURL string) (applied bool, err error)
	UpdateProjectName(ctx context.Context, commitID, requestID, projectName string) error
	// ScanStuck returns Start/Processing records created within the lookback window.
	ScanStuck(ctx context.Context, lookback time.Duration) ([]domain.RequestRecord, error)
}

// TaskStore persists TaskRecord rows.
type TaskStore interface {
	Create(ctx context.Context, rec domain.TaskRecord) error
	CompleteSuccess(ctx context.Context, requestID string, number int, blobKey string, bedrock domain.TaskRecord) error
	CompleteFailure(ctx context.Context, requestID string, number int, messageJSON string, bedrock domain.TaskRecord) error
	SetRetryTimes(ctx context.Context, requestID string, number, retryTimes int) error
	ListByRequest(ctx context.Context, requestID string) ([]domain.TaskRecord, error)
}

// Presigner mints a time-limited URL for a blob-store object.
type Presigner interface {
	PresignGetObject(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// BlobStore persists result and report blobs.
type BlobStore interface {
	Presigner
	Put(ctx context.Context, key string, contentType string, body []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// TaskQueue carries base64-wrapped TaskMessage envelopes.
type TaskQueue interface {
	Send(ctx context.Context, payload []byte) error
}

// Notifier publishes a NotificationMessage on request completion.
type Notifier interface {
	Publish(ctx context.Context, msg domain.NotificationMessage) error
}

// ModelConfig is one row of the static Bedrock model table.
type ModelConfig struct {
	ModelID           string
	SupportsReasoning bool
	Version           string
	Timeout           time.Duration
	ParamRestriction  string // "" or "temperature_only"
}

// ConversationMessage is one turn in an LLM conversation.
type ConversationMessage struct {
	Role string // "user" or "assistant"
	Text string
}

// InvokeRequest carries everything LLMInvoker.Invoke needs to build a
// provider request for one model call.
type InvokeRequest struct {
	Model            string
	System           string
	Messages         []ConversationMessage
	MaxTokens        int
	Temperature      float64
	TopP             float64
	ParamRestriction string
	EnableReasoning  bool
	ReasoningBudget  int
}

// InvokeResponse is the normalised reply, regardless of which Bedrock
// surface (InvokeModel vs Converse) served it.
type InvokeResponse struct {
	Text      string
	Reasoning string
}

// LLMInvoker is the outbound port to the Bedrock-hosted model transport.
type LLMInvoker interface {
	Invoke(ctx context.Context, req InvokeRequest) (InvokeResponse, error)
	ModelConfig(model string) (ModelConfig, bool)
}

// Logger is the narrow logging capability threaded through every
// component; setup/backend choice is out of scope, only the interface is.
type Logger interface {
	LogInfo(msg string, kv ...any)
	LogWarning(msg string, kv ...any)
	LogError(msg string, err error, kv ...any)
}
