// Package e2e drives the Dispatcher, Executor, and Reconciler together
// through in-memory fakes for every outbound port, exercising the
// end-to-end scenarios of spec.md §8 (S1-S6) without any real AWS or SCM
// dependency, following the teacher's hand-written-fake convention (no
// mocking library appears anywhere in this codebase's tests).
package e2e

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bkyoung/review-orchestrator/internal/domain"
	"github.com/bkyoung/review-orchestrator/internal/port"
)

type fakeHandle struct{ name string }

func (h fakeHandle) ProjectName() string { return h.name }

// fakeSCM is a single-repo stand-in for both GitHub and GitLab adapters.
type fakeSCM struct {
	projectName   string
	rawRules      []port.RawRule
	projectFiles  map[string][]byte
	involvedFiles map[string]string
	fileContents  map[string][]byte
	canonical     map[string]string // commitID -> canonical form, identity if absent

	mu       sync.Mutex
	comments []comment
}

type comment struct {
	prNumber, reportURL string
}

func (f *fakeSCM) ParseWebhook(ctx context.Context, headers map[string]string, body []byte) (port.RequestDescriptor, error) {
	return port.RequestDescriptor{}, nil
}

func (f *fakeSCM) InitContext(ctx context.Context, repoURL, projectID, token string) (port.RepoHandle, error) {
	return fakeHandle{name: f.projectName}, nil
}

func (f *fakeSCM) GetFile(ctx context.Context, handle port.RepoHandle, path, ref string) ([]byte, bool, error) {
	content, ok := f.fileContents[path]
	return content, ok, nil
}

func (f *fakeSCM) GetInvolvedFiles(ctx context.Context, handle port.RepoHandle, fromCommit, toCommit string) (map[string]string, error) {
	return f.involvedFiles, nil
}

func (f *fakeSCM) GetProjectFiles(ctx context.Context, handle port.RepoHandle, commit string, targetGlobs []string) (map[string][]byte, error) {
	return f.projectFiles, nil
}

func (f *fakeSCM) FormatCommitID(ctx context.Context, handle port.RepoHandle, branch, commitID string) (string, error) {
	if canonical, ok := f.canonical[commitID]; ok {
		return canonical, nil
	}
	return commitID, nil
}

func (f *fakeSCM) GetRules(ctx context.Context, handle port.RepoHandle, commit, branch string) ([]port.RawRule, error) {
	return f.rawRules, nil
}

func (f *fakeSCM) PostSummaryComment(ctx context.Context, handle port.RepoHandle, prNumber, reportURL string, findings []domain.ReportEntry) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments = append(f.comments, comment{prNumber: prNumber, reportURL: reportURL})
	return true
}

func recordKey(commitID, requestID string) string { return commitID + "/" + requestID }

// fakeRequestStore is a thread-safe in-memory RequestStore.
type fakeRequestStore struct {
	mu      sync.Mutex
	records map[string]domain.RequestRecord
}

func newFakeRequestStore() *fakeRequestStore {
	return &fakeRequestStore{records: map[string]domain.RequestRecord{}}
}

func (s *fakeRequestStore) Create(ctx context.Context, rec domain.RequestRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[recordKey(rec.CommitID, rec.RequestID)] = rec
	return nil
}

func (s *fakeRequestStore) Get(ctx context.Context, commitID, requestID string) (domain.RequestRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[recordKey(commitID, requestID)]
	return rec, ok, nil
}

func (s *fakeRequestStore) Initialize(ctx context.Context, commitID, requestID string, taskTotal int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.records[recordKey(commitID, requestID)]
	rec.CommitID, rec.RequestID = commitID, requestID
	rec.TaskStatus = domain.StatusInitializing
	rec.TaskTotal = taskTotal
	rec.TaskComplete, rec.TaskFailure = 0, 0
	rec.ReportS3Key, rec.ReportURL = "", ""
	s.records[recordKey(commitID, requestID)] = rec
	return nil
}

func (s *fakeRequestStore) IncrementComplete(ctx context.Context, commitID, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.records[recordKey(commitID, requestID)]
	rec.TaskComplete++
	if rec.TaskStatus != domain.StatusComplete {
		rec.TaskStatus = domain.StatusProcessing
	}
	s.records[recordKey(commitID, requestID)] = rec
	return nil
}

func (s *fakeRequestStore) IncrementFailure(ctx context.Context, commitID, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.records[recordKey(commitID, requestID)]
	rec.TaskFailure++
	if rec.TaskStatus != domain.StatusComplete {
		rec.TaskStatus = domain.StatusProcessing
	}
	s.records[recordKey(commitID, requestID)] = rec
	return nil
}

func (s *fakeRequestStore) CompleteIfReady(ctx context.Context, commitID, requestID, reportKey, reportURL string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.records[recordKey(commitID, requestID)]
	if rec.TaskStatus == domain.StatusComplete {
		return false, nil
	}
	rec.TaskStatus = domain.StatusComplete
	rec.ReportS3Key, rec.ReportURL = reportKey, reportURL
	s.records[recordKey(commitID, requestID)] = rec
	return true, nil
}

func (s *fakeRequestStore) UpdateProjectName(ctx context.Context, commitID, requestID, projectName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.records[recordKey(commitID, requestID)]
	rec.ProjectName = projectName
	s.records[recordKey(commitID, requestID)] = rec
	return nil
}

func (s *fakeRequestStore) ScanStuck(ctx context.Context, lookback time.Duration) ([]domain.RequestRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RequestRecord
	for _, rec := range s.records {
		if rec.TaskStatus == domain.StatusStart || rec.TaskStatus == domain.StatusProcessing || rec.TaskStatus == domain.StatusInitializing {
			out = append(out, rec)
		}
	}
	return out, nil
}

func taskKey(requestID string, number int) string { return fmt.Sprintf("%s/%d", requestID, number) }

// fakeTaskStore is a thread-safe in-memory TaskStore.
type fakeTaskStore struct {
	mu    sync.Mutex
	tasks map[string]domain.TaskRecord
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{tasks: map[string]domain.TaskRecord{}}
}

func (s *fakeTaskStore) Create(ctx context.Context, rec domain.TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[taskKey(rec.RequestID, rec.Number)] = rec
	return nil
}

func (s *fakeTaskStore) CompleteSuccess(ctx context.Context, requestID string, number int, blobKey string, bedrock domain.TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	succ := true
	rec := s.tasks[taskKey(requestID, number)]
	rec.Succ = &succ
	rec.Data = blobKey
	rec.BedrockSystem, rec.BedrockPrompt = bedrock.BedrockSystem, bedrock.BedrockPrompt
	rec.BedrockModel, rec.BedrockStartTime, rec.BedrockEndTime = bedrock.BedrockModel, bedrock.BedrockStartTime, bedrock.BedrockEndTime
	rec.BedrockTimecost = bedrock.BedrockTimecost
	s.tasks[taskKey(requestID, number)] = rec
	return nil
}

func (s *fakeTaskStore) CompleteFailure(ctx context.Context, requestID string, number int, messageJSON string, bedrock domain.TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fail := false
	rec := s.tasks[taskKey(requestID, number)]
	rec.Succ = &fail
	rec.Message = messageJSON
	rec.BedrockSystem, rec.BedrockPrompt = bedrock.BedrockSystem, bedrock.BedrockPrompt
	rec.BedrockModel, rec.BedrockStartTime, rec.BedrockEndTime = bedrock.BedrockModel, bedrock.BedrockStartTime, bedrock.BedrockEndTime
	rec.BedrockTimecost = bedrock.BedrockTimecost
	s.tasks[taskKey(requestID, number)] = rec
	return nil
}

func (s *fakeTaskStore) SetRetryTimes(ctx context.Context, requestID string, number, retryTimes int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.tasks[taskKey(requestID, number)]
	rec.RetryTimes = retryTimes
	s.tasks[taskKey(requestID, number)] = rec
	return nil
}

func (s *fakeTaskStore) ListByRequest(ctx context.Context, requestID string) ([]domain.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TaskRecord
	for _, rec := range s.tasks {
		if rec.RequestID == requestID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// fakeBlobStore is a thread-safe in-memory BlobStore.
type fakeBlobStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{data: map[string][]byte{}}
}

func (b *fakeBlobStore) Put(ctx context.Context, key, contentType string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(body))
	copy(cp, body)
	b.data[key] = cp
	return nil
}

func (b *fakeBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	body, ok := b.data[key]
	if !ok {
		return nil, &domain.Error{Kind: domain.ErrNotFound, Message: "no such blob: " + key}
	}
	return body, nil
}

func (b *fakeBlobStore) PresignGetObject(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://blobs.test/" + key, nil
}

// fakeQueue captures sent payloads without delivering them; scenario
// tests drain it explicitly, mirroring the real SQS hop under their own
// control instead of racing a background worker.
type fakeQueue struct {
	mu   sync.Mutex
	sent [][]byte
}

func (q *fakeQueue) Send(ctx context.Context, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent = append(q.sent, payload)
	return nil
}

func (q *fakeQueue) drain() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.sent
	q.sent = nil
	return out
}

// fakeNotifier captures published completion notifications.
type fakeNotifier struct {
	mu    sync.Mutex
	sent  []domain.NotificationMessage
}

func (n *fakeNotifier) Publish(ctx context.Context, msg domain.NotificationMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

// fakeLLM replays a fixed, per-model queue of scripted replies, so a
// scenario can dictate exactly how many turns a conversation takes
// (e.g. S5's two invalid replies before a valid one).
type fakeLLM struct {
	mu      sync.Mutex
	models  map[string]port.ModelConfig
	replies map[string][]scriptedReply
	calls   int
}

type scriptedReply struct {
	text string
	err  error
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{
		models:  map[string]port.ModelConfig{},
		replies: map[string][]scriptedReply{},
	}
}

func (l *fakeLLM) withModel(name string, cfg port.ModelConfig) *fakeLLM {
	l.models[name] = cfg
	return l
}

func (l *fakeLLM) withReplies(model string, texts ...string) *fakeLLM {
	for _, t := range texts {
		l.replies[model] = append(l.replies[model], scriptedReply{text: t})
	}
	return l
}

func (l *fakeLLM) ModelConfig(model string) (port.ModelConfig, bool) {
	cfg, ok := l.models[model]
	return cfg, ok
}

func (l *fakeLLM) Invoke(ctx context.Context, req port.InvokeRequest) (port.InvokeResponse, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	queue := l.replies[req.Model]
	if len(queue) == 0 {
		return port.InvokeResponse{}, fmt.Errorf("fakeLLM: no scripted reply left for model %s", req.Model)
	}
	next := queue[0]
	l.replies[req.Model] = queue[1:]
	if next.err != nil {
		return port.InvokeResponse{}, next.err
	}
	return port.InvokeResponse{Text: next.text}, nil
}

// nopLogger discards every log line; scenario tests assert on state, not
// log output.
type nopLogger struct{}

func (nopLogger) LogInfo(msg string, kv ...any)                  {}
func (nopLogger) LogWarning(msg string, kv ...any)               {}
func (nopLogger) LogError(msg string, err error, kv ...any)      {}
