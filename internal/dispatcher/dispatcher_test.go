package dispatcher_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bkyoung/review-orchestrator/internal/dispatcher"
	"github.com/bkyoung/review-orchestrator/internal/domain"
	"github.com/bkyoung/review-orchestrator/internal/port"
	"github.com/bkyoung/review-orchestrator/internal/rulestore"
)

type fakeHandle struct{ name string }

func (h fakeHandle) ProjectName() string { return h.name }

type fakeSCM struct {
	rawRules      []port.RawRule
	projectFiles  map[string][]byte
	involvedFiles map[string]string
	fileContents  map[string][]byte
	canonical     string
}

func (f *fakeSCM) ParseWebhook(ctx context.Context, headers map[string]string, body []byte) (port.RequestDescriptor, error) {
	return port.RequestDescriptor{}, nil
}

func (f *fakeSCM) InitContext(ctx context.Context, repoURL, projectID, token string) (port.RepoHandle, error) {
	return fakeHandle{name: "demo-project"}, nil
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
	if f.canonical != "" {
		return f.canonical, nil
	}
	return commitID, nil
}

func (f *fakeSCM) GetRules(ctx context.Context, handle port.RepoHandle, commit, branch string) ([]port.RawRule, error) {
	return f.rawRules, nil
}

func (f *fakeSCM) PostSummaryComment(ctx context.Context, handle port.RepoHandle, prNumber, reportURL string, findings []domain.ReportEntry) bool {
	return true
}

type fakeRequestStore struct {
	records map[string]domain.RequestRecord
}

func newFakeRequestStore() *fakeRequestStore {
	return &fakeRequestStore{records: map[string]domain.RequestRecord{}}
}

func key(commitID, requestID string) string { return commitID + "/" + requestID }

func (s *fakeRequestStore) Create(ctx context.Context, rec domain.RequestRecord) error {
	s.records[key(rec.CommitID, rec.RequestID)] = rec
	return nil
}

func (s *fakeRequestStore) Get(ctx context.Context, commitID, requestID string) (domain.RequestRecord, bool, error) {
	rec, ok := s.records[key(commitID, requestID)]
	return rec, ok, nil
}

func (s *fakeRequestStore) Initialize(ctx context.Context, commitID, requestID string, taskTotal int) error {
	rec := s.records[key(commitID, requestID)]
	rec.CommitID = commitID
	rec.RequestID = requestID
	rec.TaskStatus = domain.StatusInitializing
	rec.TaskTotal = taskTotal
	rec.TaskComplete = 0
	rec.TaskFailure = 0
	rec.ReportS3Key = ""
	rec.ReportURL = ""
	s.records[key(commitID, requestID)] = rec
	return nil
}

func (s *fakeRequestStore) IncrementComplete(ctx context.Context, commitID, requestID string) error {
	rec := s.records[key(commitID, requestID)]
	rec.TaskComplete++
	rec.TaskStatus = domain.StatusProcessing
	s.records[key(commitID, requestID)] = rec
	return nil
}

func (s *fakeRequestStore) IncrementFailure(ctx context.Context, commitID, requestID string) error {
	rec := s.records[key(commitID, requestID)]
	rec.TaskFailure++
	rec.TaskStatus = domain.StatusProcessing
	s.records[key(commitID, requestID)] = rec
	return nil
}

func (s *fakeRequestStore) CompleteIfReady(ctx context.Context, commitID, requestID, reportKey, reportURL string) (bool, error) {
	rec := s.records[key(commitID, requestID)]
	if rec.TaskStatus == domain.StatusComplete {
		return false, nil
	}
	rec.TaskStatus = domain.StatusComplete
	rec.ReportS3Key = reportKey
	rec.ReportURL = reportURL
	s.records[key(commitID, requestID)] = rec
	return true, nil
}

func (s *fakeRequestStore) UpdateProjectName(ctx context.Context, commitID, requestID, projectName string) error {
	rec := s.records[key(commitID, requestID)]
	rec.ProjectName = projectName
	s.records[key(commitID, requestID)] = rec
	return nil
}

func (s *fakeRequestStore) ScanStuck(ctx context.Context, lookback time.Duration) ([]domain.RequestRecord, error) {
	return nil, nil
}

type fakeQueue struct {
	sent [][]byte
}

func (q *fakeQueue) Send(ctx context.Context, payload []byte) error {
	q.sent = append(q.sent, payload)
	return nil
}

type fakeReconciler struct {
	calls []domain.RequestRecord
}

func (r *fakeReconciler) GenerateEmptyReport(ctx context.Context, rec domain.RequestRecord) error {
	r.calls = append(r.calls, rec)
	return nil
}

func TestDispatch_DiffModeRule_OneTaskEnqueued(t *testing.T) {
	scm := &fakeSCM{
		rawRules: []port.RawRule{{
			"name":   "general-review",
			"event":  "push",
			"branch": "main",
			"mode":   "diff",
			"model":  "claude3-sonnet",
			"target": "src/**",
			"system": "review this diff",
		}},
		involvedFiles: map[string]string{"src/a.go": "@@ -1 +1 @@\n-old\n+new\n"},
	}
	requests := newFakeRequestStore()
	queue := &fakeQueue{}
	rules := rulestore.New(scm)
	recon := &fakeReconciler{}

	d := dispatcher.New(scm, requests, queue, rules, recon, nil)

	ev := dispatcher.Event{
		RequestID:  "req-1",
		RawContext: map[string]any{"ref": "refs/heads/main"},
		Descriptor: port.RequestDescriptor{
			Source:           domain.SourceGitHub,
			ProjectID:        "acme/demo",
			RepoURL:          "https://github.com/acme/demo",
			EventType:        domain.EventPush,
			TargetBranch:     "main",
			CommitID:         "abc1",
			PreviousCommitID: "abc0",
		},
	}

	result, err := d.Dispatch(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, 1, result.TaskTotal)
	require.Len(t, queue.sent, 1)

	decoded, err := dispatcher.DecodeTaskMessage(queue.sent[0])
	require.NoError(t, err)
	assert.Equal(t, "src/a.go", decoded.Filepath)
	assert.Equal(t, 1, decoded.Number)
	assert.Equal(t, "diff", decoded.Mode)

	rec, ok, err := requests.Get(context.Background(), "abc1", "req-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, rec.TaskTotal)
}

func TestDispatch_NoMatchingRules_CompletesEmptyAndInvokesReconciler(t *testing.T) {
	scm := &fakeSCM{rawRules: nil}
	requests := newFakeRequestStore()
	queue := &fakeQueue{}
	rules := rulestore.New(scm)
	recon := &fakeReconciler{}

	d := dispatcher.New(scm, requests, queue, rules, recon, nil)

	ev := dispatcher.Event{
		RequestID: "req-2",
		Descriptor: port.RequestDescriptor{
			ProjectID:    "acme/demo",
			RepoURL:      "https://github.com/acme/demo",
			EventType:    domain.EventPush,
			TargetBranch: "main",
			CommitID:     "abc1",
		},
	}

	result, err := d.Dispatch(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, 0, result.TaskTotal)
	assert.Empty(t, queue.sent)
	require.Len(t, recon.calls, 1)
	assert.Equal(t, domain.StatusInitializing, recon.calls[0].TaskStatus)
	assert.Equal(t, 0, recon.calls[0].TaskTotal)
}

func TestDispatch_MissingRequestID_Errors(t *testing.T) {
	scm := &fakeSCM{}
	requests := newFakeRequestStore()
	queue := &fakeQueue{}
	rules := rulestore.New(scm)

	d := dispatcher.New(scm, requests, queue, rules, nil, nil)
	_, err := d.Dispatch(context.Background(), dispatcher.Event{})
	assert.Error(t, err)
}
