package gitlab_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bkyoung/review-orchestrator/internal/adapter/scm/gitlab"
	"github.com/bkyoung/review-orchestrator/internal/domain"
)

func TestParseWebhook_Push(t *testing.T) {
	c := gitlab.NewClient("token")
	body := []byte(`{
		"ref": "refs/heads/main",
		"after": "deadbeef",
		"before": "cafebabe",
		"user_username": "alice",
		"project": {"web_url": "https://gitlab.com/acme/widgets", "path_with_namespace": "acme/widgets", "name": "widgets"}
	}`)
	desc, err := c.ParseWebhook(context.Background(), map[string]string{"X-Gitlab-Event": "Push Hook"}, body)
	require.NoError(t, err)
	assert.Equal(t, domain.EventPush, desc.EventType)
	assert.Equal(t, "main", desc.TargetBranch)
	assert.Equal(t, "deadbeef", desc.CommitID)
	assert.Equal(t, "acme/widgets", desc.ProjectID)
}

func TestParseWebhook_MergeRequestOpen(t *testing.T) {
	c := gitlab.NewClient("token")
	body := []byte(`{
		"object_attributes": {"action": "open", "iid": 7, "target_branch": "main", "source_branch": "feature", "url": "https://gitlab.com/acme/widgets/-/merge_requests/7", "title": "add feature", "last_commit": {"id": "abc123"}},
		"user": {"username": "bob"},
		"project": {"web_url": "https://gitlab.com/acme/widgets", "path_with_namespace": "acme/widgets", "name": "widgets"}
	}`)
	desc, err := c.ParseWebhook(context.Background(), map[string]string{"X-Gitlab-Event": "Merge Request Hook"}, body)
	require.NoError(t, err)
	assert.Equal(t, domain.EventMerge, desc.EventType)
	assert.Equal(t, "abc123", desc.CommitID)
	assert.Equal(t, "7", desc.PRNumber)
	assert.False(t, desc.Skip)
}

func TestParseWebhook_MergeRequestActionSkipped(t *testing.T) {
	c := gitlab.NewClient("token")
	body := []byte(`{
		"object_attributes": {"action": "close", "target_branch": "main", "source_branch": "feature"},
		"project": {"web_url": "https://gitlab.com/acme/widgets", "path_with_namespace": "acme/widgets", "name": "widgets"}
	}`)
	desc, err := c.ParseWebhook(context.Background(), map[string]string{"X-Gitlab-Event": "Merge Request Hook"}, body)
	require.NoError(t, err)
	assert.True(t, desc.Skip)
}

func TestParseWebhook_UnsupportedEvent(t *testing.T) {
	c := gitlab.NewClient("token")
	_, err := c.ParseWebhook(context.Background(), map[string]string{"X-Gitlab-Event": "Tag Push Hook"}, []byte(`{}`))
	assert.Error(t, err)
}
