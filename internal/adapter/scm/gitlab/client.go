// Package gitlab implements port.SourceControl against GitLab (SaaS or
// self-hosted), grounded on the devdashboard repository client's
// go-gitlab wiring style.
package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/bkyoung/review-orchestrator/internal/domain"
	"github.com/bkyoung/review-orchestrator/internal/port"
)

const providerName = "gitlab"

var supportedEvents = map[string]bool{"Push Hook": true, "Merge Request Hook": true}
var processableMRActions = map[string]bool{"open": true, "reopen": true, "update": true}

// Client implements port.SourceControl for GitLab.
type Client struct {
	fallbackToken string
}

// NewClient builds a Client. fallbackToken is used when InitContext
// receives no per-request token.
func NewClient(fallbackToken string) *Client {
	return &Client{fallbackToken: fallbackToken}
}

type repoHandle struct {
	client      *gitlab.Client
	projectID   string
	projectName string
}

func (h *repoHandle) ProjectName() string { return h.projectName }

func (c *Client) InitContext(ctx context.Context, repoURL, projectID, token string) (port.RepoHandle, error) {
	tok := token
	if tok == "" {
		tok = c.fallbackToken
	}

	var opts []gitlab.ClientOptionFunc
	if repoURL != "" && repoURL != "https://gitlab.com" {
		opts = append(opts, gitlab.WithBaseURL(repoURL))
	}

	client, err := gitlab.NewClient(tok, opts...)
	if err != nil {
		return nil, domain.MapHTTPStatus(providerName, 0, err.Error())
	}

	name := projectID
	if idx := strings.LastIndex(projectID, "/"); idx >= 0 {
		name = projectID[idx+1:]
	}

	return &repoHandle{client: client, projectID: projectID, projectName: name}, nil
}

func asHandle(h port.RepoHandle) (*repoHandle, error) {
	rh, ok := h.(*repoHandle)
	if !ok {
		return nil, domain.NewValidationError(providerName, "repo handle is not a gitlab handle")
	}
	return rh, nil
}

func statusCode(resp *gitlab.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}

func (c *Client) GetFile(ctx context.Context, handle port.RepoHandle, path, ref string) ([]byte, bool, error) {
	rh, err := asHandle(handle)
	if err != nil {
		return nil, false, err
	}

	f, resp, err := rh.client.RepositoryFiles.GetRawFile(rh.projectID, path, &gitlab.GetRawFileOptions{Ref: gitlab.Ptr(ref)}, gitlab.WithContext(ctx))
	if err != nil {
		if statusCode(resp) == 404 {
			return nil, false, nil
		}
		return nil, false, domain.MapHTTPStatus(providerName, statusCode(resp), err.Error())
	}
	return f, true, nil
}

func (c *Client) GetInvolvedFiles(ctx context.Context, handle port.RepoHandle, fromCommit, toCommit string) (map[string]string, error) {
	rh, err := asHandle(handle)
	if err != nil {
		return nil, err
	}

	diffs, resp, err := rh.client.Commits.GetCommitDiff(rh.projectID, toCommit, &gitlab.GetCommitDiffOptions{}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, domain.MapHTTPStatus(providerName, statusCode(resp), err.Error())
	}

	out := make(map[string]string, len(diffs))
	for _, d := range diffs {
		path := d.NewPath
		if path == "" {
			path = d.OldPath
		}
		out[path] = d.Diff
	}
	return out, nil
}

func (c *Client) GetProjectFiles(ctx context.Context, handle port.RepoHandle, commit string, targetGlobs []string) (map[string][]byte, error) {
	rh, err := asHandle(handle)
	if err != nil {
		return nil, err
	}

	out := map[string][]byte{}
	opts := &gitlab.ListTreeOptions{
		Ref:       gitlab.Ptr(commit),
		Recursive: gitlab.Ptr(true),
		ListOptions: gitlab.ListOptions{
			PerPage: 100,
		},
	}
	for {
		nodes, resp, err := rh.client.Repositories.ListTree(rh.projectID, opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, domain.MapHTTPStatus(providerName, statusCode(resp), err.Error())
		}
		for _, n := range nodes {
			if n.Type != "blob" {
				continue
			}
			content, ok, err := c.GetFile(ctx, handle, n.Path, commit)
			if err != nil || !ok {
				continue
			}
			out[n.Path] = content
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func (c *Client) FormatCommitID(ctx context.Context, handle port.RepoHandle, branch, commitID string) (string, error) {
	rh, err := asHandle(handle)
	if err != nil {
		return "", err
	}
	if commitID != "" {
		commit, resp, err := rh.client.Commits.GetCommit(rh.projectID, commitID, &gitlab.GetCommitOptions{}, gitlab.WithContext(ctx))
		if err != nil {
			return "", domain.MapHTTPStatus(providerName, statusCode(resp), err.Error())
		}
		return commit.ID, nil
	}

	b, resp, err := rh.client.Branches.GetBranch(rh.projectID, branch, gitlab.WithContext(ctx))
	if err != nil {
		return "", domain.MapHTTPStatus(providerName, statusCode(resp), err.Error())
	}
	return b.Commit.ID, nil
}

func (c *Client) GetRules(ctx context.Context, handle port.RepoHandle, commit, branch string) ([]port.RawRule, error) {
	rh, err := asHandle(handle)
	if err != nil {
		return nil, err
	}

	nodes, resp, err := rh.client.Repositories.ListTree(rh.projectID, &gitlab.ListTreeOptions{
		Path: gitlab.Ptr(".codereview"),
		Ref:  gitlab.Ptr(commit),
	}, gitlab.WithContext(ctx))
	if err != nil {
		if statusCode(resp) == 404 {
			return nil, nil
		}
		return nil, domain.MapHTTPStatus(providerName, statusCode(resp), err.Error())
	}

	var rules []port.RawRule
	for _, n := range nodes {
		if !strings.HasSuffix(n.Path, ".yaml") && !strings.HasSuffix(n.Path, ".yml") {
			continue
		}
		body, ok, err := c.GetFile(ctx, handle, n.Path, commit)
		if err != nil || !ok {
			continue
		}
		rules = append(rules, port.RawRule{"_source_path": n.Path, "_raw": string(body)})
	}
	return rules, nil
}

// PostSummaryComment posts the orchestrator's summary note onto the
// merge request. Always swallows errors per spec.md §7.
func (c *Client) PostSummaryComment(ctx context.Context, handle port.RepoHandle, prNumber, reportURL string, findings []domain.ReportEntry) bool {
	rh, err := asHandle(handle)
	if err != nil {
		return false
	}
	iid, err := strconv.Atoi(prNumber)
	if err != nil {
		return false
	}

	body := domain.FormatPRComment(reportURL, findings)
	_, _, err = rh.client.Notes.CreateMergeRequestNote(rh.projectID, iid, &gitlab.CreateMergeRequestNoteOptions{Body: gitlab.Ptr(body)}, gitlab.WithContext(ctx))
	return err == nil
}

// ParseWebhook normalises a GitLab webhook payload into a
// RequestDescriptor.
func (c *Client) ParseWebhook(ctx context.Context, headers map[string]string, body []byte) (port.RequestDescriptor, error) {
	event := headerValue(headers, "X-Gitlab-Event")
	if !supportedEvents[event] {
		return port.RequestDescriptor{}, domain.NewValidationError(providerName, fmt.Sprintf("unsupported gitlab event %q", event))
	}

	var payload struct {
		Project struct {
			WebURL          string `json:"web_url"`
			PathWithNamespace string `json:"path_with_namespace"`
			Name            string `json:"name"`
		} `json:"project"`
		Ref        string `json:"ref"`
		After      string `json:"after"`
		Before     string `json:"before"`
		UserName   string `json:"user_username"`
		User       struct {
			Username string `json:"username"`
		} `json:"user"`
		ObjectAttributes struct {
			Action       string `json:"action"`
			IID          int    `json:"iid"`
			TargetBranch string `json:"target_branch"`
			SourceBranch string `json:"source_branch"`
			URL          string `json:"url"`
			Title        string `json:"title"`
			LastCommit   struct {
				ID string `json:"id"`
			} `json:"last_commit"`
		} `json:"object_attributes"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return port.RequestDescriptor{}, domain.NewValidationError(providerName, "invalid JSON in gitlab webhook body: "+err.Error())
	}

	desc := port.RequestDescriptor{
		Source:      domain.SourceGitLab,
		WebURL:      payload.Project.WebURL,
		RepoURL:     rootURL(payload.Project.WebURL, payload.Project.PathWithNamespace),
		ProjectID:   payload.Project.PathWithNamespace,
		ProjectName: payload.Project.Name,
	}

	switch event {
	case "Push Hook":
		desc.EventType = domain.EventPush
		desc.TargetBranch = strings.TrimPrefix(payload.Ref, "refs/heads/")
		desc.Ref = payload.Ref
		desc.CommitID = payload.After
		desc.PreviousCommitID = payload.Before
		desc.Username = payload.UserName
	case "Merge Request Hook":
		desc.EventType = domain.EventMerge
		desc.TargetBranch = payload.ObjectAttributes.TargetBranch
		desc.Ref = payload.ObjectAttributes.SourceBranch
		if !processableMRActions[payload.ObjectAttributes.Action] {
			desc.Skip = true
			break
		}
		desc.CommitID = payload.ObjectAttributes.LastCommit.ID
		desc.Username = payload.User.Username
		desc.PRNumber = strconv.Itoa(payload.ObjectAttributes.IID)
		desc.PRURL = payload.ObjectAttributes.URL
		desc.PRTitle = payload.ObjectAttributes.Title
	}

	return desc, nil
}

func rootURL(webURL, fullPath string) string {
	if webURL != "" && fullPath != "" && strings.HasSuffix(webURL, "/"+fullPath) {
		return strings.TrimSuffix(webURL, "/"+fullPath)
	}
	return "https://gitlab.com"
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
