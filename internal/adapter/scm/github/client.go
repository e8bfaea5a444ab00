// Package github implements port.SourceControl against GitHub, grounded on
// the devdashboard repository client's google/go-github wiring.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	gogithub "github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"github.com/bkyoung/review-orchestrator/internal/domain"
	"github.com/bkyoung/review-orchestrator/internal/port"
)

const providerName = "github"

var supportedEvents = map[string]bool{"push": true, "pull_request": true}
var processablePRActions = map[string]bool{"opened": true, "synchronize": true, "reopened": true}

// Client implements port.SourceControl for GitHub.com and GitHub Enterprise.
type Client struct {
	fallbackToken string
}

// NewClient builds a Client. fallbackToken is used for InitContext calls
// that receive no per-request token (the repo-flavour case, where the
// token comes from ACCESS_TOKEN rather than the webhook payload).
func NewClient(fallbackToken string) *Client {
	return &Client{fallbackToken: fallbackToken}
}

type repoHandle struct {
	client      *gogithub.Client
	owner, repo string
	projectName string
}

func (h *repoHandle) ProjectName() string { return h.projectName }

func (c *Client) InitContext(ctx context.Context, repoURL, projectID, token string) (port.RepoHandle, error) {
	owner, repo, ok := strings.Cut(projectID, "/")
	if !ok {
		return nil, domain.NewValidationError(providerName, fmt.Sprintf("project_id %q is not in owner/repo format", projectID))
	}

	tok := token
	if tok == "" {
		tok = c.fallbackToken
	}

	var httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok}))
	client := gogithub.NewClient(httpClient)
	if repoURL != "" && repoURL != "https://github.com" {
		var err error
		client, err = client.WithEnterpriseURLs(repoURL, repoURL)
		if err != nil {
			return nil, domain.MapHTTPStatus(providerName, 0, err.Error())
		}
	}

	return &repoHandle{client: client, owner: owner, repo: repo, projectName: repo}, nil
}

func asHandle(h port.RepoHandle) (*repoHandle, error) {
	rh, ok := h.(*repoHandle)
	if !ok {
		return nil, domain.NewValidationError(providerName, "repo handle is not a github handle")
	}
	return rh, nil
}

func (c *Client) GetFile(ctx context.Context, handle port.RepoHandle, path, ref string) ([]byte, bool, error) {
	rh, err := asHandle(handle)
	if err != nil {
		return nil, false, err
	}

	opts := &gogithub.RepositoryContentGetOptions{Ref: ref}
	fileContent, _, resp, err := rh.client.Repositories.GetContents(ctx, rh.owner, rh.repo, path, opts)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		if status == 404 {
			return nil, false, nil
		}
		return nil, false, domain.MapHTTPStatus(providerName, status, err.Error())
	}
	if fileContent == nil {
		return nil, false, nil
	}
	content, err := fileContent.GetContent()
	if err != nil {
		return nil, false, domain.NewEncodingError(providerName, "decode file content: "+err.Error())
	}
	return []byte(content), true, nil
}

func (c *Client) GetInvolvedFiles(ctx context.Context, handle port.RepoHandle, fromCommit, toCommit string) (map[string]string, error) {
	rh, err := asHandle(handle)
	if err != nil {
		return nil, err
	}

	// A new branch's push carries the all-zero SHA as "before" — there is
	// no prior state to compare against, so the involved set is every
	// file the commit itself introduces, per spec.md §4.A.
	if fromCommit == domain.ZeroCommit {
		commit, resp, err := rh.client.Repositories.GetCommit(ctx, rh.owner, rh.repo, toCommit, nil)
		if err != nil {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			return nil, domain.MapHTTPStatus(providerName, status, err.Error())
		}
		return filesToPatchMap(commit.Files), nil
	}

	if fromCommit == "" {
		fromCommit = toCommit + "^"
	}

	comparison, resp, err := rh.client.Repositories.CompareCommits(ctx, rh.owner, rh.repo, fromCommit, toCommit, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, domain.MapHTTPStatus(providerName, status, err.Error())
	}

	return filesToPatchMap(comparison.Files), nil
}

// filesToPatchMap turns GitHub's file-change list into a path->patch map,
// per spec.md §4.A: deleted files are omitted, and a rename removes the
// old path from the set and adds the new one.
func filesToPatchMap(files []*gogithub.CommitFile) map[string]string {
	out := make(map[string]string, len(files))
	for _, f := range files {
		if f.GetStatus() == "removed" {
			continue
		}
		if f.GetStatus() == "renamed" {
			delete(out, f.GetPreviousFilename())
		}
		out[f.GetFilename()] = f.GetPatch()
	}
	return out
}

func (c *Client) GetProjectFiles(ctx context.Context, handle port.RepoHandle, commit string, targetGlobs []string) (map[string][]byte, error) {
	rh, err := asHandle(handle)
	if err != nil {
		return nil, err
	}

	tree, resp, err := rh.client.Git.GetTree(ctx, rh.owner, rh.repo, commit, true)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, domain.MapHTTPStatus(providerName, status, err.Error())
	}

	out := map[string][]byte{}
	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" {
			continue
		}
		path := entry.GetPath()
		content, ok, err := c.GetFile(ctx, handle, path, commit)
		if err != nil || !ok {
			continue
		}
		out[path] = content
	}
	return out, nil
}

func (c *Client) FormatCommitID(ctx context.Context, handle port.RepoHandle, branch, commitID string) (string, error) {
	rh, err := asHandle(handle)
	if err != nil {
		return "", err
	}
	if commitID != "" {
		commit, resp, err := rh.client.Repositories.GetCommit(ctx, rh.owner, rh.repo, commitID, nil)
		if err != nil {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			return "", domain.MapHTTPStatus(providerName, status, err.Error())
		}
		return commit.GetSHA(), nil
	}

	branchInfo, resp, err := rh.client.Repositories.GetBranch(ctx, rh.owner, rh.repo, branch, 1)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return "", domain.MapHTTPStatus(providerName, status, err.Error())
	}
	return branchInfo.GetCommit().GetSHA(), nil
}

func (c *Client) GetRules(ctx context.Context, handle port.RepoHandle, commit, branch string) ([]port.RawRule, error) {
	rh, err := asHandle(handle)
	if err != nil {
		return nil, err
	}

	_, dirContent, resp, err := rh.client.Repositories.GetContents(ctx, rh.owner, rh.repo, ".codereview", &gogithub.RepositoryContentGetOptions{Ref: commit})
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		if status == 404 {
			return nil, nil
		}
		return nil, domain.MapHTTPStatus(providerName, status, err.Error())
	}

	var rules []port.RawRule
	for _, entry := range dirContent {
		name := entry.GetName()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		body, ok, err := c.GetFile(ctx, handle, entry.GetPath(), commit)
		if err != nil || !ok {
			continue
		}
		rules = append(rules, port.RawRule{"_source_path": entry.GetPath(), "_raw": string(body)})
	}
	return rules, nil
}

// PostSummaryComment posts the orchestrator's PR summary comment per
// spec.md §6's template. It always swallows errors: commenting is
// best-effort and must not block report delivery.
func (c *Client) PostSummaryComment(ctx context.Context, handle port.RepoHandle, prNumber, reportURL string, findings []domain.ReportEntry) bool {
	rh, err := asHandle(handle)
	if err != nil {
		return false
	}
	num, err := strconv.Atoi(prNumber)
	if err != nil {
		return false
	}

	body := domain.FormatPRComment(reportURL, findings)
	_, _, err = rh.client.Issues.CreateComment(ctx, rh.owner, rh.repo, num, &gogithub.IssueComment{Body: &body})
	return err == nil
}

// ParseWebhook normalises a GitHub webhook payload into a RequestDescriptor,
// grounded on the original parse_github_parameters/validate_github_event.
func (c *Client) ParseWebhook(ctx context.Context, headers map[string]string, body []byte) (port.RequestDescriptor, error) {
	event := headerValue(headers, "X-GitHub-Event")
	if !supportedEvents[event] {
		// An unrecognised event kind (issues, star, etc.) is not malformed
		// input — it is simply not one this orchestrator reviews. Skip it
		// rather than failing the delivery.
		return port.RequestDescriptor{Skip: true}, nil
	}

	var payload struct {
		Repository struct {
			HTMLURL  string `json:"html_url"`
			FullName string `json:"full_name"`
			Name     string `json:"name"`
		} `json:"repository"`
		Ref    string `json:"ref"`
		After  string `json:"after"`
		Before string `json:"before"`
		Pusher struct {
			Name string `json:"name"`
		} `json:"pusher"`
		Action      string `json:"action"`
		PullRequest struct {
			Number int    `json:"number"`
			Base   struct{ Ref string `json:"ref"` } `json:"base"`
			Head   struct {
				Ref string `json:"ref"`
				SHA string `json:"sha"`
			} `json:"head"`
			HTMLURL string `json:"html_url"`
			Title   string `json:"title"`
		} `json:"pull_request"`
		Sender struct {
			Login string `json:"login"`
		} `json:"sender"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return port.RequestDescriptor{}, domain.NewValidationError(providerName, "invalid JSON in github webhook body: "+err.Error())
	}

	repoURL := "https://github.com"
	if payload.Repository.HTMLURL != "" && payload.Repository.FullName != "" &&
		strings.HasSuffix(payload.Repository.HTMLURL, "/"+payload.Repository.FullName) {
		repoURL = strings.TrimSuffix(payload.Repository.HTMLURL, "/"+payload.Repository.FullName)
	}

	desc := port.RequestDescriptor{
		Source:      domain.SourceGitHub,
		WebURL:      payload.Repository.HTMLURL,
		RepoURL:     repoURL,
		ProjectID:   payload.Repository.FullName,
		ProjectName: payload.Repository.Name,
	}

	switch event {
	case "push":
		desc.EventType = domain.EventPush
		desc.TargetBranch = strings.TrimPrefix(payload.Ref, "refs/heads/")
		desc.Ref = payload.Ref
		desc.CommitID = payload.After
		desc.PreviousCommitID = payload.Before
		desc.Username = payload.Pusher.Name
	case "pull_request":
		desc.EventType = domain.EventMerge
		desc.TargetBranch = payload.PullRequest.Base.Ref
		desc.Ref = payload.PullRequest.Head.Ref
		if !processablePRActions[payload.Action] {
			desc.Skip = true
			break
		}
		desc.CommitID = payload.PullRequest.Head.SHA
		desc.Username = payload.Sender.Login
		desc.PRNumber = strconv.Itoa(payload.PullRequest.Number)
		desc.PRURL = payload.PullRequest.HTMLURL
		desc.PRTitle = payload.PullRequest.Title
	}

	if desc.ProjectName == "" && desc.ProjectID != "" {
		if _, repo, ok := strings.Cut(desc.ProjectID, "/"); ok {
			desc.ProjectName = repo
		} else {
			desc.ProjectName = desc.ProjectID
		}
	}

	return desc, nil
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return strings.ToLower(v)
		}
	}
	return ""
}
