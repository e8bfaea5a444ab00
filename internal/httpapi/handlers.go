package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/bkyoung/review-orchestrator/internal/dispatcher"
	"github.com/bkyoung/review-orchestrator/internal/domain"
	"github.com/bkyoung/review-orchestrator/internal/port"
)

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := err.Error()
	if derr, ok := err.(*domain.Error); ok {
		message = derr.Message
		switch derr.Kind {
		case domain.ErrValidation:
			status = http.StatusBadRequest
		case domain.ErrAuthentication:
			status = http.StatusUnauthorized
		case domain.ErrForbidden:
			status = http.StatusForbidden
		case domain.ErrNotFound:
			status = http.StatusNotFound
		default:
			status = http.StatusInternalServerError
		}
	}
	writeJSON(w, status, map[string]string{"error": message})
}

// handleWebhook accepts a platform webhook payload, normalises it, records
// a Start-state RequestRecord, and hands off dispatch asynchronously.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, domain.NewValidationError("httpapi", "failed to read request body"))
		return
	}

	scm, source, err := h.selectSCM(r.Header)
	if err != nil {
		writeError(w, err)
		return
	}

	desc, err := scm.ParseWebhook(ctx, flattenHeaders(r.Header), body)
	if err != nil {
		writeError(w, err)
		return
	}
	desc.Source = source

	if desc.Skip || desc.CommitID == "" {
		writeJSON(w, http.StatusOK, map[string]any{"skipped": true})
		return
	}

	requestID := uuid.NewString()
	now := time.Now()
	rec := domain.RequestRecord{
		Source:           desc.Source,
		ProjectID:        desc.ProjectID,
		ProjectName:      desc.ProjectName,
		RepoURL:          desc.RepoURL,
		EventType:        desc.EventType,
		TargetBranch:     desc.TargetBranch,
		CommitID:         desc.CommitID,
		PreviousCommitID: desc.PreviousCommitID,
		RequestID:        requestID,
		TaskStatus:       domain.StatusStart,
		PRNumber:         desc.PRNumber,
		PRURL:            desc.PRURL,
		PRTitle:          desc.PRTitle,
		PrivateToken:     desc.PrivateToken,
		CreateTime:       now,
		UpdateTime:       now,
	}
	if err := h.Requests.Create(ctx, rec); err != nil {
		writeError(w, err)
		return
	}

	d, ok := h.Dispatchers[source]
	if !ok {
		writeError(w, domain.NewValidationError("httpapi", "no dispatcher configured for source \""+string(source)+"\""))
		return
	}

	ev := dispatcher.Event{
		Descriptor: desc,
		RequestID:  requestID,
		RawContext: map[string]any{"source": string(desc.Source), "event_type": string(desc.EventType)},
	}
	go h.dispatchAsync(d, ev)

	writeJSON(w, http.StatusOK, map[string]string{"request_id": requestID, "commit_id": desc.CommitID})
}

// webToolRequest is the on-demand trigger payload (spec.md §6): an
// explicit request for one rule against one commit, bypassing the normal
// webhook flow entirely.
type webToolRequest struct {
	Source          string `json:"source"`
	ProjectID       string `json:"project_id"`
	RepoURL         string `json:"repo_url"`
	PrivateToken    string `json:"private_token"`
	RuleName        string `json:"rule_name"`
	Mode            string `json:"mode"`
	Model           string `json:"model"`
	Target          string `json:"target"`
	TargetBranch    string `json:"target_branch"`
	CommitID        string `json:"commit_id"`
	PromptSystem    string `json:"prompt_system"`
	PromptUser      string `json:"prompt_user"`
	Confirm         bool   `json:"confirm"`
	ConfirmPrompt   string `json:"confirm_prompt"`
	EnableReasoning bool   `json:"enable_reasoning"`
	ReasoningBudget int    `json:"reasoning_budget"`
}

func (h *Handler) handleWebTool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req webToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewValidationError("httpapi", "invalid JSON body: "+err.Error()))
		return
	}

	source := domain.Source(req.Source)
	_, ok := h.SCMs[source]
	if !ok {
		writeError(w, domain.NewValidationError("httpapi", "unsupported source \""+req.Source+"\""))
		return
	}
	d, ok := h.Dispatchers[source]
	if !ok {
		writeError(w, domain.NewValidationError("httpapi", "no dispatcher configured for source \""+req.Source+"\""))
		return
	}
	if req.ProjectID == "" || req.CommitID == "" || req.PromptSystem == "" || req.PromptUser == "" {
		writeError(w, domain.NewValidationError("httpapi", "project_id, commit_id, prompt_system, and prompt_user are required"))
		return
	}

	mode := req.Mode
	if mode == "" {
		mode = h.DefaultMode
	}
	model := req.Model
	if model == "" {
		model = h.DefaultModel
	}
	ruleName := req.RuleName
	if ruleName == "" {
		ruleName = "webtool"
	}

	desc := port.RequestDescriptor{
		Source:       source,
		ProjectID:    req.ProjectID,
		RepoURL:      req.RepoURL,
		PrivateToken: req.PrivateToken,
		EventType:    domain.EventMerge,
		TargetBranch: req.TargetBranch,
		CommitID:     req.CommitID,
	}

	requestID := uuid.NewString()
	now := time.Now()
	rec := domain.RequestRecord{
		Source:       source,
		ProjectID:    req.ProjectID,
		RepoURL:      req.RepoURL,
		EventType:    desc.EventType,
		TargetBranch: req.TargetBranch,
		CommitID:     req.CommitID,
		RequestID:    requestID,
		TaskStatus:   domain.StatusStart,
		PrivateToken: req.PrivateToken,
		CreateTime:   now,
		UpdateTime:   now,
	}
	if err := h.Requests.Create(ctx, rec); err != nil {
		writeError(w, err)
		return
	}

	ev := dispatcher.Event{
		Descriptor: desc,
		RequestID:  requestID,
		RawContext: map[string]any{"invoker": "webtool", "rule_name": ruleName},
		WebTool: &dispatcher.WebToolTrigger{
			RuleName:        ruleName,
			Mode:            mode,
			Model:           model,
			Target:          req.Target,
			PromptSystem:    req.PromptSystem,
			PromptUser:      req.PromptUser,
			Confirm:         req.Confirm,
			ConfirmPrompt:   req.ConfirmPrompt,
			EnableReasoning: req.EnableReasoning,
			ReasoningBudget: req.ReasoningBudget,
		},
	}
	go h.dispatchAsync(d, ev)

	writeJSON(w, http.StatusOK, map[string]string{"request_id": requestID, "commit_id": req.CommitID})
}

func (h *Handler) dispatchAsync(d *dispatcher.Dispatcher, ev dispatcher.Event) {
	if _, err := d.Dispatch(context.Background(), ev); err != nil && h.Logger != nil {
		h.Logger.LogWarning("dispatch failed", "request_id", ev.RequestID, "err", err.Error())
	}
}

// taskResult is one task's contribution to the result-check response
// (spec.md §6): the raw invocation payload alongside its findings, so a
// caller can inspect exactly what was sent to and returned by the model.
type taskResult struct {
	Number         int             `json:"number"`
	Mode           string          `json:"mode"`
	Model          string          `json:"model"`
	Succ           *bool           `json:"succ"`
	Message        string          `json:"message"`
	BedrockSystem  string          `json:"bedrock_system"`
	BedrockPrompt  string          `json:"bedrock_prompt"`
	BedrockPayload string          `json:"bedrock_payload"`
	Result         json.RawMessage `json:"result,omitempty"`
}

type resultResponse struct {
	Succ    bool         `json:"succ"`
	Ready   bool         `json:"ready"`
	URL     string       `json:"url"`
	Summary string       `json:"summary"`
	Tasks   []taskResult `json:"tasks"`
}

func (h *Handler) handleResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	commitID := r.URL.Query().Get("commit_id")
	requestID := r.URL.Query().Get("request_id")
	if commitID == "" || requestID == "" {
		writeError(w, domain.NewValidationError("httpapi", "commit_id and request_id are required"))
		return
	}

	rec, ok, err := h.Requests.Get(ctx, commitID, requestID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, &domain.Error{Kind: domain.ErrNotFound, Message: "no request found for that commit_id/request_id"})
		return
	}

	tasks, err := h.Tasks.ListByRequest(ctx, requestID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := resultResponse{
		Succ:    rec.TaskStatus == domain.StatusComplete,
		Ready:   rec.TaskStatus == domain.StatusComplete,
		URL:     rec.ReportURL,
		Summary: resultSummary(rec),
	}
	for _, task := range tasks {
		tr := taskResult{
			Number:        task.Number,
			Mode:          string(task.Mode),
			Model:         task.Model,
			Succ:          task.Succ,
			Message:       task.Message,
			BedrockSystem: task.BedrockSystem,
			BedrockPrompt: task.BedrockPrompt,
		}
		if task.Data != "" {
			raw, err := h.Blobs.Get(ctx, task.Data)
			if err != nil {
				if h.Logger != nil {
					h.Logger.LogWarning("failed to fetch result blob", "request_id", requestID, "number", task.Number, "err", err.Error())
				}
			} else {
				tr.Result = json.RawMessage(raw)
				var result domain.ResultObject
				if err := json.Unmarshal(raw, &result); err == nil {
					tr.BedrockPayload = result.Payload
				}
			}
		}
		resp.Tasks = append(resp.Tasks, tr)
	}

	writeJSON(w, http.StatusOK, resp)
}

func resultSummary(rec domain.RequestRecord) string {
	switch rec.TaskStatus {
	case domain.StatusComplete:
		return "review complete"
	case domain.StatusStart, domain.StatusInitializing:
		return "review queued"
	default:
		return "review in progress"
	}
}

func (h *Handler) selectSCM(header http.Header) (port.SourceControl, domain.Source, error) {
	if header.Get("X-GitHub-Event") != "" {
		if scm, ok := h.SCMs[domain.SourceGitHub]; ok {
			return scm, domain.SourceGitHub, nil
		}
	}
	if header.Get("X-Gitlab-Event") != "" {
		if scm, ok := h.SCMs[domain.SourceGitLab]; ok {
			return scm, domain.SourceGitLab, nil
		}
	}
	return nil, "", domain.NewValidationError("httpapi", "request does not carry a recognised webhook event header")
}
