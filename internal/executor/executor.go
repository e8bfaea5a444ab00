// Package executor pulls one queued task, invokes the LLM with bounded
// retries, parses its structured output, and persists the result, per
// spec.md §4.E.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bkyoung/review-orchestrator/internal/config"
	"github.com/bkyoung/review-orchestrator/internal/dispatcher"
	"github.com/bkyoung/review-orchestrator/internal/domain"
	"github.com/bkyoung/review-orchestrator/internal/port"
)

const timestampLayout = "2006-01-02 15:04:05.000"

// ProgressChecker is invoked after every successful task completion to
// detect whether the owning request is now done (spec.md §4.F).
type ProgressChecker interface {
	CheckProgress(ctx context.Context, commitID, requestID string) error
}

// Executor implements the Task Executor component.
type Executor struct {
	LLM      port.LLMInvoker
	Tasks    port.TaskStore
	Requests port.RequestStore
	Blobs    port.BlobStore
	Progress ProgressChecker
	Config   config.Config
	Logger   port.Logger
}

// New builds an Executor from its collaborators.
func New(llm port.LLMInvoker, tasks port.TaskStore, requests port.RequestStore, blobs port.BlobStore, progress ProgressChecker, cfg config.Config, logger port.Logger) *Executor {
	return &Executor{LLM: llm, Tasks: tasks, Requests: requests, Blobs: blobs, Progress: progress, Config: cfg, Logger: logger}
}

// errorRecord mirrors one entry of the Python original's error_messages
// list, persisted verbatim as the TaskRecord's message field on failure.
type errorRecord struct {
	Err string `json:"err"`
}

// conversationState tracks one task's multi-turn exchange with the model.
// current_retry is a single shared budget consumed by both transient
// invocation failures and output-parse rectification attempts, matching
// the original's invoke_bedrock/invoke_and_extract_bedrock coupling.
type conversationState struct {
	system       string
	messages     []port.ConversationMessage
	userTurns    []string
	currentRetry int
	maxRetry     int
	errors       []errorRecord
	reasoning    string
	payload      string
	startTime    string
	endTime      string
	timecostMS   int64
}

func (s *conversationState) appendUser(text string) {
	s.messages = append(s.messages, port.ConversationMessage{Role: "user", Text: text})
	s.userTurns = append(s.userTurns, text)
}

func (s *conversationState) appendAssistant(text string) {
	s.messages = append(s.messages, port.ConversationMessage{Role: "assistant", Text: text})
}

// Execute decodes one base64-wrapped TaskMessage and drives it to a
// terminal state: a persisted ResultObject plus a terminal TaskRecord,
// with the owning RequestRecord's counters bumped atomically.
func (e *Executor) Execute(ctx context.Context, payload []byte) error {
	msg, err := dispatcher.DecodeTaskMessage(payload)
	if err != nil {
		return domain.NewValidationError("executor", "decode task message: "+err.Error())
	}
	if err := validateTaskMessage(msg); err != nil {
		return err
	}

	if err := e.Tasks.Create(ctx, domain.TaskRecord{
		RequestID: msg.RequestID,
		Number:    msg.Number,
		Mode:      domain.Mode(msg.Mode),
		Model:     msg.Model,
	}); err != nil {
		return fmt.Errorf("create task record: %w", err)
	}

	state := &conversationState{
		system:   msg.PromptSystem,
		maxRetry: e.Config.SQSMaxRetries,
	}

	cfg, ok := e.LLM.ModelConfig(msg.Model)
	if !ok {
		return e.fail(ctx, msg, state, domain.NewValidationError("executor", "unknown model "+msg.Model))
	}

	findings, err := e.converse(ctx, msg, cfg, state, msg.PromptUser)
	if err != nil {
		return e.fail(ctx, msg, state, err)
	}

	if msg.ConfirmPrompt != "" {
		confirmed, err := e.converse(ctx, msg, cfg, state, msg.ConfirmPrompt)
		if err != nil {
			return e.fail(ctx, msg, state, err)
		}
		findings = confirmed
	}

	return e.succeed(ctx, msg, state, findings)
}

// converse runs the bounded-loop rewrite of the original's recursive
// invoke-then-extract-then-rectify control flow (design note §9): an
// explicit attempt counter replaces exception-driven recursion.
func (e *Executor) converse(ctx context.Context, msg dispatcher.TaskMessage, cfg port.ModelConfig, state *conversationState, firstTurn string) ([]domain.Finding, error) {
	state.appendUser(firstTurn)

	for {
		reply, err := e.invokeWithBackoff(ctx, msg, cfg, state)
		if err != nil {
			return nil, err
		}
		state.appendAssistant(reply.Text)
		state.reasoning = reply.Reasoning

		findings, perr := Extract(reply.Text)
		if perr == nil {
			return findings, nil
		}

		state.currentRetry++
		if state.currentRetry >= state.maxRetry {
			return nil, perr
		}
		state.appendUser(JSONRectifierPrompt)
	}
}

func (e *Executor) invokeWithBackoff(ctx context.Context, msg dispatcher.TaskMessage, cfg port.ModelConfig, state *conversationState) (port.InvokeResponse, error) {
	for {
		start := time.Now()
		resp, err := e.LLM.Invoke(ctx, port.InvokeRequest{
			Model:            msg.Model,
			System:           state.system,
			Messages:         state.messages,
			MaxTokens:        e.Config.MaxTokenToSample,
			Temperature:      e.Config.Temperature,
			TopP:             e.Config.TopP,
			ParamRestriction: cfg.ParamRestriction,
			EnableReasoning:  msg.EnableReasoning,
			ReasoningBudget:  msg.ReasoningBudget,
		})
		end := time.Now()
		if err == nil {
			if state.startTime == "" {
				state.startTime = formatTimestamp(start)
			}
			state.endTime = formatTimestamp(end)
			state.timecostMS += end.Sub(start).Milliseconds()
			state.payload = invokePayloadSummary(msg.Model, state)
			return resp, nil
		}

		state.errors = append(state.errors, errorRecord{Err: err.Error()})
		state.currentRetry++
		if state.currentRetry >= state.maxRetry {
			return port.InvokeResponse{}, fmt.Errorf("exhausted retries invoking %s: %w", msg.Model, err)
		}

		delay := BackoffDelay(e.Config.SQSBaseDelayDuration(), e.Config.SQSMaxDelayDuration(), state.currentRetry)
		if err := e.updateRetryTimes(ctx, msg, state.currentRetry); err != nil && e.Logger != nil {
			e.Logger.LogWarning("failed to record retry count", "request_id", msg.RequestID, "number", msg.Number, "err", err.Error())
		}
		if serr := Sleep(ctx, delay); serr != nil {
			return port.InvokeResponse{}, serr
		}
	}
}

func (e *Executor) updateRetryTimes(ctx context.Context, msg dispatcher.TaskMessage, retryTimes int) error {
	return e.Tasks.SetRetryTimes(ctx, msg.RequestID, msg.Number, retryTimes)
}

func (e *Executor) succeed(ctx context.Context, msg dispatcher.TaskMessage, state *conversationState, findings []domain.Finding) error {
	result := domain.ResultObject{
		CommitID:     msg.CommitID,
		RequestID:    msg.RequestID,
		Rule:         msg.RuleName,
		Model:        msg.Model,
		Content:      findings,
		Timestamp:    formatTimestamp(time.Now()),
		StartTime:    state.startTime,
		EndTime:      state.endTime,
		Timecost:     state.timecostMS,
		Payload:      state.payload,
		PromptSystem: state.system,
		PromptUser:   state.userTurns,
		Reasoning:    state.reasoning,
	}
	blob, err := json.Marshal(result)
	if err != nil {
		return domain.NewEncodingError("executor", "marshal result object: "+err.Error())
	}
	key := fmt.Sprintf("result/%s/%d.json", msg.RequestID, msg.Number)
	if err := e.Blobs.Put(ctx, key, "application/json", blob); err != nil {
		return fmt.Errorf("persist result blob: %w", err)
	}

	bedrock := domain.TaskRecord{
		BedrockSystem:    state.system,
		BedrockPrompt:    joinUserTurns(state.userTurns),
		BedrockModel:     msg.Model,
		BedrockStartTime: state.startTime,
		BedrockEndTime:   state.endTime,
		BedrockTimecost:  state.timecostMS,
	}
	if err := e.Tasks.CompleteSuccess(ctx, msg.RequestID, msg.Number, key, bedrock); err != nil {
		return fmt.Errorf("persist task success: %w", err)
	}
	if err := e.Requests.IncrementComplete(ctx, msg.CommitID, msg.RequestID); err != nil {
		return fmt.Errorf("increment task_complete: %w", err)
	}

	if e.Progress != nil {
		if err := e.Progress.CheckProgress(ctx, msg.CommitID, msg.RequestID); err != nil && e.Logger != nil {
			e.Logger.LogWarning("progress check failed", "request_id", msg.RequestID, "err", err.Error())
		}
	}
	return nil
}

func (e *Executor) fail(ctx context.Context, msg dispatcher.TaskMessage, state *conversationState, cause error) error {
	historyJSON, err := json.Marshal(state.errors)
	if err != nil {
		historyJSON = []byte(`[]`)
	}
	bedrock := domain.TaskRecord{
		BedrockSystem:    state.system,
		BedrockPrompt:    joinUserTurns(state.userTurns),
		BedrockModel:     msg.Model,
		BedrockStartTime: state.startTime,
		BedrockEndTime:   state.endTime,
		BedrockTimecost:  state.timecostMS,
	}
	if terr := e.Tasks.CompleteFailure(ctx, msg.RequestID, msg.Number, string(historyJSON), bedrock); terr != nil && e.Logger != nil {
		e.Logger.LogWarning("failed to persist task failure", "request_id", msg.RequestID, "err", terr.Error())
	}
	if terr := e.Requests.IncrementFailure(ctx, msg.CommitID, msg.RequestID); terr != nil && e.Logger != nil {
		e.Logger.LogWarning("failed to increment task_failure", "request_id", msg.RequestID, "err", terr.Error())
	}
	if e.Progress != nil {
		if perr := e.Progress.CheckProgress(ctx, msg.CommitID, msg.RequestID); perr != nil && e.Logger != nil {
			e.Logger.LogWarning("progress check failed", "request_id", msg.RequestID, "err", perr.Error())
		}
	}
	return cause
}

func validateTaskMessage(msg dispatcher.TaskMessage) error {
	missing := []string{}
	if msg.CommitID == "" {
		missing = append(missing, "commit_id")
	}
	if msg.Mode == "" {
		missing = append(missing, "mode")
	}
	if msg.Model == "" {
		missing = append(missing, "model")
	}
	if msg.RuleName == "" {
		missing = append(missing, "rule_name")
	}
	if msg.PromptSystem == "" {
		missing = append(missing, "prompt_system")
	}
	if msg.PromptUser == "" {
		missing = append(missing, "prompt_user")
	}
	if len(missing) > 0 {
		return domain.NewValidationError("executor", "task message missing required fields: "+fmt.Sprint(missing))
	}
	return nil
}

func joinUserTurns(turns []string) string {
	b, err := json.Marshal(turns)
	if err != nil {
		return ""
	}
	return string(b)
}

func invokePayloadSummary(model string, state *conversationState) string {
	b, err := json.Marshal(map[string]any{
		"model":    model,
		"system":   state.system,
		"messages": state.messages,
	})
	if err != nil {
		return ""
	}
	return string(b)
}

func formatTimestamp(t time.Time) string {
	return t.Format(timestampLayout)
}
