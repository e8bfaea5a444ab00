// Package dispatcher turns one accepted request into the set of queued
// review tasks, per spec.md §4.D.
package dispatcher

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// TaskMessage is the wire envelope enqueued on the task queue, one per
// dispatched work item.
type TaskMessage struct {
	Context         map[string]any `json:"context"`
	CommitID        string         `json:"commit_id"`
	RequestID       string         `json:"request_id"`
	Number          int            `json:"number"`
	Mode            string         `json:"mode"`
	Model           string         `json:"model"`
	Identity        string         `json:"identity"`
	Filepath        string         `json:"filepath"`
	RuleName        string         `json:"rule_name"`
	PromptSystem    string         `json:"prompt_system"`
	PromptUser      string         `json:"prompt_user"`
	ConfirmPrompt   string         `json:"confirm_prompt,omitempty"`
	EnableReasoning bool           `json:"enable_reasoning,omitempty"`
	ReasoningBudget int            `json:"reasoning_budget,omitempty"`
}

// Identity builds the lowercase slug "mode-model-number-rule_name-filepath"
// used to label a task in logs and dashboards.
func Identity(mode, model string, number int, ruleName, filepath string) string {
	return strings.ToLower(fmt.Sprintf("%s-%s-%d-%s-%s", mode, model, number, ruleName, filepath))
}

// EncodeTaskMessage JSON-serialises then base64-wraps msg so it survives
// transports that corrupt raw JSON.
func EncodeTaskMessage(msg TaskMessage) ([]byte, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	encoded := base64.StdEncoding.EncodeToString(raw)
	return []byte(encoded), nil
}

// DecodeTaskMessage reverses EncodeTaskMessage.
func DecodeTaskMessage(payload []byte) (TaskMessage, error) {
	raw, err := base64.StdEncoding.DecodeString(string(payload))
	if err != nil {
		return TaskMessage{}, err
	}
	var msg TaskMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return TaskMessage{}, err
	}
	return msg, nil
}
