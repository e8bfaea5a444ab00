// Package bedrock implements port.LLMInvoker against Amazon Bedrock's
// Anthropic Claude models via the Converse API, grounded on the
// SendMessage/ReceiveMessage API-subset-interface pattern the SQS and
// DynamoDB adapters use for testability.
package bedrock

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/aws/smithy-go/document"

	"github.com/bkyoung/review-orchestrator/internal/domain"
	"github.com/bkyoung/review-orchestrator/internal/port"
)

// minReasoningBudget is the floor Bedrock enforces on Anthropic's
// extended-thinking token budget.
const minReasoningBudget = 1024

// API is the subset of the Bedrock Runtime client this adapter calls.
type API interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Client implements port.LLMInvoker against Bedrock's Converse API.
type Client struct {
	api         API
	maxTokens   int
	topP        float64
	temperature float64
}

// NewClient builds a Client. maxTokens/topP/temperature are the
// operator-configured defaults; callers may still override maxTokens
// per-request via InvokeRequest.MaxTokens when it is non-zero.
func NewClient(api API, maxTokens int, topP, temperature float64) *Client {
	return &Client{api: api, maxTokens: maxTokens, topP: topP, temperature: temperature}
}

// Invoke sends one conversation turn through Converse and returns the
// assistant's reply text, plus any extended-thinking reasoning trace.
func (c *Client) Invoke(ctx context.Context, req port.InvokeRequest) (port.InvokeResponse, error) {
	cfg, ok := c.ModelConfig(req.Model)
	if !ok {
		return port.InvokeResponse{}, domain.NewValidationError("bedrock", "unknown model "+req.Model)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	reasoning := req.EnableReasoning && cfg.SupportsReasoning

	// Extended thinking requires temperature=1.0 and rejects top_p
	// entirely, per spec.md §4.E — this overrides ParamRestriction's
	// plain temperature-only gate rather than composing with it.
	if reasoning {
		temperature = 1.0
	}

	inference := &types.InferenceConfiguration{
		MaxTokens:   aws32(maxTokens),
		Temperature: aws32f(float32(temperature)),
	}
	if !reasoning && req.ParamRestriction != "temperature_only" {
		topP := req.TopP
		if topP == 0 {
			topP = c.topP
		}
		inference.TopP = aws32f(float32(topP))
	}

	messages := make([]types.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := types.ConversationRoleUser
		if m.Role == "assistant" {
			role = types.ConversationRoleAssistant
		}
		messages = append(messages, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Text}},
		})
	}

	in := &bedrockruntime.ConverseInput{
		ModelId:         &cfg.ModelID,
		InferenceConfig: inference,
		Messages:        messages,
	}
	if req.System != "" {
		in.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.System}}
	}
	if reasoning {
		budget := req.ReasoningBudget
		if budget < minReasoningBudget {
			budget = minReasoningBudget
		}
		in.AdditionalModelRequestFields = document.NewLazyDocument(map[string]any{
			"thinking": map[string]any{"type": "enabled", "budget_tokens": budget},
		})
	}

	out, err := c.api.Converse(ctx, in)
	if err != nil {
		return port.InvokeResponse{}, mapError(req.Model, err)
	}

	return extractResponse(out)
}

func extractResponse(out *bedrockruntime.ConverseOutput) (port.InvokeResponse, error) {
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return port.InvokeResponse{}, &domain.Error{Kind: domain.ErrUnknown, Message: "converse output carried no message", Retryable: false, Provider: "bedrock"}
	}

	var resp port.InvokeResponse
	for _, block := range msg.Value.Content {
		if b, ok := block.(*types.ContentBlockMemberText); ok {
			resp.Text += b.Value
		}
	}
	return resp, nil
}

// mapError classifies a transport error as retryable or not, per
// domain.Error's Retryable field (spec.md §4.E backoff gate).
func mapError(model string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		retryable := false
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "ModelTimeoutException", "ServiceUnavailableException", "InternalServerException":
			retryable = true
		}
		return &domain.Error{Kind: domain.ErrUnknown, Message: fmt.Sprintf("bedrock %s: %s", model, apiErr.ErrorMessage()), Retryable: retryable, Provider: "bedrock"}
	}
	return &domain.Error{Kind: domain.ErrUnknown, Message: fmt.Sprintf("bedrock %s: %s", model, err.Error()), Retryable: true, Provider: "bedrock"}
}

func aws32(v int) *int32 {
	v32 := int32(v)
	return &v32
}

func aws32f(v float32) *float32 { return &v }
