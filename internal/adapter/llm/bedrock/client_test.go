package bedrock_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bkyoung/review-orchestrator/internal/adapter/llm/bedrock"
	"github.com/bkyoung/review-orchestrator/internal/port"
)

type fakeAPI struct {
	lastInput *bedrockruntime.ConverseInput
	out       *bedrockruntime.ConverseOutput
	err       error
}

func (f *fakeAPI) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.lastInput = params
	if f.out != nil {
		return f.out, f.err
	}
	return &bedrockruntime.ConverseOutput{}, f.err
}

func textOutput(text string) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{
			Value: types.Message{
				Role:    types.ConversationRoleAssistant,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: text}},
			},
		},
	}
}

func TestClient_Invoke_UnknownModel(t *testing.T) {
	api := &fakeAPI{}
	c := bedrock.NewClient(api, 4096, 0.9, 0.2)
	_, err := c.Invoke(context.Background(), port.InvokeRequest{Model: "gpt-5"})
	assert.Error(t, err)
	assert.Nil(t, api.lastInput)
}

func TestClient_Invoke_BuildsRequestAndExtractsText(t *testing.T) {
	api := &fakeAPI{out: textOutput("looks fine")}
	c := bedrock.NewClient(api, 4096, 0.9, 0.2)

	resp, err := c.Invoke(context.Background(), port.InvokeRequest{
		Model:    "claude3.5-sonnet",
		System:   "you are a reviewer",
		Messages: []port.ConversationMessage{{Role: "user", Text: "review this diff"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "looks fine", resp.Text)

	require.NotNil(t, api.lastInput)
	assert.Equal(t, "anthropic.claude-3-5-sonnet-20240620-v1:0", *api.lastInput.ModelId)
	require.Len(t, api.lastInput.Messages, 1)
	require.NotNil(t, api.lastInput.InferenceConfig.TopP)
}

func TestClient_Invoke_TemperatureOnlyModelOmitsTopP(t *testing.T) {
	api := &fakeAPI{out: textOutput("ok")}
	c := bedrock.NewClient(api, 4096, 0.9, 0.2)

	_, err := c.Invoke(context.Background(), port.InvokeRequest{
		Model:            "claude4-sonnet",
		ParamRestriction: "temperature_only",
		Messages:         []port.ConversationMessage{{Role: "user", Text: "hi"}},
	})
	require.NoError(t, err)
	assert.Nil(t, api.lastInput.InferenceConfig.TopP)
	require.NotNil(t, api.lastInput.InferenceConfig.Temperature)
}

func TestClient_Invoke_ReasoningEnabledSetsThinkingAndForcesTemperature(t *testing.T) {
	api := &fakeAPI{out: textOutput("ok")}
	c := bedrock.NewClient(api, 4096, 0.9, 0.2)

	_, err := c.Invoke(context.Background(), port.InvokeRequest{
		Model:           "claude4-sonnet",
		EnableReasoning: true,
		ReasoningBudget: 200,
		Messages:        []port.ConversationMessage{{Role: "user", Text: "hi"}},
	})
	require.NoError(t, err)
	require.NotNil(t, api.lastInput.InferenceConfig.Temperature)
	assert.Equal(t, float32(1.0), *api.lastInput.InferenceConfig.Temperature)
	assert.Nil(t, api.lastInput.InferenceConfig.TopP)
	require.NotNil(t, api.lastInput.AdditionalModelRequestFields)
}

func TestClient_Invoke_ReasoningDisabledOnUnsupportedModel(t *testing.T) {
	api := &fakeAPI{out: textOutput("ok")}
	c := bedrock.NewClient(api, 4096, 0.9, 0.2)

	_, err := c.Invoke(context.Background(), port.InvokeRequest{
		Model:           "claude3.5-sonnet",
		EnableReasoning: true,
		Messages:        []port.ConversationMessage{{Role: "user", Text: "hi"}},
	})
	require.NoError(t, err)
	assert.Nil(t, api.lastInput.AdditionalModelRequestFields)
	assert.NotNil(t, api.lastInput.InferenceConfig.TopP)
}

func TestClient_Invoke_TransportError(t *testing.T) {
	api := &fakeAPI{err: errors.New("connection reset")}
	c := bedrock.NewClient(api, 4096, 0.9, 0.2)
	_, err := c.Invoke(context.Background(), port.InvokeRequest{
		Model:    "claude3-haiku",
		Messages: []port.ConversationMessage{{Role: "user", Text: "hi"}},
	})
	assert.Error(t, err)
}

func TestClient_ModelConfig(t *testing.T) {
	c := bedrock.NewClient(&fakeAPI{}, 4096, 0.9, 0.2)
	cfg, ok := c.ModelConfig("claude3.5-sonnet")
	require.True(t, ok)
	assert.Equal(t, "anthropic.claude-3-5-sonnet-20240620-v1:0", cfg.ModelID)

	_, ok = c.ModelConfig("llama3")
	assert.False(t, ok)
}
