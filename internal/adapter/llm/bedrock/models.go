package bedrock

import (
	"time"

	"github.com/bkyoung/review-orchestrator/internal/port"
)

// modelTable is the static mapping from the short model names rules refer
// to (e.g. "claude3.5-sonnet") to the Bedrock model ID and call-shape
// quirks dispatcher.SupportsModel has already filtered for (claude3/claude4
// families only).
var modelTable = map[string]port.ModelConfig{
	"claude3-haiku": {
		ModelID: "anthropic.claude-3-haiku-20240307-v1:0",
		Version: "bedrock-2023-05-31",
		Timeout: 60 * time.Second,
	},
	"claude3-sonnet": {
		ModelID: "anthropic.claude-3-sonnet-20240229-v1:0",
		Version: "bedrock-2023-05-31",
		Timeout: 90 * time.Second,
	},
	"claude3.5-sonnet": {
		ModelID: "anthropic.claude-3-5-sonnet-20240620-v1:0",
		Version: "bedrock-2023-05-31",
		Timeout: 90 * time.Second,
	},
	"claude3.5-sonnet-v2": {
		ModelID: "anthropic.claude-3-5-sonnet-20241022-v2:0",
		Version: "bedrock-2023-05-31",
		Timeout: 90 * time.Second,
	},
	"claude3-opus": {
		ModelID: "anthropic.claude-3-opus-20240229-v1:0",
		Version: "bedrock-2023-05-31",
		Timeout: 120 * time.Second,
	},
	"claude4-sonnet": {
		ModelID:           "anthropic.claude-4-sonnet-20250514-v1:0",
		Version:           "bedrock-2023-05-31",
		Timeout:           120 * time.Second,
		SupportsReasoning: true,
		// Extended-thinking calls on this model only accept temperature;
		// top_p must be omitted or Bedrock rejects the request.
		ParamRestriction: "temperature_only",
	},
	"claude4-opus": {
		ModelID:           "anthropic.claude-4-opus-20250514-v1:0",
		Version:           "bedrock-2023-05-31",
		Timeout:           180 * time.Second,
		SupportsReasoning: true,
		ParamRestriction:  "temperature_only",
	},
}

// ModelConfig looks up the static table by the rule-facing model name.
func (c *Client) ModelConfig(model string) (port.ModelConfig, bool) {
	cfg, ok := modelTable[model]
	return cfg, ok
}
