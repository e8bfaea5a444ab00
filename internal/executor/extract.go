package executor

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/bkyoung/review-orchestrator/internal/domain"
)

var outputTagPattern = regexp.MustCompile(`(?s)<output>(.*?)</output>`)

// JSONRectifierPrompt is the fixed user turn sent back to the model when
// its reply's <output> block fails to parse, asking it to re-emit valid
// content (spec.md §4.E step 5).
const JSONRectifierPrompt = "The JSON in <output> tag seems invalid, it can not be convert into a JSON object. Please check and re-output again. Output all your message in this format \"<output>your finding</output><thought>your thought</thought>\".\nIMPORTANT:\n  - nothing should be output outside <output> and <thought> tag."

// Extract pulls the first <output>…</output> block out of reply and
// parses its content as a JSON object or a list of JSON objects into
// findings. Go has no literal_eval, so this accepts the JSON object/array
// syntax downstream systems actually emit, with a best-effort
// single-quote-to-double-quote repair pass for near-JSON output.
func Extract(reply string) ([]domain.Finding, error) {
	content := ""
	if match := outputTagPattern.FindStringSubmatch(reply); match != nil {
		content = match[1]
	}
	findings, err := parseFindings(content)
	if err != nil {
		return nil, domain.NewValidationError("executor", "parse <output> content: "+err.Error())
	}
	return findings, nil
}

func parseFindings(content string) ([]domain.Finding, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("no <output> content to parse")
	}

	raw, err := decodeJSONLike(content)
	if err != nil {
		return nil, err
	}

	switch v := raw.(type) {
	case []any:
		return findingsFromList(v)
	case map[string]any:
		return findingsFromList([]any{v})
	default:
		return nil, fmt.Errorf("output content is neither a JSON object nor a list")
	}
}

// decodeJSONLike tries strict JSON first, then a best-effort repair pass
// that swaps single quotes for double quotes — the common shape of
// near-JSON output an LLM emits when asked for a Python dict/list literal.
func decodeJSONLike(content string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(content), &v); err == nil {
		return v, nil
	}
	repaired := strings.ReplaceAll(content, "'", "\"")
	var v2 any
	if err := json.Unmarshal([]byte(repaired), &v2); err != nil {
		return nil, fmt.Errorf("not parseable as JSON: %w", err)
	}
	return v2, nil
}

func findingsFromList(items []any) ([]domain.Finding, error) {
	out := make([]domain.Finding, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("list item is not an object")
		}
		out = append(out, domain.Finding{
			Title:    stringField(m, "title"),
			Content:  stringField(m, "content"),
			Filepath: stringField(m, "filepath"),
		})
	}
	return out, nil
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
