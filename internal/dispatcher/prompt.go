package dispatcher

import (
	"strings"

	"github.com/bkyoung/review-orchestrator/internal/domain"
)

// FormatPrompt substitutes every "{{key}}" token in pattern with
// variables[key] (trimmed), then substitutes "{{code}}" with code.
// Unknown variables are left untouched, per spec.md §4.D.
func FormatPrompt(pattern string, variables map[string]string, code string) string {
	text := pattern
	for key, value := range variables {
		text = strings.ReplaceAll(text, "{{"+key+"}}", strings.TrimSpace(value))
	}
	if code != "" {
		text = strings.ReplaceAll(text, "{{code}}", code)
	}
	return text
}

// SupportsModel reports whether model is one this orchestrator can
// dispatch to: only the claude3/claude4 model families are wired.
func SupportsModel(model string) bool {
	return strings.HasPrefix(model, "claude3") || strings.HasPrefix(model, "claude4")
}

// BuildPrompt implements the prompt-generation table of spec.md §4.D:
// web-tool rules use their verbatim prompt_user; repo rules concatenate
// the DIY fields (sorted by rule.Order) after the code slice. Returns
// ok=false for rules on unsupported models, matching the "produces no
// task" contract.
func BuildPrompt(rule domain.Rule, code string, variables map[string]string) (system, user string, ok bool) {
	if !SupportsModel(rule.Model) {
		return "", "", false
	}

	if rule.IsWebTool() {
		system = rule.PromptSystem
		user = rule.PromptUser
	} else {
		system = rule.System
		user = buildDIYUserPrompt(rule, code)
	}

	system = FormatPrompt(system, variables, code)
	user = FormatPrompt(user, variables, code)
	return system, user, true
}

func buildDIYUserPrompt(rule domain.Rule, code string) string {
	fields := rule.SortedDIY()
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f.Value)
	}
	return "以下是我的代码:\n" + code + "\n" + strings.Join(parts, "\n\n")
}
