// Package contentbuilder turns a filtered rule and a commit pair into the
// work items that will become review tasks, per spec.md §4.C.
package contentbuilder

import (
	"fmt"
	"strings"

	"github.com/mattn/go-zglob"

	"github.com/bkyoung/review-orchestrator/internal/domain"
	"github.com/bkyoung/review-orchestrator/internal/redaction"
)

// redactor scrubs secrets out of file content and patches before they are
// fenced into a WorkItem and handed to the LLM. Shared across builds since
// Engine holds no per-call state.
var redactor = redaction.NewEngine()

// scrub runs content through the redaction engine, falling back to the
// original text if the engine errors (it currently never does).
func scrub(content string) string {
	out, err := redactor.Redact(content)
	if err != nil {
		return content
	}
	return out
}

// WholeProjectFilepath is the synthetic filepath used for mode=all items,
// which review the whole project as a single work item.
const WholeProjectFilepath = "<The Whole Project>"

// ParseTargets splits a rule's raw target string into glob patterns:
// split on comma, trim whitespace, strip one trailing dot.
func ParseTargets(target string) []string {
	var out []string
	for _, part := range strings.Split(target, ",") {
		p := strings.TrimSpace(part)
		p = strings.TrimSuffix(p, ".")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Matches reports whether path satisfies any of the given glob patterns.
// "**" matches any path depth; everything else is fnmatch-style via
// mattn/go-zglob.
func Matches(patterns []string, path string) bool {
	for _, pattern := range patterns {
		if pattern == "**" {
			return true
		}
		if ok, _ := zglob.Match(pattern, path); ok {
			return true
		}
	}
	return false
}

func fence(path, content string) string {
	return fmt.Sprintf("%s\n```\n%s\n```\n", path, content)
}

// ProjectFileReader fetches every file at a commit, keyed by path, for
// mode=all rendering.
type ProjectFileReader interface {
	GetProjectFiles(targetGlobs []string) (map[string][]byte, error)
}

// InvolvedFile is one file touched between two commits, with the
// material the diff and single modes need.
type InvolvedFile struct {
	Path     string
	Content  []byte // full file content at commit_id
	Patch    string // diff patch text; empty for binary/unavailable
	HasPatch bool
}

// Build produces the work items for one rule given the full project file
// set (mode=all) and the involved-file set between two commits
// (mode=single/diff).
func Build(rule domain.Rule, projectFiles map[string][]byte, involved []InvolvedFile) []domain.WorkItem {
	targets := ParseTargets(rule.Target)

	switch rule.Mode {
	case domain.ModeAll:
		return buildAll(rule, targets, projectFiles)
	case domain.ModeSingle:
		return buildSingle(rule, targets, involved)
	case domain.ModeDiff:
		return buildDiff(rule, targets, involved)
	default:
		return nil
	}
}

func buildAll(rule domain.Rule, targets []string, projectFiles map[string][]byte) []domain.WorkItem {
	var sections []string
	paths := sortedKeys(projectFiles)
	for _, path := range paths {
		if !Matches(targets, path) {
			continue
		}
		sections = append(sections, fence(path, scrub(string(projectFiles[path]))))
	}
	if len(sections) == 0 {
		return nil
	}
	return []domain.WorkItem{{
		Mode:     domain.ModeAll,
		Filepath: WholeProjectFilepath,
		Content:  strings.Join(sections, "\n"),
		Rule:     rule,
	}}
}

func buildSingle(rule domain.Rule, targets []string, involved []InvolvedFile) []domain.WorkItem {
	var out []domain.WorkItem
	for _, f := range involved {
		if !Matches(targets, f.Path) {
			continue
		}
		out = append(out, domain.WorkItem{
			Mode:     domain.ModeSingle,
			Filepath: f.Path,
			Content:  fence(f.Path, scrub(string(f.Content))),
			Rule:     rule,
		})
	}
	return out
}

func buildDiff(rule domain.Rule, targets []string, involved []InvolvedFile) []domain.WorkItem {
	var out []domain.WorkItem
	for _, f := range involved {
		if !Matches(targets, f.Path) {
			continue
		}
		content := ""
		if f.HasPatch {
			content = fence(f.Path, scrub(f.Patch))
		}
		out = append(out, domain.WorkItem{
			Mode:     domain.ModeDiff,
			Filepath: f.Path,
			Content:  content,
			Rule:     rule,
		})
	}
	return out
}

func sortedKeys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && out[j-1] > out[j] {
			out[j-1], out[j] = out[j], out[j-1]
			j--
		}
	}
	return out
}
