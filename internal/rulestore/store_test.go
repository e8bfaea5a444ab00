package rulestore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bkyoung/review-orchestrator/internal/domain"
	"github.com/bkyoung/review-orchestrator/internal/port"
	"github.com/bkyoung/review-orchestrator/internal/rulestore"
)

type fakeSCM struct {
	rules []port.RawRule
	err   error
}

func (f *fakeSCM) GetRules(ctx context.Context, handle port.RepoHandle, commit, branch string) ([]port.RawRule, error) {
	return f.rules, f.err
}

func TestParseDocuments_List(t *testing.T) {
	data := []byte(`
- name: a
  event: pull_request
  branch: main
  mode: diff
  model: claude3
  target: "**/*.go"
  system: "sys a"
  order: [x, y]
  x: one
  y: two
- name: b
  event: push
  branch: dev
  mode: all
  model: claude3
  target: "**/*.py"
  system: "sys b"
`)
	rules, err := rulestore.ParseDocuments(data)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "a", rules[0].Name)
	assert.Equal(t, domain.EventType("pull_request"), rules[0].Event)
	assert.Equal(t, "main", rules[0].Branch)
	assert.Equal(t, domain.Mode("diff"), rules[0].Mode)
	assert.Equal(t, []string{"x", "y"}, rules[0].Order)
	require.Len(t, rules[0].DIY, 2)
	assert.Equal(t, "b", rules[1].Name)
}

func TestParseDocuments_MultiDocumentStream(t *testing.T) {
	data := []byte(`
name: a
event: pull_request
branch: main
mode: diff
model: claude3
---
name: b
event: push
branch: dev
mode: all
model: claude3
`)
	rules, err := rulestore.ParseDocuments(data)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "a", rules[0].Name)
	assert.Equal(t, "b", rules[1].Name)
}

func TestParseDocuments_SingleObject(t *testing.T) {
	data := []byte(`
name: solo
event: pull_request
branch: main
mode: single
model: claude3
confirm: true
`)
	rules, err := rulestore.ParseDocuments(data)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "solo", rules[0].Name)
	assert.True(t, rules[0].Confirm)
}

func TestParseDocuments_Malformed(t *testing.T) {
	_, err := rulestore.ParseDocuments([]byte("not: [valid: yaml: here"))
	assert.Error(t, err)
}

func TestStore_Baseline_LoadsEmbeddedAssetsOnce(t *testing.T) {
	s := rulestore.New(&fakeSCM{})
	first := s.Baseline(nil)
	second := s.Baseline(nil)
	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
}

func TestStore_LoadRules_WebTool(t *testing.T) {
	s := rulestore.New(&fakeSCM{})
	webtool := rulestore.WebToolRule(port.RequestDescriptor{EventType: "webtool", TargetBranch: "main"}, "sys", "user prompt", "claude3", "all")

	rules, err := s.LoadRules(context.Background(), port.RequestDescriptor{}, nil, "abc123", "main", &webtool, nil)
	require.NoError(t, err)

	found := false
	for _, r := range rules {
		if r.IsWebTool() {
			found = true
			assert.Equal(t, "user prompt", r.PromptUser)
		}
	}
	assert.True(t, found)
}

func TestStore_LoadRules_RepoFlavour(t *testing.T) {
	scm := &fakeSCM{rules: []port.RawRule{
		{"name": "repo-rule", "event": "pull_request", "branch": "main", "mode": "diff", "model": "claude3", "system": "repo sys"},
	}}
	s := rulestore.New(scm)

	rules, err := s.LoadRules(context.Background(), port.RequestDescriptor{}, nil, "abc123", "main", nil, nil)
	require.NoError(t, err)

	found := false
	for _, r := range rules {
		if r.Name == "repo-rule" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestFilter_ExactEquality(t *testing.T) {
	rules := []domain.Rule{
		{Name: "a", Branch: "main", Event: "pull_request"},
		{Name: "b", Branch: "develop", Event: "pull_request"},
		{Name: "c", Branch: "main", Event: "push"},
	}
	filtered := rulestore.Filter(rules, "main", "pull_request")
	require.Len(t, filtered, 1)
	assert.Equal(t, "a", filtered[0].Name)
}

func TestModes_DeduplicatesAndSorts(t *testing.T) {
	rules := []domain.Rule{
		{Mode: "diff"}, {Mode: "all"}, {Mode: "diff"}, {Mode: "single"},
	}
	modes := rulestore.Modes(rules)
	assert.Equal(t, []domain.Mode{"all", "diff", "single"}, modes)
}
