package contentbuilder_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bkyoung/review-orchestrator/internal/contentbuilder"
	"github.com/bkyoung/review-orchestrator/internal/domain"
)

func TestParseTargets(t *testing.T) {
	got := contentbuilder.ParseTargets(" **/*.go, **/*.py. , **/*.ts ")
	assert.Equal(t, []string{"**/*.go", "**/*.py", "**/*.ts"}, got)
}

func TestMatches_DoubleStarMatchesAnyDepth(t *testing.T) {
	assert.True(t, contentbuilder.Matches([]string{"**/*.go"}, "a/b/c/file.go"))
	assert.True(t, contentbuilder.Matches([]string{"**"}, "anything/at/all"))
	assert.False(t, contentbuilder.Matches([]string{"**/*.go"}, "file.py"))
}

func TestBuild_ModeAll_ConcatenatesMatchingFiles(t *testing.T) {
	rule := domain.Rule{Mode: domain.ModeAll, Target: "**/*.go"}
	items := contentbuilder.Build(rule, map[string][]byte{
		"main.go":    []byte("package main"),
		"README.md":  []byte("not matched"),
		"pkg/lib.go": []byte("package pkg"),
	}, nil)

	assert.Len(t, items, 1)
	assert.Equal(t, contentbuilder.WholeProjectFilepath, items[0].Filepath)
	assert.Contains(t, items[0].Content, "main.go")
	assert.Contains(t, items[0].Content, "pkg/lib.go")
	assert.NotContains(t, items[0].Content, "README.md")
}

func TestBuild_ModeAll_NoMatchesReturnsNoItems(t *testing.T) {
	rule := domain.Rule{Mode: domain.ModeAll, Target: "**/*.go"}
	items := contentbuilder.Build(rule, map[string][]byte{"a.py": []byte("x")}, nil)
	assert.Empty(t, items)
}

func TestBuild_ModeSingle_OneItemPerMatchingFile(t *testing.T) {
	rule := domain.Rule{Mode: domain.ModeSingle, Target: "**/*.go"}
	items := contentbuilder.Build(rule, nil, []contentbuilder.InvolvedFile{
		{Path: "main.go", Content: []byte("package main")},
		{Path: "README.md", Content: []byte("skip")},
	})
	assert.Len(t, items, 1)
	assert.Equal(t, "main.go", items[0].Filepath)
	assert.Contains(t, items[0].Content, "package main")
}

func TestBuild_ModeDiff_BinaryFileYieldsEmptyContentButStillAnItem(t *testing.T) {
	rule := domain.Rule{Mode: domain.ModeDiff, Target: "**/*.go, **/*.png"}
	items := contentbuilder.Build(rule, nil, []contentbuilder.InvolvedFile{
		{Path: "main.go", Patch: "@@ -1 +1 @@", HasPatch: true},
		{Path: "logo.png", HasPatch: false},
	})
	assert.Len(t, items, 2)
	assert.Contains(t, items[0].Content, "@@ -1 +1 @@")
	assert.Equal(t, "", items[1].Content)
	assert.Equal(t, "logo.png", items[1].Filepath)
}

func TestBuild_UnknownMode_ReturnsNil(t *testing.T) {
	rule := domain.Rule{Mode: "bogus"}
	assert.Nil(t, contentbuilder.Build(rule, nil, nil))
}
