// Package rulestore loads baseline review rules once per process and
// merges them with repository-hosted rules and web-tool triggers,
// grounded on the devdashboard config package's yaml.v3 loading style.
package rulestore

import (
	"bytes"
	"context"
	"embed"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/bkyoung/review-orchestrator/internal/domain"
	"github.com/bkyoung/review-orchestrator/internal/port"
)

//go:embed assets/*.yaml
var embeddedAssets embed.FS

// ExternalRoot is the second candidate root searched for baseline rule
// files, after the embedded assets. It exists so an operator can add or
// override baseline rules without rebuilding the binary.
const ExternalRoot = "/etc/review-orchestrator/rules"

// Store caches the baseline rule set for the process lifetime and merges
// it with request-time rules.
type Store struct {
	scm SourceControl

	mu       sync.Mutex
	baseline []domain.Rule
	loaded   bool
}

// SourceControl is the subset of port.SourceControl the rule store needs
// to fetch repo-hosted rules.
type SourceControl interface {
	GetRules(ctx context.Context, handle port.RepoHandle, commit, branch string) ([]port.RawRule, error)
}

// New builds a Store backed by the given source control adapter.
func New(scm SourceControl) *Store {
	return &Store{scm: scm}
}

// Baseline returns the cached baseline rule set, loading it from the
// embedded assets and ExternalRoot on first use.
func (s *Store) Baseline(logger port.Logger) []domain.Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.baseline
	}

	seen := map[string]bool{}
	var rules []domain.Rule

	rules = append(rules, loadEmbedded(logger)...)
	seen["assets"] = true

	if _, err := os.Stat(ExternalRoot); err == nil {
		rules = append(rules, loadFS(os.DirFS(ExternalRoot), ".", logger)...)
	}

	s.baseline = rules
	s.loaded = true
	return s.baseline
}

func loadEmbedded(logger port.Logger) []domain.Rule {
	return loadFS(embeddedAssets, "assets", logger)
}

func loadFS(fsys fs.FS, root string, logger port.Logger) []domain.Rule {
	var out []domain.Rule
	_ = fs.WalkDir(fsys, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			if logger != nil {
				logger.LogWarning("skip unreadable rule file", "path", path, "err", err.Error())
			}
			return nil
		}
		rules, err := ParseDocuments(data)
		if err != nil {
			if logger != nil {
				logger.LogWarning("skip malformed rule file", "path", path, "err", err.Error())
			}
			return nil
		}
		out = append(out, rules...)
		return nil
	})
	return out
}

// ParseDocuments decodes a YAML byte stream that may contain a single
// rule object, a list of rule objects, or a `---`-separated multi
// document stream of either.
func ParseDocuments(data []byte) ([]domain.Rule, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var out []domain.Rule
	for {
		var node yaml.Node
		if err := dec.Decode(&node); err != nil {
			if err.Error() == "EOF" {
				break
			}
			return nil, err
		}
		rules, err := decodeRuleNode(&node)
		if err != nil {
			return nil, err
		}
		out = append(out, rules...)
	}
	return out, nil
}

func decodeRuleNode(node *yaml.Node) ([]domain.Rule, error) {
	content := node
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		content = node.Content[0]
	}
	if content.Kind == yaml.SequenceNode {
		var out []domain.Rule
		for _, item := range content.Content {
			r, err := decodeRawRule(item)
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		}
		return out, nil
	}
	r, err := decodeRawRule(content)
	if err != nil {
		return nil, err
	}
	return []domain.Rule{r}, nil
}

// decodeRawRule walks a mapping node's key/value pairs directly, since
// yaml.v3 has no ordered-map decode target; Content holds them as a flat
// key,value,key,value... slice in source order.
func decodeRawRule(node *yaml.Node) (domain.Rule, error) {
	r := domain.Rule{}
	if node.Kind != yaml.MappingNode {
		return r, nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		key := keyNode.Value

		switch key {
		case "name":
			r.Name = valNode.Value
		case "event":
			r.Event = domain.EventType(valNode.Value)
		case "branch":
			r.Branch = valNode.Value
		case "mode":
			r.Mode = domain.Mode(valNode.Value)
		case "model":
			r.Model = valNode.Value
		case "target":
			r.Target = valNode.Value
		case "system":
			r.System = valNode.Value
		case "confirm":
			var b bool
			_ = valNode.Decode(&b)
			r.Confirm = b
		case "order":
			var order []string
			_ = valNode.Decode(&order)
			r.Order = order
		case "prompt_system":
			r.PromptSystem = valNode.Value
		case "prompt_user":
			r.PromptUser = valNode.Value
		default:
			if !domain.ReservedRuleFields[key] {
				r.DIY = append(r.DIY, domain.DIYField{Key: key, Value: stringify(valNode)})
			}
		}
	}
	return r, nil
}

func stringify(node *yaml.Node) string {
	if node.Kind == yaml.ScalarNode {
		return node.Value
	}
	var generic any
	_ = node.Decode(&generic)
	b, _ := yaml.Marshal(generic)
	return strings.TrimSpace(string(b))
}

// WebToolRule synthesises the single rule carrying a web-tool trigger's
// verbatim prompt_system/prompt_user, per spec.md §4.B.
func WebToolRule(desc port.RequestDescriptor, promptSystem, promptUser, model, mode string) domain.Rule {
	return domain.Rule{
		Name:         "webtool",
		Event:        desc.EventType,
		Branch:       desc.TargetBranch,
		Mode:         domain.Mode(mode),
		Model:        model,
		PromptSystem: promptSystem,
		PromptUser:   promptUser,
	}
}

// LoadRules implements loadRules(event, repoHandle, commit, branch): the
// baseline rule set combined with either a synthesised web-tool rule or
// the repo's own rule files.
func (s *Store) LoadRules(ctx context.Context, desc port.RequestDescriptor, handle port.RepoHandle, commit, branch string, webtool *domain.Rule, logger port.Logger) ([]domain.Rule, error) {
	rules := append([]domain.Rule{}, s.Baseline(logger)...)

	if webtool != nil {
		return append(rules, *webtool), nil
	}

	raw, err := s.scm.GetRules(ctx, handle, commit, branch)
	if err != nil {
		return nil, err
	}
	for _, rr := range raw {
		r, err := rawRuleToRule(rr)
		if err != nil {
			if logger != nil {
				logger.LogWarning("skip malformed repo rule", "err", err.Error())
			}
			continue
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func rawRuleToRule(rr port.RawRule) (domain.Rule, error) {
	b, err := yaml.Marshal(map[string]any(rr))
	if err != nil {
		return domain.Rule{}, err
	}
	parsed, err := ParseDocuments(b)
	if err != nil {
		return domain.Rule{}, err
	}
	if len(parsed) == 0 {
		return domain.Rule{}, nil
	}
	return parsed[0], nil
}

// Filter retains only rules matching the request's target branch and
// event type exactly (spec.md §4.B: "exact equality; no globbing").
func Filter(rules []domain.Rule, targetBranch string, eventType domain.EventType) []domain.Rule {
	var out []domain.Rule
	for _, r := range rules {
		if r.Branch == targetBranch && r.Event == eventType {
			out = append(out, r)
		}
	}
	return out
}

// Modes returns the distinct modes present across rules, in first-seen
// order (spec.md §4.D step 4: "modes = set(rule.mode for rule in filtered)").
func Modes(rules []domain.Rule) []domain.Mode {
	seen := map[domain.Mode]bool{}
	var out []domain.Mode
	for _, r := range rules {
		if !seen[r.Mode] {
			seen[r.Mode] = true
			out = append(out, r.Mode)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
