package dispatcher

import (
	"context"

	"github.com/bkyoung/review-orchestrator/internal/contentbuilder"
	"github.com/bkyoung/review-orchestrator/internal/domain"
	"github.com/bkyoung/review-orchestrator/internal/port"
	"github.com/bkyoung/review-orchestrator/internal/rulestore"
)

// WebToolTrigger carries the extra fields an on-demand web-tool invocation
// supplies beyond the normal RequestDescriptor (spec.md §6).
type WebToolTrigger struct {
	RuleName        string
	Mode            string
	Model           string
	Target          string
	PromptSystem    string
	PromptUser      string
	Confirm         bool
	ConfirmPrompt   string
	EnableReasoning bool
	ReasoningBudget int
}

// Reconciler is the synchronous report-generation capability the empty-work
// short-circuit invokes directly (spec.md §4.D step 9).
type Reconciler interface {
	GenerateEmptyReport(ctx context.Context, rec domain.RequestRecord) error
}

// Event bundles everything one Dispatch call needs: the normalised
// descriptor, the raw trigger payload (echoed back on every TaskMessage as
// "context"), and optional web-tool fields.
type Event struct {
	Descriptor port.RequestDescriptor
	RequestID  string
	RawContext map[string]any
	Variables  map[string]string
	WebTool    *WebToolTrigger
}

// Result reports what Dispatch produced, for the Ingress handler's
// best-effort logging.
type Result struct {
	TaskTotal int
	Skipped   int
}

// Dispatcher implements the Task Dispatcher component (spec.md §4.D).
type Dispatcher struct {
	SCM        port.SourceControl
	Requests   port.RequestStore
	Queue      port.TaskQueue
	Rules      *rulestore.Store
	Reconciler Reconciler
	Logger     port.Logger
}

// New builds a Dispatcher from its collaborators.
func New(scm port.SourceControl, requests port.RequestStore, queue port.TaskQueue, rules *rulestore.Store, reconciler Reconciler, logger port.Logger) *Dispatcher {
	return &Dispatcher{SCM: scm, Requests: requests, Queue: queue, Rules: rules, Reconciler: reconciler, Logger: logger}
}

// Dispatch runs the nine-step algorithm of spec.md §4.D for one accepted
// request.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) (Result, error) {
	if ev.RequestID == "" {
		return Result{}, domain.NewValidationError("dispatcher", "event missing request_id")
	}

	handle, err := d.SCM.InitContext(ctx, ev.Descriptor.RepoURL, ev.Descriptor.ProjectID, ev.Descriptor.PrivateToken)
	if err != nil {
		return Result{}, err
	}

	commitID, err := d.SCM.FormatCommitID(ctx, handle, ev.Descriptor.TargetBranch, ev.Descriptor.CommitID)
	if err != nil {
		return Result{}, err
	}
	previousCommitID := ev.Descriptor.PreviousCommitID
	if previousCommitID != "" && previousCommitID != domain.ZeroCommit {
		if resolved, err := d.SCM.FormatCommitID(ctx, handle, ev.Descriptor.TargetBranch, previousCommitID); err == nil {
			previousCommitID = resolved
		}
	}
	ev.Descriptor.CommitID = commitID
	ev.Descriptor.PreviousCommitID = previousCommitID

	if actual := handle.ProjectName(); actual != "" && actual != ev.Descriptor.ProjectName {
		if err := d.Requests.UpdateProjectName(ctx, commitID, ev.RequestID, actual); err != nil && d.Logger != nil {
			d.Logger.LogWarning("failed to patch project name", "request_id", ev.RequestID, "err", err.Error())
		}
		ev.Descriptor.ProjectName = actual
	}

	var webtoolRule *domain.Rule
	if ev.WebTool != nil {
		r := rulestore.WebToolRule(ev.Descriptor, ev.WebTool.PromptSystem, ev.WebTool.PromptUser, ev.WebTool.Model, ev.WebTool.Mode)
		r.Name = ev.WebTool.RuleName
		r.Target = ev.WebTool.Target
		r.Confirm = ev.WebTool.Confirm
		webtoolRule = &r
	}

	rules, err := d.Rules.LoadRules(ctx, ev.Descriptor, handle, commitID, ev.Descriptor.TargetBranch, webtoolRule, d.Logger)
	if err != nil {
		return Result{}, err
	}
	filtered := rulestore.Filter(rules, ev.Descriptor.TargetBranch, ev.Descriptor.EventType)
	modes := rulestore.Modes(filtered)

	items, err := d.buildWorkItems(ctx, handle, commitID, previousCommitID, filtered, modes)
	if err != nil {
		return Result{}, err
	}

	type dispatchable struct {
		item         domain.WorkItem
		promptSystem string
		promptUser   string
	}
	var ready []dispatchable
	skipped := 0
	for _, item := range items {
		system, user, ok := BuildPrompt(item.Rule, item.Content, ev.Variables)
		if !ok {
			skipped++
			continue
		}
		ready = append(ready, dispatchable{item: item, promptSystem: system, promptUser: user})
	}

	if err := d.Requests.Initialize(ctx, commitID, ev.RequestID, len(ready)); err != nil {
		return Result{}, err
	}

	if len(ready) == 0 {
		return d.completeEmpty(ctx, ev, commitID, skipped)
	}

	taskFailures := 0
	for i, r := range ready {
		number := i + 1
		msg := TaskMessage{
			Context:      ev.RawContext,
			CommitID:     commitID,
			RequestID:    ev.RequestID,
			Number:       number,
			Mode:         string(r.item.Rule.Mode),
			Model:        r.item.Rule.Model,
			Identity:     Identity(string(r.item.Rule.Mode), r.item.Rule.Model, number, r.item.Rule.Name, r.item.Filepath),
			Filepath:     r.item.Filepath,
			RuleName:     r.item.Rule.Name,
			PromptSystem: r.promptSystem,
			PromptUser:   r.promptUser,
		}
		if ev.WebTool != nil && ev.WebTool.Confirm && ev.WebTool.ConfirmPrompt != "" {
			msg.ConfirmPrompt = ev.WebTool.ConfirmPrompt
			msg.EnableReasoning = ev.WebTool.EnableReasoning
			msg.ReasoningBudget = ev.WebTool.ReasoningBudget
		}

		payload, err := EncodeTaskMessage(msg)
		if err != nil {
			taskFailures++
			if ierr := d.Requests.IncrementFailure(ctx, commitID, ev.RequestID); ierr != nil && d.Logger != nil {
				d.Logger.LogWarning("failed to record task-build failure", "request_id", ev.RequestID, "err", ierr.Error())
			}
			continue
		}
		if err := d.Queue.Send(ctx, payload); err != nil {
			taskFailures++
			if d.Logger != nil {
				d.Logger.LogWarning("failed to enqueue task", "request_id", ev.RequestID, "number", number, "err", err.Error())
			}
			if ierr := d.Requests.IncrementFailure(ctx, commitID, ev.RequestID); ierr != nil && d.Logger != nil {
				d.Logger.LogWarning("failed to record enqueue failure", "request_id", ev.RequestID, "err", ierr.Error())
			}
		}
	}

	return Result{TaskTotal: len(ready), Skipped: skipped}, nil
}

// completeEmpty implements spec.md §4.D step 9: with zero dispatchable
// items the request is already Initializing with task_total=0, so its
// completion and report generation are delegated whole to the Reconciler,
// which performs the conditional state transition itself (finish/
// CompleteIfReady) — dispatching it here first would make that transition
// a no-op and strand the empty report.
func (d *Dispatcher) completeEmpty(ctx context.Context, ev Event, commitID string, skipped int) (Result, error) {
	if d.Reconciler != nil {
		rec, ok, err := d.Requests.Get(ctx, commitID, ev.RequestID)
		if err == nil && ok {
			if err := d.Reconciler.GenerateEmptyReport(ctx, rec); err != nil && d.Logger != nil {
				d.Logger.LogWarning("failed to generate empty report", "request_id", ev.RequestID, "err", err.Error())
			}
		} else if err != nil && d.Logger != nil {
			d.Logger.LogWarning("failed to load request record for empty report", "request_id", ev.RequestID, "err", err.Error())
		}
	}
	return Result{TaskTotal: 0, Skipped: skipped}, nil
}

// buildWorkItems fetches whatever project/involved-file material the
// filtered rules' modes require, then runs the Content Builder per rule.
func (d *Dispatcher) buildWorkItems(ctx context.Context, handle port.RepoHandle, commitID, previousCommitID string, rules []domain.Rule, modes []domain.Mode) ([]domain.WorkItem, error) {
	needsAll, needsInvolved := false, false
	for _, m := range modes {
		switch m {
		case domain.ModeAll:
			needsAll = true
		case domain.ModeSingle, domain.ModeDiff:
			needsInvolved = true
		}
	}

	var projectFiles map[string][]byte
	if needsAll {
		files, err := d.SCM.GetProjectFiles(ctx, handle, commitID, []string{"**"})
		if err != nil {
			return nil, err
		}
		projectFiles = files
	}

	var involved []contentbuilder.InvolvedFile
	if needsInvolved {
		patches, err := d.SCM.GetInvolvedFiles(ctx, handle, previousCommitID, commitID)
		if err != nil {
			return nil, err
		}
		needsContent := false
		for _, m := range modes {
			if m == domain.ModeSingle {
				needsContent = true
			}
		}
		for path, patch := range patches {
			f := contentbuilder.InvolvedFile{Path: path, Patch: patch, HasPatch: patch != ""}
			if needsContent {
				if content, ok, err := d.SCM.GetFile(ctx, handle, path, commitID); err == nil && ok {
					f.Content = content
				} else if err != nil && d.Logger != nil {
					d.Logger.LogWarning("failed to fetch involved file content", "path", path, "err", err.Error())
				}
			}
			involved = append(involved, f)
		}
	}

	var items []domain.WorkItem
	for _, rule := range rules {
		items = append(items, contentbuilder.Build(rule, projectFiles, involved)...)
	}
	return items, nil
}
