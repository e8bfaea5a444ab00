// Package reconciler detects request completion, renders the final
// report, publishes a notification, and posts the PR summary comment,
// per spec.md §4.F. A separate cron sweep (sweep.go) rescues requests
// whose per-task progress check never fired.
package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bkyoung/review-orchestrator/internal/domain"
	"github.com/bkyoung/review-orchestrator/internal/port"
	"github.com/bkyoung/review-orchestrator/internal/report"
)

// reportTTL is how long the signed report URL stays valid (spec.md §4.F: "~5 days").
const reportTTL = 5 * 24 * time.Hour

// Reconciler implements the Reconciler & Cron component.
type Reconciler struct {
	Requests port.RequestStore
	Tasks    port.TaskStore
	Blobs    port.BlobStore
	Notifier port.Notifier
	SCMs     map[domain.Source]port.SourceControl
	Logger   port.Logger
}

// New builds a Reconciler. scms maps each supported source-control
// platform to its adapter, used only to post the PR summary comment.
func New(requests port.RequestStore, tasks port.TaskStore, blobs port.BlobStore, notifier port.Notifier, scms map[domain.Source]port.SourceControl, logger port.Logger) *Reconciler {
	return &Reconciler{Requests: requests, Tasks: tasks, Blobs: blobs, Notifier: notifier, SCMs: scms, Logger: logger}
}

// CheckProgress is the per-task progress check the Executor calls after
// every successful turn (spec.md §4.F). It is a no-op unless every
// dispatched task has reached a terminal state and the request has not
// already been reported.
func (r *Reconciler) CheckProgress(ctx context.Context, commitID, requestID string) error {
	rec, ok, err := r.Requests.Get(ctx, commitID, requestID)
	if err != nil {
		return fmt.Errorf("load request record: %w", err)
	}
	if !ok || rec.TaskStatus == domain.StatusComplete {
		return nil
	}
	if rec.TaskComplete+rec.TaskFailure < rec.TaskTotal {
		return nil
	}
	return r.finish(ctx, rec)
}

// GenerateEmptyReport satisfies dispatcher.Reconciler: the Dispatcher's
// empty-work short-circuit invokes this synchronously so every accepted
// request still produces a report, even one with zero findings.
func (r *Reconciler) GenerateEmptyReport(ctx context.Context, rec domain.RequestRecord) error {
	return r.finish(ctx, rec)
}

// finish runs report generation steps 1-7: collect findings, render,
// persist, mint a signed URL, transition the record, notify, comment.
func (r *Reconciler) finish(ctx context.Context, rec domain.RequestRecord) error {
	entries, err := r.collectEntries(ctx, rec.RequestID)
	if err != nil {
		return fmt.Errorf("collect report entries: %w", err)
	}

	title := rec.ProjectName + "代码审核报告"
	subtitle := "检测时间: " + time.Now().Format("2006-01-02 15:04:05")

	html, err := report.Render(title, subtitle, entries)
	if err != nil {
		return fmt.Errorf("render report: %w", err)
	}

	slug := report.Slug(rec.ProjectName)
	key := fmt.Sprintf("report/%s/%s/index.html", slug, rec.CommitID)
	if err := r.Blobs.Put(ctx, key, "text/html", html); err != nil {
		return fmt.Errorf("persist report blob: %w", err)
	}

	url, err := r.Blobs.PresignGetObject(ctx, key, reportTTL)
	if err != nil {
		return fmt.Errorf("presign report url: %w", err)
	}

	applied, err := r.Requests.CompleteIfReady(ctx, rec.CommitID, rec.RequestID, key, url)
	if err != nil {
		return fmt.Errorf("complete request record: %w", err)
	}
	if !applied {
		// Another completion (concurrent executor or cron sweep) already
		// reconciled this request; notification/comment already fired.
		return nil
	}

	if r.Notifier != nil {
		msg := domain.NotificationMessage{
			Title:     title,
			Subtitle:  subtitle,
			ReportURL: url,
			Data:      entries,
			Context: map[string]any{
				"commit_id":    rec.CommitID,
				"request_id":   rec.RequestID,
				"project_id":   rec.ProjectID,
				"project_name": rec.ProjectName,
			},
		}
		if err := r.Notifier.Publish(ctx, msg); err != nil && r.Logger != nil {
			r.Logger.LogWarning("failed to publish completion notification", "request_id", rec.RequestID, "err", err.Error())
		}
	}

	r.postSummaryComment(ctx, rec, url, entries)
	return nil
}

// postSummaryComment mirrors spec.md §6/§7: only github PRs get a summary
// comment, and any failure here is swallowed — it must never block report
// delivery.
func (r *Reconciler) postSummaryComment(ctx context.Context, rec domain.RequestRecord, reportURL string, entries []domain.ReportEntry) {
	if rec.Source != domain.SourceGitHub || rec.PRNumber == "" {
		return
	}
	scm, ok := r.SCMs[rec.Source]
	if !ok {
		return
	}
	handle, err := scm.InitContext(ctx, rec.RepoURL, rec.ProjectID, rec.PrivateToken)
	if err != nil {
		if r.Logger != nil {
			r.Logger.LogWarning("failed to init scm context for pr comment", "request_id", rec.RequestID, "err", err.Error())
		}
		return
	}
	if ok := scm.PostSummaryComment(ctx, handle, rec.PRNumber, reportURL, entries); !ok && r.Logger != nil {
		r.Logger.LogWarning("failed to post pr summary comment", "request_id", rec.RequestID)
	}
}

// collectEntries gathers {rule, content} pairs from every successful,
// non-empty TaskRecord belonging to requestID (spec.md §4.F step 1).
func (r *Reconciler) collectEntries(ctx context.Context, requestID string) ([]domain.ReportEntry, error) {
	tasks, err := r.Tasks.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	var entries []domain.ReportEntry
	for _, task := range tasks {
		if task.Succ == nil || !*task.Succ || task.Data == "" {
			continue
		}
		blob, err := r.Blobs.Get(ctx, task.Data)
		if err != nil {
			if r.Logger != nil {
				r.Logger.LogWarning("failed to fetch result blob", "request_id", requestID, "key", task.Data, "err", err.Error())
			}
			continue
		}
		var result domain.ResultObject
		if err := json.Unmarshal(blob, &result); err != nil {
			if r.Logger != nil {
				r.Logger.LogWarning("failed to decode result blob", "request_id", requestID, "key", task.Data, "err", err.Error())
			}
			continue
		}
		if !result.NonEmpty() {
			continue
		}
		entries = append(entries, domain.ReportEntry{Rule: result.Rule, Content: result.Content})
	}
	return entries, nil
}
