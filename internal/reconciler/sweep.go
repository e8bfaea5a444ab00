package reconciler

import (
	"context"
	"time"

	"github.com/bkyoung/review-orchestrator/internal/domain"
)

// stuckLookback bounds the cron sweep's scan window (spec.md §4.F:
// "create_time >= now - 24h").
const stuckLookback = 24 * time.Hour

// Sweep implements the cron reconciler: it rescues requests whose
// per-task progress check never fired. Only requests whose task counts
// already total out, and which have sat in Processing longer than
// reportTimeout, are force-reconciled; everything else is left alone.
// Per-item failures are isolated so one bad record cannot block the rest.
func (r *Reconciler) Sweep(ctx context.Context, reportTimeout time.Duration) []error {
	stuck, err := r.Requests.ScanStuck(ctx, stuckLookback)
	if err != nil {
		return []error{err}
	}

	var errs []error
	for _, rec := range stuck {
		if rec.TaskStatus == domain.StatusComplete {
			continue
		}
		if rec.TaskComplete+rec.TaskFailure < rec.TaskTotal {
			continue
		}
		if time.Since(rec.UpdateTime) < reportTimeout {
			continue
		}
		if err := r.finish(ctx, rec); err != nil {
			if r.Logger != nil {
				r.Logger.LogWarning("cron sweep failed to reconcile request", "request_id", rec.RequestID, "commit_id", rec.CommitID, "err", err.Error())
			}
			errs = append(errs, err)
		}
	}
	return errs
}
