// Package worker runs the Executor against a polled task queue. There is
// no real Lambda/SQS-trigger runtime available here, so the "short-lived
// handler" framing of spec.md §5 becomes one in-process iteration of
// receive-execute-delete, run in a loop for the process lifetime of
// cmd/server — grounded on the teacher's graceful-shutdown signal-context
// pattern used by the process's graceful-shutdown signal context.
package worker

import (
	"context"
	"errors"

	"github.com/bkyoung/review-orchestrator/internal/executor"
	"github.com/bkyoung/review-orchestrator/internal/port"
)

// Queue is the consumer-side capability the worker loop needs, beyond
// the producer-side port.TaskQueue the Dispatcher uses.
type Queue interface {
	Receive(ctx context.Context, maxMessages int32) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Message mirrors sqs.Message without importing the adapter package, so
// any queue implementation can satisfy Queue.
type Message struct {
	Body          []byte
	ReceiptHandle string
}

// Runner pulls batches of task messages and hands each to the Executor.
type Runner struct {
	Queue    Queue
	Executor *executor.Executor
	Logger   port.Logger
	// BatchSize is the max messages requested per poll (SQS caps this at 10).
	BatchSize int32
}

// New builds a Runner from its collaborators.
func New(queue Queue, exec *executor.Executor, logger port.Logger) *Runner {
	return &Runner{Queue: queue, Executor: exec, Logger: logger, BatchSize: 10}
}

// Run polls until ctx is cancelled, executing every received message
// sequentially and deleting it only on success — a failed message is
// left for SQS's visibility timeout to redeliver, and eventually
// dead-letter, per spec.md §7.
func (r *Runner) Run(ctx context.Context) error {
	batch := r.BatchSize
	if batch <= 0 {
		batch = 10
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := r.Queue.Receive(ctx, batch)
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			if r.Logger != nil {
				r.Logger.LogWarning("queue receive failed", "err", err.Error())
			}
			continue
		}

		for _, m := range msgs {
			r.handle(ctx, m)
		}
	}
}

func (r *Runner) handle(ctx context.Context, m Message) {
	if err := r.Executor.Execute(ctx, m.Body); err != nil {
		if r.Logger != nil {
			r.Logger.LogWarning("task execution failed, leaving for redelivery", "err", err.Error())
		}
		return
	}
	if err := r.Queue.Delete(ctx, m.ReceiptHandle); err != nil && r.Logger != nil {
		r.Logger.LogWarning("failed to delete processed message", "err", err.Error())
	}
}
