// Package sqs implements port.TaskQueue against Amazon SQS.
package sqs

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/bkyoung/review-orchestrator/internal/domain"
)

// API is the subset of the SQS client this adapter calls.
type API interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Queue implements port.TaskQueue for the task dispatch queue, plus the
// consumer-side Receive/Delete the worker loop needs — there is no real
// Lambda/SQS-trigger runtime here, so the same queue URL is polled
// in-process instead (spec.md §5: "short-lived handler" becomes one
// in-process poll-and-dispatch iteration).
type Queue struct {
	api API
	url string
}

// NewQueue builds a Queue that sends to and receives from the given queue URL.
func NewQueue(api API, url string) *Queue {
	return &Queue{api: api, url: url}
}

func (q *Queue) Send(ctx context.Context, payload []byte) error {
	_, err := q.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.url),
		MessageBody: aws.String(string(payload)),
	})
	if err != nil {
		return domain.MapHTTPStatus("sqs", 0, err.Error())
	}
	return nil
}

// Message is one received envelope paired with the receipt handle needed
// to delete it after successful processing.
type Message struct {
	Body          []byte
	ReceiptHandle string
}

// Receive long-polls for up to maxMessages envelopes, waiting up to 20s
// (the SQS maximum) for at least one to arrive.
func (q *Queue) Receive(ctx context.Context, maxMessages int32) ([]Message, error) {
	out, err := q.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.url),
		MaxNumberOfMessages: maxMessages,
		WaitTimeSeconds:     20,
	})
	if err != nil {
		return nil, domain.MapHTTPStatus("sqs", 0, err.Error())
	}
	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, Message{Body: []byte(aws.ToString(m.Body)), ReceiptHandle: aws.ToString(m.ReceiptHandle)})
	}
	return msgs, nil
}

// Delete removes a processed message so it is not redelivered. Left
// undeleted, the message becomes visible again after the queue's
// visibility timeout and is eventually dead-lettered by the queue's
// redrive policy (infrastructure concern, out of scope here).
func (q *Queue) Delete(ctx context.Context, receiptHandle string) error {
	_, err := q.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return domain.MapHTTPStatus("sqs", 0, err.Error())
	}
	return nil
}
