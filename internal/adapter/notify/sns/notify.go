// Package sns implements port.Notifier against Amazon SNS.
package sns

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/bkyoung/review-orchestrator/internal/domain"
)

// API is the subset of the SNS client this adapter calls.
type API interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Notifier implements port.Notifier for request-completion notifications.
type Notifier struct {
	api      API
	topicARN string
}

// NewNotifier builds a Notifier that publishes to topicARN.
func NewNotifier(api API, topicARN string) *Notifier {
	return &Notifier{api: api, topicARN: topicARN}
}

func (n *Notifier) Publish(ctx context.Context, msg domain.NotificationMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return domain.NewEncodingError("sns", "marshal notification message: "+err.Error())
	}
	_, err = n.api.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Subject:  aws.String(msg.Title),
		Message:  aws.String(string(body)),
	})
	if err != nil {
		return domain.MapHTTPStatus("sns", 0, err.Error())
	}
	return nil
}
