package dynamodb

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/bkyoung/review-orchestrator/internal/domain"
)

// TaskStore implements port.TaskStore.
type TaskStore struct {
	api   API
	table string
}

// NewTaskStore builds a TaskStore backed by table, keyed on
// (request_id, number).
func NewTaskStore(api API, table string) *TaskStore {
	return &TaskStore{api: api, table: table}
}

func taskKey(requestID string, number int) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"request_id": &types.AttributeValueMemberS{Value: requestID},
		"number":     &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", number)},
	}
}

func (s *TaskStore) Create(ctx context.Context, rec domain.TaskRecord) error {
	item := map[string]types.AttributeValue{
		"request_id":     &types.AttributeValueMemberS{Value: rec.RequestID},
		"number":         &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", rec.Number)},
		"mode":           &types.AttributeValueMemberS{Value: string(rec.Mode)},
		"model":          &types.AttributeValueMemberS{Value: rec.Model},
		"retry_times":    &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", rec.RetryTimes)},
		"create_time":    &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		"update_time":    &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
	}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	return wrapErr(err)
}

func (s *TaskStore) completeWith(ctx context.Context, requestID string, number int, succ bool, message, data string, bedrock domain.TaskRecord) error {
	update := expression.Set(expression.Name("succ"), expression.Value(succ)).
		Set(expression.Name("message"), expression.Value(message)).
		Set(expression.Name("data"), expression.Value(data)).
		Set(expression.Name("bedrock_system"), expression.Value(bedrock.BedrockSystem)).
		Set(expression.Name("bedrock_prompt"), expression.Value(bedrock.BedrockPrompt)).
		Set(expression.Name("bedrock_model"), expression.Value(bedrock.BedrockModel)).
		Set(expression.Name("bedrock_start_time"), expression.Value(bedrock.BedrockStartTime)).
		Set(expression.Name("bedrock_end_time"), expression.Value(bedrock.BedrockEndTime)).
		Set(expression.Name("bedrock_timecost"), expression.Value(bedrock.BedrockTimecost)).
		Set(expression.Name("update_time"), expression.Value(time.Now().UTC().Format(time.RFC3339)))

	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return wrapErr(err)
	}
	_, err = s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       taskKey(requestID, number),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	return wrapErr(err)
}

// CompleteSuccess marks a task terminal-successful with its result blob
// key and Bedrock invocation metadata.
func (s *TaskStore) CompleteSuccess(ctx context.Context, requestID string, number int, blobKey string, bedrock domain.TaskRecord) error {
	return s.completeWith(ctx, requestID, number, true, "", blobKey, bedrock)
}

// CompleteFailure marks a task terminal-failed with its error message(s).
func (s *TaskStore) CompleteFailure(ctx context.Context, requestID string, number int, messageJSON string, bedrock domain.TaskRecord) error {
	return s.completeWith(ctx, requestID, number, false, messageJSON, "", bedrock)
}

// SetRetryTimes records the task's in-flight retry counter without
// changing its terminal state.
func (s *TaskStore) SetRetryTimes(ctx context.Context, requestID string, number, retryTimes int) error {
	update := expression.Set(expression.Name("retry_times"), expression.Value(retryTimes)).
		Set(expression.Name("update_time"), expression.Value(time.Now().UTC().Format(time.RFC3339)))
	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return wrapErr(err)
	}
	_, err = s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       taskKey(requestID, number),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	return wrapErr(err)
}

// ListByRequest returns every task belonging to requestID, for the
// Reconciler's report assembly and the result-check endpoint.
func (s *TaskStore) ListByRequest(ctx context.Context, requestID string) ([]domain.TaskRecord, error) {
	keyCond := expression.Key("request_id").Equal(expression.Value(requestID))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, wrapErr(err)
	}

	var out []domain.TaskRecord
	var startKey map[string]types.AttributeValue
	for {
		page, err := s.api.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(s.table),
			KeyConditionExpression:    expr.KeyCondition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, wrapErr(err)
		}
		for _, item := range page.Items {
			out = append(out, unmarshalTask(item))
		}
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		startKey = page.LastEvaluatedKey
	}
	return out, nil
}

func unmarshalTask(item map[string]types.AttributeValue) domain.TaskRecord {
	rec := domain.TaskRecord{
		RequestID:        str(item, "request_id"),
		Number:           num(item, "number"),
		Mode:             domain.Mode(str(item, "mode")),
		Model:            str(item, "model"),
		RetryTimes:       num(item, "retry_times"),
		Message:          str(item, "message"),
		BedrockSystem:    str(item, "bedrock_system"),
		BedrockPrompt:    str(item, "bedrock_prompt"),
		BedrockModel:     str(item, "bedrock_model"),
		BedrockStartTime: str(item, "bedrock_start_time"),
		BedrockEndTime:   str(item, "bedrock_end_time"),
		BedrockTimecost:  int64(num(item, "bedrock_timecost")),
		Data:             str(item, "data"),
	}
	if v, ok := item["succ"]; ok {
		if b, ok := v.(*types.AttributeValueMemberBOOL); ok {
			val := b.Value
			rec.Succ = &val
		}
	}
	rec.CreateTime, _ = time.Parse(time.RFC3339, str(item, "create_time"))
	rec.UpdateTime, _ = time.Parse(time.RFC3339, str(item, "update_time"))
	return rec
}
