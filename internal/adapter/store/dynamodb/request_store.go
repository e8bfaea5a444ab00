// Package dynamodb implements port.RequestStore and port.TaskStore
// against Amazon DynamoDB, using atomic ADD updates for the counters
// that multiple concurrent Executor invocations race to increment and a
// conditional write for the terminal state transition, per
// SPEC_FULL.md §5.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/bkyoung/review-orchestrator/internal/domain"
)

// API is the subset of the DynamoDB client this adapter calls.
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// RequestStore implements port.RequestStore.
type RequestStore struct {
	api   API
	table string
}

// NewRequestStore builds a RequestStore backed by table, keyed on
// (commit_id, request_id).
func NewRequestStore(api API, table string) *RequestStore {
	return &RequestStore{api: api, table: table}
}

func requestKey(commitID, requestID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"commit_id":  &types.AttributeValueMemberS{Value: commitID},
		"request_id": &types.AttributeValueMemberS{Value: requestID},
	}
}

func (s *RequestStore) Create(ctx context.Context, rec domain.RequestRecord) error {
	item, err := marshalRequest(rec)
	if err != nil {
		return wrapErr(err)
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	return wrapErr(err)
}

func (s *RequestStore) Get(ctx context.Context, commitID, requestID string) (domain.RequestRecord, bool, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       requestKey(commitID, requestID),
	})
	if err != nil {
		return domain.RequestRecord{}, false, wrapErr(err)
	}
	if out.Item == nil {
		return domain.RequestRecord{}, false, nil
	}
	rec, err := unmarshalRequest(out.Item)
	if err != nil {
		return domain.RequestRecord{}, false, wrapErr(err)
	}
	return rec, true, nil
}

// Initialize sets the request into the Initializing state with fresh
// counters, per spec.md §4.D step 6.
func (s *RequestStore) Initialize(ctx context.Context, commitID, requestID string, taskTotal int) error {
	update := expression.Set(expression.Name("task_status"), expression.Value(string(domain.StatusInitializing))).
		Set(expression.Name("task_total"), expression.Value(taskTotal)).
		Set(expression.Name("task_complete"), expression.Value(0)).
		Set(expression.Name("task_failure"), expression.Value(0)).
		Remove(expression.Name("report_s3_key")).
		Remove(expression.Name("report_url")).
		Set(expression.Name("update_time"), expression.Value(nowRFC3339()))

	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return wrapErr(err)
	}

	_, err = s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       requestKey(commitID, requestID),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	return wrapErr(err)
}

// IncrementComplete atomically adds one to task_complete. Uses an ADD
// update so concurrent Executor invocations never lose an increment.
func (s *RequestStore) IncrementComplete(ctx context.Context, commitID, requestID string) error {
	return s.increment(ctx, commitID, requestID, "task_complete")
}

// IncrementFailure atomically adds one to task_failure.
func (s *RequestStore) IncrementFailure(ctx context.Context, commitID, requestID string) error {
	return s.increment(ctx, commitID, requestID, "task_failure")
}

func (s *RequestStore) increment(ctx context.Context, commitID, requestID, field string) error {
	update := expression.Add(expression.Name(field), expression.Value(1)).
		Set(expression.Name("update_time"), expression.Value(nowRFC3339()))
	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return wrapErr(err)
	}
	_, err = s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       requestKey(commitID, requestID),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	return wrapErr(err)
}

// CompleteIfReady performs the conditional terminal-state transition: it
// sets task_status=Complete and the report pointers, but ONLY if the
// record is not already Complete, so the Reconciler's per-task and
// cron-sweep callers can race harmlessly. applied=false means another
// caller already completed the request.
func (s *RequestStore) CompleteIfReady(ctx context.Context, commitID, requestID, reportKey, reportURL string) (bool, error) {
	update := expression.Set(expression.Name("task_status"), expression.Value(string(domain.StatusComplete))).
		Set(expression.Name("report_s3_key"), expression.Value(reportKey)).
		Set(expression.Name("report_url"), expression.Value(reportURL)).
		Set(expression.Name("update_time"), expression.Value(nowRFC3339()))
	cond := expression.Name("task_status").NotEqual(expression.Value(string(domain.StatusComplete)))

	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return false, wrapErr(err)
	}

	_, err = s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       requestKey(commitID, requestID),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return false, nil
		}
		return false, wrapErr(err)
	}
	return true, nil
}

// UpdateProjectName best-effort patches project_name, per spec.md §4.D
// step 3. Callers are expected to log and swallow errors.
func (s *RequestStore) UpdateProjectName(ctx context.Context, commitID, requestID, projectName string) error {
	update := expression.Set(expression.Name("project_name"), expression.Value(projectName))
	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return wrapErr(err)
	}
	_, err = s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       requestKey(commitID, requestID),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	return wrapErr(err)
}

// ScanStuck returns requests that are not Complete and whose update_time
// is older than lookback, for the cron sweep's force-reconcile pass.
func (s *RequestStore) ScanStuck(ctx context.Context, lookback time.Duration) ([]domain.RequestRecord, error) {
	cutoff := nowRFC3339WithOffset(-lookback)
	filter := expression.Name("task_status").NotEqual(expression.Value(string(domain.StatusComplete))).
		And(expression.Name("update_time").LessThan(expression.Value(cutoff)))
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, wrapErr(err)
	}

	var out []domain.RequestRecord
	var startKey map[string]types.AttributeValue
	for {
		page, err := s.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(s.table),
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, wrapErr(err)
		}
		for _, item := range page.Items {
			rec, err := unmarshalRequest(item)
			if err != nil {
				continue
			}
			out = append(out, rec)
		}
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		startKey = page.LastEvaluatedKey
	}
	return out, nil
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	return domain.MapHTTPStatus("dynamodb", 0, err.Error())
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nowRFC3339WithOffset(d time.Duration) string {
	return time.Now().UTC().Add(d).Format(time.RFC3339)
}

func marshalRequest(rec domain.RequestRecord) (map[string]types.AttributeValue, error) {
	return map[string]types.AttributeValue{
		"commit_id":          &types.AttributeValueMemberS{Value: rec.CommitID},
		"request_id":         &types.AttributeValueMemberS{Value: rec.RequestID},
		"source":             &types.AttributeValueMemberS{Value: string(rec.Source)},
		"project_id":         &types.AttributeValueMemberS{Value: rec.ProjectID},
		"project_name":       &types.AttributeValueMemberS{Value: rec.ProjectName},
		"repo_url":           &types.AttributeValueMemberS{Value: rec.RepoURL},
		"event_type":         &types.AttributeValueMemberS{Value: string(rec.EventType)},
		"target_branch":      &types.AttributeValueMemberS{Value: rec.TargetBranch},
		"previous_commit_id": &types.AttributeValueMemberS{Value: rec.PreviousCommitID},
		"task_status":        &types.AttributeValueMemberS{Value: string(rec.TaskStatus)},
		"task_total":         &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", rec.TaskTotal)},
		"task_complete":      &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", rec.TaskComplete)},
		"task_failure":       &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", rec.TaskFailure)},
		"create_time":        &types.AttributeValueMemberS{Value: rec.CreateTime.UTC().Format(time.RFC3339)},
		"update_time":        &types.AttributeValueMemberS{Value: nowRFC3339()},
		"pr_number":          &types.AttributeValueMemberS{Value: rec.PRNumber},
		"pr_url":             &types.AttributeValueMemberS{Value: rec.PRURL},
		"pr_title":           &types.AttributeValueMemberS{Value: rec.PRTitle},
		"private_token":      &types.AttributeValueMemberS{Value: rec.PrivateToken},
	}, nil
}

func unmarshalRequest(item map[string]types.AttributeValue) (domain.RequestRecord, error) {
	rec := domain.RequestRecord{
		Source:           domain.Source(str(item, "source")),
		ProjectID:        str(item, "project_id"),
		ProjectName:      str(item, "project_name"),
		RepoURL:          str(item, "repo_url"),
		EventType:        domain.EventType(str(item, "event_type")),
		TargetBranch:     str(item, "target_branch"),
		CommitID:         str(item, "commit_id"),
		PreviousCommitID: str(item, "previous_commit_id"),
		RequestID:        str(item, "request_id"),
		TaskStatus:       domain.TaskStatus(str(item, "task_status")),
		TaskTotal:        num(item, "task_total"),
		TaskComplete:     num(item, "task_complete"),
		TaskFailure:      num(item, "task_failure"),
		ReportS3Key:      str(item, "report_s3_key"),
		ReportURL:        str(item, "report_url"),
		PRNumber:         str(item, "pr_number"),
		PRURL:            str(item, "pr_url"),
		PRTitle:          str(item, "pr_title"),
		PrivateToken:     str(item, "private_token"),
	}
	rec.CreateTime, _ = time.Parse(time.RFC3339, str(item, "create_time"))
	rec.UpdateTime, _ = time.Parse(time.RFC3339, str(item, "update_time"))
	return rec, nil
}

func str(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key]; ok {
		if s, ok := v.(*types.AttributeValueMemberS); ok {
			return s.Value
		}
	}
	return ""
}

func num(item map[string]types.AttributeValue, key string) int {
	if v, ok := item[key]; ok {
		if n, ok := v.(*types.AttributeValueMemberN); ok {
			var out int
			_, _ = fmt.Sscanf(n.Value, "%d", &out)
			return out
		}
	}
	return 0
}
