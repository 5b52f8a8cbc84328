package progress

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// DynamoStore implements Store on one DynamoDB table with partition key
// mission_id and sort key user_id_ts.
type DynamoStore struct {
	client    *dynamodb.Client
	tableName string
	now       func() time.Time
}

var _ Store = (*DynamoStore)(nil)

// NewDynamoStore creates a store over the given progress table.
func NewDynamoStore(client *dynamodb.Client, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName, now: time.Now}
}

type logItem struct {
	MissionID string         `dynamodbav:"mission_id"`
	UserIDTS  string         `dynamodbav:"user_id_ts"`
	UserID    string         `dynamodbav:"user_id"`
	StepIndex int            `dynamodbav:"step_index"`
	Status    string         `dynamodbav:"status"`
	Details   map[string]any `dynamodbav:"details,omitempty"`
	CreatedAt string         `dynamodbav:"created_at"`
}

type aggregateItem struct {
	MissionID     string `dynamodbav:"mission_id"`
	UserIDTS      string `dynamodbav:"user_id_ts"`
	ApprovedSteps []int  `dynamodbav:"approved_steps,numberset,omitempty"`
	ApprovedCount int    `dynamodbav:"approved_count"`
	TotalSteps    int    `dynamodbav:"total_steps"`
	LastEventTS   int64  `dynamodbav:"last_event_ts"`
}

func (s *DynamoStore) AppendLog(ctx context.Context, entry LogEntry) error {
	at := entry.CreatedAt
	if at.IsZero() {
		at = s.now()
	}
	item, err := attributevalue.MarshalMap(logItem{
		MissionID: entry.MissionID,
		UserIDTS:  logSortKey(entry.UserID, at),
		UserID:    entry.UserID,
		StepIndex: entry.StepIndex,
		Status:    entry.Status,
		Details:   entry.Details,
		CreatedAt: at.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put log entry for %s/%s: %w", entry.MissionID, entry.UserID, err)
	}
	return nil
}

// ApproveStep performs a conditional ADD on the aggregate item: the approved
// set gains stepIndex and the count increments in the same write, guarded by
// a condition that the step is not already in the set. A redelivered or
// duplicate photo trips the condition, in which case the current aggregate is
// read back instead.
func (s *DynamoStore) ApproveStep(ctx context.Context, missionID, userID string, stepIndex, totalSteps int) (*Aggregate, error) {
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"mission_id": &types.AttributeValueMemberS{Value: missionID},
			"user_id_ts": &types.AttributeValueMemberS{Value: aggregateSortKey(userID)},
		},
		UpdateExpression: awsString("ADD approved_steps :s, approved_count :one " +
			"SET total_steps = if_not_exists(total_steps, :total), last_event_ts = :now"),
		ConditionExpression: awsString("attribute_not_exists(approved_steps) OR NOT contains(approved_steps, :step)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s":     &types.AttributeValueMemberNS{Value: []string{strconv.Itoa(stepIndex)}},
			":step":  &types.AttributeValueMemberN{Value: strconv.Itoa(stepIndex)},
			":one":   &types.AttributeValueMemberN{Value: "1"},
			":total": &types.AttributeValueMemberN{Value: strconv.Itoa(totalSteps)},
			":now":   &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Unix(), 10)},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			log.Debug().
				Str("missionId", missionID).
				Str("userId", userID).
				Int("stepIndex", stepIndex).
				Msg("Step already approved, reading aggregate back")
			return s.GetAggregate(ctx, missionID, userID)
		}
		return nil, fmt.Errorf("approve step %d for %s/%s: %w", stepIndex, missionID, userID, err)
	}

	var item aggregateItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &item); err != nil {
		return nil, fmt.Errorf("unmarshal aggregate for %s/%s: %w", missionID, userID, err)
	}
	return item.toAggregate(missionID, userID), nil
}

// TryComplete writes the completion marker with a put condition on the sort
// key, so exactly one caller wins even when the final steps of a mission are
// approved concurrently.
func (s *DynamoStore) TryComplete(ctx context.Context, missionID, userID string, approvedCount, totalSteps int, details map[string]any) (bool, error) {
	if totalSteps <= 0 || approvedCount < totalSteps {
		return false, nil
	}

	at := s.now()
	item, err := attributevalue.MarshalMap(logItem{
		MissionID: missionID,
		UserIDTS:  completedSortKey(userID),
		UserID:    userID,
		StepIndex: -1,
		Status:    StatusCompleted,
		Details:   details,
		CreatedAt: at.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return false, fmt.Errorf("marshal completion marker: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(user_id_ts)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil
		}
		return false, fmt.Errorf("put completion marker for %s/%s: %w", missionID, userID, err)
	}

	log.Info().
		Str("missionId", missionID).
		Str("userId", userID).
		Int("totalSteps", totalSteps).
		Msg("Mission completed")
	return true, nil
}

func (s *DynamoStore) GetAggregate(ctx context.Context, missionID, userID string) (*Aggregate, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"mission_id": &types.AttributeValueMemberS{Value: missionID},
			"user_id_ts": &types.AttributeValueMemberS{Value: aggregateSortKey(userID)},
		},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get aggregate for %s/%s: %w", missionID, userID, err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var item aggregateItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal aggregate for %s/%s: %w", missionID, userID, err)
	}
	return item.toAggregate(missionID, userID), nil
}

func (it aggregateItem) toAggregate(missionID, userID string) *Aggregate {
	return &Aggregate{
		MissionID:     missionID,
		UserID:        userID,
		ApprovedSteps: it.ApprovedSteps,
		ApprovedCount: it.ApprovedCount,
		TotalSteps:    it.TotalSteps,
		LastEventTS:   it.LastEventTS,
	}
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
