// Package mission defines the read-only mission model, the live-missions
// table lookup, and the resolution of (mission, user, step) identity from an
// uploaded photo's metadata or key path.
package mission

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// Mission is one live mission as authored upstream. This pipeline never
// mutates missions.
type Mission struct {
	ID           string   `dynamodbav:"mission_id" json:"mission_id"`
	Name         string   `dynamodbav:"name" json:"name"`
	Steps        []string `dynamodbav:"steps" json:"steps"`
	Difficulty   int      `dynamodbav:"difficulty" json:"difficulty"`
	Participants int      `dynamodbav:"participants" json:"participants"`
}

// StepText returns the description of step i, or the mission name when the
// index is out of range (the step still gets judged against something
// meaningful rather than an empty prompt).
func (m *Mission) StepText(i int) string {
	if i >= 0 && i < len(m.Steps) {
		return m.Steps[i]
	}
	if m.Name != "" {
		return m.Name
	}
	return "no step description available"
}

// Catalog looks up live missions by id.
type Catalog interface {
	// GetMission returns nil with no error when the mission does not exist.
	GetMission(ctx context.Context, missionID string) (*Mission, error)
}

// DynamoCatalog reads missions from the live-missions DynamoDB table,
// keyed by mission_id.
type DynamoCatalog struct {
	client    *dynamodb.Client
	tableName string
}

var _ Catalog = (*DynamoCatalog)(nil)

// NewDynamoCatalog creates a catalog backed by the given table.
func NewDynamoCatalog(client *dynamodb.Client, tableName string) *DynamoCatalog {
	return &DynamoCatalog{client: client, tableName: tableName}
}

func (c *DynamoCatalog) GetMission(ctx context.Context, missionID string) (*Mission, error) {
	result, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &c.tableName,
		Key: map[string]types.AttributeValue{
			"mission_id": &types.AttributeValueMemberS{Value: missionID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("GetItem mission %s: %w", missionID, err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var m Mission
	if err := attributevalue.UnmarshalMap(result.Item, &m); err != nil {
		return nil, fmt.Errorf("unmarshal mission %s: %w", missionID, err)
	}
	m.ID = missionID
	if m.Difficulty < 1 {
		m.Difficulty = 1
	}
	if m.Participants < 1 {
		m.Participants = 3
	}

	log.Debug().Str("missionId", missionID).Int("steps", len(m.Steps)).Msg("Mission fetched from live table")
	return &m, nil
}
