// Package progress persists per-photo outcomes and the per-user mission
// aggregate. One DynamoDB table holds three kinds of items, distinguished by
// sort-key shape:
//
//	{user_id}#{rfc3339nano}  append-only log entry for one processed photo
//	agg#{user_id}            running aggregate of approved steps
//	{user_id}#COMPLETED      at-most-once completion marker
package progress

import (
	"context"
	"time"
)

// Item statuses.
const (
	StatusApproved  = "APPROVED"
	StatusRejected  = "REJECTED"
	StatusCompleted = "COMPLETED"
)

// LogEntry is one append-only record of a processed photo.
type LogEntry struct {
	MissionID string
	UserID    string
	// StepIndex is -1 when the photo's step could not be resolved.
	StepIndex int
	Status    string
	Details   map[string]any
	CreatedAt time.Time
}

// Aggregate is the running per-user progress on one mission.
type Aggregate struct {
	MissionID     string
	UserID        string
	ApprovedSteps []int
	ApprovedCount int
	TotalSteps    int
	LastEventTS   int64
}

// Complete reports whether every step has been approved.
func (a *Aggregate) Complete() bool {
	return a != nil && a.TotalSteps > 0 && a.ApprovedCount >= a.TotalSteps
}

// Store is the progress persistence contract.
type Store interface {
	// AppendLog writes one log entry. Entries are never updated or deleted.
	AppendLog(ctx context.Context, entry LogEntry) error

	// ApproveStep adds stepIndex to the user's approved set, incrementing the
	// approved count only when the step was not already approved. It returns
	// the aggregate as it stands after the call, whether or not this call
	// changed it.
	ApproveStep(ctx context.Context, missionID, userID string, stepIndex, totalSteps int) (*Aggregate, error)

	// TryComplete writes the completion marker if the aggregate shows all
	// steps approved and no marker exists yet. It returns true only for the
	// single call that created the marker.
	TryComplete(ctx context.Context, missionID, userID string, approvedCount, totalSteps int, details map[string]any) (bool, error)

	// GetAggregate reads the current aggregate, nil when none exists.
	GetAggregate(ctx context.Context, missionID, userID string) (*Aggregate, error)
}

// Sort-key builders. All three item kinds share the mission_id partition key.

func logSortKey(userID string, at time.Time) string {
	return userID + "#" + at.UTC().Format(time.RFC3339Nano)
}

func aggregateSortKey(userID string) string {
	return "agg#" + userID
}

func completedSortKey(userID string) string {
	return userID + "#COMPLETED"
}
