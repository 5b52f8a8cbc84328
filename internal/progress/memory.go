package progress

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store with the same conditional semantics as
// the DynamoDB implementation. It backs the record-processor tests and the
// dry-run mode of the operator CLI.
type MemoryStore struct {
	mu         sync.Mutex
	logs       []LogEntry
	aggregates map[string]*Aggregate
	completed  map[string]bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		aggregates: make(map[string]*Aggregate),
		completed:  make(map[string]bool),
	}
}

func pairKey(missionID, userID string) string {
	return missionID + "/" + userID
}

func (s *MemoryStore) AppendLog(_ context.Context, entry LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.logs = append(s.logs, entry)
	return nil
}

func (s *MemoryStore) ApproveStep(_ context.Context, missionID, userID string, stepIndex, totalSteps int) (*Aggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(missionID, userID)
	agg := s.aggregates[key]
	if agg == nil {
		agg = &Aggregate{MissionID: missionID, UserID: userID, TotalSteps: totalSteps}
		s.aggregates[key] = agg
	}

	already := false
	for _, st := range agg.ApprovedSteps {
		if st == stepIndex {
			already = true
			break
		}
	}
	if !already {
		agg.ApprovedSteps = append(agg.ApprovedSteps, stepIndex)
		sort.Ints(agg.ApprovedSteps)
		agg.ApprovedCount++
		agg.LastEventTS = time.Now().Unix()
	}

	copied := *agg
	copied.ApprovedSteps = append([]int(nil), agg.ApprovedSteps...)
	return &copied, nil
}

func (s *MemoryStore) TryComplete(_ context.Context, missionID, userID string, approvedCount, totalSteps int, details map[string]any) (bool, error) {
	if totalSteps <= 0 || approvedCount < totalSteps {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(missionID, userID)
	if s.completed[key] {
		return false, nil
	}
	s.completed[key] = true
	s.logs = append(s.logs, LogEntry{
		MissionID: missionID,
		UserID:    userID,
		StepIndex: -1,
		Status:    StatusCompleted,
		Details:   details,
		CreatedAt: time.Now(),
	})
	return true, nil
}

func (s *MemoryStore) GetAggregate(_ context.Context, missionID, userID string) (*Aggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agg := s.aggregates[pairKey(missionID, userID)]
	if agg == nil {
		return nil, nil
	}
	copied := *agg
	copied.ApprovedSteps = append([]int(nil), agg.ApprovedSteps...)
	return &copied, nil
}

// Logs returns a snapshot of all appended entries, completion markers
// included, in append order.
func (s *MemoryStore) Logs() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LogEntry(nil), s.logs...)
}
