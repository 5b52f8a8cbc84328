package processor

import (
	"fmt"
	"strconv"
)

// timeWindow is the mission's participation window, carried as epoch seconds
// in the upload's object metadata. Both bounds are inclusive.
type timeWindow struct {
	start    int64
	deadline int64
}

// parseTimeWindow reads the window from object metadata (keys lower-cased).
// A photo without a parseable window cannot be validated and is rejected, so
// both keys are required.
func parseTimeWindow(meta map[string]string) (timeWindow, error) {
	start, err := epochField(meta, "startts", "start_ts")
	if err != nil {
		return timeWindow{}, fmt.Errorf("mission start: %w", err)
	}
	deadline, err := epochField(meta, "deadlinets", "deadline_ts")
	if err != nil {
		return timeWindow{}, fmt.Errorf("mission deadline: %w", err)
	}
	return timeWindow{start: start, deadline: deadline}, nil
}

func (w timeWindow) contains(epoch int64) bool {
	return epoch >= w.start && epoch <= w.deadline
}

func epochField(meta map[string]string, keys ...string) (int64, error) {
	for _, k := range keys {
		raw, ok := meta[k]
		if !ok || raw == "" {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("metadata %s=%q is not an epoch timestamp", k, raw)
		}
		return n, nil
	}
	return 0, fmt.Errorf("metadata keys %v absent", keys)
}
